package storage

import "sync"

// Memory is an in-memory Sink for tests and demos.
type Memory struct {
	// Capacity caps the accepted totalSize. 0 means unlimited.
	Capacity uint32

	mu        sync.Mutex
	open      bool
	buf       []byte
	committed []byte
}

// NewMemory creates an unbounded in-memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Open implements Sink.
func (m *Memory) Open(otaType uint16, totalSize uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.open {
		return ErrAlreadyOpen
	}
	if m.Capacity != 0 && totalSize > m.Capacity {
		return ErrTooLarge
	}

	m.open = true
	m.buf = make([]byte, 0, totalSize)
	return nil
}

// Write implements Sink.
func (m *Memory) Write(offset uint32, p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return ErrNotOpen
	}
	if offset != uint32(len(m.buf)) {
		return ErrDiscontiguous
	}

	m.buf = append(m.buf, p...)
	return nil
}

// Commit implements Sink.
func (m *Memory) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return ErrNotOpen
	}

	m.committed = m.buf
	m.buf = nil
	m.open = false
	return nil
}

// Discard implements Sink.
func (m *Memory) Discard() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return ErrNotOpen
	}

	m.buf = nil
	m.open = false
	return nil
}

// Committed returns the payload of the last committed transfer, or nil.
func (m *Memory) Committed() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committed
}

// Verify Memory implements Sink.
var _ Sink = (*Memory)(nil)
