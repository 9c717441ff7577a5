// Package storage persists OTA payload bytes as they are accepted.
//
// The engine feeds a Sink byte ranges in monotonically increasing,
// contiguous order; a sink never sees a gap or an overlap. Sinks may
// reject Open to signal that no transfer can be accepted right now.
package storage

import "errors"

// Storage errors.
var (
	ErrNotOpen       = errors.New("storage: sink not open")
	ErrAlreadyOpen   = errors.New("storage: sink already open")
	ErrDiscontiguous = errors.New("storage: write offset not contiguous")
	ErrTooLarge      = errors.New("storage: payload exceeds sink capacity")
)

// Sink consumes the payload of one transfer session.
//
// Lifecycle: Open, zero or more Writes, then exactly one of Commit or
// Discard. After Commit or Discard the sink may be opened again for a
// new session.
type Sink interface {
	// Open prepares the sink for a payload of the given type and size.
	// An error rejects the transfer before any state is created.
	Open(otaType uint16, totalSize uint32) error

	// Write appends one contiguous byte range at the given offset.
	Write(offset uint32, p []byte) error

	// Commit makes the received payload durable.
	Commit() error

	// Discard drops any partially received payload.
	Discard() error
}
