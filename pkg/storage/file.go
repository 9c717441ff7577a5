package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// File is a Sink that downloads the payload into a partial file and
// renames it into place on Commit. The rename makes Commit atomic on the
// same filesystem, so an interrupted transfer never leaves a payload
// that looks complete.
type File struct {
	dir string

	mu      sync.Mutex
	f       *os.File
	otaType uint16
	total   uint32
	written uint32
}

// NewFile creates a file sink that stores payloads under dir.
func NewFile(dir string) *File {
	return &File{dir: dir}
}

// Open implements Sink.
func (s *File) Open(otaType uint16, totalSize uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f != nil {
		return ErrAlreadyOpen
	}

	f, err := os.Create(s.partialPath())
	if err != nil {
		return err
	}

	s.f = f
	s.otaType = otaType
	s.total = totalSize
	s.written = 0
	return nil
}

// Write implements Sink.
func (s *File) Write(offset uint32, p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return ErrNotOpen
	}
	if offset != s.written {
		return ErrDiscontiguous
	}

	if _, err := s.f.Write(p); err != nil {
		return err
	}
	s.written += uint32(len(p))
	return nil
}

// Commit implements Sink.
func (s *File) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return ErrNotOpen
	}

	if err := s.f.Sync(); err != nil {
		s.f.Close()
		s.f = nil
		return err
	}
	if err := s.f.Close(); err != nil {
		s.f = nil
		return err
	}

	target := s.PayloadPath(s.otaType)
	err := os.Rename(s.partialPath(), target)
	s.f = nil
	return err
}

// Discard implements Sink.
func (s *File) Discard() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return ErrNotOpen
	}

	s.f.Close()
	s.f = nil
	return os.Remove(s.partialPath())
}

// PayloadPath returns the committed payload location for an OTA type.
func (s *File) PayloadPath(otaType uint16) string {
	return filepath.Join(s.dir, fmt.Sprintf("ota-%04x.bin", otaType))
}

func (s *File) partialPath() string {
	return filepath.Join(s.dir, "ota.partial")
}

// Verify File implements Sink.
var _ Sink = (*File)(nil)
