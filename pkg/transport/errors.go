package transport

import "errors"

// Transport errors.
var (
	ErrNoHandler      = errors.New("transport: no handler configured")
	ErrAlreadyStarted = errors.New("transport: already started")
	ErrClosed         = errors.New("transport: closed")
	ErrNoPeer         = errors.New("transport: no peer to send to")
	ErrFrameTooShort  = errors.New("transport: frame too short for attribute ID")
	ErrFrameTooLarge  = errors.New("transport: frame exceeds maximum size")
)
