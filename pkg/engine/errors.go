package engine

import "errors"

// Engine configuration errors.
var (
	ErrNoSink   = errors.New("engine: no storage sink configured")
	ErrNoSender = errors.New("engine: no transport sender configured")
)
