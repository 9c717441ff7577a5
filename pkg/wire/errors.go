package wire

import "errors"

// Wire codec errors. A decode error means the message is malformed and
// must be dropped by the caller; the codec never retries.
var (
	ErrMessageTooShort = errors.New("wire: data too short for state tag")
	ErrTruncatedState  = errors.New("wire: data too short for tagged state")
	ErrUnknownState    = errors.New("wire: unknown state tag")
	ErrChunkNoPayload  = errors.New("wire: chunk carries no payload")
	ErrChunkTooLarge   = errors.New("wire: chunk payload exceeds maximum size")
	ErrAckTooShort     = errors.New("wire: data too short for ack")
)
