// Package flow implements offset-based flow control for OTA transfers.
//
// The receiver accepts a chunk only when its offset matches the cumulative
// byte count received so far; any disagreement is corrected by
// re-acknowledging the true cumulative offset so the sender resumes from
// the correct position. This makes the protocol self-resynchronizing
// without timers, keeps acceptance O(1) per chunk, and avoids buffering
// out-of-order data.
package flow

import (
	"github.com/backkem/otalink/pkg/wire"
)

// Outcome classifies the disposition of one delivered chunk.
type Outcome int

const (
	// OutcomeAccepted means the chunk arrived at the expected offset;
	// its payload must be appended to the checksum and storage.
	OutcomeAccepted Outcome = iota

	// OutcomeResynchronize means the chunk offset disagrees with the
	// expected offset (stale retransmission or gap); no data is
	// consumed and the expected offset must be re-acknowledged.
	OutcomeResynchronize

	// OutcomeComplete means the chunk was accepted and the cumulative
	// byte count reached the total transfer size.
	OutcomeComplete
)

// String returns a human-readable name for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "Accepted"
	case OutcomeResynchronize:
		return "Resynchronize"
	case OutcomeComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Result describes how one chunk was handled.
type Result struct {
	// Outcome classifies the disposition.
	Outcome Outcome

	// NewOffset is the cumulative byte count after this chunk.
	// Valid for Accepted and Complete; unchanged for Resynchronize.
	NewOffset uint32

	// AckOffset is the value to acknowledge to the sender.
	AckOffset uint32

	// Data is the chunk payload to append to the checksum and storage.
	// Nil for Resynchronize.
	Data []byte
}

// Accept decides the disposition of one delivered chunk given the
// transfer's total size and the next byte offset the receiver expects.
func Accept(chunk wire.TransferChunk, totalSize, expectedOffset uint32) Result {
	if chunk.Offset != expectedOffset {
		return Result{
			Outcome:   OutcomeResynchronize,
			NewOffset: expectedOffset,
			AckOffset: expectedOffset,
		}
	}

	newOffset := expectedOffset + uint32(len(chunk.Data))

	if newOffset >= totalSize {
		return Result{
			Outcome:   OutcomeComplete,
			NewOffset: newOffset,
			AckOffset: wire.StopTransferOffset,
			Data:      chunk.Data,
		}
	}

	return Result{
		Outcome:   OutcomeAccepted,
		NewOffset: newOffset,
		AckOffset: newOffset,
		Data:      chunk.Data,
	}
}
