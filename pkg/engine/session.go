package engine

import (
	"github.com/google/uuid"

	"github.com/backkem/otalink/pkg/checksum"
)

// Phase is the engine's position in the transfer state machine.
type Phase int

const (
	// PhaseIdle means no transfer session is active.
	PhaseIdle Phase = iota

	// PhaseTransferring means a session is active and chunks are being
	// accepted.
	PhaseTransferring

	// PhaseVerifyPending means the payload is fully received and the
	// digest has been reported; the engine awaits the host's verdict.
	PhaseVerifyPending
)

// String returns a human-readable name for the phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseTransferring:
		return "Transferring"
	case PhaseVerifyPending:
		return "VerifyPending"
	default:
		return "Unknown"
	}
}

// session is the mutable state of one in-progress transfer. It is owned
// exclusively by the Engine, created fresh on TransferBegin and destroyed
// on Apply, Fail, or abort; no session survives a completed or aborted
// transfer.
type session struct {
	// id correlates log lines across one transfer.
	id uuid.UUID

	// otaType is the announced payload kind, immutable for the session.
	otaType uint16

	// totalSize is the announced payload length, immutable for the
	// session.
	totalSize uint32

	// expectedOffset is the next byte offset the engine will accept.
	expectedOffset uint32

	// accumulator digests accepted bytes; consumed exactly once at
	// completion.
	accumulator *checksum.Accumulator

	// digest holds the finalized payload digest once the transfer
	// completes.
	digest [checksum.DigestSize]byte
}

// newSession creates the reset state for a transfer announced by
// TransferBegin.
func newSession(otaType uint16, totalSize uint32, alg checksum.Algorithm) (*session, error) {
	acc, err := checksum.NewWithAlgorithm(alg)
	if err != nil {
		return nil, err
	}

	return &session{
		id:          uuid.New(),
		otaType:     otaType,
		totalSize:   totalSize,
		accumulator: acc,
	}, nil
}
