// Package wire implements the OTA binary wire format: control messages,
// transfer chunks, and transfer acknowledgements.
//
// All multi-byte integers are little-endian. Decoding is bounds-checked;
// malformed input is reported to the caller immediately and never mutates
// any state.
package wire

import (
	"encoding/binary"
)

// State identifies the active variant of a control message.
type State uint16

// Control message states.
const (
	StateIdle State = iota
	StateTransferBegin
	StateTransferEnd
	StateVerifySignature
	StateApply
	StateFail
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateTransferBegin:
		return "TransferBegin"
	case StateTransferEnd:
		return "TransferEnd"
	case StateVerifySignature:
		return "VerifySignature"
	case StateApply:
		return "Apply"
	case StateFail:
		return "Fail"
	default:
		return "Unknown"
	}
}

// Control message layout constants.
const (
	// StateTagSize is the size of the leading state tag in bytes.
	StateTagSize = 2

	// DigestSize is the size of the VerifySignature digest in bytes.
	DigestSize = 32

	// ControlUnionSize is the size of the variant union in bytes,
	// sized for the largest variant (the 32-byte digest).
	ControlUnionSize = DigestSize

	// ControlMessageSize is the full encoded control message size.
	// Encoded messages always carry the full union, zero-padded past
	// the active variant.
	ControlMessageSize = StateTagSize + ControlUnionSize

	// transferBeginSize is the minimum length of a TransferBegin
	// message: tag + ota type (2) + total size (4).
	transferBeginSize = StateTagSize + 2 + 4

	// verifySignatureSize is the minimum length of a VerifySignature
	// message: tag + digest.
	verifySignatureSize = StateTagSize + DigestSize
)

// ControlMessage is one control-channel message. Exactly one variant is
// active, selected by State; the variant fields are meaningful only for
// their owning state.
type ControlMessage struct {
	// State selects the active variant.
	State State

	// OTAType announces the payload kind. TransferBegin only.
	OTAType uint16

	// TotalSize is the payload length in bytes. TransferBegin only.
	TotalSize uint32

	// Digest is the payload digest. VerifySignature only.
	Digest [DigestSize]byte
}

// EncodeControl serializes a control message.
// The result is always ControlMessageSize bytes: the state tag followed
// by the variant union, zero-padded past the active variant.
func EncodeControl(msg ControlMessage) []byte {
	buf := make([]byte, ControlMessageSize)
	binary.LittleEndian.PutUint16(buf, uint16(msg.State))

	switch msg.State {
	case StateTransferBegin:
		binary.LittleEndian.PutUint16(buf[StateTagSize:], msg.OTAType)
		binary.LittleEndian.PutUint32(buf[StateTagSize+2:], msg.TotalSize)
	case StateVerifySignature:
		copy(buf[StateTagSize:], msg.Digest[:])
	}

	return buf
}

// DecodeControl parses a control message.
// The buffer must carry at least the state tag plus the active variant's
// fixed payload; trailing union padding is tolerated and ignored.
func DecodeControl(data []byte) (ControlMessage, error) {
	if len(data) < StateTagSize {
		return ControlMessage{}, ErrMessageTooShort
	}

	msg := ControlMessage{
		State: State(binary.LittleEndian.Uint16(data)),
	}

	switch msg.State {
	case StateIdle, StateTransferEnd, StateApply, StateFail:
		// Tag-only variants.

	case StateTransferBegin:
		if len(data) < transferBeginSize {
			return ControlMessage{}, ErrTruncatedState
		}
		msg.OTAType = binary.LittleEndian.Uint16(data[StateTagSize:])
		msg.TotalSize = binary.LittleEndian.Uint32(data[StateTagSize+2:])

	case StateVerifySignature:
		if len(data) < verifySignatureSize {
			return ControlMessage{}, ErrTruncatedState
		}
		copy(msg.Digest[:], data[StateTagSize:])

	default:
		return ControlMessage{}, ErrUnknownState
	}

	return msg, nil
}
