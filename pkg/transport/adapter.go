// Package transport carries OTA messages over an attribute-oriented
// channel: every inbound or outbound event is an (attribute ID, raw
// bytes) pair on one of two logical channels, control and transfer.
//
// The engine sits behind the Handler interface and never assumes message
// sizes beyond what the wire codec accepts; transports only frame and
// move bytes.
package transport

import (
	"encoding/binary"
)

// AttributeID identifies a logical channel.
type AttributeID uint16

// The two OTA channels.
const (
	// AttributeControl carries control messages in both directions.
	AttributeControl AttributeID = 0x0001

	// AttributeTransfer carries inbound chunks and outbound acks.
	AttributeTransfer AttributeID = 0x0002
)

// String returns a human-readable name for the attribute.
func (id AttributeID) String() string {
	switch id {
	case AttributeControl:
		return "control"
	case AttributeTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

// Framing constants.
const (
	// attributeIDSize is the attribute ID prefix size in bytes.
	attributeIDSize = 2

	// MaxFrameSize bounds one framed attribute write. Sized for the
	// largest chunk plus the attribute prefix, rounded up for slack.
	MaxFrameSize = 512
)

// Sender accepts outbound attribute writes.
type Sender interface {
	// Send writes raw bytes on the given channel.
	Send(id AttributeID, data []byte) error
}

// Handler receives inbound attribute notifications.
// Transports invoke it one event at a time; implementations need not be
// reentrant with respect to a single transport.
type Handler interface {
	// HandleAttribute processes one inbound event. The data slice is
	// owned by the handler after the call.
	HandleAttribute(id AttributeID, data []byte)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(id AttributeID, data []byte)

// HandleAttribute calls f.
func (f HandlerFunc) HandleAttribute(id AttributeID, data []byte) {
	f(id, data)
}

// encodeFrame prefixes data with its attribute ID (little-endian u16).
func encodeFrame(id AttributeID, data []byte) []byte {
	buf := make([]byte, attributeIDSize+len(data))
	binary.LittleEndian.PutUint16(buf, uint16(id))
	copy(buf[attributeIDSize:], data)
	return buf
}

// decodeFrame splits a framed datagram into attribute ID and payload.
// The payload aliases the input.
func decodeFrame(frame []byte) (AttributeID, []byte, error) {
	if len(frame) < attributeIDSize {
		return 0, nil, ErrFrameTooShort
	}
	return AttributeID(binary.LittleEndian.Uint16(frame)), frame[attributeIDSize:], nil
}
