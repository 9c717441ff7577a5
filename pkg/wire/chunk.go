package wire

import (
	"encoding/binary"
)

// Transfer channel layout constants.
const (
	// OffsetSize is the size of the chunk offset prefix in bytes.
	OffsetSize = 4

	// MaxChunkPayload is the largest chunk payload the transport
	// delivers (a transport MTU property).
	MaxChunkPayload = 253

	// MaxChunkSize is the largest encoded chunk: offset + payload.
	MaxChunkSize = OffsetSize + MaxChunkPayload

	// AckSize is the encoded transfer acknowledgement size.
	AckSize = 4

	// StopTransferOffset is the reserved acknowledgement value meaning
	// "transfer fully received". It can never equal a legitimate
	// cumulative byte count; transfers of this size are rejected.
	StopTransferOffset uint32 = 0xFFFFFFFF

	// MaxTotalSize is the largest announceable transfer size. The bound
	// keeps the cumulative offset from wrapping or reaching the stop
	// sentinel even when the final chunk overshoots the total.
	MaxTotalSize = StopTransferOffset - MaxChunkPayload
)

// TransferChunk is one bounded-size fragment of the payload, tagged with
// its starting offset.
type TransferChunk struct {
	// Offset is the payload byte offset of Data[0].
	Offset uint32

	// Data is the chunk payload, 1 to MaxChunkPayload bytes.
	Data []byte
}

// DecodeChunk parses a transfer chunk.
// The buffer must be longer than the 4-byte offset prefix (a chunk always
// carries payload) and the payload must not exceed MaxChunkPayload.
// Data aliases the input buffer; the caller must not reuse it while the
// chunk is live.
func DecodeChunk(data []byte) (TransferChunk, error) {
	if len(data) <= OffsetSize {
		return TransferChunk{}, ErrChunkNoPayload
	}
	if len(data) > MaxChunkSize {
		return TransferChunk{}, ErrChunkTooLarge
	}

	return TransferChunk{
		Offset: binary.LittleEndian.Uint32(data),
		Data:   data[OffsetSize:],
	}, nil
}

// EncodeChunk serializes a transfer chunk.
// The payload length must be 1 to MaxChunkPayload bytes.
func EncodeChunk(chunk TransferChunk) ([]byte, error) {
	if len(chunk.Data) == 0 {
		return nil, ErrChunkNoPayload
	}
	if len(chunk.Data) > MaxChunkPayload {
		return nil, ErrChunkTooLarge
	}

	buf := make([]byte, OffsetSize+len(chunk.Data))
	binary.LittleEndian.PutUint32(buf, chunk.Offset)
	copy(buf[OffsetSize:], chunk.Data)
	return buf, nil
}

// EncodeAck serializes a transfer acknowledgement carrying the cumulative
// received byte count, or StopTransferOffset for a completed transfer.
func EncodeAck(received uint32) []byte {
	buf := make([]byte, AckSize)
	binary.LittleEndian.PutUint32(buf, received)
	return buf
}

// DecodeAck parses a transfer acknowledgement.
func DecodeAck(data []byte) (uint32, error) {
	if len(data) < AckSize {
		return 0, ErrAckTooShort
	}
	return binary.LittleEndian.Uint32(data), nil
}
