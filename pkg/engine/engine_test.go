package engine

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/backkem/otalink/pkg/checksum"
	"github.com/backkem/otalink/pkg/storage"
	"github.com/backkem/otalink/pkg/transport"
	"github.com/backkem/otalink/pkg/wire"
)

// captureSender records outbound attribute writes.
type captureSender struct {
	ids  []transport.AttributeID
	data [][]byte
}

func (c *captureSender) Send(id transport.AttributeID, data []byte) error {
	c.ids = append(c.ids, id)
	c.data = append(c.data, data)
	return nil
}

func (c *captureSender) count() int {
	return len(c.ids)
}

// lastControl decodes the most recent control-channel write.
func (c *captureSender) lastControl(t *testing.T) wire.ControlMessage {
	t.Helper()
	for i := len(c.ids) - 1; i >= 0; i-- {
		if c.ids[i] == transport.AttributeControl {
			msg, err := wire.DecodeControl(c.data[i])
			if err != nil {
				t.Fatalf("decoding captured control message: %v", err)
			}
			return msg
		}
	}
	t.Fatal("no control message sent")
	return wire.ControlMessage{}
}

// lastAck decodes the most recent transfer-channel write.
func (c *captureSender) lastAck(t *testing.T) uint32 {
	t.Helper()
	for i := len(c.ids) - 1; i >= 0; i-- {
		if c.ids[i] == transport.AttributeTransfer {
			ack, err := wire.DecodeAck(c.data[i])
			if err != nil {
				t.Fatalf("decoding captured ack: %v", err)
			}
			return ack
		}
	}
	t.Fatal("no ack sent")
	return 0
}

// captureInstaller records outcome notifications.
type captureInstaller struct {
	verified int
	invalid  int
	lastType uint16
	lastSize uint32
	lastHash [checksum.DigestSize]byte
}

func (c *captureInstaller) PayloadVerified(otaType uint16, size uint32, digest [checksum.DigestSize]byte) {
	c.verified++
	c.lastType = otaType
	c.lastSize = size
	c.lastHash = digest
}

func (c *captureInstaller) PayloadInvalid(otaType uint16) {
	c.invalid++
	c.lastType = otaType
}

// newTestEngine wires an engine to a capture sender, memory sink, and
// capture installer.
func newTestEngine(t *testing.T) (*Engine, *captureSender, *storage.Memory, *captureInstaller) {
	t.Helper()

	sender := &captureSender{}
	sink := storage.NewMemory()
	installer := &captureInstaller{}

	e, err := New(Config{
		Sink:      sink,
		Sender:    sender,
		Installer: installer,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, sender, sink, installer
}

// sendBegin delivers a TransferBegin control event.
func sendBegin(e *Engine, otaType uint16, totalSize uint32) {
	e.HandleAttribute(transport.AttributeControl, wire.EncodeControl(wire.ControlMessage{
		State:     wire.StateTransferBegin,
		OTAType:   otaType,
		TotalSize: totalSize,
	}))
}

// sendChunk delivers one transfer chunk event.
func sendChunk(t *testing.T, e *Engine, offset uint32, data []byte) {
	t.Helper()
	encoded, err := wire.EncodeChunk(wire.TransferChunk{Offset: offset, Data: data})
	if err != nil {
		t.Fatalf("EncodeChunk: %v", err)
	}
	e.HandleAttribute(transport.AttributeTransfer, encoded)
}

// sendState delivers a tag-only control event.
func sendState(e *Engine, s wire.State) {
	e.HandleAttribute(transport.AttributeControl, wire.EncodeControl(wire.ControlMessage{State: s}))
}

// deliverPayload feeds payload bytes from the given offset onward as
// max-size chunks.
func deliverPayload(t *testing.T, e *Engine, payload []byte, from int) {
	t.Helper()
	for offset := from; offset < len(payload); {
		n := len(payload) - offset
		if n > wire.MaxChunkPayload {
			n = wire.MaxChunkPayload
		}
		sendChunk(t, e, uint32(offset), payload[offset:offset+n])
		offset += n
	}
}

func TestTransferBegin(t *testing.T) {
	e, sender, _, _ := newTestEngine(t)

	sendBegin(e, 0x0001, 1000)

	if e.Phase() != PhaseTransferring {
		t.Errorf("Phase = %v, want Transferring", e.Phase())
	}

	// Readiness is signaled by echoing the begin message.
	echo := sender.lastControl(t)
	if echo.State != wire.StateTransferBegin || echo.OTAType != 0x0001 || echo.TotalSize != 1000 {
		t.Errorf("echo = %+v", echo)
	}
}

func TestTransferBeginStorageRejected(t *testing.T) {
	sender := &captureSender{}
	sink := &storage.Memory{Capacity: 100}

	e, err := New(Config{Sink: sink, Sender: sender})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sendBegin(e, 0x0001, 1000)

	if e.Phase() != PhaseIdle {
		t.Errorf("Phase = %v, want Idle", e.Phase())
	}
	if msg := sender.lastControl(t); msg.State != wire.StateIdle {
		t.Errorf("response state = %v, want Idle", msg.State)
	}
}

func TestTransferBeginInvalidSizes(t *testing.T) {
	// Zero has no chunk to carry it; sizes above MaxTotalSize could wrap
	// the cumulative offset into the stop sentinel.
	for _, size := range []uint32{0, wire.MaxTotalSize + 1, wire.StopTransferOffset} {
		e, sender, _, _ := newTestEngine(t)

		sendBegin(e, 0x0001, size)

		if e.Phase() != PhaseIdle {
			t.Errorf("size %d: Phase = %v, want Idle", size, e.Phase())
		}
		if msg := sender.lastControl(t); msg.State != wire.StateIdle {
			t.Errorf("size %d: response state = %v, want Idle", size, msg.State)
		}
	}
}

func TestFullTransfer(t *testing.T) {
	e, sender, sink, installer := newTestEngine(t)

	payload := make([]byte, 8088)
	for i := range payload {
		payload[i] = byte(i ^ (i >> 8))
	}

	sendBegin(e, 0x0002, uint32(len(payload)))

	// Mixed chunk sizes, delivered in order from offset 0.
	sizes := []int{249, 6}
	offset := 0
	for _, n := range sizes {
		sendChunk(t, e, uint32(offset), payload[offset:offset+n])
		offset += n

		if ack := sender.lastAck(t); ack != uint32(offset) {
			t.Fatalf("ack = %d, want %d", ack, offset)
		}
	}
	deliverPayload(t, e, payload, offset)

	// Final ack is the sentinel; the digest covers the full payload.
	if ack := sender.lastAck(t); ack != wire.StopTransferOffset {
		t.Errorf("final ack = %#x, want sentinel", ack)
	}
	verify := sender.lastControl(t)
	if verify.State != wire.StateVerifySignature {
		t.Fatalf("final control = %v, want VerifySignature", verify.State)
	}
	if want := sha256.Sum256(payload); verify.Digest != want {
		t.Errorf("digest mismatch")
	}
	if e.Phase() != PhaseVerifyPending {
		t.Errorf("Phase = %v, want VerifyPending", e.Phase())
	}

	// Host verifies and applies.
	sendState(e, wire.StateApply)

	if e.Phase() != PhaseIdle {
		t.Errorf("Phase after Apply = %v, want Idle", e.Phase())
	}
	if installer.verified != 1 {
		t.Errorf("verified notifications = %d, want 1", installer.verified)
	}
	if installer.lastType != 0x0002 || installer.lastSize != 8088 {
		t.Errorf("installer notified with type %#04x size %d", installer.lastType, installer.lastSize)
	}
	if want := sha256.Sum256(payload); installer.lastHash != want {
		t.Errorf("installer digest differs from reported digest")
	}
	if !bytes.Equal(sink.Committed(), payload) {
		t.Errorf("committed payload differs from sent payload")
	}
}

func TestResynchronization(t *testing.T) {
	e, sender, _, _ := newTestEngine(t)

	payload := make([]byte, 600)
	for i := range payload {
		payload[i] = byte(i)
	}

	sendBegin(e, 0x0001, uint32(len(payload)))

	// Chunk at offset 6 while the engine expects 0: re-acknowledge 0,
	// consume nothing.
	sendChunk(t, e, 6, payload[6:100])
	if ack := sender.lastAck(t); ack != 0 {
		t.Errorf("resync ack = %d, want 0", ack)
	}
	if e.Phase() != PhaseTransferring {
		t.Errorf("Phase = %v, want Transferring", e.Phase())
	}

	// A duplicate of an accepted chunk is also just re-acknowledged.
	sendChunk(t, e, 0, payload[:100])
	sendChunk(t, e, 0, payload[:100])
	if ack := sender.lastAck(t); ack != 100 {
		t.Errorf("duplicate ack = %d, want 100", ack)
	}

	// Resync must not have polluted the digest: finish the transfer
	// and check the digest covers each payload byte exactly once.
	deliverPayload(t, e, payload, 100)

	verify := sender.lastControl(t)
	if want := sha256.Sum256(payload); verify.Digest != want {
		t.Errorf("digest polluted by resynchronized chunks")
	}
}

func TestSessionIsolation(t *testing.T) {
	e, sender, sink, _ := newTestEngine(t)

	first := bytes.Repeat([]byte{0x11}, 300)
	second := bytes.Repeat([]byte{0x22}, 200)

	sendBegin(e, 0x0001, uint32(len(first)))
	sendChunk(t, e, 0, first[:100])

	// A new begin mid-session discards all prior state.
	sendBegin(e, 0x0009, uint32(len(second)))

	if e.Phase() != PhaseTransferring {
		t.Fatalf("Phase = %v, want Transferring", e.Phase())
	}

	deliverPayload(t, e, second, 0)

	verify := sender.lastControl(t)
	if verify.State != wire.StateVerifySignature {
		t.Fatalf("final control = %v, want VerifySignature", verify.State)
	}
	if want := sha256.Sum256(second); verify.Digest != want {
		t.Errorf("digest carries state from the aborted session")
	}

	sendState(e, wire.StateApply)
	if !bytes.Equal(sink.Committed(), second) {
		t.Errorf("committed payload = %d bytes, want the second session's %d", len(sink.Committed()), len(second))
	}
}

func TestVerificationFailed(t *testing.T) {
	e, _, sink, installer := newTestEngine(t)

	payload := bytes.Repeat([]byte{0xEE}, 100)
	sendBegin(e, 0x0001, uint32(len(payload)))
	deliverPayload(t, e, payload, 0)

	if e.Phase() != PhaseVerifyPending {
		t.Fatalf("Phase = %v, want VerifyPending", e.Phase())
	}

	sendState(e, wire.StateFail)

	if e.Phase() != PhaseIdle {
		t.Errorf("Phase after Fail = %v, want Idle", e.Phase())
	}
	if installer.invalid != 1 {
		t.Errorf("invalid notifications = %d, want 1", installer.invalid)
	}
	if sink.Committed() != nil {
		t.Errorf("payload committed despite failed verification")
	}

	// A subsequent begin succeeds as a fresh session.
	sendBegin(e, 0x0001, 50)
	if e.Phase() != PhaseTransferring {
		t.Errorf("Phase after new begin = %v, want Transferring", e.Phase())
	}
}

func TestIdleAbortsSession(t *testing.T) {
	e, _, _, _ := newTestEngine(t)

	sendBegin(e, 0x0001, 500)
	sendChunk(t, e, 0, bytes.Repeat([]byte{0x01}, 100))

	sendState(e, wire.StateIdle)

	if e.Phase() != PhaseIdle {
		t.Errorf("Phase = %v, want Idle", e.Phase())
	}

	// The sink must be reusable: abort released it.
	sendBegin(e, 0x0001, 500)
	if e.Phase() != PhaseTransferring {
		t.Errorf("Phase after restart = %v, want Transferring", e.Phase())
	}
}

func TestDroppedEvents(t *testing.T) {
	e, sender, _, _ := newTestEngine(t)

	// Chunk without a session: dropped, no ack.
	sendChunk(t, e, 0, []byte{0x01})
	if sender.count() != 0 {
		t.Errorf("chunk outside Transferring produced %d writes", sender.count())
	}

	sendBegin(e, 0x0001, 500)
	before := sender.count()

	// Malformed chunk (offset only): dropped, no ack.
	e.HandleAttribute(transport.AttributeTransfer, []byte{0x00, 0x00, 0x00, 0x00})
	// Malformed control: dropped.
	e.HandleAttribute(transport.AttributeControl, []byte{0x01})
	// Inbound VerifySignature is outbound-only: dropped.
	sendState(e, wire.StateVerifySignature)
	// TransferEnd is informational: no state change, no write.
	sendState(e, wire.StateTransferEnd)
	// Apply outside VerifyPending: dropped.
	sendState(e, wire.StateApply)
	// Unknown attribute channel: dropped.
	e.HandleAttribute(transport.AttributeID(0x0099), []byte{0x01})

	if sender.count() != before {
		t.Errorf("dropped events produced %d extra writes", sender.count()-before)
	}
	if e.Phase() != PhaseTransferring {
		t.Errorf("Phase = %v, want Transferring", e.Phase())
	}
}

func TestBlake2sDigest(t *testing.T) {
	sender := &captureSender{}
	e, err := New(Config{
		Sink:      storage.NewMemory(),
		Sender:    sender,
		Algorithm: checksum.AlgorithmBLAKE2s256,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	payload := bytes.Repeat([]byte{0x3C}, 300)
	sendBegin(e, 0x0001, uint32(len(payload)))
	deliverPayload(t, e, payload, 0)

	verify := sender.lastControl(t)
	want, err := checksum.Sum256(checksum.AlgorithmBLAKE2s256, payload)
	if err != nil {
		t.Fatalf("Sum256: %v", err)
	}
	if verify.Digest != want {
		t.Errorf("BLAKE2s digest mismatch")
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{Sender: &captureSender{}}); err != ErrNoSink {
		t.Errorf("missing sink error = %v, want %v", err, ErrNoSink)
	}
	if _, err := New(Config{Sink: storage.NewMemory()}); err != ErrNoSender {
		t.Errorf("missing sender error = %v, want %v", err, ErrNoSender)
	}
}
