// Package engine implements the OTA transfer engine: a single-session
// protocol state machine that receives a chunked binary payload over the
// attribute transport, verifies its integrity incrementally, and reports
// the outcome.
//
// The engine processes one inbound event at a time to completion. No
// operation blocks or suspends; worst-case latency per event is bounded
// by the chunk size. There is no timeout logic: a stalled transfer stays
// in Transferring until a new control message arrives, and a caller
// wanting watchdog behavior drives an Idle transition itself.
package engine

import (
	"sync"

	"github.com/pion/logging"

	"github.com/backkem/otalink/pkg/checksum"
	"github.com/backkem/otalink/pkg/flow"
	"github.com/backkem/otalink/pkg/storage"
	"github.com/backkem/otalink/pkg/transport"
	"github.com/backkem/otalink/pkg/wire"
)

// Installer is notified once per session outcome. Applying or discarding
// the payload is device-specific and outside the engine.
type Installer interface {
	// PayloadVerified reports that the committed payload passed host
	// verification and may be installed.
	PayloadVerified(otaType uint16, size uint32, digest [checksum.DigestSize]byte)

	// PayloadInvalid reports that host verification failed and the
	// payload was discarded.
	PayloadInvalid(otaType uint16)
}

// Config configures the Engine.
type Config struct {
	// Sink consumes accepted payload bytes.
	// Required.
	Sink storage.Sink

	// Sender carries outbound control messages and acks.
	// Required.
	Sender transport.Sender

	// Installer is notified of session outcomes.
	// Optional - if nil, outcomes are only logged.
	Installer Installer

	// Algorithm selects the payload digest algorithm.
	// Defaults to SHA-256.
	Algorithm checksum.Algorithm

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Engine is the OTA control state machine. It implements
// transport.Handler for the control and transfer channels and owns at
// most one session at a time.
type Engine struct {
	sink      storage.Sink
	sender    transport.Sender
	installer Installer
	alg       checksum.Algorithm
	log       logging.LeveledLogger

	mu      sync.Mutex
	phase   Phase
	session *session
}

// New creates a new engine in the Idle phase.
func New(config Config) (*Engine, error) {
	if config.Sink == nil {
		return nil, ErrNoSink
	}
	if config.Sender == nil {
		return nil, ErrNoSender
	}

	e := &Engine{
		sink:      config.Sink,
		sender:    config.Sender,
		installer: config.Installer,
		alg:       config.Algorithm,
		phase:     PhaseIdle,
	}

	if config.LoggerFactory != nil {
		e.log = config.LoggerFactory.NewLogger("engine")
	}

	return e, nil
}

// Phase returns the engine's current phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// HandleAttribute implements transport.Handler. Events are processed one
// at a time; the transport serializes delivery.
func (e *Engine) HandleAttribute(id transport.AttributeID, data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch id {
	case transport.AttributeControl:
		e.handleControl(data)
	case transport.AttributeTransfer:
		e.handleChunk(data)
	default:
		if e.log != nil {
			e.log.Warnf("dropping event on unknown attribute %#04x", uint16(id))
		}
	}
}

// handleControl processes one inbound control message.
func (e *Engine) handleControl(data []byte) {
	msg, err := wire.DecodeControl(data)
	if err != nil {
		// Malformed: drop with no ack and no state change; the host
		// retries as if the message were lost.
		if e.log != nil {
			e.log.Warnf("dropping malformed control message: %v", err)
		}
		return
	}

	switch msg.State {
	case wire.StateIdle:
		e.abortSession("host requested idle")

	case wire.StateTransferBegin:
		e.handleBegin(msg)

	case wire.StateTransferEnd:
		// Informational marker, no new obligation.
		if e.log != nil {
			e.log.Debugf("transfer end marker in phase %s", e.phase)
		}

	case wire.StateApply:
		e.handleApply()

	case wire.StateFail:
		e.handleFail()

	case wire.StateVerifySignature:
		// Outbound-only variant.
		if e.log != nil {
			e.log.Warnf("dropping unexpected inbound VerifySignature")
		}
	}
}

// handleBegin resets the engine for a new transfer. A begin received
// mid-session aborts the current session first; re-entry always starts
// from a clean reset.
func (e *Engine) handleBegin(msg wire.ControlMessage) {
	e.abortSession("new transfer announced")

	// A zero-length transfer has no chunk to carry it, and anything
	// above MaxTotalSize could wrap the cumulative offset into the
	// stop sentinel on the final chunk.
	if msg.TotalSize == 0 || msg.TotalSize > wire.MaxTotalSize {
		if e.log != nil {
			e.log.Warnf("rejecting transfer with invalid total size %d", msg.TotalSize)
		}
		e.sendControl(wire.ControlMessage{State: wire.StateIdle})
		return
	}

	if err := e.sink.Open(msg.OTAType, msg.TotalSize); err != nil {
		if e.log != nil {
			e.log.Warnf("storage rejected transfer (type %#04x, %d bytes): %v",
				msg.OTAType, msg.TotalSize, err)
		}
		e.sendControl(wire.ControlMessage{State: wire.StateIdle})
		return
	}

	s, err := newSession(msg.OTAType, msg.TotalSize, e.alg)
	if err != nil {
		e.sink.Discard()
		e.sendControl(wire.ControlMessage{State: wire.StateIdle})
		return
	}

	e.session = s
	e.phase = PhaseTransferring

	if e.log != nil {
		e.log.Infof("session %s: transfer begin, type %#04x, %d bytes",
			s.id, s.otaType, s.totalSize)
	}

	// Echo the begin message as the readiness signal.
	e.sendControl(msg)
}

// handleChunk processes one inbound transfer chunk.
func (e *Engine) handleChunk(data []byte) {
	if e.phase != PhaseTransferring {
		if e.log != nil {
			e.log.Warnf("dropping chunk in phase %s", e.phase)
		}
		return
	}

	chunk, err := wire.DecodeChunk(data)
	if err != nil {
		// Malformed: drop with no ack, relying on sender retry.
		if e.log != nil {
			e.log.Warnf("dropping malformed chunk: %v", err)
		}
		return
	}

	s := e.session
	res := flow.Accept(chunk, s.totalSize, s.expectedOffset)

	switch res.Outcome {
	case flow.OutcomeResynchronize:
		// Protocol-normal correction, not a failure: re-acknowledge
		// the true cumulative offset so the host resends from there.
		if e.log != nil {
			e.log.Debugf("session %s: resync, chunk offset %d, expected %d",
				s.id, chunk.Offset, s.expectedOffset)
		}
		e.sendAck(res.AckOffset)

	case flow.OutcomeAccepted:
		if !e.storeChunk(s, res.Data) {
			return
		}
		s.expectedOffset = res.NewOffset
		e.sendAck(res.AckOffset)

	case flow.OutcomeComplete:
		if !e.storeChunk(s, res.Data) {
			return
		}
		s.expectedOffset = res.NewOffset
		e.sendAck(res.AckOffset)
		e.finishTransfer(s)
	}
}

// storeChunk appends accepted bytes to the sink and the digest. A sink
// write failure aborts the session and reports Idle upstream so the host
// stops sending.
func (e *Engine) storeChunk(s *session, data []byte) bool {
	if err := e.sink.Write(s.expectedOffset, data); err != nil {
		if e.log != nil {
			e.log.Errorf("session %s: storage write failed at offset %d: %v",
				s.id, s.expectedOffset, err)
		}
		e.abortSession("storage write failed")
		e.sendControl(wire.ControlMessage{State: wire.StateIdle})
		return false
	}

	s.accumulator.Update(data)
	return true
}

// finishTransfer finalizes the digest and requests host verification.
func (e *Engine) finishTransfer(s *session) {
	digest, err := s.accumulator.Finalize()
	if err != nil {
		// Finalize cannot fail on a live session; treat as fatal to
		// the session if it ever does.
		e.abortSession("digest finalization failed")
		e.sendControl(wire.ControlMessage{State: wire.StateIdle})
		return
	}

	s.digest = digest
	e.phase = PhaseVerifyPending

	if e.log != nil {
		e.log.Infof("session %s: transfer complete, %d bytes received", s.id, s.expectedOffset)
	}

	e.sendControl(wire.ControlMessage{
		State:  wire.StateVerifySignature,
		Digest: digest,
	})
}

// handleApply commits the payload after a successful host verification.
func (e *Engine) handleApply() {
	if e.phase != PhaseVerifyPending {
		if e.log != nil {
			e.log.Warnf("dropping Apply in phase %s", e.phase)
		}
		return
	}

	s := e.session

	if err := e.sink.Commit(); err != nil {
		if e.log != nil {
			e.log.Errorf("session %s: commit failed: %v", s.id, err)
		}
		e.abortSession("commit failed")
		return
	}

	if e.log != nil {
		e.log.Infof("session %s: payload verified, handing off to installer", s.id)
	}
	if e.installer != nil {
		e.installer.PayloadVerified(s.otaType, s.totalSize, s.digest)
	}

	e.session = nil
	e.phase = PhaseIdle
}

// handleFail discards the payload after a failed host verification.
// Recoverable: the engine returns to Idle, ready for a new attempt.
func (e *Engine) handleFail() {
	if e.phase != PhaseVerifyPending {
		if e.log != nil {
			e.log.Warnf("dropping Fail in phase %s", e.phase)
		}
		return
	}

	s := e.session

	if e.log != nil {
		e.log.Warnf("session %s: host verification failed, discarding payload", s.id)
	}

	e.sink.Discard()
	if e.installer != nil {
		e.installer.PayloadInvalid(s.otaType)
	}

	e.session = nil
	e.phase = PhaseIdle
}

// abortSession destroys any active session and partial storage state.
// No-op when idle.
func (e *Engine) abortSession(reason string) {
	if e.session == nil {
		e.phase = PhaseIdle
		return
	}

	if e.log != nil {
		e.log.Infof("session %s: aborted (%s)", e.session.id, reason)
	}

	e.sink.Discard()
	e.session = nil
	e.phase = PhaseIdle
}

// sendControl emits an outbound control message. Send failures are
// logged and otherwise ignored; the host resynchronizes via retries.
func (e *Engine) sendControl(msg wire.ControlMessage) {
	if err := e.sender.Send(transport.AttributeControl, wire.EncodeControl(msg)); err != nil {
		if e.log != nil {
			e.log.Warnf("control send failed: %v", err)
		}
	}
}

// sendAck emits an outbound transfer acknowledgement.
func (e *Engine) sendAck(received uint32) {
	if err := e.sender.Send(transport.AttributeTransfer, wire.EncodeAck(received)); err != nil {
		if e.log != nil {
			e.log.Warnf("ack send failed: %v", err)
		}
	}
}

// Verify Engine implements transport.Handler.
var _ transport.Handler = (*Engine)(nil)
