// Package sender implements the host side of the OTA transfer protocol:
// it announces a payload, streams it in bounded chunks following the
// device's cumulative acknowledgements, and issues the final verification
// verdict.
//
// The sender trusts the device's acks as the single source of truth for
// the next offset, so a resynchronizing device simply rewinds the stream;
// no retransmission bookkeeping is kept beyond the current offset.
package sender

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pion/logging"

	"github.com/backkem/otalink/pkg/checksum"
	"github.com/backkem/otalink/pkg/transport"
	"github.com/backkem/otalink/pkg/wire"
)

// Sender errors.
var (
	ErrNoTransport    = errors.New("sender: no transport configured")
	ErrBadChunkSize   = errors.New("sender: chunk size out of range")
	ErrEmptyImage     = errors.New("sender: empty image")
	ErrImageTooLarge  = errors.New("sender: image exceeds maximum transfer size")
	ErrRejected       = errors.New("sender: device rejected the transfer")
	ErrTimeout        = errors.New("sender: timed out waiting for device")
	ErrBadAck         = errors.New("sender: ack beyond image size")
	ErrDigestMismatch = errors.New("sender: device digest does not match image")
)

// DefaultAckTimeout is how long Push waits for each device response.
const DefaultAckTimeout = 5 * time.Second

// beginAttempts bounds the TransferBegin handshake retries.
const beginAttempts = 4

// Config configures a Sender.
type Config struct {
	// Transport carries outbound control messages and chunks.
	// Required. The caller must also register the Sender as the
	// transport's inbound Handler.
	Transport transport.Sender

	// OTAType announces the payload kind to the device.
	OTAType uint16

	// ChunkSize bounds each chunk payload, 1 to wire.MaxChunkPayload.
	// Defaults to wire.MaxChunkPayload.
	ChunkSize int

	// Algorithm is the digest algorithm the device is expected to use.
	// Defaults to SHA-256.
	Algorithm checksum.Algorithm

	// AckTimeout is how long to wait for each device response.
	// Defaults to DefaultAckTimeout.
	AckTimeout time.Duration

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Sender drives one transfer session at a time. It implements
// transport.Handler for the device's acks and control notifications.
type Sender struct {
	transport  transport.Sender
	otaType    uint16
	chunkSize  int
	alg        checksum.Algorithm
	ackTimeout time.Duration
	log        logging.LeveledLogger

	ackCh     chan uint32
	controlCh chan wire.ControlMessage
}

// New creates a new Sender.
func New(config Config) (*Sender, error) {
	if config.Transport == nil {
		return nil, ErrNoTransport
	}

	chunkSize := config.ChunkSize
	if chunkSize == 0 {
		chunkSize = wire.MaxChunkPayload
	}
	if chunkSize < 1 || chunkSize > wire.MaxChunkPayload {
		return nil, ErrBadChunkSize
	}

	ackTimeout := config.AckTimeout
	if ackTimeout == 0 {
		ackTimeout = DefaultAckTimeout
	}

	s := &Sender{
		transport:  config.Transport,
		otaType:    config.OTAType,
		chunkSize:  chunkSize,
		alg:        config.Algorithm,
		ackTimeout: ackTimeout,
		ackCh:      make(chan uint32, 16),
		controlCh:  make(chan wire.ControlMessage, 16),
	}

	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("sender")
	}

	return s, nil
}

// HandleAttribute implements transport.Handler for inbound device
// notifications. Undecodable or overflowing notifications are dropped;
// the protocol recovers through resynchronization.
func (s *Sender) HandleAttribute(id transport.AttributeID, data []byte) {
	switch id {
	case transport.AttributeControl:
		msg, err := wire.DecodeControl(data)
		if err != nil {
			if s.log != nil {
				s.log.Warnf("dropping malformed control notification: %v", err)
			}
			return
		}
		select {
		case s.controlCh <- msg:
		default:
		}

	case transport.AttributeTransfer:
		ack, err := wire.DecodeAck(data)
		if err != nil {
			if s.log != nil {
				s.log.Warnf("dropping malformed ack: %v", err)
			}
			return
		}
		select {
		case s.ackCh <- ack:
		default:
		}
	}
}

// Push transfers the image to the device and reports the outcome. It
// returns nil once the device's digest matched and Apply was issued;
// ErrDigestMismatch means Fail was issued and the device discarded the
// payload.
func (s *Sender) Push(ctx context.Context, image []byte) error {
	if len(image) == 0 {
		return ErrEmptyImage
	}
	if uint64(len(image)) > uint64(wire.MaxTotalSize) {
		return ErrImageTooLarge
	}

	want, err := checksum.Sum256(s.alg, image)
	if err != nil {
		return err
	}

	if err := s.begin(ctx, uint32(len(image))); err != nil {
		return err
	}

	if err := s.streamChunks(ctx, image); err != nil {
		return err
	}

	return s.verify(ctx, want)
}

// begin performs the TransferBegin handshake, retrying with exponential
// backoff until the device echoes readiness.
func (s *Sender) begin(ctx context.Context, totalSize uint32) error {
	msg := wire.ControlMessage{
		State:     wire.StateTransferBegin,
		OTAType:   s.otaType,
		TotalSize: totalSize,
	}

	attempt := func() error {
		if err := s.transport.Send(transport.AttributeControl, wire.EncodeControl(msg)); err != nil {
			return err
		}

		resp, err := s.awaitControl(ctx)
		if err != nil {
			return err
		}

		switch resp.State {
		case wire.StateTransferBegin:
			return nil
		case wire.StateIdle:
			// Storage rejected on the device; retrying won't help.
			return backoff.Permanent(ErrRejected)
		default:
			if s.log != nil {
				s.log.Warnf("unexpected control response %s during begin", resp.State)
			}
			return ErrTimeout
		}
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), beginAttempts),
		ctx,
	)

	// Retry unwraps Permanent errors, so a device-side rejection comes
	// back as ErrRejected.
	if err := backoff.Retry(attempt, policy); err != nil {
		return err
	}

	if s.log != nil {
		s.log.Infof("device ready, pushing %d bytes (type %#04x)", totalSize, s.otaType)
	}
	return nil
}

// streamChunks sends the image following the device's cumulative acks
// until the device acknowledges completion with the stop sentinel.
func (s *Sender) streamChunks(ctx context.Context, image []byte) error {
	const maxResends = 3

	offset := uint32(0)
	resends := 0

	for {
		n := len(image) - int(offset)
		if n > s.chunkSize {
			n = s.chunkSize
		}

		encoded, err := wire.EncodeChunk(wire.TransferChunk{
			Offset: offset,
			Data:   image[offset : int(offset)+n],
		})
		if err != nil {
			return err
		}
		if err := s.transport.Send(transport.AttributeTransfer, encoded); err != nil {
			return err
		}

		ack, err := s.awaitAck(ctx)
		if err == ErrTimeout {
			// Either the chunk or its ack was lost; resend from the
			// same offset and let the device resynchronize.
			resends++
			if resends > maxResends {
				return ErrTimeout
			}
			continue
		}
		if err != nil {
			return err
		}
		resends = 0

		if ack == wire.StopTransferOffset {
			return nil
		}

		// A peer cannot have received more than the image holds; a
		// spoofed or corrupt ack must not drive the slicing below.
		if ack > uint32(len(image)) {
			if s.log != nil {
				s.log.Warnf("ack %d beyond image size %d", ack, len(image))
			}
			return ErrBadAck
		}

		if ack != offset+uint32(n) && s.log != nil {
			s.log.Debugf("device resynchronized to offset %d (sent through %d)",
				ack, offset+uint32(n))
		}

		// The device's cumulative offset is authoritative; resume
		// from wherever it says.
		offset = ack
	}
}

// verify compares the device's digest with the expected one and issues
// the Apply/Fail verdict.
func (s *Sender) verify(ctx context.Context, want [checksum.DigestSize]byte) error {
	for {
		msg, err := s.awaitControl(ctx)
		if err != nil {
			return err
		}
		if msg.State != wire.StateVerifySignature {
			if s.log != nil {
				s.log.Warnf("ignoring control %s while awaiting digest", msg.State)
			}
			continue
		}

		if msg.Digest != want {
			s.transport.Send(transport.AttributeControl,
				wire.EncodeControl(wire.ControlMessage{State: wire.StateFail}))
			return ErrDigestMismatch
		}

		if s.log != nil {
			s.log.Info("digest verified, applying")
		}
		return s.transport.Send(transport.AttributeControl,
			wire.EncodeControl(wire.ControlMessage{State: wire.StateApply}))
	}
}

// awaitControl waits for the next control notification.
func (s *Sender) awaitControl(ctx context.Context) (wire.ControlMessage, error) {
	select {
	case msg := <-s.controlCh:
		return msg, nil
	case <-time.After(s.ackTimeout):
		return wire.ControlMessage{}, ErrTimeout
	case <-ctx.Done():
		return wire.ControlMessage{}, ctx.Err()
	}
}

// awaitAck waits for the next transfer acknowledgement.
func (s *Sender) awaitAck(ctx context.Context) (uint32, error) {
	select {
	case ack := <-s.ackCh:
		return ack, nil
	case <-time.After(s.ackTimeout):
		return 0, ErrTimeout
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Verify Sender implements transport.Handler.
var _ transport.Handler = (*Sender)(nil)
