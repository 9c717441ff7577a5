package transport

import (
	"net"
	"sync"
	"time"

	"github.com/pion/logging"
)

// DefaultPort is the default OTA attribute port.
const DefaultPort = 6530

// UDP carries attribute frames over UDP datagrams, one frame per
// datagram. It runs a read loop that decodes each frame and delivers it
// to the configured Handler.
//
// A device-side UDP has no fixed peer: outbound writes go to the address
// of the most recent inbound frame (the host driving the session). A
// host-side UDP sets RemoteAddr and always writes there.
type UDP struct {
	conn    net.PacketConn
	handler Handler
	remote  net.Addr
	closeCh chan struct{}
	wg      sync.WaitGroup
	log     logging.LeveledLogger

	mu       sync.RWMutex
	lastPeer net.Addr
	started  bool
	closed   bool
}

// UDPConfig configures the UDP transport.
type UDPConfig struct {
	// Conn is an optional pre-existing PacketConn to use.
	// If nil, a new connection is created using ListenAddr.
	Conn net.PacketConn

	// ListenAddr is the address to listen on (e.g., ":6530").
	// Ignored if Conn is provided.
	ListenAddr string

	// RemoteAddr fixes the peer for outbound writes. If nil, writes go
	// to the most recent inbound peer.
	RemoteAddr net.Addr

	// Handler is called for each received attribute frame.
	// Required.
	Handler Handler

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// NewUDP creates a new UDP transport with the given configuration.
func NewUDP(config UDPConfig) (*UDP, error) {
	if config.Handler == nil {
		return nil, ErrNoHandler
	}

	u := &UDP{
		conn:    config.Conn,
		handler: config.Handler,
		remote:  config.RemoteAddr,
		closeCh: make(chan struct{}),
	}

	if config.LoggerFactory != nil {
		u.log = config.LoggerFactory.NewLogger("transport-udp")
	}

	if u.conn == nil {
		addr := config.ListenAddr
		if addr == "" {
			addr = ":0" // ephemeral port
		}

		conn, err := net.ListenPacket("udp", addr)
		if err != nil {
			return nil, err
		}
		u.conn = conn
	}

	return u, nil
}

// Start begins the read loop. Frames are delivered to the Handler one at
// a time.
func (u *UDP) Start() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return ErrClosed
	}
	if u.started {
		u.mu.Unlock()
		return ErrAlreadyStarted
	}
	u.started = true
	u.mu.Unlock()

	if u.log != nil {
		u.log.Infof("starting UDP attribute transport on %s", u.conn.LocalAddr())
	}

	u.wg.Add(1)
	go u.readLoop()

	return nil
}

// Stop closes the transport and waits for the read loop to exit.
func (u *UDP) Stop() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return ErrClosed
	}
	u.closed = true
	u.mu.Unlock()

	if u.log != nil {
		u.log.Info("stopping UDP attribute transport")
	}

	close(u.closeCh)

	// Unblock any pending read
	u.conn.SetReadDeadline(time.Now())
	u.conn.Close()
	u.wg.Wait()

	return nil
}

// Send writes one attribute frame to the peer.
func (u *UDP) Send(id AttributeID, data []byte) error {
	u.mu.RLock()
	if u.closed {
		u.mu.RUnlock()
		return ErrClosed
	}
	addr := u.remote
	if addr == nil {
		addr = u.lastPeer
	}
	u.mu.RUnlock()

	if addr == nil {
		return ErrNoPeer
	}

	frame := encodeFrame(id, data)
	if len(frame) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	if u.log != nil {
		u.log.Debugf("sending %d bytes on %s to %v", len(data), id, addr)
	}

	_, err := u.conn.WriteTo(frame, addr)
	if err != nil {
		if u.log != nil {
			u.log.Warnf("send failed: %v", err)
		}
		return err
	}

	return nil
}

// LocalAddr returns the local address the transport is listening on.
func (u *UDP) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

// readLoop reads datagrams and dispatches decoded frames.
func (u *UDP) readLoop() {
	defer u.wg.Done()

	buf := make([]byte, MaxFrameSize)

	for {
		select {
		case <-u.closeCh:
			return
		default:
		}

		n, addr, err := u.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-u.closeCh:
				return
			default:
				if u.log != nil {
					u.log.Warnf("UDP read error: %v", err)
				}
				continue
			}
		}

		if n == 0 {
			continue
		}

		id, payload, err := decodeFrame(buf[:n])
		if err != nil {
			if u.log != nil {
				u.log.Warnf("dropping malformed frame from %v: %v", addr, err)
			}
			continue
		}

		u.mu.Lock()
		u.lastPeer = addr
		u.mu.Unlock()

		// The handler owns the data; copy out of the read buffer.
		data := make([]byte, len(payload))
		copy(data, payload)

		if u.log != nil {
			u.log.Debugf("received %d bytes on %s from %v", len(data), id, addr)
		}

		u.handler.HandleAttribute(id, data)
	}
}

// Verify UDP implements Sender.
var _ Sender = (*UDP)(nil)
