package transport

import (
	"net"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
)

// PipeConfig configures a Pipe.
type PipeConfig struct {
	// AutoProcess enables automatic frame delivery in a background
	// goroutine. Default: true.
	AutoProcess bool

	// ProcessInterval is how often the auto-processor checks for
	// queued frames. Default: 1ms.
	ProcessInterval time.Duration
}

// DefaultPipeConfig returns the default pipe configuration.
func DefaultPipeConfig() PipeConfig {
	return PipeConfig{
		AutoProcess:     true,
		ProcessInterval: 1 * time.Millisecond,
	}
}

// Pipe provides bidirectional in-memory attribute transport between two
// endpoints, built on pion's test.Bridge. Use it for deterministic,
// flaky-free tests without real network I/O.
//
// By default frames are delivered automatically in a background
// goroutine; disable AutoProcess and call Tick or Process for manual
// control over delivery order.
type Pipe struct {
	bridge *test.Bridge

	mu     sync.Mutex
	closed bool
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// PipeEndpoint is one side of a Pipe. It implements Sender for outbound
// writes and runs a read loop delivering inbound frames to its Handler.
type PipeEndpoint struct {
	pipe *Pipe
	conn net.Conn

	mu      sync.RWMutex
	handler Handler
	closed  bool
	wg      sync.WaitGroup
}

// NewPipePair creates two connected endpoints with auto-processing
// enabled. Frames sent on one endpoint arrive at the other's Handler.
func NewPipePair() (*PipeEndpoint, *PipeEndpoint) {
	return NewPipePairWithConfig(DefaultPipeConfig())
}

// NewPipePairWithConfig creates two connected endpoints with the given
// configuration.
func NewPipePairWithConfig(config PipeConfig) (*PipeEndpoint, *PipeEndpoint) {
	p := &Pipe{
		bridge: test.NewBridge(),
		stopCh: make(chan struct{}),
	}

	interval := config.ProcessInterval
	if interval == 0 {
		interval = 1 * time.Millisecond
	}

	if config.AutoProcess {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				select {
				case <-p.stopCh:
					return
				case <-ticker.C:
					p.bridge.Tick()
				}
			}
		}()
	}

	e0 := &PipeEndpoint{pipe: p, conn: p.bridge.GetConn0()}
	e1 := &PipeEndpoint{pipe: p, conn: p.bridge.GetConn1()}

	e0.wg.Add(1)
	go e0.readLoop()
	e1.wg.Add(1)
	go e1.readLoop()

	return e0, e1
}

// Tick delivers one queued frame in each direction (if available).
// Returns the number of frames delivered.
func (p *Pipe) Tick() int {
	return p.bridge.Tick()
}

// Process delivers all queued frames.
func (p *Pipe) Process() int {
	count := 0
	for {
		n := p.Tick()
		if n == 0 {
			break
		}
		count += n
	}
	return count
}

// close stops the auto-processor once.
func (p *Pipe) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.stopCh)
}

// Pipe returns the shared pipe for manual frame delivery control.
func (e *PipeEndpoint) Pipe() *Pipe {
	return e.pipe
}

// SetHandler installs the handler for inbound frames. Frames arriving
// before a handler is set are dropped.
func (e *PipeEndpoint) SetHandler(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = h
}

// Send writes one attribute frame to the peer endpoint.
func (e *PipeEndpoint) Send(id AttributeID, data []byte) error {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return ErrClosed
	}
	e.mu.RUnlock()

	frame := encodeFrame(id, data)
	if len(frame) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	_, err := e.conn.Write(frame)
	return err
}

// Close closes this endpoint and stops the shared auto-processor.
func (e *PipeEndpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.pipe.close()
	err := e.conn.Close()
	e.wg.Wait()
	return err
}

// readLoop reads framed messages from the bridge and dispatches them.
func (e *PipeEndpoint) readLoop() {
	defer e.wg.Done()

	buf := make([]byte, MaxFrameSize)

	for {
		n, err := e.conn.Read(buf)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}

		id, payload, err := decodeFrame(buf[:n])
		if err != nil {
			continue
		}

		data := make([]byte, len(payload))
		copy(data, payload)

		e.mu.RLock()
		handler := e.handler
		e.mu.RUnlock()

		if handler != nil {
			handler.HandleAttribute(id, data)
		}
	}
}

// Verify PipeEndpoint implements Sender.
var _ Sender = (*PipeEndpoint)(nil)
