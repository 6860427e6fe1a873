package rock

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// State is the connection-level state machine from spec §4.1.
type State int32

const (
	StateInit State = iota
	StateConnected
	StateClosed
	StateNotConnected
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateConnected:
		return "CONNECTED"
	case StateClosed:
		return "CLOSED"
	case StateNotConnected:
		return "NOT_CONNECT"
	default:
		return "UNKNOWN"
	}
}

// HandlerFunc answers an inbound Rock request. It returns the result code
// and optional result string/body to send back as the response.
type HandlerFunc func(ctx context.Context, cmd uint32, body []byte) (result int32, resultStr string, respBody []byte)

// NotifyFunc handles an inbound Rock notify frame (no response expected).
type NotifyFunc func(cmd uint32, body []byte)

// DefaultWriteQueueCap bounds the number of frames queued for write
// before enqueue fails fast (spec §4.1 "Backpressure").
const DefaultWriteQueueCap = 256

// DefaultRequestTimeout is used when a caller's context carries no deadline.
const DefaultRequestTimeout = 5 * time.Second

type pendingRequest struct {
	respCh chan Message
	done   atomic.Bool
}

// Conn is one Rock transport connection: a length-framed, bidirectional
// request/response/notify channel over a net.Conn. A single Conn is used
// both to issue outbound requests (as a client) and to answer inbound
// ones (as a server), since every Rock endpoint in this system plays
// both roles.
type Conn struct {
	nc     net.Conn
	logger *zap.Logger
	peer   string

	maxFrameSize uint32
	writeCh      chan []byte

	state atomic.Int32
	snSeq atomic.Uint32

	mu      sync.Mutex // guards pending, per spec §5 "in-flight table... guarded by its own lock"
	pending map[uint32]*pendingRequest

	handler       HandlerFunc
	notifyHandler NotifyFunc
	metrics       *Metrics

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Options configures a Conn.
type Options struct {
	MaxFrameSize  uint32
	WriteQueueCap int
	Handler       HandlerFunc
	NotifyHandler NotifyFunc
	Metrics       *Metrics
	Logger        *zap.Logger
}

// New wraps nc as a Rock connection and starts its read/write pumps. The
// returned Conn is immediately CONNECTED.
func New(nc net.Conn, opts Options) *Conn {
	if opts.MaxFrameSize == 0 {
		opts.MaxFrameSize = DefaultMaxFrameSize
	}
	if opts.WriteQueueCap == 0 {
		opts.WriteQueueCap = DefaultWriteQueueCap
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	c := &Conn{
		nc:            nc,
		logger:        opts.Logger.With(zap.String("peer", nc.RemoteAddr().String())),
		peer:          nc.RemoteAddr().String(),
		maxFrameSize:  opts.MaxFrameSize,
		writeCh:       make(chan []byte, opts.WriteQueueCap),
		pending:       make(map[uint32]*pendingRequest),
		handler:       opts.Handler,
		notifyHandler: opts.NotifyHandler,
		metrics:       opts.Metrics,
		closed:        make(chan struct{}),
	}
	c.state.Store(int32(StateConnected))

	go c.writeLoop()
	go c.readLoop()
	return c
}

// State returns the connection's current state machine value.
func (c *Conn) State() State { return State(c.state.Load()) }

// Peer returns the remote address this connection was dialed to or
// accepted from.
func (c *Conn) Peer() string { return c.peer }

// Request sends a request frame and blocks until a matching response
// arrives, ctx is done, or the connection tears down. ctx without a
// deadline gets DefaultRequestTimeout applied.
func (c *Conn) Request(ctx context.Context, cmd uint32, body []byte) (Message, error) {
	if c.State() != StateConnected {
		return Message{}, ErrNotConnected
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultRequestTimeout)
		defer cancel()
	}

	sn := c.snSeq.Add(1)
	pr := &pendingRequest{respCh: make(chan Message, 1)}

	c.mu.Lock()
	c.pending[sn] = pr
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.InFlightRequests.Inc()
	}

	start := time.Now()
	defer func() {
		c.mu.Lock()
		delete(c.pending, sn)
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.InFlightRequests.Dec()
		}
	}()

	frame, err := Encode(Request(sn, cmd, body))
	if err != nil {
		return Message{}, err
	}
	if err := c.enqueueWrite(frame); err != nil {
		return Message{}, err
	}

	select {
	case resp := <-pr.respCh:
		if c.metrics != nil {
			c.metrics.RequestDuration.Observe(time.Since(start).Seconds())
		}
		return resp, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			return Message{}, ErrCancelled
		}
		return Message{}, ErrTimeout
	case <-c.closed:
		return Message{}, ErrNotConnected
	}
}

// Notify sends a fire-and-forget notify frame; there is no response to wait for.
func (c *Conn) Notify(cmd uint32, body []byte) error {
	if c.State() != StateConnected {
		return ErrNotConnected
	}
	frame, err := Encode(Notify(cmd, body))
	if err != nil {
		return err
	}
	return c.enqueueWrite(frame)
}

func (c *Conn) enqueueWrite(frame []byte) error {
	select {
	case <-c.closed:
		return ErrNotConnected
	default:
	}
	select {
	case c.writeCh <- frame:
		return nil
	case <-c.closed:
		return ErrNotConnected
	default:
		return ErrQueueFull
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case frame := <-c.writeCh:
			c.nc.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if _, err := c.nc.Write(frame); err != nil {
				c.teardown(fmt.Errorf("rock: write: %w", err))
				return
			}
			if c.metrics != nil {
				c.metrics.FramesSent.Inc()
			}
		case <-c.closed:
			return
		}
	}
}

func (c *Conn) readLoop() {
	for {
		msg, err := ReadFrame(c.nc, c.maxFrameSize)
		if err != nil {
			c.teardown(fmt.Errorf("rock: read: %w", err))
			return
		}
		if c.metrics != nil {
			c.metrics.FramesReceived.Inc()
		}

		switch msg.Type {
		case TypeResponse:
			c.completeRequest(msg)
		case TypeRequest:
			go c.serveRequest(msg)
		case TypeNotify:
			if c.notifyHandler != nil {
				go c.notifyHandler(msg.Cmd, msg.Body)
			}
		}
	}
}

func (c *Conn) completeRequest(msg Message) {
	c.mu.Lock()
	pr, ok := c.pending[msg.Sn]
	c.mu.Unlock()
	if !ok {
		c.logger.Warn("rock: response with unknown sn dropped", zap.Uint32("sn", msg.Sn))
		return
	}
	if pr.done.CompareAndSwap(false, true) {
		pr.respCh <- msg
	}
}

func (c *Conn) serveRequest(msg Message) {
	if c.handler == nil {
		resp, _ := Encode(Response(msg.Sn, 404, "no handler registered", nil))
		c.enqueueWrite(resp)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), DefaultRequestTimeout)
	defer cancel()

	result, resultStr, body := c.handler(ctx, msg.Cmd, msg.Body)
	frame, err := Encode(Response(msg.Sn, result, resultStr, body))
	if err != nil {
		c.logger.Error("rock: encode response", zap.Error(err))
		return
	}
	if err := c.enqueueWrite(frame); err != nil {
		c.logger.Warn("rock: dropping response, write queue full", zap.Uint32("sn", msg.Sn))
	}
}

// teardown transitions the connection to CLOSED/NOT_CONNECT and completes
// every outstanding request with ErrNotConnected (spec §4.1).
func (c *Conn) teardown(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		c.state.Store(int32(StateNotConnected))
		close(c.closed)
		c.nc.Close()

		c.mu.Lock()
		pending := c.pending
		c.pending = make(map[uint32]*pendingRequest)
		c.mu.Unlock()

		for _, pr := range pending {
			if pr.done.CompareAndSwap(false, true) {
				pr.respCh <- Message{Type: TypeResponse, Result: -1, ResultStr: ErrNotConnected.Error()}
			}
		}
		c.logger.Debug("rock: connection closed", zap.Error(err))
	})
}

// Close terminates the connection (spec §4.1 "application stop").
func (c *Conn) Close() error {
	c.teardown(ErrClosed)
	return nil
}

// Done returns a channel closed when the connection tears down.
func (c *Conn) Done() <-chan struct{} { return c.closed }
