package rock

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultDialTimeout bounds how long Pool.Get waits to establish a new
// TCP connection.
const DefaultDialTimeout = 5 * time.Second

// Pool maintains at most one live Conn per peer ip:port (spec §4.1
// "Connection model" + §5 "Rock connection pool"). Lookup takes a reader
// lock; on miss it upgrades to a writer lock and re-checks before
// dialing, so concurrent callers never create duplicate connections to
// the same peer — the same double-checked-locking discipline the
// original ws_gateway_module.cpp uses for its RPC connection cache.
type Pool struct {
	mu    sync.RWMutex
	conns map[string]*Conn

	dialTimeout time.Duration
	opts        Options
	metrics     *Metrics
	logger      *zap.Logger
}

// NewPool builds an empty connection pool. opts.Handler/NotifyHandler, if
// set, are installed on every connection the pool dials (used by
// processes that both call out over Rock and serve inbound requests on
// the same outbound sockets, e.g. gateway-to-gateway).
func NewPool(opts Options, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		conns:       make(map[string]*Conn),
		dialTimeout: DefaultDialTimeout,
		opts:        opts,
		metrics:     opts.Metrics,
		logger:      logger,
	}
}

// Get returns the live connection to addr, dialing a fresh one if none
// exists or the cached one has torn down.
func (p *Pool) Get(ctx context.Context, addr string) (*Conn, error) {
	p.mu.RLock()
	c, ok := p.conns[addr]
	p.mu.RUnlock()
	if ok && c.State() == StateConnected {
		return c, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Re-check: another goroutine may have inserted (or redialed) while
	// we waited for the write lock.
	if c, ok := p.conns[addr]; ok && c.State() == StateConnected {
		return c, nil
	}

	dialer := net.Dialer{Timeout: p.dialTimeout}
	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if p.metrics != nil {
			p.metrics.ConnectFailures.Inc()
		}
		return nil, fmt.Errorf("rock: dial %s: %w", addr, err)
	}

	opts := p.opts
	opts.Logger = p.logger
	conn := New(nc, opts)
	p.conns[addr] = conn
	return conn, nil
}

// Drop evicts addr from the pool and closes its connection, if present.
// Used when a caller observes the cached connection misbehaving.
func (p *Pool) Drop(addr string) {
	p.mu.Lock()
	c, ok := p.conns[addr]
	if ok {
		delete(p.conns, addr)
	}
	p.mu.Unlock()
	if ok {
		c.Close()
	}
}

// CloseAll tears down every pooled connection.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]*Conn)
	p.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}
