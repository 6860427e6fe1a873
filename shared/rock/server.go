package rock

import (
	"context"
	"net"
	"sync"

	"go.uber.org/zap"
)

// Server accepts Rock connections and dispatches inbound requests by cmd
// (spec §9 "Dispatch polymorphism": "naturally modelled as a tagged
// dispatch (cmd → handler), not as class inheritance"). Each registered
// service owns its own slice of the cmd space; the transport never
// interprets cmd values itself.
type Server struct {
	mu             sync.RWMutex
	requestHandlers map[uint32]HandlerFunc
	notifyHandlers  map[uint32]NotifyFunc

	maxFrameSize uint32
	metrics      *Metrics
	logger       *zap.Logger

	ln net.Listener
}

// NewServer builds a Rock server with no handlers registered. Call
// Handle/HandleNotify before ListenAndServe.
func NewServer(logger *zap.Logger, metrics *Metrics) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		requestHandlers: make(map[uint32]HandlerFunc),
		notifyHandlers:  make(map[uint32]NotifyFunc),
		logger:          logger,
		metrics:         metrics,
	}
}

// SetMaxFrameSize caps the declared frame length every connection this
// server accepts will enforce (0 leaves DefaultMaxFrameSize in effect).
// Must be called before ListenAndServe.
func (s *Server) SetMaxFrameSize(n uint32) {
	s.maxFrameSize = n
}

// Handle registers a request handler for cmd.
func (s *Server) Handle(cmd uint32, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestHandlers[cmd] = h
}

// HandleNotify registers a notify handler for cmd.
func (s *Server) HandleNotify(cmd uint32, h NotifyFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifyHandlers[cmd] = h
}

func (s *Server) dispatch(ctx context.Context, cmd uint32, body []byte) (int32, string, []byte) {
	s.mu.RLock()
	h, ok := s.requestHandlers[cmd]
	s.mu.RUnlock()
	if !ok {
		return 404, "unknown cmd", nil
	}
	return h(ctx, cmd, body)
}

func (s *Server) dispatchNotify(cmd uint32, body []byte) {
	s.mu.RLock()
	h, ok := s.notifyHandlers[cmd]
	s.mu.RUnlock()
	if ok {
		h(cmd, body)
	}
}

// ListenAndServe accepts connections on addr until ctx is cancelled or
// accept fails. Each accepted connection is wrapped as a Conn whose
// handler dispatches through this server's cmd table.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}

		New(nc, Options{
			Handler:       s.dispatch,
			NotifyHandler: s.dispatchNotify,
			MaxFrameSize:  s.maxFrameSize,
			Metrics:       s.metrics,
			Logger:        s.logger,
		})
	}
}

// Addr returns the listener's bound address, valid after ListenAndServe
// has started accepting.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}
