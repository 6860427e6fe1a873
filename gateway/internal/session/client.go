package session

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rockmesh/im/shared/envelope"
	"github.com/rockmesh/im/shared/types"
)

const (
	// writeWait bounds a single frame write (spec has no fixed number here;
	// kept at the teacher's value).
	writeWait = 10 * time.Second

	// pongWait/pingPeriod: spec §4.3 TTL discipline expects a heartbeat
	// "on every application-layer ping (default every 25-30s)"; the
	// server-initiated wire ping here is a liveness probe independent of
	// the client's own `ping` events and is kept at the teacher's cadence.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// DefaultMaxMessageSize is the default accumulated-message size cap
// (spec §4.4: "default 32 MiB").
const DefaultMaxMessageSize = 32 * 1024 * 1024

// DefaultSendBufferSize bounds the per-client outbound queue; frames for
// a client that can't keep up are dropped (see Send) rather than
// backpressuring the whole process. The client stays connected.
const DefaultSendBufferSize = 64

// EventHandler processes one inbound application envelope. Implementations
// live above this package (gateway/internal/ws) so that session itself has
// no dependency on presence or cross-gateway push logic.
type EventHandler func(c *Client, env envelope.Envelope)

// Client is a single authenticated WebSocket connection (spec §3
// "Connection"). One Client runs a readPump/writePump goroutine pair;
// writePump is the connection's sole writer, mirroring the teacher's
// websocket.Client.
type Client struct {
	ID       uint64
	UID      uint64
	Platform types.Platform

	conn     *websocket.Conn
	send     chan envelope.Envelope
	registry *Registry
	handler  EventHandler
	logger   *zap.Logger

	maxMessageSize int64
	allowUnmasked  bool
	onClose        func(c *Client)
}

// Config bundles the tunables a Client needs beyond identity.
type Config struct {
	MaxMessageSize      int64
	AllowUnmaskedClient bool
}

// New builds a Client wrapping an already-upgraded gorilla/websocket
// connection and inserts it into registry.
func New(registry *Registry, conn *websocket.Conn, uid uint64, platform types.Platform, cfg Config, handler EventHandler, onClose func(*Client), logger *zap.Logger) *Client {
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	c := &Client{
		ID:             NextConnID(),
		UID:            uid,
		Platform:       platform,
		conn:           conn,
		send:           make(chan envelope.Envelope, DefaultSendBufferSize),
		registry:       registry,
		handler:        handler,
		logger:         logger,
		maxMessageSize: cfg.MaxMessageSize,
		allowUnmasked:  cfg.AllowUnmaskedClient,
		onClose:        onClose,
	}
	if cfg.AllowUnmaskedClient {
		logger.Warn("session: allow_unmasked_client_frames is set but gorilla/websocket always enforces client-frame masking; flag has no effect")
	}
	registry.Insert(c)
	return c
}

// Send enqueues env for delivery on this connection. Non-blocking: if the
// outbound buffer is full the client is considered too slow and the
// frame is dropped (the caller does not get an error — push_to_user's
// contract is "send or drop", never block the sender on a slow peer).
func (c *Client) Send(env envelope.Envelope) {
	select {
	case c.send <- env:
	default:
		c.logger.Warn("session: dropping frame, client send buffer full",
			zap.Uint64("conn_id", c.ID), zap.Uint64("uid", c.UID), zap.String("event", env.Event))
	}
}

// Run starts the read/write pumps and blocks until the connection closes.
// Call in its own goroutine from the HTTP upgrade handler.
func (c *Client) Run() {
	go c.writePump()
	c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.registry.Remove(c.ID)
		if c.onClose != nil {
			c.onClose(c)
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Debug("session: unexpected close", zap.Error(err))
			}
			return
		}

		// Binary frames are accepted syntactically but ignored (spec §4.4).
		if msgType != websocket.TextMessage {
			continue
		}

		var env envelope.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("session: malformed envelope, ignoring", zap.Error(err))
			continue
		}

		if c.handler != nil {
			c.handler(c, env)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				c.logger.Debug("session: write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close closes the underlying WebSocket connection, which makes both
// readPump and writePump exit on their next I/O; frames still queued in
// the send buffer are not flushed. Used by the registry or upstream
// policy (e.g. auth expiry) to force-disconnect a client.
func (c *Client) Close() {
	c.conn.Close()
}
