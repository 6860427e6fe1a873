// Package ws implements the WebSocket Edge's connection lifecycle
// (C4, spec §4.4): upgrade, auth, the session welcome/teardown sequence,
// and the built-in inbound events. Grounded on the teacher's
// server/internal/api.WSHandler (token-from-query-string extraction,
// since "browsers cannot set custom headers on WebSocket connections")
// and on ws_gateway_module.cpp's onConnect/on_close/on_message callbacks
// for the exact auth/presence/event-dispatch sequence.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rockmesh/im/gateway/internal/push"
	"github.com/rockmesh/im/gateway/internal/session"
	"github.com/rockmesh/im/shared/auth"
	"github.com/rockmesh/im/shared/envelope"
	"github.com/rockmesh/im/shared/types"
)

// PresenceClient is the subset of presence.Client the WS edge drives
// directly (set_online on connect, heartbeat on ping, set_offline on
// close).
type PresenceClient interface {
	SetOnline(ctx context.Context, uid uint64, gatewayRPC string, ttlSec int) error
	Heartbeat(ctx context.Context, uid uint64, gatewayRPC string, ttlSec int) error
	SetOffline(ctx context.Context, uid uint64) error
}

// Config bundles the WS edge's tunables (spec §6 configuration keys).
type Config struct {
	MaxMessageSize      int64
	AllowUnmaskedClient bool

	// SelfRPCAddr is this gateway's own Rock RPC address, advertised to
	// presence and used for heartbeats (spec §4.3 "gateway_rpc").
	SelfRPCAddr string
	TTLSec      int
}

// Handler serves WebSocket upgrades at the path spec §6 names
// (/wss/default.io, /wss/*).
type Handler struct {
	registry   *session.Registry
	jwtMgr     *auth.Manager
	presence   PresenceClient
	dispatcher *push.Dispatcher
	cfg        Config
	logger     *zap.Logger

	upgrader websocket.Upgrader
}

// NewHandler builds a Handler. The upgrader's CheckOrigin always accepts
// — same as the teacher — origin validation belongs to a reverse proxy
// in front of this process.
func NewHandler(registry *session.Registry, jwtMgr *auth.Manager, presence PresenceClient, dispatcher *push.Dispatcher, cfg Config, logger *zap.Logger) *Handler {
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = session.DefaultMaxMessageSize
	}
	if cfg.TTLSec == 0 {
		cfg.TTLSec = 120
	}
	return &Handler{
		registry:   registry,
		jwtMgr:     jwtMgr,
		presence:   presence,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP performs the upgrade handshake then blocks driving the
// connection's read/write pumps (spec §4.4 "Connection lifecycle").
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	platform := types.Platform(r.URL.Query().Get("platform"))

	claims, err := h.jwtMgr.Verify(token)
	if err != nil {
		h.rejectBeforeUpgrade(w, r, err)
		return
	}
	uid, err := claims.UID64()
	if err != nil {
		h.rejectBeforeUpgrade(w, r, err)
		return
	}
	if !platform.Valid() {
		platform = types.PlatformWeb
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("ws: upgrade failed", zap.Error(err))
		return
	}

	c := session.New(h.registry, conn, uid, platform, session.Config{
		MaxMessageSize:      h.cfg.MaxMessageSize,
		AllowUnmaskedClient: h.cfg.AllowUnmaskedClient,
	}, h.onEnvelope, h.onDisconnect, h.logger.With(zap.Uint64("uid", uid)))

	welcome, _ := envelope.New(envelope.EventConnect, envelope.ConnectPayload{
		UID: uid, Platform: string(platform), Ts: time.Now().UnixMilli(),
	}, "")
	c.Send(welcome)

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	if err := h.presence.SetOnline(ctx, uid, h.cfg.SelfRPCAddr, h.cfg.TTLSec); err != nil {
		h.logger.Warn("ws: presence set_online failed", zap.Uint64("uid", uid), zap.Error(err))
	}
	cancel()

	c.Run() // blocks until the socket closes
}

// rejectBeforeUpgrade sends the JSON error envelope over a best-effort
// plain HTTP response, since the upgrade itself never completed (spec
// §4.4 step 3: "Failure → send a JSON error envelope ... and close").
// Most real clients read this from the HTTP response body when the
// upgrade request is rejected with a non-101 status.
func (h *Handler) rejectBeforeUpgrade(w http.ResponseWriter, r *http.Request, cause error) {
	env, _ := envelope.New(envelope.EventError, envelope.ErrorPayload{ErrorCode: 401, Message: cause.Error()}, "")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(env)
	h.logger.Debug("ws: rejected upgrade", zap.Error(cause), zap.String("remote_addr", r.RemoteAddr))
}

func (h *Handler) onDisconnect(c *session.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.presence.SetOffline(ctx, c.UID); err != nil {
		h.logger.Warn("ws: presence set_offline failed", zap.Uint64("uid", c.UID), zap.Error(err))
	}
}

// onEnvelope dispatches a parsed inbound envelope to the built-in
// handlers (spec §4.4 "Application envelope" table). Unknown events are
// logged and ignored.
func (h *Handler) onEnvelope(c *session.Client, env envelope.Envelope) {
	switch env.Event {
	case envelope.EventPing:
		h.handlePing(c)
	case envelope.EventAck:
		// reserved for future dedup; no-op per spec.
	case envelope.EventEcho:
		c.Send(envelope.Envelope{Event: envelope.EventEcho, Payload: env.Payload, AckID: env.AckID})
	case envelope.EventIMKeyboard:
		h.handleKeyboard(c, env)
	default:
		h.logger.Debug("ws: unknown event, ignoring", zap.String("event", env.Event), zap.Uint64("uid", c.UID))
	}
}

func (h *Handler) handlePing(c *session.Client) {
	pong, _ := envelope.New(envelope.EventPong, envelope.PongPayload{Ts: time.Now().UnixMilli()}, "")
	c.Send(pong)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := h.presence.Heartbeat(ctx, c.UID, h.cfg.SelfRPCAddr, h.cfg.TTLSec); err != nil {
		h.logger.Warn("ws: presence heartbeat failed", zap.Uint64("uid", c.UID), zap.Error(err))
	}
}

func (h *Handler) handleKeyboard(c *session.Client, env envelope.Envelope) {
	var payload envelope.KeyboardPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		h.logger.Warn("ws: malformed im.message.keyboard payload, ignoring", zap.Error(err))
		return
	}
	payload.FromID = c.UID // sender uid is stamped server-side (spec §4.4)

	if types.TalkMode(payload.TalkMode) != types.TalkModeSingle {
		// Group chat: dropped here to avoid a broadcast storm from the
		// inbound edge (spec §4.4); group fan-out is still available
		// through push.Dispatcher.PushImMessage for other producers.
		return
	}

	// Single chat: forward to to_from_id only (spec §4.4's keyboard row).
	// Unlike push_im_message, a typing indicator never echoes back to the
	// sender's other devices.
	fwd, err := envelope.New(envelope.EventIMKeyboard, payload, "")
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.dispatcher.PushToUser(ctx, payload.ToFromID, fwd.Event, fwd.Payload, ""); err != nil {
		h.logger.Warn("ws: push keyboard event failed", zap.Error(err))
	}
}
