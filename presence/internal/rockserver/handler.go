// Package rockserver wires the Presence Directory's cmd set (201
// SET_ONLINE, 202 SET_OFFLINE, 203 HEARTBEAT, 204 GET_ROUTE, spec §4.3)
// into a rock.Server, grounded on ws_gateway_module.cpp's handler-per-
// cmd registration pattern.
package rockserver

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/rockmesh/im/presence/internal/metrics"
	"github.com/rockmesh/im/presence/internal/store"
	"github.com/rockmesh/im/shared/presence"
	"github.com/rockmesh/im/shared/rock"
	"github.com/rockmesh/im/shared/types"
)

// Register installs the presence cmd handlers on srv.
func Register(srv *rock.Server, s *store.Store, m *metrics.Metrics, logger *zap.Logger) {
	srv.Handle(presence.CmdSetOnline, handleSetOnline(s, logger))
	srv.Handle(presence.CmdSetOffline, handleSetOffline(s, logger))
	srv.Handle(presence.CmdHeartbeat, handleHeartbeat(s, m, logger))
	srv.Handle(presence.CmdGetRoute, handleGetRoute(s))
}

func handleSetOnline(s *store.Store, logger *zap.Logger) func(context.Context, uint32, []byte) (int32, string, []byte) {
	return func(ctx context.Context, cmd uint32, body []byte) (int32, string, []byte) {
		var req presence.SetOnlineRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return types.ResultBadRequest, "malformed body", nil
		}
		if req.UID == 0 || req.GatewayRPC == "" {
			return types.ResultBadRequest, "missing uid or gateway_rpc", nil
		}
		ttl := req.TTLSec
		if ttl <= 0 {
			ttl = presence.DefaultTTLSeconds
		}
		s.SetOnline(req.UID, req.GatewayRPC, ttl)
		logger.Debug("presence: set_online", zap.Uint64("uid", req.UID), zap.String("gateway_rpc", req.GatewayRPC))
		return types.ResultOK, "", nil
	}
}

func handleSetOffline(s *store.Store, logger *zap.Logger) func(context.Context, uint32, []byte) (int32, string, []byte) {
	return func(ctx context.Context, cmd uint32, body []byte) (int32, string, []byte) {
		var req presence.UIDRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return types.ResultBadRequest, "malformed body", nil
		}
		s.SetOffline(req.UID)
		logger.Debug("presence: set_offline", zap.Uint64("uid", req.UID))
		return types.ResultOK, "", nil
	}
}

// handleHeartbeat implements spec §4.3's HEARTBEAT row: extend expiry,
// or if uid is absent, create the binding exactly like SET_ONLINE. Only
// when a binding already exists does spec §9's tie-break rule apply — a
// gateway_rpc that differs from the stored one is rejected rather than
// silently refreshing a stale binding.
func handleHeartbeat(s *store.Store, m *metrics.Metrics, logger *zap.Logger) func(context.Context, uint32, []byte) (int32, string, []byte) {
	return func(ctx context.Context, cmd uint32, body []byte) (int32, string, []byte) {
		var req presence.SetOnlineRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return types.ResultBadRequest, "malformed body", nil
		}
		ttl := req.TTLSec
		if ttl <= 0 {
			ttl = presence.DefaultTTLSeconds
		}
		if !s.Heartbeat(req.UID, req.GatewayRPC, ttl) {
			if m != nil {
				m.HeartbeatsRejected.Inc()
			}
			logger.Debug("presence: heartbeat rejected (gateway_rpc mismatch on an existing binding)",
				zap.Uint64("uid", req.UID), zap.String("gateway_rpc", req.GatewayRPC))
			return types.ResultNotFound, "no matching binding", nil
		}
		return types.ResultOK, "", nil
	}
}

func handleGetRoute(s *store.Store) func(context.Context, uint32, []byte) (int32, string, []byte) {
	return func(ctx context.Context, cmd uint32, body []byte) (int32, string, []byte) {
		var req presence.UIDRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return types.ResultBadRequest, "malformed body", nil
		}
		route, ok := s.GetRoute(req.UID)
		if !ok {
			resp, _ := json.Marshal(presence.GetRouteResponse{GatewayRPC: ""})
			return types.ResultOK, "", resp
		}
		resp, err := json.Marshal(presence.GetRouteResponse{GatewayRPC: route})
		if err != nil {
			return types.ResultUnavailable, "encode error", nil
		}
		return types.ResultOK, "", resp
	}
}
