// Package rockserver wires the gateway's own Rock command set (the cmd
// 101 deliver-to-user handler, spec §4.4 "Inbound cross-gateway RPC
// handler") into a rock.Server, grounded on
// ws_gateway_module.cpp's handleRockRequest.
package rockserver

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/rockmesh/im/gateway/internal/push"
	"github.com/rockmesh/im/gateway/internal/session"
	"github.com/rockmesh/im/shared/envelope"
	"github.com/rockmesh/im/shared/rock"
	"github.com/rockmesh/im/shared/types"
)

type deliverToUserBody struct {
	UID     uint64          `json:"uid"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Register installs the cmd 101 handler on srv. It must only perform the
// local-only branch of push_to_user, never recurse back into
// cross-gateway dispatch (spec §4.4: "perform the local-only branch of
// push_to_user, no further recursion") — hence it talks to the session
// registry directly rather than through push.Dispatcher.
func Register(srv *rock.Server, registry *session.Registry, logger *zap.Logger) {
	srv.Handle(push.CmdDeliverToUser, func(ctx context.Context, cmd uint32, body []byte) (int32, string, []byte) {
		var req deliverToUserBody
		if err := json.Unmarshal(body, &req); err != nil {
			return types.ResultBadRequest, "malformed body", nil
		}
		if req.UID == 0 || req.Event == "" {
			return types.ResultBadRequest, "missing uid or event", nil
		}

		targets := registry.CollectSessions(req.UID)
		env := envelope.Envelope{Event: req.Event, Payload: req.Payload}
		for _, s := range targets {
			s.Send(env)
		}

		logger.Debug("rockserver: delivered cross-gateway push",
			zap.Uint64("uid", req.UID), zap.String("event", req.Event), zap.Int("sessions", len(targets)))
		return types.ResultOK, "", nil
	})
}
