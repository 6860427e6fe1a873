// Package push implements the Cross-Gateway Dispatcher (C5, spec §4.5):
// turning "I have a payload for uid U" into a local send or a single Rock
// RPC to the gateway that owns U's connection. Grounded on
// ws_gateway_module.cpp's PushToUserLocalOnly / DeliverToGatewayRpc /
// PresenceGetRoute free functions, restructured as methods on a struct.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rockmesh/im/gateway/internal/session"
	"github.com/rockmesh/im/shared/envelope"
	"github.com/rockmesh/im/shared/rock"
	"github.com/rockmesh/im/shared/services"
	"github.com/rockmesh/im/shared/types"
)

// CmdDeliverToUser is the gateway's own inbound Rock cmd (spec §4.4/§6:
// "gateway exposes at least cmd 101 (deliver-to-user)").
const CmdDeliverToUser uint32 = 101

// DeliverTimeout is the cross-gateway deliver deadline (spec §5:
// "cross-gateway deliver 500 ms").
const DeliverTimeout = 500 * time.Millisecond

// PresenceResolver is the subset of presence.Client a Dispatcher needs.
type PresenceResolver interface {
	GetRoute(ctx context.Context, uid uint64) (string, error)
}

// RockPool dials (or reuses) a Rock connection to a peer gateway.
type RockPool interface {
	Get(ctx context.Context, addr string) (*rock.Conn, error)
}

// Dispatcher implements push_to_user and push_im_message (spec §4.4's
// "Outbound push" section). It is stateless between calls.
type Dispatcher struct {
	registry *session.Registry
	presence PresenceResolver
	pool     RockPool
	talk     services.TalkClient
	selfAddr string
	logger   *zap.Logger
}

// New builds a Dispatcher. selfAddr must be formatted exactly like the
// address this gateway advertises to presence (spec §9: "implementers
// must obtain self-addr the same way they advertise it... to make the
// equality work").
func New(registry *session.Registry, presence PresenceResolver, pool RockPool, talk services.TalkClient, selfAddr string, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		presence: presence,
		pool:     pool,
		talk:     talk,
		selfAddr: selfAddr,
		logger:   logger,
	}
}

type deliverToUserBody struct {
	UID     uint64          `json:"uid"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// PushToUser delivers event/payload to every live session of uid,
// locally if any exist, otherwise via a single cross-gateway Rock
// request (spec §4.4).
func (d *Dispatcher) PushToUser(ctx context.Context, uid uint64, event string, payload json.RawMessage, ackID string) error {
	sessions := d.registry.CollectSessions(uid)
	if len(sessions) > 0 {
		env := envelope.Envelope{Event: event, Payload: payload, AckID: ackID}
		for _, c := range sessions {
			c.Send(env)
		}
		return nil
	}

	route, err := d.presence.GetRoute(ctx, uid)
	if err != nil {
		// Upstream-unavailable/timeout: swallowed with a warning log, the
		// single most important fail-soft contract in the system (spec §7).
		d.logger.Warn("push: get_route failed, dropping push", zap.Uint64("uid", uid), zap.Error(err))
		return nil
	}
	if route == "" {
		return nil // no live connection anywhere; silently succeed (spec §7).
	}
	if route == d.selfAddr {
		// Presence still points here but the local scan above found no
		// session — the user genuinely has no live connection on this
		// gateway. Returning here prevents an RPC loop (spec §4.4 step 2,
		// §9 "Cycles between WS edges via Rock").
		return nil
	}

	return d.deliverRemote(ctx, route, uid, event, payload)
}

func (d *Dispatcher) deliverRemote(ctx context.Context, addr string, uid uint64, event string, payload json.RawMessage) error {
	conn, err := d.pool.Get(ctx, addr)
	if err != nil {
		d.logger.Warn("push: dial owning gateway failed, dropping push",
			zap.String("addr", addr), zap.Uint64("uid", uid), zap.Error(err))
		return nil
	}

	body, err := json.Marshal(deliverToUserBody{UID: uid, Event: event, Payload: payload})
	if err != nil {
		return fmt.Errorf("push: marshal deliver_to_user body: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, DeliverTimeout)
	defer cancel()

	resp, err := conn.Request(ctx, CmdDeliverToUser, body)
	if err != nil {
		d.logger.Warn("push: deliver_to_user RPC failed, dropping push",
			zap.String("addr", addr), zap.Uint64("uid", uid), zap.Error(err))
		return nil
	}
	if resp.Result != types.ResultOK {
		d.logger.Warn("push: deliver_to_user rejected",
			zap.String("addr", addr), zap.Int32("result", resp.Result), zap.String("reason", resp.ResultStr))
	}
	return nil
}

// PushImMessage implements push_im_message (spec §4.4):
//   - talk_mode == 1 (single): push to toFromID, and additionally to
//     fromID whenever it differs from toFromID, so the sender's other
//     devices see their own outgoing message (multi-device sync). When
//     toFromID == fromID (true self-chat) this collapses to one send,
//     since a second push to the exact same uid would just be a verbatim
//     duplicate of the first — see DESIGN.md's "self-chat" decision.
//   - talk_mode == 2 (group): resolve toFromID as a talk id to its member
//     uid list via the talk service, then push_to_user for each. Any
//     lookup failure is logged and dropped.
func (d *Dispatcher) PushImMessage(ctx context.Context, event string, talkMode types.TalkMode, toFromID, fromID uint64, body json.RawMessage) error {
	switch talkMode {
	case types.TalkModeSingle:
		if err := d.PushToUser(ctx, toFromID, event, body, ""); err != nil {
			return err
		}
		if fromID != toFromID {
			return d.PushToUser(ctx, fromID, event, body, "")
		}
		return nil

	case types.TalkModeGroup:
		if d.talk == nil {
			d.logger.Warn("push: group message with no talk service configured, dropping", zap.Uint64("talk_id", toFromID))
			return nil
		}
		members, err := d.talk.ResolveGroupMembers(ctx, toFromID)
		if err != nil {
			d.logger.Warn("push: resolve_group_members failed, dropping", zap.Uint64("talk_id", toFromID), zap.Error(err))
			return nil
		}
		for _, uid := range members {
			if err := d.PushToUser(ctx, uid, event, body, ""); err != nil {
				d.logger.Warn("push: push_to_user failed during group fan-out", zap.Uint64("uid", uid), zap.Error(err))
			}
		}
		return nil

	default:
		return fmt.Errorf("push: unknown talk_mode %d", talkMode)
	}
}
