package push

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/rockmesh/im/gateway/internal/session"
	"github.com/rockmesh/im/shared/services"
	"github.com/rockmesh/im/shared/types"
)

type fakePresence struct {
	route string
	err   error
	calls int
}

func (f *fakePresence) GetRoute(ctx context.Context, uid uint64) (string, error) {
	f.calls++
	return f.route, f.err
}

type fakeTalk struct {
	members []uint64
	err     error
}

func (f *fakeTalk) ResolveGroupMembers(ctx context.Context, talkID uint64) ([]uint64, error) {
	return f.members, f.err
}

func newTestDispatcher(registry *session.Registry, presence PresenceResolver, talk *fakeTalk) *Dispatcher {
	var talkClient services.TalkClient
	if talk != nil {
		talkClient = talk
	}
	return New(registry, presence, nil, talkClient, "gw-self:9100", zap.NewNop())
}

func TestPushToUserNoSessionsNoRoute(t *testing.T) {
	registry := session.NewRegistry()
	presence := &fakePresence{route: ""}
	d := newTestDispatcher(registry, presence, nil)

	if err := d.PushToUser(context.Background(), 1, "event", json.RawMessage(`{}`), ""); err != nil {
		t.Fatalf("PushToUser() error = %v, want nil", err)
	}
	if presence.calls != 1 {
		t.Fatalf("GetRoute calls = %d, want 1", presence.calls)
	}
}

func TestPushToUserSelfRouteNoLocalSession(t *testing.T) {
	registry := session.NewRegistry()
	presence := &fakePresence{route: "gw-self:9100"}
	d := newTestDispatcher(registry, presence, nil)

	// presence still says this gateway owns uid, but there is no local
	// session (already disconnected); must not loop back through Rock.
	if err := d.PushToUser(context.Background(), 1, "event", json.RawMessage(`{}`), ""); err != nil {
		t.Fatalf("PushToUser() error = %v, want nil", err)
	}
}

func TestPushToUserGetRouteFailsFailsSoft(t *testing.T) {
	registry := session.NewRegistry()
	presence := &fakePresence{err: errors.New("upstream unavailable")}
	d := newTestDispatcher(registry, presence, nil)

	if err := d.PushToUser(context.Background(), 1, "event", json.RawMessage(`{}`), ""); err != nil {
		t.Fatalf("PushToUser() error = %v, want nil (fail-soft)", err)
	}
}

func TestPushImMessageSingleSendsToBothSidesWhenDifferent(t *testing.T) {
	registry := session.NewRegistry()
	presence := &fakePresence{route: ""}
	d := newTestDispatcher(registry, presence, nil)

	err := d.PushImMessage(context.Background(), "im.message.keyboard", types.TalkModeSingle, 2, 1, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("PushImMessage() error = %v", err)
	}
	// Both uid 2 (recipient) and uid 1 (sender's other devices) trigger a
	// GetRoute lookup since neither has a local session here.
	if presence.calls != 2 {
		t.Fatalf("GetRoute calls = %d, want 2 (one per distinct uid)", presence.calls)
	}
}

func TestPushImMessageSingleSelfChatCollapsesToOneSend(t *testing.T) {
	registry := session.NewRegistry()
	presence := &fakePresence{route: ""}
	d := newTestDispatcher(registry, presence, nil)

	err := d.PushImMessage(context.Background(), "im.message.keyboard", types.TalkModeSingle, 5, 5, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("PushImMessage() error = %v", err)
	}
	if presence.calls != 1 {
		t.Fatalf("GetRoute calls = %d, want 1 (toFromID == fromID collapses to one send)", presence.calls)
	}
}

func TestPushImMessageGroupFansOutToMembers(t *testing.T) {
	registry := session.NewRegistry()
	presence := &fakePresence{route: ""}
	talk := &fakeTalk{members: []uint64{10, 20, 30}}
	d := newTestDispatcher(registry, presence, talk)

	err := d.PushImMessage(context.Background(), "im.message.keyboard", types.TalkModeGroup, 999, 1, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("PushImMessage() error = %v", err)
	}
	if presence.calls != 3 {
		t.Fatalf("GetRoute calls = %d, want 3 (one per group member)", presence.calls)
	}
}

func TestPushImMessageGroupNoTalkClientDropsSilently(t *testing.T) {
	registry := session.NewRegistry()
	presence := &fakePresence{route: ""}
	d := newTestDispatcher(registry, presence, nil)

	err := d.PushImMessage(context.Background(), "im.message.keyboard", types.TalkModeGroup, 999, 1, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("PushImMessage() error = %v, want nil (dropped, not propagated)", err)
	}
	if presence.calls != 0 {
		t.Fatalf("GetRoute calls = %d, want 0", presence.calls)
	}
}

func TestPushImMessageGroupResolveFailsDropsSilently(t *testing.T) {
	registry := session.NewRegistry()
	presence := &fakePresence{route: ""}
	talk := &fakeTalk{err: errors.New("talk service unavailable")}
	d := newTestDispatcher(registry, presence, talk)

	err := d.PushImMessage(context.Background(), "im.message.keyboard", types.TalkModeGroup, 999, 1, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("PushImMessage() error = %v, want nil (dropped, not propagated)", err)
	}
}

func TestPushImMessageUnknownTalkModeErrors(t *testing.T) {
	registry := session.NewRegistry()
	presence := &fakePresence{route: ""}
	d := newTestDispatcher(registry, presence, nil)

	err := d.PushImMessage(context.Background(), "im.message.keyboard", types.TalkMode(9), 1, 1, json.RawMessage(`{}`))
	if err == nil {
		t.Fatalf("PushImMessage() error = nil, want non-nil for unknown talk_mode")
	}
}
