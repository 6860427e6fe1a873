package rockserver

import (
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"

	"github.com/rockmesh/im/presence/internal/store"
	"github.com/rockmesh/im/shared/presence"
	"github.com/rockmesh/im/shared/types"
)

func TestSetOnlineThenGetRouteHandlers(t *testing.T) {
	s := store.New()
	logger := zap.NewNop()

	onlineReq, _ := json.Marshal(presence.SetOnlineRequest{UID: 1, GatewayRPC: "gw-a:9100", TTLSec: 60})
	result, _, _ := handleSetOnline(s, logger)(context.Background(), presence.CmdSetOnline, onlineReq)
	if result != types.ResultOK {
		t.Fatalf("set_online result = %d, want %d", result, types.ResultOK)
	}

	routeReq, _ := json.Marshal(presence.UIDRequest{UID: 1})
	result, _, body := handleGetRoute(s)(context.Background(), presence.CmdGetRoute, routeReq)
	if result != types.ResultOK {
		t.Fatalf("get_route result = %d, want %d", result, types.ResultOK)
	}
	var resp presence.GetRouteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode get_route response: %v", err)
	}
	if resp.GatewayRPC != "gw-a:9100" {
		t.Fatalf("gateway_rpc = %q, want gw-a:9100", resp.GatewayRPC)
	}
}

func TestHeartbeatRejectsStaleGatewayViaHandler(t *testing.T) {
	s := store.New()
	logger := zap.NewNop()

	onlineReq, _ := json.Marshal(presence.SetOnlineRequest{UID: 1, GatewayRPC: "gw-a:9100", TTLSec: 60})
	handleSetOnline(s, logger)(context.Background(), presence.CmdSetOnline, onlineReq)
	// uid migrates to gw-b.
	handleSetOnline(s, logger)(context.Background(), presence.CmdSetOnline, mustMarshal(presence.SetOnlineRequest{UID: 1, GatewayRPC: "gw-b:9100", TTLSec: 60}))

	staleHeartbeat := mustMarshal(presence.SetOnlineRequest{UID: 1, GatewayRPC: "gw-a:9100", TTLSec: 60})
	result, _, _ := handleHeartbeat(s, nil, logger)(context.Background(), presence.CmdHeartbeat, staleHeartbeat)
	if result != types.ResultNotFound {
		t.Fatalf("heartbeat from stale gateway result = %d, want %d", result, types.ResultNotFound)
	}

	freshHeartbeat := mustMarshal(presence.SetOnlineRequest{UID: 1, GatewayRPC: "gw-b:9100", TTLSec: 60})
	result, _, _ = handleHeartbeat(s, nil, logger)(context.Background(), presence.CmdHeartbeat, freshHeartbeat)
	if result != types.ResultOK {
		t.Fatalf("heartbeat from current gateway result = %d, want %d", result, types.ResultOK)
	}
}

func TestHeartbeatUnknownUIDCreatesBindingViaHandler(t *testing.T) {
	s := store.New()
	logger := zap.NewNop()

	req := mustMarshal(presence.SetOnlineRequest{UID: 7, GatewayRPC: "gw-a:9100", TTLSec: 60})
	result, _, _ := handleHeartbeat(s, nil, logger)(context.Background(), presence.CmdHeartbeat, req)
	if result != types.ResultOK {
		t.Fatalf("heartbeat for unknown uid result = %d, want %d (equivalent to set_online)", result, types.ResultOK)
	}

	result, _, body := handleGetRoute(s)(context.Background(), presence.CmdGetRoute, mustMarshal(presence.UIDRequest{UID: 7}))
	if result != types.ResultOK {
		t.Fatalf("get_route result = %d, want %d", result, types.ResultOK)
	}
	var resp presence.GetRouteResponse
	json.Unmarshal(body, &resp)
	if resp.GatewayRPC != "gw-a:9100" {
		t.Fatalf("gateway_rpc = %q, want gw-a:9100", resp.GatewayRPC)
	}
}

func TestHandleSetOnlineRejectsMissingFields(t *testing.T) {
	s := store.New()
	logger := zap.NewNop()

	result, _, _ := handleSetOnline(s, logger)(context.Background(), presence.CmdSetOnline, mustMarshal(presence.SetOnlineRequest{}))
	if result != types.ResultBadRequest {
		t.Fatalf("result = %d, want %d", result, types.ResultBadRequest)
	}
}

func TestGetRouteUnknownUIDReturnsEmptyGatewayRPC(t *testing.T) {
	s := store.New()
	result, _, body := handleGetRoute(s)(context.Background(), presence.CmdGetRoute, mustMarshal(presence.UIDRequest{UID: 42}))
	if result != types.ResultOK {
		t.Fatalf("result = %d, want %d", result, types.ResultOK)
	}
	var resp presence.GetRouteResponse
	json.Unmarshal(body, &resp)
	if resp.GatewayRPC != "" {
		t.Fatalf("gateway_rpc = %q, want empty string for unknown uid", resp.GatewayRPC)
	}
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
