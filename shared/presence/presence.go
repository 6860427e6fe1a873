// Package presence defines the wire contract for the Presence Directory
// (spec §4.3) and a thin Rock-backed client for it.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rockmesh/im/shared/rock"
)

// Rock cmd numbers for service svc-presence (spec §4.3/§6).
const (
	CmdSetOnline  uint32 = 201
	CmdSetOffline uint32 = 202
	CmdHeartbeat  uint32 = 203
	CmdGetRoute   uint32 = 204
)

// Domain/service names as advertised in the service registry.
const (
	Domain  = "svc-presence"
	Service = "presence"
)

// DefaultTTLSeconds is the default presence entry lease (spec §4.3).
const DefaultTTLSeconds = 120

// RequestTimeout is the Rock request deadline for presence calls
// (spec §5: "defaults: presence 300 ms").
const RequestTimeout = 300 * time.Millisecond

// SetOnlineRequest / HeartbeatRequest body (spec §4.3 table).
type SetOnlineRequest struct {
	UID        uint64 `json:"uid"`
	GatewayRPC string `json:"gateway_rpc"`
	TTLSec     int    `json:"ttl_sec"`
}

// SetOfflineRequest / GetRouteRequest body.
type UIDRequest struct {
	UID uint64 `json:"uid"`
}

// GetRouteResponse body.
type GetRouteResponse struct {
	GatewayRPC string `json:"gateway_rpc"`
}

// Conn is the minimal Rock operation a presence client needs: issue a
// request and wait for the response. *rock.Conn satisfies this.
type Conn interface {
	Request(ctx context.Context, cmd uint32, body []byte) (rock.Message, error)
}

// Client calls the presence service over Rock. It is used both by
// gateways (set-online/heartbeat/set-offline/get-route) and by anything
// else in the fleet that needs to resolve a uid's owning gateway.
type Client struct {
	conn Conn
}

// NewClient wraps a Rock connection (or connection pool entry) already
// dialed to the presence service.
func NewClient(conn Conn) *Client {
	return &Client{conn: conn}
}

func (c *Client) call(ctx context.Context, cmd uint32, body any) (rock.Message, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return rock.Message{}, fmt.Errorf("presence: marshal request: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()
	return c.conn.Request(ctx, cmd, raw)
}

// SetOnline creates or replaces the presence entry for uid, bound to
// gatewayRPC, expiring after ttlSec.
func (c *Client) SetOnline(ctx context.Context, uid uint64, gatewayRPC string, ttlSec int) error {
	resp, err := c.call(ctx, CmdSetOnline, SetOnlineRequest{UID: uid, GatewayRPC: gatewayRPC, TTLSec: ttlSec})
	if err != nil {
		return err
	}
	return resultErr(resp)
}

// Heartbeat extends the expiry of uid's entry. Per spec §4.3, the
// presence service itself rejects heartbeats whose gateway_rpc does not
// match the stored binding — this client just reports that failure back
// (a non-200 result), it does not special-case it. See the "Open
// question — presence tie-break" decision in DESIGN.md.
func (c *Client) Heartbeat(ctx context.Context, uid uint64, gatewayRPC string, ttlSec int) error {
	resp, err := c.call(ctx, CmdHeartbeat, SetOnlineRequest{UID: uid, GatewayRPC: gatewayRPC, TTLSec: ttlSec})
	if err != nil {
		return err
	}
	return resultErr(resp)
}

// SetOffline removes uid's presence entry (idempotent).
func (c *Client) SetOffline(ctx context.Context, uid uint64) error {
	resp, err := c.call(ctx, CmdSetOffline, UIDRequest{UID: uid})
	if err != nil {
		return err
	}
	return resultErr(resp)
}

// GetRoute returns uid's current gateway_rpc binding, or "" if none
// exists or it has expired.
func (c *Client) GetRoute(ctx context.Context, uid uint64) (string, error) {
	resp, err := c.call(ctx, CmdGetRoute, UIDRequest{UID: uid})
	if err != nil {
		return "", err
	}
	if err := resultErr(resp); err != nil {
		return "", err
	}
	var out GetRouteResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return "", fmt.Errorf("presence: decode get_route response: %w", err)
	}
	return out.GatewayRPC, nil
}

func resultErr(resp rock.Message) error {
	if resp.Result == 200 {
		return nil
	}
	if resp.ResultStr != "" {
		return fmt.Errorf("presence: %d: %s", resp.Result, resp.ResultStr)
	}
	return fmt.Errorf("presence: result %d", resp.Result)
}
