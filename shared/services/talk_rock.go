package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rockmesh/im/shared/rock"
)

// CmdResolveGroupMembers is the talk service's member-resolution RPC,
// the first of the 701-708 range the talk service owns (spec §6).
const CmdResolveGroupMembers uint32 = 701

// DefaultCallTimeout is the generic service-call deadline (spec §5:
// "generic service call 3-5 s").
const DefaultCallTimeout = 4 * time.Second

// rockConn is the subset of *rock.Conn a RockTalkClient needs.
type rockConn interface {
	Request(ctx context.Context, cmd uint32, body []byte) (rock.Message, error)
}

// RockTalkClient implements TalkClient over a Rock connection to the
// talk service, mirroring the request-shape of
// application/rpc/talk_service_rpc_client.cpp's RockJsonRequest helper.
type RockTalkClient struct {
	conn rockConn
}

// NewRockTalkClient wraps a Rock connection already dialed to the talk
// service's RPC address.
func NewRockTalkClient(conn rockConn) *RockTalkClient {
	return &RockTalkClient{conn: conn}
}

type resolveGroupMembersRequest struct {
	TalkID uint64 `json:"talk_id"`
}

type resolveGroupMembersResponse struct {
	MemberUIDs []uint64 `json:"member_uids"`
}

func (c *RockTalkClient) ResolveGroupMembers(ctx context.Context, talkID uint64) ([]uint64, error) {
	body, err := json.Marshal(resolveGroupMembersRequest{TalkID: talkID})
	if err != nil {
		return nil, fmt.Errorf("services: marshal resolve_group_members request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultCallTimeout)
	defer cancel()

	resp, err := c.conn.Request(ctx, CmdResolveGroupMembers, body)
	if err != nil {
		return nil, err
	}
	if resp.Result != 200 {
		return nil, fmt.Errorf("services: resolve_group_members: %d %s", resp.Result, resp.ResultStr)
	}

	var out resolveGroupMembersResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("services: decode resolve_group_members response: %w", err)
	}
	return out.MemberUIDs, nil
}
