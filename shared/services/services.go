// Package services declares the narrow collaborator interfaces the core
// depends on for everything spec.md places out of scope: domain
// persistence for users, contacts, groups, talks, and media (spec §1).
// The core never holds a concrete implementation, only one of these
// interfaces — grounded on the RPC client pattern in
// application/rpc/*_rpc_client.* from the original source, reworked as
// Rock-backed Go clients answering the cmd ranges spec §6 assigns each
// domain service.
//
// Only TalkClient is declared here: it is the one domain service the
// delivery fabric actually calls. User/contact/group/media cmd ranges
// (401-413/601-628/801-805, spec §6) belong to other services entirely —
// "each service implements its own cmd-set; the transport does not know
// about them" — so no gateway-side client interface for them belongs in
// this module.
package services

import "context"

// TalkCmdBase is the talk service's cmd range base (spec §6: "talk
// 701-708").
const TalkCmdBase uint32 = 701

// TalkClient is the only domain-service collaborator the delivery fabric
// itself calls directly: push_im_message's group branch (talk_mode == 2)
// needs a talk-id → member uid list to fan a push out to (spec §4.4).
type TalkClient interface {
	// ResolveGroupMembers maps a group talk to its current participant
	// uids. On any lookup failure the caller logs and drops the push
	// (spec §4.4: "On any lookup failure, log and drop").
	ResolveGroupMembers(ctx context.Context, talkID uint64) ([]uint64, error)
}
