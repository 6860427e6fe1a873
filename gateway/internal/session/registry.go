// Package session implements the per-process Session Map (spec §3): a
// connection-id → (uid, platform, session) registry guarded by a single
// reader-writer lock, grounded on the teacher's server/internal/websocket
// Hub and agentmanager.Manager — generalized from topic pub/sub and
// single-agent-by-id lookup into per-uid multi-session fan-out.
package session

import (
	"sync"
	"sync/atomic"
)

// nextConnID is the process-global atomic connection-id counter
// (spec §5: "Connection ids are allocated from a process-global atomic
// counter").
var nextConnID atomic.Uint64

// NextConnID allocates a fresh, process-wide unique connection id.
func NextConnID() uint64 {
	return nextConnID.Add(1)
}

// Registry is the process's Session Map. Invariants (spec §3):
//   - CollectSessions(uid) returns exactly the currently-live sessions
//     for that uid on this process.
//   - Every entry either resolves to a live session or is removed before
//     the next scan.
//   - Concurrent collect/insert/erase are serialisable.
type Registry struct {
	mu     sync.RWMutex
	byID   map[uint64]*Client
	byUID  map[uint64]map[uint64]*Client // uid -> connID -> Client
}

// NewRegistry builds an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:  make(map[uint64]*Client),
		byUID: make(map[uint64]map[uint64]*Client),
	}
}

// Insert adds c to the registry, indexed by its connection id and uid.
func (r *Registry) Insert(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[c.ID] = c
	if r.byUID[c.UID] == nil {
		r.byUID[c.UID] = make(map[uint64]*Client)
	}
	r.byUID[c.UID][c.ID] = c
}

// Remove erases connID from the registry. Safe to call more than once
// for the same id (erase is idempotent, same as spec §3's destruction
// contract).
func (r *Registry) Remove(connID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[connID]
	if !ok {
		return
	}
	delete(r.byID, connID)
	if uidConns := r.byUID[c.UID]; uidConns != nil {
		delete(uidConns, connID)
		if len(uidConns) == 0 {
			delete(r.byUID, c.UID)
		}
	}
}

// CollectSessions snapshots the live sessions for uid under a read lock.
// I/O against the returned clients must happen after the lock is
// released (spec §5: "Readers take the lock only long enough to
// snapshot; I/O happens after release").
func (r *Registry) CollectSessions(uid uint64) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := r.byUID[uid]
	if len(conns) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// Count returns the number of live sessions across all uids, for metrics
// and health checks.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// UIDCount returns the number of distinct uids with at least one live
// session, for metrics.
func (r *Registry) UIDCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUID)
}
