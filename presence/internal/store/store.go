// Package store implements the Presence Directory's authoritative state
// (spec §4.3): a single active {uid -> gateway_rpc} binding with
// last-write-wins semantics and TTL expiry, guarded by a single
// sync.RWMutex, the same discipline as the teacher's
// agentmanager.Manager.
package store

import (
	"sync"
	"time"
)

// entry is one uid's presence binding.
type entry struct {
	gatewayRPC string
	expiresAt  time.Time
}

// Store holds every uid's current gateway binding. The zero value is not
// usable — use New.
type Store struct {
	mu      sync.RWMutex
	entries map[uint64]entry
	now     func() time.Time
}

// New builds an empty Store.
func New() *Store {
	return &Store{entries: make(map[uint64]entry), now: time.Now}
}

// SetOnline creates or replaces uid's binding unconditionally
// (last-write-wins, spec §4.3: "a later set_online always wins, no
// ordering check against the previous gateway").
func (s *Store) SetOnline(uid uint64, gatewayRPC string, ttlSec int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[uid] = entry{gatewayRPC: gatewayRPC, expiresAt: s.now().Add(time.Duration(ttlSec) * time.Second)}
}

// Heartbeat extends uid's TTL. If uid has no stored binding, the
// heartbeat is equivalent to set_online (spec §4.3's HEARTBEAT row: "if
// absent, equivalent to SET_ONLINE") — there is no stale gateway to
// guard against when nothing is bound yet. If a binding exists, this is
// where spec §9's tie-break rule applies: a gatewayRPC that differs from
// the stored one is rejected, so a stale gateway whose connection to a
// uid has already migrated elsewhere cannot resurrect its own binding by
// heartbeating past the TTL. Only that mismatch case returns ok=false;
// the caller turns it into a types.ResultNotFound response without
// touching the store.
func (s *Store) Heartbeat(uid uint64, gatewayRPC string, ttlSec int) (ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, found := s.entries[uid]
	if !found {
		s.entries[uid] = entry{gatewayRPC: gatewayRPC, expiresAt: s.now().Add(time.Duration(ttlSec) * time.Second)}
		return true
	}
	if e.gatewayRPC != gatewayRPC {
		return false
	}
	e.expiresAt = s.now().Add(time.Duration(ttlSec) * time.Second)
	s.entries[uid] = e
	return true
}

// SetOffline removes uid's binding. Idempotent.
func (s *Store) SetOffline(uid uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, uid)
}

// GetRoute returns uid's current gateway_rpc binding if it exists and
// has not expired.
func (s *Store) GetRoute(uid uint64) (gatewayRPC string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, found := s.entries[uid]
	if !found || s.now().After(e.expiresAt) {
		return "", false
	}
	return e.gatewayRPC, true
}

// Sweep evicts every binding that has expired since it was last
// refreshed. Returns the number of entries evicted, for metrics. Called
// periodically rather than via a per-entry timer (spec §4.3 "ages out,
// no cleanup RPC required" — a sweep is the cheap way to implement
// that at scale).
func (s *Store) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for uid, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, uid)
			evicted++
		}
	}
	return evicted
}

// Count returns the number of currently-tracked bindings (including any
// not yet swept past expiry), for metrics and health checks.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
