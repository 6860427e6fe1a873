package store

import (
	"testing"
	"time"
)

func newTestStore(now time.Time) *Store {
	s := New()
	s.now = func() time.Time { return now }
	return s
}

func TestSetOnlineThenGetRoute(t *testing.T) {
	base := time.Now()
	s := newTestStore(base)

	s.SetOnline(1, "gw-a:9100", 60)

	route, ok := s.GetRoute(1)
	if !ok || route != "gw-a:9100" {
		t.Fatalf("GetRoute = (%q, %v), want (gw-a:9100, true)", route, ok)
	}
}

func TestGetRouteExpired(t *testing.T) {
	base := time.Now()
	s := newTestStore(base)
	s.SetOnline(1, "gw-a:9100", 10)

	s.now = func() time.Time { return base.Add(11 * time.Second) }

	if _, ok := s.GetRoute(1); ok {
		t.Fatal("GetRoute should report the binding as gone once expired")
	}
}

func TestHeartbeatRejectsStaleGateway(t *testing.T) {
	base := time.Now()
	s := newTestStore(base)
	s.SetOnline(1, "gw-a:9100", 60)

	// uid 1 reconnects on gw-b; a later set_online moves the binding.
	s.SetOnline(1, "gw-b:9100", 60)

	// gw-a's heartbeat for the now-stale binding must be rejected so it
	// cannot resurrect a binding the uid has already left.
	if ok := s.Heartbeat(1, "gw-a:9100", 60); ok {
		t.Fatal("Heartbeat from a stale gateway must be rejected")
	}

	// gw-b's heartbeat, the current owner, succeeds.
	if ok := s.Heartbeat(1, "gw-b:9100", 60); !ok {
		t.Fatal("Heartbeat from the current owning gateway should succeed")
	}

	route, ok := s.GetRoute(1)
	if !ok || route != "gw-b:9100" {
		t.Fatalf("GetRoute = (%q, %v), want (gw-b:9100, true)", route, ok)
	}
}

func TestHeartbeatUnknownUIDCreatesBinding(t *testing.T) {
	s := newTestStore(time.Now())
	if ok := s.Heartbeat(999, "gw-a:9100", 60); !ok {
		t.Fatal("Heartbeat for an unknown uid must succeed, equivalent to SetOnline")
	}

	route, ok := s.GetRoute(999)
	if !ok || route != "gw-a:9100" {
		t.Fatalf("GetRoute = (%q, %v), want (gw-a:9100, true) after heartbeat created the binding", route, ok)
	}
}

func TestSetOfflineIdempotent(t *testing.T) {
	s := newTestStore(time.Now())
	s.SetOnline(1, "gw-a:9100", 60)
	s.SetOffline(1)
	s.SetOffline(1) // must not panic or error

	if _, ok := s.GetRoute(1); ok {
		t.Fatal("GetRoute should report no binding after SetOffline")
	}
}

func TestSweepEvictsExpiredOnly(t *testing.T) {
	base := time.Now()
	s := newTestStore(base)
	s.SetOnline(1, "gw-a:9100", 5)
	s.SetOnline(2, "gw-a:9100", 60)

	s.now = func() time.Time { return base.Add(6 * time.Second) }

	n := s.Sweep()
	if n != 1 {
		t.Fatalf("Sweep evicted %d entries, want 1", n)
	}
	if s.Count() != 1 {
		t.Fatalf("Count = %d after sweep, want 1", s.Count())
	}
	if _, ok := s.GetRoute(2); !ok {
		t.Fatal("uid 2's still-live binding should survive the sweep")
	}
}
