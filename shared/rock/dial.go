package rock

import (
	"context"
	"fmt"

	"github.com/rockmesh/im/shared/registry"
)

// DiscoveredConn resolves domain/service through a registry.Client on
// every call and issues the request against a pooled connection to
// whichever instance Pick returns. It implements the same narrow
// Request(ctx, cmd, body) contract every Rock-backed service client
// (presence.Conn, services.rockConn, ...) depends on, so a single
// discovery-aware dialer can back all of them.
type DiscoveredConn struct {
	registry registry.Client
	pool     *Pool
	domain   string
	service  string
}

// NewDiscoveredConn builds a DiscoveredConn. reg must already be
// resolved (registry.Resolve), so Pick can be called immediately.
func NewDiscoveredConn(reg registry.Client, pool *Pool, domain, service string) *DiscoveredConn {
	return &DiscoveredConn{registry: reg, pool: pool, domain: domain, service: service}
}

// Request dials (or reuses) a connection to the current pick for
// domain/service and issues cmd/body against it.
func (d *DiscoveredConn) Request(ctx context.Context, cmd uint32, body []byte) (Message, error) {
	inst, ok := d.registry.Pick(d.domain, d.service)
	if !ok {
		return Message{}, fmt.Errorf("rock: no instance available for %s/%s", d.domain, d.service)
	}
	conn, err := d.pool.Get(ctx, inst.Addr())
	if err != nil {
		return Message{}, fmt.Errorf("rock: dial %s/%s at %s: %w", d.domain, d.service, inst.Addr(), err)
	}
	return conn.Request(ctx, cmd, body)
}
