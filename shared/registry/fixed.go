package registry

import (
	"fmt"
	"sync"
)

// FixedClient is the "preferred production mode" short-circuit from spec
// §4.2: a single pre-configured address per (domain, service), never
// touching a discovery backend. Used whenever a `*.rpc_addr` config key
// is non-empty.
type FixedClient struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewFixed builds a FixedClient with one fixed instance already present.
func NewFixed(domain, service, addr string) (*FixedClient, error) {
	inst, err := ParsePayload("fixed", addr+":fixed")
	if err != nil {
		return nil, fmt.Errorf("registry: fixed address %q: %w", addr, err)
	}
	c := &FixedClient{snap: Snapshot{domain: {service: {inst.ID: inst}}}}
	return c, nil
}

func (c *FixedClient) Query(domain, service string) error { return nil }

func (c *FixedClient) List() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

func (c *FixedClient) Pick(domain, service string) (Instance, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return pickFromSnapshot(c.snap, domain, service)
}

func (c *FixedClient) Register(domain, service string, self Instance) error {
	return fmt.Errorf("registry: FixedClient does not support self-registration")
}

func (c *FixedClient) Close() error { return nil }
