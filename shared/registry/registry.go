// Package registry implements the Service Registry Client (spec §4.2):
// a watched {domain → service → instance} tree with pick-one and
// self-register, falling back to fixed addresses when configured.
package registry

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Instance is one advertised service endpoint (spec §3 "Service Registry
// Entry").
type Instance struct {
	ID      string
	IP      string
	Port    int
	Payload string // raw "ip:port:hostname" advertisement payload
}

// Addr returns the ip:port this instance should be dialed at.
func (i Instance) Addr() string {
	return fmt.Sprintf("%s:%d", i.IP, i.Port)
}

// ParsePayload parses the registry record payload format from spec §6:
// "ip:port:hostname" (colon-separated, no embedded colons in hostname).
// Only the first two segments are interpreted; everything after the
// second colon is the hostname, kept verbatim even if it contains more
// colons than the format advertises.
func ParsePayload(id, payload string) (Instance, error) {
	parts := strings.SplitN(payload, ":", 3)
	if len(parts) < 2 {
		return Instance{}, fmt.Errorf("registry: malformed payload %q for instance %s", payload, id)
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil {
		return Instance{}, fmt.Errorf("registry: malformed port in payload %q: %w", payload, err)
	}
	return Instance{ID: id, IP: parts[0], Port: port, Payload: payload}, nil
}

// Snapshot is the non-blocking local-cache view returned by List.
type Snapshot map[string]map[string]map[string]Instance

// Client is the Service Registry Client's public contract (spec §4.2).
// Implementations must tolerate registry outage without propagating it
// into the core: List returns whatever is cached, Pick may return
// (Instance{}, false), and dependents turn that into a domain error
// themselves.
type Client interface {
	// Query begins (or continues) watching domain/service. Idempotent.
	Query(domain, service string) error

	// List returns the current local cache. Never blocks on the network.
	List() Snapshot

	// Pick returns the lexicographically smallest instance id for
	// domain/service, or (Instance{}, false) if none is cached. Absence
	// triggers an implicit Query.
	Pick(domain, service string) (Instance, bool)

	// Register advertises this process under domain/service. ZKClient
	// re-advertises every registration itself each time its session to
	// the backend is re-established; callers do not call Register again.
	Register(domain, service string, self Instance) error

	// Close releases watches and connections held by the client.
	Close() error
}

// pickFromSnapshot implements the "lexicographically smallest instance
// id" rule shared by every Client implementation.
func pickFromSnapshot(snap Snapshot, domain, service string) (Instance, bool) {
	svcMap, ok := snap[domain]
	if !ok {
		return Instance{}, false
	}
	instances, ok := svcMap[service]
	if !ok || len(instances) == 0 {
		return Instance{}, false
	}
	ids := make([]string, 0, len(instances))
	for id := range instances {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return instances[ids[0]], true
}
