package registry

import "fmt"

// Resolve implements spec §4.2's "fixed address short-circuits
// discovery" rule: if fixedAddr is non-empty, it wins outright and the
// backend (which may be nil) is never consulted. Otherwise backend must
// be non-nil — the caller is responsible for having configured
// `service_discovery.zk` when no fixed address is set (spec §6).
func Resolve(fixedAddr, domain, service string, backend Client) (Client, error) {
	if fixedAddr != "" {
		return NewFixed(domain, service, fixedAddr)
	}
	if backend == nil {
		return nil, fmt.Errorf("registry: no fixed address for %s/%s and no discovery backend configured", domain, service)
	}
	if err := backend.Query(domain, service); err != nil {
		return nil, err
	}
	return backend, nil
}
