package registry

import "testing"

func TestParsePayload(t *testing.T) {
	inst, err := ParsePayload("i1", "10.0.0.5:9100:gw-1")
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if inst.IP != "10.0.0.5" || inst.Port != 9100 {
		t.Fatalf("unexpected instance: %+v", inst)
	}
	if inst.Addr() != "10.0.0.5:9100" {
		t.Fatalf("unexpected addr: %s", inst.Addr())
	}
}

func TestParsePayloadMalformed(t *testing.T) {
	if _, err := ParsePayload("i1", "not-a-valid-payload"); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestFixedClientPick(t *testing.T) {
	c, err := NewFixed("svc-presence", "presence", "10.0.0.1:9000")
	if err != nil {
		t.Fatalf("NewFixed: %v", err)
	}
	inst, ok := c.Pick("svc-presence", "presence")
	if !ok {
		t.Fatal("expected a cached instance")
	}
	if inst.Addr() != "10.0.0.1:9000" {
		t.Fatalf("unexpected addr: %s", inst.Addr())
	}

	if _, ok := c.Pick("svc-presence", "nonexistent"); ok {
		t.Fatal("expected no instance for unregistered service")
	}
}

func TestPickFromSnapshotLexicographicallySmallest(t *testing.T) {
	snap := Snapshot{
		"svc-presence": {
			"presence": {
				"i9": Instance{ID: "i9"},
				"i2": Instance{ID: "i2"},
				"i30": Instance{ID: "i30"},
			},
		},
	}
	inst, ok := pickFromSnapshot(snap, "svc-presence", "presence")
	if !ok {
		t.Fatal("expected a pick")
	}
	if inst.ID != "i2" {
		t.Fatalf("want lexicographically smallest id i2, got %s", inst.ID)
	}
}

func TestResolveFixedShortCircuitsDiscovery(t *testing.T) {
	c, err := Resolve("10.0.0.9:9000", "svc-presence", "presence", nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	inst, ok := c.Pick("svc-presence", "presence")
	if !ok || inst.Addr() != "10.0.0.9:9000" {
		t.Fatalf("unexpected resolve result: %+v ok=%v", inst, ok)
	}
}

func TestResolveNoFixedNoBackend(t *testing.T) {
	if _, err := Resolve("", "svc-presence", "presence", nil); err == nil {
		t.Fatal("expected error when neither fixed address nor backend is available")
	}
}
