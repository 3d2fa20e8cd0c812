package checkpoint

import (
	"encoding/json"
	"testing"
)

func TestComputeIdempotencyKeyDeterministic(t *testing.T) {
	frontier := []FrontierEntry{{NodeID: "b", Provenance: "a"}, {NodeID: "a", Provenance: "start"}}
	payloads := map[string]json.RawMessage{"messages": json.RawMessage(`[]`), "counter": json.RawMessage(`0`)}

	k1, err := ComputeIdempotencyKey("run-1", 3, frontier, payloads)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	k2, err := ComputeIdempotencyKey("run-1", 3, frontier, payloads)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if k1 != k2 {
		t.Fatalf("key not deterministic: %s != %s", k1, k2)
	}

	k3, err := ComputeIdempotencyKey("run-1", 4, frontier, payloads)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if k1 == k3 {
		t.Fatal("different step ids produced the same idempotency key")
	}
}

func TestValidateForResume(t *testing.T) {
	cp := Checkpoint{
		SchemaVersion:           "s1",
		GraphVersion:            "g1",
		CheckpointFormatVersion: HCP2,
	}
	if err := ValidateForResume(cp, "s1", "g1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateForResume(cp, "s2", "g1"); err == nil {
		t.Fatal("expected schema version mismatch error")
	}
	if err := ValidateForResume(cp, "s1", "g2"); err == nil {
		t.Fatal("expected graph version mismatch error")
	}

	cp.CheckpointFormatVersion = "HCP9"
	if err := ValidateForResume(cp, "s1", "g1"); err == nil {
		t.Fatal("expected unsupported format version error")
	}
}
