package sqlitestore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hollow-sw/hsw/checkpoint"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testCheckpoint(threadID string, stepID int, value string) checkpoint.Checkpoint {
	payloads := map[string]json.RawMessage{"counter": json.RawMessage(`{"value":"` + value + `"}`)}
	frontier := []checkpoint.FrontierEntry{{NodeID: "inc", Provenance: "start"}}
	key, _ := checkpoint.ComputeIdempotencyKey("run-1", stepID, frontier, payloads)
	return checkpoint.Checkpoint{
		SchemaVersion:           "v1",
		GraphVersion:            "gv:test",
		CheckpointFormatVersion: checkpoint.HCP2,
		ThreadID:                threadID,
		RunID:                   "run-1",
		StepID:                  stepID,
		StorePayloads:           payloads,
		Frontier:                frontier,
		IdempotencyKey:          key,
	}
}

func TestSaveAndLoadLatest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, testCheckpoint("thread-1", 0, "a")); err != nil {
		t.Fatalf("Save step 0: %v", err)
	}
	if err := s.Save(ctx, testCheckpoint("thread-1", 1, "b")); err != nil {
		t.Fatalf("Save step 1: %v", err)
	}

	got, err := s.LoadLatest(ctx, "thread-1")
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if got.StepID != 1 {
		t.Fatalf("StepID = %d, want 1", got.StepID)
	}
}

func TestLoadLatestUnknownThreadFails(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LoadLatest(context.Background(), "missing-thread")
	if !errors.Is(err, checkpoint.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestLoadCheckpointByStep(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, testCheckpoint("thread-1", 0, "a")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(ctx, testCheckpoint("thread-1", 1, "b")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.LoadCheckpoint(ctx, "thread-1", 0)
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if string(got.StorePayloads["counter"]) != `{"value":"a"}` {
		t.Fatalf("payload = %s", got.StorePayloads["counter"])
	}
}

func TestListCheckpointsOrdersByStep(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.Save(ctx, testCheckpoint("thread-1", i, "v")); err != nil {
			t.Fatalf("Save step %d: %v", i, err)
		}
	}

	summaries, err := s.ListCheckpoints(ctx, "thread-1", 0)
	if err != nil {
		t.Fatalf("ListCheckpoints: %v", err)
	}
	if len(summaries) != 3 {
		t.Fatalf("len(summaries) = %d, want 3", len(summaries))
	}
	for i, sum := range summaries {
		if sum.StepID != i {
			t.Fatalf("summaries[%d].StepID = %d, want %d", i, sum.StepID, i)
		}
	}
}

func TestCheckIdempotencyDetectsDuplicateKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cp := testCheckpoint("thread-1", 0, "a")
	if err := s.Save(ctx, cp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	seen, err := s.CheckIdempotency(ctx, cp.IdempotencyKey)
	if err != nil {
		t.Fatalf("CheckIdempotency: %v", err)
	}
	if !seen {
		t.Fatal("CheckIdempotency = false, want true for a saved key")
	}

	seen, err = s.CheckIdempotency(ctx, "sha256:never-saved")
	if err != nil {
		t.Fatalf("CheckIdempotency: %v", err)
	}
	if seen {
		t.Fatal("CheckIdempotency = true, want false for an unsaved key")
	}
}

func TestCapabilityIsQueryable(t *testing.T) {
	s := newTestStore(t)
	if s.Capability() != checkpoint.Queryable {
		t.Fatalf("Capability() = %v, want Queryable", s.Capability())
	}
}
