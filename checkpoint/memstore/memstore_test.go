package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/hollow-sw/hsw/checkpoint"
)

func TestStoreSaveAndLoadLatest(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.LoadLatest(ctx, "thread-1"); err != checkpoint.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	cp1 := checkpoint.Checkpoint{ThreadID: "thread-1", RunID: "run-1", StepID: 1, Timestamp: time.Now(), IdempotencyKey: "k1"}
	cp2 := checkpoint.Checkpoint{ThreadID: "thread-1", RunID: "run-1", StepID: 2, Timestamp: time.Now(), IdempotencyKey: "k2"}

	if err := s.Save(ctx, cp1); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save(ctx, cp2); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.LoadLatest(ctx, "thread-1")
	if err != nil {
		t.Fatalf("load latest: %v", err)
	}
	if got.StepID != 2 {
		t.Fatalf("StepID = %d, want 2", got.StepID)
	}
}

func TestStoreListAndLoadCheckpoint(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		cp := checkpoint.Checkpoint{ThreadID: "thread-1", StepID: i, Timestamp: time.Now()}
		if err := s.Save(ctx, cp); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	list, err := s.ListCheckpoints(ctx, "thread-1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len(list) = %d, want 3", len(list))
	}

	cp, err := s.LoadCheckpoint(ctx, "thread-1", 2)
	if err != nil {
		t.Fatalf("load checkpoint: %v", err)
	}
	if cp.StepID != 2 {
		t.Fatalf("StepID = %d, want 2", cp.StepID)
	}
}

func TestStoreCheckIdempotency(t *testing.T) {
	s := New()
	ctx := context.Background()

	exists, err := s.CheckIdempotency(ctx, "sha256:unused")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if exists {
		t.Fatal("expected key to not exist yet")
	}

	if err := s.Save(ctx, checkpoint.Checkpoint{ThreadID: "t", StepID: 1, IdempotencyKey: "sha256:used"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	exists, err = s.CheckIdempotency(ctx, "sha256:used")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !exists {
		t.Fatal("expected key to exist after save")
	}
}

func TestStoreCapability(t *testing.T) {
	if New().Capability() != checkpoint.Queryable {
		t.Fatal("memstore must report Queryable capability")
	}
}
