// Package memstore is the in-memory checkpoint.Store tier: Queryable,
// process-local, lost on restart. Adapted from the teacher's
// graph/store/memory.go MemStore[S], generalized from one map of
// StepRecord[S] to a map of checkpoint.Checkpoint keyed by thread.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/hollow-sw/hsw/checkpoint"
)

// Store is a thread-safe, in-memory checkpoint.Store. Intended for
// tests, examples, and single-process development — not for production
// durability.
type Store struct {
	mu             sync.RWMutex
	byThread       map[string][]checkpoint.Checkpoint // threadID -> checkpoints, append order
	idempotencyMap map[string]bool
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		byThread:       make(map[string][]checkpoint.Checkpoint),
		idempotencyMap: make(map[string]bool),
	}
}

func (s *Store) Capability() checkpoint.Capability { return checkpoint.Queryable }

func (s *Store) Save(_ context.Context, cp checkpoint.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byThread[cp.ThreadID] = append(s.byThread[cp.ThreadID], cp)
	if cp.IdempotencyKey != "" {
		s.idempotencyMap[cp.IdempotencyKey] = true
	}
	return nil
}

func (s *Store) LoadLatest(_ context.Context, threadID string) (checkpoint.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cps := s.byThread[threadID]
	if len(cps) == 0 {
		return checkpoint.Checkpoint{}, checkpoint.ErrNotFound
	}

	latest := cps[0]
	for _, cp := range cps[1:] {
		if cp.StepID > latest.StepID {
			latest = cp
		}
	}
	return latest, nil
}

func (s *Store) ListCheckpoints(_ context.Context, threadID string, limit int) ([]checkpoint.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cps := s.byThread[threadID]
	out := make([]checkpoint.Summary, 0, len(cps))
	for _, cp := range cps {
		out = append(out, checkpoint.Summary{
			ThreadID:  cp.ThreadID,
			RunID:     cp.RunID,
			StepID:    cp.StepID,
			Label:     cp.Label,
			Timestamp: cp.Timestamp.UnixNano(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepID < out[j].StepID })

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Store) LoadCheckpoint(_ context.Context, threadID string, stepID int) (checkpoint.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, cp := range s.byThread[threadID] {
		if cp.StepID == stepID {
			return cp, nil
		}
	}
	return checkpoint.Checkpoint{}, checkpoint.ErrNotFound
}

func (s *Store) CheckIdempotency(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idempotencyMap[key], nil
}
