package channel

import "encoding/json"

// Scope controls which writers may target a channel.
type Scope int

const (
	// Global channels are visible to every node and to external writers.
	Global Scope = iota
	// TaskLocal channels are visible only within the node invocation that
	// declared them; external writes always fail for these.
	TaskLocal
)

// UpdatePolicy controls how many writers may target a channel per step.
type UpdatePolicy int

const (
	// Single permits at most one writer per step; a second write in the
	// same batch fails the batch with ErrUpdatePolicyViolation.
	Single UpdatePolicy = iota
	// Multi permits many writers; their writes are merged by the
	// channel's Reducer.
	Multi
)

// Persistence controls how a channel's value survives across steps/runs.
type Persistence int

const (
	// Checkpointed channels are included in every checkpoint payload and
	// survive process restarts via the checkpoint store.
	Checkpointed Persistence = iota
	// Ephemeral channels are reset to their initial value immediately
	// after every step commits.
	Ephemeral
	// Untracked channels live only in the in-memory store and are never
	// serialized.
	Untracked
)

// ReducerFunc folds a batch of raw writes for one channel into the
// channel's current raw value. Values are opaque json.RawMessage so the
// store never needs compile-time knowledge of V.
//
// A ReducerFunc must be pure and deterministic: same (current, writes)
// always yields the same result. Returning an error aborts the whole
// batch (see Store.Apply).
type ReducerFunc func(current json.RawMessage, writes []json.RawMessage) (json.RawMessage, error)

// Descriptor is the type-erased schema entry for one channel. The store
// holds values as opaque json.RawMessage blobs and only round-trips
// through a Descriptor's reducer/initial factory; typed accessors (Key[V])
// are thin wrappers that marshal/unmarshal on top of this.
type Descriptor struct {
	// ID is the stable channel identifier.
	ID string

	// TypeID names the declared value type, used to catch external-write
	// type confusion (ErrTypeMismatch). Schema builders set it from the
	// matching Key[V].TypeID(), the same value NewWrite stamps on writes;
	// left empty, type checks against this channel are skipped.
	TypeID string

	Scope       Scope
	Policy      UpdatePolicy
	Reducer     ReducerFunc
	Persistence Persistence

	// Initial returns the canonical JSON encoding of the channel's
	// zero/initial value. Called by NewStore and whenever an ephemeral
	// channel resets after a step commit.
	Initial func() json.RawMessage
}

// Write is one raw write targeting a channel within a batch.
type Write struct {
	Channel string
	TypeID  string
	Value   json.RawMessage
}
