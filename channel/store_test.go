package channel

import (
	"encoding/json"
	"errors"
	"testing"
)

func intInitial(v int) func() json.RawMessage {
	return func() json.RawMessage {
		b, _ := json.Marshal(v)
		return b
	}
}

func testSchema() *Schema {
	return NewSchema(
		Descriptor{
			ID:          "counter",
			Scope:       Global,
			Policy:      Multi,
			Reducer:     Sum(),
			Persistence: Checkpointed,
			Initial:     intInitial(0),
		},
		Descriptor{
			ID:          "last",
			Scope:       Global,
			Policy:      Single,
			Reducer:     LastWriteWins(),
			Persistence: Checkpointed,
			Initial:     intInitial(0),
		},
		Descriptor{
			ID:          "scratch",
			Scope:       TaskLocal,
			Policy:      Multi,
			Reducer:     LastWriteWins(),
			Persistence: Ephemeral,
			Initial:     func() json.RawMessage { return json.RawMessage(`""`) },
		},
	)
}

func TestStoreApplySum(t *testing.T) {
	s := NewStore(testSchema())
	counter := NewKey[int]("counter")

	w1, _ := NewWrite(counter, 3)
	w2, _ := NewWrite(counter, 4)
	if err := s.Apply([]Write{w1, w2}, false); err != nil {
		t.Fatalf("apply: %v", err)
	}

	got, err := Get(s, counter)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != 7 {
		t.Fatalf("counter = %d, want 7", got)
	}
}

func TestStoreApplySinglePolicyViolation(t *testing.T) {
	s := NewStore(testSchema())
	last := NewKey[int]("last")

	w1, _ := NewWrite(last, 1)
	w2, _ := NewWrite(last, 2)
	err := s.Apply([]Write{w1, w2}, false)
	if !errors.Is(err, ErrUpdatePolicyViolation) {
		t.Fatalf("err = %v, want ErrUpdatePolicyViolation", err)
	}

	got, _ := Get(s, last)
	if got != 0 {
		t.Fatalf("store mutated after rejected batch: last = %d", got)
	}
}

func TestStoreApplyTaskLocalExternalRejected(t *testing.T) {
	s := NewStore(testSchema())
	scratch := NewKey[string]("scratch")

	w, _ := NewWrite(scratch, "hello")
	err := s.Apply([]Write{w}, true)
	if !errors.Is(err, ErrTaskLocalWriteNotAllowed) {
		t.Fatalf("err = %v, want ErrTaskLocalWriteNotAllowed", err)
	}

	// internal (non-external) writes to task-local channels are fine.
	if err := s.Apply([]Write{w}, false); err != nil {
		t.Fatalf("internal write to task-local channel failed: %v", err)
	}
}

func TestStoreApplyUnknownChannel(t *testing.T) {
	s := NewStore(testSchema())
	err := s.Apply([]Write{{Channel: "nope", Value: json.RawMessage("1")}}, false)
	if !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("err = %v, want ErrUnknownChannel", err)
	}
}

func TestStoreResetEphemeral(t *testing.T) {
	s := NewStore(testSchema())
	scratch := NewKey[string]("scratch")
	w, _ := NewWrite(scratch, "hello")
	if err := s.Apply([]Write{w}, false); err != nil {
		t.Fatalf("apply: %v", err)
	}

	s.ResetEphemeral()

	got, err := Get(s, scratch)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "" {
		t.Fatalf("scratch = %q, want empty after reset", got)
	}
}

func TestStoreApplyAllOrNothing(t *testing.T) {
	s := NewStore(testSchema())
	counter := NewKey[int]("counter")
	last := NewKey[int]("last")

	good, _ := NewWrite(counter, 10)
	bad1, _ := NewWrite(last, 1)
	bad2, _ := NewWrite(last, 2)

	err := s.Apply([]Write{good, bad1, bad2}, false)
	if !errors.Is(err, ErrUpdatePolicyViolation) {
		t.Fatalf("err = %v, want ErrUpdatePolicyViolation", err)
	}

	gotCounter, _ := Get(s, counter)
	if gotCounter != 0 {
		t.Fatalf("counter = %d, want 0 (batch must be all-or-nothing)", gotCounter)
	}
}

func TestSchemaCheckpointedChannelIDs(t *testing.T) {
	ids := testSchema().CheckpointedChannelIDs()
	want := map[string]bool{"counter": true, "last": true}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want 2 entries", ids)
	}
	for _, id := range ids {
		if !want[id] {
			t.Fatalf("unexpected checkpointed id %q", id)
		}
	}
}
