package channel

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// Key is a typed accessor over a channel, generic in the channel's value
// type V. It is the only point where callers deal with V directly; the
// Store itself only ever holds canonical JSON blobs.
type Key[V any] struct {
	ID string
}

func (k Key[V]) typeID() string {
	var zero V
	return reflect.TypeOf(zero).String()
}

// TypeID exposes the key's declared type identifier, used by schema
// builders outside this package to populate Descriptor.TypeID
// consistently with what NewWrite stamps on every Write.
func (k Key[V]) TypeID() string { return k.typeID() }

// NewKey declares a typed key for channel id. Use the same id when
// declaring the Descriptor in a Schema.
func NewKey[V any](id string) Key[V] {
	return Key[V]{ID: id}
}

// Schema is the finite set of channels a compiled graph may read/write.
type Schema struct {
	descriptors map[string]Descriptor
	order       []string // declaration order, used for deterministic iteration
}

// NewSchema builds a Schema from a descriptor list. Duplicate ids are a
// programmer error and panic immediately (schemas are built once at
// program init, not at request time).
func NewSchema(descriptors ...Descriptor) *Schema {
	s := &Schema{descriptors: make(map[string]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if _, exists := s.descriptors[d.ID]; exists {
			panic("channel: duplicate channel id " + d.ID)
		}
		s.descriptors[d.ID] = d
		s.order = append(s.order, d.ID)
	}
	return s
}

// Descriptor returns the schema entry for id, or false if undeclared.
func (s *Schema) Descriptor(id string) (Descriptor, bool) {
	d, ok := s.descriptors[id]
	return d, ok
}

// ChannelIDs returns every declared channel id in declaration order.
func (s *Schema) ChannelIDs() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Store is the global mapping channel-id -> current raw value, governed
// by the Schema's reducers and persistence tiers. Reads/writes go
// through typed Key[V] accessors; the underlying representation is
// always canonical JSON.
type Store struct {
	schema *Schema
	values map[string]json.RawMessage
}

// NewStore creates a Store for schema with every channel initialized to
// its declared initial value.
func NewStore(schema *Schema) *Store {
	st := &Store{schema: schema, values: make(map[string]json.RawMessage)}
	for _, id := range schema.ChannelIDs() {
		d := schema.descriptors[id]
		if d.Initial != nil {
			st.values[id] = d.Initial()
		} else {
			st.values[id] = json.RawMessage("null")
		}
	}
	return st
}

// Schema returns the store's schema.
func (s *Store) Schema() *Schema { return s.schema }

// Get returns the current value for key, or ErrUnknownChannel /
// ErrTypeMismatch / a codec error.
func Get[V any](s *Store, key Key[V]) (V, error) {
	var zero V
	d, ok := s.schema.Descriptor(key.ID)
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrUnknownChannel, key.ID)
	}
	if d.TypeID != "" && d.TypeID != key.typeID() {
		return zero, fmt.Errorf("%w: channel %s declared %s, key is %s", ErrTypeMismatch, key.ID, d.TypeID, key.typeID())
	}
	raw, ok := s.values[key.ID]
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrUnknownChannel, key.ID)
	}
	var out V
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("channel: codec error for %s: %w", key.ID, err)
	}
	return out, nil
}

// GetRaw returns the current raw JSON value for a channel id, used by
// the checkpoint/projection layers that operate on opaque blobs.
func (s *Store) GetRaw(id string) (json.RawMessage, error) {
	d, ok := s.schema.Descriptor(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, id)
	}
	_ = d
	raw, ok := s.values[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, id)
	}
	return raw, nil
}

// SetRaw overwrites a channel's raw value directly, bypassing the
// reducer. Checkpoint rehydration goes through Restore, not SetRaw.
func (s *Store) SetRaw(id string, raw json.RawMessage) {
	s.values[id] = raw
}

// NewWrite builds a Write for key from a typed value.
func NewWrite[V any](key Key[V], value V) (Write, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return Write{}, err
	}
	return Write{Channel: key.ID, TypeID: key.typeID(), Value: raw}, nil
}

// Apply attempts to merge a batch of writes into the store. All-or-
// nothing: if any reducer fails, the store is left completely
// unchanged. external reports whether this batch originates from an
// external caller (applyExternalWrites), which additionally enforces
// the task-local and type-identity admission rules from spec §4.1.
func (s *Store) Apply(writes []Write, external bool) error {
	byChannel := make(map[string][]Write)
	for _, w := range writes {
		byChannel[w.Channel] = append(byChannel[w.Channel], w)
	}

	next := make(map[string]json.RawMessage, len(byChannel))

	ids := make([]string, 0, len(byChannel))
	for id := range byChannel {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		ws := byChannel[id]
		d, ok := s.schema.Descriptor(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownChannel, id)
		}

		if external && d.Scope == TaskLocal {
			return fmt.Errorf("%w: %s", ErrTaskLocalWriteNotAllowed, id)
		}

		for _, w := range ws {
			if external && d.TypeID != "" && w.TypeID != "" && w.TypeID != d.TypeID {
				return fmt.Errorf("%w: channel %s expected %s got %s", ErrTypeMismatch, id, d.TypeID, w.TypeID)
			}
		}

		if d.Policy == Single && len(ws) > 1 {
			return fmt.Errorf("%w: %s", ErrUpdatePolicyViolation, id)
		}

		current, err := s.GetRaw(id)
		if err != nil {
			return err
		}

		raws := make([]json.RawMessage, len(ws))
		for i, w := range ws {
			raws[i] = w.Value
		}

		reducer := d.Reducer
		if reducer == nil {
			reducer = LastWriteWins()
		}

		merged, err := reducer(current, raws)
		if err != nil {
			return &ReducerError{Channel: id, Cause: err}
		}
		next[id] = merged
	}

	for id, v := range next {
		s.values[id] = v
	}
	return nil
}

// ResetEphemeral resets every Ephemeral channel to its initial value.
// Called by the scheduler after every step commits (spec §3 invariant).
func (s *Store) ResetEphemeral() {
	for _, id := range s.schema.order {
		d := s.schema.descriptors[id]
		if d.Persistence == Ephemeral && d.Initial != nil {
			s.values[id] = d.Initial()
		}
	}
}

// Snapshot returns a copy of the raw values for the given channel ids,
// used by checkpointing (checkpointed channels only) and by the
// input-fingerprint computation for node-level caching.
func (s *Store) Snapshot(ids []string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(ids))
	for _, id := range ids {
		if v, ok := s.values[id]; ok {
			cp := make(json.RawMessage, len(v))
			copy(cp, v)
			out[id] = cp
		}
	}
	return out
}

// Restore overwrites channel values from a snapshot (used by checkpoint
// rehydration).
func (s *Store) Restore(snapshot map[string]json.RawMessage) {
	for id, v := range snapshot {
		s.values[id] = v
	}
}

// Version hashes the schema's channel ids and declared type ids into a
// stable identifier, used to reject checkpoints saved under a
// structurally different schema (spec §4.4 step 2's schemaVersion check).
func (s *Schema) Version() string {
	ids := append([]string(nil), s.order...)
	sort.Strings(ids)
	h := sha256.New()
	for _, id := range ids {
		d := s.descriptors[id]
		h.Write([]byte(id))
		h.Write([]byte{0})
		h.Write([]byte(d.TypeID))
		h.Write([]byte{0xff})
	}
	return fmt.Sprintf("sv:%x", h.Sum(nil)[:16])
}

// CheckpointedChannelIDs returns the ids of every Checkpointed channel,
// in declaration order.
func (s *Schema) CheckpointedChannelIDs() []string {
	var out []string
	for _, id := range s.order {
		if s.descriptors[id].Persistence == Checkpointed {
			out = append(out, id)
		}
	}
	return out
}
