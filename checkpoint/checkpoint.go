// Package checkpoint defines the durable execution snapshot format and
// the capability-tiered Store interface consumed by the graph engine.
package checkpoint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// FormatVersion names the on-disk checkpoint encoding. HCP1 is the
// legacy format this runtime still accepts on resume; HCP2 is current.
type FormatVersion string

const (
	HCP1 FormatVersion = "HCP1"
	HCP2 FormatVersion = "HCP2"
)

// FrontierEntry is the persisted form of graph.FrontierEntry: durable
// snapshots never import the graph package, so the shape is mirrored
// here field-for-field.
type FrontierEntry struct {
	NodeID      string `json:"nodeId"`
	Provenance  string `json:"provenance"`
	Fingerprint string `json:"fingerprint"`
}

// Interruption records a pending interrupt request against a checkpoint.
type Interruption struct {
	ID      string `json:"id"`
	Reason  string `json:"reason"`
	Payload []byte `json:"payload,omitempty"`
}

// Checkpoint is a durable snapshot of one run's state, generalizing the
// teacher's store.CheckpointV2[S] from a single State S to a set of
// checkpointed channel payloads.
type Checkpoint struct {
	SchemaVersion           string                     `json:"schemaVersion"`
	GraphVersion            string                     `json:"graphVersion"`
	CheckpointFormatVersion FormatVersion              `json:"checkpointFormatVersion"`

	ThreadID string `json:"threadId"`
	RunID    string `json:"runId"`
	StepID   int    `json:"stepId"`

	// StorePayloads holds the canonical JSON value of every checkpointed
	// channel at save time.
	StorePayloads map[string]json.RawMessage `json:"storePayloads"`

	Frontier []FrontierEntry `json:"frontier"`

	Interruption *Interruption `json:"interruption,omitempty"`

	IdempotencyKey string    `json:"idempotencyKey"`
	Timestamp      time.Time `json:"timestamp"`
	Label          string    `json:"label,omitempty"`
}

// ComputeIdempotencyKey hashes (runID, stepID, sorted frontier, sorted
// store payloads) into a stable "sha256:<hex>" string, adapted from the
// teacher's computeIdempotencyKey[S] in graph/checkpoint.go.
func ComputeIdempotencyKey(runID string, stepID int, frontier []FrontierEntry, payloads map[string]json.RawMessage) (string, error) {
	h := sha256.New()
	h.Write([]byte(runID))

	stepBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(stepBytes, uint64(stepID))
	h.Write(stepBytes)

	sorted := append([]FrontierEntry(nil), frontier...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].NodeID != sorted[j].NodeID {
			return sorted[i].NodeID < sorted[j].NodeID
		}
		return sorted[i].Provenance < sorted[j].Provenance
	})
	for _, entry := range sorted {
		h.Write([]byte(entry.NodeID))
		h.Write([]byte{0})
		h.Write([]byte(entry.Provenance))
		h.Write([]byte{0})
		h.Write([]byte(entry.Fingerprint))
		h.Write([]byte{0xff})
	}

	ids := make([]string, 0, len(payloads))
	for id := range payloads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
		h.Write(payloads[id])
		h.Write([]byte{0xff})
	}

	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}
