package transcript

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Source names which inputs a StateSnapshot was assembled from (spec §4.8).
type Source string

const (
	SourceMemory              Source = "memory"
	SourceCheckpoint          Source = "checkpoint"
	SourceMemoryAndCheckpoint Source = "memoryAndCheckpoint"
	SourceTrackerOnly         Source = "trackerOnly"
)

// FrontierEntry is one ready/deferred node in a state snapshot's
// frontier summary.
type FrontierEntry struct {
	NodeID          string `json:"nodeId"`
	Provenance      string `json:"provenance"`
	FingerprintHash string `json:"fingerprintHash"`
}

// FrontierSummary is the hashed, sorted view of a run's current frontier.
type FrontierSummary struct {
	Count   int             `json:"count"`
	Hash    string          `json:"hash"`
	Entries []FrontierEntry `json:"entries"`
}

// ChannelEntry is one channel's payload hash in a channel-state summary.
type ChannelEntry struct {
	ChannelID    string `json:"channelId"`
	PayloadHash  string `json:"payloadHash"`
}

// ChannelSummary is the hashed, sorted digest of cross-channel payloads.
type ChannelSummary struct {
	Hash    string         `json:"hash"`
	Entries []ChannelEntry `json:"entries"`
}

// Interruption mirrors the subset of a pending interrupt the state hash
// cares about: only its payload hash, never the raw payload.
type Interruption struct {
	PayloadHash string `json:"payloadHash"`
}

// StateSnapshot is the input to Hash/StateHash: the projection getState
// returns, per spec §4.8. RunID/CheckpointID are
// runtime-identity fields included in the hash only when
// IncludeRuntimeIdentity is set by the caller.
type StateSnapshot struct {
	ThreadID  string `json:"threadId"`
	RunID     string `json:"runId,omitempty"`
	StepIndex *int   `json:"stepIndex,omitempty"`

	Interruption *Interruption `json:"interruption,omitempty"`
	CheckpointID string        `json:"checkpointId,omitempty"`

	Frontier FrontierSummary `json:"frontier"`
	Channels ChannelSummary  `json:"channelState"`

	EventSchemaVersion string `json:"eventSchemaVersion"`
	Source             Source `json:"source"`

	IncludeRuntimeIdentity bool `json:"-"`
}

// NewFrontierSummary sorts entries by (nodeID, provenance, fingerprintHash)
// and computes their aggregate hash.
func NewFrontierSummary(entries []FrontierEntry) (FrontierSummary, error) {
	sorted := append([]FrontierEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].NodeID != sorted[j].NodeID {
			return sorted[i].NodeID < sorted[j].NodeID
		}
		if sorted[i].Provenance != sorted[j].Provenance {
			return sorted[i].Provenance < sorted[j].Provenance
		}
		return sorted[i].FingerprintHash < sorted[j].FingerprintHash
	})
	payload, err := json.Marshal(sorted)
	if err != nil {
		return FrontierSummary{}, err
	}
	sum := sha256.Sum256(payload)
	return FrontierSummary{
		Count:   len(sorted),
		Hash:    "sha256:" + hex.EncodeToString(sum[:]),
		Entries: sorted,
	}, nil
}

// NewChannelSummary sorts entries by channelID and computes their
// aggregate hash.
func NewChannelSummary(entries []ChannelEntry) (ChannelSummary, error) {
	sorted := append([]ChannelEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ChannelID < sorted[j].ChannelID })
	payload, err := json.Marshal(sorted)
	if err != nil {
		return ChannelSummary{}, err
	}
	sum := sha256.Sum256(payload)
	return ChannelSummary{Hash: "sha256:" + hex.EncodeToString(sum[:]), Entries: sorted}, nil
}

// stateHashView is the exact field set spec §4.6 hashes over: identity
// fields are zeroed unless the caller opted into IncludeRuntimeIdentity.
type stateHashView struct {
	ThreadID     string `json:"threadId"`
	RunID        string `json:"runId,omitempty"`
	CheckpointID string `json:"checkpointId,omitempty"`
	StepIndex    *int   `json:"stepIndex,omitempty"`

	PayloadHash string `json:"interruptionPayloadHash,omitempty"`

	FrontierCount   int             `json:"frontierCount"`
	FrontierHash    string          `json:"frontierHash"`
	FrontierEntries []FrontierEntry `json:"frontierEntries"`

	ChannelHash    string         `json:"channelHash"`
	ChannelEntries []ChannelEntry `json:"channelEntries"`

	EventSchemaVersion string `json:"eventSchemaVersion"`
	Source             string `json:"source"`
}

// StateHash computes the deterministic state hash of a snapshot per
// spec §4.6: threadID, stepIndex, interruption.payloadHash?,
// frontier.{count,hash,entries}, channelState.{hash,entries},
// eventSchemaVersion, source. runID/checkpointID are folded
// in only when snap.IncludeRuntimeIdentity is true.
func StateHash(snap StateSnapshot) (string, error) {
	view := stateHashView{
		ThreadID:           snap.ThreadID,
		StepIndex:          snap.StepIndex,
		FrontierCount:      snap.Frontier.Count,
		FrontierHash:       snap.Frontier.Hash,
		FrontierEntries:    snap.Frontier.Entries,
		ChannelHash:        snap.Channels.Hash,
		ChannelEntries:     snap.Channels.Entries,
		EventSchemaVersion: snap.EventSchemaVersion,
		Source:             string(snap.Source),
	}
	if snap.Interruption != nil {
		view.PayloadHash = snap.Interruption.PayloadHash
	}
	if snap.IncludeRuntimeIdentity {
		view.RunID = snap.RunID
		view.CheckpointID = snap.CheckpointID
	}

	payload, err := json.Marshal(view)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
