package graph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/hollow-sw/hsw/channel"
	"github.com/hollow-sw/hsw/checkpoint"
	"github.com/hollow-sw/hsw/emit"
	"github.com/hollow-sw/hsw/transcript"
)

// payloadHash hashes a raw channel/interruption payload for inclusion in
// a StateSnapshot, so GetState never leaks raw bytes into the hash.
func payloadHash(b []byte) string {
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func channelEntriesFromStore(store *channel.Store, ids []string) ([]transcript.ChannelEntry, error) {
	entries := make([]transcript.ChannelEntry, 0, len(ids))
	for _, id := range ids {
		raw, err := store.GetRaw(id)
		if err != nil {
			return nil, err
		}
		entries = append(entries, transcript.ChannelEntry{ChannelID: id, PayloadHash: payloadHash(raw)})
	}
	return entries, nil
}

func frontierEntriesFromGraph(frontier []FrontierEntry) []transcript.FrontierEntry {
	entries := make([]transcript.FrontierEntry, len(frontier))
	for i, f := range frontier {
		fp := f.Fingerprint
		var hash string
		if fp != "" {
			hash = payloadHash([]byte(fp))
		}
		entries[i] = transcript.FrontierEntry{NodeID: f.NodeID, Provenance: f.Provenance, FingerprintHash: hash}
	}
	return entries
}

// GetState projects a live in-memory store and frontier into the
// canonical state snapshot spec §4.8 describes, sourced from memory
// alone. includeRuntimeIdentity controls whether runID/checkpointID
// fold into the eventual StateHash.
func GetState(store *channel.Store, stepIndex int, frontier []FrontierEntry, runID string, includeRuntimeIdentity bool) (transcript.StateSnapshot, error) {
	ids := store.Schema().ChannelIDs()
	chEntries, err := channelEntriesFromStore(store, ids)
	if err != nil {
		return transcript.StateSnapshot{}, err
	}
	channels, err := transcript.NewChannelSummary(chEntries)
	if err != nil {
		return transcript.StateSnapshot{}, err
	}
	frontierSummary, err := transcript.NewFrontierSummary(frontierEntriesFromGraph(frontier))
	if err != nil {
		return transcript.StateSnapshot{}, err
	}

	step := stepIndex
	return transcript.StateSnapshot{
		RunID:                  runID,
		StepIndex:              &step,
		Frontier:               frontierSummary,
		Channels:               channels,
		EventSchemaVersion:     emit.EventSchemaVersion,
		Source:                 transcript.SourceMemory,
		IncludeRuntimeIdentity: includeRuntimeIdentity,
	}, nil
}

// GetStateFromCheckpoint projects a thread's latest persisted checkpoint
// into a StateSnapshot, sourced from durable storage alone. Used when no
// live run tracker holds the thread in memory.
func GetStateFromCheckpoint(ctx context.Context, store checkpoint.Store, threadID string, includeRuntimeIdentity bool) (transcript.StateSnapshot, error) {
	cp, err := store.LoadLatest(ctx, threadID)
	if err != nil {
		return transcript.StateSnapshot{}, err
	}

	chEntries := make([]transcript.ChannelEntry, 0, len(cp.StorePayloads))
	for id, raw := range cp.StorePayloads {
		chEntries = append(chEntries, transcript.ChannelEntry{ChannelID: id, PayloadHash: payloadHash(raw)})
	}
	channels, err := transcript.NewChannelSummary(chEntries)
	if err != nil {
		return transcript.StateSnapshot{}, err
	}

	frontierEntries := make([]transcript.FrontierEntry, len(cp.Frontier))
	for i, f := range cp.Frontier {
		var hash string
		if f.Fingerprint != "" {
			hash = payloadHash([]byte(f.Fingerprint))
		}
		frontierEntries[i] = transcript.FrontierEntry{NodeID: f.NodeID, Provenance: f.Provenance, FingerprintHash: hash}
	}
	frontierSummary, err := transcript.NewFrontierSummary(frontierEntries)
	if err != nil {
		return transcript.StateSnapshot{}, err
	}

	snap := transcript.StateSnapshot{
		ThreadID:               threadID,
		RunID:                  cp.RunID,
		StepIndex:              &cp.StepID,
		CheckpointID:           cp.IdempotencyKey,
		Frontier:               frontierSummary,
		Channels:               channels,
		EventSchemaVersion:     emit.EventSchemaVersion,
		Source:                 transcript.SourceCheckpoint,
		IncludeRuntimeIdentity: includeRuntimeIdentity,
	}
	if cp.Interruption != nil {
		snap.Interruption = &transcript.Interruption{PayloadHash: payloadHash(cp.Interruption.Payload)}
	}
	return snap, nil
}

// StateTracker holds the most recent in-memory frontier/step per thread,
// updated by a caller as it observes stepStarted/stepFinished events, so
// GetState can be served without touching the checkpoint store. This is
// the actor-isolated map spec §4.8's "memory" source refers to: each
// thread is only ever written by the single goroutine driving its run.
type StateTracker struct {
	threads map[string]trackedState
}

type trackedState struct {
	store     *channel.Store
	stepIndex int
	frontier  []FrontierEntry
	runID     string
}

// NewStateTracker returns an empty tracker.
func NewStateTracker() *StateTracker {
	return &StateTracker{threads: make(map[string]trackedState)}
}

// Update records the latest observed store/frontier for threadID.
// Callers invoke this after every committed step.
func (t *StateTracker) Update(threadID string, store *channel.Store, stepIndex int, frontier []FrontierEntry, runID string) {
	t.threads[threadID] = trackedState{store: store, stepIndex: stepIndex, frontier: frontier, runID: runID}
}

// Forget drops a thread's tracked state, e.g. once its run has finished
// and checkpointed.
func (t *StateTracker) Forget(threadID string) {
	delete(t.threads, threadID)
}

// GetState returns threadID's snapshot from memory if tracked, falling
// back to checkpoints if cpStore is non-nil; source reflects which
// inputs were actually available.
func (t *StateTracker) GetState(ctx context.Context, threadID string, cpStore checkpoint.Store, includeRuntimeIdentity bool) (transcript.StateSnapshot, error) {
	tracked, haveMemory := t.threads[threadID]

	if haveMemory && cpStore == nil {
		snap, err := GetState(tracked.store, tracked.stepIndex, tracked.frontier, tracked.runID, includeRuntimeIdentity)
		if err != nil {
			return transcript.StateSnapshot{}, err
		}
		snap.ThreadID = threadID
		snap.Source = transcript.SourceTrackerOnly
		return snap, nil
	}

	if haveMemory && cpStore != nil {
		snap, err := GetState(tracked.store, tracked.stepIndex, tracked.frontier, tracked.runID, includeRuntimeIdentity)
		if err != nil {
			return transcript.StateSnapshot{}, err
		}
		snap.ThreadID = threadID
		if cp, err := cpStore.LoadLatest(ctx, threadID); err == nil {
			snap.CheckpointID = cp.IdempotencyKey
			snap.Source = transcript.SourceMemoryAndCheckpoint
		}
		return snap, nil
	}

	if cpStore != nil {
		return GetStateFromCheckpoint(ctx, cpStore, threadID, includeRuntimeIdentity)
	}

	return transcript.StateSnapshot{}, checkpoint.ErrNoCheckpointToResume
}
