package graph

import (
	"context"
	"fmt"

	"github.com/hollow-sw/hsw/channel"
	"github.com/hollow-sw/hsw/checkpoint"
	"github.com/hollow-sw/hsw/emit"
)

// ResumeWith loads threadID's latest checkpoint, validates it against
// this engine's graph/schema, and continues the step scheduler from the
// interrupted frontier (spec §4.4). resumeInterruptID must match the
// checkpoint's recorded interruption id, or resume fails with
// ErrResumeInterruptMismatch; resumePayload is delivered exactly once,
// to the nodes the interrupt suspended.
func (e *Engine) ResumeWith(ctx context.Context, threadID string, resumeInterruptID string, resumePayload []byte, opts ...Option) (*RunHandle, error) {
	if e.checkpoints == nil {
		return nil, checkpoint.ErrNoCheckpointToResume
	}

	cp, err := e.checkpoints.LoadLatest(ctx, threadID)
	if err != nil {
		return nil, err
	}

	if err := checkpoint.ValidateForResume(cp, e.schema.Version(), e.graph.GraphVersion()); err != nil {
		return nil, err
	}

	if cp.Interruption == nil {
		return nil, ErrNoInterruptToResume
	}
	if cp.Interruption.ID != resumeInterruptID {
		return nil, checkpoint.ErrResumeInterruptMismatch
	}

	store := channel.NewStore(e.schema)
	store.Restore(cp.StorePayloads)

	frontier := make([]FrontierEntry, len(cp.Frontier))
	for i, f := range cp.Frontier {
		frontier[i] = FrontierEntry{NodeID: f.NodeID, Provenance: f.Provenance, Fingerprint: f.Fingerprint}
	}

	resolved := Apply(opts...)

	runCtx, cancel := context.WithCancel(ctx)
	if resolved.RunWallClockBudget > 0 {
		origCancel := cancel
		budgetCtx, budgetCancel := context.WithTimeout(runCtx, resolved.RunWallClockBudget)
		runCtx = budgetCtx
		cancel = func() { budgetCancel(); origCancel() }
	}
	handle := &RunHandle{
		RunID:     cp.RunID,
		AttemptID: fmt.Sprintf("%s-resume", cp.RunID),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	if err := e.validateOptions(resolved); err != nil {
		handle.outcome = Outcome{Kind: OutcomeCancelled, Err: err}
		close(handle.done)
		cancel()
		return handle, nil
	}

	bus := emit.NewBus(e.emitter, resolved.EventBufferCapacity)

	go func() {
		defer cancel()
		defer func() { _ = bus.Close(context.Background()) }()
		_ = bus.Publish(runCtx, emit.Event{RunID: cp.RunID, StepIndex: cp.StepID, TaskOrdinal: -1, Kind: emit.KindCheckpointLoaded,
			Attributes: map[string]interface{}{"threadID": threadID, "stepID": cp.StepID}})
		_ = bus.Publish(runCtx, emit.Event{RunID: cp.RunID, StepIndex: cp.StepID, TaskOrdinal: -1, Kind: emit.KindRunResumed,
			Attributes: map[string]interface{}{"interruptID": resumeInterruptID}})

		outcome := e.driveSteps(runCtx, cp.RunID, threadID, store, resolved, frontier, string(resumePayload), bus)
		handle.outcome = outcome
		close(handle.done)
	}()

	return handle, nil
}

// ApplyExternalWrites merges writes into store from outside the step
// scheduler (e.g. a human approving a tool call). It is rejected while
// pendingInterruptID is non-empty and does not match resolvedInterruptID,
// matching spec §4.1's external-write admission rule that an unresolved
// interrupt blocks further external writes to the run's channels.
func ApplyExternalWrites(store *channel.Store, writes []channel.Write, pendingInterruptID, resolvedInterruptID string) error {
	if pendingInterruptID != "" && pendingInterruptID != resolvedInterruptID {
		return fmt.Errorf("%w: %s", checkpoint.ErrInterruptPending, pendingInterruptID)
	}
	return store.Apply(writes, true)
}
