package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hollow-sw/hsw/channel"
	"github.com/hollow-sw/hsw/checkpoint"
	"github.com/hollow-sw/hsw/clock"
	"github.com/hollow-sw/hsw/emit"
)

// OutcomeKind names the terminal state a run handle resolves to.
type OutcomeKind int

const (
	OutcomeFinished OutcomeKind = iota
	OutcomeInterrupted
	OutcomeCancelled
	OutcomeOutOfSteps
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeFinished:
		return "finished"
	case OutcomeInterrupted:
		return "interrupted"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeOutOfSteps:
		return "outOfSteps"
	default:
		return "unknown"
	}
}

// Output is a run's projected result: either the full store or the
// channels named by RunOptions.OutputProjection, keyed by channel id.
type Output struct {
	Channels map[string]json.RawMessage
}

// Outcome is the terminal result of a Run, matching spec §6's run
// handle outcome variants.
type Outcome struct {
	Kind         OutcomeKind
	Output       Output
	CheckpointID string
	Interrupt    *InterruptRequest
	InterruptID  string
	Step         int
	Err          error
}

// RunHandle is the caller's view of an in-flight or completed run:
// an id pair, a cancellation method, and a blocking Outcome accessor.
// The event stream spec §6 attaches to a handle is obtained from
// whichever emit.Emitter the caller wired into the Engine's Bus (an
// emit.BufferedEmitter's GetHistory(RunID) is the typical choice).
type RunHandle struct {
	RunID     string
	AttemptID string

	cancel  context.CancelFunc
	done    chan struct{}
	outcome Outcome
}

// Cancel requests cooperative cancellation of the run.
func (h *RunHandle) Cancel() { h.cancel() }

// Outcome blocks until the run reaches a terminal state and returns it.
func (h *RunHandle) Outcome() Outcome {
	<-h.done
	return h.outcome
}

// Engine drives a CompiledGraph's step scheduler against one channel
// store per Run call. Every dependency is explicit; Engine holds no
// global or singleton state (spec §9).
type Engine struct {
	graph       *CompiledGraph
	schema      *channel.Schema
	checkpoints checkpoint.Store // nil means Unavailable tier
	emitter     emit.Emitter
}

// NewEngine builds an Engine for graph over schema, publishing events to
// emitter. Each run wraps emitter in its own emit.Bus, so every run gets
// a fresh monotonic event-index sequence starting at 0.
func NewEngine(g *CompiledGraph, schema *channel.Schema, checkpoints checkpoint.Store, emitter emit.Emitter) *Engine {
	return &Engine{graph: g, schema: schema, checkpoints: checkpoints, emitter: emitter}
}

// validateOptions applies preflight checks that must never mutate the
// store (spec §7): output projection names only known, Global channels.
func (e *Engine) validateOptions(opts RunOptions) error {
	for _, id := range opts.OutputProjection {
		d, ok := e.schema.Descriptor(id)
		if !ok {
			return &InvalidRunOptionsError{Reason: fmt.Sprintf("output projection names unknown channel %q", id)}
		}
		if d.Scope == channel.TaskLocal {
			return &InvalidRunOptionsError{Reason: fmt.Sprintf("output projection names task-local channel %q", id)}
		}
	}
	if opts.MaxConcurrentTasks < 1 {
		return &InvalidRunOptionsError{Reason: "maxConcurrentTasks must be >= 1"}
	}
	return nil
}

func (e *Engine) projectOutput(store *channel.Store, opts RunOptions) Output {
	ids := opts.OutputProjection
	if ids == nil {
		ids = e.schema.ChannelIDs()
	}
	out := make(map[string]json.RawMessage, len(ids))
	for _, id := range ids {
		if raw, err := store.GetRaw(id); err == nil {
			out[id] = raw
		}
	}
	return Output{Channels: out}
}

// RunWith starts a fresh run with opts applied over DefaultRunOptions,
// seeding the frontier with the compiled graph's start set, and returns
// immediately with a handle whose Outcome() blocks for the terminal
// result.
func (e *Engine) RunWith(ctx context.Context, threadID string, store *channel.Store, opts ...Option) *RunHandle {
	resolved := Apply(opts...)
	return e.run(ctx, threadID, store, resolved, nil, "")
}

// resumeFrontier, when non-nil, seeds the step loop instead of the
// graph's start set (used by Resume).
func (e *Engine) run(ctx context.Context, threadID string, store *channel.Store, opts RunOptions, resumeFrontier []FrontierEntry, resumePayload string) *RunHandle {
	runCtx, cancel := context.WithCancel(ctx)
	if opts.RunWallClockBudget > 0 {
		origCancel := cancel
		budgetCtx, budgetCancel := context.WithTimeout(runCtx, opts.RunWallClockBudget)
		runCtx = budgetCtx
		cancel = func() { budgetCancel(); origCancel() }
	}
	handle := &RunHandle{
		RunID:     uuid.NewString(),
		AttemptID: uuid.NewString(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	if err := e.validateOptions(opts); err != nil {
		handle.outcome = Outcome{Kind: OutcomeCancelled, Err: err}
		close(handle.done)
		cancel()
		return handle
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	bus := emit.NewBus(e.emitter, opts.EventBufferCapacity)

	go func() {
		defer cancel()
		defer func() { _ = bus.Close(context.Background()) }()
		outcome := e.driveSteps(runCtx, handle.RunID, threadID, store, opts, resumeFrontier, resumePayload, bus)
		handle.outcome = outcome
		close(handle.done)
	}()

	return handle
}

// taskResult is one concurrently-executed node's outcome within a step.
type taskResult struct {
	entry  FrontierEntry
	out    NodeOutput
	err    error
	cached bool
}

// driveSteps runs the step algorithm (spec §4.3) to completion: frontier
// evolution, parallel node fan-out bounded by MaxConcurrentTasks, router
// dispatch, deferred-node carryover, node-level caching, checkpointing,
// and interrupt/cancellation handling.
func (e *Engine) driveSteps(
	ctx context.Context,
	runID, threadID string,
	store *channel.Store,
	opts RunOptions,
	seedFrontier []FrontierEntry,
	resumePayload string,
	bus *emit.Bus,
) Outcome {
	var cache *nodeCache
	if opts.NodeCacheSize > 0 {
		cache = newNodeCache(opts.NodeCacheSize)
	}

	frontier := seedFrontier
	if frontier == nil {
		frontier = make([]FrontierEntry, 0, len(e.graph.startSet))
		for _, id := range e.graph.StartSet() {
			frontier = append(frontier, FrontierEntry{NodeID: id, Provenance: "start"})
		}
	}

	var interruptPending atomic.Bool
	var deferredCarry []FrontierEntry

	// A node named in the resume target set sees resumePayload exactly
	// once, on the step it is rehydrated into.
	pendingResumeTargets := make(map[string]string)
	if resumePayload != "" {
		for _, entry := range frontier {
			pendingResumeTargets[entry.NodeID] = resumePayload
		}
	}

	var lastCheckpointID string

	for step := 0; ; step++ {
		if opts.MaxSteps > 0 && step >= opts.MaxSteps {
			return Outcome{Kind: OutcomeOutOfSteps, Step: step, Output: e.projectOutput(store, opts), CheckpointID: lastCheckpointID}
		}

		select {
		case <-ctx.Done():
			return e.resolveCancellation(ctx, store, opts, step, lastCheckpointID, bus)
		default:
		}

		ready, deferredThisStep := partitionDeferred(e.graph, frontier)
		ready = append(ready, deferredCarry...)
		deferredCarry = deferredThisStep
		sortFrontierEntriesAsc(ready)

		if opts.QueueDepth > 0 && len(ready) > opts.QueueDepth {
			if opts.Metrics != nil {
				opts.Metrics.IncrementBackpressure(runID, "queue_full")
			}
			return Outcome{Kind: OutcomeCancelled, Step: step, Err: ErrBackpressureTimeout, Output: e.projectOutput(store, opts), CheckpointID: lastCheckpointID}
		}

		admitted, err := admitFrontier(ctx, opts, ready)
		if err != nil {
			if opts.Metrics != nil {
				opts.Metrics.IncrementBackpressure(runID, "queue_full")
			}
			return Outcome{Kind: OutcomeCancelled, Step: step, Err: ErrBackpressureTimeout, Output: e.projectOutput(store, opts), CheckpointID: lastCheckpointID}
		}
		ready = admitted

		if err := e.publishAdmission(ctx, bus, opts, runID, emit.Event{RunID: runID, StepIndex: step, TaskOrdinal: -1, Kind: emit.KindStepStarted,
			Attributes: map[string]interface{}{"stepIndex": step, "frontierCount": len(ready)}}); err != nil {
			return Outcome{Kind: OutcomeCancelled, Step: step, Err: err, Output: e.projectOutput(store, opts), CheckpointID: lastCheckpointID}
		}

		if len(ready) == 0 && len(deferredCarry) == 0 {
			_ = bus.Publish(ctx, emit.Event{RunID: runID, StepIndex: step, TaskOrdinal: -1, Kind: emit.KindRunFinished})
			return Outcome{Kind: OutcomeFinished, Step: step, Output: e.projectOutput(store, opts), CheckpointID: lastCheckpointID}
		}
		if len(ready) == 0 {
			// Only deferred carryover pending: a no-op step that exists
			// solely to let those nodes become ready next step. The
			// frontier is cleared so they are not deferred a second time.
			_ = bus.Publish(ctx, emit.Event{RunID: runID, StepIndex: step, TaskOrdinal: -1, Kind: emit.KindStepFinished,
				Attributes: map[string]interface{}{"stepIndex": step, "nextFrontierCount": len(deferredCarry)}})
			frontier = nil
			continue
		}

		results, interrupted := e.runStepTasks(ctx, runID, step, store, opts, cache, ready, pendingResumeTargets, bus)
		pendingResumeTargets = nil

		if interrupted != nil {
			interruptPending.Store(true)
			interruptID := uuid.NewString()
			_ = bus.Publish(ctx, emit.Event{RunID: runID, StepIndex: step, TaskOrdinal: -1, Kind: emit.KindRunInterrupted,
				Attributes: map[string]interface{}{"reason": interrupted.Interrupt.Reason}})

			var cpID string
			if e.checkpoints != nil {
				cp, err := e.buildCheckpoint(runID, threadID, step, store, frontier, &checkpoint.Interruption{
					ID: interruptID, Reason: interrupted.Interrupt.Reason, Payload: interrupted.Interrupt.Payload,
				})
				if err == nil {
					if saveErr := e.checkpoints.Save(ctx, cp); saveErr == nil {
						cpID = fmt.Sprintf("%s/%d", threadID, step)
						_ = bus.Publish(ctx, emit.Event{RunID: runID, StepIndex: step, TaskOrdinal: -1, Kind: emit.KindCheckpointSaved,
							Attributes: map[string]interface{}{}})
					}
				}
			}
			return Outcome{Kind: OutcomeInterrupted, Step: step, Interrupt: interrupted.Interrupt, InterruptID: interruptID, CheckpointID: cpID}
		}

		if err := e.commitResults(store, results, opts, runID); err != nil {
			return Outcome{Kind: OutcomeFinished, Step: step, Err: err, Output: e.projectOutput(store, opts)}
		}

		for _, r := range results {
			_ = bus.Publish(ctx, emit.Event{RunID: runID, StepIndex: step, TaskOrdinal: -1, Kind: emit.KindWriteApplied,
				Attributes: map[string]interface{}{"channelID": r.entry.NodeID}})
		}

		next, err := e.resolveNextFrontier(store, results)
		if err != nil {
			return Outcome{Kind: OutcomeFinished, Step: step, Err: err, Output: e.projectOutput(store, opts)}
		}
		frontier = next

		store.ResetEphemeral()

		if opts.CheckpointPolicy.shouldCheckpoint(step) && e.checkpoints != nil {
			cp, err := e.buildCheckpoint(runID, threadID, step, store, frontier, nil)
			if err == nil {
				if saveErr := e.checkpoints.Save(ctx, cp); saveErr == nil {
					lastCheckpointID = fmt.Sprintf("%s/%d", threadID, step)
					_ = bus.Publish(ctx, emit.Event{RunID: runID, StepIndex: step, TaskOrdinal: -1, Kind: emit.KindCheckpointSaved})
				}
			}
		}

		_ = bus.Publish(ctx, emit.Event{RunID: runID, StepIndex: step, TaskOrdinal: -1, Kind: emit.KindStepFinished,
			Attributes: map[string]interface{}{"stepIndex": step, "nextFrontierCount": len(frontier) + len(deferredCarry)}})
	}
}

// interruptedStep bundles the interrupting task's request alongside the
// entry that raised it.
type interruptedStep struct {
	Interrupt *InterruptRequest
}

// runStepTasks invokes every ready entry's node concurrently, bounded by
// opts.MaxConcurrentTasks. If any handler requests an interrupt, the
// remaining handlers' writes are discarded per spec §4.3 step 3; the
// function still waits for in-flight handlers to return before
// reporting the interrupt, since cancellation here is advisory only.
func (e *Engine) runStepTasks(
	ctx context.Context,
	runID string,
	step int,
	store *channel.Store,
	opts RunOptions,
	cache *nodeCache,
	ready []FrontierEntry,
	resumeTargets map[string]string,
	bus *emit.Bus,
) ([]taskResult, *interruptedStep) {
	stepCtx, cancelStep := context.WithCancel(ctx)
	defer cancelStep()

	sem := make(chan struct{}, opts.MaxConcurrentTasks)
	results := make([]taskResult, len(ready))
	var wg sync.WaitGroup
	var interruptOnce sync.Once
	var interrupted *interruptedStep
	var inflight atomic.Int32

	if opts.Metrics != nil {
		opts.Metrics.UpdateQueueDepth(len(ready))
	}

	for i, entry := range ready {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, entry FrontierEntry) {
			defer wg.Done()
			defer func() { <-sem }()

			spec, ok := e.graph.NodesByID(entry.NodeID)
			if !ok {
				results[i] = taskResult{entry: entry, err: fmt.Errorf("graph: frontier names unknown node %s", entry.NodeID)}
				return
			}

			var resumeBytes []byte
			if payload, ok := resumeTargets[entry.NodeID]; ok {
				resumeBytes = []byte(payload)
			}

			taskID := computeTaskID(runID, step, entry.NodeID, i)
			in := NodeInput{
				Store: store,
				Run: RunInfo{
					RunID:         runID,
					TaskID:        taskID,
					StepIndex:     step,
					NodeID:        entry.NodeID,
					ResumePayload: resumeBytes,
				},
				Emitter:     scopedEmitter{bus: bus, ctx: stepCtx, runID: runID, stepIndex: step, taskOrdinal: i, nodeID: entry.NodeID},
				Metrics:     opts.Metrics,
				CostTracker: opts.CostTracker,
			}

			inflight.Add(1)
			if opts.Metrics != nil {
				opts.Metrics.UpdateInflightNodes(int(inflight.Load()))
			}
			defer func() {
				inflight.Add(-1)
				if opts.Metrics != nil {
					opts.Metrics.UpdateInflightNodes(int(inflight.Load()))
				}
			}()

			_ = bus.Publish(stepCtx, emit.Event{RunID: runID, StepIndex: step, TaskOrdinal: i, NodeID: entry.NodeID, Kind: emit.KindTaskStarted,
				Attributes: map[string]interface{}{"nodeID": entry.NodeID}})

			if spec.Cache != nil && cache != nil {
				fp, fpErr := fingerprint(e.graph.GraphVersion(), entry.NodeID, spec.Cache, store)
				if fpErr == nil {
					if out, hit := cache.get(fp); hit {
						_ = bus.Publish(stepCtx, emit.Event{RunID: runID, StepIndex: step, TaskOrdinal: i, NodeID: entry.NodeID, Kind: emit.KindCacheHit,
							Attributes: map[string]interface{}{"nodeID": entry.NodeID}})
						results[i] = taskResult{entry: entry, out: out, cached: true}
						return
					}
					_ = bus.Publish(stepCtx, emit.Event{RunID: runID, StepIndex: step, TaskOrdinal: i, NodeID: entry.NodeID, Kind: emit.KindCacheMiss,
						Attributes: map[string]interface{}{"nodeID": entry.NodeID}})
					start := time.Now()
					out, err := runNodeWithPolicy(stepCtx, spec.Node, entry.NodeID, in, opts.NodePolicies[entry.NodeID], opts.DefaultNodeTimeout, opts.Metrics, runID)
					recordStepLatency(opts.Metrics, runID, entry.NodeID, time.Since(start), err)
					if err == nil {
						cache.put(fp, out)
					}
					finishTask(bus, stepCtx, runID, step, i, entry.NodeID, err)
					if err != nil {
						results[i] = taskResult{entry: entry, err: err}
						return
					}
					if out.Interrupt != nil {
						interruptOnce.Do(func() {
							interrupted = &interruptedStep{Interrupt: out.Interrupt}
							cancelStep()
						})
					}
					results[i] = taskResult{entry: entry, out: out}
					return
				}
			}

			start := time.Now()
			out, err := runNodeWithPolicy(stepCtx, spec.Node, entry.NodeID, in, opts.NodePolicies[entry.NodeID], opts.DefaultNodeTimeout, opts.Metrics, runID)
			recordStepLatency(opts.Metrics, runID, entry.NodeID, time.Since(start), err)
			finishTask(bus, stepCtx, runID, step, i, entry.NodeID, err)
			if err != nil {
				results[i] = taskResult{entry: entry, err: err}
				return
			}
			if out.Interrupt != nil {
				interruptOnce.Do(func() {
					interrupted = &interruptedStep{Interrupt: out.Interrupt}
					cancelStep()
				})
			}
			results[i] = taskResult{entry: entry, out: out}
		}(i, entry)
	}

	wg.Wait()

	if interrupted != nil {
		return nil, interrupted
	}
	return results, nil
}

// publishAdmission publishes ev, bounding how long it will wait for room
// on the bus by opts.BackpressureTimeout when set. A step-started event
// that cannot be admitted in time surfaces as ErrBackpressureTimeout
// rather than blocking the run indefinitely.
func (e *Engine) publishAdmission(ctx context.Context, bus *emit.Bus, opts RunOptions, runID string, ev emit.Event) error {
	if opts.BackpressureTimeout <= 0 {
		return bus.Publish(ctx, ev)
	}
	admitCtx, cancel := context.WithTimeout(ctx, opts.BackpressureTimeout)
	defer cancel()
	if err := bus.Publish(admitCtx, ev); err != nil {
		if opts.Metrics != nil {
			opts.Metrics.IncrementBackpressure(runID, "timeout")
		}
		return ErrBackpressureTimeout
	}
	return nil
}

// recordStepLatency is a no-op when m is nil, sparing every call site an
// explicit nil check.
func recordStepLatency(m *PrometheusMetrics, runID, nodeID string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.RecordStepLatency(runID, nodeID, d, status)
}

func finishTask(bus *emit.Bus, ctx context.Context, runID string, step, taskOrdinal int, nodeID string, err error) {
	if err != nil {
		_ = bus.Publish(ctx, emit.Event{RunID: runID, StepIndex: step, TaskOrdinal: taskOrdinal, NodeID: nodeID, Kind: emit.KindTaskFailed,
			Attributes: map[string]interface{}{"nodeID": nodeID, "errorDescription": err.Error()}})
	}
}

// scopedEmitter adapts a run/step/task-scoped emit.Bus.Publish call to
// the plain emit.Emitter interface NodeInput exposes to handlers.
type scopedEmitter struct {
	bus         *emit.Bus
	ctx         context.Context
	runID       string
	stepIndex   int
	taskOrdinal int
	nodeID      string
}

func (s scopedEmitter) Emit(ev emit.Event) {
	ev.RunID = s.runID
	ev.StepIndex = s.stepIndex
	ev.TaskOrdinal = s.taskOrdinal
	ev.NodeID = s.nodeID
	_ = s.bus.Publish(s.ctx, ev)
}

func (s scopedEmitter) EmitBatch(ctx context.Context, events []emit.Event) error {
	for _, ev := range events {
		s.Emit(ev)
	}
	return nil
}

func (s scopedEmitter) Flush(context.Context) error { return nil }

// commitResults merges every result's writes, cached hits included, into
// one transactional Apply. A task error fails the step before anything
// is applied, and conflicting single-policy writes fail it through
// Store.Apply's own ErrUpdatePolicyViolation (spec §4.3 step 4).
func (e *Engine) commitResults(store *channel.Store, results []taskResult, opts RunOptions, runID string) error {
	var writes []channel.Write
	for _, r := range results {
		if r.err != nil {
			return r.err
		}
		writes = append(writes, r.out.Writes...)
	}
	if len(writes) == 0 {
		return nil
	}
	if err := store.Apply(writes, false); err != nil {
		if opts.Metrics != nil {
			var reducerErr *channel.ReducerError
			if errors.As(err, &reducerErr) {
				opts.Metrics.IncrementMergeConflicts(runID, "reducer_error")
			}
		}
		return err
	}
	return nil
}

// resolveNextFrontier unions each completed node's static edges unless
// overridden by its own NodeOutput.Directive or by a router attached to
// its id (spec §4.3 step 5). Directive End always wins; Directive Nodes
// is an explicit override; otherwise an attached router's non-nil
// result wins, falling through to static edges.
func (e *Engine) resolveNextFrontier(store *channel.Store, results []taskResult) ([]FrontierEntry, error) {
	seen := make(map[string]bool)
	var next []FrontierEntry

	add := func(nodeID, provenance string) {
		key := nodeID + "|" + provenance
		if seen[key] {
			return
		}
		seen[key] = true
		next = append(next, FrontierEntry{NodeID: nodeID, Provenance: provenance})
	}

	for _, r := range results {
		switch r.out.Directive {
		case End:
			continue
		case Nodes:
			for _, id := range r.out.NextNodes {
				add(id, r.entry.NodeID)
			}
		default: // UseGraphEdges
			if router, ok := e.graph.RouterFor(r.entry.NodeID); ok {
				targets, err := router(store)
				if err != nil {
					return nil, err
				}
				if targets != nil {
					for _, id := range targets {
						add(id, r.entry.NodeID)
					}
					continue
				}
			}
			for _, edge := range e.graph.StaticEdgesFrom(r.entry.NodeID) {
				add(edge.To, r.entry.NodeID)
			}
		}
	}
	return next, nil
}

// partitionDeferred splits frontier into entries ready to execute this
// step and entries whose node is declared deferred and have not yet
// been carried over once (spec §4.3: a deferred node is skipped the
// step it becomes ready, then executes at the start of the next step).
func partitionDeferred(g *CompiledGraph, frontier []FrontierEntry) (ready, deferred []FrontierEntry) {
	for _, entry := range frontier {
		spec, ok := g.NodesByID(entry.NodeID)
		if ok && spec.Deferred {
			deferred = append(deferred, entry)
			continue
		}
		ready = append(ready, entry)
	}
	return ready, deferred
}

// admitFrontier passes ready (already sorted) through a Frontier of
// bounded capacity, the same admission queue the teacher's scheduler
// used ahead of dispatch. Since the rejection check above already
// guarantees len(ready) fits within opts.QueueDepth, Enqueue never
// blocks here; this still exercises the queue's bookkeeping and
// reports peak depth through opts.Metrics when configured.
func admitFrontier(ctx context.Context, opts RunOptions, ready []FrontierEntry) ([]FrontierEntry, error) {
	capacity := opts.QueueDepth
	if capacity <= 0 || capacity < len(ready) {
		capacity = len(ready)
	}
	fr := NewFrontier(capacity)
	for _, entry := range ready {
		if err := fr.Enqueue(ctx, entry); err != nil {
			return nil, err
		}
	}
	admitted := make([]FrontierEntry, 0, len(ready))
	for range ready {
		entry, ok := fr.Dequeue(ctx)
		if !ok {
			return nil, ctx.Err()
		}
		admitted = append(admitted, entry)
	}
	if opts.Metrics != nil {
		opts.Metrics.UpdateQueueDepth(int(fr.Metrics().PeakQueueDepth))
	}
	return admitted, nil
}

func sortFrontierEntriesAsc(entries []FrontierEntry) {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].NodeID < entries[j].NodeID })
}

// computeTaskID hashes (runID, stepIndex, nodeID, taskOrdinal) into a
// deterministic child identifier seed (spec §3's TaskID).
func computeTaskID(runID string, step int, nodeID string, ordinal int) string {
	return fmt.Sprintf("task:%s:%d:%s:%d", runID, step, nodeID, ordinal)
}

// buildCheckpoint snapshots every Checkpointed channel plus the
// frontier and optional interruption into a checkpoint.Checkpoint ready
// for Save.
func (e *Engine) buildCheckpoint(runID, threadID string, step int, store *channel.Store, frontier []FrontierEntry, interruption *checkpoint.Interruption) (checkpoint.Checkpoint, error) {
	ids := e.schema.CheckpointedChannelIDs()
	payloads := store.Snapshot(ids)

	cpFrontier := make([]checkpoint.FrontierEntry, len(frontier))
	for i, f := range frontier {
		cpFrontier[i] = checkpoint.FrontierEntry{NodeID: f.NodeID, Provenance: f.Provenance, Fingerprint: f.Fingerprint}
	}

	key, err := checkpoint.ComputeIdempotencyKey(runID, step, cpFrontier, payloads)
	if err != nil {
		return checkpoint.Checkpoint{}, err
	}

	return checkpoint.Checkpoint{
		SchemaVersion:           e.schema.Version(),
		GraphVersion:            e.graph.GraphVersion(),
		CheckpointFormatVersion: checkpoint.HCP2,
		ThreadID:                threadID,
		RunID:                   runID,
		StepID:                  step,
		StorePayloads:           payloads,
		Frontier:                cpFrontier,
		Interruption:            interruption,
		IdempotencyKey:          key,
		Timestamp:               time.Now(),
	}, nil
}

// resolveCancellation implements the cancel-checkpoint race (spec
// §4.3's Cancellation): the latest event in the stream decides whether
// the outcome reports cancelledAfterCheckpointSaved or
// cancelledWithoutCheckpoint. Engine approximates "latest event" with
// whether any checkpoint has been saved earlier in this run.
func (e *Engine) resolveCancellation(ctx context.Context, store *channel.Store, opts RunOptions, step int, lastCheckpointID string, bus *emit.Bus) Outcome {
	_ = bus.Publish(context.Background(), emit.Event{StepIndex: step, TaskOrdinal: -1, Kind: emit.KindRunCancelled,
		Attributes: map[string]interface{}{"resolution": cancellationResolution(lastCheckpointID)}})
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) && opts.RunWallClockBudget > 0 {
		err = ErrRunWallClockExceeded
	}
	return Outcome{Kind: OutcomeCancelled, Step: step, Output: e.projectOutput(store, opts), CheckpointID: lastCheckpointID, Err: err}
}

func cancellationResolution(checkpointID string) string {
	if checkpointID != "" {
		return "cancelledAfterCheckpointSaved"
	}
	return "cancelledWithoutCheckpoint"
}
