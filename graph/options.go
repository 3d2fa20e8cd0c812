// Package graph compiles a node graph and runs it through a deterministic step scheduler.
package graph

import (
	"time"

	"github.com/hollow-sw/hsw/clock"
)

// CheckpointPolicy controls when a checkpoint is persisted during a run.
// The teacher's engine saved a checkpoint after every step unconditionally;
// here it is an explicit, tunable choice.
type CheckpointPolicy struct {
	kind  checkpointPolicyKind
	every int
}

type checkpointPolicyKind int

const (
	checkpointDisabled checkpointPolicyKind = iota
	checkpointEveryStep
	checkpointEveryN
	checkpointOnInterrupt
)

// CheckpointDisabled persists no per-step checkpoint. An interrupt is
// still checkpointed when the Engine has a checkpoint store.
func CheckpointDisabled() CheckpointPolicy { return CheckpointPolicy{kind: checkpointDisabled} }

// CheckpointEveryStep persists a checkpoint after every completed step.
func CheckpointEveryStep() CheckpointPolicy { return CheckpointPolicy{kind: checkpointEveryStep} }

// CheckpointEveryN persists a checkpoint every n completed steps.
func CheckpointEveryN(n int) CheckpointPolicy {
	if n < 1 {
		n = 1
	}
	return CheckpointPolicy{kind: checkpointEveryN, every: n}
}

// CheckpointOnInterrupt persists a checkpoint only immediately before an
// interrupt is raised.
func CheckpointOnInterrupt() CheckpointPolicy { return CheckpointPolicy{kind: checkpointOnInterrupt} }

// shouldCheckpoint reports whether step stepIndex should be checkpointed
// given this policy, independent of any pending interrupt (interrupts are
// always checkpointed by the engine regardless of policy).
func (p CheckpointPolicy) shouldCheckpoint(stepIndex int) bool {
	switch p.kind {
	case checkpointEveryStep:
		return true
	case checkpointEveryN:
		return stepIndex%p.every == 0
	default:
		return false
	}
}

// RunOptions configures a single Run call: step and concurrency limits,
// timeouts, checkpoint cadence, and the optional metrics/cost collectors.
//
// RunOptions generalizes the teacher's functional-options Engine
// configuration to the channel-based scheduler: MaxConcurrentNodes becomes
// MaxConcurrentTasks (a run now fans out over frontier entries rather than
// typed-state work items), and checkpoint cadence — unconditional in the
// teacher — is an explicit CheckpointPolicy.
type RunOptions struct {
	MaxSteps             int
	MaxConcurrentTasks   int
	QueueDepth           int
	EventBufferCapacity  int
	BackpressureTimeout  time.Duration
	DefaultNodeTimeout   time.Duration
	RunWallClockBudget   time.Duration
	NodeCacheSize        int
	CheckpointPolicy     CheckpointPolicy
	Clock                clock.Clock
	Metrics              *PrometheusMetrics
	CostTracker          *CostTracker

	// NodePolicies overrides per-node timeout/retry behavior, keyed by
	// NodeSpec.ID. A node absent from this map uses DefaultNodeTimeout
	// and no retries.
	NodePolicies map[string]*NodePolicy

	// OutputProjection names the Global channel ids the run's Outcome
	// output should contain. Nil means the full store (every channel);
	// naming a task-local or unknown id fails preflight validation
	// (spec §9 open question).
	OutputProjection []string
}

// Option configures a RunOptions value.
type Option func(*RunOptions)

// DefaultRunOptions returns the baseline configuration applied before any
// Option is considered: sequential-friendly concurrency, a generous queue,
// and per-step checkpointing.
func DefaultRunOptions() RunOptions {
	return RunOptions{
		MaxSteps:            0,
		MaxConcurrentTasks:  8,
		QueueDepth:          1024,
		EventBufferCapacity: 1024,
		BackpressureTimeout: 30 * time.Second,
		DefaultNodeTimeout:  30 * time.Second,
		RunWallClockBudget:  10 * time.Minute,
		NodeCacheSize:       256,
		CheckpointPolicy:    CheckpointEveryStep(),
		Clock:               clock.New(),
	}
}

// WithMaxSteps limits execution to prevent infinite loops. Zero means no
// limit. When exceeded, the run's Outcome has Kind OutcomeOutOfSteps.
func WithMaxSteps(n int) Option {
	return func(o *RunOptions) { o.MaxSteps = n }
}

// WithMaxConcurrentTasks bounds how many frontier entries execute at once.
func WithMaxConcurrentTasks(n int) Option {
	return func(o *RunOptions) { o.MaxConcurrentTasks = n }
}

// WithQueueDepth caps how many entries one step may admit. A step whose
// ready set is larger ends the run as OutcomeCancelled with
// ErrBackpressureTimeout. Zero means no cap.
func WithQueueDepth(n int) Option {
	return func(o *RunOptions) { o.QueueDepth = n }
}

// WithEventBufferCapacity sets the emit.Bus buffer capacity.
func WithEventBufferCapacity(n int) Option {
	return func(o *RunOptions) { o.EventBufferCapacity = n }
}

// WithBackpressureTimeout bounds how long publishing a step's stepStarted
// event may wait for room on the event bus. Past it the run ends as
// OutcomeCancelled with ErrBackpressureTimeout. Zero means no bound.
func WithBackpressureTimeout(d time.Duration) Option {
	return func(o *RunOptions) { o.BackpressureTimeout = d }
}

// WithDefaultNodeTimeout sets the timeout applied to nodes without a
// NodePolicy override.
func WithDefaultNodeTimeout(d time.Duration) Option {
	return func(o *RunOptions) { o.DefaultNodeTimeout = d }
}

// WithRunWallClockBudget caps total wall-clock time for a single Run.
func WithRunWallClockBudget(d time.Duration) Option {
	return func(o *RunOptions) { o.RunWallClockBudget = d }
}

// WithNodeCacheSize sets the capacity of the per-run node output cache.
// Zero disables caching.
func WithNodeCacheSize(n int) Option {
	return func(o *RunOptions) { o.NodeCacheSize = n }
}

// WithCheckpointPolicy sets when checkpoints are persisted during a run.
func WithCheckpointPolicy(p CheckpointPolicy) Option {
	return func(o *RunOptions) { o.CheckpointPolicy = p }
}

// WithClock overrides the time source, primarily for deterministic tests
// via clock.Simulated.
func WithClock(c clock.Clock) Option {
	return func(o *RunOptions) { o.Clock = c }
}

// WithMetrics attaches a Prometheus metrics collector.
func WithMetrics(m *PrometheusMetrics) Option {
	return func(o *RunOptions) { o.Metrics = m }
}

// WithCostTracker attaches an LLM cost tracker.
func WithCostTracker(t *CostTracker) Option {
	return func(o *RunOptions) { o.CostTracker = t }
}

// WithNodePolicy overrides the timeout/retry policy for a single node id.
func WithNodePolicy(nodeID string, p *NodePolicy) Option {
	return func(o *RunOptions) {
		if o.NodePolicies == nil {
			o.NodePolicies = make(map[string]*NodePolicy)
		}
		o.NodePolicies[nodeID] = p
	}
}

// WithOutputProjection restricts a run's Outcome output to the named
// Global channels instead of the full store.
func WithOutputProjection(channelIDs ...string) Option {
	return func(o *RunOptions) { o.OutputProjection = channelIDs }
}

// Apply folds opts onto DefaultRunOptions and returns the result.
func Apply(opts ...Option) RunOptions {
	o := DefaultRunOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
