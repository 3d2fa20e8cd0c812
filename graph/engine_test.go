package graph

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/hollow-sw/hsw/channel"
	"github.com/hollow-sw/hsw/checkpoint/memstore"
	"github.com/hollow-sw/hsw/emit"
)

var counterKey = channel.NewKey[float64]("counter")

func zeroCounter() json.RawMessage { return json.RawMessage("0") }

func counterSchema() *channel.Schema {
	return channel.NewSchema(channel.Descriptor{
		ID: "counter", TypeID: counterKey.TypeID(),
		Scope: channel.Global, Policy: channel.Multi,
		Reducer: channel.Sum(), Persistence: channel.Checkpointed,
		Initial: zeroCounter,
	})
}

// incrementNode writes 1 to counterKey and ends the run once it has run
// target times.
type incrementNode struct{ target int }

func (n *incrementNode) Run(_ context.Context, in NodeInput) (NodeOutput, error) {
	w, err := channel.NewWrite(counterKey, 1)
	if err != nil {
		return NodeOutput{}, err
	}
	count, err := channel.Get(in.Store, counterKey)
	if err != nil {
		return NodeOutput{}, err
	}
	if int(count)+1 >= n.target {
		return NodeOutput{Writes: []channel.Write{w}, Directive: End}, nil
	}
	return NodeOutput{Writes: []channel.Write{w}, Directive: UseGraphEdges}, nil
}

func buildLoopGraph(t *testing.T, target int) *CompiledGraph {
	t.Helper()
	nodes := []NodeSpec{{ID: "inc", Node: &incrementNode{target: target}}}
	edges := []Edge{{From: "inc", To: "inc"}}
	g, err := Compile(nodes, edges, nil, []string{"inc"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return g
}

func TestEngineRunToCompletion(t *testing.T) {
	schema := counterSchema()
	g := buildLoopGraph(t, 3)
	eng := NewEngine(g, schema, nil, emit.NewNullEmitter())

	store := channel.NewStore(schema)
	handle := eng.RunWith(context.Background(), "thread-1", store, WithMaxSteps(10))
	outcome := handle.Outcome()

	if outcome.Kind != OutcomeFinished {
		t.Fatalf("outcome = %v, err = %v", outcome.Kind, outcome.Err)
	}
	count, err := channel.Get(store, counterKey)
	if err != nil {
		t.Fatalf("get counter: %v", err)
	}
	if int(count) != 3 {
		t.Fatalf("counter = %v, want 3", count)
	}
}

func TestEngineMaxStepsExceeded(t *testing.T) {
	schema := counterSchema()
	g := buildLoopGraph(t, 1000)
	eng := NewEngine(g, schema, nil, emit.NewNullEmitter())

	store := channel.NewStore(schema)
	handle := eng.RunWith(context.Background(), "thread-1", store, WithMaxSteps(5))
	outcome := handle.Outcome()

	if outcome.Kind != OutcomeOutOfSteps {
		t.Fatalf("outcome = %v, want OutcomeOutOfSteps", outcome.Kind)
	}
}

// interruptingNode always raises an interrupt on its first invocation,
// then (once resumed) writes a final value and ends.
type interruptingNode struct{}

func (interruptingNode) Run(_ context.Context, in NodeInput) (NodeOutput, error) {
	if in.Run.ResumePayload == nil {
		return NodeOutput{Interrupt: &InterruptRequest{Reason: "needsApproval"}}, nil
	}
	w, err := channel.NewWrite(counterKey, 1)
	if err != nil {
		return NodeOutput{}, err
	}
	return NodeOutput{Writes: []channel.Write{w}, Directive: End}, nil
}

func TestEngineInterruptAndResume(t *testing.T) {
	schema := counterSchema()
	nodes := []NodeSpec{{ID: "gate", Node: interruptingNode{}}}
	g, err := Compile(nodes, nil, nil, []string{"gate"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	checkpoints := memstore.New()
	eng := NewEngine(g, schema, checkpoints, emit.NewNullEmitter())

	store := channel.NewStore(schema)
	handle := eng.RunWith(context.Background(), "thread-1", store, WithMaxSteps(10))
	outcome := handle.Outcome()

	if outcome.Kind != OutcomeInterrupted {
		t.Fatalf("outcome = %v, want OutcomeInterrupted, err=%v", outcome.Kind, outcome.Err)
	}
	if outcome.Interrupt == nil || outcome.Interrupt.Reason != "needsApproval" {
		t.Fatalf("unexpected interrupt: %+v", outcome.Interrupt)
	}

	resumeHandle, err := eng.ResumeWith(context.Background(), "thread-1", outcome.InterruptID, []byte("go"), WithMaxSteps(10))
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	resumed := resumeHandle.Outcome()
	if resumed.Kind != OutcomeFinished {
		t.Fatalf("resumed outcome = %v, err = %v", resumed.Kind, resumed.Err)
	}
}

// noopEndNode ends the run without writing anything.
type noopEndNode struct{}

func (noopEndNode) Run(_ context.Context, _ NodeInput) (NodeOutput, error) {
	return NodeOutput{Directive: End}, nil
}

func TestEngineQueueDepthRejectsOversizedStep(t *testing.T) {
	schema := counterSchema()
	nodes := []NodeSpec{
		{ID: "a", Node: noopEndNode{}},
		{ID: "b", Node: noopEndNode{}},
		{ID: "c", Node: noopEndNode{}},
	}
	g, err := Compile(nodes, nil, nil, []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	eng := NewEngine(g, schema, nil, emit.NewNullEmitter())

	store := channel.NewStore(schema)
	handle := eng.RunWith(context.Background(), "thread-1", store, WithMaxSteps(10), WithQueueDepth(2))
	outcome := handle.Outcome()

	if outcome.Kind != OutcomeCancelled || !errors.Is(outcome.Err, ErrBackpressureTimeout) {
		t.Fatalf("outcome = %v err = %v, want cancelled/ErrBackpressureTimeout", outcome.Kind, outcome.Err)
	}
}

// slowNode sleeps for delay and always succeeds, ignoring ctx
// cancellation, so a wall-clock budget expiry is observed between
// steps (at the top of driveSteps' loop) rather than surfacing as an
// ordinary node error mid-step.
type slowNode struct{ delay time.Duration }

func (n slowNode) Run(_ context.Context, _ NodeInput) (NodeOutput, error) {
	time.Sleep(n.delay)
	return NodeOutput{Directive: UseGraphEdges}, nil
}

func TestEngineRunWallClockBudgetExceeded(t *testing.T) {
	schema := counterSchema()
	nodes := []NodeSpec{{ID: "slow", Node: slowNode{delay: 50 * time.Millisecond}}}
	edges := []Edge{{From: "slow", To: "slow"}}
	g, err := Compile(nodes, edges, nil, []string{"slow"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	eng := NewEngine(g, schema, nil, emit.NewNullEmitter())

	store := channel.NewStore(schema)
	handle := eng.RunWith(context.Background(), "thread-1", store,
		WithMaxSteps(1000), WithRunWallClockBudget(10*time.Millisecond))
	outcome := handle.Outcome()

	if outcome.Kind != OutcomeCancelled || !errors.Is(outcome.Err, ErrRunWallClockExceeded) {
		t.Fatalf("outcome = %v err = %v, want cancelled/ErrRunWallClockExceeded", outcome.Kind, outcome.Err)
	}
}

// metricsObservingNode records whether it was handed a non-nil Metrics
// and CostTracker, so tests can assert RunOptions propagation through
// NodeInput without depending on Prometheus internals.
type metricsObservingNode struct {
	sawMetrics     *bool
	sawCostTracker *bool
}

func (n metricsObservingNode) Run(_ context.Context, in NodeInput) (NodeOutput, error) {
	*n.sawMetrics = in.Metrics != nil
	*n.sawCostTracker = in.CostTracker != nil
	return NodeOutput{Directive: End}, nil
}

func TestEnginePropagatesMetricsAndCostTrackerToNodeInput(t *testing.T) {
	schema := counterSchema()
	var sawMetrics, sawCostTracker bool
	nodes := []NodeSpec{{ID: "probe", Node: metricsObservingNode{sawMetrics: &sawMetrics, sawCostTracker: &sawCostTracker}}}
	g, err := Compile(nodes, nil, nil, []string{"probe"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	eng := NewEngine(g, schema, nil, emit.NewNullEmitter())

	metrics := NewPrometheusMetrics(nil)
	costs := NewCostTracker("run-x", "USD")

	store := channel.NewStore(schema)
	handle := eng.RunWith(context.Background(), "thread-1", store,
		WithMaxSteps(5), WithMetrics(metrics), WithCostTracker(costs))
	outcome := handle.Outcome()
	if outcome.Kind != OutcomeFinished {
		t.Fatalf("outcome = %v, err = %v", outcome.Kind, outcome.Err)
	}
	if !sawMetrics {
		t.Fatal("node did not observe a non-nil Metrics")
	}
	if !sawCostTracker {
		t.Fatal("node did not observe a non-nil CostTracker")
	}
}

var errFlaky = errors.New("flaky: transient failure")

// flakyNode fails every invocation up to succeedOn (1-based), then succeeds.
type flakyNode struct {
	succeedOn int
	attempts  *int
}

func (n flakyNode) Run(_ context.Context, _ NodeInput) (NodeOutput, error) {
	*n.attempts++
	if *n.attempts < n.succeedOn {
		return NodeOutput{}, errFlaky
	}
	return NodeOutput{Directive: End}, nil
}

func TestEngineRetriesNodeAccordingToPolicy(t *testing.T) {
	schema := counterSchema()
	attempts := 0
	nodes := []NodeSpec{{ID: "flaky", Node: flakyNode{succeedOn: 3, attempts: &attempts}}}
	g, err := Compile(nodes, nil, nil, []string{"flaky"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	eng := NewEngine(g, schema, nil, emit.NewNullEmitter())

	metrics := NewPrometheusMetrics(prometheus.NewRegistry())
	policy := &NodePolicy{
		RetryPolicy: &RetryPolicy{
			MaxAttempts: 5,
			BaseDelay:   time.Millisecond,
			// MaxDelay intentionally zero: exercises computeBackoff's
			// "zero means no cap" handling rather than collapsing every
			// retry's delay to zero.
			Retryable: func(error) bool { return true },
		},
	}

	store := channel.NewStore(schema)
	handle := eng.RunWith(context.Background(), "thread-1", store,
		WithMaxSteps(5), WithMetrics(metrics), WithNodePolicy("flaky", policy))
	outcome := handle.Outcome()

	if outcome.Kind != OutcomeFinished {
		t.Fatalf("outcome = %v, err = %v", outcome.Kind, outcome.Err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
	if got := testutil.ToFloat64(metrics.retries.WithLabelValues(handle.RunID, "flaky", "error")); got != 2 {
		t.Fatalf("retries_total = %v, want 2", got)
	}
}

func TestEngineGivesUpAfterMaxAttempts(t *testing.T) {
	schema := counterSchema()
	attempts := 0
	nodes := []NodeSpec{{ID: "flaky", Node: flakyNode{succeedOn: 10, attempts: &attempts}}}
	g, err := Compile(nodes, nil, nil, []string{"flaky"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	eng := NewEngine(g, schema, nil, emit.NewNullEmitter())

	policy := &NodePolicy{
		RetryPolicy: &RetryPolicy{
			MaxAttempts: 2,
			BaseDelay:   time.Millisecond,
			MaxDelay:    10 * time.Millisecond,
			Retryable:   func(error) bool { return true },
		},
	}

	store := channel.NewStore(schema)
	handle := eng.RunWith(context.Background(), "thread-1", store,
		WithMaxSteps(5), WithNodePolicy("flaky", policy))
	outcome := handle.Outcome()

	if !errors.Is(outcome.Err, errFlaky) {
		t.Fatalf("outcome = %v, err = %v, want errFlaky", outcome.Kind, outcome.Err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
}

func TestEngineDoesNotRetryWithoutRetryablePredicate(t *testing.T) {
	schema := counterSchema()
	attempts := 0
	nodes := []NodeSpec{{ID: "flaky", Node: flakyNode{succeedOn: 3, attempts: &attempts}}}
	g, err := Compile(nodes, nil, nil, []string{"flaky"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	eng := NewEngine(g, schema, nil, emit.NewNullEmitter())

	// No Retryable predicate: per RetryPolicy's doc, every error is
	// treated as non-retryable, so the node runs exactly once.
	policy := &NodePolicy{
		RetryPolicy: &RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Second},
	}

	store := channel.NewStore(schema)
	handle := eng.RunWith(context.Background(), "thread-1", store,
		WithMaxSteps(5), WithNodePolicy("flaky", policy))
	outcome := handle.Outcome()

	if !errors.Is(outcome.Err, errFlaky) {
		t.Fatalf("outcome = %v, err = %v, want errFlaky", outcome.Kind, outcome.Err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
}
