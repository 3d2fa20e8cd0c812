package agent

import (
	"context"
	"testing"

	"github.com/hollow-sw/hsw/channel"
	"github.com/hollow-sw/hsw/clock"
	"github.com/hollow-sw/hsw/emit"
	"github.com/hollow-sw/hsw/graph"
	"github.com/hollow-sw/hsw/model"
)

func TestResolveRetryPolicyPassesThroughExponentialShape(t *testing.T) {
	bus := emit.NewBufferedEmitter()
	policy := RetryPolicy{InitialNS: int64(1e9), Factor: 2.0, MaxAttempts: 4, MaxNS: int64(60e9)}

	got := resolveRetryPolicy(policy, bus, "run-1", NodeModel, 0)
	if got != policy {
		t.Fatalf("got = %+v, want unchanged %+v", got, policy)
	}
	if len(bus.GetHistory("run-1")) != 0 {
		t.Fatalf("expected no warning for a representable policy")
	}
}

func TestResolveRetryPolicySubstitutesLossyFallbackForUnrepresentableFactor(t *testing.T) {
	bus := emit.NewBufferedEmitter()
	policy := RetryPolicy{Factor: 0, MaxAttempts: 5}

	got := resolveRetryPolicy(policy, bus, "run-1", NodeToolExecute, 2)
	want := LossyBackoffFallback(5)
	if got != want {
		t.Fatalf("got = %+v, want %+v", got, want)
	}

	history := bus.GetHistory("run-1")
	if len(history) != 1 {
		t.Fatalf("events = %d, want 1", len(history))
	}
	ev := history[0]
	if ev.Kind != emit.KindCustomDebug || ev.NodeID != NodeToolExecute || ev.StepIndex != 2 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Attributes["warning"] != "retry.policy.lossy" {
		t.Fatalf("attributes = %+v", ev.Attributes)
	}
}

func TestResolveRetryPolicyLeavesSingleAttemptFactorAlone(t *testing.T) {
	// MaxAttempts <= 1 never retries, so an uncomputable Factor is moot:
	// backoffDelay is never called.
	bus := emit.NewBufferedEmitter()
	policy := RetryPolicy{Factor: 0, MaxAttempts: 1}

	got := resolveRetryPolicy(policy, bus, "run-1", NodeModel, 0)
	if got != policy {
		t.Fatalf("got = %+v, want unchanged %+v", got, policy)
	}
	if len(bus.GetHistory("run-1")) != 0 {
		t.Fatalf("expected no warning when retries are disabled")
	}
}

func TestModelNodeEmitsLossyRetryWarningForUnrepresentablePolicy(t *testing.T) {
	store := newStoreWithMessages(t, channel.Message{ID: "msg:user", Role: "user", Content: "hi"})
	client := &model.MockClient{Responses: []model.Response{{Text: "hello"}}}
	bus := emit.NewBufferedEmitter()
	node := &ModelNode{Client: client, Clock: clock.New(), RetryPolicy: RetryPolicy{Factor: 0, MaxAttempts: 3}}

	in := graph.NodeInput{
		Store:   store,
		Run:     graph.RunInfo{RunID: "run-1", TaskID: "task-1", StepIndex: 0},
		Emitter: bus,
	}
	if _, err := node.Run(context.Background(), in); err != nil {
		t.Fatalf("run: %v", err)
	}

	found := bus.GetHistoryWithFilter("run-1", emit.HistoryFilter{Kind: emit.KindCustomDebug, NodeID: NodeModel})
	if len(found) != 1 {
		t.Fatalf("expected one lossy-retry warning for model node, got %d", len(found))
	}
}
