package agent

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/hollow-sw/hsw/clock"
	"github.com/hollow-sw/hsw/emit"
)

// RetryPolicy is the per-tool retry configuration toolExecute applies
// around a single call, adapted from graph/policy.go's RetryPolicy into
// the nanosecond-duration, externally-normalized shape spec §4.7.2
// describes. Unlike graph.RetryPolicy (node-level, jitter-based,
// time.Duration-typed), this is invocation-level and clock-driven so
// backoff sleeps go through the same clock.Clock every other
// time-dependent component uses.
type RetryPolicy struct {
	InitialNS   int64
	Factor      float64
	MaxAttempts int
	MaxNS       int64
}

// NormalizeRetrySeconds converts an externally supplied seconds value
// (as a domain config might express backoff) into nanoseconds per spec
// §4.7.2: negative or NaN collapses to 0; positive infinity saturates
// to math.MaxInt64; any other finite value casts, clamped at MaxInt64.
func NormalizeRetrySeconds(seconds float64) int64 {
	if math.IsNaN(seconds) || seconds < 0 {
		return 0
	}
	if math.IsInf(seconds, 1) {
		return math.MaxInt64
	}
	ns := seconds * float64(time.Second)
	if ns >= float64(math.MaxInt64) {
		return math.MaxInt64
	}
	if ns < 0 {
		return 0
	}
	return int64(ns)
}

// LossyBackoffFallback is the fixed schedule a custom backoff variant
// unsupported by this runtime maps to: 1s initial, factor 2.0, the
// caller's maxAttempts, 60s cap.
func LossyBackoffFallback(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		InitialNS:   int64(time.Second),
		Factor:      2.0,
		MaxAttempts: maxAttempts,
		MaxNS:       int64(60 * time.Second),
	}
}

// RetriesExhaustedError is returned by RunWithRetry once every attempt
// has failed.
type RetriesExhaustedError struct {
	Attempts int
	Cause    error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("agent: retries exhausted after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Cause }

func backoffDelay(policy RetryPolicy, attempt int) time.Duration {
	if policy.InitialNS <= 0 {
		return 0
	}
	delay := float64(policy.InitialNS) * math.Pow(policy.Factor, float64(attempt))
	if policy.MaxNS > 0 && delay > float64(policy.MaxNS) {
		delay = float64(policy.MaxNS)
	}
	return time.Duration(delay)
}

// RunWithRetry invokes fn up to policy.MaxAttempts times, sleeping via
// c between attempts using exponential backoff. A MaxAttempts of zero
// or one means a single pass-through attempt with no retries. Returns
// *RetriesExhaustedError wrapping the final error once attempts run
// out.
func RunWithRetry(ctx context.Context, c clock.Clock, policy RetryPolicy, fn func(ctx context.Context) error) error {
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.Sleep(ctx, backoffDelay(policy, attempt-1)); err != nil {
				return err
			}
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
	}
	return &RetriesExhaustedError{Attempts: maxAttempts, Cause: lastErr}
}

// emitLossyRetryWarning publishes the customDebug("retry.policy.lossy")
// event spec §4.7.2 requires when a custom backoff variant falls back
// to LossyBackoffFallback.
func emitLossyRetryWarning(emitter emit.Emitter, runID, nodeID string, stepIndex int) {
	emitter.Emit(emit.Event{
		RunID: runID, StepIndex: stepIndex, NodeID: nodeID,
		Kind:       emit.KindCustomDebug,
		Attributes: map[string]interface{}{"warning": "retry.policy.lossy"},
	})
}

// resolveRetryPolicy substitutes LossyBackoffFallback for a policy whose
// Factor can't drive backoffDelay's exponential formula — a custom
// backoff variant (Factor <= 0 with more than one attempt configured)
// this runtime has no representation for — emitting the
// customDebug("retry.policy.lossy") warning spec §4.7.2 requires.
// Callers that wrap model/tool invocations in RunWithRetry pass the
// policy through this first.
func resolveRetryPolicy(policy RetryPolicy, emitter emit.Emitter, runID, nodeID string, stepIndex int) RetryPolicy {
	if policy.MaxAttempts > 1 && policy.Factor <= 0 {
		emitLossyRetryWarning(emitter, runID, nodeID, stepIndex)
		return LossyBackoffFallback(policy.MaxAttempts)
	}
	return policy
}
