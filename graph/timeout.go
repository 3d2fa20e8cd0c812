package graph

import (
	"context"
	"fmt"
	"time"
)

// nodeTimeout determines the timeout duration for a node: a per-node policy
// override takes precedence over the engine-wide default, which takes
// precedence over no timeout at all.
func nodeTimeout(policy *NodePolicy, defaultTimeout time.Duration) time.Duration {
	if policy != nil && policy.Timeout > 0 {
		return policy.Timeout
	}
	return defaultTimeout
}

// runNodeWithTimeout executes a node under an optional deadline, translating
// a deadline-exceeded context into an EngineError the caller can distinguish
// from an ordinary node failure.
func runNodeWithTimeout(ctx context.Context, node Node, nodeID string, in NodeInput, policy *NodePolicy, defaultTimeout time.Duration) (NodeOutput, error) {
	timeout := nodeTimeout(policy, defaultTimeout)
	if timeout == 0 {
		return node.Run(ctx, in)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := node.Run(timeoutCtx, in)
	if err != nil && timeoutCtx.Err() == context.DeadlineExceeded {
		return out, &EngineError{
			NodeID:  nodeID,
			Message: fmt.Sprintf("exceeded timeout of %v", timeout),
			Code:    "NODE_TIMEOUT",
			Err:     err,
		}
	}
	return out, err
}

// runNodeWithPolicy wraps runNodeWithTimeout with policy.RetryPolicy's
// exponential backoff: a node whose error is deemed Retryable is re-run
// (same NodeInput, same store snapshot) up to MaxAttempts times, recording
// each retry against metrics so a flaky node shows up in retries_total.
//
// A policy with no RetryPolicy, an invalid one (per Validate), or a
// BaseDelay of zero runs the node exactly once — computeBackoff's jitter
// divides by BaseDelay, so a zero value is treated as "retries
// unconfigured" rather than risking a panic.
func runNodeWithPolicy(ctx context.Context, node Node, nodeID string, in NodeInput, policy *NodePolicy, defaultTimeout time.Duration, metrics *PrometheusMetrics, runID string) (NodeOutput, error) {
	if policy == nil || policy.RetryPolicy == nil {
		return runNodeWithTimeout(ctx, node, nodeID, in, policy, defaultTimeout)
	}

	rp := policy.RetryPolicy
	if err := rp.Validate(); err != nil || rp.BaseDelay <= 0 {
		return runNodeWithTimeout(ctx, node, nodeID, in, policy, defaultTimeout)
	}

	for attempt := 0; ; attempt++ {
		out, err := runNodeWithTimeout(ctx, node, nodeID, in, policy, defaultTimeout)
		if err == nil {
			return out, nil
		}
		if attempt+1 >= rp.MaxAttempts || rp.Retryable == nil || !rp.Retryable(err) {
			return out, err
		}

		reason := "error"
		if engErr, ok := err.(*EngineError); ok && engErr.Code == "NODE_TIMEOUT" {
			reason = "timeout"
		}
		if metrics != nil {
			metrics.IncrementRetries(runID, nodeID, reason)
		}

		delay := computeBackoff(attempt, rp.BaseDelay, rp.MaxDelay, nil)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return out, ctx.Err()
		case <-timer.C:
		}
	}
}
