// Package graph provides the compiled-graph execution engine: a pure
// compile step over a node/edge/router description, and a step
// scheduler that drives those nodes against a channel.Store one step at
// a time.
package graph

import (
	"context"

	"github.com/hollow-sw/hsw/channel"
	"github.com/hollow-sw/hsw/emit"
)

// RunInfo describes the run a node invocation belongs to.
type RunInfo struct {
	RunID     string
	TaskID    string
	StepIndex int
	// NodeID is the compiled graph node id this invocation is running as
	// (NodeSpec.ID), distinct from TaskID's per-step-entry identifier.
	// Nodes that attribute cost or other per-node bookkeeping key off
	// this rather than TaskID, which changes every step.
	NodeID        string
	ResumePayload []byte // non-nil only for nodes named in a resume's target set
}

// NodeInput is everything a node handler is given to read. Store is the
// run's live *channel.Store, not a copy.
type NodeInput struct {
	Store   *channel.Store
	Run     RunInfo
	Emitter emit.Emitter

	// Metrics and CostTracker mirror the Run's RunOptions fields of the
	// same name, nil unless the caller configured one. Nodes that make
	// billable calls (a model request, typically) use CostTracker to
	// attribute token spend; Metrics is for the rarer node that wants to
	// record something the scheduler itself cannot observe.
	Metrics     *PrometheusMetrics
	CostTracker *CostTracker
}

// Directive selects how the scheduler resolves the next frontier after a
// node completes.
type Directive int

const (
	// UseGraphEdges resolves the next frontier from the compiled graph's
	// static edges/routers attached to this node (the default).
	UseGraphEdges Directive = iota
	// Nodes overrides the next frontier with an explicit node-id set.
	Nodes
	// End terminates the run once this node's step commits.
	End
)

// InterruptRequest suspends the run. Carried on NodeOutput; the
// scheduler discards co-step writes and bubbles it to the run outcome.
type InterruptRequest struct {
	Reason  string
	Payload []byte
}

// NodeOutput is what a node handler returns.
type NodeOutput struct {
	Writes    []channel.Write
	Directive Directive
	NextNodes []string // used only when Directive == Nodes

	Interrupt *InterruptRequest
}

// Node is a single unit of graph execution. Implementations must be
// side-effect free with respect to the store: all state changes flow
// through the returned Writes.
type Node interface {
	Run(ctx context.Context, in NodeInput) (NodeOutput, error)
}

// NodeFunc adapts a plain function to the Node interface.
type NodeFunc func(ctx context.Context, in NodeInput) (NodeOutput, error)

func (f NodeFunc) Run(ctx context.Context, in NodeInput) (NodeOutput, error) {
	return f(ctx, in)
}

// CachePolicy names the channels whose values form a node's input
// fingerprint for the scheduler's node-level LRU cache. A nil policy
// disables caching for that node.
type CachePolicy struct {
	ChannelIDs []string
}

// NodeSpec pairs a Node with its id, whether it is deferred, and an
// optional cache policy. This is what Compile accepts.
type NodeSpec struct {
	ID       string
	Node     Node
	Deferred bool
	Cache    *CachePolicy
}
