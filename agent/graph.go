package agent

import (
	"github.com/hollow-sw/hsw/channel"
	"github.com/hollow-sw/hsw/checkpoint"
	"github.com/hollow-sw/hsw/emit"
	"github.com/hollow-sw/hsw/graph"
)

// Node ids the standard agent loop wires under (spec §4.7).
const (
	NodeModel       = "model"
	NodeTools       = "tools"
	NodeToolExecute = "toolExecute"
	NodePreModel    = "preModel"
	NodePostModel   = "postModel"
)

// BuildConfig assembles the standard five-node agent loop: model
// proposes tool calls into pendingToolCalls, tools gates on approval,
// toolExecute invokes and loops back through preModel's compaction pass,
// terminating once model writes finalAnswer with no pending calls.
type BuildConfig struct {
	Model       *ModelNode
	Tools       *ToolsNode
	ToolExecute *ToolExecuteNode

	// PreModel is optional; when nil, toolExecute routes directly back
	// to model and no compaction pass runs.
	PreModel *PreModelNode

	// PostModel is optional; when set, it sits between a model turn with
	// no pending tool calls and run termination.
	PostModel graph.Node

	// ModelCache, when non-nil, names the channels the scheduler
	// fingerprints to serve cached model outputs (spec §4.3's node-level
	// cache), typically {"llmInputMessages", "messages"}.
	ModelCache *graph.CachePolicy
}

// BuildGraph compiles the standard agent loop's CompiledGraph from cfg.
// Start set is {preModel} when a compaction pass is configured (it sees
// an empty pendingToolCalls/messages state harmlessly on turn one, since
// model falls back from llmInputMessages to messages), otherwise {model}.
func BuildGraph(cfg BuildConfig) (*graph.CompiledGraph, error) {
	nodes := []graph.NodeSpec{
		{ID: NodeModel, Node: cfg.Model, Cache: cfg.ModelCache},
		{ID: NodeTools, Node: cfg.Tools},
		{ID: NodeToolExecute, Node: cfg.ToolExecute},
	}
	if cfg.PreModel != nil {
		nodes = append(nodes, graph.NodeSpec{ID: NodePreModel, Node: cfg.PreModel, Deferred: true})
	}
	if cfg.PostModel != nil {
		nodes = append(nodes, graph.NodeSpec{ID: NodePostModel, Node: cfg.PostModel})
	}

	edges := []graph.Edge{
		{From: NodeTools, To: NodeToolExecute},
	}
	if cfg.PreModel != nil {
		edges = append(edges, graph.Edge{From: NodeToolExecute, To: NodePreModel})
		edges = append(edges, graph.Edge{From: NodePreModel, To: NodeModel})
	} else {
		edges = append(edges, graph.Edge{From: NodeToolExecute, To: NodeModel})
	}

	routers := map[string]graph.Router{
		NodeModel: func(store *channel.Store) ([]string, error) {
			pending, err := channel.Get(store, PendingToolCallsKey)
			if err != nil {
				return nil, err
			}
			if len(pending) == 0 {
				if cfg.PostModel != nil {
					return []string{NodePostModel}, nil
				}
				return []string{}, nil
			}
			return []string{NodeTools}, nil
		},
	}
	if cfg.PostModel != nil {
		routers[NodePostModel] = func(*channel.Store) ([]string, error) { return []string{}, nil }
	}

	start := []string{NodeModel}
	if cfg.PreModel != nil {
		start = []string{NodePreModel}
	}

	return graph.Compile(nodes, edges, routers, start)
}

// NewEngine compiles cfg's graph against the standard Schema and wraps
// both in a *graph.Engine, the one-call convenience the five-node agent
// loop is meant to be consumed through. checkpoints may be nil (the
// Unavailable tier).
func NewEngine(cfg BuildConfig, checkpoints checkpoint.Store, emitter emit.Emitter) (*graph.Engine, error) {
	g, err := BuildGraph(cfg)
	if err != nil {
		return nil, err
	}
	return graph.NewEngine(g, Schema(), checkpoints, emitter), nil
}
