package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/hollow-sw/hsw/channel"
	"github.com/hollow-sw/hsw/clock"
	"github.com/hollow-sw/hsw/emit"
	"github.com/hollow-sw/hsw/graph"
	"github.com/hollow-sw/hsw/model"
	"github.com/hollow-sw/hsw/tool"
)

// Tokenizer counts tokens over a message range, satisfied by
// tokenizer.Counter. Declared here rather than imported so preModel can
// be exercised in tests with a trivial stand-in.
type Tokenizer interface {
	CountRange(messages []channel.Message, start, end int) (int, error)
}

// CompactionPolicy configures preModel's compaction pass (spec §4.7).
type CompactionPolicy struct {
	MaxTokens            int
	PreserveLastMessages int
}

// PreModelNode is the deferred compaction pass that runs after tool
// outputs land, generalizing the teacher's pre-invocation hook pattern
// (graph/node.go's NodeFunc wrapping) into a dedicated channel-reading
// node. BuildGraph gives it a single static edge to model.
type PreModelNode struct {
	Tokenizer  Tokenizer
	Compaction *CompactionPolicy
}

// Run implements graph.Node.
func (n *PreModelNode) Run(_ context.Context, in graph.NodeInput) (graph.NodeOutput, error) {
	// Open question (spec §9): the source re-reads pendingToolCalls and
	// finalAnswer here purely to assert they exist under this schema.
	// Preserved as an explicit invariant check rather than guessed at.
	if _, err := channel.Get(in.Store, PendingToolCallsKey); err != nil {
		return graph.NodeOutput{}, err
	}
	if _, err := channel.Get(in.Store, FinalAnswerKey); err != nil {
		return graph.NodeOutput{}, err
	}

	messages, err := channel.Get(in.Store, MessagesKey)
	if err != nil {
		return graph.NodeOutput{}, err
	}

	var writes []channel.Write

	tokenCount, err := channel.Get(in.Store, TokenCountKey)
	if err != nil {
		return graph.NodeOutput{}, err
	}
	if tokenCount == 0 && len(messages) > 0 && n.Tokenizer != nil {
		recomputed, err := n.Tokenizer.CountRange(messages, 0, len(messages))
		if err != nil {
			return graph.NodeOutput{}, fmt.Errorf("agent: preModel token recompute: %w", err)
		}
		w, err := channel.NewWrite(TokenCountKey, float64(recomputed))
		if err != nil {
			return graph.NodeOutput{}, err
		}
		writes = append(writes, w)
		tokenCount = float64(recomputed)
	}

	if n.Compaction != nil && n.Tokenizer != nil && int(tokenCount) > n.Compaction.MaxTokens {
		compacted, err := compactMessages(n.Tokenizer, messages, *n.Compaction)
		if err != nil {
			return graph.NodeOutput{}, fmt.Errorf("agent: preModel compaction: %w", err)
		}
		w, err := channel.NewWrite(LLMInputMessagesKey, compacted)
		if err != nil {
			return graph.NodeOutput{}, err
		}
		writes = append(writes, w)
	}

	return graph.NodeOutput{Writes: writes, Directive: graph.UseGraphEdges}, nil
}

// compactMessages keeps as many of the most recent messages as fit
// within policy.MaxTokens, always keeping at least
// policy.PreserveLastMessages of them, then re-prepending a leading
// system message iff the result with it still fits (spec §8 boundary
// behaviour: PreserveLastMessages=0, MaxTokens=1 keeps at most the most
// recent message that fits, re-adding a leading system message iff it
// still fits).
func compactMessages(tk Tokenizer, messages []channel.Message, policy CompactionPolicy) ([]channel.Message, error) {
	if len(messages) == 0 {
		return messages, nil
	}

	var leadingSystem *channel.Message
	rest := messages
	if messages[0].Role == "system" {
		m := messages[0]
		leadingSystem = &m
		rest = messages[1:]
	}

	preserve := policy.PreserveLastMessages
	if preserve < 0 {
		preserve = 0
	}
	if preserve > len(rest) {
		preserve = len(rest)
	}

	kept := append([]channel.Message(nil), rest[len(rest)-preserve:]...)
	for i := len(rest) - preserve - 1; i >= 0; i-- {
		candidate := append([]channel.Message{rest[i]}, kept...)
		n, err := tk.CountRange(candidate, 0, len(candidate))
		if err != nil {
			return nil, err
		}
		if n > policy.MaxTokens {
			break
		}
		kept = candidate
	}

	if leadingSystem != nil {
		candidate := append([]channel.Message{*leadingSystem}, kept...)
		n, err := tk.CountRange(candidate, 0, len(candidate))
		if err == nil && n <= policy.MaxTokens {
			kept = candidate
		}
	}

	return kept, nil
}

// ModelNode calls the abstract streaming model client and writes its
// response, generalizing the teacher's synchronous ChatModel call site
// into the retry-wrapped, channel-writing node spec §4.7 describes.
type ModelNode struct {
	Client      model.StreamClient
	Tools       *tool.Registry // nil means no tools are exposed to the model
	RetryPolicy RetryPolicy
	Clock       clock.Clock

	// Tokenizer, when set alongside a CostTracker on the run, estimates
	// input/output token counts for RecordLLMCall. Left nil, no cost is
	// attributed for this node's calls.
	Tokenizer Tokenizer
}

// Run implements graph.Node.
func (n *ModelNode) Run(ctx context.Context, in graph.NodeInput) (graph.NodeOutput, error) {
	messages, err := channel.Get(in.Store, LLMInputMessagesKey)
	if err != nil {
		return graph.NodeOutput{}, err
	}
	if len(messages) == 0 {
		messages, err = channel.Get(in.Store, MessagesKey)
		if err != nil {
			return graph.NodeOutput{}, err
		}
	}

	req := model.Request{Messages: toModelMessages(messages)}
	if n.Tools != nil {
		for _, def := range n.Tools.ListTools() {
			req.Tools = append(req.Tools, model.ToolSpec{Name: def.Name, Description: def.Description, Schema: def.Parameters})
		}
	}

	c := n.Clock
	if c == nil {
		c = clock.New()
	}

	policy := resolveRetryPolicy(n.RetryPolicy, in.Emitter, in.Run.RunID, NodeModel, in.Run.StepIndex)

	var final *model.Response
	err = RunWithRetry(ctx, c, policy, func(ctx context.Context) error {
		events, streamErr := n.Client.Stream(ctx, req)
		if streamErr != nil {
			return streamErr
		}
		_, resp, collectErr := model.Collect(ctx, events)
		if collectErr != nil {
			return collectErr
		}
		final = resp
		return nil
	})
	if err != nil {
		return graph.NodeOutput{}, err
	}

	assistantMsg := channel.Message{
		ID:      AssistantOrSystemMessageID(in.Run.TaskID, string(model.RoleAssistant)),
		Role:    string(model.RoleAssistant),
		Content: final.Text,
	}

	var overBudget bool
	if n.Tokenizer != nil && in.CostTracker != nil {
		nodeID := in.Run.NodeID
		if nodeID == "" {
			nodeID = NodeModel
		}
		inputTokens, inErr := n.Tokenizer.CountRange(messages, 0, len(messages))
		outputTokens, outErr := n.Tokenizer.CountRange([]channel.Message{assistantMsg}, 0, 1)
		if inErr == nil && outErr == nil {
			_ = in.CostTracker.RecordLLMCall(final.ModelName, inputTokens, outputTokens, nodeID)
		}
		overBudget = in.Run.ResumePayload == nil && in.CostTracker.OverBudget()
	}

	var writes []channel.Write

	mw, err := channel.NewWrite(MessagesKey, []channel.Message{assistantMsg})
	if err != nil {
		return graph.NodeOutput{}, err
	}
	writes = append(writes, mw)

	pending := make([]PendingToolCall, 0, len(final.ToolCalls))
	for _, tc := range final.ToolCalls {
		pending = append(pending, PendingToolCall{ID: tc.ID, Name: tc.Name, Input: tc.Input})
	}
	pw, err := channel.NewWrite(PendingToolCallsKey, pending)
	if err != nil {
		return graph.NodeOutput{}, err
	}
	writes = append(writes, pw)

	if len(pending) == 0 {
		fw, err := channel.NewWrite(FinalAnswerKey, final.Text)
		if err != nil {
			return graph.NodeOutput{}, err
		}
		writes = append(writes, fw)
	}

	if overBudget {
		payload, err := json.Marshal(CostBudgetExceededPayload{
			BudgetUSD:    in.CostTracker.BudgetUSD,
			TotalCostUSD: in.CostTracker.GetTotalCost(),
		})
		if err != nil {
			return graph.NodeOutput{}, err
		}
		return graph.NodeOutput{Interrupt: &graph.InterruptRequest{Reason: "costBudgetExceeded", Payload: payload}}, nil
	}

	return graph.NodeOutput{Writes: writes, Directive: graph.UseGraphEdges}, nil
}

func toModelMessages(messages []channel.Message) []model.Message {
	out := make([]model.Message, len(messages))
	for i, m := range messages {
		out[i] = model.Message{ID: m.ID, Role: model.Role(m.Role), Content: m.Content}
	}
	return out
}

// ToolsNode is the router node deciding whether pending tool calls need
// human approval before dispatch, per spec §4.7.
type ToolsNode struct {
	Approval ApprovalPolicy
}

// Run implements graph.Node.
func (n *ToolsNode) Run(_ context.Context, in graph.NodeInput) (graph.NodeOutput, error) {
	calls, err := channel.Get(in.Store, PendingToolCallsKey)
	if err != nil {
		return graph.NodeOutput{}, err
	}
	sortCalls(calls)

	needsApproval := false
	for _, c := range calls {
		if n.Approval.RequiresApproval(c.Name) {
			needsApproval = true
			break
		}
	}

	if !needsApproval {
		return graph.NodeOutput{Directive: graph.UseGraphEdges}, nil
	}

	if in.Run.ResumePayload == nil {
		payload, err := json.Marshal(ToolApprovalPayload{Calls: calls})
		if err != nil {
			return graph.NodeOutput{}, err
		}
		return graph.NodeOutput{Interrupt: &graph.InterruptRequest{Reason: "toolApprovalRequired", Payload: payload}}, nil
	}

	var decision ResumeDecision
	if err := json.Unmarshal(in.Run.ResumePayload, &decision); err != nil {
		return graph.NodeOutput{}, fmt.Errorf("agent: invalid resume payload: %w", err)
	}

	if decision.Decision == DecisionRejected || decision.Decision == DecisionCancelled {
		sysMsg := channel.Message{
			ID:      AssistantOrSystemMessageID(in.Run.TaskID, "system"),
			Role:    "system",
			Content: fmt.Sprintf("tool execution %s by reviewer", decision.Decision),
		}
		mw, err := channel.NewWrite(MessagesKey, []channel.Message{sysMsg})
		if err != nil {
			return graph.NodeOutput{}, err
		}
		cw, err := channel.NewWrite(PendingToolCallsKey, []PendingToolCall{})
		if err != nil {
			return graph.NodeOutput{}, err
		}
		return graph.NodeOutput{Writes: []channel.Write{mw, cw}, Directive: graph.End}, nil
	}

	return graph.NodeOutput{Directive: graph.UseGraphEdges}, nil
}

func sortCalls(calls []PendingToolCall) {
	sort.SliceStable(calls, func(i, j int) bool {
		if calls[i].Name != calls[j].Name {
			return calls[i].Name < calls[j].Name
		}
		return calls[i].ID < calls[j].ID
	})
}

// ToolExecuteNode invokes pending tool calls through a registry, under a
// per-tool retry policy and a per-thread circuit breaker (spec §4.7).
type ToolExecuteNode struct {
	Registry      *tool.Registry
	RetryPolicy   RetryPolicy
	RetryPolicies map[string]RetryPolicy // per-tool override, keyed by tool name
	Circuit       CircuitBreakerConfig
	Clock         clock.Clock
}

func (n *ToolExecuteNode) retryPolicyFor(name string) RetryPolicy {
	if p, ok := n.RetryPolicies[name]; ok {
		return p
	}
	return n.RetryPolicy
}

// Run implements graph.Node.
func (n *ToolExecuteNode) Run(ctx context.Context, in graph.NodeInput) (graph.NodeOutput, error) {
	calls, err := channel.Get(in.Store, PendingToolCallsKey)
	if err != nil {
		return graph.NodeOutput{}, err
	}
	sortCalls(calls)

	failureStreak, err := channel.Get(in.Store, ToolFailureStreakKey)
	if err != nil {
		return graph.NodeOutput{}, err
	}
	openedAt, err := channel.Get(in.Store, CircuitOpenedAtStepKey)
	if err != nil {
		return graph.NodeOutput{}, err
	}

	var writes []channel.Write

	if CircuitOpen(n.Circuit, failureStreak, openedAt, in.Run.StepIndex) {
		sysMsg := channel.Message{
			ID:      AssistantOrSystemMessageID(in.Run.TaskID, "system"),
			Role:    "system",
			Content: "tool circuit open; skipping execution",
		}
		mw, err := channel.NewWrite(MessagesKey, []channel.Message{sysMsg})
		if err != nil {
			return graph.NodeOutput{}, err
		}
		cw, err := channel.NewWrite(PendingToolCallsKey, []PendingToolCall{})
		if err != nil {
			return graph.NodeOutput{}, err
		}
		return graph.NodeOutput{Writes: []channel.Write{mw, cw}, Directive: graph.UseGraphEdges}, nil
	}

	c := n.Clock
	if c == nil {
		c = clock.New()
	}

	type outcome struct {
		call PendingToolCall
		res  tool.Result
		err  error
	}
	outcomes := make([]outcome, len(calls))

	newStreak := failureStreak
	for i, call := range calls {
		in.Emitter.Emit(emit.Event{Kind: emit.KindToolInvocationStart, Attributes: map[string]interface{}{"name": call.Name, "toolCallID": call.ID}})

		policy := resolveRetryPolicy(n.retryPolicyFor(call.Name), in.Emitter, in.Run.RunID, NodeToolExecute, in.Run.StepIndex)

		var res tool.Result
		callErr := RunWithRetry(ctx, c, policy, func(ctx context.Context) error {
			r, err := n.Registry.Invoke(ctx, tool.Call{ID: call.ID, Name: call.Name, Input: call.Input})
			if err != nil {
				return err
			}
			res = r
			return nil
		})

		in.Emitter.Emit(emit.Event{Kind: emit.KindToolInvocationEnd, Attributes: map[string]interface{}{"name": call.Name, "toolCallID": call.ID, "success": callErr == nil}})

		outcomes[i] = outcome{call: call, res: res, err: callErr}
		if callErr == nil {
			newStreak = 0
		} else {
			newStreak++
		}
	}

	toolMessages := make([]channel.Message, 0, len(outcomes))
	for _, o := range outcomes {
		content := o.res.Content
		if o.err != nil {
			content = fmt.Sprintf("error: %v", o.err)
		}
		toolMessages = append(toolMessages, channel.Message{
			ID:      ToolResponseMessageID(o.call.ID, false),
			Role:    "tool",
			Content: content,
		})
	}
	if len(toolMessages) > 0 {
		mw, err := channel.NewWrite(MessagesKey, toolMessages)
		if err != nil {
			return graph.NodeOutput{}, err
		}
		writes = append(writes, mw)
	}

	cw, err := channel.NewWrite(PendingToolCallsKey, []PendingToolCall{})
	if err != nil {
		return graph.NodeOutput{}, err
	}
	writes = append(writes, cw)

	if delta := newStreak - failureStreak; delta != 0 {
		fw, err := channel.NewWrite(ToolFailureStreakKey, delta)
		if err != nil {
			return graph.NodeOutput{}, err
		}
		writes = append(writes, fw)
	}

	switch {
	case ShouldOpen(n.Circuit, newStreak, openedAt):
		ow, err := channel.NewWrite(CircuitOpenedAtStepKey, in.Run.StepIndex)
		if err != nil {
			return graph.NodeOutput{}, err
		}
		writes = append(writes, ow)
	case newStreak == 0 && openedAt >= 0:
		ow, err := channel.NewWrite(CircuitOpenedAtStepKey, -1)
		if err != nil {
			return graph.NodeOutput{}, err
		}
		writes = append(writes, ow)
	}

	return graph.NodeOutput{Writes: writes, Directive: graph.UseGraphEdges}, nil
}

// PostModelNode is a guardrail placeholder: a pass-through with the same
// input view every other node receives (spec §4.7).
type PostModelNode struct{}

// Run implements graph.Node.
func (PostModelNode) Run(_ context.Context, _ graph.NodeInput) (graph.NodeOutput, error) {
	return graph.NodeOutput{Directive: graph.UseGraphEdges}, nil
}
