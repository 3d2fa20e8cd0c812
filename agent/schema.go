// Package agent implements the standard five-node agent loop
// (preModel/model/tools/toolExecute/postModel) as graph.Node
// implementations over a fixed channel schema, generalizing the
// teacher's typed-state ReAct loop into the channel/reducer model.
package agent

import (
	"encoding/json"

	"github.com/hollow-sw/hsw/channel"
)

// PendingToolCall is the schema-level mirror of tool.Call: the agent
// package cannot import tool's Call type directly into a channel
// descriptor without coupling the schema to a specific registry
// implementation, so it is redeclared field-for-field.
type PendingToolCall struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input,omitempty"`
}

// ToolApprovalPayload is the interrupt payload the tools node raises
// when a pending call requires approval.
type ToolApprovalPayload struct {
	Calls []PendingToolCall `json:"calls"`
}

// ResumeDecision is the expected shape of a resume payload answering a
// toolApprovalRequired interrupt.
type ResumeDecision struct {
	Decision string `json:"decision"` // "approved" | "rejected" | "cancelled"
}

const (
	DecisionApproved  = "approved"
	DecisionRejected  = "rejected"
	DecisionCancelled = "cancelled"
)

// CostBudgetExceededPayload is the interrupt payload the model node
// raises once a run's graph.CostTracker reports spend at or above its
// configured budget. Resuming a run interrupted this way proceeds
// straight back into the model node; raising the tracker's budget (or
// clearing it) before resuming is the caller's responsibility.
type CostBudgetExceededPayload struct {
	BudgetUSD    float64 `json:"budgetUSD"`
	TotalCostUSD float64 `json:"totalCostUSD"`
}

// Standard channel ids.
const (
	ChannelMessages             = "messages"
	ChannelLLMInputMessages     = "llmInputMessages"
	ChannelPendingToolCalls     = "pendingToolCalls"
	ChannelFinalAnswer          = "finalAnswer"
	ChannelTokenCount           = "tokenCount"
	ChannelToolFailureStreak    = "toolFailureStreak"
	ChannelCircuitOpenedAtStep  = "circuitOpenedAtStep"
)

// Typed keys over the standard schema.
var (
	MessagesKey            = channel.NewKey[[]channel.Message](ChannelMessages)
	LLMInputMessagesKey    = channel.NewKey[[]channel.Message](ChannelLLMInputMessages)
	PendingToolCallsKey    = channel.NewKey[[]PendingToolCall](ChannelPendingToolCalls)
	FinalAnswerKey         = channel.NewKey[string](ChannelFinalAnswer)
	TokenCountKey          = channel.NewKey[float64](ChannelTokenCount)
	ToolFailureStreakKey   = channel.NewKey[float64](ChannelToolFailureStreak)
	CircuitOpenedAtStepKey = channel.NewKey[int](ChannelCircuitOpenedAtStep)
)

func emptyMessages() json.RawMessage  { return json.RawMessage("[]") }
func emptyCalls() json.RawMessage     { return json.RawMessage("[]") }
func zeroFloat() json.RawMessage      { return json.RawMessage("0") }
func emptyString() json.RawMessage    { return json.RawMessage(`""`) }
func negativeOneInt() json.RawMessage { return json.RawMessage("-1") }

// Schema builds the channel.Schema the standard agent loop reads and
// writes. Callers embedding additional domain channels should declare
// them in a separate channel.NewSchema call alongside these
// descriptors rather than mutating this one.
func Schema() *channel.Schema {
	return channel.NewSchema(
		channel.Descriptor{
			ID: ChannelMessages, TypeID: MessagesKey.TypeID(),
			Scope: channel.Global, Policy: channel.Multi,
			Reducer: channel.Messages(), Persistence: channel.Checkpointed,
			Initial: emptyMessages,
		},
		channel.Descriptor{
			ID: ChannelLLMInputMessages, TypeID: LLMInputMessagesKey.TypeID(),
			Scope: channel.Global, Policy: channel.Single,
			Reducer: channel.LastWriteWins(), Persistence: channel.Ephemeral,
			Initial: emptyMessages,
		},
		channel.Descriptor{
			ID: ChannelPendingToolCalls, TypeID: PendingToolCallsKey.TypeID(),
			Scope: channel.Global, Policy: channel.Single,
			Reducer: channel.LastWriteWins(), Persistence: channel.Checkpointed,
			Initial: emptyCalls,
		},
		channel.Descriptor{
			ID: ChannelFinalAnswer, TypeID: FinalAnswerKey.TypeID(),
			Scope: channel.Global, Policy: channel.Single,
			Reducer: channel.LastWriteWins(), Persistence: channel.Checkpointed,
			Initial: emptyString,
		},
		channel.Descriptor{
			ID: ChannelTokenCount, TypeID: TokenCountKey.TypeID(),
			Scope: channel.Global, Policy: channel.Multi,
			Reducer: channel.Sum(), Persistence: channel.Checkpointed,
			Initial: zeroFloat,
		},
		channel.Descriptor{
			ID: ChannelToolFailureStreak, TypeID: ToolFailureStreakKey.TypeID(),
			Scope: channel.Global, Policy: channel.Multi,
			Reducer: channel.Sum(), Persistence: channel.Checkpointed,
			Initial: zeroFloat,
		},
		channel.Descriptor{
			ID: ChannelCircuitOpenedAtStep, TypeID: CircuitOpenedAtStepKey.TypeID(),
			Scope: channel.Global, Policy: channel.Single,
			Reducer: channel.LastWriteWins(), Persistence: channel.Checkpointed,
			Initial: negativeOneInt,
		},
	)
}
