package graph

import (
	"fmt"
	"sync"
	"time"
)

// ModelPricing defines input and output token costs for LLM models.
// Prices are in USD per 1M tokens (per million tokens).
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// defaultModelPricing covers the model names the three adapters this
// runtime ships (model/anthropicmodel, model/openaimodel,
// model/googlemodel) default to, plus the surrounding generation each
// belongs to so an explicit model override still prices sensibly.
// Approximate, USD per 1M tokens as of 2025-01-01; update as providers
// reprice.
var defaultModelPricing = map[string]ModelPricing{
	"gpt-4o":                 {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-2024-08-06":      {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":            {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4-turbo":            {InputPer1M: 10.00, OutputPer1M: 30.00},
	"gpt-4-turbo-2024-04-09": {InputPer1M: 10.00, OutputPer1M: 30.00},
	"gpt-3.5-turbo":          {InputPer1M: 0.50, OutputPer1M: 1.50},

	// model/anthropicmodel's default.
	"claude-sonnet-4-5-20250929": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3.5-sonnet":          {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-opus-20240229":     {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-3-opus":              {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-3-sonnet-20240229":   {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-sonnet":            {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-haiku-20240307":    {InputPer1M: 0.25, OutputPer1M: 1.25},
	"claude-3-haiku":             {InputPer1M: 0.25, OutputPer1M: 1.25},

	// model/googlemodel's default plus its Pro sibling.
	"gemini-2.5-flash":    {InputPer1M: 0.30, OutputPer1M: 2.50},
	"gemini-2.5-pro":      {InputPer1M: 1.25, OutputPer1M: 10.00},
	"gemini-1.5-pro":      {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-pro-001":  {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash":    {InputPer1M: 0.075, OutputPer1M: 0.30},
	"gemini-1.5-flash-001": {InputPer1M: 0.075, OutputPer1M: 0.30},
	"gemini-1.0-pro":      {InputPer1M: 0.50, OutputPer1M: 1.50},
}

// LLMCall is a single recorded LLM invocation attributed to the graph
// node that made it.
type LLMCall struct {
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Timestamp    time.Time
	NodeID       string // NodeSpec.ID of the node that issued the call
}

// CostTracker accumulates LLM spend for a single run and, when BudgetUSD
// is set, reports when that spend has reached the ceiling so a node can
// raise an interrupt rather than let an unbounded loop keep spending.
//
// Attribution is per graph node id (agent.ModelNode sets this from
// NodeInput.Run.NodeID), not per model call site, so GetCostByNode
// answers "which node in this graph is expensive" the way
// GetCostByModel answers "which provider is expensive."
type CostTracker struct {
	RunID    string
	Currency string
	Pricing  map[string]ModelPricing

	// BudgetUSD caps total spend for this tracker. Zero means unlimited.
	BudgetUSD float64

	Calls        []LLMCall
	TotalCost    float64
	ModelCosts   map[string]float64
	NodeCosts    map[string]float64
	InputTokens  int64
	OutputTokens int64
	CreatedAt    time.Time

	mu      sync.RWMutex
	enabled bool
}

// NewCostTracker creates a cost tracker seeded with defaultModelPricing.
func NewCostTracker(runID, currency string) *CostTracker {
	return &CostTracker{
		RunID:      runID,
		Currency:   currency,
		Pricing:    defaultModelPricing,
		Calls:      make([]LLMCall, 0, 100),
		ModelCosts: make(map[string]float64),
		NodeCosts:  make(map[string]float64),
		CreatedAt:  time.Now(),
		enabled:    true,
	}
}

// RecordLLMCall prices a single invocation against the pricing table,
// attributes it to nodeID, and folds it into the running totals. A
// model absent from the pricing table still records, at zero cost,
// rather than failing the call that produced it.
func (ct *CostTracker) RecordLLMCall(model string, inputTokens, outputTokens int, nodeID string) error {
	if !ct.enabled {
		return nil
	}

	ct.mu.Lock()
	defer ct.mu.Unlock()

	pricing, ok := ct.Pricing[model]
	if !ok {
		pricing = ModelPricing{}
	}

	inputCost := (float64(inputTokens) / 1_000_000.0) * pricing.InputPer1M
	outputCost := (float64(outputTokens) / 1_000_000.0) * pricing.OutputPer1M
	totalCost := inputCost + outputCost

	ct.Calls = append(ct.Calls, LLMCall{
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      totalCost,
		Timestamp:    time.Now(),
		NodeID:       nodeID,
	})

	ct.TotalCost += totalCost
	ct.ModelCosts[model] += totalCost
	if nodeID != "" {
		ct.NodeCosts[nodeID] += totalCost
	}
	ct.InputTokens += int64(inputTokens)
	ct.OutputTokens += int64(outputTokens)

	return nil
}

// GetTotalCost returns the cumulative cost across all recorded calls.
func (ct *CostTracker) GetTotalCost() float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.TotalCost
}

// OverBudget reports whether total spend has reached BudgetUSD. Always
// false when BudgetUSD is zero (unlimited).
func (ct *CostTracker) OverBudget() bool {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.BudgetUSD > 0 && ct.TotalCost >= ct.BudgetUSD
}

// SetBudget sets or clears (zero) the spend ceiling OverBudget checks.
func (ct *CostTracker) SetBudget(usd float64) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.BudgetUSD = usd
}

// GetCostByModel returns a copy of the per-model cost breakdown.
func (ct *CostTracker) GetCostByModel() map[string]float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	costs := make(map[string]float64, len(ct.ModelCosts))
	for model, cost := range ct.ModelCosts {
		costs[model] = cost
	}
	return costs
}

// GetCostByNode returns a copy of the per-graph-node-id cost breakdown.
func (ct *CostTracker) GetCostByNode() map[string]float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	costs := make(map[string]float64, len(ct.NodeCosts))
	for nodeID, cost := range ct.NodeCosts {
		costs[nodeID] = cost
	}
	return costs
}

// GetCallHistory returns a copy of every recorded call, in order.
func (ct *CostTracker) GetCallHistory() []LLMCall {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	calls := make([]LLMCall, len(ct.Calls))
	copy(calls, ct.Calls)
	return calls
}

// GetTokenUsage returns total input and output token counts.
func (ct *CostTracker) GetTokenUsage() (inputTokens, outputTokens int64) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.InputTokens, ct.OutputTokens
}

// SetCustomPricing overrides (or adds) pricing for a single model.
func (ct *CostTracker) SetCustomPricing(model string, inputPer1M, outputPer1M float64) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	if ct.Pricing == nil {
		ct.Pricing = make(map[string]ModelPricing)
	}
	ct.Pricing[model] = ModelPricing{InputPer1M: inputPer1M, OutputPer1M: outputPer1M}
}

// Disable stops recording new calls; existing totals are untouched.
func (ct *CostTracker) Disable() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.enabled = false
}

// Enable re-enables recording after Disable.
func (ct *CostTracker) Enable() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.enabled = true
}

// Reset clears recorded calls and totals. Pricing and BudgetUSD survive.
func (ct *CostTracker) Reset() {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	ct.Calls = make([]LLMCall, 0, 100)
	ct.TotalCost = 0
	ct.ModelCosts = make(map[string]float64)
	ct.NodeCosts = make(map[string]float64)
	ct.InputTokens = 0
	ct.OutputTokens = 0
}

func (ct *CostTracker) String() string {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	return fmt.Sprintf(
		"CostTracker{RunID: %s, Calls: %d, TotalCost: $%.4f %s, InputTokens: %d, OutputTokens: %d}",
		ct.RunID, len(ct.Calls), ct.TotalCost, ct.Currency, ct.InputTokens, ct.OutputTokens,
	)
}
