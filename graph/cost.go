package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ModelPricing is the token price of a model in USD per 1M tokens.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// Prices are subject to change; override with SetPricing.
var defaultModelPricing = map[string]ModelPricing{
	"gpt-4o":                     {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":                {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4.1":                    {InputPer1M: 2.00, OutputPer1M: 8.00},
	"gpt-4.1-mini":               {InputPer1M: 0.40, OutputPer1M: 1.60},
	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-5-haiku-20241022":  {InputPer1M: 0.80, OutputPer1M: 4.00},
	"claude-sonnet-4-20250514":   {InputPer1M: 3.00, OutputPer1M: 15.00},
	"gemini-1.5-pro":             {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash":           {InputPer1M: 0.075, OutputPer1M: 0.30},
	"gemini-2.0-flash":           {InputPer1M: 0.10, OutputPer1M: 0.40},
}

// LLMCall is a single model invocation with its token usage and cost.
type LLMCall struct {
	ThreadID     string
	NodeID       string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Timestamp    time.Time
}

// ThreadCost is the accumulated spend of one thread.
type ThreadCost struct {
	ThreadID     string
	Calls        int
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
}

// CostTracker attributes model spend to threads and nodes.
//
// Model adapters report usage through RecordLLMCall; the engine places the
// thread and node IDs on the context so callers can use ThreadID(ctx) and
// CurrentNode(ctx) to fill them in. Unknown models are recorded at zero
// cost. Safe for concurrent use.
type CostTracker struct {
	mu      sync.RWMutex
	pricing map[string]ModelPricing
	calls   []LLMCall
	threads map[string]*ThreadCost
	total   float64
}

// NewCostTracker creates a tracker with the default pricing table.
func NewCostTracker() *CostTracker {
	pricing := make(map[string]ModelPricing, len(defaultModelPricing))
	for k, v := range defaultModelPricing {
		pricing[k] = v
	}
	return &CostTracker{
		pricing: pricing,
		threads: make(map[string]*ThreadCost),
	}
}

// RecordLLMCall records one invocation and returns its cost.
func (ct *CostTracker) RecordLLMCall(threadID, nodeID, model string, inputTokens, outputTokens int) float64 {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	p := ct.pricing[model]
	cost := float64(inputTokens)/1_000_000*p.InputPer1M + float64(outputTokens)/1_000_000*p.OutputPer1M

	ct.calls = append(ct.calls, LLMCall{
		ThreadID:     threadID,
		NodeID:       nodeID,
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      cost,
		Timestamp:    time.Now(),
	})

	tc, ok := ct.threads[threadID]
	if !ok {
		tc = &ThreadCost{ThreadID: threadID}
		ct.threads[threadID] = tc
	}
	tc.Calls++
	tc.InputTokens += int64(inputTokens)
	tc.OutputTokens += int64(outputTokens)
	tc.CostUSD += cost
	ct.total += cost
	return cost
}

// TotalCost returns the spend across all threads.
func (ct *CostTracker) TotalCost() float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.total
}

// Thread returns the spend of one thread. The zero ThreadCost is returned for
// threads with no recorded calls.
func (ct *CostTracker) Thread(threadID string) ThreadCost {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	if tc, ok := ct.threads[threadID]; ok {
		return *tc
	}
	return ThreadCost{ThreadID: threadID}
}

// CostByModel returns the spend per model.
func (ct *CostTracker) CostByModel() map[string]float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	out := make(map[string]float64)
	for _, c := range ct.calls {
		out[c.Model] += c.CostUSD
	}
	return out
}

// Calls returns the call history of a thread in record order. An empty
// threadID returns every call.
func (ct *CostTracker) Calls(threadID string) []LLMCall {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	out := make([]LLMCall, 0)
	for _, c := range ct.calls {
		if threadID == "" || c.ThreadID == threadID {
			out = append(out, c)
		}
	}
	return out
}

// Threads returns per-thread spend sorted by cost, highest first.
func (ct *CostTracker) Threads() []ThreadCost {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	out := make([]ThreadCost, 0, len(ct.threads))
	for _, tc := range ct.threads {
		out = append(out, *tc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CostUSD != out[j].CostUSD {
			return out[i].CostUSD > out[j].CostUSD
		}
		return out[i].ThreadID < out[j].ThreadID
	})
	return out
}

// SetPricing overrides the price of a model.
func (ct *CostTracker) SetPricing(model string, inputPer1M, outputPer1M float64) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.pricing[model] = ModelPricing{InputPer1M: inputPer1M, OutputPer1M: outputPer1M}
}

// Forget drops the history of a thread, typically after it is deleted.
func (ct *CostTracker) Forget(threadID string) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	if tc, ok := ct.threads[threadID]; ok {
		ct.total -= tc.CostUSD
		delete(ct.threads, threadID)
	}
	kept := ct.calls[:0]
	for _, c := range ct.calls {
		if c.ThreadID != threadID {
			kept = append(kept, c)
		}
	}
	ct.calls = kept
}

// String returns a one-line summary.
func (ct *CostTracker) String() string {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return fmt.Sprintf("CostTracker{Threads: %d, Calls: %d, TotalCost: $%.4f}", len(ct.threads), len(ct.calls), ct.total)
}

type costTrackerKey struct{}

// ContextWithCostTracker attaches tracker to ctx.
func ContextWithCostTracker(ctx context.Context, tracker *CostTracker) context.Context {
	return context.WithValue(ctx, costTrackerKey{}, tracker)
}

// CostTrackerFrom returns the tracker attached to ctx, or nil.
func CostTrackerFrom(ctx context.Context) *CostTracker {
	ct, _ := ctx.Value(costTrackerKey{}).(*CostTracker)
	return ct
}

// RecordUsage records a model call against the thread and node found in ctx.
// It is a no-op when ctx carries no tracker.
func RecordUsage(ctx context.Context, model string, inputTokens, outputTokens int) {
	if ct := CostTrackerFrom(ctx); ct != nil {
		ct.RecordLLMCall(ThreadID(ctx), CurrentNode(ctx), model, inputTokens, outputTokens)
	}
}
