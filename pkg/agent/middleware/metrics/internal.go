package metrics

import (
	"sort"
	"sync"
	"time"
)

// InternalRecorder aggregates usage per agent in memory for end-of-run summaries.
type InternalRecorder struct {
	agents map[string]*AgentUsage
	mu     sync.RWMutex
}

// AgentUsage is the aggregated LLM usage of one pipeline agent.
//
//nolint:govet
type AgentUsage struct {
	Agent            string    `json:"agent"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	TotalTokens      int64     `json:"total_tokens"`
	RequestCount     int64     `json:"request_count"`
	FailureCount     int64     `json:"failure_count"`
	TotalCost        float64   `json:"total_cost_usd"`
	LastUpdated      time.Time `json:"last_updated"`
}

// NewInternalRecorder returns an empty recorder.
func NewInternalRecorder() *InternalRecorder {
	return &InternalRecorder{agents: make(map[string]*AgentUsage)}
}

// ObserveRequest records metrics for a completed LLM request.
func (r *InternalRecorder) ObserveRequest(
	_, agent string,
	promptTokens, completionTokens int,
	cost float64,
	success bool,
	_ string,
	_ time.Duration,
) {
	r.mu.Lock()
	defer r.mu.Unlock()

	usage, exists := r.agents[agent]
	if !exists {
		usage = &AgentUsage{Agent: agent}
		r.agents[agent] = usage
	}
	usage.RequestCount++
	usage.LastUpdated = time.Now()
	if !success {
		usage.FailureCount++
		return
	}
	usage.PromptTokens += int64(promptTokens)
	usage.CompletionTokens += int64(completionTokens)
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	usage.TotalCost += cost
}

// IncThrottle is not aggregated internally.
func (r *InternalRecorder) IncThrottle(_, _ string) {}

// ObserveQueueWait is not aggregated internally.
func (r *InternalRecorder) ObserveQueueWait(_ string, _ time.Duration) {}

// Usage returns a copy of one agent's usage, or nil.
func (r *InternalRecorder) Usage(agent string) *AgentUsage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if usage, ok := r.agents[agent]; ok {
		cp := *usage
		return &cp
	}
	return nil
}

// All returns copies of every agent's usage sorted by agent name.
func (r *InternalRecorder) All() []AgentUsage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AgentUsage, 0, len(r.agents))
	for _, usage := range r.agents {
		out = append(out, *usage)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Agent < out[j].Agent })
	return out
}

// TotalCost sums cost across agents.
func (r *InternalRecorder) TotalCost() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0.0
	for _, usage := range r.agents {
		total += usage.TotalCost
	}
	return total
}

// Reset clears all metrics.
func (r *InternalRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents = make(map[string]*AgentUsage)
}
