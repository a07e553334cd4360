package models

import "time"

// Usage counts tokens consumed by a single model call.
type Usage struct {
	CompletionTokens int `json:"completion_tokens"`
	PromptTokens     int `json:"prompt_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage block. Zero fields compose safely.
func (u *Usage) Add(other Usage) {
	u.CompletionTokens += other.CompletionTokens
	u.PromptTokens += other.PromptTokens
	u.TotalTokens += other.TotalTokens
}

// Timing records wall-clock boundaries of a model or tool call.
type Timing struct {
	StartedAt time.Time `json:"started_at,omitzero"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
	LatencyMS float64   `json:"latency_ms"`
}

// NewTiming computes latency from the given boundaries.
func NewTiming(start, end time.Time) Timing {
	return Timing{
		StartedAt: start.UTC(),
		EndedAt:   end.UTC(),
		LatencyMS: float64(end.Sub(start).Microseconds()) / 1000.0,
	}
}

// TraceCall carries provider tracing identifiers. The fields are opaque to
// the runtime; they are recorded when the tracing backend supplies them.
type TraceCall struct {
	ID        string `json:"id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// MessageMetrics holds per-message model, timing, usage, and trace data.
// Absent fields stay at their zero values; nothing is discarded on save.
type MessageMetrics struct {
	Model  string    `json:"model,omitempty"`
	Timing Timing    `json:"timing"`
	Usage  Usage     `json:"usage"`
	Weave  TraceCall `json:"weave_call"`
}

// ModelUsage aggregates call counts and tokens for one model.
type ModelUsage struct {
	Calls            int `json:"calls"`
	CompletionTokens int `json:"completion_tokens"`
	PromptTokens     int `json:"prompt_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ThreadMetrics is the running sum of child-message metrics, overall and
// broken down per model.
type ThreadMetrics struct {
	CompletionTokens int                   `json:"completion_tokens"`
	PromptTokens     int                   `json:"prompt_tokens"`
	TotalTokens      int                   `json:"total_tokens"`
	ModelUsage       map[string]ModelUsage `json:"model_usage,omitempty"`
}

// AddMessage folds one message's metrics into the thread totals.
// Messages without a model still contribute to the overall counters.
func (m *ThreadMetrics) AddMessage(mm MessageMetrics) {
	m.CompletionTokens += mm.Usage.CompletionTokens
	m.PromptTokens += mm.Usage.PromptTokens
	m.TotalTokens += mm.Usage.TotalTokens

	if mm.Model == "" {
		return
	}
	if m.ModelUsage == nil {
		m.ModelUsage = make(map[string]ModelUsage)
	}
	mu := m.ModelUsage[mm.Model]
	mu.Calls++
	mu.CompletionTokens += mm.Usage.CompletionTokens
	mu.PromptTokens += mm.Usage.PromptTokens
	mu.TotalTokens += mm.Usage.TotalTokens
	m.ModelUsage[mm.Model] = mu
}

// Overall returns the aggregate usage for comparison against message sums.
func (m ThreadMetrics) Overall() Usage {
	return Usage{
		CompletionTokens: m.CompletionTokens,
		PromptTokens:     m.PromptTokens,
		TotalTokens:      m.TotalTokens,
	}
}
