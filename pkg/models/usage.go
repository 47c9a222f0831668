package models

import "time"

// Usage represents token usage reported by the provider. Each field is nil
// when the provider omitted it.
type Usage struct {
	PromptTokens     *int `json:"prompt_tokens"`
	CompletionTokens *int `json:"completion_tokens"`
	TotalTokens      *int `json:"total_tokens"`
}

// NewUsage builds a fully populated Usage.
func NewUsage(prompt, completion, total int) Usage {
	return Usage{
		PromptTokens:     &prompt,
		CompletionTokens: &completion,
		TotalTokens:      &total,
	}
}

// IsEmpty reports whether no token counts are known.
func (u Usage) IsEmpty() bool {
	return u.PromptTokens == nil && u.CompletionTokens == nil && u.TotalTokens == nil
}

// Clone returns a deep copy so cached values cannot be mutated by callers.
func (u Usage) Clone() Usage {
	return Usage{
		PromptTokens:     cloneInt(u.PromptTokens),
		CompletionTokens: cloneInt(u.CompletionTokens),
		TotalTokens:      cloneInt(u.TotalTokens),
	}
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// CallRecord is the telemetry captured for a single LLM invocation.
type CallRecord struct {
	ID               string        `json:"id"`
	RequestID        string        `json:"request_id,omitempty"`
	Model            string        `json:"model"`
	Provider         string        `json:"provider"`
	Streaming        bool          `json:"streaming"`
	Input            []ChatMessage `json:"input,omitempty"`
	Output           string        `json:"output,omitempty"`
	PromptTokens     *int          `json:"prompt_tokens,omitempty"`
	CompletionTokens *int          `json:"completion_tokens,omitempty"`
	TotalTokens      *int          `json:"total_tokens,omitempty"`
	TimeToFirstToken *float64      `json:"time_to_first_token_s,omitempty"`
	DurationMs       int64         `json:"duration_ms"`
	Error            string        `json:"error,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

// CallSummary aggregates call records per model.
type CallSummary struct {
	Model               string  `json:"model"`
	RequestCount        int     `json:"request_count"`
	ErrorCount          int     `json:"error_count"`
	TotalPrompt         int64   `json:"total_prompt"`
	TotalCompletion     int64   `json:"total_completion"`
	TotalTokens         int64   `json:"total_tokens"`
	AvgDurationMs       float64 `json:"avg_duration_ms"`
	AvgTimeToFirstToken float64 `json:"avg_time_to_first_token_s"`
}
