package models

import "time"

// Transcript is the persisted input/output snapshot of one LLM call.
type Transcript struct {
	CallID     string    `json:"call_id"`
	RequestID  string    `json:"request_id"`
	Model      string    `json:"model"`
	Provider   string    `json:"provider"`
	Input      string    `json:"input,omitempty"`
	Output     string    `json:"output,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// AuditConfig controls the transcript store.
type AuditConfig struct {
	Enabled       bool     `yaml:"enabled"`
	DBPath        string   `yaml:"db_path"`
	RetentionDays int      `yaml:"retention_days"`
	Include       []string `yaml:"include"` // "prompts", "responses"
	ExcludeModels []string `yaml:"exclude_models"`
	MaxBodySize   int      `yaml:"max_body_size"` // bytes
}

// TranscriptQuery specifies filters for querying transcripts.
type TranscriptQuery struct {
	Model     string
	Since     time.Time
	RequestID string
	Limit     int
}

// TranscriptStat holds transcript counts for a model/day combination.
type TranscriptStat struct {
	Model string
	Day   string
	Count int
}
