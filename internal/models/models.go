package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a generation job
type JobStatus string

const (
	JobStatusRunning       JobStatus = "running"
	JobStatusClarification JobStatus = "clarification"
	JobStatusFailed        JobStatus = "failed"
	JobStatusCompleted     JobStatus = "completed"
)

// Terminal reports whether no further transitions are expected.
func (s JobStatus) Terminal() bool {
	return s == JobStatusClarification || s == JobStatusFailed || s == JobStatusCompleted
}

// Job is the ephemeral record of one asynchronous pipeline run
type Job struct {
	ID       uuid.UUID `json:"id"`
	Prompt   string    `json:"prompt"`
	Provider string    `json:"provider"`
	Model    string    `json:"model"`

	Status JobStatus       `json:"status"`
	Step   string          `json:"step,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`

	// Owner is the authenticated subject that submitted the job, if any.
	Owner string `json:"owner,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TokenUsage counts tokens consumed by LLM calls. Values only ever grow within a run.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
}

// Add returns the element-wise sum of u and other.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		Prompt:     u.Prompt + other.Prompt,
		Completion: u.Completion + other.Completion,
	}
}

// Total returns prompt plus completion tokens.
func (u TokenUsage) Total() int {
	return u.Prompt + u.Completion
}

// GenerationRun summarizes one finished pipeline run for the usage ledger.
type GenerationRun struct {
	JobID      uuid.UUID     `json:"jobId"`
	Owner      string        `json:"owner,omitempty"`
	Provider   string        `json:"provider"`
	Model      string        `json:"model"`
	Prompt     string        `json:"-"`
	Outcome    string        `json:"outcome"`
	Iterations int           `json:"iterations"`
	Tokens     TokenUsage    `json:"tokens"`
	Duration   time.Duration `json:"duration"`
	FinishedAt time.Time     `json:"finishedAt"`
}
