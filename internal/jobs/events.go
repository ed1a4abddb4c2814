package jobs

import (
	"context"
	"time"

	"github.com/capforge/api/internal/models"
	"github.com/google/uuid"
)

// Event types published over a job's lifetime.
const (
	EventCreated  = "created"
	EventStep     = "step"
	EventFinished = "finished"
)

// Event is a job lifecycle notification.
type Event struct {
	Type   string           `json:"type"`
	JobID  uuid.UUID        `json:"jobId"`
	Status models.JobStatus `json:"status"`
	Step   string           `json:"step,omitempty"`
	Error  string           `json:"error,omitempty"`
	Owner  string           `json:"owner,omitempty"`
	At     time.Time        `json:"at"`
}

// EventPublisher delivers lifecycle events. Delivery is best effort; the
// store remains the source of truth.
type EventPublisher interface {
	Publish(ctx context.Context, e Event) error
}

// UsageRecorder stores a summary of every finished run.
type UsageRecorder interface {
	RecordRun(ctx context.Context, run models.GenerationRun) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }

type nopRecorder struct{}

func (nopRecorder) RecordRun(context.Context, models.GenerationRun) error { return nil }
