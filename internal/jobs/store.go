// Package jobs tracks asynchronous generation runs: a Store holds job records
// and a Runner executes submitted runs on a bounded worker pool.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/capforge/api/internal/models"
	"github.com/google/uuid"
)

// ErrNotFound is returned for unknown (or evicted) job ids.
var ErrNotFound = errors.New("job not found")

// NewJob is the submission data a job is created from.
type NewJob struct {
	Prompt   string
	Provider string
	Model    string
	Owner    string
}

// Patch is a partial job update. Nil fields are left untouched.
type Patch struct {
	Status    *models.JobStatus
	Step      *string
	ClearStep bool
	Result    json.RawMessage
	Error     *string
}

// Store persists job records. Implementations are safe for concurrent use and
// apply each Update atomically.
type Store interface {
	Create(ctx context.Context, in NewJob) (*models.Job, error)
	Update(ctx context.Context, id uuid.UUID, p Patch) (*models.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

func newJob(in NewJob, now time.Time) *models.Job {
	return &models.Job{
		ID:        uuid.New(),
		Prompt:    in.Prompt,
		Provider:  in.Provider,
		Model:     in.Model,
		Status:    models.JobStatusRunning,
		Owner:     in.Owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (p Patch) apply(j *models.Job, now time.Time) {
	if p.Status != nil {
		j.Status = *p.Status
	}
	if p.ClearStep {
		j.Step = ""
	} else if p.Step != nil {
		j.Step = *p.Step
	}
	if p.Result != nil {
		j.Result = append(json.RawMessage(nil), p.Result...)
	}
	if p.Error != nil {
		j.Error = *p.Error
	}
	j.UpdatedAt = now
}

func clone(j *models.Job) *models.Job {
	c := *j
	if j.Result != nil {
		c.Result = append(json.RawMessage(nil), j.Result...)
	}
	return &c
}

// StepPatch sets the current step of a running job.
func StepPatch(step string) Patch {
	return Patch{Step: &step}
}

// CompletePatch moves a job to a terminal status with a result and clears its step.
func CompletePatch(status models.JobStatus, result json.RawMessage) Patch {
	return Patch{Status: &status, ClearStep: true, Result: result}
}

// FailPatch marks a job failed with a message and clears its step.
func FailPatch(message string) Patch {
	status := models.JobStatusFailed
	return Patch{Status: &status, ClearStep: true, Error: &message}
}
