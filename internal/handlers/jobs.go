package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/capforge/api/internal/jobs"
	"github.com/capforge/api/internal/middleware"
	"github.com/capforge/api/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventHistory replays a job's lifecycle events.
type EventHistory interface {
	History(ctx context.Context, jobID uuid.UUID) ([]jobs.Event, error)
}

// JobHandler serves job polling
type JobHandler struct {
	jobs    JobService
	history EventHistory
	logger  *zap.Logger
}

// NewJobHandler creates a new job handler. history may be nil.
func NewJobHandler(jobService JobService, history EventHistory, logger *zap.Logger) *JobHandler {
	return &JobHandler{jobs: jobService, history: history, logger: logger}
}

// JobResponse is the polling view of a job: step while running, result on
// completion or clarification, error on failure.
type JobResponse struct {
	Status models.JobStatus `json:"status"`
	Step   string           `json:"step,omitempty"`
	Result json.RawMessage  `json:"result,omitempty" swaggertype:"object"`
	Error  string           `json:"error,omitempty"`
}

// NewJobResponse projects a job onto its polling view.
func NewJobResponse(job *models.Job) JobResponse {
	resp := JobResponse{Status: job.Status}
	switch job.Status {
	case models.JobStatusRunning:
		resp.Step = job.Step
	case models.JobStatusCompleted, models.JobStatusClarification:
		resp.Result = job.Result
	case models.JobStatusFailed:
		resp.Error = job.Error
	}
	return resp
}

// lookup loads the job named by the path, writing a 404 when it is missing or
// belongs to another subject.
func (h *JobHandler) lookup(c *gin.Context, logger *zap.Logger) (*models.Job, bool) {
	id, err := uuid.Parse(c.Param("jobId"))
	if err != nil {
		middleware.NotFound(c, "Job not found")
		return nil, false
	}

	job, err := h.jobs.Get(c.Request.Context(), id)
	if errors.Is(err, jobs.ErrNotFound) {
		logger.Warn("job not found", zap.Stringer("job_id", id))
		middleware.NotFound(c, "Job not found")
		return nil, false
	}
	if err != nil {
		logger.Error("failed to load job", zap.Stringer("job_id", id), zap.Error(err))
		middleware.InternalError(c, "Failed to load job")
		return nil, false
	}

	if job.Owner != "" {
		if subject, _ := middleware.GetSubject(c); subject != job.Owner {
			logger.Warn("job owner mismatch", zap.Stringer("job_id", id))
			middleware.NotFound(c, "Job not found")
			return nil, false
		}
	}
	return job, true
}

// GetJob returns the status of a generation job
// @Summary Poll a generation job
// @Tags jobs
// @Produce json
// @Param jobId path string true "Job ID"
// @Success 200 {object} JobResponse
// @Failure 404 {object} middleware.APIError
// @Router /jobs/{jobId} [get]
func (h *JobHandler) GetJob(c *gin.Context) {
	logger := middleware.Logger(c, h.logger)
	job, ok := h.lookup(c, logger)
	if !ok {
		return
	}
	logger.Debug("job poll",
		zap.Stringer("job_id", job.ID),
		zap.String("status", string(job.Status)),
		zap.String("step", job.Step),
	)
	c.JSON(http.StatusOK, NewJobResponse(job))
}

// GetJobEvents returns the recorded lifecycle events of a job
// @Summary Replay job lifecycle events
// @Tags jobs
// @Produce json
// @Param jobId path string true "Job ID"
// @Success 200 {array} jobs.Event
// @Failure 404 {object} middleware.APIError
// @Failure 503 {object} middleware.APIError
// @Router /jobs/{jobId}/events [get]
func (h *JobHandler) GetJobEvents(c *gin.Context) {
	logger := middleware.Logger(c, h.logger)
	if h.history == nil {
		middleware.ServiceUnavailable(c, "Job event history is not enabled")
		return
	}
	job, ok := h.lookup(c, logger)
	if !ok {
		return
	}

	events, err := h.history.History(c.Request.Context(), job.ID)
	if err != nil {
		logger.Error("failed to read job events", zap.Stringer("job_id", job.ID), zap.Error(err))
		middleware.InternalError(c, "Failed to read job events")
		return
	}
	c.JSON(http.StatusOK, events)
}
