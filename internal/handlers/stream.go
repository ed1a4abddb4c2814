package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/capforge/api/internal/jobs"
	"github.com/capforge/api/internal/llm"
	"github.com/capforge/api/internal/middleware"
	"github.com/capforge/api/internal/pipeline"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SSE event names.
const (
	EventStep  = "step"
	EventChunk = "chunk"
	EventDone  = "done"
	EventError = "error"
)

// StepEvent is the payload of a step event.
type StepEvent struct {
	Step   string `json:"step"`
	Status string `json:"status"`
}

// ChunkEvent is the payload of a legacy chunk event.
type ChunkEvent struct {
	Text string `json:"text"`
}

// openStream writes the event-stream headers. Nothing may be written as JSON after it.
func openStream(c *gin.Context) {
	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()
}

// send writes one event. Write errors mean the client left; the run carries on.
func send(c *gin.Context, event string, data any) {
	c.SSEvent(event, data)
	c.Writer.Flush()
}

func sendError(c *gin.Context, err error) {
	_, body := middleware.ErrorFor(err)
	body.Code = ""
	body.RetryAfter = 0
	send(c, EventError, body)
}

// Stream runs the pipeline inline and streams its progress
// @Summary Stream a generation
// @Description Runs the pipeline on the request and pushes step events, then a done or error event. options.mode=dsl streams raw model chunks instead.
// @Tags generate
// @Accept json
// @Produce text/event-stream
// @Param request body GenerateRequest true "Generation request"
// @Success 200 {string} string "event stream"
// @Failure 400 {object} middleware.APIError
// @Failure 401 {object} middleware.APIError
// @Router /generate/stream [post]
func (h *GenerateHandler) Stream(c *gin.Context) {
	logger := middleware.Logger(c, h.logger)
	req, ok := h.bind(c, logger)
	if !ok {
		return
	}
	h.logRequest(logger, "stream generate request", req)

	if req.Options.Mode == ModeDSL {
		h.legacyStream(c, logger, req)
		return
	}

	if h.validator != nil {
		if _, err := h.validator.Validate(llm.Config{Provider: req.Provider, Model: req.Model}); err != nil {
			logger.Warn("stream rejected", zap.Error(err))
			middleware.RespondErr(c, err)
			return
		}
	}

	openStream(c)
	logger.Info("SSE stream opened")
	send(c, EventStep, StepEvent{Step: pipeline.StepPipeline, Status: pipeline.StatusStarted})

	start := time.Now()
	// the run outlives a departed client
	ctx := context.WithoutCancel(c.Request.Context())
	outcome, err := h.pipe.Run(ctx, req.pipelineRequest(), func(step, status string) {
		logger.Debug("pipeline step", zap.String("step", step), zap.String("status", status))
		send(c, EventStep, StepEvent{Step: step, Status: status})
	})
	elapsed := time.Since(start)
	h.recordUsage(ctx, logger, c, req, outcome, err, elapsed)

	if err != nil {
		logger.Error("stream pipeline error", zap.Duration("duration", elapsed), zap.Error(err))
		sendError(c, err)
		return
	}
	if failure, ok := outcome.(*pipeline.FailureOutcome); ok {
		logger.Error("stream pipeline failed", zap.Duration("duration", elapsed), zap.String("error", failure.Error))
		send(c, EventError, middleware.APIError{Error: failure.Error})
		return
	}

	send(c, EventDone, outcome)
	logger.Info("stream pipeline completed",
		zap.String("outcome", jobs.OutcomeLabel(outcome, nil)),
		zap.Duration("duration", elapsed),
		zap.Int("total_tokens", outcome.Tokens().Total()),
	)
}

func (h *GenerateHandler) recordUsage(ctx context.Context, logger *zap.Logger, c *gin.Context, req GenerateRequest, outcome pipeline.Outcome, runErr error, elapsed time.Duration) {
	if h.usage == nil {
		return
	}
	owner, _ := middleware.GetSubject(c)
	sub := jobs.Submission{Request: req.pipelineRequest(), Owner: owner}
	if err := h.usage.RecordRun(ctx, jobs.NewRunRecord(uuid.New(), sub, outcome, runErr, elapsed)); err != nil {
		logger.Warn("failed to record usage", zap.Error(err))
	}
}

func (h *GenerateHandler) legacyStream(c *gin.Context, logger *zap.Logger, req GenerateRequest) {
	dslReq := req.dslRequest()
	if err := h.legacy.CheckConfig(dslReq); err != nil {
		logger.Warn("legacy stream rejected", zap.Error(err))
		middleware.RespondErr(c, err)
		return
	}

	openStream(c)
	ctx := context.WithoutCancel(c.Request.Context())
	resp, err := h.legacy.Stream(ctx, dslReq, func(chunk string) {
		send(c, EventChunk, ChunkEvent{Text: chunk})
	})
	if err != nil {
		logger.Error("legacy DSL stream failed", zap.Error(err))
		sendError(c, err)
		return
	}
	send(c, EventDone, resp)
	logger.Info("legacy DSL stream completed", zap.Int("total_tokens", resp.TokensUsed.Total()))
}
