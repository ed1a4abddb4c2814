package handlers

import (
	"context"
	"fmt"
	"net/http"
	"unicode/utf8"

	"github.com/capforge/api/internal/dsl"
	"github.com/capforge/api/internal/jobs"
	"github.com/capforge/api/internal/llm"
	"github.com/capforge/api/internal/middleware"
	"github.com/capforge/api/internal/models"
	"github.com/capforge/api/internal/pipeline"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MaxPromptLength is the longest prompt accepted, in characters.
const MaxPromptLength = 2000

// Generation modes.
const (
	ModeAgentic = "agentic"
	ModeDSL     = "dsl"
)

// JobService queues pipeline runs and reads their jobs back.
type JobService interface {
	Submit(ctx context.Context, sub jobs.Submission) (*models.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

// PipelineRunner runs the agentic pipeline inline.
type PipelineRunner interface {
	Run(ctx context.Context, req pipeline.Request, onStep pipeline.StepFunc) (pipeline.Outcome, error)
}

// LegacyGenerator serves the single-call DSL mode.
type LegacyGenerator interface {
	CheckConfig(req dsl.Request) error
	Generate(ctx context.Context, req dsl.Request) (*dsl.Response, error)
	Stream(ctx context.Context, req dsl.Request, onChunk func(string)) (*dsl.Response, error)
}

// GenerateHandler handles the generation endpoints
type GenerateHandler struct {
	jobs      JobService
	pipe      PipelineRunner
	legacy    LegacyGenerator
	validator pipeline.ConfigValidator
	usage     jobs.UsageRecorder
	logger    *zap.Logger
}

// NewGenerateHandler creates a new generate handler. usage may be nil.
func NewGenerateHandler(
	jobService JobService,
	pipe PipelineRunner,
	legacy LegacyGenerator,
	validator pipeline.ConfigValidator,
	usage jobs.UsageRecorder,
	logger *zap.Logger,
) *GenerateHandler {
	return &GenerateHandler{
		jobs:      jobService,
		pipe:      pipe,
		legacy:    legacy,
		validator: validator,
		usage:     usage,
		logger:    logger,
	}
}

// GenerateOptions tunes one generation.
type GenerateOptions struct {
	MaxTokens int    `json:"maxTokens,omitempty"`
	Mode      string `json:"mode,omitempty" enums:"agentic,dsl"`
}

// GenerateRequest is the request body for both generate endpoints
type GenerateRequest struct {
	Prompt   string          `json:"prompt"`
	Provider string          `json:"provider"`
	Model    string          `json:"model"`
	Options  GenerateOptions `json:"options"`
}

// GenerateAccepted is returned when a job is queued.
type GenerateAccepted struct {
	JobID  uuid.UUID        `json:"jobId"`
	Status models.JobStatus `json:"status"`
}

func (r GenerateRequest) pipelineRequest() pipeline.Request {
	return pipeline.Request{
		Prompt:    r.Prompt,
		Provider:  r.Provider,
		Model:     r.Model,
		MaxTokens: r.Options.MaxTokens,
	}
}

func (r GenerateRequest) dslRequest() dsl.Request {
	return dsl.Request{
		Prompt:    r.Prompt,
		Provider:  r.Provider,
		Model:     r.Model,
		MaxTokens: r.Options.MaxTokens,
	}
}

// bind decodes and validates the body, writing a 400 on failure.
func (h *GenerateHandler) bind(c *gin.Context, logger *zap.Logger) (GenerateRequest, bool) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request", zap.String("reason", "malformed_body"), zap.Error(err))
		middleware.BadRequest(c, "Invalid request body")
		return req, false
	}

	if req.Prompt == "" || req.Provider == "" || req.Model == "" {
		logger.Warn("invalid request", zap.String("reason", "missing_fields"))
		middleware.BadRequest(c, "Missing required fields: prompt, provider, model")
		return req, false
	}
	if n := utf8.RuneCountInString(req.Prompt); n > MaxPromptLength {
		logger.Warn("invalid request",
			zap.String("reason", "prompt_too_long"),
			zap.Int("prompt_len", n),
			zap.Int("max_len", MaxPromptLength),
		)
		middleware.BadRequest(c, fmt.Sprintf("Prompt exceeds maximum length of %d characters", MaxPromptLength))
		return req, false
	}

	switch req.Options.Mode {
	case "":
		req.Options.Mode = ModeAgentic
	case ModeAgentic, ModeDSL:
	default:
		logger.Warn("invalid request", zap.String("reason", "invalid_mode"), zap.String("mode", req.Options.Mode))
		middleware.BadRequest(c, fmt.Sprintf("Invalid mode %q (expected %s or %s)", req.Options.Mode, ModeAgentic, ModeDSL))
		return req, false
	}
	return req, true
}

func (h *GenerateHandler) logRequest(logger *zap.Logger, msg string, req GenerateRequest) {
	maxTokens := req.Options.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}
	logger.Info(msg,
		zap.String("provider", req.Provider),
		zap.String("model", req.Model),
		zap.String("mode", req.Options.Mode),
		zap.Int("max_tokens", maxTokens),
		zap.Int("prompt_len", utf8.RuneCountInString(req.Prompt)),
		zap.String("prompt_preview", pipeline.Summarize(req.Prompt, 140)),
	)
}

// Generate queues an agentic pipeline run
// @Summary Start a generation job
// @Description Validates the request and provider configuration, queues the pipeline and returns the job id. options.mode=dsl answers synchronously with a DSL document.
// @Tags generate
// @Accept json
// @Produce json
// @Param request body GenerateRequest true "Generation request"
// @Success 202 {object} GenerateAccepted
// @Success 200 {object} dsl.Response "legacy DSL mode"
// @Failure 400 {object} middleware.APIError
// @Failure 401 {object} middleware.APIError
// @Failure 422 {object} middleware.APIError
// @Failure 503 {object} middleware.APIError
// @Router /generate [post]
func (h *GenerateHandler) Generate(c *gin.Context) {
	logger := middleware.Logger(c, h.logger)
	req, ok := h.bind(c, logger)
	if !ok {
		return
	}
	h.logRequest(logger, "generate request", req)

	if req.Options.Mode == ModeDSL {
		h.legacyGenerate(c, logger, req)
		return
	}

	// config errors surface before any job exists
	if h.validator != nil {
		if _, err := h.validator.Validate(llm.Config{Provider: req.Provider, Model: req.Model}); err != nil {
			logger.Warn("generate rejected", zap.Error(err))
			middleware.RespondErr(c, err)
			return
		}
	}

	owner, _ := middleware.GetSubject(c)
	job, err := h.jobs.Submit(c.Request.Context(), jobs.Submission{
		Request: req.pipelineRequest(),
		Owner:   owner,
	})
	if err != nil {
		logger.Error("failed to submit job", zap.Error(err))
		middleware.RespondErr(c, err)
		return
	}

	logger.Info("job created", zap.Stringer("job_id", job.ID))
	c.JSON(http.StatusAccepted, GenerateAccepted{JobID: job.ID, Status: job.Status})
}

func (h *GenerateHandler) legacyGenerate(c *gin.Context, logger *zap.Logger, req GenerateRequest) {
	resp, err := h.legacy.Generate(c.Request.Context(), req.dslRequest())
	if err != nil {
		logger.Error("legacy DSL generate failed", zap.Error(err))
		middleware.RespondErr(c, err)
		return
	}
	logger.Info("legacy DSL completed",
		zap.Int("components", len(resp.DSL.Components)),
		zap.Int("prompt_tokens", resp.TokensUsed.Prompt),
		zap.Int("completion_tokens", resp.TokensUsed.Completion),
	)
	c.JSON(http.StatusOK, resp)
}
