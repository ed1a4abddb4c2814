package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/capforge/api/internal/capability"
	"github.com/capforge/api/internal/dsl"
	"github.com/capforge/api/internal/jobs"
	"github.com/capforge/api/internal/llm"
	"github.com/capforge/api/internal/llm/llmtest"
	"github.com/capforge/api/internal/middleware"
	"github.com/capforge/api/internal/models"
	"github.com/capforge/api/internal/pipeline"
	"github.com/capforge/api/internal/usage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type pipelineFunc func(ctx context.Context, req pipeline.Request, onStep pipeline.StepFunc) (pipeline.Outcome, error)

func (f pipelineFunc) Run(ctx context.Context, req pipeline.Request, onStep pipeline.StepFunc) (pipeline.Outcome, error) {
	return f(ctx, req, onStep)
}

type recordingUsage struct {
	mu   sync.Mutex
	runs []models.GenerationRun
}

func (u *recordingUsage) RecordRun(_ context.Context, run models.GenerationRun) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.runs = append(u.runs, run)
	return nil
}

func taskMap() *capability.Map {
	m := capability.Empty()
	m.ProjectName = "Task Tracker"
	m.Queries = capability.NewSection(
		capability.Entry{Name: "listTasks", Capability: capability.Capability{Endpoint: "GET /api/tasks", Description: "List all tasks"}},
	)
	m.Actions = capability.NewSection(
		capability.Entry{Name: "createTask", Capability: capability.Capability{Endpoint: "POST /api/tasks", Description: "Create a task"}},
	)
	return m
}

func catalog() *llm.Catalog {
	return llm.NewCatalog(map[string]string{llm.ProviderOpenAI: "sk-test"}, nil)
}

type fixture struct {
	router *gin.Engine
	store  *jobs.MemoryStore
	runner *jobs.Runner
	usage  *recordingUsage
}

// newFixture wires the handlers the way the server does, around pipe and a
// scripted legacy generator.
func newFixture(t *testing.T, pipe PipelineRunner, legacy *llmtest.Scripted) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := jobs.NewMemoryStore(time.Hour)
	runner := jobs.NewRunner(store, pipe, jobs.RunnerConfig{Workers: 1, QueueSize: 4}, logger)
	runner.Start(context.Background())
	t.Cleanup(func() { require.NoError(t, runner.Shutdown(context.Background())) })

	if legacy == nil {
		legacy = llmtest.New()
	}
	maps := capability.NewStatic(taskMap())
	rec := &recordingUsage{}
	gen := NewGenerateHandler(runner, pipe, dsl.NewService(legacy, catalog(), maps, logger), catalog(), rec, logger)
	jh := NewJobHandler(runner, nil, logger)

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Auth("secret", logger))
	api := r.Group("/api")
	api.POST("/generate", gen.Generate)
	api.POST("/generate/stream", gen.Stream)
	api.GET("/jobs/:jobId", jh.GetJob)
	api.GET("/jobs/:jobId/events", jh.GetJobEvents)
	api.GET("/capabilities", NewCapabilityHandler(maps).GetCapabilities)
	return &fixture{router: r, store: store, runner: runner, usage: rec}
}

func (f *fixture) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			_ = json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func success() *pipeline.SuccessOutcome {
	return &pipeline.SuccessOutcome{
		HTML:       "<div id=\"app\"></div>",
		Iterations: 1,
		TokensUsed: models.TokenUsage{Prompt: 50, Completion: 25},
	}
}

func pollUntilDone(t *testing.T, f *fixture, id string, headers ...string) JobResponse {
	t.Helper()
	var last JobResponse
	require.Eventually(t, func() bool {
		w := f.do(http.MethodGet, "/api/jobs/"+id, nil, headers...)
		var resp JobResponse
		if w.Code != http.StatusOK || json.Unmarshal(w.Body.Bytes(), &resp) != nil {
			return false
		}
		last = resp
		return resp.Status != models.JobStatusRunning
	}, 2*time.Second, 5*time.Millisecond)
	return last
}

func TestGenerateValidation(t *testing.T) {
	f := newFixture(t, pipelineFunc(func(context.Context, pipeline.Request, pipeline.StepFunc) (pipeline.Outcome, error) {
		t.Error("pipeline must not run")
		return nil, nil
	}), nil)

	tests := []struct {
		name    string
		body    any
		status  int
		message string
	}{
		{"missing fields", map[string]any{"prompt": "tasks"}, http.StatusBadRequest, "Missing required fields: prompt, provider, model"},
		{"prompt too long", GenerateRequest{Prompt: strings.Repeat("a", MaxPromptLength+1), Provider: "openai", Model: "gpt-4o"},
			http.StatusBadRequest, "Prompt exceeds maximum length of 2000 characters"},
		{"malformed", "{", http.StatusBadRequest, "Invalid request body"},
		{"invalid mode", GenerateRequest{Prompt: "tasks", Provider: "openai", Model: "gpt-4o", Options: GenerateOptions{Mode: "turbo"}},
			http.StatusBadRequest, `Invalid mode "turbo" (expected agentic or dsl)`},
		{"missing key", GenerateRequest{Prompt: "tasks", Provider: "anthropic", Model: "claude-sonnet-4-5"},
			http.StatusUnauthorized, "ANTHROPIC_API_KEY"},
		{"unknown model", GenerateRequest{Prompt: "tasks", Provider: "openai", Model: "gpt-0"},
			http.StatusBadRequest, "Unsupported model"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodPost, "/api/generate", tt.body)
			assert.Equal(t, tt.status, w.Code)
			var body middleware.APIError
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Contains(t, body.Error, tt.message)
		})
	}
	assert.Zero(t, f.store.Len(), "no job is created for rejected requests")
}

func TestPromptLengthCountsCharacters(t *testing.T) {
	f := newFixture(t, pipelineFunc(func(context.Context, pipeline.Request, pipeline.StepFunc) (pipeline.Outcome, error) {
		return success(), nil
	}), nil)
	w := f.do(http.MethodPost, "/api/generate", GenerateRequest{Prompt: strings.Repeat("é", MaxPromptLength), Provider: "openai", Model: "gpt-4o"})
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestGenerateAndPoll(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, pipelineFunc(func(_ context.Context, req pipeline.Request, onStep pipeline.StepFunc) (pipeline.Outcome, error) {
		assert.Equal(t, 1024, req.MaxTokens)
		onStep(pipeline.StepCodegen, pipeline.StatusStarted)
		<-release
		return success(), nil
	}), nil)

	w := f.do(http.MethodPost, "/api/generate", GenerateRequest{
		Prompt: "show me all my tasks", Provider: "openai", Model: "gpt-4o",
		Options: GenerateOptions{MaxTokens: 1024},
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	var accepted GenerateAccepted
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))
	assert.Equal(t, models.JobStatusRunning, accepted.Status)

	id := accepted.JobID.String()
	require.Eventually(t, func() bool {
		w := f.do(http.MethodGet, "/api/jobs/"+id, nil)
		return strings.Contains(w.Body.String(), `"step":"codegen"`)
	}, 2*time.Second, 5*time.Millisecond)

	close(release)
	resp := pollUntilDone(t, f, id)
	assert.Equal(t, models.JobStatusCompleted, resp.Status)
	assert.Empty(t, resp.Step)
	var result pipeline.SuccessOutcome
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, "<div id=\"app\"></div>", result.HTML)
}

func TestPollTerminalShapes(t *testing.T) {
	f := newFixture(t, pipelineFunc(func(_ context.Context, req pipeline.Request, _ pipeline.StepFunc) (pipeline.Outcome, error) {
		switch req.Prompt {
		case "vague":
			return &pipeline.ClarificationOutcome{ClarifyingQuestion: "Which view?", Options: []string{"Table"}}, nil
		case "broken":
			return &pipeline.FailureOutcome{Error: "Code generation failed: missing HTML"}, nil
		}
		return nil, errors.New("review step: connection reset")
	}), nil)

	submit := func(prompt string) string {
		w := f.do(http.MethodPost, "/api/generate", GenerateRequest{Prompt: prompt, Provider: "openai", Model: "gpt-4o"})
		require.Equal(t, http.StatusAccepted, w.Code)
		var accepted GenerateAccepted
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))
		return accepted.JobID.String()
	}

	resp := pollUntilDone(t, f, submit("vague"))
	assert.Equal(t, models.JobStatusClarification, resp.Status)
	assert.Contains(t, string(resp.Result), "Which view?")

	resp = pollUntilDone(t, f, submit("broken"))
	assert.Equal(t, models.JobStatusFailed, resp.Status)
	assert.Equal(t, "Code generation failed: missing HTML", resp.Error)
	assert.Empty(t, resp.Result)

	resp = pollUntilDone(t, f, submit("flaky"))
	assert.Equal(t, models.JobStatusFailed, resp.Status)
	assert.Equal(t, "review step: connection reset", resp.Error)
}

func TestGetJobNotFound(t *testing.T) {
	f := newFixture(t, pipelineFunc(func(context.Context, pipeline.Request, pipeline.StepFunc) (pipeline.Outcome, error) {
		return success(), nil
	}), nil)

	for _, id := range []string{uuid.NewString(), "not-a-uuid"} {
		w := f.do(http.MethodGet, "/api/jobs/"+id, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.JSONEq(t, `{"error":"Job not found"}`, w.Body.String())
	}
}

func TestJobsAreScopedToTheirOwner(t *testing.T) {
	f := newFixture(t, pipelineFunc(func(context.Context, pipeline.Request, pipeline.StepFunc) (pipeline.Outcome, error) {
		return success(), nil
	}), nil)
	alice := "Bearer " + token(t, "alice")

	w := f.do(http.MethodPost, "/api/generate", GenerateRequest{Prompt: "tasks", Provider: "openai", Model: "gpt-4o"}, "Authorization", alice)
	require.Equal(t, http.StatusAccepted, w.Code)
	var accepted GenerateAccepted
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))
	id := accepted.JobID.String()

	assert.Equal(t, models.JobStatusCompleted, pollUntilDone(t, f, id, "Authorization", alice).Status)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/jobs/"+id, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/jobs/"+id, nil, "Authorization", "Bearer "+token(t, "bob")).Code)
}

func TestJobEventsDisabled(t *testing.T) {
	f := newFixture(t, pipelineFunc(func(context.Context, pipeline.Request, pipeline.StepFunc) (pipeline.Outcome, error) {
		return success(), nil
	}), nil)
	w := f.do(http.MethodGet, "/api/jobs/"+uuid.NewString()+"/events", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

type sseEvent struct {
	name string
	data string
}

func parseSSE(body string) []sseEvent {
	var events []sseEvent
	for _, block := range strings.Split(body, "\n\n") {
		var e sseEvent
		for _, line := range strings.Split(block, "\n") {
			if v, ok := strings.CutPrefix(line, "event:"); ok {
				e.name = strings.TrimSpace(v)
			}
			if v, ok := strings.CutPrefix(line, "data:"); ok {
				e.data = strings.TrimSpace(v)
			}
		}
		if e.name != "" {
			events = append(events, e)
		}
	}
	return events
}

func TestStreamEmitsStepsThenDone(t *testing.T) {
	f := newFixture(t, pipelineFunc(func(_ context.Context, _ pipeline.Request, onStep pipeline.StepFunc) (pipeline.Outcome, error) {
		onStep(pipeline.StepIntent, pipeline.StatusStarted)
		onStep(pipeline.StepIntent, pipeline.StatusCompleted)
		return success(), nil
	}), nil)

	w := f.do(http.MethodPost, "/api/generate/stream", GenerateRequest{Prompt: "tasks", Provider: "openai", Model: "gpt-4o"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/event-stream"), w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", w.Header().Get("Connection"))

	events := parseSSE(w.Body.String())
	require.Len(t, events, 4)
	assert.Equal(t, sseEvent{EventStep, `{"step":"pipeline","status":"started"}`}, events[0])
	assert.Equal(t, sseEvent{EventStep, `{"step":"intent","status":"started"}`}, events[1])
	assert.Equal(t, EventDone, events[3].name)
	assert.Contains(t, events[3].data, `"iterations":1`)

	require.Len(t, f.usage.runs, 1)
	assert.Equal(t, "success", f.usage.runs[0].Outcome)
}

func TestStreamErrors(t *testing.T) {
	f := newFixture(t, pipelineFunc(func(_ context.Context, req pipeline.Request, _ pipeline.StepFunc) (pipeline.Outcome, error) {
		if req.Prompt == "broken" {
			return &pipeline.FailureOutcome{Error: "Generated code referenced unsupported capabilities: deleteAll"}, nil
		}
		return nil, errors.New("codegen step: timeout")
	}), nil)

	w := f.do(http.MethodPost, "/api/generate/stream", GenerateRequest{Prompt: "broken", Provider: "openai", Model: "gpt-4o"})
	events := parseSSE(w.Body.String())
	last := events[len(events)-1]
	assert.Equal(t, EventError, last.name)
	assert.JSONEq(t, `{"error":"Generated code referenced unsupported capabilities: deleteAll"}`, last.data)

	w = f.do(http.MethodPost, "/api/generate/stream", GenerateRequest{Prompt: "flaky", Provider: "openai", Model: "gpt-4o"})
	events = parseSSE(w.Body.String())
	last = events[len(events)-1]
	assert.Equal(t, EventError, last.name)
	assert.JSONEq(t, `{"error":"codegen step: timeout"}`, last.data)

	// config errors are answered before the stream opens
	w = f.do(http.MethodPost, "/api/generate/stream", GenerateRequest{Prompt: "tasks", Provider: "google", Model: "gemini-2.5-pro"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
}

const legacyReply = `{"dsl":{"layout":"stack","components":[{"type":"table","title":"Tasks","query":"listTasks"}]},"reasoning":"A table."}`

func TestLegacyGenerate(t *testing.T) {
	f := newFixture(t, nil, llmtest.New(legacyReply))
	w := f.do(http.MethodPost, "/api/generate", GenerateRequest{
		Prompt: "tasks", Provider: "openai", Model: "gpt-4o", Options: GenerateOptions{Mode: ModeDSL},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp dsl.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "A table.", resp.Reasoning)
	require.Len(t, resp.DSL.Components, 1)
	require.NotNil(t, resp.DSL.Components[0].Resolved)
	assert.Equal(t, "/api/tasks", resp.DSL.Components[0].Resolved.Path)
	assert.Equal(t, llmtest.DefaultUsage, resp.TokensUsed)
}

func TestLegacyGenerateUnknownCapability(t *testing.T) {
	f := newFixture(t, nil, llmtest.New(`{"dsl":{"components":[{"type":"table","query":"listInvoices"}]}}`))
	w := f.do(http.MethodPost, "/api/generate", GenerateRequest{
		Prompt: "invoices", Provider: "openai", Model: "gpt-4o", Options: GenerateOptions{Mode: ModeDSL},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var body middleware.APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []string{"Unknown query: listInvoices"}, body.ResolutionErrors)
}

func TestLegacyStream(t *testing.T) {
	f := newFixture(t, nil, llmtest.New(legacyReply))
	w := f.do(http.MethodPost, "/api/generate/stream", GenerateRequest{
		Prompt: "tasks", Provider: "openai", Model: "gpt-4o", Options: GenerateOptions{Mode: ModeDSL},
	})
	require.Equal(t, http.StatusOK, w.Code)
	events := parseSSE(w.Body.String())
	require.Len(t, events, 2)
	assert.Equal(t, EventChunk, events[0].name)
	assert.Equal(t, EventDone, events[1].name)
	assert.Contains(t, events[1].data, `"resolved":{"method":"GET","path":"/api/tasks"}`)
}

func TestLegacyStreamValidationError(t *testing.T) {
	f := newFixture(t, nil, llmtest.New(`{"dsl":{"components":[{"type":"form"}]}}`))
	w := f.do(http.MethodPost, "/api/generate/stream", GenerateRequest{
		Prompt: "tasks", Provider: "openai", Model: "gpt-4o", Options: GenerateOptions{Mode: ModeDSL},
	})
	events := parseSSE(w.Body.String())
	last := events[len(events)-1]
	assert.Equal(t, EventError, last.name)
	assert.Contains(t, last.data, `"validationErrors":["dsl.components[0] (form) requires an action"]`)
}

func TestGetCapabilities(t *testing.T) {
	f := newFixture(t, nil, nil)
	w := f.do(http.MethodGet, "/api/capabilities", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		CapabilityMap struct {
			ProjectName string `json:"projectName"`
		} `json:"capabilityMap"`
		Summary capability.Summary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Task Tracker", resp.CapabilityMap.ProjectName)
	assert.Equal(t, 1, resp.Summary.Queries)
	assert.Equal(t, 1, resp.Summary.Actions)
}

type fakeLedger struct {
	got usage.Filter
}

func (l *fakeLedger) Totals(_ context.Context, f usage.Filter) ([]usage.Total, error) {
	l.got = f
	return []usage.Total{{Provider: "openai", Model: "gpt-4o", Runs: 3}}, nil
}

func TestGetUsage(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ledger := &fakeLedger{}
	h := NewUsageHandler(ledger, logger)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }

	r := gin.New()
	r.Use(middleware.Auth("secret", logger))
	r.GET("/usage", h.GetUsage)
	r.GET("/disabled", NewUsageHandler(nil, logger).GetUsage)

	req := httptest.NewRequest(http.MethodGet, "/usage?window=24h", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, "alice"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", ledger.got.Owner)
	assert.Equal(t, now.Add(-24*time.Hour), ledger.got.Since)
	assert.Contains(t, w.Body.String(), `"runs":3`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/usage?window=soon", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/disabled", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestDeepHealth(t *testing.T) {
	breaker := llm.NewCircuitBreaker()
	h := NewHealthHandler(
		PingFunc(func(context.Context) error { return nil }),
		PingFunc(func(context.Context) error { return errors.New("connection refused") }),
		nil,
		breaker,
		capability.NewStatic(taskMap()),
	)
	r := gin.New()
	r.GET("/health", h.Health)
	r.GET("/health/deep", h.DeepHealth)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/deep", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, map[string]string{
		"database":       "healthy",
		"redis":          "unhealthy: connection refused",
		"nats":           "not configured",
		"llm_circuit":    "closed",
		"capability_map": "loaded",
	}, resp.Dependencies)
}
