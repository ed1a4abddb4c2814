package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/capforge/api/internal/capability"
	"github.com/capforge/api/internal/llm"
	"github.com/capforge/api/internal/llm/llmtest"
	"github.com/capforge/api/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func taskMap() *capability.Map {
	m := capability.Empty()
	m.ProjectName = "Task Tracker"
	m.Queries = capability.NewSection(
		capability.Entry{Name: "listTasks", Capability: capability.Capability{Endpoint: "GET /api/tasks", Description: "List all tasks"}},
		capability.Entry{Name: "getTask", Capability: capability.Capability{Endpoint: "GET /api/tasks/:id", Description: "Get a single task"}},
		capability.Entry{Name: "getStats", Capability: capability.Capability{Endpoint: "GET /api/stats", Description: "Get task statistics"}},
	)
	m.Actions = capability.NewSection(
		capability.Entry{Name: "createTask", Capability: capability.Capability{Endpoint: "POST /api/tasks", Description: "Create a new task"}},
		capability.Entry{Name: "deleteTask", Capability: capability.Capability{Endpoint: "DELETE /api/tasks/:id", Description: "Delete a task"}},
	)
	return m
}

const (
	listIntent   = `{"type":"intent","uiType":"list","description":"Task list","queries":["listTasks"],"actions":[],"requirements":["show titles"]}`
	taskKeywords = `{"keywords":["tasks","list"]}`
	listFeasible = `{"feasible":true,"reasoning":"listTasks covers it","queries":["listTasks"],"actions":[]}`
	passReview   = `{"verdict":"PASS","issues":[],"notes":"looks good"}`
	failReview   = `{"verdict":"FAIL","issues":[{"severity":"error","category":"dom","description":"missing #list","suggestion":"add it"},{"severity":"warning","category":"style","description":"tight padding"}]}`
)

func codeResponse(js string) string {
	return "I'll render the tasks as a list.\n\n```html\n<ul id=\"list\"></ul>\n```\n\n```css\n#list { padding: 8px; }\n```\n\n```javascript\n" + js + "\n```\n"
}

const listJS = `ncodes.query("listTasks").then(render);`

type stepRecorder struct {
	mu    sync.Mutex
	steps []string
}

func (s *stepRecorder) record(step, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step+":"+status)
}

func newOrchestrator(t *testing.T, gen llm.Generator, m *capability.Map) *Orchestrator {
	return NewOrchestrator(gen, nil, capability.NewStatic(m), zaptest.NewLogger(t))
}

func request(prompt string) Request {
	return Request{Prompt: prompt, Provider: llm.ProviderOpenAI, Model: "gpt-4o"}
}

func TestRunHappyPath(t *testing.T) {
	gen := llmtest.New(listIntent, taskKeywords, listFeasible, codeResponse(listJS), passReview)
	rec := &stepRecorder{}

	out, err := newOrchestrator(t, gen, taskMap()).Run(context.Background(), request("show me all my tasks"), rec.record)
	require.NoError(t, err)

	success, ok := out.(*SuccessOutcome)
	require.True(t, ok, "got %T", out)
	assert.Equal(t, `<ul id="list"></ul>`, success.HTML)
	assert.Equal(t, listJS, success.JS)
	assert.Equal(t, "I'll render the tasks as a list.", success.Reasoning)
	assert.Equal(t, 1, success.Iterations)
	assert.Equal(t, models.TokenUsage{Prompt: 50, Completion: 25}, success.TokensUsed)
	assert.Equal(t, []capability.Binding{
		{Type: capability.KindQuery, Ref: "listTasks", Resolved: capability.Route{Method: "GET", Path: "/api/tasks"}},
	}, success.APIBindings)

	assert.Equal(t, []string{
		"intent:started", "intent:completed",
		"feasibility:started", "feasibility:completed",
		"codegen:started", "codegen:completed",
		"review:started", "review:completed",
		"resolve:started", "resolve:completed",
	}, rec.steps)

	calls := gen.Calls()
	require.Len(t, calls, 5)
	assert.Equal(t, 256, calls[1].Config.MaxTokens, "keyword call uses a small budget")
	assert.Equal(t, llm.DefaultMaxTokens, calls[2].Config.MaxTokens)
	assert.Contains(t, calls[2].SystemPrompt, "Available Queries:\n  - listTasks: List all tasks")
}

func TestRunClarification(t *testing.T) {
	gen := llmtest.New(`{"type":"clarification","question":"Which board?","options":["Work","Home"],"reasoning":"two boards"}`)

	out, err := newOrchestrator(t, gen, taskMap()).Run(context.Background(), request("show the board"), nil)
	require.NoError(t, err)

	clar, ok := out.(*ClarificationOutcome)
	require.True(t, ok, "got %T", out)
	assert.Equal(t, "Which board?", clar.ClarifyingQuestion)
	assert.Equal(t, []string{"Work", "Home"}, clar.Options)
	assert.Equal(t, llmtest.DefaultUsage, clar.TokensUsed)
	assert.Len(t, gen.Calls(), 1)
}

func TestRunEmptyMapSkipsFeasibilityCalls(t *testing.T) {
	gen := llmtest.New(listIntent)

	out, err := newOrchestrator(t, gen, capability.Empty()).Run(context.Background(), request("show tasks"), nil)
	require.NoError(t, err)

	inf, ok := out.(*InfeasibleOutcome)
	require.True(t, ok, "got %T", out)
	assert.Equal(t, "This app has not exposed any capabilities yet, so I cannot build this feature.", inf.ClarifyingQuestion)
	assert.Equal(t, "No capability map available.", inf.Reasoning)
	assert.False(t, inf.Feasibility.Feasible)
	assert.Equal(t, llmtest.DefaultUsage, inf.TokensUsed)
	assert.Len(t, gen.Calls(), 1)
}

func TestRunNoMatchShortCircuit(t *testing.T) {
	gen := llmtest.New(
		`{"type":"intent","uiType":"form","description":"Refund","queries":[],"actions":["refundPayment"]}`,
		`{"keywords":["refund","payment"]}`,
	)

	out, err := newOrchestrator(t, gen, taskMap()).Run(context.Background(), request("refund a payment"), nil)
	require.NoError(t, err)

	inf, ok := out.(*InfeasibleOutcome)
	require.True(t, ok, "got %T", out)
	assert.Equal(t, "I could not find any supported capabilities that match this request. Try one of these instead:", inf.ClarifyingQuestion)
	assert.Equal(t, []string{"List all tasks", "Get a single task", "Get task statistics", "Create a new task"}, inf.Options)
	assert.Equal(t, []string{"refund", "payment"}, inf.Feasibility.Keywords)
	assert.Equal(t, []string{"listTasks", "getTask", "getStats"}, inf.Feasibility.CapabilitySubset.Queries.Names())
	assert.Equal(t, models.TokenUsage{Prompt: 20, Completion: 10}, inf.TokensUsed)
	assert.Len(t, gen.Calls(), 2, "no feasibility judgment call")

	data, err := json.Marshal(inf)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"capabilitySubset":{"queries":{"listTasks":`)
}

func TestRunIterationBound(t *testing.T) {
	gen := llmtest.New(listIntent, taskKeywords, listFeasible,
		codeResponse(listJS), failReview,
		codeResponse(listJS), failReview,
		codeResponse(listJS), failReview,
	)
	rec := &stepRecorder{}

	out, err := newOrchestrator(t, gen, taskMap()).Run(context.Background(), request("show me all my tasks"), rec.record)
	require.NoError(t, err)

	success, ok := out.(*SuccessOutcome)
	require.True(t, ok, "got %T", out)
	assert.Equal(t, MaxIterations, success.Iterations)
	assert.Equal(t, 0, gen.Remaining())

	var reviews, iterates int
	for _, s := range rec.steps {
		switch s {
		case "review:started":
			reviews++
		case "iterate:started":
			iterates++
		}
	}
	assert.Equal(t, 3, reviews)
	assert.Equal(t, 2, iterates)

	iteration := gen.Calls()[5]
	assert.Contains(t, iteration.Prompt, `Original request: "show me all my tasks"`)
	assert.Contains(t, iteration.Prompt, "## QA Feedback\n- [dom] missing #list → add it\n")
	assert.NotContains(t, iteration.Prompt, "tight padding")
	assert.Contains(t, iteration.Prompt, "```javascript\n"+listJS+"\n```")
}

func TestRunReviewFailWithoutErrorsStops(t *testing.T) {
	gen := llmtest.New(listIntent, taskKeywords, listFeasible, codeResponse(listJS),
		`{"verdict":"FAIL","issues":[{"severity":"warning","category":"style","description":"meh"}]}`)

	out, err := newOrchestrator(t, gen, taskMap()).Run(context.Background(), request("show me all my tasks"), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, out.(*SuccessOutcome).Iterations)
}

func TestRunUnsupportedBinding(t *testing.T) {
	js := listJS + "\nncodes.action('deleteAllUsers', {});"
	gen := llmtest.New(listIntent, taskKeywords, listFeasible, codeResponse(js), passReview)
	rec := &stepRecorder{}

	out, err := newOrchestrator(t, gen, taskMap()).Run(context.Background(), request("show me all my tasks"), rec.record)
	require.NoError(t, err)

	failure, ok := out.(*FailureOutcome)
	require.True(t, ok, "got %T", out)
	assert.Equal(t, "Generated code referenced unsupported capabilities: Unknown action: deleteAllUsers", failure.Error)
	assert.Equal(t, 1, failure.Iterations)
	assert.Equal(t, "resolve:started", rec.steps[len(rec.steps)-1])
}

func TestRunMissingRequiredCapability(t *testing.T) {
	feasible := `{"feasible":true,"queries":["listTasks","getStats"],"actions":["createTask"]}`
	gen := llmtest.New(listIntent, taskKeywords, feasible, codeResponse(listJS), passReview)

	out, err := newOrchestrator(t, gen, taskMap()).Run(context.Background(), request("show me all my tasks"), nil)
	require.NoError(t, err)

	failure, ok := out.(*FailureOutcome)
	require.True(t, ok, "got %T", out)
	assert.Equal(t, "Generated code did not implement required capabilities (queries: getStats | actions: createTask).", failure.Error)
}

func TestRunMissingHTML(t *testing.T) {
	gen := llmtest.New(listIntent, taskKeywords, listFeasible, "Sorry, I can't do that.")

	out, err := newOrchestrator(t, gen, taskMap()).Run(context.Background(), request("show me all my tasks"), nil)
	require.NoError(t, err)

	failure, ok := out.(*FailureOutcome)
	require.True(t, ok, "got %T", out)
	assert.True(t, strings.HasPrefix(failure.Error, "Code generation failed: "))
	assert.Equal(t, 1, failure.Iterations)
	assert.Equal(t, models.TokenUsage{Prompt: 40, Completion: 20}, failure.TokensUsed)
}

func TestRunTransportError(t *testing.T) {
	boom := errors.New("connection reset")
	gen := llmtest.New(listIntent, taskKeywords, listFeasible, codeResponse(listJS)).Then(llmtest.Reply{Err: boom})

	out, err := newOrchestrator(t, gen, taskMap()).Run(context.Background(), request("show me all my tasks"), nil)
	assert.Nil(t, out)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "review step")
}

func TestRunValidatesConfigFirst(t *testing.T) {
	gen := llmtest.New()
	catalog := llm.NewCatalog(nil, nil)
	o := NewOrchestrator(gen, catalog, capability.NewStatic(taskMap()), zaptest.NewLogger(t))

	_, err := o.Run(context.Background(), request("show tasks"), nil)
	var keyErr *llm.APIKeyError
	require.ErrorAs(t, err, &keyErr)
	assert.Empty(t, gen.Calls())
}

func TestRunUsesMapOverride(t *testing.T) {
	gen := llmtest.New(listIntent)
	req := request("show tasks")
	req.CapabilityMap = capability.Empty()

	out, err := newOrchestrator(t, gen, taskMap()).Run(context.Background(), req, nil)
	require.NoError(t, err)
	assert.IsType(t, &InfeasibleOutcome{}, out)
}

func TestSuccessOutcomeJSONShape(t *testing.T) {
	data, err := json.Marshal(&SuccessOutcome{HTML: "<p></p>", APIBindings: []capability.Binding{}})
	require.NoError(t, err)
	for _, key := range []string{`"html"`, `"css"`, `"js"`, `"reasoning"`, `"apiBindings"`, `"iterations"`, `"tokensUsed":{"prompt":0,"completion":0}`} {
		assert.Contains(t, string(data), key)
	}
}
