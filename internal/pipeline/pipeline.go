// Package pipeline turns a natural-language UI request into a bound HTML/CSS/JS
// fragment through a fixed sequence of model calls with validation between them.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/capforge/api/internal/capability"
	"github.com/capforge/api/internal/llm"
	"github.com/capforge/api/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// MaxIterations bounds codegen attempts, and so review rounds, per run.
const MaxIterations = 3

var tracer = otel.Tracer("github.com/capforge/api/internal/pipeline")

// ConfigValidator rejects unusable provider/model selections before any call.
type ConfigValidator interface {
	Validate(cfg llm.Config) (llm.ModelConfig, error)
}

// Request is one pipeline run.
type Request struct {
	Prompt    string
	Provider  string
	Model     string
	MaxTokens int
	// CapabilityMap overrides the orchestrator's source for this run.
	CapabilityMap *capability.Map
}

// Orchestrator runs the generation pipeline.
type Orchestrator struct {
	gen       llm.Generator
	validator ConfigValidator
	maps      capability.Source
	logger    *zap.Logger
}

// NewOrchestrator creates a new orchestrator. validator may be nil.
func NewOrchestrator(gen llm.Generator, validator ConfigValidator, maps capability.Source, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{gen: gen, validator: validator, maps: maps, logger: logger}
}

// Run executes the pipeline to a terminal outcome. A returned error is a
// configuration or transport failure; validation failures are *FailureOutcome.
func (o *Orchestrator) Run(ctx context.Context, req Request, onStep StepFunc) (Outcome, error) {
	if onStep == nil {
		onStep = func(string, string) {}
	}
	cfg := llm.Config{Provider: req.Provider, Model: req.Model, MaxTokens: req.MaxTokens}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = llm.DefaultMaxTokens
	}
	if o.validator != nil {
		if _, err := o.validator.Validate(cfg); err != nil {
			return nil, err
		}
	}

	m := req.CapabilityMap
	if m == nil && o.maps != nil {
		m = o.maps.Current()
	}
	if m == nil {
		m = capability.Empty()
	}

	ctx, span := tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("llm.provider", cfg.Provider),
		attribute.String("llm.model", cfg.Model),
		attribute.Int("prompt.length", len(req.Prompt)),
	))
	defer span.End()

	r := &run{
		o:      o,
		req:    req,
		cfg:    cfg,
		m:      m,
		onStep: onStep,
		logger: o.logger.With(zap.String("provider", cfg.Provider), zap.String("model", cfg.Model)),
	}
	outcome, err := r.execute(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		outcomesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	label := outcomeLabel(outcome)
	outcomesTotal.WithLabelValues(label).Inc()
	tokens := outcome.Tokens()
	span.SetAttributes(
		attribute.String("pipeline.outcome", label),
		attribute.Int("pipeline.tokens.prompt", tokens.Prompt),
		attribute.Int("pipeline.tokens.completion", tokens.Completion),
	)
	return outcome, nil
}

type run struct {
	o      *Orchestrator
	req    Request
	cfg    llm.Config
	m      *capability.Map
	onStep StepFunc
	logger *zap.Logger
	tokens models.TokenUsage
}

// step reports start, runs fn in a span, and reports completion on success.
func (r *run) step(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	r.onStep(name, StatusStarted)
	ctx, span := tracer.Start(ctx, "pipeline."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	stepDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%s step: %w", name, err)
	}
	r.onStep(name, StatusCompleted)
	return nil
}

func (r *run) execute(ctx context.Context) (Outcome, error) {
	var intentResult IntentResult
	err := r.step(ctx, StepIntent, func(ctx context.Context) error {
		res, usage, err := RunIntentStep(ctx, r.o.gen, r.req.Prompt, r.m, r.cfg)
		if err != nil {
			return err
		}
		r.tokens = r.tokens.Add(usage)
		intentResult = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	var intent *Intent
	switch res := intentResult.(type) {
	case *Clarification:
		return &ClarificationOutcome{
			ClarifyingQuestion: res.Question,
			Options:            orEmpty(res.Options),
			Reasoning:          res.Reasoning,
			TokensUsed:         r.tokens,
		}, nil
	case *Intent:
		intent = res
	}

	var feasibility *FeasibilityResult
	err = r.step(ctx, StepFeasibility, func(ctx context.Context) error {
		res, err := RunFeasibilityStep(ctx, r.o.gen, FeasibilityInput{Prompt: r.req.Prompt, Intent: intent, Map: r.m, LLM: r.cfg})
		if err != nil {
			return err
		}
		r.tokens = r.tokens.Add(res.TokensUsed)
		feasibility = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !feasibility.Feasible {
		question := feasibility.ClarifyingQuestion
		if question == "" {
			question = "This request is not feasible with the available capabilities."
		}
		return &InfeasibleOutcome{
			ClarifyingQuestion: question,
			Options:            orEmpty(feasibility.Options),
			Reasoning:          feasibility.Reasoning,
			Feasibility: FeasibilitySummary{
				Feasible:         false,
				Keywords:         orEmpty(feasibility.Keywords),
				CapabilitySubset: feasibility.CapabilitySubset,
			},
			TokensUsed: r.tokens,
		}, nil
	}

	var code GeneratedCode
	err = r.step(ctx, StepCodegen, func(ctx context.Context) error {
		res, usage, err := RunCodegenStep(ctx, r.o.gen, CodegenInput{Prompt: r.req.Prompt, Intent: intent, Map: r.m, LLM: r.cfg})
		if err != nil {
			return err
		}
		r.tokens = r.tokens.Add(usage)
		code = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	iterations := 1

	if errs := ValidateParsedCode(code); len(errs) > 0 {
		return &FailureOutcome{
			Error:      "Code generation failed: " + strings.Join(errs, "; "),
			TokensUsed: r.tokens,
			Iterations: iterations,
		}, nil
	}

	for i := 0; i < MaxIterations; i++ {
		var review ReviewResult
		err = r.step(ctx, StepReview, func(ctx context.Context) error {
			res, usage, err := RunReviewStep(ctx, r.o.gen, ReviewInput{Code: code, Prompt: r.req.Prompt, Map: r.m, LLM: r.cfg})
			if err != nil {
				return err
			}
			r.tokens = r.tokens.Add(usage)
			review = res
			return nil
		})
		if err != nil {
			return nil, err
		}

		if review.Verdict == VerdictPass || len(review.ErrorIssues()) == 0 || i == MaxIterations-1 {
			break
		}

		r.logger.Debug("review requested changes",
			zap.Int("iteration", iterations),
			zap.Int("error_issues", len(review.ErrorIssues())),
		)
		previous := code
		err = r.step(ctx, StepIterate, func(ctx context.Context) error {
			res, usage, err := RunCodegenStep(ctx, r.o.gen, CodegenInput{
				Prompt:   r.req.Prompt,
				Intent:   intent,
				Map:      r.m,
				LLM:      r.cfg,
				Feedback: FormatReviewFeedback(review.Issues),
				Previous: &previous,
			})
			if err != nil {
				return err
			}
			r.tokens = r.tokens.Add(usage)
			code = res
			return nil
		})
		if err != nil {
			return nil, err
		}
		iterations++
	}
	iterationsHist.Observe(float64(iterations))

	r.onStep(StepResolve, StatusStarted)
	report := capability.ResolveBindings(code.JS, r.m)
	if !report.Validation.Valid {
		return &FailureOutcome{
			Error:      "Generated code referenced unsupported capabilities: " + strings.Join(report.Validation.Errors, "; "),
			TokensUsed: r.tokens,
			Iterations: iterations,
		}, nil
	}

	missingQueries := notIn(feasibility.Queries, report.Refs.Queries)
	missingActions := notIn(feasibility.Actions, report.Refs.Actions)
	if len(missingQueries) > 0 || len(missingActions) > 0 {
		var parts []string
		if len(missingQueries) > 0 {
			parts = append(parts, "queries: "+strings.Join(missingQueries, ", "))
		}
		if len(missingActions) > 0 {
			parts = append(parts, "actions: "+strings.Join(missingActions, ", "))
		}
		return &FailureOutcome{
			Error:      fmt.Sprintf("Generated code did not implement required capabilities (%s).", strings.Join(parts, " | ")),
			TokensUsed: r.tokens,
			Iterations: iterations,
		}, nil
	}
	r.onStep(StepResolve, StatusCompleted)

	r.logger.Info("pipeline generated code",
		zap.Int("html_len", len(code.HTML)),
		zap.Int("css_len", len(code.CSS)),
		zap.Int("js_len", len(code.JS)),
		zap.Int("bindings", len(report.Bindings)),
		zap.Int("iterations", iterations),
		zap.Int("prompt_tokens", r.tokens.Prompt),
		zap.Int("completion_tokens", r.tokens.Completion),
	)

	return &SuccessOutcome{
		HTML:        code.HTML,
		CSS:         code.CSS,
		JS:          code.JS,
		Reasoning:   code.Reasoning,
		APIBindings: report.Bindings,
		Iterations:  iterations,
		TokensUsed:  r.tokens,
	}, nil
}

func notIn(required, present []string) []string {
	have := make(map[string]struct{}, len(present))
	for _, p := range present {
		have[p] = struct{}{}
	}
	var missing []string
	for _, ref := range uniqueStrings(required) {
		if _, ok := have[ref]; !ok {
			missing = append(missing, ref)
		}
	}
	return missing
}

func outcomeLabel(o Outcome) string {
	switch o.(type) {
	case *ClarificationOutcome:
		return "clarification"
	case *InfeasibleOutcome:
		return "infeasible"
	case *FailureOutcome:
		return "failure"
	case *SuccessOutcome:
		return "success"
	}
	return "unknown"
}
