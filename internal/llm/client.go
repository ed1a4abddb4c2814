package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/capforge/api/internal/llm")

type provider interface {
	complete(ctx context.Context, model ModelConfig, req Request) (*Completion, error)
	stream(ctx context.Context, model ModelConfig, req Request, onDelta func(string)) (*Completion, error)
}

// Client routes requests to the configured provider SDKs.
type Client struct {
	catalog *Catalog
	breaker *CircuitBreaker
	timeout time.Duration
	logger  *zap.Logger

	mu        sync.Mutex
	providers map[string]provider
}

// NewClient creates a new provider client. breaker may be nil.
func NewClient(catalog *Catalog, breaker *CircuitBreaker, timeout time.Duration, logger *zap.Logger) *Client {
	if breaker != nil {
		prev := breaker.OnStateChange
		breaker.OnStateChange = func(from, to CircuitState) {
			breakerState.Set(float64(to))
			logger.Warn("llm circuit state changed", zap.Stringer("from", from), zap.Stringer("to", to))
			if prev != nil {
				prev(from, to)
			}
		}
	}
	return &Client{
		catalog:   catalog,
		breaker:   breaker,
		timeout:   timeout,
		logger:    logger,
		providers: make(map[string]provider),
	}
}

// Catalog returns the model catalog used for validation.
func (c *Client) Catalog() *Catalog {
	return c.catalog
}

// Generate performs one completion.
func (c *Client) Generate(ctx context.Context, req Request) (*Completion, error) {
	return c.call(ctx, req, nil)
}

// Stream performs one completion, reporting text deltas as they arrive.
func (c *Client) Stream(ctx context.Context, req Request, onDelta func(string)) (*Completion, error) {
	if onDelta == nil {
		onDelta = func(string) {}
	}
	return c.call(ctx, req, onDelta)
}

func (c *Client) call(ctx context.Context, req Request, onDelta func(string)) (*Completion, error) {
	model, err := c.catalog.Validate(req.Config)
	if err != nil {
		return nil, err
	}
	if c.breaker != nil && !c.breaker.Allow() {
		callsTotal.WithLabelValues(model.Provider, model.Model, "rejected").Inc()
		return nil, ErrCircuitOpen
	}
	p, err := c.provider(ctx, model.Provider)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "llm.generate", trace.WithAttributes(
		attribute.String("llm.provider", model.Provider),
		attribute.String("llm.model", model.Model),
		attribute.Int("llm.max_tokens", req.Config.maxTokens()),
		attribute.Bool("llm.stream", onDelta != nil),
	))
	defer span.End()

	start := time.Now()
	var out *Completion
	if onDelta != nil {
		out, err = p.stream(ctx, model, req, onDelta)
	} else {
		out, err = p.complete(ctx, model, req)
	}
	callDuration.WithLabelValues(model.Provider, model.Model).Observe(time.Since(start).Seconds())

	if err != nil {
		callsTotal.WithLabelValues(model.Provider, model.Model, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if c.breaker != nil && !errors.Is(ctx.Err(), context.Canceled) {
			c.breaker.RecordFailure()
		}
		c.logger.Warn("llm call failed",
			zap.String("provider", model.Provider),
			zap.String("model", model.Model),
			zap.Duration("latency", time.Since(start)),
			zap.Error(err),
		)
		return nil, &CallError{Provider: model.Provider, Model: model.Model, Err: err}
	}

	if c.breaker != nil {
		c.breaker.RecordSuccess()
	}
	callsTotal.WithLabelValues(model.Provider, model.Model, "ok").Inc()
	tokensTotal.WithLabelValues(model.Provider, model.Model, "prompt").Add(float64(out.Usage.Prompt))
	tokensTotal.WithLabelValues(model.Provider, model.Model, "completion").Add(float64(out.Usage.Completion))
	span.SetAttributes(
		attribute.Int("llm.tokens.prompt", out.Usage.Prompt),
		attribute.Int("llm.tokens.completion", out.Usage.Completion),
	)
	c.logger.Debug("llm call completed",
		zap.String("provider", model.Provider),
		zap.String("model", model.Model),
		zap.Duration("latency", time.Since(start)),
		zap.Int("prompt_tokens", out.Usage.Prompt),
		zap.Int("completion_tokens", out.Usage.Completion),
	)
	return out, nil
}

func (c *Client) provider(ctx context.Context, name string) (provider, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.providers[name]; ok {
		return p, nil
	}
	key, err := c.catalog.APIKey(name)
	if err != nil {
		return nil, err
	}

	var p provider
	switch name {
	case ProviderOpenAI:
		p = newOpenAIProvider(key, c.timeout)
	case ProviderAnthropic:
		p = newAnthropicProvider(key, c.timeout)
	case ProviderGoogle:
		g, err := newGeminiProvider(ctx, key, c.timeout)
		if err != nil {
			return nil, err
		}
		p = g
	default:
		return nil, c.catalog.unknownProvider(name)
	}
	c.providers[name] = p
	return p, nil
}
