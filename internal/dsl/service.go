package dsl

import (
	"context"

	"github.com/capforge/api/internal/capability"
	"github.com/capforge/api/internal/llm"
	"github.com/capforge/api/internal/models"
	"github.com/capforge/api/internal/pipeline"
	"go.uber.org/zap"
)

// Request is one legacy DSL generation.
type Request struct {
	Prompt    string
	Provider  string
	Model     string
	MaxTokens int
}

func (r Request) config() llm.Config {
	cfg := llm.Config{Provider: r.Provider, Model: r.Model, MaxTokens: r.MaxTokens}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = llm.DefaultMaxTokens
	}
	return cfg
}

// Response is the legacy mode payload.
type Response struct {
	DSL        Document          `json:"dsl"`
	Reasoning  string            `json:"reasoning"`
	TokensUsed models.TokenUsage `json:"tokensUsed"`
}

// Service generates DSL documents in a single model call.
type Service struct {
	gen       llm.Generator
	validator pipeline.ConfigValidator
	maps      capability.Source
	logger    *zap.Logger
}

// NewService creates a new DSL service. validator may be nil.
func NewService(gen llm.Generator, validator pipeline.ConfigValidator, maps capability.Source, logger *zap.Logger) *Service {
	return &Service{gen: gen, validator: validator, maps: maps, logger: logger}
}

// CheckConfig rejects an unusable provider/model before any output is written.
func (s *Service) CheckConfig(req Request) error {
	if s.validator == nil {
		return nil
	}
	_, err := s.validator.Validate(req.config())
	return err
}

// Generate runs one synchronous generation.
func (s *Service) Generate(ctx context.Context, req Request) (*Response, error) {
	return s.run(ctx, req, nil)
}

// Stream runs one generation and reports text chunks as they arrive. When the
// generator cannot stream, the whole text arrives as a single chunk.
func (s *Service) Stream(ctx context.Context, req Request, onChunk func(string)) (*Response, error) {
	if onChunk == nil {
		onChunk = func(string) {}
	}
	return s.run(ctx, req, onChunk)
}

func (s *Service) run(ctx context.Context, req Request, onChunk func(string)) (*Response, error) {
	if err := s.CheckConfig(req); err != nil {
		return nil, err
	}

	var m *capability.Map
	if s.maps != nil {
		m = s.maps.Current()
	}
	llmReq := llm.Request{
		Prompt:       req.Prompt,
		SystemPrompt: BuildSystemPrompt(m),
		Config:       req.config(),
	}

	var out *llm.Completion
	var err error
	streamer, canStream := s.gen.(llm.Streamer)
	switch {
	case onChunk != nil && canStream:
		out, err = streamer.Stream(ctx, llmReq, onChunk)
	default:
		out, err = s.gen.Generate(ctx, llmReq)
		if err == nil && onChunk != nil && out.Text != "" {
			onChunk(out.Text)
		}
	}
	if err != nil {
		return nil, err
	}

	parsed, err := Parse(out.Text)
	if err != nil {
		return nil, err
	}
	doc, err := Resolve(parsed.DSL, m)
	if err != nil {
		return nil, err
	}

	s.logger.Info("legacy dsl generated",
		zap.Int("components", len(doc.Components)),
		zap.Int("prompt_tokens", out.Usage.Prompt),
		zap.Int("completion_tokens", out.Usage.Completion),
	)
	return &Response{DSL: doc, Reasoning: parsed.Reasoning, TokensUsed: out.Usage}, nil
}
