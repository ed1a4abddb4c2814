// Package llm is the single doorway to language model providers. Everything
// above it sees one operation: send a prompt and system prompt, get back text
// and token usage.
package llm

import (
	"context"

	"github.com/capforge/api/internal/models"
)

// DefaultMaxTokens is used when a request does not set a completion budget.
const DefaultMaxTokens = 4096

// Config selects a provider and model for a call.
type Config struct {
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	MaxTokens int    `json:"maxTokens,omitempty"`
}

// WithMaxTokens returns a copy of c with a different completion budget.
func (c Config) WithMaxTokens(n int) Config {
	c.MaxTokens = n
	return c
}

func (c Config) maxTokens() int {
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return DefaultMaxTokens
}

// Request is a single-turn completion request.
type Request struct {
	Prompt       string
	SystemPrompt string
	Config       Config
}

// Completion is the text and token usage of one call.
type Completion struct {
	Text  string
	Usage models.TokenUsage
}

// Generator performs one completion.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Completion, error)
}

// Streamer performs one completion and reports text deltas as they arrive.
type Streamer interface {
	Stream(ctx context.Context, req Request, onDelta func(string)) (*Completion, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (*Completion, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (*Completion, error) {
	return f(ctx, req)
}
