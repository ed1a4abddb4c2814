// Package llmtest provides a scripted llm.Generator for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/capforge/api/internal/llm"
	"github.com/capforge/api/internal/models"
)

// Reply is one scripted response.
type Reply struct {
	Text  string
	Err   error
	Usage models.TokenUsage
}

// DefaultUsage is charged for replies that do not set Usage.
var DefaultUsage = models.TokenUsage{Prompt: 10, Completion: 5}

// Scripted answers calls in order from a fixed list of replies and records
// every request it receives.
type Scripted struct {
	mu      sync.Mutex
	replies []Reply
	calls   []llm.Request
	// Fallback, if set, answers calls after the script is exhausted.
	Fallback func(req llm.Request) Reply
}

// New returns a generator that answers with texts in order.
func New(texts ...string) *Scripted {
	s := &Scripted{}
	for _, t := range texts {
		s.replies = append(s.replies, Reply{Text: t})
	}
	return s
}

// Then appends a reply.
func (s *Scripted) Then(r Reply) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, r)
	return s
}

// Generate implements llm.Generator.
func (s *Scripted) Generate(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.calls = append(s.calls, req)
	var r Reply
	switch {
	case len(s.replies) > 0:
		r = s.replies[0]
		s.replies = s.replies[1:]
	case s.Fallback != nil:
		r = s.Fallback(req)
	default:
		s.mu.Unlock()
		return nil, fmt.Errorf("llmtest: unexpected call %d", len(s.calls))
	}
	s.mu.Unlock()

	if r.Err != nil {
		return nil, r.Err
	}
	usage := r.Usage
	if usage == (models.TokenUsage{}) {
		usage = DefaultUsage
	}
	return &llm.Completion{Text: r.Text, Usage: usage}, nil
}

// Stream implements llm.Streamer by emitting the scripted text as a single delta.
func (s *Scripted) Stream(ctx context.Context, req llm.Request, onDelta func(string)) (*llm.Completion, error) {
	out, err := s.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if onDelta != nil && out.Text != "" {
		onDelta(out.Text)
	}
	return out, nil
}

// Calls returns the requests received so far.
func (s *Scripted) Calls() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Request, len(s.calls))
	copy(out, s.calls)
	return out
}

// Remaining returns the number of unused scripted replies.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.replies)
}
