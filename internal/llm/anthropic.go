package llm

import (
	"context"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/capforge/api/internal/models"
)

type anthropicProvider struct {
	client anthropic.Client
}

func newAnthropicProvider(apiKey string, timeout time.Duration) *anthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return &anthropicProvider{client: anthropic.NewClient(opts...)}
}

func (p *anthropicProvider) params(model ModelConfig, req Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model.Model),
		MaxTokens: int64(req.Config.maxTokens()),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if t, ok := model.Temperature(); ok {
		params.Temperature = anthropic.Float(t)
	}
	return params
}

func (p *anthropicProvider) complete(ctx context.Context, model ModelConfig, req Request) (*Completion, error) {
	msg, err := p.client.Messages.New(ctx, p.params(model, req))
	if err != nil {
		return nil, err
	}
	return anthropicCompletion(msg), nil
}

func (p *anthropicProvider) stream(ctx context.Context, model ModelConfig, req Request, onDelta func(string)) (*Completion, error) {
	stream := p.client.Messages.NewStreaming(ctx, p.params(model, req))
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, err
		}
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				onDelta(delta.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	return anthropicCompletion(&message), nil
}

func anthropicCompletion(msg *anthropic.Message) *Completion {
	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &Completion{
		Text: text.String(),
		Usage: models.TokenUsage{
			Prompt:     int(msg.Usage.InputTokens),
			Completion: int(msg.Usage.OutputTokens),
		},
	}
}
