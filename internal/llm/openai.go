package llm

import (
	"context"
	"strings"
	"time"

	"github.com/capforge/api/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type openAIProvider struct {
	client openai.Client
}

func newOpenAIProvider(apiKey string, timeout time.Duration) *openAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return &openAIProvider{client: openai.NewClient(opts...)}
}

func (p *openAIProvider) params(model ModelConfig, req Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:               model.Model,
		MaxCompletionTokens: openai.Int(int64(req.Config.maxTokens())),
	}
	if t, ok := model.Temperature(); ok {
		params.Temperature = openai.Float(t)
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))
	params.Messages = messages
	return params
}

func (p *openAIProvider) complete(ctx context.Context, model ModelConfig, req Request) (*Completion, error) {
	resp, err := p.client.Chat.Completions.New(ctx, p.params(model, req))
	if err != nil {
		return nil, err
	}

	out := &Completion{
		Usage: models.TokenUsage{
			Prompt:     int(resp.Usage.PromptTokens),
			Completion: int(resp.Usage.CompletionTokens),
		},
	}
	if len(resp.Choices) > 0 {
		out.Text = resp.Choices[0].Message.Content
	}
	return out, nil
}

func (p *openAIProvider) stream(ctx context.Context, model ModelConfig, req Request, onDelta func(string)) (*Completion, error) {
	params := p.params(model, req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var acc openai.ChatCompletionAccumulator
	var text strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			delta := chunk.Choices[0].Delta.Content
			text.WriteString(delta)
			onDelta(delta)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}

	return &Completion{
		Text: text.String(),
		Usage: models.TokenUsage{
			Prompt:     int(acc.Usage.PromptTokens),
			Completion: int(acc.Usage.CompletionTokens),
		},
	}, nil
}
