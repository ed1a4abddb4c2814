package llm

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/capforge/api/internal/models"
	"google.golang.org/genai"
)

type geminiProvider struct {
	client *genai.Client
}

func newGeminiProvider(ctx context.Context, apiKey string, timeout time.Duration) (*geminiProvider, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: timeout}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &geminiProvider{client: client}, nil
}

func (p *geminiProvider) config(model ModelConfig, req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(req.Config.maxTokens()),
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if t, ok := model.Temperature(); ok {
		cfg.Temperature = genai.Ptr(float32(t))
	}
	return cfg
}

func (p *geminiProvider) complete(ctx context.Context, model ModelConfig, req Request) (*Completion, error) {
	resp, err := p.client.Models.GenerateContent(ctx, model.Model, genai.Text(req.Prompt), p.config(model, req))
	if err != nil {
		return nil, err
	}
	return &Completion{Text: resp.Text(), Usage: geminiUsage(resp)}, nil
}

func (p *geminiProvider) stream(ctx context.Context, model ModelConfig, req Request, onDelta func(string)) (*Completion, error) {
	var text strings.Builder
	var usage models.TokenUsage
	for resp, err := range p.client.Models.GenerateContentStream(ctx, model.Model, genai.Text(req.Prompt), p.config(model, req)) {
		if err != nil {
			return nil, err
		}
		if delta := resp.Text(); delta != "" {
			text.WriteString(delta)
			onDelta(delta)
		}
		if resp.UsageMetadata != nil {
			usage = geminiUsage(resp)
		}
	}
	return &Completion{Text: text.String(), Usage: usage}, nil
}

func geminiUsage(resp *genai.GenerateContentResponse) models.TokenUsage {
	if resp == nil || resp.UsageMetadata == nil {
		return models.TokenUsage{}
	}
	return models.TokenUsage{
		Prompt:     int(resp.UsageMetadata.PromptTokenCount),
		Completion: int(resp.UsageMetadata.CandidatesTokenCount),
	}
}
