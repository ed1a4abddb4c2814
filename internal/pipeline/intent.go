package pipeline

import (
	"context"
	"strings"

	"github.com/capforge/api/internal/capability"
	"github.com/capforge/api/internal/jsonblock"
	"github.com/capforge/api/internal/llm"
	"github.com/capforge/api/internal/models"
)

// RunIntentStep asks the model to read the request as a structured intent or
// a clarification question.
func RunIntentStep(ctx context.Context, gen llm.Generator, prompt string, m *capability.Map, cfg llm.Config) (IntentResult, models.TokenUsage, error) {
	out, err := gen.Generate(ctx, llm.Request{
		Prompt:       prompt,
		SystemPrompt: intentSystemPrompt(m),
		Config:       cfg,
	})
	if err != nil {
		return nil, models.TokenUsage{}, err
	}
	return ParseIntentResponse(out.Text), out.Usage, nil
}

// ParseIntentResponse decodes an intent response. Unparsable text becomes a
// custom intent described by the text itself.
func ParseIntentResponse(text string) IntentResult {
	trimmed := strings.TrimSpace(text)
	obj, err := jsonblock.DecodeObject(trimmed)
	if err != nil {
		return fallbackIntent(trimmed)
	}

	if obj.String("type") == "clarification" {
		return &Clarification{
			Question:  obj.String("question"),
			Options:   obj.Strings("options"),
			Reasoning: obj.String("reasoning"),
		}
	}

	intent := &Intent{
		Type:         obj.String("type"),
		UIType:       obj.String("uiType"),
		Description:  obj.String("description"),
		Queries:      uniqueStrings(obj.Strings("queries")),
		Actions:      uniqueStrings(obj.Strings("actions")),
		EntityFocus:  obj.String("entityFocus"),
		Requirements: obj.Strings("requirements"),
	}
	if intent.Type == "" {
		intent.Type = "intent"
	}
	return intent
}

func fallbackIntent(text string) *Intent {
	return &Intent{
		Type:         "intent",
		UIType:       "custom",
		Description:  text,
		Queries:      []string{},
		Actions:      []string{},
		Requirements: []string{},
	}
}
