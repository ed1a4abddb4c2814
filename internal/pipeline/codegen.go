package pipeline

import (
	"context"

	"github.com/capforge/api/internal/capability"
	"github.com/capforge/api/internal/llm"
	"github.com/capforge/api/internal/models"
)

// CodegenInput is the context of one codegen attempt. Feedback and Previous
// are set together on iterations.
type CodegenInput struct {
	Prompt   string
	Intent   *Intent
	Map      *capability.Map
	LLM      llm.Config
	Feedback string
	Previous *GeneratedCode
}

// RunCodegenStep generates all three code blocks. On iterations the prompt
// carries the previous blocks and the QA feedback so they are regenerated together.
func RunCodegenStep(ctx context.Context, gen llm.Generator, in CodegenInput) (GeneratedCode, models.TokenUsage, error) {
	prompt := in.Prompt
	if in.Feedback != "" && in.Previous != nil {
		prompt = codegenIterationPrompt(in.Prompt, *in.Previous, in.Feedback)
	}

	out, err := gen.Generate(ctx, llm.Request{
		Prompt:       prompt,
		SystemPrompt: codegenSystemPrompt(in.Map, in.Intent),
		Config:       in.LLM,
	})
	if err != nil {
		return GeneratedCode{}, models.TokenUsage{}, err
	}
	return ParseCodeBlocks(out.Text), out.Usage, nil
}
