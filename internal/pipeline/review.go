package pipeline

import (
	"context"
	"strings"

	"github.com/capforge/api/internal/capability"
	"github.com/capforge/api/internal/jsonblock"
	"github.com/capforge/api/internal/llm"
	"github.com/capforge/api/internal/models"
)

// ReviewInput is the code under review and its context.
type ReviewInput struct {
	Code   GeneratedCode
	Prompt string
	Map    *capability.Map
	LLM    llm.Config
}

// RunReviewStep asks the model to QA the generated code.
func RunReviewStep(ctx context.Context, gen llm.Generator, in ReviewInput) (ReviewResult, models.TokenUsage, error) {
	out, err := gen.Generate(ctx, llm.Request{
		Prompt:       reviewUserPrompt(in.Code, in.Prompt),
		SystemPrompt: reviewSystemPrompt(in.Map),
		Config:       in.LLM,
	})
	if err != nil {
		return ReviewResult{}, models.TokenUsage{}, err
	}
	return ParseReviewResponse(out.Text), out.Usage, nil
}

// ParseReviewResponse decodes a review. Anything unparsable passes so a flaky
// reviewer never blocks generation.
func ParseReviewResponse(text string) ReviewResult {
	obj, err := jsonblock.DecodeObject(text)
	if err != nil {
		return ReviewResult{Verdict: VerdictPass, Notes: "Review response could not be parsed"}
	}

	verdict := strings.ToUpper(obj.String("verdict"))
	if verdict == "" {
		verdict = VerdictPass
	}

	var issues []Issue
	for _, item := range obj.Objects("issues") {
		issues = append(issues, Issue{
			Severity:    strings.ToLower(item.String("severity")),
			Category:    item.String("category"),
			Description: item.String("description"),
			Suggestion:  item.String("suggestion"),
		})
	}
	return ReviewResult{Verdict: verdict, Issues: issues, Notes: obj.String("notes")}
}

// FormatReviewFeedback renders error-severity issues as bullet lines for the next codegen attempt.
func FormatReviewFeedback(issues []Issue) string {
	var lines []string
	for _, issue := range issues {
		if issue.Severity != SeverityError {
			continue
		}
		line := "- [" + issue.Category + "] " + issue.Description
		if issue.Suggestion != "" {
			line += " → " + issue.Suggestion
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
