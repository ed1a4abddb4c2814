package pipeline

import (
	"github.com/capforge/api/internal/capability"
	"github.com/capforge/api/internal/models"
)

// IntentResult is either an *Intent or a *Clarification.
type IntentResult interface {
	isIntentResult()
}

// Intent is the structured reading of a user request.
type Intent struct {
	Type         string   `json:"type"`
	UIType       string   `json:"uiType"`
	Description  string   `json:"description"`
	Queries      []string `json:"queries"`
	Actions      []string `json:"actions"`
	EntityFocus  string   `json:"entityFocus,omitempty"`
	Requirements []string `json:"requirements"`
}

// Clarification is returned when the request is too ambiguous to act on.
type Clarification struct {
	Question  string   `json:"question"`
	Options   []string `json:"options"`
	Reasoning string   `json:"reasoning"`
}

func (*Intent) isIntentResult()        {}
func (*Clarification) isIntentResult() {}

// FeasibilityResult gates code generation on the available capabilities.
type FeasibilityResult struct {
	Feasible           bool              `json:"feasible"`
	Reasoning          string            `json:"reasoning"`
	Queries            []string          `json:"queries"`
	Actions            []string          `json:"actions"`
	ClarifyingQuestion string            `json:"clarifyingQuestion,omitempty"`
	Options            []string          `json:"options"`
	Keywords           []string          `json:"keywords"`
	CapabilitySubset   capability.Subset `json:"capabilitySubset"`
	TokensUsed         models.TokenUsage `json:"tokensUsed"`
}

// GeneratedCode is one codegen attempt. Each iteration replaces it wholesale.
type GeneratedCode struct {
	HTML      string `json:"html"`
	CSS       string `json:"css"`
	JS        string `json:"js"`
	Reasoning string `json:"reasoning"`
}

// Severity of a review issue.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Review verdicts.
const (
	VerdictPass = "PASS"
	VerdictFail = "FAIL"
)

// Issue is a single QA finding.
type Issue struct {
	Severity    string `json:"severity"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion,omitempty"`
}

// ReviewResult is the QA verdict on generated code.
type ReviewResult struct {
	Verdict string  `json:"verdict"`
	Issues  []Issue `json:"issues"`
	Notes   string  `json:"notes,omitempty"`
}

// ErrorIssues returns the issues that block acceptance.
func (r ReviewResult) ErrorIssues() []Issue {
	var out []Issue
	for _, issue := range r.Issues {
		if issue.Severity == SeverityError {
			out = append(out, issue)
		}
	}
	return out
}

// Outcome is the terminal result of a pipeline run: one of
// *ClarificationOutcome, *InfeasibleOutcome, *FailureOutcome or *SuccessOutcome.
type Outcome interface {
	Tokens() models.TokenUsage
	isOutcome()
}

// ClarificationOutcome asks the user to disambiguate their request.
type ClarificationOutcome struct {
	ClarifyingQuestion string            `json:"clarifyingQuestion"`
	Options            []string          `json:"options"`
	Reasoning          string            `json:"reasoning"`
	TokensUsed         models.TokenUsage `json:"tokensUsed"`
}

// FeasibilitySummary is the feasibility detail attached to an infeasible outcome.
type FeasibilitySummary struct {
	Feasible         bool              `json:"feasible"`
	Keywords         []string          `json:"keywords"`
	CapabilitySubset capability.Subset `json:"capabilitySubset"`
}

// InfeasibleOutcome explains that the request cannot be built from the capability map.
type InfeasibleOutcome struct {
	ClarifyingQuestion string             `json:"clarifyingQuestion"`
	Options            []string           `json:"options"`
	Reasoning          string             `json:"reasoning"`
	Feasibility        FeasibilitySummary `json:"feasibility"`
	TokensUsed         models.TokenUsage  `json:"tokensUsed"`
}

// FailureOutcome is a validation failure after generation started.
type FailureOutcome struct {
	Error      string            `json:"error"`
	TokensUsed models.TokenUsage `json:"tokensUsed"`
	Iterations int               `json:"iterations"`
}

// SuccessOutcome carries the generated, bound UI fragment.
type SuccessOutcome struct {
	HTML        string               `json:"html"`
	CSS         string               `json:"css"`
	JS          string               `json:"js"`
	Reasoning   string               `json:"reasoning"`
	APIBindings []capability.Binding `json:"apiBindings"`
	Iterations  int                  `json:"iterations"`
	TokensUsed  models.TokenUsage    `json:"tokensUsed"`
}

func (o *ClarificationOutcome) Tokens() models.TokenUsage { return o.TokensUsed }
func (o *InfeasibleOutcome) Tokens() models.TokenUsage    { return o.TokensUsed }
func (o *FailureOutcome) Tokens() models.TokenUsage       { return o.TokensUsed }
func (o *SuccessOutcome) Tokens() models.TokenUsage       { return o.TokensUsed }

func (*ClarificationOutcome) isOutcome() {}
func (*InfeasibleOutcome) isOutcome()    {}
func (*FailureOutcome) isOutcome()       {}
func (*SuccessOutcome) isOutcome()       {}

// Step names reported through StepFunc.
const (
	StepPipeline    = "pipeline"
	StepIntent      = "intent"
	StepFeasibility = "feasibility"
	StepCodegen     = "codegen"
	StepReview      = "review"
	StepIterate     = "iterate"
	StepResolve     = "resolve"
)

// Step statuses reported through StepFunc.
const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
)

// StepFunc receives progress notifications.
type StepFunc func(step, status string)
