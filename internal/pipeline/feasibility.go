package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/capforge/api/internal/capability"
	"github.com/capforge/api/internal/jsonblock"
	"github.com/capforge/api/internal/llm"
)

const (
	keywordMaxTokens = 256
	maxKeywords      = 8
	maxOptions       = 4
)

// FeasibilityInput is everything the feasibility step looks at.
type FeasibilityInput struct {
	Prompt string
	Intent *Intent
	Map    *capability.Map
	LLM    llm.Config
}

// RunFeasibilityStep decides whether the request can be built from the
// capability map. It short-circuits without a judgment call when the map is
// empty or nothing in it matches the request.
func RunFeasibilityStep(ctx context.Context, gen llm.Generator, in FeasibilityInput) (*FeasibilityResult, error) {
	m := in.Map
	if m.IsEmpty() {
		return &FeasibilityResult{
			Feasible:           false,
			Reasoning:          "No capability map available.",
			ClarifyingQuestion: "This app has not exposed any capabilities yet, so I cannot build this feature.",
			Queries:            []string{},
			Actions:            []string{},
			Options:            []string{},
			Keywords:           []string{},
		}, nil
	}

	intentBlock := intentJSON(in.Intent)
	kwOut, err := gen.Generate(ctx, llm.Request{
		Prompt:       fmt.Sprintf("User request:\n%q\n\nIntent (if available):\n%s", in.Prompt, intentBlock),
		SystemPrompt: keywordSystemPrompt,
		Config:       in.LLM.WithMaxTokens(keywordMaxTokens),
	})
	if err != nil {
		return nil, fmt.Errorf("keyword extraction: %w", err)
	}

	keywords := ParseKeywordResponse(kwOut.Text)
	subsetIn := capability.SubsetInput{Keywords: keywords, Prompt: in.Prompt}
	subset := capability.SelectSubset(m, subsetIn)

	if !capability.HasMatch(m, subsetIn) {
		return &FeasibilityResult{
			Feasible:           false,
			Reasoning:          "No matching capabilities found for the request.",
			ClarifyingQuestion: "I could not find any supported capabilities that match this request. Try one of these instead:",
			Queries:            []string{},
			Actions:            []string{},
			Options:            suggestOptions(m),
			Keywords:           keywords,
			CapabilitySubset:   subset,
			TokensUsed:         kwOut.Usage,
		}, nil
	}

	kwList := strings.Join(keywords, ", ")
	if kwList == "" {
		kwList = "none"
	}
	fOut, err := gen.Generate(ctx, llm.Request{
		Prompt:       fmt.Sprintf("User request:\n%q\n\nIntent (if available):\n%s\n\nKeywords:\n%s", in.Prompt, intentBlock, kwList),
		SystemPrompt: feasibilitySystemPrompt(describeSubset(subset, m.ProjectName)),
		Config:       in.LLM,
	})
	if err != nil {
		return nil, fmt.Errorf("feasibility judgment: %w", err)
	}

	result := judge(parseFeasibilityResponse(fOut.Text), in.Intent, m)
	result.Keywords = keywords
	result.CapabilitySubset = subset
	result.TokensUsed = kwOut.Usage.Add(fOut.Usage)
	return result, nil
}

// ParseKeywordResponse returns up to eight unique lowercase keywords, or none.
func ParseKeywordResponse(text string) []string {
	obj, err := jsonblock.DecodeObject(text)
	if err != nil {
		return []string{}
	}
	keywords := capability.NormalizeKeywords(obj.Strings("keywords"))
	if len(keywords) > maxKeywords {
		keywords = keywords[:maxKeywords]
	}
	return keywords
}

type feasibilityVerdict struct {
	feasible           bool
	reasoning          string
	queries            []string
	actions            []string
	clarifyingQuestion string
	options            []string
}

func parseFeasibilityResponse(text string) feasibilityVerdict {
	obj, err := jsonblock.DecodeObject(text)
	if err != nil {
		return feasibilityVerdict{
			feasible:  true,
			reasoning: "Feasibility response could not be parsed.",
		}
	}
	feasible, _ := obj.Bool("feasible")
	options := uniqueStrings(obj.Strings("options"))
	if len(options) > maxOptions {
		options = options[:maxOptions]
	}
	return feasibilityVerdict{
		feasible:           feasible,
		reasoning:          obj.String("reasoning"),
		queries:            uniqueStrings(obj.Strings("queries")),
		actions:            uniqueStrings(obj.Strings("actions")),
		clarifyingQuestion: obj.String("clarifyingQuestion"),
		options:            options,
	}
}

// judge applies the post-processing rules to the model's verdict.
func judge(v feasibilityVerdict, intent *Intent, m *capability.Map) *FeasibilityResult {
	if !v.feasible {
		if v.clarifyingQuestion == "" {
			return deterministicFallback(intent, m)
		}
		return &FeasibilityResult{
			Feasible:           false,
			Reasoning:          v.reasoning,
			Queries:            orEmpty(v.queries),
			Actions:            orEmpty(v.actions),
			ClarifyingQuestion: v.clarifyingQuestion,
			Options:            orEmpty(v.options),
		}
	}

	if len(v.queries) == 0 && len(v.actions) == 0 {
		var intentQueries, intentActions []string
		if intent != nil {
			intentQueries = uniqueStrings(intent.Queries)
			intentActions = uniqueStrings(intent.Actions)
		}
		hasRefs := len(intentQueries) > 0 || len(intentActions) > 0
		if hasRefs && len(missingRefs(intentQueries, m.Queries)) == 0 && len(missingRefs(intentActions, m.Actions)) == 0 {
			reasoning := v.reasoning
			if reasoning == "" {
				reasoning = "Using intent-matched capabilities."
			}
			return &FeasibilityResult{
				Feasible:  true,
				Reasoning: reasoning,
				Queries:   intentQueries,
				Actions:   intentActions,
				Options:   []string{},
			}
		}
		return &FeasibilityResult{
			Feasible:           false,
			Reasoning:          "No supported queries or actions were identified for this request.",
			ClarifyingQuestion: "Which of these supported capabilities should I use?",
			Queries:            []string{},
			Actions:            []string{},
			Options:            suggestOptions(m),
		}
	}

	badQueries := missingRefs(v.queries, m.Queries)
	badActions := missingRefs(v.actions, m.Actions)
	if len(badQueries) > 0 || len(badActions) > 0 {
		return &FeasibilityResult{
			Feasible:           false,
			Reasoning:          "Feasibility response referenced unsupported capabilities.",
			ClarifyingQuestion: missingRefMessage(badQueries, badActions, "I could not find matching capabilities for this request in this app."),
			Queries:            []string{},
			Actions:            []string{},
			Options:            []string{},
		}
	}

	return &FeasibilityResult{
		Feasible:  true,
		Reasoning: v.reasoning,
		Queries:   orEmpty(v.queries),
		Actions:   orEmpty(v.actions),
		Options:   orEmpty(v.options),
	}
}

// deterministicFallback checks the intent's refs against the map when the
// model declared the request infeasible without saying why.
func deterministicFallback(intent *Intent, m *capability.Map) *FeasibilityResult {
	var queries, actions []string
	if intent != nil {
		queries = uniqueStrings(intent.Queries)
		actions = uniqueStrings(intent.Actions)
	}
	badQueries := missingRefs(queries, m.Queries)
	badActions := missingRefs(actions, m.Actions)

	if len(badQueries) == 0 && len(badActions) == 0 {
		return &FeasibilityResult{
			Feasible: true,
			Queries:  []string{},
			Actions:  []string{},
			Options:  []string{},
		}
	}
	return &FeasibilityResult{
		Feasible:           false,
		Reasoning:          "Fallback validation detected unknown refs.",
		ClarifyingQuestion: missingRefMessage(badQueries, badActions, "This request references capabilities that are not available in this app."),
		Queries:            []string{},
		Actions:            []string{},
		Options:            suggestOptions(m),
	}
}

func missingRefs(refs []string, s capability.Section) []string {
	var missing []string
	for _, ref := range refs {
		if !s.Has(ref) {
			missing = append(missing, ref)
		}
	}
	return missing
}

func humanizeAll(refs []string) []string {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		if h := HumanizeRef(ref); h != "" {
			out = append(out, h)
		}
	}
	return out
}

func missingRefMessage(queries, actions []string, fallback string) string {
	hq := humanizeAll(queries)
	ha := humanizeAll(actions)
	switch {
	case len(hq) > 0 && len(ha) > 0:
		return fmt.Sprintf("I couldn't find data sources (%s) or actions (%s) in this app.", strings.Join(hq, ", "), strings.Join(ha, ", "))
	case len(hq) > 0:
		return fmt.Sprintf("I couldn't find data sources for %s in this app.", strings.Join(hq, ", "))
	case len(ha) > 0:
		return fmt.Sprintf("I couldn't find actions for %s in this app.", strings.Join(ha, ", "))
	}
	return fallback
}

// suggestOptions lists up to four capability descriptions, queries first.
func suggestOptions(m *capability.Map) []string {
	options := make([]string, 0, maxOptions)
	add := func(s capability.Section, verb string) {
		for _, e := range s.Entries() {
			if len(options) >= maxOptions {
				return
			}
			label := e.Capability.Description
			if label == "" {
				label = verb + " " + HumanizeRef(e.Name)
			}
			options = append(options, label)
		}
	}
	add(m.Queries, "Show")
	add(m.Actions, "Run")
	return options
}

func orEmpty(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
