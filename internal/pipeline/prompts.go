package pipeline

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/capforge/api/internal/capability"
)

// DescribeMap renders the whole capability map for system prompts.
func DescribeMap(m *capability.Map) string {
	if m.IsEmpty() {
		return "No capabilities are available."
	}

	var b strings.Builder
	if m.ProjectName != "" {
		fmt.Fprintf(&b, "Application: %s\n\n", m.ProjectName)
	}
	if len(m.Entities) > 0 {
		names := make([]string, 0, len(m.Entities))
		for name := range m.Entities {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintf(&b, "Entities: %s\n\n", strings.Join(names, ", "))
	}
	writeSection(&b, "Queries (read data)", m.Queries, capability.KindQuery)
	writeSection(&b, "Actions (change data)", m.Actions, capability.KindAction)
	return strings.TrimSpace(b.String())
}

func writeSection(b *strings.Builder, title string, s capability.Section, kind capability.Kind) {
	if s.Len() == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", title)
	for _, e := range s.Entries() {
		route := capability.RouteFor(e.Capability, kind)
		fmt.Fprintf(b, "  - %s: %s %s", e.Name, route.Method, route.Path)
		if e.Capability.Description != "" {
			fmt.Fprintf(b, " (%s)", e.Capability.Description)
		}
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
}

// describeSubset renders the scoped capability context for the feasibility judgment.
func describeSubset(sub capability.Subset, projectName string) string {
	var parts []string
	if projectName != "" {
		parts = append(parts, "Application: "+projectName)
	}
	if lines := subsetLines(sub.Queries); lines != "" {
		parts = append(parts, "Available Queries:\n"+lines)
	}
	if lines := subsetLines(sub.Actions); lines != "" {
		parts = append(parts, "Available Actions:\n"+lines)
	}
	if len(parts) == 0 {
		return "No capability map entries are available."
	}
	return strings.Join(parts, "\n\n")
}

func subsetLines(s capability.Section) string {
	lines := make([]string, 0, s.Len())
	for _, e := range s.Entries() {
		desc := e.Capability.Description
		if desc == "" {
			desc = e.Capability.Endpoint
		}
		if desc == "" {
			desc = "No description"
		}
		lines = append(lines, fmt.Sprintf("  - %s: %s", e.Name, desc))
	}
	return strings.Join(lines, "\n")
}

func intentJSON(intent *Intent) string {
	if intent == nil {
		return "{}"
	}
	data, err := json.Marshal(intent)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func intentSystemPrompt(m *capability.Map) string {
	return `You analyze requests for UI features that will be generated against an existing application.

## Capabilities
` + DescribeMap(m) + `

## Task
Read the user's request and describe what UI they want, using only the capability names listed above.

## Output Format
Return ONLY a JSON object.

If the request is clear:
{
  "type": "intent",
  "uiType": "table | list | form | dashboard | detail | chart | custom",
  "description": "One sentence describing the UI",
  "queries": ["queryName"],
  "actions": ["actionName"],
  "entityFocus": "Primary entity, if any",
  "requirements": ["Concrete requirement"]
}

If the request is too ambiguous to build:
{
  "type": "clarification",
  "question": "Question to ask the user",
  "options": ["Option A", "Option B"],
  "reasoning": "Why clarification is needed"
}

Rules:
- Only name queries and actions that appear in the capability list
- Ask for clarification only when you cannot pick a reasonable interpretation
- JSON only, no markdown`
}

const keywordSystemPrompt = `You are a search assistant for a capability map.

Return ONLY a JSON object with this shape:
{
  "keywords": ["keyword1", "keyword2"]
}

Rules:
- 3 to 8 keywords or short phrases (1-3 words each)
- Focus on domain entities, user intent verbs, and data types
- Include synonyms if helpful
- Use lowercase
- JSON only, no markdown`

func feasibilitySystemPrompt(capabilityContext string) string {
	return `You are a feasibility checker for a UI generation system.

## Capability Context
` + capabilityContext + `

## Task
Decide whether the user's request can be fulfilled using ONLY the capabilities listed above.
The request is feasible ONLY if every requested feature can be implemented with the listed queries/actions
and client-side logic over their results. If any requested feature would require a missing query/action,
mark it infeasible. Do NOT allow partial solutions or placeholder UI.

## Output Format
Return ONLY a JSON object:

If feasible:
{
  "feasible": true,
  "reasoning": "Short explanation",
  "queries": ["queryRef"],
  "actions": ["actionRef"]
}

If NOT feasible:
{
  "feasible": false,
  "reasoning": "Why it cannot be fulfilled",
  "clarifyingQuestion": "Question to ask the user",
  "options": ["Option A", "Option B"]
}

Rules:
- Base your answer strictly on the capabilities listed above
- If any requested feature is unsupported, respond infeasible
- Do not suggest fake data, "coming soon" UI, or placeholder buttons
- Use short, user-friendly options (1-4) when infeasible
- JSON only, no markdown`
}

func codegenSystemPrompt(m *capability.Map, intent *Intent) string {
	return `You build small, self-contained UI fragments that run inside a sandboxed container of an existing web application.

## Capabilities
` + DescribeMap(m) + `

## Intent
` + intentJSON(intent) + `

## Data Access
The fragment talks to the application only through the injected bridge:
- ncodes.query("queryName", params) returns a Promise resolving to the query's JSON result
- ncodes.action("actionName", payload) returns a Promise resolving to the action's JSON result
Never call fetch, XMLHttpRequest or any URL directly. Use only capability names from the list above.

## Output Format
First write a short explanation of your approach in plain prose.
Then output exactly three fenced code blocks, in this order:
` + "```html" + `
<!-- markup for the fragment root, no <html>, <head> or <body> -->
` + "```" + `
` + "```css" + `
/* styles scoped to the fragment */
` + "```" + `
` + "```javascript" + `
// behavior; wire data with ncodes.query / ncodes.action
` + "```" + `

Rules:
- Handle loading, empty and error states
- No external scripts, fonts or images
- Do not invent data or placeholder features`
}

func codegenIterationPrompt(userPrompt string, previous GeneratedCode, feedback string) string {
	return fmt.Sprintf(`The previous code had issues that need to be fixed.

Original request: %q

## Previous HTML
`+"```html\n%s\n```"+`

## Previous CSS
`+"```css\n%s\n```"+`

## Previous JavaScript
`+"```javascript\n%s\n```"+`

## QA Feedback
%s

Please fix the issues and regenerate all three code blocks (HTML, CSS, JS).`,
		userPrompt, previous.HTML, previous.CSS, previous.JS, feedback)
}

func reviewSystemPrompt(m *capability.Map) string {
	return `You are a QA reviewer for generated UI fragments that run inside a sandboxed container.

## Capabilities
` + DescribeMap(m) + `

## Checklist
- Every ncodes.query / ncodes.action call uses a capability name from the list above
- The JavaScript does not call fetch, XMLHttpRequest or hard-coded URLs
- Element ids and classes referenced in JavaScript exist in the HTML
- Loading, empty and error states are handled
- The UI fulfils the user's request without placeholder or fake data

## Output Format
Return ONLY a JSON object:
{
  "verdict": "PASS" | "FAIL",
  "issues": [
    {
      "severity": "error" | "warning",
      "category": "capability | bridge | dom | state | request | style",
      "description": "What is wrong",
      "suggestion": "How to fix it"
    }
  ],
  "notes": "Optional summary"
}

Rules:
- Use FAIL only when at least one issue has severity "error"
- JSON only, no markdown`
}

func reviewUserPrompt(code GeneratedCode, userPrompt string) string {
	return fmt.Sprintf(`User request: %q

## HTML
`+"```html\n%s\n```"+`

## CSS
`+"```css\n%s\n```"+`

## JavaScript
`+"```javascript\n%s\n```", userPrompt, code.HTML, code.CSS, code.JS)
}
