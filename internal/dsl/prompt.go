package dsl

import (
	"github.com/capforge/api/internal/capability"
	"github.com/capforge/api/internal/pipeline"
)

// BuildSystemPrompt describes the DSL grammar and the available capabilities.
func BuildSystemPrompt(m *capability.Map) string {
	return `You design UI screens for an existing web application using a small declarative DSL.

## Capabilities
` + pipeline.DescribeMap(m) + `

## Components
- table, list, chart, stat, detail: display data; each requires "query"
- form: collects input and submits it; requires "action"
- button: runs an "action" when clicked
- text: static copy in props.content
Any component may hold "children".

## Output Format
Return ONLY a JSON object:
{
  "dsl": {
    "version": "` + Version + `",
    "layout": "stack | grid | tabs",
    "title": "Screen title",
    "components": [
      {
        "type": "table",
        "title": "Component title",
        "query": "queryName",
        "props": { "columns": ["field"] },
        "children": []
      }
    ]
  },
  "reasoning": "Short explanation of the design"
}

Rules:
- Only use query and action names from the capability list
- Do not invent data sources or placeholder components
- JSON only, no markdown`
}
