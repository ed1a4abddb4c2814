// Package dsl implements the legacy declarative UI mode: the model answers
// with a JSON component tree instead of HTML/CSS/JS, and every query and
// action node is resolved against the capability map.
package dsl

import (
	"fmt"
	"sort"
	"strings"

	"github.com/capforge/api/internal/capability"
	"github.com/capforge/api/internal/jsonblock"
)

// Version is the DSL version the system prompt asks for.
const Version = "1"

// Component types the renderer understands.
var componentTypes = map[string]struct{}{
	"table":  {},
	"list":   {},
	"form":   {},
	"chart":  {},
	"stat":   {},
	"detail": {},
	"button": {},
	"text":   {},
}

var needsQuery = map[string]struct{}{
	"table":  {},
	"list":   {},
	"chart":  {},
	"stat":   {},
	"detail": {},
}

// Document is a parsed DSL tree.
type Document struct {
	Version    string      `json:"version"`
	Layout     string      `json:"layout,omitempty"`
	Title      string      `json:"title,omitempty"`
	Components []Component `json:"components"`
}

// Component is one node of the tree.
type Component struct {
	Type     string            `json:"type"`
	Title    string            `json:"title,omitempty"`
	Query    string            `json:"query,omitempty"`
	Action   string            `json:"action,omitempty"`
	Props    map[string]any    `json:"props,omitempty"`
	Resolved *capability.Route `json:"resolved,omitempty"`
	Children []Component       `json:"children,omitempty"`
}

// Result is a parsed model response.
type Result struct {
	DSL       Document `json:"dsl"`
	Reasoning string   `json:"reasoning"`
}

// ValidationError lists everything wrong with a DSL response.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "Invalid DSL response: " + strings.Join(e.Errors, "; ")
}

// ResolutionError lists the query and action refs missing from the capability map.
type ResolutionError struct {
	Errors []string
}

func (e *ResolutionError) Error() string {
	return "Capability resolution failed: " + strings.Join(e.Errors, "; ")
}

// Parse extracts the DSL envelope from a model response and validates it.
// A bare document without the {dsl, reasoning} envelope is accepted.
func Parse(text string) (Result, error) {
	obj, err := jsonblock.DecodeObject(text)
	if err != nil {
		return Result{}, &ValidationError{Errors: []string{"Response does not contain a JSON object"}}
	}

	var res Result
	if _, ok := obj.Object("dsl"); ok {
		err = jsonblock.Decode(text, &res)
	} else {
		res.Reasoning = obj.String("reasoning")
		err = jsonblock.Decode(text, &res.DSL)
	}
	if err != nil {
		return Result{}, &ValidationError{Errors: []string{"Malformed DSL: " + err.Error()}}
	}

	if res.DSL.Version == "" {
		res.DSL.Version = Version
	}
	if errs := Validate(res.DSL); len(errs) > 0 {
		return Result{}, &ValidationError{Errors: errs}
	}
	return res, nil
}

// Validate checks component types and their required refs.
func Validate(doc Document) []string {
	var errs []string
	if len(doc.Components) == 0 {
		errs = append(errs, "dsl.components must contain at least one component")
	}
	walk(doc.Components, "dsl.components", func(c Component, path string) {
		if _, ok := componentTypes[c.Type]; !ok {
			if c.Type == "" {
				errs = append(errs, path+".type is required")
			} else {
				errs = append(errs, fmt.Sprintf("%s.type %q is not supported (allowed: %s)", path, c.Type, allowedTypes()))
			}
			return
		}
		if _, ok := needsQuery[c.Type]; ok && c.Query == "" {
			errs = append(errs, fmt.Sprintf("%s (%s) requires a query", path, c.Type))
		}
		if c.Type == "form" && c.Action == "" {
			errs = append(errs, path+" (form) requires an action")
		}
	})
	return errs
}

// Resolve attaches the HTTP route of every referenced query and action. The
// returned document is a copy. An empty map leaves the document unresolved.
func Resolve(doc Document, m *capability.Map) (Document, error) {
	if m.IsEmpty() {
		return doc, nil
	}
	var errs []string
	out := doc
	out.Components = resolveAll(doc.Components, m, &errs)
	if len(errs) > 0 {
		return Document{}, &ResolutionError{Errors: errs}
	}
	return out, nil
}

func resolveAll(components []Component, m *capability.Map, errs *[]string) []Component {
	if components == nil {
		return nil
	}
	out := make([]Component, len(components))
	for i, c := range components {
		if c.Query != "" {
			if cp, ok := m.Queries.Get(c.Query); ok {
				r := capability.RouteFor(cp, capability.KindQuery)
				c.Resolved = &r
			} else {
				*errs = append(*errs, "Unknown query: "+c.Query)
			}
		}
		// the action wins on nodes that carry both
		if c.Action != "" {
			if cp, ok := m.Actions.Get(c.Action); ok {
				r := capability.RouteFor(cp, capability.KindAction)
				c.Resolved = &r
			} else {
				*errs = append(*errs, "Unknown action: "+c.Action)
			}
		}
		c.Children = resolveAll(c.Children, m, errs)
		out[i] = c
	}
	return out
}

func walk(components []Component, prefix string, fn func(Component, string)) {
	for i, c := range components {
		path := fmt.Sprintf("%s[%d]", prefix, i)
		fn(c, path)
		walk(c.Children, path+".children", fn)
	}
}

func allowedTypes() string {
	names := make([]string, 0, len(componentTypes))
	for name := range componentTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
