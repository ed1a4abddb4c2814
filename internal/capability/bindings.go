package capability

import (
	"fmt"
	"regexp"
)

// bridgeCall matches ncodes.query("ref") and ncodes.action('ref', ...) in any quote style.
var bridgeCall = regexp.MustCompile("\\bncodes\\s*\\.\\s*(query|action)\\s*\\(\\s*(?:\"([^\"]+)\"|'([^']+)'|`([^`]+)`)")

// Binding ties a ref used in generated code to its concrete route.
type Binding struct {
	Type     Kind   `json:"type"`
	Ref      string `json:"ref"`
	Resolved Route  `json:"resolved"`
}

// Refs lists every ref referenced by call type, in first-seen order.
type Refs struct {
	Queries []string `json:"queries"`
	Actions []string `json:"actions"`
}

// Validation reports unresolved refs.
type Validation struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// BindingReport is the result of scanning generated code.
type BindingReport struct {
	Bindings   []Binding  `json:"bindings"`
	Validation Validation `json:"validation"`
	Refs       Refs       `json:"refs"`
}

// ResolveBindings scans js for bridge calls and resolves each distinct ref against m.
func ResolveBindings(js string, m *Map) BindingReport {
	report := BindingReport{
		Bindings:   []Binding{},
		Validation: Validation{Valid: true, Errors: []string{}},
		Refs:       Refs{Queries: []string{}, Actions: []string{}},
	}

	seenCall := map[string]struct{}{}
	seenRef := map[string]struct{}{}
	for _, match := range bridgeCall.FindAllStringSubmatch(js, -1) {
		kind := Kind(match[1])
		ref := firstNonEmpty(match[2], match[3], match[4])

		callKey := string(kind) + "\x00" + ref
		if _, dup := seenCall[callKey]; !dup {
			seenCall[callKey] = struct{}{}
			if kind == KindQuery {
				report.Refs.Queries = append(report.Refs.Queries, ref)
			} else {
				report.Refs.Actions = append(report.Refs.Actions, ref)
			}
		}

		if _, dup := seenRef[ref]; dup {
			continue
		}
		seenRef[ref] = struct{}{}

		c, found, ok := lookupPreferring(m, ref, kind)
		if !ok {
			report.Validation.Valid = false
			report.Validation.Errors = append(report.Validation.Errors, fmt.Sprintf("Unknown %s: %s", kind, ref))
			continue
		}
		report.Bindings = append(report.Bindings, Binding{
			Type:     found,
			Ref:      ref,
			Resolved: RouteFor(c, found),
		})
	}
	return report
}

// lookupPreferring checks the section matching the call type first.
func lookupPreferring(m *Map, ref string, kind Kind) (Capability, Kind, bool) {
	if m == nil {
		return Capability{}, "", false
	}
	if kind == KindAction {
		if c, ok := m.Actions.Get(ref); ok {
			return c, KindAction, true
		}
	}
	return m.Lookup(ref)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
