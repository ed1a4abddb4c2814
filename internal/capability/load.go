package capability

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a capability map from a JSON or YAML file.
func LoadFile(path string) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read capability map: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse capability map %s: %w", path, err)
	}
	return m, nil
}

// Parse decodes a capability map document. JSON is detected by a leading '{'.
func Parse(data []byte) (*Map, error) {
	m := Empty()
	if err := decode(data, m); err != nil {
		return nil, err
	}
	if m.Entities == nil {
		m.Entities = map[string]any{}
	}
	if m.Components == nil {
		m.Components = map[string]any{}
	}
	return m, nil
}

func decode(data []byte, v any) error {
	data = bytes.TrimPrefix(data, []byte("\ufeff"))
	if isJSON(data) {
		return json.Unmarshal(data, v)
	}
	return yaml.Unmarshal(data, v)
}

func isJSON(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n\ufeff")
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// Validate checks the structural requirements of a raw capability map document.
func Validate(data []byte) []string {
	var doc map[string]any
	if err := decode(data, &doc); err != nil || doc == nil {
		return []string{"Capability map must be an object."}
	}

	var errs []string
	if isBlank(doc["version"]) {
		errs = append(errs, "Capability map requires a version.")
	}
	for _, key := range []string{"entities", "actions", "queries", "components"} {
		if _, ok := doc[key].(map[string]any); !ok {
			errs = append(errs, fmt.Sprintf("Capability map missing %s.", key))
		}
	}
	if isBlank(doc["generatedAt"]) {
		errs = append(errs, "Capability map missing generatedAt timestamp.")
	}
	return errs
}

func isBlank(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case bool:
		return !val
	}
	return false
}

// Summary counts the sections of a map.
type Summary struct {
	Entities      int `json:"entities"`
	Actions       int `json:"actions"`
	Queries       int `json:"queries"`
	Components    int `json:"components"`
	FilesAnalyzed int `json:"filesAnalyzed"`
}

// Summarize returns section counts for m.
func Summarize(m *Map) Summary {
	if m == nil {
		return Summary{}
	}
	s := Summary{
		Entities:   len(m.Entities),
		Actions:    m.Actions.Len(),
		Queries:    m.Queries.Len(),
		Components: len(m.Components),
	}
	switch n := m.Meta["filesAnalyzed"].(type) {
	case int:
		s.FilesAnalyzed = n
	case float64:
		s.FilesAnalyzed = int(n)
	}
	return s
}
