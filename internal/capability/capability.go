// Package capability models the capability map an application exposes to the
// generator: named queries and actions backed by REST endpoints.
package capability

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Capability is a single named query or action.
type Capability struct {
	Endpoint    string         `json:"endpoint,omitempty" yaml:"endpoint"`
	Description string         `json:"description,omitempty" yaml:"description"`
	Method      string         `json:"method,omitempty" yaml:"method"`
	Path        string         `json:"path,omitempty" yaml:"path"`
	Params      map[string]any `json:"params,omitempty" yaml:"params"`
}

// Section is a name -> Capability map that keeps declaration order.
type Section struct {
	names   []string
	entries map[string]Capability
}

// NewSection builds a section from name/capability pairs in order.
func NewSection(entries ...Entry) Section {
	var s Section
	for _, e := range entries {
		s.Set(e.Name, e.Capability)
	}
	return s
}

// Entry pairs a capability with its ref name.
type Entry struct {
	Name       string
	Capability Capability
}

// Set adds or replaces an entry. New names are appended.
func (s *Section) Set(name string, c Capability) {
	if s.entries == nil {
		s.entries = make(map[string]Capability)
	}
	if _, exists := s.entries[name]; !exists {
		s.names = append(s.names, name)
	}
	s.entries[name] = c
}

// Get looks up a capability by ref name.
func (s Section) Get(name string) (Capability, bool) {
	c, ok := s.entries[name]
	return c, ok
}

// Has reports whether the section declares name.
func (s Section) Has(name string) bool {
	_, ok := s.entries[name]
	return ok
}

// Len returns the number of entries.
func (s Section) Len() int {
	return len(s.names)
}

// Names returns ref names in declaration order.
func (s Section) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Entries returns all entries in declaration order.
func (s Section) Entries() []Entry {
	out := make([]Entry, 0, len(s.names))
	for _, name := range s.names {
		out = append(out, Entry{Name: name, Capability: s.entries[name]})
	}
	return out
}

// MarshalJSON writes the section as an object in declaration order.
func (s Section) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range s.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(s.entries[name])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object while preserving key order.
// A bare string value is taken as the endpoint.
func (s *Section) UnmarshalJSON(data []byte) error {
	*s = Section{}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("capability section must be an object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("capability section key must be a string")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("capability %q: %w", name, err)
		}
		var c Capability
		var endpoint string
		if err := json.Unmarshal(raw, &endpoint); err == nil {
			c.Endpoint = endpoint
		} else if err := json.Unmarshal(raw, &c); err != nil {
			return fmt.Errorf("capability %q: %w", name, err)
		}
		s.Set(name, c)
	}
	_, err = dec.Token()
	return err
}

// UnmarshalYAML reads a mapping node while preserving key order.
func (s *Section) UnmarshalYAML(value *yaml.Node) error {
	*s = Section{}
	if value.Kind == yaml.ScalarNode && value.Tag == "!!null" {
		return nil
	}
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: capability section must be a mapping", value.Line)
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		name := value.Content[i].Value
		node := value.Content[i+1]
		var c Capability
		if node.Kind == yaml.ScalarNode {
			c.Endpoint = node.Value
		} else if err := node.Decode(&c); err != nil {
			return fmt.Errorf("capability %q: %w", name, err)
		}
		s.Set(name, c)
	}
	return nil
}

// Map is the full capability map. A loaded Map is treated as immutable.
type Map struct {
	Version     string         `json:"version" yaml:"version"`
	GeneratedAt string         `json:"generatedAt" yaml:"generatedAt"`
	ProjectName string         `json:"projectName,omitempty" yaml:"projectName"`
	Entities    map[string]any `json:"entities" yaml:"entities"`
	Actions     Section        `json:"actions" yaml:"actions"`
	Queries     Section        `json:"queries" yaml:"queries"`
	Components  map[string]any `json:"components" yaml:"components"`
	Meta        map[string]any `json:"meta,omitempty" yaml:"meta"`
}

// Empty returns a map with no capabilities.
func Empty() *Map {
	return &Map{
		Entities:   map[string]any{},
		Components: map[string]any{},
		Meta:       map[string]any{},
	}
}

// IsEmpty reports whether the map exposes no queries and no actions.
func (m *Map) IsEmpty() bool {
	return m == nil || (m.Queries.Len() == 0 && m.Actions.Len() == 0)
}

// Lookup finds ref in queries first, then actions, and reports which section held it.
func (m *Map) Lookup(ref string) (Capability, Kind, bool) {
	if m == nil {
		return Capability{}, "", false
	}
	if c, ok := m.Queries.Get(ref); ok {
		return c, KindQuery, true
	}
	if c, ok := m.Actions.Get(ref); ok {
		return c, KindAction, true
	}
	return Capability{}, "", false
}

// Kind distinguishes queries from actions.
type Kind string

const (
	KindQuery  Kind = "query"
	KindAction Kind = "action"
)

// Route is an HTTP method and path.
type Route struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// RouteFor derives the HTTP route of a capability. Explicit method and path
// fields win over the "METHOD /path" endpoint string.
func RouteFor(c Capability, kind Kind) Route {
	method := strings.ToUpper(strings.TrimSpace(c.Method))
	path := strings.TrimSpace(c.Path)

	endpoint := strings.TrimSpace(c.Endpoint)
	if endpoint != "" {
		fields := strings.Fields(endpoint)
		if len(fields) >= 2 && isHTTPMethod(fields[0]) {
			if method == "" {
				method = strings.ToUpper(fields[0])
			}
			if path == "" {
				path = fields[1]
			}
		} else if path == "" && len(fields) > 0 {
			path = fields[0]
		}
	}

	if method == "" {
		method = "GET"
		if kind == KindAction {
			method = "POST"
		}
	}
	return Route{Method: method, Path: path}
}

func isHTTPMethod(s string) bool {
	switch strings.ToUpper(s) {
	case "GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS":
		return true
	}
	return false
}
