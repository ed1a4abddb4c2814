// Package jsonblock pulls the first JSON object out of free-form model output.
//
// Models wrap JSON in prose, code fences or trailing commentary. Extract scans for
// the first '{' and returns the shortest balanced object starting there, skipping
// braces that appear inside string literals.
package jsonblock

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoObject is returned when the text contains no balanced JSON object.
var ErrNoObject = errors.New("jsonblock: no JSON object found")

// Extract returns the first balanced {...} substring of text.
func Extract(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	for start >= 0 {
		if end, ok := scan(text, start); ok {
			return text[start : end+1], true
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// scan walks from an opening brace and returns the index of its matching close.
func scan(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// Decode unmarshals the first balanced object in text that is valid JSON into v.
// When no candidate decodes, the error from the first candidate is returned.
func Decode(text string, v any) error {
	var firstErr error
	offset := 0
	for {
		block, ok := Extract(text[offset:])
		if !ok {
			break
		}
		err := json.Unmarshal([]byte(block), v)
		if err == nil {
			return nil
		}
		if firstErr == nil {
			firstErr = err
		}
		offset += strings.Index(text[offset:], block) + 1
	}
	if firstErr != nil {
		return firstErr
	}
	return ErrNoObject
}

// Object is a leniently typed JSON object.
type Object map[string]any

// DecodeObject extracts and decodes the first JSON object in text.
func DecodeObject(text string) (Object, error) {
	var obj Object
	if err := Decode(text, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, ErrNoObject
	}
	return obj, nil
}

// String returns the trimmed string at key, or "" when absent or not a string.
func (o Object) String(key string) string {
	s, _ := o[key].(string)
	return strings.TrimSpace(s)
}

// Bool returns the boolean at key and whether it was present as a boolean.
func (o Object) Bool(key string) (bool, bool) {
	b, ok := o[key].(bool)
	return b, ok
}

// Has reports whether key is present.
func (o Object) Has(key string) bool {
	_, ok := o[key]
	return ok
}

// Strings returns the non-empty string members of the array at key.
// A bare string is treated as a one-element list.
func (o Object) Strings(key string) []string {
	switch v := o[key].(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return []string{s}
		}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				continue
			}
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}

// Objects returns the object members of the array at key.
func (o Object) Objects(key string) []Object {
	arr, ok := o[key].([]any)
	if !ok {
		return nil
	}
	out := make([]Object, 0, len(arr))
	for _, item := range arr {
		if m, ok := item.(map[string]any); ok {
			out = append(out, Object(m))
		}
	}
	return out
}

// Object returns the nested object at key.
func (o Object) Object(key string) (Object, bool) {
	m, ok := o[key].(map[string]any)
	return Object(m), ok
}
