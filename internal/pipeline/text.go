package pipeline

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	lowerUpper   = regexp.MustCompile(`([a-z0-9])([A-Z])`)
	acronymUpper = regexp.MustCompile(`([A-Z]+)([A-Z][a-z])`)
	separators   = regexp.MustCompile(`[_\-]+`)
	spaces       = regexp.MustCompile(`\s+`)
)

// HumanizeRef turns a capability ref like "listHTTPRequests" into "list http requests".
func HumanizeRef(ref string) string {
	s := lowerUpper.ReplaceAllString(ref, "$1 $2")
	s = acronymUpper.ReplaceAllString(s, "$1 $2")
	s = separators.ReplaceAllString(s, " ")
	s = strings.TrimSpace(spaces.ReplaceAllString(s, " "))
	return strings.ToLower(s)
}

// Summarize collapses whitespace and truncates text for log previews.
func Summarize(text string, max int) string {
	s := strings.TrimSpace(spaces.ReplaceAllString(text, " "))
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "..."
}

// uniqueStrings trims, drops empties and de-duplicates, keeping order.
func uniqueStrings(list []string) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, s := range list {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
