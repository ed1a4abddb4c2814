package capability

import (
	"sort"
	"strings"
)

const (
	// MaxSubsetQueries caps the queries handed to the feasibility judgment.
	MaxSubsetQueries = 8
	// MaxSubsetActions caps the actions handed to the feasibility judgment.
	MaxSubsetActions = 6
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "has": {}, "have": {}, "in": {}, "is": {}, "it": {}, "of": {},
	"on": {}, "or": {}, "that": {}, "the": {}, "this": {}, "to": {}, "with": {},
	"about": {}, "into": {}, "over": {}, "under": {}, "between": {}, "while": {},
	"when": {}, "where": {}, "who": {}, "whom": {}, "whose": {}, "which": {}, "why": {},
	"how": {}, "me": {}, "my": {}, "our": {}, "your": {}, "their": {},
}

// Tokenize splits text into lowercase [a-z0-9] runs, dropping stop words and
// single characters. Any other rune, including non-ASCII letters, separates tokens.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < '0' || r > '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

// NormalizeKeywords trims, lowercases and de-duplicates keywords, keeping order.
func NormalizeKeywords(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// Subset is the capability context handed to the feasibility judgment.
type Subset struct {
	Queries Section `json:"queries"`
	Actions Section `json:"actions"`
}

// SubsetInput carries the signals used to rank capabilities.
type SubsetInput struct {
	Keywords []string
	Prompt   string
}

type scored struct {
	entry Entry
	match int
	score int
}

func haystack(e Entry) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{e.Name, e.Capability.Description, e.Capability.Endpoint} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.ToLower(strings.Join(parts, " "))
}

func scoreEntry(e Entry, keywords, tokens []string) scored {
	text := haystack(e)
	match := 0
	for _, k := range keywords {
		if strings.Contains(text, k) {
			match += 3
		}
	}
	for _, t := range tokens {
		if strings.Contains(text, t) {
			match++
		}
	}
	score := match
	if e.Name != "" && strings.HasPrefix(text, strings.ToLower(e.Name)) {
		score++
	}
	return scored{entry: e, match: match, score: score}
}

// pick returns the ranked matching entries of a section, or the first max
// entries in declaration order when nothing matches.
func pick(s Section, keywords, tokens []string, max int) Section {
	entries := s.Entries()
	matching := make([]scored, 0, len(entries))
	for _, e := range entries {
		if sc := scoreEntry(e, keywords, tokens); sc.match > 0 {
			matching = append(matching, sc)
		}
	}

	var out Section
	if len(matching) == 0 {
		for i, e := range entries {
			if i >= max {
				break
			}
			out.Set(e.Name, e.Capability)
		}
		return out
	}

	sort.SliceStable(matching, func(i, j int) bool {
		if matching[i].score != matching[j].score {
			return matching[i].score > matching[j].score
		}
		return matching[i].entry.Name < matching[j].entry.Name
	})
	for i, sc := range matching {
		if i >= max {
			break
		}
		out.Set(sc.entry.Name, sc.entry.Capability)
	}
	return out
}

// SelectSubset ranks the map's queries and actions against the keywords and
// prompt tokens and keeps the best of each, capped per section.
func SelectSubset(m *Map, in SubsetInput) Subset {
	if m.IsEmpty() {
		return Subset{}
	}
	keywords := NormalizeKeywords(in.Keywords)
	tokens := Tokenize(in.Prompt)
	return Subset{
		Queries: pick(m.Queries, keywords, tokens, MaxSubsetQueries),
		Actions: pick(m.Actions, keywords, tokens, MaxSubsetActions),
	}
}

// HasMatch reports whether any query or action in m matches a keyword or prompt token.
func HasMatch(m *Map, in SubsetInput) bool {
	if m.IsEmpty() {
		return false
	}
	keywords := NormalizeKeywords(in.Keywords)
	tokens := Tokenize(in.Prompt)
	for _, s := range []Section{m.Queries, m.Actions} {
		for _, e := range s.Entries() {
			if scoreEntry(e, keywords, tokens).match > 0 {
				return true
			}
		}
	}
	return false
}
