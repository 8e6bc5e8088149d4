package catalog

import "strings"

// TextMatcher decides whether an event satisfies a free-text query. It is a
// boolean gate; no scoring is involved.
type TextMatcher interface {
	Match(e Event, query string) bool
}

// SubstringMatcher matches when query occurs, case-insensitively and
// literally, in the title or the description. There is no tokenization or
// stemming.
type SubstringMatcher struct{}

func (SubstringMatcher) Match(e Event, query string) bool {
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(e.Title), q) ||
		strings.Contains(strings.ToLower(e.Description), q)
}

// Engine evaluates queries against a record set.
type Engine struct {
	Matcher TextMatcher
}

// NewEngine returns an engine using SubstringMatcher.
func NewEngine() *Engine {
	return &Engine{Matcher: SubstringMatcher{}}
}

// Search applies the structured criteria, then the free-text gate, and
// returns the survivors in cache insertion order. Unknown categories simply
// match nothing. The returned slice may share storage with records and must
// not be modified.
func (en *Engine) Search(records []Event, query string, criteria Criteria) []Event {
	matched := Filter(records, criteria)
	query = strings.TrimSpace(query)
	if query == "" {
		return matched
	}
	out := make([]Event, 0)
	for _, e := range matched {
		if en.Matcher.Match(e, query) {
			out = append(out, e)
		}
	}
	return out
}
