package catalog

import (
	"sort"
	"strings"
)

// Criteria is a structured filter: category -> requested values. A record
// passes when, for every category, it carries at least one requested value.
type Criteria map[string][]string

// ParseCriteria parses the comma separated option string used by callers,
// e.g. "topic:ai,topic:security,region:europe". Blank input yields empty
// criteria. Category and value are lower-cased to match normalized tags.
func ParseCriteria(s string) (Criteria, error) {
	c := Criteria{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		cat, val, ok := strings.Cut(part, ":")
		if !ok {
			return nil, invalidf("filter %q is not category:value", part)
		}
		c.Add(cat, val)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Add appends value to category, ignoring duplicates.
func (c Criteria) Add(category, value string) {
	category = strings.ToLower(strings.TrimSpace(category))
	value = strings.ToLower(strings.TrimSpace(value))
	for _, v := range c[category] {
		if v == value {
			return
		}
	}
	c[category] = append(c[category], value)
}

// Validate rejects empty category names, empty values and categories with
// no values at all.
func (c Criteria) Validate() error {
	for cat, vals := range c {
		if cat == "" {
			return invalidf("empty category")
		}
		if len(vals) == 0 {
			return invalidf("category %q has no values", cat)
		}
		for _, v := range vals {
			if v == "" {
				return invalidf("empty value for category %q", cat)
			}
		}
	}
	return nil
}

// String renders the criteria back into option-string form, sorted.
func (c Criteria) String() string {
	var parts []string
	for cat, vals := range c {
		for _, v := range vals {
			parts = append(parts, cat+":"+v)
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// ParseDimensions splits "country,topic" into dimension names. Blank input
// returns nil so the caller falls back to DefaultDimensions.
func ParseDimensions(s string) ([]string, error) {
	var dims []string
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	seen := map[string]bool{}
	for _, d := range strings.Split(s, ",") {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			return nil, invalidf("empty dimension in %q", s)
		}
		if strings.Contains(d, ":") {
			return nil, invalidf("dimension %q must be a bare category name", d)
		}
		if !seen[d] {
			seen[d] = true
			dims = append(dims, d)
		}
	}
	return dims, nil
}

// Match reports whether e passes the structured filter.
func (c Criteria) Match(e Event) bool {
	for cat, want := range c {
		if !matchCategory(e, cat, want) {
			return false
		}
	}
	return true
}

func matchCategory(e Event, category string, want []string) bool {
	for _, v := range want {
		if e.Tags.Has(category, v) {
			return true
		}
	}
	return false
}

// Filter returns the records that pass c, in their original order. With no
// criteria the input slice is returned as is.
func Filter(records []Event, c Criteria) []Event {
	if len(c) == 0 {
		return records
	}
	out := make([]Event, 0)
	for _, e := range records {
		if c.Match(e) {
			out = append(out, e)
		}
	}
	return out
}
