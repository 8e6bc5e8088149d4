package catalog

import "sort"

// Facets maps a category (or statistics dimension) to value -> count.
type Facets map[string]map[string]int

// ValueCount is one entry of a sorted facet listing.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

func (f Facets) inc(category, value string) {
	m, ok := f[category]
	if !ok {
		m = make(map[string]int)
		f[category] = m
	}
	m[value]++
}

// Categories returns the category names in ascending order.
func (f Facets) Categories() []string {
	cats := make([]string, 0, len(f))
	for c := range f {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return cats
}

// Sorted lists the values of category by count descending, value ascending
// on ties. A limit > 0 keeps only the first limit entries.
func (f Facets) Sorted(category string, limit int) []ValueCount {
	counts := f[category]
	out := make([]ValueCount, 0, len(counts))
	for v, n := range counts {
		out = append(out, ValueCount{Value: v, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Listing renders every category through Sorted.
func (f Facets) Listing(limit int) map[string][]ValueCount {
	out := make(map[string][]ValueCount, len(f))
	for c := range f {
		out[c] = f.Sorted(c, limit)
	}
	return out
}

// ListFilters derives the filter catalog from the records actually present.
// A record contributes 1 to every value it carries, so a record tagged with
// three topics bumps three topic counts once each. Categories and values
// that never occur are absent.
func ListFilters(records []Event) Facets {
	f := Facets{}
	for _, e := range records {
		for cat, vals := range e.Tags {
			for _, v := range vals {
				f.inc(cat, v)
			}
		}
	}
	return f
}
