package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestListFilters(t *testing.T) {
	f := ListFilters(sampleEvents())

	assert.Equal(t, Facets{
		"topic":  {"ai": 2, "cloud": 2, "security": 1},
		"region": {"europe": 3, "asia": 1},
	}, f)
	assert.Equal(t, []string{"region", "topic"}, f.Categories())
}

func TestListFiltersCountLaw(t *testing.T) {
	records := sampleEvents()
	f := ListFilters(records)

	for _, cat := range f.Categories() {
		var catalogSum, recordSum int
		for _, n := range f[cat] {
			catalogSum += n
		}
		for _, e := range records {
			recordSum += len(e.Tags[cat])
		}
		assert.Equal(t, recordSum, catalogSum, cat)
	}
}

func TestListFiltersEmpty(t *testing.T) {
	assert.Empty(t, ListFilters(nil))
	assert.Empty(t, ListFilters([]Event{{ID: "x"}}))
}

func TestFacetsSorted(t *testing.T) {
	f := Facets{"topic": {"b": 2, "a": 2, "c": 5, "d": 1}}

	assert.Equal(t, []ValueCount{
		{Value: "c", Count: 5},
		{Value: "a", Count: 2},
		{Value: "b", Count: 2},
		{Value: "d", Count: 1},
	}, f.Sorted("topic", 0))
	assert.Equal(t, []ValueCount{{Value: "c", Count: 5}, {Value: "a", Count: 2}}, f.Sorted("topic", 2))
	assert.Empty(t, f.Sorted("missing", 0))
	assert.Len(t, f.Listing(1)["topic"], 1)
}
