package catalog

// Unknown is the bucket for records that lack a dimension's field. It is a
// plain value, so a record whose field really is "unknown" is counted in the
// same bucket. Callers cannot tell the two apart from the counts alone; the
// bucket sums still equal the filtered record count.
const Unknown = "unknown"

// DefaultDimensions are aggregated when the caller names none.
var DefaultDimensions = []string{"country", "city", "format", "topic"}

// Aggregate filters records with criteria, the same way Search does, and
// counts values per dimension. country, state and city come from the
// location; every other dimension is a tag category. A record missing the
// field lands in the Unknown bucket, so for single valued dimensions the
// bucket counts add up to the filtered record count.
func Aggregate(records []Event, criteria Criteria, dimensions []string) (Facets, int) {
	if len(dimensions) == 0 {
		dimensions = DefaultDimensions
	}
	matched := Filter(records, criteria)

	f := make(Facets, len(dimensions))
	for _, d := range dimensions {
		f[d] = map[string]int{}
	}
	for _, e := range matched {
		for _, d := range dimensions {
			for _, v := range dimensionValues(e, d) {
				f.inc(d, v)
			}
		}
	}
	return f, len(matched)
}

func dimensionValues(e Event, dim string) []string {
	var v string
	switch dim {
	case "country", "state", "city":
		if e.Location != nil {
			switch dim {
			case "country":
				v = e.Location.Country
			case "state":
				v = e.Location.State
			case "city":
				v = e.Location.City
			}
		}
	default:
		if vals := e.Tags[dim]; len(vals) > 0 {
			return vals
		}
	}
	if v == "" {
		v = Unknown
	}
	return []string{v}
}
