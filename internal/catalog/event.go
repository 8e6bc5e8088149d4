// Package catalog holds the canonical event model and the pure query
// functions that run over a locale's cached record set: normalization,
// filtered search, facet listing and statistics.
package catalog

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// RawRecord is one undecoded card as returned by the remote events API.
type RawRecord = json.RawMessage

// Fetcher is the outbound collaborator that retrieves every raw record for a
// locale. It may block on network I/O and may fail.
type Fetcher interface {
	FetchRaw(ctx context.Context, locale string) ([]RawRecord, error)
}

// FetcherFunc adapts a plain function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, locale string) ([]RawRecord, error)

func (f FetcherFunc) FetchRaw(ctx context.Context, locale string) ([]RawRecord, error) {
	return f(ctx, locale)
}

// Location is where an in-person event takes place. Fully virtual events
// have no location.
type Location struct {
	Country string `json:"country,omitempty"`
	State   string `json:"state,omitempty"`
	City    string `json:"city,omitempty"`
}

// Tags maps a filter category (topic, product, region, format, ...) to the
// sorted, de-duplicated values an event carries in it.
type Tags map[string][]string

// Has reports whether the event carries value in category.
func (t Tags) Has(category, value string) bool {
	for _, v := range t[category] {
		if v == value {
			return true
		}
	}
	return false
}

// Event is the canonical record every query works on.
type Event struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Format        string     `json:"format,omitempty"`
	FormatEnglish string     `json:"format_english,omitempty"`
	Link          string     `json:"link,omitempty"`
	StartTime     *time.Time `json:"start_time,omitempty"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	Location      *Location  `json:"location,omitempty"`
	Tags          Tags       `json:"tags"`

	// Raw is the untouched content object of the source card.
	Raw json.RawMessage `json:"-"`
}

// DefaultLocale is used when a caller does not name a locale.
const DefaultLocale = "de-de"

// NormalizeLocale returns the cache key for a caller supplied locale:
// trimmed, lower-cased, with underscores turned into dashes. "EN_us" and
// "en-US" both become "en-us".
func NormalizeLocale(locale string) string {
	locale = strings.ToLower(strings.TrimSpace(locale))
	return strings.ReplaceAll(locale, "_", "-")
}
