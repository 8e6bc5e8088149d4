package cache

import (
	"context"
	"time"

	"eventscatalog/internal/catalog"
)

// Cache defines the interface for per-locale record set lookups
type Cache interface {
	// Entry resolves the cache entry for locale, fetching it on first use
	Entry(ctx context.Context, locale string) (*Entry, error)

	// Records resolves the ordered record set for locale
	Records(ctx context.Context, locale string) ([]catalog.Event, error)
}

// Entry is one locale's record set. It is immutable once stored.
type Entry struct {
	Locale    string
	Records   []catalog.Event
	FetchedAt time.Time

	byID map[string]int
}

// NewEntry indexes records by id.
func NewEntry(locale string, records []catalog.Event, fetchedAt time.Time) *Entry {
	byID := make(map[string]int, len(records))
	for i, e := range records {
		byID[e.ID] = i
	}
	return &Entry{
		Locale:    locale,
		Records:   records,
		FetchedAt: fetchedAt,
		byID:      byID,
	}
}

// Lookup finds a record by id.
func (e *Entry) Lookup(id string) (catalog.Event, bool) {
	i, ok := e.byID[id]
	if !ok {
		return catalog.Event{}, false
	}
	return e.Records[i], true
}
