package event

import (
	"context"
	"fmt"

	"eventscatalog/internal/cache"
	"eventscatalog/internal/catalog"

	"go.uber.org/zap"
)

// Service answers catalog queries for a locale. It resolves the locale's
// record set through the cache and hands it to the pure query functions.
type Service struct {
	cache         cache.Cache
	engine        *catalog.Engine
	defaultLocale string
	logger        *zap.Logger
}

func NewService(c cache.Cache, defaultLocale string, logger *zap.Logger) *Service {
	if defaultLocale == "" {
		defaultLocale = catalog.DefaultLocale
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cache:         c,
		engine:        catalog.NewEngine(),
		defaultLocale: catalog.NormalizeLocale(defaultLocale),
		logger:        logger,
	}
}

type SearchRequest struct {
	Locale   string
	Query    string
	Criteria catalog.Criteria
	Limit    int
}

type SearchResult struct {
	Locale     string          `json:"locale"`
	TotalCount int             `json:"total_count"`
	Returned   int             `json:"returned"`
	Events     []catalog.Event `json:"events"`
}

type FilterResult struct {
	Locale      string                          `json:"locale"`
	TotalEvents int                             `json:"total_events"`
	Categories  map[string][]catalog.ValueCount `json:"categories"`
}

type StatsRequest struct {
	Locale     string
	Criteria   catalog.Criteria
	Dimensions []string
	Limit      int
}

type StatsResult struct {
	Locale      string                          `json:"locale"`
	TotalEvents int                             `json:"total_events"`
	Dimensions  map[string][]catalog.ValueCount `json:"dimensions"`
}

func (s *Service) locale(locale string) string {
	if l := catalog.NormalizeLocale(locale); l != "" {
		return l
	}
	return s.defaultLocale
}

// Search returns the records matching the query in cache order. Limit > 0
// bounds the returned slice; TotalCount always reports every match.
func (s *Service) Search(ctx context.Context, req SearchRequest) (SearchResult, error) {
	if err := req.Criteria.Validate(); err != nil {
		return SearchResult{}, err
	}
	if req.Limit < 0 {
		return SearchResult{}, fmt.Errorf("%w: negative limit %d", catalog.ErrInvalidCriteria, req.Limit)
	}

	locale := s.locale(req.Locale)
	records, err := s.cache.Records(ctx, locale)
	if err != nil {
		return SearchResult{}, err
	}

	hits := s.engine.Search(records, req.Query, req.Criteria)
	total := len(hits)
	if req.Limit > 0 && len(hits) > req.Limit {
		hits = hits[:req.Limit]
	}

	s.logger.Debug("search",
		zap.String("locale", locale),
		zap.String("query", req.Query),
		zap.String("criteria", req.Criteria.String()),
		zap.Int("matches", total))

	return SearchResult{
		Locale:     locale,
		TotalCount: total,
		Returned:   len(hits),
		Events:     hits,
	}, nil
}

// Get looks an event up by id. A miss is reported as catalog.ErrNotFound.
// Only the cached record set is searched, and that set stops at the fetcher's
// page budget, so an id past the budget is a miss too.
func (s *Service) Get(ctx context.Context, locale, id string) (catalog.Event, error) {
	locale = s.locale(locale)
	entry, err := s.cache.Entry(ctx, locale)
	if err != nil {
		return catalog.Event{}, err
	}
	e, ok := entry.Lookup(id)
	if !ok {
		s.logger.Info("event not in cached record set; raise api.max_pages if the locale is truncated",
			zap.String("locale", locale),
			zap.String("id", id),
			zap.Int("cached_records", len(entry.Records)))
		return catalog.Event{}, fmt.Errorf("%w: %q among %d cached events in locale %s",
			catalog.ErrNotFound, id, len(entry.Records), locale)
	}
	return e, nil
}

// Filters lists every category and value present in the locale, sorted by
// count descending then value.
func (s *Service) Filters(ctx context.Context, locale string) (FilterResult, error) {
	locale = s.locale(locale)
	records, err := s.cache.Records(ctx, locale)
	if err != nil {
		return FilterResult{}, err
	}
	return FilterResult{
		Locale:      locale,
		TotalEvents: len(records),
		Categories:  catalog.ListFilters(records).Listing(0),
	}, nil
}

// Stats aggregates the filtered records per dimension. Limit > 0 keeps the
// top entries of each dimension.
func (s *Service) Stats(ctx context.Context, req StatsRequest) (StatsResult, error) {
	if err := req.Criteria.Validate(); err != nil {
		return StatsResult{}, err
	}
	for _, d := range req.Dimensions {
		if d == "" {
			return StatsResult{}, fmt.Errorf("%w: empty dimension", catalog.ErrInvalidCriteria)
		}
	}

	locale := s.locale(req.Locale)
	records, err := s.cache.Records(ctx, locale)
	if err != nil {
		return StatsResult{}, err
	}

	facets, total := catalog.Aggregate(records, req.Criteria, req.Dimensions)
	return StatsResult{
		Locale:      locale,
		TotalEvents: total,
		Dimensions:  facets.Listing(req.Limit),
	}, nil
}
