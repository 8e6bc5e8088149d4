package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"eventscatalog/internal/cache"
	"eventscatalog/internal/catalog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// MockCache for testing
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Entry(ctx context.Context, locale string) (*cache.Entry, error) {
	args := m.Called(ctx, locale)
	e, _ := args.Get(0).(*cache.Entry)
	return e, args.Error(1)
}

func (m *MockCache) Records(ctx context.Context, locale string) ([]catalog.Event, error) {
	args := m.Called(ctx, locale)
	recs, _ := args.Get(0).([]catalog.Event)
	return recs, args.Error(1)
}

func testEvents() []catalog.Event {
	return []catalog.Event{
		{ID: "1", Title: "Scaling with Kubernetes", Location: &catalog.Location{Country: "Germany", City: "Berlin"},
			Tags: catalog.Tags{"topic": {"ai"}, "region": {"europe"}, "format": {"in-person"}}},
		{ID: "2", Title: "Cloud Basics", Tags: catalog.Tags{"topic": {"cloud"}, "region": {"europe"}, "format": {"digital"}}},
		{ID: "3", Title: "AI Summit", Location: &catalog.Location{Country: "Japan", City: "Tokyo"},
			Tags: catalog.Tags{"topic": {"ai", "security"}, "region": {"asia"}, "format": {"in-person"}}},
	}
}

func TestSearch(t *testing.T) {
	mockCache := new(MockCache)
	svc := NewService(mockCache, "de-de", nil)
	mockCache.On("Records", mock.Anything, "en-us").Return(testEvents(), nil)

	tests := []struct {
		name      string
		req       SearchRequest
		wantIDs   []string
		wantTotal int
	}{{
		name:      "everything",
		req:       SearchRequest{Locale: "EN-US"},
		wantIDs:   []string{"1", "2", "3"},
		wantTotal: 3,
	}, {
		name:      "criteria",
		req:       SearchRequest{Locale: "en-us", Criteria: catalog.Criteria{"topic": {"ai", "security"}, "region": {"europe"}}},
		wantIDs:   []string{"1"},
		wantTotal: 1,
	}, {
		name:      "limit bounds the page but not the total",
		req:       SearchRequest{Locale: "en-us", Limit: 2},
		wantIDs:   []string{"1", "2"},
		wantTotal: 3,
	}, {
		name:      "no match is empty, not an error",
		req:       SearchRequest{Locale: "en-us", Query: "zzzznomatch"},
		wantIDs:   []string{},
		wantTotal: 0,
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.Search(context.Background(), tt.req)
			require.NoError(t, err)

			got := make([]string, 0, len(res.Events))
			for _, e := range res.Events {
				got = append(got, e.ID)
			}
			assert.Equal(t, tt.wantIDs, got)
			assert.Equal(t, tt.wantTotal, res.TotalCount)
			assert.Equal(t, len(tt.wantIDs), res.Returned)
			assert.Equal(t, "en-us", res.Locale)
		})
	}
	mockCache.AssertExpectations(t)
}

func TestSearchDefaultLocale(t *testing.T) {
	mockCache := new(MockCache)
	svc := NewService(mockCache, "", nil)
	mockCache.On("Records", mock.Anything, catalog.DefaultLocale).Return(testEvents(), nil)

	res, err := svc.Search(context.Background(), SearchRequest{})
	require.NoError(t, err)
	assert.Equal(t, catalog.DefaultLocale, res.Locale)
	mockCache.AssertExpectations(t)
}

func TestSearchInvalidInput(t *testing.T) {
	mockCache := new(MockCache)
	svc := NewService(mockCache, "de-de", nil)

	_, err := svc.Search(context.Background(), SearchRequest{Criteria: catalog.Criteria{"topic": {""}}})
	assert.ErrorIs(t, err, catalog.ErrInvalidCriteria)

	_, err = svc.Search(context.Background(), SearchRequest{Limit: -1})
	assert.ErrorIs(t, err, catalog.ErrInvalidCriteria)

	mockCache.AssertNotCalled(t, "Records", mock.Anything, mock.Anything)
}

func TestSearchFetchFailure(t *testing.T) {
	mockCache := new(MockCache)
	svc := NewService(mockCache, "de-de", nil)
	fetchErr := &catalog.FetchError{Locale: "de-de", Err: errors.New("timeout")}
	mockCache.On("Records", mock.Anything, "de-de").Return(nil, fetchErr)

	_, err := svc.Search(context.Background(), SearchRequest{})
	assert.ErrorIs(t, err, catalog.ErrFetch)
	mockCache.AssertExpectations(t)
}

func TestGet(t *testing.T) {
	mockCache := new(MockCache)
	svc := NewService(mockCache, "de-de", nil)
	entry := cache.NewEntry("de-de", testEvents(), time.Now())
	mockCache.On("Entry", mock.Anything, "de-de").Return(entry, nil)

	tests := []struct {
		name    string
		id      string
		wantErr error
	}{{
		name: "Valid Event",
		id:   "3",
	}, {
		name:    "Event Not Found",
		id:      "missing-id",
		wantErr: catalog.ErrNotFound,
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := svc.Get(context.Background(), "DE-DE", tt.id)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "AI Summit", e.Title)
		})
	}
	mockCache.AssertExpectations(t)
}

func TestGetMissLogsCachedSetSize(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	mockCache := new(MockCache)
	svc := NewService(mockCache, "de-de", zap.New(core))
	mockCache.On("Entry", mock.Anything, "de-de").Return(cache.NewEntry("de-de", testEvents(), time.Now()), nil)

	_, err := svc.Get(context.Background(), "", "evt-past-budget")
	require.ErrorIs(t, err, catalog.ErrNotFound)
	assert.Contains(t, err.Error(), "among 3 cached events")

	entries := logs.FilterField(zap.String("id", "evt-past-budget")).All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Message, "api.max_pages")
	assert.Equal(t, int64(3), entries[0].ContextMap()["cached_records"])
}

func TestNotFoundIsDistinctFromEmptySearch(t *testing.T) {
	mockCache := new(MockCache)
	svc := NewService(mockCache, "de-de", nil)
	mockCache.On("Entry", mock.Anything, "de-de").Return(cache.NewEntry("de-de", testEvents(), time.Now()), nil)
	mockCache.On("Records", mock.Anything, "de-de").Return(testEvents(), nil)

	_, getErr := svc.Get(context.Background(), "de-de", "missing-id")
	res, searchErr := svc.Search(context.Background(), SearchRequest{Locale: "de-de", Query: "zzzznomatch"})

	assert.ErrorIs(t, getErr, catalog.ErrNotFound)
	assert.NoError(t, searchErr)
	assert.Empty(t, res.Events)
}

func TestFilters(t *testing.T) {
	mockCache := new(MockCache)
	svc := NewService(mockCache, "de-de", nil)
	mockCache.On("Records", mock.Anything, "de-de").Return(testEvents(), nil)

	res, err := svc.Filters(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, 3, res.TotalEvents)
	assert.Equal(t, []catalog.ValueCount{{Value: "ai", Count: 2}, {Value: "cloud", Count: 1}, {Value: "security", Count: 1}},
		res.Categories["topic"])
	assert.Equal(t, []catalog.ValueCount{{Value: "europe", Count: 2}, {Value: "asia", Count: 1}},
		res.Categories["region"])
	mockCache.AssertExpectations(t)
}

func TestStats(t *testing.T) {
	mockCache := new(MockCache)
	svc := NewService(mockCache, "de-de", nil)
	mockCache.On("Records", mock.Anything, "de-de").Return(testEvents(), nil)

	res, err := svc.Stats(context.Background(), StatsRequest{
		Criteria:   catalog.Criteria{"region": {"europe"}},
		Dimensions: []string{"country"},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.TotalEvents)
	assert.Equal(t, []catalog.ValueCount{{Value: "Germany", Count: 1}, {Value: catalog.Unknown, Count: 1}},
		res.Dimensions["country"])

	res, err = svc.Stats(context.Background(), StatsRequest{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, res.Dimensions, len(catalog.DefaultDimensions))
	assert.Equal(t, []catalog.ValueCount{{Value: "ai", Count: 2}}, res.Dimensions["topic"])

	_, err = svc.Stats(context.Background(), StatsRequest{Dimensions: []string{""}})
	assert.ErrorIs(t, err, catalog.ErrInvalidCriteria)
	mockCache.AssertExpectations(t)
}
