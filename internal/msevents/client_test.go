package msevents

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"eventscatalog/internal/catalog"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI serves totalCount cards and records every request it sees.
type fakeAPI struct {
	mu       sync.Mutex
	total    int
	requests []cardsRequest
	failures int // answer 500 this many times first
	status   int // fixed non-200 status, if set
	body     string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req cardsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()

	if r.Header.Get("Content-Type") != "application/json" || r.Header.Get("User-Agent") == "" {
		http.Error(w, "missing headers", http.StatusBadRequest)
		return
	}
	if f.status != 0 {
		http.Error(w, "nope", f.status)
		return
	}
	if fail {
		http.Error(w, "upstream down", http.StatusInternalServerError)
		return
	}
	if f.body != "" {
		w.Write([]byte(f.body))
		return
	}

	cards := []map[string]any{}
	for i := req.Skip; i < req.Skip+req.Top && i < f.total; i++ {
		cards = append(cards, map[string]any{"content": map[string]any{"id": fmt.Sprintf("evt-%03d", i)}})
	}
	json.NewEncoder(w).Encode(map[string]any{"totalCount": f.total, "cards": cards})
}

func (f *fakeAPI) Requests() []cardsRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]cardsRequest(nil), f.requests...)
}

func newTestClient(t *testing.T, api *fakeAPI, cfg Config) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	cfg.URL = srv.URL
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	c := NewClient(cfg, nil, nil)
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return c
}

func TestFetchRawPaginates(t *testing.T) {
	api := &fakeAPI{total: 250}
	c := newTestClient(t, api, Config{PageSize: 100})

	cards, err := c.FetchRaw(context.Background(), "en-us")
	require.NoError(t, err)
	assert.Len(t, cards, 250)

	reqs := api.Requests()
	require.Len(t, reqs, 4)
	assert.Equal(t, 0, reqs[0].Top, "probe")
	for i, skip := range []int{0, 100, 200} {
		assert.Equal(t, 100, reqs[i+1].Top)
		assert.Equal(t, skip, reqs[i+1].Skip)
	}
	for _, r := range reqs {
		assert.Equal(t, "en-us", r.Locale)
		assert.Equal(t, "Events", r.Scenario)
	}

	events, dropped := catalog.NormalizeAll(cards)
	assert.Zero(t, dropped)
	assert.Equal(t, "evt-000", events[0].ID)
	assert.Equal(t, "evt-249", events[249].ID)
}

func TestFetchRawRespectsMaxPages(t *testing.T) {
	api := &fakeAPI{total: 1000}
	c := newTestClient(t, api, Config{PageSize: 10, MaxPages: 3})

	cards, err := c.FetchRaw(context.Background(), "de-de")
	require.NoError(t, err)
	assert.Len(t, cards, 30)
	assert.Len(t, api.Requests(), 4)
}

func TestFetchRawEmpty(t *testing.T) {
	api := &fakeAPI{total: 0}
	c := newTestClient(t, api, Config{})

	_, err := c.FetchRaw(context.Background(), "de-de")
	assert.ErrorIs(t, err, catalog.ErrEmptyPayload)
	assert.Len(t, api.Requests(), 1)
}

func TestFetchRawRetries(t *testing.T) {
	api := &fakeAPI{total: 5, failures: 2}
	c := newTestClient(t, api, Config{MaxRetries: 3})

	cards, err := c.FetchRaw(context.Background(), "de-de")
	require.NoError(t, err)
	assert.Len(t, cards, 5)
	assert.Len(t, api.Requests(), 4, "two failed probes, one good probe, one page")
}

func TestFetchRawGivesUp(t *testing.T) {
	tests := []struct {
		name      string
		api       *fakeAPI
		wantCalls int
		check     func(t *testing.T, err error)
	}{{
		name:      "server errors exhaust retries",
		api:       &fakeAPI{total: 5, failures: 10},
		wantCalls: 3,
		check: func(t *testing.T, err error) {
			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, http.StatusInternalServerError, se.Code)
		},
	}, {
		name:      "client errors are not retried",
		api:       &fakeAPI{status: http.StatusForbidden},
		wantCalls: 1,
		check: func(t *testing.T, err error) {
			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, http.StatusForbidden, se.Code)
		},
	}, {
		name:      "garbage body is not retried",
		api:       &fakeAPI{body: "<html>maintenance</html>"},
		wantCalls: 1,
		check: func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrUnparseable)
		},
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.api, Config{MaxRetries: 3})
			_, err := c.FetchRaw(context.Background(), "de-de")
			require.Error(t, err)
			tt.check(t, err)
			assert.Len(t, tt.api.Requests(), tt.wantCalls)
		})
	}
}

func TestFetchRawBreakerOpens(t *testing.T) {
	api := &fakeAPI{status: http.StatusBadGateway}
	c := newTestClient(t, api, Config{
		MaxRetries: 1,
		Breaker:    BreakerConfig{ConsecutiveFailures: 2, Timeout: time.Minute},
	})

	for i := 0; i < 2; i++ {
		_, err := c.FetchRaw(context.Background(), "de-de")
		require.Error(t, err)
	}
	_, err := c.FetchRaw(context.Background(), "de-de")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Len(t, api.Requests(), 2, "open breaker short-circuits the call")
}

// Unknown locales answer with zero events or a 4xx; neither may lock other
// locales out behind an open breaker.
func TestBadLocalesDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req cardsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		switch req.Locale {
		case "en-us":
			cards := []map[string]any{}
			if req.Top > 0 {
				cards = append(cards, map[string]any{"content": map[string]any{"id": "evt-1"}})
			}
			json.NewEncoder(w).Encode(map[string]any{"totalCount": 1, "cards": cards})
		case "xx-bad":
			http.Error(w, "unknown locale", http.StatusBadRequest)
		default:
			json.NewEncoder(w).Encode(map[string]any{"totalCount": 0, "cards": []any{}})
		}
	}))
	defer srv.Close()

	c := NewClient(Config{
		URL:        srv.URL,
		MaxRetries: 1,
		Breaker:    BreakerConfig{ConsecutiveFailures: 2, Timeout: time.Minute},
	}, nil, nil)

	for _, locale := range []string{"xx-aa", "xx-bb", "xx-cc"} {
		_, err := c.FetchRaw(context.Background(), locale)
		assert.ErrorIs(t, err, catalog.ErrEmptyPayload, locale)
	}
	for i := 0; i < 3; i++ {
		_, err := c.FetchRaw(context.Background(), "xx-bad")
		var se *StatusError
		require.ErrorAs(t, err, &se)
	}

	cards, err := c.FetchRaw(context.Background(), "en-us")
	require.NoError(t, err)
	assert.Len(t, cards, 1)
	assert.Equal(t, gobreaker.StateClosed, c.breaker.State())
}

func TestUpstreamHealthy(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, true},
		{catalog.ErrEmptyPayload, true},
		{&StatusError{Code: http.StatusNotFound}, true},
		{&StatusError{Code: http.StatusTooManyRequests}, false},
		{&StatusError{Code: http.StatusBadGateway}, false},
		{ErrUnparseable, false},
		{context.DeadlineExceeded, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, upstreamHealthy(tt.err), "%v", tt.err)
	}
}

func TestFetchRawContextCancelled(t *testing.T) {
	api := &fakeAPI{total: 5}
	c := newTestClient(t, api, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.FetchRaw(ctx, "de-de")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestJitterBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := jitter(2 * time.Second)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 2*time.Second)
	}
	assert.Zero(t, jitter(0))
}
