// Package msevents fetches event cards from the Microsoft events API. It is
// the catalog's outbound collaborator: every card for a locale is pulled page
// by page and handed over undecoded.
package msevents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"eventscatalog/internal/catalog"
	"eventscatalog/internal/metrics"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/exp/rand"
	"golang.org/x/time/rate"
)

const (
	DefaultURL       = "https://www.microsoft.com/msonecloudapi/events/cards"
	DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"
	scenario         = "Events"
)

// Config controls paging, retries and throttling of upstream calls.
type Config struct {
	URL           string
	UserAgent     string
	PageSize      int
	MaxPages      int
	Timeout       time.Duration
	MaxRetries    int
	Backoff       time.Duration
	MaxBackoff    time.Duration
	RatePerSecond float64
	Burst         int
	Breaker       BreakerConfig
}

// BreakerConfig mirrors gobreaker.Settings.
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 20
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 2 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.Breaker.MaxRequests == 0 {
		c.Breaker.MaxRequests = 1
	}
	if c.Breaker.Timeout <= 0 {
		c.Breaker.Timeout = 30 * time.Second
	}
	if c.Breaker.ConsecutiveFailures == 0 {
		c.Breaker.ConsecutiveFailures = 3
	}
	return c
}

type cardsRequest struct {
	Locale   string `json:"locale"`
	Top      int    `json:"top"`
	Skip     int    `json:"skip"`
	Filters  string `json:"filters"`
	Scenario string `json:"scenario"`
	Query    string `json:"query"`
}

type cardsResponse struct {
	TotalCount int                 `json:"totalCount"`
	Cards      []catalog.RawRecord `json:"cards"`
}

// ErrUnparseable marks a 2xx answer whose body is not a cards response.
var ErrUnparseable = errors.New("unparseable events api response")

// StatusError is a non-2xx answer from the API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("events api returned status %d: %s", e.Code, e.Body)
}

func (e *StatusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Client implements catalog.Fetcher against the events API.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
	metrics *metrics.Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg Config, logger *zap.Logger, m *metrics.Metrics) *Client {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	c := &Client{
		cfg:     cfg,
		http:    newHTTPClient(cfg.Timeout),
		limiter: rate.NewLimiter(limit, cfg.Burst),
		logger:  logger,
		metrics: m,
		sleep:   sleepCtx,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "events-api",
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Breaker.ConsecutiveFailures
		},
		IsSuccessful: upstreamHealthy,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return c
}

// upstreamHealthy decides what the shared breaker counts as a failure. The
// breaker serves every locale, so answers that describe the request rather
// than the upstream (an empty locale, a 4xx) must not trip it.
func upstreamHealthy(err error) bool {
	if err == nil || errors.Is(err, catalog.ErrEmptyPayload) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return !se.retryable()
	}
	return false
}

func newHTTPClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}

// FetchRaw pulls every card for locale. A probe with top=0 reads the total,
// then pages of PageSize are requested up to MaxPages. The whole fetch runs
// through the circuit breaker so a dead upstream fails fast.
func (c *Client) FetchRaw(ctx context.Context, locale string) ([]catalog.RawRecord, error) {
	fetchID := uuid.NewString()
	logger := c.logger.With(zap.String("fetch_id", fetchID), zap.String("locale", locale))

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetchAll(ctx, logger, locale)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.metrics.UpstreamRequest("breaker_open")
		}
		return nil, err
	}
	return out.([]catalog.RawRecord), nil
}

func (c *Client) fetchAll(ctx context.Context, logger *zap.Logger, locale string) ([]catalog.RawRecord, error) {
	probe, err := c.fetchPage(ctx, logger, locale, 0, 0)
	if err != nil {
		return nil, err
	}
	if probe.TotalCount == 0 {
		logger.Warn("events api reported no events")
		return nil, catalog.ErrEmptyPayload
	}

	limit := probe.TotalCount
	if budget := c.cfg.MaxPages * c.cfg.PageSize; limit > budget {
		logger.Warn("total exceeds page budget, truncating",
			zap.Int("total", probe.TotalCount),
			zap.Int("budget", budget))
		limit = budget
	}

	all := make([]catalog.RawRecord, 0, limit)
	for skip := 0; skip < limit; skip += c.cfg.PageSize {
		page, err := c.fetchPage(ctx, logger, locale, c.cfg.PageSize, skip)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Cards...)
		if len(page.Cards) < c.cfg.PageSize {
			break
		}
	}

	logger.Info("fetched events",
		zap.Int("total", probe.TotalCount),
		zap.Int("cards", len(all)))
	return all, nil
}

// fetchPage requests one page, retrying transport errors, 429 and 5xx with
// exponential backoff plus jitter. Other statuses and undecodable bodies
// fail at once.
func (c *Client) fetchPage(ctx context.Context, logger *zap.Logger, locale string, top, skip int) (*cardsResponse, error) {
	body, err := json.Marshal(cardsRequest{
		Locale:   locale,
		Top:      top,
		Skip:     skip,
		Scenario: scenario,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	d := c.cfg.Backoff
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			c.metrics.UpstreamRequest("retry")
			logger.Warn("retrying events api request",
				zap.Int("attempt", attempt+1),
				zap.Int("skip", skip),
				zap.Duration("backoff", d),
				zap.Error(lastErr))
			if err := c.sleep(ctx, jitter(d)); err != nil {
				return nil, err
			}
			if d *= 2; d > c.cfg.MaxBackoff {
				d = c.cfg.MaxBackoff
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := c.do(ctx, body)
		if err == nil {
			c.metrics.UpstreamRequest("ok")
			return resp, nil
		}
		lastErr = err

		var se *StatusError
		if errors.As(err, &se) && !se.retryable() || errors.Is(err, ErrUnparseable) {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	c.metrics.UpstreamRequest("error")
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, body []byte) (*cardsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call events api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(snippet)}
	}

	var out cardsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	return &out, nil
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
