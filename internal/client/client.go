// Package client talks to a running catalog server over REST, and over gRPC
// for the health probe.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"eventscatalog/internal/catalog"
	"eventscatalog/internal/event"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// APIError is a non-200 answer. It unwraps to the catalog error matching
// the status so callers can use errors.Is across the wire.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest:
		return catalog.ErrInvalidCriteria
	case http.StatusNotFound:
		return catalog.ErrNotFound
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return catalog.ErrFetch
	}
	return nil
}

// Detail is one event with its source content.
type Detail struct {
	catalog.Event
	RawContent json.RawMessage `json:"raw_content,omitempty"`
}

type Health struct {
	Status        string   `json:"status"`
	Uptime        string   `json:"uptime"`
	CachedLocales []string `json:"cached_locales"`
}

type SearchParams struct {
	Locale  string
	Query   string
	Filters string // option string, "topic:ai,region:europe"
	Limit   int
}

type StatsParams struct {
	Locale     string
	Filters    string
	Dimensions string // "country,topic"
	Limit      int
}

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Search(ctx context.Context, p SearchParams) (event.SearchResult, error) {
	q := url.Values{}
	setIf(q, "locale", p.Locale)
	setIf(q, "q", p.Query)
	setIf(q, "filters", p.Filters)
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	var res event.SearchResult
	err := c.get(ctx, "/events", q, &res)
	return res, err
}

func (c *Client) Get(ctx context.Context, locale, id string) (Detail, error) {
	q := url.Values{}
	setIf(q, "locale", locale)
	var res Detail
	err := c.get(ctx, "/events/"+url.PathEscape(id), q, &res)
	return res, err
}

func (c *Client) Filters(ctx context.Context, locale string) (event.FilterResult, error) {
	q := url.Values{}
	setIf(q, "locale", locale)
	var res event.FilterResult
	err := c.get(ctx, "/filters", q, &res)
	return res, err
}

func (c *Client) Stats(ctx context.Context, p StatsParams) (event.StatsResult, error) {
	q := url.Values{}
	setIf(q, "locale", p.Locale)
	setIf(q, "filters", p.Filters)
	setIf(q, "dimensions", p.Dimensions)
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	var res event.StatsResult
	err := c.get(ctx, "/stats", q, &res)
	return res, err
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var res Health
	err := c.get(ctx, "/healthz", nil, &res)
	return res, err
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

// CheckHealth asks the gRPC health service at target (host:port, plaintext
// h2c) for service and returns the serving status name.
func CheckHealth(ctx context.Context, target, service string) (string, error) {
	conn, err := grpc.Dial(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return "", fmt.Errorf("failed to dial %s: %w", target, err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return "", fmt.Errorf("health check failed: %w", err)
	}
	return resp.GetStatus().String(), nil
}
