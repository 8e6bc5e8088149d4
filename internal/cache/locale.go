package cache

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"eventscatalog/internal/catalog"
	"eventscatalog/internal/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// LocaleCache holds one fetched record set per locale for the life of the
// process. It starts empty; entries are filled on first request and never
// refreshed. When MaxLocales is positive the least recently used locale is
// evicted once the cap is exceeded and will be fetched again on its next
// request.
//
// At most one fetch per locale is in flight. Fetches for different locales
// run independently; the mutex only guards the index, never a fetch.
type LocaleCache struct {
	fetcher catalog.Fetcher
	logger  *zap.Logger
	metrics *metrics.Metrics
	max     int
	now     func() time.Time

	flights singleflight.Group

	mu    sync.Mutex
	ll    *list.List               // most recently used at front
	items map[string]*list.Element // locale -> *Entry element
}

// Options tunes a LocaleCache.
type Options struct {
	MaxLocales int
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

func NewLocaleCache(fetcher catalog.Fetcher, opts Options) *LocaleCache {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocaleCache{
		fetcher: fetcher,
		logger:  logger,
		metrics: opts.Metrics,
		max:     opts.MaxLocales,
		now:     time.Now,
		ll:      list.New(),
		items:   make(map[string]*list.Element),
	}
}

func (c *LocaleCache) Records(ctx context.Context, locale string) ([]catalog.Event, error) {
	e, err := c.Entry(ctx, locale)
	if err != nil {
		return nil, err
	}
	return e.Records, nil
}

// Entry returns the cached entry for locale or fetches it. Concurrent
// callers for the same uncached locale share a single fetch and its result.
// A caller whose context ends stops waiting, but the shared fetch carries on
// for the others.
func (c *LocaleCache) Entry(ctx context.Context, locale string) (*Entry, error) {
	key := catalog.NormalizeLocale(locale)
	if key == "" {
		key = catalog.DefaultLocale
	}

	if e, ok := c.get(key); ok {
		c.metrics.CacheHit()
		return e, nil
	}
	c.metrics.CacheMiss()

	fetchCtx := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(key, func() (interface{}, error) {
		return c.load(fetchCtx, key)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Entry), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *LocaleCache) load(ctx context.Context, key string) (*Entry, error) {
	// A flight that finished just before this one started may have stored it.
	if e, ok := c.get(key); ok {
		return e, nil
	}

	start := c.now()
	c.logger.Info("fetching locale", zap.String("locale", key))

	entry, err := c.fetch(ctx, key)
	c.metrics.Fetch(key, c.now().Sub(start), err)
	if err != nil {
		c.logger.Error("locale fetch failed", zap.String("locale", key), zap.Error(err))
		return nil, err
	}

	c.put(entry)
	c.logger.Info("locale cached",
		zap.String("locale", key),
		zap.Int("records", len(entry.Records)),
		zap.Duration("duration", c.now().Sub(start)))
	return entry, nil
}

func (c *LocaleCache) fetch(ctx context.Context, key string) (*Entry, error) {
	raw, err := c.fetcher.FetchRaw(ctx, key)
	if err != nil {
		var fe *catalog.FetchError
		if errors.As(err, &fe) {
			return nil, err
		}
		return nil, &catalog.FetchError{Locale: key, Err: err}
	}

	records, dropped := catalog.NormalizeAll(raw)
	if dropped > 0 {
		c.logger.Warn("dropped malformed records",
			zap.String("locale", key),
			zap.Int("dropped", dropped),
			zap.Int("received", len(raw)))
		c.metrics.Dropped(key, dropped)
	}
	if len(records) == 0 {
		return nil, &catalog.FetchError{Locale: key, Err: catalog.ErrEmptyPayload}
	}
	return NewEntry(key, records, c.now()), nil
}

func (c *LocaleCache) get(key string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*Entry), true
}

func (c *LocaleCache) put(e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[e.Locale]; ok {
		el.Value = e
		c.ll.MoveToFront(el)
		return
	}
	c.items[e.Locale] = c.ll.PushFront(e)
	for c.max > 0 && c.ll.Len() > c.max {
		tail := c.ll.Back()
		old := tail.Value.(*Entry)
		c.ll.Remove(tail)
		delete(c.items, old.Locale)
		c.logger.Info("evicted locale", zap.String("locale", old.Locale))
	}
	c.metrics.CachedLocales(c.ll.Len())
}

// Len returns the number of cached locales.
func (c *LocaleCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Locales lists cached locales, most recently used first.
func (c *LocaleCache) Locales() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, c.ll.Len())
	for el := c.ll.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*Entry).Locale)
	}
	return out
}
