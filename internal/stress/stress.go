// Package stress drives concurrent read load against a catalog server.
package stress

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"eventscatalog/internal/client"

	"go.uber.org/zap"
	"golang.org/x/exp/rand"
)

const (
	DefaultDuration    = 60 * time.Second
	DefaultConcurrency = 4
	DefaultDelay       = 5 * time.Millisecond
)

type Config struct {
	Duration    time.Duration
	Concurrency int // workers per operation
	Delay       time.Duration
	Locale      string
	Queries     []string
}

type OpStats struct {
	Success     uint64
	Failed      uint64
	RateLimited uint64
}

func (s *OpStats) Total() uint64 {
	return s.Success + s.Failed + s.RateLimited
}

func (s *OpStats) record(err error) {
	var apiErr *client.APIError
	switch {
	case err == nil:
		atomic.AddUint64(&s.Success, 1)
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests:
		atomic.AddUint64(&s.RateLimited, 1)
	default:
		atomic.AddUint64(&s.Failed, 1)
	}
}

func (s *OpStats) snapshot() OpStats {
	return OpStats{
		Success:     atomic.LoadUint64(&s.Success),
		Failed:      atomic.LoadUint64(&s.Failed),
		RateLimited: atomic.LoadUint64(&s.RateLimited),
	}
}

type Report struct {
	Elapsed time.Duration
	Ops     map[string]OpStats
}

// Names returns the operation names in a stable order.
func (r Report) Names() []string {
	names := make([]string, 0, len(r.Ops))
	for n := range r.Ops {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r Report) Totals() OpStats {
	var t OpStats
	for _, s := range r.Ops {
		t.Success += s.Success
		t.Failed += s.Failed
		t.RateLimited += s.RateLimited
	}
	return t
}

// runner shares the ids seen by search workers with the lookup workers.
type runner struct {
	c      *client.Client
	cfg    Config
	logger *zap.Logger

	idsMu sync.Mutex
	ids   []string
}

type operation struct {
	name  string
	fn    func(context.Context) error
	stats OpStats
}

// Run starts Concurrency workers for each operation and stops them when
// Duration elapses or ctx ends.
func Run(ctx context.Context, c *client.Client, cfg Config, logger *zap.Logger) Report {
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultDuration
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	if len(cfg.Queries) == 0 {
		cfg.Queries = []string{"", "ai", "azure", "security", "copilot"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &runner{c: c, cfg: cfg, logger: logger}

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	ops := []*operation{
		{name: "search", fn: r.search},
		{name: "get", fn: r.get},
		{name: "filters", fn: r.filters},
		{name: "stats", fn: r.stats},
	}

	logger.Info("starting stress test",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers_per_op", cfg.Concurrency))

	start := time.Now()
	var wg sync.WaitGroup
	for _, op := range ops {
		for i := 0; i < cfg.Concurrency; i++ {
			wg.Add(1)
			go func(op *operation) {
				defer wg.Done()
				r.loop(ctx, op)
			}(op)
		}
	}
	wg.Wait()

	rep := Report{Elapsed: time.Since(start), Ops: make(map[string]OpStats, len(ops))}
	for _, op := range ops {
		rep.Ops[op.name] = op.stats.snapshot()
	}
	return rep
}

// loop runs op continuously until ctx expires.
func (r *runner) loop(ctx context.Context, op *operation) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		err := op.fn(ctx)
		if ctx.Err() != nil {
			// Calls cut off by the deadline are not counted.
			return
		}
		switch {
		case errors.Is(err, errSkipped):
			time.Sleep(time.Millisecond)
			continue
		case err != nil:
			r.logger.Debug("operation failed", zap.String("op", op.name), zap.Error(err))
		}
		op.stats.record(err)
		if r.cfg.Delay > 0 {
			time.Sleep(r.cfg.Delay)
		}
	}
}

var errSkipped = errors.New("nothing to do yet")

func (r *runner) search(ctx context.Context) error {
	q := r.cfg.Queries[rand.Intn(len(r.cfg.Queries))]
	res, err := r.c.Search(ctx, client.SearchParams{Locale: r.cfg.Locale, Query: q, Limit: 50})
	if err != nil {
		return err
	}
	if len(res.Events) > 0 {
		r.idsMu.Lock()
		r.ids = r.ids[:0]
		for _, e := range res.Events {
			r.ids = append(r.ids, e.ID)
		}
		r.idsMu.Unlock()
	}
	return nil
}

func (r *runner) get(ctx context.Context) error {
	r.idsMu.Lock()
	if len(r.ids) == 0 {
		r.idsMu.Unlock()
		return errSkipped
	}
	id := r.ids[rand.Intn(len(r.ids))]
	r.idsMu.Unlock()

	_, err := r.c.Get(ctx, r.cfg.Locale, id)
	return err
}

func (r *runner) filters(ctx context.Context) error {
	_, err := r.c.Filters(ctx, r.cfg.Locale)
	return err
}

func (r *runner) stats(ctx context.Context) error {
	_, err := r.c.Stats(ctx, client.StatsParams{Locale: r.cfg.Locale, Limit: 10})
	return err
}
