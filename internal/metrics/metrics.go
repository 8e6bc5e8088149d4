// Package metrics contains the prometheus collectors exported by the
// catalog service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector. A nil *Metrics is valid and records
// nothing, which keeps tests free of registry plumbing.
type Metrics struct {
	reg *prometheus.Registry

	cacheLookups   *prometheus.CounterVec
	fetches        *prometheus.CounterVec
	fetchDuration  prometheus.Histogram
	droppedRecords *prometheus.CounterVec
	cachedLocales  prometheus.Gauge
	upstreamPages  *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		reg: reg,
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventscatalog_cache_lookups_total",
			Help: "Locale cache lookups by result (hit or miss).",
		}, []string{"result"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventscatalog_fetches_total",
			Help: "Locale record set fetches by result.",
		}, []string{"locale", "result"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "eventscatalog_fetch_duration_seconds",
			Help:    "Time to fetch and normalize a locale record set.",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		droppedRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventscatalog_dropped_records_total",
			Help: "Raw records dropped during normalization.",
		}, []string{"locale"}),
		cachedLocales: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eventscatalog_cached_locales",
			Help: "Number of locales currently held in the cache.",
		}),
		upstreamPages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventscatalog_upstream_requests_total",
			Help: "Requests sent to the remote events API by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.cacheLookups, m.fetches, m.fetchDuration,
		m.droppedRecords, m.cachedLocales, m.upstreamPages)
	return m
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues("hit").Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// Fetch records one fetch attempt for locale.
func (m *Metrics) Fetch(locale string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.fetches.WithLabelValues(locale, result).Inc()
	m.fetchDuration.Observe(d.Seconds())
}

func (m *Metrics) Dropped(locale string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.droppedRecords.WithLabelValues(locale).Add(float64(n))
}

func (m *Metrics) CachedLocales(n int) {
	if m == nil {
		return
	}
	m.cachedLocales.Set(float64(n))
}

// UpstreamRequest counts a single page request: "ok", "retry", "error" or
// "breaker_open".
func (m *Metrics) UpstreamRequest(outcome string) {
	if m == nil {
		return
	}
	m.upstreamPages.WithLabelValues(outcome).Inc()
}

// Handler exports the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// InstrumentHandler decorates an HTTP handler with in-flight, count and
// latency collectors labelled by handler name.
func (m *Metrics) InstrumentHandler(name string, handler http.Handler) http.Handler {
	if m == nil {
		return handler
	}
	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "eventscatalog_requests_in_flight",
		Help:        "Number of requests currently being served by the handler.",
		ConstLabels: prometheus.Labels{"handler": name},
	})
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "eventscatalog_requests_total",
		Help:        "Total number of requests for the handler.",
		ConstLabels: prometheus.Labels{"handler": name},
	}, []string{"code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "eventscatalog_response_duration_seconds",
		Help:        "A histogram of request latencies.",
		Buckets:     prometheus.DefBuckets,
		ConstLabels: prometheus.Labels{"handler": name},
	}, []string{})

	inFlight = register(m.reg, inFlight).(prometheus.Gauge)
	counter = register(m.reg, counter).(*prometheus.CounterVec)
	duration = register(m.reg, duration).(*prometheus.HistogramVec)

	handler = promhttp.InstrumentHandlerInFlight(inFlight, handler)
	handler = promhttp.InstrumentHandlerCounter(counter, handler)
	return promhttp.InstrumentHandlerDuration(duration, handler)
}

// register tolerates double registration so routers can be rebuilt on the
// same registry; the already registered collector is returned in that case.
func register(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	err := reg.Register(c)
	if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
		return are.ExistingCollector
	}
	if err != nil {
		panic(err)
	}
	return c
}
