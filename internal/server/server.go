package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"eventscatalog/internal/event"
	"eventscatalog/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the gRPC health service name reported next to "".
const ServiceName = "eventscatalog"

// LocaleLister reports which locales are currently cached.
type LocaleLister interface {
	Locales() []string
}

type Options struct {
	RateLimit      float64
	RateBurst      int
	RequestTimeout time.Duration
}

type Server struct {
	httpServer *http.Server
	grpcServer *grpc.Server
	health     *health.Server
	eventSvc   *event.Service
	locales    LocaleLister
	metrics    *metrics.Metrics
	opts       Options
	logger     *zap.Logger
	started    time.Time
}

func NewServer(eventSvc *event.Service, locales LocaleLister, opts Options, logger *zap.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 100
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 10
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 90 * time.Second
	}

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	grpcServer := grpc.NewServer(grpc.MaxConcurrentStreams(100))
	healthpb.RegisterHealthServer(grpcServer, hs)
	reflection.Register(grpcServer)

	s := &Server{
		grpcServer: grpcServer,
		health:     hs,
		eventSvc:   eventSvc,
		locales:    locales,
		metrics:    m,
		opts:       opts,
		logger:     logger,
		started:    time.Now(),
	}
	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: opts.RequestTimeout + 10*time.Second, // cold fetches run inside the request
	}
	return s
}

// Router builds the REST routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(RateLimit(s.opts.RateLimit, s.opts.RateBurst))
		r.Use(TimeoutMiddleware(s.opts.RequestTimeout))

		r.Method(http.MethodGet, "/events", s.instrument("search", s.handleSearch))
		r.Method(http.MethodGet, "/events/{id}", s.instrument("get", s.handleGetEvent))
		r.Method(http.MethodGet, "/filters", s.instrument("filters", s.handleFilters))
		r.Method(http.MethodGet, "/stats", s.instrument("stats", s.handleStats))
	})

	return r
}

func (s *Server) instrument(name string, h http.HandlerFunc) http.Handler {
	return s.metrics.InstrumentHandler(name, h)
}

// Handler multiplexes gRPC (health, reflection) and REST on one port over
// h2c.
func (s *Server) Handler() http.Handler {
	r := s.Router()
	h2s := &http2.Server{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.ProtoMajor == 2 && req.Header.Get("Content-Type") == "application/grpc" {
			s.grpcServer.ServeHTTP(w, req)
		} else {
			r.ServeHTTP(w, req)
		}
	})
	return h2c.NewHandler(handler, h2s)
}

func (s *Server) Start(addr string) error {
	s.logger.Info("Starting server", zap.String("addr", addr))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	return s.Serve(listener)
}

// Serve returns nil once Shutdown has been called, even if Shutdown ran
// first.
func (s *Server) Serve(listener net.Listener) error {
	err := s.httpServer.Serve(listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown flips health to NOT_SERVING, then drains HTTP connections until
// ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Shutdown()
	defer s.grpcServer.Stop()
	return s.httpServer.Shutdown(ctx)
}
