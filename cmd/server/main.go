package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eventscatalog/internal/cache"
	"eventscatalog/internal/config"
	"eventscatalog/internal/event"
	"eventscatalog/internal/logger"
	"eventscatalog/internal/metrics"
	"eventscatalog/internal/msevents"
	"eventscatalog/internal/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath  string
	warmLocales []string
)

var rootCmd = &cobra.Command{
	Use:   "eventscatalog-server",
	Short: "Serve the events catalog over HTTP and gRPC health",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_PATH"), "path to a YAML config file")
	rootCmd.Flags().StringSliceVar(&warmLocales, "warm", nil, "locales to fetch at startup, e.g. --warm en-us,de-de")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer log.Sync()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	fetcher := msevents.NewClient(cfg.Fetcher(), log.Named("msevents"), m)
	lc := cache.NewLocaleCache(fetcher, cache.Options{
		MaxLocales: cfg.MaxLocales(),
		Logger:     log.Named("cache"),
		Metrics:    m,
	})
	svc := event.NewService(lc, cfg.DefaultLocale, log.Named("event"))
	srv := server.NewServer(svc, lc, server.Options{
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
		RequestTimeout: cfg.Server.RequestTimeout,
	}, log.Named("server"), m)

	log.Info("Application started",
		zap.String("addr", cfg.Server.Addr),
		zap.String("events_api", cfg.API.URL),
		zap.String("default_locale", cfg.DefaultLocale),
		zap.Int("max_locales", cfg.MaxLocales()))

	for _, l := range warmLocales {
		go func(locale string) {
			if _, err := lc.Entry(ctx, locale); err != nil {
				log.Warn("warm-up failed", zap.String("locale", locale), zap.Error(err))
			}
		}(l)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("Server failed", zap.Error(err))
		}
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Shutdown failed", zap.Error(err))
		return err
	}
	return <-errCh
}
