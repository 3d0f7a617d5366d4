package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	apihttp "animestream/catalogservice/internal/api/http"
	"animestream/catalogservice/internal/app"
	"animestream/catalogservice/internal/crawl"
	"animestream/catalogservice/internal/domain"
	"animestream/catalogservice/internal/metrics"
	"animestream/catalogservice/internal/reconcile"
	"animestream/catalogservice/internal/telemetry"
)

const serviceName = "catalog"

var version = "dev"

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), telemetry.ConfigFromEnv(serviceName, version))
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", serviceName),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.Duration("requestTimeout", cfg.RequestTimeout),
		slog.String("cacheBackend", cfg.CacheBackend),
		slog.String("matchMode", cfg.MatchMode),
		slog.String("anilistURL", cfg.AniListURL),
		slog.String("animesiteURL", cfg.AnimeSiteURL),
		slog.String("mangadexURL", cfg.MangaDexURL),
		slog.Bool("hasProvidersFile", strings.TrimSpace(cfg.ProvidersFile) != ""),
		slog.String("crawlSchedule", cfg.CrawlSchedule),
		slog.Duration("contentTTL", cfg.ContentTTL),
		slog.Duration("sourceTTL", cfg.SourceTTL),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startCtx, cancelStart := context.WithTimeout(rootCtx, 20*time.Second)
	rt, err := app.Build(startCtx, cfg, logger)
	cancelStart()
	if err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("cache close failed", slog.String("error", err.Error()))
		}
	}()

	scheduler := startCrawler(cfg, rt.Engine, logger)
	if scheduler != nil {
		defer scheduler.Stop()
	}

	handler := apihttp.NewServer(rt.Engine, apihttp.WithLogger(logger)).Handler()
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Crawl runs triggered through the admin route and thorough
		// reconciliation can outlast short write timeouts.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("catalog service started",
		slog.String("addr", cfg.HTTPAddr),
		slog.String("mode", string(rt.Engine.Mode())),
	)

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("catalog service stopped")
}

// startCrawler schedules background crawls that resume where the previous
// run stopped. Without a schedule it only honours CRAWL_ON_START. Runs never
// overlap, so nextPage needs no lock. The returned scheduler owns every run,
// so stopping it waits for an on-start crawl too.
func startCrawler(cfg app.Config, engine *reconcile.Engine, logger *slog.Logger) *crawl.Scheduler {
	mediaType := domain.ParseMediaType(cfg.CrawlType)
	nextPage := 0
	run := func(ctx context.Context) {
		_, report, err := engine.Crawl(ctx, crawl.Options{
			Type:          mediaType,
			StartPage:     nextPage,
			MaxPages:      cfg.CrawlMaxPages,
			IDsPerPage:    cfg.CrawlIDsPerPage,
			InterPageWait: cfg.CrawlPageWait,
			PerIDWait:     cfg.CrawlIDWait,
		})
		if err != nil {
			logger.Warn("scheduled crawl failed", slog.String("error", err.Error()))
			return
		}
		nextPage = report.NextStartPage()
	}

	schedule := strings.TrimSpace(cfg.CrawlSchedule)
	if schedule == "" && !cfg.CrawlOnStart {
		return nil
	}
	scheduler, err := crawl.NewScheduler(schedule, run, logger)
	if err != nil {
		logger.Warn("crawl schedule disabled", slog.String("error", err.Error()))
		return nil
	}
	scheduler.Start()
	if cfg.CrawlOnStart {
		scheduler.RunNow()
	}
	if schedule != "" {
		logger.Info("crawl scheduled", slog.String("schedule", schedule), slog.String("type", string(mediaType)))
	}
	return scheduler
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
