package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/amep/internal/adapters/catalog"
	"github.com/okian/amep/internal/adapters/http/api"
	"github.com/okian/amep/internal/adapters/journal"
	app "github.com/okian/amep/internal/app"
	"github.com/okian/amep/internal/config"
	"github.com/okian/amep/pkg/logger"
	"github.com/okian/amep/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout            = 10 * time.Second
	writeTimeout           = 10 * time.Second
	idleTimeout            = 60 * time.Second
	readHeaderTimeout      = 5 * time.Second
	shutdownTimeout        = 30 * time.Second
	systemMetricsInterval  = 10 * time.Second
	serviceMetricsInterval = 5 * time.Second
	journalGCInterval      = 10 * time.Minute
)

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// Use stderr for initialization errors since logger isn't available yet
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	loggerInstance := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		loggerInstance.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		loggerInstance.Error(ctx, "failed to load content catalog", logger.String("path", cfg.CatalogPath), logger.Error(err))
		os.Exit(1)
	}
	loggerInstance.Info(ctx, "content catalog loaded",
		logger.Int("items", cat.Len()),
		logger.Any("subjects", cat.Subjects()))

	svc := newService(cfg, cat, loggerInstance)
	if err := svc.Start(ctx); err != nil {
		loggerInstance.Error(ctx, "failed to start engine", logger.Error(err))
		os.Exit(1)
	}
	defer svc.Stop()

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, svc)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(ctx, cfg, svc),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		loggerInstance.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			loggerInstance.Error(ctx, "HTTP server failed", logger.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	loggerInstance.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		loggerInstance.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	loggerInstance.Info(ctx, "server stopped")
}

// newService maps the configuration onto engine options.
func newService(cfg *config.Config, cat *catalog.Catalog, l logger.Logger) *app.Service {
	jopts := []journal.Option{
		journal.WithPath(cfg.JournalPath),
		journal.WithBufferSize(cfg.JournalBufferSize),
		journal.WithGCInterval(journalGCInterval),
	}
	if cfg.JournalInMemory {
		jopts = append(jopts, journal.WithInMemory())
	}
	return app.New(
		app.WithLogger(l),
		app.WithEstimator(cfg.Estimator),
		app.WithMasteryParams(cfg.MasteryParams()),
		app.WithEngagementParams(cfg.EngagementParams()),
		app.WithPlannerParams(cfg.PlannerParams()),
		app.WithCatalog(cat),
		app.WithOperationTimeout(cfg.OperationTimeout()),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.EventQueueSize),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithShardCount(cfg.ShardCount),
		app.WithNotificationQueueSize(cfg.NotificationQueueSize),
		app.WithSubscriberBuffer(cfg.SubscriberBuffer),
		app.WithJournalOptions(jopts...),
		app.WithSnapshotInterval(cfg.SnapshotInterval()),
		app.WithDecaySweepInterval(cfg.DecaySweepInterval()),
	)
}

// newMux registers the API on a fresh mux. svc must be started.
func newMux(ctx context.Context, cfg *config.Config, svc *app.Service) *http.ServeMux {
	mux := http.NewServeMux()
	apiServer := api.NewServer(svc, svc,
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		api.WithNotifications(svc.Hub().Handler()),
		api.WithLogger(logger.Named("api")))
	apiServer.Register(ctx, mux)
	return mux
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater starts a background goroutine that updates service metrics.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
}

// updateServiceMetrics copies queue depths from the service stats.
func updateServiceMetrics(svc *app.Service) {
	stats := svc.GetStats()
	if queueLen, ok := stats["queueLength"].(int); ok {
		metrics.UpdateQueueSize("events", queueLen)
	}
	if queueLen, ok := stats["notificationQueueLength"].(int); ok {
		metrics.UpdateQueueSize("notifications", queueLen)
	}
}
