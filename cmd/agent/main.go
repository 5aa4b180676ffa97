package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ErlanBelekov/backup-agent/config"
	"github.com/ErlanBelekov/backup-agent/internal/health"
	"github.com/ErlanBelekov/backup-agent/internal/infrastructure/postgres"
	"github.com/ErlanBelekov/backup-agent/internal/infrastructure/sqlite"
	ctxlog "github.com/ErlanBelekov/backup-agent/internal/log"
	"github.com/ErlanBelekov/backup-agent/internal/metrics"
	"github.com/ErlanBelekov/backup-agent/internal/notify"
	"github.com/ErlanBelekov/backup-agent/internal/queue"
	"github.com/ErlanBelekov/backup-agent/internal/remote"
	"github.com/ErlanBelekov/backup-agent/internal/repository"
	"github.com/ErlanBelekov/backup-agent/internal/scheduler"
	"github.com/ErlanBelekov/backup-agent/internal/source"
	httptransport "github.com/ErlanBelekov/backup-agent/internal/transport/http"
	"github.com/ErlanBelekov/backup-agent/internal/transport/http/handler"
	"github.com/ErlanBelekov/backup-agent/internal/usecase"
	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := ctxlog.New(os.Stdout, cfg.Env, cfg.SlogLevel())

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	runs, closeRuns, err := openHistory(ctx, cfg)
	if err != nil {
		stop()
		log.Fatalf("history: %v", err)
	}
	defer closeRuns()
	logger.Info("history store ready", "driver", cfg.HistoryDriver)

	metrics.Register()
	deps := []health.Dependency{{Name: "history", Pinger: runs}}

	clk := clock.New()
	q := queue.New()

	var (
		src      scheduler.Source
		reporter scheduler.Reporter
		fileSrc  *source.FileSource
	)
	switch cfg.Source {
	case "file":
		fileSrc = source.NewFileSource(cfg.SchedulesFile, logger)
		src = fileSrc
	default:
		client := remote.NewClient(cfg.APIURL, cfg.AgentUUID, cfg.AgentKey)
		src, reporter = client, client
		deps = append(deps, health.Dependency{Name: "backend", Pinger: client})
	}

	checker := health.NewChecker(logger, prometheus.DefaultRegisterer, deps...)

	syncer := scheduler.NewSyncer(src, q, clk, logger)
	if _, err := syncer.Sync(ctx); err != nil {
		// keep running: the next cron tick retries
		logger.Error("initial sync", "error", err)
	}

	worker := scheduler.NewWorker(
		q,
		runs,
		scheduler.NewExecutor(cfg.BackupEngineURL, cfg.BackupTimeout()),
		reporter,
		notify.NewNotifier(cfg.Env, cfg.ResendAPIKey, cfg.ResendFrom, cfg.AlertEmail, logger),
		clk,
		logger,
		scheduler.WorkerConfig{
			Concurrency: cfg.Concurrency,
			MaxRetries:  cfg.BackupMaxRetries,
			Backoff:     scheduler.Backoff(cfg.BackupBackoff),
		},
	)

	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	run(func() { scheduler.NewDispatcher(q, worker, clk, logger, cfg.PollInterval()).Start(ctx) })
	run(func() { scheduler.NewReaper(runs, clk, logger, time.Hour, cfg.HistoryRetention()).Start(ctx) })
	run(func() {
		if err := syncer.Start(ctx, cfg.SyncSpec); err != nil {
			logger.Error("syncer", "error", err)
		}
	})
	if fileSrc != nil {
		run(func() {
			if err := fileSrc.Watch(ctx, func() { syncer.Trigger(ctx) }); err != nil {
				logger.Error("schedules file watcher", "error", err)
			}
		})
	}

	uc := usecase.NewScheduleUsecase(q, runs, clk)
	adminSrv := http.Server{
		Addr:              ":" + cfg.AdminPort,
		Handler:           httptransport.NewRouter(logger, handler.NewScheduleHandler(uc, logger), []byte(cfg.AdminJWTSecret)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)

	go func() {
		logger.Info("admin server started", "port", cfg.AdminPort)
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("admin server: %v", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	// running backups finish before the history store closes
	wg.Wait()
	logger.Info("agent shut down")
}

func openHistory(ctx context.Context, cfg *config.Config) (repository.RunRepository, func(), error) {
	if cfg.HistoryDriver == "postgres" {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewRunRepository(pool), pool.Close, nil
	}

	db, err := sqlite.Open(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	repo := sqlite.NewRunRepository(db)
	return repo, func() {
		if err := repo.Close(); err != nil {
			slog.Error("close history store", "error", err)
		}
	}, nil
}
