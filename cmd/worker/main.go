package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/documind/internal/app"
	"github.com/nikhilbhutani/documind/internal/config"
	"github.com/nikhilbhutani/documind/internal/queue"
	"github.com/nikhilbhutani/documind/internal/queue/workers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.Level}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	a, err := app.New(context.Background(), cfg)
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	srv := asynq.NewServer(
		queue.RedisOpt(cfg.Redis),
		asynq.Config{
			Concurrency: cfg.Queue.Concurrency,
			Queues: map[string]int{
				queue.QueueCritical: 6,
				queue.QueueDefault:  3,
				queue.QueueLow:      1,
			},
			Logger: newAsynqLogger(logger),
		},
	)

	registry := queue.NewHandlersRegistry()
	workers.Register(registry, a.Catalog, a.Queue)

	scheduler := asynq.NewScheduler(queue.RedisOpt(cfg.Redis), &asynq.SchedulerOpts{Logger: newAsynqLogger(logger)})
	reconcile, err := queue.NewTask(queue.TypeCatalogReconcile, queue.ReconcilePayload{})
	if err != nil {
		slog.Error("failed to build reconcile task", "error", err)
		os.Exit(1)
	}
	if _, err := scheduler.Register(cfg.Queue.ReconcileCron, reconcile, asynq.Queue(queue.QueueLow)); err != nil {
		slog.Error("failed to schedule reconciliation", "cron", cfg.Queue.ReconcileCron, "error", err)
		os.Exit(1)
	}
	if err := scheduler.Start(); err != nil {
		slog.Error("scheduler error", "error", err)
		os.Exit(1)
	}
	defer scheduler.Shutdown()

	if err := srv.Start(registry.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
	slog.Info("worker started", "concurrency", cfg.Queue.Concurrency, "reconcile_cron", cfg.Queue.ReconcileCron)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	srv.Shutdown()
	slog.Info("worker stopped")
}
