package main

import (
	"context"
	"log"
	"time"

	"paperdigest/internal/activities"
	"paperdigest/internal/app"
	"paperdigest/internal/config"
	"paperdigest/internal/logging"
	"paperdigest/internal/workflows"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("build pipeline", zap.Error(err))
	}
	defer a.Close()

	c, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		logger.Fatal("dial temporal", zap.Error(err))
	}
	defer c.Close()

	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{})
	workflows.Register(w)
	activities.Register(w, activities.New(a.Runner, a.Backend.Status, cfg.RunsDir))

	created, err := workflows.EnsureSchedule(ctx, c.ScheduleClient(), workflows.ScheduleConfig{
		ID:         cfg.ScheduleID,
		Every:      cfg.ScheduleEvery,
		TaskQueue:  cfg.TemporalTaskQueue,
		RunOnStart: cfg.RunOnStart,
	})
	if err != nil {
		logger.Fatal("ensure schedule", zap.Error(err))
	}
	logger.Info("paperdigest worker listening",
		zap.String("temporal", cfg.TemporalAddress),
		zap.String("queue", cfg.TemporalTaskQueue),
		zap.String("schedule", cfg.ScheduleID),
		zap.Bool("schedule_created", created),
		zap.Duration("every", cfg.ScheduleEvery))
	if err := w.Run(worker.InterruptCh()); err != nil {
		logger.Fatal("worker stopped", zap.Error(err))
	}
}
