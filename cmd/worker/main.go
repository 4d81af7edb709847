package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/openkz/admin-api/internal/activity"
	"github.com/openkz/admin-api/internal/app"
	"github.com/openkz/admin-api/internal/auth"
	jobmetrics "github.com/openkz/admin-api/internal/jobs"
	"github.com/openkz/admin-api/internal/platform/db"
	"github.com/openkz/admin-api/internal/rbac"
	"github.com/openkz/admin-api/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 4})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := jobmetrics.NewMetrics(prometheus.DefaultRegisterer)
	rbacRepo := rbac.NewRepository(pool)
	authService := auth.NewService(auth.NewRepository(pool), rbacRepo, nil, nil, logger, auth.Options{
		DefaultGuard: cfg.AuthDefaultGuard,
		DefaultRole:  cfg.AuthDefaultRole,
		TokenTTL:     cfg.AuthTokenTTL,
	})
	activityService := activity.NewService(activity.NewRepository(pool), rbac.NewGate(rbac.NewResolver(rbacRepo, cfg.AuthDefaultGuard), nil))

	tokenJob := jobs.NewTokenPruneJob(authService, logger, metrics)
	activityJob := jobs.NewActivityPruneJob(activityService, cfg.ActivityRetention, logger, metrics)

	activityTask, err := jobs.NewActivityPruneTask(0)
	if err != nil {
		logger.Error("build activity prune task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAuthTokensPrune, Handler: tokenJob.Handle},
			{Type: jobs.TaskActivityPrune, Handler: activityJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 * * * *", Task: jobs.NewTokensPruneTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 2 * * *", Task: activityTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.Duration("activity_retention", cfg.ActivityRetention))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
