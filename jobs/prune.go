package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/openkz/admin-api/internal/jobs"
)

// TokenPruner removes expired access tokens.
type TokenPruner interface {
	PruneExpiredTokens(ctx context.Context) (int64, error)
}

// ActivityPruner removes activity entries older than retention.
type ActivityPruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// TokenPruneJob handles TaskAuthTokensPrune.
type TokenPruneJob struct {
	Pruner  TokenPruner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewTokenPruneJob initialises the token prune handler.
func NewTokenPruneJob(pruner TokenPruner, logger *slog.Logger, metrics *jobmetrics.Metrics) *TokenPruneJob {
	return &TokenPruneJob{Pruner: pruner, Logger: logger, Metrics: metrics}
}

// Handle executes one prune run.
func (j *TokenPruneJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Pruner == nil {
		return errors.New("token prune: handler not configured")
	}
	removed, err := j.Metrics.Prune(ctx, TaskAuthTokensPrune, j.Pruner.PruneExpiredTokens)
	if err != nil {
		loggerOrDefault(j.Logger).Error("token prune failed", slog.Any("error", err))
		return err
	}
	loggerOrDefault(j.Logger).Info("pruned expired tokens", slog.Int64("removed", removed))
	return nil
}

// ActivityPruneJob handles TaskActivityPrune.
type ActivityPruneJob struct {
	Pruner    ActivityPruner
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewActivityPruneJob initialises the activity prune handler.
func NewActivityPruneJob(pruner ActivityPruner, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *ActivityPruneJob {
	return &ActivityPruneJob{Pruner: pruner, Retention: retention, Logger: logger, Metrics: metrics}
}

// Handle executes one prune run.
func (j *ActivityPruneJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pruner == nil {
		return errors.New("activity prune: handler not configured")
	}
	var payload ActivityPrunePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	retention := j.Retention
	if payload.Retention > 0 {
		retention = payload.Retention
	}

	logger := loggerOrDefault(j.Logger).With(slog.Duration("retention", retention))
	removed, err := j.Metrics.Prune(ctx, TaskActivityPrune, func(ctx context.Context) (int64, error) {
		return j.Pruner.Prune(ctx, retention)
	})
	if err != nil {
		logger.Error("activity prune failed", slog.Any("error", err))
		return err
	}
	logger.Info("pruned activity log", slog.Int64("removed", removed))
	return nil
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
