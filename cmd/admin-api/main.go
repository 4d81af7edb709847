package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/openkz/admin-api/internal/academicyears"
	"github.com/openkz/admin-api/internal/activity"
	"github.com/openkz/admin-api/internal/app"
	"github.com/openkz/admin-api/internal/auth"
	"github.com/openkz/admin-api/internal/observability"
	"github.com/openkz/admin-api/internal/platform/cache"
	"github.com/openkz/admin-api/internal/platform/db"
	"github.com/openkz/admin-api/internal/rbac"
	"github.com/openkz/admin-api/internal/roles"
	"github.com/openkz/admin-api/internal/shared"
	"github.com/openkz/admin-api/internal/sites"
	"github.com/openkz/admin-api/internal/users"
	"github.com/openkz/admin-api/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	var redisClient redis.UniversalClient
	if client, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}); err != nil {
		logger.Warn("redis unavailable", slog.Any("error", err))
	} else {
		redisClient = client
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	rbacRepo := rbac.NewRepository(dbpool)
	authz := app.NewAuthorizer(cfg, rbacRepo, redisClient, metrics, logger)
	activityLogger := shared.NewActivityLogger(dbpool)

	authService := auth.NewService(auth.NewRepository(dbpool), rbacRepo, app.SocialProviders(ctx, cfg, logger), activityLogger, logger, auth.Options{
		DefaultGuard: cfg.AuthDefaultGuard,
		DefaultRole:  cfg.AuthDefaultRole,
		TokenTTL:     cfg.AuthTokenTTL,
	})
	usersService := users.NewService(users.NewRepository(dbpool), authz.Gate, authz.Invalidator, activityLogger, logger, cfg.AuthDefaultGuard)
	rolesService := roles.NewService(roles.NewRepository(dbpool), authz.Gate, authz.Invalidator, activityLogger, logger, cfg.AuthDefaultGuard)
	sitesService := sites.NewService(sites.NewRepository(dbpool), authz.Gate, activityLogger, logger)
	yearsService := academicyears.NewService(academicyears.NewRepository(dbpool), authz.Gate, activityLogger, logger)
	activityService := activity.NewService(activity.NewRepository(dbpool), authz.Gate)

	var jobHandler *jobs.Handler
	if redisClient != nil {
		redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
		inspector := asynq.NewInspector(redisOpts)
		defer func() { _ = inspector.Close() }()
		jobClient := jobs.NewClient(redisOpts)
		defer func() { _ = jobClient.Close() }()
		jobHandler = jobs.NewHandler(inspector, jobClient, logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:               logger,
		Config:               cfg,
		AuthService:          authService,
		AuthHandler:          auth.NewHandler(logger, authService),
		UsersHandler:         users.NewHandler(logger, usersService),
		RolesHandler:         roles.NewHandler(logger, rolesService),
		RBACHandler:          rbac.NewHandler(logger, authz.Gate),
		SitesHandler:         sites.NewHandler(logger, sitesService),
		AcademicYearsHandler: academicyears.NewHandler(logger, yearsService),
		ActivityHandler:      activity.NewHandler(logger, activityService),
		JobHandler:           jobHandler,
		RBACMiddleware:       rbac.Middleware{Gate: authz.Gate, Logger: logger},
		Metrics:              metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("permission_cache", cfg.PermissionCache))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
