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

	"github.com/snies/snies-admin/internal/api"
	"github.com/snies/snies-admin/internal/app"
	"github.com/snies/snies-admin/internal/audit"
	audithttp "github.com/snies/snies-admin/internal/audit/http"
	"github.com/snies/snies-admin/internal/auth"
	"github.com/snies/snies-admin/internal/observability"
	"github.com/snies/snies-admin/internal/platform/cache"
	"github.com/snies/snies-admin/internal/platform/db"
	"github.com/snies/snies-admin/internal/rbac"
	"github.com/snies/snies-admin/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadAPIConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg.LogFormat, cfg.LogLevel, "snies-api")

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	recorder := audit.NewQueueRecorder(jobClient)

	rbacRepo := rbac.NewRepository(pool)
	if cfg.SeedFile != "" {
		seed, err := rbac.LoadSeed(cfg.SeedFile)
		if err != nil {
			logger.Error("load seed", slog.Any("error", err))
			os.Exit(1)
		}
		if err := rbac.ApplySeed(ctx, rbacRepo, seed, logger); err != nil {
			logger.Error("apply seed", slog.Any("error", err))
			os.Exit(1)
		}
	}
	rbacService := rbac.NewService(rbac.ServiceConfig{
		Repository: rbacRepo,
		Publisher:  rbac.NewRedisPublisher(redisClient),
		Recorder:   recorder,
		Logger:     logger,
	})
	enforcer := rbac.Enforcer{Logger: logger, Recorder: recorder, Observer: metrics}

	authService := auth.NewService(auth.NewRepository(pool))
	tokens := auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL)

	router := api.NewRouter(api.RouterParams{
		Logger:       logger,
		CORSOrigins:  cfg.CORSOrigins,
		Handler:      api.NewHandler(logger, authService, tokens),
		Authenticate: api.Authenticate(tokens, authService, rbacService, logger),
		Enforcer:     enforcer,
		RolesHandler: rbac.NewHandler(logger, rbacService, enforcer),
		AuditHandler: audithttp.NewHandler(logger, audit.NewService(audit.NewRepository(pool))),
		JobHandler:   jobs.NewHandler(inspector, logger),
		Metrics:      metrics,
	})

	server := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	go func() {
		logger.Info("starting api", slog.String("addr", cfg.APIAddr))
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
