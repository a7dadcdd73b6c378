package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/snies/snies-admin/internal/app"
	"github.com/snies/snies-admin/internal/auth"
	"github.com/snies/snies-admin/internal/authz"
	"github.com/snies/snies-admin/internal/dashboard"
	"github.com/snies/snies-admin/internal/guard"
	"github.com/snies/snies-admin/internal/observability"
	"github.com/snies/snies-admin/internal/permstore"
	"github.com/snies/snies-admin/internal/platform/cache"
	"github.com/snies/snies-admin/internal/rbac"
	"github.com/snies/snies-admin/internal/shared"
	"github.com/snies/snies-admin/internal/view"
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

	logger := app.NewLogger(cfg.LogFormat, cfg.LogLevel, "snies-admin")

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

	sessionManager := shared.NewSessionManager(redisClient, "snies_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()

	permissionsClient := permstore.NewClient(permstore.ClientConfig{
		BaseURL:        cfg.APIBaseURL,
		Timeout:        cfg.APITimeout,
		Logger:         logger,
		BreakerTimeout: cfg.APIBreakerTimeout,
	})
	registry := permstore.NewRegistry(permstore.RegistryConfig{
		Fetcher:  permissionsClient,
		Logger:   logger,
		Observer: metrics,
		IdleTTL:  cfg.SessionTTL,
	})
	defer registry.Close()
	go registry.Run(ctx, time.Minute)
	if err := registry.ListenForInvalidation(ctx, redisClient, authz.InvalidationChannel); err != nil {
		logger.Warn("subscribe to permission invalidation", slog.Any("error", err))
	}

	gate := guard.NewGate(guard.GateConfig{
		Logger:    logger,
		Templates: templates,
		CSRF:      csrfManager,
		Observer:  metrics,
		LoadWait:  cfg.GuardLoadWait,
	})

	authHandler := auth.NewHandler(logger, auth.NewBackendClient(cfg.APIBaseURL, cfg.APITimeout), templates, sessionManager, csrfManager, registry)
	dashboardHandler := dashboard.NewHandler(dashboard.Config{
		Logger:    logger,
		Templates: templates,
		CSRF:      csrfManager,
		Gate:      gate,
		Roles:     rbac.NewClient(cfg.APIBaseURL, cfg.APITimeout),
	})

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		SessionManager:   sessionManager,
		CSRFManager:      csrfManager,
		Registry:         registry,
		Permissions:      permissionsClient,
		AuthHandler:      authHandler,
		DashboardHandler: dashboardHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting dashboard", slog.String("addr", cfg.AppAddr), slog.String("api", cfg.APIBaseURL))
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
