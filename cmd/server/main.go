// Package main is the entrypoint for the ScanForge API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/adityamenon/scanforge/internal/api"
	"github.com/adityamenon/scanforge/internal/api/handler"
	mw "github.com/adityamenon/scanforge/internal/api/middleware"
	"github.com/adityamenon/scanforge/internal/api/response"
	"github.com/adityamenon/scanforge/internal/cache"
	"github.com/adityamenon/scanforge/internal/config"
	"github.com/adityamenon/scanforge/internal/notify"
	"github.com/adityamenon/scanforge/internal/pipeline"
	"github.com/adityamenon/scanforge/internal/scanner"
	"github.com/adityamenon/scanforge/internal/store"
	"github.com/adityamenon/scanforge/internal/webhook"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Local development convenience; absent .env is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "tracked_branches", cfg.Webhook.TrackedBranches)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	pgStore := store.NewPostgresStore(pool)

	executor := scanner.NewHTTPExecutor(cfg.Scanner.EngineURL, cfg.Scanner.APIKey, cfg.Scanner.StageTimeout)
	notifier := notify.NewStoreEmitter(pgStore)
	orchestrator := pipeline.New(pgStore, executor, notifier, redisCache,
		pipeline.WithStageTimeout(cfg.Scanner.StageTimeout))
	slog.Info("pipeline initialized", "stage_timeout", cfg.Scanner.StageTimeout)

	pushHandler := webhook.NewHandler(pgStore, orchestrator, cfg.Webhook.TrackedBranches, cfg.Webhook.Secret)

	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMin)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler:      healthHandler(pgStore, redisCache),
		PushWebhookHandler: pushHandler.HandlePush,

		GetJobHandler:      handler.NewGetJobHandler(pgStore),
		JobProgressHandler: handler.NewJobProgressHandler(pgStore, redisCache),
		ListJobsHandler:    handler.NewListProjectJobsHandler(pgStore),
		CancelJobHandler:   handler.NewCancelJobHandler(pgStore, redisCache),
		TriggerHandler:     handler.NewTriggerScanHandler(pgStore, orchestrator),

		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
