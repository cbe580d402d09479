// Package main is the entry point for the NCF numbering API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"ncfpos/internal/bootstrap"
	"ncfpos/internal/config"
	v1 "ncfpos/internal/infrastructure/http/v1"
	"ncfpos/pkg/logger"
)

const cleanupInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.App.IsDevelopment(),
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(logger.WithLogger(context.Background(), log))
	defer cancel()

	log.Infow("starting ncfpos server", "backend", cfg.App.StorageBackend, "env", cfg.App.Env)

	app, err := bootstrap.Build(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to wire services", "error", err)
	}
	defer app.Close()

	router := v1.NewRouter(v1.RouterConfig{
		Logger:         log,
		TokenValidator: app.JWT,
		AuthService:    app.Auth,
		Numbering:      app.Numbering,
		Orders:         app.Orders,
		Reports:        app.Reports,
		Journal:        app.Journal,
		Idempotency:    app.Idempotency,
		Backend:        app.Backend,
		HealthChecks:   app.HealthChecks,
		Debug:          cfg.App.IsDevelopment(),
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      gzhttp.GzipHandler(router),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	if app.Cleaner != nil {
		go cleanupIdempotency(ctx, app.Cleaner, log.WithComponent("idempotency"))
	}

	go func() {
		log.Infow("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer stop()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}

// cleanupIdempotency drops expired replay records until ctx is cancelled.
func cleanupIdempotency(ctx context.Context, c bootstrap.Cleaner, log *logger.Logger) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.Cleanup(ctx)
			if err != nil {
				log.Errorw("idempotency cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				log.Infow("cleaned up idempotency keys", "count", n)
			}
		}
	}
}
