// Package main is the entry point for the ncfpos maintenance worker. It expires
// idempotency records and warns when NCF ranges run low or near expiry.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"ncfpos/internal/bootstrap"
	"ncfpos/internal/config"
	"ncfpos/internal/domain/sequence"
	"ncfpos/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.App.StorageBackend == config.BackendMemory {
		fmt.Println("the worker needs a shared backend: set STORAGE_BACKEND to postgres or redis")
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

	log.Infow("starting ncfpos worker", "backend", cfg.App.StorageBackend)

	// Catalog seeding belongs to the server.
	cfg.Catalog.SeedDatabase = false
	cfg.DB.MigrateOnStart = false
	app, err := bootstrap.Build(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to wire services", "error", err)
	}
	defer app.Close()

	w := NewWorker(app.Numbering, app.Cleaner, log)

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		log.Info("shutting down worker...")
		cancel()
		<-done
	case err := <-done:
		if err != nil {
			log.Errorw("worker stopped unexpectedly", "error", err)
		}
	}
	log.Info("worker stopped")
}

// AlertSource lists sequences that need attention.
type AlertSource interface {
	SequenceAlerts(ctx context.Context) ([]sequence.Status, error)
}

// Worker runs the periodic maintenance jobs.
type Worker struct {
	alerts  AlertSource
	cleaner bootstrap.Cleaner
	log     *logger.Logger

	AlertInterval   time.Duration
	CleanupInterval time.Duration
}

// NewWorker creates a worker. cleaner may be nil.
func NewWorker(alerts AlertSource, cleaner bootstrap.Cleaner, log *logger.Logger) *Worker {
	return &Worker{
		alerts:          alerts,
		cleaner:         cleaner,
		log:             log.WithComponent("worker"),
		AlertInterval:   15 * time.Minute,
		CleanupInterval: time.Hour,
	}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		w.checkSequences(ctx)
		return w.every(ctx, w.AlertInterval, w.checkSequences)
	})
	if w.cleaner != nil {
		g.Go(func() error { return w.every(ctx, w.CleanupInterval, w.cleanupIdempotency) })
	}
	return g.Wait()
}

func (w *Worker) every(ctx context.Context, d time.Duration, job func(context.Context)) error {
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			job(ctx)
		}
	}
}

func (w *Worker) checkSequences(ctx context.Context) {
	statuses, err := w.alerts.SequenceAlerts(ctx)
	if err != nil {
		w.log.Errorw("failed to read sequence alerts", "error", err)
		return
	}
	for _, st := range statuses {
		w.log.Warnw("sequence needs attention",
			"comprobante_type_id", st.TypeID,
			"state", st.State,
			"next_ncf", st.NextNCF,
			"available", st.Available,
			"days_to_expiry", st.DaysToExpiry,
			"low_stock", st.LowStock,
			"expiring_soon", st.ExpiringSoon,
		)
	}
}

func (w *Worker) cleanupIdempotency(ctx context.Context) {
	n, err := w.cleaner.Cleanup(ctx)
	if err != nil {
		w.log.Errorw("idempotency cleanup failed", "error", err)
		return
	}
	if n > 0 {
		w.log.Infow("cleaned up idempotency keys", "count", n)
	}
}
