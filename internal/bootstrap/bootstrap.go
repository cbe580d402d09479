// Package bootstrap assembles the numbering engine, order and report services
// over the configured storage backend.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"ncfpos/internal/config"
	"ncfpos/internal/core/idempotency"
	"ncfpos/internal/domain/auth"
	"ncfpos/internal/domain/comprobante"
	"ncfpos/internal/domain/numbering"
	"ncfpos/internal/domain/order"
	"ncfpos/internal/domain/report"
	"ncfpos/internal/domain/sequence"
	"ncfpos/internal/infrastructure/http/v1/handlers"
	"ncfpos/internal/infrastructure/storage/postgres"
	"ncfpos/internal/infrastructure/storage/redisstore"
	"ncfpos/pkg/logger"
)

const devJWTSecret = "ncfpos-development-secret"

// Cleaner drops expired idempotency keys. Redis expires keys by itself.
type Cleaner interface {
	Cleanup(ctx context.Context) (int64, error)
}

// App holds the wired services of one process.
type App struct {
	Backend string

	Registry  comprobante.Registry
	Numbering *numbering.Service
	Orders    *order.Service
	Reports   *report.Service

	JWT  *auth.JWTService
	Auth *auth.Service

	Journal     numbering.JournalReader
	Idempotency idempotency.Store
	// Cleaner is nil when the idempotency store expires keys itself.
	Cleaner Cleaner

	HealthChecks map[string]handlers.Check

	closers []func()
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

type journal interface {
	numbering.Journal
	numbering.JournalReader
}

type storage struct {
	sequences   sequence.Store
	orders      order.Repository
	journal     journal
	idempotency idempotency.Store
	cleaner     Cleaner
	types       *postgres.ComprobanteRepo
}

// Build loads the catalog and wires every service for cfg.App.StorageBackend.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	cat, err := config.LoadCatalog(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}
	seeds, err := cat.SequenceSeeds()
	if err != nil {
		return nil, err
	}

	app := &App{Backend: cfg.App.StorageBackend, HealthChecks: map[string]handlers.Check{}}
	st, err := app.openStorage(ctx, cfg, log)
	if err != nil {
		app.Close()
		return nil, err
	}

	types := cat.ComprobanteTypes()
	if st.types != nil {
		if cfg.Catalog.SeedDatabase {
			if err := st.types.Upsert(ctx, types); err != nil {
				app.Close()
				return nil, fmt.Errorf("seed comprobante types: %w", err)
			}
		}
		stored, err := st.types.LoadAll(ctx)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("load comprobante types: %w", err)
		}
		if len(stored) > 0 {
			types = stored
		} else {
			log.Warnw("comprobante_types table is empty, using catalog file", "path", cfg.Catalog.Path)
		}
	}

	registry, err := comprobante.NewStaticRegistry(types)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("build registry: %w", err)
	}
	suggester, err := comprobante.NewSuggester(types)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("compile suggestion rules: %w", err)
	}

	allocator := sequence.NewAllocator(st.sequences, registry)
	if app.Backend == config.BackendMemory || cfg.Catalog.SeedDatabase {
		for _, seq := range seeds {
			if _, err := allocator.Provision(ctx, seq); err != nil {
				app.Close()
				return nil, fmt.Errorf("seed sequence for type %d: %w", seq.TypeID, err)
			}
		}
		log.Infow("sequences seeded from catalog", "count", len(seeds))
	}

	terminals, err := auth.NewStaticTerminals(cat.Terminals)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("load terminals: %w", err)
	}
	jwtCfg := auth.DefaultJWTConfig(cfg.JWT.Secret)
	if jwtCfg.Secret == "" {
		log.Warn("JWT_SECRET not set, using the development secret")
		jwtCfg.Secret = devJWTSecret
	}
	if cfg.JWT.Issuer != "" {
		jwtCfg.Issuer = cfg.JWT.Issuer
	}
	if cfg.JWT.TTL > 0 {
		jwtCfg.AccessTokenTTL = cfg.JWT.TTL
	}

	app.Registry = registry
	app.Numbering = numbering.NewService(registry, allocator, suggester, st.journal)
	app.Orders = order.NewService(st.orders, app.Numbering)
	app.Reports = report.NewService(st.orders, registry)
	app.JWT = auth.NewJWTService(jwtCfg)
	app.Auth = auth.NewService(terminals, app.JWT, auth.DefaultServiceConfig())
	app.Journal = st.journal
	app.Idempotency = st.idempotency
	app.Cleaner = st.cleaner

	log.Infow("services wired",
		"backend", app.Backend,
		"comprobante_types", len(types),
		"terminals", len(cat.Terminals),
	)
	return app, nil
}

func (a *App) openStorage(ctx context.Context, cfg *config.Config, log *logger.Logger) (*storage, error) {
	switch cfg.App.StorageBackend {
	case config.BackendPostgres:
		return a.openPostgres(ctx, cfg, log)
	case config.BackendRedis:
		return a.openRedis(ctx, cfg, log)
	default:
		mem := idempotency.NewMemoryStore(idempotency.DefaultTTL)
		return &storage{
			sequences:   sequence.NewMemoryStore(),
			orders:      order.NewMemoryRepository(),
			journal:     numbering.NewMemoryJournal(),
			idempotency: mem,
			cleaner:     mem,
		}, nil
	}
}

func (a *App) openPostgres(ctx context.Context, cfg *config.Config, log *logger.Logger) (*storage, error) {
	if cfg.DB.MigrateOnStart {
		if err := postgres.MigrateUp(ctx, cfg.DB.URL); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	poolCfg := postgres.DefaultPoolConfig(cfg.DB.URL)
	if cfg.DB.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.DB.MaxConns)
	}
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pool.Close)
	a.HealthChecks["postgres"] = func(ctx context.Context) error { return pool.Ping(ctx) }
	log.Infow("database connection established", "max_conns", poolCfg.MaxConns)

	txm := postgres.NewTxManager(pool)
	events, err := postgres.NewFiscalJournal(txm)
	if err != nil {
		return nil, err
	}
	idem := postgres.NewIdempotencyStore(txm, idempotency.DefaultTTL)
	return &storage{
		sequences:   postgres.NewSequenceStore(txm),
		orders:      postgres.NewOrderRepo(txm),
		journal:     events,
		idempotency: idem,
		cleaner:     idem,
		types:       postgres.NewComprobanteRepo(txm),
	}, nil
}

// openRedis keeps sequences and idempotency keys in Redis. Orders stay in
// process memory; this backend serves numbering-only deployments.
func (a *App) openRedis(ctx context.Context, cfg *config.Config, log *logger.Logger) (*storage, error) {
	rdb, err := redisstore.NewClient(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = rdb.Close() })
	a.HealthChecks["redis"] = pingRedis(rdb)
	log.Infow("redis connection established", "prefix", cfg.Redis.KeyPrefix)

	return &storage{
		sequences:   redisstore.NewSequenceStore(rdb, cfg.Redis.KeyPrefix),
		orders:      order.NewMemoryRepository(),
		journal:     numbering.NewMemoryJournal(),
		idempotency: redisstore.NewIdempotencyStore(rdb, cfg.Redis.KeyPrefix, idempotency.DefaultTTL),
	}, nil
}

func pingRedis(rdb *redis.Client) handlers.Check {
	return func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
}
