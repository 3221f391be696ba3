package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"pactflow/auth"
	"pactflow/config"
	"pactflow/db"
	"pactflow/escrow"
	"pactflow/logging"
	"pactflow/metrics"
	"pactflow/outbox"
	"pactflow/pact"
	"pactflow/storage"
	"pactflow/storage/postgres"
	"pactflow/storage/sqlite"
)

// app holds every long-lived dependency of the process.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Registry
	store   storage.Backend
	pacts   *pact.Service
	auth    *auth.Service
	relay   *outbox.Relay
	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close dependency", "error", err)
		}
	}
}

func loadConfig(path string) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := logging.SetupWithLevel(logging.ParseLevel(cfg.LogLevel))
	return cfg, logger, nil
}

// openStore connects the configured backend and brings its schema up to date.
func openStore(ctx context.Context, cfg config.Config) (storage.Backend, *pgxpool.Pool, error) {
	switch cfg.Storage {
	case config.StoragePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return postgres.New(pool, pool.Close), pool, nil
	case config.StorageSQLite:
		store, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ledgerCfg, err := cfg.Ledger()
	if err != nil {
		return nil, err
	}
	ledger, err := escrow.NewLedger(ledgerCfg)
	if err != nil {
		return nil, fmt.Errorf("build escrow ledger: %w", err)
	}

	store, pool, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Storage, err)
	}
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		store:   store,
		closers: []func() error{store.Close},
	}
	logger.Info("storage ready", "backend", cfg.Storage, "vault", ledger.Config().Vault.Hex())

	a.pacts = pact.NewService(store, ledger).
		WithLogger(logger).
		WithObserver(a.metrics).
		WithSignatureVersion(cfg.Signature.Version)

	var repo auth.Repository
	if pool != nil {
		repo = auth.NewRepository(pool)
	} else if s, ok := store.(*sqlite.Store); ok {
		repo = auth.NewSQLRepository(s.DB())
	} else {
		repo = auth.NewMemoryRepository()
	}
	a.auth = auth.NewService(repo, cfg.JWTSecret).WithTokenTTL(cfg.TokenTTL)

	publisher, err := a.publisher(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.relay = outbox.NewRelay(store, publisher).
		WithInterval(cfg.Outbox.Interval).
		WithBatchSize(cfg.Outbox.Batch).
		WithLogger(logger).
		WithObserver(a.metrics)
	return a, nil
}

func (a *app) publisher(ctx context.Context) (outbox.Publisher, error) {
	if a.cfg.RedisURL == "" {
		return outbox.LogPublisher{Logger: a.logger}, nil
	}
	pub, err := outbox.NewRedisPublisherFromURL(a.cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	if err := pub.Ping(ctx); err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	a.closers = append(a.closers, pub.Close)
	return pub, nil
}

func (a *app) server() *Server {
	s := &Server{
		pacts:    a.pacts,
		auth:     a.auth,
		balances: a.store,
		metrics:  a.metrics,
		logger:   a.logger,
	}
	if a.cfg.DevMode {
		s.faucet = a.store
	}
	return s
}

var errMissingSecret = errors.New("jwt_secret required")
