package infra

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"pactflow/storage/postgres"
)

// Harness owns the database a stress run works against: the migrated pool,
// the store on top of it and the teardown of whatever was started.
type Harness struct {
	container *PGContainer
	pool      *pgxpool.Pool
	store     *postgres.Store
	dsn       string
	teardown  func(context.Context) error
}

// NewHarness migrates dsn. A shared database (isolate) gets a per-run
// schema. container may be nil.
func NewHarness(ctx context.Context, container *PGContainer, dsn string, isolate bool) (*Harness, error) {
	pool, teardown, err := ApplyMigrations(ctx, dsn, isolate)
	if err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return &Harness{
		container: container,
		pool:      pool,
		store:     postgres.New(pool),
		dsn:       dsn,
		teardown:  teardown,
	}, nil
}

// Pool exposes the configured pgx pool.
func (h *Harness) Pool() *pgxpool.Pool {
	return h.pool
}

func (h *Harness) Store() *postgres.Store {
	return h.store
}

// DSN returns the connection string for direct connections (e.g., chaos).
func (h *Harness) DSN() string {
	return h.dsn
}

// Close tears down resources in reverse order of creation.
func (h *Harness) Close(ctx context.Context) error {
	h.pool.Close()
	err := h.teardown(ctx)
	if terr := h.container.Terminate(ctx); err == nil {
		err = terr
	}
	return err
}

// Reset empties every table for the next epoch. The timeline trigger
// rejects DELETE, so TRUNCATE is used throughout.
func (h *Harness) Reset(ctx context.Context) error {
	tables := []string{
		"timeline_events",
		"escrow_entries",
		"arbitrators",
		"delegations",
		"outbox",
		"balances",
		"counters",
		"auth_challenges",
		"pacts",
	}

	tx, err := h.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reset begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, tbl := range tables {
		if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+tbl+" CASCADE"); err != nil {
			return fmt.Errorf("truncate %s: %w", tbl, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("reset commit: %w", err)
	}
	return nil
}
