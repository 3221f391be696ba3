// Package chaos injects connection failures into a running stress test.
package chaos

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Killer terminates random backends of the current database.
type Killer struct {
	Every time.Duration
	// OneIn is the odds of a kill per tick.
	OneIn  int
	Killed atomic.Int64
}

// Run ticks until ctx is done or stop is closed. Backends are picked from
// the whole database except the killer's own connection, so pact
// transactions can die between lock and commit.
func (k *Killer) Run(ctx context.Context, pool *pgxpool.Pool, rng *rand.Rand, stop <-chan struct{}) {
	every, odds := k.Every, k.OneIn
	if every <= 0 {
		every = 2 * time.Second
	}
	if odds <= 0 {
		odds = 5
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
		}
		if rng.Intn(odds) != 0 {
			continue
		}
		tag, err := pool.Exec(ctx, `SELECT pg_terminate_backend(pid) FROM pg_stat_activity
			WHERE datname = current_database() AND pid <> pg_backend_pid() AND backend_type = 'client backend'
			ORDER BY random() LIMIT 1`)
		if err == nil && tag.RowsAffected() > 0 {
			k.Killed.Add(1)
		}
	}
}
