package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"pactflow/escrow"
	"pactflow/pact"
	"pactflow/test/actors"
	"pactflow/test/chaos"
	"pactflow/test/infra"
	"pactflow/test/oracles"
	"pactflow/types"
)

var (
	flDuration    = flag.Duration("duration", 90*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 8, "number of concurrent actors per kind")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
	flChaos       = flag.Bool("chaos", true, "terminate random backends while actors run")
)

var stressSink = types.MustAddress("0x00000000000000000000000000000000000051c1")

func TestPactConcurrency(t *testing.T) {
	if testing.Short() {
		t.Skip("stress test skipped in -short mode")
	}
	seed := *flSeed
	t.Logf("seed=%d", seed)

	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	h := mustHarness(t, ctx)
	defer func() {
		if err := h.Close(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	ledger, err := escrow.NewLedger(escrow.Config{Sink: stressSink, Rate: escrow.PerCent(1)})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	svc := pact.NewService(h.Store(), ledger).WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	world, err := actors.NewWorld(ctx, svc, h.Store(), 2*(*flConcurrency)+2)
	if err != nil {
		t.Fatalf("seed world: %v", err)
	}

	rng := rand.New(rand.NewSource(seed))
	contested, ok := openContested(ctx, world)
	if !ok {
		t.Fatalf("could not open the contested pact")
	}

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})
	for i := 0; i < *flConcurrency; i++ {
		lifeRNG := rand.New(rand.NewSource(rng.Int63()))
		disputeRNG := rand.New(rand.NewSource(rng.Int63()))
		contendRNG := rand.New(rand.NewSource(rng.Int63()))
		g.Go(func() error { return actors.Lifecycle(ctx2, world, lifeRNG, stop) })
		g.Go(func() error { return actors.Disputer(ctx2, world, disputeRNG, stop) })
		g.Go(func() error {
			return actors.Contender(ctx2, world, contested.ID, world.Parties[0], world.Parties[1], contendRNG, stop)
		})
	}
	outboxRNG := rand.New(rand.NewSource(rng.Int63()))
	g.Go(func() error { return actors.OutboxWorker(ctx2, world, outboxRNG, 10, stop) })

	killer := &chaos.Killer{Every: 2 * time.Second, OneIn: 5}
	if *flChaos {
		chaosRNG := rand.New(rand.NewSource(rng.Int63()))
		go killer.Run(ctx2, h.Pool(), chaosRNG, stop)
	}

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, h.Pool())
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				// chaos may kill the oracle's own connection
				t.Logf("oracle error: %v", err)
				continue
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, h.Pool())
				close(stop)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}

	name, row, err := oracles.Run(context.Background(), h.Pool())
	if err != nil {
		t.Fatalf("final oracle pass: %v", err)
	}
	if name != "" {
		dumpRecent(t, context.Background(), h.Pool())
		t.Fatalf("Oracle %s failed after quiesce. First row: %s (seed=%d)", name, row, seed)
	}
	t.Logf("stats: %s killed=%d", world.Stats, killer.Killed.Load())
}

func openContested(ctx context.Context, w *actors.World) (pact.Pact, bool) {
	rng := rand.New(rand.NewSource(1))
	for attempt := 0; attempt < 5; attempt++ {
		if p, ok := w.Open(ctx, rng, w.Parties[0], w.Parties[1]); ok {
			return p, true
		}
	}
	return pact.Pact{}, false
}

func mustHarness(t *testing.T, ctx context.Context) *infra.Harness {
	t.Helper()
	pgC := &infra.PGContainer{}
	var (
		dsn      string
		isolated bool
		err      error
	)
	switch {
	case *flDSN != "":
		dsn, isolated = *flDSN, true
	case os.Getenv("STRESS_TEST_PG_DSN") != "":
		dsn, isolated = os.Getenv("STRESS_TEST_PG_DSN"), true
	case dockerAvailable(ctx):
		pgC, dsn, err = infra.StartPostgres16(ctx, "")
		if err != nil {
			t.Fatalf("start postgres: %v", err)
		}
	default:
		dsn, err = infra.InitLocalDatabase(ctx)
		if errors.Is(err, infra.ErrNoLocalPostgres) {
			t.Skip("no docker and no local postgres; set STRESS_TEST_PG_DSN to run")
		}
		if err != nil {
			t.Fatalf("init local database: %v", err)
		}
	}

	h, err := infra.NewHarness(ctx, pgC, dsn, isolated)
	if err != nil {
		_ = pgC.Terminate(context.Background())
		t.Fatalf("harness: %v", err)
	}
	if err := h.Reset(ctx); err != nil {
		_ = h.Close(context.Background())
		t.Fatalf("reset: %v", err)
	}
	return h
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	dumps := []struct {
		name string
		sql  string
	}{
		{"pacts", `SELECT id, state, stake, payer_signed, payee_signed FROM pacts ORDER BY updated_at DESC LIMIT 20`},
		{"timeline_events", `SELECT id, pact_id, seq, type, created_at FROM timeline_events ORDER BY id DESC LIMIT 50`},
		{"escrow_entries", `SELECT id, pact_id, kind, counterparty, amount FROM escrow_entries ORDER BY id DESC LIMIT 50`},
		{"outbox", `SELECT id, topic, status, attempts, created_at FROM outbox ORDER BY created_at DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", cols[i].Name, vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
