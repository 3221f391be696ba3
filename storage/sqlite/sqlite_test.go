package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"pactflow/storage"
	"pactflow/storage/storagetest"
	"pactflow/types"
)

func newTestStore(t *testing.T) storage.Backend {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "pactflow.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_Backend(t *testing.T) {
	storagetest.Run(t, newTestStore)
}

func TestNew_CreatesDirectoryAndReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "pactflow.db")
	store, err := New(path)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()
	acct := types.MustAddress("0x000000000000000000000000000000000000a001")
	if err := store.Credit(ctx, acct, types.Native(), types.Amount(7)); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	store.Close()

	reopened, err := New(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Balance(ctx, acct, types.Native())
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if got.Uint64() != 7 {
		t.Errorf("Expected balance 7 after reopen, got %s", got.Dec())
	}
}

func TestTimeline_AppendOnly(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "pactflow.db"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer store.Close()

	if _, err := store.DB().Exec(`DELETE FROM timeline_events`); err != nil {
		t.Fatalf("delete on empty table should not fire the trigger: %v", err)
	}
	_, err = store.DB().Exec(`INSERT INTO pacts (id, creator, name, payer, payee, interval_seconds, amount,
        denomination, state, created_at, updated_at)
VALUES ('p', 'c', 'n', 'a', 'b', 1, '1', 'native', 'DEPLOYED', 0, 0)`)
	if err != nil {
		t.Fatalf("seed pact: %v", err)
	}
	if _, err := store.DB().Exec(`INSERT INTO timeline_events (pact_id, seq, type, actor, payload, created_at)
VALUES ('p', 1, 'PACT_CREATED', 'c', '{}', 0)`); err != nil {
		t.Fatalf("seed event: %v", err)
	}
	if _, err := store.DB().Exec(`UPDATE timeline_events SET type = 'X'`); err == nil {
		t.Fatalf("expected update to be rejected")
	}
	if _, err := store.DB().Exec(`DELETE FROM timeline_events`); err == nil {
		t.Fatalf("expected delete to be rejected")
	}
}
