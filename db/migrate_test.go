package db

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func TestMigrations_Ordered(t *testing.T) {
	names, err := Migrations()
	if err != nil {
		t.Fatalf("list migrations: %v", err)
	}
	if len(names) < 2 {
		t.Fatalf("expected embedded migrations, got %v", names)
	}
	if !strings.HasSuffix(names[0], "0001_pacts.sql") {
		t.Fatalf("expected 0001_pacts.sql first, got %s", names[0])
	}
}

func TestNewPool_EmptyConnString(t *testing.T) {
	if _, err := NewPool(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty connection string")
	}
}

// TestMigrate_Integration applies the schema twice against DATABASE_URL.
func TestMigrate_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	for i := 0; i < 2; i++ {
		if err := Migrate(ctx, pool); err != nil {
			t.Fatalf("migrate pass %d: %v", i+1, err)
		}
	}
}
