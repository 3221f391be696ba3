package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pactflow/escrow"
	"pactflow/sigcodec"
)

const testSink = "0x00000000000000000000000000000000000051c1"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage != StorageSQLite || cfg.HTTPAddr != ":8080" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Signature.Version != sigcodec.VersionV1 {
		t.Fatalf("expected signature version %s, got %q", sigcodec.VersionV1, cfg.Signature.Version)
	}
	if cfg.Outbox.Interval != time.Second || cfg.Outbox.Batch != 100 {
		t.Fatalf("unexpected outbox defaults: %+v", cfg.Outbox)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing sink to fail validation")
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PACTFLOW_COMMISSION_SINK", testSink)
	t.Setenv("PACTFLOW_COMMISSION_RATE", "25")
	t.Setenv("PACTFLOW_COMMISSION_UNIT", "permille")
	t.Setenv("PACTFLOW_STORAGE", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/pactflow")
	t.Setenv("PACTFLOW_OUTBOX_BATCH", "7")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.DatabaseURL != "postgres://localhost/pactflow" {
		t.Fatalf("expected bare DATABASE_URL to bind, got %q", cfg.DatabaseURL)
	}
	if cfg.Outbox.Batch != 7 {
		t.Fatalf("expected batch 7, got %d", cfg.Outbox.Batch)
	}
	ec, err := cfg.Ledger()
	if err != nil {
		t.Fatalf("escrow: %v", err)
	}
	if ec.Rate != escrow.PerMille(25) || ec.Policy != escrow.PolicyPayee {
		t.Fatalf("unexpected escrow config %+v", ec)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pactflow.yaml")
	body := `
storage: sqlite
sqlite_path: /tmp/pf.db
commission:
  sink: "` + testSink + `"
  rate: 2
  policy: shared
escrow:
  vault: "0x00000000000000000000000000000000000000ee"
token_ttl: 1h
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TokenTTL != time.Hour {
		t.Fatalf("expected 1h ttl, got %s", cfg.TokenTTL)
	}
	ec, err := cfg.Ledger()
	if err != nil {
		t.Fatalf("escrow: %v", err)
	}
	if ec.Policy != escrow.PolicyShared || ec.Rate != escrow.PerCent(2) {
		t.Fatalf("unexpected escrow config %+v", ec)
	}
	if ec.Vault.Hex() != "0x00000000000000000000000000000000000000ee" {
		t.Fatalf("unexpected vault %s", ec.Vault)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected missing file to fail")
	}
}

func TestValidate_Rejections(t *testing.T) {
	base := Config{
		Storage:    StorageSQLite,
		SQLitePath: "x.db",
		TokenTTL:   time.Hour,
		Signature:  Signature{Version: sigcodec.VersionV1},
		Commission: Commission{Sink: testSink, Rate: 1, Unit: "percent"},
		Outbox:     Outbox{Interval: time.Second, Batch: 1},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	cases := map[string]func(*Config){
		"rate at 100 percent":  func(c *Config) { c.Commission.Rate = 100 },
		"unknown unit":         func(c *Config) { c.Commission.Unit = "bips" },
		"zero sink":            func(c *Config) { c.Commission.Sink = "0x0000000000000000000000000000000000000000" },
		"unknown policy":       func(c *Config) { c.Commission.Policy = "split" },
		"postgres without dsn": func(c *Config) { c.Storage = StoragePostgres },
		"unknown storage":      func(c *Config) { c.Storage = "mysql" },
		"unknown signature":    func(c *Config) { c.Signature.Version = "pact-sig-v0" },
		"zero batch":           func(c *Config) { c.Outbox.Batch = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base
			mutate(&c)
			if err := c.Validate(); !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}
