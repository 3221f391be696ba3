// Package config loads process settings from an optional file and the
// environment. Environment keys use the PACTFLOW_ prefix with dots replaced
// by underscores (PACTFLOW_COMMISSION_SINK); DATABASE_URL is also read bare.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"pactflow/escrow"
	"pactflow/sigcodec"
	"pactflow/types"
)

const EnvPrefix = "PACTFLOW"

const (
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
)

var ErrInvalid = errors.New("config: invalid")

type Commission struct {
	Sink   string `mapstructure:"sink"`
	Rate   uint64 `mapstructure:"rate"`
	Unit   string `mapstructure:"unit"`
	Policy string `mapstructure:"policy"`
}

type Outbox struct {
	Interval time.Duration `mapstructure:"interval"`
	Batch    int           `mapstructure:"batch"`
}

type Escrow struct {
	Vault string `mapstructure:"vault"`
}

type Signature struct {
	Version string `mapstructure:"version"`
}

type Config struct {
	Storage     string        `mapstructure:"storage"`
	DatabaseURL string        `mapstructure:"database_url"`
	SQLitePath  string        `mapstructure:"sqlite_path"`
	HTTPAddr    string        `mapstructure:"http_addr"`
	JWTSecret   string        `mapstructure:"jwt_secret"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
	RedisURL    string        `mapstructure:"redis_url"`
	LogLevel    string        `mapstructure:"log_level"`
	DevMode     bool          `mapstructure:"dev_mode"`
	Commission  Commission    `mapstructure:"commission"`
	Escrow      Escrow        `mapstructure:"escrow"`
	Signature   Signature     `mapstructure:"signature"`
	Outbox      Outbox        `mapstructure:"outbox"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage", StorageSQLite)
	v.SetDefault("sqlite_path", "data/pactflow.db")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("token_ttl", 24*time.Hour)
	v.SetDefault("log_level", "info")
	v.SetDefault("commission.rate", 1)
	v.SetDefault("commission.unit", "percent")
	v.SetDefault("commission.policy", string(escrow.PolicyPayee))
	v.SetDefault("signature.version", sigcodec.VersionV1)
	v.SetDefault("escrow.vault", "")
	v.SetDefault("outbox.interval", time.Second)
	v.SetDefault("outbox.batch", 100)
	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("dev_mode", false)
	v.SetDefault("commission.sink", "")
}

// Load reads path when non-empty, then applies environment overrides.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("database_url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("log_level", EnvPrefix+"_LOG_LEVEL", "LOG_LEVEL")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, nil
}

// Rate is the configured commission fraction.
func (c Config) Rate() (escrow.Rate, error) {
	switch strings.ToLower(c.Commission.Unit) {
	case "", "percent":
		return escrow.PerCent(c.Commission.Rate), nil
	case "permille":
		return escrow.PerMille(c.Commission.Rate), nil
	default:
		return escrow.Rate{}, fmt.Errorf("%w: commission unit %q", ErrInvalid, c.Commission.Unit)
	}
}

// Ledger builds the escrow ledger configuration.
func (c Config) Ledger() (escrow.Config, error) {
	var out escrow.Config
	if strings.TrimSpace(c.Commission.Sink) == "" {
		return out, fmt.Errorf("%w: commission.sink required", ErrInvalid)
	}
	sink, err := types.ParseAddress(c.Commission.Sink)
	if err != nil {
		return out, fmt.Errorf("%w: commission.sink: %v", ErrInvalid, err)
	}
	if sink.IsZero() {
		return out, fmt.Errorf("%w: commission.sink must be non-zero", ErrInvalid)
	}
	out.Sink = sink

	if out.Rate, err = c.Rate(); err != nil {
		return out, err
	}
	if err := out.Rate.Validate(); err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if out.Policy, err = escrow.ParsePolicy(c.Commission.Policy); err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Escrow.Vault != "" {
		if out.Vault, err = types.ParseAddress(c.Escrow.Vault); err != nil {
			return out, fmt.Errorf("%w: escrow.vault: %v", ErrInvalid, err)
		}
	}
	return out, nil
}

// Validate checks everything serve needs before any connection is opened.
func (c Config) Validate() error {
	if _, err := c.Ledger(); err != nil {
		return err
	}
	switch c.Storage {
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: database_url required for postgres storage", ErrInvalid)
		}
	case StorageSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("%w: sqlite_path required for sqlite storage", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown storage %q", ErrInvalid, c.Storage)
	}
	if _, err := sigcodec.Lookup(c.Signature.Version); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("%w: token_ttl must be positive", ErrInvalid)
	}
	if c.Outbox.Batch <= 0 || c.Outbox.Interval <= 0 {
		return fmt.Errorf("%w: outbox interval and batch must be positive", ErrInvalid)
	}
	return nil
}
