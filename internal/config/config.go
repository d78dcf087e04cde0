// Package config defines the top-level configuration for the prediction
// market ledger and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PREDICTD_* environment variables.
type Config struct {
	Ledger   LedgerConfig  `toml:"ledger"`
	Storage  StorageConfig `toml:"storage"`
	Redis    RedisConfig   `toml:"redis"`
	S3       S3Config      `toml:"s3"`
	Archive  ArchiveConfig `toml:"archive"`
	Server   ServerConfig  `toml:"server"`
	Mode     string        `toml:"mode"`
	LogLevel string        `toml:"log_level"`
}

// LedgerConfig holds market rules and fee parameters.
type LedgerConfig struct {
	PlatformFeeBps uint32   `toml:"platform_fee_bps"`
	LpFeeBps       uint32   `toml:"lp_fee_bps"`
	MinDuration    duration `toml:"min_duration"`
	MaxDuration    duration `toml:"max_duration"`
	MaxQuestionLen int      `toml:"max_question_len"`
	LockTTL        duration `toml:"lock_ttl"`
}

// StorageConfig selects and configures the ledger store backend.
type StorageConfig struct {
	// Backend is "postgres" or "memory". The memory backend is for local
	// development and tests only.
	Backend       string         `toml:"backend"`
	Postgres      PostgresConfig `toml:"postgres"`
	RunMigrations bool           `toml:"run_migrations"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN          string `toml:"dsn"`
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Database     string `toml:"database"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	SSLMode      string `toml:"ssl_mode"`
	PoolMaxConns int    `toml:"pool_max_conns"`
	PoolMinConns int    `toml:"pool_min_conns"`
}

// RedisConfig holds Redis connection parameters. Redis is optional; with
// Enabled false the process uses in-memory cache, locks, and pub/sub.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the cold-storage export sweep.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
	BatchSize     int      `toml:"batch_size"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			PlatformFeeBps: 30,
			LpFeeBps:       0,
			MinDuration:    duration{5 * time.Minute},
			MaxDuration:    duration{365 * 24 * time.Hour},
			MaxQuestionLen: 500,
			LockTTL:        duration{10 * time.Second},
		},
		Storage: StorageConfig{
			Backend: "postgres",
			Postgres: PostgresConfig{
				Host:         "localhost",
				Port:         5432,
				Database:     "predictd",
				User:         "postgres",
				SSLMode:      "disable",
				PoolMaxConns: 10,
				PoolMinConns: 2,
			},
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "predictd-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Interval:      duration{time.Hour},
			RetentionDays: 30,
			BatchSize:     50,
		},
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       0,
			RateLimitWindow: duration{time.Second},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, archive, full)", c.Mode))
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Ledger rules.
	if c.Ledger.PlatformFeeBps+c.Ledger.LpFeeBps >= 10_000 {
		errs = append(errs, fmt.Sprintf("ledger: platform_fee_bps + lp_fee_bps must be below 10000, got %d",
			c.Ledger.PlatformFeeBps+c.Ledger.LpFeeBps))
	}
	if c.Ledger.MinDuration.Duration <= 0 {
		errs = append(errs, "ledger: min_duration must be positive")
	}
	if c.Ledger.MaxDuration.Duration <= c.Ledger.MinDuration.Duration {
		errs = append(errs, "ledger: max_duration must be greater than min_duration")
	}
	if c.Ledger.MaxQuestionLen <= 0 {
		errs = append(errs, "ledger: max_question_len must be positive")
	}
	if c.Ledger.LockTTL.Duration <= 0 {
		errs = append(errs, "ledger: lock_ttl must be positive")
	}

	// Storage.
	switch strings.ToLower(c.Storage.Backend) {
	case "postgres":
		pg := c.Storage.Postgres
		if strings.TrimSpace(pg.DSN) == "" {
			if pg.Host == "" {
				errs = append(errs, "storage: postgres host must not be empty (or set storage.postgres.dsn)")
			}
			if pg.Port <= 0 || pg.Port > 65535 {
				errs = append(errs, fmt.Sprintf("storage: postgres port must be 1-65535, got %d", pg.Port))
			}
			if pg.Database == "" {
				errs = append(errs, "storage: postgres database must not be empty")
			}
		}
		if pg.PoolMaxConns < 1 {
			errs = append(errs, "storage: pool_max_conns must be >= 1")
		}
		if pg.PoolMinConns < 0 || pg.PoolMinConns > pg.PoolMaxConns {
			errs = append(errs, "storage: pool_min_conns must be between 0 and pool_max_conns")
		}
	case "memory":
		// No parameters.
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown backend %q (valid: postgres, memory)", c.Storage.Backend))
	}

	// Redis.
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty when enabled")
	}

	// Archiver requires S3 parameters.
	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket is required when archive is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region is required when archive is enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive")
		}
		if c.Archive.RetentionDays < 0 {
			errs = append(errs, "archive: retention_days must not be negative")
		}
		if c.Archive.BatchSize <= 0 {
			errs = append(errs, "archive: batch_size must be positive")
		}
	}

	// Server.
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server: rate_limit must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
