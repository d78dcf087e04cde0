package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PREDICTD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PREDICTD_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "PREDICTD_MODE")
	setStr(&cfg.LogLevel, "PREDICTD_LOG_LEVEL")

	setUint32(&cfg.Ledger.PlatformFeeBps, "PREDICTD_LEDGER_PLATFORM_FEE_BPS")
	setUint32(&cfg.Ledger.LpFeeBps, "PREDICTD_LEDGER_LP_FEE_BPS")
	setDuration(&cfg.Ledger.LockTTL, "PREDICTD_LEDGER_LOCK_TTL")

	setStr(&cfg.Storage.Backend, "PREDICTD_STORAGE_BACKEND")
	setBool(&cfg.Storage.RunMigrations, "PREDICTD_STORAGE_RUN_MIGRATIONS")
	setStr(&cfg.Storage.Postgres.DSN, "PREDICTD_POSTGRES_DSN")
	setStr(&cfg.Storage.Postgres.Host, "PREDICTD_POSTGRES_HOST")
	setInt(&cfg.Storage.Postgres.Port, "PREDICTD_POSTGRES_PORT")
	setStr(&cfg.Storage.Postgres.Database, "PREDICTD_POSTGRES_DATABASE")
	setStr(&cfg.Storage.Postgres.User, "PREDICTD_POSTGRES_USER")
	setStr(&cfg.Storage.Postgres.Password, "PREDICTD_POSTGRES_PASSWORD")
	setStr(&cfg.Storage.Postgres.SSLMode, "PREDICTD_POSTGRES_SSL_MODE")

	setBool(&cfg.Redis.Enabled, "PREDICTD_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PREDICTD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PREDICTD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PREDICTD_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "PREDICTD_REDIS_TLS_ENABLED")

	setStr(&cfg.S3.Endpoint, "PREDICTD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PREDICTD_S3_REGION")
	setStr(&cfg.S3.Bucket, "PREDICTD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PREDICTD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PREDICTD_S3_SECRET_KEY")

	setBool(&cfg.Archive.Enabled, "PREDICTD_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "PREDICTD_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "PREDICTD_ARCHIVE_RETENTION_DAYS")

	setInt(&cfg.Server.Port, "PREDICTD_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "PREDICTD_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "PREDICTD_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "PREDICTD_SERVER_RATE_LIMIT")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint32(dst *uint32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			*dst = uint32(n)
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			*dst = out
		}
	}
}
