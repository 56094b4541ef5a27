package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load builds the final Config: built-in defaults, then the TOML file at
// path (skipped when path is empty), then a .env file if present, then
// environment variable overrides. The result has NOT been validated; call
// Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env if present; missing is fine.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites Config fields from environment variables when
// set. The first block covers the canonical deployment variables; everything
// else uses the SWAPFLOW_ prefix.
func applyEnvOverrides(cfg *Config) {
	// ── Canonical deployment variables ──
	setInt(&cfg.Server.Port, "PORT")
	setStr(&cfg.Solana.RPCURL, "SOLANA_RPC_URL")
	setStr(&cfg.Solana.Commitment, "SOLANA_COMMITMENT")
	setStr(&cfg.Solana.Cluster, "SOLANA_CLUSTER")
	setStr(&cfg.Wallet.PrivateKey, "WALLET_PRIVATE_KEY")
	setStr(&cfg.Redis.URL, "REDIS_URL")
	setStr(&cfg.Redis.Host, "REDIS_HOST")
	setInt(&cfg.Redis.Port, "REDIS_PORT")
	setStr(&cfg.Redis.Username, "REDIS_USERNAME")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setStr(&cfg.Postgres.URL, "POSTGRES_URL")
	setInt(&cfg.Postgres.PoolMaxConns, "POSTGRES_POOL_MAX")
	setInt(&cfg.Postgres.IdleTimeoutMs, "POSTGRES_IDLE_TIMEOUT_MS")
	setFloat64(&cfg.Router.Slippage, "SLIPPAGE")
	setMillis(&cfg.Router.QuoteTimeout, "ROUTE_TIMEOUT_MS")
	setInt(&cfg.Worker.RateLimit, "RATE_LIMIT")
	setStr(&cfg.Server.APIKey, "API_KEY")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
	setStr(&cfg.Env, "NODE_ENV")

	// ── Wallet ──
	setStr(&cfg.Wallet.EncryptedKeyPath, "SWAPFLOW_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "SWAPFLOW_WALLET_KEY_PASSWORD")

	// ── Solana ──
	setStr(&cfg.Solana.ExplorerBase, "SWAPFLOW_SOLANA_EXPLORER_BASE")
	setDuration(&cfg.Solana.ConfirmTimeout, "SWAPFLOW_SOLANA_CONFIRM_TIMEOUT")
	setDuration(&cfg.Solana.PollInterval, "SWAPFLOW_SOLANA_POLL_INTERVAL")

	// ── Venues ──
	setBool(&cfg.Venues.Raydium.Enabled, "SWAPFLOW_VENUES_RAYDIUM_ENABLED")
	setStr(&cfg.Venues.Raydium.BaseURL, "SWAPFLOW_VENUES_RAYDIUM_BASE_URL")
	setInt(&cfg.Venues.Raydium.FeeBps, "SWAPFLOW_VENUES_RAYDIUM_FEE_BPS")
	setInt(&cfg.Venues.Raydium.MaxPools, "SWAPFLOW_VENUES_RAYDIUM_MAX_POOLS")
	setBool(&cfg.Venues.Orca.Enabled, "SWAPFLOW_VENUES_ORCA_ENABLED")
	setStr(&cfg.Venues.Orca.BaseURL, "SWAPFLOW_VENUES_ORCA_BASE_URL")
	setInt(&cfg.Venues.Orca.FeeBps, "SWAPFLOW_VENUES_ORCA_FEE_BPS")
	setInt(&cfg.Venues.Orca.MaxPools, "SWAPFLOW_VENUES_ORCA_MAX_POOLS")

	// ── Worker ──
	setInt(&cfg.Worker.Concurrency, "SWAPFLOW_WORKER_CONCURRENCY")

	// ── Postgres ──
	setStr(&cfg.Postgres.Host, "SWAPFLOW_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SWAPFLOW_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SWAPFLOW_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SWAPFLOW_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SWAPFLOW_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SWAPFLOW_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMinConns, "SWAPFLOW_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SWAPFLOW_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setInt(&cfg.Redis.PoolSize, "SWAPFLOW_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SWAPFLOW_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SWAPFLOW_REDIS_TLS_ENABLED")

	// ── S3 / archive ──
	setStr(&cfg.S3.Endpoint, "SWAPFLOW_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SWAPFLOW_S3_REGION")
	setStr(&cfg.S3.Bucket, "SWAPFLOW_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SWAPFLOW_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SWAPFLOW_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SWAPFLOW_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SWAPFLOW_S3_FORCE_PATH_STYLE")
	setBool(&cfg.Archive.Enabled, "SWAPFLOW_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "SWAPFLOW_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "SWAPFLOW_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.BatchSize, "SWAPFLOW_ARCHIVE_BATCH_SIZE")

	// ── Server ──
	setStringSlice(&cfg.Server.CORSOrigins, "SWAPFLOW_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SWAPFLOW_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SWAPFLOW_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SWAPFLOW_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SWAPFLOW_NOTIFY_EVENTS")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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

// setMillis reads a bare-integer milliseconds variable.
func setMillis(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			dst.Duration = time.Duration(n) * time.Millisecond
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
