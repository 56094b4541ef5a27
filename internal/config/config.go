// Package config defines the top-level configuration for the swap pipeline
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then overridden by environment variables; the canonical
// deployment variables (PORT, SOLANA_RPC_URL, REDIS_URL, POSTGRES_URL, ...)
// are honored directly, everything else under a SWAPFLOW_ prefix.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Solana   SolanaConfig   `toml:"solana"`
	Venues   VenuesConfig   `toml:"venues"`
	Router   RouterConfig   `toml:"router"`
	Worker   WorkerConfig   `toml:"worker"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Env      string         `toml:"env"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds the signer key material. Exactly one of PrivateKey or
// EncryptedKeyPath (plus KeyPassword) must be provided.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// SolanaConfig holds chain RPC and confirmation parameters.
type SolanaConfig struct {
	RPCURL         string   `toml:"rpc_url"`
	Commitment     string   `toml:"commitment"`
	Cluster        string   `toml:"cluster"` // explorer link suffix; empty = mainnet
	ExplorerBase   string   `toml:"explorer_base"`
	ConfirmTimeout duration `toml:"confirm_timeout"`
	PollInterval   duration `toml:"poll_interval"`
}

// VenueConfig holds the construction parameters for one DEX venue client.
type VenueConfig struct {
	Enabled  bool   `toml:"enabled"`
	BaseURL  string `toml:"base_url"`
	FeeBps   int    `toml:"fee_bps"`
	MaxPools int    `toml:"max_pools"`
}

// VenuesConfig holds all registered venues. Registration order (Raydium
// first) decides quote tie-breaks.
type VenuesConfig struct {
	Raydium VenueConfig `toml:"raydium"`
	Orca    VenueConfig `toml:"orca"`
}

// RouterConfig holds routing parameters.
type RouterConfig struct {
	// Slippage is fractional, e.g. 0.01 for 1%.
	Slippage     float64  `toml:"slippage"`
	QuoteTimeout duration `toml:"quote_timeout"`
}

// WorkerConfig holds execution-worker parameters.
type WorkerConfig struct {
	// RateLimit is the maximum number of executions started per minute.
	RateLimit   int `toml:"rate_limit"`
	Concurrency int `toml:"concurrency"`
}

// PostgresConfig holds history-store connection parameters. URL, when set,
// takes precedence over the discrete fields.
type PostgresConfig struct {
	URL           string `toml:"url"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	IdleTimeoutMs int    `toml:"idle_timeout_ms"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds queue-transport connection parameters. URL, when set,
// takes precedence over the discrete fields.
type RedisConfig struct {
	URL        string `toml:"url"`
	Host       string `toml:"host"`
	Port       int    `toml:"port"`
	Username   string `toml:"username"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// Addr joins host and port for the go-redis client.
func (r RedisConfig) Addr() string {
	port := r.Port
	if port == 0 {
		port = 6379
	}
	return fmt.Sprintf("%s:%d", r.Host, port)
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

// ArchiveConfig controls the terminal-order history archiver.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
	BatchSize     int      `toml:"batch_size"`
}

// ServerConfig holds HTTP server parameters. An empty APIKey disables
// authentication.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so the TOML decoder accepts strings like
// "5m" or "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
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
func Defaults() Config {
	return Config{
		Solana: SolanaConfig{
			RPCURL:         "https://api.mainnet-beta.solana.com",
			Commitment:     "confirmed",
			ExplorerBase:   "https://explorer.solana.com",
			ConfirmTimeout: duration{60 * time.Second},
			PollInterval:   duration{2 * time.Second},
		},
		Venues: VenuesConfig{
			Raydium: VenueConfig{
				Enabled:  true,
				BaseURL:  "https://api-v3.raydium.io",
				FeeBps:   25,
				MaxPools: 3,
			},
			Orca: VenueConfig{
				Enabled:  true,
				BaseURL:  "https://api.orca.so",
				FeeBps:   30,
				MaxPools: 3,
			},
		},
		Router: RouterConfig{
			Slippage:     0.01,
			QuoteTimeout: duration{5 * time.Second},
		},
		Worker: WorkerConfig{
			RateLimit:   10,
			Concurrency: 4,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "swapflow",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			IdleTimeoutMs: 30_000,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Host:       "localhost",
			Port:       6379,
			PoolSize:   20,
			MaxRetries: 3,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 30,
			Interval:      duration{time.Hour},
			BatchSize:     500,
		},
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"order_confirmed", "order_failed"},
		},
		Env:      "development",
		LogLevel: "info",
	}
}

// validCommitments enumerates the accepted Solana commitment levels.
var validCommitments = map[string]bool{
	"processed": true,
	"confirmed": true,
	"finalized": true,
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

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet: one key source required.
	if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
		errs = append(errs, "wallet: either private_key or encrypted_key_path must be set")
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	// Solana
	if c.Solana.RPCURL == "" {
		errs = append(errs, "solana: rpc_url must not be empty")
	}
	if !validCommitments[strings.ToLower(c.Solana.Commitment)] {
		errs = append(errs, fmt.Sprintf("solana: commitment must be processed, confirmed, or finalized, got %q", c.Solana.Commitment))
	}

	// Venues: at least one must be enabled and have a base URL.
	enabled := 0
	for name, v := range map[string]VenueConfig{"raydium": c.Venues.Raydium, "orca": c.Venues.Orca} {
		if !v.Enabled {
			continue
		}
		enabled++
		if v.BaseURL == "" {
			errs = append(errs, fmt.Sprintf("venues: %s.base_url must not be empty when enabled", name))
		}
	}
	if enabled == 0 {
		errs = append(errs, "venues: at least one venue must be enabled")
	}

	// Router
	if c.Router.Slippage <= 0 || c.Router.Slippage >= 1 {
		errs = append(errs, fmt.Sprintf("router: slippage must be in (0, 1), got %g", c.Router.Slippage))
	}
	if c.Router.QuoteTimeout.Duration <= 0 {
		errs = append(errs, "router: quote_timeout must be positive")
	}

	// Worker
	if c.Worker.Concurrency < 1 {
		errs = append(errs, "worker: concurrency must be >= 1")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.URL) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.url)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
	}

	// Redis
	if strings.TrimSpace(c.Redis.URL) == "" && c.Redis.Host == "" {
		errs = append(errs, "redis: host must not be empty (or set redis.url)")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Archiver needs a full S3 target when enabled.
	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
