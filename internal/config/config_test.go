package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "somekey"
	return cfg
}

func TestDefaultsValidateWithWalletKey(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidateCollectsAllIssues(t *testing.T) {
	cfg := Defaults()
	cfg.Solana.RPCURL = ""
	cfg.Solana.Commitment = "instant"
	cfg.Server.Port = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"wallet:", "solana: rpc_url", "commitment", "server: port"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestValidateRequiresPasswordForEncryptedKey(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.EncryptedKeyPath = "/etc/swapflow/key.json"

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "key_password") {
		t.Fatalf("error = %v, want key_password complaint", err)
	}
}

func TestValidateRequiresOneEnabledVenue(t *testing.T) {
	cfg := validConfig()
	cfg.Venues.Raydium.Enabled = false
	cfg.Venues.Orca.Enabled = false

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "at least one venue") {
		t.Fatalf("error = %v, want venue complaint", err)
	}
}

func TestValidateArchiveNeedsS3(t *testing.T) {
	cfg := validConfig()
	cfg.Archive.Enabled = true

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "s3: bucket") {
		t.Fatalf("error = %v, want s3 bucket complaint", err)
	}
}

func TestLoadMergesTOMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := `
log_level = "debug"

[server]
port = 9090

[router]
slippage = 0.005
quote_timeout = "3s"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.LogLevel != "debug" {
		t.Fatalf("toml values not applied: port=%d level=%s", cfg.Server.Port, cfg.LogLevel)
	}
	if cfg.Router.Slippage != 0.005 || cfg.Router.QuoteTimeout.Duration != 3*time.Second {
		t.Fatalf("router = %+v", cfg.Router)
	}
	// Defaults survive where the file is silent.
	if cfg.Solana.Commitment != "confirmed" {
		t.Fatalf("commitment = %s, want default confirmed", cfg.Solana.Commitment)
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("port = %d, want 8080", cfg.Server.Port)
	}
}

func TestCanonicalEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "3001")
	t.Setenv("SOLANA_RPC_URL", "https://rpc.example.com")
	t.Setenv("WALLET_PRIVATE_KEY", "envkey")
	t.Setenv("SLIPPAGE", "0.02")
	t.Setenv("ROUTE_TIMEOUT_MS", "2500")
	t.Setenv("RATE_LIMIT", "5")
	t.Setenv("REDIS_URL", "redis://localhost:6380/1")
	t.Setenv("NODE_ENV", "production")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 3001 {
		t.Errorf("port = %d, want 3001", cfg.Server.Port)
	}
	if cfg.Solana.RPCURL != "https://rpc.example.com" {
		t.Errorf("rpc url = %s", cfg.Solana.RPCURL)
	}
	if cfg.Wallet.PrivateKey != "envkey" {
		t.Errorf("wallet key not applied")
	}
	if cfg.Router.Slippage != 0.02 {
		t.Errorf("slippage = %g", cfg.Router.Slippage)
	}
	if cfg.Router.QuoteTimeout.Duration != 2500*time.Millisecond {
		t.Errorf("quote timeout = %v", cfg.Router.QuoteTimeout.Duration)
	}
	if cfg.Worker.RateLimit != 5 {
		t.Errorf("rate limit = %d", cfg.Worker.RateLimit)
	}
	if cfg.Redis.URL != "redis://localhost:6380/1" {
		t.Errorf("redis url = %s", cfg.Redis.URL)
	}
	if cfg.Env != "production" {
		t.Errorf("env = %s", cfg.Env)
	}
}

func TestRedisAddrJoinsHostPort(t *testing.T) {
	r := RedisConfig{Host: "cache.internal", Port: 6380}
	if got := r.Addr(); got != "cache.internal:6380" {
		t.Fatalf("Addr() = %s", got)
	}
	r = RedisConfig{Host: "localhost"}
	if got := r.Addr(); got != "localhost:6379" {
		t.Fatalf("Addr() = %s, want default port", got)
	}
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "hunter2"
	cfg.Server.APIKey = "secret"

	red := RedactedConfig(&cfg)
	if red.Wallet.PrivateKey != "***" || red.Postgres.Password != "***" || red.Server.APIKey != "***" {
		t.Fatalf("secrets not redacted: %+v", red)
	}
	// The original is untouched.
	if cfg.Postgres.Password != "hunter2" {
		t.Fatal("original mutated")
	}
	// Empty secrets stay empty.
	if red.Notify.TelegramToken != "" {
		t.Fatalf("empty secret should stay empty, got %q", red.Notify.TelegramToken)
	}
}
