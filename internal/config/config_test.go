package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Defaults().Validate() failed: %v", err)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "peermarket.toml")
	body := `
mode = "server"

[ledger]
backend = "sqlite"

[sqlite]
path = "/var/lib/peermarket/ledger.db"

[market]
resolution_timeout = "36h"
payout_policy = "refund_unresolved"

[server]
port = 9000
operator_keys = ["0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"]
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	t.Setenv("PEERMARKET_SERVER_PORT", "9100")
	t.Setenv("PEERMARKET_MARKET_SWEEP_INTERVAL", "15s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if cfg.Mode != "server" || cfg.Ledger.Backend != "sqlite" {
		t.Errorf("mode/backend = %q/%q", cfg.Mode, cfg.Ledger.Backend)
	}
	if cfg.Market.ResolutionTimeout.Duration != 36*time.Hour {
		t.Errorf("resolution_timeout = %v, want 36h", cfg.Market.ResolutionTimeout)
	}
	if cfg.Market.SweepInterval.Duration != 15*time.Second {
		t.Errorf("sweep_interval = %v, want env override 15s", cfg.Market.SweepInterval)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d, want env override 9100", cfg.Server.Port)
	}
	// Untouched sections keep their defaults.
	if cfg.Redis.PoolSize != 10 {
		t.Errorf("redis pool_size = %d, want default 10", cfg.Redis.PoolSize)
	}
	ops := cfg.Server.Operators()
	if len(ops) != 1 || ops[0] != "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266" {
		t.Errorf("operators = %v", ops)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("Load of a missing file succeeded")
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Ledger.Backend = "etcd"
	cfg.Market.PayoutPolicy = "lottery"
	cfg.Market.RetryMaxAttempts = 0
	cfg.Server.OperatorKeys = []string{"root"}
	cfg.Notify.TelegramToken = "token-without-chat"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate succeeded, want errors")
	}
	for _, want := range []string{
		`unknown mode "trade"`,
		`ledger: unknown backend "etcd"`,
		`unknown payout_policy "lottery"`,
		"retry_max_attempts",
		`operator_keys entry "root"`,
		"telegram_token and telegram_chat_id",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestValidate_BackendRequirements(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"memory ledger with separate worker", func(c *Config) { c.Mode = "worker" }, "cannot be shared"},
		{"postgres without host", func(c *Config) {
			c.Ledger.Backend = "postgres"
			c.Postgres.Host = ""
		}, "postgres: host"},
		{"postgres with dsn", func(c *Config) {
			c.Ledger.Backend = "postgres"
			c.Postgres.Host = ""
			c.Postgres.DSN = "postgres://localhost/peermarket"
		}, ""},
		{"rate limit without redis addr", func(c *Config) {
			c.Server.RateLimit.Enabled = true
			c.Redis.Addr = ""
		}, "redis: addr"},
		{"redis addr unused", func(c *Config) { c.Redis.Addr = "" }, ""},
		{"s3 without bucket", func(c *Config) {
			c.S3.Enabled = true
			c.S3.Bucket = ""
		}, "s3: bucket"},
		{"sqlite without path", func(c *Config) {
			c.Ledger.Backend = "sqlite"
			c.SQLite.Path = " "
		}, "sqlite: path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate failed: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.Client.PrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	cfg.Notify.Events = []string{"market.settled"}

	out := RedactedConfig(&cfg)
	if out.Postgres.Password != redacted || out.Client.PrivateKey != redacted {
		t.Errorf("secrets not redacted: %+v %+v", out.Postgres, out.Client)
	}
	if out.Redis.Password != "" {
		t.Errorf("empty secret became %q", out.Redis.Password)
	}
	out.Notify.Events[0] = "changed"
	if cfg.Notify.Events[0] != "market.settled" {
		t.Error("mutating the redacted copy changed the original")
	}
	if cfg.Postgres.Password != "hunter2" {
		t.Error("original was redacted")
	}
}
