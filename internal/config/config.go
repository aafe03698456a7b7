// Package config defines the top-level configuration for the peermarket
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/peermarket/internal/domain"
	"github.com/alanyoungcy/peermarket/internal/ledger"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PEERMARKET_* environment variables.
type Config struct {
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Events   EventsConfig   `toml:"events"`
	Postgres PostgresConfig `toml:"postgres"`
	SQLite   SQLiteConfig   `toml:"sqlite"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Market   MarketConfig   `toml:"market"`
	Registry RegistryConfig `toml:"registry"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Client   ClientConfig   `toml:"client"`
}

// LedgerConfig selects the versioned store behind every service.
type LedgerConfig struct {
	Backend string `toml:"backend"` // memory | postgres | sqlite | redis
}

// EventsConfig selects the signal bus carrying domain events.
type EventsConfig struct {
	Backend      string `toml:"backend"` // local | redis
	StreamMaxLen int    `toml:"stream_max_len"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
	// Audit records the event stream into audit_log.
	Audit bool `toml:"audit"`
}

// SQLiteConfig holds the embedded ledger location.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters used for evidence
// checks and settlement archives.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	// CheckEvidence rejects submissions whose evidence object is missing.
	CheckEvidence bool `toml:"check_evidence"`
	Archive       bool `toml:"archive"`
}

// MarketConfig tunes resolution and settlement.
type MarketConfig struct {
	ResolutionTimeout duration `toml:"resolution_timeout"`
	SweepInterval     duration `toml:"sweep_interval"`
	PayoutPolicy      string   `toml:"payout_policy"`
	SettleOnTimeout   bool     `toml:"settle_on_timeout"`
	RetryMaxAttempts  int      `toml:"retry_max_attempts"`
	RetryBaseDelay    duration `toml:"retry_base_delay"`
	RetryMaxDelay     duration `toml:"retry_max_delay"`
}

// RetryPolicy converts the retry settings for the ledger package.
func (m MarketConfig) RetryPolicy() ledger.RetryPolicy {
	return ledger.RetryPolicy{
		MaxAttempts: m.RetryMaxAttempts,
		BaseDelay:   m.RetryBaseDelay.Duration,
		MaxDelay:    m.RetryMaxDelay.Duration,
	}
}

// RegistryConfig names the registry this deployment serves.
type RegistryConfig struct {
	Ref string `toml:"ref"`
}

// ServerConfig holds HTTP API server settings.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// OperatorKeys are the addresses allowed to credit balances.
	OperatorKeys []string        `toml:"operator_keys"`
	Auth         AuthConfig      `toml:"auth"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// Operators parses OperatorKeys. Validate reports malformed entries.
func (s ServerConfig) Operators() []domain.Identity {
	out := make([]domain.Identity, 0, len(s.OperatorKeys))
	for _, k := range s.OperatorKeys {
		if id, err := domain.ParseIdentity(k); err == nil {
			out = append(out, id)
		}
	}
	return out
}

// AuthConfig controls request signature checks.
type AuthConfig struct {
	Enabled bool     `toml:"enabled"`
	MaxSkew duration `toml:"max_skew"`
}

// RateLimitConfig bounds requests per caller. It needs Redis.
type RateLimitConfig struct {
	Enabled  bool     `toml:"enabled"`
	Requests int      `toml:"requests"`
	Window   duration `toml:"window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ClientConfig is read by peermarketctl.
type ClientConfig struct {
	BaseURL          string `toml:"base_url"`
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so that BurntSushi/toml can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

var validModes = map[string]bool{
	"server": true,
	"worker": true,
	"full":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLedgerBackends = map[string]bool{
	"memory":   true,
	"postgres": true,
	"sqlite":   true,
	"redis":    true,
}

// Defaults returns a Config populated with sensible default values.
func Defaults() Config {
	retry := ledger.DefaultRetryPolicy()
	return Config{
		Mode:     "full",
		LogLevel: "info",
		Ledger:   LedgerConfig{Backend: "memory"},
		Events:   EventsConfig{Backend: "local", StreamMaxLen: 10000},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "peermarket",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{Path: "peermarket.db"},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "peermarket",
			ForcePathStyle: true,
			Archive:        true,
		},
		Market: MarketConfig{
			ResolutionTimeout: duration{72 * time.Hour},
			SweepInterval:     duration{time.Minute},
			PayoutPolicy:      string(domain.PayoutWinnersTakePool),
			SettleOnTimeout:   true,
			RetryMaxAttempts:  retry.MaxAttempts,
			RetryBaseDelay:    duration{retry.BaseDelay},
			RetryMaxDelay:     duration{retry.MaxDelay},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000"},
			Auth:        AuthConfig{Enabled: true, MaxSkew: duration{5 * time.Minute}},
			RateLimit:   RateLimitConfig{Requests: 120, Window: duration{time.Minute}},
		},
		Notify: NotifyConfig{
			Events: []string{
				string(domain.EventInvitationCreated),
				string(domain.EventMarketDisputed),
				string(domain.EventSubmissionResolved),
				string(domain.EventMarketSettled),
			},
		},
		Client: ClientConfig{BaseURL: "http://localhost:8080"},
	}
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, worker, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	backend := strings.ToLower(c.Ledger.Backend)
	if !validLedgerBackends[backend] {
		errs = append(errs, fmt.Sprintf("ledger: unknown backend %q (valid: memory, postgres, sqlite, redis)", c.Ledger.Backend))
	}
	// The sweeper and the API share state only through a durable ledger.
	if backend == "memory" && strings.ToLower(c.Mode) == "worker" {
		errs = append(errs, "ledger: backend memory cannot be shared with a separate worker process")
	}

	events := strings.ToLower(c.Events.Backend)
	if events != "local" && events != "redis" {
		errs = append(errs, fmt.Sprintf("events: unknown backend %q (valid: local, redis)", c.Events.Backend))
	}
	if c.Events.StreamMaxLen < 1 {
		errs = append(errs, "events: stream_max_len must be >= 1")
	}

	if backend == "postgres" || c.Postgres.Audit {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
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
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if backend == "sqlite" && strings.TrimSpace(c.SQLite.Path) == "" {
		errs = append(errs, "sqlite: path must not be empty")
	}

	if c.NeedsRedis() {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	if c.Market.ResolutionTimeout.Duration <= 0 {
		errs = append(errs, "market: resolution_timeout must be > 0")
	}
	if c.Market.SweepInterval.Duration <= 0 {
		errs = append(errs, "market: sweep_interval must be > 0")
	}
	switch domain.PayoutPolicy(c.Market.PayoutPolicy) {
	case domain.PayoutWinnersTakePool, domain.PayoutRefundUnresolved:
	default:
		errs = append(errs, fmt.Sprintf("market: unknown payout_policy %q (valid: %s, %s)",
			c.Market.PayoutPolicy, domain.PayoutWinnersTakePool, domain.PayoutRefundUnresolved))
	}
	if c.Market.RetryMaxAttempts < 1 {
		errs = append(errs, "market: retry_max_attempts must be >= 1")
	}
	if c.Market.RetryBaseDelay.Duration < 0 || c.Market.RetryMaxDelay.Duration < c.Market.RetryBaseDelay.Duration {
		errs = append(errs, "market: retry delays must satisfy 0 <= retry_base_delay <= retry_max_delay")
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		for _, k := range c.Server.OperatorKeys {
			if _, err := domain.ParseIdentity(k); err != nil {
				errs = append(errs, fmt.Sprintf("server: operator_keys entry %q is not an address", k))
			}
		}
		if c.Server.Auth.Enabled && c.Server.Auth.MaxSkew.Duration <= 0 {
			errs = append(errs, "server: auth.max_skew must be > 0")
		}
		if c.Server.RateLimit.Enabled {
			if c.Server.RateLimit.Requests < 1 {
				errs = append(errs, "server: rate_limit.requests must be >= 1")
			}
			if c.Server.RateLimit.Window.Duration <= 0 {
				errs = append(errs, "server: rate_limit.window must be > 0")
			}
		}
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// NeedsRedis reports whether any enabled component talks to Redis.
func (c *Config) NeedsRedis() bool {
	return strings.EqualFold(c.Ledger.Backend, "redis") ||
		strings.EqualFold(c.Events.Backend, "redis") ||
		(c.Server.Enabled && c.Server.RateLimit.Enabled)
}
