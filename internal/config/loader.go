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
// built-in defaults, applies PEERMARKET_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PEERMARKET_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Ledger / events ──
	setStr(&cfg.Ledger.Backend, "PEERMARKET_LEDGER_BACKEND")
	setStr(&cfg.Events.Backend, "PEERMARKET_EVENTS_BACKEND")
	setInt(&cfg.Events.StreamMaxLen, "PEERMARKET_EVENTS_STREAM_MAX_LEN")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PEERMARKET_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "PEERMARKET_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PEERMARKET_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PEERMARKET_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PEERMARKET_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PEERMARKET_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PEERMARKET_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PEERMARKET_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PEERMARKET_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PEERMARKET_POSTGRES_RUN_MIGRATIONS")
	setBool(&cfg.Postgres.Audit, "PEERMARKET_POSTGRES_AUDIT")

	// ── SQLite ──
	setStr(&cfg.SQLite.Path, "PEERMARKET_SQLITE_PATH")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PEERMARKET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PEERMARKET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PEERMARKET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PEERMARKET_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PEERMARKET_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PEERMARKET_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PEERMARKET_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PEERMARKET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PEERMARKET_S3_REGION")
	setStr(&cfg.S3.Bucket, "PEERMARKET_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PEERMARKET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PEERMARKET_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PEERMARKET_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PEERMARKET_S3_FORCE_PATH_STYLE")
	setBool(&cfg.S3.CheckEvidence, "PEERMARKET_S3_CHECK_EVIDENCE")
	setBool(&cfg.S3.Archive, "PEERMARKET_S3_ARCHIVE")

	// ── Market ──
	setDuration(&cfg.Market.ResolutionTimeout, "PEERMARKET_MARKET_RESOLUTION_TIMEOUT")
	setDuration(&cfg.Market.SweepInterval, "PEERMARKET_MARKET_SWEEP_INTERVAL")
	setStr(&cfg.Market.PayoutPolicy, "PEERMARKET_MARKET_PAYOUT_POLICY")
	setBool(&cfg.Market.SettleOnTimeout, "PEERMARKET_MARKET_SETTLE_ON_TIMEOUT")
	setInt(&cfg.Market.RetryMaxAttempts, "PEERMARKET_MARKET_RETRY_MAX_ATTEMPTS")
	setDuration(&cfg.Market.RetryBaseDelay, "PEERMARKET_MARKET_RETRY_BASE_DELAY")
	setDuration(&cfg.Market.RetryMaxDelay, "PEERMARKET_MARKET_RETRY_MAX_DELAY")
	setStr(&cfg.Registry.Ref, "PEERMARKET_REGISTRY_REF")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PEERMARKET_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PEERMARKET_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PEERMARKET_SERVER_CORS_ORIGINS")
	setStringSlice(&cfg.Server.OperatorKeys, "PEERMARKET_SERVER_OPERATOR_KEYS")
	setBool(&cfg.Server.Auth.Enabled, "PEERMARKET_SERVER_AUTH_ENABLED")
	setDuration(&cfg.Server.Auth.MaxSkew, "PEERMARKET_SERVER_AUTH_MAX_SKEW")
	setBool(&cfg.Server.RateLimit.Enabled, "PEERMARKET_SERVER_RATE_LIMIT_ENABLED")
	setInt(&cfg.Server.RateLimit.Requests, "PEERMARKET_SERVER_RATE_LIMIT_REQUESTS")
	setDuration(&cfg.Server.RateLimit.Window, "PEERMARKET_SERVER_RATE_LIMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PEERMARKET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PEERMARKET_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PEERMARKET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PEERMARKET_NOTIFY_EVENTS")

	// ── Client ──
	setStr(&cfg.Client.BaseURL, "PEERMARKET_CLIENT_BASE_URL")
	setStr(&cfg.Client.PrivateKey, "PEERMARKET_CLIENT_PRIVATE_KEY")
	setStr(&cfg.Client.EncryptedKeyPath, "PEERMARKET_CLIENT_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Client.KeyPassword, "PEERMARKET_CLIENT_KEY_PASSWORD")

	// ── Top-level ──
	setStr(&cfg.Mode, "PEERMARKET_MODE")
	setStr(&cfg.LogLevel, "PEERMARKET_LOG_LEVEL")
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
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
