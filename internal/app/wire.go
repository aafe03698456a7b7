package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/peermarket/internal/blob/s3"
	"github.com/alanyoungcy/peermarket/internal/cache/local"
	"github.com/alanyoungcy/peermarket/internal/cache/redis"
	"github.com/alanyoungcy/peermarket/internal/config"
	"github.com/alanyoungcy/peermarket/internal/domain"
	"github.com/alanyoungcy/peermarket/internal/ledger"
	"github.com/alanyoungcy/peermarket/internal/notify"
	"github.com/alanyoungcy/peermarket/internal/server/handler"
	"github.com/alanyoungcy/peermarket/internal/store/postgres"
	"github.com/alanyoungcy/peermarket/internal/store/sqlite"
)

// Dependencies bundles every infrastructure dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function. Optional members are nil when their backend is not configured.
type Dependencies struct {
	Ledger    domain.Ledger
	SignalBus domain.SignalBus

	RateLimiter domain.RateLimiter
	Nonces      domain.NonceStore
	AuditStore  domain.AuditStore
	Evidence    domain.EvidenceChecker
	// EvidenceSource serves evidence downloads whenever S3 is enabled.
	EvidenceSource domain.EvidenceSource
	Archiver       domain.Archiver

	Notifier *notify.Notifier

	// Checks feed the health endpoint.
	Checks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Checks: map[string]handler.Check{}}
	backend := strings.ToLower(cfg.Ledger.Backend)

	// --- PostgreSQL (ledger backend or audit log) ---
	var pgClient *postgres.Client
	if backend == "postgres" || cfg.Postgres.Audit {
		var err error
		pgClient, err = postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Checks["postgres"] = pgClient.Ping
		if cfg.Postgres.Audit {
			deps.AuditStore = postgres.NewAuditStore(pgClient.Pool())
		}
	}

	// --- Redis (ledger backend, event bus or rate limiting) ---
	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		var err error
		redisClient, err = redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Checks["redis"] = redisClient.Ping
		if cfg.Server.RateLimit.Enabled {
			deps.RateLimiter = redis.NewRateLimiter(redisClient)
		}
	}

	// Replay claims are shared through Redis when it is configured.
	if redisClient != nil {
		deps.Nonces = redis.NewNonceStore(redisClient)
	} else {
		deps.Nonces = local.NewNonceStore()
	}

	// --- Ledger ---
	switch backend {
	case "memory":
		logger.WarnContext(ctx, "using in-memory ledger; state is lost on restart")
		deps.Ledger = ledger.NewMemory()
	case "postgres":
		deps.Ledger = postgres.NewLedger(pgClient.Pool())
	case "sqlite":
		l, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return fail(fmt.Errorf("wire: sqlite: %w", err))
		}
		closers = append(closers, func() { _ = l.Close() })
		deps.Checks["sqlite"] = l.Ping
		deps.Ledger = l
	case "redis":
		deps.Ledger = redis.NewLedger(redisClient)
	default:
		return fail(fmt.Errorf("wire: unknown ledger backend %q", cfg.Ledger.Backend))
	}

	// --- Event bus ---
	if strings.EqualFold(cfg.Events.Backend, "redis") {
		deps.SignalBus = redis.NewSignalBusWithMaxLen(redisClient, int64(cfg.Events.StreamMaxLen))
	} else {
		deps.SignalBus = local.NewSignalBus(cfg.Events.StreamMaxLen)
	}

	// --- S3 evidence checks and settlement archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Checks["s3"] = s3Client.Health
		reader := s3blob.NewReader(s3Client)
		deps.EvidenceSource = reader
		if cfg.S3.CheckEvidence {
			deps.Evidence = reader
		}
		if cfg.S3.Archive {
			deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.Ledger)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	logger.InfoContext(ctx, "dependencies wired",
		slog.String("ledger", backend),
		slog.String("events", cfg.Events.Backend),
		slog.Bool("audit", deps.AuditStore != nil),
		slog.Bool("evidence_check", deps.Evidence != nil),
		slog.Bool("archive", deps.Archiver != nil),
		slog.Bool("notify", deps.Notifier.Enabled()),
	)
	return deps, cleanup, nil
}
