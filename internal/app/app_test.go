package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/alanyoungcy/peermarket/internal/config"
	"github.com/alanyoungcy/peermarket/internal/domain"
	"github.com/alanyoungcy/peermarket/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWire_InProcessBackends(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		checks []string
	}{
		{"memory", func(*config.Config) {}, nil},
		{"sqlite", func(c *config.Config) {
			c.Ledger.Backend = "sqlite"
			c.SQLite.Path = filepath.Join(t.TempDir(), "ledger.db")
		}, []string{"sqlite"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Defaults()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err != nil {
				t.Fatalf("Validate failed: %v", err)
			}

			deps, cleanup, err := Wire(context.Background(), &cfg, testLogger())
			if err != nil {
				t.Fatalf("Wire failed: %v", err)
			}
			defer cleanup()

			if deps.Ledger == nil || deps.SignalBus == nil || deps.Nonces == nil {
				t.Fatal("ledger, signal bus or nonce store not wired")
			}
			if deps.RateLimiter != nil || deps.AuditStore != nil || deps.Evidence != nil || deps.EvidenceSource != nil || deps.Archiver != nil {
				t.Error("optional dependency wired without configuration")
			}
			if deps.Notifier.Enabled() {
				t.Error("notifier enabled without senders")
			}
			if len(deps.Checks) != len(tt.checks) {
				t.Errorf("checks = %d, want %v", len(deps.Checks), tt.checks)
			}
			for _, name := range tt.checks {
				if err := deps.Checks[name](context.Background()); err != nil {
					t.Errorf("check %s failed: %v", name, err)
				}
			}
		})
	}
}

func TestServices_SharedLedger(t *testing.T) {
	cfg := config.Defaults()
	deps, cleanup, err := Wire(context.Background(), &cfg, testLogger())
	if err != nil {
		t.Fatalf("Wire failed: %v", err)
	}
	defer cleanup()
	svcs := NewServices(&cfg, deps, testLogger())

	ctx := context.Background()
	owner := domain.Identity("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	m, err := svcs.Markets.CreateMarket(ctx, service.CreateMarketInput{
		Owner:        owner,
		Title:        "Office darts",
		Participants: []string{"0x70997970C51812dc3A010C7d01b50e0d17dc79C8"},
		OutcomeNames: []string{"yes", "no"},
		TicketLabels: []string{"Y", "N"},
		EndDate:      time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateMarket failed: %v", err)
	}

	markets, err := svcs.Queries.ListMarkets(ctx)
	if err != nil {
		t.Fatalf("ListMarkets failed: %v", err)
	}
	if len(markets) != 1 || markets[0].ID != m.ID {
		t.Errorf("ListMarkets = %+v, want the created market", markets)
	}
}

func TestFullMode_StopsOnCancel(t *testing.T) {
	cfg := config.Defaults()
	cfg.Server.Enabled = false
	cfg.Market.SweepInterval.Duration = 10 * time.Millisecond

	a := New(&cfg, testLogger())
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("Run = %v, want context error", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
