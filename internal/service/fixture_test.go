package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/peermarket/internal/cache/local"
	"github.com/alanyoungcy/peermarket/internal/domain"
	"github.com/alanyoungcy/peermarket/internal/ledger"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fixture wires every service over one memory ledger and local bus.
type fixture struct {
	t          *testing.T
	ctx        context.Context
	clock      *fakeClock
	ledger     *hookLedger
	bus        *local.SignalBus
	markets    *MarketService
	pools      *PoolService
	validation *ValidationService
	settlement *SettlementService
	queries    *QueryService
}

const testTimeout = 48 * time.Hour

func newFixture(t *testing.T, policy domain.PayoutPolicy) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := &hookLedger{Memory: ledger.NewMemory()}
	bus := local.NewSignalBus(1000)
	events := NewEventPublisher(bus, logger)
	retry := ledger.RetryPolicy{MaxAttempts: 200, BaseDelay: time.Microsecond, MaxDelay: time.Millisecond}
	clock := &fakeClock{now: t0}

	f := &fixture{
		t:          t,
		ctx:        context.Background(),
		clock:      clock,
		ledger:     l,
		bus:        bus,
		markets:    NewMarketService(l, events, retry, logger),
		pools:      NewPoolService(l, events, retry, logger),
		validation: NewValidationService(l, nil, events, retry, logger),
		settlement: NewSettlementService(l, nil, events, policy, testTimeout, retry, logger),
		queries:    NewQueryService(l),
	}
	events.now = clock.Now
	f.markets.now = clock.Now
	f.pools.now = clock.Now
	f.validation.now = clock.Now
	f.settlement.now = clock.Now
	return f
}

// hookLedger runs a one-shot hook before the first commit that touches a
// chosen key, interleaving another operation between a read and its write.
type hookLedger struct {
	*ledger.Memory

	mu   sync.Mutex
	key  string
	hook func()
}

// beforeCommit arms fn to run before the next commit writing key.
func (l *hookLedger) beforeCommit(key string, fn func()) {
	l.mu.Lock()
	l.key, l.hook = key, fn
	l.mu.Unlock()
}

func (l *hookLedger) Commit(ctx context.Context, writes ...domain.Write) error {
	l.mu.Lock()
	var fn func()
	for _, w := range writes {
		if l.hook != nil && w.Key == l.key {
			fn, l.hook = l.hook, nil
			break
		}
	}
	l.mu.Unlock()
	if fn != nil {
		fn()
	}
	return l.Memory.Commit(ctx, writes...)
}

func ident(n int) domain.Identity {
	id, err := domain.ParseIdentity(fmt.Sprintf("0x%040x", n))
	if err != nil {
		panic(err)
	}
	return id
}

var (
	owner = ident(100)
	p1    = ident(1)
	p2    = ident(2)
	p3    = ident(3)
)

// createMarket opens a two-outcome market among ps.
func (f *fixture) createMarket(ps ...domain.Identity) domain.Market {
	f.t.Helper()
	raw := make([]string, len(ps))
	for i, p := range ps {
		raw[i] = p.String()
	}
	m, err := f.markets.CreateMarket(f.ctx, CreateMarketInput{
		Owner:        owner,
		Title:        "Sunday league final",
		Participants: raw,
		OutcomeNames: []string{"home", "away"},
		TicketLabels: []string{"H", "A"},
		EndDate:      f.clock.Now().Add(24 * time.Hour),
	})
	if err != nil {
		f.t.Fatalf("CreateMarket failed: %v", err)
	}
	return m
}

func (f *fixture) acceptAll(marketID string, ps ...domain.Identity) {
	f.t.Helper()
	for _, p := range ps {
		if _, err := f.markets.RespondInvitation(f.ctx, marketID, p, true, false); err != nil {
			f.t.Fatalf("RespondInvitation(%s) failed: %v", p, err)
		}
	}
}

func (f *fixture) buy(marketID string, buyer domain.Identity, outcome int, amount int64) domain.Ticket {
	f.t.Helper()
	if _, err := f.pools.Deposit(f.ctx, buyer, amount); err != nil {
		f.t.Fatalf("Deposit failed: %v", err)
	}
	tk, err := f.pools.BuyTicket(f.ctx, marketID, buyer, outcome, amount)
	if err != nil {
		f.t.Fatalf("BuyTicket failed: %v", err)
	}
	return tk
}

func (f *fixture) close(marketID string) domain.Market {
	f.t.Helper()
	m, err := f.markets.CloseMarket(f.ctx, marketID, owner)
	if err != nil {
		f.t.Fatalf("CloseMarket failed: %v", err)
	}
	return m
}

func (f *fixture) submit(marketID string, p domain.Identity, outcome int) domain.Submission {
	f.t.Helper()
	sub, err := f.validation.SubmitResult(f.ctx, marketID, p, outcome, "evidence/"+p.String()+".jpg")
	if err != nil {
		f.t.Fatalf("SubmitResult failed: %v", err)
	}
	return sub
}

func (f *fixture) vote(sub domain.Submission, validator domain.Identity, verdict domain.Verdict, reason *domain.Reason) domain.Submission {
	f.t.Helper()
	out, err := f.validation.CastValidation(f.ctx, CastValidationInput{
		Validator:    validator,
		SubmissionID: sub.ID(),
		Verdict:      verdict,
		Reason:       reason,
	})
	if err != nil {
		f.t.Fatalf("CastValidation(%s) failed: %v", validator, err)
	}
	return out
}

func (f *fixture) balance(id domain.Identity) int64 {
	f.t.Helper()
	a, err := f.pools.Balance(f.ctx, id)
	if err != nil {
		f.t.Fatalf("Balance failed: %v", err)
	}
	return a.Balance
}

// events returns every event type appended to the stream so far.
func (f *fixture) events() []domain.Event {
	f.t.Helper()
	msgs, err := f.bus.StreamRead(f.ctx, domain.EventStream, "0", 10000)
	if err != nil {
		f.t.Fatalf("StreamRead failed: %v", err)
	}
	out := make([]domain.Event, 0, len(msgs))
	for _, m := range msgs {
		var ev domain.Event
		if err := json.Unmarshal(m.Payload, &ev); err != nil {
			f.t.Fatalf("decode event failed: %v", err)
		}
		out = append(out, ev)
	}
	return out
}

func countEvents(evs []domain.Event, typ domain.EventType) int {
	n := 0
	for _, ev := range evs {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func differentScore(outcome int) *domain.Reason {
	return &domain.Reason{Kind: domain.ReasonDifferentScore, CorrectedOutcome: outcome}
}
