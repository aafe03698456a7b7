package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/peermarket/internal/cache/local"
	"github.com/alanyoungcy/peermarket/internal/domain"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type recordingSender struct {
	mu     sync.Mutex
	titles []string
	fail   bool
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	if r.fail {
		return errors.New("boom")
	}
	return nil
}

func (r *recordingSender) Name() string { return "recording" }

func (r *recordingSender) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.titles...)
}

func TestTelegramSender_Send(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendMessage" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body failed: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.baseURL = srv.URL
	if err := s.Send(context.Background(), "Cup <final>", "a & b"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if body["chat_id"] != "42" || body["parse_mode"] != "HTML" {
		t.Errorf("body = %v", body)
	}
	if want := "<b>Cup &lt;final&gt;</b>\na &amp; b"; body["text"] != want {
		t.Errorf("text = %q, want %q", body["text"], want)
	}
}

func TestDiscordSender_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("err = %v, want status 429", err)
	}
}

func TestDiscordSender_Truncates(t *testing.T) {
	var content string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Content string `json:"content"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		content = body.Content
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := NewDiscordSender(srv.URL).Send(context.Background(), "t", strings.Repeat("x", 3000)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if n := len([]rune(content)); n != discordLimit {
		t.Errorf("content length = %d, want %d", n, discordLimit)
	}
}

func TestNotifier_FilterAndErrors(t *testing.T) {
	ok := &recordingSender{}
	bad := &recordingSender{fail: true}
	n := NewNotifier([]Sender{ok, bad}, []string{"market.settled", " "}, discardLogger())

	if err := n.Notify(context.Background(), "ticket.bought", "t", "m"); err != nil {
		t.Fatalf("filtered Notify returned %v", err)
	}
	if len(ok.got()) != 0 {
		t.Fatalf("filtered event was delivered")
	}
	err := n.Notify(context.Background(), "market.settled", "settled", "m")
	if err == nil || !strings.Contains(err.Error(), "1 sender(s) failed") {
		t.Errorf("err = %v, want one failed sender", err)
	}
	if got := ok.got(); len(got) != 1 || got[0] != "settled" {
		t.Errorf("ok sender got %v", got)
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name   string
		ev     domain.Event
		ok     bool
		title  string
		substr string
	}{
		{"invitation", domain.Event{Type: domain.EventInvitationCreated, MarketID: "m1", Payload: map[string]any{"title": "Derby"}}, true, "New market invitation", `"Derby"`},
		{"resolved undisputed", domain.Event{Type: domain.EventSubmissionResolved, Payload: map[string]any{"disputed": false}}, false, "", ""},
		{"resolved disputed", domain.Event{Type: domain.EventSubmissionResolved, Payload: map[string]any{"disputed": true, "submission_id": "m1/0xA"}}, true, "Submission disputed", "m1/0xA"},
		{"market disputed", domain.Event{Type: domain.EventMarketDisputed, MarketID: "m1", Payload: map[string]any{"reason": "resolution timeout"}}, true, "Market disputed", "resolution timeout"},
		{"settled", domain.Event{Type: domain.EventMarketSettled, MarketID: "m1", Payload: map[string]any{"total_stake": 40, "winning_stake": 10}}, true, "Market settled", "pool 40"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, msg, ok := Format(tt.ev)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if title != tt.title || !strings.Contains(msg, tt.substr) {
				t.Errorf("Format = %q / %q, want %q containing %q", title, msg, tt.title, tt.substr)
			}
		})
	}
}

func TestDispatcher_Run(t *testing.T) {
	bus := local.NewSignalBus(10)
	rec := &recordingSender{}
	d := NewDispatcher(bus, NewNotifier([]Sender{rec}, DefaultEvents, discardLogger()), discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	publish := func(ev domain.Event) {
		payload, _ := json.Marshal(ev)
		if err := bus.Publish(ctx, domain.EventChannel(ev.Type), payload); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(rec.got()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("no notification delivered")
		}
		publish(domain.Event{Type: domain.EventTicketBought, MarketID: "m1"})
		publish(domain.Event{Type: domain.EventMarketDisputed, MarketID: "m1"})
		time.Sleep(10 * time.Millisecond)
	}
	for _, title := range rec.got() {
		if title != "Market disputed" {
			t.Errorf("delivered %q, want only disputed notifications", title)
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}
}
