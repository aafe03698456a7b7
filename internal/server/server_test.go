package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alanyoungcy/peermarket/internal/cache/local"
	"github.com/alanyoungcy/peermarket/internal/crypto"
	"github.com/alanyoungcy/peermarket/internal/domain"
	"github.com/alanyoungcy/peermarket/internal/ledger"
	"github.com/alanyoungcy/peermarket/internal/server/handler"
	"github.com/alanyoungcy/peermarket/internal/server/middleware"
	"github.com/alanyoungcy/peermarket/internal/service"
)

// Well-known development keys.
const (
	ownerKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	aliceKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	bobKey   = "5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a"
)

type testServer struct {
	t       *testing.T
	srv     *httptest.Server
	signers map[string]*crypto.Signer
}

func newTestServer(t *testing.T, authEnabled bool) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := ledger.NewMemory()
	events := service.NewEventPublisher(local.NewSignalBus(100), logger)
	retry := ledger.DefaultRetryPolicy()

	signers := map[string]*crypto.Signer{}
	for name, key := range map[string]string{"owner": ownerKey, "alice": aliceKey, "bob": bobKey} {
		s, err := crypto.NewSigner(key)
		if err != nil {
			t.Fatalf("NewSigner failed: %v", err)
		}
		signers[name] = s
	}
	operator := domain.Identity(signers["owner"].Address().Hex())

	markets := service.NewMarketService(l, events, retry, logger)
	pools := service.NewPoolService(l, events, retry, logger)
	validation := service.NewValidationService(l, nil, events, retry, logger)
	settlement := service.NewSettlementService(l, nil, events, domain.PayoutWinnersTakePool, time.Hour, retry, logger)

	h := NewHandler(Config{
		Auth: middleware.AuthConfig{Enabled: authEnabled, MaxSkew: time.Minute},
	}, Handlers{
		Health:  handler.NewHealthHandler(nil, logger),
		Actions: handler.NewActionHandler(markets, pools, validation, settlement, handler.ActionConfig{RegistryRef: "reg-1", Operators: []domain.Identity{operator}}, logger),
		Queries: handler.NewQueryHandler(service.NewQueryService(l), logger),
	}, nil, logger)

	ts := &testServer{t: t, srv: httptest.NewServer(h), signers: signers}
	t.Cleanup(ts.srv.Close)
	return ts
}

func (s *testServer) addr(name string) string { return s.signers[name].Address().Hex() }

// do sends a request signed by who ("" for anonymous) and decodes the body.
func (s *testServer) do(method, path, who string, body any, out any) int {
	s.t.Helper()
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			s.t.Fatalf("marshal failed: %v", err)
		}
	}
	req, err := http.NewRequest(method, s.srv.URL+path, bytes.NewReader(raw))
	if err != nil {
		s.t.Fatalf("NewRequest failed: %v", err)
	}
	if who != "" {
		ts := time.Now().Unix()
		sig, err := s.signers[who].SignRequest(method, path, ts, raw)
		if err != nil {
			s.t.Fatalf("SignRequest failed: %v", err)
		}
		req.Header.Set(crypto.HeaderAddress, s.addr(who))
		req.Header.Set(crypto.HeaderTimestamp, strconv.FormatInt(ts, 10))
		req.Header.Set(crypto.HeaderSignature, sig)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		s.t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			s.t.Fatalf("decode %s %s failed: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (s *testServer) action(name, who string, body any, result any) int {
	s.t.Helper()
	var env struct {
		Result json.RawMessage `json:"result"`
		Code   string          `json:"code"`
	}
	status := s.do(http.MethodPost, "/api/actions/"+name, who, body, &env)
	if status == http.StatusOK && result != nil {
		if err := json.Unmarshal(env.Result, result); err != nil {
			s.t.Fatalf("decode %s result failed: %v", name, err)
		}
	}
	return status
}

func TestServer_FullMarketFlow(t *testing.T) {
	s := newTestServer(t, true)
	alice, bob := s.addr("alice"), s.addr("bob")

	var m domain.Market
	if st := s.action("create_market", "owner", map[string]any{
		"title":         "Chess club final",
		"participants":  []string{alice, bob},
		"outcome_names": []string{"alice wins", "bob wins"},
		"ticket_labels": []string{"A", "B"},
		"end_date":      time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		"registry_ref":  "reg-1",
	}, &m); st != http.StatusOK {
		t.Fatalf("create_market status = %d", st)
	}

	for _, who := range []string{"alice", "bob"} {
		if st := s.action("respond_invitation", who, map[string]any{
			"invitation_id": m.ID + "/" + s.addr(who), "accept": true,
		}, nil); st != http.StatusOK {
			t.Fatalf("respond_invitation(%s) status = %d", who, st)
		}
	}
	if st := s.action("respond_invitation", "alice", map[string]any{
		"invitation_id": m.ID + "/" + bob, "accept": false,
	}, nil); st != http.StatusForbidden {
		t.Errorf("answering another's invitation status = %d, want 403", st)
	}

	if st := s.action("deposit", "alice", map[string]any{"identity": alice, "amount": 100}, nil); st != http.StatusForbidden {
		t.Errorf("deposit by non-operator status = %d, want 403", st)
	}
	for _, id := range []string{alice, bob} {
		if st := s.action("deposit", "owner", map[string]any{"identity": id, "amount": 50}, nil); st != http.StatusOK {
			t.Fatalf("deposit status = %d", st)
		}
	}
	if st := s.action("buy_ticket", "alice", map[string]any{"pool_ref": m.ID, "outcome_index": 0, "quantity": 20}, nil); st != http.StatusOK {
		t.Fatalf("buy_ticket status = %d", st)
	}
	if st := s.action("buy_ticket", "bob", map[string]any{"pool_ref": m.ID, "outcome_index": 1, "quantity": 60}, nil); st != http.StatusPaymentRequired {
		t.Errorf("overspend status = %d, want 402", st)
	}
	if st := s.action("buy_ticket", "bob", map[string]any{"pool_ref": m.ID, "outcome_index": 1, "quantity": 30}, nil); st != http.StatusOK {
		t.Fatalf("buy_ticket status = %d", st)
	}

	var detail service.MarketDetail
	if st := s.do(http.MethodGet, "/api/markets/"+m.ID, "", nil, &detail); st != http.StatusOK {
		t.Fatalf("market detail status = %d", st)
	}
	if detail.Total != 50 || detail.Chances[0] != "0.4000" {
		t.Errorf("detail = %+v", detail)
	}

	if st := s.action("finish_market", "alice", map[string]any{"market_ref": m.ID}, nil); st != http.StatusForbidden {
		t.Errorf("finish by participant status = %d, want 403", st)
	}
	if st := s.action("finish_market", "owner", map[string]any{"market_ref": m.ID}, nil); st != http.StatusOK {
		t.Fatalf("finish_market status = %d", st)
	}

	var sub domain.Submission
	if st := s.action("create_validation", "alice", map[string]any{
		"market_ref": m.ID, "claimed_outcome": 0, "evidence_ref": "evidence/board.png",
	}, &sub); st != http.StatusOK {
		t.Fatalf("create_validation status = %d", st)
	}
	if st := s.action("respond_validation", "alice", map[string]any{
		"submission_id": sub.ID(), "verdict": "valid",
	}, nil); st != http.StatusForbidden {
		t.Errorf("self validation status = %d, want 403", st)
	}
	if st := s.action("respond_validation", "bob", map[string]any{
		"submission_id": sub.ID(), "verdict": "valid", "registry_ref": "reg-1",
	}, &sub); st != http.StatusOK {
		t.Fatalf("respond_validation status = %d", st)
	}
	if sub.Resolution == nil || sub.Resolution.Outcome != 0 {
		t.Fatalf("resolution = %+v, want outcome 0", sub.Resolution)
	}

	var res service.SettleResult
	if st := s.action("distribute_reward_or_stay_same", "bob", map[string]any{"market_ref": m.ID}, &res); st != http.StatusOK {
		t.Fatalf("distribute status = %d", st)
	}
	if !res.Settled {
		t.Fatalf("distribute result = %+v, want settled", res)
	}
	if st := s.action("distribute_reward_or_stay_same", "bob", map[string]any{"market_ref": m.ID}, nil); st != http.StatusConflict {
		t.Errorf("second distribute status = %d, want 409", st)
	}

	var acct domain.Account
	s.do(http.MethodGet, "/api/accounts/"+alice, "", nil, &acct)
	if acct.Balance != 80 {
		t.Errorf("alice balance = %d, want 30 left + 50 won", acct.Balance)
	}

	var listing struct {
		Total int `json:"total"`
	}
	s.do(http.MethodGet, "/api/markets?active=true", "", nil, &listing)
	if listing.Total != 0 {
		t.Errorf("active markets = %d, want settled market filtered", listing.Total)
	}
	s.do(http.MethodGet, "/api/markets", "", nil, &listing)
	if listing.Total != 1 {
		t.Errorf("all markets = %d, want 1", listing.Total)
	}
}

func TestServer_AuthRejections(t *testing.T) {
	s := newTestServer(t, true)

	if st := s.action("finish_market", "", map[string]any{"market_ref": "x"}, nil); st != http.StatusUnauthorized {
		t.Errorf("anonymous action status = %d, want 401", st)
	}

	body := []byte(`{"market_ref":"x"}`)
	ts := time.Now().Unix()
	sig, _ := s.signers["alice"].SignRequest(http.MethodPost, "/api/actions/finish_market", ts, body)

	tests := []struct {
		name    string
		address string
		ts      int64
		sig     string
	}{
		{"foreign signature", s.addr("bob"), ts, sig},
		{"stale timestamp", s.addr("alice"), ts - 3600, sig},
		{"missing signature", s.addr("alice"), ts, ""},
		{"malformed address", "alice", ts, sig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodPost, s.srv.URL+"/api/actions/finish_market", bytes.NewReader(body))
			req.Header.Set(crypto.HeaderAddress, tt.address)
			req.Header.Set(crypto.HeaderTimestamp, strconv.FormatInt(tt.ts, 10))
			req.Header.Set(crypto.HeaderSignature, tt.sig)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", resp.StatusCode)
			}
		})
	}
}

func TestServer_DevModeTrustsAddress(t *testing.T) {
	s := newTestServer(t, false)
	req, _ := http.NewRequest(http.MethodPost, s.srv.URL+"/api/actions/finish_market", bytes.NewReader([]byte(`{"market_ref":"missing"}`)))
	req.Header.Set(crypto.HeaderAddress, s.addr("alice"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for unknown market", resp.StatusCode)
	}
}

func TestServer_Errors(t *testing.T) {
	s := newTestServer(t, true)

	var e struct{ Code string }
	if st := s.do(http.MethodPost, "/api/actions/launch_rocket", "alice", nil, &e); st != http.StatusNotFound || e.Code != "unknown_action" {
		t.Errorf("unknown action = %d %q", st, e.Code)
	}
	if st := s.action("create_market", "owner", map[string]any{"registry_ref": "other"}, nil); st != http.StatusBadRequest {
		t.Errorf("registry mismatch status = %d, want 400", st)
	}
	if st := s.do(http.MethodGet, "/api/accounts/not-an-address", "", nil, &e); st != http.StatusBadRequest {
		t.Errorf("bad identity status = %d, want 400", st)
	}
	if st := s.do(http.MethodGet, "/api/markets/nope/settlement", "", nil, &e); st != http.StatusNotFound {
		t.Errorf("missing settlement status = %d, want 404", st)
	}
	var health map[string]any
	if st := s.do(http.MethodGet, "/api/health", "", nil, &health); st != http.StatusOK || health["status"] != "ok" {
		t.Errorf("health = %d %v", st, health)
	}
}
