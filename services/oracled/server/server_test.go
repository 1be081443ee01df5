package server

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"reefchain/native/oracle"
	"reefchain/state"
	coredb "reefchain/storage"
)

var (
	adminAddr    = [20]byte{0x01}
	recorderAddr = [20]byte{0x02}
)

const adminToken = "test-admin-token"

type serverHarness struct {
	srv     *Server
	handler http.Handler
	manager *state.Manager
	history *oracle.History
	admin   *oracle.Admin
	pair    oracle.Pair
	now     time.Time
}

func newServerHarness(t *testing.T) *serverHarness {
	t.Helper()
	manager := state.NewManager(coredb.NewMemDB())
	if err := manager.GrantRole(oracle.RoleOracleAdmin, adminAddr[:]); err != nil {
		t.Fatalf("grant admin role: %v", err)
	}
	if err := manager.GrantRole(oracle.RoleOracleRecorder, recorderAddr[:]); err != nil {
		t.Fatalf("grant recorder role: %v", err)
	}

	now := time.Unix(1_700_000_000, 0).UTC()
	clock := func() time.Time { return now }

	registry := oracle.NewRegistry(manager)
	admin := oracle.NewAdmin(manager)
	admin.SetClock(clock)
	history := oracle.NewHistory(manager)
	history.SetClock(clock)

	customAdapter := oracle.NewCustomPriceAdapter(manager)
	customAdapter.SetClock(clock)
	twapAdapter := oracle.NewTWAPAdapter(history)
	twapAdapter.SetClock(clock)
	resolver := oracle.NewResolver(manager, registry, []oracle.SourceAdapter{customAdapter, twapAdapter}, oracle.Config{})
	resolver.SetClock(clock)

	auth, err := NewAuthenticator(AuthConfig{BearerToken: adminToken})
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}
	srv, err := New(Config{
		ListenAddress: ":0",
		AdminCaller:   adminAddr,
		RateLimit:     RateLimit{RequestsPerSecond: 1000, Burst: 1000},
	}, Engine{Resolver: resolver, History: history, Registry: registry, Admin: admin}, nil, auth, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	pair, err := oracle.NewPair("REEF", "USD")
	if err != nil {
		t.Fatalf("new pair: %v", err)
	}
	return &serverHarness{
		srv:     srv,
		handler: srv.Handler(),
		manager: manager,
		history: history,
		admin:   admin,
		pair:    pair,
		now:     now,
	}
}

func (h *serverHarness) do(t *testing.T, method, target, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	h := newServerHarness(t)
	rec := h.do(t, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestPriceEndpointValidation(t *testing.T) {
	h := newServerHarness(t)
	rec := h.do(t, http.MethodGet, "/v1/price?base=REEF", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing quote, got %d", rec.Code)
	}
	rec = h.do(t, http.MethodGet, "/v1/price?base=GHOST&quote=USD", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unregistered pair, got %d", rec.Code)
	}
}

func TestAdminEndpointsRequireToken(t *testing.T) {
	h := newServerHarness(t)
	body := `{"base":"REEF","quote":"USD","source_ref":"pyth-reef","kind":"pull","priority":1}`
	rec := h.do(t, http.MethodPost, "/admin/sources/register", "", body)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	rec = h.do(t, http.MethodPost, "/admin/sources/register", "wrong-token", body)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", rec.Code)
	}
}

func TestRegisterAndListSources(t *testing.T) {
	h := newServerHarness(t)
	body := `{"base":"REEF","quote":"USD","source_ref":"custom-desk","kind":"custom","priority":2}`
	rec := h.do(t, http.MethodPost, "/admin/sources/register", adminToken, body)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("register failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = h.do(t, http.MethodGet, "/v1/sources?base=REEF&quote=USD", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list sources: %d", rec.Code)
	}
	var payload struct {
		Pair    string `json:"pair"`
		Sources []struct {
			SourceRef string `json:"source_ref"`
			Kind      string `json:"kind"`
			Active    bool   `json:"active"`
		} `json:"sources"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode sources: %v", err)
	}
	if len(payload.Sources) != 1 || payload.Sources[0].SourceRef != "custom-desk" {
		t.Fatalf("unexpected sources: %+v", payload.Sources)
	}
	if !payload.Sources[0].Active {
		t.Fatalf("expected source active")
	}
}

func TestCustomPriceRoundTrip(t *testing.T) {
	h := newServerHarness(t)
	register := `{"base":"REEF","quote":"USD","source_ref":"custom-desk","kind":"custom","priority":1}`
	if rec := h.do(t, http.MethodPost, "/admin/sources/register", adminToken, register); rec.Code != http.StatusNoContent {
		t.Fatalf("register failed: %d", rec.Code)
	}
	custom := `{"base":"REEF","quote":"USD","price":"42000000000000000000","decimals":18}`
	if rec := h.do(t, http.MethodPut, "/admin/custom-price", adminToken, custom); rec.Code != http.StatusNoContent {
		t.Fatalf("set custom price failed: %d %s", rec.Code, rec.Body.String())
	}

	rec := h.do(t, http.MethodGet, "/v1/price?base=REEF&quote=USD", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("price lookup failed: %d %s", rec.Code, rec.Body.String())
	}
	var payload observationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode price: %v", err)
	}
	if payload.Price != "42000000000000000000" || payload.Kind != "custom" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestDeactivateMissingSourceIsNoop(t *testing.T) {
	h := newServerHarness(t)
	register := `{"base":"REEF","quote":"USD","source_ref":"custom-desk","kind":"custom","priority":1}`
	if rec := h.do(t, http.MethodPost, "/admin/sources/register", adminToken, register); rec.Code != http.StatusNoContent {
		t.Fatalf("register failed: %d", rec.Code)
	}
	body := `{"base":"REEF","quote":"USD","source_ref":"never-registered"}`
	rec := h.do(t, http.MethodPost, "/admin/sources/deactivate", adminToken, body)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected no-op deactivate to succeed, got %d", rec.Code)
	}
}

func TestTwapEndpoint(t *testing.T) {
	h := newServerHarness(t)
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	if err := h.history.RecordObservation(recorderAddr, h.pair, new(big.Int).Mul(big.NewInt(100), scale)); err != nil {
		t.Fatalf("record first observation: %v", err)
	}
	later := h.now.Add(10 * time.Minute)
	h.history.SetClock(func() time.Time { return later })
	if err := h.history.RecordObservation(recorderAddr, h.pair, new(big.Int).Mul(big.NewInt(200), scale)); err != nil {
		t.Fatalf("record second observation: %v", err)
	}

	rec := h.do(t, http.MethodGet, "/v1/twap?base=REEF&quote=USD&period=600", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("twap lookup failed: %d %s", rec.Code, rec.Body.String())
	}
	var payload observationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode twap: %v", err)
	}
	if payload.Kind != "twap" {
		t.Fatalf("unexpected kind: %s", payload.Kind)
	}

	rec = h.do(t, http.MethodGet, "/v1/twap?base=REEF&quote=USD&period=0", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-positive period, got %d", rec.Code)
	}
}

func TestReadEndpointsAreRateLimited(t *testing.T) {
	h := newServerHarness(t)
	limited, err := New(h.srv.cfg, h.srv.engine, nil, h.srv.adminAuth, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	limited.limiter = newRateLimiter(RateLimit{RequestsPerSecond: 0.001, Burst: 1})
	handler := limited.Handler()

	req := httptest.NewRequest(http.MethodGet, "/v1/price?base=REEF&quote=USD", nil)
	req.RemoteAddr = "192.0.2.1:4000"
	first := httptest.NewRecorder()
	handler.ServeHTTP(first, req)
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, req.Clone(req.Context()))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on second request, got %d", second.Code)
	}
}
