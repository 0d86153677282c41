package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memblob "github.com/alanyoungcy/proptoken/internal/blob/memory"
	memcache "github.com/alanyoungcy/proptoken/internal/cache/memory"
	"github.com/alanyoungcy/proptoken/internal/domain"
	"github.com/alanyoungcy/proptoken/internal/platform/simnet"
	"github.com/alanyoungcy/proptoken/internal/server/handler"
	"github.com/alanyoungcy/proptoken/internal/service"
	memstore "github.com/alanyoungcy/proptoken/internal/store/memory"
)

type testEnv struct {
	srv *httptest.Server
	net *simnet.Network
	bus *memcache.SignalBus
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	props := memstore.NewPropertyStore()
	vals := memstore.NewValuationStore()
	ledgerStore := memstore.NewLedgerStore()
	txs := memstore.NewTransactionStore()
	dists := memstore.NewDistributionStore()
	audit := memstore.NewAuditStore()
	prices := memcache.NewUnitPriceCache()
	bus := memcache.NewSignalBus(100)
	blobs := memblob.New()
	net := simnet.New()
	guard := service.NewSettlementGuard(net, service.GuardConfig{}, logger)

	lifecycle := service.NewTokenizationService(props, vals, ledgerStore, txs, guard, memcache.NewLockManager(), prices, bus, audit,
		service.TokenizationConfig{LockTTL: time.Minute}, logger)
	ledger := service.NewHoldingLedger(ledgerStore, props, bus, audit, logger)
	coord := service.NewPurchaseCoordinator(lifecycle, ledger, txs, guard, prices, bus, audit, service.SettlementConfig{}, logger)
	recon := service.NewReconciler(coord, txs, guard, service.SettlementConfig{}, logger)
	engine := service.NewDistributionEngine(lifecycle, ledger, dists, bus, audit, logger).WithStatements(blobs, blobs)
	portfolio := service.NewPortfolioService(ledger, props, txs, dists, prices, service.PortfolioConfig{}, logger)

	s := NewServer(cfg, Handlers{
		Health:        handler.NewHealthHandler("sandbox", guard, logger),
		Properties:    handler.NewPropertyHandler(lifecycle, logger),
		Ledger:        handler.NewLedgerHandler(coord, recon, portfolio, logger),
		Distributions: handler.NewDistributionHandler(engine, logger),
		Events:        handler.NewEventHandler(bus, logger),
	}, nil, memcache.NewRateLimiter(), logger)

	env := &testEnv{srv: httptest.NewServer(s.Handler()), net: net, bus: bus}
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header ...string) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func terms() map[string]any {
	return map[string]any{
		"name":                   "Harbour View Apartments",
		"symbol":                 "HVA",
		"total_supply":           1000,
		"unit_price":             100,
		"declared_value":         100000,
		"minimum_investment":     500,
		"expected_yield_bps":     650,
		"lockup_days":            90,
		"distribution_frequency": "quarterly",
	}
}

// issue submits, approves and issues a property and returns its id.
func (e *testEnv) issue(t *testing.T) string {
	t.Helper()
	status, body := e.do(t, http.MethodPost, "/api/properties", map[string]any{"property_ref": "prop-1", "terms": terms()})
	require.Equal(t, http.StatusCreated, status, body)
	id := body["id"].(string)

	status, body = e.do(t, http.MethodPost, "/api/properties/"+id+"/approve", nil)
	require.Equal(t, http.StatusOK, status, body)
	status, body = e.do(t, http.MethodPost, "/api/properties/"+id+"/issue", nil)
	require.Equal(t, http.StatusOK, status, body)
	require.Equal(t, "issued", body["status"])
	return id
}

func TestServer_LifecyclePurchaseAndDistribution(t *testing.T) {
	env := newTestEnv(t, Config{})
	id := env.issue(t)

	status, body := env.do(t, http.MethodPost, "/api/purchases", map[string]any{
		"property_id": id, "buyer_id": "alice", "account": "acct-a", "units": 300,
	})
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "confirmed", body["status"])
	txID := body["id"].(string)

	status, body = env.do(t, http.MethodPost, "/api/purchases", map[string]any{
		"property_id": id, "buyer_id": "bob", "account": "acct-b", "units": 200,
	})
	require.Equal(t, http.StatusCreated, status, body)

	status, body = env.do(t, http.MethodGet, "/api/properties/"+id+"/holdings/alice", nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 300, body["units"])

	status, body = env.do(t, http.MethodGet, "/api/transactions/"+txID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, txID, body["id"])

	status, body = env.do(t, http.MethodGet, "/api/transactions?holder_id=alice", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["transactions"], 1)

	status, body = env.do(t, http.MethodPost, "/api/properties/"+id+"/distributions", map[string]any{
		"total_revenue": 10000, "kind": "rental", "description": "Q1 rent",
	})
	require.Equal(t, http.StatusCreated, status, body)
	distID := body["id"].(string)
	assert.EqualValues(t, 5000, body["distributed_amount"])
	unallocated, err := decimal.NewFromString(body["unallocated"].(string))
	require.NoError(t, err)
	assert.True(t, unallocated.Equal(decimal.NewFromInt(5000)))

	var resp *http.Response
	resp, err = http.Get(env.srv.URL + "/api/distributions/" + distID + "/statement")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var stmt domain.RevenueDistribution
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stmt))
	assert.Equal(t, distID, stmt.ID)

	status, body = env.do(t, http.MethodGet, "/api/holders/alice/portfolio", nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 30000, body["total_cost_basis"])
	assert.Len(t, body["recent_distributions"], 1)

	status, body = env.do(t, http.MethodGet, "/api/streams/entitlements?after=0", nil)
	require.Equal(t, http.StatusOK, status)
	events := body["events"].([]any)
	require.Len(t, events, 1)
	assert.Equal(t, events[0].(map[string]any)["id"], body["next_id"])

	status, body = env.do(t, http.MethodGet, "/api/properties?status=active", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["properties"], 1)

	status, body = env.do(t, http.MethodGet, "/api/properties/"+id+"/audit?limit=500", nil)
	require.Equal(t, http.StatusOK, status)
	seen := map[string]bool{}
	for _, e := range body["entries"].([]any) {
		entry := e.(map[string]any)
		assert.Equal(t, id, entry["property_id"])
		seen[entry["event"].(string)] = true
	}
	assert.True(t, seen["tokenization.submitted"])
	assert.True(t, seen["distribution.created"])
}

func TestServer_ErrorMapping(t *testing.T) {
	env := newTestEnv(t, Config{})
	id := env.issue(t)

	bad := terms()
	bad["total_supply"] = 0
	status, body := env.do(t, http.MethodPost, "/api/properties", map[string]any{"property_ref": "prop-2", "terms": bad})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_terms", body["code"])

	status, body = env.do(t, http.MethodGet, "/api/properties/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["code"])

	status, body = env.do(t, http.MethodPost, "/api/properties/"+id+"/issue", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "invalid_state_transition", body["code"])
	assert.Equal(t, "property", body["entity"])

	status, body = env.do(t, http.MethodPost, "/api/purchases", map[string]any{
		"property_id": id, "buyer_id": "alice", "account": "acct-a", "units": 1001,
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "supply_exceeded", body["code"])

	status, body = env.do(t, http.MethodPost, "/api/purchases", map[string]any{
		"property_id": id, "buyer_id": "alice", "account": "acct-a", "units": 1,
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "below_minimum_investment", body["code"])

	status, _ = env.do(t, http.MethodPost, "/api/purchases", map[string]any{"unknown": true})
	assert.Equal(t, http.StatusBadRequest, status)

	env.net.SetMode(simnet.Reject)
	status, body = env.do(t, http.MethodPost, "/api/purchases", map[string]any{
		"property_id": id, "buyer_id": "alice", "account": "acct-a", "units": 10,
	})
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "settlement_failed", body["code"])
	assert.Equal(t, true, body["retryable"])
	require.NotNil(t, body["transaction"])
	assert.Equal(t, "failed", body["transaction"].(map[string]any)["status"])

	status, _ = env.do(t, http.MethodGet, "/api/streams/unknown", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestServer_AmbiguousPurchaseAccepted(t *testing.T) {
	env := newTestEnv(t, Config{})
	id := env.issue(t)
	env.net.SetMode(simnet.Hold)

	status, body := env.do(t, http.MethodPost, "/api/purchases", map[string]any{
		"property_id": id, "buyer_id": "alice", "account": "acct-a", "units": 10,
	})
	require.Equal(t, http.StatusAccepted, status, body)
	assert.Equal(t, "pending", body["status"])
	txID := body["id"].(string)
	ref := body["network_ref"].(string)

	require.NoError(t, env.net.Settle(ref, domain.TransferConfirmed))
	status, body = env.do(t, http.MethodPost, "/api/transactions/"+txID+"/reconcile", nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "confirmed", body["status"])
}

func TestServer_Auth(t *testing.T) {
	env := newTestEnv(t, Config{APIKey: "secret"})

	status, _ := env.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = env.do(t, http.MethodGet, "/api/properties", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = env.do(t, http.MethodGet, "/api/properties", nil, "X-API-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = env.do(t, http.MethodGet, "/api/properties", nil, "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, status)
}

func TestServer_RateLimitsMutations(t *testing.T) {
	env := newTestEnv(t, Config{RateLimit: 1, RateWindow: time.Minute})

	status, _ := env.do(t, http.MethodPost, "/api/purchases", map[string]any{"units": 1})
	assert.Equal(t, http.StatusBadRequest, status)
	status, body := env.do(t, http.MethodPost, "/api/purchases", map[string]any{"units": 1})
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "rate limit exceeded", body["error"])

	for range 3 {
		status, _ = env.do(t, http.MethodGet, "/api/properties", nil)
		assert.Equal(t, http.StatusOK, status)
	}
}

func TestServer_Health(t *testing.T) {
	env := newTestEnv(t, Config{})
	status, body := env.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "sandbox", body["mode"])
	assert.Equal(t, "closed", body["settlement_breaker"])
}

func TestServer_IdempotentPurchase(t *testing.T) {
	env := newTestEnv(t, Config{IdempotencyTTL: time.Hour})
	id := env.issue(t)

	purchase := map[string]any{"property_id": id, "buyer_id": "alice", "account": "acct-a", "units": 100}
	status, first := env.do(t, http.MethodPost, "/api/purchases", purchase, "Idempotency-Key", "order-42")
	require.Equal(t, http.StatusCreated, status, first)

	status, again := env.do(t, http.MethodPost, "/api/purchases", purchase, "Idempotency-Key", "order-42")
	require.Equal(t, http.StatusCreated, status, again)
	assert.Equal(t, first["id"], again["id"])

	status, body := env.do(t, http.MethodGet, "/api/properties/"+id+"/holdings/alice", nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 100, body["units"])
}
