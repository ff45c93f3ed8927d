package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"CoverLedger/internal/config"
	"CoverLedger/internal/core"
	"CoverLedger/internal/ingestion"
	"CoverLedger/internal/observability"
	"CoverLedger/internal/projection"
	"CoverLedger/internal/query"
	"CoverLedger/internal/server"
)

// newTestServer wires a real settlement core behind the API server with an
// in-process core loop. No Postgres, no NATS: endpoints backed by projections
// are not exercised here.
func newTestServer(t *testing.T) (*server.APIServer, func()) {
	t.Helper()

	persistChan := make(chan core.CoreOutput, 1024)
	projChan := make(chan core.CoreOutput, 1024)

	settlementCore, err := core.NewSettlementCore(config.DefaultEngineConfig(), 0, persistChan, projChan, nil, nil)
	if err != nil {
		t.Fatalf("NewSettlementCore failed: %v", err)
	}

	submitChan := make(chan ingestion.Submission, 16)
	readChan := make(chan func(), 16)
	done := make(chan struct{})

	// Single goroutine owning the core, mirroring the production loop.
	go func() {
		for {
			select {
			case <-done:
				return
			case sub := <-submitChan:
				sub.Result <- settlementCore.ProcessEvent(sub.Event)
			case fn := <-readChan:
				fn()
			case <-persistChan:
			case <-projChan:
			}
		}
	}()

	gateway := ingestion.NewGateway(submitChan)
	readCore := func(fn func(c *core.SettlementCore)) {
		doneRead := make(chan struct{})
		readChan <- func() {
			fn(settlementCore)
			close(doneRead)
		}
		<-doneRead
	}

	healthChecker := observability.NewHealthChecker()
	healthChecker.SetReady(true)

	srv := server.NewAPIServer(
		":0",
		gateway,
		readCore,
		query.NewQueryService(nil),
		projection.NewCoverageHistory(100),
		nil,
		healthChecker,
		nil,
		zerolog.Nop(),
	)

	return srv, func() { close(done) }
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestAddLiquidityAccepted(t *testing.T) {
	srv, stop := newTestServer(t)
	defer stop()
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/liquidity", map[string]interface{}{
		"provider_id": uuid.New().String(),
		"asset":       "USDC",
		"amount":      int64(10_000_000),
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status: got %d, want 202, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Accepted       bool   `json:"accepted"`
		IdempotencyKey string `json:"idempotency_key"`
	}
	decodeBody(t, rec, &resp)
	if !resp.Accepted {
		t.Error("expected accepted=true")
	}
	if resp.IdempotencyKey == "" {
		t.Error("expected non-empty idempotency_key")
	}
}

func TestPoolReflectsLiquidity(t *testing.T) {
	srv, stop := newTestServer(t)
	defer stop()
	h := srv.Handler()

	for i := 0; i < 3; i++ {
		rec := doJSON(t, h, http.MethodPost, "/v1/liquidity", map[string]interface{}{
			"provider_id": uuid.New().String(),
			"asset":       "USDC",
			"amount":      int64(5_000_000),
		})
		if rec.Code != http.StatusAccepted {
			t.Fatalf("deposit %d: got %d, body %s", i, rec.Code, rec.Body.String())
		}
	}

	rec := doJSON(t, h, http.MethodGet, "/v1/pool", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pool query: got %d", rec.Code)
	}

	var pool struct {
		TotalLiquidity   int64 `json:"total_liquidity"`
		IssuableCapacity int64 `json:"issuable_capacity"`
		Paused           bool  `json:"paused"`
	}
	decodeBody(t, rec, &pool)
	if pool.TotalLiquidity != 15_000_000 {
		t.Errorf("total_liquidity: got %d, want 15_000_000", pool.TotalLiquidity)
	}
	// 80% of liquidity is issuable
	if pool.IssuableCapacity != 12_000_000 {
		t.Errorf("issuable_capacity: got %d, want 12_000_000", pool.IssuableCapacity)
	}
	if pool.Paused {
		t.Error("expected unpaused pool")
	}
}

func TestPremiumQuote(t *testing.T) {
	srv, stop := newTestServer(t)
	defer stop()
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodGet, "/v1/premium/quote?amount=1000000", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("quote: got %d, body %s", rec.Code, rec.Body.String())
	}

	var quote struct {
		Amount          int64 `json:"amount"`
		Premium         int64 `json:"premium"`
		RequiredDeposit int64 `json:"required_deposit"`
		AnnualRateBP    int64 `json:"annual_rate_bp"`
	}
	decodeBody(t, rec, &quote)

	// Empty pool: base rate 2% annualized, flat 20% deposit
	if quote.AnnualRateBP != 200 {
		t.Errorf("annual_rate_bp: got %d, want 200", quote.AnnualRateBP)
	}
	if quote.Premium != 20_000 {
		t.Errorf("premium: got %d, want 20_000", quote.Premium)
	}
	if quote.RequiredDeposit != 200_000 {
		t.Errorf("required_deposit: got %d, want 200_000", quote.RequiredDeposit)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/premium/quote?amount=-5", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("negative amount: got %d, want 400", rec.Code)
	}
}

func TestCoveragePurchaseAndLookup(t *testing.T) {
	srv, stop := newTestServer(t)
	defer stop()
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/liquidity", map[string]interface{}{
		"provider_id": uuid.New().String(),
		"asset":       "USDC",
		"amount":      int64(10_000_000),
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("deposit: got %d, body %s", rec.Code, rec.Body.String())
	}

	buyerID := uuid.New()
	rec = doJSON(t, h, http.MethodPost, "/v1/coverage/purchase", map[string]interface{}{
		"buyer_id":     buyerID.String(),
		"asset":        "RLUSD",
		"pool_asset":   "USDC",
		"amount":       int64(1_000_000),
		"deposit_paid": int64(200_000),
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("purchase: got %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/coverage/"+buyerID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("coverage lookup: got %d, body %s", rec.Code, rec.Body.String())
	}

	var cov struct {
		BuyerID  string `json:"buyer_id"`
		Asset    string `json:"asset"`
		Amount   int64  `json:"amount"`
		IsActive bool   `json:"is_active"`
	}
	decodeBody(t, rec, &cov)
	if cov.BuyerID != buyerID.String() || cov.Asset != "RLUSD" || cov.Amount != 1_000_000 || !cov.IsActive {
		t.Errorf("unexpected coverage: %+v", cov)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	srv, stop := newTestServer(t)
	defer stop()
	h := srv.Handler()

	// Insufficient deposit on an empty pool is a validation failure
	rec := doJSON(t, h, http.MethodPost, "/v1/coverage/purchase", map[string]interface{}{
		"buyer_id":     uuid.New().String(),
		"asset":        "RLUSD",
		"pool_asset":   "USDC",
		"amount":       int64(1_000_000),
		"deposit_paid": int64(1),
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("insufficient deposit: got %d, want 400", rec.Code)
	}

	// Executing a withdrawal that was never requested
	rec = doJSON(t, h, http.MethodPost, "/v1/withdrawals/execute", map[string]interface{}{
		"provider_id": uuid.New().String(),
		"asset":       "USDC",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing withdrawal: got %d, want 404", rec.Code)
	}

	// Pause the engine, then mutations return 503
	rec = doJSON(t, h, http.MethodPost, "/v1/admin/pause", map[string]interface{}{"paused": true})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("pause: got %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/liquidity", map[string]interface{}{
		"provider_id": uuid.New().String(),
		"asset":       "USDC",
		"amount":      int64(1_000_000),
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("paused mutation: got %d, want 503", rec.Code)
	}

	// Malformed request bodies
	req := httptest.NewRequest(http.MethodPost, "/v1/liquidity", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed body: got %d, want 400", w.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/liquidity", map[string]interface{}{
		"provider_id": "not-a-uuid",
		"asset":       "USDC",
		"amount":      int64(1),
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad provider_id: got %d, want 400", rec.Code)
	}
}

func TestOracleSimulateAndQuery(t *testing.T) {
	srv, stop := newTestServer(t)
	defer stop()
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/oracle/simulate-depeg", map[string]interface{}{
		"asset":    "RLUSD",
		"depegged": true,
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("simulate: got %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/oracle/RLUSD", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("oracle query: got %d", rec.Code)
	}

	var oracle struct {
		Asset      string `json:"asset"`
		IsDepegged bool   `json:"is_depegged"`
		Simulated  bool   `json:"simulated"`
	}
	decodeBody(t, rec, &oracle)
	if !oracle.IsDepegged || !oracle.Simulated {
		t.Errorf("expected simulated depeg, got %+v", oracle)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/oracle/DOGE", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unsupported asset: got %d, want 404", rec.Code)
	}
}

func TestPayoutCycleOverHTTP(t *testing.T) {
	srv, stop := newTestServer(t)
	defer stop()
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/liquidity", map[string]interface{}{
		"provider_id": uuid.New().String(),
		"asset":       "USDC",
		"amount":      int64(10_000_000),
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("deposit: %d %s", rec.Code, rec.Body.String())
	}

	buyerID := uuid.New()
	rec = doJSON(t, h, http.MethodPost, "/v1/coverage/purchase", map[string]interface{}{
		"buyer_id":     buyerID.String(),
		"asset":        "RLUSD",
		"pool_asset":   "USDC",
		"amount":       int64(1_000_000),
		"deposit_paid": int64(200_000),
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("purchase: %d %s", rec.Code, rec.Body.String())
	}

	// Payout check without a depeg is rejected
	rec = doJSON(t, h, http.MethodPost, "/v1/payout/check", map[string]interface{}{"asset": "RLUSD"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("trigger without depeg: got %d, want 400, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/oracle/simulate-depeg", map[string]interface{}{
		"asset":    "RLUSD",
		"depegged": true,
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("simulate: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/payout/check", map[string]interface{}{"asset": "RLUSD"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("trigger: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/payout/state", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("payout state: got %d", rec.Code)
	}

	var payout struct {
		Active bool   `json:"active"`
		Asset  string `json:"asset"`
		Buyers int    `json:"buyers_in_cycle"`
	}
	decodeBody(t, rec, &payout)
	if !payout.Active || payout.Asset != "RLUSD" {
		t.Errorf("expected active RLUSD cycle, got %+v", payout)
	}
	if payout.Buyers != 0 {
		t.Errorf("buyers_in_cycle before any claim: got %d, want 0", payout.Buyers)
	}

	// First-phase claim before the activation delay elapses
	rec = doJSON(t, h, http.MethodPost, "/v1/payout/phase1", map[string]interface{}{
		"buyer_id":   buyerID.String(),
		"pool_asset": "USDC",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("early claim: got %d, want 409, body %s", rec.Code, rec.Body.String())
	}
}

func TestBucketsEndpoint(t *testing.T) {
	srv, stop := newTestServer(t)
	defer stop()
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/liquidity", map[string]interface{}{
		"provider_id": uuid.New().String(),
		"asset":       "USDC",
		"amount":      int64(10_000_000),
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("deposit: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/buckets", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("buckets: got %d", rec.Code)
	}

	var buckets []struct {
		ID                 string `json:"id"`
		WeightBP           int64  `json:"weight_bp"`
		AllocatedLiquidity int64  `json:"allocated_liquidity"`
	}
	decodeBody(t, rec, &buckets)
	if len(buckets) != 3 {
		t.Fatalf("expected 3 buckets, got %d", len(buckets))
	}

	var totalWeight, totalAllocated int64
	for _, b := range buckets {
		totalWeight += b.WeightBP
		totalAllocated += b.AllocatedLiquidity
	}
	if totalWeight != 10_000 {
		t.Errorf("weights sum: got %d, want 10_000", totalWeight)
	}
	if totalAllocated != 10_000_000 {
		t.Errorf("allocated sum: got %d, want 10_000_000", totalAllocated)
	}
}

func TestProviderView(t *testing.T) {
	srv, stop := newTestServer(t)
	defer stop()
	h := srv.Handler()

	providerID := uuid.New()
	rec := doJSON(t, h, http.MethodPost, "/v1/liquidity", map[string]interface{}{
		"provider_id": providerID.String(),
		"asset":       "USDC",
		"amount":      int64(7_000_000),
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("deposit: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/withdrawals/request", map[string]interface{}{
		"provider_id": providerID.String(),
		"asset":       "USDC",
		"amount":      int64(2_000_000),
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("withdrawal request: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, fmt.Sprintf("/v1/providers/%s", providerID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("provider view: got %d", rec.Code)
	}

	var provider struct {
		ProviderID        string `json:"provider_id"`
		SuppliedAmount    int64  `json:"supplied_amount"`
		PendingWithdrawal int64  `json:"pending_withdrawal"`
		UnlockTime        int64  `json:"unlock_time"`
	}
	decodeBody(t, rec, &provider)
	if provider.SuppliedAmount != 5_000_000 {
		t.Errorf("supplied_amount: got %d, want 5_000_000", provider.SuppliedAmount)
	}
	if provider.PendingWithdrawal != 2_000_000 {
		t.Errorf("pending_withdrawal: got %d, want 2_000_000", provider.PendingWithdrawal)
	}
	if provider.UnlockTime == 0 {
		t.Error("expected non-zero unlock_time")
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/providers/"+uuid.New().String(), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown provider: got %d, want 404", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv, stop := newTestServer(t)
	defer stop()
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("healthz: got %d, want 200", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/readyz", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("readyz: got %d, want 200", rec.Code)
	}
}
