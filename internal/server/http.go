package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"CoverLedger/internal/core"
	"CoverLedger/internal/event"
	"CoverLedger/internal/ingestion"
	fpmath "CoverLedger/internal/math"
	"CoverLedger/internal/observability"
	"CoverLedger/internal/projection"
	"CoverLedger/internal/query"
)

// CoreReader runs fn on the core loop goroutine and blocks until it
// completes. The core is single-threaded: handlers must never touch its
// state directly.
type CoreReader func(fn func(c *core.SettlementCore))

// APIServer is the HTTP/JSON surface. Mutations go through the ingestion
// gateway into the core loop; queries read either the in-memory core (pool
// state, quotes) or the Postgres projections (history, balances).
type APIServer struct {
	router        *mux.Router
	httpServer    *http.Server
	addr          string
	gateway       *ingestion.Gateway
	readCore      CoreReader
	queryService  *query.QueryService
	history       *projection.CoverageHistory
	db            *sql.DB
	healthChecker *observability.HealthChecker
	metrics       *observability.Metrics
	logger        zerolog.Logger
}

func NewAPIServer(
	addr string,
	gateway *ingestion.Gateway,
	readCore CoreReader,
	queryService *query.QueryService,
	history *projection.CoverageHistory,
	db *sql.DB,
	healthChecker *observability.HealthChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *APIServer {
	s := &APIServer{
		router:        mux.NewRouter(),
		addr:          addr,
		gateway:       gateway,
		readCore:      readCore,
		queryService:  queryService,
		history:       history,
		db:            db,
		healthChecker: healthChecker,
		metrics:       metrics,
		logger:        logger,
	}
	s.registerRoutes()
	return s
}

func (s *APIServer) registerRoutes() {
	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.Use(s.instrument)

	// Mutations
	v1.HandleFunc("/liquidity", s.handleAddLiquidity).Methods(http.MethodPost)
	v1.HandleFunc("/withdrawals/request", s.handleRequestWithdrawal).Methods(http.MethodPost)
	v1.HandleFunc("/withdrawals/execute", s.handleExecuteWithdrawal).Methods(http.MethodPost)
	v1.HandleFunc("/coverage/purchase", s.handlePurchaseCoverage).Methods(http.MethodPost)
	v1.HandleFunc("/coverage/expire", s.handleExpireCoverage).Methods(http.MethodPost)
	v1.HandleFunc("/payout/check", s.handlePayoutCheck).Methods(http.MethodPost)
	v1.HandleFunc("/payout/phase1", s.handleFirstPhaseClaim).Methods(http.MethodPost)
	v1.HandleFunc("/payout/phase2", s.handleSecondPhaseClaim).Methods(http.MethodPost)
	v1.HandleFunc("/payout/reset", s.handlePayoutReset).Methods(http.MethodPost)
	v1.HandleFunc("/oracle/simulate-depeg", s.handleSimulateDepeg).Methods(http.MethodPost)
	v1.HandleFunc("/admin/pause", s.handleSetPause).Methods(http.MethodPost)
	v1.HandleFunc("/admin/rebuild-projections", s.handleRebuildProjections).Methods(http.MethodPost)

	// Queries
	v1.HandleFunc("/pool", s.handleGetPool).Methods(http.MethodGet)
	v1.HandleFunc("/buckets", s.handleGetBuckets).Methods(http.MethodGet)
	v1.HandleFunc("/buckets/{id}", s.handleGetBucket).Methods(http.MethodGet)
	v1.HandleFunc("/premium/quote", s.handlePremiumQuote).Methods(http.MethodGet)
	v1.HandleFunc("/coverage/{buyer_id}", s.handleGetCoverage).Methods(http.MethodGet)
	v1.HandleFunc("/coverage/{buyer_id}/history", s.handleGetCoverageHistory).Methods(http.MethodGet)
	v1.HandleFunc("/providers/{provider_id}", s.handleGetProvider).Methods(http.MethodGet)
	v1.HandleFunc("/providers/{provider_id}/balance", s.handleGetProviderBalance).Methods(http.MethodGet)
	v1.HandleFunc("/payout/state", s.handleGetPayoutState).Methods(http.MethodGet)
	v1.HandleFunc("/oracle/{asset}", s.handleGetOracle).Methods(http.MethodGet)
	v1.HandleFunc("/journal/{role}/{id}", s.handleGetJournalHistory).Methods(http.MethodGet)
	v1.HandleFunc("/admin/integrity", s.handleVerifyIntegrity).Methods(http.MethodGet)

	// Ops endpoints
	s.router.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
	s.router.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	s.router.Handle("/metrics", promhttp.Handler())
}

// Handler exposes the router for tests.
func (s *APIServer) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server until ctx is cancelled (blocking).
func (s *APIServer) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// ============================================================================
// Mutation handlers
// ============================================================================

type addLiquidityRequest struct {
	ProviderID    string  `json:"provider_id"`
	Asset         string  `json:"asset"`
	Amount        int64   `json:"amount"`
	AllocationsBP []int64 `json:"allocations_bp,omitempty"`
}

func (s *APIServer) handleAddLiquidity(w http.ResponseWriter, r *http.Request) {
	var req addLiquidityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	providerID, err := uuid.Parse(req.ProviderID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid provider_id")
		return
	}

	evt := &event.LiquidityAdded{
		EventID:       uuid.New(),
		ProviderID:    providerID,
		Asset:         req.Asset,
		Amount:        req.Amount,
		AllocationsBP: req.AllocationsBP,
		Timestamp:     time.Now(),
	}
	evt.Sequence = s.gateway.NextSequence(core.PartitionForEvent(evt))

	s.submitAndRespond(w, r, evt)
}

type withdrawalRequest struct {
	ProviderID string `json:"provider_id"`
	Asset      string `json:"asset"`
	Amount     int64  `json:"amount"`
}

func (s *APIServer) handleRequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req withdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	providerID, err := uuid.Parse(req.ProviderID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid provider_id")
		return
	}

	evt := &event.WithdrawalRequested{
		EventID:    uuid.New(),
		ProviderID: providerID,
		Asset:      req.Asset,
		Amount:     req.Amount,
		Timestamp:  time.Now(),
	}
	evt.Sequence = s.gateway.NextSequence(core.PartitionForEvent(evt))

	s.submitAndRespond(w, r, evt)
}

func (s *APIServer) handleExecuteWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req withdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	providerID, err := uuid.Parse(req.ProviderID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid provider_id")
		return
	}

	evt := &event.WithdrawalExecuted{
		EventID:    uuid.New(),
		ProviderID: providerID,
		Asset:      req.Asset,
		Timestamp:  time.Now(),
	}
	evt.Sequence = s.gateway.NextSequence(core.PartitionForEvent(evt))

	s.submitAndRespond(w, r, evt)
}

type purchaseCoverageRequest struct {
	BuyerID     string `json:"buyer_id"`
	Asset       string `json:"asset"`
	PoolAsset   string `json:"pool_asset"`
	Amount      int64  `json:"amount"`
	DepositPaid int64  `json:"deposit_paid"`
}

func (s *APIServer) handlePurchaseCoverage(w http.ResponseWriter, r *http.Request) {
	var req purchaseCoverageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	buyerID, err := uuid.Parse(req.BuyerID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid buyer_id")
		return
	}

	evt := &event.CoveragePurchased{
		EventID:     uuid.New(),
		BuyerID:     buyerID,
		Asset:       req.Asset,
		PoolAsset:   req.PoolAsset,
		Amount:      req.Amount,
		DepositPaid: req.DepositPaid,
		Timestamp:   time.Now(),
	}
	evt.Sequence = s.gateway.NextSequence(core.PartitionForEvent(evt))

	s.submitAndRespond(w, r, evt)
}

type buyerActionRequest struct {
	BuyerID   string `json:"buyer_id"`
	PoolAsset string `json:"pool_asset"`
}

func (s *APIServer) handleExpireCoverage(w http.ResponseWriter, r *http.Request) {
	var req buyerActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	buyerID, err := uuid.Parse(req.BuyerID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid buyer_id")
		return
	}

	evt := &event.CoverageExpired{
		EventID:   uuid.New(),
		BuyerID:   buyerID,
		PoolAsset: req.PoolAsset,
		Timestamp: time.Now(),
	}
	evt.Sequence = s.gateway.NextSequence(core.PartitionForEvent(evt))

	s.submitAndRespond(w, r, evt)
}

type payoutCheckRequest struct {
	Asset string `json:"asset"`
}

func (s *APIServer) handlePayoutCheck(w http.ResponseWriter, r *http.Request) {
	var req payoutCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	evt := &event.PayoutTriggerCheck{
		EventID:   uuid.New(),
		Asset:     req.Asset,
		Timestamp: time.Now(),
	}
	evt.Sequence = s.gateway.NextSequence(core.PartitionForEvent(evt))

	s.submitAndRespond(w, r, evt)
}

func (s *APIServer) handleFirstPhaseClaim(w http.ResponseWriter, r *http.Request) {
	var req buyerActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	buyerID, err := uuid.Parse(req.BuyerID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid buyer_id")
		return
	}

	evt := &event.FirstPhaseClaim{
		EventID:   uuid.New(),
		BuyerID:   buyerID,
		PoolAsset: req.PoolAsset,
		Timestamp: time.Now(),
	}
	evt.Sequence = s.gateway.NextSequence(core.PartitionForEvent(evt))

	s.submitAndRespond(w, r, evt)
}

func (s *APIServer) handleSecondPhaseClaim(w http.ResponseWriter, r *http.Request) {
	var req buyerActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	buyerID, err := uuid.Parse(req.BuyerID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid buyer_id")
		return
	}

	evt := &event.SecondPhaseClaim{
		EventID:   uuid.New(),
		BuyerID:   buyerID,
		PoolAsset: req.PoolAsset,
		Timestamp: time.Now(),
	}
	evt.Sequence = s.gateway.NextSequence(core.PartitionForEvent(evt))

	s.submitAndRespond(w, r, evt)
}

type payoutResetRequest struct {
	Force bool `json:"force"`
}

func (s *APIServer) handlePayoutReset(w http.ResponseWriter, r *http.Request) {
	var req payoutResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	evt := &event.PayoutCycleReset{
		EventID:   uuid.New(),
		Force:     req.Force,
		Timestamp: time.Now(),
	}
	evt.Sequence = s.gateway.NextSequence(core.PartitionForEvent(evt))

	s.submitAndRespond(w, r, evt)
}

type simulateDepegRequest struct {
	Asset    string `json:"asset"`
	Depegged bool   `json:"depegged"`
}

// handleSimulateDepeg injects a simulated oracle observation. Demo/testing
// surface: it goes through the same dedup and ordering path as real feeds.
func (s *APIServer) handleSimulateDepeg(w http.ResponseWriter, r *http.Request) {
	var req simulateDepegRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Asset == "" {
		writeError(w, http.StatusBadRequest, "asset is required")
		return
	}

	evt := &event.DepegStatusUpdate{
		Asset:     req.Asset,
		Depegged:  req.Depegged,
		Simulated: true,
		Timestamp: time.Now(),
	}
	evt.OracleSequence = s.gateway.NextSequence(core.PartitionForEvent(evt))

	s.submitAndRespond(w, r, evt)
}

type setPauseRequest struct {
	Paused bool `json:"paused"`
}

func (s *APIServer) handleSetPause(w http.ResponseWriter, r *http.Request) {
	var req setPauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	evt := &event.PauseSet{
		EventID:   uuid.New(),
		Paused:    req.Paused,
		Timestamp: time.Now(),
	}
	evt.Sequence = s.gateway.NextSequence(core.PartitionForEvent(evt))

	s.submitAndRespond(w, r, evt)
}

func (s *APIServer) handleRebuildProjections(w http.ResponseWriter, r *http.Request) {
	if err := projection.RebuildProjections(r.Context(), s.db); err != nil {
		s.logger.Error().Err(err).Msg("projection rebuild failed")
		writeError(w, http.StatusInternalServerError, "rebuild failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"rebuilt": true})
}

// ============================================================================
// Query handlers
// ============================================================================

type poolResponse struct {
	PoolAsset            string `json:"pool_asset"`
	TotalLiquidity       int64  `json:"total_liquidity"`
	TotalSecurityDeposit int64  `json:"total_security_deposits"`
	ActiveCoverage       int64  `json:"active_coverage"`
	IssuableCapacity     int64  `json:"issuable_capacity"`
	Paused               bool   `json:"paused"`
	AsOfSequence         int64  `json:"as_of_sequence"`
}

func (s *APIServer) handleGetPool(w http.ResponseWriter, r *http.Request) {
	var resp poolResponse
	s.readCore(func(c *core.SettlementCore) {
		resp = poolResponse{
			TotalLiquidity:       c.TotalLiquidity(),
			TotalSecurityDeposit: c.TotalSecurityDeposits(),
			ActiveCoverage:       c.TotalActiveCoverage(),
			IssuableCapacity:     c.IssuableCapacity(),
			Paused:               c.Paused(),
			AsOfSequence:         c.GetSequence() - 1,
		}
	})
	writeJSON(w, http.StatusOK, resp)
}

type bucketResponse struct {
	ID                 string `json:"id"`
	WeightBP           int64  `json:"weight_bp"`
	AllocatedLiquidity int64  `json:"allocated_liquidity"`
	ActiveCoverage     int64  `json:"active_coverage"`
	UtilizationBP      int64  `json:"utilization_bp"`
	ProviderAPYBP      int64  `json:"provider_apy_bp"`
}

func (s *APIServer) handleGetBuckets(w http.ResponseWriter, r *http.Request) {
	var resp []bucketResponse
	s.readCore(func(c *core.SettlementCore) {
		for _, b := range c.Buckets() {
			utilization := fpmath.UtilizationBP(b.ActiveCoverage, b.AllocatedLiquidity)
			resp = append(resp, bucketResponse{
				ID:                 b.ID,
				WeightBP:           b.WeightBP,
				AllocatedLiquidity: b.AllocatedLiquidity,
				ActiveCoverage:     b.ActiveCoverage,
				UtilizationBP:      utilization,
				ProviderAPYBP:      fpmath.ProviderAPYBP(utilization),
			})
		}
	})
	writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) handleGetBucket(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var resp *bucketResponse
	s.readCore(func(c *core.SettlementCore) {
		b := c.GetBucket(id)
		if b == nil {
			return
		}
		utilization := fpmath.UtilizationBP(b.ActiveCoverage, b.AllocatedLiquidity)
		resp = &bucketResponse{
			ID:                 b.ID,
			WeightBP:           b.WeightBP,
			AllocatedLiquidity: b.AllocatedLiquidity,
			ActiveCoverage:     b.ActiveCoverage,
			UtilizationBP:      utilization,
			ProviderAPYBP:      fpmath.ProviderAPYBP(utilization),
		}
	})

	if resp == nil {
		writeError(w, http.StatusNotFound, "unknown bucket")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type premiumQuoteResponse struct {
	Amount          int64 `json:"amount"`
	Premium         int64 `json:"premium"`
	RequiredDeposit int64 `json:"required_deposit"`
	AnnualRateBP    int64 `json:"annual_rate_bp"`
}

func (s *APIServer) handlePremiumQuote(w http.ResponseWriter, r *http.Request) {
	amount, err := strconv.ParseInt(r.URL.Query().Get("amount"), 10, 64)
	if err != nil || amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be a positive integer")
		return
	}

	var resp premiumQuoteResponse
	s.readCore(func(c *core.SettlementCore) {
		premium, deposit, rateBP := c.PremiumQuote(amount)
		resp = premiumQuoteResponse{
			Amount:          amount,
			Premium:         premium,
			RequiredDeposit: deposit,
			AnnualRateBP:    rateBP,
		}
	})
	writeJSON(w, http.StatusOK, resp)
}

type coverageResponse struct {
	BuyerID         string `json:"buyer_id"`
	Asset           string `json:"asset"`
	Amount          int64  `json:"amount"`
	SecurityDeposit int64  `json:"security_deposit"`
	PremiumPaid     int64  `json:"premium_paid"`
	PaidOut         int64  `json:"paid_out"`
	IsActive        bool   `json:"is_active"`
	PurchasedAt     int64  `json:"purchased_at"`
}

func (s *APIServer) handleGetCoverage(w http.ResponseWriter, r *http.Request) {
	buyerID, err := uuid.Parse(mux.Vars(r)["buyer_id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid buyer_id")
		return
	}

	var resp *coverageResponse
	s.readCore(func(c *core.SettlementCore) {
		cov := c.GetCoverage(buyerID)
		if cov == nil {
			return
		}
		resp = &coverageResponse{
			BuyerID:         cov.BuyerID.String(),
			Asset:           cov.Asset,
			Amount:          cov.Amount,
			SecurityDeposit: cov.SecurityDeposit,
			PremiumPaid:     cov.PremiumPaid,
			PaidOut:         cov.PaidOut,
			IsActive:        cov.IsActive,
			PurchasedAt:     cov.PurchaseTime,
		}
	})

	if resp == nil {
		// Coverage may have been closed: serve the projection row so
		// callers can still see paid_out and final state.
		proj, err := s.queryService.GetCoverage(r.Context(), buyerID)
		if err != nil {
			s.logger.Error().Err(err).Msg("coverage projection query failed")
			writeError(w, http.StatusInternalServerError, "query failed")
			return
		}
		if proj == nil {
			writeError(w, http.StatusNotFound, "no coverage for buyer")
			return
		}
		writeJSON(w, http.StatusOK, coverageResponse{
			BuyerID:         proj.BuyerID.String(),
			Asset:           proj.CoveredAsset,
			Amount:          proj.Amount,
			SecurityDeposit: proj.SecurityDeposit,
			PremiumPaid:     proj.PremiumPaid,
			PaidOut:         proj.PaidOut,
			IsActive:        proj.IsActive,
			PurchasedAt:     proj.PurchasedAt,
		})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetCoverageHistory serves the in-memory coverage lifecycle history
// maintained by the projection worker.
func (s *APIServer) handleGetCoverageHistory(w http.ResponseWriter, r *http.Request) {
	buyerID, err := uuid.Parse(mux.Vars(r)["buyer_id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid buyer_id")
		return
	}

	limit := 50
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 500 {
		limit = l
	}

	entries := []projection.CoverageHistoryEntry{}
	if s.history != nil {
		if got := s.history.QueryByBuyer(buyerID, limit); got != nil {
			entries = got
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"buyer_id": buyerID.String(),
		"entries":  entries,
	})
}

// handleGetProviderBalance serves the projection-backed view of a provider's
// ledger balances, including as_of_sequence freshness.
func (s *APIServer) handleGetProviderBalance(w http.ResponseWriter, r *http.Request) {
	providerID, err := uuid.Parse(mux.Vars(r)["provider_id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid provider_id")
		return
	}

	asset := r.URL.Query().Get("asset")
	if asset == "" {
		asset = "USDC"
	}

	bal, err := s.queryService.GetProviderBalance(r.Context(), providerID, asset)
	if err != nil {
		s.logger.Error().Err(err).Msg("provider balance query failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

type providerResponse struct {
	ProviderID        string `json:"provider_id"`
	SuppliedAmount    int64  `json:"supplied_amount"`
	PendingWithdrawal int64  `json:"pending_withdrawal"`
	UnlockTime        int64  `json:"unlock_time,omitempty"`
	JoinedAt          int64  `json:"joined_at"`
}

func (s *APIServer) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	providerID, err := uuid.Parse(mux.Vars(r)["provider_id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid provider_id")
		return
	}

	var resp *providerResponse
	s.readCore(func(c *core.SettlementCore) {
		pos := c.ProviderView(providerID)
		if pos == nil {
			return
		}
		resp = &providerResponse{
			ProviderID:     pos.ProviderID.String(),
			SuppliedAmount: pos.SuppliedAmount,
			JoinedAt:       pos.JoinedAt,
		}
		if wr := c.PendingWithdrawal(providerID); wr != nil {
			resp.PendingWithdrawal = wr.Amount
			resp.UnlockTime = wr.UnlockTime
		}
	})

	if resp == nil {
		writeError(w, http.StatusNotFound, "unknown provider")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type payoutStateResponse struct {
	Active      bool   `json:"active"`
	Asset       string `json:"asset,omitempty"`
	TriggerTime int64  `json:"trigger_time,omitempty"`
	Buyers      int    `json:"buyers_in_cycle"`
}

func (s *APIServer) handleGetPayoutState(w http.ResponseWriter, r *http.Request) {
	// ?projected=true serves the Postgres projection (with freshness
	// metadata) instead of the live core view.
	if r.URL.Query().Get("projected") == "true" {
		proj, err := s.queryService.GetPayoutState(r.Context())
		if err != nil {
			s.logger.Error().Err(err).Msg("payout state projection query failed")
			writeError(w, http.StatusInternalServerError, "query failed")
			return
		}
		writeJSON(w, http.StatusOK, proj)
		return
	}

	var resp payoutStateResponse
	s.readCore(func(c *core.SettlementCore) {
		snap := c.PayoutState()
		resp = payoutStateResponse{
			Active:      snap.Active,
			Asset:       snap.Asset,
			TriggerTime: snap.TriggerTime,
			Buyers:      len(snap.Phases),
		}
	})
	writeJSON(w, http.StatusOK, resp)
}

type oracleResponse struct {
	Asset       string `json:"asset"`
	IsSupported bool   `json:"is_supported"`
	IsDepegged  bool   `json:"is_depegged"`
	UpdatedAt   int64  `json:"updated_at"`
	Simulated   bool   `json:"simulated"`
}

func (s *APIServer) handleGetOracle(w http.ResponseWriter, r *http.Request) {
	asset := mux.Vars(r)["asset"]

	var resp oracleResponse
	s.readCore(func(c *core.SettlementCore) {
		st := c.OracleView(asset)
		resp = oracleResponse{
			Asset:       st.Asset,
			IsSupported: st.IsSupported,
			IsDepegged:  st.IsDepegged,
			UpdatedAt:   st.UpdatedAt,
			Simulated:   st.Simulated,
		}
	})

	if !resp.IsSupported {
		writeError(w, http.StatusNotFound, "asset not supported")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) handleGetJournalHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	role := vars["role"]
	if role != "provider" && role != "buyer" {
		writeError(w, http.StatusBadRequest, "role must be provider or buyer")
		return
	}

	participantID, err := uuid.Parse(vars["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid participant id")
		return
	}

	limit := 100
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 500 {
		limit = l
	}

	var afterSeq *int64
	if a, err := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64); err == nil && a > 0 {
		afterSeq = &a
	}

	entries, err := s.queryService.GetJournalHistory(r.Context(), role, participantID, limit, afterSeq)
	if err != nil {
		s.logger.Error().Err(err).Msg("journal history query failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
	})
}

func (s *APIServer) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.queryService.VerifyIntegrity(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("integrity check failed")
		writeError(w, http.StatusInternalServerError, "integrity check failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ============================================================================
// Helpers
// ============================================================================

func (s *APIServer) submitAndRespond(w http.ResponseWriter, r *http.Request, evt event.Event) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := s.gateway.Submit(ctx, evt); err != nil {
		status := statusForCoreError(err)
		s.logger.Debug().
			Err(err).
			Str("event_type", evt.EventType().String()).
			Int("status", status).
			Msg("event rejected")
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"accepted":        true,
		"idempotency_key": evt.IdempotencyKey(),
	})
}

// statusForCoreError maps core rejection reasons to HTTP status codes.
// The core's error strings are a stable contract.
func statusForCoreError(err error) int {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "paused"):
		return http.StatusServiceUnavailable
	case strings.Contains(msg, "no pending withdrawal"),
		strings.Contains(msg, "no active coverage"),
		strings.Contains(msg, "no active payout cycle"),
		strings.Contains(msg, "unknown asset"):
		return http.StatusNotFound
	case strings.Contains(msg, "already active"),
		strings.Contains(msg, "already pending"),
		strings.Contains(msg, "already claimed"),
		strings.Contains(msg, "payout cycle active"),
		strings.Contains(msg, "still active"),
		strings.Contains(msg, "withdrawal locked"),
		strings.Contains(msg, "cooldown not elapsed"),
		strings.Contains(msg, "first phase not claimed"),
		strings.Contains(msg, "would breach coverage backing"),
		strings.Contains(msg, "no payout available"),
		strings.Contains(msg, "insufficient supplied liquidity"):
		return http.StatusConflict
	case strings.Contains(msg, "sequence gap"),
		strings.Contains(msg, "out-of-order"):
		return http.StatusConflict
	default:
		// Validation failures: bad amounts, unsupported assets,
		// insufficient deposit, coverage cap
		return http.StatusBadRequest
	}
}

func (s *APIServer) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if s.metrics != nil {
			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}
			s.metrics.QueryRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
			s.metrics.QueryDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
			if rec.status >= 500 {
				s.metrics.QueryErrors.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
			}
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
