package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"CoverLedger/internal/config"
	"CoverLedger/internal/event"
	"CoverLedger/internal/ledger"
	fpmath "CoverLedger/internal/math"
	"CoverLedger/internal/observability"
	"CoverLedger/internal/state"

	"github.com/google/uuid"
)

// SettlementCore is the single-threaded event processor. It owns every pool
// mutation: liquidity, coverage, the withdrawal queue, the payout cycle and
// the oracle view. One goroutine drives ProcessEvent; everything else reads
// through projections.
type SettlementCore struct {
	sequence          int64
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	journalGen        *ledger.JournalGenerator
	validator         *ledger.InvariantValidator
	buckets           *state.BucketManager
	providers         *state.ProviderBook
	coverages         *state.CoverageRegistry
	withdrawals       *state.WithdrawalQueue
	payout            *state.PayoutMachine
	oracle            *state.OracleState
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	poolAsset   string
	poolAssetID ledger.AssetID
	paused      bool

	withdrawalDelayMicros int64

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is one committed transition: the envelope for the event log,
// the journal batch, and the JSON fact published downstream.
type CoreOutput struct {
	Envelope *event.EventEnvelope
	Batch    *ledger.Batch
	Fact     []byte
	// Source is the typed event that produced this output. The persistence
	// bridge serializes it so the event log stays replayable.
	Source event.Event
}

func NewSettlementCore(
	cfg config.EngineConfig,
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) (*SettlementCore, error) {
	poolAssetID, ok := ledger.GetAssetID(cfg.PoolAsset)
	if !ok {
		return nil, fmt.Errorf("unknown pool asset: %s", cfg.PoolAsset)
	}

	buckets, err := state.NewBucketManager(cfg.BucketIDs(), cfg.BucketWeightsBP())
	if err != nil {
		return nil, fmt.Errorf("bucket config: %w", err)
	}

	balanceTracker := ledger.NewBalanceTracker()
	validator := ledger.NewInvariantValidator(balanceTracker)
	journalGen := ledger.NewJournalGenerator(startSequence, balanceTracker)

	// Capacity of 1M dedup entries (configurable)
	idempotencyChecker := NewIdempotencyChecker(1_000_000, dbChecker)
	sequenceValidator := NewSequenceValidator()

	return &SettlementCore{
		sequence:              startSequence,
		hasher:                NewStateHasher(),
		balanceTracker:        balanceTracker,
		journalGen:            journalGen,
		validator:             validator,
		buckets:               buckets,
		providers:             state.NewProviderBook(),
		coverages:             state.NewCoverageRegistry(),
		withdrawals:           state.NewWithdrawalQueue(),
		payout:                state.NewPayoutMachine(cfg.FirstPhaseDelay.Microseconds(), cfg.SecondPhaseDelay.Microseconds()),
		oracle:                state.NewOracleState(cfg.CoveredAssets),
		idempotency:           idempotencyChecker,
		sequenceValidator:     sequenceValidator,
		metrics:               metrics,
		poolAsset:             cfg.PoolAsset,
		poolAssetID:           poolAssetID,
		paused:                cfg.StartPaused,
		withdrawalDelayMicros: cfg.WithdrawalDelay.Microseconds(),
		persistChan:           persistChan,
		projectionChan:        projectionChan,
	}, nil
}

// ProcessEvent is the main processing pipeline
func (c *SettlementCore) ProcessEvent(evt event.Event) error {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := c.idempotency.IsDuplicate(eventType, idempotencyKey)

	// Step 2: Sequence validation
	partition := PartitionForEvent(evt)
	sourceSequence := evt.SourceSequence()

	// Oracle observations tolerate gaps; stale ones are silently dropped
	if oracleEvt, ok := evt.(*event.DepegStatusUpdate); ok {
		if stale := c.sequenceValidator.ValidateOracleSequence(oracleEvt.Asset, oracleEvt.OracleSequence); stale {
			return nil
		}
	} else {
		if err := c.sequenceValidator.ValidateSequence(partition, sourceSequence, idempotencyKey, isDuplicate); err != nil {
			return fmt.Errorf("sequence validation failed: %w", err)
		}
	}

	// If duplicate, skip processing
	if isDuplicate {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "duplicate").Inc()
		}
		return nil
	}

	// Step 3: Event dispatch - get batches.
	// SecondPhaseClaim settles in two legs (claim payout + deposit release)
	// and is the one event that produces multiple batches.
	var batches []*ledger.Batch
	var fact []byte
	var err error

	if claimEvt, ok := evt.(*event.SecondPhaseClaim); ok {
		batches, fact, err = c.handleSecondPhaseClaim(claimEvt)
		if err != nil {
			return fmt.Errorf("dispatch failed: %w", err)
		}
	} else {
		var batch *ledger.Batch
		batch, fact, err = c.dispatchEvent(evt)
		if err != nil {
			return fmt.Errorf("dispatch failed: %w", err)
		}
		batches = []*ledger.Batch{batch}
	}

	// Step 4-9: Process each batch
	outputs := make([]CoreOutput, 0, len(batches))

	for _, batch := range batches {
		// Empty batches carry state-only events (oracle updates, trigger
		// checks, pause flips) that still need an envelope in the event log.
		if len(batch.Journals) > 0 {
			if err := c.validator.ValidateBatchBalance(batch); err != nil {
				panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
			}

			if err := c.balanceTracker.ApplyBatch(batch); err != nil {
				return fmt.Errorf("apply batch failed: %w", err)
			}
		}

		stateDigest := c.computeStateDigest(batch)
		// Capture the chain tip before ComputeHash advances it
		prevHash := c.hasher.GetPrevHash()
		stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

		envelope := &event.EventEnvelope{
			Sequence:       c.sequence,
			IdempotencyKey: idempotencyKey,
			EventType:      evt.EventType(),
			Asset:          evt.CoveredAsset(),
			Timestamp:      c.getEventTimestamp(evt),
			SourceSequence: sourceSequence,
			Payload:        fact,
			StateHash:      stateHash,
			PrevHash:       prevHash,
		}

		outputs = append(outputs, CoreOutput{
			Envelope: envelope,
			Batch:    batch,
			Fact:     fact,
			Source:   evt,
		})
		c.sequence++
	}

	// Step 10: Post-checks
	if err := c.postCheckInvariants(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 11: Emit outputs.
	// Persist channel uses BLOCKING send (backpressure), projection channel
	// uses NON-BLOCKING send with silent drop.
	for _, output := range outputs {
		// Persistence: blocking send — the core stalls until the persistence
		// worker drains. This guarantees no event is lost.
		c.persistChan <- output

		// Projections: non-blocking send — drop on full. Projection workers
		// can rebuild from the event log if they fall behind.
		select {
		case c.projectionChan <- output:
		default:
			// Silently dropped — projection will catch up via rebuild
		}
	}

	// Step 12: Mark as processed (add to LRU)
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		c.metrics.PoolCapacity.Set(float64(c.IssuableCapacity()))
	}

	return nil
}

// PartitionForEvent determines the partition key for sequence validation.
// Each provider, buyer and oracle asset orders its own events independently.
func PartitionForEvent(evt event.Event) string {
	switch e := evt.(type) {
	case *event.LiquidityAdded:
		return fmt.Sprintf("provider:%s", e.ProviderID)
	case *event.WithdrawalRequested:
		return fmt.Sprintf("provider:%s", e.ProviderID)
	case *event.WithdrawalExecuted:
		return fmt.Sprintf("provider:%s", e.ProviderID)
	case *event.CoveragePurchased:
		return fmt.Sprintf("buyer:%s", e.BuyerID)
	case *event.CoverageExpired:
		return fmt.Sprintf("buyer:%s", e.BuyerID)
	case *event.FirstPhaseClaim:
		return fmt.Sprintf("buyer:%s", e.BuyerID)
	case *event.SecondPhaseClaim:
		return fmt.Sprintf("buyer:%s", e.BuyerID)
	case *event.DepegStatusUpdate:
		return fmt.Sprintf("oracle:%s", e.Asset)
	default:
		return "global"
	}
}

// getEventTimestamp extracts the versioned timestamp from an event.
// The core MUST NOT call time.Now(). All timestamps are versioned inputs.
func (c *SettlementCore) getEventTimestamp(evt event.Event) time.Time {
	switch e := evt.(type) {
	case *event.LiquidityAdded:
		return e.Timestamp
	case *event.WithdrawalRequested:
		return e.Timestamp
	case *event.WithdrawalExecuted:
		return e.Timestamp
	case *event.CoveragePurchased:
		return e.Timestamp
	case *event.CoverageExpired:
		return e.Timestamp
	case *event.DepegStatusUpdate:
		return e.Timestamp
	case *event.PayoutTriggerCheck:
		return e.Timestamp
	case *event.FirstPhaseClaim:
		return e.Timestamp
	case *event.SecondPhaseClaim:
		return e.Timestamp
	case *event.PayoutCycleReset:
		return e.Timestamp
	case *event.PauseSet:
		return e.Timestamp
	default:
		panic(fmt.Sprintf("FATAL: getEventTimestamp called with unhandled event type %T — deterministic core cannot use wall-clock time", evt))
	}
}

// computeStateDigest creates canonical bytes for the state hash
func (c *SettlementCore) computeStateDigest(batch *ledger.Batch) []byte {
	// Collect all affected accounts
	affectedAccounts := make(map[ledger.AccountKey]bool)

	if batch != nil {
		for _, j := range batch.Journals {
			affectedAccounts[j.DebitAccount] = true
			affectedAccounts[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affectedAccounts))
	for key := range affectedAccounts {
		accounts = append(accounts, key)
	}

	// Sort by AccountPath (deterministic string ordering)
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64)

	for _, key := range accounts {
		balance := c.balanceTracker.GetBalance(key)

		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)

		digest = appendInt64LE(digest, balance)
	}

	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// postCheckInvariants validates invariants after batch application.
// Backing is checked after EVERY transition — a breach here means a handler
// pre-check was wrong, which is unrecoverable.
func (c *SettlementCore) postCheckInvariants() error {
	if err := c.validator.ValidateCoverageBacking(c.poolAssetID, c.coverages.TotalActive()); err != nil {
		return err
	}

	// Periodic global zero-sum check
	if c.sequence > 0 && c.sequence%1000 == 0 {
		totals := c.balanceTracker.ComputeGlobalBalance()
		for assetID, total := range totals {
			if total != 0 {
				return fmt.Errorf("global balance non-zero for asset %d: %d (at seq %d)",
					assetID, total, c.sequence)
			}
		}
	}

	return nil
}

// emptyBatch wraps state-only events so they still get an envelope
func (c *SettlementCore) emptyBatch(eventRef string, timestamp int64) *ledger.Batch {
	return &ledger.Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  c.sequence,
		Timestamp: timestamp,
		Journals:  []ledger.Journal{},
	}
}

func marshalFact(fact map[string]interface{}) []byte {
	data, err := json.Marshal(fact)
	if err != nil {
		panic(fmt.Sprintf("FATAL: fact marshaling failed: %v", err))
	}
	return data
}

// --- Event Handlers ---

func (c *SettlementCore) handleLiquidityAdded(evt *event.LiquidityAdded) (*ledger.Batch, []byte, error) {
	if c.paused {
		return nil, nil, fmt.Errorf("paused")
	}
	if evt.Amount <= 0 {
		return nil, nil, fmt.Errorf("amount must be positive")
	}
	if evt.Asset != c.poolAsset {
		return nil, nil, fmt.Errorf("unknown asset: %s", evt.Asset)
	}

	ts := evt.Timestamp.UnixMicro()

	batch, err := c.journalGen.GenerateLiquidityAdd(evt.ProviderID, evt.IdempotencyKey(), evt.Amount, c.poolAssetID, ts)
	if err != nil {
		return nil, nil, err
	}

	allocations, err := c.buckets.Allocate(evt.Amount, evt.AllocationsBP)
	if err != nil {
		return nil, nil, err
	}
	c.providers.Credit(evt.ProviderID, evt.Amount, ts)

	fact := marshalFact(map[string]interface{}{
		"event":       "liquidity_added",
		"provider_id": evt.ProviderID.String(),
		"asset":       evt.Asset,
		"amount":      evt.Amount,
		"allocations": allocations,
		"timestamp":   ts,
	})

	return batch, fact, nil
}

func (c *SettlementCore) handleWithdrawalRequested(evt *event.WithdrawalRequested) (*ledger.Batch, []byte, error) {
	if c.paused {
		return nil, nil, fmt.Errorf("paused")
	}
	if evt.Amount <= 0 {
		return nil, nil, fmt.Errorf("amount must be positive")
	}

	supplied := c.balanceTracker.GetProviderSupplied(evt.ProviderID, c.poolAssetID)
	if evt.Amount > supplied {
		return nil, nil, fmt.Errorf("insufficient supplied liquidity")
	}

	ts := evt.Timestamp.UnixMicro()
	unlockTime := ts + c.withdrawalDelayMicros

	req, err := c.withdrawals.Request(evt.ProviderID, evt.Amount, ts, unlockTime)
	if err != nil {
		return nil, nil, err
	}

	batch, err := c.journalGen.GenerateWithdrawalLock(evt.ProviderID, evt.IdempotencyKey(), evt.Amount, c.poolAssetID, ts)
	if err != nil {
		// Unwind the queue entry so a later request is not blocked
		_ = c.withdrawals.Complete(evt.ProviderID)
		return nil, nil, err
	}

	c.providers.Debit(evt.ProviderID, evt.Amount)

	fact := marshalFact(map[string]interface{}{
		"event":       "withdrawal_requested",
		"provider_id": evt.ProviderID.String(),
		"amount":      evt.Amount,
		"unlock_time": req.UnlockTime,
		"timestamp":   ts,
	})

	return batch, fact, nil
}

func (c *SettlementCore) handleWithdrawalExecuted(evt *event.WithdrawalExecuted) (*ledger.Batch, []byte, error) {
	if c.paused {
		return nil, nil, fmt.Errorf("paused")
	}

	req := c.withdrawals.Pending(evt.ProviderID)
	if req == nil {
		return nil, nil, fmt.Errorf("no pending withdrawal")
	}

	ts := evt.Timestamp.UnixMicro()
	if ts < req.UnlockTime {
		return nil, nil, fmt.Errorf("withdrawal locked")
	}

	// The payout removes req.Amount from total liquidity. Reject if active
	// coverage would no longer be backed afterwards.
	capacityAfter := c.validator.IssuableCoverageCapacity(c.poolAssetID, c.coverages.TotalActive()) -
		fpmath.BasisPointsOf(req.Amount, fpmath.MaxCoverageBP)
	if capacityAfter < 0 {
		return nil, nil, fmt.Errorf("would breach coverage backing")
	}

	batch, err := c.journalGen.GenerateWithdrawalPayout(evt.ProviderID, evt.IdempotencyKey(), req.Amount, c.poolAssetID, ts)
	if err != nil {
		return nil, nil, err
	}

	if err := c.buckets.Deallocate(req.Amount); err != nil {
		return nil, nil, err
	}
	if err := c.withdrawals.Complete(evt.ProviderID); err != nil {
		return nil, nil, err
	}

	fact := marshalFact(map[string]interface{}{
		"event":       "withdrawal_executed",
		"provider_id": evt.ProviderID.String(),
		"amount":      req.Amount,
		"timestamp":   ts,
	})

	return batch, fact, nil
}

func (c *SettlementCore) handleCoveragePurchased(evt *event.CoveragePurchased) (*ledger.Batch, []byte, error) {
	if c.paused {
		return nil, nil, fmt.Errorf("paused")
	}
	if c.payout.IsActive() {
		return nil, nil, fmt.Errorf("payout cycle active")
	}
	if evt.Amount <= 0 {
		return nil, nil, fmt.Errorf("amount must be positive")
	}

	coveredState := c.oracle.GetStablecoinState(evt.Asset)
	if !coveredState.IsSupported {
		return nil, nil, fmt.Errorf("asset not supported")
	}

	if existing := c.coverages.Active(evt.BuyerID); existing != nil {
		return nil, nil, fmt.Errorf("coverage already active")
	}

	requiredDeposit := fpmath.CalculateRequiredDeposit(evt.Amount)
	if evt.DepositPaid < requiredDeposit {
		return nil, nil, fmt.Errorf("Insufficient security deposit")
	}

	// Capacity must already exist before the purchase. The incoming deposit
	// only counts once collected, toward later purchases.
	capacity := c.validator.IssuableCoverageCapacity(c.poolAssetID, c.coverages.TotalActive())
	if capacity < evt.Amount {
		return nil, nil, errors.New("Coverage exceeds 80% of total liquidity")
	}

	// Price the premium off pre-purchase utilization
	utilization := c.buckets.WeightedUtilizationBP()
	premium := fpmath.CalculatePremium(evt.Amount, utilization, fpmath.DefaultCoverageTermSeconds)

	ts := evt.Timestamp.UnixMicro()

	batch, err := c.journalGen.GenerateCoveragePurchase(evt.BuyerID, evt.IdempotencyKey(), evt.DepositPaid, premium, c.poolAssetID, ts)
	if err != nil {
		return nil, nil, err
	}

	allocations, err := c.buckets.AddCoverage(evt.Amount)
	if err != nil {
		return nil, nil, err
	}

	coverage := &state.Coverage{
		BuyerID:           evt.BuyerID,
		Asset:             evt.Asset,
		Amount:            evt.Amount,
		SecurityDeposit:   evt.DepositPaid,
		PremiumPaid:       premium,
		PurchaseTime:      ts,
		BucketAllocations: allocations,
	}
	if err := c.coverages.Purchase(coverage); err != nil {
		return nil, nil, err
	}

	fact := marshalFact(map[string]interface{}{
		"event":            "coverage_purchased",
		"buyer_id":         evt.BuyerID.String(),
		"covered_asset":    evt.Asset,
		"amount":           evt.Amount,
		"security_deposit": evt.DepositPaid,
		"premium":          premium,
		"allocations":      allocations,
		"timestamp":        ts,
	})

	return batch, fact, nil
}

func (c *SettlementCore) handleCoverageExpired(evt *event.CoverageExpired) (*ledger.Batch, []byte, error) {
	if c.paused {
		return nil, nil, fmt.Errorf("paused")
	}

	coverage := c.coverages.Active(evt.BuyerID)
	if coverage == nil {
		return nil, nil, fmt.Errorf("no active coverage")
	}

	// Expiry during a cycle would dodge the claim accounting
	if c.payout.IsActive() && coverage.Asset == c.payout.Asset() {
		return nil, nil, fmt.Errorf("payout cycle active")
	}

	ts := evt.Timestamp.UnixMicro()

	batch, err := c.journalGen.GenerateSecurityDepositRelease(evt.BuyerID, evt.IdempotencyKey(), coverage.SecurityDeposit, c.poolAssetID, ts)
	if err != nil {
		return nil, nil, err
	}

	if remaining := coverage.RemainingPayout(); remaining > 0 {
		if err := c.buckets.RemoveCoverage(remaining); err != nil {
			return nil, nil, err
		}
	}
	if err := c.coverages.Deactivate(evt.BuyerID); err != nil {
		return nil, nil, err
	}

	fact := marshalFact(map[string]interface{}{
		"event":            "coverage_expired",
		"buyer_id":         evt.BuyerID.String(),
		"covered_asset":    coverage.Asset,
		"deposit_refunded": coverage.SecurityDeposit,
		"timestamp":        ts,
	})

	return batch, fact, nil
}

func (c *SettlementCore) handleDepegStatusUpdate(evt *event.DepegStatusUpdate) (*ledger.Batch, []byte, error) {
	ts := evt.Timestamp.UnixMicro()

	// Oracle observations bypass the pause gate: the engine must keep an
	// accurate peg view even while administration is frozen.
	if err := c.oracle.SetDepegged(evt.Asset, evt.Depegged, evt.Simulated, ts); err != nil {
		return nil, nil, err
	}

	fact := marshalFact(map[string]interface{}{
		"event":     "depeg_status_update",
		"asset":     evt.Asset,
		"depegged":  evt.Depegged,
		"simulated": evt.Simulated,
		"timestamp": ts,
	})

	return c.emptyBatch(evt.IdempotencyKey(), ts), fact, nil
}

func (c *SettlementCore) handlePayoutTriggerCheck(evt *event.PayoutTriggerCheck) (*ledger.Batch, []byte, error) {
	if c.paused {
		return nil, nil, fmt.Errorf("paused")
	}

	if !c.oracle.RiskConditionMet(evt.Asset) {
		return nil, nil, fmt.Errorf("Risk condition not met")
	}

	ts := evt.Timestamp.UnixMicro()

	// Trigger is idempotent: repeating the check while a cycle runs is a no-op
	activated := c.payout.Trigger(evt.Asset, ts)

	fact := marshalFact(map[string]interface{}{
		"event":        "payout_trigger_check",
		"asset":        evt.Asset,
		"activated":    activated,
		"trigger_time": c.payout.TriggerTime(),
		"timestamp":    ts,
	})

	return c.emptyBatch(evt.IdempotencyKey(), ts), fact, nil
}

// socializeClaim splits a claim payment across provider supplied balances
// pro-rata, residual to the largest. Providers are iterated in sorted order
// so replays produce identical shares.
func (c *SettlementCore) socializeClaim(amount int64) ([]ledger.ProviderShare, error) {
	positions := c.providers.All()

	weights := make([]int64, len(positions))
	var total int64
	for i, pos := range positions {
		weights[i] = pos.SuppliedAmount
		total += pos.SuppliedAmount
	}
	if total < amount {
		return nil, fmt.Errorf("no payout available")
	}

	parts := fpmath.SplitProRata(amount, weights)

	shares := make([]ledger.ProviderShare, 0, len(positions))
	for i, pos := range positions {
		if parts[i] > 0 {
			shares = append(shares, ledger.ProviderShare{ProviderID: pos.ProviderID, Amount: parts[i]})
		}
	}
	return shares, nil
}

func (c *SettlementCore) handleFirstPhaseClaim(evt *event.FirstPhaseClaim) (*ledger.Batch, []byte, error) {
	if c.paused {
		return nil, nil, fmt.Errorf("paused")
	}

	ts := evt.Timestamp.UnixMicro()

	if err := c.payout.CanClaimFirst(evt.BuyerID, ts); err != nil {
		return nil, nil, err
	}

	coverage := c.coverages.Active(evt.BuyerID)
	if coverage == nil {
		return nil, nil, fmt.Errorf("no active coverage")
	}
	if coverage.Asset != c.payout.Asset() {
		return nil, nil, fmt.Errorf("no payout available")
	}

	payoutAmount := coverage.Amount / 2
	if payoutAmount <= 0 {
		return nil, nil, fmt.Errorf("no payout available")
	}

	shares, err := c.socializeClaim(payoutAmount)
	if err != nil {
		return nil, nil, err
	}

	batch, err := c.journalGen.GenerateClaimPayout(evt.IdempotencyKey(), shares, c.poolAssetID, ts)
	if err != nil {
		return nil, nil, err
	}

	for _, share := range shares {
		c.providers.Debit(share.ProviderID, share.Amount)
	}
	if err := c.buckets.RemoveCoverage(payoutAmount); err != nil {
		return nil, nil, err
	}
	coverage.PaidOut += payoutAmount
	c.payout.MarkFirstPaid(evt.BuyerID, ts)

	fact := marshalFact(map[string]interface{}{
		"event":     "first_phase_claim",
		"buyer_id":  evt.BuyerID.String(),
		"amount":    payoutAmount,
		"timestamp": ts,
	})

	return batch, fact, nil
}

// handleSecondPhaseClaim settles the remaining coverage and refunds the
// security deposit. Two batches: the socialized claim leg and the deposit
// release leg.
func (c *SettlementCore) handleSecondPhaseClaim(evt *event.SecondPhaseClaim) ([]*ledger.Batch, []byte, error) {
	if c.paused {
		return nil, nil, fmt.Errorf("paused")
	}

	ts := evt.Timestamp.UnixMicro()

	if err := c.payout.CanClaimSecond(evt.BuyerID, ts); err != nil {
		return nil, nil, err
	}

	coverage := c.coverages.Active(evt.BuyerID)
	if coverage == nil {
		return nil, nil, fmt.Errorf("no active coverage")
	}

	remaining := coverage.RemainingPayout()
	if remaining <= 0 {
		return nil, nil, fmt.Errorf("no payout available")
	}

	shares, err := c.socializeClaim(remaining)
	if err != nil {
		return nil, nil, err
	}

	claimBatch, err := c.journalGen.GenerateClaimPayout(evt.IdempotencyKey(), shares, c.poolAssetID, ts)
	if err != nil {
		return nil, nil, err
	}

	releaseBatch, err := c.journalGen.GenerateSecurityDepositRelease(evt.BuyerID, evt.IdempotencyKey(), coverage.SecurityDeposit, c.poolAssetID, ts)
	if err != nil {
		return nil, nil, err
	}

	for _, share := range shares {
		c.providers.Debit(share.ProviderID, share.Amount)
	}
	if err := c.buckets.RemoveCoverage(remaining); err != nil {
		return nil, nil, err
	}
	coverage.PaidOut += remaining
	if err := c.coverages.Deactivate(evt.BuyerID); err != nil {
		return nil, nil, err
	}
	c.payout.MarkSecondPaid(evt.BuyerID)

	fact := marshalFact(map[string]interface{}{
		"event":            "second_phase_claim",
		"buyer_id":         evt.BuyerID.String(),
		"amount":           remaining,
		"deposit_refunded": coverage.SecurityDeposit,
		"total_paid":       coverage.PaidOut,
		"timestamp":        ts,
	})

	return []*ledger.Batch{claimBatch, releaseBatch}, fact, nil
}

func (c *SettlementCore) handlePayoutCycleReset(evt *event.PayoutCycleReset) (*ledger.Batch, []byte, error) {
	ts := evt.Timestamp.UnixMicro()

	cycleAsset := c.payout.Asset()
	activeRemaining := len(c.coverages.ActiveByAsset(cycleAsset))

	if err := c.payout.Reset(evt.Force, activeRemaining); err != nil {
		return nil, nil, err
	}

	fact := marshalFact(map[string]interface{}{
		"event":     "payout_cycle_reset",
		"asset":     cycleAsset,
		"force":     evt.Force,
		"timestamp": ts,
	})

	return c.emptyBatch(evt.IdempotencyKey(), ts), fact, nil
}

func (c *SettlementCore) handlePauseSet(evt *event.PauseSet) (*ledger.Batch, []byte, error) {
	ts := evt.Timestamp.UnixMicro()

	c.paused = evt.Paused

	fact := marshalFact(map[string]interface{}{
		"event":     "pause_set",
		"paused":    evt.Paused,
		"timestamp": ts,
	})

	return c.emptyBatch(evt.IdempotencyKey(), ts), fact, nil
}

func (c *SettlementCore) dispatchEvent(evt event.Event) (*ledger.Batch, []byte, error) {
	switch e := evt.(type) {
	case *event.LiquidityAdded:
		return c.handleLiquidityAdded(e)
	case *event.WithdrawalRequested:
		return c.handleWithdrawalRequested(e)
	case *event.WithdrawalExecuted:
		return c.handleWithdrawalExecuted(e)
	case *event.CoveragePurchased:
		return c.handleCoveragePurchased(e)
	case *event.CoverageExpired:
		return c.handleCoverageExpired(e)
	case *event.DepegStatusUpdate:
		return c.handleDepegStatusUpdate(e)
	case *event.PayoutTriggerCheck:
		return c.handlePayoutTriggerCheck(e)
	case *event.FirstPhaseClaim:
		return c.handleFirstPhaseClaim(e)
	case *event.PayoutCycleReset:
		return c.handlePayoutCycleReset(e)
	case *event.PauseSet:
		return c.handlePauseSet(e)
	default:
		return nil, nil, fmt.Errorf("unknown event type: %T", evt)
	}
}

// --- Query Surface (read-only, single-threaded with ProcessEvent) ---

// Paused reports the pause gate
func (c *SettlementCore) Paused() bool {
	return c.paused
}

// TotalLiquidity is the pool's coverage-backing balance
func (c *SettlementCore) TotalLiquidity() int64 {
	return c.balanceTracker.TotalLiquidity(c.poolAssetID)
}

// TotalSecurityDeposits sums buyer collateral
func (c *SettlementCore) TotalSecurityDeposits() int64 {
	return c.balanceTracker.TotalSecurityDeposits(c.poolAssetID)
}

// TotalActiveCoverage sums active coverage notional
func (c *SettlementCore) TotalActiveCoverage() int64 {
	return c.coverages.TotalActive()
}

// IssuableCapacity is the headroom for new coverage
func (c *SettlementCore) IssuableCapacity() int64 {
	return c.validator.IssuableCoverageCapacity(c.poolAssetID, c.coverages.TotalActive())
}

// GetCoverage returns a buyer's coverage record (active or settled)
func (c *SettlementCore) GetCoverage(buyerID uuid.UUID) *state.Coverage {
	return c.coverages.Get(buyerID)
}

// GetBucket returns one risk bucket
func (c *SettlementCore) GetBucket(id string) *state.RiskBucket {
	return c.buckets.Get(id)
}

// Buckets returns all risk buckets in configured order
func (c *SettlementCore) Buckets() []*state.RiskBucket {
	return c.buckets.All()
}

// PendingWithdrawal returns a provider's pending request or nil
func (c *SettlementCore) PendingWithdrawal(providerID uuid.UUID) *state.WithdrawalRequest {
	return c.withdrawals.Pending(providerID)
}

// PayoutState returns the payout cycle snapshot
func (c *SettlementCore) PayoutState() state.PayoutSnapshot {
	return c.payout.Snapshot()
}

// OracleView returns the engine's view of a covered asset
func (c *SettlementCore) OracleView(asset string) state.StablecoinState {
	return c.oracle.GetStablecoinState(asset)
}

// PremiumQuote prices coverage at current utilization for the default term
func (c *SettlementCore) PremiumQuote(amount int64) (premium, requiredDeposit, rateBP int64) {
	utilization := c.buckets.WeightedUtilizationBP()
	return fpmath.CalculatePremium(amount, utilization, fpmath.DefaultCoverageTermSeconds),
		fpmath.CalculateRequiredDeposit(amount),
		fpmath.PremiumRateBP(utilization)
}

// ProviderView returns a provider's position or nil
func (c *SettlementCore) ProviderView(providerID uuid.UUID) *state.ProviderPosition {
	return c.providers.Get(providerID)
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	Paused          bool
	Balances        map[ledger.AccountKey]int64
	Providers       []*state.ProviderPosition
	Coverages       []*state.Coverage
	Withdrawals     []*state.WithdrawalRequest
	Buckets         []state.RiskBucket
	Payout          state.PayoutSnapshot
	Oracle          []state.StablecoinState
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// RestoreFromSnapshot restores the core's in-memory state from a snapshot.
// On warm restart, load the latest snapshot then replay events.
func (c *SettlementCore) RestoreFromSnapshot(snap *SnapshotState) error {
	c.sequence = snap.Sequence + 1 // Next sequence to assign
	c.paused = snap.Paused

	c.hasher.SetPrevHash(snap.StateHash)

	for key, balance := range snap.Balances {
		c.balanceTracker.SetBalance(key, balance)
	}

	for _, pos := range snap.Providers {
		c.providers.Restore(pos)
	}
	for _, cov := range snap.Coverages {
		c.coverages.Restore(cov)
	}
	for _, req := range snap.Withdrawals {
		c.withdrawals.Restore(req)
	}
	if err := c.buckets.Restore(snap.Buckets); err != nil {
		return fmt.Errorf("bucket restore: %w", err)
	}
	c.payout.Restore(snap.Payout)
	for _, s := range snap.Oracle {
		c.oracle.Restore(s)
	}

	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, nextSeq)
	}

	c.journalGen.SetSequence(snap.Sequence + 1)
	return nil
}

// WarmLRU loads recent idempotency keys into the LRU cache
func (c *SettlementCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the current global sequence number
func (c *SettlementCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip)
func (c *SettlementCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// CreateSnapshotState captures the current in-memory state for persistence
func (c *SettlementCore) CreateSnapshotState() *SnapshotState {
	providers := c.providers.All()
	coverages := c.coverages.AllActive()

	return &SnapshotState{
		Sequence:        c.sequence - 1, // Last processed sequence
		StateHash:       c.hasher.GetPrevHash(),
		Paused:          c.paused,
		Balances:        c.balanceTracker.Snapshot(),
		Providers:       providers,
		Coverages:       coverages,
		Withdrawals:     c.withdrawals.All(),
		Buckets:         c.buckets.Snapshot(),
		Payout:          c.payout.Snapshot(),
		Oracle:          c.oracle.All(),
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
}
