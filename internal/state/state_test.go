package state_test

import (
	"strings"
	"testing"

	"CoverLedger/internal/state"

	"github.com/google/uuid"
)

const (
	hourMicros = int64(3_600_000_000)
	dayMicros  = 24 * hourMicros
)

func newBuckets(t *testing.T) *state.BucketManager {
	t.Helper()
	bm, err := state.NewBucketManager(
		[]string{"STABLECOIN_DEPEG", "LIQUIDITY_SHORTAGE", "SMART_CONTRACT"},
		[]int64{4000, 2000, 4000},
	)
	if err != nil {
		t.Fatalf("NewBucketManager failed: %v", err)
	}
	return bm
}

// ============================================================================
// Test: BucketManager
// ============================================================================

func TestBucketManager_WeightsMustSumToFull(t *testing.T) {
	_, err := state.NewBucketManager([]string{"A", "B"}, []int64{4000, 4000})
	if err == nil {
		t.Error("weights summing to 8000bp should fail")
	}

	_, err = state.NewBucketManager([]string{"A", "A"}, []int64{5000, 5000})
	if err == nil {
		t.Error("duplicate bucket ids should fail")
	}
}

func TestBucketManager_AllocateByConfiguredWeights(t *testing.T) {
	bm := newBuckets(t)

	parts, err := bm.Allocate(10_000_000, nil)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	want := []int64{4_000_000, 2_000_000, 4_000_000}
	for i := range want {
		if parts[i] != want[i] {
			t.Errorf("bucket %d: got %d, want %d", i, parts[i], want[i])
		}
	}
	if bm.TotalAllocated() != 10_000_000 {
		t.Errorf("total allocated: got %d", bm.TotalAllocated())
	}
}

func TestBucketManager_AllocateExplicitVector(t *testing.T) {
	bm := newBuckets(t)

	_, err := bm.Allocate(9_000_000, []int64{1, 1, 1})
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	for _, b := range bm.All() {
		if b.AllocatedLiquidity != 3_000_000 {
			t.Errorf("bucket %s: got %d, want 3_000_000", b.ID, b.AllocatedLiquidity)
		}
	}
}

func TestBucketManager_DeallocateProRata(t *testing.T) {
	bm := newBuckets(t)
	_, _ = bm.Allocate(10_000_000, nil)

	if err := bm.Deallocate(5_000_000); err != nil {
		t.Fatalf("Deallocate failed: %v", err)
	}
	if bm.TotalAllocated() != 5_000_000 {
		t.Errorf("total after deallocate: got %d", bm.TotalAllocated())
	}
	for _, b := range bm.All() {
		if b.AllocatedLiquidity < 0 {
			t.Errorf("bucket %s went negative: %d", b.ID, b.AllocatedLiquidity)
		}
	}

	if err := bm.Deallocate(6_000_000); err == nil {
		t.Error("deallocating more than allocated should fail")
	}
}

func TestBucketManager_CoverageAndUtilization(t *testing.T) {
	bm := newBuckets(t)
	_, _ = bm.Allocate(10_000_000, nil)

	parts, err := bm.AddCoverage(5_000_000)
	if err != nil {
		t.Fatalf("AddCoverage failed: %v", err)
	}
	if parts[0] != 2_000_000 || parts[1] != 1_000_000 || parts[2] != 2_000_000 {
		t.Errorf("coverage split: got %v", parts)
	}
	if bm.TotalActiveCoverage() != 5_000_000 {
		t.Errorf("total coverage: got %d", bm.TotalActiveCoverage())
	}

	// Coverage follows weights, so every bucket sits at 50% utilization
	for _, b := range bm.All() {
		if b.UtilizationBP() != 5000 {
			t.Errorf("bucket %s utilization: got %d, want 5000", b.ID, b.UtilizationBP())
		}
	}
	if bm.WeightedUtilizationBP() != 5000 {
		t.Errorf("weighted utilization: got %d, want 5000", bm.WeightedUtilizationBP())
	}

	if err := bm.RemoveCoverage(5_000_000); err != nil {
		t.Fatalf("RemoveCoverage failed: %v", err)
	}
	if bm.TotalActiveCoverage() != 0 {
		t.Errorf("coverage should be zero after removal, got %d", bm.TotalActiveCoverage())
	}
}

func TestBucketManager_SnapshotRestore(t *testing.T) {
	bm := newBuckets(t)
	_, _ = bm.Allocate(10_000_000, nil)
	_, _ = bm.AddCoverage(2_000_000)

	snap := bm.Snapshot()

	bm2 := newBuckets(t)
	if err := bm2.Restore(snap); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if bm2.TotalAllocated() != 10_000_000 || bm2.TotalActiveCoverage() != 2_000_000 {
		t.Error("restored bucket state does not match snapshot")
	}
}

// ============================================================================
// Test: ProviderBook
// ============================================================================

func TestProviderBook_CreditDebit(t *testing.T) {
	pb := state.NewProviderBook()
	providerID := uuid.New()

	pos := pb.Credit(providerID, 1_000_000, 5000)
	if pos.SuppliedAmount != 1_000_000 || pos.JoinedAt != 5000 {
		t.Error("first credit should create the position")
	}

	pb.Credit(providerID, 500_000, 9000)
	if pb.Get(providerID).SuppliedAmount != 1_500_000 {
		t.Error("second credit should accumulate")
	}
	if pb.Get(providerID).JoinedAt != 5000 {
		t.Error("JoinedAt should keep first deposit time")
	}

	pb.Debit(providerID, 400_000)
	if pb.Get(providerID).SuppliedAmount != 1_100_000 {
		t.Error("debit should reduce supplied amount")
	}

	if pb.TotalSupplied() != 1_100_000 {
		t.Errorf("total supplied: got %d", pb.TotalSupplied())
	}
}

func TestProviderBook_AllSortedDeterministic(t *testing.T) {
	pb := state.NewProviderBook()
	for i := 0; i < 10; i++ {
		pb.Credit(uuid.New(), 100, 0)
	}

	all := pb.All()
	for i := 1; i < len(all); i++ {
		if all[i-1].ProviderID.String() >= all[i].ProviderID.String() {
			t.Fatal("All() must be sorted by provider ID")
		}
	}
}

// ============================================================================
// Test: CoverageRegistry
// ============================================================================

func TestCoverageRegistry_OneActivePerBuyer(t *testing.T) {
	cr := state.NewCoverageRegistry()
	buyerID := uuid.New()

	err := cr.Purchase(&state.Coverage{BuyerID: buyerID, Asset: "RLUSD", Amount: 1_000_000})
	if err != nil {
		t.Fatalf("first purchase failed: %v", err)
	}

	err = cr.Purchase(&state.Coverage{BuyerID: buyerID, Asset: "RLUSD", Amount: 2_000_000})
	if err == nil || !strings.Contains(err.Error(), "coverage already active") {
		t.Errorf("second purchase should fail with coverage already active, got %v", err)
	}

	if err := cr.Deactivate(buyerID); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}
	if cr.Active(buyerID) != nil {
		t.Error("coverage should be inactive after deactivation")
	}

	// Buyer may purchase again once the old coverage is closed
	err = cr.Purchase(&state.Coverage{BuyerID: buyerID, Asset: "RLUSD", Amount: 2_000_000})
	if err != nil {
		t.Errorf("repurchase after deactivation should succeed: %v", err)
	}
}

func TestCoverageRegistry_TotalAndByAsset(t *testing.T) {
	cr := state.NewCoverageRegistry()
	_ = cr.Purchase(&state.Coverage{BuyerID: uuid.New(), Asset: "RLUSD", Amount: 1_000_000})
	_ = cr.Purchase(&state.Coverage{BuyerID: uuid.New(), Asset: "RLUSD", Amount: 2_000_000})
	_ = cr.Purchase(&state.Coverage{BuyerID: uuid.New(), Asset: "USDT", Amount: 4_000_000})

	if cr.TotalActive() != 7_000_000 {
		t.Errorf("TotalActive: got %d", cr.TotalActive())
	}
	if len(cr.ActiveByAsset("RLUSD")) != 2 {
		t.Error("expected 2 active RLUSD coverages")
	}
	if len(cr.ActiveByAsset("USDT")) != 1 {
		t.Error("expected 1 active USDT coverage")
	}
}

func TestCoverageRegistry_TotalActiveNetsPaidOut(t *testing.T) {
	cr := state.NewCoverageRegistry()
	buyerID := uuid.New()
	_ = cr.Purchase(&state.Coverage{BuyerID: buyerID, Asset: "RLUSD", Amount: 8_000_000})
	_ = cr.Purchase(&state.Coverage{BuyerID: uuid.New(), Asset: "RLUSD", Amount: 2_000_000})

	// Phase-1 settlement pays half; only the unpaid portion needs backing
	cr.Active(buyerID).PaidOut = 4_000_000

	if cr.TotalActive() != 6_000_000 {
		t.Errorf("TotalActive: got %d, want 6_000_000", cr.TotalActive())
	}
}

// ============================================================================
// Test: WithdrawalQueue
// ============================================================================

func TestWithdrawalQueue_SingleRequestPerProvider(t *testing.T) {
	wq := state.NewWithdrawalQueue()
	providerID := uuid.New()

	req, err := wq.Request(providerID, 1_000_000, 1000, 1000+7*dayMicros)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if req.UnlockTime != 1000+7*dayMicros {
		t.Error("unlock time mismatch")
	}

	_, err = wq.Request(providerID, 500_000, 2000, 2000+7*dayMicros)
	if err == nil || !strings.Contains(err.Error(), "request already pending") {
		t.Errorf("duplicate request should fail, got %v", err)
	}

	if err := wq.Complete(providerID); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if wq.Pending(providerID) != nil {
		t.Error("request should clear after completion")
	}
	if err := wq.Complete(providerID); err == nil {
		t.Error("completing twice should fail")
	}
}

// ============================================================================
// Test: PayoutMachine
// ============================================================================

func TestPayoutMachine_TriggerIdempotent(t *testing.T) {
	pm := state.NewPayoutMachine(hourMicros, dayMicros)

	if !pm.Trigger("RLUSD", 1000) {
		t.Error("first trigger should activate")
	}
	if pm.Trigger("RLUSD", 2000) {
		t.Error("second trigger should be a no-op")
	}
	if pm.TriggerTime() != 1000 {
		t.Error("trigger time should keep the original activation")
	}
}

func TestPayoutMachine_FirstPhaseGates(t *testing.T) {
	pm := state.NewPayoutMachine(hourMicros, dayMicros)
	buyerID := uuid.New()

	// No cycle yet
	if err := pm.CanClaimFirst(buyerID, 1000); err == nil {
		t.Error("claim without active cycle should fail")
	}

	pm.Trigger("RLUSD", 1000)

	// Cooldown not elapsed
	err := pm.CanClaimFirst(buyerID, 1000+hourMicros-1)
	if err == nil || !strings.Contains(err.Error(), "cooldown not elapsed") {
		t.Errorf("early claim should hit cooldown, got %v", err)
	}

	// Exactly at the boundary passes
	if err := pm.CanClaimFirst(buyerID, 1000+hourMicros); err != nil {
		t.Errorf("claim at cooldown boundary should pass: %v", err)
	}

	pm.MarkFirstPaid(buyerID, 1000+hourMicros)

	// Exactly-once
	err = pm.CanClaimFirst(buyerID, 1000+2*hourMicros)
	if err == nil || !strings.Contains(err.Error(), "already claimed") {
		t.Errorf("double first-phase claim should fail, got %v", err)
	}
}

func TestPayoutMachine_SecondPhaseRunsFromFirstPayment(t *testing.T) {
	pm := state.NewPayoutMachine(hourMicros, dayMicros)
	buyerID := uuid.New()
	pm.Trigger("RLUSD", 0)

	// Second before first
	if err := pm.CanClaimSecond(buyerID, 2*dayMicros); err == nil {
		t.Error("second-phase claim before first should fail")
	}

	firstPaid := hourMicros + 500
	pm.MarkFirstPaid(buyerID, firstPaid)

	err := pm.CanClaimSecond(buyerID, firstPaid+dayMicros-1)
	if err == nil || !strings.Contains(err.Error(), "cooldown not elapsed") {
		t.Errorf("early second claim should hit cooldown, got %v", err)
	}

	if err := pm.CanClaimSecond(buyerID, firstPaid+dayMicros); err != nil {
		t.Errorf("second claim after cooldown should pass: %v", err)
	}

	pm.MarkSecondPaid(buyerID)
	if err := pm.CanClaimSecond(buyerID, firstPaid+2*dayMicros); err == nil {
		t.Error("double second-phase claim should fail")
	}
}

func TestPayoutMachine_ResetRequiresTerminalBuyers(t *testing.T) {
	pm := state.NewPayoutMachine(hourMicros, dayMicros)
	buyerID := uuid.New()
	pm.Trigger("RLUSD", 0)
	pm.MarkFirstPaid(buyerID, hourMicros)

	if err := pm.Reset(false, 1); err == nil {
		t.Error("reset with mid-cycle buyer should fail")
	}

	pm.MarkSecondPaid(buyerID)
	if err := pm.Reset(false, 1); err == nil {
		t.Error("reset with active coverage remaining should fail")
	}

	if err := pm.Reset(false, 0); err != nil {
		t.Errorf("reset with all buyers terminal should pass: %v", err)
	}
	if pm.IsActive() {
		t.Error("machine should be inactive after reset")
	}

	// Force reset skips the checks
	pm.Trigger("RLUSD", 0)
	pm.MarkFirstPaid(uuid.New(), hourMicros)
	if err := pm.Reset(true, 5); err != nil {
		t.Errorf("force reset should pass: %v", err)
	}
}

func TestPayoutMachine_SnapshotRestore(t *testing.T) {
	pm := state.NewPayoutMachine(hourMicros, dayMicros)
	buyerID := uuid.New()
	pm.Trigger("RLUSD", 777)
	pm.MarkFirstPaid(buyerID, 888)

	snap := pm.Snapshot()

	pm2 := state.NewPayoutMachine(hourMicros, dayMicros)
	pm2.Restore(snap)

	if !pm2.IsActive() || pm2.Asset() != "RLUSD" || pm2.TriggerTime() != 777 {
		t.Error("restored cycle state mismatch")
	}
	if pm2.Phase(buyerID) != state.PhaseFirstPaid {
		t.Error("restored phase mismatch")
	}
	if err := pm2.CanClaimSecond(buyerID, 888+dayMicros); err != nil {
		t.Errorf("restored first-paid time should gate second claim: %v", err)
	}
}

// ============================================================================
// Test: OracleState
// ============================================================================

func TestOracleState_DepegSignal(t *testing.T) {
	os := state.NewOracleState([]string{"RLUSD", "USDT"})

	if os.RiskConditionMet("RLUSD") {
		t.Error("fresh oracle state should not report depeg")
	}

	if err := os.SetDepegged("RLUSD", true, true, 1000); err != nil {
		t.Fatalf("SetDepegged failed: %v", err)
	}
	if !os.RiskConditionMet("RLUSD") {
		t.Error("depeg signal should be visible")
	}

	s := os.GetStablecoinState("RLUSD")
	if !s.IsSupported || !s.IsDepegged || !s.Simulated {
		t.Errorf("unexpected state: %+v", s)
	}

	// Peg recovery clears the signal
	_ = os.SetDepegged("RLUSD", false, false, 2000)
	if os.RiskConditionMet("RLUSD") {
		t.Error("recovered peg should clear the signal")
	}
}

func TestOracleState_UnsupportedAsset(t *testing.T) {
	os := state.NewOracleState([]string{"RLUSD"})

	err := os.SetDepegged("FRAX", true, false, 1000)
	if err == nil || !strings.Contains(err.Error(), "asset not supported") {
		t.Errorf("unsupported asset should fail, got %v", err)
	}

	s := os.GetStablecoinState("FRAX")
	if s.IsSupported {
		t.Error("unknown asset should be unsupported")
	}
	if os.RiskConditionMet("FRAX") {
		t.Error("unknown asset should not meet risk condition")
	}
}
