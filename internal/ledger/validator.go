package ledger

import (
	"fmt"

	fpmath "CoverLedger/internal/math"

	"github.com/google/uuid"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// IssuableCoverageCapacity is the headroom left for new coverage:
//
//	0.80 × (totalLiquidity − totalSecurityDeposits) − totalActiveCoverage
//	  + totalSecurityDeposits
//
// Deposits add back because each unit of deposit collateralizes the coverage
// it was collected for. Negative capacity means active coverage is no longer
// fully backed.
func (v *InvariantValidator) IssuableCoverageCapacity(assetID AssetID, totalActiveCoverage int64) int64 {
	totalLiquidity := v.tracker.TotalLiquidity(assetID)
	totalDeposits := v.tracker.TotalSecurityDeposits(assetID)

	coverable := fpmath.BasisPointsOf(totalLiquidity-totalDeposits, fpmath.MaxCoverageBP)
	return coverable - totalActiveCoverage + totalDeposits
}

// ValidateCoverageBacking verifies active coverage stays within the pool's
// payout capacity. Runs after every committed transition.
func (v *InvariantValidator) ValidateCoverageBacking(assetID AssetID, totalActiveCoverage int64) error {
	capacity := v.IssuableCoverageCapacity(assetID, totalActiveCoverage)
	if capacity < 0 {
		assetName, _ := GetAssetName(assetID)
		return fmt.Errorf("coverage backing breached for %s: capacity=%d, active=%d",
			assetName, capacity, totalActiveCoverage)
	}
	return nil
}

// ValidateProviderNonNegative checks provider accounts never go below zero
func (v *InvariantValidator) ValidateProviderNonNegative(providerID uuid.UUID, assetID AssetID) error {
	if err := v.tracker.ValidateNonNegative(NewProviderAccountKey(providerID, SubTypeSupplied, assetID)); err != nil {
		return err
	}
	return v.tracker.ValidateNonNegative(NewProviderAccountKey(providerID, SubTypePendingWithdrawal, assetID))
}

// ValidateGlobalBalance verifies system is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %d", assetName, total)
		}
	}

	return nil
}
