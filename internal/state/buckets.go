package state

import (
	"fmt"

	fpmath "CoverLedger/internal/math"
)

// RiskBucket partitions pool liquidity by peril. Coverage sold against the
// pool is spread across buckets by configured weight; each bucket prices
// premiums off its own utilization.
type RiskBucket struct {
	ID                 string
	WeightBP           int64
	AllocatedLiquidity int64
	ActiveCoverage     int64
}

// UtilizationBP returns activeCoverage / allocatedLiquidity in basis points
func (b *RiskBucket) UtilizationBP() int64 {
	return fpmath.UtilizationBP(b.ActiveCoverage, b.AllocatedLiquidity)
}

// BucketManager owns the bucket partition of the pool. Buckets keep their
// configured order so every pro-rata split is deterministic.
type BucketManager struct {
	buckets []*RiskBucket
	index   map[string]int
}

// NewBucketManager builds the partition from (id, weight) pairs.
// Weights must sum to exactly 10000bp.
func NewBucketManager(ids []string, weightsBP []int64) (*BucketManager, error) {
	if len(ids) == 0 || len(ids) != len(weightsBP) {
		return nil, fmt.Errorf("bucket ids and weights mismatch: %d vs %d", len(ids), len(weightsBP))
	}

	var total int64
	bm := &BucketManager{
		buckets: make([]*RiskBucket, 0, len(ids)),
		index:   make(map[string]int, len(ids)),
	}

	for i, id := range ids {
		if _, dup := bm.index[id]; dup {
			return nil, fmt.Errorf("duplicate bucket id %q", id)
		}
		if weightsBP[i] <= 0 {
			return nil, fmt.Errorf("bucket %q has non-positive weight %d", id, weightsBP[i])
		}
		bm.buckets = append(bm.buckets, &RiskBucket{ID: id, WeightBP: weightsBP[i]})
		bm.index[id] = i
		total += weightsBP[i]
	}

	if total != fpmath.BasisPointScale {
		return nil, fmt.Errorf("bucket weights sum to %dbp, want %dbp", total, fpmath.BasisPointScale)
	}

	return bm, nil
}

// Get returns a bucket by id or nil
func (bm *BucketManager) Get(id string) *RiskBucket {
	i, ok := bm.index[id]
	if !ok {
		return nil
	}
	return bm.buckets[i]
}

// All returns buckets in configured order
func (bm *BucketManager) All() []*RiskBucket {
	return bm.buckets
}

// Weights returns the configured weight vector in bucket order
func (bm *BucketManager) Weights() []int64 {
	weights := make([]int64, len(bm.buckets))
	for i, b := range bm.buckets {
		weights[i] = b.WeightBP
	}
	return weights
}

// Allocate spreads a liquidity deposit across buckets. An empty or nil
// allocationsBP falls back to the configured weights.
// Returns the per-bucket amounts in bucket order.
func (bm *BucketManager) Allocate(amount int64, allocationsBP []int64) ([]int64, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("allocation amount must be positive: %d", amount)
	}

	weights := allocationsBP
	if len(weights) == 0 {
		weights = bm.Weights()
	}
	if len(weights) != len(bm.buckets) {
		return nil, fmt.Errorf("allocation vector has %d entries, want %d", len(weights), len(bm.buckets))
	}

	parts := fpmath.SplitByBasisPoints(amount, weights)
	for i, part := range parts {
		bm.buckets[i].AllocatedLiquidity += part
	}
	return parts, nil
}

// Deallocate shrinks bucket allocations when liquidity leaves the pool.
// The split is pro-rata by current allocation, not configured weight, so a
// bucket can never go negative.
func (bm *BucketManager) Deallocate(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("deallocation amount must be positive: %d", amount)
	}

	current := make([]int64, len(bm.buckets))
	var total int64
	for i, b := range bm.buckets {
		current[i] = b.AllocatedLiquidity
		total += b.AllocatedLiquidity
	}
	if total < amount {
		return fmt.Errorf("deallocating %d exceeds allocated liquidity %d", amount, total)
	}

	parts := fpmath.SplitProRata(amount, current)
	for i, part := range parts {
		bm.buckets[i].AllocatedLiquidity -= part
	}
	return nil
}

// AddCoverage spreads new coverage across buckets by configured weight.
// Returns the per-bucket coverage amounts in bucket order.
func (bm *BucketManager) AddCoverage(amount int64) ([]int64, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("coverage amount must be positive: %d", amount)
	}

	parts := fpmath.SplitByBasisPoints(amount, bm.Weights())
	for i, part := range parts {
		bm.buckets[i].ActiveCoverage += part
	}
	return parts, nil
}

// RemoveCoverage reduces active coverage when coverage expires or pays out.
// Pro-rata by current per-bucket coverage to avoid negatives.
func (bm *BucketManager) RemoveCoverage(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("coverage removal must be positive: %d", amount)
	}

	current := make([]int64, len(bm.buckets))
	var total int64
	for i, b := range bm.buckets {
		current[i] = b.ActiveCoverage
		total += b.ActiveCoverage
	}
	if total < amount {
		return fmt.Errorf("removing %d exceeds active coverage %d", amount, total)
	}

	parts := fpmath.SplitProRata(amount, current)
	for i, part := range parts {
		bm.buckets[i].ActiveCoverage -= part
	}
	return nil
}

// TotalActiveCoverage sums active coverage across buckets
func (bm *BucketManager) TotalActiveCoverage() int64 {
	var total int64
	for _, b := range bm.buckets {
		total += b.ActiveCoverage
	}
	return total
}

// TotalAllocated sums allocated liquidity across buckets
func (bm *BucketManager) TotalAllocated() int64 {
	var total int64
	for _, b := range bm.buckets {
		total += b.AllocatedLiquidity
	}
	return total
}

// WeightedUtilizationBP is the pool-wide utilization used for pricing:
// each bucket's utilization weighted by its configured share.
func (bm *BucketManager) WeightedUtilizationBP() int64 {
	var weighted int64
	for _, b := range bm.buckets {
		weighted += fpmath.MulDiv(b.UtilizationBP(), b.WeightBP, fpmath.BasisPointScale, fpmath.RoundDown)
	}
	return weighted
}

// Snapshot returns a deep copy of all buckets (for state hashing / snapshots)
func (bm *BucketManager) Snapshot() []RiskBucket {
	snapshot := make([]RiskBucket, len(bm.buckets))
	for i, b := range bm.buckets {
		snapshot[i] = *b
	}
	return snapshot
}

// Restore overwrites bucket state from a snapshot
func (bm *BucketManager) Restore(buckets []RiskBucket) error {
	if len(buckets) != len(bm.buckets) {
		return fmt.Errorf("snapshot has %d buckets, want %d", len(buckets), len(bm.buckets))
	}
	for i, snap := range buckets {
		if bm.buckets[i].ID != snap.ID {
			return fmt.Errorf("snapshot bucket %q does not match configured %q", snap.ID, bm.buckets[i].ID)
		}
		bm.buckets[i].AllocatedLiquidity = snap.AllocatedLiquidity
		bm.buckets[i].ActiveCoverage = snap.ActiveCoverage
	}
	return nil
}
