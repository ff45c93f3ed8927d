package state

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Coverage is one buyer's protection position. A buyer holds at most one
// active coverage at a time.
type Coverage struct {
	BuyerID           uuid.UUID
	Asset             string // Covered stablecoin
	Amount            int64  // Coverage notional
	SecurityDeposit   int64
	PremiumPaid       int64
	IsActive          bool
	PurchaseTime      int64 // Epoch microseconds (versioned input)
	BucketAllocations []int64
	PaidOut           int64 // Cumulative claim payments
}

// RemainingPayout is what a full claim would still owe the buyer
func (c *Coverage) RemainingPayout() int64 {
	return c.Amount - c.PaidOut
}

// CoverageRegistry manages coverage positions keyed by buyer
type CoverageRegistry struct {
	coverages map[uuid.UUID]*Coverage
}

func NewCoverageRegistry() *CoverageRegistry {
	return &CoverageRegistry{
		coverages: make(map[uuid.UUID]*Coverage),
	}
}

// Active returns the buyer's active coverage or nil
func (cr *CoverageRegistry) Active(buyerID uuid.UUID) *Coverage {
	c := cr.coverages[buyerID]
	if c == nil || !c.IsActive {
		return nil
	}
	return c
}

// Purchase records a new active coverage. Rejects if the buyer already has
// one — replacing live protection would reset its payout history.
func (cr *CoverageRegistry) Purchase(c *Coverage) error {
	if existing := cr.Active(c.BuyerID); existing != nil {
		return fmt.Errorf("coverage already active")
	}

	c.IsActive = true
	cr.coverages[c.BuyerID] = c
	return nil
}

// Deactivate closes the buyer's coverage (expiry or final claim settlement).
// The record is kept for history queries.
func (cr *CoverageRegistry) Deactivate(buyerID uuid.UUID) error {
	c := cr.Active(buyerID)
	if c == nil {
		return fmt.Errorf("no active coverage")
	}
	c.IsActive = false
	return nil
}

// ActiveByAsset returns active coverages for one covered asset, sorted by
// buyer ID for deterministic iteration
func (cr *CoverageRegistry) ActiveByAsset(asset string) []*Coverage {
	result := make([]*Coverage, 0)
	for _, c := range cr.coverages {
		if c.IsActive && c.Asset == asset {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].BuyerID.String() < result[j].BuyerID.String()
	})
	return result
}

// AllActive returns every active coverage sorted by buyer ID
func (cr *CoverageRegistry) AllActive() []*Coverage {
	result := make([]*Coverage, 0)
	for _, c := range cr.coverages {
		if c.IsActive {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].BuyerID.String() < result[j].BuyerID.String()
	})
	return result
}

// TotalActive sums the unpaid notional of active coverages. Phase-1 claims
// reduce the backing requirement by the paid portion.
func (cr *CoverageRegistry) TotalActive() int64 {
	var total int64
	for _, c := range cr.coverages {
		if c.IsActive {
			total += c.RemainingPayout()
		}
	}
	return total
}

// Get returns the buyer's coverage record, active or not
func (cr *CoverageRegistry) Get(buyerID uuid.UUID) *Coverage {
	return cr.coverages[buyerID]
}

// Restore directly sets a coverage (snapshot restore)
func (cr *CoverageRegistry) Restore(c *Coverage) {
	cr.coverages[c.BuyerID] = c
}
