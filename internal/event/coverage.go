package event

import (
	"time"

	"github.com/google/uuid"
)

// CoveragePurchased opens coverage for a buyer against one covered asset.
// DepositPaid is the collateral the buyer put up (must meet the 20% floor);
// the premium is computed by the core from bucket utilization at apply time.
type CoveragePurchased struct {
	EventID     uuid.UUID
	BuyerID     uuid.UUID
	Asset       string // Covered stablecoin
	PoolAsset   string
	Amount      int64 // Coverage notional, fixed-point
	DepositPaid int64 // Collateral supplied with the purchase
	Sequence    int64
	Timestamp   time.Time
}

func (c *CoveragePurchased) IdempotencyKey() string {
	return c.EventID.String()
}

func (c *CoveragePurchased) EventType() EventType {
	return EventTypeCoveragePurchased
}

func (c *CoveragePurchased) CoveredAsset() *string {
	return &c.Asset
}

func (c *CoveragePurchased) SourceSequence() int64 {
	return c.Sequence
}

// CoverageExpired deactivates a buyer's coverage without payout and refunds
// the security deposit.
type CoverageExpired struct {
	EventID   uuid.UUID
	BuyerID   uuid.UUID
	PoolAsset string
	Sequence  int64
	Timestamp time.Time
}

func (c *CoverageExpired) IdempotencyKey() string {
	return c.EventID.String()
}

func (c *CoverageExpired) EventType() EventType {
	return EventTypeCoverageExpired
}

func (c *CoverageExpired) CoveredAsset() *string {
	return nil
}

func (c *CoverageExpired) SourceSequence() int64 {
	return c.Sequence
}
