package event

import (
	"time"

	"github.com/google/uuid"
)

// LiquidityAdded represents a provider deposit into the pool.
// AllocationsBP optionally overrides the configured bucket weights; empty
// means "allocate by configured weights".
type LiquidityAdded struct {
	EventID       uuid.UUID
	ProviderID    uuid.UUID
	Asset         string
	Amount        int64 // Fixed-point
	AllocationsBP []int64
	Sequence      int64
	Timestamp     time.Time
}

func (l *LiquidityAdded) IdempotencyKey() string {
	return l.EventID.String()
}

func (l *LiquidityAdded) EventType() EventType {
	return EventTypeLiquidityAdded
}

func (l *LiquidityAdded) CoveredAsset() *string {
	return nil // Global event
}

func (l *LiquidityAdded) SourceSequence() int64 {
	return l.Sequence
}
