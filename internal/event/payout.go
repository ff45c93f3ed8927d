package event

import (
	"time"

	"github.com/google/uuid"
)

// PayoutTriggerCheck asks the core to evaluate the oracle signal for an
// asset and activate a payout cycle if the risk condition holds.
type PayoutTriggerCheck struct {
	EventID   uuid.UUID
	Asset     string
	Sequence  int64
	Timestamp time.Time
}

func (p *PayoutTriggerCheck) IdempotencyKey() string {
	return p.EventID.String()
}

func (p *PayoutTriggerCheck) EventType() EventType {
	return EventTypePayoutTriggerCheck
}

func (p *PayoutTriggerCheck) CoveredAsset() *string {
	return &p.Asset
}

func (p *PayoutTriggerCheck) SourceSequence() int64 {
	return p.Sequence
}

// FirstPhaseClaim pays a buyer 50% of their coverage during an active cycle.
type FirstPhaseClaim struct {
	EventID   uuid.UUID
	BuyerID   uuid.UUID
	PoolAsset string
	Sequence  int64
	Timestamp time.Time
}

func (f *FirstPhaseClaim) IdempotencyKey() string {
	return f.EventID.String()
}

func (f *FirstPhaseClaim) EventType() EventType {
	return EventTypeFirstPhaseClaim
}

func (f *FirstPhaseClaim) CoveredAsset() *string {
	return nil
}

func (f *FirstPhaseClaim) SourceSequence() int64 {
	return f.Sequence
}

// SecondPhaseClaim pays the remaining coverage, refunds the security deposit
// and closes the buyer's coverage.
type SecondPhaseClaim struct {
	EventID   uuid.UUID
	BuyerID   uuid.UUID
	PoolAsset string
	Sequence  int64
	Timestamp time.Time
}

func (s *SecondPhaseClaim) IdempotencyKey() string {
	return s.EventID.String()
}

func (s *SecondPhaseClaim) EventType() EventType {
	return EventTypeSecondPhaseClaim
}

func (s *SecondPhaseClaim) CoveredAsset() *string {
	return nil
}

func (s *SecondPhaseClaim) SourceSequence() int64 {
	return s.Sequence
}

// PayoutCycleReset closes the active cycle. Force skips the all-buyers-
// terminal check.
type PayoutCycleReset struct {
	EventID   uuid.UUID
	Force     bool
	Sequence  int64
	Timestamp time.Time
}

func (p *PayoutCycleReset) IdempotencyKey() string {
	return p.EventID.String()
}

func (p *PayoutCycleReset) EventType() EventType {
	return EventTypePayoutCycleReset
}

func (p *PayoutCycleReset) CoveredAsset() *string {
	return nil
}

func (p *PayoutCycleReset) SourceSequence() int64 {
	return p.Sequence
}
