package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeLiquidityAdded
	EventTypeWithdrawalRequested
	EventTypeWithdrawalExecuted
	EventTypeCoveragePurchased
	EventTypeCoverageExpired
	EventTypeDepegStatusUpdate
	EventTypePayoutTriggerCheck
	EventTypeFirstPhaseClaim
	EventTypeSecondPhaseClaim
	EventTypePayoutCycleReset
	EventTypePauseSet
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Covered asset context (nullable for global events)
	Asset *string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// CoveredAsset returns the asset context (nil for global events)
	CoveredAsset() *string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64
}

func (et EventType) String() string {
	switch et {
	case EventTypeLiquidityAdded:
		return "LiquidityAdded"
	case EventTypeWithdrawalRequested:
		return "WithdrawalRequested"
	case EventTypeWithdrawalExecuted:
		return "WithdrawalExecuted"
	case EventTypeCoveragePurchased:
		return "CoveragePurchased"
	case EventTypeCoverageExpired:
		return "CoverageExpired"
	case EventTypeDepegStatusUpdate:
		return "DepegStatusUpdate"
	case EventTypePayoutTriggerCheck:
		return "PayoutTriggerCheck"
	case EventTypeFirstPhaseClaim:
		return "FirstPhaseClaim"
	case EventTypeSecondPhaseClaim:
		return "SecondPhaseClaim"
	case EventTypePayoutCycleReset:
		return "PayoutCycleReset"
	case EventTypePauseSet:
		return "PauseSet"
	default:
		return "Unknown"
	}
}
