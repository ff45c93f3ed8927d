package event

import (
	"time"

	"github.com/google/uuid"
)

// WithdrawalRequested starts the withdrawal delay clock for a provider.
type WithdrawalRequested struct {
	EventID    uuid.UUID
	ProviderID uuid.UUID
	Asset      string
	Amount     int64 // Fixed-point
	Sequence   int64
	Timestamp  time.Time
}

func (w *WithdrawalRequested) IdempotencyKey() string {
	return w.EventID.String()
}

func (w *WithdrawalRequested) EventType() EventType {
	return EventTypeWithdrawalRequested
}

func (w *WithdrawalRequested) CoveredAsset() *string {
	return nil
}

func (w *WithdrawalRequested) SourceSequence() int64 {
	return w.Sequence
}

// WithdrawalExecuted pays out a matured withdrawal request.
type WithdrawalExecuted struct {
	EventID    uuid.UUID
	ProviderID uuid.UUID
	Asset      string
	Sequence   int64
	Timestamp  time.Time
}

func (w *WithdrawalExecuted) IdempotencyKey() string {
	return w.EventID.String()
}

func (w *WithdrawalExecuted) EventType() EventType {
	return EventTypeWithdrawalExecuted
}

func (w *WithdrawalExecuted) CoveredAsset() *string {
	return nil
}

func (w *WithdrawalExecuted) SourceSequence() int64 {
	return w.Sequence
}
