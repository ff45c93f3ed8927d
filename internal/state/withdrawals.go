package state

import (
	"fmt"

	"github.com/google/uuid"
)

// WithdrawalRequest is a provider's pending exit. The amount is already
// locked in the provider's pending_withdrawal ledger account.
type WithdrawalRequest struct {
	ProviderID  uuid.UUID
	Amount      int64
	RequestTime int64 // Epoch microseconds (versioned input)
	UnlockTime  int64 // RequestTime + configured delay
}

// WithdrawalQueue tracks pending withdrawal requests, one per provider.
type WithdrawalQueue struct {
	pending map[uuid.UUID]*WithdrawalRequest
}

func NewWithdrawalQueue() *WithdrawalQueue {
	return &WithdrawalQueue{
		pending: make(map[uuid.UUID]*WithdrawalRequest),
	}
}

// Request registers a pending withdrawal. A provider may hold only one at a
// time; a second request before execution is rejected rather than merged so
// the delay clock can never be gamed.
func (wq *WithdrawalQueue) Request(providerID uuid.UUID, amount, requestTime, unlockTime int64) (*WithdrawalRequest, error) {
	if wq.pending[providerID] != nil {
		return nil, fmt.Errorf("request already pending")
	}

	req := &WithdrawalRequest{
		ProviderID:  providerID,
		Amount:      amount,
		RequestTime: requestTime,
		UnlockTime:  unlockTime,
	}
	wq.pending[providerID] = req
	return req, nil
}

// Pending returns the provider's pending request or nil
func (wq *WithdrawalQueue) Pending(providerID uuid.UUID) *WithdrawalRequest {
	return wq.pending[providerID]
}

// Complete removes a request after payout
func (wq *WithdrawalQueue) Complete(providerID uuid.UUID) error {
	if wq.pending[providerID] == nil {
		return fmt.Errorf("no pending withdrawal")
	}
	delete(wq.pending, providerID)
	return nil
}

// All returns every pending request (snapshot creation)
func (wq *WithdrawalQueue) All() []*WithdrawalRequest {
	result := make([]*WithdrawalRequest, 0, len(wq.pending))
	for _, req := range wq.pending {
		result = append(result, req)
	}
	return result
}

// Restore directly sets a request (snapshot restore)
func (wq *WithdrawalQueue) Restore(req *WithdrawalRequest) {
	wq.pending[req.ProviderID] = req
}
