package state

import (
	"sort"

	"github.com/google/uuid"
)

// ProviderPosition tracks one liquidity provider's principal in the pool.
// SuppliedAmount mirrors the provider's supplied ledger account and exists so
// claim socialization can iterate providers without scanning the balance map.
type ProviderPosition struct {
	ProviderID     uuid.UUID
	SuppliedAmount int64
	JoinedAt       int64 // Epoch microseconds of first deposit
	Version        int64
}

// ProviderBook manages provider positions
type ProviderBook struct {
	providers map[uuid.UUID]*ProviderPosition
}

func NewProviderBook() *ProviderBook {
	return &ProviderBook{
		providers: make(map[uuid.UUID]*ProviderPosition),
	}
}

// Get returns an existing position or nil
func (pb *ProviderBook) Get(providerID uuid.UUID) *ProviderPosition {
	return pb.providers[providerID]
}

// Credit adds supplied principal, creating the position on first deposit
func (pb *ProviderBook) Credit(providerID uuid.UUID, amount int64, timestamp int64) *ProviderPosition {
	pos := pb.providers[providerID]
	if pos == nil {
		pos = &ProviderPosition{
			ProviderID: providerID,
			JoinedAt:   timestamp,
		}
		pb.providers[providerID] = pos
	}

	pos.SuppliedAmount += amount
	pos.Version++
	return pos
}

// Debit removes supplied principal (withdrawal lock or claim socialization)
func (pb *ProviderBook) Debit(providerID uuid.UUID, amount int64) *ProviderPosition {
	pos := pb.providers[providerID]
	if pos == nil {
		return nil
	}

	pos.SuppliedAmount -= amount
	pos.Version++
	return pos
}

// All returns positions sorted by provider ID for deterministic iteration
func (pb *ProviderBook) All() []*ProviderPosition {
	result := make([]*ProviderPosition, 0, len(pb.providers))
	for _, pos := range pb.providers {
		result = append(result, pos)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ProviderID.String() < result[j].ProviderID.String()
	})
	return result
}

// TotalSupplied sums principal across all providers
func (pb *ProviderBook) TotalSupplied() int64 {
	var total int64
	for _, pos := range pb.providers {
		total += pos.SuppliedAmount
	}
	return total
}

// Restore directly sets a position (snapshot restore)
func (pb *ProviderBook) Restore(pos *ProviderPosition) {
	pb.providers[pos.ProviderID] = pos
}
