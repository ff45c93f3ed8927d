package projection

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// CoverageHistoryEntry records a coverage lifecycle event for the query API.
type CoverageHistoryEntry struct {
	BuyerID         uuid.UUID `json:"buyer_id"`
	Asset           string    `json:"asset"`
	EventType       string    `json:"event_type"` // purchased, expired, first_claim, second_claim
	Amount          int64     `json:"amount"`
	SecurityDeposit int64     `json:"security_deposit"`
	PremiumPaid     int64     `json:"premium_paid"`
	PayoutAmount    int64     `json:"payout_amount"`
	Sequence        int64     `json:"sequence"`
	Timestamp       int64     `json:"timestamp"` // epoch micros
}

// CoverageHistory is an in-memory projection of coverage lifecycle events.
// It is bounded per buyer and safe for concurrent reads from query handlers
// while the projection worker appends.
type CoverageHistory struct {
	mu         sync.RWMutex
	byBuyer    map[uuid.UUID][]CoverageHistoryEntry
	maxPerUser int
}

func NewCoverageHistory(maxPerUser int) *CoverageHistory {
	if maxPerUser <= 0 {
		maxPerUser = 1000
	}
	return &CoverageHistory{
		byBuyer:    make(map[uuid.UUID][]CoverageHistoryEntry),
		maxPerUser: maxPerUser,
	}
}

// AddEntry appends a history entry, evicting the oldest if over capacity.
func (ch *CoverageHistory) AddEntry(entry CoverageHistoryEntry) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	entries := append(ch.byBuyer[entry.BuyerID], entry)
	if len(entries) > ch.maxPerUser {
		entries = entries[len(entries)-ch.maxPerUser:]
	}
	ch.byBuyer[entry.BuyerID] = entries
}

// QueryByBuyer returns up to limit entries for a buyer, newest first.
func (ch *CoverageHistory) QueryByBuyer(buyerID uuid.UUID, limit int) []CoverageHistoryEntry {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	entries := ch.byBuyer[buyerID]
	if len(entries) == 0 {
		return nil
	}

	out := make([]CoverageHistoryEntry, len(entries))
	copy(out, entries)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Sequence > out[j].Sequence
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Size returns the total number of entries held.
func (ch *CoverageHistory) Size() int {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	total := 0
	for _, entries := range ch.byBuyer {
		total += len(entries)
	}
	return total
}
