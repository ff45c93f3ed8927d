package projection

import (
	"testing"

	"github.com/google/uuid"
)

func historyEntry(buyerID uuid.UUID, seq int64, eventType string) CoverageHistoryEntry {
	return CoverageHistoryEntry{
		BuyerID:   buyerID,
		Asset:     "RLUSD",
		EventType: eventType,
		Amount:    1_000_000,
		Sequence:  seq,
		Timestamp: seq * 1_000_000,
	}
}

func TestCoverageHistoryNewestFirst(t *testing.T) {
	ch := NewCoverageHistory(100)
	buyer := uuid.New()

	ch.AddEntry(historyEntry(buyer, 1, "purchased"))
	ch.AddEntry(historyEntry(buyer, 5, "first_claim"))
	ch.AddEntry(historyEntry(buyer, 3, "expired"))

	got := ch.QueryByBuyer(buyer, 0)
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	if got[0].Sequence != 5 || got[1].Sequence != 3 || got[2].Sequence != 1 {
		t.Errorf("wrong order: %d, %d, %d", got[0].Sequence, got[1].Sequence, got[2].Sequence)
	}
	if got[0].EventType != "first_claim" {
		t.Errorf("newest entry: got %s, want first_claim", got[0].EventType)
	}
}

func TestCoverageHistoryLimit(t *testing.T) {
	ch := NewCoverageHistory(100)
	buyer := uuid.New()

	for i := int64(1); i <= 10; i++ {
		ch.AddEntry(historyEntry(buyer, i, "purchased"))
	}

	got := ch.QueryByBuyer(buyer, 3)
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	if got[0].Sequence != 10 || got[2].Sequence != 8 {
		t.Errorf("expected newest 3, got %d..%d", got[0].Sequence, got[2].Sequence)
	}
}

func TestCoverageHistoryEviction(t *testing.T) {
	ch := NewCoverageHistory(5)
	buyer := uuid.New()

	for i := int64(1); i <= 8; i++ {
		ch.AddEntry(historyEntry(buyer, i, "purchased"))
	}

	got := ch.QueryByBuyer(buyer, 0)
	if len(got) != 5 {
		t.Fatalf("expected eviction to cap at 5, got %d", len(got))
	}
	// Oldest surviving entry is sequence 4
	if got[len(got)-1].Sequence != 4 {
		t.Errorf("oldest entry: got seq %d, want 4", got[len(got)-1].Sequence)
	}
}

func TestCoverageHistoryIsolatesBuyers(t *testing.T) {
	ch := NewCoverageHistory(100)
	a := uuid.New()
	b := uuid.New()

	ch.AddEntry(historyEntry(a, 1, "purchased"))
	ch.AddEntry(historyEntry(b, 2, "purchased"))
	ch.AddEntry(historyEntry(b, 3, "expired"))

	if got := len(ch.QueryByBuyer(a, 0)); got != 1 {
		t.Errorf("buyer a: expected 1 entry, got %d", got)
	}
	if got := len(ch.QueryByBuyer(b, 0)); got != 2 {
		t.Errorf("buyer b: expected 2 entries, got %d", got)
	}
	if ch.Size() != 3 {
		t.Errorf("size: got %d, want 3", ch.Size())
	}
	if got := ch.QueryByBuyer(uuid.New(), 0); got != nil {
		t.Errorf("unknown buyer: expected nil, got %v", got)
	}
}
