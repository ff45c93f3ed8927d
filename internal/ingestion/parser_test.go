package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"CoverLedger/internal/event"
	"CoverLedger/internal/ingestion"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseLiquidityAdded(t *testing.T) {
	payload := map[string]interface{}{
		"event_id":       "550e8400-e29b-41d4-a716-446655440000",
		"provider_id":    "660e8400-e29b-41d4-a716-446655440001",
		"asset":          "USDC",
		"amount":         int64(10_000_000),
		"allocations_bp": []int64{5000, 2000, 3000},
		"sequence":       int64(3),
		"timestamp_us":   int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "LiquidityAdded")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	la, ok := evt.(*event.LiquidityAdded)
	if !ok {
		t.Fatalf("expected *event.LiquidityAdded, got %T", evt)
	}

	if la.Asset != "USDC" {
		t.Errorf("asset: got %s, want USDC", la.Asset)
	}
	if la.Amount != 10_000_000 {
		t.Errorf("amount: got %d, want 10_000_000", la.Amount)
	}
	if len(la.AllocationsBP) != 3 || la.AllocationsBP[0] != 5000 {
		t.Errorf("allocations_bp: got %v", la.AllocationsBP)
	}
	if la.SourceSequence() != 3 {
		t.Errorf("sequence: got %d, want 3", la.SourceSequence())
	}
	if la.Timestamp.UnixMicro() != 1700000000000000 {
		t.Errorf("timestamp: got %d", la.Timestamp.UnixMicro())
	}
	if la.EventType() != event.EventTypeLiquidityAdded {
		t.Errorf("event type: got %v", la.EventType())
	}
}

func TestParseCoveragePurchased(t *testing.T) {
	payload := map[string]interface{}{
		"event_id":      "550e8400-e29b-41d4-a716-446655440000",
		"buyer_id":      "660e8400-e29b-41d4-a716-446655440001",
		"covered_asset": "RLUSD",
		"pool_asset":    "USDC",
		"amount":        int64(5_000_000),
		"deposit_paid":  int64(1_000_000),
		"sequence":      int64(0),
		"timestamp_us":  int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "CoveragePurchased")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	cp, ok := evt.(*event.CoveragePurchased)
	if !ok {
		t.Fatalf("expected *event.CoveragePurchased, got %T", evt)
	}

	if cp.Asset != "RLUSD" {
		t.Errorf("covered asset: got %s, want RLUSD", cp.Asset)
	}
	if cp.DepositPaid != 1_000_000 {
		t.Errorf("deposit_paid: got %d, want 1_000_000", cp.DepositPaid)
	}
	if cp.CoveredAsset() == nil || *cp.CoveredAsset() != "RLUSD" {
		t.Error("CoveredAsset() must return the covered stablecoin")
	}
}

func TestParseDepegStatusUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"asset":           "RLUSD",
		"depegged":        true,
		"simulated":       false,
		"oracle_sequence": int64(17),
		"timestamp_us":    int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "DepegStatusUpdate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	du, ok := evt.(*event.DepegStatusUpdate)
	if !ok {
		t.Fatalf("expected *event.DepegStatusUpdate, got %T", evt)
	}

	if !du.Depegged {
		t.Error("expected depegged")
	}
	if du.SourceSequence() != 17 {
		t.Errorf("oracle sequence: got %d, want 17", du.SourceSequence())
	}
	// Oracle events derive their idempotency key from asset and sequence
	if du.IdempotencyKey() != "RLUSD:depeg:17" {
		t.Errorf("idempotency key: got %s", du.IdempotencyKey())
	}
}

func TestParseWithdrawalEvents(t *testing.T) {
	reqPayload := map[string]interface{}{
		"event_id":     "550e8400-e29b-41d4-a716-446655440000",
		"provider_id":  "660e8400-e29b-41d4-a716-446655440001",
		"asset":        "USDC",
		"amount":       int64(2_500_000),
		"sequence":     int64(4),
		"timestamp_us": int64(1700000000000000),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, reqPayload), "WithdrawalRequested")
	if err != nil {
		t.Fatalf("parse requested failed: %v", err)
	}
	wr := evt.(*event.WithdrawalRequested)
	if wr.Amount != 2_500_000 {
		t.Errorf("amount: got %d, want 2_500_000", wr.Amount)
	}

	execPayload := map[string]interface{}{
		"event_id":     "770e8400-e29b-41d4-a716-446655440002",
		"provider_id":  "660e8400-e29b-41d4-a716-446655440001",
		"asset":        "USDC",
		"sequence":     int64(5),
		"timestamp_us": int64(1700000100000000),
	}

	evt, err = ingestion.ParseRawEvent(rawFromJSON(t, execPayload), "WithdrawalExecuted")
	if err != nil {
		t.Fatalf("parse executed failed: %v", err)
	}
	if _, ok := evt.(*event.WithdrawalExecuted); !ok {
		t.Fatalf("expected *event.WithdrawalExecuted, got %T", evt)
	}
}

func TestParseRawEvent_Errors(t *testing.T) {
	_, err := ingestion.ParseRawEvent(rawFromJSON(t, map[string]interface{}{}), "NoSuchEvent")
	if err == nil {
		t.Error("expected error for unknown event type")
	}

	// Bad UUID
	payload := map[string]interface{}{
		"event_id":     "not-a-uuid",
		"provider_id":  "660e8400-e29b-41d4-a716-446655440001",
		"asset":        "USDC",
		"amount":       int64(1),
		"sequence":     int64(0),
		"timestamp_us": int64(1700000000000000),
	}
	_, err = ingestion.ParseRawEvent(rawFromJSON(t, payload), "LiquidityAdded")
	if err == nil {
		t.Error("expected error for malformed event_id")
	}

	// Malformed JSON
	raw := ingestion.RawEvent{Data: []byte("{nope"), AckFunc: func() {}, NakFunc: func() {}}
	_, err = ingestion.ParseRawEvent(raw, "PauseSet")
	if err == nil {
		t.Error("expected error for malformed JSON")
	}
}
