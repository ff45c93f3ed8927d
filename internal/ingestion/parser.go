package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"CoverLedger/internal/event"

	"github.com/google/uuid"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into a
// typed event.Event. The ingestion shell validates, parses, and converts raw
// events before sending to the settlement core.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "LiquidityAdded":
		return parseLiquidityAdded(raw.Data)
	case "WithdrawalRequested":
		return parseWithdrawalRequested(raw.Data)
	case "WithdrawalExecuted":
		return parseWithdrawalExecuted(raw.Data)
	case "CoveragePurchased":
		return parseCoveragePurchased(raw.Data)
	case "CoverageExpired":
		return parseCoverageExpired(raw.Data)
	case "DepegStatusUpdate":
		return parseDepegStatusUpdate(raw.Data)
	case "PayoutTriggerCheck":
		return parsePayoutTriggerCheck(raw.Data)
	case "FirstPhaseClaim":
		return parseFirstPhaseClaim(raw.Data)
	case "SecondPhaseClaim":
		return parseSecondPhaseClaim(raw.Data)
	case "PayoutCycleReset":
		return parsePayoutCycleReset(raw.Data)
	case "PauseSet":
		return parsePauseSet(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// MarshalEvent serializes a typed event back into its wire JSON form.
// Persisted event payloads must round-trip through ParseRawEvent so the
// event log stays replayable.
func MarshalEvent(evt event.Event) ([]byte, error) {
	switch e := evt.(type) {
	case *event.LiquidityAdded:
		return json.Marshal(liquidityAddedJSON{
			EventID:       e.EventID.String(),
			ProviderID:    e.ProviderID.String(),
			Asset:         e.Asset,
			Amount:        e.Amount,
			AllocationsBP: e.AllocationsBP,
			Sequence:      e.Sequence,
			TimestampUs:   e.Timestamp.UnixMicro(),
		})
	case *event.WithdrawalRequested:
		return json.Marshal(withdrawalJSON{
			EventID:     e.EventID.String(),
			ProviderID:  e.ProviderID.String(),
			Asset:       e.Asset,
			Amount:      e.Amount,
			Sequence:    e.Sequence,
			TimestampUs: e.Timestamp.UnixMicro(),
		})
	case *event.WithdrawalExecuted:
		return json.Marshal(withdrawalJSON{
			EventID:     e.EventID.String(),
			ProviderID:  e.ProviderID.String(),
			Asset:       e.Asset,
			Sequence:    e.Sequence,
			TimestampUs: e.Timestamp.UnixMicro(),
		})
	case *event.CoveragePurchased:
		return json.Marshal(coveragePurchasedJSON{
			EventID:      e.EventID.String(),
			BuyerID:      e.BuyerID.String(),
			CoveredAsset: e.Asset,
			PoolAsset:    e.PoolAsset,
			Amount:       e.Amount,
			DepositPaid:  e.DepositPaid,
			Sequence:     e.Sequence,
			TimestampUs:  e.Timestamp.UnixMicro(),
		})
	case *event.CoverageExpired:
		return json.Marshal(coverageExpiredJSON{
			EventID:     e.EventID.String(),
			BuyerID:     e.BuyerID.String(),
			PoolAsset:   e.PoolAsset,
			Sequence:    e.Sequence,
			TimestampUs: e.Timestamp.UnixMicro(),
		})
	case *event.DepegStatusUpdate:
		return json.Marshal(depegStatusJSON{
			Asset:          e.Asset,
			Depegged:       e.Depegged,
			Simulated:      e.Simulated,
			OracleSequence: e.OracleSequence,
			TimestampUs:    e.Timestamp.UnixMicro(),
		})
	case *event.PayoutTriggerCheck:
		return json.Marshal(payoutTriggerJSON{
			EventID:     e.EventID.String(),
			Asset:       e.Asset,
			Sequence:    e.Sequence,
			TimestampUs: e.Timestamp.UnixMicro(),
		})
	case *event.FirstPhaseClaim:
		return json.Marshal(claimJSON{
			EventID:     e.EventID.String(),
			BuyerID:     e.BuyerID.String(),
			PoolAsset:   e.PoolAsset,
			Sequence:    e.Sequence,
			TimestampUs: e.Timestamp.UnixMicro(),
		})
	case *event.SecondPhaseClaim:
		return json.Marshal(claimJSON{
			EventID:     e.EventID.String(),
			BuyerID:     e.BuyerID.String(),
			PoolAsset:   e.PoolAsset,
			Sequence:    e.Sequence,
			TimestampUs: e.Timestamp.UnixMicro(),
		})
	case *event.PayoutCycleReset:
		return json.Marshal(cycleResetJSON{
			EventID:     e.EventID.String(),
			Force:       e.Force,
			Sequence:    e.Sequence,
			TimestampUs: e.Timestamp.UnixMicro(),
		})
	case *event.PauseSet:
		return json.Marshal(pauseSetJSON{
			EventID:     e.EventID.String(),
			Paused:      e.Paused,
			Sequence:    e.Sequence,
			TimestampUs: e.Timestamp.UnixMicro(),
		})
	default:
		return nil, fmt.Errorf("unknown event type: %T", evt)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers.

type liquidityAddedJSON struct {
	EventID       string  `json:"event_id"`
	ProviderID    string  `json:"provider_id"`
	Asset         string  `json:"asset"`
	Amount        int64   `json:"amount"`
	AllocationsBP []int64 `json:"allocations_bp,omitempty"`
	Sequence      int64   `json:"sequence"`
	TimestampUs   int64   `json:"timestamp_us"`
}

func parseLiquidityAdded(data []byte) (*event.LiquidityAdded, error) {
	var j liquidityAddedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse LiquidityAdded: %w", err)
	}
	eventID, err := uuid.Parse(j.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event_id: %w", err)
	}
	providerID, err := uuid.Parse(j.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("parse provider_id: %w", err)
	}
	return &event.LiquidityAdded{
		EventID:       eventID,
		ProviderID:    providerID,
		Asset:         j.Asset,
		Amount:        j.Amount,
		AllocationsBP: j.AllocationsBP,
		Sequence:      j.Sequence,
		Timestamp:     time.UnixMicro(j.TimestampUs),
	}, nil
}

type withdrawalJSON struct {
	EventID     string `json:"event_id"`
	ProviderID  string `json:"provider_id"`
	Asset       string `json:"asset"`
	Amount      int64  `json:"amount,omitempty"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseWithdrawalRequested(data []byte) (*event.WithdrawalRequested, error) {
	var j withdrawalJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse WithdrawalRequested: %w", err)
	}
	eventID, err := uuid.Parse(j.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event_id: %w", err)
	}
	providerID, err := uuid.Parse(j.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("parse provider_id: %w", err)
	}
	return &event.WithdrawalRequested{
		EventID:    eventID,
		ProviderID: providerID,
		Asset:      j.Asset,
		Amount:     j.Amount,
		Sequence:   j.Sequence,
		Timestamp:  time.UnixMicro(j.TimestampUs),
	}, nil
}

func parseWithdrawalExecuted(data []byte) (*event.WithdrawalExecuted, error) {
	var j withdrawalJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse WithdrawalExecuted: %w", err)
	}
	eventID, err := uuid.Parse(j.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event_id: %w", err)
	}
	providerID, err := uuid.Parse(j.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("parse provider_id: %w", err)
	}
	return &event.WithdrawalExecuted{
		EventID:    eventID,
		ProviderID: providerID,
		Asset:      j.Asset,
		Sequence:   j.Sequence,
		Timestamp:  time.UnixMicro(j.TimestampUs),
	}, nil
}

type coveragePurchasedJSON struct {
	EventID      string `json:"event_id"`
	BuyerID      string `json:"buyer_id"`
	CoveredAsset string `json:"covered_asset"`
	PoolAsset    string `json:"pool_asset"`
	Amount       int64  `json:"amount"`
	DepositPaid  int64  `json:"deposit_paid"`
	Sequence     int64  `json:"sequence"`
	TimestampUs  int64  `json:"timestamp_us"`
}

func parseCoveragePurchased(data []byte) (*event.CoveragePurchased, error) {
	var j coveragePurchasedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CoveragePurchased: %w", err)
	}
	eventID, err := uuid.Parse(j.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event_id: %w", err)
	}
	buyerID, err := uuid.Parse(j.BuyerID)
	if err != nil {
		return nil, fmt.Errorf("parse buyer_id: %w", err)
	}
	return &event.CoveragePurchased{
		EventID:     eventID,
		BuyerID:     buyerID,
		Asset:       j.CoveredAsset,
		PoolAsset:   j.PoolAsset,
		Amount:      j.Amount,
		DepositPaid: j.DepositPaid,
		Sequence:    j.Sequence,
		Timestamp:   time.UnixMicro(j.TimestampUs),
	}, nil
}

type coverageExpiredJSON struct {
	EventID     string `json:"event_id"`
	BuyerID     string `json:"buyer_id"`
	PoolAsset   string `json:"pool_asset"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseCoverageExpired(data []byte) (*event.CoverageExpired, error) {
	var j coverageExpiredJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CoverageExpired: %w", err)
	}
	eventID, err := uuid.Parse(j.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event_id: %w", err)
	}
	buyerID, err := uuid.Parse(j.BuyerID)
	if err != nil {
		return nil, fmt.Errorf("parse buyer_id: %w", err)
	}
	return &event.CoverageExpired{
		EventID:   eventID,
		BuyerID:   buyerID,
		PoolAsset: j.PoolAsset,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type depegStatusJSON struct {
	Asset          string `json:"asset"`
	Depegged       bool   `json:"depegged"`
	Simulated      bool   `json:"simulated"`
	OracleSequence int64  `json:"oracle_sequence"`
	TimestampUs    int64  `json:"timestamp_us"`
}

func parseDepegStatusUpdate(data []byte) (*event.DepegStatusUpdate, error) {
	var j depegStatusJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse DepegStatusUpdate: %w", err)
	}
	return &event.DepegStatusUpdate{
		Asset:          j.Asset,
		Depegged:       j.Depegged,
		Simulated:      j.Simulated,
		OracleSequence: j.OracleSequence,
		Timestamp:      time.UnixMicro(j.TimestampUs),
	}, nil
}

type payoutTriggerJSON struct {
	EventID     string `json:"event_id"`
	Asset       string `json:"asset"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parsePayoutTriggerCheck(data []byte) (*event.PayoutTriggerCheck, error) {
	var j payoutTriggerJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PayoutTriggerCheck: %w", err)
	}
	eventID, err := uuid.Parse(j.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event_id: %w", err)
	}
	return &event.PayoutTriggerCheck{
		EventID:   eventID,
		Asset:     j.Asset,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type claimJSON struct {
	EventID     string `json:"event_id"`
	BuyerID     string `json:"buyer_id"`
	PoolAsset   string `json:"pool_asset"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseFirstPhaseClaim(data []byte) (*event.FirstPhaseClaim, error) {
	var j claimJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse FirstPhaseClaim: %w", err)
	}
	eventID, err := uuid.Parse(j.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event_id: %w", err)
	}
	buyerID, err := uuid.Parse(j.BuyerID)
	if err != nil {
		return nil, fmt.Errorf("parse buyer_id: %w", err)
	}
	return &event.FirstPhaseClaim{
		EventID:   eventID,
		BuyerID:   buyerID,
		PoolAsset: j.PoolAsset,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

func parseSecondPhaseClaim(data []byte) (*event.SecondPhaseClaim, error) {
	var j claimJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SecondPhaseClaim: %w", err)
	}
	eventID, err := uuid.Parse(j.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event_id: %w", err)
	}
	buyerID, err := uuid.Parse(j.BuyerID)
	if err != nil {
		return nil, fmt.Errorf("parse buyer_id: %w", err)
	}
	return &event.SecondPhaseClaim{
		EventID:   eventID,
		BuyerID:   buyerID,
		PoolAsset: j.PoolAsset,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type cycleResetJSON struct {
	EventID     string `json:"event_id"`
	Force       bool   `json:"force"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parsePayoutCycleReset(data []byte) (*event.PayoutCycleReset, error) {
	var j cycleResetJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PayoutCycleReset: %w", err)
	}
	eventID, err := uuid.Parse(j.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event_id: %w", err)
	}
	return &event.PayoutCycleReset{
		EventID:   eventID,
		Force:     j.Force,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type pauseSetJSON struct {
	EventID     string `json:"event_id"`
	Paused      bool   `json:"paused"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parsePauseSet(data []byte) (*event.PauseSet, error) {
	var j pauseSetJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PauseSet: %w", err)
	}
	eventID, err := uuid.Parse(j.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event_id: %w", err)
	}
	return &event.PauseSet{
		EventID:   eventID,
		Paused:    j.Paused,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}
