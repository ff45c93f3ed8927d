package event

import (
	"fmt"
	"time"
)

// DepegStatusUpdate is an oracle observation of a covered stablecoin.
// Simulated marks demo triggers injected through the simulation endpoint.
type DepegStatusUpdate struct {
	Asset          string
	Depegged       bool
	Simulated      bool
	OracleSequence int64 // Monotonic per asset
	Timestamp      time.Time
}

func (d *DepegStatusUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%s:depeg:%d", d.Asset, d.OracleSequence)
}

func (d *DepegStatusUpdate) EventType() EventType {
	return EventTypeDepegStatusUpdate
}

func (d *DepegStatusUpdate) CoveredAsset() *string {
	return &d.Asset
}

func (d *DepegStatusUpdate) SourceSequence() int64 {
	return d.OracleSequence
}
