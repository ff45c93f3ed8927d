package state

import (
	"fmt"
)

// StablecoinState is the engine's view of one covered asset's peg.
type StablecoinState struct {
	Asset       string
	IsSupported bool
	IsDepegged  bool
	UpdatedAt   int64 // Epoch microseconds of last oracle observation
	Simulated   bool  // Last update came from the demo trigger
}

// OracleGateway is the read surface the settlement logic consumes. The
// engine only ever reads the boolean; how the signal is produced is the
// oracle's business.
type OracleGateway interface {
	GetStablecoinState(asset string) StablecoinState
	RiskConditionMet(asset string) bool
}

// OracleState holds peg observations fed in by oracle events.
type OracleState struct {
	assets map[string]*StablecoinState
}

func NewOracleState(supportedAssets []string) *OracleState {
	os := &OracleState{
		assets: make(map[string]*StablecoinState, len(supportedAssets)),
	}
	for _, asset := range supportedAssets {
		os.assets[asset] = &StablecoinState{
			Asset:       asset,
			IsSupported: true,
		}
	}
	return os
}

// GetStablecoinState returns the current view of an asset. Unknown assets
// come back unsupported rather than erroring.
func (os *OracleState) GetStablecoinState(asset string) StablecoinState {
	s := os.assets[asset]
	if s == nil {
		return StablecoinState{Asset: asset}
	}
	return *s
}

// RiskConditionMet reports whether the payout trigger condition holds
func (os *OracleState) RiskConditionMet(asset string) bool {
	s := os.assets[asset]
	return s != nil && s.IsDepegged
}

// SetDepegged applies an oracle observation
func (os *OracleState) SetDepegged(asset string, depegged, simulated bool, updatedAt int64) error {
	s := os.assets[asset]
	if s == nil {
		return fmt.Errorf("asset not supported")
	}

	s.IsDepegged = depegged
	s.Simulated = simulated
	s.UpdatedAt = updatedAt
	return nil
}

// All returns every tracked asset state (snapshot creation)
func (os *OracleState) All() []StablecoinState {
	result := make([]StablecoinState, 0, len(os.assets))
	for _, s := range os.assets {
		result = append(result, *s)
	}
	return result
}

// Restore directly sets an asset state (snapshot restore)
func (os *OracleState) Restore(s StablecoinState) {
	copied := s
	os.assets[s.Asset] = &copied
}
