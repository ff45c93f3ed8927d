package state

import (
	"fmt"

	"github.com/google/uuid"
)

// PayoutPhase is the single authoritative per-buyer claim record within a
// payout cycle.
type PayoutPhase int32

const (
	PhaseNone PayoutPhase = iota
	PhaseFirstPaid
	PhaseSecondPaid
)

func (p PayoutPhase) String() string {
	switch p {
	case PhaseNone:
		return "none"
	case PhaseFirstPaid:
		return "first_paid"
	case PhaseSecondPaid:
		return "second_paid"
	}
	return "unknown"
}

// PayoutMachine is the global payout cycle state. One cycle at a time; the
// cycle is triggered by an oracle risk signal and pays each covered buyer in
// two 50% phases with cooldowns between them.
//
// All times are event timestamps in epoch microseconds. The machine never
// reads the wall clock.
type PayoutMachine struct {
	active      bool
	asset       string // Covered asset that triggered the cycle
	triggerTime int64

	phases      map[uuid.UUID]PayoutPhase
	firstPaidAt map[uuid.UUID]int64

	phase1Delay int64 // Micros between trigger and first claim
	phase2Delay int64 // Micros between a buyer's first and second claim
}

func NewPayoutMachine(phase1Delay, phase2Delay int64) *PayoutMachine {
	return &PayoutMachine{
		phases:      make(map[uuid.UUID]PayoutPhase),
		firstPaidAt: make(map[uuid.UUID]int64),
		phase1Delay: phase1Delay,
		phase2Delay: phase2Delay,
	}
}

// IsActive reports whether a payout cycle is running
func (pm *PayoutMachine) IsActive() bool {
	return pm.active
}

// Asset returns the covered asset of the active cycle
func (pm *PayoutMachine) Asset() string {
	return pm.asset
}

// TriggerTime returns when the active cycle started
func (pm *PayoutMachine) TriggerTime() int64 {
	return pm.triggerTime
}

// Phase returns a buyer's claim progress in the active cycle
func (pm *PayoutMachine) Phase(buyerID uuid.UUID) PayoutPhase {
	return pm.phases[buyerID]
}

// Trigger activates a payout cycle. Triggering an already-active cycle is an
// idempotent no-op: the oracle may repeat the signal.
func (pm *PayoutMachine) Trigger(asset string, triggerTime int64) bool {
	if pm.active {
		return false
	}

	pm.active = true
	pm.asset = asset
	pm.triggerTime = triggerTime
	return true
}

// CanClaimFirst validates a first-phase claim at the given event time.
func (pm *PayoutMachine) CanClaimFirst(buyerID uuid.UUID, now int64) error {
	if !pm.active {
		return fmt.Errorf("no active payout cycle")
	}
	if pm.phases[buyerID] != PhaseNone {
		return fmt.Errorf("cannot claim first phase: already claimed")
	}
	if now-pm.triggerTime < pm.phase1Delay {
		return fmt.Errorf("cannot claim first phase: cooldown not elapsed")
	}
	return nil
}

// MarkFirstPaid records a completed first-phase payment
func (pm *PayoutMachine) MarkFirstPaid(buyerID uuid.UUID, paidAt int64) {
	pm.phases[buyerID] = PhaseFirstPaid
	pm.firstPaidAt[buyerID] = paidAt
}

// CanClaimSecond validates a second-phase claim at the given event time.
// The cooldown runs from the buyer's own first-phase payment.
func (pm *PayoutMachine) CanClaimSecond(buyerID uuid.UUID, now int64) error {
	if !pm.active {
		return fmt.Errorf("no active payout cycle")
	}
	switch pm.phases[buyerID] {
	case PhaseNone:
		return fmt.Errorf("cannot claim second phase: first phase not claimed")
	case PhaseSecondPaid:
		return fmt.Errorf("cannot claim second phase: already claimed")
	}
	if now-pm.firstPaidAt[buyerID] < pm.phase2Delay {
		return fmt.Errorf("cannot claim second phase: cooldown not elapsed")
	}
	return nil
}

// MarkSecondPaid records a completed second-phase payment
func (pm *PayoutMachine) MarkSecondPaid(buyerID uuid.UUID) {
	pm.phases[buyerID] = PhaseSecondPaid
}

// Reset closes the cycle. Without force, every buyer that entered the phase
// map must be terminal and no active coverage may remain unsettled for the
// cycle's asset; activeRemaining is that residual count supplied by the
// caller.
func (pm *PayoutMachine) Reset(force bool, activeRemaining int) error {
	if !pm.active {
		return fmt.Errorf("no active payout cycle")
	}

	if !force {
		for buyerID, phase := range pm.phases {
			if phase != PhaseSecondPaid {
				return fmt.Errorf("buyer %s has unsettled claim in phase %s", buyerID, phase)
			}
		}
		if activeRemaining > 0 {
			return fmt.Errorf("%d coverages still active for %s", activeRemaining, pm.asset)
		}
	}

	pm.active = false
	pm.asset = ""
	pm.triggerTime = 0
	pm.phases = make(map[uuid.UUID]PayoutPhase)
	pm.firstPaidAt = make(map[uuid.UUID]int64)
	return nil
}

// PayoutSnapshot is the serializable machine state
type PayoutSnapshot struct {
	Active      bool
	Asset       string
	TriggerTime int64
	Phases      map[uuid.UUID]PayoutPhase
	FirstPaidAt map[uuid.UUID]int64
}

// Snapshot returns a deep copy of the machine state
func (pm *PayoutMachine) Snapshot() PayoutSnapshot {
	snap := PayoutSnapshot{
		Active:      pm.active,
		Asset:       pm.asset,
		TriggerTime: pm.triggerTime,
		Phases:      make(map[uuid.UUID]PayoutPhase, len(pm.phases)),
		FirstPaidAt: make(map[uuid.UUID]int64, len(pm.firstPaidAt)),
	}
	for k, v := range pm.phases {
		snap.Phases[k] = v
	}
	for k, v := range pm.firstPaidAt {
		snap.FirstPaidAt[k] = v
	}
	return snap
}

// Restore overwrites machine state from a snapshot
func (pm *PayoutMachine) Restore(snap PayoutSnapshot) {
	pm.active = snap.Active
	pm.asset = snap.Asset
	pm.triggerTime = snap.TriggerTime
	pm.phases = make(map[uuid.UUID]PayoutPhase, len(snap.Phases))
	pm.firstPaidAt = make(map[uuid.UUID]int64, len(snap.FirstPaidAt))
	for k, v := range snap.Phases {
		pm.phases[k] = v
	}
	for k, v := range snap.FirstPaidAt {
		pm.firstPaidAt[k] = v
	}
}
