package event

import (
	"time"

	"github.com/google/uuid"
)

// PauseSet flips the engine-wide pause gate.
type PauseSet struct {
	EventID   uuid.UUID
	Paused    bool
	Sequence  int64
	Timestamp time.Time
}

func (p *PauseSet) IdempotencyKey() string {
	return p.EventID.String()
}

func (p *PauseSet) EventType() EventType {
	return EventTypePauseSet
}

func (p *PauseSet) CoveredAsset() *string {
	return nil
}

func (p *PauseSet) SourceSequence() int64 {
	return p.Sequence
}
