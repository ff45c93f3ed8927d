package ingestion

import (
	"context"
	"fmt"
	"sync"

	"CoverLedger/internal/event"
)

// Submission carries one typed event into the core loop together with a
// channel for the synchronous result. The HTTP surface uses this to report
// rejection reasons to callers.
type Submission struct {
	Event  event.Event
	Result chan error
}

// Gateway assigns per-partition source sequences to locally originated
// events (HTTP ingest) and submits them to the core loop. NATS-originated
// events arrive with sequences already assigned by upstream producers and
// bypass the gateway.
type Gateway struct {
	mu         sync.Mutex
	nextSeq    map[string]int64
	submitChan chan<- Submission
}

func NewGateway(submitChan chan<- Submission) *Gateway {
	return &Gateway{
		nextSeq:    make(map[string]int64),
		submitChan: submitChan,
	}
}

// NextSequence reserves the next source sequence for a partition.
// Reserved sequences are consumed even when the core later rejects the
// event, matching the core's validator behavior.
func (g *Gateway) NextSequence(partition string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	seq := g.nextSeq[partition]
	g.nextSeq[partition] = seq + 1
	return seq
}

// RestoreSequences seeds the per-partition counters on startup from the
// core's recovered sequence state.
func (g *Gateway) RestoreSequences(partitions map[string]int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for partition, next := range partitions {
		g.nextSeq[partition] = next
	}
}

// Submit sends an event into the core loop and waits for the outcome.
func (g *Gateway) Submit(ctx context.Context, evt event.Event) error {
	sub := Submission{
		Event:  evt,
		Result: make(chan error, 1),
	}

	select {
	case g.submitChan <- sub:
	case <-ctx.Done():
		return fmt.Errorf("submit: %w", ctx.Err())
	}

	select {
	case err := <-sub.Result:
		return err
	case <-ctx.Done():
		return fmt.Errorf("await result: %w", ctx.Err())
	}
}
