package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SnapshotManager handles creating and loading state snapshots for recovery.
// Snapshots contain balances, provider positions, coverages, the withdrawal
// queue, bucket state, the payout cycle, oracle views, sequence counters,
// idempotency keys, and the last state hash.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData contains the full in-memory state at a point in time.
type SnapshotData struct {
	Sequence        int64            `json:"sequence"`
	StateHash       []byte           `json:"state_hash"`
	Paused          bool             `json:"paused"`
	Balances        map[string]int64 `json:"balances"` // AccountPath -> balance
	Providers       []ProviderSnap   `json:"providers"`
	Coverages       []CoverageSnap   `json:"coverages"`
	Withdrawals     []WithdrawalSnap `json:"withdrawals"`
	Buckets         []BucketSnap     `json:"buckets"`
	Payout          PayoutSnap       `json:"payout"`
	Oracle          []OracleSnap     `json:"oracle"`
	SequenceState   map[string]int64 `json:"sequence_state"`   // partition -> next expected seq
	IdempotencyKeys []string         `json:"idempotency_keys"` // Recent keys for LRU warming
	CreatedAt       time.Time        `json:"created_at"`
}

// ProviderSnap is a serializable provider position.
type ProviderSnap struct {
	ProviderID     string `json:"provider_id"`
	SuppliedAmount int64  `json:"supplied_amount"`
	JoinedAt       int64  `json:"joined_at"`
	Version        int64  `json:"version"`
}

// CoverageSnap is a serializable coverage position.
type CoverageSnap struct {
	BuyerID           string  `json:"buyer_id"`
	Asset             string  `json:"asset"`
	Amount            int64   `json:"amount"`
	SecurityDeposit   int64   `json:"security_deposit"`
	PremiumPaid       int64   `json:"premium_paid"`
	IsActive          bool    `json:"is_active"`
	PurchaseTime      int64   `json:"purchase_time"`
	BucketAllocations []int64 `json:"bucket_allocations"`
	PaidOut           int64   `json:"paid_out"`
}

// WithdrawalSnap is a serializable pending withdrawal.
type WithdrawalSnap struct {
	ProviderID  string `json:"provider_id"`
	Amount      int64  `json:"amount"`
	RequestTime int64  `json:"request_time"`
	UnlockTime  int64  `json:"unlock_time"`
}

// BucketSnap is a serializable risk bucket.
type BucketSnap struct {
	ID                 string `json:"id"`
	WeightBP           int64  `json:"weight_bp"`
	AllocatedLiquidity int64  `json:"allocated_liquidity"`
	ActiveCoverage     int64  `json:"active_coverage"`
}

// PayoutSnap is the serializable payout cycle state.
type PayoutSnap struct {
	Active      bool             `json:"active"`
	Asset       string           `json:"asset"`
	TriggerTime int64            `json:"trigger_time"`
	Phases      map[string]int32 `json:"phases"`        // buyer UUID -> phase
	FirstPaidAt map[string]int64 `json:"first_paid_at"` // buyer UUID -> micros
}

// OracleSnap is a serializable per-asset oracle view.
type OracleSnap struct {
	Asset       string `json:"asset"`
	IsSupported bool   `json:"is_supported"`
	IsDepegged  bool   `json:"is_depegged"`
	UpdatedAt   int64  `json:"updated_at"`
	Simulated   bool   `json:"simulated"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot to Postgres. Snapshots are taken
// periodically and verified by replaying events from the snapshot sequence
// forward.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	sizeBytes := len(data)
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash, formatVersion, sizeBytes, snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot.
// On warm restart, load the latest snapshot then replay events from
// snapshot.sequence+1.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No snapshot — cold start
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads events from a given sequence for replay.
// Used for warm restart (replay from snapshot) and cold restart (replay all).
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, asset, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.Asset,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil // Empty event log
	}
	return seq.Int64, nil
}

// LoadRecentIdempotencyKeys returns composite keys for the most recent
// events, newest first, for LRU warming on restart.
func (sm *SnapshotManager) LoadRecentIdempotencyKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT event_type, idempotency_key
		FROM event_log.events
		ORDER BY sequence DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var eventType, key string
		if err := rows.Scan(&eventType, &key); err != nil {
			return nil, err
		}
		keys = append(keys, fmt.Sprintf("%s:%s", eventType, key))
	}
	return keys, rows.Err()
}
