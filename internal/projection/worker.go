package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
)

// ProjectionOutput mirrors the data needed by projection workers.
// The orchestrator bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence       int64
	EventType      string
	Asset          *string
	Fact           []byte // JSON fact emitted by the core
	JournalEntries []JournalEntry
	Timestamp      int64
}

// JournalEntry is a simplified journal for projection consumption.
type JournalEntry struct {
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        int64
	JournalType   int32
}

// ProjectionWorker updates projection tables from processed events.
// The projection channel is non-blocking with drop: if projections fall
// behind, they can be rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	history   *CoverageHistory
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		history:   NewCoverageHistory(1000),
	}
}

// History returns the in-memory coverage lifecycle projection.
func (pw *ProjectionWorker) History() *CoverageHistory {
	return pw.history
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", output.Sequence, err)
				// Continue — projections are eventually consistent
				// and can be rebuilt from the event log
			}

			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Update balance projections from journal entries
	for _, j := range output.JournalEntries {
		if err := pw.updateBalanceProjection(ctx, tx, output.Sequence, j); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	// Event-specific projections fed from the core's JSON fact
	if err := pw.updateDomainProjection(ctx, tx, output); err != nil {
		return fmt.Errorf("domain projection: %w", err)
	}

	// Update projection watermark
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// updateBalanceProjection mirrors the in-memory tracker semantics:
// debit account increases, credit account decreases.
func (pw *ProjectionWorker) updateBalanceProjection(ctx context.Context, tx *sql.Tx, seq int64, j JournalEntry) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance + $3, last_sequence = $4
	`, j.DebitAccount, j.AssetID, j.Amount, seq); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, -$3, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance - $3, last_sequence = $4
	`, j.CreditAccount, j.AssetID, j.Amount, seq); err != nil {
		return err
	}

	return nil
}

// updateDomainProjection maintains coverage and payout state tables keyed
// off the fact payloads.
func (pw *ProjectionWorker) updateDomainProjection(ctx context.Context, tx *sql.Tx, output ProjectionOutput) error {
	switch output.EventType {
	case "CoveragePurchased":
		var fact struct {
			BuyerID         string `json:"buyer_id"`
			CoveredAsset    string `json:"covered_asset"`
			Amount          int64  `json:"amount"`
			SecurityDeposit int64  `json:"security_deposit"`
			Premium         int64  `json:"premium"`
			Timestamp       int64  `json:"timestamp"`
		}
		if err := json.Unmarshal(output.Fact, &fact); err != nil {
			return err
		}
		pw.recordHistory(fact.BuyerID, fact.CoveredAsset, output, fact.Amount, fact.SecurityDeposit, fact.Premium, 0)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.coverages
				(buyer_id, covered_asset, amount, security_deposit, premium_paid, paid_out, is_active, purchased_at, last_sequence)
			VALUES ($1, $2, $3, $4, $5, 0, TRUE, $6, $7)
			ON CONFLICT (buyer_id) DO UPDATE SET
				covered_asset = $2, amount = $3, security_deposit = $4,
				premium_paid = $5, paid_out = 0, is_active = TRUE,
				purchased_at = $6, last_sequence = $7
		`, fact.BuyerID, fact.CoveredAsset, fact.Amount, fact.SecurityDeposit, fact.Premium, fact.Timestamp, output.Sequence)
		return err

	case "CoverageExpired", "SecondPhaseClaim":
		var fact struct {
			BuyerID string `json:"buyer_id"`
			Amount  int64  `json:"amount"`
		}
		if err := json.Unmarshal(output.Fact, &fact); err != nil {
			return err
		}
		pw.recordHistory(fact.BuyerID, "", output, 0, 0, 0, fact.Amount)
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.coverages
			SET is_active = FALSE, paid_out = paid_out + $2, last_sequence = $3
			WHERE buyer_id = $1
		`, fact.BuyerID, fact.Amount, output.Sequence)
		return err

	case "FirstPhaseClaim":
		var fact struct {
			BuyerID string `json:"buyer_id"`
			Amount  int64  `json:"amount"`
		}
		if err := json.Unmarshal(output.Fact, &fact); err != nil {
			return err
		}
		pw.recordHistory(fact.BuyerID, "", output, 0, 0, 0, fact.Amount)
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.coverages
			SET paid_out = paid_out + $2, last_sequence = $3
			WHERE buyer_id = $1
		`, fact.BuyerID, fact.Amount, output.Sequence)
		return err

	case "PayoutTriggerCheck", "PayoutCycleReset":
		var fact struct {
			Asset       string `json:"asset"`
			Activated   bool   `json:"activated"`
			TriggerTime int64  `json:"trigger_time"`
		}
		if err := json.Unmarshal(output.Fact, &fact); err != nil {
			return err
		}
		active := output.EventType == "PayoutTriggerCheck"
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.payout_state (id, active, asset, trigger_time, last_sequence)
			VALUES (1, $1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET
				active = $1, asset = $2, trigger_time = $3, last_sequence = $4
		`, active, fact.Asset, fact.TriggerTime, output.Sequence)
		return err
	}

	return nil
}

// recordHistory appends a coverage lifecycle entry to the in-memory history.
func (pw *ProjectionWorker) recordHistory(buyerID, asset string, output ProjectionOutput, amount, deposit, premium, payout int64) {
	id, err := uuid.Parse(buyerID)
	if err != nil {
		return
	}

	eventType := ""
	switch output.EventType {
	case "CoveragePurchased":
		eventType = "purchased"
	case "CoverageExpired":
		eventType = "expired"
	case "FirstPhaseClaim":
		eventType = "first_claim"
	case "SecondPhaseClaim":
		eventType = "second_claim"
	default:
		return
	}

	pw.history.AddEntry(CoverageHistoryEntry{
		BuyerID:         id,
		Asset:           asset,
		EventType:       eventType,
		Amount:          amount,
		SecurityDeposit: deposit,
		PremiumPaid:     premium,
		PayoutAmount:    payout,
		Sequence:        output.Sequence,
		Timestamp:       output.Timestamp,
	})
}

// RebuildProjections rebuilds the balance projection from the event log.
// Projections can always be rebuilt by replaying the journal.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.coverages`,
		`TRUNCATE projections.payout_state`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Debits increase, credits decrease — same orientation as the core
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT
			debit_account AS account_path,
			asset_id,
			SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.journal
		GROUP BY debit_account, asset_id
		ON CONFLICT (account_path, asset_id) DO UPDATE
			SET balance = EXCLUDED.balance, last_sequence = EXCLUDED.last_sequence
	`)
	if err != nil {
		return fmt.Errorf("rebuild debit balances: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT
			credit_account AS account_path,
			asset_id,
			-SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.journal
		GROUP BY credit_account, asset_id
		ON CONFLICT (account_path, asset_id) DO UPDATE
			SET balance = projections.balances.balance + EXCLUDED.balance,
			    last_sequence = GREATEST(projections.balances.last_sequence, EXCLUDED.last_sequence)
	`)
	if err != nil {
		return fmt.Errorf("rebuild credit balances: %w", err)
	}

	log.Println("INFO: projection rebuild complete")
	return nil
}
