package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// QueryService provides read-only access to projection tables.
// Queries are served over HTTP/JSON, reading from PostgreSQL projection
// tables. All responses include as_of_sequence for freshness semantics.
// Pool-level state (capacity, utilization, premium quotes) is served from
// the in-memory core instead, since it needs consistent derived values.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetProviderBalance returns a provider's supplied and pending-withdrawal
// balances for the pool asset.
func (qs *QueryService) GetProviderBalance(
	ctx context.Context,
	providerID uuid.UUID,
	asset string,
) (*ProviderBalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	suppliedPath := fmt.Sprintf("provider:%s:supplied:%s", providerID, asset)
	supplied, err := qs.getProjectedBalance(ctx, suppliedPath)
	if err != nil {
		return nil, err
	}

	pendingPath := fmt.Sprintf("provider:%s:pending_withdrawal:%s", providerID, asset)
	pending, err := qs.getProjectedBalance(ctx, pendingPath)
	if err != nil {
		return nil, err
	}

	return &ProviderBalanceResponse{
		ProviderID:        providerID,
		Asset:             asset,
		SuppliedBalance:   supplied,
		PendingWithdrawal: pending,
		AsOfSequence:      asOfSeq,
	}, nil
}

// GetCoverage returns the coverage position for a buyer.
func (qs *QueryService) GetCoverage(
	ctx context.Context,
	buyerID uuid.UUID,
) (*CoverageResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var c CoverageResponse
	c.BuyerID = buyerID
	c.AsOfSequence = asOfSeq
	err = qs.db.QueryRowContext(ctx, `
		SELECT covered_asset, amount, security_deposit, premium_paid, paid_out, is_active, purchased_at
		FROM projections.coverages
		WHERE buyer_id = $1
	`, buyerID).Scan(
		&c.CoveredAsset, &c.Amount, &c.SecurityDeposit, &c.PremiumPaid,
		&c.PaidOut, &c.IsActive, &c.PurchasedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &c, nil
}

// GetPayoutState returns the current payout cycle projection.
func (qs *QueryService) GetPayoutState(ctx context.Context) (*PayoutStateResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	resp := &PayoutStateResponse{AsOfSequence: asOfSeq}
	err = qs.db.QueryRowContext(ctx, `
		SELECT active, asset, trigger_time
		FROM projections.payout_state
		WHERE id = 1
	`).Scan(&resp.Active, &resp.Asset, &resp.TriggerTime)
	if err == sql.ErrNoRows {
		return resp, nil
	}
	if err != nil {
		return nil, err
	}

	return resp, nil
}

// GetJournalHistory returns journal entries touching a participant's accounts
// with cursor-based pagination.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	role string, // "provider" or "buyer"
	participantID uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("%s:%s:%%", role, participantID)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE debit_account LIKE $1 OR credit_account LIKE $1
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity and the global zero-sum
// invariant over the balance projection.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence, e1.prev_hash, e2.state_hash
		FROM event_log.events e1
		LEFT JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 0 AND e1.prev_hash != COALESCE(e2.state_hash, e1.prev_hash)
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		var prevHash, expectedHash []byte
		if err := rows.Scan(&seq, &prevHash, &expectedHash); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}

	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance) as total
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var assetID uint16
		var total int64
		if err := balanceRows.Scan(&assetID, &total); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
			AssetID:   assetID,
			Imbalance: total,
		})
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func (qs *QueryService) getProjectedBalance(ctx context.Context, accountPath string) (int64, error) {
	var balance int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(balance, 0) FROM projections.balances
		WHERE account_path = $1
	`, accountPath).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}
