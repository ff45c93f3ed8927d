package query

import "github.com/google/uuid"

// ProviderBalanceResponse represents a liquidity provider's position for API queries.
type ProviderBalanceResponse struct {
	ProviderID uuid.UUID `json:"provider_id"`
	Asset      string    `json:"asset"`

	// Ledger balances (from journal entries)
	SuppliedBalance   int64 `json:"supplied_balance"`   // active supplied liquidity
	PendingWithdrawal int64 `json:"pending_withdrawal"` // locked in the withdrawal queue

	// Metadata
	AsOfSequence int64 `json:"as_of_sequence"` // last applied event sequence
}

// CoverageResponse represents a coverage position for API queries.
type CoverageResponse struct {
	BuyerID         uuid.UUID `json:"buyer_id"`
	CoveredAsset    string    `json:"covered_asset"`
	Amount          int64     `json:"amount"`
	SecurityDeposit int64     `json:"security_deposit"`
	PremiumPaid     int64     `json:"premium_paid"`
	PaidOut         int64     `json:"paid_out"`
	IsActive        bool      `json:"is_active"`
	PurchasedAt     int64     `json:"purchased_at"`
	AsOfSequence    int64     `json:"as_of_sequence"`
}

// PayoutStateResponse represents the payout cycle state for API queries.
type PayoutStateResponse struct {
	Active       bool   `json:"active"`
	Asset        string `json:"asset,omitempty"`
	TriggerTime  int64  `json:"trigger_time,omitempty"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        int64  `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance int64  `json:"imbalance"`
}
