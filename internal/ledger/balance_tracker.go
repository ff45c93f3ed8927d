package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// SetBalance overwrites an account balance (snapshot restore only)
func (bt *BalanceTracker) SetBalance(key AccountKey, balance int64) {
	if balance == 0 {
		delete(bt.balances, key)
		return
	}
	bt.balances[key] = balance
}

// === Provider Balance Queries ===

// GetProviderSupplied returns principal currently supplied to the pool
func (bt *BalanceTracker) GetProviderSupplied(providerID uuid.UUID, assetID AssetID) int64 {
	return bt.GetBalance(NewProviderAccountKey(providerID, SubTypeSupplied, assetID))
}

// GetProviderPendingWithdrawal returns the amount locked by a withdrawal request
func (bt *BalanceTracker) GetProviderPendingWithdrawal(providerID uuid.UUID, assetID AssetID) int64 {
	return bt.GetBalance(NewProviderAccountKey(providerID, SubTypePendingWithdrawal, assetID))
}

// GetBuyerSecurityDeposit returns collateral held for a buyer's coverage
func (bt *BalanceTracker) GetBuyerSecurityDeposit(buyerID uuid.UUID, assetID AssetID) int64 {
	return bt.GetBalance(NewBuyerAccountKey(buyerID, SubTypeSecurityDeposit, assetID))
}

// === Pool Aggregates ===
// Aggregates are recomputed from account balances on every call, never cached
// across transitions, so they can never drift from the journal.

// sumScopeSubType sums balances of one sub-type across all entities in a scope
func (bt *BalanceTracker) sumScopeSubType(scope AccountScope, subType AccountSubType, assetID AssetID) int64 {
	var total int64
	for key, balance := range bt.balances {
		if key.Scope == scope && key.SubType == subType && key.AssetID == assetID {
			total += balance
		}
	}
	return total
}

// TotalSupplied sums provider principal still in the pool
func (bt *BalanceTracker) TotalSupplied(assetID AssetID) int64 {
	return bt.sumScopeSubType(AccountScopeProvider, SubTypeSupplied, assetID)
}

// TotalPendingWithdrawals sums withdrawal-locked principal
func (bt *BalanceTracker) TotalPendingWithdrawals(assetID AssetID) int64 {
	return bt.sumScopeSubType(AccountScopeProvider, SubTypePendingWithdrawal, assetID)
}

// TotalSecurityDeposits sums buyer collateral held by the pool
func (bt *BalanceTracker) TotalSecurityDeposits(assetID AssetID) int64 {
	return bt.sumScopeSubType(AccountScopeBuyer, SubTypeSecurityDeposit, assetID)
}

// TotalLiquidity is everything the pool holds that backs coverage:
// supplied principal, withdrawal-locked principal (still in the pool until
// executed), and buyer security deposits.
func (bt *BalanceTracker) TotalLiquidity(assetID AssetID) int64 {
	return bt.TotalSupplied(assetID) +
		bt.TotalPendingWithdrawals(assetID) +
		bt.TotalSecurityDeposits(assetID)
}

// PremiumPoolBalance returns accumulated premiums
func (bt *BalanceTracker) PremiumPoolBalance(assetID AssetID) int64 {
	return bt.GetBalance(NewSystemAccountKey("premiums", SubTypeSystemPremiumPool, assetID))
}

// === Invariant Checks ===

// ValidateSufficientSupplied checks a provider has enough unlocked principal
func (bt *BalanceTracker) ValidateSufficientSupplied(providerID uuid.UUID, assetID AssetID, required int64) error {
	supplied := bt.GetProviderSupplied(providerID, assetID)
	if supplied < required {
		return fmt.Errorf("insufficient supplied liquidity: have=%d, need=%d", supplied, required)
	}
	return nil
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]int64 {
	totals := make(map[AssetID]int64)

	for key, balance := range bt.balances {
		totals[key.AssetID] += balance
	}

	return totals
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}
