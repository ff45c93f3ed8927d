package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// ProviderShare is one provider's slice of a socialized claim payout.
type ProviderShare struct {
	ProviderID uuid.UUID
	Amount     int64
}

// JournalGenerator creates balanced journal batches from pool operations
type JournalGenerator struct {
	sequence       int64
	balanceTracker *BalanceTracker // Reference for pre-checks
}

func NewJournalGenerator(startSequence int64, tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		sequence:       startSequence,
		balanceTracker: tracker,
	}
}

// SetSequence aligns the generator after snapshot restore
func (jg *JournalGenerator) SetSequence(sequence int64) {
	jg.sequence = sequence
}

// GenerateLiquidityAdd creates journals for a provider deposit.
// Moves funds: external:deposits → provider:supplied
func (jg *JournalGenerator) GenerateLiquidityAdd(
	providerID uuid.UUID,
	eventRef string,
	amount int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	batchID := uuid.New()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, 1),
	}

	journal := Journal{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		EventRef:      eventRef,
		Sequence:      jg.sequence,
		DebitAccount:  NewProviderAccountKey(providerID, SubTypeSupplied, assetID),
		CreditAccount: NewExternalAccountKey(SubTypeExternalDeposits, assetID),
		AssetID:       assetID,
		Amount:        amount,
		JournalType:   JournalTypeLiquidityAdd,
		Timestamp:     timestamp,
	}

	batch.Journals = append(batch.Journals, journal)
	jg.sequence++

	return batch, nil
}

// GenerateWithdrawalLock creates journals for a withdrawal request.
// Pre-check: provider must have sufficient unlocked supplied balance.
// Locks funds: provider:supplied → provider:pending_withdrawal
func (jg *JournalGenerator) GenerateWithdrawalLock(
	providerID uuid.UUID,
	eventRef string,
	amount int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficientSupplied(providerID, assetID, amount); err != nil {
		return nil, fmt.Errorf("withdrawal pre-check failed: %w", err)
	}

	batchID := uuid.New()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, 1),
	}

	journal := Journal{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		EventRef:      eventRef,
		Sequence:      jg.sequence,
		DebitAccount:  NewProviderAccountKey(providerID, SubTypePendingWithdrawal, assetID),
		CreditAccount: NewProviderAccountKey(providerID, SubTypeSupplied, assetID),
		AssetID:       assetID,
		Amount:        amount,
		JournalType:   JournalTypeWithdrawalLock,
		Timestamp:     timestamp,
	}

	batch.Journals = append(batch.Journals, journal)
	jg.sequence++

	return batch, nil
}

// GenerateWithdrawalPayout pays out a matured withdrawal.
// Moves funds: provider:pending_withdrawal → external:payouts
func (jg *JournalGenerator) GenerateWithdrawalPayout(
	providerID uuid.UUID,
	eventRef string,
	amount int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	batchID := uuid.New()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, 1),
	}

	journal := Journal{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		EventRef:      eventRef,
		Sequence:      jg.sequence,
		DebitAccount:  NewExternalAccountKey(SubTypeExternalPayouts, assetID),
		CreditAccount: NewProviderAccountKey(providerID, SubTypePendingWithdrawal, assetID),
		AssetID:       assetID,
		Amount:        amount,
		JournalType:   JournalTypeWithdrawalPayout,
		Timestamp:     timestamp,
	}

	batch.Journals = append(batch.Journals, journal)
	jg.sequence++

	return batch, nil
}

// GenerateCoveragePurchase creates journals for a coverage purchase:
// one leg collecting the security deposit, one collecting the premium.
// Moves funds: external:deposits → buyer:security_deposit
//
//	external:deposits → system:premium_pool
func (jg *JournalGenerator) GenerateCoveragePurchase(
	buyerID uuid.UUID,
	eventRef string,
	depositAmount int64,
	premiumAmount int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	batchID := uuid.New()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, 2),
	}

	depositJournal := Journal{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		EventRef:      eventRef,
		Sequence:      jg.sequence,
		DebitAccount:  NewBuyerAccountKey(buyerID, SubTypeSecurityDeposit, assetID),
		CreditAccount: NewExternalAccountKey(SubTypeExternalDeposits, assetID),
		AssetID:       assetID,
		Amount:        depositAmount,
		JournalType:   JournalTypeSecurityDepositCollect,
		Timestamp:     timestamp,
	}
	batch.Journals = append(batch.Journals, depositJournal)

	if premiumAmount > 0 {
		premiumJournal := Journal{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      eventRef,
			Sequence:      jg.sequence,
			DebitAccount:  NewSystemAccountKey("premiums", SubTypeSystemPremiumPool, assetID),
			CreditAccount: NewExternalAccountKey(SubTypeExternalDeposits, assetID),
			AssetID:       assetID,
			Amount:        premiumAmount,
			JournalType:   JournalTypePremiumCollect,
			Timestamp:     timestamp,
		}
		batch.Journals = append(batch.Journals, premiumJournal)
	}

	jg.sequence++
	return batch, nil
}

// GenerateSecurityDepositRelease refunds a buyer's collateral (coverage
// expiry or second-phase claim settlement).
// Moves funds: buyer:security_deposit → external:payouts
func (jg *JournalGenerator) GenerateSecurityDepositRelease(
	buyerID uuid.UUID,
	eventRef string,
	amount int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	held := jg.balanceTracker.GetBuyerSecurityDeposit(buyerID, assetID)
	if held < amount {
		return nil, fmt.Errorf("deposit release pre-check failed: held=%d, releasing=%d", held, amount)
	}

	batchID := uuid.New()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, 1),
	}

	journal := Journal{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		EventRef:      eventRef,
		Sequence:      jg.sequence,
		DebitAccount:  NewExternalAccountKey(SubTypeExternalPayouts, assetID),
		CreditAccount: NewBuyerAccountKey(buyerID, SubTypeSecurityDeposit, assetID),
		AssetID:       assetID,
		Amount:        amount,
		JournalType:   JournalTypeSecurityDepositRelease,
		Timestamp:     timestamp,
	}

	batch.Journals = append(batch.Journals, journal)
	jg.sequence++

	return batch, nil
}

// GenerateClaimPayout socializes a claim payment across providers: one journal
// per funded share, all under one batch. Shares are produced by the caller's
// pro-rata split and must sum to the claim amount. Zero shares are skipped.
// Moves funds: provider:supplied → external:payouts (per provider)
func (jg *JournalGenerator) GenerateClaimPayout(
	eventRef string,
	shares []ProviderShare,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	batchID := uuid.New()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, len(shares)),
	}

	for _, share := range shares {
		if share.Amount == 0 {
			continue
		}
		if share.Amount < 0 {
			return nil, fmt.Errorf("claim payout share for provider %s is negative: %d",
				share.ProviderID, share.Amount)
		}
		if err := jg.balanceTracker.ValidateSufficientSupplied(share.ProviderID, assetID, share.Amount); err != nil {
			return nil, fmt.Errorf("claim payout pre-check failed: %w", err)
		}

		journal := Journal{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      eventRef,
			Sequence:      jg.sequence,
			DebitAccount:  NewExternalAccountKey(SubTypeExternalPayouts, assetID),
			CreditAccount: NewProviderAccountKey(share.ProviderID, SubTypeSupplied, assetID),
			AssetID:       assetID,
			Amount:        share.Amount,
			JournalType:   JournalTypeClaimPayout,
			Timestamp:     timestamp,
		}
		batch.Journals = append(batch.Journals, journal)
	}

	if len(batch.Journals) == 0 {
		return nil, fmt.Errorf("claim payout has no funded shares")
	}

	jg.sequence++
	return batch, nil
}
