package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeProvider AccountScope = iota
	AccountScopeBuyer
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// Provider sub-types
	SubTypeSupplied AccountSubType = iota
	SubTypePendingWithdrawal

	// Buyer sub-types
	SubTypeSecurityDeposit

	// System sub-types
	SubTypeSystemPremiumPool

	// External sub-types
	SubTypeExternalDeposits
	SubTypeExternalPayouts
)

// AssetID maps asset strings to numeric IDs for performance
type AssetID uint16

var (
	assetToID = map[string]AssetID{
		"USDC":  1,
		"RLUSD": 2,
		"USDT":  3,
	}
	idToAsset = map[AssetID]string{
		1: "USDC",
		2: "RLUSD",
		3: "USDT",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// AccountKey is the in-memory key for balance tracking (21 bytes, cache-friendly)
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // UUID for providers/buyers, hash for system accounts
	SubType  AccountSubType
	AssetID  AssetID
}

// NewProviderAccountKey creates a key for liquidity provider accounts
func NewProviderAccountKey(providerID uuid.UUID, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeProvider,
		EntityID: providerID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewBuyerAccountKey creates a key for coverage buyer accounts
func NewBuyerAccountKey(buyerID uuid.UUID, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeBuyer,
		EntityID: buyerID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewSystemAccountKey creates a key for system accounts
func NewSystemAccountKey(name string, subType AccountSubType, assetID AssetID) AccountKey {
	var entityID [16]byte
	// Hash the name into 16 bytes
	copy(entityID[:], []byte(name))
	return AccountKey{
		Scope:    AccountScopeSystem,
		EntityID: entityID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeProvider:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("provider:%s:%s:%s", uid.String(), k.subTypeName(), assetName)
	case AccountScopeBuyer:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("buyer:%s:%s:%s", uid.String(), k.subTypeName(), assetName)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

// ParseAccountPath reverses AccountPath. Snapshot restore round-trips
// balances through their string form.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	if len(parts) < 3 {
		return AccountKey{}, fmt.Errorf("malformed account path: %s", path)
	}

	assetID, ok := GetAssetID(parts[len(parts)-1])
	if !ok {
		return AccountKey{}, fmt.Errorf("unknown asset in path: %s", path)
	}

	switch parts[0] {
	case "provider", "buyer":
		if len(parts) != 4 {
			return AccountKey{}, fmt.Errorf("malformed account path: %s", path)
		}
		uid, err := uuid.Parse(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("parse entity id in %s: %w", path, err)
		}
		subType, err := parseSubTypeName(parts[2])
		if err != nil {
			return AccountKey{}, fmt.Errorf("%s: %w", path, err)
		}
		if parts[0] == "provider" {
			return NewProviderAccountKey(uid, subType, assetID), nil
		}
		return NewBuyerAccountKey(uid, subType, assetID), nil

	case "system":
		// The premium pool is the only system account
		if parts[1] != "premium_pool" {
			return AccountKey{}, fmt.Errorf("unknown system account: %s", path)
		}
		return NewSystemAccountKey("premiums", SubTypeSystemPremiumPool, assetID), nil

	case "external":
		subType, err := parseSubTypeName(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("%s: %w", path, err)
		}
		return NewExternalAccountKey(subType, assetID), nil
	}

	return AccountKey{}, fmt.Errorf("unknown account scope: %s", path)
}

func parseSubTypeName(name string) (AccountSubType, error) {
	switch name {
	case "supplied":
		return SubTypeSupplied, nil
	case "pending_withdrawal":
		return SubTypePendingWithdrawal, nil
	case "security_deposit":
		return SubTypeSecurityDeposit, nil
	case "premium_pool":
		return SubTypeSystemPremiumPool, nil
	case "deposits":
		return SubTypeExternalDeposits, nil
	case "payouts":
		return SubTypeExternalPayouts, nil
	}
	return 0, fmt.Errorf("unknown account sub-type: %s", name)
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeSupplied:
		return "supplied"
	case SubTypePendingWithdrawal:
		return "pending_withdrawal"
	case SubTypeSecurityDeposit:
		return "security_deposit"
	case SubTypeSystemPremiumPool:
		return "premium_pool"
	case SubTypeExternalDeposits:
		return "deposits"
	case SubTypeExternalPayouts:
		return "payouts"
	default:
		return "unknown"
	}
}
