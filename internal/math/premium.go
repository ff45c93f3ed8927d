package math

import "math/big"

// Premium curve constants, all in basis points.
// The curve is linear up to the breakpoint and convex beyond it: pushing a
// bucket toward full utilization gets progressively more expensive, which
// protects remaining payout capacity.
const (
	BaseRateBP   int64 = 200  // 2.00% annualized at zero utilization
	BreakpointBP int64 = 5000 // convex regime starts at 50% utilization
	MaxRateBP    int64 = 600  // 6.00% annualized hard cap

	// SecurityDepositBP is the flat collateral requirement on coverage.
	// The deposit is collateral, not a risk price — it does not vary with
	// utilization.
	SecurityDepositBP int64 = 2000 // 20%

	// MaxCoverageBP caps issuable coverage against non-deposit liquidity.
	MaxCoverageBP int64 = 8000 // 80%

	// DefaultCoverageTermSeconds is the term priced when the caller supplies
	// no explicit duration (annual policies, matching the quoted APY basis).
	DefaultCoverageTermSeconds = SecondsPerYear
)

// PremiumRateBP maps bucket utilization to an annualized premium rate.
//
//	u <= breakpoint: multiplier = 10000 + u
//	u >  breakpoint: multiplier = 10000 + breakpoint + excess^2/10000
//	rate = min(base * multiplier / 10000, max)
func PremiumRateBP(utilizationBP int64) int64 {
	if utilizationBP < 0 {
		utilizationBP = 0
	}

	var multiplier int64
	if utilizationBP <= BreakpointBP {
		multiplier = BasisPointScale + utilizationBP
	} else {
		excess := utilizationBP - BreakpointBP
		multiplier = BasisPointScale + BreakpointBP + MulDiv(excess, excess, BasisPointScale, RoundDown)
	}

	rate := MulDiv(BaseRateBP, multiplier, BasisPointScale, RoundDown)
	if rate > MaxRateBP {
		rate = MaxRateBP
	}
	return rate
}

// CalculatePremium prices coverage for a duration at the given utilization:
// amount * rate/10000 * duration/secondsPerYear, truncated.
func CalculatePremium(coverageAmount, utilizationBP, durationSeconds int64) int64 {
	if coverageAmount <= 0 || durationSeconds <= 0 {
		return 0
	}

	rate := PremiumRateBP(utilizationBP)

	// amount * rate * duration / (10000 * secondsPerYear) via int128
	num := MultiplyInt128(coverageAmount, rate)
	num.Mul(num, big.NewInt(durationSeconds))
	premium := DivideInt128(num, BasisPointScale*SecondsPerYear, RoundDown)
	putInt128(num)

	return premium
}

// CalculateRequiredDeposit returns the flat 20% security deposit on coverage.
func CalculateRequiredDeposit(coverageAmount int64) int64 {
	if coverageAmount <= 0 {
		return 0
	}
	return BasisPointsOf(coverageAmount, SecurityDepositBP)
}

// ProviderAPYBP is the annualized premium yield on a bucket's allocated
// liquidity: premium rate earned on the utilized fraction, spread across the
// whole allocation.
func ProviderAPYBP(utilizationBP int64) int64 {
	return MulDiv(PremiumRateBP(utilizationBP), utilizationBP, BasisPointScale, RoundDown)
}

// UtilizationBP returns activeCoverage / allocatedLiquidity in basis points.
// A bucket with no allocation has zero utilization by definition.
func UtilizationBP(activeCoverage, allocatedLiquidity int64) int64 {
	if allocatedLiquidity <= 0 || activeCoverage <= 0 {
		return 0
	}
	return MulDiv(activeCoverage, BasisPointScale, allocatedLiquidity, RoundDown)
}
