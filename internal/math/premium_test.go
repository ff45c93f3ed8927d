package math_test

import (
	"testing"

	fpmath "CoverLedger/internal/math"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPremiumRateBP_Curve(t *testing.T) {
	tests := []struct {
		name          string
		utilizationBP int64
		wantRateBP    int64
	}{
		{"zero utilization pays base rate", 0, 200},
		{"25% utilization", 2500, 250},
		{"breakpoint", 5000, 300},
		{"just past breakpoint", 5100, 300}, // 100^2/10000 = 1, 200*15001/10000 = 300
		{"75% utilization", 7500, 312},      // excess=2500, 2500^2/10000=625, 200*15625/10000
		{"full utilization", 10000, 350},    // excess=5000, 5000^2/10000=2500, 200*17500/10000
		{"over-utilized clamps at cap", 25000, 600},
		{"negative treated as zero", -100, 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantRateBP, fpmath.PremiumRateBP(tt.utilizationBP))
		})
	}
}

func TestPremiumRateBP_Monotonic(t *testing.T) {
	prev := int64(-1)
	for u := int64(0); u <= 30000; u += 100 {
		rate := fpmath.PremiumRateBP(u)
		require.GreaterOrEqual(t, rate, prev, "rate must not decrease at utilization %d", u)
		require.LessOrEqual(t, rate, fpmath.MaxRateBP)
		prev = rate
	}
}

func TestCalculatePremium_AnnualTerm(t *testing.T) {
	// 1000 units of coverage at 0% utilization for one year: 2% = 20 units.
	amount := int64(1_000_000_000) // 1000.000000
	got := fpmath.CalculatePremium(amount, 0, fpmath.SecondsPerYear)
	assert.Equal(t, int64(20_000_000), got)

	// Same coverage at the breakpoint: 3% = 30 units.
	got = fpmath.CalculatePremium(amount, 5000, fpmath.SecondsPerYear)
	assert.Equal(t, int64(30_000_000), got)
}

func TestCalculatePremium_ProRatedDuration(t *testing.T) {
	amount := int64(1_000_000_000)

	// Half a year at base rate: half the annual premium.
	got := fpmath.CalculatePremium(amount, 0, fpmath.SecondsPerYear/2)
	assert.Equal(t, int64(10_000_000), got)

	// Degenerate inputs price to zero.
	assert.Zero(t, fpmath.CalculatePremium(0, 0, fpmath.SecondsPerYear))
	assert.Zero(t, fpmath.CalculatePremium(amount, 0, 0))
	assert.Zero(t, fpmath.CalculatePremium(-1, 0, fpmath.SecondsPerYear))
}

func TestCalculateRequiredDeposit(t *testing.T) {
	assert.Equal(t, int64(200_000_000), fpmath.CalculateRequiredDeposit(1_000_000_000))
	assert.Equal(t, int64(1), fpmath.CalculateRequiredDeposit(9)) // 9*2000/10000 = 1.8 truncated
	assert.Zero(t, fpmath.CalculateRequiredDeposit(0))
	assert.Zero(t, fpmath.CalculateRequiredDeposit(-5))
}

func TestProviderAPYBP(t *testing.T) {
	// No coverage sold: no premium flows, zero yield.
	assert.Zero(t, fpmath.ProviderAPYBP(0))

	// Breakpoint: 3% rate on half the allocation = 150bp.
	assert.Equal(t, int64(150), fpmath.ProviderAPYBP(5000))

	// Full utilization: 3.5% rate on the whole allocation.
	assert.Equal(t, int64(350), fpmath.ProviderAPYBP(10000))
}

func TestUtilizationBP(t *testing.T) {
	assert.Equal(t, int64(5000), fpmath.UtilizationBP(50, 100))
	assert.Equal(t, int64(10000), fpmath.UtilizationBP(100, 100))
	assert.Zero(t, fpmath.UtilizationBP(0, 100))
	assert.Zero(t, fpmath.UtilizationBP(50, 0))
	assert.Zero(t, fpmath.UtilizationBP(-10, 100))
}
