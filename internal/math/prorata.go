package math

// Pro-rata splitting for socialized payouts and bucket allocation.
// Splits are deterministic: shares are computed in the caller-supplied order
// (callers sort by ID first) and the truncation residual is assigned to the
// largest weight, first index winning ties. The parts always sum exactly to
// the input amount, so a split never mints or burns ledger units.

// SplitProRata divides amount across weights proportionally.
// Returns one part per weight. Zero or negative weights get zero.
func SplitProRata(amount int64, weights []int64) []int64 {
	parts := make([]int64, len(weights))
	if amount <= 0 || len(weights) == 0 {
		return parts
	}

	var total int64
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return parts
	}

	var assigned int64
	largestIdx := -1
	var largestWeight int64
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		parts[i] = MulDiv(amount, w, total, RoundDown)
		assigned += parts[i]
		if w > largestWeight {
			largestWeight = w
			largestIdx = i
		}
	}

	// Truncation residual goes to the largest weight.
	if residual := amount - assigned; residual > 0 && largestIdx >= 0 {
		parts[largestIdx] += residual
	}

	return parts
}

// SplitByBasisPoints divides amount by a basis-point weight vector.
// Weights are expected to sum to 10000bp (validated at config load);
// the residual rule still guarantees exact conservation if they do not.
func SplitByBasisPoints(amount int64, weightsBP []int64) []int64 {
	return SplitProRata(amount, weightsBP)
}
