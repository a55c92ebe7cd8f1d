/*

Exact integer proportion arithmetic shared by every accounting component.

Two hard conventions live here and must be followed by all callers:

 1. Every distribution of a total into N parts conserves the total exactly:
    sum(parts) == total for all inputs. Rounding dust is assigned to the
    LAST recipient processed, by way of the remainder-tracking splitter.
 2. Normalization denominators are summed freshly inside the same call that
    divides by them; nothing here caches a denominator across calls.

*/

package fixedpoint

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// Precision multipliers. Each context gets its own constant so that a
// misrouted value is visible in review. All are far above the 10^3 floor
// required for basis-point-grade resolution, and small enough that
// allocation * ratio * precision stays inside 256-bit arithmetic for USD
// magnitudes up to ~10^13 at 18-decimal token precision.
const (
	// RatioPrecision scales required-asset-ratio weights.
	RatioPrecision = 1_000_000_000_000 // 10^12

	// FlushFactorPrecision scales per-(strategy, asset) flush factors.
	FlushFactorPrecision = 1_000_000_000_000 // 10^12

	// AllocationTotal is the conventional sum of a vault's allocation
	// weights: 100_00 basis points. Only ratios of weights matter; the
	// engine never assumes the sum equals this value.
	AllocationTotal = 100_00

	// BpsDenominator converts basis points to a fraction.
	BpsDenominator = 10_000

	// UsdUnitScale converts decimal USD values to the integer USD units
	// used wherever a USD total must be split without drift.
	UsdUnitScale = 1_000_000_000_000 // 10^12
)

// Error definitions for zero-tolerance error handling
var (
	ErrNegativeAmount = errors.New("amount is negative")
	ErrNegativeWeight = errors.New("weight is negative")
	ErrZeroWeightSum  = errors.New("weights sum to zero with a non-zero total")
	ErrNilAmount      = errors.New("amount is nil")
	ErrSplitExhausted = errors.New("splitter consumed more weight than it was given")
)

// ProportionalShare returns floor(amount * numerator / denominator).
// The denominator must be positive.
func ProportionalShare(amount, numerator, denominator sdkmath.Int) (sdkmath.Int, error) {
	if amount.IsNil() || numerator.IsNil() || denominator.IsNil() {
		return sdkmath.Int{}, ErrNilAmount
	}
	if amount.IsNegative() || numerator.IsNegative() {
		return sdkmath.Int{}, ErrNegativeAmount
	}
	if !denominator.IsPositive() {
		return sdkmath.Int{}, fmt.Errorf("%w: denominator %s", ErrZeroWeightSum, denominator)
	}
	return amount.Mul(numerator).Quo(denominator), nil
}

// Splitter divides a total across successive weighted recipients without
// losing or duplicating a single unit. Each call computes
//
//	part = remainingTotal * weight / remainingWeight
//
// and subtracts both the part and the weight from the running remainders,
// so the final recipient absorbs exactly what is left. A naive
// divide-then-round loop drifts; this one cannot.
type Splitter struct {
	remainingTotal  sdkmath.Int
	remainingWeight sdkmath.Int
}

// NewSplitter prepares a split of total across recipients whose weights sum
// to totalWeight. A zero totalWeight is only legal for a zero total.
func NewSplitter(total, totalWeight sdkmath.Int) (*Splitter, error) {
	if total.IsNil() || totalWeight.IsNil() {
		return nil, ErrNilAmount
	}
	if total.IsNegative() {
		return nil, fmt.Errorf("%w: total %s", ErrNegativeAmount, total)
	}
	if totalWeight.IsNegative() {
		return nil, fmt.Errorf("%w: total weight %s", ErrNegativeWeight, totalWeight)
	}
	if totalWeight.IsZero() && !total.IsZero() {
		return nil, fmt.Errorf("%w: total %s", ErrZeroWeightSum, total)
	}
	return &Splitter{remainingTotal: total, remainingWeight: totalWeight}, nil
}

// Next consumes one recipient's weight and returns its exact part.
func (s *Splitter) Next(weight sdkmath.Int) (sdkmath.Int, error) {
	if weight.IsNil() {
		return sdkmath.Int{}, ErrNilAmount
	}
	if weight.IsNegative() {
		return sdkmath.Int{}, fmt.Errorf("%w: weight %s", ErrNegativeWeight, weight)
	}
	if weight.GT(s.remainingWeight) {
		return sdkmath.Int{}, fmt.Errorf("%w: weight %s, remaining %s", ErrSplitExhausted, weight, s.remainingWeight)
	}
	if s.remainingWeight.IsZero() || s.remainingTotal.IsZero() {
		s.remainingWeight = s.remainingWeight.Sub(weight)
		return sdkmath.ZeroInt(), nil
	}
	part := s.remainingTotal.Mul(weight).Quo(s.remainingWeight)
	s.remainingTotal = s.remainingTotal.Sub(part)
	s.remainingWeight = s.remainingWeight.Sub(weight)
	return part, nil
}

// Remaining returns the undistributed amount. Zero once every recipient's
// weight has been consumed.
func (s *Splitter) Remaining() sdkmath.Int {
	return s.remainingTotal
}

// Distribute splits total across weights in order, assigning rounding dust
// to the last non-zero-weight recipient. sum(parts) == total always.
func Distribute(total sdkmath.Int, weights []sdkmath.Int) ([]sdkmath.Int, error) {
	totalWeight := sdkmath.ZeroInt()
	for i, w := range weights {
		if w.IsNil() {
			return nil, fmt.Errorf("%w: weight at index %d", ErrNilAmount, i)
		}
		if w.IsNegative() {
			return nil, fmt.Errorf("%w: weight %s at index %d", ErrNegativeWeight, w, i)
		}
		totalWeight = totalWeight.Add(w)
	}

	splitter, err := NewSplitter(total, totalWeight)
	if err != nil {
		return nil, err
	}

	parts := make([]sdkmath.Int, len(weights))
	for i, w := range weights {
		parts[i], err = splitter.Next(w)
		if err != nil {
			return nil, err
		}
	}
	return parts, nil
}

// WithinToleranceBps reports whether two cross-products agree within the
// given relative tolerance in basis points. Used by the deposit-ratio check;
// the comparison is symmetric in its arguments.
func WithinToleranceBps(a, b sdkmath.Int, toleranceBps int64) bool {
	if a.IsNil() || b.IsNil() {
		return false
	}
	diff := a.Sub(b).Abs()
	larger := a
	if b.GT(a) {
		larger = b
	}
	// diff / larger <= tolerance / 10000, rearranged to avoid division
	return diff.MulRaw(BpsDenominator).LTE(larger.MulRaw(toleranceBps))
}

// SumInts returns the exact sum of a slice of amounts.
func SumInts(values []sdkmath.Int) sdkmath.Int {
	sum := sdkmath.ZeroInt()
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum
}

// UsdToUnits converts a decimal USD value to integer USD units (floored).
func UsdToUnits(usd sdkmath.LegacyDec) sdkmath.Int {
	return usd.MulInt64(UsdUnitScale).TruncateInt()
}

// UnitsToUsd converts integer USD units back to a decimal USD value.
func UnitsToUsd(units sdkmath.Int) sdkmath.LegacyDec {
	return sdkmath.LegacyNewDecFromInt(units).QuoInt64(UsdUnitScale)
}

// ZeroRow returns a slice of n zero amounts.
func ZeroRow(n int) []sdkmath.Int {
	row := make([]sdkmath.Int, n)
	for i := range row {
		row[i] = sdkmath.ZeroInt()
	}
	return row
}
