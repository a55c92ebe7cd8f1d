/*

Simulated constant-ratio protocol adapter. Stands in for live integrations
in the keeper's simulation mode and in tests: deposits mint shares pro-rata
against the position's USD value, redemptions release assets pro-rata
against the position's balances, and AccrueYield grows balances by a fixed
per-cycle percentage.

*/

package adapters

import (
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"

	"github.com/solvent-labs/svm/internal/fixedpoint"
	"github.com/solvent-labs/svm/internal/oracle"
	"github.com/solvent-labs/svm/internal/types"
)

// shareScalar sets the neutral share precision for a fresh position:
// one USD of deposit mints 10^6 shares.
var shareScalar = sdkmath.NewInt(1_000_000)

// SimulatedAdapter is an in-memory protocol position.
type SimulatedAdapter struct {
	mu sync.Mutex

	group      types.AssetGroup
	ratio      []sdkmath.Int // required asset ratio, base units
	prices     oracle.PriceOracle
	balances   []sdkmath.Int
	shares     sdkmath.Int
	yieldPct   sdkmath.LegacyDec // per AccrueYield call
	atomic     bool
}

// NewSimulatedAdapter creates a position with the given required ratio and
// per-cycle yield percentage (e.g. 0.001 for 0.1%).
func NewSimulatedAdapter(group types.AssetGroup, ratio []sdkmath.Int, prices oracle.PriceOracle, yieldPct sdkmath.LegacyDec, atomic bool) (*SimulatedAdapter, error) {
	if err := group.Validate(); err != nil {
		return nil, err
	}
	if err := group.CheckAmounts(len(ratio)); err != nil {
		return nil, err
	}
	a := &SimulatedAdapter{
		group:    group,
		ratio:    append([]sdkmath.Int(nil), ratio...),
		prices:   prices,
		balances: fixedpoint.ZeroRow(group.Len()),
		shares:   sdkmath.ZeroInt(),
		yieldPct: yieldPct,
		atomic:   atomic,
	}
	return a, nil
}

// Deposit implements StrategyAdapter.
func (a *SimulatedAdapter) Deposit(amounts []sdkmath.Int) (sdkmath.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.group.CheckAmounts(len(amounts)); err != nil {
		return sdkmath.Int{}, ErrAmountMismatch
	}

	depositUsd, err := a.valueUsd(amounts)
	if err != nil {
		return sdkmath.Int{}, err
	}
	positionUsd, err := a.valueUsd(a.balances)
	if err != nil {
		return sdkmath.Int{}, err
	}

	var minted sdkmath.Int
	if a.shares.IsZero() || !positionUsd.IsPositive() {
		minted = depositUsd.MulInt(shareScalar).TruncateInt()
	} else {
		minted = depositUsd.MulInt(a.shares).Quo(positionUsd).TruncateInt()
	}

	for i := range amounts {
		if amounts[i].IsNegative() {
			return sdkmath.Int{}, fmt.Errorf("negative deposit for %s", a.group.Assets[i].Denom)
		}
		a.balances[i] = a.balances[i].Add(amounts[i])
	}
	a.shares = a.shares.Add(minted)
	return minted, nil
}

// Redeem implements StrategyAdapter.
func (a *SimulatedAdapter) Redeem(shares sdkmath.Int) ([]sdkmath.Int, error) {
	return a.redeem(shares)
}

// RedeemFast implements StrategyAdapter. The simulated protocol settles
// everything atomically, so fast redemption is plain redemption.
func (a *SimulatedAdapter) RedeemFast(shares sdkmath.Int) ([]sdkmath.Int, error) {
	if !a.atomic {
		return nil, ErrNotAtomic
	}
	return a.redeem(shares)
}

func (a *SimulatedAdapter) redeem(shares sdkmath.Int) ([]sdkmath.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if shares.IsNegative() || shares.GT(a.shares) {
		return nil, fmt.Errorf("%w: %s of %s", ErrInsufficientShares, shares, a.shares)
	}
	out := fixedpoint.ZeroRow(a.group.Len())
	if shares.IsZero() {
		return out, nil
	}
	for i := range a.balances {
		part := a.balances[i].Mul(shares).Quo(a.shares)
		a.balances[i] = a.balances[i].Sub(part)
		out[i] = part
	}
	a.shares = a.shares.Sub(shares)
	return out, nil
}

// EmergencyWithdraw implements StrategyAdapter.
func (a *SimulatedAdapter) EmergencyWithdraw() ([]sdkmath.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := a.balances
	a.balances = fixedpoint.ZeroRow(a.group.Len())
	a.shares = sdkmath.ZeroInt()
	return out, nil
}

// TotalUsdValue implements StrategyAdapter.
func (a *SimulatedAdapter) TotalUsdValue() (sdkmath.LegacyDec, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.valueUsd(a.balances)
}

// TotalShares implements StrategyAdapter.
func (a *SimulatedAdapter) TotalShares() (sdkmath.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.shares, nil
}

// AssetRatio implements StrategyAdapter.
func (a *SimulatedAdapter) AssetRatio() ([]sdkmath.Int, error) {
	return append([]sdkmath.Int(nil), a.ratio...), nil
}

// Atomic implements StrategyAdapter.
func (a *SimulatedAdapter) Atomic() bool {
	return a.atomic
}

// AccrueYield grows every balance by the configured yield percentage.
// Called once per keeper cycle in simulation mode.
func (a *SimulatedAdapter) AccrueYield() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.yieldPct.IsNil() || a.yieldPct.IsZero() {
		return
	}
	growth := sdkmath.LegacyOneDec().Add(a.yieldPct)
	for i := range a.balances {
		a.balances[i] = growth.MulInt(a.balances[i]).TruncateInt()
	}
}

func (a *SimulatedAdapter) valueUsd(amounts []sdkmath.Int) (sdkmath.LegacyDec, error) {
	total := sdkmath.LegacyZeroDec()
	for i, amount := range amounts {
		usd, err := a.prices.AssetToUsd(a.group.Assets[i], amount)
		if err != nil {
			return sdkmath.LegacyDec{}, err
		}
		total = total.Add(usd)
	}
	return total, nil
}
