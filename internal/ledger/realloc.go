/*

Reallocation hooks. The reallocation engine works in three moves against
each strategy's transient share pool: release shares held by vaults into
the pool, redeem or deposit the unmatched residual against the protocol,
and credit pooled shares back out to the receiving vaults. The pool must
drain to zero by the end of every reallocation; the engine owns that
invariant, the ledger owns the arithmetic.

*/

package ledger

import (
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/solvent-labs/svm/internal/types"
)

// reallocationAccount holds assets in transit between strategies during
// one reallocation execution.
const reallocationAccount = "reallocation/transit"

// PoolShares returns the strategy's transient reallocation pool balance.
func (l *Ledger) PoolShares(id types.StrategyID) (sdkmath.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, err := l.get(id)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return rec.poolShares, nil
}

// ReleaseShares moves a holder's shares into the strategy's reallocation
// pool. The strategy must be idle.
func (l *Ledger) ReleaseShares(id types.StrategyID, holder string, shares sdkmath.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.get(id)
	if err != nil {
		return err
	}
	if rec.state != types.StrategyIdle {
		return fmt.Errorf("%w: strategy %d is %s", ErrStrategyNotReady, id, rec.state)
	}
	if shares.IsNil() || shares.IsNegative() {
		return fmt.Errorf("released share amount for strategy %d is invalid", id)
	}
	if shares.IsZero() {
		return nil
	}
	balance := getOrZeroAcct(rec.shareBalances, holder)
	if shares.GT(balance) {
		return fmt.Errorf("%w: %s holds %s of strategy %d, releasing %s",
			ErrInsufficientShares, holder, balance, id, shares)
	}
	rec.shareBalances[holder] = balance.Sub(shares)
	rec.poolShares = rec.poolShares.Add(shares)
	return nil
}

// RedeemReleased redeems pooled shares against the protocol and parks the
// released assets in the reallocation transit account. Returns the released
// amounts, positional against the strategy's asset group.
func (l *Ledger) RedeemReleased(id types.StrategyID, shares sdkmath.Int) ([]sdkmath.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.get(id)
	if err != nil {
		return nil, err
	}
	if shares.IsNil() || shares.IsNegative() {
		return nil, fmt.Errorf("redeemed share amount for strategy %d is invalid", id)
	}
	if shares.GT(rec.poolShares) {
		return nil, fmt.Errorf("%w: pool holds %s of strategy %d, redeeming %s",
			ErrInsufficientShares, rec.poolShares, id, shares)
	}
	if shares.IsZero() {
		zero := make([]sdkmath.Int, rec.group.Len())
		for i := range zero {
			zero[i] = sdkmath.ZeroInt()
		}
		return zero, nil
	}
	if !rec.adapter.Atomic() {
		return nil, fmt.Errorf("strategy %d does not settle atomically and cannot be reallocated out of", id)
	}

	released, err := rec.adapter.RedeemFast(shares)
	if err != nil {
		return nil, fmt.Errorf("redeeming released shares from strategy %d: %w", id, err)
	}
	if err := rec.group.CheckAmounts(len(released)); err != nil {
		return nil, err
	}

	if rec.totalShares.IsPositive() && rec.lastUsdValue.IsPositive() {
		keep := rec.totalShares.Sub(shares)
		rec.lastUsdValue = rec.lastUsdValue.MulInt(keep).QuoInt(rec.totalShares)
	}
	rec.poolShares = rec.poolShares.Sub(shares)
	rec.totalShares = rec.totalShares.Sub(shares)

	if _, err := l.book.Mint(reallocationAccount, coinsFromAmounts(rec.group, released)); err != nil {
		return nil, fmt.Errorf("parking released assets from strategy %d: %w", id, err)
	}
	return released, nil
}

// DepositReleased deposits assets from the reallocation transit account
// into the strategy and adds the minted shares to its pool. Returns the
// minted share amount.
func (l *Ledger) DepositReleased(id types.StrategyID, amounts []sdkmath.Int) (sdkmath.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.get(id)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if err := rec.group.CheckAmounts(len(amounts)); err != nil {
		return sdkmath.Int{}, err
	}
	if !anyPositive(amounts) {
		return sdkmath.ZeroInt(), nil
	}
	if !rec.adapter.Atomic() {
		return sdkmath.Int{}, fmt.Errorf("strategy %d does not settle atomically and cannot be reallocated into", id)
	}

	coins := coinsFromAmounts(rec.group, amounts)
	if err := l.book.Burn(reallocationAccount, coins); err != nil {
		return sdkmath.Int{}, fmt.Errorf("unparking assets for strategy %d: %w", id, err)
	}
	minted, err := rec.adapter.Deposit(amounts)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("depositing reallocated assets into strategy %d: %w", id, err)
	}
	if minted.IsNil() || minted.IsNegative() {
		return sdkmath.Int{}, fmt.Errorf("adapter minted invalid share amount %s", minted)
	}

	// Bring the yield baseline up with the position so the inflow does
	// not read as yield at the next settlement.
	inflowUsd := sdkmath.LegacyZeroDec()
	for i, amount := range amounts {
		usd, err := l.prices.AssetToUsd(rec.group.Assets[i], amount)
		if err != nil {
			return sdkmath.Int{}, fmt.Errorf("valuing reallocated inflow for strategy %d: %w", id, err)
		}
		inflowUsd = inflowUsd.Add(usd)
	}
	rec.lastUsdValue = rec.lastUsdValue.Add(inflowUsd)

	rec.poolShares = rec.poolShares.Add(minted)
	rec.totalShares = rec.totalShares.Add(minted)
	return minted, nil
}

// CreditShares moves pooled shares to an account's balance.
func (l *Ledger) CreditShares(id types.StrategyID, account string, shares sdkmath.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.get(id)
	if err != nil {
		return err
	}
	if shares.IsNil() || shares.IsNegative() {
		return fmt.Errorf("credited share amount for strategy %d is invalid", id)
	}
	if shares.IsZero() {
		return nil
	}
	if shares.GT(rec.poolShares) {
		return fmt.Errorf("%w: pool holds %s of strategy %d, crediting %s",
			ErrInsufficientShares, rec.poolShares, id, shares)
	}
	rec.poolShares = rec.poolShares.Sub(shares)
	rec.shareBalances[account] = getOrZeroAcct(rec.shareBalances, account).Add(shares)
	return nil
}

// ReallocationAccount names the transit custody account so the engine can
// assert it drains to zero.
func ReallocationAccount() string {
	return reallocationAccount
}
