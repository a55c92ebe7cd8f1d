/*

Claim functions: the pull side of epoch settlement. Shares minted at a
settled epoch are claimed by depositors pro-rata to their recorded USD
contribution; assets released at a settled epoch are claimed by redeemers
pro-rata to their queued shares. Both use floored division against a fixed
denominator recorded at settlement, so a claim's size never depends on who
claims first, and integer dust stays in the strategy's unclaimed balances.

*/

package ledger

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/solvent-labs/svm/internal/custody"
	"github.com/solvent-labs/svm/internal/fixedpoint"
	"github.com/solvent-labs/svm/internal/types"
)

// ClaimMintedShares credits the shares a depositor earned at a settled
// epoch to its share balance. A depositor with no recorded contribution at
// that epoch receives zero shares and no error. Claiming twice is a no-op
// because the contribution record is deleted on first claim.
func (l *Ledger) ClaimMintedShares(id types.StrategyID, account string, epoch uint64) (sdkmath.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.get(id)
	if err != nil {
		return sdkmath.Int{}, err
	}
	record, ok := rec.epochs[epoch]
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("%w: strategy %d epoch %d", ErrEpochNotSettled, id, epoch)
	}

	key := claimKey{account: account, epoch: epoch}
	contribution := getOrZero(rec.depositUsd, key)
	if contribution.IsZero() {
		return sdkmath.ZeroInt(), nil
	}

	// The denominator is the epoch's total contribution, fixed at
	// settlement. Early claimants cannot change later claimants' payouts.
	totalUsd := getOrZero(rec.depositUsdByEpoch, epoch)
	shares, err := fixedpoint.ProportionalShare(record.SharesMinted, contribution, totalUsd)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("computing minted-share claim for strategy %d epoch %d: %w", id, epoch, err)
	}

	unclaimed := getOrZero(rec.sharesNotClaimed, epoch)
	if shares.GT(unclaimed) {
		return sdkmath.Int{}, fmt.Errorf("%w: claim %s exceeds unclaimed %s for strategy %d epoch %d",
			ErrInsufficientShares, shares, unclaimed, id, epoch)
	}
	rec.sharesNotClaimed[epoch] = unclaimed.Sub(shares)
	delete(rec.depositUsd, key)
	rec.shareBalances[account] = getOrZeroAcct(rec.shareBalances, account).Add(shares)

	l.log.Debug().
		Uint64("strategyId", uint64(id)).
		Uint64("epoch", epoch).
		Str("account", account).
		Str("shares", shares.String()).
		Msg("Minted shares claimed")
	return shares, nil
}

// ClaimShareWithdrawals pays out a claimant's settled redemptions across a
// batch of strategies, one epoch per strategy. Every strategy in the batch
// must settle the same asset group so the payout is a single coherent coin
// set. Ghost entries and zero-share positions are skipped without error; an
// unsettled epoch fails the whole batch before any payout moves. Each
// strategy pays as a unit; if custody fails mid-batch, earlier strategies
// stay claimed and the coins returned alongside the error report exactly
// what was paid.
func (l *Ledger) ClaimShareWithdrawals(claimant string, ids []types.StrategyID, epochs []uint64) (sdk.Coins, error) {
	if len(ids) != len(epochs) {
		return nil, fmt.Errorf("%w: %d strategies, %d epochs", ErrLengthMismatch, len(ids), len(epochs))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Validate the entire batch before mutating anything.
	var group *types.AssetGroup
	for i, id := range ids {
		if id.IsGhost() {
			continue
		}
		rec, err := l.get(id)
		if err != nil {
			return nil, err
		}
		if group == nil {
			group = &rec.group
		} else if !group.Equal(rec.group) {
			return nil, fmt.Errorf("%w: strategy %d settles group %d, batch settles group %d",
				ErrNotSameAssetGroup, id, rec.group.ID, group.ID)
		}
		if _, ok := rec.epochs[epochs[i]]; !ok {
			if hasShares := getOrZero(rec.withdrawnShares, claimKey{account: claimant, epoch: epochs[i]}); hasShares.IsPositive() {
				return nil, fmt.Errorf("%w: strategy %d epoch %d", ErrEpochNotSettled, id, epochs[i])
			}
		}
	}

	payout := sdk.NewCoins()
	for i, id := range ids {
		if id.IsGhost() {
			continue
		}
		rec := l.strategies[id]
		key := claimKey{account: claimant, epoch: epochs[i]}
		shares := getOrZero(rec.withdrawnShares, key)
		if shares.IsZero() {
			continue
		}
		record := rec.epochs[epochs[i]]

		owed := make([]sdkmath.Int, rec.group.Len())
		for a := range owed {
			part, err := fixedpoint.ProportionalShare(record.AssetsWithdrawn[a], shares, record.SharesRedeemed)
			if err != nil {
				return payout, fmt.Errorf("computing withdrawal claim for strategy %d epoch %d: %w", id, epochs[i], err)
			}
			owed[a] = part
		}

		// Pay first, record after, so a custody failure leaves this
		// strategy's claim fully intact for a retry.
		coins := coinsFromAmounts(rec.group, owed)
		if err := l.book.Transfer(custody.StrategyAccount(uint64(id)), claimant, coins); err != nil {
			return payout, fmt.Errorf("paying withdrawal claim from strategy %d: %w", id, err)
		}
		for a := range owed {
			rec.assetsNotClaimed[a] = rec.assetsNotClaimed[a].Sub(owed[a])
		}
		delete(rec.withdrawnShares, key)
		payout = payout.Add(coins...)
	}

	if !payout.IsZero() {
		l.log.Debug().
			Str("claimant", claimant).
			Str("payout", payout.String()).
			Msg("Share withdrawals claimed")
	}
	return payout, nil
}

// RedeemFast redeems an account's shares immediately, outside the
// settlement cycle, across a batch of strategies sharing one asset group.
// Only works against idle strategies whose adapters settle atomically;
// everything else must go through QueueShareRedemption and the next
// settlement.
//
// The batch is validated in full before any adapter is called. Each
// strategy then redeems as a unit; if an adapter fails mid-batch, earlier
// strategies stay redeemed and the coins returned alongside the error
// report exactly what was delivered.
func (l *Ledger) RedeemFast(account string, ids []types.StrategyID, shares []sdkmath.Int) (sdk.Coins, error) {
	if len(ids) != len(shares) {
		return nil, fmt.Errorf("%w: %d strategies, %d share amounts", ErrLengthMismatch, len(ids), len(shares))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Validate the entire batch before touching any adapter.
	var group *types.AssetGroup
	for i, id := range ids {
		if id.IsGhost() || sharesZero(shares[i]) {
			continue
		}
		rec, err := l.get(id)
		if err != nil {
			return nil, err
		}
		if rec.state != types.StrategyIdle {
			return nil, fmt.Errorf("%w: strategy %d is %s", ErrStrategyNotReady, id, rec.state)
		}
		if !rec.adapter.Atomic() {
			return nil, fmt.Errorf("strategy %d does not settle atomically, queue a redemption instead", id)
		}
		if group == nil {
			group = &rec.group
		} else if !group.Equal(rec.group) {
			return nil, fmt.Errorf("%w: strategy %d settles group %d, batch settles group %d",
				ErrNotSameAssetGroup, id, rec.group.ID, group.ID)
		}
		if shares[i].IsNegative() {
			return nil, fmt.Errorf("share amount for strategy %d is negative", id)
		}
		if balance := getOrZeroAcct(rec.shareBalances, account); shares[i].GT(balance) {
			return nil, fmt.Errorf("%w: %s holds %s of strategy %d, redeeming %s",
				ErrInsufficientShares, account, balance, id, shares[i])
		}
	}

	payout := sdk.NewCoins()
	for i, id := range ids {
		if id.IsGhost() || sharesZero(shares[i]) {
			continue
		}
		rec := l.strategies[id]

		redeemed, err := rec.adapter.RedeemFast(shares[i])
		if err != nil {
			return payout, fmt.Errorf("fast redeeming from strategy %d: %w", id, err)
		}
		if err := rec.group.CheckAmounts(len(redeemed)); err != nil {
			return payout, err
		}
		coins := coinsFromAmounts(rec.group, redeemed)
		if _, err := l.book.Mint(account, coins); err != nil {
			return payout, fmt.Errorf("delivering fast redemption from strategy %d: %w", id, err)
		}

		// Scale the yield baseline down with the position, otherwise
		// the redemption reads as a loss at the next settlement.
		if rec.totalShares.IsPositive() && rec.lastUsdValue.IsPositive() {
			keep := rec.totalShares.Sub(shares[i])
			rec.lastUsdValue = rec.lastUsdValue.MulInt(keep).QuoInt(rec.totalShares)
		}

		rec.shareBalances[account] = getOrZeroAcct(rec.shareBalances, account).Sub(shares[i])
		rec.totalShares = rec.totalShares.Sub(shares[i])
		payout = payout.Add(coins...)
	}

	l.log.Info().
		Str("account", account).
		Str("payout", payout.String()).
		Msg("Fast redemption complete")
	return payout, nil
}

func sharesZero(s sdkmath.Int) bool {
	return s.IsNil() || s.IsZero()
}
