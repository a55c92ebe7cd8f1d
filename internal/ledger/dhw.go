package ledger

import (
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/solvent-labs/svm/internal/access"
	"github.com/solvent-labs/svm/internal/custody"
	"github.com/solvent-labs/svm/internal/fixedpoint"
	"github.com/solvent-labs/svm/internal/types"
)

// DoHardWork settles every listed strategy: queued redemptions are redeemed
// from the protocol, queued deposits are deposited into it, realized yield
// is measured against the previous epoch close, and the epoch counter
// advances. Ghost strategy entries are skipped without error. Requires the
// do-hard-worker role.
//
// Settlement of one strategy commits leg by leg: a failure before any
// external call leaves the strategy untouched, and once the protocol has
// honored a leg its accounting commits with it, so a retry never repeats a
// completed leg. The epoch closes only after every leg has settled; flows
// a failure left unapplied stay queued for the retry. Strategies settled
// before the failing one stay settled.
func (l *Ledger) DoHardWork(caller string, ids []types.StrategyID) error {
	if err := access.CheckRole(l.roles, access.RoleDoHardWorker, caller); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, id := range ids {
		if id.IsGhost() {
			continue
		}
		rec, err := l.get(id)
		if err != nil {
			return err
		}
		if rec.state != types.StrategyIdle {
			return fmt.Errorf("%w: strategy %d is %s", ErrStrategyNotReady, id, rec.state)
		}

		rec.state = types.StrategyDhwInProgress
		if err := l.settle(rec); err != nil {
			rec.state = types.StrategyIdle
			return fmt.Errorf("settling strategy %d at epoch %d: %w", id, rec.currentEpoch, err)
		}
		rec.state = types.StrategyIdle
	}
	return nil
}

// settle runs one strategy's epoch close. Caller holds l.mu and has already
// moved the strategy into DhwInProgress.
//
// The close commits leg by leg. Each leg pairs its external call with the
// accounting it implies and clears its queue the moment both are done, so
// a failure in a later leg can never cause a retry to redeem or deposit
// the same flow twice. Legs that ran before the failure stay on the staged
// record until a retry finishes the rest and closes the epoch.
func (l *Ledger) settle(rec *strategyRecord) error {
	epoch := rec.currentEpoch
	account := custody.StrategyAccount(uint64(rec.id))

	// The deposit leg will burn the flushed assets out of the strategy's
	// custody account. Verify that balance up front so no earlier leg
	// commits ahead of a burn that cannot succeed.
	depositCoins := coinsFromAmounts(rec.group, rec.pendingDeposits)
	if anyPositive(rec.pendingDeposits) {
		if held := l.book.Balance(account); !depositCoins.IsAllLTE(held) {
			return fmt.Errorf("%w: strategy %d custody holds %s, flush recorded %s",
				custody.ErrInsufficientFunds, rec.id, held, depositCoins)
		}
	}

	record := rec.settling
	if record == nil {
		fresh := types.NewEpochRecord(epoch, rec.group.Len())
		record = &fresh

		// Yield is measured before this epoch's flows touch the position,
		// so deposits and withdrawals cannot masquerade as gains or losses.
		preValue, err := rec.adapter.TotalUsdValue()
		if err != nil {
			return fmt.Errorf("reading position value: %w", err)
		}
		if rec.lastUsdValue.IsPositive() {
			record.YieldPct = preValue.Sub(rec.lastUsdValue).Quo(rec.lastUsdValue)
		}
	}

	// Redemptions first: the shares were already debited from their
	// holders when queued, so only the protocol side remains.
	if rec.pendingRedeemShares.IsPositive() {
		withdrawn, err := rec.adapter.Redeem(rec.pendingRedeemShares)
		if err != nil {
			return fmt.Errorf("redeeming %s shares: %w", rec.pendingRedeemShares, err)
		}
		if err := rec.group.CheckAmounts(len(withdrawn)); err != nil {
			return err
		}
		if _, err := l.book.Mint(account, coinsFromAmounts(rec.group, withdrawn)); err != nil {
			return fmt.Errorf("crediting withdrawn assets: %w", err)
		}
		for i := range withdrawn {
			record.AssetsWithdrawn[i] = record.AssetsWithdrawn[i].Add(withdrawn[i])
			rec.assetsNotClaimed[i] = rec.assetsNotClaimed[i].Add(withdrawn[i])
		}
		record.SharesRedeemed = record.SharesRedeemed.Add(rec.pendingRedeemShares)
		rec.totalShares = rec.totalShares.Sub(rec.pendingRedeemShares)
		rec.pendingRedeemShares = sdkmath.ZeroInt()
		rec.settling = record
	}

	// Then deposits. The protocol accepts the assets first; the custody
	// burn was preflighted above, so flushed value is never destroyed
	// ahead of a protocol rejection.
	if anyPositive(rec.pendingDeposits) {
		minted, err := rec.adapter.Deposit(rec.pendingDeposits)
		if err != nil {
			return fmt.Errorf("depositing flushed assets: %w", err)
		}
		if minted.IsNil() || minted.IsNegative() {
			return fmt.Errorf("adapter minted invalid share amount %s", minted)
		}
		if err := l.book.Burn(account, depositCoins); err != nil {
			return fmt.Errorf("debiting flushed deposits: %w", err)
		}
		for i := range rec.pendingDeposits {
			record.AssetsDeposited[i] = record.AssetsDeposited[i].Add(rec.pendingDeposits[i])
		}
		record.SharesMinted = record.SharesMinted.Add(minted)
		rec.totalShares = rec.totalShares.Add(minted)
		prior, ok := rec.sharesNotClaimed[epoch]
		if !ok {
			prior = sdkmath.ZeroInt()
		}
		rec.sharesNotClaimed[epoch] = prior.Add(minted)
		rec.pendingDeposits = fixedpoint.ZeroRow(rec.group.Len())
		rec.settling = record
	}

	postValue, err := rec.adapter.TotalUsdValue()
	if err != nil {
		return fmt.Errorf("reading position value after flows: %w", err)
	}
	record.UsdValueAtClose = postValue

	rec.epochs[epoch] = record
	rec.settling = nil
	rec.lastUsdValue = postValue
	rec.currentEpoch++

	l.log.Info().
		Uint64("strategyId", uint64(rec.id)).
		Uint64("epoch", epoch).
		Str("yieldPct", record.YieldPct.String()).
		Str("sharesMinted", record.SharesMinted.String()).
		Str("sharesRedeemed", record.SharesRedeemed.String()).
		Str("usdValueAtClose", postValue.String()).
		Msg("Strategy epoch settled")
	return nil
}

func anyPositive(amounts []sdkmath.Int) bool {
	for _, a := range amounts {
		if a.IsPositive() {
			return true
		}
	}
	return false
}
