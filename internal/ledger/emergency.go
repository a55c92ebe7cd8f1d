package ledger

import (
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/solvent-labs/svm/internal/access"
	"github.com/solvent-labs/svm/internal/custody"
	"github.com/solvent-labs/svm/internal/types"
)

// EmergencyWithdraw pulls everything out of the listed strategies and
// forwards it to the configured emergency wallet: the protocol position via
// the adapter, plus any flushed-but-undeposited assets and any released
// but unclaimed assets sitting in custody. Share accounting for the
// affected strategies is zeroed; individual claims against them become
// worthless by design. With revoke set, the strategies are additionally
// removed from the registry so nothing can route new capital to them.
// Requires the emergency-withdrawer role.
func (l *Ledger) EmergencyWithdraw(caller string, ids []types.StrategyID, revoke bool) error {
	if err := access.CheckRole(l.roles, access.RoleEmergencyWithdrawer, caller); err != nil {
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

		pulled, err := rec.adapter.EmergencyWithdraw()
		if err != nil {
			return fmt.Errorf("emergency withdrawing strategy %d: %w", id, err)
		}
		if err := rec.group.CheckAmounts(len(pulled)); err != nil {
			return err
		}

		account := custody.StrategyAccount(uint64(id))
		if _, err := l.book.Mint(account, coinsFromAmounts(rec.group, pulled)); err != nil {
			return fmt.Errorf("crediting emergency withdrawal from strategy %d: %w", id, err)
		}
		// The strategy's custody account now holds the protocol pull,
		// the flushed deposits that never entered the protocol, and
		// the released assets nobody claimed. Forward all of it.
		if err := l.book.Transfer(account, l.emergencyWallet, l.book.Balance(account)); err != nil {
			return fmt.Errorf("forwarding emergency funds from strategy %d: %w", id, err)
		}

		rec.totalShares = sdkmath.ZeroInt()
		rec.lastUsdValue = sdkmath.LegacyZeroDec()
		rec.poolShares = sdkmath.ZeroInt()
		rec.pendingRedeemShares = sdkmath.ZeroInt()
		for i := range rec.pendingDeposits {
			rec.pendingDeposits[i] = sdkmath.ZeroInt()
			rec.assetsNotClaimed[i] = sdkmath.ZeroInt()
		}
		if revoke {
			rec.revoked = true
		}

		l.log.Warn().
			Uint64("strategyId", uint64(id)).
			Bool("revoked", revoke).
			Str("wallet", l.emergencyWallet).
			Msg("Emergency withdrawal executed")
	}
	return nil
}
