package vault

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/solvent-labs/svm/internal/fixedpoint"
	"github.com/solvent-labs/svm/internal/types"
)

// Sync reads settled epochs back into the vault: claims the strategy
// shares minted for flushed deposits, prices and mints the matching SVT,
// and collects the assets released for flushed withdrawals. Flushes sync
// strictly in index order; an unsettled flush stops the pass. Returns the
// number of flushes synced.
func (v *SmartVault) Sync() (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	synced := 0
	for index := uint64(0); index < v.nextFlush; index++ {
		record, ok := v.flushes[index]
		if !ok || record.synced {
			continue
		}
		settled, err := v.flushSettled(record)
		if err != nil {
			return synced, err
		}
		if !settled {
			break
		}
		if err := v.syncFlush(record); err != nil {
			return synced, fmt.Errorf("syncing flush %d: %w", index, err)
		}
		record.synced = true
		synced++
	}
	return synced, nil
}

// flushSettled reports whether every epoch the flush was queued into has
// closed. Caller holds v.mu.
func (v *SmartVault) flushSettled(record *flushRecord) (bool, error) {
	for id, epoch := range record.epochs {
		current, err := v.led.CurrentEpoch(id)
		if err != nil {
			return false, err
		}
		if current <= epoch {
			return false, nil
		}
	}
	return true, nil
}

// syncFlush resolves one settled flush. Caller holds v.mu.
func (v *SmartVault) syncFlush(record *flushRecord) error {
	if len(record.depositIDs) > 0 && record.depositUsd.IsPositive() {
		if err := v.syncDeposits(record); err != nil {
			return err
		}
	}
	if record.withdrawnSvt.IsPositive() {
		if err := v.syncWithdrawals(record); err != nil {
			return err
		}
	}
	v.log.Info().
		Uint64("flushIndex", record.index).
		Msg("Flush synced")
	return nil
}

// syncDeposits claims the minted strategy shares and mints SVT against the
// vault's pre-claim value, so depositors pay the going share price rather
// than diluting existing holders.
func (v *SmartVault) syncDeposits(record *flushRecord) error {
	preValue, err := v.positionsUsd()
	if err != nil {
		return err
	}

	for id, epoch := range record.epochs {
		if _, err := v.led.ClaimMintedShares(id, v.account(), epoch); err != nil {
			return fmt.Errorf("claiming minted shares from strategy %d: %w", id, err)
		}
	}

	var svtMint sdkmath.Int
	if v.svtSupply.IsZero() || !preValue.IsPositive() {
		svtMint = record.depositUsd.MulInt(svtScalar).TruncateInt()
	} else {
		svtMint = record.depositUsd.MulInt(v.svtSupply).Quo(preValue).TruncateInt()
	}

	// Split the batch's SVT across its requests by flush-time USD value;
	// the last request absorbs the dust.
	weights := make([]sdkmath.Int, len(record.depositIDs))
	for k, reqID := range record.depositIDs {
		weights[k] = fixedpoint.UsdToUnits(v.deposits[reqID].UsdValue)
	}
	parts, err := fixedpoint.Distribute(svtMint, weights)
	if err != nil {
		return err
	}
	for k, reqID := range record.depositIDs {
		req := v.deposits[reqID]
		req.SvtMinted = parts[k]
		req.Status = types.RequestResolved
	}
	v.svtSupply = v.svtSupply.Add(svtMint)

	v.log.Debug().
		Uint64("flushIndex", record.index).
		Str("svtMinted", svtMint.String()).
		Str("depositUsd", record.depositUsd.String()).
		Msg("Deposit batch resolved")
	return nil
}

// syncWithdrawals collects the settled redemption proceeds into the
// vault's custody and parks them on the flush record for per-request
// claims.
func (v *SmartVault) syncWithdrawals(record *flushRecord) error {
	ids := make([]types.StrategyID, 0, len(record.epochs))
	epochs := make([]uint64, 0, len(record.epochs))
	for id, epoch := range record.epochs {
		ids = append(ids, id)
		epochs = append(epochs, epoch)
	}

	coins, err := v.led.ClaimShareWithdrawals(v.account(), ids, epochs)
	if err != nil {
		return fmt.Errorf("claiming settled withdrawals: %w", err)
	}

	record.withdrawnAssets = fixedpoint.ZeroRow(v.group.Len())
	for i, asset := range v.group.Assets {
		record.withdrawnAssets[i] = coins.AmountOf(asset.Denom)
	}
	for _, reqID := range record.withdrawalIDs {
		v.withdrawals[reqID].Status = types.RequestResolved
	}

	v.log.Debug().
		Uint64("flushIndex", record.index).
		Str("assets", coins.String()).
		Msg("Withdrawal batch resolved")
	return nil
}

// ClaimDeposit credits a resolved deposit request's SVT to its owner and
// destroys the request.
func (v *SmartVault) ClaimDeposit(owner string, requestID uint64) (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	req, ok := v.deposits[requestID]
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("%w: deposit %d", ErrUnknownRequest, requestID)
	}
	if req.Owner != owner {
		return sdkmath.Int{}, fmt.Errorf("%w: deposit %d", ErrNotRequestOwner, requestID)
	}
	if req.Status != types.RequestResolved {
		return sdkmath.Int{}, fmt.Errorf("%w: deposit %d is %s", ErrRequestNotResolved, requestID, req.Status)
	}

	minted := req.SvtMinted
	bal, ok := v.svtBalances[owner]
	if !ok {
		bal = sdkmath.ZeroInt()
	}
	v.svtBalances[owner] = bal.Add(minted)
	req.Status = types.RequestClaimed
	delete(v.deposits, requestID)

	v.log.Debug().Uint64("requestId", requestID).Str("owner", owner).Str("svt", minted.String()).Msg("Deposit claimed")
	return minted, nil
}

// ClaimWithdrawal pays a resolved withdrawal request's proportional share
// of its flush's settled assets and destroys the request. The last
// claimant of a flush receives exactly what remains.
func (v *SmartVault) ClaimWithdrawal(owner string, requestID uint64) (sdk.Coins, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	req, ok := v.withdrawals[requestID]
	if !ok {
		return nil, fmt.Errorf("%w: withdrawal %d", ErrUnknownRequest, requestID)
	}
	if req.Owner != owner {
		return nil, fmt.Errorf("%w: withdrawal %d", ErrNotRequestOwner, requestID)
	}
	if req.Status != types.RequestResolved {
		return nil, fmt.Errorf("%w: withdrawal %d is %s", ErrRequestNotResolved, requestID, req.Status)
	}
	record := v.flushes[req.FlushIndex]

	owed := fixedpoint.ZeroRow(v.group.Len())
	for a := range owed {
		var part sdkmath.Int
		if req.SvtShares.Equal(record.remainingSvt) {
			part = record.withdrawnAssets[a]
		} else {
			var err error
			part, err = fixedpoint.ProportionalShare(record.withdrawnAssets[a], req.SvtShares, record.remainingSvt)
			if err != nil {
				return nil, err
			}
		}
		record.withdrawnAssets[a] = record.withdrawnAssets[a].Sub(part)
		owed[a] = part
	}
	record.remainingSvt = record.remainingSvt.Sub(req.SvtShares)

	coins := coinsFromAmounts(v.group, owed)
	if err := v.book.Transfer(v.account(), owner, coins); err != nil {
		return nil, fmt.Errorf("paying withdrawal %d: %w", requestID, err)
	}
	req.Status = types.RequestClaimed
	delete(v.withdrawals, requestID)

	v.log.Debug().Uint64("requestId", requestID).Str("owner", owner).Str("coins", coins.String()).Msg("Withdrawal claimed")
	return coins, nil
}
