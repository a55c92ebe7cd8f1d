package vault

import (
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/solvent-labs/svm/internal/custody"
	"github.com/solvent-labs/svm/internal/depositratio"
	"github.com/solvent-labs/svm/internal/fixedpoint"
	"github.com/solvent-labs/svm/internal/oracle"
	"github.com/solvent-labs/svm/internal/types"
)

// Flush hands the pending batch to the strategy ledger: deposits are
// ratio-checked, split across strategies and queued, and withdrawal SVT is
// converted to proportional strategy-share redemptions. Returns false when
// nothing was worth flushing.
//
// A failed ratio check fails the whole flush and leaves every request
// pending; the depositors must correct the batch composition. This is an
// economic guard, not a recoverable condition.
func (v *SmartVault) Flush() (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.pendingDeposits) == 0 && len(v.pendingWithdrawals) == 0 {
		return false, nil
	}

	rates, err := oracle.GroupRates(v.prices, v.group)
	if err != nil {
		return false, fmt.Errorf("reading exchange rates: %w", err)
	}

	// Batch totals and per-request USD values at today's rates.
	totals := fixedpoint.ZeroRow(v.group.Len())
	depositUsd := sdkmath.LegacyZeroDec()
	for _, req := range v.pendingDeposits {
		reqUsd := sdkmath.LegacyZeroDec()
		for i, amount := range req.Amounts {
			totals[i] = totals[i].Add(amount)
			reqUsd = reqUsd.Add(oracle.ValueInUsd(rates[i], v.group.Assets[i].Precision, amount))
		}
		req.UsdValue = reqUsd
		depositUsd = depositUsd.Add(reqUsd)
	}

	withdrawnSvt := sdkmath.ZeroInt()
	for _, req := range v.pendingWithdrawals {
		withdrawnSvt = withdrawnSvt.Add(req.SvtShares)
	}

	// Dust-sized deposit batches wait for more volume unless withdrawals
	// force a settlement anyway.
	if withdrawnSvt.IsZero() && !v.params.MinFlushUsdValue.IsNil() && depositUsd.LT(v.params.MinFlushUsdValue) {
		v.log.Debug().Str("depositUsd", depositUsd.String()).Msg("Flush skipped below minimum value")
		return false, nil
	}

	weights, err := v.allocationWeights()
	if err != nil {
		return false, err
	}

	record := &flushRecord{
		index:        v.nextFlush,
		epochs:       make(map[types.StrategyID]uint64),
		depositUsd:   depositUsd,
		withdrawnSvt: withdrawnSvt,
		remainingSvt: withdrawnSvt,
	}

	if anyPositive(totals) {
		if err := v.flushDeposits(record, totals, weights, rates); err != nil {
			return false, err
		}
	}
	if withdrawnSvt.IsPositive() {
		if err := v.flushWithdrawals(record, withdrawnSvt); err != nil {
			return false, err
		}
	}

	for _, req := range v.pendingDeposits {
		req.FlushIndex = record.index
		req.Status = types.RequestFlushed
		record.depositIDs = append(record.depositIDs, req.ID)
	}
	for _, req := range v.pendingWithdrawals {
		req.FlushIndex = record.index
		req.Status = types.RequestFlushed
		record.withdrawalIDs = append(record.withdrawalIDs, req.ID)
	}
	v.pendingDeposits = nil
	v.pendingWithdrawals = nil
	v.flushes[record.index] = record
	v.nextFlush++

	v.log.Info().
		Uint64("flushIndex", record.index).
		Int("deposits", len(record.depositIDs)).
		Int("withdrawals", len(record.withdrawalIDs)).
		Str("depositUsd", depositUsd.String()).
		Str("withdrawnSvt", withdrawnSvt.String()).
		Msg("Vault flushed")
	return true, nil
}

// flushDeposits ratio-checks the batch, splits it across strategies and
// queues each strategy's part with the ledger. Caller holds v.mu.
func (v *SmartVault) flushDeposits(record *flushRecord, totals []sdkmath.Int, weights []depositratio.StrategyWeights, rates []sdkmath.LegacyDec) error {
	idealRatio, err := v.ratio.CalculateDepositRatio(weights, rates)
	if err != nil {
		return err
	}
	if err := v.ratio.CheckDepositRatio(totals, idealRatio); err != nil {
		return err
	}
	distribution, err := v.ratio.DistributeDeposit(totals, weights, rates)
	if err != nil {
		return err
	}

	for s, w := range weights {
		amounts := distribution[s]
		if !anyPositive(amounts) {
			continue
		}
		strategyUsd := sdkmath.LegacyZeroDec()
		for i, amount := range amounts {
			strategyUsd = strategyUsd.Add(oracle.ValueInUsd(rates[i], v.group.Assets[i].Precision, amount))
		}

		coins := coinsFromAmounts(v.group, amounts)
		if err := v.book.Transfer(v.account(), custody.StrategyAccount(uint64(w.ID)), coins); err != nil {
			return fmt.Errorf("moving flush to strategy %d: %w", w.ID, err)
		}
		epoch, err := v.led.AddStrategyDeposit(w.ID, v.account(), amounts, strategyUsd)
		if err != nil {
			return fmt.Errorf("queueing deposit with strategy %d: %w", w.ID, err)
		}
		record.epochs[w.ID] = epoch
	}
	return nil
}

// flushWithdrawals converts the batch's SVT into proportional strategy
// share redemptions. Caller holds v.mu.
func (v *SmartVault) flushWithdrawals(record *flushRecord, withdrawnSvt sdkmath.Int) error {
	if !v.svtSupply.IsPositive() {
		return fmt.Errorf("%w: no vault tokens outstanding", ErrInsufficientSvt)
	}
	for _, id := range v.strategies {
		if id.IsGhost() {
			continue
		}
		held := v.led.ShareBalance(id, v.account())
		var redeem sdkmath.Int
		if withdrawnSvt.Equal(v.svtSupply) {
			redeem = held
		} else {
			var err error
			redeem, err = fixedpoint.ProportionalShare(held, withdrawnSvt, v.svtSupply)
			if err != nil {
				return err
			}
		}
		if redeem.IsZero() {
			continue
		}
		epoch, err := v.led.QueueShareRedemption(id, v.account(), redeem)
		if err != nil {
			return fmt.Errorf("queueing redemption with strategy %d: %w", id, err)
		}
		record.epochs[id] = epoch
	}
	v.svtSupply = v.svtSupply.Sub(withdrawnSvt)
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
