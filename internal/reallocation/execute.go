package reallocation

import (
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/solvent-labs/svm/internal/fixedpoint"
	"github.com/solvent-labs/svm/internal/types"
)

// execute applies a computed plan: release the withdrawing vaults' shares
// into each strategy's pool, redeem only the unmatched residual, route and
// redeposit the proceeds, then credit every pool back out to the receiving
// vaults. Each strategy's pool drains to zero by the end of the call.
func (e *Engine) execute(p *plan) (*Result, error) {
	n := len(p.ids)

	// Phase 1: move the withdrawing vaults' shares into the pools.
	for _, vp := range p.vaults {
		for idx, shares := range vp.releases {
			if err := e.ledger.ReleaseShares(p.ids[idx], vp.account, shares); err != nil {
				return nil, fmt.Errorf("releasing shares from strategy %d for vault %d: %w", p.ids[idx], vp.id, err)
			}
		}
	}

	// Phase 2: redeem each source's unmatched residual. The pool splits
	// between the redeemed part and the part that stays for matched
	// inflow; the stay side absorbs the rounding dust.
	inbound := make([][]sdkmath.Int, n)
	for j := range inbound {
		inbound[j] = fixedpoint.ZeroRow(p.group.Len())
	}
	for i := 0; i < n; i++ {
		if !p.unmatchedOut[i].IsPositive() {
			continue
		}
		pool, err := e.ledger.PoolShares(p.ids[i])
		if err != nil {
			return nil, err
		}
		splitter, err := fixedpoint.NewSplitter(pool, p.totalOut[i])
		if err != nil {
			return nil, err
		}
		redeemShares, err := splitter.Next(p.unmatchedOut[i])
		if err != nil {
			return nil, err
		}

		released, err := e.ledger.RedeemReleased(p.ids[i], redeemShares)
		if err != nil {
			return nil, err
		}

		// Route the released assets to destinations in proportion to
		// the unmatched pair residuals.
		for a := range released {
			parts, err := fixedpoint.Distribute(released[a], p.unmatched[i])
			if err != nil {
				return nil, fmt.Errorf("routing %s out of strategy %d: %w", p.group.Assets[a].Denom, p.ids[i], err)
			}
			for j := range parts {
				inbound[j][a] = inbound[j][a].Add(parts[j])
			}
		}
	}

	// Phase 3: deposit the routed assets; minted shares join each
	// destination's pool alongside the matched stay-shares.
	for j := 0; j < n; j++ {
		if _, err := e.ledger.DepositReleased(p.ids[j], inbound[j]); err != nil {
			return nil, err
		}
	}

	// Phase 4: drain every pool to the receiving vaults, weighted by each
	// vault's routed inflow. The last vault per strategy absorbs the dust.
	credited := make(map[types.VaultID]map[types.StrategyID]sdkmath.Int)
	for j := 0; j < n; j++ {
		pool, err := e.ledger.PoolShares(p.ids[j])
		if err != nil {
			return nil, err
		}
		if pool.IsZero() {
			continue
		}
		if !p.totalIn[j].IsPositive() {
			return nil, fmt.Errorf("strategy %d pool holds %s shares with no recorded inflow", p.ids[j], pool)
		}
		splitter, err := fixedpoint.NewSplitter(pool, p.totalIn[j])
		if err != nil {
			return nil, err
		}
		for _, vp := range p.vaults {
			in := getOrZeroIdx(vp.inUsd, j)
			part, err := splitter.Next(in)
			if err != nil {
				return nil, err
			}
			if part.IsZero() {
				continue
			}
			if err := e.ledger.CreditShares(p.ids[j], vp.account, part); err != nil {
				return nil, fmt.Errorf("crediting strategy %d shares to vault %d: %w", p.ids[j], vp.id, err)
			}
			if credited[vp.id] == nil {
				credited[vp.id] = make(map[types.StrategyID]sdkmath.Int)
			}
			credited[vp.id][p.ids[j]] = part
		}
	}

	matchedUnits := sdkmath.ZeroInt()
	unmatchedUnits := sdkmath.ZeroInt()
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			matchedUnits = matchedUnits.Add(p.matched[i][j])
			unmatchedUnits = unmatchedUnits.Add(p.unmatched[i][j])
		}
	}
	return &Result{
		MatchedUsd:     fixedpoint.UnitsToUsd(matchedUnits),
		UnmatchedUsd:   fixedpoint.UnitsToUsd(unmatchedUnits),
		SharesCredited: credited,
	}, nil
}
