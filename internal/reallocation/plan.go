package reallocation

import (
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/solvent-labs/svm/internal/fixedpoint"
	"github.com/solvent-labs/svm/internal/types"
)

// plan is the fully computed reallocation before any external call. All
// values are integer USD units; table cell (i, j) holds the value to move
// from strategy i to strategy j.
type plan struct {
	ids   []types.StrategyID
	index map[types.StrategyID]int
	group types.AssetGroup

	vaults []vaultPlan

	table     [][]sdkmath.Int
	matched   [][]sdkmath.Int
	unmatched [][]sdkmath.Int

	totalOut     []sdkmath.Int // per source, Σ_j table[i][j]
	totalIn      []sdkmath.Int // per destination, Σ_i table[i][j]
	unmatchedOut []sdkmath.Int // per source, Σ_j unmatched[i][j]
}

// vaultPlan is one vault's contribution to the plan.
type vaultPlan struct {
	id      types.VaultID
	account string

	// shares to release per source strategy index
	releases map[int]sdkmath.Int

	// USD units flowing out of / into each strategy index for this vault.
	// Inflows are recorded from the table contributions, so the claim
	// weights match what was actually routed.
	outUsd map[int]sdkmath.Int
	inUsd  map[int]sdkmath.Int
}

// buildPlan runs delta calculation, index mapping, and table construction.
// Read-only against the ledger.
func (e *Engine) buildPlan(strategies []types.StrategyID, vaults []VaultReallocation) (*plan, error) {
	if err := e.validate(strategies, vaults); err != nil {
		return nil, err
	}

	n := len(strategies)
	p := &plan{
		ids:          strategies,
		index:        make(map[types.StrategyID]int, n),
		table:        zeroTable(n),
		matched:      zeroTable(n),
		unmatched:    zeroTable(n),
		totalOut:     fixedpoint.ZeroRow(n),
		totalIn:      fixedpoint.ZeroRow(n),
		unmatchedOut: fixedpoint.ZeroRow(n),
	}
	for i, id := range strategies {
		p.index[id] = i
	}
	group, err := e.ledger.AssetGroup(strategies[0])
	if err != nil {
		return nil, err
	}
	p.group = group

	for _, v := range vaults {
		vp, err := e.planVault(p, v)
		if err != nil {
			return nil, fmt.Errorf("planning vault %d: %w", v.VaultID, err)
		}
		if vp != nil {
			p.vaults = append(p.vaults, *vp)
		}
	}

	// Netting: capital that would flow both ways between a pair of
	// strategies cancels out without an external call. The diagonal nets
	// trivially, covering one vault leaving a strategy another enters.
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			m := sdkmath.MinInt(p.table[i][j], p.table[j][i])
			p.matched[i][j] = m
			p.unmatched[i][j] = p.table[i][j].Sub(m)
			p.totalOut[i] = p.totalOut[i].Add(p.table[i][j])
			p.totalIn[j] = p.totalIn[j].Add(p.table[i][j])
			p.unmatchedOut[i] = p.unmatchedOut[i].Add(p.unmatched[i][j])
		}
	}
	return p, nil
}

// planVault computes one vault's deltas and its table contributions.
// Returns nil for a vault holding no value.
func (e *Engine) planVault(p *plan, v VaultReallocation) (*vaultPlan, error) {
	account := vaultAccount(v.VaultID)

	// Current USD value per strategy, from the vault's share balances at
	// the last settled epoch.
	type position struct {
		idx     int
		shares  sdkmath.Int
		current sdkmath.Int
		weight  sdkmath.Int // target allocation
	}
	positions := make([]position, 0, len(v.Strategies))
	vaultTotal := sdkmath.ZeroInt()
	allocTotal := sdkmath.ZeroInt()
	for k, id := range v.Strategies {
		if id.IsGhost() {
			continue
		}
		shares := e.ledger.ShareBalance(id, account)
		totalShares, err := e.ledger.TotalShares(id)
		if err != nil {
			return nil, err
		}
		totalUsd, err := e.ledger.TotalUsdValue(id)
		if err != nil {
			return nil, err
		}
		current, err := usdUnits(shares, totalShares, totalUsd)
		if err != nil {
			return nil, err
		}
		weight := sdkmath.NewIntFromUint64(uint64(v.TargetAllocations[k]))
		positions = append(positions, position{idx: p.index[id], shares: shares, current: current, weight: weight})
		vaultTotal = vaultTotal.Add(current)
		allocTotal = allocTotal.Add(weight)
	}
	if vaultTotal.IsZero() {
		return nil, nil
	}
	if allocTotal.IsZero() {
		return nil, ErrZeroTargetAllocation
	}

	// Target values split the vault total exactly across the new
	// allocations, then deltas decide direction per strategy.
	weights := make([]sdkmath.Int, len(positions))
	for k := range positions {
		weights[k] = positions[k].weight
	}
	targets, err := fixedpoint.Distribute(vaultTotal, weights)
	if err != nil {
		return nil, err
	}

	vp := &vaultPlan{
		id:       v.VaultID,
		account:  account,
		releases: make(map[int]sdkmath.Int),
		outUsd:   make(map[int]sdkmath.Int),
		inUsd:    make(map[int]sdkmath.Int),
	}
	outTotal := sdkmath.ZeroInt()
	inWeights := make([]sdkmath.Int, 0)
	inIdx := make([]int, 0)
	for k, pos := range positions {
		delta := targets[k].Sub(pos.current)
		switch {
		case delta.IsNegative():
			out := delta.Neg()
			// A full exit releases every share so floor division
			// cannot strand a sub-unit position.
			var release sdkmath.Int
			if out.Equal(pos.current) {
				release = pos.shares
			} else {
				release, err = fixedpoint.ProportionalShare(pos.shares, out, pos.current)
				if err != nil {
					return nil, err
				}
			}
			vp.releases[pos.idx] = release
			vp.outUsd[pos.idx] = out
			outTotal = outTotal.Add(out)
		case delta.IsPositive():
			inWeights = append(inWeights, delta)
			inIdx = append(inIdx, pos.idx)
		}
	}

	// Route each source's outflow across the vault's destinations in
	// strategy order; the summed parts become both the table
	// contributions and the vault's claim weights. Out and in totals are
	// equal by construction, so every unit finds a destination.
	inTotal := fixedpoint.SumInts(inWeights)
	if !outTotal.Equal(inTotal) {
		return nil, fmt.Errorf("vault %d outflow %s does not balance inflow %s", v.VaultID, outTotal, inTotal)
	}
	for _, pos := range positions {
		out, ok := vp.outUsd[pos.idx]
		if !ok {
			continue
		}
		splitter, err := fixedpoint.NewSplitter(out, inTotal)
		if err != nil {
			return nil, err
		}
		for k, w := range inWeights {
			part, err := splitter.Next(w)
			if err != nil {
				return nil, err
			}
			j := inIdx[k]
			p.table[pos.idx][j] = p.table[pos.idx][j].Add(part)
			vp.inUsd[j] = getOrZeroIdx(vp.inUsd, j).Add(part)
		}
	}
	return vp, nil
}

func zeroTable(n int) [][]sdkmath.Int {
	t := make([][]sdkmath.Int, n)
	for i := range t {
		t[i] = fixedpoint.ZeroRow(n)
	}
	return t
}

func getOrZeroIdx(m map[int]sdkmath.Int, k int) sdkmath.Int {
	v, ok := m[k]
	if !ok {
		return sdkmath.ZeroInt()
	}
	return v
}
