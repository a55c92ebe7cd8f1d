/*

Reallocation engine. Rebalances capital across a shared pool of strategies
for a batch of vaults whose target allocations changed, netting
opposite-direction flows between strategy pairs before touching any
external protocol. Only the unmatched residual is physically redeemed and
redeposited; matched value changes owner without leaving its strategy.

Execution is plan-then-apply: the full netting table is computed and
validated before the first external call, so a partially built table is
never observable.

*/

package reallocation

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/solvent-labs/svm/internal/access"
	"github.com/solvent-labs/svm/internal/custody"
	"github.com/solvent-labs/svm/internal/fixedpoint"
	"github.com/solvent-labs/svm/internal/ledger"
	"github.com/solvent-labs/svm/internal/logger"
	"github.com/solvent-labs/svm/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidStrategies    = errors.New("invalid strategies")
	ErrAllocationMismatch   = errors.New("allocation count does not match strategy count")
	ErrMixedAssetGroups     = errors.New("reallocation strategies settle different asset groups")
	ErrNonAtomicStrategy    = errors.New("strategy cannot settle a reallocation atomically")
	ErrNoVaults             = errors.New("no vaults to reallocate")
	ErrZeroTargetAllocation = errors.New("vault target allocations sum to zero")
)

// VaultReallocation is one vault's requested allocation change.
type VaultReallocation struct {
	VaultID types.VaultID

	// Strategies the vault holds, with the new target allocation per
	// strategy. Parallel slices; ghost entries are skipped.
	Strategies        []types.StrategyID
	TargetAllocations []types.Allocation
}

// Engine executes reallocations against the strategy ledger.
type Engine struct {
	ledger *ledger.Ledger
	roles  access.RoleOracle
	log    zerolog.Logger
}

// NewEngine creates a reallocation engine.
func NewEngine(led *ledger.Ledger, roles access.RoleOracle) (*Engine, error) {
	if led == nil {
		return nil, errors.New("ledger cannot be nil")
	}
	if roles == nil {
		return nil, errors.New("role oracle cannot be nil")
	}
	return &Engine{
		ledger: led,
		roles:  roles,
		log:    logger.GetForComponent("reallocation"),
	}, nil
}

// Result summarizes one executed reallocation.
type Result struct {
	// MatchedUsd is the total USD value netted without external calls.
	MatchedUsd sdkmath.LegacyDec

	// UnmatchedUsd is the total USD value physically moved.
	UnmatchedUsd sdkmath.LegacyDec

	// SharesCredited maps each vault to the shares it received per
	// strategy after the move.
	SharesCredited map[types.VaultID]map[types.StrategyID]sdkmath.Int
}

// Reallocate rebalances the given vaults across the given strategy pool.
// strategies must be exactly the union of all strategies the vaults hold,
// every strategy must be idle and atomic, and all must settle the same
// asset group. Requires the reallocator role.
func (e *Engine) Reallocate(caller string, strategies []types.StrategyID, vaults []VaultReallocation) (*Result, error) {
	if err := access.CheckRole(e.roles, access.RoleReallocator, caller); err != nil {
		return nil, err
	}
	if len(vaults) == 0 {
		return nil, ErrNoVaults
	}

	p, err := e.buildPlan(strategies, vaults)
	if err != nil {
		return nil, err
	}
	result, err := e.execute(p)
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Int("strategies", len(p.ids)).
		Int("vaults", len(vaults)).
		Str("matchedUsd", result.MatchedUsd.String()).
		Str("unmatchedUsd", result.UnmatchedUsd.String()).
		Msg("Reallocation complete")
	return result, nil
}

// validate checks the caller-supplied strategy list against the vaults and
// the ledger: the list must be exactly the union of the vaults' strategies,
// and every strategy must be idle, atomic, and in one asset group.
func (e *Engine) validate(strategies []types.StrategyID, vaults []VaultReallocation) error {
	provided := make(map[types.StrategyID]bool, len(strategies))
	for _, id := range strategies {
		if id.IsGhost() {
			return fmt.Errorf("%w: ghost entry in global strategy list", ErrInvalidStrategies)
		}
		if provided[id] {
			return fmt.Errorf("%w: strategy %d listed twice", ErrInvalidStrategies, id)
		}
		provided[id] = false
	}

	for _, v := range vaults {
		if len(v.Strategies) != len(v.TargetAllocations) {
			return fmt.Errorf("%w: vault %d has %d strategies, %d allocations",
				ErrAllocationMismatch, v.VaultID, len(v.Strategies), len(v.TargetAllocations))
		}
		for _, id := range v.Strategies {
			if id.IsGhost() {
				continue
			}
			if _, ok := provided[id]; !ok {
				return fmt.Errorf("%w: vault %d uses strategy %d missing from the global list",
					ErrInvalidStrategies, v.VaultID, id)
			}
			provided[id] = true
		}
	}
	for id, used := range provided {
		if !used {
			return fmt.Errorf("%w: strategy %d is used by no vault", ErrInvalidStrategies, id)
		}
	}

	var group *types.AssetGroup
	for _, id := range strategies {
		state, err := e.ledger.State(id)
		if err != nil {
			return err
		}
		if state != types.StrategyIdle {
			return fmt.Errorf("strategy %d is %s: %w", id, state, ledger.ErrStrategyNotReady)
		}
		atomic, err := e.ledger.Atomic(id)
		if err != nil {
			return err
		}
		if !atomic {
			return fmt.Errorf("%w: strategy %d", ErrNonAtomicStrategy, id)
		}
		g, err := e.ledger.AssetGroup(id)
		if err != nil {
			return err
		}
		if group == nil {
			group = &g
		} else if !group.Equal(g) {
			return fmt.Errorf("%w: strategy %d settles group %d, pool settles group %d",
				ErrMixedAssetGroups, id, g.ID, group.ID)
		}
	}
	return nil
}

// vaultAccount names a vault's share-holding account on the ledger.
func vaultAccount(id types.VaultID) string {
	return custody.VaultAccount(uint64(id))
}

// usdUnits converts a strategy-share position to integer USD units.
func usdUnits(shares, totalShares sdkmath.Int, totalUsd sdkmath.LegacyDec) (sdkmath.Int, error) {
	if !totalShares.IsPositive() {
		return sdkmath.ZeroInt(), nil
	}
	valueUnits := fixedpoint.UsdToUnits(totalUsd)
	return fixedpoint.ProportionalShare(valueUnits, shares, totalShares)
}
