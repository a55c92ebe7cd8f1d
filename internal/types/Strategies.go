/*

Strategy-facing types: identifiers, the DHW state machine states, and the
per-epoch accounting record produced by each Do-Hard-Work settlement.

*/

package types

import (
	sdkmath "cosmossdk.io/math"
)

// StrategyID identifies a registered strategy. The zero value is the ghost
// strategy: an empty slot in a fixed-length batch input. Batch iterators
// skip ghost slots without error.
type StrategyID uint64

// GhostStrategy marks an empty slot in a fixed-length strategy list.
const GhostStrategy StrategyID = 0

// IsGhost reports whether the ID is the empty-slot sentinel.
func (id StrategyID) IsGhost() bool {
	return id == GhostStrategy
}

// DhwState is the per-strategy settlement state machine.
// Idle -> DhwInProgress -> Idle, advancing the epoch index on the way back.
// In the atomic baseline a strategy is observably idle between calls; the
// in-progress state exists so a non-atomic continuation can be added later.
type DhwState int

const (
	StrategyIdle DhwState = iota
	StrategyDhwInProgress
)

// String implements fmt.Stringer for logging.
func (s DhwState) String() string {
	switch s {
	case StrategyIdle:
		return "idle"
	case StrategyDhwInProgress:
		return "dhw_in_progress"
	default:
		return "unknown"
	}
}

// EpochRecord is the authoritative outcome of one DHW settlement for one
// strategy. Amount slices are positional against the strategy's asset group.
type EpochRecord struct {
	Index           uint64             `json:"index"`
	AssetsDeposited []sdkmath.Int      `json:"assets_deposited"` // per asset, matched into the protocol
	AssetsWithdrawn []sdkmath.Int      `json:"assets_withdrawn"` // per asset, released by the protocol
	SharesRedeemed  sdkmath.Int        `json:"shares_redeemed"`  // strategy shares burned this epoch
	SharesMinted    sdkmath.Int        `json:"shares_minted"`    // strategy shares minted this epoch
	YieldPct        sdkmath.LegacyDec  `json:"yield_pct"`        // yield vs previous epoch close, net of own flows
	UsdValueAtClose sdkmath.LegacyDec  `json:"usd_value_at_close"`
}

// NewEpochRecord returns a zeroed record for an asset group of the given size.
func NewEpochRecord(index uint64, assetCount int) EpochRecord {
	rec := EpochRecord{
		Index:           index,
		AssetsDeposited: make([]sdkmath.Int, assetCount),
		AssetsWithdrawn: make([]sdkmath.Int, assetCount),
		SharesRedeemed:  sdkmath.ZeroInt(),
		SharesMinted:    sdkmath.ZeroInt(),
		YieldPct:        sdkmath.LegacyZeroDec(),
		UsdValueAtClose: sdkmath.LegacyZeroDec(),
	}
	for i := range rec.AssetsDeposited {
		rec.AssetsDeposited[i] = sdkmath.ZeroInt()
		rec.AssetsWithdrawn[i] = sdkmath.ZeroInt()
	}
	return rec
}
