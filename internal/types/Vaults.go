/*

Vault-facing types: allocation weights, pending user requests and their
lifecycle, and the cycle snapshot persisted after every keeper cycle.

*/

package types

import (
	"errors"
	"time"

	sdkmath "cosmossdk.io/math"
)

// VaultID identifies a smart vault.
type VaultID uint64

// Error definitions for allocation validation
var (
	ErrAllocationLength = errors.New("allocation count does not match strategy count")
	ErrAllocationZero   = errors.New("allocations sum to zero")
)

// Allocation is a per-strategy relative weight. Weights within one vault
// share a unit and only their ratios matter; the conventional total is
// 100_00 (basis points).
type Allocation = uint64

// RequestStatus is the lifecycle of a pending deposit or withdrawal.
// created -> flushed -> resolved -> claimed (record destroyed on claim).
type RequestStatus int

const (
	RequestPending RequestStatus = iota
	RequestFlushed
	RequestResolved
	RequestClaimed
)

// String implements fmt.Stringer for logging.
func (s RequestStatus) String() string {
	switch s {
	case RequestPending:
		return "pending"
	case RequestFlushed:
		return "flushed"
	case RequestResolved:
		return "resolved"
	case RequestClaimed:
		return "claimed"
	default:
		return "unknown"
	}
}

// DepositRequest is a user's multi-asset deposit awaiting flush and sync.
// Amounts are positional against the vault's asset group.
type DepositRequest struct {
	ID         uint64
	Owner      string
	Amounts    []sdkmath.Int
	FlushIndex uint64
	Status     RequestStatus
	UsdValue   sdkmath.LegacyDec // set at flush time from oracle rates
	SvtMinted  sdkmath.Int       // set at sync time
	CreatedAt  time.Time
}

// WithdrawalRequest is a user's vault-share redemption awaiting flush,
// settlement and claim.
type WithdrawalRequest struct {
	ID         uint64
	Owner      string
	SvtShares  sdkmath.Int
	FlushIndex uint64
	Status     RequestStatus
	CreatedAt  time.Time
}

// StrategyCycleResult summarizes one strategy's DHW settlement inside a
// keeper cycle snapshot.
type StrategyCycleResult struct {
	StrategyID   StrategyID        `json:"strategy_id"`
	EpochIndex   uint64            `json:"epoch_index"`
	YieldPct     sdkmath.LegacyDec `json:"yield_pct"`
	UsdValue     sdkmath.LegacyDec `json:"usd_value"`
	SharesMinted sdkmath.Int       `json:"shares_minted"`
	SharesBurned sdkmath.Int       `json:"shares_burned"`
}

// CycleSnapshot is the persistent record of one full keeper cycle
// (flush -> DHW -> sync) across all managed vaults.
type CycleSnapshot struct {
	CycleNumber                 int                   `json:"cycle_number"`
	Timestamp                   time.Time             `json:"timestamp"`
	VaultsFlushed               int                   `json:"vaults_flushed"`
	StrategiesSettled           int                   `json:"strategies_settled"`
	InitialTotalUsd             sdkmath.LegacyDec     `json:"initial_total_usd"`
	FinalTotalUsd               sdkmath.LegacyDec     `json:"final_total_usd"`
	StrategyResults             []StrategyCycleResult `json:"strategy_results"`
	AllocationEfficiencyPercent float64               `json:"allocation_efficiency_percent"`
	Completed                   bool                  `json:"completed"`
	FailureReason               string                `json:"failure_reason,omitempty"`
}

// EngineParameters are the tunable accounting guards, persisted in the
// parameters store and loaded at startup.
type EngineParameters struct {
	// DepositToleranceBps is the maximum relative deviation, in basis
	// points, between a deposit's asset ratio and the vault's ideal ratio.
	// Deposits outside tolerance are rejected outright.
	DepositToleranceBps int64 `json:"deposit_tolerance_bps"`

	// MaxStrategiesPerVault caps a vault's strategy set. Distribution and
	// reallocation loops are quadratic in this bound.
	MaxStrategiesPerVault int `json:"max_strategies_per_vault"`

	// MinFlushUsdValue skips flushing vaults whose pending deposits are
	// worth less than this, to avoid settling dust-sized epochs.
	MinFlushUsdValue sdkmath.LegacyDec `json:"min_flush_usd_value"`
}
