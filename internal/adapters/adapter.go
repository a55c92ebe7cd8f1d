/*

Strategy adapter boundary. One adapter wraps one external yield-bearing
protocol; the core treats it as a black box that takes and returns amounts
and never inspects protocol-specific state.

*/

package adapters

import (
	"errors"

	sdkmath "cosmossdk.io/math"
)

// Error definitions
var (
	ErrInsufficientShares = errors.New("redeeming more shares than outstanding")
	ErrAmountMismatch     = errors.New("deposit amounts do not match adapter asset count")
	ErrNotAtomic          = errors.New("adapter does not settle atomically")
)

// StrategyAdapter is the contract every protocol integration satisfies.
// Amount slices are positional against the strategy's asset group.
type StrategyAdapter interface {
	// Deposit places assets into the protocol and returns protocol shares.
	Deposit(amounts []sdkmath.Int) (sdkmath.Int, error)

	// Redeem burns protocol shares during settlement and returns assets.
	Redeem(shares sdkmath.Int) ([]sdkmath.Int, error)

	// RedeemFast burns protocol shares outside settlement, for protocols
	// supporting atomic withdrawal.
	RedeemFast(shares sdkmath.Int) ([]sdkmath.Int, error)

	// EmergencyWithdraw pulls everything out unconditionally.
	EmergencyWithdraw() ([]sdkmath.Int, error)

	// TotalUsdValue reports the USD value of the protocol position.
	TotalUsdValue() (sdkmath.LegacyDec, error)

	// TotalShares reports outstanding protocol shares.
	TotalShares() (sdkmath.Int, error)

	// AssetRatio reports the protocol's required asset ratio in base units.
	AssetRatio() ([]sdkmath.Int, error)

	// Atomic reports whether deposits and withdrawals complete within one
	// call. Reallocation refuses adapters that cannot.
	Atomic() bool
}
