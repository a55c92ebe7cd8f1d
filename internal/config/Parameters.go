/*

This file contains the default engine parameters.

These parameters guard the accounting paths for significant capital in a
production environment. Each value has been chosen to balance depositor
protection against operational friction.

*/

package config

import (
	sdkmath "cosmossdk.io/math"

	"github.com/solvent-labs/svm/internal/types"
)

// DefaultEngineParameters provides a baseline set of accounting guards.
// These values are used if no active parameters are found in the database
// during initialization.
var DefaultEngineParameters = types.EngineParameters{
	DepositToleranceBps: 50, // Reject deposits more than 0.5% off the ideal asset ratio.
	// Rationale: accepting an off-ratio deposit forces an implicit swap cost
	// onto every other depositor in the vault. 0.5% covers oracle staleness
	// and rounding between quote and flush without opening a meaningful
	// mispricing window.

	MaxStrategiesPerVault: 16, // Cap a vault's strategy set at 16.
	// Rationale: distribution and reallocation loops are quadratic in the
	// strategy count. 16 keeps the netting table small while allowing far
	// more diversification than any current deployment uses.

	MinFlushUsdValue: sdkmath.LegacyNewDec(1), // Skip flushes worth less than $1.
	// Rationale: settling an epoch has fixed external-protocol overhead.
	// Dust-sized batches wait for more volume unless a withdrawal forces
	// settlement anyway.
}
