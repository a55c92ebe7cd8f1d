/*

Deposit-ratio engine. Computes, for a multi-asset vault, the per-asset
deposit ratio implied by its strategy allocations and each strategy's
required asset ratio, and splits an actual deposit across strategies
accordingly.

Flush factors are the bridge: for strategy s and asset a,

	factor[s][a] = allocation[s] * ratio[s][a] * FlushFactorPrecision / norm_s

where norm_s is the USD-weighted sum of s's required ratio, summed freshly
from the rates passed into the same call. Summing factors over strategies
per asset yields the vault's ideal deposit ratio.

*/

package depositratio

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/solvent-labs/svm/internal/fixedpoint"
	"github.com/solvent-labs/svm/internal/logger"
	"github.com/solvent-labs/svm/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrNoStrategies          = errors.New("no strategies configured")
	ErrRatioLength           = errors.New("required asset ratio length does not match asset group")
	ErrRatesLength           = errors.New("exchange rate count does not match asset group")
	ErrZeroNormalization     = errors.New("strategy ratio has zero exchange-weighted value")
	ErrIncorrectDepositRatio = errors.New("incorrect deposit ratio")
	ErrUndistributableAsset  = errors.New("no strategy can absorb asset")
)

// StrategyWeights is the slice of strategy configuration the engine needs:
// the vault-assigned allocation weight and the strategy's own required
// asset ratio, expressed in base units per asset.
type StrategyWeights struct {
	ID                 types.StrategyID
	Allocation         types.Allocation
	RequiredAssetRatio []sdkmath.Int
}

// Engine computes deposit ratios and distributions for one asset group.
type Engine struct {
	group        types.AssetGroup
	toleranceBps int64
	log          zerolog.Logger
}

// NewEngine creates a deposit-ratio engine for an asset group. toleranceBps
// bounds the accepted deviation between a deposit and the ideal ratio.
func NewEngine(group types.AssetGroup, toleranceBps int64) (*Engine, error) {
	if err := group.Validate(); err != nil {
		return nil, err
	}
	if toleranceBps <= 0 || toleranceBps >= fixedpoint.BpsDenominator {
		return nil, fmt.Errorf("deposit tolerance must be in (0, %d) bps, got %d", fixedpoint.BpsDenominator, toleranceBps)
	}
	return &Engine{
		group:        group,
		toleranceBps: toleranceBps,
		log:          logger.GetForComponent("deposit_ratio"),
	}, nil
}

// CalculateFlushFactors computes the per-(strategy, asset) flush factor
// matrix. rates must be positional against the engine's asset group and are
// used exactly as given; the normalization denominator is summed inside
// this call. A strategy with zero allocation gets a zero row. A strategy
// with positive allocation whose ratio carries no exchange value is a
// misconfiguration and fails loudly.
func (e *Engine) CalculateFlushFactors(strategies []StrategyWeights, rates []sdkmath.LegacyDec) ([][]sdkmath.Int, error) {
	if len(strategies) == 0 {
		return nil, ErrNoStrategies
	}
	if err := e.checkRates(rates); err != nil {
		return nil, err
	}

	assetCount := e.group.Len()
	factors := make([][]sdkmath.Int, len(strategies))

	for si, s := range strategies {
		if len(s.RequiredAssetRatio) != assetCount {
			return nil, fmt.Errorf("%w: strategy %d has %d ratio entries for %d assets",
				ErrRatioLength, s.ID, len(s.RequiredAssetRatio), assetCount)
		}

		factors[si] = fixedpoint.ZeroRow(assetCount)
		if s.Allocation == 0 {
			continue
		}

		// norm_s = sum_a ratio[a] * usd-per-base-unit[a], freshly summed.
		norm := sdkmath.LegacyZeroDec()
		for ai := range e.group.Assets {
			usd := oracleValue(rates[ai], e.group.Assets[ai].Precision, s.RequiredAssetRatio[ai])
			norm = norm.Add(usd)
		}
		if !norm.IsPositive() {
			return nil, fmt.Errorf("%w: strategy %d", ErrZeroNormalization, s.ID)
		}

		alloc := sdkmath.LegacyNewDec(int64(s.Allocation))
		for ai := range e.group.Assets {
			ratio := s.RequiredAssetRatio[ai]
			if ratio.IsNil() || ratio.IsNegative() {
				return nil, fmt.Errorf("strategy %d has invalid ratio for asset %s", s.ID, e.group.Assets[ai].Denom)
			}
			factor := alloc.MulInt(ratio).MulInt64(fixedpoint.FlushFactorPrecision).Quo(norm)
			factors[si][ai] = factor.TruncateInt()
		}
	}

	return factors, nil
}

// CalculateDepositRatio sums flush factors over strategies per asset,
// yielding the vault's ideal deposit ratio.
func (e *Engine) CalculateDepositRatio(strategies []StrategyWeights, rates []sdkmath.LegacyDec) ([]sdkmath.Int, error) {
	factors, err := e.CalculateFlushFactors(strategies, rates)
	if err != nil {
		return nil, err
	}
	return sumPerAsset(factors, e.group.Len()), nil
}

// CheckDepositRatio verifies that the deposited amounts match the ideal
// ratio within tolerance, pairwise over adjacent assets by cross
// multiplication. Violation is a hard reject: silently accepting an
// off-ratio deposit would force an implicit swap cost onto other
// depositors.
func (e *Engine) CheckDepositRatio(amounts, idealRatio []sdkmath.Int) error {
	if err := e.group.CheckAmounts(len(amounts)); err != nil {
		return err
	}
	if err := e.group.CheckAmounts(len(idealRatio)); err != nil {
		return err
	}
	if e.group.Len() == 1 {
		return nil
	}

	for i := 0; i < e.group.Len()-1; i++ {
		cross1 := amounts[i].Mul(idealRatio[i+1])
		cross2 := amounts[i+1].Mul(idealRatio[i])
		if !fixedpoint.WithinToleranceBps(cross1, cross2, e.toleranceBps) {
			e.log.Warn().
				Str("assetA", e.group.Assets[i].Denom).
				Str("assetB", e.group.Assets[i+1].Denom).
				Str("amountA", amounts[i].String()).
				Str("amountB", amounts[i+1].String()).
				Int64("toleranceBps", e.toleranceBps).
				Msg("Deposit ratio outside tolerance")
			return fmt.Errorf("%w: assets %s/%s deviate beyond %d bps",
				ErrIncorrectDepositRatio, e.group.Assets[i].Denom, e.group.Assets[i+1].Denom, e.toleranceBps)
		}
	}
	return nil
}

// DistributeDeposit splits a deposit across strategies. Each asset's amount
// is divided proportionally to the strategies' flush factors for that
// asset; single-asset groups skip the ratio math and split purely by
// allocation. Conservation holds exactly per asset, with rounding dust
// assigned to the last strategy with a non-zero factor.
func (e *Engine) DistributeDeposit(amounts []sdkmath.Int, strategies []StrategyWeights, rates []sdkmath.LegacyDec) ([][]sdkmath.Int, error) {
	if err := e.group.CheckAmounts(len(amounts)); err != nil {
		return nil, err
	}
	if len(strategies) == 0 {
		return nil, ErrNoStrategies
	}

	assetCount := e.group.Len()

	// Single-asset vaults allocate purely by allocation weight.
	if assetCount == 1 {
		weights := make([]sdkmath.Int, len(strategies))
		for i, s := range strategies {
			weights[i] = sdkmath.NewIntFromUint64(s.Allocation)
		}
		parts, err := fixedpoint.Distribute(amounts[0], weights)
		if err != nil {
			return nil, fmt.Errorf("%w %s: %w", ErrUndistributableAsset, e.group.Assets[0].Denom, err)
		}
		distribution := make([][]sdkmath.Int, len(strategies))
		for i := range strategies {
			distribution[i] = []sdkmath.Int{parts[i]}
		}
		return distribution, nil
	}

	factors, err := e.CalculateFlushFactors(strategies, rates)
	if err != nil {
		return nil, err
	}

	distribution := make([][]sdkmath.Int, len(strategies))
	for si := range strategies {
		distribution[si] = fixedpoint.ZeroRow(assetCount)
	}

	for ai := 0; ai < assetCount; ai++ {
		weights := make([]sdkmath.Int, len(strategies))
		for si := range strategies {
			weights[si] = factors[si][ai]
		}
		parts, err := fixedpoint.Distribute(amounts[ai], weights)
		if err != nil {
			return nil, fmt.Errorf("%w %s: %w", ErrUndistributableAsset, e.group.Assets[ai].Denom, err)
		}
		for si := range strategies {
			distribution[si][ai] = parts[si]
		}
	}

	e.log.Debug().
		Int("strategies", len(strategies)).
		Int("assets", assetCount).
		Msg("Deposit distributed across strategies")

	return distribution, nil
}

// checkRates validates the positional rate slice.
func (e *Engine) checkRates(rates []sdkmath.LegacyDec) error {
	if len(rates) != e.group.Len() {
		return fmt.Errorf("%w: got %d rates for %d assets", ErrRatesLength, len(rates), e.group.Len())
	}
	for i, r := range rates {
		if r.IsNil() || r.IsNegative() {
			return fmt.Errorf("rate for %s is invalid", e.group.Assets[i].Denom)
		}
	}
	return nil
}

// sumPerAsset collapses a factor matrix to per-asset totals.
func sumPerAsset(factors [][]sdkmath.Int, assetCount int) []sdkmath.Int {
	totals := fixedpoint.ZeroRow(assetCount)
	for _, row := range factors {
		for ai := 0; ai < assetCount; ai++ {
			totals[ai] = totals[ai].Add(row[ai])
		}
	}
	return totals
}

// oracleValue converts base units to USD at a whole-token rate.
func oracleValue(rate sdkmath.LegacyDec, precision int, amount sdkmath.Int) sdkmath.LegacyDec {
	scale := sdkmath.LegacyNewDec(10).Power(uint64(precision))
	return rate.MulInt(amount).Quo(scale)
}
