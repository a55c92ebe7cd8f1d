/*

Price oracle boundary. The core consumes USD exchange rates as an external
collaborator; within one call a rate is read once and reused so that a
single settlement never observes two different prices for the same asset.

*/

package oracle

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/solvent-labs/svm/internal/types"
)

// Error definitions
var (
	ErrRateNotFound = errors.New("no exchange rate for asset")
	ErrInvalidRate  = errors.New("exchange rate is invalid")
)

// PriceOracle supplies USD exchange rates for assets. Rates are quoted in
// USD per whole token; base-unit conversion uses the asset's precision.
type PriceOracle interface {
	// ExchangeRate returns the USD price of one whole token of denom.
	ExchangeRate(denom string) (sdkmath.LegacyDec, error)

	// AssetToUsd values an amount of base units in USD.
	AssetToUsd(asset types.Asset, amount sdkmath.Int) (sdkmath.LegacyDec, error)
}

// GroupRates reads the exchange rate of every asset in a group exactly once,
// in group order. Callers hold on to the returned slice for the remainder of
// their call instead of re-querying the oracle.
func GroupRates(o PriceOracle, group types.AssetGroup) ([]sdkmath.LegacyDec, error) {
	rates := make([]sdkmath.LegacyDec, group.Len())
	for i, asset := range group.Assets {
		rate, err := o.ExchangeRate(asset.Denom)
		if err != nil {
			return nil, fmt.Errorf("failed to read rate for %s: %w", asset.Denom, err)
		}
		rates[i] = rate
	}
	return rates, nil
}

// StaticPriceOracle is a fixed rate table. It backs tests and the keeper's
// simulation mode; a live deployment injects its own PriceOracle.
type StaticPriceOracle struct {
	rates map[string]sdkmath.LegacyDec
}

// NewStaticPriceOracle validates and copies the given rate table.
func NewStaticPriceOracle(rates map[string]sdkmath.LegacyDec) (*StaticPriceOracle, error) {
	copied := make(map[string]sdkmath.LegacyDec, len(rates))
	for denom, rate := range rates {
		if rate.IsNil() || rate.IsNegative() {
			return nil, fmt.Errorf("%w: %s has rate %v", ErrInvalidRate, denom, rate)
		}
		copied[denom] = rate
	}
	return &StaticPriceOracle{rates: copied}, nil
}

// ExchangeRate implements PriceOracle.
func (o *StaticPriceOracle) ExchangeRate(denom string) (sdkmath.LegacyDec, error) {
	rate, ok := o.rates[denom]
	if !ok {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: %s", ErrRateNotFound, denom)
	}
	return rate, nil
}

// AssetToUsd implements PriceOracle: amount * rate / 10^precision.
func (o *StaticPriceOracle) AssetToUsd(asset types.Asset, amount sdkmath.Int) (sdkmath.LegacyDec, error) {
	rate, err := o.ExchangeRate(asset.Denom)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	return ValueInUsd(rate, asset.Precision, amount), nil
}

// SetRate updates one rate in place. Used by the simulation keeper to move
// prices between cycles.
func (o *StaticPriceOracle) SetRate(denom string, rate sdkmath.LegacyDec) {
	o.rates[denom] = rate
}

// ValueInUsd converts base units to USD given a whole-token rate.
func ValueInUsd(rate sdkmath.LegacyDec, precision int, amount sdkmath.Int) sdkmath.LegacyDec {
	scale := sdkmath.LegacyNewDec(10).Power(uint64(precision))
	return rate.MulInt(amount).Quo(scale)
}
