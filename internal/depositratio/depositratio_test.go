package depositratio

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solvent-labs/svm/internal/fixedpoint"
	"github.com/solvent-labs/svm/internal/types"
)

var (
	singleAssetGroup = types.AssetGroup{ID: 1, Assets: []types.Asset{
		{Denom: "usdc", Symbol: "USDC", Precision: 6},
	}}

	ethBtcGroup = types.AssetGroup{ID: 2, Assets: []types.Asset{
		{Denom: "weth", Symbol: "WETH", Precision: 18},
		{Denom: "wbtc", Symbol: "WBTC", Precision: 8},
	}}
)

func TestDistributeSingleAssetByAllocation(t *testing.T) {
	e, err := NewEngine(singleAssetGroup, 50)
	require.NoError(t, err)

	strategies := []StrategyWeights{
		{ID: 1, Allocation: 60, RequiredAssetRatio: []sdkmath.Int{sdkmath.NewInt(1)}},
		{ID: 2, Allocation: 40, RequiredAssetRatio: []sdkmath.Int{sdkmath.NewInt(1)}},
	}
	rates := []sdkmath.LegacyDec{sdkmath.LegacyOneDec()}

	dist, err := e.DistributeDeposit([]sdkmath.Int{sdkmath.NewInt(1000)}, strategies, rates)
	require.NoError(t, err)
	assert.Equal(t, "600", dist[0][0].String())
	assert.Equal(t, "400", dist[1][0].String())

	// Dust goes to the last strategy.
	dist, err = e.DistributeDeposit([]sdkmath.Int{sdkmath.NewInt(1001)}, strategies, rates)
	require.NoError(t, err)
	assert.Equal(t, "600", dist[0][0].String())
	assert.Equal(t, "401", dist[1][0].String())
}

// ethBtcStrategies is a three-strategy setup with slightly different
// BTC-per-ETH requirements, distributed 60/30/10.
func ethBtcStrategies() []StrategyWeights {
	oneEth := sdkmath.NewInt(1_000_000_000_000_000_000)
	return []StrategyWeights{
		{ID: 1, Allocation: 60, RequiredAssetRatio: []sdkmath.Int{oneEth, sdkmath.NewInt(6_800_000)}}, // 0.068 BTC/ETH
		{ID: 2, Allocation: 30, RequiredAssetRatio: []sdkmath.Int{oneEth, sdkmath.NewInt(6_700_000)}}, // 0.067 BTC/ETH
		{ID: 3, Allocation: 10, RequiredAssetRatio: []sdkmath.Int{oneEth, sdkmath.NewInt(6_900_000)}}, // 0.069 BTC/ETH
	}
}

func ethBtcRates() []sdkmath.LegacyDec {
	return []sdkmath.LegacyDec{
		sdkmath.LegacyMustNewDecFromStr("1336.61"),
		sdkmath.LegacyMustNewDecFromStr("19730.31"),
	}
}

func TestDistributeEthBtcWorkedExample(t *testing.T) {
	e, err := NewEngine(ethBtcGroup, 50)
	require.NoError(t, err)

	amounts := []sdkmath.Int{
		sdkmath.NewInt(100).MulRaw(1_000_000_000_000_000_000), // 100 ETH
		sdkmath.NewInt(678_000_000),                           // 6.78 BTC
	}

	dist, err := e.DistributeDeposit(amounts, ethBtcStrategies(), ethBtcRates())
	require.NoError(t, err)

	toFloat := func(amount sdkmath.Int, precision int) float64 {
		f, err := sdkmath.LegacyNewDecFromInt(amount).Quo(sdkmath.LegacyNewDec(10).Power(uint64(precision))).Float64()
		require.NoError(t, err)
		return f
	}

	expectedEth := []float64{59.91, 30.18, 9.91}
	expectedBtc := []float64{4.07, 2.02, 0.68}
	for si := range dist {
		assert.InDelta(t, expectedEth[si], toFloat(dist[si][0], 18), 0.02, "ETH share of strategy %d", si+1)
		assert.InDelta(t, expectedBtc[si], toFloat(dist[si][1], 8), 0.02, "BTC share of strategy %d", si+1)
	}

	// Conservation per asset, exactly.
	for ai := range amounts {
		sum := sdkmath.ZeroInt()
		for si := range dist {
			sum = sum.Add(dist[si][ai])
		}
		assert.Equal(t, amounts[ai].String(), sum.String())
	}
}

func TestCheckDepositRatioAcceptsOnRatioDeposit(t *testing.T) {
	e, err := NewEngine(ethBtcGroup, 50)
	require.NoError(t, err)

	ideal, err := e.CalculateDepositRatio(ethBtcStrategies(), ethBtcRates())
	require.NoError(t, err)

	amounts := []sdkmath.Int{
		sdkmath.NewInt(100).MulRaw(1_000_000_000_000_000_000),
		sdkmath.NewInt(678_000_000),
	}
	require.NoError(t, e.CheckDepositRatio(amounts, ideal))
}

func TestCheckDepositRatioRejectsOffRatioDeposit(t *testing.T) {
	e, err := NewEngine(ethBtcGroup, 50)
	require.NoError(t, err)

	ideal, err := e.CalculateDepositRatio(ethBtcStrategies(), ethBtcRates())
	require.NoError(t, err)

	// Half the BTC the ratio calls for.
	amounts := []sdkmath.Int{
		sdkmath.NewInt(100).MulRaw(1_000_000_000_000_000_000),
		sdkmath.NewInt(339_000_000),
	}
	err = e.CheckDepositRatio(amounts, ideal)
	require.ErrorIs(t, err, ErrIncorrectDepositRatio)
}

func TestZeroAllocationStrategyReceivesNothing(t *testing.T) {
	e, err := NewEngine(singleAssetGroup, 50)
	require.NoError(t, err)

	strategies := []StrategyWeights{
		{ID: 1, Allocation: 0, RequiredAssetRatio: []sdkmath.Int{sdkmath.NewInt(1)}},
		{ID: 2, Allocation: 100, RequiredAssetRatio: []sdkmath.Int{sdkmath.NewInt(1)}},
	}
	dist, err := e.DistributeDeposit([]sdkmath.Int{sdkmath.NewInt(777)}, strategies, []sdkmath.LegacyDec{sdkmath.LegacyOneDec()})
	require.NoError(t, err)
	assert.True(t, dist[0][0].IsZero())
	assert.Equal(t, "777", dist[1][0].String())
}

func TestZeroNormalizationFailsLoudly(t *testing.T) {
	e, err := NewEngine(ethBtcGroup, 50)
	require.NoError(t, err)

	strategies := []StrategyWeights{
		{ID: 1, Allocation: 100, RequiredAssetRatio: fixedpoint.ZeroRow(2)},
	}
	_, err = e.CalculateFlushFactors(strategies, ethBtcRates())
	require.ErrorIs(t, err, ErrZeroNormalization)
}

func TestEngineRejectsBadTolerance(t *testing.T) {
	_, err := NewEngine(singleAssetGroup, 0)
	require.Error(t, err)
	_, err = NewEngine(singleAssetGroup, fixedpoint.BpsDenominator)
	require.Error(t, err)
}
