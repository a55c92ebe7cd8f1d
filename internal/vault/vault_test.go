package vault

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solvent-labs/svm/internal/access"
	"github.com/solvent-labs/svm/internal/adapters"
	"github.com/solvent-labs/svm/internal/custody"
	"github.com/solvent-labs/svm/internal/depositratio"
	"github.com/solvent-labs/svm/internal/ledger"
	"github.com/solvent-labs/svm/internal/oracle"
	"github.com/solvent-labs/svm/internal/types"
)

const (
	worker = "worker"
	carol  = "carol"
	dave   = "dave"
)

var usdGroup = types.AssetGroup{ID: 1, Assets: []types.Asset{
	{Denom: "usd", Symbol: "USD", Precision: 0},
}}

func testParams(minFlushUsd int64) types.EngineParameters {
	return types.EngineParameters{
		DepositToleranceBps:   50,
		MaxStrategiesPerVault: 16,
		MinFlushUsdValue:      sdkmath.LegacyNewDec(minFlushUsd),
	}
}

type vaultWorld struct {
	led  *ledger.Ledger
	book *custody.Book
	v    *SmartVault
	ids  []types.StrategyID
}

// newVaultWorld builds a vault over n zero-yield single-asset strategies.
func newVaultWorld(t *testing.T, allocations []types.Allocation, minFlushUsd int64) *vaultWorld {
	t.Helper()

	roles := access.NewStaticRoleOracle()
	roles.Grant(access.RoleDoHardWorker, worker)
	roles.Grant(access.RoleStrategyRegistrar, worker)

	prices, err := oracle.NewStaticPriceOracle(map[string]sdkmath.LegacyDec{
		"usd": sdkmath.LegacyOneDec(),
	})
	require.NoError(t, err)

	book := custody.NewBook()
	led, err := ledger.New(ledger.Config{Roles: roles, Prices: prices, Custody: book, EmergencyWallet: "emergency"})
	require.NoError(t, err)

	ids := make([]types.StrategyID, len(allocations))
	for i := range allocations {
		adapter, err := adapters.NewSimulatedAdapter(usdGroup, []sdkmath.Int{sdkmath.NewInt(1)}, prices, sdkmath.LegacyZeroDec(), true)
		require.NoError(t, err)
		ids[i], err = led.RegisterStrategy(worker, "sim", usdGroup, adapter)
		require.NoError(t, err)
	}

	v, err := New(Config{
		ID:          1,
		Name:        "usd-aggregator",
		Group:       usdGroup,
		Strategies:  ids,
		Allocations: allocations,
		Ledger:      led,
		Prices:      prices,
		Custody:     book,
		Parameters:  testParams(minFlushUsd),
	})
	require.NoError(t, err)

	return &vaultWorld{led: led, book: book, v: v, ids: ids}
}

func (w *vaultWorld) mintTo(t *testing.T, account string, amount int64) {
	t.Helper()
	_, err := w.book.Mint(account, sdk.NewCoins(sdk.NewCoin("usd", sdkmath.NewInt(amount))))
	require.NoError(t, err)
}

// cycle runs one flush -> settle -> sync round.
func (w *vaultWorld) cycle(t *testing.T) {
	t.Helper()
	_, err := w.v.Flush()
	require.NoError(t, err)
	require.NoError(t, w.led.DoHardWork(worker, w.ids))
	_, err = w.v.Sync()
	require.NoError(t, err)
}

func TestDepositFlushSyncClaimLifecycle(t *testing.T) {
	w := newVaultWorld(t, []types.Allocation{60, 40}, 1)
	w.mintTo(t, carol, 1000)

	reqID, err := w.v.Deposit(carol, []sdkmath.Int{sdkmath.NewInt(1000)})
	require.NoError(t, err)
	assert.True(t, w.book.BalanceOf(carol, "usd").IsZero())

	did, err := w.v.Flush()
	require.NoError(t, err)
	require.True(t, did)

	// Pre-settlement claim fails; the request is flushed, not resolved.
	_, err = w.v.ClaimDeposit(carol, reqID)
	require.ErrorIs(t, err, ErrRequestNotResolved)

	require.NoError(t, w.led.DoHardWork(worker, w.ids))
	synced, err := w.v.Sync()
	require.NoError(t, err)
	assert.Equal(t, 1, synced)

	minted, err := w.v.ClaimDeposit(carol, reqID)
	require.NoError(t, err)
	assert.Equal(t, "1000000000", minted.String())
	assert.Equal(t, minted.String(), w.v.SvtBalance(carol).String())
	assert.Equal(t, minted.String(), w.v.SvtSupply().String())

	// The split followed the 60/40 allocation.
	s1, err := w.led.TotalUsdValue(w.ids[0])
	require.NoError(t, err)
	assert.Equal(t, "600.000000000000000000", s1.String())
	s2, err := w.led.TotalUsdValue(w.ids[1])
	require.NoError(t, err)
	assert.Equal(t, "400.000000000000000000", s2.String())

	eff, err := w.v.AllocationEfficiency()
	require.NoError(t, err)
	assert.InDelta(t, 100.0, eff, 0.01)

	// A claimed request is destroyed.
	_, err = w.v.ClaimDeposit(carol, reqID)
	require.ErrorIs(t, err, ErrUnknownRequest)
}

func TestWithdrawalLifecycle(t *testing.T) {
	w := newVaultWorld(t, []types.Allocation{60, 40}, 1)
	w.mintTo(t, carol, 1000)
	depID, err := w.v.Deposit(carol, []sdkmath.Int{sdkmath.NewInt(1000)})
	require.NoError(t, err)
	w.cycle(t)
	_, err = w.v.ClaimDeposit(carol, depID)
	require.NoError(t, err)

	wdID, err := w.v.RequestWithdrawal(carol, sdkmath.NewInt(400_000_000))
	require.NoError(t, err)
	// SVT leaves the balance immediately; it burns at flush.
	assert.Equal(t, "600000000", w.v.SvtBalance(carol).String())

	w.cycle(t)

	paid, err := w.v.ClaimWithdrawal(carol, wdID)
	require.NoError(t, err)
	assert.Equal(t, "400", paid.AmountOf("usd").String())
	assert.Equal(t, "400", w.book.BalanceOf(carol, "usd").String())
	assert.Equal(t, "600000000", w.v.SvtSupply().String())

	value, err := w.v.TotalUsdValue()
	require.NoError(t, err)
	assert.Equal(t, "600.000000000000000000", value.String())
}

func TestSecondDepositorPricedAgainstVaultValue(t *testing.T) {
	w := newVaultWorld(t, []types.Allocation{60, 40}, 1)
	w.mintTo(t, carol, 1000)
	depID, err := w.v.Deposit(carol, []sdkmath.Int{sdkmath.NewInt(1000)})
	require.NoError(t, err)
	w.cycle(t)
	_, err = w.v.ClaimDeposit(carol, depID)
	require.NoError(t, err)

	w.mintTo(t, dave, 500)
	daveID, err := w.v.Deposit(dave, []sdkmath.Int{sdkmath.NewInt(500)})
	require.NoError(t, err)
	w.cycle(t)

	minted, err := w.v.ClaimDeposit(dave, daveID)
	require.NoError(t, err)
	// 500 USD into a 1000 USD vault with 10^9 SVT outstanding.
	assert.Equal(t, "500000000", minted.String())
}

func TestFlushSkipsBelowMinimumValue(t *testing.T) {
	w := newVaultWorld(t, []types.Allocation{60, 40}, 1000)
	w.mintTo(t, carol, 5)
	reqID, err := w.v.Deposit(carol, []sdkmath.Int{sdkmath.NewInt(5)})
	require.NoError(t, err)

	did, err := w.v.Flush()
	require.NoError(t, err)
	assert.False(t, did)
	assert.Equal(t, types.RequestPending, w.v.deposits[reqID].Status)

	// A later, larger deposit carries the whole batch over the line.
	w.mintTo(t, dave, 2000)
	_, err = w.v.Deposit(dave, []sdkmath.Int{sdkmath.NewInt(2000)})
	require.NoError(t, err)
	did, err = w.v.Flush()
	require.NoError(t, err)
	assert.True(t, did)
	assert.Equal(t, types.RequestFlushed, w.v.deposits[reqID].Status)
}

func TestOffRatioDepositRejectedAtFlush(t *testing.T) {
	group := types.AssetGroup{ID: 2, Assets: []types.Asset{
		{Denom: "weth", Symbol: "WETH", Precision: 18},
		{Denom: "usdc", Symbol: "USDC", Precision: 6},
	}}

	roles := access.NewStaticRoleOracle()
	roles.Grant(access.RoleDoHardWorker, worker)
	roles.Grant(access.RoleStrategyRegistrar, worker)
	prices, err := oracle.NewStaticPriceOracle(map[string]sdkmath.LegacyDec{
		"weth": sdkmath.LegacyNewDec(2000),
		"usdc": sdkmath.LegacyOneDec(),
	})
	require.NoError(t, err)
	book := custody.NewBook()
	led, err := ledger.New(ledger.Config{Roles: roles, Prices: prices, Custody: book, EmergencyWallet: "emergency"})
	require.NoError(t, err)

	oneEth := sdkmath.NewInt(1_000_000_000_000_000_000)
	adapter, err := adapters.NewSimulatedAdapter(group, []sdkmath.Int{oneEth, sdkmath.NewInt(2_000_000_000)}, prices, sdkmath.LegacyZeroDec(), true)
	require.NoError(t, err)
	id, err := led.RegisterStrategy(worker, "sim-pair", group, adapter)
	require.NoError(t, err)

	v, err := New(Config{
		ID: 2, Name: "pair", Group: group,
		Strategies:  []types.StrategyID{id},
		Allocations: []types.Allocation{100},
		Ledger:      led, Prices: prices, Custody: book,
		Parameters: testParams(1),
	})
	require.NoError(t, err)

	// Half the USDC the 1 ETH : 2000 USDC ratio calls for.
	amounts := []sdkmath.Int{oneEth, sdkmath.NewInt(1_000_000_000)}
	_, err = book.Mint("erin", sdk.NewCoins(
		sdk.NewCoin("weth", amounts[0]),
		sdk.NewCoin("usdc", amounts[1]),
	))
	require.NoError(t, err)
	reqID, err := v.Deposit("erin", amounts)
	require.NoError(t, err)

	_, err = v.Flush()
	require.ErrorIs(t, err, depositratio.ErrIncorrectDepositRatio)

	// The batch stays pending; nothing reached the strategies.
	assert.Equal(t, types.RequestPending, v.deposits[reqID].Status)
	assert.True(t, book.BalanceOf(custody.StrategyAccount(uint64(id)), "weth").IsZero())
}

func TestRequestWithdrawalChecksSvtBalance(t *testing.T) {
	w := newVaultWorld(t, []types.Allocation{60, 40}, 1)
	_, err := w.v.RequestWithdrawal(carol, sdkmath.NewInt(1))
	require.ErrorIs(t, err, ErrInsufficientSvt)
}

func TestClaimChecksOwnership(t *testing.T) {
	w := newVaultWorld(t, []types.Allocation{60, 40}, 1)
	w.mintTo(t, carol, 1000)
	reqID, err := w.v.Deposit(carol, []sdkmath.Int{sdkmath.NewInt(1000)})
	require.NoError(t, err)
	w.cycle(t)

	_, err = w.v.ClaimDeposit(dave, reqID)
	require.ErrorIs(t, err, ErrNotRequestOwner)
	_, err = w.v.ClaimDeposit(carol, 9999)
	require.ErrorIs(t, err, ErrUnknownRequest)
}

func TestFlushWithNothingPendingIsNoop(t *testing.T) {
	w := newVaultWorld(t, []types.Allocation{60, 40}, 1)
	did, err := w.v.Flush()
	require.NoError(t, err)
	assert.False(t, did)
	synced, err := w.v.Sync()
	require.NoError(t, err)
	assert.Equal(t, 0, synced)
}
