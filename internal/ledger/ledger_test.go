package ledger

import (
	"errors"
	"testing"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solvent-labs/svm/internal/access"
	"github.com/solvent-labs/svm/internal/adapters"
	"github.com/solvent-labs/svm/internal/custody"
	"github.com/solvent-labs/svm/internal/oracle"
	"github.com/solvent-labs/svm/internal/types"
)

const (
	worker    = "worker"
	alice     = "alice"
	bob       = "bob"
	emergency = "emergency-wallet"
)

// usdGroup is a single zero-precision asset so test amounts read as USD.
var usdGroup = types.AssetGroup{ID: 1, Assets: []types.Asset{
	{Denom: "usd", Symbol: "USD", Precision: 0},
}}

type testWorld struct {
	led     *Ledger
	book    *custody.Book
	roles   *access.StaticRoleOracle
	prices  *oracle.StaticPriceOracle
	adapter *adapters.SimulatedAdapter
	id      types.StrategyID
}

// newTestWorld builds a ledger with one registered simulated strategy over
// the single-asset USD group.
func newTestWorld(t *testing.T, yieldPct sdkmath.LegacyDec, atomic bool) *testWorld {
	t.Helper()

	roles := access.NewStaticRoleOracle()
	roles.Grant(access.RoleDoHardWorker, worker)
	roles.Grant(access.RoleStrategyRegistrar, worker)
	roles.Grant(access.RoleEmergencyWithdrawer, worker)

	prices, err := oracle.NewStaticPriceOracle(map[string]sdkmath.LegacyDec{
		"usd": sdkmath.LegacyOneDec(),
	})
	require.NoError(t, err)

	book := custody.NewBook()
	led, err := New(Config{Roles: roles, Prices: prices, Custody: book, EmergencyWallet: emergency})
	require.NoError(t, err)

	adapter, err := adapters.NewSimulatedAdapter(usdGroup, []sdkmath.Int{sdkmath.NewInt(1)}, prices, yieldPct, atomic)
	require.NoError(t, err)

	id, err := led.RegisterStrategy(worker, "sim-usd", usdGroup, adapter)
	require.NoError(t, err)

	return &testWorld{led: led, book: book, roles: roles, prices: prices, adapter: adapter, id: id}
}

// deposit mints the amount into the strategy's custody account and queues
// it for the next settlement, the way a vault flush would.
func (w *testWorld) deposit(t *testing.T, depositor string, amount int64) {
	t.Helper()
	coins := sdk.NewCoins(sdk.NewCoin("usd", sdkmath.NewInt(amount)))
	_, err := w.book.Mint(custody.StrategyAccount(uint64(w.id)), coins)
	require.NoError(t, err)
	_, err = w.led.AddStrategyDeposit(w.id, depositor, []sdkmath.Int{sdkmath.NewInt(amount)}, sdkmath.LegacyNewDec(amount))
	require.NoError(t, err)
}

func (w *testWorld) settle(t *testing.T) {
	t.Helper()
	require.NoError(t, w.led.DoHardWork(worker, []types.StrategyID{w.id}))
}

func TestRegisterRequiresRegistrarRole(t *testing.T) {
	w := newTestWorld(t, sdkmath.LegacyZeroDec(), true)
	_, err := w.led.RegisterStrategy(alice, "rogue", usdGroup, w.adapter)
	require.ErrorIs(t, err, access.ErrMissingRole)
}

func TestDoHardWorkRequiresWorkerRole(t *testing.T) {
	w := newTestWorld(t, sdkmath.LegacyZeroDec(), true)
	err := w.led.DoHardWork(alice, []types.StrategyID{w.id})
	require.ErrorIs(t, err, access.ErrMissingRole)
}

func TestDepositSettleClaimLifecycle(t *testing.T) {
	w := newTestWorld(t, sdkmath.LegacyZeroDec(), true)

	w.deposit(t, alice, 500)
	w.deposit(t, bob, 500)
	w.settle(t)

	epoch, err := w.led.CurrentEpoch(w.id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), epoch)

	aliceShares, err := w.led.ClaimMintedShares(w.id, alice, 0)
	require.NoError(t, err)
	bobShares, err := w.led.ClaimMintedShares(w.id, bob, 0)
	require.NoError(t, err)
	assert.Equal(t, aliceShares.String(), bobShares.String())

	total, err := w.led.TotalShares(w.id)
	require.NoError(t, err)
	assert.Equal(t, total.String(), aliceShares.Add(bobShares).String())

	value, err := w.led.TotalUsdValue(w.id)
	require.NoError(t, err)
	assert.Equal(t, "1000.000000000000000000", value.String())
}

func TestClaimMintedSharesIsNotRepeatable(t *testing.T) {
	w := newTestWorld(t, sdkmath.LegacyZeroDec(), true)
	w.deposit(t, alice, 1000)
	w.settle(t)

	first, err := w.led.ClaimMintedShares(w.id, alice, 0)
	require.NoError(t, err)
	assert.True(t, first.IsPositive())

	second, err := w.led.ClaimMintedShares(w.id, alice, 0)
	require.NoError(t, err)
	assert.True(t, second.IsZero())
	assert.Equal(t, first.String(), w.led.ShareBalance(w.id, alice).String())
}

func TestClaimMintedSharesWithoutContributionIsNoop(t *testing.T) {
	w := newTestWorld(t, sdkmath.LegacyZeroDec(), true)
	w.deposit(t, alice, 1000)
	w.settle(t)

	shares, err := w.led.ClaimMintedShares(w.id, bob, 0)
	require.NoError(t, err)
	assert.True(t, shares.IsZero())
}

func TestClaimMintedSharesUnsettledEpochFails(t *testing.T) {
	w := newTestWorld(t, sdkmath.LegacyZeroDec(), true)
	w.deposit(t, alice, 1000)
	_, err := w.led.ClaimMintedShares(w.id, alice, 0)
	require.ErrorIs(t, err, ErrEpochNotSettled)
}

// fullExit queues both holders' entire positions for redemption and
// settles, returning the epoch the redemption landed in.
func fullExit(t *testing.T, w *testWorld, holders ...string) uint64 {
	t.Helper()
	var epoch uint64
	for _, h := range holders {
		e, err := w.led.QueueShareRedemption(w.id, h, w.led.ShareBalance(w.id, h))
		require.NoError(t, err)
		epoch = e
	}
	w.settle(t)
	return epoch
}

func TestWithdrawalClaimSplitsExactly(t *testing.T) {
	w := newTestWorld(t, sdkmath.LegacyZeroDec(), true)
	w.deposit(t, alice, 500)
	w.deposit(t, bob, 500)
	w.settle(t)
	_, err := w.led.ClaimMintedShares(w.id, alice, 0)
	require.NoError(t, err)
	_, err = w.led.ClaimMintedShares(w.id, bob, 0)
	require.NoError(t, err)

	epoch := fullExit(t, w, alice, bob)

	alicePaid, err := w.led.ClaimShareWithdrawals(alice, []types.StrategyID{w.id}, []uint64{epoch})
	require.NoError(t, err)
	bobPaid, err := w.led.ClaimShareWithdrawals(bob, []types.StrategyID{w.id}, []uint64{epoch})
	require.NoError(t, err)

	assert.Equal(t, "500", alicePaid.AmountOf("usd").String())
	assert.Equal(t, "500", bobPaid.AmountOf("usd").String())

	unclaimed, err := w.led.AssetsNotClaimed(w.id)
	require.NoError(t, err)
	assert.True(t, unclaimed[0].IsZero())
}

func TestWithdrawalClaimDustStaysUnclaimed(t *testing.T) {
	// 0.1% yield turns the 1000 position into 1001 before the exit, so
	// two equal claimants floor to 500 each and one unit stays behind.
	w := newTestWorld(t, sdkmath.LegacyMustNewDecFromStr("0.001"), true)
	w.deposit(t, alice, 500)
	w.deposit(t, bob, 500)
	w.settle(t)
	_, err := w.led.ClaimMintedShares(w.id, alice, 0)
	require.NoError(t, err)
	_, err = w.led.ClaimMintedShares(w.id, bob, 0)
	require.NoError(t, err)

	w.adapter.AccrueYield()
	epoch := fullExit(t, w, alice, bob)

	record, ok, err := w.led.Epoch(w.id, epoch)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1001", record.AssetsWithdrawn[0].String())

	alicePaid, err := w.led.ClaimShareWithdrawals(alice, []types.StrategyID{w.id}, []uint64{epoch})
	require.NoError(t, err)
	bobPaid, err := w.led.ClaimShareWithdrawals(bob, []types.StrategyID{w.id}, []uint64{epoch})
	require.NoError(t, err)
	assert.Equal(t, "500", alicePaid.AmountOf("usd").String())
	assert.Equal(t, "500", bobPaid.AmountOf("usd").String())

	unclaimed, err := w.led.AssetsNotClaimed(w.id)
	require.NoError(t, err)
	assert.Equal(t, "1", unclaimed[0].String())

	// Both records are zeroed; claiming again transfers nothing.
	again, err := w.led.ClaimShareWithdrawals(alice, []types.StrategyID{w.id}, []uint64{epoch})
	require.NoError(t, err)
	assert.True(t, again.IsZero())
}

func TestYieldMeasuredAgainstLastClose(t *testing.T) {
	w := newTestWorld(t, sdkmath.LegacyMustNewDecFromStr("0.01"), true)
	w.deposit(t, alice, 1000)
	w.settle(t)

	w.adapter.AccrueYield()
	w.settle(t)

	record, ok, err := w.led.Epoch(w.id, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "0.010000000000000000", record.YieldPct.String())
}

func TestEpochIndexIsMonotone(t *testing.T) {
	w := newTestWorld(t, sdkmath.LegacyZeroDec(), true)
	last := uint64(0)
	for i := 0; i < 5; i++ {
		w.settle(t)
		current, err := w.led.CurrentEpoch(w.id)
		require.NoError(t, err)
		require.GreaterOrEqual(t, current, last)
		last = current
	}
	assert.Equal(t, uint64(5), last)
}

func TestBusyStrategyRejectsAllOperations(t *testing.T) {
	w := newTestWorld(t, sdkmath.LegacyZeroDec(), true)
	w.deposit(t, alice, 1000)
	w.settle(t)
	_, err := w.led.ClaimMintedShares(w.id, alice, 0)
	require.NoError(t, err)

	// A stuck multi-step settlement leaves the strategy in DhwInProgress
	// until a continuation call completes it.
	w.led.strategies[w.id].state = types.StrategyDhwInProgress

	before := w.led.ShareBalance(w.id, alice)

	err = w.led.DoHardWork(worker, []types.StrategyID{w.id})
	require.ErrorIs(t, err, ErrStrategyNotReady)

	_, err = w.led.AddStrategyDeposit(w.id, alice, []sdkmath.Int{sdkmath.NewInt(1)}, sdkmath.LegacyOneDec())
	require.ErrorIs(t, err, ErrStrategyNotReady)

	_, err = w.led.QueueShareRedemption(w.id, alice, before)
	require.ErrorIs(t, err, ErrStrategyNotReady)

	_, err = w.led.RedeemFast(alice, []types.StrategyID{w.id}, []sdkmath.Int{before})
	require.ErrorIs(t, err, ErrStrategyNotReady)

	err = w.led.ReleaseShares(w.id, alice, before)
	require.ErrorIs(t, err, ErrStrategyNotReady)

	assert.Equal(t, before.String(), w.led.ShareBalance(w.id, alice).String())
}

func TestGhostStrategiesAreSkipped(t *testing.T) {
	w := newTestWorld(t, sdkmath.LegacyZeroDec(), true)
	require.NoError(t, w.led.DoHardWork(worker, []types.StrategyID{types.GhostStrategy, w.id, types.GhostStrategy}))
}

func TestRedeemFastPaysOutImmediately(t *testing.T) {
	w := newTestWorld(t, sdkmath.LegacyZeroDec(), true)
	w.deposit(t, alice, 1000)
	w.settle(t)
	shares, err := w.led.ClaimMintedShares(w.id, alice, 0)
	require.NoError(t, err)

	half := shares.QuoRaw(2)
	paid, err := w.led.RedeemFast(alice, []types.StrategyID{w.id}, []sdkmath.Int{half})
	require.NoError(t, err)
	assert.Equal(t, "500", paid.AmountOf("usd").String())
	assert.Equal(t, "500", w.book.BalanceOf(alice, "usd").String())

	// The baseline halves too, so the next settlement sees no phantom loss.
	value, err := w.led.TotalUsdValue(w.id)
	require.NoError(t, err)
	assert.Equal(t, "500.000000000000000000", value.String())

	w.settle(t)
	record, ok, err := w.led.Epoch(w.id, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, record.YieldPct.IsZero())
}

func TestRedeemFastRejectsNonAtomicStrategy(t *testing.T) {
	w := newTestWorld(t, sdkmath.LegacyZeroDec(), false)
	w.deposit(t, alice, 1000)
	w.settle(t)
	shares, err := w.led.ClaimMintedShares(w.id, alice, 0)
	require.NoError(t, err)

	_, err = w.led.RedeemFast(alice, []types.StrategyID{w.id}, []sdkmath.Int{shares})
	require.Error(t, err)
	assert.Equal(t, shares.String(), w.led.ShareBalance(w.id, alice).String())
}

func TestEmergencyWithdrawForwardsEverythingAndRevokes(t *testing.T) {
	w := newTestWorld(t, sdkmath.LegacyZeroDec(), true)

	// Settled position worth 1000.
	w.deposit(t, alice, 1000)
	w.settle(t)

	// Plus an unflushed deposit of 200 sitting in custody.
	w.deposit(t, bob, 200)

	require.NoError(t, w.led.EmergencyWithdraw(worker, []types.StrategyID{w.id}, true))

	assert.Equal(t, "1200", w.book.BalanceOf(emergency, "usd").String())
	assert.True(t, w.book.BalanceOf(custody.StrategyAccount(uint64(w.id)), "usd").IsZero())

	// Revocation is permanent: every subsequent reference fails.
	_, err := w.led.State(w.id)
	require.ErrorIs(t, err, ErrInvalidStrategy)
	_, err = w.led.AddStrategyDeposit(w.id, alice, []sdkmath.Int{sdkmath.NewInt(1)}, sdkmath.LegacyOneDec())
	require.ErrorIs(t, err, ErrInvalidStrategy)
	err = w.led.DoHardWork(worker, []types.StrategyID{w.id})
	require.ErrorIs(t, err, ErrInvalidStrategy)
}

func TestEmergencyWithdrawRequiresRole(t *testing.T) {
	w := newTestWorld(t, sdkmath.LegacyZeroDec(), true)
	err := w.led.EmergencyWithdraw(alice, []types.StrategyID{w.id}, false)
	require.ErrorIs(t, err, access.ErrMissingRole)
}

func TestQueueShareRedemptionInsufficientBalance(t *testing.T) {
	w := newTestWorld(t, sdkmath.LegacyZeroDec(), true)
	w.deposit(t, alice, 1000)
	w.settle(t)
	shares, err := w.led.ClaimMintedShares(w.id, alice, 0)
	require.NoError(t, err)

	_, err = w.led.QueueShareRedemption(w.id, alice, shares.AddRaw(1))
	require.ErrorIs(t, err, ErrInsufficientShares)
}

func TestUnregisteredStrategyIsInvalid(t *testing.T) {
	w := newTestWorld(t, sdkmath.LegacyZeroDec(), true)
	_, err := w.led.State(types.StrategyID(99))
	require.ErrorIs(t, err, ErrInvalidStrategy)
}

// faultyAdapter wraps the simulated protocol and fails specific calls on
// demand, standing in for a protocol that rejects one settlement leg.
type faultyAdapter struct {
	*adapters.SimulatedAdapter
	depositErr    error
	redeemFastErr error
}

func (a *faultyAdapter) Deposit(amounts []sdkmath.Int) (sdkmath.Int, error) {
	if a.depositErr != nil {
		return sdkmath.Int{}, a.depositErr
	}
	return a.SimulatedAdapter.Deposit(amounts)
}

func (a *faultyAdapter) RedeemFast(shares sdkmath.Int) ([]sdkmath.Int, error) {
	if a.redeemFastErr != nil {
		return nil, a.redeemFastErr
	}
	return a.SimulatedAdapter.RedeemFast(shares)
}

// newFaultyWorld mirrors newTestWorld with the strategy registered behind a
// faultyAdapter so tests can interrupt a settlement mid-way.
func newFaultyWorld(t *testing.T) (*testWorld, *faultyAdapter) {
	t.Helper()

	roles := access.NewStaticRoleOracle()
	roles.Grant(access.RoleDoHardWorker, worker)
	roles.Grant(access.RoleStrategyRegistrar, worker)
	roles.Grant(access.RoleEmergencyWithdrawer, worker)

	prices, err := oracle.NewStaticPriceOracle(map[string]sdkmath.LegacyDec{
		"usd": sdkmath.LegacyOneDec(),
	})
	require.NoError(t, err)

	book := custody.NewBook()
	led, err := New(Config{Roles: roles, Prices: prices, Custody: book, EmergencyWallet: emergency})
	require.NoError(t, err)

	inner, err := adapters.NewSimulatedAdapter(usdGroup, []sdkmath.Int{sdkmath.NewInt(1)}, prices, sdkmath.LegacyZeroDec(), true)
	require.NoError(t, err)
	faulty := &faultyAdapter{SimulatedAdapter: inner}

	id, err := led.RegisterStrategy(worker, "sim-usd", usdGroup, faulty)
	require.NoError(t, err)

	return &testWorld{led: led, book: book, roles: roles, prices: prices, adapter: inner, id: id}, faulty
}

func TestSettlementDepositFailureLeavesRedeemCommittedOnce(t *testing.T) {
	w, faulty := newFaultyWorld(t)

	w.deposit(t, alice, 1000)
	w.settle(t)
	shares, err := w.led.ClaimMintedShares(w.id, alice, 0)
	require.NoError(t, err)

	epoch, err := w.led.QueueShareRedemption(w.id, alice, shares)
	require.NoError(t, err)
	w.deposit(t, bob, 500)

	faulty.depositErr = errors.New("protocol rejected the deposit")
	err = w.led.DoHardWork(worker, []types.StrategyID{w.id})
	require.Error(t, err)

	// The redeem leg committed exactly once: custody holds the released
	// assets next to the untouched flushed deposit, and the redemption
	// queue is clear so a retry cannot redeem the same shares again.
	acct := custody.StrategyAccount(uint64(w.id))
	assert.Equal(t, "1500", w.book.BalanceOf(acct, "usd").String())
	total, err := w.led.TotalShares(w.id)
	require.NoError(t, err)
	assert.True(t, total.IsZero())

	// The epoch is not closed, so its claims wait for the retry.
	current, err := w.led.CurrentEpoch(w.id)
	require.NoError(t, err)
	assert.Equal(t, epoch, current)
	_, err = w.led.ClaimShareWithdrawals(alice, []types.StrategyID{w.id}, []uint64{epoch})
	require.ErrorIs(t, err, ErrEpochNotSettled)

	state, err := w.led.State(w.id)
	require.NoError(t, err)
	assert.Equal(t, types.StrategyIdle, state)

	// Retry with the protocol accepting again: only the deposit leg runs,
	// then the epoch closes carrying both legs.
	faulty.depositErr = nil
	w.settle(t)

	current, err = w.led.CurrentEpoch(w.id)
	require.NoError(t, err)
	assert.Equal(t, epoch+1, current)

	record, ok, err := w.led.Epoch(w.id, epoch)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1000", record.AssetsWithdrawn[0].String())
	assert.Equal(t, "500", record.AssetsDeposited[0].String())
	assert.Equal(t, shares.String(), record.SharesRedeemed.String())

	// The flushed 500 reached the protocol and left custody on the retry.
	assert.Equal(t, "1000", w.book.BalanceOf(acct, "usd").String())

	paid, err := w.led.ClaimShareWithdrawals(alice, []types.StrategyID{w.id}, []uint64{epoch})
	require.NoError(t, err)
	assert.Equal(t, "1000", paid.AmountOf("usd").String())
}

func TestRedeemFastMidBatchFailureReportsDeliveredPrefix(t *testing.T) {
	w := newTestWorld(t, sdkmath.LegacyZeroDec(), true)

	inner, err := adapters.NewSimulatedAdapter(usdGroup, []sdkmath.Int{sdkmath.NewInt(1)}, w.prices, sdkmath.LegacyZeroDec(), true)
	require.NoError(t, err)
	faulty := &faultyAdapter{SimulatedAdapter: inner}
	second, err := w.led.RegisterStrategy(worker, "sim-usd-2", usdGroup, faulty)
	require.NoError(t, err)

	fund := func(id types.StrategyID, amount int64) sdkmath.Int {
		coins := sdk.NewCoins(sdk.NewCoin("usd", sdkmath.NewInt(amount)))
		_, err := w.book.Mint(custody.StrategyAccount(uint64(id)), coins)
		require.NoError(t, err)
		_, err = w.led.AddStrategyDeposit(id, alice, []sdkmath.Int{sdkmath.NewInt(amount)}, sdkmath.LegacyNewDec(amount))
		require.NoError(t, err)
		require.NoError(t, w.led.DoHardWork(worker, []types.StrategyID{id}))
		shares, err := w.led.ClaimMintedShares(id, alice, 0)
		require.NoError(t, err)
		return shares
	}
	firstShares := fund(w.id, 600)
	secondShares := fund(second, 400)

	faulty.redeemFastErr = errors.New("protocol halted withdrawals")
	paid, err := w.led.RedeemFast(alice, []types.StrategyID{w.id, second}, []sdkmath.Int{firstShares, secondShares})
	require.Error(t, err)

	// The first strategy redeemed and paid; the second is untouched, and
	// the returned coins name exactly what was delivered.
	assert.Equal(t, "600", paid.AmountOf("usd").String())
	assert.Equal(t, "600", w.book.BalanceOf(alice, "usd").String())
	assert.True(t, w.led.ShareBalance(w.id, alice).IsZero())
	assert.Equal(t, secondShares.String(), w.led.ShareBalance(second, alice).String())

	value, err := w.led.TotalUsdValue(second)
	require.NoError(t, err)
	assert.Equal(t, "400.000000000000000000", value.String())
}

func TestClaimShareWithdrawalsRejectsMixedAssetGroups(t *testing.T) {
	w := newTestWorld(t, sdkmath.LegacyZeroDec(), true)

	eurGroup := types.AssetGroup{ID: 2, Assets: []types.Asset{
		{Denom: "eur", Symbol: "EUR", Precision: 0},
	}}
	w.prices.SetRate("eur", sdkmath.LegacyOneDec())
	eurAdapter, err := adapters.NewSimulatedAdapter(eurGroup, []sdkmath.Int{sdkmath.NewInt(1)}, w.prices, sdkmath.LegacyZeroDec(), true)
	require.NoError(t, err)
	eurID, err := w.led.RegisterStrategy(worker, "sim-eur", eurGroup, eurAdapter)
	require.NoError(t, err)

	w.deposit(t, alice, 1000)
	w.settle(t)
	shares, err := w.led.ClaimMintedShares(w.id, alice, 0)
	require.NoError(t, err)
	epoch, err := w.led.QueueShareRedemption(w.id, alice, shares)
	require.NoError(t, err)
	w.settle(t)

	// A batch spanning both groups is rejected before any payout moves.
	_, err = w.led.ClaimShareWithdrawals(alice, []types.StrategyID{w.id, eurID}, []uint64{epoch, 0})
	require.ErrorIs(t, err, ErrNotSameAssetGroup)
	assert.True(t, w.book.BalanceOf(alice, "usd").IsZero())

	// Claimed per group it pays out normally.
	paid, err := w.led.ClaimShareWithdrawals(alice, []types.StrategyID{w.id}, []uint64{epoch})
	require.NoError(t, err)
	assert.Equal(t, "1000", paid.AmountOf("usd").String())
}
