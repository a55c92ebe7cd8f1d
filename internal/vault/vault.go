/*

Smart vault: the user-facing aggregation layer. Users deposit asset bundles
and redeem vault tokens (SVT); the vault batches those requests, flushes
them into its strategies through the deposit-ratio engine, and syncs
settled epochs back into SVT mints and asset payouts.

Request lifecycle: pending -> flushed (assigned a flush index and handed to
the strategy ledger) -> resolved (the backing epochs settled and the sync
priced the request) -> claimed (paid out and destroyed).

*/

package vault

import (
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/rs/zerolog"

	"github.com/solvent-labs/svm/internal/custody"
	"github.com/solvent-labs/svm/internal/depositratio"
	"github.com/solvent-labs/svm/internal/ledger"
	"github.com/solvent-labs/svm/internal/logger"
	"github.com/solvent-labs/svm/internal/oracle"
	"github.com/solvent-labs/svm/internal/types"
)

// svtScalar sets SVT precision for an empty vault: one USD mints 10^6 SVT.
var svtScalar = sdkmath.NewInt(1_000_000)

// Error definitions for zero-tolerance error handling
var (
	ErrUnknownRequest     = errors.New("unknown request")
	ErrNotRequestOwner    = errors.New("caller does not own the request")
	ErrRequestNotResolved = errors.New("request has not resolved yet")
	ErrInsufficientSvt    = errors.New("insufficient vault token balance")
	ErrTooManyStrategies  = errors.New("vault exceeds the strategy cap")
)

// flushRecord tracks one flush batch until its backing epochs settle and
// every included request is claimed.
type flushRecord struct {
	index uint64

	// strategy -> the epoch this flush was queued into
	epochs map[types.StrategyID]uint64

	depositIDs    []uint64
	withdrawalIDs []uint64

	depositUsd   sdkmath.LegacyDec
	withdrawnSvt sdkmath.Int

	// Set at sync: assets received for the flush's withdrawals, drained
	// request by request so the last claimant absorbs the dust.
	withdrawnAssets []sdkmath.Int
	remainingSvt    sdkmath.Int

	synced bool
}

// Config holds a vault's static wiring.
type Config struct {
	ID          types.VaultID
	Name        string
	Group       types.AssetGroup
	Strategies  []types.StrategyID
	Allocations []types.Allocation
	Ledger      *ledger.Ledger
	Prices      oracle.PriceOracle
	Custody     *custody.Book
	Parameters  types.EngineParameters
}

// SmartVault batches user requests against a fixed strategy set.
type SmartVault struct {
	mu sync.Mutex

	id          types.VaultID
	name        string
	group       types.AssetGroup
	strategies  []types.StrategyID
	allocations []types.Allocation

	led    *ledger.Ledger
	ratio  *depositratio.Engine
	prices oracle.PriceOracle
	book   *custody.Book
	params types.EngineParameters

	nextRequestID uint64
	nextFlush     uint64

	pendingDeposits    []*types.DepositRequest
	pendingWithdrawals []*types.WithdrawalRequest
	deposits           map[uint64]*types.DepositRequest
	withdrawals        map[uint64]*types.WithdrawalRequest
	flushes            map[uint64]*flushRecord

	svtSupply   sdkmath.Int
	svtBalances map[string]sdkmath.Int

	log zerolog.Logger
}

// New creates a smart vault over an already registered strategy set.
func New(cfg Config) (*SmartVault, error) {
	if err := cfg.Group.Validate(); err != nil {
		return nil, err
	}
	if cfg.Ledger == nil || cfg.Prices == nil || cfg.Custody == nil {
		return nil, errors.New("vault collaborators cannot be nil")
	}
	if len(cfg.Strategies) == 0 {
		return nil, depositratio.ErrNoStrategies
	}
	if len(cfg.Strategies) != len(cfg.Allocations) {
		return nil, fmt.Errorf("%w: %d strategies, %d allocations",
			types.ErrAllocationLength, len(cfg.Strategies), len(cfg.Allocations))
	}
	if cfg.Parameters.MaxStrategiesPerVault > 0 && len(cfg.Strategies) > cfg.Parameters.MaxStrategiesPerVault {
		return nil, fmt.Errorf("%w: %d of %d", ErrTooManyStrategies, len(cfg.Strategies), cfg.Parameters.MaxStrategiesPerVault)
	}
	allocTotal := uint64(0)
	for _, a := range cfg.Allocations {
		allocTotal += a
	}
	if allocTotal == 0 {
		return nil, types.ErrAllocationZero
	}
	for _, id := range cfg.Strategies {
		if id.IsGhost() {
			continue
		}
		g, err := cfg.Ledger.AssetGroup(id)
		if err != nil {
			return nil, err
		}
		if !g.Equal(cfg.Group) {
			return nil, fmt.Errorf("strategy %d settles group %d, vault settles group %d: %w",
				id, g.ID, cfg.Group.ID, types.ErrAssetGroupMismatch)
		}
	}

	ratio, err := depositratio.NewEngine(cfg.Group, cfg.Parameters.DepositToleranceBps)
	if err != nil {
		return nil, err
	}

	return &SmartVault{
		id:            cfg.ID,
		name:          cfg.Name,
		group:         cfg.Group,
		strategies:    append([]types.StrategyID(nil), cfg.Strategies...),
		allocations:   append([]types.Allocation(nil), cfg.Allocations...),
		led:           cfg.Ledger,
		ratio:         ratio,
		prices:        cfg.Prices,
		book:          cfg.Custody,
		params:        cfg.Parameters,
		nextRequestID: 1,
		deposits:      make(map[uint64]*types.DepositRequest),
		withdrawals:   make(map[uint64]*types.WithdrawalRequest),
		flushes:       make(map[uint64]*flushRecord),
		svtSupply:     sdkmath.ZeroInt(),
		svtBalances:   make(map[string]sdkmath.Int),
		log:           logger.GetForComponent(fmt.Sprintf("vault_%d", cfg.ID)),
	}, nil
}

// ID returns the vault's identifier.
func (v *SmartVault) ID() types.VaultID { return v.id }

// Name returns the vault's display name.
func (v *SmartVault) Name() string { return v.name }

// Group returns the vault's asset group.
func (v *SmartVault) Group() types.AssetGroup { return v.group }

// Strategies returns the vault's strategy set.
func (v *SmartVault) Strategies() []types.StrategyID {
	return append([]types.StrategyID(nil), v.strategies...)
}

// account names the vault's custody and share-holding account.
func (v *SmartVault) account() string {
	return custody.VaultAccount(uint64(v.id))
}

// SvtSupply returns the outstanding vault token supply, claimed or not.
func (v *SmartVault) SvtSupply() sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.svtSupply
}

// SvtBalance returns an account's claimed vault token balance.
func (v *SmartVault) SvtBalance(account string) sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	bal, ok := v.svtBalances[account]
	if !ok {
		return sdkmath.ZeroInt()
	}
	return bal
}

// Deposit moves a user's assets into the vault's custody and creates a
// pending deposit request for the next flush.
func (v *SmartVault) Deposit(owner string, amounts []sdkmath.Int) (uint64, error) {
	if err := v.group.CheckAmounts(len(amounts)); err != nil {
		return 0, err
	}
	for i, a := range amounts {
		if a.IsNil() || a.IsNegative() {
			return 0, fmt.Errorf("deposit amount for %s is invalid", v.group.Assets[i].Denom)
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	coins := coinsFromAmounts(v.group, amounts)
	if err := v.book.Transfer(owner, v.account(), coins); err != nil {
		return 0, err
	}

	req := &types.DepositRequest{
		ID:        v.nextRequestID,
		Owner:     owner,
		Amounts:   append([]sdkmath.Int(nil), amounts...),
		Status:    types.RequestPending,
		SvtMinted: sdkmath.ZeroInt(),
		CreatedAt: time.Now().UTC(),
	}
	v.nextRequestID++
	v.deposits[req.ID] = req
	v.pendingDeposits = append(v.pendingDeposits, req)

	v.log.Debug().Uint64("requestId", req.ID).Str("owner", owner).Str("coins", coins.String()).Msg("Deposit request created")
	return req.ID, nil
}

// RequestWithdrawal locks a user's vault tokens and creates a pending
// withdrawal request for the next flush.
func (v *SmartVault) RequestWithdrawal(owner string, svtShares sdkmath.Int) (uint64, error) {
	if svtShares.IsNil() || !svtShares.IsPositive() {
		return 0, fmt.Errorf("withdrawal share amount is invalid")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	balance, ok := v.svtBalances[owner]
	if !ok || svtShares.GT(balance) {
		return 0, fmt.Errorf("%w: %s holds %s, redeeming %s", ErrInsufficientSvt, owner, balance, svtShares)
	}
	v.svtBalances[owner] = balance.Sub(svtShares)

	req := &types.WithdrawalRequest{
		ID:        v.nextRequestID,
		Owner:     owner,
		SvtShares: svtShares,
		Status:    types.RequestPending,
		CreatedAt: time.Now().UTC(),
	}
	v.nextRequestID++
	v.withdrawals[req.ID] = req
	v.pendingWithdrawals = append(v.pendingWithdrawals, req)

	v.log.Debug().Uint64("requestId", req.ID).Str("owner", owner).Str("svt", svtShares.String()).Msg("Withdrawal request created")
	return req.ID, nil
}

// Allocations returns the vault's per-strategy target weights.
func (v *SmartVault) Allocations() []types.Allocation {
	return append([]types.Allocation(nil), v.allocations...)
}

// AllocationEfficiency reports how closely the vault's current per-strategy
// values track its target allocations, as a percentage. 100 means every
// strategy sits exactly at target; deviations subtract their share of the
// total.
func (v *SmartVault) AllocationEfficiency() (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	total := sdkmath.LegacyZeroDec()
	current := make([]sdkmath.LegacyDec, len(v.strategies))
	for i, id := range v.strategies {
		current[i] = sdkmath.LegacyZeroDec()
		if id.IsGhost() {
			continue
		}
		shares := v.led.ShareBalance(id, v.account())
		totalShares, err := v.led.TotalShares(id)
		if err != nil {
			return 0, err
		}
		if !totalShares.IsPositive() || shares.IsZero() {
			continue
		}
		totalUsd, err := v.led.TotalUsdValue(id)
		if err != nil {
			return 0, err
		}
		current[i] = totalUsd.MulInt(shares).QuoInt(totalShares)
		total = total.Add(current[i])
	}
	if !total.IsPositive() {
		return 100.0, nil
	}

	allocTotal := uint64(0)
	for _, a := range v.allocations {
		allocTotal += a
	}

	// Half the summed absolute deviation, as a fraction of total value,
	// is the share of capital sitting in the wrong strategy.
	deviation := sdkmath.LegacyZeroDec()
	for i := range v.strategies {
		target := total.MulInt64(int64(v.allocations[i])).QuoInt64(int64(allocTotal))
		deviation = deviation.Add(current[i].Sub(target).Abs())
	}
	misplaced := deviation.Quo(total).QuoInt64(2)
	efficiency := sdkmath.LegacyNewDec(100).Sub(misplaced.MulInt64(100))
	if efficiency.IsNegative() {
		return 0, nil
	}
	out, err := efficiency.Float64()
	if err != nil {
		return 0, err
	}
	return out, nil
}

// TotalUsdValue returns the USD value of the vault's strategy positions at
// their last settled epochs.
func (v *SmartVault) TotalUsdValue() (sdkmath.LegacyDec, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.positionsUsd()
}

// positionsUsd sums the vault's pro-rata claim on each strategy. Caller
// holds v.mu.
func (v *SmartVault) positionsUsd() (sdkmath.LegacyDec, error) {
	total := sdkmath.LegacyZeroDec()
	for _, id := range v.strategies {
		if id.IsGhost() {
			continue
		}
		shares := v.led.ShareBalance(id, v.account())
		if shares.IsZero() {
			continue
		}
		totalShares, err := v.led.TotalShares(id)
		if err != nil {
			return sdkmath.LegacyDec{}, err
		}
		if !totalShares.IsPositive() {
			continue
		}
		totalUsd, err := v.led.TotalUsdValue(id)
		if err != nil {
			return sdkmath.LegacyDec{}, err
		}
		total = total.Add(totalUsd.MulInt(shares).QuoInt(totalShares))
	}
	return total, nil
}

// AllocationTargets returns the vault's strategy IDs and allocations as
// deposit-ratio weights, reading each strategy's required ratio once.
func (v *SmartVault) allocationWeights() ([]depositratio.StrategyWeights, error) {
	weights := make([]depositratio.StrategyWeights, 0, len(v.strategies))
	for i, id := range v.strategies {
		if id.IsGhost() {
			continue
		}
		ratio, err := v.led.AssetRatio(id)
		if err != nil {
			return nil, err
		}
		weights = append(weights, depositratio.StrategyWeights{
			ID:                 id,
			Allocation:         v.allocations[i],
			RequiredAssetRatio: ratio,
		})
	}
	return weights, nil
}

// coinsFromAmounts converts a positional amount slice to sdk.Coins,
// dropping zero entries.
func coinsFromAmounts(group types.AssetGroup, amounts []sdkmath.Int) sdk.Coins {
	coins := sdk.NewCoins()
	for i, amount := range amounts {
		if amount.IsPositive() {
			coins = coins.Add(sdk.NewCoin(group.Assets[i].Denom, amount))
		}
	}
	return coins
}
