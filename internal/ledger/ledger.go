/*

Strategy ledger: the authoritative, epoch-indexed record of what happened
to deposited and withdrawn capital at each Do-Hard-Work settlement, and the
only component permitted to mutate strategy accounting state. Everything
else interacts with strategies through the indexed-write functions here.

*/

package ledger

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/rs/zerolog"

	"github.com/solvent-labs/svm/internal/access"
	"github.com/solvent-labs/svm/internal/adapters"
	"github.com/solvent-labs/svm/internal/custody"
	"github.com/solvent-labs/svm/internal/fixedpoint"
	"github.com/solvent-labs/svm/internal/logger"
	"github.com/solvent-labs/svm/internal/oracle"
	"github.com/solvent-labs/svm/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidStrategy    = errors.New("invalid strategy")
	ErrStrategyNotReady   = errors.New("strategy not ready")
	ErrNotSameAssetGroup  = errors.New("not same asset group")
	ErrLengthMismatch     = errors.New("input array lengths do not match")
	ErrEpochNotSettled    = errors.New("epoch has not settled yet")
	ErrInsufficientShares = errors.New("insufficient strategy shares")
	ErrNothingPending     = errors.New("nothing pending for strategy")
)

// claimKey indexes per-(account, epoch) records within one strategy.
type claimKey struct {
	account string
	epoch   uint64
}

// strategyRecord is the full accounting state of one registered strategy.
// Owned exclusively by the Ledger; never handed out by reference.
type strategyRecord struct {
	id      types.StrategyID
	name    string
	group   types.AssetGroup
	adapter adapters.StrategyAdapter

	state        types.DhwState
	currentEpoch uint64
	revoked      bool

	totalShares  sdkmath.Int
	lastUsdValue sdkmath.LegacyDec // position value at last epoch close

	epochs map[uint64]*types.EpochRecord

	// Epoch record staged by an interrupted settlement: legs that already
	// committed live here until a later attempt closes the epoch.
	settling *types.EpochRecord

	// Flushed, awaiting the next DHW settlement.
	pendingDeposits     []sdkmath.Int
	pendingRedeemShares sdkmath.Int

	// Per-claimant records used by the claim functions.
	withdrawnShares   map[claimKey]sdkmath.Int // shares queued for redemption at epoch
	depositUsd        map[claimKey]sdkmath.Int // USD units contributed at epoch
	depositUsdByEpoch map[uint64]sdkmath.Int   // total USD units contributed at epoch

	// Running unclaimed balances. Integer-division dust accumulates here
	// until the last claimant of an epoch has claimed; this is expected
	// and bounded, not a leak.
	assetsNotClaimed []sdkmath.Int
	sharesNotClaimed map[uint64]sdkmath.Int

	// Share balances of vaults and direct holders, plus the transient
	// reallocation pool.
	shareBalances map[string]sdkmath.Int
	poolShares    sdkmath.Int
}

// Ledger is the strategy registry plus epoch accounting engine.
type Ledger struct {
	mu sync.Mutex

	roles           access.RoleOracle
	prices          oracle.PriceOracle
	book            *custody.Book
	emergencyWallet string

	strategies map[types.StrategyID]*strategyRecord
	nextID     types.StrategyID

	log zerolog.Logger
}

// Config holds the collaborators a Ledger needs.
type Config struct {
	Roles           access.RoleOracle
	Prices          oracle.PriceOracle
	Custody         *custody.Book
	EmergencyWallet string
}

// New creates an empty ledger.
func New(cfg Config) (*Ledger, error) {
	if cfg.Roles == nil {
		return nil, errors.New("role oracle cannot be nil")
	}
	if cfg.Prices == nil {
		return nil, errors.New("price oracle cannot be nil")
	}
	if cfg.Custody == nil {
		return nil, errors.New("custody book cannot be nil")
	}
	if cfg.EmergencyWallet == "" {
		return nil, errors.New("emergency wallet cannot be empty")
	}
	return &Ledger{
		roles:           cfg.Roles,
		prices:          cfg.Prices,
		book:            cfg.Custody,
		emergencyWallet: cfg.EmergencyWallet,
		strategies:      make(map[types.StrategyID]*strategyRecord),
		nextID:          1,
		log:             logger.GetForComponent("strategy_ledger"),
	}, nil
}

// RegisterStrategy adds a strategy to the registry. Requires the
// strategy-registrar role.
func (l *Ledger) RegisterStrategy(caller, name string, group types.AssetGroup, adapter adapters.StrategyAdapter) (types.StrategyID, error) {
	if err := access.CheckRole(l.roles, access.RoleStrategyRegistrar, caller); err != nil {
		return types.GhostStrategy, err
	}
	if err := group.Validate(); err != nil {
		return types.GhostStrategy, err
	}
	if adapter == nil {
		return types.GhostStrategy, errors.New("strategy adapter cannot be nil")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID
	l.nextID++

	l.strategies[id] = &strategyRecord{
		id:                  id,
		name:                name,
		group:               group,
		adapter:             adapter,
		state:               types.StrategyIdle,
		currentEpoch:        0,
		totalShares:         sdkmath.ZeroInt(),
		lastUsdValue:        sdkmath.LegacyZeroDec(),
		epochs:              make(map[uint64]*types.EpochRecord),
		pendingDeposits:     fixedpoint.ZeroRow(group.Len()),
		pendingRedeemShares: sdkmath.ZeroInt(),
		withdrawnShares:     make(map[claimKey]sdkmath.Int),
		depositUsd:          make(map[claimKey]sdkmath.Int),
		depositUsdByEpoch:   make(map[uint64]sdkmath.Int),
		assetsNotClaimed:    fixedpoint.ZeroRow(group.Len()),
		sharesNotClaimed:    make(map[uint64]sdkmath.Int),
		shareBalances:       make(map[string]sdkmath.Int),
		poolShares:          sdkmath.ZeroInt(),
	}

	l.log.Info().Uint64("strategyId", uint64(id)).Str("name", name).Uint64("assetGroup", group.ID).Msg("Strategy registered")
	return id, nil
}

// RemoveStrategy permanently revokes a strategy's registered status.
// Requires the strategy-registrar role. Irreversible.
func (l *Ledger) RemoveStrategy(caller string, id types.StrategyID) error {
	if err := access.CheckRole(l.roles, access.RoleStrategyRegistrar, caller); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.get(id)
	if err != nil {
		return err
	}
	rec.revoked = true

	l.log.Warn().Uint64("strategyId", uint64(id)).Msg("Strategy revoked")
	return nil
}

// get looks up a live (registered, not revoked) strategy. Callers hold l.mu.
func (l *Ledger) get(id types.StrategyID) (*strategyRecord, error) {
	rec, ok := l.strategies[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d is not registered", ErrInvalidStrategy, id)
	}
	if rec.revoked {
		return nil, fmt.Errorf("%w: %d has been revoked", ErrInvalidStrategy, id)
	}
	return rec, nil
}

// --- Read accessors ---

// State returns a strategy's DHW state.
func (l *Ledger) State(id types.StrategyID) (types.DhwState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, err := l.get(id)
	if err != nil {
		return types.StrategyIdle, err
	}
	return rec.state, nil
}

// CurrentEpoch returns the strategy's next-to-settle epoch index.
func (l *Ledger) CurrentEpoch(id types.StrategyID) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, err := l.get(id)
	if err != nil {
		return 0, err
	}
	return rec.currentEpoch, nil
}

// AssetGroup returns the strategy's asset group.
func (l *Ledger) AssetGroup(id types.StrategyID) (types.AssetGroup, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, err := l.get(id)
	if err != nil {
		return types.AssetGroup{}, err
	}
	return rec.group, nil
}

// AssetRatio returns the strategy's required asset ratio from its adapter.
func (l *Ledger) AssetRatio(id types.StrategyID) ([]sdkmath.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, err := l.get(id)
	if err != nil {
		return nil, err
	}
	return rec.adapter.AssetRatio()
}

// Atomic reports whether the strategy's adapter settles atomically.
func (l *Ledger) Atomic(id types.StrategyID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, err := l.get(id)
	if err != nil {
		return false, err
	}
	return rec.adapter.Atomic(), nil
}

// TotalShares returns the strategy's outstanding share count.
func (l *Ledger) TotalShares(id types.StrategyID) (sdkmath.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, err := l.get(id)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return rec.totalShares, nil
}

// TotalUsdValue returns the strategy's position value at last epoch close.
func (l *Ledger) TotalUsdValue(id types.StrategyID) (sdkmath.LegacyDec, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, err := l.get(id)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	return rec.lastUsdValue, nil
}

// ShareBalance returns an account's share holding in a strategy. Unknown
// strategies and accounts read as zero.
func (l *Ledger) ShareBalance(id types.StrategyID, account string) sdkmath.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.strategies[id]
	if !ok {
		return sdkmath.ZeroInt()
	}
	bal, ok := rec.shareBalances[account]
	if !ok {
		return sdkmath.ZeroInt()
	}
	return bal
}

// Epoch returns a settled epoch record.
func (l *Ledger) Epoch(id types.StrategyID, index uint64) (types.EpochRecord, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, err := l.get(id)
	if err != nil {
		return types.EpochRecord{}, false, err
	}
	e, ok := rec.epochs[index]
	if !ok {
		return types.EpochRecord{}, false, nil
	}
	return cloneEpoch(e), true, nil
}

// AssetsNotClaimed returns the running unclaimed balance per asset.
func (l *Ledger) AssetsNotClaimed(id types.StrategyID) ([]sdkmath.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, err := l.get(id)
	if err != nil {
		return nil, err
	}
	return append([]sdkmath.Int(nil), rec.assetsNotClaimed...), nil
}

// StrategyIDs returns all live strategy IDs in ascending order.
func (l *Ledger) StrategyIDs() []types.StrategyID {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]types.StrategyID, 0, len(l.strategies))
	for id, rec := range l.strategies {
		if !rec.revoked {
			ids = append(ids, id)
		}
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j] < ids[j-1]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
	return ids
}

// --- Flush-side writes ---

// AddStrategyDeposit records flushed deposit amounts for the strategy's
// next settlement. usdValue is the deposit's oracle value at flush time and
// determines the depositor's claim on the shares minted at that epoch.
// The depositor's assets must already sit in the strategy's custody account.
func (l *Ledger) AddStrategyDeposit(id types.StrategyID, depositor string, amounts []sdkmath.Int, usdValue sdkmath.LegacyDec) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.get(id)
	if err != nil {
		return 0, err
	}
	if rec.state != types.StrategyIdle {
		return 0, fmt.Errorf("%w: strategy %d is %s", ErrStrategyNotReady, id, rec.state)
	}
	if err := rec.group.CheckAmounts(len(amounts)); err != nil {
		return 0, err
	}
	if usdValue.IsNil() || usdValue.IsNegative() {
		return 0, fmt.Errorf("deposit USD value for strategy %d is invalid", id)
	}

	for i, amount := range amounts {
		if amount.IsNil() || amount.IsNegative() {
			return 0, fmt.Errorf("deposit amount for %s is invalid", rec.group.Assets[i].Denom)
		}
		rec.pendingDeposits[i] = rec.pendingDeposits[i].Add(amount)
	}

	epoch := rec.currentEpoch
	key := claimKey{account: depositor, epoch: epoch}
	units := fixedpoint.UsdToUnits(usdValue)
	rec.depositUsd[key] = getOrZero(rec.depositUsd, key).Add(units)
	rec.depositUsdByEpoch[epoch] = getOrZero(rec.depositUsdByEpoch, epoch).Add(units)

	l.log.Debug().
		Uint64("strategyId", uint64(id)).
		Uint64("epoch", epoch).
		Str("depositor", depositor).
		Str("usdValue", usdValue.String()).
		Msg("Strategy deposit queued")
	return epoch, nil
}

// QueueShareRedemption moves an account's shares into the next settlement's
// redemption batch and records the claimable position at the current epoch.
func (l *Ledger) QueueShareRedemption(id types.StrategyID, claimant string, shares sdkmath.Int) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.get(id)
	if err != nil {
		return 0, err
	}
	if rec.state != types.StrategyIdle {
		return 0, fmt.Errorf("%w: strategy %d is %s", ErrStrategyNotReady, id, rec.state)
	}
	if shares.IsNil() || shares.IsNegative() {
		return 0, fmt.Errorf("share amount for strategy %d is invalid", id)
	}
	if shares.IsZero() {
		return rec.currentEpoch, nil
	}

	balance := getOrZeroAcct(rec.shareBalances, claimant)
	if shares.GT(balance) {
		return 0, fmt.Errorf("%w: %s holds %s of strategy %d, redeeming %s",
			ErrInsufficientShares, claimant, balance, id, shares)
	}

	rec.shareBalances[claimant] = balance.Sub(shares)
	rec.pendingRedeemShares = rec.pendingRedeemShares.Add(shares)

	epoch := rec.currentEpoch
	key := claimKey{account: claimant, epoch: epoch}
	rec.withdrawnShares[key] = getOrZero(rec.withdrawnShares, key).Add(shares)

	l.log.Debug().
		Uint64("strategyId", uint64(id)).
		Uint64("epoch", epoch).
		Str("claimant", claimant).
		Str("shares", shares.String()).
		Msg("Share redemption queued")
	return epoch, nil
}

// --- helpers ---

func getOrZero[K comparable](m map[K]sdkmath.Int, k K) sdkmath.Int {
	v, ok := m[k]
	if !ok {
		return sdkmath.ZeroInt()
	}
	return v
}

func getOrZeroAcct(m map[string]sdkmath.Int, k string) sdkmath.Int {
	v, ok := m[k]
	if !ok {
		return sdkmath.ZeroInt()
	}
	return v
}

func cloneEpoch(e *types.EpochRecord) types.EpochRecord {
	out := *e
	out.AssetsDeposited = append([]sdkmath.Int(nil), e.AssetsDeposited...)
	out.AssetsWithdrawn = append([]sdkmath.Int(nil), e.AssetsWithdrawn...)
	return out
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
