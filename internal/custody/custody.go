/*

Custody book: the asset balance ledger for every account the system
controls (vaults, strategies, users, the emergency wallet). All claim
payouts and emergency forwarding move through here, and inbound transfers
are verified by balance delta rather than by trusting a return value.

*/

package custody

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/rs/zerolog"

	"github.com/solvent-labs/svm/internal/logger"
)

// Error definitions
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidCoins      = errors.New("invalid coin set")
	ErrEmptyAccount      = errors.New("account name cannot be empty")
)

// Book tracks per-account sdk.Coins balances.
type Book struct {
	mu       sync.Mutex
	balances map[string]sdk.Coins
	log      zerolog.Logger
}

// NewBook creates an empty custody book.
func NewBook() *Book {
	return &Book{
		balances: make(map[string]sdk.Coins),
		log:      logger.GetForComponent("custody"),
	}
}

// Balance returns the account's current holdings.
func (b *Book) Balance(account string) sdk.Coins {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[account]
}

// BalanceOf returns the account's holding of a single denom.
func (b *Book) BalanceOf(account, denom string) sdkmath.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[account].AmountOf(denom)
}

// Mint credits coins arriving from outside the book (protocol redemptions,
// user funding). Returns the account's balance delta so callers can verify
// delivery against expectations.
func (b *Book) Mint(account string, coins sdk.Coins) (sdk.Coins, error) {
	if account == "" {
		return nil, ErrEmptyAccount
	}
	if err := coins.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCoins, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	before := b.balances[account]
	b.balances[account] = before.Add(coins...)
	delta := b.balances[account].Sub(before...)

	b.log.Debug().Str("account", account).Str("coins", coins.String()).Msg("Minted into custody")
	return delta, nil
}

// Burn debits coins leaving the book (protocol deposits).
func (b *Book) Burn(account string, coins sdk.Coins) error {
	if err := coins.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCoins, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	held := b.balances[account]
	if !coins.IsAllLTE(held) {
		return fmt.Errorf("%w: account %s holds %s, needs %s", ErrInsufficientFunds, account, held, coins)
	}
	b.balances[account] = held.Sub(coins...)

	b.log.Debug().Str("account", account).Str("coins", coins.String()).Msg("Burned from custody")
	return nil
}

// Transfer moves coins between accounts atomically.
func (b *Book) Transfer(from, to string, coins sdk.Coins) error {
	if from == "" || to == "" {
		return ErrEmptyAccount
	}
	if err := coins.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCoins, err)
	}
	if coins.IsZero() {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	held := b.balances[from]
	if !coins.IsAllLTE(held) {
		return fmt.Errorf("%w: account %s holds %s, needs %s", ErrInsufficientFunds, from, held, coins)
	}
	b.balances[from] = held.Sub(coins...)
	b.balances[to] = b.balances[to].Add(coins...)

	b.log.Debug().Str("from", from).Str("to", to).Str("coins", coins.String()).Msg("Custody transfer")
	return nil
}

// StrategyAccount names the custody account holding a strategy's released
// but unclaimed assets.
func StrategyAccount(id uint64) string {
	return fmt.Sprintf("strategy/%d", id)
}

// VaultAccount names the custody account holding a vault's pending assets.
func VaultAccount(id uint64) string {
	return fmt.Sprintf("vault/%d", id)
}
