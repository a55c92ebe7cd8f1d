package custody

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func coins(amount int64) sdk.Coins {
	return sdk.NewCoins(sdk.NewCoin("usd", sdkmath.NewInt(amount)))
}

func TestMintReportsBalanceDelta(t *testing.T) {
	b := NewBook()
	delta, err := b.Mint("alice", coins(100))
	require.NoError(t, err)
	assert.Equal(t, "100", delta.AmountOf("usd").String())
	assert.Equal(t, "100", b.BalanceOf("alice", "usd").String())
}

func TestTransferMovesExactly(t *testing.T) {
	b := NewBook()
	_, err := b.Mint("alice", coins(100))
	require.NoError(t, err)

	require.NoError(t, b.Transfer("alice", "bob", coins(40)))
	assert.Equal(t, "60", b.BalanceOf("alice", "usd").String())
	assert.Equal(t, "40", b.BalanceOf("bob", "usd").String())
}

func TestTransferInsufficientFunds(t *testing.T) {
	b := NewBook()
	_, err := b.Mint("alice", coins(10))
	require.NoError(t, err)
	err = b.Transfer("alice", "bob", coins(11))
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, "10", b.BalanceOf("alice", "usd").String())
}

func TestBurnInsufficientFunds(t *testing.T) {
	b := NewBook()
	err := b.Burn("alice", coins(1))
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestAccountNames(t *testing.T) {
	assert.Equal(t, "strategy/7", StrategyAccount(7))
	assert.Equal(t, "vault/3", VaultAccount(3))
}
