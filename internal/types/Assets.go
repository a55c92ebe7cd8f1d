/*

Asset and asset-group types shared by vaults, strategies and the ledger.
An asset group is an ordered, duplicate-free set of assets; every amount
slice in the system is positional against its group.

*/

package types

import (
	"errors"
	"fmt"
)

// Error definitions for asset-group validation
var (
	ErrEmptyAssetGroup     = errors.New("asset group has no assets")
	ErrDuplicateAsset      = errors.New("asset group contains duplicate denom")
	ErrAssetNotInGroup     = errors.New("asset is not part of the asset group")
	ErrAssetGroupMismatch  = errors.New("asset groups do not match")
	ErrInvalidPrecision    = errors.New("asset precision must be between 0 and 18")
	ErrAmountLengthInvalid = errors.New("amount slice length does not match asset group")
)

// Asset is a single fungible token identifier.
type Asset struct {
	Denom     string `json:"denom"`     // e.g., "weth"
	Symbol    string `json:"symbol"`    // e.g., "WETH"
	Precision int    `json:"precision"` // decimal count, e.g., 18
}

// Validate checks the asset fields for basic sanity.
func (a Asset) Validate() error {
	if a.Denom == "" {
		return errors.New("asset denom cannot be empty")
	}
	if a.Precision < 0 || a.Precision > 18 {
		return fmt.Errorf("%w: %s has precision %d", ErrInvalidPrecision, a.Denom, a.Precision)
	}
	return nil
}

// AssetGroup is an ordered set of unique assets. Vaults and their strategies
// share one group; all positional amount slices are indexed against it.
type AssetGroup struct {
	ID     uint64  `json:"id"`
	Assets []Asset `json:"assets"`
}

// Validate checks ordering-independent group invariants.
func (g AssetGroup) Validate() error {
	if len(g.Assets) == 0 {
		return ErrEmptyAssetGroup
	}
	seen := make(map[string]struct{}, len(g.Assets))
	for _, a := range g.Assets {
		if err := a.Validate(); err != nil {
			return err
		}
		if _, dup := seen[a.Denom]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateAsset, a.Denom)
		}
		seen[a.Denom] = struct{}{}
	}
	return nil
}

// Len returns the number of assets in the group.
func (g AssetGroup) Len() int {
	return len(g.Assets)
}

// IndexOf returns the position of denom within the group.
func (g AssetGroup) IndexOf(denom string) (int, error) {
	for i, a := range g.Assets {
		if a.Denom == denom {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %s (group %d)", ErrAssetNotInGroup, denom, g.ID)
}

// Equal reports whether two groups hold the same assets in the same order.
func (g AssetGroup) Equal(other AssetGroup) bool {
	if len(g.Assets) != len(other.Assets) {
		return false
	}
	for i := range g.Assets {
		if g.Assets[i].Denom != other.Assets[i].Denom {
			return false
		}
	}
	return true
}

// CheckAmounts verifies that a positional amount slice matches the group size.
func (g AssetGroup) CheckAmounts(n int) error {
	if n != len(g.Assets) {
		return fmt.Errorf("%w: got %d amounts for %d assets", ErrAmountLengthInvalid, n, len(g.Assets))
	}
	return nil
}
