/*

Epoch persistence: registered strategies and their settled epoch records,
written after each keeper cycle so accounting history survives restarts.
Base-unit amounts are stored as strings; they exceed BIGINT for 18-decimal
tokens.

*/

package state

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/solvent-labs/svm/internal/types"
)

// UpsertStrategy records a strategy's registration metadata.
func UpsertStrategy(id types.StrategyID, name string, assetGroupID uint64, revoked bool) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO strategies (strategy_id, name, asset_group_id, revoked)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (strategy_id) DO UPDATE
		SET name = EXCLUDED.name, revoked = EXCLUDED.revoked;`

	if _, err := DB.Exec(query, uint64(id), name, assetGroupID, revoked); err != nil {
		return fmt.Errorf("failed to upsert strategy %d: %w", id, err)
	}
	return nil
}

// SaveEpochRecord persists one settled epoch. Saving the same
// (strategy, epoch) twice is a no-op; settled epochs are immutable.
func SaveEpochRecord(id types.StrategyID, record types.EpochRecord) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	deposited := make([]string, len(record.AssetsDeposited))
	for i, a := range record.AssetsDeposited {
		deposited[i] = a.String()
	}
	withdrawn := make([]string, len(record.AssetsWithdrawn))
	for i, a := range record.AssetsWithdrawn {
		withdrawn[i] = a.String()
	}
	depositedJSON, err := json.Marshal(deposited)
	if err != nil {
		return fmt.Errorf("failed to marshal assets_deposited: %w", err)
	}
	withdrawnJSON, err := json.Marshal(withdrawn)
	if err != nil {
		return fmt.Errorf("failed to marshal assets_withdrawn: %w", err)
	}

	query := `
		INSERT INTO strategy_epochs (
			strategy_id, epoch_index,
			assets_deposited, assets_withdrawn,
			shares_minted, shares_redeemed,
			yield_pct, usd_value_at_close
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (strategy_id, epoch_index) DO NOTHING;`

	_, err = DB.Exec(
		query,
		uint64(id), record.Index,
		depositedJSON, withdrawnJSON,
		record.SharesMinted.String(), record.SharesRedeemed.String(),
		record.YieldPct.String(), record.UsdValueAtClose.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to save epoch %d for strategy %d: %w", record.Index, id, err)
	}

	log.Debug().
		Uint64("strategyId", uint64(id)).
		Uint64("epoch", record.Index).
		Msg("Epoch record persisted")
	return nil
}

// EpochSummary is the epoch row shape returned to the web layer.
type EpochSummary struct {
	StrategyID      uint64 `json:"strategy_id"`
	EpochIndex      uint64 `json:"epoch_index"`
	SettledAt       string `json:"settled_at"`
	SharesMinted    string `json:"shares_minted"`
	SharesRedeemed  string `json:"shares_redeemed"`
	YieldPct        string `json:"yield_pct"`
	UsdValueAtClose string `json:"usd_value_at_close"`
}

// GetStrategyEpochs returns a strategy's newest settled epochs.
func GetStrategyEpochs(id types.StrategyID, limit int) ([]EpochSummary, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT strategy_id, epoch_index, settled_at,
		       shares_minted, shares_redeemed,
		       COALESCE(yield_pct::text, '0'), COALESCE(usd_value_at_close::text, '0')
		FROM strategy_epochs
		WHERE strategy_id = $1
		ORDER BY epoch_index DESC
		LIMIT $2;`

	rows, err := DB.Query(query, uint64(id), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query epochs for strategy %d: %w", id, err)
	}
	defer rows.Close()

	epochs := make([]EpochSummary, 0, limit)
	for rows.Next() {
		var e EpochSummary
		if err := rows.Scan(
			&e.StrategyID, &e.EpochIndex, &e.SettledAt,
			&e.SharesMinted, &e.SharesRedeemed,
			&e.YieldPct, &e.UsdValueAtClose,
		); err != nil {
			return nil, fmt.Errorf("failed to scan epoch row: %w", err)
		}
		epochs = append(epochs, e)
	}
	return epochs, rows.Err()
}

// StrategySummary is the strategy row shape returned to the web layer.
type StrategySummary struct {
	StrategyID   uint64 `json:"strategy_id"`
	Name         string `json:"name"`
	AssetGroupID uint64 `json:"asset_group_id"`
	Revoked      bool   `json:"revoked"`
	RegisteredAt string `json:"registered_at"`
	EpochCount   int    `json:"epoch_count"`
}

// GetStrategies returns all recorded strategies with their epoch counts.
func GetStrategies() ([]StrategySummary, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT s.strategy_id, s.name, s.asset_group_id, s.revoked, s.registered_at,
		       COUNT(e.epoch_row_id)
		FROM strategies s
		LEFT JOIN strategy_epochs e ON e.strategy_id = s.strategy_id
		GROUP BY s.strategy_id, s.name, s.asset_group_id, s.revoked, s.registered_at
		ORDER BY s.strategy_id;`

	rows, err := DB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query strategies: %w", err)
	}
	defer rows.Close()

	strategies := make([]StrategySummary, 0)
	for rows.Next() {
		var s StrategySummary
		if err := rows.Scan(&s.StrategyID, &s.Name, &s.AssetGroupID, &s.Revoked, &s.RegisteredAt, &s.EpochCount); err != nil {
			return nil, fmt.Errorf("failed to scan strategy row: %w", err)
		}
		strategies = append(strategies, s)
	}
	return strategies, rows.Err()
}
