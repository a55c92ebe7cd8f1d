/*

Aggregated queries backing the web dashboard: protocol-level summary,
per-cycle performance and per-strategy yield history.

*/

package state

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// ProtocolSummary represents high-level protocol statistics
type ProtocolSummary struct {
	TotalValueUsd           string  `json:"total_value_usd"`
	TotalCycles             int     `json:"total_cycles"`
	SuccessfulCycles        int     `json:"successful_cycles"`
	AvgAllocationEfficiency float64 `json:"avg_allocation_efficiency"`
	StrategyCount           int     `json:"strategy_count"`
	LastUpdated             string  `json:"last_updated"`
}

// GetProtocolSummary aggregates the newest snapshot with cycle statistics.
func GetProtocolSummary() (*ProtocolSummary, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	summary := &ProtocolSummary{}

	latestQuery := `
		SELECT final_total_usd::text, snapshot_timestamp::text
		FROM cycle_snapshots
		ORDER BY snapshot_timestamp DESC
		LIMIT 1;`
	err := DB.QueryRow(latestQuery).Scan(&summary.TotalValueUsd, &summary.LastUpdated)
	if err != nil {
		// A fresh database has no snapshots yet; report zeros.
		summary.TotalValueUsd = "0"
		log.Debug().Err(err).Msg("No cycle snapshots found for protocol summary")
	}

	statsQuery := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE completed),
		       COALESCE(AVG(allocation_efficiency_percent), 0)
		FROM cycle_snapshots;`
	if err := DB.QueryRow(statsQuery).Scan(
		&summary.TotalCycles, &summary.SuccessfulCycles, &summary.AvgAllocationEfficiency,
	); err != nil {
		return nil, fmt.Errorf("failed to query cycle statistics: %w", err)
	}

	if err := DB.QueryRow(`SELECT COUNT(*) FROM strategies WHERE NOT revoked;`).Scan(&summary.StrategyCount); err != nil {
		return nil, fmt.Errorf("failed to count strategies: %w", err)
	}

	return summary, nil
}

// YieldPoint is one strategy epoch's yield reading.
type YieldPoint struct {
	EpochIndex uint64 `json:"epoch_index"`
	SettledAt  string `json:"settled_at"`
	YieldPct   string `json:"yield_pct"`
	UsdValue   string `json:"usd_value"`
}

// GetStrategyYieldHistory returns a strategy's per-epoch yield series,
// oldest first, for charting.
func GetStrategyYieldHistory(strategyID uint64, limit int) ([]YieldPoint, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT epoch_index, settled_at::text,
		       COALESCE(yield_pct::text, '0'), COALESCE(usd_value_at_close::text, '0')
		FROM strategy_epochs
		WHERE strategy_id = $1
		ORDER BY epoch_index ASC
		LIMIT $2;`

	rows, err := DB.Query(query, strategyID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query yield history for strategy %d: %w", strategyID, err)
	}
	defer rows.Close()

	points := make([]YieldPoint, 0, limit)
	for rows.Next() {
		var p YieldPoint
		if err := rows.Scan(&p.EpochIndex, &p.SettledAt, &p.YieldPct, &p.UsdValue); err != nil {
			return nil, fmt.Errorf("failed to scan yield point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}
