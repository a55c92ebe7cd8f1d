// ./internal/state/snapshot_store.go
package state

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/solvent-labs/svm/internal/types"
)

// SaveCycleSnapshot saves a complete cycle snapshot to the database.
func SaveCycleSnapshot(snapshot types.CycleSnapshot) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	strategyResultsJSON, err := json.Marshal(snapshot.StrategyResults)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal strategy_results: %w", err)
	}

	query := `
		INSERT INTO cycle_snapshots (
			cycle_number, snapshot_timestamp,
			vaults_flushed, strategies_settled,
			initial_total_usd, final_total_usd, strategy_results,
			allocation_efficiency_percent, completed, failure_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING snapshot_id;
	`

	var snapshotID int64
	err = DB.QueryRow(
		query,
		snapshot.CycleNumber, snapshot.Timestamp,
		snapshot.VaultsFlushed, snapshot.StrategiesSettled,
		snapshot.InitialTotalUsd.String(), snapshot.FinalTotalUsd.String(), strategyResultsJSON,
		snapshot.AllocationEfficiencyPercent, snapshot.Completed, snapshot.FailureReason,
	).Scan(&snapshotID)

	if err != nil {
		return 0, fmt.Errorf("failed to save cycle snapshot: %w", err)
	}

	log.Info().
		Int64("snapshot_id", snapshotID).
		Int("cycle_number", snapshot.CycleNumber).
		Str("final_total_usd", snapshot.FinalTotalUsd.String()).
		Msg("Cycle snapshot saved to database")

	return snapshotID, nil
}

// SnapshotSummary is the lightweight row returned to the web layer.
type SnapshotSummary struct {
	SnapshotID                  int64   `json:"snapshot_id"`
	CycleNumber                 int     `json:"cycle_number"`
	Timestamp                   string  `json:"timestamp"`
	VaultsFlushed               int     `json:"vaults_flushed"`
	StrategiesSettled           int     `json:"strategies_settled"`
	InitialTotalUsd             string  `json:"initial_total_usd"`
	FinalTotalUsd               string  `json:"final_total_usd"`
	AllocationEfficiencyPercent float64 `json:"allocation_efficiency_percent"`
	Completed                   bool    `json:"completed"`
	FailureReason               string  `json:"failure_reason,omitempty"`
}

// GetRecentCycleSnapshots returns the newest snapshots, newest first.
func GetRecentCycleSnapshots(limit int) ([]SnapshotSummary, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT snapshot_id, cycle_number, snapshot_timestamp,
		       vaults_flushed, strategies_settled,
		       initial_total_usd, final_total_usd,
		       COALESCE(allocation_efficiency_percent, 0),
		       completed, COALESCE(failure_reason, '')
		FROM cycle_snapshots
		ORDER BY snapshot_timestamp DESC
		LIMIT $1;`

	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycle snapshots: %w", err)
	}
	defer rows.Close()

	summaries := make([]SnapshotSummary, 0, limit)
	for rows.Next() {
		var s SnapshotSummary
		if err := rows.Scan(
			&s.SnapshotID, &s.CycleNumber, &s.Timestamp,
			&s.VaultsFlushed, &s.StrategiesSettled,
			&s.InitialTotalUsd, &s.FinalTotalUsd,
			&s.AllocationEfficiencyPercent,
			&s.Completed, &s.FailureReason,
		); err != nil {
			return nil, fmt.Errorf("failed to scan cycle snapshot: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}
