/*

Engine parameter persistence. One named configuration row per parameter
set; exactly one row per config name, flagged active when the keeper loads
it. Defaults are seeded on first run so a fresh database starts with sane
accounting guards.

*/

package state

import (
	"database/sql"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"

	"github.com/solvent-labs/svm/internal/config"
	"github.com/solvent-labs/svm/internal/types"
)

// DefaultConfigName is the parameter set loaded when none is specified.
const DefaultConfigName = "default_engine"

// SaveEngineParameters upserts a named parameter set.
func SaveEngineParameters(configName string, params types.EngineParameters) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	if configName == "" {
		return fmt.Errorf("config name cannot be empty")
	}

	query := `
		INSERT INTO engine_parameters (
			config_name, is_active,
			deposit_tolerance_bps, max_strategies_per_vault, min_flush_usd_value
		) VALUES ($1, TRUE, $2, $3, $4)
		ON CONFLICT (config_name) DO UPDATE
		SET deposit_tolerance_bps = EXCLUDED.deposit_tolerance_bps,
		    max_strategies_per_vault = EXCLUDED.max_strategies_per_vault,
		    min_flush_usd_value = EXCLUDED.min_flush_usd_value,
		    is_active = TRUE;`

	_, err := DB.Exec(
		query,
		configName,
		params.DepositToleranceBps,
		params.MaxStrategiesPerVault,
		params.MinFlushUsdValue.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to save engine parameters %q: %w", configName, err)
	}

	log.Info().Str("configName", configName).Msg("Engine parameters saved")
	return nil
}

// LoadEngineParameters reads a named parameter set. When the row does not
// exist yet, the defaults are saved and returned.
func LoadEngineParameters(configName string) (types.EngineParameters, error) {
	if DB == nil {
		return types.EngineParameters{}, fmt.Errorf("database not initialized")
	}
	if configName == "" {
		configName = DefaultConfigName
	}

	query := `
		SELECT deposit_tolerance_bps, max_strategies_per_vault, min_flush_usd_value::text
		FROM engine_parameters
		WHERE config_name = $1;`

	var params types.EngineParameters
	var minFlush string
	err := DB.QueryRow(query, configName).Scan(
		&params.DepositToleranceBps,
		&params.MaxStrategiesPerVault,
		&minFlush,
	)
	if err == sql.ErrNoRows {
		defaults := config.DefaultEngineParameters
		if saveErr := SaveEngineParameters(configName, defaults); saveErr != nil {
			return types.EngineParameters{}, saveErr
		}
		log.Info().Str("configName", configName).Msg("Seeded default engine parameters")
		return defaults, nil
	}
	if err != nil {
		return types.EngineParameters{}, fmt.Errorf("failed to load engine parameters %q: %w", configName, err)
	}

	params.MinFlushUsdValue, err = sdkmath.LegacyNewDecFromStr(minFlush)
	if err != nil {
		return types.EngineParameters{}, fmt.Errorf("invalid min_flush_usd_value %q: %w", minFlush, err)
	}
	return params, nil
}
