// ./internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS strategies (
			strategy_id BIGINT PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			asset_group_id BIGINT NOT NULL,
			revoked BOOLEAN NOT NULL DEFAULT FALSE,
			registered_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS strategy_epochs (
			epoch_row_id SERIAL PRIMARY KEY,
			strategy_id BIGINT NOT NULL REFERENCES strategies(strategy_id),
			epoch_index BIGINT NOT NULL,
			settled_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,

			-- Amounts are stored as text: base-unit integers exceed BIGINT
			-- for 18-decimal tokens.
			assets_deposited JSONB,
			assets_withdrawn JSONB,
			shares_minted TEXT NOT NULL,
			shares_redeemed TEXT NOT NULL,
			yield_pct DECIMAL(20, 10),
			usd_value_at_close DECIMAL(30, 10),

			CONSTRAINT uq_strategy_epoch UNIQUE (strategy_id, epoch_index)
		);
		CREATE INDEX IF NOT EXISTS idx_strategy_epochs_strategy ON strategy_epochs(strategy_id, epoch_index DESC);

		CREATE TABLE IF NOT EXISTS cycle_snapshots (
			snapshot_id SERIAL PRIMARY KEY,
			cycle_number INTEGER NOT NULL,
			snapshot_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,

			vaults_flushed INTEGER NOT NULL DEFAULT 0,
			strategies_settled INTEGER NOT NULL DEFAULT 0,
			initial_total_usd DECIMAL(30, 10) NOT NULL,
			final_total_usd DECIMAL(30, 10) NOT NULL,
			strategy_results JSONB,

			allocation_efficiency_percent DECIMAL(10, 4),
			completed BOOLEAN NOT NULL DEFAULT TRUE,
			failure_reason TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_cycle_snapshots_timestamp ON cycle_snapshots(snapshot_timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_cycle_snapshots_cycle ON cycle_snapshots(cycle_number DESC);

		CREATE TABLE IF NOT EXISTS engine_parameters (
			params_id SERIAL PRIMARY KEY,
			config_name VARCHAR(255) NOT NULL DEFAULT 'default',
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			deposit_tolerance_bps BIGINT NOT NULL,
			max_strategies_per_vault INTEGER NOT NULL,
			min_flush_usd_value DECIMAL(30, 10) NOT NULL,
			CONSTRAINT uq_engine_parameters_config UNIQUE (config_name)
		);
		CREATE INDEX IF NOT EXISTS idx_engine_parameters_active ON engine_parameters(config_name, is_active);

		-- Cycle counter table for persistent global cycle tracking
		CREATE TABLE IF NOT EXISTS cycle_counter (
			id INTEGER PRIMARY KEY DEFAULT 1,
			current_cycle INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT single_row_check CHECK (id = 1)
		);

		-- Insert initial row if it doesn't exist
		INSERT INTO cycle_counter (id, current_cycle)
		VALUES (1, 0)
		ON CONFLICT (id) DO NOTHING;
	`
	_, err := DB.Exec(schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	log.Info().Msg("Database schema ensured.")
	return nil
}

// TestDBConnection tests if the database connection is healthy
func TestDBConnection() error {
	if DB == nil {
		return fmt.Errorf("database connection is nil")
	}

	// Use a short timeout context for health checks
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := DB.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}
