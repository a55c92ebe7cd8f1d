package engine

import (
	"context"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/solvent-labs/svm/internal/adapters"
	"github.com/solvent-labs/svm/internal/ledger"
	"github.com/solvent-labs/svm/internal/logger"
	"github.com/solvent-labs/svm/internal/state"
	"github.com/solvent-labs/svm/internal/types"
	"github.com/solvent-labs/svm/internal/vault"
)

// Engine is the Do-Hard-Work keeper: each cycle it flushes every managed
// vault, settles the union of their strategies, syncs the results back and
// persists a cycle snapshot.
type Engine struct {
	logger zerolog.Logger
	ledger *ledger.Ledger
	vaults []*vault.SmartVault

	// worker is the account holding the do-hard-worker role.
	worker string

	// Simulation mode: adapters to accrue yield on between cycles.
	simulated []*adapters.SimulatedAdapter

	cycleCount int
}

// Config holds the configuration for creating a new Engine instance
type Config struct {
	Ledger    *ledger.Ledger
	Vaults    []*vault.SmartVault
	Worker    string
	Simulated []*adapters.SimulatedAdapter
}

// NewEngine creates a keeper with dependency injection.
func NewEngine(cfg Config) (*Engine, error) {
	if err := validateEngineConfig(cfg); err != nil {
		return nil, fmt.Errorf("engine configuration validation failed: %w", err)
	}

	e := &Engine{
		logger:    logger.GetForComponent("engine_core"),
		ledger:    cfg.Ledger,
		vaults:    cfg.Vaults,
		worker:    cfg.Worker,
		simulated: cfg.Simulated,
	}

	e.logger.Info().
		Int("vaults", len(e.vaults)).
		Str("worker", e.worker).
		Msg("Engine instance created successfully with dependency injection")
	return e, nil
}

// validateEngineConfig validates the keeper configuration
func validateEngineConfig(cfg Config) error {
	if cfg.Ledger == nil {
		return fmt.Errorf("strategy ledger cannot be nil")
	}
	if len(cfg.Vaults) == 0 {
		return fmt.Errorf("at least one vault is required")
	}
	if cfg.Worker == "" {
		return fmt.Errorf("worker account cannot be empty")
	}
	return nil
}

// RunLoop starts the main keeper loop with the specified interval
func (e *Engine) RunLoop(ctx context.Context, interval time.Duration) {
	e.logger.Info().
		Dur("interval", interval).
		Msg("Starting keeper main loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run first cycle immediately
	e.cycleCount++
	e.logger.Info().Int("cycle", e.cycleCount).Msg("Initiating keeper cycle")
	e.RunCycle(ctx)
	e.logger.Info().Int("cycle", e.cycleCount).Msg("Keeper cycle completed")

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("Keeper loop stopped due to context cancellation")
			return
		case <-ticker.C:
			e.cycleCount++
			e.logger.Info().Int("cycle", e.cycleCount).Msg("Initiating keeper cycle")
			e.RunCycle(ctx)
			e.logger.Info().Int("cycle", e.cycleCount).Msg("Keeper cycle completed")
		}
	}
}

// RunCycle executes one complete flush -> settle -> sync cycle.
func (e *Engine) RunCycle(ctx context.Context) {
	cycleStartTime := time.Now()

	// Unique cycle ID for tracing logs across the entire cycle
	cycleID := uuid.New().String()
	cycleLogger := e.logger.With().Str("cycle_id", cycleID).Logger()

	cycleLogger.Info().Msg("--- Starting Keeper Cycle ---")

	snapshot := types.CycleSnapshot{
		CycleNumber:     e.getCycleNumber(),
		Timestamp:       cycleStartTime,
		InitialTotalUsd: sdkmath.LegacyZeroDec(),
		FinalTotalUsd:   sdkmath.LegacyZeroDec(),
		StrategyResults: make([]types.StrategyCycleResult, 0),
	}

	// In simulation mode the positions earn their configured yield
	// between cycles.
	for _, a := range e.simulated {
		a.AccrueYield()
	}

	// --- Step 1: Initial valuation ---
	initialUsd, err := e.totalUsd()
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Cycle aborted: failed to value vaults.")
		e.saveFailedSnapshot(snapshot, err)
		return
	}
	snapshot.InitialTotalUsd = initialUsd
	cycleLogger.Info().Str("initialUsd", initialUsd.String()).Msg("Step 1: Vaults valued.")

	// --- Step 2: Flush ---
	cycleLogger.Info().Msg("Step 2: Flushing vaults...")
	flushed := 0
	for _, v := range e.vaults {
		did, err := v.Flush()
		if err != nil {
			cycleLogger.Error().Err(err).Uint64("vaultId", uint64(v.ID())).Msg("Vault flush failed, continuing with remaining vaults.")
			continue
		}
		if did {
			flushed++
		}
	}
	snapshot.VaultsFlushed = flushed
	cycleLogger.Info().Int("flushed", flushed).Msg("Step 2: Flush complete.")

	// --- Step 3: Do Hard Work across the strategy union ---
	strategies := e.strategyUnion()
	cycleLogger.Info().Int("strategies", len(strategies)).Msg("Step 3: Settling strategies...")
	if err := e.ledger.DoHardWork(e.worker, strategies); err != nil {
		cycleLogger.Error().Err(err).Msg("Cycle aborted: settlement failed.")
		e.saveFailedSnapshot(snapshot, err)
		return
	}
	snapshot.StrategiesSettled = len(strategies)
	snapshot.StrategyResults = e.collectStrategyResults(strategies, cycleLogger)
	cycleLogger.Info().Msg("Step 3: Settlement complete.")

	// --- Step 4: Sync ---
	cycleLogger.Info().Msg("Step 4: Syncing vaults...")
	for _, v := range e.vaults {
		synced, err := v.Sync()
		if err != nil {
			cycleLogger.Error().Err(err).Uint64("vaultId", uint64(v.ID())).Msg("Vault sync failed, continuing with remaining vaults.")
			continue
		}
		cycleLogger.Debug().Uint64("vaultId", uint64(v.ID())).Int("flushesSynced", synced).Msg("Vault synced")
	}
	cycleLogger.Info().Msg("Step 4: Sync complete.")

	// --- Step 5: Final valuation and metrics ---
	finalUsd, err := e.totalUsd()
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Failed to value vaults after sync, using initial value.")
		finalUsd = initialUsd
	}
	snapshot.FinalTotalUsd = finalUsd
	snapshot.AllocationEfficiencyPercent = e.allocationEfficiency(cycleLogger)
	snapshot.Completed = true

	e.saveCycleSnapshot(snapshot)

	cycleLogger.Info().
		Str("finalUsd", finalUsd.String()).
		Float64("allocationEfficiency", snapshot.AllocationEfficiencyPercent).
		Str("cycleDuration", time.Since(cycleStartTime).String()).
		Msg("--- Keeper Cycle Completed Successfully ---")
}

// strategyUnion returns the deduplicated union of every vault's strategies.
func (e *Engine) strategyUnion() []types.StrategyID {
	seen := make(map[types.StrategyID]bool)
	union := make([]types.StrategyID, 0)
	for _, v := range e.vaults {
		for _, id := range v.Strategies() {
			if id.IsGhost() || seen[id] {
				continue
			}
			seen[id] = true
			union = append(union, id)
		}
	}
	return union
}

// totalUsd sums all managed vaults' position values.
func (e *Engine) totalUsd() (sdkmath.LegacyDec, error) {
	total := sdkmath.LegacyZeroDec()
	for _, v := range e.vaults {
		usd, err := v.TotalUsdValue()
		if err != nil {
			return sdkmath.LegacyDec{}, fmt.Errorf("valuing vault %d: %w", v.ID(), err)
		}
		total = total.Add(usd)
	}
	return total, nil
}

// collectStrategyResults reads each strategy's just-settled epoch into the
// cycle snapshot.
func (e *Engine) collectStrategyResults(strategies []types.StrategyID, cycleLogger zerolog.Logger) []types.StrategyCycleResult {
	results := make([]types.StrategyCycleResult, 0, len(strategies))
	for _, id := range strategies {
		current, err := e.ledger.CurrentEpoch(id)
		if err != nil || current == 0 {
			continue
		}
		record, ok, err := e.ledger.Epoch(id, current-1)
		if err != nil || !ok {
			cycleLogger.Warn().Uint64("strategyId", uint64(id)).Msg("Settled epoch record missing from ledger")
			continue
		}
		if err := state.SaveEpochRecord(id, record); err != nil {
			cycleLogger.Error().Err(err).Uint64("strategyId", uint64(id)).Msg("Failed to persist epoch record")
		}
		results = append(results, types.StrategyCycleResult{
			StrategyID:   id,
			EpochIndex:   record.Index,
			YieldPct:     record.YieldPct,
			UsdValue:     record.UsdValueAtClose,
			SharesMinted: record.SharesMinted,
			SharesBurned: record.SharesRedeemed,
		})
	}
	return results
}

// allocationEfficiency averages the per-vault efficiency metric.
func (e *Engine) allocationEfficiency(cycleLogger zerolog.Logger) float64 {
	if len(e.vaults) == 0 {
		return 100.0
	}
	total := 0.0
	for _, v := range e.vaults {
		eff, err := v.AllocationEfficiency()
		if err != nil {
			cycleLogger.Error().Err(err).Uint64("vaultId", uint64(v.ID())).Msg("Failed to compute allocation efficiency")
			continue
		}
		total += eff
	}
	return total / float64(len(e.vaults))
}

// getCycleNumber increments and returns the persistent cycle counter from database
func (e *Engine) getCycleNumber() int {
	cycleNumber, err := state.IncrementCycleNumber()
	if err != nil {
		e.logger.Error().Err(err).Msg("Failed to increment cycle number, using fallback")
		return int(time.Now().Unix() % 1000000)
	}
	return cycleNumber
}

// saveCycleSnapshot saves the cycle snapshot to database
func (e *Engine) saveCycleSnapshot(snapshot types.CycleSnapshot) {
	snapshotID, err := state.SaveCycleSnapshot(snapshot)
	if err != nil {
		e.logger.Error().Err(err).Msg("Failed to save cycle snapshot to database")
		return
	}
	e.logger.Info().Int64("snapshot_id", snapshotID).Msg("Cycle snapshot saved successfully")
}

// saveFailedSnapshot records an aborted cycle.
func (e *Engine) saveFailedSnapshot(snapshot types.CycleSnapshot, cause error) {
	snapshot.Completed = false
	snapshot.FailureReason = cause.Error()
	if snapshot.FinalTotalUsd.IsNil() {
		snapshot.FinalTotalUsd = snapshot.InitialTotalUsd
	}
	e.saveCycleSnapshot(snapshot)
}
