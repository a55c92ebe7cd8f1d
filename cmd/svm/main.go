package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	sdkmath "cosmossdk.io/math"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/solvent-labs/svm/internal/access"
	"github.com/solvent-labs/svm/internal/adapters"
	"github.com/solvent-labs/svm/internal/config"
	"github.com/solvent-labs/svm/internal/custody"
	"github.com/solvent-labs/svm/internal/engine"
	"github.com/solvent-labs/svm/internal/ledger"
	"github.com/solvent-labs/svm/internal/logger"
	"github.com/solvent-labs/svm/internal/oracle"
	"github.com/solvent-labs/svm/internal/state"
	"github.com/solvent-labs/svm/internal/types"
	"github.com/solvent-labs/svm/internal/vault"
	"github.com/solvent-labs/svm/internal/web"
)

// main is the entry point for the SVM keeper.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FILE"))
	log.Info().Msg("SVM Keeper Starting...")

	// Initialize Database Connection
	dbCfg := state.DBConfig{
		Host: config.DBHost, Port: config.DBPort,
		User: config.DBUser, Password: config.DBPassword,
		DBName: config.DBName, SSLMode: config.DBSSLMode,
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// Load Engine Parameters
	params, err := state.LoadEngineParameters(config.ParametersConfigName)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load engine parameters")
	}
	log.Info().
		Int64("depositToleranceBps", params.DepositToleranceBps).
		Str("minFlushUsdValue", params.MinFlushUsdValue.String()).
		Msg("Engine parameters loaded successfully.")

	// --- Start Web Server ---
	webServer := web.NewWebServer(strconv.Itoa(config.WebPort))
	go func() {
		log.Info().Int("port", config.WebPort).Msg("Starting SVM status server")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 2. World Construction (with Safety Switch) ---
	// Live protocol adapters are not wired yet; the keeper only runs
	// against simulated positions.
	if !config.SimulationMode {
		log.Fatal().Msg("SVM_SIMULATION_MODE is not enabled. Halting: no live protocol adapters are configured.")
	}
	log.Warn().Msg("Initializing SVM in SIMULATION mode. Positions and prices are in-memory.")

	eng, err := buildSimulation(params)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to construct the simulated world")
	}

	// --- 3. Start Keeper Main Loop ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("interval", config.CycleInterval.String()).Msg("Starting SVM main loop")
	eng.RunLoop(ctx, config.CycleInterval)
	log.Info().Msg("SVM Keeper stopped.")
}

// buildSimulation wires the role oracle, price oracle, custody book, ledger,
// simulated strategies and one demo vault into a runnable engine.
func buildSimulation(params types.EngineParameters) (*engine.Engine, error) {
	roles := access.NewStaticRoleOracle()
	roles.Grant(access.RoleDoHardWorker, config.WorkerAccount)
	roles.Grant(access.RoleStrategyRegistrar, config.WorkerAccount)
	roles.Grant(access.RoleReallocator, config.WorkerAccount)
	roles.Grant(access.RoleEmergencyWithdrawer, config.WorkerAccount)

	weth := types.Asset{Denom: "weth", Symbol: "WETH", Precision: 18}
	usdc := types.Asset{Denom: "usdc", Symbol: "USDC", Precision: 6}
	group := types.AssetGroup{ID: 1, Assets: []types.Asset{weth, usdc}}

	prices, err := oracle.NewStaticPriceOracle(map[string]sdkmath.LegacyDec{
		"weth": sdkmath.LegacyNewDec(2000),
		"usdc": sdkmath.LegacyNewDec(1),
	})
	if err != nil {
		return nil, err
	}

	book := custody.NewBook()

	led, err := ledger.New(ledger.Config{
		Roles:           roles,
		Prices:          prices,
		Custody:         book,
		EmergencyWallet: config.EmergencyWallet,
	})
	if err != nil {
		return nil, err
	}

	// Three positions over the same pair: a balanced pool, a lending-style
	// single-asset position and a non-atomic farm.
	specs := []struct {
		name     string
		ratio    []sdkmath.Int
		yieldPct sdkmath.LegacyDec
		atomic   bool
	}{
		{"sim-balanced-pool", []sdkmath.Int{sdkmath.NewInt(1_000_000_000_000_000_000), sdkmath.NewInt(2_000_000_000)}, sdkmath.LegacyNewDecWithPrec(2, 3), true},
		{"sim-usdc-lender", []sdkmath.Int{sdkmath.ZeroInt(), sdkmath.NewInt(1_000_000)}, sdkmath.LegacyNewDecWithPrec(1, 3), true},
		{"sim-weth-farm", []sdkmath.Int{sdkmath.NewInt(1_000_000_000_000_000_000), sdkmath.ZeroInt()}, sdkmath.LegacyNewDecWithPrec(4, 3), false},
	}

	strategies := make([]types.StrategyID, 0, len(specs))
	simulated := make([]*adapters.SimulatedAdapter, 0, len(specs))
	for _, spec := range specs {
		adapter, err := adapters.NewSimulatedAdapter(group, spec.ratio, prices, spec.yieldPct, spec.atomic)
		if err != nil {
			return nil, err
		}
		id, err := led.RegisterStrategy(config.WorkerAccount, spec.name, group, adapter)
		if err != nil {
			return nil, err
		}
		if err := state.UpsertStrategy(id, spec.name, group.ID, false); err != nil {
			log.Error().Err(err).Str("name", spec.name).Msg("Failed to persist strategy registration")
		}
		strategies = append(strategies, id)
		simulated = append(simulated, adapter)
	}

	demoVault, err := vault.New(vault.Config{
		ID:          1,
		Name:        "weth-usdc-aggregator",
		Group:       group,
		Strategies:  strategies,
		Allocations: []types.Allocation{50, 30, 20},
		Ledger:      led,
		Prices:      prices,
		Custody:     book,
		Parameters:  params,
	})
	if err != nil {
		return nil, err
	}

	return engine.NewEngine(engine.Config{
		Ledger:    led,
		Vaults:    []*vault.SmartVault{demoVault},
		Worker:    config.WorkerAccount,
		Simulated: simulated,
	})
}
