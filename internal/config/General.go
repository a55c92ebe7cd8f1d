package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// CycleInterval is how often the keeper runs a flush/settle/sync cycle.
	CycleInterval time.Duration

	// WorkerAccount is the account holding the do-hard-worker role.
	WorkerAccount string
	// EmergencyWallet receives funds from emergency withdrawals.
	EmergencyWallet string

	// ParametersConfigName selects the engine parameter set to load.
	ParametersConfigName string

	// WebPort is the port for the status dashboard server.
	WebPort int

	// SimulationMode runs the engine against simulated strategy adapters
	// instead of live protocol integrations.
	SimulationMode bool

	// Database connection settings.
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// All environment variables are required and must be set.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	intervalSeconds, err := getEnvAsUint64("SVM_CYCLE_INTERVAL_SECONDS")
	if err != nil {
		return err
	}
	CycleInterval = time.Duration(intervalSeconds) * time.Second

	WorkerAccount, err = getEnv("SVM_WORKER_ACCOUNT")
	if err != nil {
		return err
	}

	EmergencyWallet, err = getEnv("SVM_EMERGENCY_WALLET")
	if err != nil {
		return err
	}

	ParametersConfigName, err = getEnv("SVM_PARAMETERS_CONFIG")
	if err != nil {
		return err
	}

	WebPort, err = getEnvAsInt("SVM_WEB_PORT")
	if err != nil {
		return err
	}

	SimulationMode, err = getEnvAsBool("SVM_SIMULATION_MODE")
	if err != nil {
		return err
	}

	if err := loadDatabaseConfig(); err != nil {
		return err
	}

	log.Debug().
		Dur("CycleInterval", CycleInterval).
		Str("WorkerAccount", WorkerAccount).
		Bool("SimulationMode", SimulationMode).
		Msg("Configuration loaded successfully.")

	return nil
}

// loadDatabaseConfig loads the postgres connection settings.
func loadDatabaseConfig() error {
	var err error

	DBHost, err = getEnv("DB_HOST")
	if err != nil {
		return err
	}
	DBPort, err = getEnvAsInt("DB_PORT")
	if err != nil {
		return err
	}
	DBUser, err = getEnv("DB_USER")
	if err != nil {
		return err
	}
	DBPassword, err = getEnv("DB_PASSWORD")
	if err != nil {
		return err
	}
	DBName, err = getEnv("DB_NAME")
	if err != nil {
		return err
	}
	DBSSLMode, err = getEnv("DB_SSLMODE")
	if err != nil {
		return err
	}
	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsInt retrieves an environment variable as an int. Returns error if not set or invalid.
func getEnvAsInt(key string) (int, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid int, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsBool retrieves an environment variable as a bool. Returns error if not set or invalid.
func getEnvAsBool(key string) (bool, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return false, err
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return false, errors.New("environment variable " + key + " must be a valid bool, got: " + valueStr)
	}
	return value, nil
}
