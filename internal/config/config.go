// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration. Loaded once per process
// lifetime; immutable during a cycle.
type Config struct {
	DataDir          string // Base directory for all databases
	ExecutionBaseURL string // External broker-execution service
	LogLevel         string
	Port             int
	DevMode          bool

	Engine EngineConfig
}

// EngineConfig carries the decision-engine constants that are not
// profile-specific: universe rules, factor windows and calibration bounds.
type EngineConfig struct {
	// Universe eligibility
	LookbackDays    int     // minimum trailing history required
	LiquidityWindow int     // days for average dollar volume
	LiquidityFloor  float64 // min average daily dollar volume
	StaleAfterDays  int     // no bar within N trading days = stale
	MinPrice        float64 // penny-stock filter
	MinUniverseSize int     // below this the cycle is skipped

	// Factor windows (trading days)
	Momentum12M  int
	Momentum6M   int
	Momentum3M   int
	VolLookback  int
	TrendSMADays int
	ATRPeriod    int

	// Regime dial
	RegimeTicker  string
	BreadthSample int
	BreadthLow    float64
	BreadthHigh   float64

	// Plan hygiene
	MinOrderWeight float64 // deltas below this fraction are dropped from plans

	// Calibration
	CalibrationForwardDays int     // realized-return horizon per observation
	CalibrationMinObs      int     // skip below this
	CalibrationMaxShift    float64 // max per-factor weight change per run
	CalibrationFloor       float64 // per-factor weight floor
	CalibrationCeiling     float64 // per-factor weight ceiling

	// External call deadlines
	BarReadTimeout   time.Duration
	ExecutionTimeout time.Duration
}

// DefaultEngineConfig returns the documented engine defaults. The source
// material leaves the exact factor windows and thresholds open; these are
// the chosen defaults, overridable via environment.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		LookbackDays:    260,
		LiquidityWindow: 20,
		LiquidityFloor:  5_000_000,
		StaleAfterDays:  5,
		MinPrice:        5.0,
		MinUniverseSize: 20,

		Momentum12M:  252,
		Momentum6M:   126,
		Momentum3M:   63,
		VolLookback:  63,
		TrendSMADays: 200,
		ATRPeriod:    14,

		RegimeTicker:  "SPY",
		BreadthSample: 150,
		BreadthLow:    0.35,
		BreadthHigh:   0.65,

		MinOrderWeight: 0.0015,

		CalibrationForwardDays: 21,
		CalibrationMinObs:      6,
		CalibrationMaxShift:    0.05,
		CalibrationFloor:       0.02,
		CalibrationCeiling:     0.50,

		BarReadTimeout:   30 * time.Second,
		ExecutionTimeout: 60 * time.Second,
	}
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("LAWVISORY_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	engine := DefaultEngineConfig()
	engine.LiquidityFloor = getEnvAsFloat("LIQUIDITY_FLOOR", engine.LiquidityFloor)
	engine.MinPrice = getEnvAsFloat("MIN_PRICE", engine.MinPrice)
	engine.MinUniverseSize = getEnvAsInt("MIN_UNIVERSE_SIZE", engine.MinUniverseSize)
	engine.RegimeTicker = getEnv("REGIME_TICKER", engine.RegimeTicker)
	engine.BarReadTimeout = getEnvAsDuration("BAR_READ_TIMEOUT", engine.BarReadTimeout)
	engine.ExecutionTimeout = getEnvAsDuration("EXECUTION_TIMEOUT", engine.ExecutionTimeout)

	cfg := &Config{
		DataDir:          absDataDir,
		Port:             getEnvAsInt("PORT", 8001),
		DevMode:          getEnvAsBool("DEV_MODE", false),
		ExecutionBaseURL: getEnv("EXECUTION_BASE_URL", "http://localhost:9100"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		Engine:           engine,
	}

	return cfg, nil
}

// DatabasePath returns the full path for a named database file.
func (c *Config) DatabasePath(name string) string {
	return filepath.Join(c.DataDir, name+".db")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
