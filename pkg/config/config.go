package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration for the Sentinel agent.
// Values come from defaults, then an optional YAML file, then environment
// variables (highest precedence). A .env file in the working directory is
// loaded into the environment first when present.
type Config struct {
	// Chain
	ChainRPCURL string `yaml:"chain_rpc_url"`
	SignerKey   string `yaml:"signer_key"`

	// Contract addresses
	ContractWETH   string `yaml:"contract_weth"`
	ContractUSDC   string `yaml:"contract_usdc"`
	ContractOracle string `yaml:"contract_oracle"`
	ContractAMM    string `yaml:"contract_amm"`
	ContractVault  string `yaml:"contract_vault"`

	// LLM
	LLMAPIKey         string `yaml:"llm_api_key"`
	LLMModel          string `yaml:"llm_model"`
	LLMCallTimeoutSec int    `yaml:"llm_call_timeout_sec"`

	// Agent behavior
	PollIntervalSec                  int     `yaml:"poll_interval_sec"`
	PriceDeviationThresholdPct       float64 `yaml:"price_deviation_threshold_pct"`
	ExtremeMoveThresholdPct          float64 `yaml:"extreme_move_threshold_pct"`
	LargeSwapWETH                    int     `yaml:"large_swap_weth"`
	PauseConfidenceThreshold         float64 `yaml:"pause_confidence_threshold"`
	BlockLiquidationConfidenceThresh float64 `yaml:"block_liquidation_confidence_threshold"`
	RestoreDelaySec                  int     `yaml:"restore_delay_sec"`
	RepauseAfterRestore              bool    `yaml:"repause_after_restore"`

	// Storage
	EventStoreCapacity     int    `yaml:"event_store_capacity"`
	AnalyzedEventsCapacity int    `yaml:"analyzed_events_capacity"`
	DataDir                string `yaml:"data_dir"`

	// API
	ListenAddr string `yaml:"listen_addr"`

	// Logging
	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

func defaults() Config {
	return Config{
		LLMModel:                         "gemini-1.5-pro",
		LLMCallTimeoutSec:                10,
		PollIntervalSec:                  2,
		PriceDeviationThresholdPct:       5.0,
		ExtremeMoveThresholdPct:          10.0,
		LargeSwapWETH:                    10,
		PauseConfidenceThreshold:         0.75,
		BlockLiquidationConfidenceThresh: 0.50,
		RestoreDelaySec:                  5,
		EventStoreCapacity:               10000,
		AnalyzedEventsCapacity:           1000,
		ListenAddr:                       ":8080",
		LogLevel:                         "info",
	}
}

// Load builds a Config from defaults, the optional YAML file at path, and
// the environment. It returns an error describing every missing required
// option; callers treat that as fatal (exit code 1).
func Load(path string) (*Config, error) {
	// Best effort: a missing .env is not an error.
	_ = godotenv.Load()

	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	fl := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(key); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	bl := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	str("CHAIN_RPC_URL", &c.ChainRPCURL)
	str("SIGNER_KEY", &c.SignerKey)
	str("CONTRACT_WETH", &c.ContractWETH)
	str("CONTRACT_USDC", &c.ContractUSDC)
	str("CONTRACT_ORACLE", &c.ContractOracle)
	str("CONTRACT_AMM", &c.ContractAMM)
	str("CONTRACT_VAULT", &c.ContractVault)
	str("LLM_API_KEY", &c.LLMAPIKey)
	str("LLM_MODEL", &c.LLMModel)
	num("LLM_CALL_TIMEOUT_SEC", &c.LLMCallTimeoutSec)
	num("POLL_INTERVAL_SEC", &c.PollIntervalSec)
	fl("PRICE_DEVIATION_THRESHOLD_PCT", &c.PriceDeviationThresholdPct)
	fl("EXTREME_MOVE_THRESHOLD_PCT", &c.ExtremeMoveThresholdPct)
	num("LARGE_SWAP_WETH", &c.LargeSwapWETH)
	fl("PAUSE_CONFIDENCE_THRESHOLD", &c.PauseConfidenceThreshold)
	fl("BLOCK_LIQUIDATION_CONFIDENCE_THRESHOLD", &c.BlockLiquidationConfidenceThresh)
	num("RESTORE_DELAY_SEC", &c.RestoreDelaySec)
	bl("REPAUSE_AFTER_RESTORE", &c.RepauseAfterRestore)
	num("EVENT_STORE_CAPACITY", &c.EventStoreCapacity)
	num("ANALYZED_EVENTS_CAPACITY", &c.AnalyzedEventsCapacity)
	str("DATA_DIR", &c.DataDir)
	str("LISTEN_ADDR", &c.ListenAddr)
	str("LOG_LEVEL", &c.LogLevel)
	bl("LOG_JSON", &c.LogJSON)
}

// Validate checks required options and ranges.
func (c *Config) Validate() error {
	var missing []string
	required := []struct {
		name  string
		value string
	}{
		{"chain_rpc_url", c.ChainRPCURL},
		{"signer_key", c.SignerKey},
		{"contract_weth", c.ContractWETH},
		{"contract_usdc", c.ContractUSDC},
		{"contract_oracle", c.ContractOracle},
		{"contract_amm", c.ContractAMM},
		{"contract_vault", c.ContractVault},
		{"llm_api_key", c.LLMAPIKey},
	}
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.PollIntervalSec < 1 || c.PollIntervalSec > 30 {
		return fmt.Errorf("poll_interval_sec must be in [1,30], got %d", c.PollIntervalSec)
	}
	if c.PauseConfidenceThreshold < 0 || c.PauseConfidenceThreshold > 1 {
		return fmt.Errorf("pause_confidence_threshold must be in [0,1], got %g", c.PauseConfidenceThreshold)
	}
	if c.BlockLiquidationConfidenceThresh < 0 || c.BlockLiquidationConfidenceThresh > 1 {
		return fmt.Errorf("block_liquidation_confidence_threshold must be in [0,1], got %g", c.BlockLiquidationConfidenceThresh)
	}
	if c.EventStoreCapacity < 1 {
		return fmt.Errorf("event_store_capacity must be positive, got %d", c.EventStoreCapacity)
	}
	if c.AnalyzedEventsCapacity < 1 {
		return fmt.Errorf("analyzed_events_capacity must be positive, got %d", c.AnalyzedEventsCapacity)
	}
	return nil
}

// PollInterval returns the observer tick as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

// RestoreDelay returns the delay before automatic price restoration.
func (c *Config) RestoreDelay() time.Duration {
	return time.Duration(c.RestoreDelaySec) * time.Second
}

// LLMTimeout returns the hard deadline for one LLM call.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMCallTimeoutSec) * time.Second
}

// DeviationThresholdBps converts the deviation threshold to basis points.
func (c *Config) DeviationThresholdBps() int64 {
	return int64(c.PriceDeviationThresholdPct * 100)
}

// ExtremeMoveThresholdBps converts the extreme-move threshold to basis points.
func (c *Config) ExtremeMoveThresholdBps() int64 {
	return int64(c.ExtremeMoveThresholdPct * 100)
}
