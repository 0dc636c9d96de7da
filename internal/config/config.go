// Package config loads engine configuration from a YAML file with .env and
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Store        StoreConfig        `yaml:"store"`
	Trading      TradingConfig      `yaml:"trading"`
	Oracle       OracleConfig       `yaml:"oracle"`
	Valuation    ValuationConfig    `yaml:"valuation"`
	Achievements AchievementsConfig `yaml:"achievements"`
	Log          LogConfig          `yaml:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// StoreConfig selects the persistence backend. An empty DatabaseURL falls
// back to the in-memory store; an empty RedisURL disables the cache layer.
type StoreConfig struct {
	DatabaseURL     string `yaml:"database_url"`
	RedisURL        string `yaml:"redis_url"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
}

// TradingConfig controls order execution. FeeRate and StartingCash are
// decimal strings so they survive YAML without float rounding.
type TradingConfig struct {
	FeeRate      string `yaml:"fee_rate"`      // e.g. "0.001" = 0.1%
	StartingCash string `yaml:"starting_cash"` // cash granted on league join
	LockWaitMS   int    `yaml:"lock_wait_ms"`  // per-portfolio lock budget before Busy
}

// OracleConfig controls the price feed client.
type OracleConfig struct {
	BaseURL    string `yaml:"base_url"`
	TimeoutMS  int    `yaml:"timeout_ms"`
	RatePerSec int    `yaml:"rate_per_sec"`
	Burst      int    `yaml:"burst"`
}

// ValuationConfig controls the periodic mark-to-market loop.
type ValuationConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// AchievementsConfig points at the static definitions file.
type AchievementsConfig struct {
	Path string `yaml:"path"`
}

// LogConfig controls log verbosity.
type LogConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
}

// Load reads the YAML file at path, overlays a .env file if one exists, then
// applies environment-variable overrides and defaults. A missing config file
// is not an error: the engine runs on defaults plus environment.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %q: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if _, err := decimal.NewFromString(cfg.Trading.FeeRate); err != nil {
		return nil, fmt.Errorf("config: invalid fee_rate %q: %w", cfg.Trading.FeeRate, err)
	}
	if _, err := decimal.NewFromString(cfg.Trading.StartingCash); err != nil {
		return nil, fmt.Errorf("config: invalid starting_cash %q: %w", cfg.Trading.StartingCash, err)
	}

	return &cfg, nil
}

// FeeRate returns the configured fee rate as a decimal.
func (c *Config) FeeRate() decimal.Decimal {
	d, _ := decimal.NewFromString(c.Trading.FeeRate) // validated in Load
	return d
}

// StartingCash returns the configured starting cash as a decimal.
func (c *Config) StartingCash() decimal.Decimal {
	d, _ := decimal.NewFromString(c.Trading.StartingCash) // validated in Load
	return d
}

// LockWait returns the per-portfolio lock acquisition budget.
func (c *Config) LockWait() time.Duration {
	return time.Duration(c.Trading.LockWaitMS) * time.Millisecond
}

// OracleTimeout returns the oracle request timeout.
func (c *Config) OracleTimeout() time.Duration {
	return time.Duration(c.Oracle.TimeoutMS) * time.Millisecond
}

// ValuationInterval returns the periodic revaluation interval.
func (c *Config) ValuationInterval() time.Duration {
	return time.Duration(c.Valuation.IntervalSeconds) * time.Second
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Addr = ":" + v
	}
	if v := os.Getenv("ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Store.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Store.RedisURL = v
	}
	if v := os.Getenv("ORACLE_URL"); v != "" {
		cfg.Oracle.BaseURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("ACHIEVEMENTS_PATH"); v != "" {
		cfg.Achievements.Path = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Store.CacheTTLSeconds <= 0 {
		cfg.Store.CacheTTLSeconds = 30
	}
	if cfg.Trading.FeeRate == "" {
		cfg.Trading.FeeRate = "0.001"
	}
	if cfg.Trading.StartingCash == "" {
		cfg.Trading.StartingCash = "100000"
	}
	if cfg.Trading.LockWaitMS <= 0 {
		cfg.Trading.LockWaitMS = 250
	}
	if cfg.Oracle.TimeoutMS <= 0 {
		cfg.Oracle.TimeoutMS = 2000
	}
	if cfg.Oracle.RatePerSec <= 0 {
		cfg.Oracle.RatePerSec = 50
	}
	if cfg.Oracle.Burst <= 0 {
		cfg.Oracle.Burst = 10
	}
	if cfg.Valuation.IntervalSeconds <= 0 {
		cfg.Valuation.IntervalSeconds = 5
	}
	if cfg.Achievements.Path == "" {
		cfg.Achievements.Path = "achievements.yaml"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}
