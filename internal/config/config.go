package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"spotter/internal/engine"
	"spotter/internal/strategy"
)

// DefaultPath is used when SPOTTER_CONFIG is not set.
const DefaultPath = "config/spotter.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for spotter.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	Alpaca   Alpaca         `yaml:"alpaca"`
	Logging  Logging        `yaml:"logging"`
	Gather   GatherConfig   `yaml:"gather"`
	Backtest BacktestConfig `yaml:"backtest"`
	Rotation RotationConfig `yaml:"rotation"`
	Scan     ScanConfig     `yaml:"scan"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Alpaca holds credentials and endpoints for the Alpaca APIs.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GatherConfig controls data gathering.
type GatherConfig struct {
	USDaily GatherJobConfig `yaml:"us_daily"`
}

// GatherJobConfig holds parameters for a single data gathering job.
type GatherJobConfig struct {
	StartDate       string `yaml:"start_date"`
	BatchSize       int    `yaml:"batch_size"`
	MaxWorkers      int    `yaml:"max_workers"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	SymbolsFile     string `yaml:"symbols_file"`
}

// BacktestConfig selects the breakout strategy parameters. A preset is
// loaded first and any field set under params overrides it.
type BacktestConfig struct {
	Preset       string          `yaml:"preset"`
	Params       strategy.Params `yaml:"params"`
	MarketCapMin float64         `yaml:"market_cap_min"`
	Workers      int             `yaml:"workers"`
	SessionFile  string          `yaml:"session_file"`
}

// RotationConfig holds the rotation engine parameters and where the group
// classification comes from. An empty classification file means the
// groups stored in SQLite.
type RotationConfig struct {
	Params             engine.RotationParams `yaml:"params"`
	ClassificationFile string                `yaml:"classification_file"`
}

// ScanConfig controls the daily scan.
type ScanConfig struct {
	Cron         string `yaml:"cron"`
	LookbackDays int    `yaml:"lookback_days"`
	Benchmark    string `yaml:"benchmark"`
}

// MetricsConfig controls where run metrics are written.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Path returns the config file path from SPOTTER_CONFIG or DefaultPath.
func Path() string {
	if v := os.Getenv("SPOTTER_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, fills unset fields and then applies environment variable
// overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyDefaults fills operational settings left empty in the file.
// Strategy and rotation parameters get theirs from Validate.
func applyDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/spotter.db"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Gather.USDaily.StartDate == "" {
		cfg.Gather.USDaily.StartDate = "2015-01-01"
	}
	if cfg.Gather.USDaily.BatchSize <= 0 {
		cfg.Gather.USDaily.BatchSize = 100
	}
	if cfg.Gather.USDaily.MaxWorkers <= 0 {
		cfg.Gather.USDaily.MaxWorkers = 4
	}
	if cfg.Gather.USDaily.RateLimitPerMin <= 0 {
		cfg.Gather.USDaily.RateLimitPerMin = 200
	}
	if cfg.Backtest.Preset == "" {
		cfg.Backtest.Preset = strategy.PresetV3
	}
	if cfg.Scan.Cron == "" {
		cfg.Scan.Cron = "0 30 17 * * MON-FRI"
	}
	if cfg.Scan.LookbackDays <= 0 {
		cfg.Scan.LookbackDays = 1
	}
	if cfg.Scan.Benchmark == "" {
		cfg.Scan.Benchmark = "SPY"
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("SPOTTER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Backtest.Workers = n
		}
	}

	// Standard Alpaca env vars (highest priority, canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// StrategyParams resolves the backtest parameters: the named preset with
// every non-zero field from the params block laid over it, then validated.
func (c *Config) StrategyParams(reg *strategy.Registry) (strategy.Params, error) {
	p, err := reg.Lookup(c.Backtest.Preset)
	if err != nil {
		return strategy.Params{}, err
	}
	overlay(&p, c.Backtest.Params)
	if c.Backtest.Workers > 0 {
		p.Workers = c.Backtest.Workers
	}
	if err := p.Validate(); err != nil {
		return strategy.Params{}, err
	}
	return p, nil
}

// overlay copies the non-zero fields of o onto p.
func overlay(p *strategy.Params, o strategy.Params) {
	setInt := func(dst *int, v int) {
		if v != 0 {
			*dst = v
		}
	}
	setFloat := func(dst *float64, v float64) {
		if v != 0 {
			*dst = v
		}
	}
	setInt(&p.VolumeAvgDays, o.VolumeAvgDays)
	setFloat(&p.VolumeRatioMin, o.VolumeRatioMin)
	setInt(&p.ConsolMinDays, o.ConsolMinDays)
	setInt(&p.ConsolMaxDays, o.ConsolMaxDays)
	setFloat(&p.MaxDropPct, o.MaxDropPct)
	setFloat(&p.RiseMinPct, o.RiseMinPct)
	setInt(&p.RiseLookbackDays, o.RiseLookbackDays)
	setInt(&p.BreakoutLookbackDays, o.BreakoutLookbackDays)
	setInt(&p.MinHistoryDays, o.MinHistoryDays)
	setFloat(&p.StopLossPct, o.StopLossPct)
	setFloat(&p.TrailingStopPct, o.TrailingStopPct)
	setInt(&p.MAExitDays, o.MAExitDays)
	setInt(&p.Workers, o.Workers)
	if o.StartDate != "" {
		p.StartDate = o.StartDate
	}
	if o.TrendTemplate != nil {
		tt := *o.TrendTemplate
		p.TrendTemplate = &tt
	}
}
