package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Engine    EngineConfig    `mapstructure:"engine"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Stays     []StayConfig    `mapstructure:"stays"`
}

// EngineConfig holds pricing engine behavior configuration
type EngineConfig struct {
	ForecastDays           int           `mapstructure:"forecast_days"`
	Tolerance              float64       `mapstructure:"tolerance"`
	MarketDemandMultiplier float64       `mapstructure:"market_demand_multiplier"`
	CadenceLow             time.Duration `mapstructure:"cadence_low"`
	CadenceMedium          time.Duration `mapstructure:"cadence_medium"`
	CadenceHigh            time.Duration `mapstructure:"cadence_high"`
	CadenceCritical        time.Duration `mapstructure:"cadence_critical"`
}

// ReconcileConfig holds the authoritative pricing endpoint configuration
type ReconcileConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	APIBaseURL          string        `mapstructure:"api_base_url"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxRetries          int           `mapstructure:"max_retries"`
	RetryDelayBase      time.Duration `mapstructure:"retry_delay_base"`
	MaxIdleConns        int           `mapstructure:"max_idle_conns"`
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `mapstructure:"idle_conn_timeout"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// StorageConfig holds persistence configuration
type StorageConfig struct {
	DBPath              string        `mapstructure:"db_path"`
	MaxSnapshotsPerStay int           `mapstructure:"max_snapshots_per_stay"`
	RotationInterval    time.Duration `mapstructure:"rotation_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StayConfig describes one watched stay. TargetDate is RFC 3339.
type StayConfig struct {
	Name                   string  `mapstructure:"name"`
	TargetDate             string  `mapstructure:"target_date"`
	BasePrice              float64 `mapstructure:"base_price"`
	MarketDemandMultiplier float64 `mapstructure:"market_demand_multiplier"`
}

// Target parses the stay's target date.
func (s StayConfig) Target() (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s.TargetDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid target_date %q: %w", s.TargetDate, err)
	}
	return t, nil
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	setDefaults(v)

	// Enable environment variable override
	v.SetEnvPrefix("STAYWATCH")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Engine defaults
	v.SetDefault("engine.forecast_days", 7)
	v.SetDefault("engine.tolerance", 1.0)
	v.SetDefault("engine.market_demand_multiplier", 1.0)
	v.SetDefault("engine.cadence_low", "1h")
	v.SetDefault("engine.cadence_medium", "30m")
	v.SetDefault("engine.cadence_high", "5m")
	v.SetDefault("engine.cadence_critical", "1m")

	// Reconcile defaults
	v.SetDefault("reconcile.enabled", true)
	v.SetDefault("reconcile.api_base_url", "https://pricing.staywatch.dev")
	v.SetDefault("reconcile.timeout", "30s")
	v.SetDefault("reconcile.max_retries", 3)
	v.SetDefault("reconcile.retry_delay_base", "1s")
	v.SetDefault("reconcile.max_idle_conns", 10)
	v.SetDefault("reconcile.max_idle_conns_per_host", 5)
	v.SetDefault("reconcile.idle_conn_timeout", "90s")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/staywatch.db")
	v.SetDefault("storage.max_snapshots_per_stay", 500)
	v.SetDefault("storage.rotation_interval", "1h")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Engine config
	if c.Engine.ForecastDays < 1 || c.Engine.ForecastDays > 90 {
		return fmt.Errorf("engine.forecast_days must be between 1 and 90")
	}
	if c.Engine.Tolerance <= 0 {
		return fmt.Errorf("engine.tolerance must be positive")
	}
	if c.Engine.MarketDemandMultiplier <= 0 {
		return fmt.Errorf("engine.market_demand_multiplier must be positive")
	}
	for name, d := range map[string]time.Duration{
		"engine.cadence_low":      c.Engine.CadenceLow,
		"engine.cadence_medium":   c.Engine.CadenceMedium,
		"engine.cadence_high":     c.Engine.CadenceHigh,
		"engine.cadence_critical": c.Engine.CadenceCritical,
	} {
		if d < 10*time.Second {
			return fmt.Errorf("%s must be at least 10 seconds", name)
		}
	}
	if c.Engine.CadenceCritical > c.Engine.CadenceHigh ||
		c.Engine.CadenceHigh > c.Engine.CadenceMedium ||
		c.Engine.CadenceMedium > c.Engine.CadenceLow {
		return fmt.Errorf("engine cadences must be ordered critical <= high <= medium <= low")
	}

	// Validate Reconcile config
	if c.Reconcile.Enabled {
		if c.Reconcile.APIBaseURL == "" {
			return fmt.Errorf("reconcile.api_base_url is required when reconcile is enabled")
		}
		if c.Reconcile.Timeout < time.Second {
			return fmt.Errorf("reconcile.timeout must be at least 1 second")
		}
		if c.Reconcile.MaxRetries < 1 {
			return fmt.Errorf("reconcile.max_retries must be at least 1")
		}
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Storage config
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Storage.MaxSnapshotsPerStay < 10 {
		return fmt.Errorf("storage.max_snapshots_per_stay must be at least 10")
	}
	if c.Storage.RotationInterval < time.Minute {
		return fmt.Errorf("storage.rotation_interval must be at least 1 minute")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// Validate Stays
	if len(c.Stays) == 0 {
		return fmt.Errorf("stays must contain at least one entry")
	}
	seen := make(map[string]bool)
	for i, stay := range c.Stays {
		if stay.Name == "" {
			return fmt.Errorf("stays[%d].name is required", i)
		}
		if seen[stay.Name] {
			return fmt.Errorf("stays[%d].name %q is duplicated", i, stay.Name)
		}
		seen[stay.Name] = true
		if _, err := stay.Target(); err != nil {
			return fmt.Errorf("stays[%d]: %w", i, err)
		}
		if stay.BasePrice <= 0 {
			return fmt.Errorf("stays[%d].base_price must be positive", i)
		}
		if stay.MarketDemandMultiplier < 0 {
			return fmt.Errorf("stays[%d].market_demand_multiplier must not be negative", i)
		}
	}

	return nil
}

// Cadence returns the engine cadence settings as level periods ordered
// low, medium, high, critical.
func (c *Config) Cadence() (low, medium, high, critical time.Duration) {
	return c.Engine.CadenceLow, c.Engine.CadenceMedium, c.Engine.CadenceHigh, c.Engine.CadenceCritical
}
