// Package config provides configuration management for the backtester.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"options-backtester/internal/costs"
	apperrors "options-backtester/internal/errors"
	"options-backtester/internal/logging"
	"options-backtester/internal/models"
)

// Config holds all application configuration.
type Config struct {
	Data        DataConfig        `mapstructure:"data"`
	Costs       costs.Config      `mapstructure:"costs"`
	Run         RunConfig         `mapstructure:"run"`
	Sandbox     SandboxConfig     `mapstructure:"sandbox"`
	Codegen     CodegenConfig     `mapstructure:"codegen"`
	Store       StoreConfig       `mapstructure:"store"`
	Logging     logging.LogConfig `mapstructure:"logging"`
	Credentials Credentials       `mapstructure:"-"` // Loaded separately
}

// DataConfig locates the candle archive.
type DataConfig struct {
	Dir              string `mapstructure:"dir"`
	Prefix           string `mapstructure:"prefix"`
	ExpiryCalendar   string `mapstructure:"expiry_calendar"`
	UTCOffsetMinutes int    `mapstructure:"utc_offset_minutes"`
}

// RunConfig holds replay defaults.
type RunConfig struct {
	Workers       int    `mapstructure:"workers"` // 0 = all CPUs
	LotSize       int    `mapstructure:"lot_size"`
	EntryTime     string `mapstructure:"entry_time"`
	ExitTime      string `mapstructure:"exit_time"`
	ProgressEvery int    `mapstructure:"progress_every"`
}

// SandboxConfig bounds strategy scripts.
type SandboxConfig struct {
	MaxSteps uint64 `mapstructure:"max_steps"`
	MaxLogs  int    `mapstructure:"max_logs"`
}

// CodegenConfig holds strategy generation settings.
type CodegenConfig struct {
	Model       string  `mapstructure:"model"`
	MaxAttempts int     `mapstructure:"max_attempts"`
	Temperature float32 `mapstructure:"temperature"`
}

// StoreConfig holds run persistence settings.
type StoreConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// Credentials holds API credentials.
type Credentials struct {
	OpenAI OpenAICredentials `mapstructure:"openai"`
}

// OpenAICredentials holds OpenAI API credentials.
type OpenAICredentials struct {
	APIKey string `mapstructure:"api_key"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/options-backtester"
	}
	return filepath.Join(home, ".config", "options-backtester")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. Missing files are
// created from templates and loading carries on with the defaults.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, configDir string) {
	home, _ := os.UserHomeDir()
	logs := logging.DefaultLogConfig()
	cc := costs.DefaultConfig()

	v.SetDefault("data.dir", filepath.Join(home, "options-data"))
	v.SetDefault("data.prefix", "NIFTY_Options")
	v.SetDefault("data.expiry_calendar", "")
	v.SetDefault("data.utc_offset_minutes", 330)

	v.SetDefault("costs.slippage_points", cc.SlippagePoints)
	v.SetDefault("costs.brokerage_per_order", cc.BrokeragePerOrder)
	v.SetDefault("costs.use_taxes", cc.UseTaxes)

	v.SetDefault("run.workers", 0)
	v.SetDefault("run.lot_size", models.DefaultLotSize)
	v.SetDefault("run.entry_time", "09:20")
	v.SetDefault("run.exit_time", "15:15")
	v.SetDefault("run.progress_every", 20)

	v.SetDefault("sandbox.max_steps", 5_000_000)
	v.SetDefault("sandbox.max_logs", 500)

	v.SetDefault("codegen.model", "gpt-4o")
	v.SetDefault("codegen.max_attempts", 3)
	v.SetDefault("codegen.temperature", 0.2)

	v.SetDefault("store.db_path", filepath.Join(configDir, "runs.db"))

	v.SetDefault("logging.level", logs.Level)
	v.SetDefault("logging.console", logs.Console)
	v.SetDefault("logging.file", logs.File)
	v.SetDefault("logging.file_path", filepath.Join(configDir, "logs", "optbt.log"))
	v.SetDefault("logging.max_size", logs.MaxSize)
	v.SetDefault("logging.max_backups", logs.MaxBackups)
	v.SetDefault("logging.max_age", logs.MaxAge)
}

func loadConfigFile(configDir string, cfg *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		if err := createTemplateConfig(configDir); err != nil {
			return err
		}
	}

	return v.Unmarshal(cfg)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateCredentials(configDir)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Credentials.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPTBT_DATA_DIR"); v != "" {
		cfg.Data.Dir = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Data.Dir == "" {
		return apperrors.NewValidationError("data.dir", c.Data.Dir, "must be set")
	}
	if c.Data.UTCOffsetMinutes < -14*60 || c.Data.UTCOffsetMinutes > 14*60 {
		return apperrors.NewValidationError("data.utc_offset_minutes", c.Data.UTCOffsetMinutes, "must be within +/-14 hours")
	}

	if c.Costs.SlippagePoints < 0 {
		return apperrors.NewValidationError("costs.slippage_points", c.Costs.SlippagePoints, "must be non-negative")
	}
	if c.Costs.BrokeragePerOrder < 0 {
		return apperrors.NewValidationError("costs.brokerage_per_order", c.Costs.BrokeragePerOrder, "must be non-negative")
	}

	if c.Run.Workers < 0 {
		return apperrors.NewValidationError("run.workers", c.Run.Workers, "must be non-negative")
	}
	if c.Run.LotSize <= 0 {
		return apperrors.NewValidationError("run.lot_size", c.Run.LotSize, "must be positive")
	}
	entry, err := models.ParseHHMM(c.Run.EntryTime)
	if err != nil {
		return apperrors.NewValidationError("run.entry_time", c.Run.EntryTime, err.Error())
	}
	exit, err := models.ParseHHMM(c.Run.ExitTime)
	if err != nil {
		return apperrors.NewValidationError("run.exit_time", c.Run.ExitTime, err.Error())
	}
	if exit <= entry {
		return apperrors.NewValidationError("run.exit_time", c.Run.ExitTime, "must be after entry_time")
	}

	if c.Sandbox.MaxSteps == 0 {
		return apperrors.NewValidationError("sandbox.max_steps", c.Sandbox.MaxSteps, "must be positive")
	}
	if c.Sandbox.MaxLogs < 0 {
		return apperrors.NewValidationError("sandbox.max_logs", c.Sandbox.MaxLogs, "must be non-negative")
	}

	if c.Codegen.MaxAttempts < 1 || c.Codegen.MaxAttempts > 10 {
		return apperrors.NewValidationError("codegen.max_attempts", c.Codegen.MaxAttempts, "must be between 1 and 10")
	}
	if c.Codegen.Temperature < 0 || c.Codegen.Temperature > 2 {
		return apperrors.NewValidationError("codegen.temperature", c.Codegen.Temperature, "must be between 0 and 2")
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(c.Logging.Level)); err != nil {
		return apperrors.NewValidationError("logging.level", c.Logging.Level, "unknown level")
	}

	return nil
}

// Location returns the fixed zone the archive's epoch timestamps convert to.
func (c *Config) Location() *time.Location {
	if c.Data.UTCOffsetMinutes == 330 {
		return models.IST
	}
	return time.FixedZone(fmt.Sprintf("UTC%+03d:%02d", c.Data.UTCOffsetMinutes/60, abs(c.Data.UTCOffsetMinutes%60)),
		c.Data.UTCOffsetMinutes*60)
}

// HasAPIKey reports whether code generation can be used.
func (c *Config) HasAPIKey() bool {
	return c.Credentials.OpenAI.APIKey != ""
}

func (c *Config) expandPaths() {
	c.Data.Dir = ExpandHome(c.Data.Dir)
	c.Data.ExpiryCalendar = ExpandHome(c.Data.ExpiryCalendar)
	c.Store.DBPath = ExpandHome(c.Store.DBPath)
	c.Logging.FilePath = ExpandHome(c.Logging.FilePath)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
