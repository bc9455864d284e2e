package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "options-backtester/internal/errors"
	"options-backtester/internal/models"
)

func TestLoadCreatesTemplates(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPTBT_DATA_DIR", "")
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "config.toml"))
	info, err := os.Stat(filepath.Join(dir, "credentials.toml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	assert.Equal(t, "NIFTY_Options", cfg.Data.Prefix)
	assert.Equal(t, 330, cfg.Data.UTCOffsetMinutes)
	assert.Equal(t, models.DefaultLotSize, cfg.Run.LotSize)
	assert.Equal(t, "09:20", cfg.Run.EntryTime)
	assert.Equal(t, 0.5, cfg.Costs.SlippagePoints)
	assert.True(t, cfg.Costs.UseTaxes)
	assert.Equal(t, 3, cfg.Codegen.MaxAttempts)
	assert.Equal(t, filepath.Join(dir, "runs.db"), cfg.Store.DBPath)
	assert.False(t, cfg.HasAPIKey())

	// The written template loads cleanly on the next run.
	again, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, cfg.Run, again.Run)
	assert.Equal(t, cfg.Costs, again.Costs)
	assert.Equal(t, cfg.Store.DBPath, again.Store.DBPath)
}

func TestLoadReadsFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(`
[data]
dir = "/srv/candles"
utc_offset_minutes = 0

[costs]
slippage_points = 1.0
brokerage_per_order = 0.0
use_taxes = false

[run]
workers = 4
lot_size = 75
entry_time = "09:30"
exit_time = "15:00"

[codegen]
max_attempts = 5
`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "credentials.toml"), []byte("[openai]\napi_key = \"file-key\"\n"), 0600))

	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPTBT_DATA_DIR", "")
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "/srv/candles", cfg.Data.Dir)
	assert.Equal(t, 4, cfg.Run.Workers)
	assert.Equal(t, 75, cfg.Run.LotSize)
	assert.Equal(t, "15:00", cfg.Run.ExitTime)
	assert.False(t, cfg.Costs.UseTaxes)
	assert.Equal(t, 5, cfg.Codegen.MaxAttempts)
	assert.Equal(t, "file-key", cfg.Credentials.OpenAI.APIKey)
	_, offset := time.Now().In(cfg.Location()).Zone()
	assert.Equal(t, 0, offset)

	t.Setenv("OPENAI_API_KEY", "env-key")
	t.Setenv("OPTBT_DATA_DIR", "/mnt/archive")
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.Credentials.OpenAI.APIKey)
	assert.Equal(t, "/mnt/archive", cfg.Data.Dir)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[run]\nlot_size = 0\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "credentials.toml"), nil, 0600))

	_, err := Load(dir)
	assert.True(t, apperrors.Is(err, apperrors.ErrConfigInvalid))
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPTBT_DATA_DIR", "")
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"empty data dir", func(c *Config) { c.Data.Dir = "" }, "data.dir"},
		{"offset out of range", func(c *Config) { c.Data.UTCOffsetMinutes = 15 * 60 }, "data.utc_offset_minutes"},
		{"negative slippage", func(c *Config) { c.Costs.SlippagePoints = -1 }, "costs.slippage_points"},
		{"negative brokerage", func(c *Config) { c.Costs.BrokeragePerOrder = -20 }, "costs.brokerage_per_order"},
		{"negative workers", func(c *Config) { c.Run.Workers = -1 }, "run.workers"},
		{"bad entry", func(c *Config) { c.Run.EntryTime = "9am" }, "run.entry_time"},
		{"exit before entry", func(c *Config) { c.Run.ExitTime = "09:00" }, "run.exit_time"},
		{"zero steps", func(c *Config) { c.Sandbox.MaxSteps = 0 }, "sandbox.max_steps"},
		{"too many attempts", func(c *Config) { c.Codegen.MaxAttempts = 11 }, "codegen.max_attempts"},
		{"hot temperature", func(c *Config) { c.Codegen.Temperature = 2.5 }, "codegen.temperature"},
		{"unknown level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			require.NoError(t, cfg.Validate())
			tt.mutate(cfg)

			err := cfg.Validate()
			var ve *apperrors.ValidationError
			require.True(t, apperrors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestLocation(t *testing.T) {
	c := &Config{}
	c.Data.UTCOffsetMinutes = 330
	assert.Equal(t, models.IST, c.Location())

	c.Data.UTCOffsetMinutes = -90
	_, offset := time.Now().In(c.Location()).Zone()
	assert.Equal(t, -90*60, offset)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "data"), ExpandHome("~/data"))
	assert.Equal(t, "/abs/path", ExpandHome("/abs/path"))
	assert.Equal(t, "", ExpandHome(""))
}
