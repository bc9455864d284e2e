package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Options Backtester Configuration

[data]
# Directory holding <prefix>_<from>_<to>.csv candle archives
dir = "~/options-data"
# Archive file name prefix
prefix = "NIFTY_Options"
# Optional expiry calendar CSV; computed Thursday expiries are used without it
expiry_calendar = ""
# Offset applied to epoch timestamps (330 = IST)
utc_offset_minutes = 330

[costs]
# Slippage per side in index points
slippage_points = 0.5
# Flat brokerage per executed order in INR
brokerage_per_order = 20.0
# Apply STT, exchange, SEBI, GST and stamp duty
use_taxes = true

[run]
# Parallel workers for sweeps (0 = all CPUs)
workers = 0
# Contract size used when a strategy omits lot_size
lot_size = 25
# Session defaults for scripts and generated strategies
entry_time = "09:20"
exit_time = "15:15"
# Print progress every N evaluated days
progress_every = 20

[sandbox]
# Maximum interpreter steps per strategy call per day
max_steps = 5000000
# Log lines kept per day
max_logs = 500

[codegen]
model = "gpt-4o"
max_attempts = 3
temperature = 0.2

[store]
# Defaults to runs.db in this directory
# db_path = ""

[logging]
# debug, info, warn, error
level = "info"
console = true
file = true
max_size = 100
max_backups = 7
max_age = 30
`

const credentialsTemplate = `# Options Backtester Credentials
# Keep this file private (mode 0600). OPENAI_API_KEY overrides it.

[openai]
api_key = ""
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}
	return nil
}

func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	// Use restricted permissions for credentials file
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return fmt.Errorf("writing credentials template: %w", err)
	}
	return nil
}
