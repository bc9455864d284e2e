// Package cli provides the optbt command-line interface.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"options-backtester/internal/config"
	"options-backtester/internal/costs"
	"options-backtester/internal/datacache"
	"options-backtester/internal/engine"
	"options-backtester/internal/expiry"
	"options-backtester/internal/logging"
	"options-backtester/internal/models"
	"options-backtester/internal/security"
	"options-backtester/internal/store"
)

// Version information
const (
	Version   = "0.3.0"
	BuildDate = "2024-11-20"
)

// App holds the application dependencies. The cache and store are opened on
// first use so commands that need neither stay fast.
type App struct {
	Config    *config.Config
	Logger    zerolog.Logger
	ConfigDir string

	cache *datacache.Cache
	store store.RunStore
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	app := &App{Logger: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:   "optbt",
		Short: "Intraday options strategy backtester",
		Long: `optbt replays minute-level NIFTY option candles to backtest intraday strategies.

Strategies can be fixed multi-leg configs (YAML/JSON), Starlark scripts written
against the strategy SDK, built-in procedures, or generated from a prompt.

Use 'optbt <command> --help' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return app.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/options-backtester)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newBacktestCmd(app))
	rootCmd.AddCommand(newScriptCmd(app))
	rootCmd.AddCommand(newGenerateCmd(app))
	rootCmd.AddCommand(newSweepCmd(app))
	rootCmd.AddCommand(newRunsCmd(app))
	rootCmd.AddCommand(newDataCmd(app))

	return rootCmd
}

func (a *App) init(cmd *cobra.Command) error {
	dir, _ := cmd.Flags().GetString("config")
	if dir == "" {
		dir = config.DefaultConfigDir()
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	a.Config = cfg
	a.ConfigDir = dir

	debug, _ := cmd.Flags().GetBool("debug")
	a.Logger = logging.New(cfg.Logging, debug)
	a.Logger.Debug().Str("config_dir", dir).Msg("Configuration loaded")
	return nil
}

// Close releases the store if it was opened.
func (a *App) Close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

// Cache returns the archive cache, creating it on first use.
func (a *App) Cache() *datacache.Cache {
	if a.cache == nil {
		src := datacache.NewDirSource(a.Config.Data.Dir, a.Config.Data.Prefix, a.Config.Location())
		a.cache = datacache.New(src, a.Logger)
	}
	return a.cache
}

// Store returns the run store, opening it on first use.
func (a *App) Store() (store.RunStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	if err := os.MkdirAll(filepath.Dir(a.Config.Store.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	s, err := store.NewSQLiteStore(a.Config.Store.DBPath)
	if err != nil {
		return nil, err
	}
	a.store = s
	return s, nil
}

// Calendar loads the configured expiry calendar.
func (a *App) Calendar() (*expiry.Calendar, error) {
	return expiry.LoadCalendar(a.Config.Data.ExpiryCalendar)
}

// Backtester wires the cache, calendar and cost model together. Progress
// goes to stderr unless output is JSON.
func (a *App) Backtester(out *Output) (*engine.Backtester, error) {
	cal, err := a.Calendar()
	if err != nil {
		return nil, err
	}
	bt := engine.New(a.Cache(), cal, costs.NewModel(a.Config.Costs, nil), a.Logger).
		WithMaxLogs(a.Config.Sandbox.MaxLogs)
	if !out.IsJSON() && a.Config.Run.ProgressEvery > 0 {
		errOut := newOutput(os.Stderr, false, false)
		bt.WithProgress(a.Config.Run.ProgressEvery, func(done, total int, date time.Time) {
			errOut.Progress(done, total, models.FormatDate(date))
		})
	}
	return bt, nil
}

// Session builds the session config for procedural strategies from the run
// defaults, letting flags override them.
func (a *App) Session(cmd *cobra.Command, name string) models.StrategyConfig {
	s := models.StrategyConfig{
		Name:      name,
		EntryTime: a.Config.Run.EntryTime,
		ExitTime:  a.Config.Run.ExitTime,
		LotSize:   a.Config.Run.LotSize,
	}
	if v, _ := cmd.Flags().GetString("entry"); v != "" {
		s.EntryTime = v
	}
	if v, _ := cmd.Flags().GetString("exit"); v != "" {
		s.ExitTime = v
	}
	if v, _ := cmd.Flags().GetInt("lot-size"); v > 0 {
		s.LotSize = v
	}
	return s
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("optbt v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(redacted(app.Config))
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": app.ConfigDir})
			} else {
				output.Println(app.ConfigDir)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			// Load already validated; repeat so the command reads as a check.
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

// redacted returns a copy of cfg safe to print.
func redacted(cfg *config.Config) config.Config {
	c := *cfg
	c.Credentials.OpenAI.APIKey = security.MaskCredential(c.Credentials.OpenAI.APIKey)
	return c
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Data")
	output.Printf("  Archive dir:     %s\n", cfg.Data.Dir)
	output.Printf("  File prefix:     %s\n", cfg.Data.Prefix)
	output.Printf("  Expiry calendar: %s\n", orNone(cfg.Data.ExpiryCalendar))
	output.Printf("  Timezone:        %s\n", cfg.Location())
	output.Println()

	output.Bold("Costs")
	output.Printf("  Slippage:        %.2f pts\n", cfg.Costs.SlippagePoints)
	output.Printf("  Brokerage/order: %.2f\n", cfg.Costs.BrokeragePerOrder)
	output.Printf("  Taxes:           %v\n", cfg.Costs.UseTaxes)
	output.Println()

	output.Bold("Run")
	output.Printf("  Workers:         %d\n", cfg.Run.Workers)
	output.Printf("  Lot size:        %d\n", cfg.Run.LotSize)
	output.Printf("  Session:         %s - %s\n", cfg.Run.EntryTime, cfg.Run.ExitTime)
	output.Println()

	output.Bold("Sandbox & Codegen")
	output.Printf("  Max steps:       %d\n", cfg.Sandbox.MaxSteps)
	output.Printf("  Max log lines:   %d\n", cfg.Sandbox.MaxLogs)
	output.Printf("  Model:           %s (%d attempts)\n", cfg.Codegen.Model, cfg.Codegen.MaxAttempts)
	output.Printf("  API key:         %s\n", orNone(security.MaskCredential(cfg.Credentials.OpenAI.APIKey)))
	output.Println()

	output.Bold("Store")
	output.Printf("  Database:        %s\n", cfg.Store.DBPath)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
