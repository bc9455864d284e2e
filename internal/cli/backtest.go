package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"options-backtester/internal/codegen"
	"options-backtester/internal/engine"
	apperrors "options-backtester/internal/errors"
	"options-backtester/internal/logging"
	"options-backtester/internal/models"
	"options-backtester/internal/sandbox"
	"options-backtester/internal/sdk"
	"options-backtester/internal/store"
	"options-backtester/internal/strategies"
)

// Built-in procedure names accepted by --builtin.
const (
	BuiltinStraddleReentry = "straddle-reentry"
	BuiltinLegs            = "legs"
)

func addRangeFlags(cmd *cobra.Command) {
	cmd.Flags().String("from", "", "first trading date (YYYY-MM-DD)")
	cmd.Flags().String("to", "", "last trading date (YYYY-MM-DD)")
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")
}

func addReportFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("save", false, "save the run to the store")
	cmd.Flags().Bool("trades", false, "list every trade")
	cmd.Flags().Bool("chart", false, "draw the equity curve")
}

func addSessionFlags(cmd *cobra.Command) {
	cmd.Flags().String("entry", "", "entry time HH:MM (default from config)")
	cmd.Flags().String("exit", "", "exit time HH:MM (default from config)")
	cmd.Flags().Int("lot-size", 0, "contract size (default from config)")
}

func parseRange(cmd *cobra.Command) (time.Time, time.Time, error) {
	fromStr, _ := cmd.Flags().GetString("from")
	toStr, _ := cmd.Flags().GetString("to")
	from, err := models.ParseDate(fromStr)
	if err != nil {
		return time.Time{}, time.Time{}, apperrors.NewValidationError("from", fromStr, "want YYYY-MM-DD")
	}
	to, err := models.ParseDate(toStr)
	if err != nil {
		return time.Time{}, time.Time{}, apperrors.NewValidationError("to", toStr, "want YYYY-MM-DD")
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, apperrors.NewValidationError("to", toStr, "must not be before from")
	}
	return from, to, nil
}

func reportFlags(cmd *cobra.Command) reportOptions {
	trades, _ := cmd.Flags().GetBool("trades")
	chart, _ := cmd.Flags().GetBool("chart")
	return reportOptions{Trades: trades, Chart: chart, Logs: 20}
}

// finish prints the report and saves the run when asked.
func (a *App) finish(cmd *cobra.Command, out *Output, res *engine.Result, kind, source string) error {
	if err := printReport(out, res, reportFlags(cmd)); err != nil {
		return err
	}
	if save, _ := cmd.Flags().GetBool("save"); !save {
		return nil
	}
	st, err := a.Store()
	if err != nil {
		return err
	}
	id, err := st.SaveRun(cmd.Context(), &store.Run{Kind: kind, Source: source, Result: res})
	if err != nil {
		return err
	}
	runLogger := logging.WithRunID(a.Logger, id)
	runLogger.Info().Str("strategy", res.Strategy).Msg("Run saved")
	if !out.IsJSON() {
		out.Println()
		out.Success("✓ Saved run %s", id)
	}
	return nil
}

func newBacktestCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Backtest a fixed-leg strategy or a built-in procedure",
		Long: `Backtest a strategy over a date range.

With --strategy the YAML/JSON leg config runs through the rule engine.
With --builtin straddle-reentry the built-in re-entry straddle runs instead;
--builtin legs runs the --strategy legs through the procedure SDK.`,
		Example: `  optbt backtest --strategy straddle.yaml --from 2024-01-01 --to 2024-03-31
  optbt backtest --builtin straddle-reentry --from 2024-01-01 --to 2024-01-31 --save`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)
			from, to, err := parseRange(cmd)
			if err != nil {
				return err
			}
			path, _ := cmd.Flags().GetString("strategy")
			builtin, _ := cmd.Flags().GetString("builtin")

			bt, err := app.Backtester(out)
			if err != nil {
				return err
			}

			switch builtin {
			case "":
				if path == "" {
					return apperrors.NewValidationError("strategy", path, "a strategy file or --builtin is required")
				}
				cfg, err := app.loadStrategy(path)
				if err != nil {
					return err
				}
				res, err := bt.Run(cmd.Context(), cfg, from, to)
				if err != nil {
					return err
				}
				return app.finish(cmd, out, res, store.KindRules, "")

			case BuiltinStraddleReentry:
				session := strategies.ReentrySession()
				if v, _ := cmd.Flags().GetString("entry"); v != "" {
					session.EntryTime = v
				}
				if v, _ := cmd.Flags().GetString("exit"); v != "" {
					session.ExitTime = v
				}
				if v, _ := cmd.Flags().GetInt("lot-size"); v > 0 {
					session.LotSize = v
				}
				params := strategies.DefaultReentryParams()
				if v, _ := cmd.Flags().GetFloat64("sl-pct"); v > 0 {
					params.SLPct = v
				}
				res, err := bt.RunProcedure(cmd.Context(), session, strategies.NewStraddleReentry(params), from, to)
				if err != nil {
					return err
				}
				return app.finish(cmd, out, res, store.KindBuiltin, BuiltinStraddleReentry)

			case BuiltinLegs:
				if path == "" {
					return apperrors.NewValidationError("strategy", path, "--builtin legs needs --strategy")
				}
				cfg, err := app.loadStrategy(path)
				if err != nil {
					return err
				}
				proc, err := strategies.NewLegRules(&cfg)
				if err != nil {
					return err
				}
				res, err := bt.RunProcedure(cmd.Context(), cfg, proc, from, to)
				if err != nil {
					return err
				}
				return app.finish(cmd, out, res, store.KindBuiltin, BuiltinLegs)

			default:
				return apperrors.NewValidationError("builtin", builtin,
					fmt.Sprintf("want %s or %s", BuiltinStraddleReentry, BuiltinLegs))
			}
		},
	}

	cmd.Flags().String("strategy", "", "strategy config file (YAML or JSON)")
	cmd.Flags().String("builtin", "", "built-in procedure: straddle-reentry or legs")
	cmd.Flags().Float64("sl-pct", 0, "stop loss percent for straddle-reentry")
	addRangeFlags(cmd)
	addSessionFlags(cmd)
	addReportFlags(cmd)
	return cmd
}

// loadStrategy reads a strategy file, taking the lot size from config when
// the file leaves it out.
func (a *App) loadStrategy(path string) (models.StrategyConfig, error) {
	return strategies.LoadFileWithLotSize(path, a.Config.Run.LotSize)
}

func newScriptCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "script",
		Short: "Backtest a Starlark strategy script",
		Long: `Backtest a strategy script. The script defines strategy(ctx) and is called
once per trading day with the SDK context.`,
		Example: `  optbt script --file straddle.star --from 2024-01-01 --to 2024-01-31 --entry 09:20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)
			from, to, err := parseRange(cmd)
			if err != nil {
				return err
			}
			file, _ := cmd.Flags().GetString("file")
			src, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading script: %w", err)
			}

			name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
			script, err := sandbox.Compile(name, string(src), sandbox.Options{MaxSteps: app.Config.Sandbox.MaxSteps})
			if err != nil {
				return err
			}
			return app.runProcedure(cmd, out, script, from, to, store.KindScript, script.Source())
		},
	}

	cmd.Flags().String("file", "", "strategy script")
	cmd.MarkFlagRequired("file")
	addRangeFlags(cmd)
	addSessionFlags(cmd)
	addReportFlags(cmd)
	return cmd
}

func (a *App) runProcedure(cmd *cobra.Command, out *Output, proc sdk.Procedure, from, to time.Time, kind, source string) error {
	bt, err := a.Backtester(out)
	if err != nil {
		return err
	}
	res, err := bt.RunProcedure(cmd.Context(), a.Session(cmd, proc.Name()), proc, from, to)
	if err != nil {
		return err
	}
	return a.finish(cmd, out, res, kind, source)
}

func newGenerateCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a strategy script from a description and backtest it",
		Example: `  optbt generate --prompt "sell ATM straddle at 9:20, 25% SL per leg" --from 2024-01-01 --to 2024-01-31
  optbt generate --prompt "..." --out strat.star --no-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)
			if !app.Config.HasAPIKey() {
				return apperrors.NewValidationError("openai.api_key", "", "set OPENAI_API_KEY or credentials.toml")
			}
			prompt, _ := cmd.Flags().GetString("prompt")
			client := codegen.NewOpenAIClient(app.Config.Credentials.OpenAI.APIKey, app.Config.Codegen.Model, app.Config.Codegen.Temperature)
			return app.generate(cmd, out, client, prompt)
		},
	}

	cmd.Flags().String("prompt", "", "plain-language strategy description")
	cmd.MarkFlagRequired("prompt")
	cmd.Flags().String("out", "", "write the generated script to this file")
	cmd.Flags().Bool("no-run", false, "only generate the script")
	cmd.Flags().String("from", "", "first trading date (YYYY-MM-DD)")
	cmd.Flags().String("to", "", "last trading date (YYYY-MM-DD)")
	addSessionFlags(cmd)
	addReportFlags(cmd)
	return cmd
}

// generate runs code generation against client and, unless --no-run, the
// resulting script.
func (a *App) generate(cmd *cobra.Command, out *Output, client codegen.LLMClient, prompt string) error {
	gen := codegen.NewGenerator(client, a.Logger)
	gen.MaxAttempts = a.Config.Codegen.MaxAttempts

	g, err := gen.Generate(cmd.Context(), prompt)
	if err != nil {
		return err
	}

	if path, _ := cmd.Flags().GetString("out"); path != "" {
		if err := os.WriteFile(path, []byte(g.Code+"\n"), 0644); err != nil {
			return fmt.Errorf("writing script: %w", err)
		}
	}

	noRun, _ := cmd.Flags().GetBool("no-run")
	if !out.IsJSON() {
		out.Bold("%s", g.Name)
		out.Dim("%d attempt(s)", g.Attempts)
		out.Println(g.Code)
		out.Println()
	}
	if !g.Valid {
		if out.IsJSON() {
			return out.JSON(map[string]interface{}{
				"name": g.Name, "code": g.Code, "valid": false, "attempts": g.Attempts, "problem": g.Problem,
			})
		}
		out.Warning("Generated code is not usable after %d attempts: %s", g.Attempts, g.Problem)
		return nil
	}
	if noRun {
		if out.IsJSON() {
			return out.JSON(map[string]interface{}{"name": g.Name, "code": g.Code, "valid": true, "attempts": g.Attempts})
		}
		return nil
	}

	from, to, err := parseRange(cmd)
	if err != nil {
		return err
	}
	script, err := sandbox.Compile(g.Name, g.Code, sandbox.Options{MaxSteps: a.Config.Sandbox.MaxSteps})
	if err != nil {
		return err
	}
	return a.runProcedure(cmd, out, script, from, to, store.KindGenerated, g.Code)
}
