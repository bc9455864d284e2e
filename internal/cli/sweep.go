package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"options-backtester/internal/optimizer"
	"options-backtester/pkg/utils"
)

func newSweepCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a strategy once per value of one parameter",
		Long: fmt.Sprintf(`Sweep a single parameter of a strategy config and compare the runs.

Supported parameters: %s`, strings.Join(optimizer.Params(), ", ")),
		Example: `  optbt sweep --strategy straddle.yaml --param sl_pct --values 15,20,25,30 --from 2024-01-01 --to 2024-06-30`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)
			from, to, err := parseRange(cmd)
			if err != nil {
				return err
			}
			path, _ := cmd.Flags().GetString("strategy")
			param, _ := cmd.Flags().GetString("param")
			raw, _ := cmd.Flags().GetString("values")
			workers, _ := cmd.Flags().GetInt("workers")
			if workers == 0 {
				workers = app.Config.Run.Workers
			}

			base, err := app.loadStrategy(path)
			if err != nil {
				return err
			}
			bt, err := app.Backtester(out)
			if err != nil {
				return err
			}
			// Parallel variants would interleave progress bars.
			bt.WithProgress(0, nil)

			report, err := optimizer.New(bt, workers, app.Logger).
				Sweep(cmd.Context(), base, param, optimizer.ParseValues(raw), from, to)
			if err != nil {
				return err
			}
			return printSweep(out, base.Name, report)
		},
	}

	cmd.Flags().String("strategy", "", "base strategy config file")
	cmd.Flags().String("param", "", "parameter to sweep")
	cmd.Flags().String("values", "", "comma separated values")
	cmd.Flags().Int("workers", 0, "parallel runs (default from config)")
	cmd.MarkFlagRequired("strategy")
	cmd.MarkFlagRequired("param")
	cmd.MarkFlagRequired("values")
	addRangeFlags(cmd)
	return cmd
}

func printSweep(out *Output, name string, report *optimizer.Report) error {
	ranked := report.Compare()
	if out.IsJSON() {
		failed := map[string]string{}
		for _, v := range report.Variants {
			if v.Err != nil {
				failed[v.Value] = v.Err.Error()
			}
		}
		return out.JSON(map[string]interface{}{
			"strategy":      name,
			"param":         report.Param,
			"best_pnl":      report.BestPnL,
			"best_win_rate": report.BestWinRate,
			"best_sharpe":   report.BestSharpe,
			"ranked":        ranked,
			"failed":        failed,
		})
	}

	out.Bold("%s: sweep of %s", name, report.Param)
	table := NewTable(out, report.Param, "Trades", "Net P&L", "Win %", "Max DD", "Sharpe", "PF")
	for _, c := range ranked {
		table.AddRow(c.Value, fmt.Sprintf("%d", c.TotalTrades), out.FormatPnL(c.NetPnL),
			fmt.Sprintf("%.1f", c.WinRate), utils.FormatIndianCurrency(c.MaxDrawdown),
			fmt.Sprintf("%.2f", c.SharpeRatio), ratio(c.ProfitFactor))
	}
	table.Render()

	for _, v := range report.Variants {
		if v.Err != nil {
			out.Error("%s=%s failed: %v", report.Param, v.Value, v.Err)
		}
	}
	if report.BestPnL == "" {
		out.Warning("No variant completed")
		return nil
	}
	out.Println()
	out.Success("Best P&L: %s   Best win rate: %s   Best Sharpe: %s", report.BestPnL, report.BestWinRate, report.BestSharpe)
	return nil
}
