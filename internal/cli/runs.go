package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"options-backtester/internal/models"
	"options-backtester/internal/store"
)

func newRunsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Saved backtest runs",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List saved runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)
			st, err := app.Store()
			if err != nil {
				return err
			}
			strategy, _ := cmd.Flags().GetString("strategy")
			kind, _ := cmd.Flags().GetString("kind")
			limit, _ := cmd.Flags().GetInt("limit")

			runs, err := st.ListRuns(cmd.Context(), store.RunFilter{Strategy: strategy, Kind: kind, Limit: limit})
			if err != nil {
				return err
			}
			if out.IsJSON() {
				return out.JSON(runs)
			}
			if len(runs) == 0 {
				out.Dim("No saved runs")
				return nil
			}

			table := NewTable(out, "ID", "Strategy", "Kind", "Range", "Trades", "Win %", "Net P&L", "Saved")
			for _, r := range runs {
				table.AddRow(
					r.ID,
					r.Strategy,
					r.Kind,
					models.FormatDate(r.From)+" → "+models.FormatDate(r.To),
					fmt.Sprintf("%d", r.Summary.TotalTrades),
					fmt.Sprintf("%.1f", r.Summary.WinRate),
					out.FormatPnL(r.Summary.NetPnL),
					r.CreatedAt.Local().Format("02-Jan-2006 15:04"),
				)
			}
			table.Render()
			return nil
		},
	}
	list.Flags().String("strategy", "", "only runs of this strategy")
	list.Flags().String("kind", "", "only runs of this kind (rules, script, generated, builtin)")
	list.Flags().Int("limit", 20, "maximum runs to list (0 = all)")

	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a saved run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)
			st, err := app.Store()
			if err != nil {
				return err
			}
			run, err := st.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !out.IsJSON() {
				out.Dim("Run %s (%s) saved %s", run.ID, run.Kind, run.CreatedAt.Local().Format("02-Jan-2006 15:04"))
			}
			if err := printReport(out, run.Result, reportFlags(cmd)); err != nil {
				return err
			}
			if source, _ := cmd.Flags().GetBool("source"); source && run.Source != "" && !out.IsJSON() {
				out.Println()
				out.Bold("Source")
				out.Println(run.Source)
			}
			return nil
		},
	}
	show.Flags().Bool("trades", false, "list every trade")
	show.Flags().Bool("chart", false, "draw the equity curve")
	show.Flags().Bool("source", false, "print the script or prompt the run used")

	del := &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a saved run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)
			st, err := app.Store()
			if err != nil {
				return err
			}
			if err := st.DeleteRun(cmd.Context(), args[0]); err != nil {
				return err
			}
			if out.IsJSON() {
				return out.JSON(map[string]string{"deleted": args[0]})
			}
			out.Success("✓ Deleted run %s", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, show, del)
	return cmd
}
