package cli

import (
	"fmt"
	"sort"

	"options-backtester/internal/engine"
	"options-backtester/internal/metrics"
	"options-backtester/internal/models"
	"options-backtester/pkg/utils"
)

// reportOptions selects the optional report sections.
type reportOptions struct {
	Trades bool
	Chart  bool
	Logs   int
}

// printReport writes a run's results. JSON mode writes the export document.
func printReport(out *Output, res *engine.Result, opts reportOptions) error {
	if out.IsJSON() {
		return res.WriteJSON(out.w)
	}

	s := res.Summary()
	out.Bold("%s  %s → %s", res.Strategy, models.FormatDate(res.From), models.FormatDate(res.To))
	out.Dim("%d days evaluated, %d traded, %d skipped", res.DaysEvaluated, s.TradingDays, s.SkippedDays)
	out.Println()

	if s.TotalTrades == 0 {
		out.Warning("No trades")
	} else {
		printSummary(out, s)
		out.Println()
		printExitReasons(out, res.Trades)
		out.Println()
		printDTEBreakdown(out, res.DTEBreakdown(nil))
		out.Println()
		printCosts(out, res.CostBreakdown())
	}

	if opts.Chart && s.TotalTrades > 0 {
		out.Println()
		out.Bold("Equity Curve")
		out.Println(metrics.EquityChartASCII(res.EquityCurve(), 60, 12))
	}

	if opts.Trades && len(res.Trades) > 0 {
		out.Println()
		printTrades(out, res.Trades)
	}

	if len(res.Errors) > 0 {
		out.Println()
		out.Error("%d day(s) failed in strategy code", len(res.Errors))
		for _, e := range res.Errors {
			out.Printf("  %s  %s\n", models.FormatDate(e.Date), e.Message)
		}
	}

	if opts.Logs > 0 && len(res.Logs) > 0 {
		out.Println()
		out.Bold("Strategy Log")
		logs := res.Logs
		if len(logs) > opts.Logs {
			logs = logs[len(logs)-opts.Logs:]
		}
		for _, l := range logs {
			out.Println("  " + l)
		}
	}
	return nil
}

func printSummary(out *Output, s metrics.Summary) {
	c := s.Capped()
	out.Bold("Summary")
	out.Printf("  Trades:          %d (%d W / %d L / %d BE)\n", c.TotalTrades, c.Winners, c.Losers, c.Breakeven)
	out.Printf("  Win rate:        %.2f%%\n", c.WinRate)
	out.Printf("  Net P&L:         %s\n", out.FormatPnL(c.NetPnL))
	out.Printf("  Gross P&L:       %s\n", out.FormatPnL(c.GrossPnL))
	out.Printf("  Costs:           %s\n", utils.FormatIndianCurrency(c.TotalCost))
	out.Printf("  Max drawdown:    %s\n", utils.FormatIndianCurrency(c.MaxDrawdown))
	out.Printf("  Avg win / loss:  %s / %s\n", utils.FormatIndianCurrency(c.AvgWin), utils.FormatIndianCurrency(c.AvgLoss))
	out.Printf("  Max win / loss:  %s / %s\n", utils.FormatIndianCurrency(c.MaxWin), utils.FormatIndianCurrency(c.MaxLoss))
	out.Printf("  Avg daily P&L:   %s\n", out.FormatPnL(c.AvgDailyPnL))
	out.Printf("  Profit factor:   %s\n", ratio(c.ProfitFactor))
	out.Printf("  Payoff ratio:    %s\n", ratio(c.PayoffRatio))
	out.Printf("  Sharpe:          %.2f\n", c.SharpeRatio)
	out.Printf("  Calmar:          %s\n", ratio(c.CalmarRatio))
	out.Printf("  Streaks:         %d wins / %d losses\n", c.MaxConsecutiveWins, c.MaxConsecutiveLosses)
}

// ratio prints capped ratios as unbounded.
func ratio(v float64) string {
	if v >= metrics.Sentinel {
		return "∞"
	}
	return fmt.Sprintf("%.2f", v)
}

func printExitReasons(out *Output, trades []models.Trade) {
	counts := metrics.ExitReasonCounts(trades)
	reasons := make([]string, 0, len(counts))
	for r := range counts {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)

	out.Bold("Exit Reasons")
	for _, r := range reasons {
		n := counts[models.ExitReason(r)]
		out.Printf("  %-14s %4d  %5.1f%%\n", r, n, float64(n)/float64(len(trades))*100)
	}
}

func printDTEBreakdown(out *Output, stats []metrics.BucketStats) {
	out.Bold("By DTE")
	table := NewTable(out, "DTE", "Trades", "Total P&L", "Avg P&L", "Win %")
	for _, b := range stats {
		if b.Trades == 0 {
			continue
		}
		table.AddRow(b.Bucket, fmt.Sprintf("%d", b.Trades), out.FormatPnL(b.TotalPnL),
			utils.FormatIndianCurrency(b.AvgPnL), fmt.Sprintf("%.1f", b.WinRate))
	}
	table.Render()
}

func printCosts(out *Output, c models.CostBreakdown) {
	out.Bold("Costs")
	out.Printf("  Slippage %s  Brokerage %s  STT %s  Exchange %s\n",
		utils.FormatIndianCurrency(c.Slippage), utils.FormatIndianCurrency(c.Brokerage),
		utils.FormatIndianCurrency(c.STT), utils.FormatIndianCurrency(c.ExchangeCharges))
	out.Printf("  SEBI %s  GST %s  Stamp %s  Total %s\n",
		utils.FormatIndianCurrency(c.SEBIFee), utils.FormatIndianCurrency(c.GST),
		utils.FormatIndianCurrency(c.StampDuty), utils.FormatCompact(c.Total))
}

func printTrades(out *Output, trades []models.Trade) {
	out.Bold("Trades")
	table := NewTable(out, "Date", "Leg", "Side", "Strike", "Entry", "Exit", "Reason", "Qty", "Net P&L")
	for _, t := range trades {
		table.AddRow(
			models.FormatDate(t.Date),
			fmt.Sprintf("%d", t.LegID),
			string(t.Action),
			fmt.Sprintf("%s %s", t.StrikeLabel, t.OptionType),
			fmt.Sprintf("%s @ %.2f", t.EntryTime, t.EntryPrice),
			fmt.Sprintf("%s @ %.2f", t.ExitTime, t.ExitPrice),
			string(t.ExitReason),
			utils.FormatQuantity(t.Quantity),
			out.FormatPnL(t.NetPnL),
		)
	}
	table.Render()
}
