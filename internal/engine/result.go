package engine

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"options-backtester/internal/logging"
	"options-backtester/internal/metrics"
	"options-backtester/internal/models"
)

// ExportLogLimit is how many procedure log lines an export keeps.
const ExportLogLimit = 200

// Result holds the raw logs of a run. Metrics are derived on every call.
type Result struct {
	Strategy      string
	Config        models.StrategyConfig
	From          time.Time
	To            time.Time
	Trades        []models.Trade
	Skipped       []models.SkipRecord
	Errors        []models.ExecutionError
	Logs          []string
	DaysEvaluated int
}

func (r *Result) skip(logger zerolog.Logger, s models.SkipRecord) {
	r.Skipped = append(r.Skipped, s)
	logging.LogSkip(logger, s)
}

func (r *Result) fail(logger zerolog.Logger, date time.Time, err error) {
	msg := fmt.Sprintf("[%s] Execution error: %v", models.FormatDate(date), err)
	r.Errors = append(r.Errors, models.ExecutionError{Date: date, Message: msg})
	logger.Warn().Err(err).Msg("Strategy execution failed")
}

// SkippedDays counts distinct dates with at least one skip record.
func (r *Result) SkippedDays() int {
	seen := make(map[string]bool)
	for _, s := range r.Skipped {
		seen[models.FormatDate(s.Date)] = true
	}
	return len(seen)
}

// Summary computes the headline metrics.
func (r *Result) Summary() metrics.Summary {
	return metrics.Summarize(r.Trades, r.SkippedDays())
}

// EquityCurve returns cumulative daily net P&L.
func (r *Result) EquityCurve() []metrics.EquityPoint {
	return metrics.EquityCurve(r.Trades)
}

// DTEBreakdown groups trades by DTE bucket; nil uses the defaults.
func (r *Result) DTEBreakdown(buckets []metrics.Bucket) []metrics.BucketStats {
	return metrics.DTEBreakdown(r.Trades, buckets)
}

// CostBreakdown sums costs across every trade.
func (r *Result) CostBreakdown() models.CostBreakdown {
	return metrics.CostBreakdown(r.Trades)
}

// Export is the serialized form of a result.
type Export struct {
	Strategy        string                `json:"strategy"`
	From            string                `json:"from"`
	To              string                `json:"to"`
	Trades          []ExportTrade         `json:"trades"`
	SkippedDays     []ExportSkip          `json:"skipped_days"`
	Summary         metrics.Summary       `json:"summary"`
	EquityCurve     []ExportEquity        `json:"equity_curve"`
	DTEBreakdown    []metrics.BucketStats `json:"dte_breakdown"`
	CostBreakdown   models.CostBreakdown  `json:"cost_breakdown"`
	ExitReasons     map[string]int        `json:"exit_reasons"`
	ExecutionErrors []string              `json:"execution_errors"`
	Logs            []string              `json:"logs"`
	Config          models.StrategyConfig `json:"config"`
}

// ExportTrade is one trade row.
type ExportTrade struct {
	Date           string               `json:"date"`
	Leg            int                  `json:"leg"`
	Label          string               `json:"label,omitempty"`
	Action         models.Action        `json:"action"`
	Strike         string               `json:"strike"`
	OptionType     models.OptionType    `json:"option_type"`
	AbsoluteStrike float64              `json:"absolute_strike"`
	EntryTime      string               `json:"entry_time"`
	ExitTime       string               `json:"exit_time"`
	EntryPrice     float64              `json:"entry_price"`
	ExitPrice      float64              `json:"exit_price"`
	ExitReason     models.ExitReason    `json:"exit_reason"`
	Quantity       int                  `json:"quantity"`
	GrossPnL       float64              `json:"gross_pnl"`
	NetPnL         float64              `json:"net_pnl"`
	DTE            int                  `json:"dte"`
	Spot           float64              `json:"spot"`
	VIX            float64              `json:"vix"`
	Cost           models.CostBreakdown `json:"cost"`
}

// ExportSkip is one skip row; leg is zero for a whole-day skip.
type ExportSkip struct {
	Date   string `json:"date"`
	Leg    int    `json:"leg,omitempty"`
	Reason string `json:"reason"`
}

// ExportEquity is one equity curve row.
type ExportEquity struct {
	Date       string  `json:"date"`
	DailyPnL   float64 `json:"daily_pnl"`
	Cumulative float64 `json:"cumulative"`
}

// Export builds the serialized form. Floats are rounded to two places and
// unbounded ratios are capped.
func (r *Result) Export() Export {
	out := Export{
		Strategy:        r.Strategy,
		From:            models.FormatDate(r.From),
		To:              models.FormatDate(r.To),
		Trades:          make([]ExportTrade, 0, len(r.Trades)),
		SkippedDays:     make([]ExportSkip, 0, len(r.Skipped)),
		EquityCurve:     make([]ExportEquity, 0),
		DTEBreakdown:    make([]metrics.BucketStats, 0),
		ExitReasons:     make(map[string]int),
		ExecutionErrors: make([]string, 0, len(r.Errors)),
		Config:          r.Config,
	}

	for _, t := range r.Trades {
		out.Trades = append(out.Trades, ExportTrade{
			Date:           models.FormatDate(t.Date),
			Leg:            t.LegID,
			Label:          t.Label,
			Action:         t.Action,
			Strike:         t.StrikeLabel,
			OptionType:     t.OptionType,
			AbsoluteStrike: round2(t.AbsoluteStrike),
			EntryTime:      t.EntryTime,
			ExitTime:       t.ExitTime,
			EntryPrice:     round2(t.EntryPrice),
			ExitPrice:      round2(t.ExitPrice),
			ExitReason:     t.ExitReason,
			Quantity:       t.Quantity,
			GrossPnL:       round2(t.GrossPnL),
			NetPnL:         round2(t.NetPnL),
			DTE:            t.DTE,
			Spot:           round2(t.Spot),
			VIX:            round2(t.VIX),
			Cost:           roundCost(t.Cost),
		})
	}
	for _, s := range r.Skipped {
		out.SkippedDays = append(out.SkippedDays, ExportSkip{Date: models.FormatDate(s.Date), Leg: s.Leg, Reason: s.Reason})
	}
	for _, p := range r.EquityCurve() {
		out.EquityCurve = append(out.EquityCurve, ExportEquity{
			Date:       models.FormatDate(p.Date),
			DailyPnL:   round2(p.DailyPnL),
			Cumulative: round2(p.Cumulative),
		})
	}
	for _, b := range r.DTEBreakdown(nil) {
		b.TotalPnL = round2(b.TotalPnL)
		b.AvgPnL = round2(b.AvgPnL)
		b.WinRate = round2(b.WinRate)
		out.DTEBreakdown = append(out.DTEBreakdown, b)
	}
	for reason, n := range metrics.ExitReasonCounts(r.Trades) {
		out.ExitReasons[string(reason)] = n
	}
	for _, e := range r.Errors {
		out.ExecutionErrors = append(out.ExecutionErrors, e.Message)
	}

	logs := r.Logs
	if len(logs) > ExportLogLimit {
		logs = logs[len(logs)-ExportLogLimit:]
	}
	out.Logs = append(make([]string, 0, len(logs)), logs...)

	out.Summary = roundSummary(r.Summary().Capped())
	out.CostBreakdown = roundCost(r.CostBreakdown())
	return out
}

// WriteJSON writes the export as indented JSON.
func (r *Result) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r.Export())
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(metrics.Cap(v)).Round(2).InexactFloat64()
}

func roundCost(c models.CostBreakdown) models.CostBreakdown {
	return models.CostBreakdown{
		Slippage:        round2(c.Slippage),
		Brokerage:       round2(c.Brokerage),
		STT:             round2(c.STT),
		ExchangeCharges: round2(c.ExchangeCharges),
		SEBIFee:         round2(c.SEBIFee),
		GST:             round2(c.GST),
		StampDuty:       round2(c.StampDuty),
		Total:           round2(c.Total),
	}
}

func roundSummary(s metrics.Summary) metrics.Summary {
	s.WinRate = round2(s.WinRate)
	s.GrossPnL = round2(s.GrossPnL)
	s.TotalCost = round2(s.TotalCost)
	s.NetPnL = round2(s.NetPnL)
	s.MaxDrawdown = round2(s.MaxDrawdown)
	s.ProfitFactor = round2(s.ProfitFactor)
	s.PayoffRatio = round2(s.PayoffRatio)
	s.Expectancy = round2(s.Expectancy)
	s.AvgWin = round2(s.AvgWin)
	s.AvgLoss = round2(s.AvgLoss)
	s.MaxWin = round2(s.MaxWin)
	s.MaxLoss = round2(s.MaxLoss)
	s.SharpeRatio = round2(s.SharpeRatio)
	s.CalmarRatio = round2(s.CalmarRatio)
	s.AvgDailyPnL = round2(s.AvgDailyPnL)
	return s
}
