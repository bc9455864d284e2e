// Package metrics derives performance statistics from trade logs. Every
// function is a pure projection of its inputs; nothing is cached.
package metrics

import (
	"fmt"
	"math"
	"sort"
	"time"

	"options-backtester/internal/models"
)

// Sentinel stands in for ratios that are unbounded because there were no
// losses.
const Sentinel = 999.0

// TradingDaysPerYear annualizes daily statistics.
const TradingDaysPerYear = 252

// Summary is the headline statistics block of a run.
type Summary struct {
	TotalTrades          int     `json:"total_trades"`
	TradingDays          int     `json:"trading_days"`
	Winners              int     `json:"winners"`
	Losers               int     `json:"losers"`
	Breakeven            int     `json:"breakeven"`
	WinRate              float64 `json:"win_rate"`
	GrossPnL             float64 `json:"gross_pnl"`
	TotalCost            float64 `json:"total_cost"`
	NetPnL               float64 `json:"net_pnl"`
	MaxDrawdown          float64 `json:"max_drawdown"`
	ProfitFactor         float64 `json:"profit_factor"`
	PayoffRatio          float64 `json:"payoff_ratio"`
	Expectancy           float64 `json:"expectancy"`
	AvgWin               float64 `json:"avg_win"`
	AvgLoss              float64 `json:"avg_loss"`
	MaxWin               float64 `json:"max_win"`
	MaxLoss              float64 `json:"max_loss"`
	SharpeRatio          float64 `json:"sharpe_ratio"`
	CalmarRatio          float64 `json:"calmar_ratio"`
	MaxConsecutiveWins   int     `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
	AvgDailyPnL          float64 `json:"avg_daily_pnl"`
	SkippedDays          int     `json:"skipped_days"`
}

// Summarize computes every headline statistic. Ratios that are unbounded
// are left as +Inf; use Capped before serializing.
func Summarize(trades []models.Trade, skipped int) Summary {
	daily := DailyPnL(trades)
	dailyVals := make([]float64, len(daily))
	for i, d := range daily {
		dailyVals[i] = d.PnL
	}

	s := Summary{
		TotalTrades:          len(trades),
		TradingDays:          len(daily),
		Winners:              countIf(trades, func(v float64) bool { return v > 0 }),
		Losers:               countIf(trades, func(v float64) bool { return v < 0 }),
		WinRate:              WinRate(trades),
		GrossPnL:             GrossPnL(trades),
		TotalCost:            CostBreakdown(trades).Total,
		NetPnL:               NetPnL(trades),
		MaxDrawdown:          MaxDrawdown(trades),
		ProfitFactor:         ProfitFactor(trades),
		PayoffRatio:          PayoffRatio(trades),
		Expectancy:           Expectancy(trades),
		AvgWin:               AvgWin(trades),
		AvgLoss:              AvgLoss(trades),
		MaxWin:               MaxWin(trades),
		MaxLoss:              MaxLoss(trades),
		SharpeRatio:          Sharpe(dailyVals),
		MaxConsecutiveWins:   MaxConsecutive(trades, true),
		MaxConsecutiveLosses: MaxConsecutive(trades, false),
		AvgDailyPnL:          mean(dailyVals),
		SkippedDays:          skipped,
	}
	s.Breakeven = s.TotalTrades - s.Winners - s.Losers
	s.CalmarRatio = Calmar(s.NetPnL, s.TradingDays, s.MaxDrawdown)
	return s
}

// Capped returns a copy safe for serialization: +Inf ratios become
// Sentinel and NaN becomes zero.
func (s Summary) Capped() Summary {
	s.ProfitFactor = Cap(s.ProfitFactor)
	s.PayoffRatio = Cap(s.PayoffRatio)
	s.SharpeRatio = Cap(s.SharpeRatio)
	s.CalmarRatio = Cap(s.CalmarRatio)
	return s
}

// Cap maps +Inf to Sentinel, -Inf to -Sentinel and NaN to zero.
func Cap(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case math.IsInf(v, 1):
		return Sentinel
	case math.IsInf(v, -1):
		return -Sentinel
	}
	return v
}

func countIf(trades []models.Trade, pred func(float64) bool) int {
	n := 0
	for _, t := range trades {
		if pred(t.NetPnL) {
			n++
		}
	}
	return n
}

// WinRate is the percentage of trades with positive net P&L.
func WinRate(trades []models.Trade) float64 {
	if len(trades) == 0 {
		return 0
	}
	return float64(countIf(trades, func(v float64) bool { return v > 0 })) / float64(len(trades)) * 100
}

// GrossPnL sums pre-cost P&L.
func GrossPnL(trades []models.Trade) float64 {
	total := 0.0
	for _, t := range trades {
		total += t.GrossPnL
	}
	return total
}

// NetPnL sums post-cost P&L.
func NetPnL(trades []models.Trade) float64 {
	total := 0.0
	for _, t := range trades {
		total += t.NetPnL
	}
	return total
}

func sumIf(trades []models.Trade, pred func(float64) bool) (float64, int) {
	total, n := 0.0, 0
	for _, t := range trades {
		if pred(t.NetPnL) {
			total += t.NetPnL
			n++
		}
	}
	return total, n
}

// AvgWin is the mean net P&L of winning trades.
func AvgWin(trades []models.Trade) float64 {
	total, n := sumIf(trades, func(v float64) bool { return v > 0 })
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

// AvgLoss is the mean net P&L of losing trades (negative).
func AvgLoss(trades []models.Trade) float64 {
	total, n := sumIf(trades, func(v float64) bool { return v < 0 })
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

// MaxWin is the largest winning trade.
func MaxWin(trades []models.Trade) float64 {
	best := 0.0
	for _, t := range trades {
		if t.NetPnL > best {
			best = t.NetPnL
		}
	}
	return best
}

// MaxLoss is the largest losing trade (negative).
func MaxLoss(trades []models.Trade) float64 {
	worst := 0.0
	for _, t := range trades {
		if t.NetPnL < worst {
			worst = t.NetPnL
		}
	}
	return worst
}

// ProfitFactor is gross wins over absolute gross losses. It is +Inf when
// there are trades but no losses, and zero with no trades.
func ProfitFactor(trades []models.Trade) float64 {
	if len(trades) == 0 {
		return 0
	}
	wins, _ := sumIf(trades, func(v float64) bool { return v > 0 })
	losses, _ := sumIf(trades, func(v float64) bool { return v < 0 })
	if losses == 0 {
		return math.Inf(1)
	}
	return wins / math.Abs(losses)
}

// PayoffRatio is average win over absolute average loss, +Inf without
// losses.
func PayoffRatio(trades []models.Trade) float64 {
	if len(trades) == 0 {
		return 0
	}
	avgLoss := AvgLoss(trades)
	if avgLoss == 0 {
		return math.Inf(1)
	}
	return AvgWin(trades) / math.Abs(avgLoss)
}

// Expectancy is the expected net P&L per trade.
func Expectancy(trades []models.Trade) float64 {
	wr := WinRate(trades) / 100
	return wr*AvgWin(trades) - (1-wr)*math.Abs(AvgLoss(trades))
}

// MaxDrawdown is the largest peak-to-trough fall of cumulative net P&L over
// trades in execution order.
func MaxDrawdown(trades []models.Trade) float64 {
	equity, peak, maxDD := 0.0, 0.0, 0.0
	for _, t := range trades {
		equity += t.NetPnL
		peak = math.Max(peak, equity)
		maxDD = math.Max(maxDD, peak-equity)
	}
	return maxDD
}

// MaxConsecutive returns the longest run of winning (or losing) trades.
func MaxConsecutive(trades []models.Trade, winning bool) int {
	count, best := 0, 0
	for _, t := range trades {
		if (winning && t.NetPnL > 0) || (!winning && t.NetPnL < 0) {
			count++
			if count > best {
				best = count
			}
		} else {
			count = 0
		}
	}
	return best
}

// DailyPoint is one date's aggregated net P&L.
type DailyPoint struct {
	Date time.Time
	PnL  float64
}

// DailyPnL groups net P&L by trade date, ordered by date.
func DailyPnL(trades []models.Trade) []DailyPoint {
	idx := make(map[string]int)
	var out []DailyPoint
	for _, t := range trades {
		k := models.FormatDate(t.Date)
		i, ok := idx[k]
		if !ok {
			i = len(out)
			idx[k] = i
			out = append(out, DailyPoint{Date: models.DateOnly(t.Date)})
		}
		out[i].PnL += t.NetPnL
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// Sharpe annualizes mean over population standard deviation of daily P&L.
// It is zero with fewer than two days or no variance.
func Sharpe(daily []float64) float64 {
	if len(daily) < 2 {
		return 0
	}
	m := mean(daily)
	variance := 0.0
	for _, v := range daily {
		variance += (v - m) * (v - m)
	}
	variance /= float64(len(daily))
	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return m / std * math.Sqrt(TradingDaysPerYear)
}

// Calmar is annualized net P&L over max drawdown, zero without drawdown.
func Calmar(net float64, tradingDays int, maxDrawdown float64) float64 {
	if maxDrawdown == 0 || tradingDays == 0 {
		return 0
	}
	return net * (TradingDaysPerYear / float64(tradingDays)) / maxDrawdown
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	total := 0.0
	for _, v := range vals {
		total += v
	}
	return total / float64(len(vals))
}

// EquityPoint is one row of the equity curve.
type EquityPoint struct {
	Date       time.Time
	DailyPnL   float64
	Cumulative float64
}

// EquityCurve accumulates daily net P&L in date order.
func EquityCurve(trades []models.Trade) []EquityPoint {
	daily := DailyPnL(trades)
	out := make([]EquityPoint, len(daily))
	cum := 0.0
	for i, d := range daily {
		cum += d.PnL
		out[i] = EquityPoint{Date: d.Date, DailyPnL: d.PnL, Cumulative: cum}
	}
	return out
}

// CostBreakdown sums cost components across trades.
func CostBreakdown(trades []models.Trade) models.CostBreakdown {
	var total models.CostBreakdown
	for _, t := range trades {
		total = total.Add(t.Cost)
	}
	return total
}

// Bucket is an inclusive DTE range.
type Bucket struct {
	Min int
	Max int
}

// Label renders the bucket as "0-3" or "15+" for an open upper bound.
func (b Bucket) Label() string {
	if b.Max >= 999 {
		return fmt.Sprintf("%d+", b.Min)
	}
	return fmt.Sprintf("%d-%d", b.Min, b.Max)
}

// DefaultBuckets are the standard DTE groupings.
var DefaultBuckets = []Bucket{{0, 3}, {4, 7}, {8, 14}, {15, 999}}

// BucketStats is performance within one DTE bucket.
type BucketStats struct {
	Bucket   string  `json:"bucket"`
	Trades   int     `json:"trades"`
	TotalPnL float64 `json:"total_pnl"`
	AvgPnL   float64 `json:"avg_pnl"`
	WinRate  float64 `json:"win_rate"`
}

// DTEBreakdown groups trades by DTE bucket. Nil buckets use DefaultBuckets.
// A trade counts toward the first bucket that holds its DTE only. Empty
// buckets are omitted.
func DTEBreakdown(trades []models.Trade, buckets []Bucket) []BucketStats {
	if buckets == nil {
		buckets = DefaultBuckets
	}
	grouped := make([][]models.Trade, len(buckets))
	for _, t := range trades {
		for i, b := range buckets {
			if t.DTE >= b.Min && t.DTE <= b.Max {
				grouped[i] = append(grouped[i], t)
				break
			}
		}
	}
	var out []BucketStats
	for i, in := range grouped {
		if len(in) == 0 {
			continue
		}
		total := NetPnL(in)
		out = append(out, BucketStats{
			Bucket:   buckets[i].Label(),
			Trades:   len(in),
			TotalPnL: total,
			AvgPnL:   total / float64(len(in)),
			WinRate:  WinRate(in),
		})
	}
	return out
}

// ExitReasonCounts tallies trades by exit reason.
func ExitReasonCounts(trades []models.Trade) map[models.ExitReason]int {
	out := make(map[models.ExitReason]int)
	for _, t := range trades {
		out[t.ExitReason]++
	}
	return out
}
