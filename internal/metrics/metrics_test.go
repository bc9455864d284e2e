package metrics

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-backtester/internal/models"
)

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := models.ParseDate(s)
	require.NoError(t, err)
	return d
}

func trade(t *testing.T, date string, net float64, dte int) models.Trade {
	return models.Trade{
		Date:     day(t, date),
		GrossPnL: net + 10,
		NetPnL:   net,
		DTE:      dte,
		Cost:     models.CostBreakdown{Brokerage: 10, Total: 10},
	}
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil, 3)
	assert.Equal(t, 0, s.TotalTrades)
	assert.Equal(t, 0.0, s.WinRate)
	assert.Equal(t, 0.0, s.ProfitFactor)
	assert.Equal(t, 0.0, s.SharpeRatio)
	assert.Equal(t, 0.0, s.CalmarRatio)
	assert.Equal(t, 3, s.SkippedDays)
}

func TestProfitFactorWithoutLosses(t *testing.T) {
	trades := []models.Trade{
		trade(t, "2024-01-02", 100, 2),
		trade(t, "2024-01-03", 50, 1),
	}
	assert.True(t, math.IsInf(ProfitFactor(trades), 1))

	s := Summarize(trades, 0).Capped()
	assert.Equal(t, Sentinel, s.ProfitFactor)
	assert.Equal(t, Sentinel, s.PayoffRatio)
	assert.Equal(t, 100.0, s.WinRate)
	assert.Equal(t, 0.0, s.MaxDrawdown)
	assert.Equal(t, 0.0, s.CalmarRatio)
}

func TestSummarizeMixed(t *testing.T) {
	trades := []models.Trade{
		trade(t, "2024-01-02", 300, 2),
		trade(t, "2024-01-02", -100, 2),
		trade(t, "2024-01-03", -200, 1),
		trade(t, "2024-01-04", -50, 0),
		trade(t, "2024-01-08", 0, 10),
		trade(t, "2024-01-08", 400, 10),
	}
	s := Summarize(trades, 1)

	assert.Equal(t, 6, s.TotalTrades)
	assert.Equal(t, 4, s.TradingDays)
	assert.Equal(t, 2, s.Winners)
	assert.Equal(t, 3, s.Losers)
	assert.Equal(t, 1, s.Breakeven)
	assert.InDelta(t, 100.0/3, s.WinRate, 1e-9)
	assert.Equal(t, 350.0, s.NetPnL)
	assert.Equal(t, 410.0, s.GrossPnL)
	assert.Equal(t, 60.0, s.TotalCost)
	// Peak 300 then 300-100-200-50 = -50.
	assert.Equal(t, 350.0, s.MaxDrawdown)
	assert.InDelta(t, 700.0/350.0, s.ProfitFactor, 1e-9)
	assert.InDelta(t, 350.0/(350.0/3), s.PayoffRatio, 1e-9)
	assert.Equal(t, 400.0, s.MaxWin)
	assert.Equal(t, -200.0, s.MaxLoss)
	assert.Equal(t, 1, s.MaxConsecutiveWins)
	assert.Equal(t, 3, s.MaxConsecutiveLosses)
	assert.InDelta(t, 350.0/4, s.AvgDailyPnL, 1e-9)
	assert.InDelta(t, 350.0*(252.0/4)/350.0, s.CalmarRatio, 1e-9)
	assert.InDelta(t, s.WinRate/100*s.AvgWin-(1-s.WinRate/100)*math.Abs(s.AvgLoss), s.Expectancy, 1e-9)
}

func TestSharpe(t *testing.T) {
	assert.Equal(t, 0.0, Sharpe(nil))
	assert.Equal(t, 0.0, Sharpe([]float64{100}))
	assert.Equal(t, 0.0, Sharpe([]float64{100, 100, 100}))

	// mean 150, population std 50.
	assert.InDelta(t, 3*math.Sqrt(252), Sharpe([]float64{100, 200}), 1e-9)
}

func TestEquityCurve(t *testing.T) {
	trades := []models.Trade{
		trade(t, "2024-01-03", -20, 1),
		trade(t, "2024-01-02", 50, 2),
		trade(t, "2024-01-02", 25, 2),
	}
	curve := EquityCurve(trades)
	require.Len(t, curve, 2)
	assert.Equal(t, "2024-01-02", models.FormatDate(curve[0].Date))
	assert.Equal(t, 75.0, curve[0].DailyPnL)
	assert.Equal(t, 75.0, curve[0].Cumulative)
	assert.Equal(t, -20.0, curve[1].DailyPnL)
	assert.Equal(t, 55.0, curve[1].Cumulative)
}

func TestDTEBreakdown(t *testing.T) {
	trades := []models.Trade{
		trade(t, "2024-01-02", 100, 0),
		trade(t, "2024-01-03", -40, 3),
		trade(t, "2024-01-04", 60, 5),
		trade(t, "2024-01-05", 10, 30),
	}
	got := DTEBreakdown(trades, nil)
	require.Len(t, got, 3)

	assert.Equal(t, "0-3", got[0].Bucket)
	assert.Equal(t, 2, got[0].Trades)
	assert.Equal(t, 60.0, got[0].TotalPnL)
	assert.Equal(t, 30.0, got[0].AvgPnL)
	assert.Equal(t, 50.0, got[0].WinRate)

	assert.Equal(t, "4-7", got[1].Bucket)
	assert.Equal(t, "15+", got[2].Bucket)
}

func TestDTEBreakdownOverlappingBuckets(t *testing.T) {
	trades := []models.Trade{
		trade(t, "2024-01-02", 100, 2),
		trade(t, "2024-01-03", -40, 6),
		trade(t, "2024-01-04", 60, 9),
	}
	got := DTEBreakdown(trades, []Bucket{{0, 7}, {5, 10}})
	require.Len(t, got, 2)
	assert.Equal(t, "0-7", got[0].Bucket)
	assert.Equal(t, 2, got[0].Trades)
	assert.Equal(t, "5-10", got[1].Bucket)
	assert.Equal(t, 1, got[1].Trades)
	assert.Equal(t, 60.0, got[1].TotalPnL)
}

func TestCostBreakdownAndReasons(t *testing.T) {
	a := trade(t, "2024-01-02", 10, 1)
	a.ExitReason = models.ExitTime
	b := trade(t, "2024-01-02", 10, 1)
	b.ExitReason = models.ExitSLHard
	c := trade(t, "2024-01-03", 10, 0)
	c.ExitReason = models.ExitTime

	cb := CostBreakdown([]models.Trade{a, b, c})
	assert.InDelta(t, 30.0, cb.Brokerage, 1e-9)
	assert.InDelta(t, 30.0, cb.Total, 1e-9)

	reasons := ExitReasonCounts([]models.Trade{a, b, c})
	assert.Equal(t, 2, reasons[models.ExitTime])
	assert.Equal(t, 1, reasons[models.ExitSLHard])
}

func TestCap(t *testing.T) {
	assert.Equal(t, Sentinel, Cap(math.Inf(1)))
	assert.Equal(t, -Sentinel, Cap(math.Inf(-1)))
	assert.Equal(t, 0.0, Cap(math.NaN()))
	assert.Equal(t, 1.5, Cap(1.5))
}

func TestEquityChartASCII(t *testing.T) {
	assert.Equal(t, "No data to display", EquityChartASCII(nil, 40, 10))

	trades := []models.Trade{
		trade(t, "2024-01-02", 50, 2),
		trade(t, "2024-01-03", -20, 1),
		trade(t, "2024-01-04", 80, 0),
	}
	chart := EquityChartASCII(EquityCurve(trades), 20, 5)
	assert.True(t, strings.HasPrefix(chart, "Equity ("))
	assert.Equal(t, 3, strings.Count(chart, "█"))
}
