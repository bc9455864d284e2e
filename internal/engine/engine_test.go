package engine

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-backtester/internal/costs"
	"options-backtester/internal/datacache"
	"options-backtester/internal/models"
	"options-backtester/internal/sdk"
)

var (
	atmCE = models.SeriesKey{Strike: "ATM", Type: models.Call}
	atmPE = models.SeriesKey{Strike: "ATM", Type: models.Put}
)

func date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := models.ParseDate(s)
	require.NoError(t, err)
	return d
}

// buildDay returns ATM CE at 100 and PE at 90 for 09:15-15:29.
func buildDay(d time.Time, edit func(c *models.OptionCandle)) []models.OptionCandle {
	rows := datacache.FlatSeries(d, atmCE, 555, 929, 100, 21650, 14.2)
	rows = append(rows, datacache.FlatSeries(d, atmPE, 555, 929, 90, 21650, 14.2)...)
	for i := range rows {
		rows[i].AbsoluteStrike = 21650
		if edit != nil {
			edit(&rows[i])
		}
	}
	return rows
}

func at(hhmm string, typ models.OptionType, c *models.OptionCandle) bool {
	return c.Type == typ && c.HHMM() == hhmm
}

func sellLeg(typ models.OptionType) models.LegConfig {
	return models.LegConfig{Action: models.Sell, Strike: "ATM", OptionType: typ, Lots: 1}
}

func baseConfig(legs ...models.LegConfig) models.StrategyConfig {
	cfg := models.StrategyConfig{
		Name:      "test",
		Legs:      legs,
		EntryTime: "09:20",
		ExitTime:  "15:15",
		SLPct:     25,
		LotSize:   25,
	}
	cfg.ApplyDefaults()
	return cfg
}

func model() *costs.Model {
	return costs.NewModel(costs.DefaultConfig(), nil)
}

func runLeg(t *testing.T, cfg models.StrategyConfig, edit func(c *models.OptionCandle)) models.Trade {
	t.Helper()
	require.NoError(t, cfg.Validate())
	d := date(t, "2024-01-02")
	day := datacache.NewDay(d, buildDay(d, edit))
	return ExecuteLeg(day, PlanLeg(&cfg, 0), 2, model())
}

func TestExactPriceStop(t *testing.T) {
	tr := runLeg(t, baseConfig(sellLeg(models.Call)), func(c *models.OptionCandle) {
		if at("10:00", models.Call, c) {
			c.High = 130
		}
	})

	require.False(t, tr.Skipped)
	assert.Equal(t, "09:20", tr.EntryTime)
	assert.Equal(t, 100.0, tr.EntryPrice)
	assert.Equal(t, 125.0, tr.ExitPrice)
	assert.Equal(t, "10:00", tr.ExitTime)
	assert.Equal(t, models.ExitSLHard, tr.ExitReason)
	assert.Equal(t, -625.0, tr.GrossPnL)
	assert.InDelta(t, tr.GrossPnL-tr.Cost.Total, tr.NetPnL, 1e-9)
}

func TestClosePriceStop(t *testing.T) {
	cfg := baseConfig(sellLeg(models.Call))
	cfg.SLType = models.TriggerClose
	tr := runLeg(t, cfg, func(c *models.OptionCandle) {
		if at("10:00", models.Call, c) {
			c.Close = 126
			c.High = 124
		}
	})

	assert.Equal(t, 126.0, tr.ExitPrice)
	assert.Equal(t, models.ExitSLClose, tr.ExitReason)
}

func TestCloseModeIgnoresWick(t *testing.T) {
	cfg := baseConfig(sellLeg(models.Call))
	cfg.SLType = models.TriggerClose
	tr := runLeg(t, cfg, func(c *models.OptionCandle) {
		if at("10:00", models.Call, c) {
			c.High = 140
		}
	})
	assert.Equal(t, models.ExitTime, tr.ExitReason)
}

func TestTimeExitAtExitCandleOpen(t *testing.T) {
	tr := runLeg(t, baseConfig(sellLeg(models.Call)), func(c *models.OptionCandle) {
		if at("15:15", models.Call, c) {
			c.Open = 80
			c.High = 200
		}
	})

	assert.Equal(t, models.ExitTime, tr.ExitReason)
	assert.Equal(t, "15:15", tr.ExitTime)
	assert.Equal(t, 80.0, tr.ExitPrice)
	assert.Equal(t, 500.0, tr.GrossPnL)
}

func TestStopBeatsTargetOnSameCandle(t *testing.T) {
	cfg := baseConfig(sellLeg(models.Call))
	cfg.TargetPct = 50
	tr := runLeg(t, cfg, func(c *models.OptionCandle) {
		if at("11:00", models.Call, c) {
			c.High = 130
			c.Low = 40
		}
	})
	assert.Equal(t, models.ExitSLHard, tr.ExitReason)
}

func TestLongTargetAndOverride(t *testing.T) {
	leg := models.LegConfig{Action: models.Buy, Strike: "ATM", OptionType: models.Put, Lots: 2, TargetPct: models.FloatPtr(20), SLPct: models.FloatPtr(0)}
	cfg := baseConfig(leg)
	tr := runLeg(t, cfg, func(c *models.OptionCandle) {
		if at("09:45", models.Put, c) {
			c.Low = 10
		}
		if at("12:00", models.Put, c) {
			c.High = 110
		}
	})

	assert.Equal(t, models.ExitTargetHard, tr.ExitReason)
	assert.InDelta(t, 108.0, tr.ExitPrice, 1e-9)
	assert.Equal(t, 50, tr.Quantity)
	assert.InDelta(t, 900.0, tr.GrossPnL, 1e-6)
}

func TestLegSkipReasons(t *testing.T) {
	cfg := baseConfig(models.LegConfig{Action: models.Sell, Strike: "ATM+3", OptionType: models.Call, Lots: 1})
	tr := runLeg(t, cfg, nil)
	assert.True(t, tr.Skipped)
	assert.Equal(t, ReasonNoSeries, tr.SkipReason)

	cfg = baseConfig(sellLeg(models.Call))
	cfg.EntryTime = "09:10"
	tr = runLeg(t, cfg, nil)
	assert.True(t, tr.Skipped)
	assert.Equal(t, "No candle at 09:10", tr.SkipReason)
}

func TestScanEndsWithoutTrigger(t *testing.T) {
	d := date(t, "2024-01-02")
	var rows []models.OptionCandle
	for _, r := range buildDay(d, nil) {
		if r.Minute() <= models.MustHHMM("14:00") {
			if r.HHMM() == "14:00" {
				r.Close = 70
			}
			rows = append(rows, r)
		}
	}
	cfg := baseConfig(sellLeg(models.Call))
	tr := ExecuteLeg(datacache.NewDay(d, rows), PlanLeg(&cfg, 0), 2, model())

	assert.Equal(t, models.ExitTime, tr.ExitReason)
	assert.Equal(t, "14:00", tr.ExitTime)
	assert.Equal(t, 70.0, tr.ExitPrice)
}

func TestCheckDataBoundary(t *testing.T) {
	d := date(t, "2024-01-02")
	full := datacache.NewDay(d, buildDay(d, nil))

	cfg := baseConfig(sellLeg(models.Call), sellLeg(models.Put))
	ok, reason := CheckDataBoundary(full, &cfg)
	assert.True(t, ok, reason)

	cfg = baseConfig(sellLeg(models.Call), models.LegConfig{Action: models.Sell, Strike: "ATM+5", OptionType: models.Put, Lots: 1})
	ok, reason = CheckDataBoundary(full, &cfg)
	assert.False(t, ok)
	assert.Equal(t, "Missing strikes: [ATM+5]", reason)

	cfg = baseConfig(sellLeg(models.Call))
	cfg.ExitTime = "15:45"
	ok, reason = CheckDataBoundary(full, &cfg)
	assert.False(t, ok)
	assert.Equal(t, "Strike ATM CE data doesn't cover 09:20-15:45", reason)

	var gappy []models.OptionCandle
	for _, r := range buildDay(d, nil) {
		if r.Type == models.Call && r.HHMM() == "12:30" {
			continue
		}
		gappy = append(gappy, r)
	}
	cfg = baseConfig(sellLeg(models.Call))
	ok, reason = CheckDataBoundary(datacache.NewDay(d, gappy), &cfg)
	assert.False(t, ok)
	assert.Equal(t, "Strike ATM CE has gap at 12:30", reason)
}

// newBacktester serves 2024-01-01..2024-01-05 with per-day edits.
func newBacktester(t *testing.T, edits map[string]func(c *models.OptionCandle)) *Backtester {
	t.Helper()
	src := datacache.NewMemorySource()
	var rows []models.OptionCandle
	for _, s := range []string{"2024-01-01", "2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05"} {
		rows = append(rows, buildDay(date(t, s), edits[s])...)
	}
	src.Add("NIFTY_Options_2024-01-01_2024-01-31.csv", date(t, "2024-01-01"), date(t, "2024-01-31"), rows)
	return New(datacache.New(src, zerolog.Nop()), nil, model(), zerolog.Nop())
}

func TestRunSkipsMissingStrikes(t *testing.T) {
	bt := newBacktester(t, nil)
	cfg := baseConfig(models.LegConfig{Action: models.Sell, Strike: "ATM+5", OptionType: models.Call, Lots: 1})

	res, err := bt.Run(context.Background(), cfg, date(t, "2024-01-02"), date(t, "2024-01-02"))
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
	require.Len(t, res.Skipped, 1)
	assert.Contains(t, res.Skipped[0].Reason, "Missing strikes")
	assert.Equal(t, 0, res.Skipped[0].Leg)
}

func TestRunWeekdaysAndFilters(t *testing.T) {
	bt := newBacktester(t, map[string]func(c *models.OptionCandle){
		"2024-01-03": func(c *models.OptionCandle) { c.VIX = 25 },
	})
	cfg := baseConfig(sellLeg(models.Call), sellLeg(models.Put))
	cfg.VIXMax = models.FloatPtr(20)
	cfg.DTEMax = models.IntPtr(3)

	var calls []int
	bt.WithProgress(1, func(done, total int, _ time.Time) { calls = append(calls, done) })

	// 2024-01-06/07 are a weekend; 2024-01-08 has no data.
	res, err := bt.Run(context.Background(), cfg, date(t, "2024-01-01"), date(t, "2024-01-08"))
	require.NoError(t, err)

	// Mon 01-01 has DTE 3, Tue 2, Wed 1 (VIX filtered), Thu 0, Fri 6 (DTE filtered).
	require.Len(t, res.Skipped, 2)
	assert.Equal(t, "2024-01-03", models.FormatDate(res.Skipped[0].Date))
	assert.Contains(t, res.Skipped[0].Reason, "VIX")
	assert.Equal(t, "2024-01-05", models.FormatDate(res.Skipped[1].Date))
	assert.Contains(t, res.Skipped[1].Reason, "DTE")

	assert.Len(t, res.Trades, 6)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, calls)
	for _, tr := range res.Trades {
		assert.Equal(t, models.ExitTime, tr.ExitReason)
	}

	s := res.Summary()
	assert.Equal(t, 3, s.TradingDays)
	assert.Equal(t, 2, s.SkippedDays)
}

func TestRunIgnoresVIXFilterWithoutReadings(t *testing.T) {
	bt := newBacktester(t, map[string]func(c *models.OptionCandle){
		"2024-01-02": func(c *models.OptionCandle) { c.VIX = 0 },
	})
	cfg := baseConfig(sellLeg(models.Call))
	cfg.VIXMin = models.FloatPtr(12)

	res, err := bt.Run(context.Background(), cfg, date(t, "2024-01-02"), date(t, "2024-01-02"))
	require.NoError(t, err)
	assert.Empty(t, res.Skipped)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, models.ExitTime, res.Trades[0].ExitReason)
}

func TestRunIsDeterministic(t *testing.T) {
	edits := map[string]func(c *models.OptionCandle){
		"2024-01-02": func(c *models.OptionCandle) {
			if at("11:00", models.Call, c) {
				c.High = 150
			}
		},
		"2024-01-04": func(c *models.OptionCandle) {
			if at("15:15", models.Put, c) {
				c.Open = 60
			}
		},
	}
	cfg := baseConfig(sellLeg(models.Call), sellLeg(models.Put))

	var outs [2]string
	for i := range outs {
		res, err := newBacktester(t, edits).Run(context.Background(), cfg, date(t, "2024-01-01"), date(t, "2024-01-05"))
		require.NoError(t, err)
		var buf bytes.Buffer
		require.NoError(t, res.WriteJSON(&buf))
		outs[i] = buf.String()
	}
	assert.Equal(t, outs[0], outs[1])
	assert.Contains(t, outs[0], `"exit_reason": "sl_hard"`)
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	bt := newBacktester(t, nil)
	_, err := bt.Run(context.Background(), baseConfig(), date(t, "2024-01-01"), date(t, "2024-01-02"))
	assert.Error(t, err)

	_, err = bt.Run(context.Background(), baseConfig(sellLeg(models.Call)), date(t, "2024-01-05"), date(t, "2024-01-01"))
	assert.Error(t, err)
}

func TestRunProcedureIsolatesFailures(t *testing.T) {
	bt := newBacktester(t, nil)
	proc := sdk.NewProcedure("flaky", func(ctx *sdk.Context) error {
		switch models.FormatDate(ctx.Date()) {
		case "2024-01-02":
			ctx.OpenPosition("ATM", models.Call, models.Sell, 1, "before failure")
			return errors.New("boom")
		case "2024-01-03":
			var m map[string]int
			m["x"] = 1
		}
		ctx.Log("sold straddle")
		ctx.OpenPosition("ATM", models.Call, models.Sell, 1, "CE")
		ctx.OpenPosition("ATM", models.Put, models.Sell, 1, "PE")
		return nil
	})

	cfg := models.StrategyConfig{EntryTime: "09:20", ExitTime: "15:15"}
	res, err := bt.RunProcedure(context.Background(), cfg, proc, date(t, "2024-01-01"), date(t, "2024-01-04"))
	require.NoError(t, err)

	assert.Equal(t, "flaky", res.Strategy)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, "[2024-01-02] Execution error: boom", res.Errors[0].Message)
	assert.True(t, strings.HasPrefix(res.Errors[1].Message, "[2024-01-03] Execution error: panic:"))

	// Two clean days with two legs each, plus the position opened before
	// the error on 01-02, closed at finalization.
	assert.Len(t, res.Trades, 5)
	assert.Len(t, res.Logs, 2)

	exp := res.Export()
	assert.Len(t, exp.ExecutionErrors, 2)
}

func TestExportCapsAndRounds(t *testing.T) {
	d := date(t, "2024-01-02")
	res := &Result{
		Strategy: "x",
		From:     d,
		To:       d,
		Trades: []models.Trade{
			{Date: d, LegID: 1, GrossPnL: 100.456, NetPnL: 90.123456, DTE: 2, ExitReason: models.ExitTime},
		},
	}
	for i := 0; i < 250; i++ {
		res.Logs = append(res.Logs, "line")
	}

	exp := res.Export()
	assert.Equal(t, 999.0, exp.Summary.ProfitFactor)
	assert.Equal(t, 90.12, exp.Trades[0].NetPnL)
	assert.Equal(t, 100.46, exp.Trades[0].GrossPnL)
	assert.Len(t, exp.Logs, ExportLogLimit)
	require.Len(t, exp.EquityCurve, 1)
	assert.Equal(t, 90.12, exp.EquityCurve[0].Cumulative)
	assert.Equal(t, 1, exp.ExitReasons["time_exit"])
}
