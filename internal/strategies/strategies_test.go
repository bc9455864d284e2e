package strategies

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-backtester/internal/costs"
	"options-backtester/internal/datacache"
	"options-backtester/internal/engine"
	"options-backtester/internal/models"
	"options-backtester/internal/sdk"
)

func date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := models.ParseDate(s)
	require.NoError(t, err)
	return d
}

// buildDay returns ATM CE at 100 and PE at 90 for 09:15-15:29.
func buildDay(d time.Time, edit func(c *models.OptionCandle)) []models.OptionCandle {
	rows := datacache.FlatSeries(d, models.SeriesKey{Strike: "ATM", Type: models.Call}, 555, 929, 100, 21650, 14.2)
	rows = append(rows, datacache.FlatSeries(d, models.SeriesKey{Strike: "ATM", Type: models.Put}, 555, 929, 90, 21650, 14.2)...)
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

func reentryContext(t *testing.T, rows []models.OptionCandle) *sdk.Context {
	t.Helper()
	cfg := ReentrySession()
	ctx, err := sdk.NewContext(datacache.NewDay(date(t, "2024-01-02"), rows),
		sdk.Session{DTE: 2, LotSize: cfg.LotSize, EntryTime: cfg.EntryTime, ExitTime: cfg.ExitTime},
		costs.NewModel(costs.DefaultConfig(), nil))
	require.NoError(t, err)
	return ctx
}

func runReentry(t *testing.T, edit func(c *models.OptionCandle)) sdk.DayResult {
	t.Helper()
	ctx := reentryContext(t, buildDay(date(t, "2024-01-02"), edit))
	require.NoError(t, NewStraddleReentry(DefaultReentryParams()).Run(ctx))
	return ctx.Finalize()
}

func TestReentryAfterRecovery(t *testing.T) {
	res := runReentry(t, func(c *models.OptionCandle) {
		switch {
		case at("10:00", models.Call, c):
			c.High = 135
		case at("10:05", models.Call, c):
			c.Open, c.High = 140, 140
		case at("10:10", models.Call, c):
			c.Open, c.High = 145, 145
		case at("10:20", models.Call, c):
			c.Open, c.High = 150, 150
		}
	})

	require.Len(t, res.Trades, 3)
	first := res.Trades[0]
	assert.Equal(t, 1, first.LegID)
	assert.Equal(t, "CE leg 1", first.Label)
	assert.Equal(t, "09:16", first.EntryTime)
	assert.Equal(t, models.ExitSLHard, first.ExitReason)
	assert.Equal(t, "10:00", first.ExitTime)
	assert.InDelta(t, 130.0, first.ExitPrice, 1e-9)

	assert.Equal(t, "PE leg 1", res.Trades[1].Label)
	assert.Equal(t, models.ExitTime, res.Trades[1].ExitReason)

	second := res.Trades[2]
	assert.Equal(t, 3, second.LegID)
	assert.Equal(t, "CE leg 2 (re-entry)", second.Label)
	assert.Equal(t, "10:10", second.EntryTime)
	assert.Equal(t, 145.0, second.EntryPrice)
	assert.Equal(t, models.ExitTime, second.ExitReason)
	assert.Equal(t, "14:30", second.ExitTime)
	assert.Equal(t, 100.0, second.ExitPrice)
	assert.Equal(t, 1125.0, second.GrossPnL)

	assert.Contains(t, res.Logs, "[2024-01-02] re-entered CE at 10:10 @ 145.00")
}

func TestReentryStop(t *testing.T) {
	res := runReentry(t, func(c *models.OptionCandle) {
		switch {
		case at("10:00", models.Put, c):
			c.High = 120
		case at("10:01", models.Put, c):
			c.Open, c.High = 130, 130
		case at("13:00", models.Put, c):
			c.High = 170
		}
	})

	require.Len(t, res.Trades, 3)
	assert.Equal(t, models.ExitSLHard, res.Trades[0].ExitReason)
	assert.InDelta(t, 117.0, res.Trades[0].ExitPrice, 1e-9)

	reentry := res.Trades[1]
	assert.Equal(t, "PE leg 2 (re-entry)", reentry.Label)
	assert.Equal(t, models.ExitReentrySL, reentry.ExitReason)
	assert.Equal(t, "13:00", reentry.ExitTime)
	assert.Equal(t, 130.0, reentry.EntryPrice)
	assert.InDelta(t, 169.0, reentry.ExitPrice, 1e-9)

	assert.Equal(t, "CE leg 1", res.Trades[2].Label)
}

func TestGlobalStopClosesEverything(t *testing.T) {
	res := runReentry(t, func(c *models.OptionCandle) {
		if at("12:00", models.Put, c) {
			c.High, c.Close = 500, 500
		}
	})

	require.Len(t, res.Trades, 2)
	for _, tr := range res.Trades {
		assert.Equal(t, models.ExitGlobalSL, tr.ExitReason)
		assert.Equal(t, "12:00", tr.ExitTime)
	}
	assert.Equal(t, 100.0, res.Trades[0].ExitPrice)
	assert.Equal(t, 500.0, res.Trades[1].ExitPrice)
}

func TestProfitLock(t *testing.T) {
	res := runReentry(t, func(c *models.OptionCandle) {
		if c.HHMM() == "11:00" {
			c.Low, c.Close = 40, 40
		}
	})

	require.Len(t, res.Trades, 2)
	for _, tr := range res.Trades {
		assert.Equal(t, models.ExitProfitLock, tr.ExitReason)
		assert.Equal(t, "11:01", tr.ExitTime)
		assert.Equal(t, 0.0, tr.GrossPnL)
	}
}

func TestCloseModeStopUsesClose(t *testing.T) {
	p := DefaultReentryParams()
	p.SLMode = models.TriggerClose
	ctx := reentryContext(t, buildDay(date(t, "2024-01-02"), func(c *models.OptionCandle) {
		switch {
		case at("10:00", models.Call, c):
			c.High = 200
		case at("10:30", models.Call, c):
			c.High, c.Close = 132, 132
		}
	}))
	require.NoError(t, NewStraddleReentry(p).Run(ctx))
	res := ctx.Finalize()

	require.NotEmpty(t, res.Trades)
	assert.Equal(t, models.ExitSLClose, res.Trades[0].ExitReason)
	assert.Equal(t, "10:30", res.Trades[0].ExitTime)
	assert.Equal(t, 132.0, res.Trades[0].ExitPrice)
}

func TestStandsAsideWithoutEntryPrices(t *testing.T) {
	var rows []models.OptionCandle
	for _, c := range buildDay(date(t, "2024-01-02"), nil) {
		if c.Type == models.Put && c.HHMM() == "09:16" {
			continue
		}
		rows = append(rows, c)
	}
	ctx := reentryContext(t, rows)
	require.NoError(t, NewStraddleReentry(DefaultReentryParams()).Run(ctx))
	res := ctx.Finalize()
	assert.Empty(t, res.Trades)
	assert.Len(t, res.Logs, 1)
}

func newBacktester(t *testing.T, edits map[string]func(c *models.OptionCandle)) *engine.Backtester {
	t.Helper()
	src := datacache.NewMemorySource()
	var rows []models.OptionCandle
	for _, s := range []string{"2024-01-01", "2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05"} {
		rows = append(rows, buildDay(date(t, s), edits[s])...)
	}
	src.Add("NIFTY_Options_2024-01-01_2024-01-31.csv", date(t, "2024-01-01"), date(t, "2024-01-31"), rows)
	return engine.New(datacache.New(src, zerolog.Nop()), nil, nil, zerolog.Nop())
}

func byDateAndLeg(trades []models.Trade) {
	sort.SliceStable(trades, func(i, j int) bool {
		if !trades[i].Date.Equal(trades[j].Date) {
			return trades[i].Date.Before(trades[j].Date)
		}
		return trades[i].LegID < trades[j].LegID
	})
}

func TestLegRulesMatchesRuleEngine(t *testing.T) {
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
			if at("10:00", models.Put, c) {
				c.Low = 50
			}
		},
	}
	cfg := models.StrategyConfig{
		Name: "straddle",
		Legs: []models.LegConfig{
			{Action: models.Sell, Strike: "ATM", OptionType: models.Call, Lots: 1},
			{Action: models.Sell, Strike: "ATM", OptionType: models.Put, Lots: 2, TargetPct: models.FloatPtr(40)},
		},
		EntryTime: "09:20",
		ExitTime:  "15:15",
		SLPct:     25,
		LotSize:   25,
	}
	from, to := date(t, "2024-01-01"), date(t, "2024-01-05")

	fixed, err := newBacktester(t, edits).Run(context.Background(), cfg, from, to)
	require.NoError(t, err)

	proc, err := NewLegRules(&cfg)
	require.NoError(t, err)
	scripted, err := newBacktester(t, edits).RunProcedure(context.Background(), cfg, proc, from, to)
	require.NoError(t, err)
	assert.Empty(t, scripted.Errors)

	byDateAndLeg(fixed.Trades)
	byDateAndLeg(scripted.Trades)
	require.Len(t, scripted.Trades, len(fixed.Trades))
	require.NotEmpty(t, fixed.Trades)

	reasons := map[models.ExitReason]int{}
	for i, want := range fixed.Trades {
		got := scripted.Trades[i]
		assert.Equal(t, want.Date, got.Date)
		assert.Equal(t, want.LegID, got.LegID)
		assert.Equal(t, want.Label, got.Label)
		assert.Equal(t, want.EntryTime, got.EntryTime)
		assert.Equal(t, want.ExitTime, got.ExitTime)
		assert.Equal(t, want.EntryPrice, got.EntryPrice)
		assert.InDelta(t, want.ExitPrice, got.ExitPrice, 1e-9)
		assert.Equal(t, want.ExitReason, got.ExitReason)
		assert.Equal(t, want.Quantity, got.Quantity)
		assert.InDelta(t, want.NetPnL, got.NetPnL, 1e-9)
		reasons[got.ExitReason]++
	}
	assert.Equal(t, 1, reasons[models.ExitSLHard])
	assert.Equal(t, 1, reasons[models.ExitTargetHard])
}

func TestLegRulesStandsAsideOnMissingStrike(t *testing.T) {
	cfg := models.StrategyConfig{
		Name: "wide",
		Legs: []models.LegConfig{
			{Action: models.Sell, Strike: "ATM", OptionType: models.Call, Lots: 1},
			{Action: models.Sell, Strike: "ATM+5", OptionType: models.Call, Lots: 1},
		},
		EntryTime: "09:20",
		ExitTime:  "15:15",
		SLPct:     25,
		LotSize:   25,
	}
	d := date(t, "2024-01-02")

	fixed, err := newBacktester(t, nil).Run(context.Background(), cfg, d, d)
	require.NoError(t, err)
	assert.Empty(t, fixed.Trades)

	proc, err := NewLegRules(&cfg)
	require.NoError(t, err)
	scripted, err := newBacktester(t, nil).RunProcedure(context.Background(), cfg, proc, d, d)
	require.NoError(t, err)
	assert.Empty(t, scripted.Trades)
	require.Len(t, scripted.Logs, 1)
	assert.Contains(t, scripted.Logs[0], "Skipped: Missing strikes: [ATM+5]")
}

func TestNewLegRulesValidates(t *testing.T) {
	_, err := NewLegRules(&models.StrategyConfig{Name: "empty"})
	assert.Error(t, err)
}
