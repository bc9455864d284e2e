package sdk

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-backtester/internal/costs"
	"options-backtester/internal/datacache"
	"options-backtester/internal/models"
)

var (
	atmCE = models.SeriesKey{Strike: "ATM", Type: models.Call}
	atmPE = models.SeriesKey{Strike: "ATM", Type: models.Put}
)

// testDay builds 09:15-15:29 ATM CE/PE series at flat prices, with edit
// applied to each candle before the day is built.
func testDay(t *testing.T, edit func(c *models.OptionCandle)) *datacache.Day {
	t.Helper()
	d, err := models.ParseDate("2024-01-02")
	require.NoError(t, err)

	rows := datacache.FlatSeries(d, atmCE, 555, 929, 100, 21650, 14.2)
	rows = append(rows, datacache.FlatSeries(d, atmPE, 555, 929, 90, 21650, 14.2)...)
	for i := range rows {
		rows[i].AbsoluteStrike = 21650
		if edit != nil {
			edit(&rows[i])
		}
	}
	return datacache.NewDay(d, rows)
}

func newTestContext(t *testing.T, day *datacache.Day) *Context {
	t.Helper()
	cfg := costs.DefaultConfig()
	ctx, err := NewContext(day, Session{DTE: 2, LotSize: 25, EntryTime: "09:20", ExitTime: "15:15"}, costs.NewModel(cfg, nil))
	require.NoError(t, err)
	return ctx
}

func TestContextReadOnlyProperties(t *testing.T) {
	ctx := newTestContext(t, testDay(t, nil))

	assert.Equal(t, "2024-01-02", models.FormatDate(ctx.Date()))
	assert.Equal(t, 2, ctx.DTE())
	assert.Equal(t, 21650.0, ctx.Spot())
	assert.Equal(t, 14.2, ctx.VIX())
	assert.Equal(t, 25, ctx.LotSize())
	assert.Equal(t, "09:20", ctx.EntryTime())
	assert.Equal(t, "15:15", ctx.ExitTime())
	assert.Equal(t, []string{"ATM"}, ctx.AvailableStrikes())
	assert.Len(t, ctx.Candles("ATM", models.Call), 375)
	assert.Nil(t, ctx.Candles("ATM+4", models.Call))
	assert.Equal(t, 100.0, ctx.OptionPriceAt("ATM", models.Call, "09:20"))
	assert.Equal(t, 0.0, ctx.OptionPriceAt("ATM", models.Call, "16:00"))
}

func TestPositionIDsIncreaseMonotonically(t *testing.T) {
	ctx := newTestContext(t, testDay(t, nil))

	assert.Equal(t, 1, ctx.OpenPosition("ATM", models.Call, models.Sell, 1, "CE leg"))
	assert.Equal(t, 2, ctx.OpenPosition("ATM", models.Put, models.Sell, 1, "PE leg"))
	assert.Equal(t, -1, ctx.OpenPosition("ATM+7", models.Call, models.Sell, 1, "missing"))
	assert.Equal(t, -1, ctx.OpenPosition("ATM", models.Call, models.Sell, 1, "late", At("16:10")))
	assert.Equal(t, 3, ctx.OpenPosition("ATM", models.Call, models.Buy, 2, "hedge", At("10:00")))
	assert.Equal(t, 4, ctx.OpenPosition("ATM", models.Call, models.Buy, 1, "priced", WithPrice(55)))

	pos, ok := ctx.Position(3)
	require.True(t, ok)
	assert.Equal(t, 50, pos.Quantity)
	assert.Equal(t, "10:00", pos.EntryTime)

	pos, _ = ctx.Position(4)
	assert.Equal(t, 55.0, pos.EntryPrice)

	assert.Len(t, ctx.OpenPositions(), 4)
	assert.NotEmpty(t, ctx.Logs())
}

func TestClosePosition(t *testing.T) {
	ctx := newTestContext(t, testDay(t, func(c *models.OptionCandle) {
		if c.Type == models.Call && c.HHMM() == "09:30" {
			c.Close = 110
		}
	}))

	id := ctx.OpenPosition("ATM", models.Call, models.Sell, 1, "")
	require.Equal(t, 1, id)

	require.NoError(t, ctx.UpdatePrices("09:30"))
	assert.Equal(t, -250.0, ctx.UnrealizedPnL())
	assert.Equal(t, 0.0, ctx.RealizedPnL())

	assert.True(t, ctx.ClosePosition(id, models.ExitSLHard, ExitPrice(105)))
	assert.False(t, ctx.ClosePosition(id, models.ExitSLHard), "double close")
	assert.False(t, ctx.ClosePosition(99, models.ExitManual), "unknown id")

	pos, ok := ctx.Position(id)
	require.True(t, ok)
	assert.False(t, pos.Open)
	assert.Equal(t, "09:30", pos.ExitTime)
	assert.Equal(t, -125.0, pos.GrossPnL)
	assert.InDelta(t, pos.GrossPnL-pos.Cost.Total, pos.NetPnL, 1e-9)
	assert.Greater(t, pos.Cost.Total, 0.0)

	assert.Equal(t, -125.0, ctx.RealizedPnL())
	assert.Equal(t, 0.0, ctx.UnrealizedPnL())
	assert.Equal(t, -125.0, ctx.TotalPnL())

	assert.Error(t, ctx.UpdatePrices("9.30"))
}

func TestFinalizeClosesAtExitTime(t *testing.T) {
	ctx := newTestContext(t, testDay(t, func(c *models.OptionCandle) {
		if c.Type == models.Call && c.HHMM() == "15:15" {
			c.Open = 80
		}
	}))

	require.Equal(t, 1, ctx.OpenPosition("ATM", models.Call, models.Sell, 1, "CE leg"))
	require.Equal(t, 2, ctx.OpenPosition("ATM", models.Put, models.Sell, 1, "PE leg"))
	require.True(t, ctx.ClosePosition(2, models.ExitManual, ExitAt("11:00")))

	res := ctx.Finalize()
	require.Len(t, res.Trades, 2)

	// Trades appear in close order.
	assert.Equal(t, 2, res.Trades[0].LegID)
	ce := res.Trades[1]
	assert.Equal(t, models.ExitTime, ce.ExitReason)
	assert.Equal(t, "15:15", ce.ExitTime)
	assert.Equal(t, 80.0, ce.ExitPrice)
	assert.Equal(t, 500.0, ce.GrossPnL)
	assert.Equal(t, 21650.0, ce.AbsoluteStrike)
	assert.Equal(t, 2, ce.DTE)
	assert.InDelta(t, res.Trades[0].NetPnL+ce.NetPnL, res.DailyPnL, 1e-9)

	again := ctx.Finalize()
	assert.Equal(t, res, again)
	assert.Equal(t, -1, ctx.OpenPosition("ATM", models.Call, models.Sell, 1, "after"))
}

func TestFinalizeUsesFirstCandleAfterGap(t *testing.T) {
	day := testDay(t, func(c *models.OptionCandle) {
		if c.Type == models.Call && c.HHMM() == "15:16" {
			c.Open = 77
		}
	})
	var rows []models.OptionCandle
	for _, r := range day.Rows {
		if r.Type == models.Call && r.HHMM() == "15:15" {
			continue
		}
		rows = append(rows, r)
	}
	ctx := newTestContext(t, datacache.NewDay(day.Date, rows))

	require.Equal(t, 1, ctx.OpenPosition("ATM", models.Call, models.Buy, 1, ""))
	res := ctx.Finalize()
	require.Len(t, res.Trades, 1)
	assert.Equal(t, "15:16", res.Trades[0].ExitTime)
	assert.Equal(t, 77.0, res.Trades[0].ExitPrice)
	assert.Equal(t, models.ExitTime, res.Trades[0].ExitReason)
}

func TestFinalizeFallsBackToMark(t *testing.T) {
	day := testDay(t, nil)
	var rows []models.OptionCandle
	for _, r := range day.Rows {
		if r.Minute() < models.MustHHMM("15:00") {
			rows = append(rows, r)
		}
	}
	ctx := newTestContext(t, datacache.NewDay(day.Date, rows))

	require.Equal(t, 1, ctx.OpenPosition("ATM", models.Put, models.Sell, 1, ""))
	require.NoError(t, ctx.UpdatePrices("14:59"))
	res := ctx.Finalize()
	require.Len(t, res.Trades, 1)
	assert.Equal(t, "15:15", res.Trades[0].ExitTime)
	assert.Equal(t, 90.0, res.Trades[0].ExitPrice)
}

func TestLogIsBounded(t *testing.T) {
	day := testDay(t, nil)
	ctx, err := NewContext(day, Session{LotSize: 25, EntryTime: "09:20", ExitTime: "15:15", MaxLogs: 2}, costs.NewModel(costs.DefaultConfig(), nil))
	require.NoError(t, err)

	ctx.Log("one")
	ctx.Log("two")
	ctx.Log("three")
	assert.Equal(t, []string{"[2024-01-02] one", "[2024-01-02] two"}, ctx.Logs())

	res := ctx.Finalize()
	assert.Len(t, res.Logs, 3)
}

func TestMinutesUnion(t *testing.T) {
	ctx := newTestContext(t, testDay(t, nil))
	mins := ctx.Minutes(atmCE, atmPE, models.SeriesKey{Strike: "ATM+9", Type: models.Call})
	require.Len(t, mins, 375)
	assert.Equal(t, "09:15", mins[0])
	assert.Equal(t, "15:29", mins[len(mins)-1])
}

// Property: at every step total P&L equals realized plus unrealized, and
// matches an independent recomputation from position snapshots.
func TestProperty_PnLIdentity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	day := testDay(t, func(c *models.OptionCandle) {
		m := float64(c.Minute() % 37)
		c.Open += m * 0.5
		c.Close += m * 0.75
		c.High = math.Max(c.Open, c.Close) + 1
		c.Low = math.Min(c.Open, c.Close) - 1
	})

	properties.Property("total = realized + unrealized", prop.ForAll(
		func(ops []int) bool {
			ctx := newTestContext(t, day)
			minute := models.MustHHMM("09:20")
			maxID := 0

			for _, op := range ops {
				switch op % 5 {
				case 0, 1:
					typ := models.Call
					if op%2 == 0 {
						typ = models.Put
					}
					action := models.Sell
					if op%3 == 0 {
						action = models.Buy
					}
					if id := ctx.OpenPosition("ATM", typ, action, 1+op%3, "", At(models.FormatHHMM(minute))); id > maxID {
						maxID = id
					}
				case 2:
					if maxID > 0 {
						ctx.ClosePosition(1+op%maxID, models.ExitManual)
					}
				case 3:
					minute += 1 + op%7
					if minute > models.MustHHMM("15:14") {
						minute = models.MustHHMM("15:14")
					}
					if err := ctx.UpdatePrices(models.FormatHHMM(minute)); err != nil {
						return false
					}
				case 4:
					if op%4 == 0 {
						ctx.CloseAll(models.ExitGlobalSL)
					}
				}

				if ctx.TotalPnL() != ctx.RealizedPnL()+ctx.UnrealizedPnL() {
					return false
				}
				independent := 0.0
				for id := 1; id <= maxID; id++ {
					p, ok := ctx.Position(id)
					if !ok {
						return false
					}
					if p.Open {
						independent += p.UnrealizedPnL()
					} else {
						independent += p.GrossPnL
					}
				}
				if math.Abs(independent-ctx.TotalPnL()) > 1e-6 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 1000)),
	))

	properties.TestingRun(t)
}
