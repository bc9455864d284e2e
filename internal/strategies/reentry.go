// Package strategies holds built-in procedures written against the SDK.
package strategies

import (
	"fmt"

	"options-backtester/internal/models"
	"options-backtester/internal/sdk"
)

// ReentryParams configures StraddleReentry. Entry and exit times come from
// the run session.
type ReentryParams struct {
	Strike            string
	Lots              int
	SLPct             float64
	SLMode            models.TriggerMode
	ReentryPct        float64
	GlobalSL          float64
	ProfitLockTrigger float64
	ProfitLockLevel   float64
}

// DefaultReentryParams returns the stock parameters.
func DefaultReentryParams() ReentryParams {
	return ReentryParams{
		Strike:            "ATM",
		Lots:              1,
		SLPct:             30,
		SLMode:            models.TriggerHard,
		ReentryPct:        10,
		GlobalSL:          -9000,
		ProfitLockTrigger: 1500,
		ProfitLockLevel:   200,
	}
}

// ReentrySession returns the session the stock parameters were tuned for.
func ReentrySession() models.StrategyConfig {
	return models.StrategyConfig{
		Name:      "straddle-reentry",
		EntryTime: "09:16",
		ExitTime:  "14:30",
		LotSize:   25,
	}
}

// StraddleReentry sells a straddle, stops each side out independently and
// re-sells a stopped side once, after its premium has recovered past the
// stop exit by ReentryPct. A portfolio-wide stop and a profit lock close
// everything.
type StraddleReentry struct {
	Params ReentryParams
}

// NewStraddleReentry creates the procedure.
func NewStraddleReentry(p ReentryParams) *StraddleReentry {
	if p.Strike == "" {
		p.Strike = "ATM"
	}
	if p.Lots <= 0 {
		p.Lots = 1
	}
	if p.SLMode == "" {
		p.SLMode = models.TriggerHard
	}
	return &StraddleReentry{Params: p}
}

// Name implements sdk.Procedure.
func (s *StraddleReentry) Name() string { return "straddle-reentry" }

type side struct {
	typ       models.OptionType
	first     int
	stop      float64
	stopped   bool
	stopExit  float64
	second    int
	stop2     float64
	reentered bool
}

// Run implements sdk.Procedure. Marks are candle closes; stops use the
// candle high in hard mode.
func (s *StraddleReentry) Run(ctx *sdk.Context) error {
	p := s.Params
	entry := ctx.EntryTime()

	sides := []*side{{typ: models.Call}, {typ: models.Put}}
	for _, sd := range sides {
		if ctx.OptionPriceAt(p.Strike, sd.typ, entry) <= 0 {
			ctx.Log(fmt.Sprintf("no %s %s price at %s, standing aside", p.Strike, sd.typ, entry))
			return nil
		}
	}
	for _, sd := range sides {
		sd.first = ctx.OpenPosition(p.Strike, sd.typ, models.Sell, p.Lots, fmt.Sprintf("%s leg 1", sd.typ))
		pos, _ := ctx.Position(sd.first)
		sd.stop = pos.EntryPrice * (1 + p.SLPct/100)
	}

	minutes := ctx.Minutes(
		models.SeriesKey{Strike: p.Strike, Type: models.Call},
		models.SeriesKey{Strike: p.Strike, Type: models.Put},
	)
	locked := false
	for _, t := range minutes {
		if t <= entry {
			continue
		}
		if t >= ctx.ExitTime() {
			break
		}
		if err := ctx.UpdatePrices(t); err != nil {
			return err
		}

		total := ctx.TotalPnL()
		if total <= p.GlobalSL {
			ctx.CloseAll(models.ExitGlobalSL, sdk.ExitAt(t))
			ctx.Log(fmt.Sprintf("global stop at %s, P&L %.0f", t, total))
			return nil
		}
		if !locked && total >= p.ProfitLockTrigger {
			locked = true
		}
		if locked && total <= p.ProfitLockLevel {
			ctx.CloseAll(models.ExitProfitLock, sdk.ExitAt(t))
			ctx.Log(fmt.Sprintf("profit lock at %s, P&L %.0f", t, total))
			return nil
		}

		for _, sd := range sides {
			candle, ok := ctx.CandleAt(p.Strike, sd.typ, t)
			if !ok {
				continue
			}
			s.checkFirst(ctx, sd, candle, t)
			s.checkReentry(ctx, sd, candle, t)
			s.checkSecond(ctx, sd, candle, t)
		}
	}
	return nil
}

func (s *StraddleReentry) checkFirst(ctx *sdk.Context, sd *side, c models.OptionCandle, t string) {
	if sd.stopped {
		return
	}
	if price, reason, hit := stopHit(s.Params.SLMode, c, sd.stop); hit {
		if ctx.ClosePosition(sd.first, reason, sdk.ExitPrice(price), sdk.ExitAt(t)) {
			sd.stopped = true
			sd.stopExit = price
		}
	}
}

func (s *StraddleReentry) checkReentry(ctx *sdk.Context, sd *side, c models.OptionCandle, t string) {
	if !sd.stopped || sd.reentered {
		return
	}
	if c.Open <= 0 || c.Open < sd.stopExit*(1+s.Params.ReentryPct/100) {
		return
	}
	id := ctx.OpenPosition(s.Params.Strike, sd.typ, models.Sell, s.Params.Lots,
		fmt.Sprintf("%s leg 2 (re-entry)", sd.typ), sdk.At(t))
	if id < 0 {
		return
	}
	sd.second = id
	sd.stop2 = c.Open * (1 + s.Params.SLPct/100)
	sd.reentered = true
	ctx.Log(fmt.Sprintf("re-entered %s at %s @ %.2f", sd.typ, t, c.Open))
}

func (s *StraddleReentry) checkSecond(ctx *sdk.Context, sd *side, c models.OptionCandle, t string) {
	if !sd.reentered {
		return
	}
	pos, ok := ctx.Position(sd.second)
	if !ok || !pos.Open {
		return
	}
	if price, _, hit := stopHit(s.Params.SLMode, c, sd.stop2); hit {
		ctx.ClosePosition(sd.second, models.ExitReentrySL, sdk.ExitPrice(price), sdk.ExitAt(t))
	}
}

// stopHit evaluates a short stop on one candle.
func stopHit(mode models.TriggerMode, c models.OptionCandle, stop float64) (float64, models.ExitReason, bool) {
	if mode == models.TriggerClose {
		if c.Close >= stop {
			return c.Close, models.ExitSLClose, true
		}
		return 0, "", false
	}
	if c.High >= stop {
		return stop, models.ExitSLHard, true
	}
	return 0, "", false
}
