// Package engine replays fixed-leg and procedural strategies over cached
// minute data, one trading day at a time.
package engine

import (
	"fmt"
	"time"

	"options-backtester/internal/costs"
	"options-backtester/internal/datacache"
	"options-backtester/internal/models"
)

// Skip reasons for a leg that could not enter.
const (
	ReasonNoSeries = "No data for this strike/type"
	ReasonNoCandle = "No candle at %s"
)

// LegPlan is a leg with its strategy defaults resolved.
type LegPlan struct {
	ID         int
	Leg        models.LegConfig
	EntryMin   int
	ExitMin    int
	SLPct      float64
	SLType     models.TriggerMode
	TargetPct  float64
	TargetType models.TriggerMode
	Quantity   int
}

// PlanLeg resolves leg i (zero based) of cfg. cfg must be validated.
func PlanLeg(cfg *models.StrategyConfig, i int) LegPlan {
	leg := cfg.Legs[i]
	return LegPlan{
		ID:         i + 1,
		Leg:        leg,
		EntryMin:   models.MustHHMM(cfg.EntryTime),
		ExitMin:    models.MustHHMM(cfg.ExitTime),
		SLPct:      cfg.LegSLPct(leg),
		SLType:     cfg.SLType,
		TargetPct:  cfg.LegTargetPct(leg),
		TargetType: cfg.TargetType,
		Quantity:   leg.Lots * cfg.LotSize,
	}
}

// StopPrice returns the absolute stop for an entry, or 0 when disabled.
func (p LegPlan) StopPrice(entry float64) float64 {
	if p.SLPct <= 0 {
		return 0
	}
	if p.Leg.Action == models.Sell {
		return entry * (1 + p.SLPct/100)
	}
	return entry * (1 - p.SLPct/100)
}

// TargetPrice returns the absolute target for an entry, or 0 when disabled.
func (p LegPlan) TargetPrice(entry float64) float64 {
	if p.TargetPct <= 0 {
		return 0
	}
	if p.Leg.Action == models.Sell {
		return entry * (1 - p.TargetPct/100)
	}
	return entry * (1 + p.TargetPct/100)
}

// stopHit checks the stop against one candle. Shorts are stopped by a rise,
// longs by a fall.
func (p LegPlan) stopHit(c models.OptionCandle, stop float64) (float64, models.ExitReason, bool) {
	short := p.Leg.Action == models.Sell
	if p.SLType == models.TriggerClose {
		if (short && c.Close >= stop) || (!short && c.Close <= stop) {
			return c.Close, models.ExitSLClose, true
		}
		return 0, "", false
	}
	if (short && c.High >= stop) || (!short && c.Low <= stop) {
		return stop, models.ExitSLHard, true
	}
	return 0, "", false
}

func (p LegPlan) targetHit(c models.OptionCandle, target float64) (float64, models.ExitReason, bool) {
	short := p.Leg.Action == models.Sell
	if p.TargetType == models.TriggerClose {
		if (short && c.Close <= target) || (!short && c.Close >= target) {
			return c.Close, models.ExitTargetClose, true
		}
		return 0, "", false
	}
	if (short && c.Low <= target) || (!short && c.High >= target) {
		return target, models.ExitTargetHard, true
	}
	return 0, "", false
}

// ExecuteLeg replays one leg over a day. A leg that cannot enter comes back
// with Skipped set and a reason; it never errors.
func ExecuteLeg(day *datacache.Day, plan LegPlan, dte int, model *costs.Model) models.Trade {
	leg := plan.Leg
	t := models.Trade{
		Date:        day.Date,
		LegID:       plan.ID,
		Label:       fmt.Sprintf("%s %s %s", leg.Action, leg.Strike, leg.OptionType),
		Action:      leg.Action,
		StrikeLabel: leg.Strike,
		OptionType:  leg.OptionType,
		Quantity:    plan.Quantity,
		DTE:         dte,
	}

	series := day.Series(leg.Strike, leg.OptionType)
	if series.Len() == 0 {
		return skippedLeg(t, ReasonNoSeries)
	}
	entry, ok := series.At(plan.EntryMin)
	if !ok {
		return skippedLeg(t, fmt.Sprintf(ReasonNoCandle, models.FormatHHMM(plan.EntryMin)))
	}

	t.EntryTime = entry.HHMM()
	t.EntryPrice = entry.Open
	t.AbsoluteStrike = entry.AbsoluteStrike
	t.Spot = entry.Spot
	t.VIX = entry.VIX

	exit := plan.finish(series, entry)
	t.ExitPrice = exit.Price
	t.ExitTime = models.FormatHHMM(exit.Minute)
	t.ExitReason = exit.Reason
	return settle(t, model, day.Date)
}

// Exit is where and why a leg left the market.
type Exit struct {
	Price  float64
	Minute int
	Reason models.ExitReason
}

// ScanExit walks candles that follow the entry candle. Per candle the time
// exit wins, then the stop, then the target. ok is false when no candle
// triggers.
func (p LegPlan) ScanExit(after []models.OptionCandle, entryPrice float64) (Exit, bool) {
	stop := p.StopPrice(entryPrice)
	target := p.TargetPrice(entryPrice)

	for _, c := range after {
		m := c.Minute()
		if m >= p.ExitMin {
			return Exit{Price: c.Open, Minute: m, Reason: models.ExitTime}, true
		}
		if stop > 0 {
			if px, reason, hit := p.stopHit(c, stop); hit {
				return Exit{Price: px, Minute: m, Reason: reason}, true
			}
		}
		if target > 0 {
			if px, reason, hit := p.targetHit(c, target); hit {
				return Exit{Price: px, Minute: m, Reason: reason}, true
			}
		}
	}
	return Exit{}, false
}

// finish scans the series. Data that ends before the exit time without a
// trigger exits at the last close, or at the entry price when nothing
// follows the entry candle.
func (p LegPlan) finish(series *datacache.Series, entry models.OptionCandle) Exit {
	after := series.After(entry.Minute())
	if exit, ok := p.ScanExit(after, entry.Open); ok {
		return exit
	}
	if len(after) > 0 {
		last := after[len(after)-1]
		return Exit{Price: last.Close, Minute: last.Minute(), Reason: models.ExitTime}
	}
	return Exit{Price: entry.Open, Minute: p.ExitMin, Reason: models.ExitTime}
}

func settle(t models.Trade, model *costs.Model, date time.Time) models.Trade {
	t.GrossPnL = models.GrossPnL(t.Action, t.EntryPrice, t.ExitPrice, t.Quantity)
	t.Cost = model.Calculate(date, t.Action, t.EntryPrice, t.ExitPrice, t.Quantity, 1)
	t.NetPnL = t.GrossPnL - t.Cost.Total
	return t
}

func skippedLeg(t models.Trade, reason string) models.Trade {
	t.Skipped = true
	t.SkipReason = reason
	t.ExitReason = models.ExitNoData
	return t
}
