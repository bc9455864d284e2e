package strategies

import (
	"fmt"

	"options-backtester/internal/engine"
	"options-backtester/internal/models"
	"options-backtester/internal/sdk"
)

// LegRules runs a fixed-leg configuration through the SDK. It produces the
// same trades as the rule engine, including standing aside on days that fail
// the data boundary check, and is the starting point for procedures that
// extend fixed legs with custom logic.
type LegRules struct {
	cfg   *models.StrategyConfig
	plans []engine.LegPlan
}

// NewLegRules validates cfg and resolves its legs.
func NewLegRules(cfg *models.StrategyConfig) (*LegRules, error) {
	c := cfg.Clone()
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	r := &LegRules{cfg: &c}
	for i := range c.Legs {
		r.plans = append(r.plans, engine.PlanLeg(&c, i))
	}
	return r, nil
}

// Name implements sdk.Procedure.
func (r *LegRules) Name() string { return r.cfg.Name }

// Run implements sdk.Procedure.
func (r *LegRules) Run(ctx *sdk.Context) error {
	if ok, reason := engine.CheckDataBoundary(ctx.Day(), r.cfg); !ok {
		ctx.Log("Skipped: " + reason)
		return nil
	}
	for _, plan := range r.plans {
		leg := plan.Leg
		label := fmt.Sprintf("%s %s %s", leg.Action, leg.Strike, leg.OptionType)
		id := ctx.OpenPosition(leg.Strike, leg.OptionType, leg.Action, leg.Lots, label)
		if id < 0 {
			continue
		}
		pos, _ := ctx.Position(id)

		var after []models.OptionCandle
		for _, c := range ctx.Candles(leg.Strike, leg.OptionType) {
			if c.Minute() > plan.EntryMin {
				after = append(after, c)
			}
		}
		exit, ok := plan.ScanExit(after, pos.EntryPrice)
		if !ok {
			if len(after) == 0 {
				continue
			}
			last := after[len(after)-1]
			exit = engine.Exit{Price: last.Close, Minute: last.Minute(), Reason: models.ExitTime}
		}
		ctx.ClosePosition(id, exit.Reason, sdk.ExitPrice(exit.Price), sdk.ExitAt(models.FormatHHMM(exit.Minute)))
	}
	return nil
}
