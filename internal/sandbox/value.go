package sandbox

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"options-backtester/internal/models"
	"options-backtester/internal/sdk"
)

// contextValue exposes an sdk.Context to scripts as `ctx`. Properties are
// read-only; methods mirror the Go API with snake_case names.
type contextValue struct {
	ctx     *sdk.Context
	methods map[string]*starlark.Builtin
}

var _ starlark.HasAttrs = (*contextValue)(nil)

func newContextValue(ctx *sdk.Context) *contextValue {
	v := &contextValue{ctx: ctx}
	v.methods = map[string]*starlark.Builtin{
		"get_candles":           starlark.NewBuiltin("get_candles", v.getCandles),
		"get_option_price_at":   starlark.NewBuiltin("get_option_price_at", v.getOptionPriceAt),
		"get_spot_price_at":     starlark.NewBuiltin("get_spot_price_at", v.getSpotPriceAt),
		"get_available_strikes": starlark.NewBuiltin("get_available_strikes", v.getAvailableStrikes),
		"open_position":         starlark.NewBuiltin("open_position", v.openPosition),
		"close_position":        starlark.NewBuiltin("close_position", v.closePosition),
		"close_all":             starlark.NewBuiltin("close_all", v.closeAll),
		"get_open_positions":    starlark.NewBuiltin("get_open_positions", v.getOpenPositions),
		"get_position":          starlark.NewBuiltin("get_position", v.getPosition),
		"update_prices":         starlark.NewBuiltin("update_prices", v.updatePrices),
		"get_realized_pnl":      starlark.NewBuiltin("get_realized_pnl", v.pnl(ctx.RealizedPnL)),
		"get_unrealized_pnl":    starlark.NewBuiltin("get_unrealized_pnl", v.pnl(ctx.UnrealizedPnL)),
		"get_total_pnl":         starlark.NewBuiltin("get_total_pnl", v.pnl(ctx.TotalPnL)),
		"get_minutes":           starlark.NewBuiltin("get_minutes", v.getMinutes),
		"log":                   starlark.NewBuiltin("log", v.log),
	}
	return v
}

func (v *contextValue) String() string {
	return fmt.Sprintf("<ctx %s>", models.FormatDate(v.ctx.Date()))
}
func (v *contextValue) Type() string          { return "ctx" }
func (v *contextValue) Freeze()               {}
func (v *contextValue) Truth() starlark.Bool  { return starlark.True }
func (v *contextValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: ctx") }

var properties = []string{"date", "dte", "spot", "vix", "lot_size", "entry_time", "exit_time"}

func (v *contextValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "date":
		return starlark.String(models.FormatDate(v.ctx.Date())), nil
	case "dte":
		return starlark.MakeInt(v.ctx.DTE()), nil
	case "spot":
		return starlark.Float(v.ctx.Spot()), nil
	case "vix":
		return starlark.Float(v.ctx.VIX()), nil
	case "lot_size":
		return starlark.MakeInt(v.ctx.LotSize()), nil
	case "entry_time":
		return starlark.String(v.ctx.EntryTime()), nil
	case "exit_time":
		return starlark.String(v.ctx.ExitTime()), nil
	}
	if m, ok := v.methods[name]; ok {
		return m, nil
	}
	return nil, nil
}

func (v *contextValue) AttrNames() []string {
	names := append([]string(nil), properties...)
	for name := range v.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (v *contextValue) getCandles(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	strike, typ := "ATM", "CE"
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "strike?", &strike, "option_type?", &typ); err != nil {
		return nil, err
	}
	ot, err := models.ParseOptionType(typ)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", b.Name(), err)
	}
	candles := v.ctx.Candles(strike, ot)
	elems := make([]starlark.Value, len(candles))
	for i, c := range candles {
		elems[i] = candleValue(c)
	}
	return starlark.NewList(elems), nil
}

func (v *contextValue) getOptionPriceAt(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var strike, typ, at string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "strike", &strike, "option_type", &typ, "t", &at); err != nil {
		return nil, err
	}
	ot, err := models.ParseOptionType(typ)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", b.Name(), err)
	}
	return starlark.Float(v.ctx.OptionPriceAt(strike, ot, at)), nil
}

func (v *contextValue) getSpotPriceAt(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var at string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "t", &at); err != nil {
		return nil, err
	}
	return starlark.Float(v.ctx.SpotPriceAt(at)), nil
}

func (v *contextValue) getAvailableStrikes(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	return stringList(v.ctx.AvailableStrikes()), nil
}

func (v *contextValue) getMinutes(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	strike, typ := "ATM", "CE"
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "strike?", &strike, "option_type?", &typ); err != nil {
		return nil, err
	}
	ot, err := models.ParseOptionType(typ)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", b.Name(), err)
	}
	return stringList(v.ctx.Minutes(models.SeriesKey{Strike: strike, Type: ot})), nil
}

func (v *contextValue) openPosition(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var strike, typ, action, label string
	lots := 1
	var price, at starlark.Value = starlark.None, starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"strike", &strike, "option_type", &typ, "action", &action,
		"lots?", &lots, "label?", &label, "price?", &price, "at_time?", &at); err != nil {
		return nil, err
	}
	ot, err := models.ParseOptionType(typ)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", b.Name(), err)
	}
	act, err := models.ParseAction(action)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", b.Name(), err)
	}

	var opts []sdk.OpenOption
	if p, ok, err := optionalFloat(b, "price", price); err != nil {
		return nil, err
	} else if ok {
		opts = append(opts, sdk.WithPrice(p))
	}
	if t, ok, err := optionalString(b, "at_time", at); err != nil {
		return nil, err
	} else if ok {
		opts = append(opts, sdk.At(t))
	}
	return starlark.MakeInt(v.ctx.OpenPosition(strike, ot, act, lots, label, opts...)), nil
}

func (v *contextValue) closePosition(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var id int
	reason := string(models.ExitManual)
	var price, at starlark.Value = starlark.None, starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"position_id", &id, "price?", &price, "reason?", &reason, "at_time?", &at); err != nil {
		return nil, err
	}
	opts, err := closeOptions(b, price, at)
	if err != nil {
		return nil, err
	}
	return starlark.Bool(v.ctx.ClosePosition(id, models.ExitReason(reason), opts...)), nil
}

func (v *contextValue) closeAll(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	reason := string(models.ExitManual)
	var at starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "reason?", &reason, "at_time?", &at); err != nil {
		return nil, err
	}
	opts, err := closeOptions(b, starlark.None, at)
	if err != nil {
		return nil, err
	}
	return starlark.MakeInt(v.ctx.CloseAll(models.ExitReason(reason), opts...)), nil
}

func closeOptions(b *starlark.Builtin, price, at starlark.Value) ([]sdk.CloseOption, error) {
	var opts []sdk.CloseOption
	p, ok, err := optionalFloat(b, "price", price)
	if err != nil {
		return nil, err
	}
	if ok {
		opts = append(opts, sdk.ExitPrice(p))
	}
	t, ok, err := optionalString(b, "at_time", at)
	if err != nil {
		return nil, err
	}
	if ok {
		opts = append(opts, sdk.ExitAt(t))
	}
	return opts, nil
}

func (v *contextValue) getOpenPositions(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	open := v.ctx.OpenPositions()
	elems := make([]starlark.Value, len(open))
	for i, p := range open {
		elems[i] = positionValue(p)
	}
	return starlark.NewList(elems), nil
}

func (v *contextValue) getPosition(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var id int
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "position_id", &id); err != nil {
		return nil, err
	}
	p, ok := v.ctx.Position(id)
	if !ok {
		return starlark.None, nil
	}
	return positionValue(p), nil
}

func (v *contextValue) updatePrices(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var at string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "candle_time", &at); err != nil {
		return nil, err
	}
	if err := v.ctx.UpdatePrices(at); err != nil {
		return nil, fmt.Errorf("%s: %v", b.Name(), err)
	}
	return starlark.None, nil
}

func (v *contextValue) pnl(fn func() float64) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
			return nil, err
		}
		return starlark.Float(fn()), nil
	}
}

func (v *contextValue) log(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var msg starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &msg); err != nil {
		return nil, err
	}
	if s, ok := starlark.AsString(msg); ok {
		v.ctx.Log(s)
	} else {
		v.ctx.Log(msg.String())
	}
	return starlark.None, nil
}

func optionalFloat(b *starlark.Builtin, name string, v starlark.Value) (float64, bool, error) {
	if v == nil || v == starlark.None {
		return 0, false, nil
	}
	f, ok := starlark.AsFloat(v)
	if !ok {
		return 0, false, fmt.Errorf("%s: %s must be a number, got %s", b.Name(), name, v.Type())
	}
	return f, true, nil
}

func optionalString(b *starlark.Builtin, name string, v starlark.Value) (string, bool, error) {
	if v == nil || v == starlark.None {
		return "", false, nil
	}
	s, ok := starlark.AsString(v)
	if !ok {
		return "", false, fmt.Errorf("%s: %s must be an HH:MM string, got %s", b.Name(), name, v.Type())
	}
	return s, true, nil
}

func stringList(vals []string) *starlark.List {
	elems := make([]starlark.Value, len(vals))
	for i, s := range vals {
		elems[i] = starlark.String(s)
	}
	return starlark.NewList(elems)
}

func candleValue(c models.OptionCandle) starlark.Value {
	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"time":            starlark.String(c.HHMM()),
		"open":            starlark.Float(c.Open),
		"high":            starlark.Float(c.High),
		"low":             starlark.Float(c.Low),
		"close":           starlark.Float(c.Close),
		"volume":          starlark.MakeInt64(c.Volume),
		"oi":              starlark.MakeInt64(c.OI),
		"spot_price":      starlark.Float(c.Spot),
		"absolute_strike": starlark.Float(c.AbsoluteStrike),
	})
}

func positionValue(p sdk.Position) starlark.Value {
	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"id":             starlark.MakeInt(p.ID),
		"strike":         starlark.String(p.Strike),
		"option_type":    starlark.String(string(p.OptionType)),
		"action":         starlark.String(string(p.Action)),
		"lots":           starlark.MakeInt(p.Lots),
		"quantity":       starlark.MakeInt(p.Quantity),
		"entry_price":    starlark.Float(p.EntryPrice),
		"entry_time":     starlark.String(p.EntryTime),
		"label":          starlark.String(p.Label),
		"current_price":  starlark.Float(p.CurrentPrice),
		"is_open":        starlark.Bool(p.Open),
		"exit_price":     starlark.Float(p.ExitPrice),
		"exit_time":      starlark.String(p.ExitTime),
		"exit_reason":    starlark.String(string(p.ExitReason)),
		"gross_pnl":      starlark.Float(p.GrossPnL),
		"net_pnl":        starlark.Float(p.NetPnL),
		"unrealized_pnl": starlark.Float(p.UnrealizedPnL()),
	})
}
