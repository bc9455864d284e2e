// Package sdk is the day-scoped execution context that strategy logic,
// fixed or generated, uses to read the day's data and manage positions.
package sdk

import (
	"fmt"
	"sort"
	"time"

	"options-backtester/internal/costs"
	"options-backtester/internal/datacache"
	"options-backtester/internal/models"
)

// DefaultMaxLogs bounds the per-day log.
const DefaultMaxLogs = 500

// Session carries the run-level settings a Context needs.
type Session struct {
	DTE       int
	LotSize   int
	EntryTime string
	ExitTime  string
	MaxLogs   int
}

// DayResult is what one day's evaluation folds into the run.
type DayResult struct {
	Date     time.Time
	Trades   []models.Trade
	DailyPnL float64
	Logs     []string
}

// Context is owned by exactly one day's evaluation and is not safe for
// concurrent use.
type Context struct {
	day      *datacache.Day
	date     time.Time
	session  Session
	costs    *costs.Model
	entryMin int
	exitMin  int
	spot     float64
	vix      float64

	positions []*Position // open order
	closed    []*Position // close order
	nextID    int
	markTime  string
	logs      []string
	dropped   int

	result *DayResult
}

// NewContext creates the context for one trading day.
func NewContext(day *datacache.Day, s Session, model *costs.Model) (*Context, error) {
	entry, err := models.ParseHHMM(s.EntryTime)
	if err != nil {
		return nil, err
	}
	exit, err := models.ParseHHMM(s.ExitTime)
	if err != nil {
		return nil, err
	}
	if s.MaxLogs <= 0 {
		s.MaxLogs = DefaultMaxLogs
	}
	c := &Context{
		day:      day,
		date:     day.Date,
		session:  s,
		costs:    model,
		entryMin: entry,
		exitMin:  exit,
		nextID:   1,
	}
	if !day.Empty() {
		first := day.Rows[0]
		c.spot = first.Spot
		c.vix = first.VIX
		if c.spot == 0 {
			c.spot = day.OpenSpot()
		}
		if c.vix == 0 {
			c.vix, _ = day.FirstVIX()
		}
	}
	return c, nil
}

// Day is the loaded archive slice the context reads from.
func (c *Context) Day() *datacache.Day { return c.day }

// Date is the trading date.
func (c *Context) Date() time.Time { return c.date }

// DTE is days to the next expiry.
func (c *Context) DTE() int { return c.session.DTE }

// Spot is the underlying at the day's first candle.
func (c *Context) Spot() float64 { return c.spot }

// VIX is the volatility index at the day's first candle.
func (c *Context) VIX() float64 { return c.vix }

// LotSize is the contract multiplier.
func (c *Context) LotSize() int { return c.session.LotSize }

// EntryTime is the configured entry time as HH:MM.
func (c *Context) EntryTime() string { return models.FormatHHMM(c.entryMin) }

// ExitTime is the configured exit time as HH:MM.
func (c *Context) ExitTime() string { return models.FormatHHMM(c.exitMin) }

// Candles returns a copy of the day's candles for strike/type.
func (c *Context) Candles(strike string, typ models.OptionType) []models.OptionCandle {
	s := c.day.Series(strike, typ)
	if s.Len() == 0 {
		return nil
	}
	out := make([]models.OptionCandle, len(s.Candles))
	copy(out, s.Candles)
	return out
}

// OptionPriceAt returns the open of the candle at exactly hhmm, or 0.
func (c *Context) OptionPriceAt(strike string, typ models.OptionType, hhmm string) float64 {
	m, err := models.ParseHHMM(hhmm)
	if err != nil {
		return 0
	}
	candle, ok := c.day.Series(strike, typ).At(m)
	if !ok {
		return 0
	}
	return candle.Open
}

// SpotPriceAt returns the underlying at exactly hhmm, or the day's spot.
func (c *Context) SpotPriceAt(hhmm string) float64 {
	m, err := models.ParseHHMM(hhmm)
	if err != nil || c.day.Empty() {
		return c.spot
	}
	if v, ok := c.day.SpotAt(m); ok {
		return v
	}
	return c.spot
}

// AvailableStrikes lists the day's strike labels ordered by offset.
func (c *Context) AvailableStrikes() []string {
	if c.day.Empty() {
		return nil
	}
	return c.day.Strikes()
}

// OpenPosition opens a position and returns its id, or -1 when no positive
// price can be resolved.
func (c *Context) OpenPosition(strike string, typ models.OptionType, action models.Action, lots int, label string, opts ...OpenOption) int {
	if c.result != nil {
		return -1
	}
	var cfg openConfig
	for _, o := range opts {
		o(&cfg)
	}

	at := c.EntryTime()
	if cfg.at != "" {
		m, err := models.ParseHHMM(cfg.at)
		if err != nil {
			c.Log(fmt.Sprintf("WARN: cannot open %s %s %s: %v", action, strike, typ, err))
			return -1
		}
		at = models.FormatHHMM(m)
	}

	price := 0.0
	if cfg.price != nil {
		price = *cfg.price
	} else {
		price = c.OptionPriceAt(strike, typ, at)
	}
	if price <= 0 || lots <= 0 {
		c.Log(fmt.Sprintf("WARN: cannot open %s %s %s: no price data at %s", action, strike, typ, at))
		return -1
	}

	id := c.nextID
	c.nextID++
	c.positions = append(c.positions, &Position{
		ID:           id,
		Strike:       strike,
		OptionType:   typ,
		Action:       action,
		Lots:         lots,
		Quantity:     lots * c.session.LotSize,
		EntryPrice:   price,
		EntryTime:    at,
		Label:        label,
		CurrentPrice: price,
		Open:         true,
	})
	return id
}

// ClosePosition closes an open position, realizing P&L and cost. It returns
// false for unknown or already-closed ids.
func (c *Context) ClosePosition(id int, reason models.ExitReason, opts ...CloseOption) bool {
	var cfg closeConfig
	for _, o := range opts {
		o(&cfg)
	}
	pos := c.find(id)
	if pos == nil || !pos.Open {
		return false
	}

	exit := pos.CurrentPrice
	if cfg.price != nil {
		exit = *cfg.price
	}
	at := cfg.at
	if at == "" {
		at = c.markTime
	}
	if at == "" {
		at = pos.EntryTime
	}
	if m, err := models.ParseHHMM(at); err == nil {
		at = models.FormatHHMM(m)
	}
	if reason == "" {
		reason = models.ExitManual
	}

	pos.ExitPrice = exit
	pos.ExitTime = at
	pos.ExitReason = reason
	pos.Open = false
	pos.GrossPnL = models.GrossPnL(pos.Action, pos.EntryPrice, exit, pos.Quantity)
	pos.Cost = c.costs.Calculate(c.date, pos.Action, pos.EntryPrice, exit, pos.Quantity, 1)
	pos.NetPnL = pos.GrossPnL - pos.Cost.Total
	c.closed = append(c.closed, pos)
	return true
}

// CloseAll closes every open position with the same reason and options, and
// returns how many were closed.
func (c *Context) CloseAll(reason models.ExitReason, opts ...CloseOption) int {
	n := 0
	for _, p := range c.positions {
		if p.Open && c.ClosePosition(p.ID, reason, opts...) {
			n++
		}
	}
	return n
}

// OpenPositions returns snapshots of the open positions in open order.
func (c *Context) OpenPositions() []Position {
	var out []Position
	for _, p := range c.positions {
		if p.Open {
			out = append(out, *p)
		}
	}
	return out
}

// Position returns a snapshot of a position, open or closed.
func (c *Context) Position(id int) (Position, bool) {
	p := c.find(id)
	if p == nil {
		return Position{}, false
	}
	return *p, true
}

func (c *Context) find(id int) *Position {
	for _, p := range c.positions {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// UpdatePrices marks open positions at the close of their candle at hhmm.
// Positions without a candle at hhmm keep their previous mark.
func (c *Context) UpdatePrices(hhmm string) error {
	m, err := models.ParseHHMM(hhmm)
	if err != nil {
		return err
	}
	for _, p := range c.positions {
		if !p.Open {
			continue
		}
		if candle, ok := c.day.Series(p.Strike, p.OptionType).At(m); ok {
			p.CurrentPrice = candle.Close
		}
	}
	c.markTime = models.FormatHHMM(m)
	return nil
}

// RealizedPnL is the gross P&L of closed positions.
func (c *Context) RealizedPnL() float64 {
	total := 0.0
	for _, p := range c.closed {
		total += p.GrossPnL
	}
	return total
}

// UnrealizedPnL is the marked P&L of open positions.
func (c *Context) UnrealizedPnL() float64 {
	total := 0.0
	for _, p := range c.positions {
		total += p.UnrealizedPnL()
	}
	return total
}

// TotalPnL is always RealizedPnL plus UnrealizedPnL.
func (c *Context) TotalPnL() float64 {
	return c.RealizedPnL() + c.UnrealizedPnL()
}

// Log appends a date-tagged message. Messages beyond the bound are counted
// but not kept.
func (c *Context) Log(msg string) {
	if len(c.logs) >= c.session.MaxLogs {
		c.dropped++
		return
	}
	c.logs = append(c.logs, fmt.Sprintf("[%s] %s", models.FormatDate(c.date), msg))
}

// Logs returns the day's log so far.
func (c *Context) Logs() []string {
	out := make([]string, len(c.logs))
	copy(out, c.logs)
	return out
}

// Finalize closes anything still open at the first candle at or after the
// exit time (its open), or the last mark, with reason time_exit, and folds
// closed positions into trades. It runs once; later calls return the same
// result and the context accepts no new positions.
func (c *Context) Finalize() DayResult {
	if c.result != nil {
		return *c.result
	}

	for _, p := range c.positions {
		if !p.Open {
			continue
		}
		price := p.CurrentPrice
		at := c.ExitTime()
		if candle, ok := c.day.Series(p.Strike, p.OptionType).FirstAtOrAfter(c.exitMin); ok {
			price = candle.Open
			at = candle.HHMM()
		}
		c.ClosePosition(p.ID, models.ExitTime, ExitPrice(price), ExitAt(at))
	}

	res := DayResult{Date: c.date, Logs: c.Logs()}
	if c.dropped > 0 {
		res.Logs = append(res.Logs, fmt.Sprintf("[%s] %d log lines dropped", models.FormatDate(c.date), c.dropped))
	}
	for _, p := range c.closed {
		t := c.trade(p)
		res.Trades = append(res.Trades, t)
		res.DailyPnL += t.NetPnL
	}
	c.result = &res
	return res
}

func (c *Context) trade(p *Position) models.Trade {
	absStrike := 0.0
	series := c.day.Series(p.Strike, p.OptionType)
	if series.Len() > 0 {
		absStrike = series.Candles[0].AbsoluteStrike
		if m, err := models.ParseHHMM(p.EntryTime); err == nil {
			if candle, ok := series.At(m); ok && candle.AbsoluteStrike > 0 {
				absStrike = candle.AbsoluteStrike
			}
		}
	}
	return models.Trade{
		Date:           c.date,
		LegID:          p.ID,
		Label:          p.Label,
		Action:         p.Action,
		StrikeLabel:    p.Strike,
		AbsoluteStrike: absStrike,
		OptionType:     p.OptionType,
		EntryTime:      p.EntryTime,
		ExitTime:       p.ExitTime,
		EntryPrice:     p.EntryPrice,
		ExitPrice:      p.ExitPrice,
		ExitReason:     p.ExitReason,
		Quantity:       p.Quantity,
		GrossPnL:       p.GrossPnL,
		NetPnL:         p.NetPnL,
		Cost:           p.Cost,
		DTE:            c.session.DTE,
		Spot:           c.SpotPriceAt(p.EntryTime),
		VIX:            c.vix,
	}
}

// Minutes returns the union of candle minutes across the given series, in
// order. Strategies use it to walk the session minute by minute.
func (c *Context) Minutes(keys ...models.SeriesKey) []string {
	seen := make(map[int]bool)
	var mins []int
	for _, k := range keys {
		s := c.day.Series(k.Strike, k.Type)
		if s == nil {
			continue
		}
		for _, candle := range s.Candles {
			m := candle.Minute()
			if !seen[m] {
				seen[m] = true
				mins = append(mins, m)
			}
		}
	}
	sort.Ints(mins)
	out := make([]string, len(mins))
	for i, m := range mins {
		out[i] = models.FormatHHMM(m)
	}
	return out
}

// CandleAt returns the candle of strike/type at exactly hhmm.
func (c *Context) CandleAt(strike string, typ models.OptionType, hhmm string) (models.OptionCandle, bool) {
	m, err := models.ParseHHMM(hhmm)
	if err != nil {
		return models.OptionCandle{}, false
	}
	return c.day.Series(strike, typ).At(m)
}
