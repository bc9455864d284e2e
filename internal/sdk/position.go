package sdk

import (
	"options-backtester/internal/models"
)

// Position is one open or closed option position within a day.
type Position struct {
	ID           int
	Strike       string
	OptionType   models.OptionType
	Action       models.Action
	Lots         int
	Quantity     int
	EntryPrice   float64
	EntryTime    string
	Label        string
	CurrentPrice float64
	Open         bool

	// Set on close.
	ExitPrice  float64
	ExitTime   string
	ExitReason models.ExitReason
	GrossPnL   float64
	NetPnL     float64
	Cost       models.CostBreakdown
}

// UnrealizedPnL marks an open position at CurrentPrice. Closed positions
// contribute zero.
func (p Position) UnrealizedPnL() float64 {
	if !p.Open {
		return 0
	}
	return models.GrossPnL(p.Action, p.EntryPrice, p.CurrentPrice, p.Quantity)
}

// openConfig collects OpenPosition options.
type openConfig struct {
	price *float64
	at    string
}

// OpenOption customizes OpenPosition.
type OpenOption func(*openConfig)

// WithPrice overrides the entry price.
func WithPrice(price float64) OpenOption {
	return func(c *openConfig) { c.price = &price }
}

// At enters at the open of the candle at hhmm instead of the entry time.
func At(hhmm string) OpenOption {
	return func(c *openConfig) { c.at = hhmm }
}

// closeConfig collects ClosePosition options.
type closeConfig struct {
	price *float64
	at    string
}

// CloseOption customizes ClosePosition and CloseAll.
type CloseOption func(*closeConfig)

// ExitPrice overrides the exit price. Without it the live mark is used.
func ExitPrice(price float64) CloseOption {
	return func(c *closeConfig) { c.price = &price }
}

// ExitAt records hhmm as the exit time.
func ExitAt(hhmm string) CloseOption {
	return func(c *closeConfig) { c.at = hhmm }
}
