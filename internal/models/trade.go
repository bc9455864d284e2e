package models

import "time"

// ExitReason records why a leg was closed.
type ExitReason string

const (
	ExitTime        ExitReason = "time_exit"
	ExitSLHard      ExitReason = "sl_hard"
	ExitSLClose     ExitReason = "sl_close"
	ExitTargetHard  ExitReason = "target_hard"
	ExitTargetClose ExitReason = "target_close"
	ExitNoData      ExitReason = "no_data"
	ExitGlobalSL    ExitReason = "global_sl"
	ExitProfitLock  ExitReason = "profit_lock"
	ExitReentrySL   ExitReason = "reentry_sl"
	ExitManual      ExitReason = "manual"
)

// CostBreakdown itemizes the round-trip cost of a leg.
type CostBreakdown struct {
	Slippage        float64 `json:"slippage"`
	Brokerage       float64 `json:"brokerage"`
	STT             float64 `json:"stt"`
	ExchangeCharges float64 `json:"exchange_charges"`
	SEBIFee         float64 `json:"sebi_fee"`
	GST             float64 `json:"gst"`
	StampDuty       float64 `json:"stamp_duty"`
	Total           float64 `json:"total"`
}

// Add returns the component-wise sum of two breakdowns.
func (c CostBreakdown) Add(o CostBreakdown) CostBreakdown {
	return CostBreakdown{
		Slippage:        c.Slippage + o.Slippage,
		Brokerage:       c.Brokerage + o.Brokerage,
		STT:             c.STT + o.STT,
		ExchangeCharges: c.ExchangeCharges + o.ExchangeCharges,
		SEBIFee:         c.SEBIFee + o.SEBIFee,
		GST:             c.GST + o.GST,
		StampDuty:       c.StampDuty + o.StampDuty,
		Total:           c.Total + o.Total,
	}
}

// Trade is one executed (or skipped) leg. Immutable once created.
type Trade struct {
	Date           time.Time
	LegID          int
	Label          string
	Action         Action
	StrikeLabel    string
	AbsoluteStrike float64
	OptionType     OptionType
	EntryTime      string
	ExitTime       string
	EntryPrice     float64
	ExitPrice      float64
	ExitReason     ExitReason
	Quantity       int
	GrossPnL       float64
	NetPnL         float64
	Cost           CostBreakdown
	DTE            int
	Spot           float64
	VIX            float64
	Skipped        bool
	SkipReason     string
}

// GrossPnL returns the pre-cost P&L of a round trip.
func GrossPnL(action Action, entry, exit float64, qty int) float64 {
	if action == Sell {
		return (entry - exit) * float64(qty)
	}
	return (exit - entry) * float64(qty)
}

// SkipRecord explains why a day or a leg produced no trade.
// Leg is zero when the whole day was skipped.
type SkipRecord struct {
	Date   time.Time
	Leg    int
	Reason string
}

// ExecutionError is a strategy-logic failure isolated to one day.
type ExecutionError struct {
	Date    time.Time
	Message string
}
