// Package costs computes round-trip trading costs for NSE index options.
package costs

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	apperrors "options-backtester/internal/errors"
	"options-backtester/internal/models"
)

// TaxSchedule is one dated row of statutory rates, all in percent.
type TaxSchedule struct {
	EffectiveFrom time.Time `mapstructure:"effective_from" json:"effective_from"`
	STTSellPct    float64   `mapstructure:"stt_sell_pct" json:"stt_sell_pct"`
	STTBuyPct     float64   `mapstructure:"stt_buy_pct" json:"stt_buy_pct"`
	ExchangePct   float64   `mapstructure:"exchange_charges_pct" json:"exchange_charges_pct"`
	SEBIPct       float64   `mapstructure:"sebi_fee_pct" json:"sebi_fee_pct"`
	GSTPct        float64   `mapstructure:"gst_pct" json:"gst_pct"`
	StampPct      float64   `mapstructure:"stamp_duty_pct" json:"stamp_duty_pct"`
}

// Table is an append-only list of schedules ordered by effective date.
type Table struct {
	mu   sync.RWMutex
	rows []TaxSchedule
}

// NewTable builds a table, rejecting rows that are not strictly ordered.
func NewTable(rows ...TaxSchedule) (*Table, error) {
	t := &Table{}
	for _, r := range rows {
		if err := t.Append(r); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// DefaultTable returns the built-in NSE F&O schedule.
func DefaultTable() *Table {
	t, _ := NewTable(
		TaxSchedule{
			EffectiveFrom: date(2020, time.January, 1),
			STTSellPct:    0.0625,
			STTBuyPct:     0,
			ExchangePct:   0.0495,
			SEBIPct:       0.0001,
			GSTPct:        18,
			StampPct:      0.003,
		},
		// STT revision for options
		TaxSchedule{
			EffectiveFrom: date(2024, time.October, 1),
			STTSellPct:    0.1,
			STTBuyPct:     0.1,
			ExchangePct:   0.0495,
			SEBIPct:       0.0001,
			GSTPct:        18,
			StampPct:      0.003,
		},
	)
	return t
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, models.IST)
}

// Append adds a new schedule. Existing rows are never modified.
func (t *Table) Append(row TaxSchedule) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := len(t.rows); n > 0 && !dayOf(row.EffectiveFrom).After(dayOf(t.rows[n-1].EffectiveFrom)) {
		return apperrors.Wrapf(apperrors.ErrScheduleOrder, "effective_from %s", models.FormatDate(row.EffectiveFrom))
	}
	t.rows = append(t.rows, row)
	return nil
}

// Rows returns a copy of the schedule rows.
func (t *Table) Rows() []TaxSchedule {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]TaxSchedule, len(t.rows))
	copy(out, t.rows)
	return out
}

// Select returns the last schedule effective on or before d. Dates before
// the first row use the first row.
func (t *Table) Select(d time.Time) TaxSchedule {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.rows) == 0 {
		return TaxSchedule{}
	}
	day := dayOf(d)
	i := sort.Search(len(t.rows), func(i int) bool {
		return dayOf(t.rows[i].EffectiveFrom).After(day)
	})
	if i == 0 {
		return t.rows[0]
	}
	return t.rows[i-1]
}

// dayOf compares calendar dates irrespective of location.
func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Config holds user-adjustable cost parameters.
type Config struct {
	SlippagePoints    float64      `mapstructure:"slippage_points"`
	BrokeragePerOrder float64      `mapstructure:"brokerage_per_order"`
	UseTaxes          bool         `mapstructure:"use_taxes"`
	CustomRates       *TaxSchedule `mapstructure:"-"`
}

// DefaultConfig returns a flat-fee discount broker setup.
func DefaultConfig() Config {
	return Config{
		SlippagePoints:    0.5,
		BrokeragePerOrder: 20,
		UseTaxes:          true,
	}
}

// Model computes cost breakdowns. It holds no mutable state of its own.
type Model struct {
	cfg   Config
	table *Table
}

// NewModel creates a cost model. A nil table uses DefaultTable.
func NewModel(cfg Config, table *Table) *Model {
	if table == nil {
		table = DefaultTable()
	}
	return &Model{cfg: cfg, table: table}
}

// Config returns the model configuration.
func (m *Model) Config() Config {
	return m.cfg
}

// Table returns the schedule table in use.
func (m *Model) Table() *Table {
	return m.table
}

var (
	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)
)

// Calculate returns the round-trip cost of a position opened with action at
// entry premium and closed at exit premium. qty is the total quantity per leg.
func (m *Model) Calculate(d time.Time, action models.Action, entry, exit float64, qty, legs int) models.CostBreakdown {
	q := decimal.NewFromInt(int64(max(qty, 0)))
	n := decimal.NewFromInt(int64(max(legs, 0)))
	entryPrem := nonNeg(entry)
	exitPrem := nonNeg(exit)

	slippage := nonNeg(m.cfg.SlippagePoints).Mul(q).Mul(n).Mul(two)
	brokerage := nonNeg(m.cfg.BrokeragePerOrder).Mul(n).Mul(two)

	out := models.CostBreakdown{
		Slippage:  slippage.InexactFloat64(),
		Brokerage: brokerage.InexactFloat64(),
	}
	if !m.cfg.UseTaxes {
		out.Total = slippage.Add(brokerage).InexactFloat64()
		return out
	}

	rates := m.table.Select(d)
	if m.cfg.CustomRates != nil {
		rates = *m.cfg.CustomRates
	}

	entryTurnover := entryPrem.Mul(q).Mul(n)
	exitTurnover := exitPrem.Mul(q).Mul(n)
	totalTurnover := entryTurnover.Add(exitTurnover)

	sellRate := pct(rates.STTSellPct)
	buyRate := pct(rates.STTBuyPct)
	var stt, buyTurnover decimal.Decimal
	if action == models.Sell {
		stt = entryTurnover.Mul(sellRate).Add(exitTurnover.Mul(buyRate))
		buyTurnover = exitTurnover
	} else {
		stt = entryTurnover.Mul(buyRate).Add(exitTurnover.Mul(sellRate))
		buyTurnover = entryTurnover
	}

	exchange := totalTurnover.Mul(pct(rates.ExchangePct))
	sebi := totalTurnover.Mul(pct(rates.SEBIPct))
	gst := brokerage.Add(exchange).Add(sebi).Mul(pct(rates.GSTPct))
	stamp := buyTurnover.Mul(pct(rates.StampPct))

	total := slippage.Add(brokerage).Add(stt).Add(exchange).Add(sebi).Add(gst).Add(stamp)

	out.STT = stt.InexactFloat64()
	out.ExchangeCharges = exchange.InexactFloat64()
	out.SEBIFee = sebi.InexactFloat64()
	out.GST = gst.InexactFloat64()
	out.StampDuty = stamp.InexactFloat64()
	out.Total = total.InexactFloat64()
	return out
}

func pct(rate float64) decimal.Decimal {
	return nonNeg(rate).Div(hundred)
}

func nonNeg(v float64) decimal.Decimal {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v)
}
