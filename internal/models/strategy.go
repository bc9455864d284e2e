package models

import (
	"fmt"
	"strconv"
	"strings"

	apperrors "options-backtester/internal/errors"
)

// LegConfig describes one leg of a fixed multi-leg strategy.
type LegConfig struct {
	Action     Action     `yaml:"action" json:"action"`
	Strike     string     `yaml:"strike" json:"strike"`
	OptionType OptionType `yaml:"option_type" json:"option_type"`
	Lots       int        `yaml:"lots" json:"lots"`
	SLPct      *float64   `yaml:"sl_pct,omitempty" json:"sl_pct,omitempty"`
	TargetPct  *float64   `yaml:"target_pct,omitempty" json:"target_pct,omitempty"`
}

// Key returns the series the leg trades.
func (l LegConfig) Key() SeriesKey {
	return SeriesKey{Strike: l.Strike, Type: l.OptionType}
}

// StrategyConfig is a complete fixed strategy definition.
type StrategyConfig struct {
	Name       string        `yaml:"name" json:"name"`
	Legs       []LegConfig   `yaml:"legs" json:"legs"`
	EntryTime  string        `yaml:"entry_time" json:"entry_time"`
	ExitTime   string        `yaml:"exit_time" json:"exit_time"`
	SLPct      float64       `yaml:"sl_pct" json:"sl_pct"`
	SLType     TriggerMode   `yaml:"sl_type" json:"sl_type"`
	TargetPct  float64       `yaml:"target_pct" json:"target_pct"`
	TargetType TriggerMode   `yaml:"target_type" json:"target_type"`
	LotSize    int           `yaml:"lot_size" json:"lot_size"`
	VIXMin     *float64      `yaml:"vix_min,omitempty" json:"vix_min,omitempty"`
	VIXMax     *float64      `yaml:"vix_max,omitempty" json:"vix_max,omitempty"`
	DTEMin     *int          `yaml:"dte_min,omitempty" json:"dte_min,omitempty"`
	DTEMax     *int          `yaml:"dte_max,omitempty" json:"dte_max,omitempty"`
	ExpiryType ExpiryCadence `yaml:"expiry_type" json:"expiry_type"`
}

// DefaultLotSize is the NIFTY contract size used when a config omits it.
const DefaultLotSize = 25

// ApplyDefaults fills unset optional fields.
func (c *StrategyConfig) ApplyDefaults() {
	if c.EntryTime == "" {
		c.EntryTime = "09:20"
	}
	if c.ExitTime == "" {
		c.ExitTime = "15:15"
	}
	if c.SLType == "" {
		c.SLType = TriggerHard
	}
	if c.TargetType == "" {
		c.TargetType = TriggerHard
	}
	if c.LotSize == 0 {
		c.LotSize = DefaultLotSize
	}
	if c.ExpiryType == "" {
		c.ExpiryType = ExpiryWeekly
	}
	for i := range c.Legs {
		if c.Legs[i].Lots == 0 {
			c.Legs[i].Lots = 1
		}
		c.Legs[i].Strike = strings.ToUpper(strings.TrimSpace(c.Legs[i].Strike))
		if a, err := ParseAction(string(c.Legs[i].Action)); err == nil {
			c.Legs[i].Action = a
		}
		if t, err := ParseOptionType(string(c.Legs[i].OptionType)); err == nil {
			c.Legs[i].OptionType = t
		}
	}
}

// ValidateSession checks the fields a procedural run depends on.
func (c *StrategyConfig) ValidateSession() error {
	entry, err := ParseHHMM(c.EntryTime)
	if err != nil {
		return apperrors.NewValidationError("entry_time", c.EntryTime, err.Error())
	}
	exit, err := ParseHHMM(c.ExitTime)
	if err != nil {
		return apperrors.NewValidationError("exit_time", c.ExitTime, err.Error())
	}
	if exit <= entry {
		return apperrors.NewValidationError("exit_time", c.ExitTime, "must be after entry_time")
	}
	if c.LotSize <= 0 {
		return apperrors.NewValidationError("lot_size", c.LotSize, "must be positive")
	}
	if c.ExpiryType != ExpiryWeekly && c.ExpiryType != ExpiryMonthly {
		return apperrors.NewValidationError("expiry_type", c.ExpiryType, "must be WEEK or MONTH")
	}
	if c.VIXMin != nil && c.VIXMax != nil && *c.VIXMin > *c.VIXMax {
		return apperrors.NewValidationError("vix_min", *c.VIXMin, "must not exceed vix_max")
	}
	if c.DTEMin != nil && c.DTEMax != nil && *c.DTEMin > *c.DTEMax {
		return apperrors.NewValidationError("dte_min", *c.DTEMin, "must not exceed dte_max")
	}
	return nil
}

// Validate checks a fixed-leg strategy.
func (c *StrategyConfig) Validate() error {
	if err := c.ValidateSession(); err != nil {
		return err
	}
	if len(c.Legs) == 0 {
		return apperrors.NewValidationError("legs", 0, "at least one leg is required")
	}
	if c.SLPct < 0 {
		return apperrors.NewValidationError("sl_pct", c.SLPct, "must not be negative")
	}
	if c.TargetPct < 0 {
		return apperrors.NewValidationError("target_pct", c.TargetPct, "must not be negative")
	}
	if c.SLType != TriggerHard && c.SLType != TriggerClose {
		return apperrors.NewValidationError("sl_type", c.SLType, "must be hard or close")
	}
	if c.TargetType != TriggerHard && c.TargetType != TriggerClose {
		return apperrors.NewValidationError("target_type", c.TargetType, "must be hard or close")
	}
	for i, leg := range c.Legs {
		field := fmt.Sprintf("legs[%d]", i)
		if leg.Action != Buy && leg.Action != Sell {
			return apperrors.NewValidationError(field+".action", leg.Action, "must be BUY or SELL")
		}
		if leg.OptionType != Call && leg.OptionType != Put {
			return apperrors.NewValidationError(field+".option_type", leg.OptionType, "must be CE or PE")
		}
		if _, err := ParseStrikeOffset(leg.Strike); err != nil {
			return apperrors.NewValidationError(field+".strike", leg.Strike, err.Error())
		}
		if leg.Lots <= 0 {
			return apperrors.NewValidationError(field+".lots", leg.Lots, "must be positive")
		}
		if leg.SLPct != nil && *leg.SLPct < 0 {
			return apperrors.NewValidationError(field+".sl_pct", *leg.SLPct, "must not be negative")
		}
		if leg.TargetPct != nil && *leg.TargetPct < 0 {
			return apperrors.NewValidationError(field+".target_pct", *leg.TargetPct, "must not be negative")
		}
	}
	return nil
}

// LegSLPct returns the leg override or the strategy default.
func (c *StrategyConfig) LegSLPct(leg LegConfig) float64 {
	if leg.SLPct != nil {
		return *leg.SLPct
	}
	return c.SLPct
}

// LegTargetPct returns the leg override or the strategy default.
func (c *StrategyConfig) LegTargetPct(leg LegConfig) float64 {
	if leg.TargetPct != nil {
		return *leg.TargetPct
	}
	return c.TargetPct
}

// RequiredSeries lists the distinct series the legs need, in leg order.
func (c *StrategyConfig) RequiredSeries() []SeriesKey {
	seen := make(map[SeriesKey]bool, len(c.Legs))
	keys := make([]SeriesKey, 0, len(c.Legs))
	for _, leg := range c.Legs {
		k := leg.Key()
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys
}

// Clone returns a deep copy: legs and every optional threshold are fresh,
// so a sweep variant can be edited without touching its base.
func (c StrategyConfig) Clone() StrategyConfig {
	out := c
	out.VIXMin, out.VIXMax = clonePtr(c.VIXMin), clonePtr(c.VIXMax)
	out.DTEMin, out.DTEMax = clonePtr(c.DTEMin), clonePtr(c.DTEMax)
	out.Legs = make([]LegConfig, len(c.Legs))
	for i, leg := range c.Legs {
		leg.SLPct, leg.TargetPct = clonePtr(leg.SLPct), clonePtr(leg.TargetPct)
		out.Legs[i] = leg
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// ParseStrikeOffset parses "ATM", "ATM+3", "ATM-1" into a signed step count.
func ParseStrikeOffset(label string) (int, error) {
	s := strings.ToUpper(strings.TrimSpace(label))
	if !strings.HasPrefix(s, "ATM") {
		return 0, fmt.Errorf("strike %q must start with ATM", label)
	}
	rest := s[3:]
	if rest == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(rest)
	if err != nil || (rest[0] != '+' && rest[0] != '-') {
		return 0, fmt.Errorf("strike %q has an invalid offset", label)
	}
	return n, nil
}

// FloatPtr returns a pointer to v.
func FloatPtr(v float64) *float64 { return &v }

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }
