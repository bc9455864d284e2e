// Package models provides domain models for the options backtester.
package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// IST is the exchange-local zone. Archive timestamps are converted once at load.
var IST = time.FixedZone("IST", 5*3600+30*60)

// DateLayout is the canonical date format used for keys and exports.
const DateLayout = "2006-01-02"

// OptionType represents a call or put.
type OptionType string

const (
	Call OptionType = "CE"
	Put  OptionType = "PE"
)

// ParseOptionType accepts CE/PE as well as the archive's CALL/PUT spelling.
func ParseOptionType(s string) (OptionType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CE", "CALL", "C":
		return Call, nil
	case "PE", "PUT", "P":
		return Put, nil
	}
	return "", fmt.Errorf("unknown option type %q", s)
}

// Action represents the side a leg is opened with.
type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
)

// ParseAction normalizes buy/sell.
func ParseAction(s string) (Action, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "B", "LONG":
		return Buy, nil
	case "SELL", "S", "SHORT":
		return Sell, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// TriggerMode selects exact-price or close-price stop/target evaluation.
type TriggerMode string

const (
	TriggerHard  TriggerMode = "hard"
	TriggerClose TriggerMode = "close"
)

// ExpiryCadence selects weekly or monthly expiries for DTE.
type ExpiryCadence string

const (
	ExpiryWeekly  ExpiryCadence = "WEEK"
	ExpiryMonthly ExpiryCadence = "MONTH"
)

// OptionCandle is one minute of one option series. Immutable once loaded.
type OptionCandle struct {
	Timestamp      time.Time
	Open           float64
	High           float64
	Low            float64
	Close          float64
	Volume         int64
	OI             int64
	StrikeLabel    string
	Type           OptionType
	AbsoluteStrike float64
	Spot           float64
	VIX            float64
}

// Minute returns the candle's minute of day.
func (c OptionCandle) Minute() int {
	return MinuteOfDay(c.Timestamp)
}

// HHMM returns the candle's time of day as HH:MM.
func (c OptionCandle) HHMM() string {
	return FormatHHMM(c.Minute())
}

// SeriesKey identifies one strike/type series within a day.
type SeriesKey struct {
	Strike string
	Type   OptionType
}

func (k SeriesKey) String() string {
	return k.Strike + " " + string(k.Type)
}

// ParseHHMM parses "HH:MM" into a minute of day.
func ParseHHMM(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// MustHHMM is ParseHHMM for literals known to be valid.
func MustHHMM(s string) int {
	m, err := ParseHHMM(s)
	if err != nil {
		panic(err)
	}
	return m
}

// FormatHHMM formats a minute of day as zero-padded "HH:MM".
func FormatHHMM(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

// MinuteOfDay returns hour*60+minute of t in its own location.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// FormatDate formats a date as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate parses YYYY-MM-DD as an exchange-local midnight.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, strings.TrimSpace(s), IST)
}

// DateOnly truncates t to midnight in its own location.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// IsWeekday reports whether t falls Monday through Friday.
func IsWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}
