// Package expiry resolves NIFTY option expiries and days-to-expiry.
package expiry

import (
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gocarina/gocsv"

	apperrors "options-backtester/internal/errors"
	"options-backtester/internal/models"
)

// calendarRow accepts the common header spellings of an expiry calendar.
type calendarRow struct {
	Expiry     string `csv:"expiry"`
	ExpiryDate string `csv:"expiry_date"`
	Date       string `csv:"date"`
	Type       string `csv:"type"`
}

var dateLayouts = []string{
	models.DateLayout,
	"02-Jan-2006",
	"2006-01-02 15:04:05",
	"02/01/2006",
}

// Calendar holds known expiry dates. Without a typed calendar, the last
// expiry of each month is treated as the monthly expiry.
type Calendar struct {
	mu      sync.RWMutex
	weekly  []time.Time
	monthly []time.Time
}

// NewCalendar builds a calendar from untyped expiry dates.
func NewCalendar(expiries []time.Time) *Calendar {
	c := &Calendar{}
	c.SetExpiries(expiries)
	return c
}

// SetExpiries replaces the calendar with untyped expiry dates.
func (c *Calendar) SetExpiries(expiries []time.Time) {
	all := normalize(expiries)

	var monthly []time.Time
	for i, e := range all {
		if i == len(all)-1 {
			// the calendar may end mid-month
			if e.AddDate(0, 0, 7).Month() != e.Month() {
				monthly = append(monthly, e)
			}
			continue
		}
		if all[i+1].Month() != e.Month() || all[i+1].Year() != e.Year() {
			monthly = append(monthly, e)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.weekly = all
	c.monthly = monthly
}

func normalize(in []time.Time) []time.Time {
	seen := make(map[string]bool, len(in))
	out := make([]time.Time, 0, len(in))
	for _, t := range in {
		d := models.DateOnly(t)
		k := models.FormatDate(d)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// LoadCalendar reads an expiry calendar CSV. A missing file yields an empty
// calendar, which falls back to computed Thursday expiries.
func LoadCalendar(path string) (*Calendar, error) {
	c := &Calendar{}
	if path == "" {
		return c, nil
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, apperrors.NewDataError("expiry_calendar", path, "open failed", err)
	}
	defer f.Close()

	var rows []*calendarRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, apperrors.NewDataError("expiry_calendar", path, "parse failed", err)
	}

	var untyped, weekly, monthly []time.Time
	typed := false
	for _, r := range rows {
		raw := firstNonEmpty(r.Expiry, r.ExpiryDate, r.Date)
		d, ok := parseDate(raw)
		if !ok {
			continue
		}
		switch strings.ToUpper(strings.TrimSpace(r.Type)) {
		case "WEEK", "WEEKLY", "W":
			typed = true
			weekly = append(weekly, d)
		case "MONTH", "MONTHLY", "M":
			typed = true
			monthly = append(monthly, d)
		default:
			untyped = append(untyped, d)
		}
	}

	if !typed {
		c.SetExpiries(untyped)
		return c, nil
	}
	monthly = normalize(append(monthly, untyped...))
	c.weekly = normalize(append(append(weekly, monthly...), untyped...))
	c.monthly = monthly
	return c, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, models.IST); err == nil {
			return models.DateOnly(t), true
		}
	}
	return time.Time{}, false
}

// Len returns the number of weekly-cadence expiries known.
func (c *Calendar) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.weekly)
}

// NextExpiry returns the first expiry on or after date for the cadence,
// falling back to computed Thursdays beyond the calendar.
func (c *Calendar) NextExpiry(date time.Time, cadence models.ExpiryCadence) time.Time {
	day := models.DateOnly(date)

	c.mu.RLock()
	list := c.weekly
	if cadence == models.ExpiryMonthly {
		list = c.monthly
	}
	i := sort.Search(len(list), func(i int) bool {
		return !list[i].Before(day)
	})
	var found time.Time
	if i < len(list) {
		found = list[i]
	}
	c.mu.RUnlock()

	if !found.IsZero() {
		return found
	}
	if cadence == models.ExpiryMonthly {
		return MonthlyExpiry(day)
	}
	return WeeklyExpiry(day)
}

// DTE returns whole calendar days from date to its next expiry.
func (c *Calendar) DTE(date time.Time, cadence models.ExpiryCadence) int {
	day := models.DateOnly(date)
	return DaysBetween(day, c.NextExpiry(day, cadence))
}

// DaysBetween counts calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	ya, ma, da := a.Date()
	yb, mb, db := b.Date()
	ua := time.Date(ya, ma, da, 0, 0, 0, 0, time.UTC)
	ub := time.Date(yb, mb, db, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

// WeeklyExpiry returns the Thursday on or after date.
func WeeklyExpiry(date time.Time) time.Time {
	day := models.DateOnly(date)
	daysUntilThursday := (int(time.Thursday) - int(day.Weekday()) + 7) % 7
	return day.AddDate(0, 0, daysUntilThursday)
}

// MonthlyExpiry returns the last Thursday of date's month, or of the next
// month once that Thursday has passed.
func MonthlyExpiry(date time.Time) time.Time {
	day := models.DateOnly(date)
	exp := lastThursday(day.Year(), day.Month(), day.Location())
	if exp.Before(day) {
		next := day.AddDate(0, 1, 1-day.Day())
		exp = lastThursday(next.Year(), next.Month(), day.Location())
	}
	return exp
}

func lastThursday(year int, month time.Month, loc *time.Location) time.Time {
	lastDay := time.Date(year, month+1, 1, 0, 0, 0, 0, loc).AddDate(0, 0, -1)
	for lastDay.Weekday() != time.Thursday {
		lastDay = lastDay.AddDate(0, 0, -1)
	}
	return lastDay
}
