package datacache

import (
	"sort"
	"time"

	"options-backtester/internal/models"
)

// Series is one strike/type's candles for a day, ordered by time with at
// most one candle per minute.
type Series struct {
	Key      models.SeriesKey
	Candles  []models.OptionCandle
	byMinute map[int]int
}

func newSeries(key models.SeriesKey, rows []models.OptionCandle) *Series {
	s := &Series{Key: key, byMinute: make(map[int]int, len(rows))}
	for _, c := range rows {
		m := c.Minute()
		if _, dup := s.byMinute[m]; dup {
			continue
		}
		s.byMinute[m] = len(s.Candles)
		s.Candles = append(s.Candles, c)
	}
	return s
}

// Len returns the number of candles.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Candles)
}

// At returns the candle at exactly minute.
func (s *Series) At(minute int) (models.OptionCandle, bool) {
	if s == nil {
		return models.OptionCandle{}, false
	}
	i, ok := s.byMinute[minute]
	if !ok {
		return models.OptionCandle{}, false
	}
	return s.Candles[i], true
}

// indexAtOrAfter returns the first index with minute >= m.
func (s *Series) indexAtOrAfter(m int) int {
	return sort.Search(len(s.Candles), func(i int) bool {
		return s.Candles[i].Minute() >= m
	})
}

// FirstAtOrAfter returns the first candle at or after minute.
func (s *Series) FirstAtOrAfter(minute int) (models.OptionCandle, bool) {
	if s == nil {
		return models.OptionCandle{}, false
	}
	i := s.indexAtOrAfter(minute)
	if i >= len(s.Candles) {
		return models.OptionCandle{}, false
	}
	return s.Candles[i], true
}

// LastAtOrBefore returns the last candle at or before minute.
func (s *Series) LastAtOrBefore(minute int) (models.OptionCandle, bool) {
	if s == nil {
		return models.OptionCandle{}, false
	}
	i := s.indexAtOrAfter(minute + 1)
	if i == 0 {
		return models.OptionCandle{}, false
	}
	return s.Candles[i-1], true
}

// After returns the candles strictly after minute. The slice aliases the
// series and must not be modified.
func (s *Series) After(minute int) []models.OptionCandle {
	if s == nil {
		return nil
	}
	return s.Candles[s.indexAtOrAfter(minute+1):]
}

// Between returns candles with from <= minute <= to.
func (s *Series) Between(from, to int) []models.OptionCandle {
	if s == nil || to < from {
		return nil
	}
	lo := s.indexAtOrAfter(from)
	hi := s.indexAtOrAfter(to + 1)
	return s.Candles[lo:hi]
}

// Span returns the first and last candle minutes; ok is false when empty.
func (s *Series) Span() (first, last int, ok bool) {
	if s.Len() == 0 {
		return 0, 0, false
	}
	return s.Candles[0].Minute(), s.Candles[len(s.Candles)-1].Minute(), true
}

// Day is an immutable slice of one trading date's rows.
type Day struct {
	Date   time.Time
	Rows   []models.OptionCandle
	series map[models.SeriesKey]*Series
	keys   []models.SeriesKey
}

// NewDay builds a day from unsorted rows, for synthetic replays and tests.
func NewDay(date time.Time, rows []models.OptionCandle) *Day {
	cp := make([]models.OptionCandle, len(rows))
	copy(cp, rows)
	sortCandles(cp)
	return newDay(date, cp)
}

func newDay(date time.Time, rows []models.OptionCandle) *Day {
	d := &Day{Date: models.DateOnly(date), Rows: rows, series: make(map[models.SeriesKey]*Series)}
	grouped := make(map[models.SeriesKey][]models.OptionCandle)
	for _, r := range rows {
		k := models.SeriesKey{Strike: r.StrikeLabel, Type: r.Type}
		if _, ok := grouped[k]; !ok {
			d.keys = append(d.keys, k)
		}
		grouped[k] = append(grouped[k], r)
	}
	for k, rs := range grouped {
		d.series[k] = newSeries(k, rs)
	}
	sort.SliceStable(d.keys, func(i, j int) bool {
		if d.keys[i].Strike != d.keys[j].Strike {
			return strikeLess(d.keys[i].Strike, d.keys[j].Strike)
		}
		return d.keys[i].Type < d.keys[j].Type
	})
	return d
}

// Empty reports whether the day has no rows.
func (d *Day) Empty() bool {
	return d == nil || len(d.Rows) == 0
}

// Series returns the series for strike/type, or nil.
func (d *Day) Series(strike string, typ models.OptionType) *Series {
	if d == nil {
		return nil
	}
	return d.series[models.SeriesKey{Strike: strike, Type: typ}]
}

// Keys lists the day's series ordered by strike offset then type.
func (d *Day) Keys() []models.SeriesKey {
	out := make([]models.SeriesKey, len(d.keys))
	copy(out, d.keys)
	return out
}

// Strikes lists distinct strike labels ordered by offset.
func (d *Day) Strikes() []string {
	var out []string
	seen := make(map[string]bool)
	for _, k := range d.keys {
		if !seen[k.Strike] {
			seen[k.Strike] = true
			out = append(out, k.Strike)
		}
	}
	return out
}

// HasStrike reports whether any series exists for label.
func (d *Day) HasStrike(label string) bool {
	for _, k := range d.keys {
		if k.Strike == label {
			return true
		}
	}
	return false
}

// OpenSpot returns the first non-zero underlying spot of the day.
func (d *Day) OpenSpot() float64 {
	for _, r := range d.Rows {
		if r.Spot > 0 {
			return r.Spot
		}
	}
	return 0
}

// FirstVIX returns the first non-zero volatility index reading of the day.
func (d *Day) FirstVIX() (float64, bool) {
	for _, r := range d.Rows {
		if r.VIX > 0 {
			return r.VIX, true
		}
	}
	return 0, false
}

// SpotAt returns the underlying spot recorded at exactly minute.
func (d *Day) SpotAt(minute int) (float64, bool) {
	lo := sort.Search(len(d.Rows), func(i int) bool {
		return d.Rows[i].Minute() >= minute
	})
	for i := lo; i < len(d.Rows) && d.Rows[i].Minute() == minute; i++ {
		if d.Rows[i].Spot > 0 {
			return d.Rows[i].Spot, true
		}
	}
	return 0, false
}
