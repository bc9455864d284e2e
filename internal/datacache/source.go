package datacache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	apperrors "options-backtester/internal/errors"
	"options-backtester/internal/models"
)

// IndexEntry is one archive file and the date span its name declares.
type IndexEntry struct {
	From time.Time
	To   time.Time
	ID   string
}

// Covers reports whether d falls within the entry's span, inclusive.
func (e IndexEntry) Covers(d time.Time) bool {
	k := models.FormatDate(d)
	return models.FormatDate(e.From) <= k && k <= models.FormatDate(e.To)
}

// Overlaps reports whether the entry intersects [from, to].
func (e IndexEntry) Overlaps(from, to time.Time) bool {
	return models.FormatDate(e.To) >= models.FormatDate(from) &&
		models.FormatDate(e.From) <= models.FormatDate(to)
}

// Source enumerates and reads archive files.
type Source interface {
	Index(ctx context.Context) ([]IndexEntry, error)
	Read(ctx context.Context, id string) ([]models.OptionCandle, error)
}

// DefaultPrefix is the archive file name prefix.
const DefaultPrefix = "NIFTY_Options"

// DirSource reads <prefix>_<from>_<to>.csv files from a directory.
type DirSource struct {
	Dir    string
	Prefix string
	Loc    *time.Location
}

// NewDirSource creates a directory source. An empty prefix uses DefaultPrefix
// and a nil location uses IST.
func NewDirSource(dir, prefix string, loc *time.Location) *DirSource {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if loc == nil {
		loc = models.IST
	}
	return &DirSource{Dir: dir, Prefix: prefix, Loc: loc}
}

// Index lists archive files whose names encode a parseable span.
func (s *DirSource) Index(ctx context.Context) ([]IndexEntry, error) {
	matches, err := filepath.Glob(filepath.Join(s.Dir, s.Prefix+"_*.csv"))
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list archive")
	}
	entries := make([]IndexEntry, 0, len(matches))
	for _, m := range matches {
		from, to, ok := ParseFileSpan(filepath.Base(m), s.Prefix)
		if !ok {
			continue
		}
		entries = append(entries, IndexEntry{From: from, To: to, ID: m})
	}
	return entries, nil
}

// ParseFileSpan extracts the from/to dates from an archive file name.
// An optional "Phase2_" segment after the prefix is tolerated.
func ParseFileSpan(name, prefix string) (time.Time, time.Time, bool) {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if !strings.HasPrefix(stem, prefix+"_") {
		return time.Time{}, time.Time{}, false
	}
	rest := strings.TrimPrefix(stem, prefix+"_")
	rest = strings.TrimPrefix(rest, "Phase2_")
	parts := strings.Split(rest, "_")
	if len(parts) != 2 {
		return time.Time{}, time.Time{}, false
	}
	from, err := models.ParseDate(parts[0])
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	to, err := models.ParseDate(parts[1])
	if err != nil || to.Before(from) {
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

// archiveRow mirrors the archive CSV header.
type archiveRow struct {
	Timestamp      string  `csv:"timestamp"`
	Open           float64 `csv:"open"`
	High           float64 `csv:"high"`
	Low            float64 `csv:"low"`
	Close          float64 `csv:"close"`
	Volume         float64 `csv:"volume"`
	OI             float64 `csv:"oi"`
	StrikeRel      string  `csv:"strike_rel"`
	Type           string  `csv:"type"`
	AbsoluteStrike float64 `csv:"absolute_strike"`
	SpotPrice      float64 `csv:"spot_price"`
	IndiaVIX       float64 `csv:"india_vix"`
}

// Read parses one archive file. Timestamps are converted to s.Loc here and
// nowhere else.
func (s *DirSource) Read(ctx context.Context, id string) ([]models.OptionCandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(id)
	if err != nil {
		return nil, apperrors.NewDataError("archive", id, "open failed", err)
	}
	defer f.Close()

	var rows []*archiveRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, apperrors.NewDataError("archive", id, "parse failed", err)
	}

	candles := make([]models.OptionCandle, 0, len(rows))
	for i, r := range rows {
		ts, err := parseTimestamp(r.Timestamp, s.Loc)
		if err != nil {
			return nil, apperrors.NewDataError("archive", id, fmt.Sprintf("row %d", i+2), err)
		}
		typ, err := models.ParseOptionType(r.Type)
		if err != nil {
			continue
		}
		candles = append(candles, models.OptionCandle{
			Timestamp:      ts,
			Open:           r.Open,
			High:           r.High,
			Low:            r.Low,
			Close:          r.Close,
			Volume:         int64(r.Volume),
			OI:             int64(r.OI),
			StrikeLabel:    strings.ToUpper(strings.TrimSpace(r.StrikeRel)),
			Type:           typ,
			AbsoluteStrike: r.AbsoluteStrike,
			Spot:           r.SpotPrice,
			VIX:            r.IndiaVIX,
		})
	}
	return candles, nil
}

var localLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
}

// parseTimestamp accepts epoch seconds (UTC) or an already-local datetime.
func parseTimestamp(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if sec, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Unix(int64(sec), 0).In(loc), nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", v)
}

// sortCandles orders rows by time, then strike offset, then type.
func sortCandles(rows []models.OptionCandle) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.StrikeLabel != b.StrikeLabel {
			return strikeLess(a.StrikeLabel, b.StrikeLabel)
		}
		return a.Type < b.Type
	})
}

func strikeLess(a, b string) bool {
	oa, errA := models.ParseStrikeOffset(a)
	ob, errB := models.ParseStrikeOffset(b)
	if errA != nil || errB != nil || oa == ob {
		return a < b
	}
	return oa < ob
}
