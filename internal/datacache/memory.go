package datacache

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "options-backtester/internal/errors"
	"options-backtester/internal/models"
)

// MemorySource serves archive files from memory. It backs tests and
// synthetic replays.
type MemorySource struct {
	mu      sync.Mutex
	entries []IndexEntry
	files   map[string][]models.OptionCandle
	reads   map[string]int
}

// NewMemorySource creates an empty in-memory archive.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		files: make(map[string][]models.OptionCandle),
		reads: make(map[string]int),
	}
}

// Add registers a file spanning [from, to].
func (m *MemorySource) Add(id string, from, to time.Time, rows []models.OptionCandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, IndexEntry{From: from, To: to, ID: id})
	cp := make([]models.OptionCandle, len(rows))
	copy(cp, rows)
	m.files[id] = cp
}

// Index implements Source.
func (m *MemorySource) Index(ctx context.Context) ([]IndexEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]IndexEntry, len(m.entries))
	copy(out, m.entries)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Read implements Source.
func (m *MemorySource) Read(ctx context.Context, id string) ([]models.OptionCandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.files[id]
	if !ok {
		return nil, apperrors.NewDataError("archive", id, "unknown file", apperrors.ErrDataNotFound)
	}
	m.reads[id]++
	out := make([]models.OptionCandle, len(rows))
	copy(out, rows)
	return out, nil
}

// Reads returns how many times id was read.
func (m *MemorySource) Reads(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads[id]
}

// FlatSeries returns one candle per minute in [from, to] with every price
// field equal to price. Callers adjust individual minutes as needed.
func FlatSeries(date time.Time, key models.SeriesKey, from, to int, price, spot, vix float64) []models.OptionCandle {
	d := models.DateOnly(date)
	out := make([]models.OptionCandle, 0, to-from+1)
	for m := from; m <= to; m++ {
		out = append(out, models.OptionCandle{
			Timestamp:   d.Add(time.Duration(m) * time.Minute),
			Open:        price,
			High:        price,
			Low:         price,
			Close:       price,
			StrikeLabel: key.Strike,
			Type:        key.Type,
			Spot:        spot,
			VIX:         vix,
		})
	}
	return out
}
