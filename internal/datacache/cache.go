// Package datacache provides a time-indexed cache over the minute-level
// options archive. Whole files are loaded on first touch and day slices are
// cached so repeated lookups never re-read the archive.
package datacache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "options-backtester/internal/errors"
	"options-backtester/internal/models"
)

// Stats reports cache occupancy.
type Stats struct {
	FilesIndexed int `json:"files_indexed"`
	FilesLoaded  int `json:"files_loaded"`
	DaysCached   int `json:"days_cached"`
	RowsLoaded   int `json:"rows_loaded"`
	FileReads    int `json:"file_reads"`
}

// Cache is safe for concurrent readers. First-touch file loads are
// serialized so no file is read twice.
type Cache struct {
	src    Source
	logger zerolog.Logger

	mu      sync.RWMutex
	index   []IndexEntry
	indexed bool
	files   map[string][]models.OptionCandle
	days    map[string]*Day
	reads   int

	loadMu sync.Mutex
}

// New creates a cache over src.
func New(src Source, logger zerolog.Logger) *Cache {
	return &Cache{
		src:    src,
		logger: logger,
		files:  make(map[string][]models.OptionCandle),
		days:   make(map[string]*Day),
	}
}

// BuildIndex scans the archive once. Later calls are no-ops until ClearCache.
func (c *Cache) BuildIndex(ctx context.Context) ([]IndexEntry, error) {
	c.mu.RLock()
	if c.indexed {
		out := c.copyIndex()
		c.mu.RUnlock()
		return out, nil
	}
	c.mu.RUnlock()

	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	c.mu.RLock()
	done := c.indexed
	c.mu.RUnlock()
	if done {
		c.mu.RLock()
		defer c.mu.RUnlock()
		return c.copyIndex(), nil
	}

	entries, err := c.src.Index(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].From.Before(entries[j].From)
	})

	c.mu.Lock()
	c.index = entries
	c.indexed = true
	out := c.copyIndex()
	c.mu.Unlock()

	c.logger.Info().Int("files", len(entries)).Msg("Data index built")
	return out, nil
}

func (c *Cache) copyIndex() []IndexEntry {
	out := make([]IndexEntry, len(c.index))
	copy(out, c.index)
	return out
}

// LoadDay returns the rows for date. A date no file covers, or a covered date
// with no rows, returns an empty Day and no error.
func (c *Cache) LoadDay(ctx context.Context, date time.Time) (*Day, error) {
	key := models.FormatDate(date)

	c.mu.RLock()
	if d, ok := c.days[key]; ok {
		c.mu.RUnlock()
		return d, nil
	}
	c.mu.RUnlock()

	index, err := c.BuildIndex(ctx)
	if err != nil {
		return nil, err
	}

	for _, e := range index {
		if !e.Covers(date) {
			continue
		}
		rows, err := c.loadFile(ctx, e.ID)
		if err != nil {
			return nil, err
		}
		dayRows := sliceDay(rows, key)
		if len(dayRows) == 0 {
			continue
		}

		c.mu.Lock()
		if d, ok := c.days[key]; ok {
			c.mu.Unlock()
			return d, nil
		}
		d := newDay(models.DateOnly(dayRows[0].Timestamp), dayRows)
		c.days[key] = d
		c.mu.Unlock()
		return d, nil
	}

	return newDay(models.DateOnly(date), nil), nil
}

// sliceDay returns the contiguous run of rows dated key. rows is sorted.
func sliceDay(rows []models.OptionCandle, key string) []models.OptionCandle {
	lo := sort.Search(len(rows), func(i int) bool {
		return models.FormatDate(rows[i].Timestamp) >= key
	})
	hi := sort.Search(len(rows), func(i int) bool {
		return models.FormatDate(rows[i].Timestamp) > key
	})
	if lo >= hi {
		return nil
	}
	out := make([]models.OptionCandle, hi-lo)
	copy(out, rows[lo:hi])
	return out
}

// loadFile returns a cached file, reading it on first touch.
func (c *Cache) loadFile(ctx context.Context, id string) ([]models.OptionCandle, error) {
	c.mu.RLock()
	rows, ok := c.files[id]
	c.mu.RUnlock()
	if ok {
		return rows, nil
	}

	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	c.mu.RLock()
	rows, ok = c.files[id]
	c.mu.RUnlock()
	if ok {
		return rows, nil
	}

	start := time.Now()
	rows, err := c.src.Read(ctx, id)
	if err != nil {
		return nil, err
	}
	sortCandles(rows)

	c.mu.Lock()
	c.files[id] = rows
	c.reads++
	c.mu.Unlock()

	c.logger.Debug().
		Str("file", id).
		Int("rows", len(rows)).
		Dur("took", time.Since(start)).
		Msg("Archive file loaded")
	return rows, nil
}

// PreloadRange eagerly loads every file overlapping [from, to] and returns
// the number of files touched.
func (c *Cache) PreloadRange(ctx context.Context, from, to time.Time) (int, error) {
	index, err := c.BuildIndex(ctx)
	if err != nil {
		return 0, err
	}
	if len(index) == 0 {
		return 0, apperrors.ErrIndexEmpty
	}

	loaded := 0
	for _, e := range index {
		if !e.Overlaps(from, to) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return loaded, err
		}
		if _, err := c.loadFile(ctx, e.ID); err != nil {
			return loaded, err
		}
		loaded++
	}

	c.logger.Info().
		Int("files", loaded).
		Str("from", models.FormatDate(from)).
		Str("to", models.FormatDate(to)).
		Msg("Preloaded archive range")
	return loaded, nil
}

// ClearCache releases all loaded files, day slices and the index.
func (c *Cache) ClearCache() {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files = make(map[string][]models.OptionCandle)
	c.days = make(map[string]*Day)
	c.index = nil
	c.indexed = false
}

// Stats returns a snapshot of cache occupancy.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Stats{
		FilesIndexed: len(c.index),
		FilesLoaded:  len(c.files),
		DaysCached:   len(c.days),
		FileReads:    c.reads,
	}
	for _, rows := range c.files {
		s.RowsLoaded += len(rows)
	}
	return s
}
