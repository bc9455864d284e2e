package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"options-backtester/internal/costs"
	"options-backtester/internal/datacache"
	apperrors "options-backtester/internal/errors"
	"options-backtester/internal/expiry"
	"options-backtester/internal/logging"
	"options-backtester/internal/models"
	"options-backtester/internal/sdk"
)

// ProgressFunc is called every few evaluated days.
type ProgressFunc func(done, total int, date time.Time)

// Backtester drives day-by-day replays over a shared cache. A Backtester
// holds no per-run state, so one instance may serve concurrent runs once
// the range has been preloaded.
type Backtester struct {
	cache    *datacache.Cache
	calendar *expiry.Calendar
	costs    *costs.Model
	logger   zerolog.Logger

	progress      ProgressFunc
	progressEvery int
	maxLogs       int
}

// New creates a backtester. A nil calendar falls back to computed expiries
// and a nil cost model uses the default configuration.
func New(cache *datacache.Cache, calendar *expiry.Calendar, model *costs.Model, logger zerolog.Logger) *Backtester {
	if calendar == nil {
		calendar = expiry.NewCalendar(nil)
	}
	if model == nil {
		model = costs.NewModel(costs.DefaultConfig(), nil)
	}
	return &Backtester{
		cache:    cache,
		calendar: calendar,
		costs:    model,
		logger:   logger,
		maxLogs:  sdk.DefaultMaxLogs,
	}
}

// WithProgress registers a callback fired every n evaluated days.
func (b *Backtester) WithProgress(n int, fn ProgressFunc) *Backtester {
	b.progress = fn
	b.progressEvery = n
	return b
}

// WithMaxLogs bounds each day's procedure log.
func (b *Backtester) WithMaxLogs(n int) *Backtester {
	if n > 0 {
		b.maxLogs = n
	}
	return b
}

// Cache returns the shared data cache.
func (b *Backtester) Cache() *datacache.Cache { return b.cache }

// Costs returns the cost model.
func (b *Backtester) Costs() *costs.Model { return b.costs }

// Run replays a fixed-leg strategy over [from, to].
func (b *Backtester) Run(ctx context.Context, cfg models.StrategyConfig, from, to time.Time) (*Result, error) {
	cfg = cfg.Clone()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return b.run(ctx, cfg, nil, from, to)
}

// RunProcedure replays procedural strategy logic over [from, to]. Only the
// session fields of cfg are used; legs are ignored.
func (b *Backtester) RunProcedure(ctx context.Context, cfg models.StrategyConfig, proc sdk.Procedure, from, to time.Time) (*Result, error) {
	if proc == nil {
		return nil, apperrors.NewValidationError("procedure", nil, "is required")
	}
	cfg = cfg.Clone()
	cfg.ApplyDefaults()
	if cfg.Name == "" {
		cfg.Name = proc.Name()
	}
	if err := cfg.ValidateSession(); err != nil {
		return nil, err
	}
	return b.run(ctx, cfg, proc, from, to)
}

func (b *Backtester) run(ctx context.Context, cfg models.StrategyConfig, proc sdk.Procedure, from, to time.Time) (*Result, error) {
	from, to = models.DateOnly(from), models.DateOnly(to)
	if to.Before(from) {
		return nil, apperrors.NewValidationError("to", models.FormatDate(to), "must not be before from")
	}

	logger := logging.WithStrategy(b.logger, cfg.Name)
	if _, err := b.cache.PreloadRange(ctx, from, to); err != nil {
		if !apperrors.Is(err, apperrors.ErrIndexEmpty) {
			return nil, apperrors.Wrap(err, "preloading archive")
		}
		logger.Warn().Msg("Archive index is empty; every day will be skipped")
	}

	res := &Result{
		Strategy: cfg.Name,
		Config:   cfg,
		From:     from,
		To:       to,
		Trades:   make([]models.Trade, 0),
	}

	var dates []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if models.IsWeekday(d) {
			dates = append(dates, d)
		}
	}

	started := time.Now()
	for i, date := range dates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := b.evaluateDay(ctx, &cfg, proc, date, res, logger); err != nil {
			return nil, err
		}
		if b.progress != nil && b.progressEvery > 0 && ((i+1)%b.progressEvery == 0 || i+1 == len(dates)) {
			b.progress(i+1, len(dates), date)
		}
	}

	logger.Info().
		Str("from", models.FormatDate(from)).
		Str("to", models.FormatDate(to)).
		Int("trades", len(res.Trades)).
		Int("skipped", len(res.Skipped)).
		Int("errors", len(res.Errors)).
		Dur("elapsed", time.Since(started)).
		Msg("Backtest complete")
	return res, nil
}

// evaluateDay applies the filters and boundary check, then runs the legs or
// the procedure. Data absence becomes a skip record, never an error.
func (b *Backtester) evaluateDay(ctx context.Context, cfg *models.StrategyConfig, proc sdk.Procedure, date time.Time, res *Result, logger zerolog.Logger) error {
	dayLog := logging.WithDate(logger, date)
	dte := b.calendar.DTE(date, cfg.ExpiryType)

	if reason, ok := dteFilter(cfg, dte); !ok {
		res.skip(dayLog, models.SkipRecord{Date: date, Reason: reason})
		return nil
	}

	day, err := b.cache.LoadDay(ctx, date)
	if err != nil {
		return apperrors.Wrapf(err, "loading %s", models.FormatDate(date))
	}
	if day.Empty() {
		return nil
	}
	res.DaysEvaluated++

	// Days without any volatility reading are not filtered.
	if vix, ok := day.FirstVIX(); ok {
		if reason, ok := vixFilter(cfg, vix); !ok {
			res.skip(dayLog, models.SkipRecord{Date: date, Reason: reason})
			return nil
		}
	}

	if proc != nil {
		b.runProcedureDay(day, cfg, proc, dte, res, dayLog)
		return nil
	}

	if ok, reason := CheckDataBoundary(day, cfg); !ok {
		res.skip(dayLog, models.SkipRecord{Date: date, Reason: reason})
		return nil
	}

	for i := range cfg.Legs {
		t := ExecuteLeg(day, PlanLeg(cfg, i), dte, b.costs)
		if t.Skipped {
			res.skip(dayLog, models.SkipRecord{Date: date, Leg: t.LegID, Reason: t.SkipReason})
			continue
		}
		res.Trades = append(res.Trades, t)
		logging.LogTrade(dayLog, t)
	}
	return nil
}

func (b *Backtester) runProcedureDay(day *datacache.Day, cfg *models.StrategyConfig, proc sdk.Procedure, dte int, res *Result, logger zerolog.Logger) {
	sctx, err := sdk.NewContext(day, sdk.Session{
		DTE:       dte,
		LotSize:   cfg.LotSize,
		EntryTime: cfg.EntryTime,
		ExitTime:  cfg.ExitTime,
		MaxLogs:   b.maxLogs,
	}, b.costs)
	if err != nil {
		res.fail(logger, day.Date, err)
		return
	}

	if err := safeRun(proc, sctx); err != nil {
		res.fail(logger, day.Date, err)
	}

	out := sctx.Finalize()
	res.Trades = append(res.Trades, out.Trades...)
	res.Logs = append(res.Logs, out.Logs...)
	for _, t := range out.Trades {
		logging.LogTrade(logger, t)
	}
}

// safeRun isolates a procedure panic to the day it happened on.
func safeRun(proc sdk.Procedure, sctx *sdk.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return proc.Run(sctx)
}

func dteFilter(cfg *models.StrategyConfig, dte int) (string, bool) {
	if cfg.DTEMin != nil && dte < *cfg.DTEMin {
		return fmt.Sprintf("DTE %d below minimum %d", dte, *cfg.DTEMin), false
	}
	if cfg.DTEMax != nil && dte > *cfg.DTEMax {
		return fmt.Sprintf("DTE %d above maximum %d", dte, *cfg.DTEMax), false
	}
	return "", true
}

func vixFilter(cfg *models.StrategyConfig, vix float64) (string, bool) {
	if cfg.VIXMin != nil && vix < *cfg.VIXMin {
		return fmt.Sprintf("VIX %.2f below minimum %.2f", vix, *cfg.VIXMin), false
	}
	if cfg.VIXMax != nil && vix > *cfg.VIXMax {
		return fmt.Sprintf("VIX %.2f above maximum %.2f", vix, *cfg.VIXMax), false
	}
	return "", true
}
