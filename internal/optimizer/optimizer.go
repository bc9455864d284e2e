// Package optimizer runs one strategy over a range of values for a single
// parameter and compares the outcomes.
package optimizer

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"options-backtester/internal/engine"
	apperrors "options-backtester/internal/errors"
	"options-backtester/internal/metrics"
	"options-backtester/internal/models"
	"options-backtester/internal/performance"
)

// Variant is one parameter value and its run.
type Variant struct {
	Value   string
	Config  models.StrategyConfig
	Result  *engine.Result
	Summary metrics.Summary
	Err     error
}

// Comparison is the ranking row for a variant.
type Comparison struct {
	Value        string  `json:"value"`
	TotalTrades  int     `json:"total_trades"`
	NetPnL       float64 `json:"net_pnl"`
	WinRate      float64 `json:"win_rate"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	SharpeRatio  float64 `json:"sharpe_ratio"`
	ProfitFactor float64 `json:"profit_factor"`
}

// Report is the outcome of a sweep. Variants keep the order of the input
// values. Best* hold the winning value, or "" when every variant failed.
type Report struct {
	Param       string
	Variants    []Variant
	BestPnL     string
	BestWinRate string
	BestSharpe  string
}

// Optimizer fans variants out over a worker pool sharing one backtester.
type Optimizer struct {
	bt      *engine.Backtester
	workers int
	logger  zerolog.Logger
}

// New creates an optimizer. workers <= 0 uses every CPU.
func New(bt *engine.Backtester, workers int, logger zerolog.Logger) *Optimizer {
	return &Optimizer{bt: bt, workers: workers, logger: logger.With().Str("component", "optimizer").Logger()}
}

// Sweep runs base once per value of param over [from, to]. Values are
// validated before anything runs. The range is loaded into the cache once
// before the variants start, so workers only read.
func (o *Optimizer) Sweep(ctx context.Context, base models.StrategyConfig, param string, values []string, from, to time.Time) (*Report, error) {
	if len(values) == 0 {
		return nil, apperrors.NewValidationError("values", values, "at least one value is required")
	}
	report := &Report{Param: param, Variants: make([]Variant, len(values))}
	for i, v := range values {
		cfg, err := Apply(base, param, v)
		if err != nil {
			return nil, err
		}
		cfg.ApplyDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, apperrors.Wrapf(err, "%s=%s", param, v)
		}
		report.Variants[i] = Variant{Value: v, Config: cfg}
	}

	if _, err := o.bt.Cache().PreloadRange(ctx, from, to); err != nil && !apperrors.Is(err, apperrors.ErrIndexEmpty) {
		return nil, err
	}

	pool := performance.NewPool(o.workers)
	o.logger.Info().Str("param", param).Int("variants", len(values)).Int("workers", pool.Workers()).Msg("Starting sweep")

	err := pool.Run(ctx, len(report.Variants), func(ctx context.Context, i int) {
		v := &report.Variants[i]
		res, err := o.bt.Run(ctx, v.Config, from, to)
		if err != nil {
			v.Err = err
			return
		}
		v.Result = res
		v.Summary = res.Summary()
	})
	if err != nil {
		return nil, err
	}

	report.pickBest()
	o.logger.Info().Str("param", param).Str("best_pnl", report.BestPnL).Str("best_sharpe", report.BestSharpe).
		Msg("Sweep complete")
	return report, nil
}

// pickBest keeps the first value on ties.
func (r *Report) pickBest() {
	var pnl, win, sharpe *Variant
	for i := range r.Variants {
		v := &r.Variants[i]
		if v.Err != nil {
			continue
		}
		if pnl == nil || v.Summary.NetPnL > pnl.Summary.NetPnL {
			pnl = v
		}
		if win == nil || v.Summary.WinRate > win.Summary.WinRate {
			win = v
		}
		if sharpe == nil || v.Summary.SharpeRatio > sharpe.Summary.SharpeRatio {
			sharpe = v
		}
	}
	if pnl != nil {
		r.BestPnL, r.BestWinRate, r.BestSharpe = pnl.Value, win.Value, sharpe.Value
	}
}

// Compare ranks the successful variants by Sharpe ratio, best first.
func (r *Report) Compare() []Comparison {
	var out []Comparison
	for _, v := range r.Variants {
		if v.Err != nil {
			continue
		}
		s := v.Summary.Capped()
		out = append(out, Comparison{
			Value:        v.Value,
			TotalTrades:  s.TotalTrades,
			NetPnL:       s.NetPnL,
			WinRate:      s.WinRate,
			MaxDrawdown:  s.MaxDrawdown,
			SharpeRatio:  s.SharpeRatio,
			ProfitFactor: s.ProfitFactor,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SharpeRatio > out[j].SharpeRatio
	})
	return out
}
