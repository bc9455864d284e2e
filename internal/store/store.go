// Package store persists backtest runs so they can be listed and reopened.
package store

import (
	"context"
	"time"

	"options-backtester/internal/engine"
	"options-backtester/internal/metrics"
	"options-backtester/internal/models"
)

// Run kinds.
const (
	KindRules     = "rules"
	KindScript    = "script"
	KindGenerated = "generated"
	KindBuiltin   = "builtin"
)

// Run is a saved backtest. Source holds the script or prompt for runs that
// were not driven by a fixed-leg config.
type Run struct {
	ID        string
	Kind      string
	Source    string
	CreatedAt time.Time
	Result    *engine.Result
}

// RunInfo is a run's listing row.
type RunInfo struct {
	ID            string          `json:"id"`
	Strategy      string          `json:"strategy"`
	Kind          string          `json:"kind"`
	From          time.Time       `json:"from"`
	To            time.Time       `json:"to"`
	CreatedAt     time.Time       `json:"created_at"`
	DaysEvaluated int             `json:"days_evaluated"`
	Summary       metrics.Summary `json:"summary"`
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	Strategy string
	Kind     string
	Limit    int
}

// RunStore defines the interface for run persistence.
type RunStore interface {
	// SaveRun assigns an id when the run has none and returns it.
	SaveRun(ctx context.Context, run *Run) (string, error)
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]RunInfo, error)
	GetTrades(ctx context.Context, runID string) ([]models.Trade, error)
	DeleteRun(ctx context.Context, id string) error
	Close() error
}
