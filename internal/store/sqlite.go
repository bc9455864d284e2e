package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"options-backtester/internal/engine"
	apperrors "options-backtester/internal/errors"
	"options-backtester/internal/metrics"
	"options-backtester/internal/models"
	"options-backtester/internal/performance"
)

// tradeBatch is how many trades go into one INSERT.
const tradeBatch = 100

// SQLiteStore implements RunStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		strategy TEXT NOT NULL,
		kind TEXT NOT NULL,
		from_date TEXT NOT NULL,
		to_date TEXT NOT NULL,
		days_evaluated INTEGER NOT NULL,
		config TEXT NOT NULL,
		source TEXT,
		summary TEXT NOT NULL,
		logs TEXT,
		net_pnl REAL NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		date TEXT NOT NULL,
		leg_id INTEGER NOT NULL,
		label TEXT,
		action TEXT NOT NULL,
		strike_label TEXT NOT NULL,
		absolute_strike REAL,
		option_type TEXT NOT NULL,
		entry_time TEXT NOT NULL,
		exit_time TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		exit_reason TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		gross_pnl REAL NOT NULL,
		net_pnl REAL NOT NULL,
		cost TEXT NOT NULL,
		dte INTEGER,
		spot REAL,
		vix REAL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS skipped_days (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		date TEXT NOT NULL,
		leg INTEGER NOT NULL DEFAULT 0,
		reason TEXT NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS execution_errors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		date TEXT NOT NULL,
		message TEXT NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_runs_strategy ON runs(strategy, created_at);
	CREATE INDEX IF NOT EXISTS idx_trades_run ON trades(run_id, seq);
	CREATE INDEX IF NOT EXISTS idx_skipped_run ON skipped_days(run_id);
	CREATE INDEX IF NOT EXISTS idx_errors_run ON execution_errors(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// NewRunID returns a time-ordered run id.
func NewRunID() string {
	return ulid.Make().String()
}

// SaveRun writes a run and its rows in one transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run) (string, error) {
	if run == nil || run.Result == nil {
		return "", apperrors.NewValidationError("run", nil, "run has no result")
	}
	if run.ID == "" {
		run.ID = NewRunID()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	if run.Kind == "" {
		run.Kind = KindRules
	}
	res := run.Result

	configJSON, err := json.Marshal(res.Config)
	if err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	summary := res.Summary().Capped()
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return "", fmt.Errorf("failed to encode summary: %w", err)
	}
	logs := res.Logs
	if len(logs) > engine.ExportLogLimit {
		logs = logs[len(logs)-engine.ExportLogLimit:]
	}
	logsJSON, _ := json.Marshal(logs)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, strategy, kind, from_date, to_date, days_evaluated, config, source, summary, logs, net_pnl, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, res.Strategy, run.Kind, models.FormatDate(res.From), models.FormatDate(res.To), res.DaysEvaluated,
		string(configJSON), run.Source, string(summaryJSON), string(logsJSON), summary.NetPnL, run.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("failed to save run: %w", err)
	}

	if err := insertTrades(ctx, tx, run.ID, res.Trades); err != nil {
		return "", err
	}

	skipStmt, err := tx.PrepareContext(ctx, `INSERT INTO skipped_days (run_id, date, leg, reason) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer skipStmt.Close()
	for _, sk := range res.Skipped {
		if _, err := skipStmt.ExecContext(ctx, run.ID, models.FormatDate(sk.Date), sk.Leg, sk.Reason); err != nil {
			return "", fmt.Errorf("failed to insert skipped day: %w", err)
		}
	}

	errStmt, err := tx.PrepareContext(ctx, `INSERT INTO execution_errors (run_id, date, message) VALUES (?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer errStmt.Close()
	for _, e := range res.Errors {
		if _, err := errStmt.ExecContext(ctx, run.ID, models.FormatDate(e.Date), e.Message); err != nil {
			return "", fmt.Errorf("failed to insert execution error: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}
	return run.ID, nil
}

const tradeColumns = `date, leg_id, label, action, strike_label, absolute_strike, option_type, entry_time, exit_time,
	entry_price, exit_price, exit_reason, quantity, gross_pnl, net_pnl, cost, dte, spot, vix`

type seqTrade struct {
	seq   int
	trade models.Trade
}

// insertTrades writes trades with multi-row inserts, keeping run order in seq.
func insertTrades(ctx context.Context, tx *sql.Tx, runID string, trades []models.Trade) error {
	batch := performance.NewBatcher(tradeBatch, func(items []seqTrade) error {
		placeholders := make([]string, 0, len(items))
		args := make([]interface{}, 0, len(items)*21)
		for _, it := range items {
			t := it.trade
			cost, err := json.Marshal(t.Cost)
			if err != nil {
				return fmt.Errorf("failed to encode cost: %w", err)
			}
			placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args, runID, it.seq, models.FormatDate(t.Date), t.LegID, t.Label, string(t.Action), t.StrikeLabel,
				t.AbsoluteStrike, string(t.OptionType), t.EntryTime, t.ExitTime, t.EntryPrice, t.ExitPrice,
				string(t.ExitReason), t.Quantity, t.GrossPnL, t.NetPnL, string(cost), t.DTE, t.Spot, t.VIX)
		}
		query := "INSERT INTO trades (run_id, seq, " + tradeColumns + ") VALUES " + strings.Join(placeholders, ", ")
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert trades: %w", err)
		}
		return nil
	})

	for i, t := range trades {
		if err := batch.Add(seqTrade{seq: i, trade: t}); err != nil {
			return err
		}
	}
	return batch.Close()
}

// GetRun loads a run with its trades, skips and errors.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	var (
		run                  = &Run{ID: id, Result: &engine.Result{}}
		from, to             string
		configJSON, logsJSON string
		source               sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT strategy, kind, from_date, to_date, days_evaluated, config, source, logs, created_at
		FROM runs WHERE id = ?
	`, id).Scan(&run.Result.Strategy, &run.Kind, &from, &to, &run.Result.DaysEvaluated, &configJSON, &source, &logsJSON, &run.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewDataError("run", id, "no such run", apperrors.ErrDataNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	run.Source = source.String

	res := run.Result
	if res.From, err = models.ParseDate(from); err != nil {
		return nil, err
	}
	if res.To, err = models.ParseDate(to); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(configJSON), &res.Config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if logsJSON != "" {
		_ = json.Unmarshal([]byte(logsJSON), &res.Logs)
	}

	if res.Trades, err = s.GetTrades(ctx, id); err != nil {
		return nil, err
	}
	if res.Skipped, err = s.skippedDays(ctx, id); err != nil {
		return nil, err
	}
	if res.Errors, err = s.executionErrors(ctx, id); err != nil {
		return nil, err
	}
	return run, nil
}

// GetTrades returns a run's trades in run order.
func (s *SQLiteStore) GetTrades(ctx context.Context, runID string) ([]models.Trade, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+tradeColumns+" FROM trades WHERE run_id = ? ORDER BY seq ASC", runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var (
			t                         models.Trade
			date, action, typ, reason string
			cost                      string
			label                     sql.NullString
		)
		if err := rows.Scan(&date, &t.LegID, &label, &action, &t.StrikeLabel, &t.AbsoluteStrike, &typ, &t.EntryTime,
			&t.ExitTime, &t.EntryPrice, &t.ExitPrice, &reason, &t.Quantity, &t.GrossPnL, &t.NetPnL, &cost,
			&t.DTE, &t.Spot, &t.VIX); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		if t.Date, err = models.ParseDate(date); err != nil {
			return nil, err
		}
		t.Label = label.String
		t.Action = models.Action(action)
		t.OptionType = models.OptionType(typ)
		t.ExitReason = models.ExitReason(reason)
		if err := json.Unmarshal([]byte(cost), &t.Cost); err != nil {
			return nil, fmt.Errorf("failed to decode cost: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *SQLiteStore) skippedDays(ctx context.Context, runID string) ([]models.SkipRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT date, leg, reason FROM skipped_days WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query skipped days: %w", err)
	}
	defer rows.Close()

	var out []models.SkipRecord
	for rows.Next() {
		var sk models.SkipRecord
		var date string
		if err := rows.Scan(&date, &sk.Leg, &sk.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan skipped day: %w", err)
		}
		if sk.Date, err = models.ParseDate(date); err != nil {
			return nil, err
		}
		out = append(out, sk)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) executionErrors(ctx context.Context, runID string) ([]models.ExecutionError, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT date, message FROM execution_errors WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution errors: %w", err)
	}
	defer rows.Close()

	var out []models.ExecutionError
	for rows.Next() {
		var e models.ExecutionError
		var date string
		if err := rows.Scan(&date, &e.Message); err != nil {
			return nil, fmt.Errorf("failed to scan execution error: %w", err)
		}
		if e.Date, err = models.ParseDate(date); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListRuns returns runs newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]RunInfo, error) {
	query := "SELECT id, strategy, kind, from_date, to_date, days_evaluated, summary, created_at FROM runs WHERE 1=1"
	args := []interface{}{}

	if filter.Strategy != "" {
		query += " AND strategy = ?"
		args = append(args, filter.Strategy)
	}
	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, filter.Kind)
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		var info RunInfo
		var from, to, summary string
		if err := rows.Scan(&info.ID, &info.Strategy, &info.Kind, &from, &to, &info.DaysEvaluated, &summary, &info.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		info.From, _ = models.ParseDate(from)
		info.To, _ = models.ParseDate(to)
		var sum metrics.Summary
		if err := json.Unmarshal([]byte(summary), &sum); err != nil {
			return nil, fmt.Errorf("failed to decode summary: %w", err)
		}
		info.Summary = sum
		out = append(out, info)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and its rows.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewDataError("run", id, "no such run", apperrors.ErrDataNotFound)
	}
	return nil
}
