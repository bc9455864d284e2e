// Package logging configures zerolog for the CLI and holds the field
// helpers the engine logs with.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"options-backtester/internal/models"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       true,
		FilePath:   filepath.Join(home, ".config", "options-backtester", "logs", "optbt.log"),
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     30,
	}
}

// New builds the process logger. Console output goes to stderr so --json
// output on stdout stays clean; the file sink is JSON lines rotated by
// lumberjack. debug overrides cfg.Level.
func New(cfg LogConfig, debug bool) zerolog.Logger {
	level := parseLevel(cfg.Level)
	if debug {
		level = zerolog.DebugLevel
	}

	sinks := make([]io.Writer, 0, 2)
	if cfg.Console {
		sinks = append(sinks, zerolog.ConsoleWriter{
			Out:         os.Stderr,
			TimeFormat:  time.Kitchen,
			FormatLevel: levelBadge,
		})
	}
	if cfg.File && cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err == nil {
			sinks = append(sinks, &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			})
		}
	}

	var w io.Writer = os.Stderr
	if len(sinks) == 1 {
		w = sinks[0]
	} else if len(sinks) > 1 {
		w = zerolog.MultiLevelWriter(sinks...)
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// parseLevel falls back to info for anything zerolog does not know.
func parseLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

var badges = map[string]string{
	zerolog.LevelDebugValue: color.CyanString("DBG"),
	zerolog.LevelInfoValue:  color.GreenString("INF"),
	zerolog.LevelWarnValue:  color.YellowString("WRN"),
	zerolog.LevelErrorValue: color.RedString("ERR"),
	zerolog.LevelFatalValue: color.New(color.FgRed, color.Bold).Sprint("FTL"),
}

func levelBadge(i interface{}) string {
	s, _ := i.(string)
	if b, ok := badges[s]; ok {
		return b
	}
	return strings.ToUpper(s)
}

// WithStrategy adds a strategy name to the logger context.
func WithStrategy(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("strategy", name).Logger()
}

// WithRunID adds a run ID to the logger context.
func WithRunID(logger zerolog.Logger, runID string) zerolog.Logger {
	return logger.With().Str("run_id", runID).Logger()
}

// WithDate adds a trading date to the logger context.
func WithDate(logger zerolog.Logger, date time.Time) zerolog.Logger {
	return logger.With().Str("date", models.FormatDate(date)).Logger()
}

// LogTrade logs a completed leg.
func LogTrade(logger zerolog.Logger, t models.Trade) {
	logger.Debug().
		Str("event", "trade").
		Str("date", models.FormatDate(t.Date)).
		Int("leg", t.LegID).
		Str("action", string(t.Action)).
		Str("strike", t.StrikeLabel).
		Str("type", string(t.OptionType)).
		Float64("entry", t.EntryPrice).
		Float64("exit", t.ExitPrice).
		Str("reason", string(t.ExitReason)).
		Float64("net_pnl", t.NetPnL).
		Msg("Leg closed")
}

// LogSkip logs a skipped day or leg.
func LogSkip(logger zerolog.Logger, s models.SkipRecord) {
	logger.Debug().
		Str("event", "skip").
		Str("date", models.FormatDate(s.Date)).
		Int("leg", s.Leg).
		Str("reason", s.Reason).
		Msg("Skipped")
}
