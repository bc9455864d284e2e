package engine

import (
	"fmt"

	"options-backtester/internal/datacache"
	"options-backtester/internal/models"
)

// CheckDataBoundary reports whether every series the legs need exists and
// has a candle for each minute from entry to exit. The reason explains the
// first failure.
func CheckDataBoundary(day *datacache.Day, cfg *models.StrategyConfig) (bool, string) {
	entry, err := models.ParseHHMM(cfg.EntryTime)
	if err != nil {
		return false, err.Error()
	}
	exit, err := models.ParseHHMM(cfg.ExitTime)
	if err != nil {
		return false, err.Error()
	}

	var missing []string
	seen := make(map[string]bool)
	for _, leg := range cfg.Legs {
		if !seen[leg.Strike] && !day.HasStrike(leg.Strike) {
			missing = append(missing, leg.Strike)
		}
		seen[leg.Strike] = true
	}
	if len(missing) > 0 {
		return false, fmt.Sprintf("Missing strikes: %v", missing)
	}

	window := fmt.Sprintf("%s-%s", models.FormatHHMM(entry), models.FormatHHMM(exit))
	for _, key := range cfg.RequiredSeries() {
		s := day.Series(key.Strike, key.Type)
		first, last, ok := s.Span()
		if !ok || first > entry || last < exit {
			return false, fmt.Sprintf("Strike %s %s data doesn't cover %s", key.Strike, key.Type, window)
		}
		for m := entry; m <= exit; m++ {
			if _, ok := s.At(m); !ok {
				return false, fmt.Sprintf("Strike %s %s has gap at %s", key.Strike, key.Type, models.FormatHHMM(m))
			}
		}
	}
	return true, ""
}
