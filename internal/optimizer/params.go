package optimizer

import (
	"fmt"
	"strconv"
	"strings"

	apperrors "options-backtester/internal/errors"
	"options-backtester/internal/models"
)

// Sweepable parameters.
const (
	ParamSLPct     = "sl_pct"
	ParamTargetPct = "target_pct"
	ParamEntryTime = "entry_time"
	ParamExitTime  = "exit_time"
	ParamLotSize   = "lot_size"
	ParamVIXMin    = "vix_min"
	ParamVIXMax    = "vix_max"
	ParamDTEMin    = "dte_min"
	ParamDTEMax    = "dte_max"
)

// Params lists the parameters Apply understands.
func Params() []string {
	return []string{
		ParamSLPct, ParamTargetPct, ParamEntryTime, ParamExitTime, ParamLotSize,
		ParamVIXMin, ParamVIXMax, ParamDTEMin, ParamDTEMax,
	}
}

// ParseValues splits a comma separated value list.
func ParseValues(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Apply returns a copy of cfg with param set to value.
func Apply(cfg models.StrategyConfig, param, value string) (models.StrategyConfig, error) {
	out := cfg.Clone()
	invalid := func(err error) error {
		return apperrors.NewValidationError(param, value, err.Error())
	}

	switch param {
	case ParamSLPct, ParamTargetPct, ParamVIXMin, ParamVIXMax:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return out, invalid(err)
		}
		switch param {
		case ParamSLPct:
			out.SLPct = f
		case ParamTargetPct:
			out.TargetPct = f
		case ParamVIXMin:
			out.VIXMin = models.FloatPtr(f)
		case ParamVIXMax:
			out.VIXMax = models.FloatPtr(f)
		}
	case ParamLotSize, ParamDTEMin, ParamDTEMax:
		n, err := strconv.Atoi(value)
		if err != nil {
			return out, invalid(err)
		}
		switch param {
		case ParamLotSize:
			out.LotSize = n
		case ParamDTEMin:
			out.DTEMin = models.IntPtr(n)
		case ParamDTEMax:
			out.DTEMax = models.IntPtr(n)
		}
	case ParamEntryTime, ParamExitTime:
		m, err := models.ParseHHMM(value)
		if err != nil {
			return out, invalid(err)
		}
		if param == ParamEntryTime {
			out.EntryTime = models.FormatHHMM(m)
		} else {
			out.ExitTime = models.FormatHHMM(m)
		}
	default:
		return out, apperrors.NewValidationError("param", param,
			fmt.Sprintf("unsupported parameter, want one of %s", strings.Join(Params(), ", ")))
	}
	return out, nil
}
