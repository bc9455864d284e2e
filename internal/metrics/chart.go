package metrics

import (
	"fmt"
	"strings"
)

// EquityChartASCII plots cumulative P&L as one block per column. Curves
// longer than width are sampled evenly, first and last day included.
func EquityChartASCII(curve []EquityPoint, width, height int) string {
	if len(curve) == 0 || width <= 0 || height <= 0 {
		return "No data to display"
	}

	lo, hi := curve[0].Cumulative, curve[0].Cumulative
	for _, p := range curve[1:] {
		lo, hi = min(lo, p.Cumulative), max(hi, p.Cumulative)
	}
	pad := max(hi-lo, 1) * 0.05
	lo, hi = lo-pad, hi+pad

	cols := min(width, len(curve))
	rows := make([][]rune, height)
	for r := range rows {
		rows[r] = []rune(strings.Repeat(" ", width))
	}
	for x := 0; x < cols; x++ {
		i := x
		if cols > 1 {
			i = x * (len(curve) - 1) / (cols - 1)
		}
		level := int((curve[i].Cumulative - lo) / (hi - lo) * float64(height-1))
		rows[height-1-level][x] = '█'
	}

	border := strings.Repeat("─", width+2)
	lines := make([]string, 0, height+3)
	lines = append(lines, fmt.Sprintf("Equity (%.0f to %.0f)", lo, hi), border)
	for _, r := range rows {
		lines = append(lines, "│"+string(r)+"│")
	}
	lines = append(lines, border)
	return strings.Join(lines, "\n") + "\n"
}
