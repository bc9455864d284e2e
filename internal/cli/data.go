package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"options-backtester/internal/datacache"
	apperrors "options-backtester/internal/errors"
	"options-backtester/internal/models"
	"options-backtester/internal/performance"
	"options-backtester/pkg/utils"
)

func newDataCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "data",
		Short: "Inspect the candle archive",
	}
	cmd.AddCommand(newDataIndexCmd(app), newDataPreloadCmd(app), newDataDayCmd(app), newDataExpiryCmd(app))
	return cmd
}

func newDataIndexCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "List archive files and the dates they cover",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)
			index, err := app.Cache().BuildIndex(cmd.Context())
			if err != nil {
				return err
			}

			if out.IsJSON() {
				rows := make([]map[string]string, 0, len(index))
				for _, e := range index {
					rows = append(rows, map[string]string{
						"from": models.FormatDate(e.From), "to": models.FormatDate(e.To), "file": e.ID,
					})
				}
				return out.JSON(rows)
			}
			if len(index) == 0 {
				out.Warning("No archive files matching %s_<from>_<to>.csv in %s", app.Config.Data.Prefix, app.Config.Data.Dir)
				return nil
			}

			table := NewTable(out, "From", "To", "File")
			for _, e := range index {
				table.AddRow(models.FormatDate(e.From), models.FormatDate(e.To), e.ID)
			}
			table.Render()
			out.Dim("%d file(s), %s → %s", len(index), models.FormatDate(index[0].From), models.FormatDate(index[len(index)-1].To))
			return nil
		},
	}
}

func newDataPreloadCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preload",
		Short: "Load a date range into memory and report cache size",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)
			from, to, err := parseRange(cmd)
			if err != nil {
				return err
			}

			before := performance.ReadHeap()
			start := time.Now()
			files, err := app.Cache().PreloadRange(cmd.Context(), from, to)
			if err != nil && !apperrors.Is(err, apperrors.ErrIndexEmpty) {
				return err
			}
			elapsed := time.Since(start)
			after := performance.ReadHeap()
			stats := app.Cache().Stats()

			if out.IsJSON() {
				return out.JSON(map[string]interface{}{
					"files":      files,
					"cache":      stats,
					"heap_bytes": after.Alloc,
					"elapsed_ms": elapsed.Milliseconds(),
				})
			}

			out.Bold("Preloaded %s → %s", models.FormatDate(from), models.FormatDate(to))
			out.Printf("  Files loaded:  %d of %d indexed\n", stats.FilesLoaded, stats.FilesIndexed)
			out.Printf("  Rows:          %s\n", utils.FormatQuantity(stats.RowsLoaded))
			out.Printf("  Heap:          %s (%+d MB)\n", performance.FormatBytes(after.Alloc),
				(int64(after.Alloc)-int64(before.Alloc))/(1<<20))
			out.Printf("  Took:          %s\n", elapsed.Round(time.Millisecond))
			return nil
		},
	}
	addRangeFlags(cmd)
	return cmd
}

func newDataDayCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "day <YYYY-MM-DD>",
		Short: "Summarize one trading day and check a session window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)
			date, err := models.ParseDate(args[0])
			if err != nil {
				return apperrors.NewValidationError("date", args[0], "want YYYY-MM-DD")
			}
			day, err := app.Cache().LoadDay(cmd.Context(), date)
			if err != nil {
				return err
			}
			if day.Empty() {
				out.Warning("No data for %s", models.FormatDate(date))
				return nil
			}

			vix, _ := day.FirstVIX()
			cal, err := app.Calendar()
			if err != nil {
				return err
			}
			dte := cal.DTE(date, models.ExpiryWeekly)

			if out.IsJSON() {
				return out.JSON(map[string]interface{}{
					"date":    models.FormatDate(date),
					"rows":    len(day.Rows),
					"strikes": day.Strikes(),
					"spot":    day.OpenSpot(),
					"vix":     vix,
					"dte":     dte,
				})
			}

			out.Bold("%s", models.FormatDate(date))
			out.Printf("  Rows:     %s\n", utils.FormatQuantity(len(day.Rows)))
			out.Printf("  Spot:     %.2f\n", day.OpenSpot())
			out.Printf("  VIX:      %.2f\n", vix)
			out.Printf("  DTE:      %d (weekly)\n", dte)
			out.Printf("  Strikes:  %s\n", strings.Join(day.Strikes(), " "))

			session := app.Session(cmd, "")
			session.ApplyDefaults()
			if err := session.ValidateSession(); err != nil {
				return err
			}
			entry, exit := session.EntryTime, session.ExitTime
			table := NewTable(out, "Series", "First", "Last", "Candles", fmt.Sprintf("%s-%s", entry, exit))
			for _, k := range day.Keys() {
				table.AddRow(append([]string{k.Strike + " " + string(k.Type)}, seriesSpan(day.Series(k.Strike, k.Type), entry, exit)...)...)
			}
			table.Render()
			return nil
		},
	}
	addSessionFlags(cmd)
	return cmd
}

// seriesSpan describes a series' coverage of the session window.
func seriesSpan(s *datacache.Series, entry, exit string) []string {
	first, last, ok := s.Span()
	if !ok {
		return []string{"-", "-", "0", "missing"}
	}
	from, to := models.MustHHMM(entry), models.MustHHMM(exit)
	status := "ok"
	switch {
	case first > from || last < to:
		status = "short"
	case len(s.Between(from, to)) < to-from+1:
		status = "gaps"
	}
	return []string{models.FormatHHMM(first), models.FormatHHMM(last), fmt.Sprintf("%d", s.Len()), status}
}

func newDataExpiryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expiry",
		Short: "Show expiry and DTE for each weekday in a range",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)
			from, to, err := parseRange(cmd)
			if err != nil {
				return err
			}
			cadence := models.ExpiryCadence(strings.ToUpper(mustString(cmd, "cadence")))
			if cadence != models.ExpiryWeekly && cadence != models.ExpiryMonthly {
				return apperrors.NewValidationError("cadence", cadence, "must be WEEK or MONTH")
			}
			cal, err := app.Calendar()
			if err != nil {
				return err
			}

			type row struct {
				Date   string `json:"date"`
				Expiry string `json:"expiry"`
				DTE    int    `json:"dte"`
			}
			var rows []row
			for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
				if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
					continue
				}
				rows = append(rows, row{
					Date:   models.FormatDate(d),
					Expiry: models.FormatDate(cal.NextExpiry(d, cadence)),
					DTE:    cal.DTE(d, cadence),
				})
			}

			if out.IsJSON() {
				return out.JSON(rows)
			}
			if cal.Len() == 0 {
				out.Dim("No expiry calendar loaded; using computed Thursday expiries")
			}
			table := NewTable(out, "Date", "Expiry", "DTE")
			for _, r := range rows {
				table.AddRow(r.Date, r.Expiry, fmt.Sprintf("%d", r.DTE))
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().String("cadence", string(models.ExpiryWeekly), "WEEK or MONTH")
	addRangeFlags(cmd)
	return cmd
}

func mustString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}
