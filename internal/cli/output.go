package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"options-backtester/pkg/utils"
)

// Output writes command results either as indented JSON (--json) or as
// human text, colored only when stdout is a terminal.
type Output struct {
	w    io.Writer
	json bool

	ok, bad, warn, strong, faint *color.Color
}

func NewOutput(cmd *cobra.Command) *Output {
	jsonMode, _ := cmd.Flags().GetBool("json")
	tty := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	return newOutput(cmd.OutOrStdout(), jsonMode, tty && !jsonMode)
}

func newOutput(w io.Writer, jsonMode, colored bool) *Output {
	style := func(attrs ...color.Attribute) *color.Color {
		c := color.New(attrs...)
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c
	}
	return &Output{
		w:      w,
		json:   jsonMode,
		ok:     style(color.FgGreen),
		bad:    style(color.FgRed),
		warn:   style(color.FgYellow),
		strong: style(color.Bold),
		faint:  style(color.Faint),
	}
}

func (o *Output) IsJSON() bool { return o.json }

// JSON encodes v with two-space indentation.
func (o *Output) JSON(v interface{}) error {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (o *Output) Println(args ...interface{}) { fmt.Fprintln(o.w, args...) }

func (o *Output) Printf(format string, args ...interface{}) { fmt.Fprintf(o.w, format, args...) }

func (o *Output) Success(format string, args ...interface{}) { o.styled(o.ok, format, args) }

func (o *Output) Error(format string, args ...interface{}) { o.styled(o.bad, format, args) }

func (o *Output) Warning(format string, args ...interface{}) { o.styled(o.warn, format, args) }

func (o *Output) Bold(format string, args ...interface{}) { o.styled(o.strong, format, args) }

func (o *Output) Dim(format string, args ...interface{}) { o.styled(o.faint, format, args) }

func (o *Output) styled(c *color.Color, format string, args []interface{}) {
	fmt.Fprintln(o.w, c.Sprintf(format, args...))
}

func (o *Output) Green(s string) string { return o.ok.Sprint(s) }

func (o *Output) Red(s string) string { return o.bad.Sprint(s) }

// FormatPnL is utils.FormatPnL colored by sign.
func (o *Output) FormatPnL(pnl float64) string {
	s := utils.FormatPnL(pnl)
	if strings.HasPrefix(s, "+") {
		return o.Green(s)
	}
	if strings.HasPrefix(s, "-") {
		return o.Red(s)
	}
	return s
}

// Progress redraws a one-line bar; the line is finished once done reaches
// total.
func (o *Output) Progress(done, total int, label string) {
	if total <= 0 {
		return
	}
	const width = 30
	n := min(width, width*done/total)
	fmt.Fprintf(o.w, "\r%s [%s%s] %3d%% ", label, strings.Repeat("█", n), strings.Repeat("░", width-n), 100*done/total)
	if done >= total {
		fmt.Fprintln(o.w)
	}
}

// Table left-aligns cells into columns sized by their visible width.
// Cells beyond the header count are dropped.
type Table struct {
	out     *Output
	headers []string
	rows    [][]string
}

func NewTable(out *Output, headers ...string) *Table {
	return &Table{out: out, headers: headers}
}

func (t *Table) AddRow(cells ...string) { t.rows = append(t.rows, cells) }

func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}
	widths := make([]int, len(t.headers))
	for _, row := range append([][]string{t.headers}, t.rows...) {
		for i := 0; i < len(row) && i < len(widths); i++ {
			widths[i] = max(widths[i], visibleLen(row[i]))
		}
	}

	rules := make([]string, len(widths))
	for i, w := range widths {
		rules[i] = strings.Repeat("─", w)
	}
	t.line(t.headers, widths, t.out.strong)
	t.out.Println(t.out.faint.Sprint(strings.Join(rules, "──")))
	for _, row := range t.rows {
		t.line(row, widths, nil)
	}
}

func (t *Table) line(cells []string, widths []int, c *color.Color) {
	var b strings.Builder
	for i := 0; i < len(cells) && i < len(widths); i++ {
		if i > 0 {
			b.WriteString("  ")
		}
		cell := cells[i] + strings.Repeat(" ", widths[i]-visibleLen(cells[i]))
		if c != nil {
			cell = c.Sprint(cell)
		}
		b.WriteString(cell)
	}
	t.out.Println(strings.TrimRight(b.String(), " "))
}

var ansi = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// visibleLen counts runes once color escapes are removed.
func visibleLen(s string) int {
	return len([]rune(ansi.ReplaceAllString(s, "")))
}
