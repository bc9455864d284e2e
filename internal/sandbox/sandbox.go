// Package sandbox runs externally supplied strategy code against the day
// context. Scripts are Starlark: they can compute and call the context API
// but have no file, network, process or environment access.
package sandbox

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	starmath "go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	apperrors "options-backtester/internal/errors"
	"options-backtester/internal/models"
	"options-backtester/internal/sdk"
)

// EntryPoint is the function every script must define.
const EntryPoint = "strategy"

// DefaultMaxSteps bounds the work one day's evaluation may do.
const DefaultMaxSteps = 50_000_000

// fileOptions enables the Python constructs generated code leans on, for
// scripts compiled here only.
var fileOptions = &syntax.FileOptions{
	Set:            true,
	While:          true,
	Recursion:      true,
	GlobalReassign: true,
}

// Options bounds script execution.
type Options struct {
	MaxSteps uint64
}

// Script is a compiled strategy. Each Run re-initializes its globals, so no
// state leaks between days and one Script may serve concurrent runs.
type Script struct {
	name    string
	source  string
	program *starlark.Program
	opts    Options
}

var loadPattern = regexp.MustCompile(`(?m)^\s*load\s*\(`)

// Clean drops code fences and import lines; the sandbox provides
// everything a script may use.
func Clean(src string) string {
	lines := strings.Split(src, "\n")
	out := lines[:0]
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "import ") || strings.HasPrefix(trimmed, "from ") {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// Compile cleans, parses and validates src. The script's top level runs
// once here to confirm it defines strategy(ctx).
func Compile(name, src string, opts Options) (*Script, error) {
	if opts.MaxSteps == 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	src = Clean(src)
	if loadPattern.MatchString(src) {
		return nil, apperrors.NewScriptError("compile", "", apperrors.ErrImportForbidden)
	}

	_, prog, err := starlark.SourceProgramOptions(fileOptions, name, src, predeclared().Has)
	if err != nil {
		return nil, apperrors.NewScriptError("compile", "", fmt.Errorf("%w: %v", apperrors.ErrScriptInvalid, err))
	}

	s := &Script{name: name, source: src, program: prog, opts: opts}
	thread := &starlark.Thread{Name: name + ":validate", Print: func(*starlark.Thread, string) {}}
	thread.SetMaxExecutionSteps(opts.MaxSteps)
	globals, err := prog.Init(thread, predeclared())
	if err != nil {
		return nil, apperrors.NewScriptError("validate", "", fmt.Errorf("%w: %v", apperrors.ErrScriptInvalid, err))
	}
	fn, ok := globals[EntryPoint].(*starlark.Function)
	if !ok {
		return nil, apperrors.NewScriptError("validate", "",
			fmt.Errorf("%w: code does not define a `%s(ctx)` function", apperrors.ErrScriptInvalid, EntryPoint))
	}
	if fn.NumParams() < 1 {
		return nil, apperrors.NewScriptError("validate", "",
			fmt.Errorf("%w: `%s` must accept the context argument", apperrors.ErrScriptInvalid, EntryPoint))
	}
	return s, nil
}

// Name implements sdk.Procedure.
func (s *Script) Name() string { return s.name }

// Source returns the cleaned script text.
func (s *Script) Source() string { return s.source }

// Run implements sdk.Procedure.
func (s *Script) Run(ctx *sdk.Context) error {
	thread := &starlark.Thread{
		Name:  s.name + ":" + models.FormatDate(ctx.Date()),
		Print: func(_ *starlark.Thread, msg string) { ctx.Log(msg) },
	}
	thread.SetMaxExecutionSteps(s.opts.MaxSteps)

	globals, err := s.program.Init(thread, predeclared())
	if err != nil {
		return describe(err)
	}
	_, err = starlark.Call(thread, globals[EntryPoint], starlark.Tuple{newContextValue(ctx)}, nil)
	if err != nil {
		return describe(err)
	}
	return nil
}

// describe keeps Starlark's backtrace, which names the failing line.
func describe(err error) error {
	if evalErr, ok := err.(*starlark.EvalError); ok {
		return fmt.Errorf("%s", evalErr.Backtrace())
	}
	return err
}

// predeclared is the whole ambient environment a script sees beyond the
// Starlark universe: a math module and a few Python builtins.
func predeclared() starlark.StringDict {
	return starlark.StringDict{
		"math":  starmath.Module,
		"round": starlark.NewBuiltin("round", builtinRound),
		"sum":   starlark.NewBuiltin("sum", builtinSum),
		"abs":   starlark.NewBuiltin("abs", builtinAbs),
	}
}

// builtinRound follows Python: halves go to the even neighbour, a missing
// ndigits yields an int, and ndigits may be negative.
func builtinRound(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	var ndigits starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "number", &x, "ndigits?", &ndigits); err != nil {
		return nil, err
	}
	f, ok := starlark.AsFloat(x)
	if !ok {
		return nil, fmt.Errorf("%s: got %s, want number", b.Name(), x.Type())
	}

	if ndigits == starlark.None {
		r := math.RoundToEven(f)
		if math.IsNaN(r) || r >= math.MaxInt64 || r < math.MinInt64 {
			return nil, fmt.Errorf("%s: cannot convert %v to integer", b.Name(), f)
		}
		return starlark.MakeInt64(int64(r)), nil
	}

	n, err := starlark.AsInt32(ndigits)
	if err != nil {
		return nil, fmt.Errorf("%s: ndigits: %v", b.Name(), err)
	}
	if n < 0 {
		p := math.Pow10(int(-n))
		if math.IsInf(p, 0) {
			return starlark.Float(math.Copysign(0, f)), nil
		}
		return starlark.Float(math.RoundToEven(f/p) * p), nil
	}
	p := math.Pow10(int(n))
	scaled := f * p
	if math.IsInf(scaled, 0) || math.IsNaN(scaled) {
		return starlark.Float(f), nil
	}
	return starlark.Float(math.RoundToEven(scaled) / p), nil
}

func builtinSum(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var iterable starlark.Iterable
	var start starlark.Value = starlark.MakeInt(0)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "iterable", &iterable, "start?", &start); err != nil {
		return nil, err
	}
	iter := iterable.Iterate()
	defer iter.Done()
	acc := start
	var v starlark.Value
	for iter.Next(&v) {
		next, err := starlark.Binary(syntax.PLUS, acc, v)
		if err != nil {
			return nil, fmt.Errorf("%s: %v", b.Name(), err)
		}
		acc = next
	}
	return acc, nil
}

func builtinAbs(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	switch v := x.(type) {
	case starlark.Int:
		if v.Sign() < 0 {
			return starlark.Binary(syntax.MINUS, starlark.MakeInt(0), v)
		}
		return v, nil
	case starlark.Float:
		if v < 0 {
			return -v, nil
		}
		return v, nil
	}
	return nil, fmt.Errorf("%s: got %s, want number", b.Name(), x.Type())
}
