// Package errors defines the sentinels and typed errors shared across the
// backtester. Every typed error unwraps to something errors.Is can match.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Configuration and strategy definition.
var (
	ErrConfigInvalid = errors.New("invalid configuration")
	ErrScheduleOrder = errors.New("tax schedule rows must be appended in effective-date order")
)

// Archive and run store lookups.
var (
	ErrDataNotFound = errors.New("data not found")
	ErrIndexEmpty   = errors.New("archive index is empty")
)

// Strategy procedures and generated code.
var (
	ErrScriptInvalid   = errors.New("invalid strategy script")
	ErrImportForbidden = errors.New("module import is not allowed")
	ErrCodegenFailed   = errors.New("strategy code generation failed")
)

// ValidationError names the config field that was rejected. It always
// matches ErrConfigInvalid.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " (" + fmt.Sprint(e.Value) + "): " + e.Message
}

func (e *ValidationError) Unwrap() error { return ErrConfigInvalid }

// DataError is a failed lookup or load. Kind is what was looked up (file,
// day, run) and Key identifies it.
type DataError struct {
	Kind   string
	Key    string
	Detail string
	Err    error
}

func NewDataError(kind, key, detail string, err error) *DataError {
	return &DataError{Kind: kind, Key: key, Detail: detail, Err: err}
}

func (e *DataError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "data error [%s] %s: %s", e.Kind, e.Key, e.Detail)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *DataError) Unwrap() error { return e.Err }

// ScriptError is strategy logic failing at a stage: "compile" and
// "validate" while it is defined, "run" on a trading day (Date set).
type ScriptError struct {
	Stage string
	Date  string
	Err   error
}

func NewScriptError(stage, date string, err error) *ScriptError {
	return &ScriptError{Stage: stage, Date: date, Err: err}
}

func (e *ScriptError) Error() string {
	where := "[" + e.Stage + "]"
	if e.Date != "" {
		where += " " + e.Date
	}
	return "script error " + where + ": " + e.Err.Error()
}

func (e *ScriptError) Unwrap() error { return e.Err }

// Wrap prefixes err with message. A nil err stays nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf is Wrap with a format string.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// Is and As re-export the standard library so callers need one import.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target interface{}) bool { return errors.As(err, target) }
