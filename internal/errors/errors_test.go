package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationErrorMatchesConfigInvalid(t *testing.T) {
	err := Wrap(NewValidationError("sl_pct", -5.0, "must be non-negative"), "loading strategy")
	assert.True(t, Is(err, ErrConfigInvalid))

	var ve *ValidationError
	assert.True(t, As(err, &ve))
	assert.Equal(t, "sl_pct", ve.Field)
	assert.Contains(t, err.Error(), "loading strategy: validation error: sl_pct (-5)")
}

func TestDataAndScriptErrorsUnwrap(t *testing.T) {
	err := NewDataError("run", "01HX", "no such run", ErrDataNotFound)
	assert.True(t, Is(err, ErrDataNotFound))
	assert.Equal(t, "data error [run] 01HX: no such run: data not found", err.Error())

	cause := errors.New("boom")
	serr := NewScriptError("run", "04-Jan-2024", cause)
	assert.True(t, Is(serr, cause))
	assert.Equal(t, "script error [run] 04-Jan-2024: boom", serr.Error())
	assert.Equal(t, "script error [compile]: boom", NewScriptError("compile", "", cause).Error())
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "x"))
	assert.NoError(t, Wrapf(nil, "x %d", 1))
	assert.EqualError(t, Wrapf(ErrIndexEmpty, "preload %s", "2024"), "preload 2024: archive index is empty")
}
