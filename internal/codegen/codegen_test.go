package codegen

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "options-backtester/internal/errors"
)

type fakeClient struct {
	replies []string
	err     error
	prompts []string
}

func (f *fakeClient) CompleteWithSystem(_ context.Context, system, user string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.prompts = append(f.prompts, user)
	i := len(f.prompts) - 1
	if i >= len(f.replies) {
		i = len(f.replies) - 1
	}
	return f.replies[i], nil
}

const good = "```python\n" + `def strategy(ctx):
    """Sell ATM straddle at 9:20"""
    ce = ctx.open_position("ATM", "CE", "SELL")
    pe = ctx.open_position("ATM", "PE", "SELL")
    for c in ctx.get_candles("ATM", "CE"):
        if c.time >= ctx.exit_time:
            break
        ctx.update_prices(c.time)
` + "```"

func TestGenerateFirstAttempt(t *testing.T) {
	client := &fakeClient{replies: []string{good}}
	gen, err := NewGenerator(client, zerolog.Nop()).Generate(context.Background(), "sell a straddle")
	require.NoError(t, err)

	assert.True(t, gen.Valid)
	assert.Equal(t, 1, gen.Attempts)
	assert.Equal(t, "Sell ATM straddle at 9:20", gen.Name)
	assert.True(t, strings.HasPrefix(gen.Code, "def strategy(ctx):"))
	assert.NotContains(t, gen.Code, "```")
	require.Len(t, client.prompts, 1)
	assert.Contains(t, client.prompts[0], "sell a straddle")
}

func TestGenerateRetriesWithCorrection(t *testing.T) {
	client := &fakeClient{replies: []string{
		"def strategy(ctx):\n    ctx.log('hi')\n",
		good,
	}}
	gen, err := NewGenerator(client, zerolog.Nop()).Generate(context.Background(), "anything")
	require.NoError(t, err)

	assert.True(t, gen.Valid)
	assert.Equal(t, 2, gen.Attempts)
	require.Len(t, client.prompts, 2)
	assert.NotContains(t, client.prompts[0], "IMPORTANT")
	assert.Contains(t, client.prompts[1], "IMPORTANT")
	assert.Contains(t, client.prompts[1], "missing open_position, get_candles")
}

func TestGenerateGivesUpWithLastCode(t *testing.T) {
	broken := "def strategy(ctx)\n    ctx.open_position('ATM', 'CE', 'SELL')\n    ctx.get_candles('ATM', 'CE')\n"
	client := &fakeClient{replies: []string{broken}}
	g := NewGenerator(client, zerolog.Nop())
	g.MaxAttempts = 2

	gen, err := g.Generate(context.Background(), "anything")
	require.NoError(t, err)
	assert.False(t, gen.Valid)
	assert.Equal(t, 2, gen.Attempts)
	assert.Equal(t, broken[:len(broken)-1], gen.Code)
	assert.NotEmpty(t, gen.Problem)
	assert.Equal(t, DefaultName, gen.Name)
}

func TestGenerateClientFailure(t *testing.T) {
	client := &fakeClient{err: errors.New("quota")}
	_, err := NewGenerator(client, zerolog.Nop()).Generate(context.Background(), "anything")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodegenFailed))
}

func TestGenerateMasksKeysInErrors(t *testing.T) {
	key := "sk-" + strings.Repeat("k", 40)
	client := &fakeClient{err: errors.New("Incorrect API key provided: " + key)}
	_, err := NewGenerator(client, zerolog.Nop()).Generate(context.Background(), "anything")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), key)
}

func TestExtractName(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{"docstring", "def strategy(ctx):\n    \"\"\"Iron fly\"\"\"\n", "Iron fly"},
		{"comment", "# Strangle with trail\ndef strategy(ctx):\n", "Strangle with trail"},
		{"none", "def strategy(ctx):\n    pass\n", DefaultName},
		{"empty docstring", "def strategy(ctx):\n    \"\"\"\n    body\n", DefaultName},
		{"truncated", "# " + strings.Repeat("x", 80) + "\n", strings.Repeat("x", 50)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractName(tt.code))
		})
	}
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, "x = 1", StripFences("```python\nx = 1\n```"))
	assert.Equal(t, "x = 1", StripFences("```\nx = 1\n```\n"))
	assert.Equal(t, "x = 1", StripFences("  x = 1  "))
}
