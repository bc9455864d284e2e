// Package codegen turns a plain-English strategy description into a script
// the sandbox can run.
package codegen

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	apperrors "options-backtester/internal/errors"
	"options-backtester/internal/sandbox"
	"options-backtester/internal/security"
)

// DefaultName is used when the code carries no docstring.
const DefaultName = "AI Strategy"

const maxNameLen = 50

// LLMClient is the completion call the generator needs.
type LLMClient interface {
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Generated is the outcome of a generation request.
type Generated struct {
	Code     string
	Name     string
	Valid    bool
	Attempts int
	// Problem describes why the last attempt was rejected.
	Problem string
}

// Generator asks the model for code until it gets something usable.
type Generator struct {
	Client      LLMClient
	MaxAttempts int
	Logger      zerolog.Logger
}

// NewGenerator creates a generator with three attempts.
func NewGenerator(client LLMClient, logger zerolog.Logger) *Generator {
	return &Generator{Client: client, MaxAttempts: 3, Logger: logger}
}

// Generate requests strategy code for prompt. A failed model call is an
// error. Unusable code is not: after the last attempt the final code comes
// back with Valid false.
func (g *Generator) Generate(ctx context.Context, prompt string) (Generated, error) {
	attempts := g.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var out Generated
	for i := 0; i < attempts; i++ {
		user := "Generate a strategy function for this:\n" + prompt
		if i > 0 {
			user += fmt.Sprintf(correction, out.Problem)
		}

		text, err := g.Client.CompleteWithSystem(ctx, SystemPrompt, user)
		if err != nil {
			return out, fmt.Errorf("%w: %s", apperrors.ErrCodegenFailed, security.MaskSensitive(err.Error()))
		}

		out.Attempts = i + 1
		out.Code = StripFences(text)
		out.Name = ExtractName(out.Code)
		out.Problem = Check(out.Code)
		if out.Problem == "" {
			out.Valid = true
			g.Logger.Info().Int("attempt", out.Attempts).Str("name", out.Name).Msg("Generated strategy code")
			return out, nil
		}
		g.Logger.Warn().Int("attempt", out.Attempts).Int("max", attempts).Str("problem", out.Problem).
			Msg("Generated code rejected")
	}

	g.Logger.Error().Int("attempts", attempts).Msg("All code generation attempts produced unusable code")
	return out, nil
}

// Check returns why code is unusable, or "" when it is fine.
func Check(code string) string {
	var missing []string
	for _, want := range []string{"def strategy", "open_position", "get_candles"} {
		if !strings.Contains(code, want) {
			missing = append(missing, want)
		}
	}
	if len(missing) > 0 {
		return "missing " + strings.Join(missing, ", ")
	}
	if _, err := sandbox.Compile("check", code, sandbox.Options{}); err != nil {
		return err.Error()
	}
	return ""
}

// StripFences removes surrounding markdown code fences.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	for _, fence := range []string{"```python", "```starlark", "```py", "```"} {
		if strings.HasPrefix(text, fence) {
			text = strings.TrimSpace(text[len(fence):])
			break
		}
	}
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// ExtractName takes the strategy name from a docstring or comment in the
// first lines of code.
func ExtractName(code string) string {
	lines := strings.Split(code, "\n")
	if len(lines) > 5 {
		lines = lines[:5]
	}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		var name string
		switch {
		case strings.HasPrefix(line, `"""`), strings.HasPrefix(line, "'''"):
			name = strings.Trim(line, `"' `)
		case strings.HasPrefix(line, "#"):
			name = strings.TrimSpace(strings.TrimLeft(line, "#"))
		default:
			continue
		}
		if name == "" {
			break
		}
		if r := []rune(name); len(r) > maxNameLen {
			name = string(r[:maxNameLen])
		}
		return name
	}
	return DefaultName
}
