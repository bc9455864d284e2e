package security

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestMaskCredential(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"abc", "***"},
		{"abcdef", "ab****"},
		{"sk-abcdefghijkl", "sk-a*******ijkl"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MaskCredential(tt.in), tt.in)
	}
}

func TestMaskSensitive(t *testing.T) {
	key := "sk-proj" + strings.Repeat("A", 30) + "wxyz"

	out := MaskSensitive("Incorrect API key provided: " + key + ".")
	assert.NotContains(t, out, key)
	assert.Contains(t, out, "wxyz")

	out = MaskSensitive(`api_key = "supersecretvalue"`)
	assert.NotContains(t, out, "supersecretvalue")
	assert.True(t, strings.HasPrefix(out, `api_key = "`))

	plain := "openai completion failed: status 500"
	assert.Equal(t, plain, MaskSensitive(plain))
	assert.False(t, ContainsSensitiveData(plain))
	assert.True(t, ContainsSensitiveData(key))
}

func TestProperty_MaskKeepsLength(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("masking preserves length", prop.ForAll(
		func(s string) bool {
			return len(MaskCredential(s)) == len(s)
		},
		gen.AlphaString(),
	))

	properties.Property("long values never appear unmasked", prop.ForAll(
		func(s string) bool {
			if len(s) <= 8 {
				return true
			}
			return MaskCredential(s) != s
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
