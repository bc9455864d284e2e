// Package security masks credentials before they reach logs or output.
package security

import (
	"regexp"
	"strings"
)

var (
	// name, separator, value
	keyValue  = regexp.MustCompile(`(?i)(api[_-]?key|secret[_-]?key|access[_-]?token|auth[_-]?token|bearer|password)(["']?\s*[=:\s]\s*["']?)([^\s"',]+)`)
	openAIKey = regexp.MustCompile(`sk-[A-Za-z0-9_-]{20,}`)
)

// MaskCredential hides a key for display. Short values are fully starred;
// longer ones keep a prefix (and past eight characters a suffix) so a key
// can still be told apart from another.
func MaskCredential(v string) string {
	n := len(v)
	switch {
	case n <= 4:
		return strings.Repeat("*", n)
	case n <= 8:
		return v[:2] + strings.Repeat("*", n-2)
	}
	return v[:4] + strings.Repeat("*", n-8) + v[n-4:]
}

// MaskSensitive masks every credential found in text.
func MaskSensitive(text string) string {
	text = keyValue.ReplaceAllStringFunc(text, func(pair string) string {
		m := keyValue.FindStringSubmatch(pair)
		return m[1] + m[2] + MaskCredential(m[3])
	})
	return openAIKey.ReplaceAllStringFunc(text, MaskCredential)
}

// ContainsSensitiveData reports whether MaskSensitive would change text.
func ContainsSensitiveData(text string) bool {
	return MaskSensitive(text) != text
}
