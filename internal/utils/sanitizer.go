// internal/utils/sanitizer.go
package utils

import (
	"regexp"
	"strings"
)

const codeFence = "```"

var (
	doubleQuoteReplacer = strings.NewReplacer(
		"\u201c", `"`, "\u201d", `"`, "\u201e", `"`, "\u201f", `"`, "\u2033", `"`,
	)
	singleQuoteReplacer = strings.NewReplacer(
		"\u2018", "'", "\u2019", "'", "\u201a", "'", "\u201b", "'", "\u2032", "'",
	)

	// a fence line, optionally carrying a language tag: ```python, ```py, ```
	fenceLinePattern = regexp.MustCompile("(?m)^[ \\t]*```[A-Za-z0-9_+.-]*[ \\t]*\\r?$")
	// a fence token inside a line, with the same optional tag
	inlineFencePattern = regexp.MustCompile("```[A-Za-z0-9_+.-]*")
)

// SanitizeScript turns raw model output into an ASCII-only source payload.
// Steps run in a fixed order: double quotes, single quotes, code fences, non-ASCII.
// The result is not checked for syntactic validity.
func SanitizeScript(raw string) string {
	code := doubleQuoteReplacer.Replace(raw)
	code = singleQuoteReplacer.Replace(code)
	code = stripCodeFences(code)
	code = stripNonASCII(code)
	// dropping runes can glue backticks back into a fence
	code = stripCodeFences(code)

	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	return code + "\n"
}

func stripCodeFences(code string) string {
	code = fenceLinePattern.ReplaceAllString(code, "")
	for strings.Contains(code, codeFence) {
		code = inlineFencePattern.ReplaceAllString(code, "")
	}
	return code
}

func stripNonASCII(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for _, r := range code {
		if r <= 0x7F {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsASCII reports whether s only contains 7-bit characters
func IsASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7F {
			return false
		}
	}
	return true
}
