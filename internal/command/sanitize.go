package command

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Typed input failures. The pipeline converts these into user-facing text
// without disturbing other players.
var (
	ErrTooLong           = errors.New("command: line too long")
	ErrInvalidCharacters = errors.New("command: invalid characters")
)

// sqlSignatures are substrings that mark an injection attempt. Matched
// case-insensitively against the collapsed line.
var sqlSignatures = []string{
	"drop table",
	"insert into",
	"delete from",
	"union select",
	"select * from",
	"1=1",
	"' or '",
}

// scriptSignatures mark markup and script injection attempts.
var scriptSignatures = []string{
	"<script",
	"</script",
	"javascript:",
	"onerror=",
	"onload=",
}

// formatSpecifiers are printf verbs that must never reach a format string.
var formatSpecifiers = []string{"%s", "%d", "%x", "%n", "%p", "%v"}

// sanitize strips control characters, collapses whitespace, and rejects
// lines that are too long or structurally dangerous. Unicode text is
// preserved untouched.
func sanitize(line string, maxLength int) (string, error) {
	var b strings.Builder
	b.Grow(len(line))
	for _, r := range line {
		if unicode.IsControl(r) && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	collapsed := strings.Join(strings.Fields(b.String()), " ")

	if len(collapsed) > maxLength {
		return "", fmt.Errorf("%w: %d > %d", ErrTooLong, len(collapsed), maxLength)
	}
	if strings.ContainsAny(collapsed, ";|&") {
		return "", fmt.Errorf("%w: shell metacharacter", ErrInvalidCharacters)
	}

	lower := strings.ToLower(collapsed)
	for _, sig := range sqlSignatures {
		if strings.Contains(lower, sig) {
			return "", fmt.Errorf("%w: sql signature %q", ErrInvalidCharacters, sig)
		}
	}
	for _, sig := range scriptSignatures {
		if strings.Contains(lower, sig) {
			return "", fmt.Errorf("%w: script signature %q", ErrInvalidCharacters, sig)
		}
	}
	for _, spec := range formatSpecifiers {
		if strings.Contains(lower, spec) {
			return "", fmt.Errorf("%w: format specifier %q", ErrInvalidCharacters, spec)
		}
	}
	return collapsed, nil
}
