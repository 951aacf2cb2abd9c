// Package subject is the single source of truth for message addressing.
//
// A pattern is a dot-separated template mixing literal tokens and
// brace-delimited placeholders, e.g. "chat.say.room.{room_id}". The registry
// builds concrete subjects from a pattern plus parameter values, validates
// arbitrary subject strings against the registered patterns, and derives
// wildcard subscription patterns for the broker.
//
// Matching is by tokenisation, never by regex over the raw string, so it
// stays linear in subject length regardless of the active alphabet.
package subject

import (
	"fmt"
	"strings"
)

// Pattern is a registered subject template.
type Pattern struct {
	// Name uniquely identifies the pattern process-wide.
	Name string `json:"name"`

	// Template is the dot-separated token sequence, with placeholders in
	// braces: "chat.whisper.player.{target_id}".
	Template string `json:"template"`

	// RequiredParams lists the parameters that must be supplied to Build.
	// Every required parameter appears exactly once as a placeholder.
	RequiredParams []string `json:"required_params"`

	// Description documents the pattern for the admin surface.
	Description string `json:"description"`

	// tokens is the parsed template, placeholder names without braces.
	tokens []token
}

type token struct {
	value       string
	placeholder bool
}

// parseTemplate splits a template into tokens and checks its structural
// invariants: no empty tokens, no leading or trailing dot, and every
// declared required parameter present exactly once as a placeholder.
func parseTemplate(template string, required []string) ([]token, error) {
	if template == "" {
		return nil, fmt.Errorf("%w: empty template", ErrInvalidPattern)
	}
	if strings.HasPrefix(template, ".") || strings.HasSuffix(template, ".") {
		return nil, fmt.Errorf("%w: leading or trailing dot in %q", ErrInvalidPattern, template)
	}

	parts := strings.Split(template, ".")
	tokens := make([]token, 0, len(parts))
	placeholderCount := make(map[string]int)

	for _, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("%w: empty token in %q", ErrInvalidPattern, template)
		}
		if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") {
			name := part[1 : len(part)-1]
			if name == "" {
				return nil, fmt.Errorf("%w: empty placeholder in %q", ErrInvalidPattern, template)
			}
			placeholderCount[name]++
			tokens = append(tokens, token{value: name, placeholder: true})
			continue
		}
		if strings.ContainsAny(part, "{}") {
			return nil, fmt.Errorf("%w: malformed placeholder %q in %q", ErrInvalidPattern, part, template)
		}
		tokens = append(tokens, token{value: part})
	}

	for _, name := range required {
		switch placeholderCount[name] {
		case 0:
			return nil, fmt.Errorf("%w: required parameter %q has no placeholder in %q",
				ErrInvalidPattern, name, template)
		case 1:
			// ok
		default:
			return nil, fmt.Errorf("%w: required parameter %q appears %d times in %q",
				ErrInvalidPattern, name, placeholderCount[name], template)
		}
	}
	return tokens, nil
}

// Placeholders returns the placeholder names in template order.
func (p Pattern) Placeholders() []string {
	var out []string
	for _, t := range p.tokens {
		if t.placeholder {
			out = append(out, t.value)
		}
	}
	return out
}

// validToken reports whether value is legal under the given alphabet.
// Lenient allows [A-Za-z0-9_-]; strict disallows the underscore.
func validToken(value string, strict bool) bool {
	if value == "" {
		return false
	}
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
		case c == '_':
			if strict {
				return false
			}
		default:
			return false
		}
	}
	return true
}
