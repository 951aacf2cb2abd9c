package subject

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultMaxLength is the maximum length of a built subject when the
// configuration does not override it.
const DefaultMaxLength = 255

// Options configures a [Registry].
type Options struct {
	// MaxLength caps built subjects. Zero means [DefaultMaxLength].
	MaxLength int

	// StrictAlphabet restricts substituted values to [A-Za-z0-9-],
	// disallowing the underscore the lenient alphabet permits.
	StrictAlphabet bool

	// CacheEnabled turns on the validation result cache.
	CacheEnabled bool

	// MetricsEnabled turns on counter and latency collection.
	MetricsEnabled bool
}

// DefaultOptions match the documented configuration defaults.
func DefaultOptions() Options {
	return Options{
		MaxLength:      DefaultMaxLength,
		CacheEnabled:   true,
		MetricsEnabled: true,
	}
}

// Registry holds every registered subject pattern. Reads vastly outnumber
// writes: registration happens at init and through the admin surface, so the
// pattern map sits behind an RWMutex and the validation cache is dropped
// wholesale on any write.
type Registry struct {
	opts    Options
	metrics *metrics

	mu       sync.RWMutex
	patterns map[string]Pattern
	cache    map[string]bool
}

// NewRegistry creates a registry seeded with the built-in pattern table.
func NewRegistry(opts Options) (*Registry, error) {
	if opts.MaxLength <= 0 {
		opts.MaxLength = DefaultMaxLength
	}
	r := &Registry{
		opts:     opts,
		metrics:  newMetrics(opts.MetricsEnabled),
		patterns: make(map[string]Pattern),
		cache:    make(map[string]bool),
	}
	for _, b := range builtinPatterns {
		if err := r.Register(b.Name, b.Template, b.RequiredParams, b.Description); err != nil {
			return nil, fmt.Errorf("subject: seed builtin %q: %w", b.Name, err)
		}
	}
	return r, nil
}

// Register adds a new pattern. It fails with [ErrInvalidPattern] if the
// template has empty tokens, double dots, leading or trailing dots, a
// duplicate name, or a declared required parameter without a placeholder.
// Patterns are never removed.
func (r *Registry) Register(name, template string, required []string, description string) error {
	if name == "" {
		r.metrics.recordError("invalid_pattern")
		return fmt.Errorf("%w: empty name", ErrInvalidPattern)
	}
	tokens, err := parseTemplate(template, required)
	if err != nil {
		r.metrics.recordError("invalid_pattern")
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.patterns[name]; exists {
		r.metrics.recordError("invalid_pattern")
		return fmt.Errorf("%w: duplicate name %q", ErrInvalidPattern, name)
	}
	r.patterns[name] = Pattern{
		Name:           name,
		Template:       template,
		RequiredParams: append([]string(nil), required...),
		Description:    description,
		tokens:         tokens,
	}
	// Any registration can change what validates; drop the whole cache.
	r.cache = make(map[string]bool)
	return nil
}

// Build substitutes every placeholder in the named pattern and validates the
// result. Parameters not named by a placeholder are ignored.
func (r *Registry) Build(name string, params map[string]string) (string, error) {
	start := time.Now()

	r.mu.RLock()
	p, ok := r.patterns[name]
	r.mu.RUnlock()
	if !ok {
		r.metrics.recordError("pattern_not_found")
		return "", fmt.Errorf("%w: %q", ErrPatternNotFound, name)
	}

	var missing []string
	parts := make([]string, 0, len(p.tokens))
	for _, t := range p.tokens {
		if !t.placeholder {
			parts = append(parts, t.value)
			continue
		}
		value, ok := params[t.value]
		if !ok || value == "" {
			missing = append(missing, t.value)
			continue
		}
		if !validToken(value, r.opts.StrictAlphabet) {
			r.metrics.recordError("invalid_value")
			return "", &InvalidValueError{Pattern: name, Param: t.value, Value: value}
		}
		parts = append(parts, value)
	}
	if len(missing) > 0 {
		r.metrics.recordError("missing_parameter")
		return "", &MissingParameterError{Pattern: name, Missing: missing}
	}

	subject := strings.Join(parts, ".")
	if len(subject) > r.opts.MaxLength {
		r.metrics.recordError("subject_too_long")
		return "", fmt.Errorf("%w: %d > %d", ErrSubjectTooLong, len(subject), r.opts.MaxLength)
	}

	r.metrics.recordBuild(time.Since(start))
	return subject, nil
}

// Validate reports whether the subject structurally matches at least one
// registered pattern: equal token counts, literal tokens equal, placeholder
// positions filled with alphabet-legal values. Results are cached by subject
// string until the next registration.
func (r *Registry) Validate(subject string) bool {
	start := time.Now()

	if r.opts.CacheEnabled {
		r.mu.RLock()
		cached, ok := r.cache[subject]
		r.mu.RUnlock()
		if ok {
			r.metrics.recordValidate(time.Since(start), true)
			return cached
		}
	}

	valid := r.matchAny(subject)

	if r.opts.CacheEnabled {
		r.mu.Lock()
		r.cache[subject] = valid
		r.mu.Unlock()
	}
	r.metrics.recordValidate(time.Since(start), false)
	return valid
}

func (r *Registry) matchAny(subject string) bool {
	if subject == "" || len(subject) > r.opts.MaxLength {
		return false
	}
	parts := strings.Split(subject, ".")

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.patterns {
		if matchTokens(p.tokens, parts, r.opts.StrictAlphabet) {
			return true
		}
	}
	return false
}

func matchTokens(tokens []token, parts []string, strict bool) bool {
	if len(tokens) != len(parts) {
		return false
	}
	for i, t := range tokens {
		if t.placeholder {
			if !validToken(parts[i], strict) {
				return false
			}
			continue
		}
		if t.value != parts[i] {
			return false
		}
	}
	return true
}

// SubscriptionPattern substitutes every placeholder in the named pattern
// with "*". It rejects derivations that would subscribe too broadly: more
// than two wildcards, all tokens wildcarded, a leading wildcard, or a
// single-token wildcard.
func (r *Registry) SubscriptionPattern(name string) (string, error) {
	r.mu.RLock()
	p, ok := r.patterns[name]
	r.mu.RUnlock()
	if !ok {
		r.metrics.recordError("pattern_not_found")
		return "", fmt.Errorf("%w: %q", ErrPatternNotFound, name)
	}

	parts := make([]string, 0, len(p.tokens))
	wildcards := 0
	for _, t := range p.tokens {
		if t.placeholder {
			parts = append(parts, "*")
			wildcards++
		} else {
			parts = append(parts, t.value)
		}
	}

	switch {
	case wildcards > 2:
		return "", fmt.Errorf("%w: %q has %d wildcards", ErrBroadSubscription, name, wildcards)
	case wildcards == len(parts) && wildcards > 0:
		return "", fmt.Errorf("%w: %q is all wildcards", ErrBroadSubscription, name)
	case len(parts) > 0 && parts[0] == "*":
		return "", fmt.Errorf("%w: %q has a leading wildcard", ErrBroadSubscription, name)
	case len(parts) == 1 && wildcards == 1:
		return "", fmt.Errorf("%w: %q is a single-token wildcard", ErrBroadSubscription, name)
	}
	return strings.Join(parts, "."), nil
}

// AllPatterns returns every registered pattern sorted by name.
func (r *Registry) AllPatterns() []Pattern {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Pattern, 0, len(r.patterns))
	for _, p := range r.patterns {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Metrics returns a snapshot of registry counters.
func (r *Registry) Metrics() MetricsSnapshot {
	r.mu.RLock()
	n := len(r.patterns)
	r.mu.RUnlock()
	return r.metrics.snapshot(n)
}
