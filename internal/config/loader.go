package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [Validate] when a value is unset.
const (
	defaultTickSeconds         = 30
	defaultSubjectMaxLength    = 255
	defaultRateLimitAttempts   = 5
	defaultRateLimitWindowSecs = 60
	defaultGraceTimeoutSecs    = 120
	defaultPendingCapacity     = 100
	defaultTurnTimeoutSecs     = 30
	defaultIdleCleanupSecs     = 300
	defaultCommandMaxLength    = 50
	defaultTokenLifetimeSecs   = 900
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values and fills in
// documented defaults. It returns a joined error listing all validation
// failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}
	if cfg.Server.TickSeconds <= 0 {
		cfg.Server.TickSeconds = defaultTickSeconds
	}

	// Subject registry
	if cfg.Subject.MaxLength < 0 {
		errs = append(errs, fmt.Errorf("subject.max_length %d is negative", cfg.Subject.MaxLength))
	}
	if cfg.Subject.MaxLength == 0 {
		cfg.Subject.MaxLength = defaultSubjectMaxLength
	}
	if cfg.Subject.CacheEnabled == nil {
		cfg.Subject.CacheEnabled = ptr(true)
	}
	if cfg.Subject.MetricsEnabled == nil {
		cfg.Subject.MetricsEnabled = ptr(true)
	}

	// Connection
	if cfg.Connection.RateLimitAttempts <= 0 {
		cfg.Connection.RateLimitAttempts = defaultRateLimitAttempts
	}
	if cfg.Connection.RateLimitWindowSeconds <= 0 {
		cfg.Connection.RateLimitWindowSeconds = defaultRateLimitWindowSecs
	}

	// Grace / pending
	if cfg.Grace.TimeoutSeconds <= 0 {
		cfg.Grace.TimeoutSeconds = defaultGraceTimeoutSecs
	}
	if cfg.Pending.QueueCapacity <= 0 {
		cfg.Pending.QueueCapacity = defaultPendingCapacity
	}

	// Combat
	if cfg.Combat.TurnTimeoutSeconds <= 0 {
		cfg.Combat.TurnTimeoutSeconds = defaultTurnTimeoutSecs
	}
	if cfg.Combat.IdleCleanupSeconds <= 0 {
		cfg.Combat.IdleCleanupSeconds = defaultIdleCleanupSecs
	}

	// Command
	if cfg.Command.MaxLength <= 0 {
		cfg.Command.MaxLength = defaultCommandMaxLength
	}

	// Auth
	if cfg.Auth.TokenSecret == "" {
		errs = append(errs, errors.New("auth.token_secret is required"))
	}
	if cfg.Auth.TokenLifetimeSeconds <= 0 {
		cfg.Auth.TokenLifetimeSeconds = defaultTokenLifetimeSecs
	}

	return errors.Join(errs...)
}

func ptr[T any](v T) *T { return &v }
