// Package config provides the configuration schema and loader for the
// Arkmoor game server.
package config

import "time"

// LogLevel controls log verbosity for the Arkmoor server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Arkmoor.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Subject    SubjectConfig    `yaml:"subject"`
	Connection ConnectionConfig `yaml:"connection"`
	Grace      GraceConfig      `yaml:"grace"`
	Pending    PendingConfig    `yaml:"pending"`
	Combat     CombatConfig     `yaml:"combat"`
	Command    CommandConfig    `yaml:"command"`
	Auth       AuthConfig       `yaml:"auth"`
	Storage    StorageConfig    `yaml:"storage"`
	Bus        BusConfig        `yaml:"bus"`
	Content    ContentConfig    `yaml:"content"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// TickSeconds is the game tick interval. Defaults to 30.
	TickSeconds int `yaml:"tick_seconds"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// SubjectConfig tunes the subject registry.
type SubjectConfig struct {
	// MaxLength caps built subjects. Defaults to 255.
	MaxLength int `yaml:"max_length"`

	// StrictAlphabet restricts parameter values to [A-Za-z0-9-].
	StrictAlphabet bool `yaml:"strict_alphabet"`

	// CacheEnabled turns on the validation result cache. Defaults to true.
	CacheEnabled *bool `yaml:"cache_enabled"`

	// MetricsEnabled turns on registry counters. Defaults to true.
	MetricsEnabled *bool `yaml:"metrics_enabled"`
}

// ConnectionConfig tunes per-player connection handling.
type ConnectionConfig struct {
	// RateLimitAttempts is the number of connection attempts allowed per
	// player inside the rate-limit window. Defaults to 5.
	RateLimitAttempts int `yaml:"rate_limit_attempts"`

	// RateLimitWindowSeconds is the sliding window size. Defaults to 60.
	RateLimitWindowSeconds int `yaml:"rate_limit_window_seconds"`
}

// GraceConfig tunes the login grace period.
type GraceConfig struct {
	// TimeoutSeconds is how long a transiently disconnected player keeps
	// world presence. Defaults to 120.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// PendingConfig tunes the per-player pending message queue used during grace.
type PendingConfig struct {
	// QueueCapacity caps queued envelopes per player; overflow discards the
	// oldest entry. Defaults to 100.
	QueueCapacity int `yaml:"queue_capacity"`
}

// CombatConfig tunes the combat engine.
type CombatConfig struct {
	// TurnTimeoutSeconds bounds how long a single turn may idle. Defaults to 30.
	TurnTimeoutSeconds int `yaml:"turn_timeout_seconds"`

	// IdleCleanupSeconds is how long an inactive combat survives before the
	// stale sweep ends it. Defaults to 300.
	IdleCleanupSeconds int `yaml:"idle_cleanup_seconds"`
}

// CommandConfig tunes the command pipeline.
type CommandConfig struct {
	// MaxLength is the maximum accepted command line length. Defaults to 50.
	MaxLength int `yaml:"max_length"`
}

// AuthConfig configures session token issuance.
type AuthConfig struct {
	// TokenSecret is the HMAC secret for signing session tokens. Required.
	TokenSecret string `yaml:"token_secret"`

	// TokenLifetimeSeconds bounds token validity. Defaults to 900.
	TokenLifetimeSeconds int `yaml:"token_lifetime_seconds"`

	// InviteOnly rejects token issuance for users without an invite.
	InviteOnly bool `yaml:"invite_only"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// PostgresDSN is the connection string for the world database.
	// Empty selects the in-memory store (tests, local play).
	PostgresDSN string `yaml:"postgres_dsn"`
}

// BusConfig configures the optional external message bus.
type BusConfig struct {
	// NATSURL is the NATS server URL. Empty disables external forwarding.
	NATSURL string `yaml:"nats_url"`
}

// ContentConfig points at world content files loaded at boot.
type ContentConfig struct {
	// File is the YAML file holding NPC definitions, item prototypes,
	// seed rooms, and spawns.
	File string `yaml:"file"`

	// SpellFile is the YAML spell book. Empty disables casting.
	SpellFile string `yaml:"spell_file"`
}

// Duration helpers — the schema stores plain seconds for operator
// friendliness; the core wants time.Duration.

func (c ConnectionConfig) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

func (c GraceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c CombatConfig) TurnTimeout() time.Duration {
	return time.Duration(c.TurnTimeoutSeconds) * time.Second
}

func (c CombatConfig) IdleCleanup() time.Duration {
	return time.Duration(c.IdleCleanupSeconds) * time.Second
}

func (c AuthConfig) TokenLifetime() time.Duration {
	return time.Duration(c.TokenLifetimeSeconds) * time.Second
}

func (c ServerConfig) TickInterval() time.Duration {
	return time.Duration(c.TickSeconds) * time.Second
}
