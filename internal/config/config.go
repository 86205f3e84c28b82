// Package config provides configuration for the spindle server.
//
// Values come from CLI flags with sensible defaults; the upstream credential
// comes from the environment and is required at startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

const (
	// Version is the spindle application version.
	Version = "0.1.0"

	// EnvAPIKey is the environment variable holding the Cohere credential.
	EnvAPIKey = "COHERE_API_KEY"

	// Default values for CLI flags
	DefaultPort          = 5000
	DefaultCohereURL     = "https://api.cohere.ai/v1/generate"
	DefaultCohereModel   = "command"
	DefaultStreamTimeout = 2 * time.Minute
	DefaultMaxHistory    = 200
	DefaultLogLevel      = "info"

	// Validation constraints
	minPort = 1024
	maxPort = 65535
)

var (
	// ErrMissingAPIKey is returned when the upstream credential is not set.
	// This is fatal at startup, never recoverable at request time.
	ErrMissingAPIKey = errors.New(EnvAPIKey + " is not set in the environment")
	// ErrInvalidPort is returned when port is out of valid range.
	ErrInvalidPort = errors.New("port must be between 1024 and 65535")
	// ErrInvalidMaxHistory is returned when the history bound is negative.
	ErrInvalidMaxHistory = errors.New("max-history must be >= 0 (use 0 for unbounded)")
	// ErrInvalidStreamTimeout is returned when the stream timeout is negative.
	ErrInvalidStreamTimeout = errors.New("stream-timeout must be >= 0 (use 0 to disable)")
	// ErrInvalidLogLevel is returned when log level is not recognized.
	ErrInvalidLogLevel = errors.New("log-level must be one of: debug, info, warn, error")
)

// Config holds all configuration values for the spindle server.
type Config struct {
	// Server configuration
	Port int

	// Upstream provider configuration
	CohereURL   string
	CohereModel string
	APIKey      string

	// StreamTimeout bounds a single upstream generation. Zero disables it.
	StreamTimeout time.Duration

	// MaxHistory bounds the conversation log; the oldest messages are
	// dropped past this count. Zero means unbounded.
	MaxHistory int

	// Logging configuration
	LogLevel string
}

// Default returns a Config populated with default values. The API key is
// read from the environment.
func Default() *Config {
	return &Config{
		Port:          DefaultPort,
		CohereURL:     DefaultCohereURL,
		CohereModel:   DefaultCohereModel,
		APIKey:        os.Getenv(EnvAPIKey),
		StreamTimeout: DefaultStreamTimeout,
		MaxHistory:    DefaultMaxHistory,
		LogLevel:      DefaultLogLevel,
	}
}

// Validate checks that all configuration values are usable.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.Port < minPort || c.Port > maxPort {
		return ErrInvalidPort
	}
	if c.MaxHistory < 0 {
		return ErrInvalidMaxHistory
	}
	if c.StreamTimeout < 0 {
		return ErrInvalidStreamTimeout
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Addr returns the listen address derived from the configured port.
func (c *Config) Addr() string {
	return fmt.Sprintf("localhost:%d", c.Port)
}

// ParseLogLevel maps a configured level name to a zerolog level.
func ParseLogLevel(level string) (zerolog.Level, error) {
	switch level {
	case "debug":
		return zerolog.DebugLevel, nil
	case "info":
		return zerolog.InfoLevel, nil
	case "warn":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.NoLevel, ErrInvalidLogLevel
	}
}
