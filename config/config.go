package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config holds process configuration for the gigflow server.
type Config struct {
	DatabaseURL string
	HTTPAddr    string

	JWTSecret          string
	TokenTTL           time.Duration
	AllowProfileHeader bool

	LogMode string
	Tracing bool

	TxTimeout   time.Duration
	LockTimeout time.Duration
	MaxConns    int

	RedisAddr          string
	RedisChannelPrefix string

	OutboxInterval    time.Duration
	OutboxBatchSize   int
	OutboxMaxAttempts int
}

// Default returns a Config with default values.
func Default() Config {
	return Config{
		HTTPAddr:           ":3001",
		TokenTTL:           24 * time.Hour,
		LogMode:            "dev",
		TxTimeout:          5 * time.Second,
		LockTimeout:        2 * time.Second,
		MaxConns:           16,
		RedisChannelPrefix: "gigflow:",
		OutboxInterval:     time.Second,
		OutboxBatchSize:    50,
		OutboxMaxAttempts:  10,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return errors.New("config: database-url is required")
	}
	if c.HTTPAddr == "" {
		return errors.New("config: http-addr is required")
	}
	if c.JWTSecret == "" && !c.AllowProfileHeader {
		return errors.New("config: jwt-secret is required unless allow-profile-header is set")
	}
	if c.TxTimeout <= 0 {
		return errors.New("config: tx-timeout must be positive")
	}
	if c.LockTimeout < 0 {
		return errors.New("config: lock-timeout must not be negative")
	}
	if c.LockTimeout >= c.TxTimeout {
		return fmt.Errorf("config: lock-timeout (%s) must be shorter than tx-timeout (%s)", c.LockTimeout, c.TxTimeout)
	}
	if c.MaxConns <= 0 {
		return errors.New("config: max-conns must be positive")
	}
	if c.OutboxInterval <= 0 {
		return errors.New("config: outbox-interval must be positive")
	}
	switch strings.ToLower(c.LogMode) {
	case "dev", "development", "prod", "production":
	default:
		return fmt.Errorf("config: unknown log-mode %q", c.LogMode)
	}
	return nil
}

// configSetter applies values while respecting flag precedence: a value is
// only written when the corresponding flag was not set explicitly.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setBoolFromString accepts "true" and "1" as true, anything else as false.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
