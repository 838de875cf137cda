package config

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	DatabaseURL        string `toml:"database_url"`
	HTTPAddr           string `toml:"http_addr"`
	JWTSecret          string `toml:"jwt_secret"`
	TokenTTL           string `toml:"token_ttl"`
	AllowProfileHeader *bool  `toml:"allow_profile_header"`
	LogMode            string `toml:"log_mode"`
	Tracing            *bool  `toml:"tracing"`
	TxTimeout          string `toml:"tx_timeout"`
	LockTimeout        string `toml:"lock_timeout"`
	MaxConns           int    `toml:"max_conns"`
	RedisAddr          string `toml:"redis_addr"`
	RedisChannelPrefix string `toml:"redis_channel_prefix"`
	OutboxInterval     string `toml:"outbox_interval"`
	OutboxBatchSize    int    `toml:"outbox_batch_size"`
	OutboxMaxAttempts  int    `toml:"outbox_max_attempts"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns ~/.gigflow/config.toml, or "" without a home directory.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".gigflow", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies fc to cfg, skipping explicitly set flags.
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("database-url", fc.DatabaseURL, &cfg.DatabaseURL)
	s.setString("http-addr", fc.HTTPAddr, &cfg.HTTPAddr)
	s.setString("jwt-secret", fc.JWTSecret, &cfg.JWTSecret)
	s.setString("log-mode", fc.LogMode, &cfg.LogMode)
	s.setString("redis-addr", fc.RedisAddr, &cfg.RedisAddr)
	s.setString("redis-channel-prefix", fc.RedisChannelPrefix, &cfg.RedisChannelPrefix)

	if err := s.setDuration("token-ttl", fc.TokenTTL, &cfg.TokenTTL); err != nil {
		return err
	}
	if err := s.setDuration("tx-timeout", fc.TxTimeout, &cfg.TxTimeout); err != nil {
		return err
	}
	if err := s.setDuration("lock-timeout", fc.LockTimeout, &cfg.LockTimeout); err != nil {
		return err
	}
	if err := s.setDuration("outbox-interval", fc.OutboxInterval, &cfg.OutboxInterval); err != nil {
		return err
	}

	s.setInt("max-conns", fc.MaxConns, &cfg.MaxConns)
	s.setInt("outbox-batch-size", fc.OutboxBatchSize, &cfg.OutboxBatchSize)
	s.setInt("outbox-max-attempts", fc.OutboxMaxAttempts, &cfg.OutboxMaxAttempts)

	s.setBool("allow-profile-header", fc.AllowProfileHeader, &cfg.AllowProfileHeader)
	s.setBool("tracing", fc.Tracing, &cfg.Tracing)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
