package config

import "os"

// ApplyEnvConfig applies GIGFLOW_* variables (and DATABASE_URL) to cfg,
// skipping explicitly set flags.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("database-url", os.Getenv("DATABASE_URL"), &cfg.DatabaseURL)
	s.setString("database-url", os.Getenv("GIGFLOW_DATABASE_URL"), &cfg.DatabaseURL)
	s.setString("http-addr", os.Getenv("GIGFLOW_HTTP_ADDR"), &cfg.HTTPAddr)
	s.setString("jwt-secret", os.Getenv("GIGFLOW_JWT_SECRET"), &cfg.JWTSecret)
	s.setString("log-mode", os.Getenv("GIGFLOW_LOG_MODE"), &cfg.LogMode)
	s.setString("redis-addr", os.Getenv("GIGFLOW_REDIS_ADDR"), &cfg.RedisAddr)
	s.setString("redis-channel-prefix", os.Getenv("GIGFLOW_REDIS_CHANNEL_PREFIX"), &cfg.RedisChannelPrefix)

	if err := s.setDuration("token-ttl", os.Getenv("GIGFLOW_TOKEN_TTL"), &cfg.TokenTTL); err != nil {
		return err
	}
	if err := s.setDuration("tx-timeout", os.Getenv("GIGFLOW_TX_TIMEOUT"), &cfg.TxTimeout); err != nil {
		return err
	}
	if err := s.setDuration("lock-timeout", os.Getenv("GIGFLOW_LOCK_TIMEOUT"), &cfg.LockTimeout); err != nil {
		return err
	}
	if err := s.setDuration("outbox-interval", os.Getenv("GIGFLOW_OUTBOX_INTERVAL"), &cfg.OutboxInterval); err != nil {
		return err
	}

	if err := s.setIntFromString("max-conns", os.Getenv("GIGFLOW_MAX_CONNS"), &cfg.MaxConns); err != nil {
		return err
	}
	if err := s.setIntFromString("outbox-batch-size", os.Getenv("GIGFLOW_OUTBOX_BATCH_SIZE"), &cfg.OutboxBatchSize); err != nil {
		return err
	}
	if err := s.setIntFromString("outbox-max-attempts", os.Getenv("GIGFLOW_OUTBOX_MAX_ATTEMPTS"), &cfg.OutboxMaxAttempts); err != nil {
		return err
	}

	s.setBoolFromString("allow-profile-header", os.Getenv("GIGFLOW_ALLOW_PROFILE_HEADER"), &cfg.AllowProfileHeader)
	s.setBoolFromString("tracing", os.Getenv("GIGFLOW_TRACING"), &cfg.Tracing)

	return nil
}
