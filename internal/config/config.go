package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

// Config holds the application configuration.
type Config struct {
	Environment       string
	DatabaseURL       string
	RedisAddr         string
	TreasuryAccountID string
	AuditSpoolPath    string
	ListenAddr        string
	MaxBodyBytes      int64
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:       os.Getenv("APP_ENV"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		TreasuryAccountID: os.Getenv("TREASURY_ACCOUNT_ID"),
		AuditSpoolPath:    os.Getenv("AUDIT_SPOOL_PATH"),
		ListenAddr:        os.Getenv("LISTEN_ADDR"),
		MaxBodyBytes:      1 << 20,
	}

	if v := os.Getenv("MAX_BODY_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, errors.New("MAX_BODY_BYTES must be an integer")
		}
		cfg.MaxBodyBytes = n
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.AuditSpoolPath == "" {
		cfg.AuditSpoolPath = "audit-spool.db"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is complete. Missing variables
// are accumulated so one run reports everything that needs fixing.
func (c *Config) Validate() error {
	var missing []string

	if c.Environment == "" {
		missing = append(missing, "APP_ENV")
	}
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.RedisAddr == "" {
		missing = append(missing, "REDIS_ADDR")
	}
	if c.TreasuryAccountID == "" {
		missing = append(missing, "TREASURY_ACCOUNT_ID")
	}

	if len(missing) > 0 {
		return errors.New("missing required environment variables: " + strings.Join(missing, ", "))
	}

	return nil
}
