package threadstore

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
)

// Environment variables honored by ConfigFromEnv.
const (
	EnvDBType      = "TYLER_DB_TYPE"
	EnvDBHost      = "TYLER_DB_HOST"
	EnvDBPort      = "TYLER_DB_PORT"
	EnvDBName      = "TYLER_DB_NAME"
	EnvDBUser      = "TYLER_DB_USER"
	EnvDBPassword  = "TYLER_DB_PASSWORD"
	EnvDBEcho      = "TYLER_DB_ECHO"
	EnvDBPoolSize  = "TYLER_DB_POOL_SIZE"
	EnvDBOverflow  = "TYLER_DB_MAX_OVERFLOW"
)

// Database types.
const (
	DBTypeSQLite   = "sqlite"
	DBTypePostgres = "postgresql"
)

// Config controls the SQL thread store connection.
type Config struct {
	Type     string
	Host     string
	Port     int
	Name     string
	User     string
	Password string

	// Echo logs every statement at debug level.
	Echo bool

	// PoolSize plus MaxOverflow caps open connections.
	PoolSize    int
	MaxOverflow int
}

// DefaultConfig selects an ephemeral in-process SQLite database.
func DefaultConfig() Config {
	return Config{
		Type:        DBTypeSQLite,
		PoolSize:    5,
		MaxOverflow: 10,
	}
}

// ConfigFromEnv reads the TYLER_DB_* variables. Invalid numeric values fall
// back to defaults with a warning.
func ConfigFromEnv(logger *slog.Logger) Config {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := DefaultConfig()

	if v := os.Getenv(EnvDBType); v != "" {
		cfg.Type = v
	}
	cfg.Host = os.Getenv(EnvDBHost)
	cfg.Name = os.Getenv(EnvDBName)
	cfg.User = os.Getenv(EnvDBUser)
	cfg.Password = os.Getenv(EnvDBPassword)

	cfg.Port = envInt(logger, EnvDBPort, cfg.Port)
	cfg.PoolSize = envInt(logger, EnvDBPoolSize, cfg.PoolSize)
	cfg.MaxOverflow = envInt(logger, EnvDBOverflow, cfg.MaxOverflow)

	if v := os.Getenv(EnvDBEcho); v != "" {
		echo, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warn("invalid boolean in environment, using default",
				"env", EnvDBEcho, "value", v)
		} else {
			cfg.Echo = echo
		}
	}

	return cfg
}

// DSN builds the driver connection string for the configured backend.
func (c Config) DSN() (driver, dsn string, err error) {
	switch c.Type {
	case DBTypeSQLite, "":
		if c.Name == "" {
			// Shared-cache keeps the ephemeral database visible across
			// pooled connections.
			return "sqlite", "file:tyler?mode=memory&cache=shared", nil
		}
		return "sqlite", "file:" + c.Name, nil
	case DBTypePostgres, "postgres":
		host := c.Host
		if host == "" {
			host = "localhost"
		}
		port := c.Port
		if port == 0 {
			port = 5432
		}
		return "postgres", fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			host, port, c.User, c.Password, c.Name,
		), nil
	default:
		return "", "", fmt.Errorf("unsupported database type: %s", c.Type)
	}
}

func envInt(logger *slog.Logger, key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		logger.Warn("invalid integer in environment, using default",
			"env", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}
