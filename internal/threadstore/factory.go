package threadstore

import (
	"context"
	"log/slog"
	"os"
)

// NewFromEnv selects a backend from the environment: a SQL store when
// TYLER_DB_TYPE is set, otherwise the in-memory store.
func NewFromEnv(ctx context.Context, logger *slog.Logger) (Store, error) {
	if os.Getenv(EnvDBType) == "" {
		return NewMemoryStore(), nil
	}
	return NewSQLStore(ctx, ConfigFromEnv(logger), logger)
}
