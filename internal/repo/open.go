package repo

import (
	"context"
	"fmt"
	"log/slog"
)

// Drivers supported by Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// OpenConfig selects and locates the backing store.
type OpenConfig struct {
	Driver      string
	DatabaseURL string
	Schema      string
	SQLitePath  string
}

// Open connects to the configured store.
func Open(ctx context.Context, cfg OpenConfig, logger *slog.Logger) (Repository, error) {
	switch cfg.Driver {
	case DriverPostgres, "":
		return New(ctx, cfg.DatabaseURL, cfg.Schema, logger)
	case DriverSQLite:
		return NewSQLite(ctx, cfg.SQLitePath, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
