package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wispberry-tech/wispy-lending/core"
)

// MigrateCmd applies migrations and reports the schema state.
type MigrateCmd struct {
	Storage StorageFlags `embed:""`
}

func (c *MigrateCmd) Run(ctx context.Context) error {
	// Opening storage runs pending migrations
	store, err := c.Storage.Open(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	withDB, ok := store.(schemaDB)
	if !ok {
		return errors.New("storage does not expose a database handle")
	}

	sm := core.NewSchemaManager(withDB.DB(), dialectName(c.Storage.Driver))
	if err := sm.ValidateSchema(ctx); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	info, err := sm.GetSchemaInfo(ctx)
	if err != nil {
		return fmt.Errorf("failed to read schema info: %w", err)
	}

	slog.Info("Database schema is up to date",
		"database", info.DatabaseType,
		"version", info.Version,
		"tables", len(info.Tables))
	return nil
}

func dialectName(driver string) string {
	if driver == "postgres" {
		return core.DatabasePostgres
	}
	return core.DatabaseSQLite
}
