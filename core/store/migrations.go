package store

import (
	"context"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"

	"sapsan-iro/core/utils"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// ApplyMigrations brings the schema up to date using the embedded goose
// migration set for the opened driver's dialect.
func ApplyMigrations(ctx context.Context, db *DB, logger *utils.Logger) error {
	dialect, dir := "sqlite3", "migrations/sqlite"
	if db.Driver() == driverPostgres {
		dialect, dir = "postgres", "migrations/postgres"
	}
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db.DB, dir); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	if logger != nil {
		logger.Infof("db: migrations applied")
	}
	return nil
}
