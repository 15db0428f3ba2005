// Package migrations applies the embedded session and installation schema.
// Postgres files sit at the root of data/sql/migrations and the sqlite
// variants under its sqlite directory.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	persistence "github.com/goliatone/go-persistence-bun"
	shopifyapp "github.com/goliatone/go-shopify-app"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	rootDir = "data/sql/migrations"
)

// DialectForDriver maps a database/sql driver name to its migration dialect.
func DialectForDriver(driver string) (string, error) {
	switch strings.TrimSpace(strings.ToLower(driver)) {
	case "sqlite3", "sqlite":
		return DialectSQLite, nil
	case "postgres", "pgx":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("migrations: unsupported driver %q", driver)
	}
}

// Schema returns the migration files for dialect, rooted so that bun sees
// only *.sql entries.
func Schema(dialect string) (fs.FS, error) {
	dir := rootDir
	switch dialect {
	case DialectPostgres:
	case DialectSQLite:
		dir += "/sqlite"
	default:
		return nil, fmt.Errorf("migrations: unknown dialect %q", dialect)
	}

	schema, err := fs.Sub(shopifyapp.GetMigrationsFS(), dir)
	if err != nil {
		return nil, fmt.Errorf("migrations: open %s: %w", dir, err)
	}
	ups, err := fs.Glob(schema, "*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: list %s: %w", dir, err)
	}
	if len(ups) == 0 {
		return nil, fmt.Errorf("migrations: %s has no up migrations", dir)
	}
	return schema, nil
}

// Apply runs the schema for driver against client. Already applied files
// are skipped by the bun migrator.
func Apply(ctx context.Context, client *persistence.Client, driver string) error {
	if client == nil {
		return fmt.Errorf("migrations: persistence client is required")
	}
	dialect, err := DialectForDriver(driver)
	if err != nil {
		return err
	}
	schema, err := Schema(dialect)
	if err != nil {
		return err
	}
	client.RegisterSQLMigrations(schema)
	if err := client.Migrate(ctx); err != nil {
		return fmt.Errorf("migrations: migrate %s: %w", dialect, err)
	}
	return nil
}
