package auth

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed data/sql/migrations
var migrationsFS embed.FS

// GetMigrationsFS returns the migration files for this package
func GetMigrationsFS() embed.FS {
	return migrationsFS
}

// MigrationsFor returns the migrations written for dialect, either
// "postgres" or "sqlite".
func MigrationsFor(dialect string) (fs.FS, error) {
	switch dialect {
	case "postgres", "sqlite":
		return fs.Sub(migrationsFS, "data/sql/migrations/"+dialect)
	default:
		return nil, fmt.Errorf("unsupported migration dialect %q", dialect)
	}
}

// Migrate applies pending migrations for dialect to db.
func Migrate(ctx context.Context, db *sql.DB, dialect string) error {
	source, err := MigrationsFor(dialect)
	if err != nil {
		return err
	}

	gooseDialect := goose.DialectPostgres
	if dialect == "sqlite" {
		gooseDialect = goose.DialectSQLite3
	}

	provider, err := goose.NewProvider(gooseDialect, db, source)
	if err != nil {
		return fmt.Errorf("migration provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
