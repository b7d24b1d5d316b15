// Package modelmigrate derives database schemas from statically declared
// entities, generates migrations by diffing them against a live database,
// and applies those migrations.
//
// Migrations are not SQL: each one is a list of schema statements (see
// [Statement]) that the [Migrator] replays onto the introspected schema of
// the database and then translates into the SQL of the configured
// [Dialect].
package modelmigrate

import (
	"context"
	"database/sql"
	"io/fs"
	"strings"

	"github.com/peterldowns/modelmigrate/internal/dialect"
)

// Dialect is a database engine. Use [Postgres], [SQLite], [MySQL] or
// [OpenDialect].
type Dialect = dialect.Dialect

// The supported engines.
var (
	Postgres Dialect = dialect.Postgres{}
	SQLite   Dialect = dialect.SQLite{}
	MySQL    Dialect = dialect.MySQL{}
)

// OpenDialect returns the dialect for an engine name ("postgres", "sqlite",
// "mysql") or a database/sql driver name ("pgx", "sqlite3", ...).
func OpenDialect(name string) (Dialect, error) {
	return dialect.Open(name)
}

// DriverName is the database/sql driver name for d, as registered by the
// drivers this module depends on ("pgx", "sqlite3", "mysql").
func DriverName(d Dialect) string {
	return dialect.DriverName(d)
}

// Migrate will apply any previously unapplied migrations found in dir. It
// stores metadata in the dialect's default migrations table with the
// following schema:
//
//   - id: text not null
//   - checksum: text not null
//   - execution_time_in_millis: integer not null
//   - applied_at: timestamp with time zone not null
//
// See [Migrator.Migrate] for the details.
func Migrate(ctx context.Context, db *sql.DB, d Dialect, dir fs.FS, logger Logger) ([]VerificationError, error) {
	migrations, err := Load(dir)
	if err != nil {
		return nil, err
	}
	migrator := NewMigrator(d, migrations)
	migrator.Logger = logger
	return migrator.Migrate(ctx, db)
}

func Verify(ctx context.Context, db *sql.DB, d Dialect, dir fs.FS, logger Logger) ([]VerificationError, error) {
	migrations, err := Load(dir)
	if err != nil {
		return nil, err
	}
	migrator := NewMigrator(d, migrations)
	migrator.Logger = logger
	return migrator.Verify(ctx, db)
}

func Plan(ctx context.Context, db *sql.DB, d Dialect, dir fs.FS, logger Logger) ([]Migration, error) {
	migrations, err := Load(dir)
	if err != nil {
		return nil, err
	}
	migrator := NewMigrator(d, migrations)
	migrator.Logger = logger
	return migrator.Plan(ctx, db)
}

func Applied(ctx context.Context, db *sql.DB, d Dialect, logger Logger) ([]AppliedMigration, error) {
	migrator := NewMigrator(d, nil)
	migrator.Logger = logger
	return migrator.Applied(ctx, db)
}

// Load receives a filesystem (such as an embed.FS) and parses every
// ".migration" file in it, with the filename (without extension) being the
// ID.
func Load(filesystem fs.FS) ([]Migration, error) {
	var migrations []Migration
	if err := fs.WalkDir(filesystem, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, Extension) {
			return nil
		}
		data, err := fs.ReadFile(filesystem, path)
		if err != nil {
			return err
		}
		migration, err := ParseMigration(IDFromFilename(d.Name()), string(data))
		if err != nil {
			return err
		}
		migrations = append(migrations, migration)
		return nil
	}); err != nil {
		return nil, err
	}
	SortByID(migrations)
	return migrations, nil
}
