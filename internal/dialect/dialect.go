// Package dialect turns logical schemas and schema diffs into the SQL of a
// specific database engine, and reads the logical schema back out of a live
// database.
//
// Every dialect keeps the same contract: after running the statements
// returned by CreateSQL(s) or DiffSQL(diff), Introspect returns a schema that
// compares equal to Normalize(s) (or Normalize(diff.To)). Normalize drops the
// attributes the engine cannot store.
package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/peterldowns/modelmigrate/schema"
)

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Dialect is a database engine.
type Dialect interface {
	// Name is the canonical name of the engine: "postgres", "sqlite" or
	// "mysql".
	Name() string
	// Placeholder returns the bind parameter for the n-th (1-based)
	// argument of a query.
	Placeholder(n int) string
	// Quote quotes a possibly dotted identifier.
	Quote(ident string) string
	// Normalize returns a copy of s as it would look after being stored in,
	// and read back from, the engine.
	Normalize(s *schema.Schema) *schema.Schema
	// Introspect reads the current schema of the database.
	Introspect(ctx context.Context, q Querier) (*schema.Schema, error)
	// DiffSQL returns the statements that turn diff.From into diff.To.
	DiffSQL(diff *schema.Diff) ([]string, error)
	// CreateSQL returns the statements that create s in an empty database.
	CreateSQL(s *schema.Schema) ([]string, error)
	// SupportsReturning reports whether INSERT ... RETURNING is available.
	SupportsReturning() bool

	// DefaultTableName is the default name of the migrations table.
	DefaultTableName() string
	// CreateMigrationsTableSQL returns the statements that create the
	// migrations table if it does not exist yet.
	CreateMigrationsTableSQL(table string) []string
	// HasTableQuery returns a query that selects a single boolean: whether
	// the table exists.
	HasTableQuery(table string) (string, []any)

	// Lock runs cb on a single connection while holding a lock that keeps
	// other migrators out.
	Lock(ctx context.Context, db *sql.DB, name string, cb func(*sql.Conn) error) error
	// ErrorData returns engine-specific details of an error, for logging.
	ErrorData(err error) map[string]any
}

// UnsupportedError is returned when the engine cannot express a change.
type UnsupportedError struct {
	Dialect string
	Feature string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s does not support %s", e.Dialect, e.Feature)
}

// Open returns the dialect for a database/sql driver name or an engine name.
func Open(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "pgx", "pq":
		return Postgres{}, nil
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	case "mysql", "mariadb":
		return MySQL{}, nil
	}
	return nil, fmt.Errorf("unknown dialect %q", name)
}

// DriverName returns the database/sql driver registered for the dialect by
// the drivers this module depends on.
func DriverName(d Dialect) string {
	switch d.Name() {
	case "postgres":
		return "pgx"
	case "sqlite":
		return "sqlite3"
	}
	return d.Name()
}

// Unqualified strips the schema from a dotted table name.
func Unqualified(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}
