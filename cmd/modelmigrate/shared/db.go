package shared

import (
	"database/sql"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	_ "github.com/mattn/go-sqlite3"    // sqlite driver

	"github.com/peterldowns/modelmigrate"
	"github.com/peterldowns/modelmigrate/model"
)

// InferDialect guesses the engine from a connection string, returning "" if
// it cannot tell.
func InferDialect(connstr string) string {
	switch {
	case connstr == "":
		return ""
	case strings.HasPrefix(connstr, "postgres://"), strings.HasPrefix(connstr, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(connstr, "sqlite://"), strings.HasPrefix(connstr, "file:"),
		strings.HasSuffix(connstr, ".db"), strings.HasSuffix(connstr, ".sqlite"), strings.HasSuffix(connstr, ".sqlite3"):
		return "sqlite"
	case strings.HasPrefix(connstr, "mysql://"), strings.Contains(connstr, "@tcp("), strings.Contains(connstr, "@unix("):
		return "mysql"
	}
	return ""
}

// OpenDB opens the configured database with the driver of the configured
// dialect.
func OpenDB() (*sql.DB, modelmigrate.Dialect, error) {
	dbVar := State.Database()
	dialectVar := State.Dialect()
	if err := Validate(dbVar, dialectVar); err != nil {
		return nil, nil, err
	}
	d, err := modelmigrate.OpenDialect(dialectVar.Value())
	if err != nil {
		return nil, nil, err
	}
	dsn, err := driverConnectionString(d, dbVar.Value())
	if err != nil {
		return nil, nil, err
	}
	db, err := sql.Open(modelmigrate.DriverName(d), dsn)
	if err != nil {
		return nil, nil, err
	}
	return db, d, nil
}

func driverConnectionString(d modelmigrate.Dialect, connstr string) (string, error) {
	switch d.Name() {
	case "postgres":
		return setDefaultStatementCachingParameter(connstr)
	case "sqlite":
		return strings.TrimPrefix(connstr, "sqlite://"), nil
	case "mysql":
		return setMySQLParameters(strings.TrimPrefix(connstr, "mysql://"))
	}
	return connstr, nil
}

// If the modelmigrate user has not explicitly specified a pgx statement caching
// parameter in their connection string, set it to "exec", which will work
// correctly even when connecting to bouncers/poolers like Pgbouncer. If we
// don't do this, the default value pgx chooses is "cache_statement", which
// breaks when you connect to a pooler.
func setDefaultStatementCachingParameter(connstr string) (string, error) {
	eurl, err := url.Parse(connstr)
	if err != nil {
		return "", fmt.Errorf("failed to parse 'database' URL: %w", err)
	}
	query := eurl.Query()
	// hardcoded query parameter name comes from the pgx code:
	// https://github.com/jackc/pgx/blob/672c4a3a24849b1f34857817e6ed76f6581bbe90/conn.go#L191
	queryModeParam := "default_query_exec_mode"
	// hardcoded value "exec" comes from the pgx code:
	// https://github.com/jackc/pgx/blob/fd0c65478e18be837b77c7ef24d7220f50540d49/conn.go#L200
	execModeValue := "exec"
	if !query.Has(queryModeParam) {
		query.Add(queryModeParam, execModeValue)
	}
	eurl.RawQuery = query.Encode()
	return eurl.String(), nil
}

// setMySQLParameters makes DATETIME columns scan as time.Time and stores them
// in UTC.
func setMySQLParameters(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("failed to parse 'database' DSN: %w", err)
	}
	cfg.ParseTime = true
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	if _, ok := cfg.Params["time_zone"]; !ok {
		cfg.Params["time_zone"] = "'+00:00'"
	}
	return cfg.FormatDSN(), nil
}

// Migrator opens the database and loads the configured migrations.
func Migrator() (*sql.DB, *modelmigrate.Migrator, error) {
	migrationsDir := State.Migrations()
	if err := Validate(migrationsDir); err != nil {
		return nil, nil, err
	}
	migrations, err := modelmigrate.Load(os.DirFS(migrationsDir.Value()))
	if err != nil {
		return nil, nil, fmt.Errorf("load migrations: %w", err)
	}
	return MigratorFor(migrations)
}

// MigratorFor opens the database and returns a migrator for migrations.
func MigratorFor(migrations []modelmigrate.Migration) (*sql.DB, *modelmigrate.Migrator, error) {
	db, d, err := OpenDB()
	if err != nil {
		return nil, nil, err
	}
	_, mlogger := State.Logger()
	m := modelmigrate.NewMigrator(d, migrations)
	m.Logger = mlogger
	if tableName := State.TableName(); tableName.IsSet() {
		m.TableName = tableName.Value()
	}
	return db, m, nil
}

// MigrationsFS returns the configured migrations directory.
func MigrationsFS() (fs.FS, error) {
	migrationsDir := State.Migrations()
	if err := Validate(migrationsDir); err != nil {
		return nil, err
	}
	return os.DirFS(migrationsDir.Value()), nil
}

// Backend opens the database and loads the configured model declarations.
func Backend() (*modelmigrate.Backend, []model.Entity, error) {
	modelsFile := State.Models()
	if err := Validate(modelsFile); err != nil {
		return nil, nil, err
	}
	entities, err := model.LoadDeclarationsFile(modelsFile.Value())
	if err != nil {
		return nil, nil, fmt.Errorf("load models: %w", err)
	}
	if len(entities) == 0 {
		return nil, nil, fmt.Errorf("no models declared in %s", modelsFile.Value())
	}
	db, d, err := OpenDB()
	if err != nil {
		return nil, nil, err
	}
	registry := model.NewRegistry()
	registry.Register(entities...)
	_, mlogger := State.Logger()
	backend := modelmigrate.NewBackend(db, d, model.NewResolver(registry))
	backend.Logger = mlogger
	backend.ManagedTablesOnly = !State.Config.PruneUnmanaged
	if tableName := State.TableName(); tableName.IsSet() {
		backend.TableName = tableName.Value()
	}
	return backend, entities, nil
}
