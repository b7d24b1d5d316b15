package modelmigrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/peterldowns/modelmigrate/internal/builder"
	"github.com/peterldowns/modelmigrate/internal/compiler"
	"github.com/peterldowns/modelmigrate/internal/dialect"
	"github.com/peterldowns/modelmigrate/internal/multierr"
	"github.com/peterldowns/modelmigrate/internal/script"
	"github.com/peterldowns/modelmigrate/model"
	"github.com/peterldowns/modelmigrate/schema"
)

// Backend connects entities to a database: it generates migrations from the
// difference between the entities and the live schema, and saves and loads
// records.
type Backend struct {
	DB      *sql.DB
	Dialect Dialect
	// Builder maps entities to tables. Its Resolver is also used to read and
	// write records.
	Builder *builder.Builder
	Logger  Logger
	// TableName is the migrations table, which is never touched by generated
	// migrations.
	TableName string
	// ManagedTablesOnly limits generated migrations to the tables of the
	// entities passed in. When false, every other table in the database is
	// dropped (behind a data loss guard).
	ManagedTablesOnly bool
}

// NewBackend returns a backend that builds tables with the default mapping
// rules. A nil resolver means a resolver over a fresh registry.
func NewBackend(db *sql.DB, d Dialect, resolver *model.Resolver) *Backend {
	return &Backend{
		DB:                db,
		Dialect:           d,
		Builder:           builder.New(resolver, builder.DefaultConfig()),
		TableName:         d.DefaultTableName(),
		ManagedTablesOnly: true,
	}
}

// Target returns the schema the database should have once entities are
// in place: the current schema with the entities' tables replaced and, unless
// ManagedTablesOnly is set, every other table except the migrations table
// removed.
func (b *Backend) Target(current *schema.Schema, entities ...model.Entity) (*schema.Schema, error) {
	target := current.Clone()
	if !b.ManagedTablesOnly {
		managed := map[string]bool{}
		for _, e := range entities {
			managed[builder.TableName(e.EntityName())] = true
		}
		migrations := dialect.Unqualified(b.TableName)
		kept := target.Tables[:0]
		for _, t := range target.Tables {
			if managed[t.Name] || dialect.Unqualified(t.Name) == migrations {
				kept = append(kept, t)
			}
		}
		target.Tables = kept
		dropDanglingForeignKeys(target)
	}
	if err := b.Builder.Apply(target, entities...); err != nil {
		return nil, err
	}
	return b.Dialect.Normalize(target), nil
}

// dropDanglingForeignKeys removes foreign keys whose referenced table is no
// longer part of s.
func dropDanglingForeignKeys(s *schema.Schema) {
	for _, t := range s.Tables {
		kept := t.ForeignKeys[:0]
		for _, fk := range t.ForeignKeys {
			if fk.ForeignTable == t.Name || s.HasTable(fk.ForeignTable) {
				kept = append(kept, fk)
			}
		}
		t.ForeignKeys = kept
	}
}

// CreateMigration compares the live schema with the one the entities
// describe and returns the migration between them. It returns [ErrNoChanges]
// when the schemas are already equal.
func (b *Backend) CreateMigration(ctx context.Context, id string, entities ...model.Entity) (Migration, error) {
	current, err := b.Dialect.Introspect(ctx, b.DB)
	if err != nil {
		return Migration{}, fmt.Errorf("introspect: %w", err)
	}
	current = b.Dialect.Normalize(current)
	target, err := b.Target(current, entities...)
	if err != nil {
		return Migration{}, err
	}
	return b.migration(ctx, id, schema.Compare(current, target))
}

// Current returns the normalized schema of the database without the
// migrations table.
func (b *Backend) Current(ctx context.Context) (*schema.Schema, error) {
	current, err := b.Dialect.Introspect(ctx, b.DB)
	if err != nil {
		return nil, fmt.Errorf("introspect: %w", err)
	}
	current = b.Dialect.Normalize(current)
	migrations := dialect.Unqualified(b.TableName)
	kept := current.Tables[:0]
	for _, t := range current.Tables {
		if dialect.Unqualified(t.Name) != migrations {
			kept = append(kept, t)
		}
	}
	current.Tables = kept
	return current, nil
}

// Dump returns a migration that recreates the current schema of the database
// in an empty one. It can replace ("squash") every migration applied so far.
func (b *Backend) Dump(ctx context.Context, id string) (Migration, error) {
	current, err := b.Current(ctx)
	if err != nil {
		return Migration{}, err
	}
	empty := schema.New(current.Name)
	// The default namespace exists in every database of the engine.
	if slices.Contains(current.Namespaces, current.Name) {
		empty.Namespaces = []string{current.Name}
	}
	return b.migration(ctx, id, schema.Compare(empty, current))
}

func (b *Backend) migration(ctx context.Context, id string, diff *schema.Diff) (Migration, error) {
	if diff.Empty() {
		return Migration{}, ErrNoChanges
	}
	up, down, err := compiler.Compile(diff)
	if err != nil {
		return Migration{}, err
	}
	migration := Migration{ID: id}
	if migration.Up, err = script.Render(up); err != nil {
		return Migration{}, err
	}
	if migration.Down, err = script.Render(down); err != nil {
		return Migration{}, err
	}
	b.info(ctx, "created migration",
		LogField{Key: "migration_id", Value: id},
		LogField{Key: "statements", Value: len(migration.Up)},
	)
	return migration, nil
}

// Generate creates a migration with [Backend.CreateMigration] and writes it
// to dir as "<seq>_<name>.migration", where seq is one more than the highest
// sequence number already in dir. It never overwrites an existing file, and
// returns the path it wrote.
func (b *Backend) Generate(ctx context.Context, dir, name string, entities ...model.Entity) (string, Migration, error) {
	seq, err := nextSequence(os.DirFS(dir))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", Migration{}, err
	}
	id := fmt.Sprintf("%04d_%s", seq, migrationName(name))
	migration, err := b.CreateMigration(ctx, id, entities...)
	if err != nil {
		return "", Migration{}, err
	}
	text, err := migration.Format()
	if err != nil {
		return "", Migration{}, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", Migration{}, err
	}
	path := filepath.Join(dir, id+Extension)
	if err := writeNewFile(path, text); err != nil {
		return "", Migration{}, err
	}
	b.info(ctx, "wrote migration", LogField{Key: "path", Value: path})
	return path, migration, nil
}

func writeNewFile(path, text string) (final error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err := f.Close(); err != nil {
			final = multierr.Join(final, err)
		}
	}()
	_, err = f.WriteString(text)
	return err
}

// nextSequence returns one more than the highest numeric prefix of the
// migration files in dir, or 1 if there are none.
func nextSequence(dir fs.FS) (int, error) {
	entries, err := fs.ReadDir(dir, ".")
	if err != nil {
		return 1, err
	}
	highest := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), Extension) {
			continue
		}
		prefix, _, _ := strings.Cut(entry.Name(), "_")
		if n, err := strconv.Atoi(prefix); err == nil && n > highest {
			highest = n
		}
	}
	return highest + 1, nil
}

// migrationName lowercases name and replaces everything but letters, digits
// and underscores with underscores.
func migrationName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return '_'
	}, strings.TrimSpace(name))
}

func (b *Backend) info(ctx context.Context, msg string, args ...LogField) {
	b.log(ctx, LogLevelInfo, msg, args...)
}

func (b *Backend) debug(ctx context.Context, msg string, args ...LogField) {
	b.log(ctx, LogLevelDebug, msg, args...)
}

func (b *Backend) log(ctx context.Context, level LogLevel, msg string, args ...LogField) {
	if b.Logger != nil {
		if hl, ok := b.Logger.(Helper); ok {
			hl.Helper()
		}
		b.Logger.Log(ctx, level, msg, args...)
	}
}
