package modelmigrate_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	_ "github.com/mattn/go-sqlite3"    // sqlite driver
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/peterldowns/modelmigrate"
	"github.com/peterldowns/modelmigrate/internal/migrations"
	"github.com/peterldowns/modelmigrate/internal/withdb"
	"github.com/peterldowns/modelmigrate/schema"
)

func idColumn() schema.Column {
	return schema.Column{Name: "id", Type: schema.TypeInteger, NotNull: true, Autoincrement: true}
}

// createTable returns the statements that create a table with an
// autoincrementing "id" primary key and the given columns.
func createTable(name string, columns ...schema.Column) []modelmigrate.Statement {
	stmts := []modelmigrate.Statement{
		{Assign: "table", Target: "schema", Method: "CreateTable", Args: []any{name}},
	}
	for _, c := range append([]schema.Column{idColumn()}, columns...) {
		stmts = append(stmts, modelmigrate.Statement{Target: "table", Method: "AddColumn", Args: []any{c.Name, c.Type, c}})
	}
	return append(stmts, modelmigrate.Statement{Target: "table", Method: "SetPrimaryKey", Args: []any{[]string{"id"}}})
}

// references returns the statement that adds a foreign key from the working
// table's column to the id of another table.
func references(table, column, foreignTable string) modelmigrate.Statement {
	return modelmigrate.Statement{Target: "table", Method: "AddForeignKeyConstraint", Args: []any{schema.ForeignKey{
		Name:           "fk_" + table + "_" + column,
		LocalTable:     table,
		LocalColumns:   []string{column},
		ForeignTable:   foreignTable,
		ForeignColumns: []string{"id"},
		OnDelete:       schema.Cascade,
	}}}
}

func intColumn(name string) schema.Column {
	return schema.Column{Name: name, Type: schema.TypeInteger}
}

func textColumn(name string) schema.Column {
	return schema.Column{Name: name, Type: schema.TypeText}
}

func tables(t *testing.T, ctx context.Context, d modelmigrate.Dialect, db *sql.DB) *schema.Schema {
	t.Helper()
	s, err := d.Introspect(ctx, db)
	assert.Nil(t, err)
	return s
}

func TestApplyNoMigrationsSucceeds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := modelmigrate.NewTestLogger(t)
	err := withdb.WithDB(ctx, "sqlite3", func(db *sql.DB) error {
		migrations := []modelmigrate.Migration{}
		migrator := modelmigrate.NewMigrator(modelmigrate.SQLite, migrations)
		migrator.Logger = logger
		verrs, err := migrator.Migrate(ctx, db)
		check.Nil(t, err)
		check.Equal(t, nil, verrs)
		return nil
	})
	assert.Nil(t, err)
}

func TestApplyOneMigrationSucceeds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := modelmigrate.NewTestLogger(t)
	err := withdb.WithDB(ctx, "sqlite3", func(db *sql.DB) error {
		migrations := []modelmigrate.Migration{
			{ID: "0001_initial", Up: createTable("users", textColumn("name"))},
		}
		migrator := modelmigrate.NewMigrator(modelmigrate.SQLite, migrations)
		migrator.Logger = logger
		verrs, err := migrator.Migrate(ctx, db)
		assert.Nil(t, err)
		assert.Equal(t, nil, verrs)

		applied, err := migrator.Applied(ctx, db)
		assert.Nil(t, err)
		assert.Equal(t, len(applied), 1)
		check.Equal(t, migrations[0].ID, applied[0].ID)
		check.Equal(t, migrations[0].MD5(), applied[0].Checksum)

		s := tables(t, ctx, modelmigrate.SQLite, db)
		users, err := s.Table("users")
		assert.Nil(t, err)
		check.Equal(t, []string{"id"}, users.PrimaryKey)
		_, ok := users.Column("name")
		check.True(t, ok)
		return nil
	})
	assert.Nil(t, err)
}

func TestApplySameMigrationTwiceSucceeds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := modelmigrate.NewTestLogger(t)
	err := withdb.WithDB(ctx, "sqlite3", func(db *sql.DB) error {
		m := modelmigrate.Migration{ID: "0001_initial", Up: createTable("users")}
		migrations := []modelmigrate.Migration{m}
		migrator := modelmigrate.NewMigrator(modelmigrate.SQLite, migrations)
		migrator.Logger = logger
		verrs, err := migrator.Migrate(ctx, db)
		assert.Nil(t, err)
		assert.Equal(t, nil, verrs)

		applied, err := migrator.Applied(ctx, db)
		assert.Nil(t, err)
		assert.Equal(t, len(applied), 1)
		check.Equal(t, applied[0].ID, m.ID)
		check.Equal(t, applied[0].Checksum, m.MD5())

		// Running apply again with the same migrations should succeed without
		// any errors and without attempting to re-apply the migration.
		verrs, err = migrator.Migrate(ctx, db)
		assert.Nil(t, err)
		assert.Equal(t, nil, verrs)
		applied, err = migrator.Applied(ctx, db)
		assert.Nil(t, err)
		assert.Equal(t, len(applied), 1)
		check.Equal(t, applied[0].ID, m.ID)
		check.Equal(t, applied[0].Checksum, m.MD5())
		return nil
	})
	assert.Nil(t, err)
}

func TestApplyMultipleSucceedsInCorrectOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := modelmigrate.NewTestLogger(t)
	err := withdb.WithDB(ctx, "sqlite3", func(db *sql.DB) error {
		migrations := []modelmigrate.Migration{
			{ // Depends on 0003_houses
				ID: "0004_users",
				Up: append(createTable("users", intColumn("house_id")), references("users", "house_id", "houses")),
			},
			{
				ID: "0002_dogs",
				Up: createTable("dogs", schema.Column{Name: "furry", Type: schema.TypeBoolean}),
			},
			{ // Depends on 0002_dogs
				ID: "0003_cats",
				Up: append(createTable("cats", intColumn("enemy_id")), references("cats", "enemy_id", "dogs")),
			},
			{ // Depends on 0003_cats
				ID: "0003_houses",
				Up: append(createTable("houses", intColumn("cat_id")), references("houses", "cat_id", "cats")),
			},
		}
		migrator := modelmigrate.NewMigrator(modelmigrate.SQLite, migrations)
		migrator.Logger = logger
		// The computed plan should sort ascending by ID
		plan, err := migrator.Plan(ctx, db)
		assert.Nil(t, err)
		assert.Equal(t, len(plan), 4)
		assert.Equal(t, "0002_dogs", plan[0].ID)
		assert.Equal(t, "0003_cats", plan[1].ID)
		assert.Equal(t, "0003_houses", plan[2].ID)
		assert.Equal(t, "0004_users", plan[3].ID)

		// Applying should happen in the same order as the plan.
		verrs, err := migrator.Migrate(ctx, db)
		assert.Nil(t, err)
		assert.Equal(t, nil, verrs)

		applied, err := migrator.Applied(ctx, db)
		assert.Nil(t, err)
		assert.Equal(t, len(applied), 4)

		s := tables(t, ctx, modelmigrate.SQLite, db)
		users, err := s.Table("users")
		assert.Nil(t, err)
		fk, ok := users.ForeignKey("fk_users_house_id")
		assert.Equal(t, true, ok)
		check.Equal(t, "houses", fk.ForeignTable)
		return nil
	})
	assert.Nil(t, err)
}

func TestApplyFailsWithConflictingIDs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := modelmigrate.NewTestLogger(t)
	err := withdb.WithDB(ctx, "sqlite3", func(db *sql.DB) error {
		m1 := modelmigrate.Migration{ID: "0001_initial", Up: createTable("users")}
		// Because this migration re-uses the earlier migration's ID, it will fail to apply
		m2 := modelmigrate.Migration{ID: "0001_initial", Up: createTable("money", intColumn("amount"))}
		// Because m2 fails to be applied, this migration (which would succeed) is not applied
		m3 := modelmigrate.Migration{ID: "0002_something_else", Up: createTable("dogs")}
		migrations := []modelmigrate.Migration{m1, m2, m3}
		migrator := modelmigrate.NewMigrator(modelmigrate.SQLite, migrations)
		migrator.Logger = logger
		verrs, err := migrator.Migrate(ctx, db)
		check.Error(t, err)
		check.Equal(t, nil, verrs)

		applied, err := migrator.Applied(ctx, db)
		check.Nil(t, err)
		check.Equal(t, len(applied), 1)
		check.Equal(t, applied[0].ID, m1.ID)
		check.Equal(t, applied[0].Checksum, m1.MD5())

		// The failed migration was rolled back.
		s := tables(t, ctx, modelmigrate.SQLite, db)
		check.True(t, s.HasTable("users"))
		check.Equal(t, false, s.HasTable("money"))
		check.Equal(t, false, s.HasTable("dogs"))
		return nil
	})
	assert.Nil(t, err)
}

func TestApplyFailsWithInvalidStatement(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := modelmigrate.NewTestLogger(t)
	err := withdb.WithDB(ctx, "sqlite3", func(db *sql.DB) error {
		m1 := modelmigrate.Migration{
			ID: "0001_initial",
			Up: []modelmigrate.Statement{
				{Assign: "table", Target: "schema", Method: "Table", Args: []any{"does_not_exist"}},
			},
		}
		// Because the first migration failed, this will not be applied
		m2 := modelmigrate.Migration{ID: "0002_money", Up: createTable("money")}
		migrations := []modelmigrate.Migration{m1, m2}
		migrator := modelmigrate.NewMigrator(modelmigrate.SQLite, migrations)
		migrator.Logger = logger
		verrs, err := migrator.Migrate(ctx, db)
		check.Error(t, err)
		check.True(t, errors.Is(err, schema.ErrNotFound))
		check.Equal(t, nil, verrs)

		applied, err := migrator.Applied(ctx, db)
		check.Nil(t, err)
		check.Equal(t, 0, len(applied))
		return nil
	})
	assert.Nil(t, err)
}

func TestApplyStopsAtDataLossGuard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := modelmigrate.NewTestLogger(t)
	err := withdb.WithDB(ctx, "sqlite3", func(db *sql.DB) error {
		m1 := modelmigrate.Migration{ID: "0001_cats", Up: createTable("cats", textColumn("name"))}
		m2 := modelmigrate.Migration{
			ID: "0002_drop_cats",
			Up: []modelmigrate.Statement{
				{Assign: "table", Target: "schema", Method: "Table", Args: []any{"cats"}},
				{Target: "table", Method: "AddColumn", Args: []any{"age", schema.TypeInteger, intColumn("age")}},
				{Target: "migration", Method: "Abort", Args: []any{"Dropping a table will lead to data loss. Migrate your data and remove this guard."}},
				{Target: "schema", Method: "DropTable", Args: []any{"cats"}},
			},
		}
		migrator := modelmigrate.NewMigrator(modelmigrate.SQLite, []modelmigrate.Migration{m1, m2})
		migrator.Logger = logger
		_, err := migrator.Migrate(ctx, db)
		var guard *modelmigrate.DataLossGuardError
		assert.Equal(t, true, errors.As(err, &guard))
		check.Equal(t, "Dropping a table will lead to data loss. Migrate your data and remove this guard.", guard.Message)

		applied, err := migrator.Applied(ctx, db)
		assert.Nil(t, err)
		assert.Equal(t, 1, len(applied))
		check.Equal(t, m1.ID, applied[0].ID)

		// Nothing from the guarded migration was applied.
		s := tables(t, ctx, modelmigrate.SQLite, db)
		cats, err := s.Table("cats")
		assert.Nil(t, err)
		_, ok := cats.Column("age")
		check.Equal(t, false, ok)

		// Once the guard is removed, the migration applies.
		m2.Up = append(m2.Up[:2], m2.Up[3])
		migrator.Migrations = []modelmigrate.Migration{m1, m2}
		verrs, err := migrator.Migrate(ctx, db)
		assert.Nil(t, err)
		check.Equal(t, nil, verrs)
		check.Equal(t, false, tables(t, ctx, modelmigrate.SQLite, db).HasTable("cats"))
		return nil
	})
	assert.Nil(t, err)
}

func TestVerifyMD5Mismatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := modelmigrate.NewTestLogger(t)
	err := withdb.WithDB(ctx, "sqlite3", func(db *sql.DB) error {
		m1 := modelmigrate.Migration{ID: "0001_initial", Up: createTable("users")}
		migrations := []modelmigrate.Migration{m1}
		migrator := modelmigrate.NewMigrator(modelmigrate.SQLite, migrations)
		migrator.Logger = logger
		verrs, err := migrator.Migrate(ctx, db)
		check.Nil(t, err)
		check.Equal(t, nil, verrs)

		applied, err := migrator.Applied(ctx, db)
		check.Nil(t, err)
		check.Equal(t, len(applied), 1)
		check.Equal(t, applied[0].ID, m1.ID)
		check.Equal(t, applied[0].Checksum, m1.MD5())

		// With the same ID, but different statements, the MD5 will differ
		// and we should get a warning.
		m1modified := m1
		m1modified.Up = createTable("dogs")
		migrator = modelmigrate.NewMigrator(modelmigrate.SQLite, []modelmigrate.Migration{m1modified})
		migrator.Logger = logger
		verrs, err = migrator.Migrate(ctx, db)
		check.Nil(t, err)
		check.Equal(t, len(verrs), 1)
		verr := verrs[0]
		check.Equal(t, verr.Message, "found applied migration with a different checksum")
		check.Equal(t, m1modified.MD5(), verr.Fields["calculated_checksum"].(string))
		check.Equal(t, m1.MD5(), verr.Fields["migration_checksum_from_db"].(string))
		return nil
	})
	assert.Nil(t, err)
}

func TestVerifyMissingMigration(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := modelmigrate.NewTestLogger(t)
	err := withdb.WithDB(ctx, "sqlite3", func(db *sql.DB) error {
		m1 := modelmigrate.Migration{ID: "0001_initial", Up: createTable("users")}
		migrations := []modelmigrate.Migration{m1}
		migrator := modelmigrate.NewMigrator(modelmigrate.SQLite, migrations)
		migrator.Logger = logger
		verrs, err := migrator.Migrate(ctx, db)
		check.Nil(t, err)
		check.Equal(t, nil, verrs)

		migrator = modelmigrate.NewMigrator(modelmigrate.SQLite, nil)
		migrator.Logger = logger
		verrs, err = migrator.Migrate(ctx, db)
		check.Nil(t, err)
		check.Equal(t, len(verrs), 1)
		verr := verrs[0]
		check.Equal(t, verr.Message, "found applied migration not present on disk")
		check.Equal(t, m1.ID, verr.Fields["migration_id"].(string))
		check.Equal(t, m1.MD5(), verr.Fields["migration_checksum"].(string))
		return nil
	})
	assert.Nil(t, err)
}

func TestAppliedAndPlanWithoutMigrationsTable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := modelmigrate.NewTestLogger(t)
	// Starting from an empty database, Applied() and Plan() should work without
	// issues and act as if no migrations had previously been applied.
	err := withdb.WithDB(ctx, "sqlite3", func(db *sql.DB) error {
		m1 := modelmigrate.Migration{ID: "0001_initial", Up: createTable("users")}
		migrations := []modelmigrate.Migration{m1}
		migrator := modelmigrate.NewMigrator(modelmigrate.SQLite, migrations)
		migrator.Logger = logger
		applied, err := migrator.Applied(ctx, db)
		assert.Nil(t, err)
		assert.Equal(t, nil, applied)
		plan, err := migrator.Plan(ctx, db)
		assert.Nil(t, err)
		assert.Equal(t, len(plan), 1)
		assert.Equal(t, m1, plan[0])
		// Nothing was created.
		check.Equal(t, 0, len(tables(t, ctx, modelmigrate.SQLite, db).Tables))
		return nil
	})
	assert.Nil(t, err)
}

func TestPlanSQL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := modelmigrate.NewTestLogger(t)
	err := withdb.WithDB(ctx, "sqlite3", func(db *sql.DB) error {
		m1 := modelmigrate.Migration{ID: "0001_users", Up: createTable("users")}
		m2 := modelmigrate.Migration{
			ID: "0002_rename",
			Up: []modelmigrate.Statement{
				{Target: "schema", Method: "RenameTable", Args: []any{"users", "people"}},
			},
		}
		migrator := modelmigrate.NewMigrator(modelmigrate.SQLite, []modelmigrate.Migration{m1, m2})
		migrator.Logger = logger
		// The second migration is planned against the result of the first.
		planned, err := migrator.PlanSQL(ctx, db)
		assert.Nil(t, err)
		assert.Equal(t, 2, len(planned))
		check.Equal(t, []string{"CREATE TABLE \"users\" (\n\t\"id\" INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL\n)"}, planned[0].SQL)
		check.Equal(t, []string{"ALTER TABLE \"users\" RENAME TO \"people\""}, planned[1].SQL)
		// Nothing was written.
		check.Equal(t, 0, len(tables(t, ctx, modelmigrate.SQLite, db).Tables))
		return nil
	})
	assert.Nil(t, err)
}

func TestStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := modelmigrate.NewTestLogger(t)
	err := withdb.WithDB(ctx, "sqlite3", func(db *sql.DB) error {
		m1 := modelmigrate.Migration{ID: "0001_users", Up: createTable("users")}
		m2 := modelmigrate.Migration{ID: "0002_dogs", Up: createTable("dogs")}
		m3 := modelmigrate.Migration{ID: "0003_cats", Up: createTable("cats")}
		migrator := modelmigrate.NewMigrator(modelmigrate.SQLite, []modelmigrate.Migration{m1, m2})
		migrator.Logger = logger
		_, err := migrator.Migrate(ctx, db)
		assert.Nil(t, err)

		// m1 was edited, m2 deleted, and m3 added since.
		m1.Up = createTable("users", textColumn("name"))
		migrator.Migrations = []modelmigrate.Migration{m1, m3}
		statuses, err := migrator.Status(ctx, db)
		assert.Nil(t, err)
		assert.Equal(t, 3, len(statuses))
		check.Equal(t, "0001_users", statuses[0].ID)
		check.Equal(t, modelmigrate.StateModified, statuses[0].State)
		check.Equal(t, m1.MD5(), statuses[0].Checksum)
		check.Equal(t, "0002_dogs", statuses[1].ID)
		check.Equal(t, modelmigrate.StateMissing, statuses[1].State)
		check.Equal(t, "0003_cats", statuses[2].ID)
		check.Equal(t, modelmigrate.StatePending, statuses[2].State)
		check.True(t, statuses[2].Applied == nil)
		return nil
	})
	assert.Nil(t, err)
}

func TestMigrateExampleMigrations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := modelmigrate.NewTestLogger(t)
	migrations, err := modelmigrate.Load(migrations.FS)
	assert.Nil(t, err)
	for _, tc := range []struct {
		driver  string
		dialect modelmigrate.Dialect
	}{
		{"sqlite3", modelmigrate.SQLite},
		{"pgx", modelmigrate.Postgres},
	} {
		t.Run(tc.dialect.Name(), func(t *testing.T) {
			t.Parallel()
			err := withdb.WithDB(ctx, tc.driver, func(db *sql.DB) error {
				migrator := modelmigrate.NewMigrator(tc.dialect, migrations)
				migrator.Logger = logger
				verrs, err := migrator.Migrate(ctx, db)
				assert.Nil(t, err)
				check.Equal(t, nil, verrs)

				s := tables(t, ctx, tc.dialect, db)
				check.True(t, s.HasTable("cat"))
				check.Equal(t, false, s.HasTable("dog"))
				hound, err := s.Table("hound")
				assert.Nil(t, err)
				_, ok := hound.Column("name")
				check.True(t, ok)
				_, ok = hound.ForeignKey("fk_dog_enemy_id")
				check.True(t, ok)
				return nil
			})
			assert.Nil(t, err)
		})
	}
}

// The migrations table can be renamed; the default table is then never
// created.
func TestCustomTableName(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := modelmigrate.NewTestLogger(t)
	err := withdb.WithDB(ctx, "sqlite3", func(db *sql.DB) error {
		migrator := modelmigrate.NewMigrator(modelmigrate.SQLite, []modelmigrate.Migration{
			{ID: "0001_users", Up: createTable("users")},
		})
		assert.Equal(t, "modelmigrate_migrations", migrator.TableName)
		migrator.TableName = "schema_history"
		migrator.Logger = logger
		_, err := migrator.Migrate(ctx, db)
		assert.Nil(t, err)

		s := tables(t, ctx, modelmigrate.SQLite, db)
		check.True(t, s.HasTable("schema_history"))
		check.Equal(t, false, s.HasTable("modelmigrate_migrations"))

		// Another migrator with the default table sees nothing applied.
		other := modelmigrate.NewMigrator(modelmigrate.SQLite, nil)
		applied, err := other.Applied(ctx, db)
		assert.Nil(t, err)
		check.Equal(t, 0, len(applied))
		return nil
	})
	assert.Nil(t, err)
}
