package modelmigrate

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/peterldowns/modelmigrate/schema"
)

func TestLoggingSucceedsWithNilLogger(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	migrator := NewMigrator(SQLite, nil)

	migrator.log(ctx, LogLevelInfo, "hello", LogField{Key: "location", Value: "world"})
	migrator.log(ctx, LogLevelDebug, "hello", LogField{Key: "location", Value: "world"})
	migrator.log(ctx, LogLevelError, "hello", LogField{Key: "location", Value: "world"})

	migrator.debug(ctx, "hello", LogField{Key: "location", Value: "world"})
	migrator.info(ctx, "hello", LogField{Key: "location", Value: "world"})
	migrator.error(ctx, fmt.Errorf("new error"), "hello", LogField{Key: "location", Value: "world"})
}

func TestMigrationSQLReplaysOntoCopy(t *testing.T) {
	t.Parallel()
	migrator := NewMigrator(SQLite, nil)
	current := schema.New("main")
	migration, err := ParseMigration("0001_ns", UpMarker+"\ntable = schema.CreateTable('cat')\ntable.AddColumn('name', 'text', decode('{\"kind\":\"column\",\"value\":{\"name\":\"name\",\"type\":\"text\",\"notnull\":false,\"default\":null}}'))\n")
	assert.Nil(t, err)

	target, sqls, err := migrator.migrationSQL(current, migration)
	assert.Nil(t, err)
	check.Equal(t, 0, len(current.Tables))
	check.Equal(t, 1, len(target.Tables))
	check.Equal(t, []string{"CREATE TABLE \"cat\" (\n\t\"name\" TEXT\n)"}, sqls)

	// Replaying a migration that does nothing produces no SQL.
	_, sqls, err = migrator.migrationSQL(target, Migration{ID: "0002_empty"})
	assert.Nil(t, err)
	check.Equal(t, 0, len(sqls))
}

func TestMigrationSQLStopsAtGuard(t *testing.T) {
	t.Parallel()
	migrator := NewMigrator(SQLite, nil)
	current := schema.New("main")
	_, err := current.CreateTable("cat")
	assert.Nil(t, err)
	migration, err := ParseMigration("0002_drop", UpMarker+"\nmigration.Abort('Dropping a table will lead to data loss.')\nschema.DropTable('cat')\n")
	assert.Nil(t, err)

	_, _, err = migrator.migrationSQL(current, migration)
	var guard *DataLossGuardError
	check.True(t, errors.As(err, &guard))
	check.True(t, current.HasTable("cat"))
}
