package main

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/charmbracelet/log"
	_ "github.com/mattn/go-sqlite3" // sqlite driver
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/peterldowns/modelmigrate"
	"github.com/peterldowns/modelmigrate/internal/withdb"
)

// The embedded migrations apply cleanly and leave a schema the application
// can write to.
func TestApplicationWritesNotes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := log.NewWithOptions(os.Stderr, log.Options{Formatter: log.TextFormatter})
	err := withdb.WithDB(ctx, "sqlite3", func(db *sql.DB) error {
		assert.Nil(t, applyMigrations(ctx, db, modelmigrate.SQLite, logger))
		// Applying twice is a no-op.
		assert.Nil(t, applyMigrations(ctx, db, modelmigrate.SQLite, logger))

		backend := newBackend(db, modelmigrate.SQLite, logger)
		count, err := writeNote(ctx, backend, "first")
		assert.Nil(t, err)
		check.Equal(t, 1, count)
		count, err = writeNote(ctx, backend, "second")
		assert.Nil(t, err)
		check.Equal(t, 2, count)

		note, err := modelmigrate.Load[Note](ctx, backend, int64(1))
		assert.Nil(t, err)
		check.Equal(t, "first", note.Title)
		check.Equal(t, false, note.Created.IsZero())
		return nil
	})
	assert.Nil(t, err)
}
