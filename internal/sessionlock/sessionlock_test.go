package sessionlock

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for postgres
	_ "github.com/mattn/go-sqlite3"    // sqlite driver
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/peterldowns/modelmigrate/internal/withdb"
)

// tableLock implements a lock as a row in a sqlite table, which is enough to
// exercise the spin loop without a database server.
func tableLock(t *testing.T, name string) (*sql.DB, Queries) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lock.db")
	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000")
	assert.Nil(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec("CREATE TABLE locks (name TEXT PRIMARY KEY)")
	assert.Nil(t, err)
	return db, Queries{
		TryLock: fmt.Sprintf("INSERT INTO locks (name) VALUES ('%s') ON CONFLICT DO NOTHING RETURNING true", name),
		Unlock:  fmt.Sprintf("DELETE FROM locks WHERE name = '%s'", name),
	}
}

func TestQueries(t *testing.T) {
	t.Parallel()
	id := ID("modelmigrate-migrations")
	check.Equal(t, Queries{
		TryLock: fmt.Sprintf("SELECT pg_try_advisory_lock(%d)", id),
		Unlock:  fmt.Sprintf("SELECT pg_advisory_unlock(%d)", id),
	}, Postgres("modelmigrate-migrations"))
	check.Equal(t, Queries{
		TryLock: fmt.Sprintf("SELECT GET_LOCK('sessionlock-%d', 0)", id),
		Unlock:  fmt.Sprintf("SELECT RELEASE_LOCK('sessionlock-%d')", id),
	}, MySQL("modelmigrate-migrations"))
}

func TestWithQueriesIsMutuallyExclusive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db, queries := tableLock(t, "exclusive")
	var counter int32
	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := WithQueries(ctx, db, "exclusive", queries, func(_ *sql.Conn) error {
				check.Equal(t, int32(1), atomic.AddInt32(&counter, 1))
				time.Sleep(10 * time.Millisecond)
				check.Equal(t, int32(0), atomic.AddInt32(&counter, -1))
				return nil
			})
			check.Nil(t, err)
		}()
	}
	wg.Wait()
}

func TestWithQueriesGivesUpWhenContextExpires(t *testing.T) {
	t.Parallel()
	db, queries := tableLock(t, "held")
	_, err := db.Exec("INSERT INTO locks (name) VALUES ('held')")
	assert.Nil(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*SpinWait)
	defer cancel()
	called := false
	err = WithQueries(ctx, db, "held", queries, func(_ *sql.Conn) error {
		called = true
		return nil
	})
	check.Error(t, err)
	check.Equal(t, false, called)
}

func TestWithQueriesReturnsUnlockErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db, queries := tableLock(t, "example")
	err := WithQueries(ctx, db, "example", queries, func(conn *sql.Conn) error {
		return conn.Close()
	})
	assert.NotEqual(t, nil, err)
	check.Equal(t, []string{
		"sessionlock(example) failed to unlock: sql: connection is already closed",
		"sessionlock(example) failed to close conn: sql: connection is already closed",
	}, strings.Split(err.Error(), "\n"))
}

func TestWithPostgresAdvisoryLock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	check.Nil(t, withdb.WithDB(ctx, "pgx", func(db *sql.DB) error {
		var counter int32
		var wg sync.WaitGroup
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := With(ctx, db, "test-with-session-lock", func(_ *sql.Conn) error {
					check.Equal(t, int32(1), atomic.AddInt32(&counter, 1))
					time.Sleep(10 * time.Millisecond)
					check.Equal(t, int32(0), atomic.AddInt32(&counter, -1))
					return nil
				})
				check.Nil(t, err)
			}()
		}
		wg.Wait()
		return nil
	}))
}
