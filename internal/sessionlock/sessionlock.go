// sessionlock package provides application level distributed locks that are
// held by a single database session: advisory locks in PostgreSQL and named
// locks in MySQL.
//
// - https://www.postgresql.org/docs/current/explicit-locking.html#ADVISORY-LOCKS
// - https://dev.mysql.com/doc/refman/8.0/en/locking-functions.html
package sessionlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/peterldowns/modelmigrate/internal/multierr"
)

// IDPrefix is prepended to any given lock name when computing the integer lock
// ID, to help prevent collisions with other clients that may be acquiring their
// own locks.
const IDPrefix string = "sessionlock-"

// SpinWait is the amount of time that sessionlock will sleep between attempts
// to acquire an in-use session lock.
const SpinWait time.Duration = 100 * time.Millisecond

// ID consistently hashes a string to unique integer that can be used with
// pg_advisory_lock() and pg_advisory_unlock().
func ID(name string) uint32 {
	return crc32.ChecksumIEEE([]byte(IDPrefix + name))
}

// Queries are the statements used to take and release a lock. TryLock must
// not block, and must return a single row with a single boolean-ish column
// (or no rows at all) saying whether the lock was acquired.
type Queries struct {
	TryLock string
	Unlock  string
}

// Postgres returns the advisory lock queries for the named lock.
func Postgres(lockName string) Queries {
	id := ID(lockName)
	return Queries{
		TryLock: fmt.Sprintf("SELECT pg_try_advisory_lock(%d)", id),
		Unlock:  fmt.Sprintf("SELECT pg_advisory_unlock(%d)", id),
	}
}

// MySQL returns the named lock queries for the named lock. Lock names are
// hashed because MySQL limits them to 64 characters.
func MySQL(lockName string) Queries {
	name := fmt.Sprintf("%s%d", IDPrefix, ID(lockName))
	return Queries{
		TryLock: fmt.Sprintf("SELECT GET_LOCK('%s', 0)", name),
		Unlock:  fmt.Sprintf("SELECT RELEASE_LOCK('%s')", name),
	}
}

// With acquires a postgres advisory lock. See [WithQueries].
func With(ctx context.Context, db *sql.DB, lockName string, cb func(*sql.Conn) error) error {
	return WithQueries(ctx, db, lockName, Postgres(lockName), cb)
}

// WithQueries will open a connection to the `db`, use that connection to
// acquire the lock, then call your `cb`, then release the lock.
//
// It will spin indefinitely using the non-blocking TryLock query, giving up
// only if the lock is acquired or if the provided `ctx` expires.
func WithQueries(ctx context.Context, db *sql.DB, lockName string, queries Queries, cb func(*sql.Conn) error) (final error) {
	// Uses a *sql.Conn here to guarantee that lock() and unlock() happen in the
	// same session.
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("sessionlock(%s) failed to open conn: %w", lockName, err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			final = multierr.Join(final, fmt.Errorf("sessionlock(%s) failed to close conn: %w", lockName, err))
		}
	}()

	// Spin instead of blocking so that waiting never trips the lock or
	// statement timeouts that callers use to bound their migrations.
	for {
		locked, err := tryLock(ctx, conn, queries.TryLock)
		if err != nil {
			return fmt.Errorf("sessionlock(%s) failed to lock: %w", lockName, err)
		}
		if locked {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(SpinWait):
		}
	}

	defer func() {
		if _, err := conn.ExecContext(ctx, queries.Unlock); err != nil {
			final = multierr.Join(final, fmt.Errorf("sessionlock(%s) failed to unlock: %w", lockName, err))
		}
	}()
	return cb(conn)
}

func tryLock(ctx context.Context, conn *sql.Conn, query string) (bool, error) {
	var locked sql.NullBool
	err := conn.QueryRowContext(ctx, query).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return locked.Valid && locked.Bool, nil
}
