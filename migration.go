package modelmigrate

import (
	"crypto/md5"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/peterldowns/modelmigrate/internal/script"
)

// Statement is a single replayable schema statement, such as
//
//	table = schema.CreateTable('user_account')
//	table.AddColumn('id', 'integer', decode('...'))
type Statement = script.Statement

// Markers separating the sections of a migration file.
const (
	UpMarker   = "-- modelmigrate:up"
	DownMarker = "-- modelmigrate:down"
)

// Extension is the file extension of migration files.
const Extension = ".migration"

// Migration represents a single migration: the statements that move the
// schema forward, and the statements that move it back.
type Migration struct {
	ID   string      // the filename of the migration, without the .migration extension
	Up   []Statement // applied by the Migrator
	Down []Statement // recorded for operators, never applied automatically
}

// Format renders the migration in its file format:
//
//	-- modelmigrate:up
//	<statement>
//	...
//	-- modelmigrate:down
//	<statement>
//	...
func (m Migration) Format() (string, error) {
	up, err := script.Format(m.Up)
	if err != nil {
		return "", fmt.Errorf("%s up: %w", m.ID, err)
	}
	down, err := script.Format(m.Down)
	if err != nil {
		return "", fmt.Errorf("%s down: %w", m.ID, err)
	}
	var b strings.Builder
	b.WriteString(UpMarker)
	b.WriteByte('\n')
	b.WriteString(up)
	b.WriteString(DownMarker)
	b.WriteByte('\n')
	b.WriteString(down)
	return b.String(), nil
}

// String is the file format of the migration. Migrations containing values
// with no literal form render as an error message instead.
func (m Migration) String() string {
	text, err := m.Format()
	if err != nil {
		return fmt.Sprintf("-- invalid migration: %s\n", err)
	}
	return text
}

// MD5 computes the MD5 hash of the rendered migration so that it can be
// uniquely identified. After a Migration is applied, the [AppliedMigration]
// will store this hash in the `Checksum` field.
//
// The hash is calculated over the canonical rendering rather than the file
// bytes, so reformatting a migration file does not change its checksum.
func (m *Migration) MD5() string {
	return fmt.Sprintf("%x", md5.Sum([]byte(m.String())))
}

// ParseMigration parses the contents of a migration file. Only blank lines
// and comments may appear before the up marker; the down section is
// optional.
func ParseMigration(id string, text string) (Migration, error) {
	migration := Migration{ID: id}
	var (
		section        *[]Statement
		sectionStart   int
		sawUp, sawDown bool
		body           strings.Builder
	)
	flush := func() error {
		if section == nil {
			return nil
		}
		stmts, err := script.Parse(body.String())
		if err != nil {
			var perr *script.ParseError
			if errors.As(err, &perr) {
				return fmt.Errorf("%s: line %d: %s", id, sectionStart+perr.Line, perr.Msg)
			}
			return fmt.Errorf("%s: %w", id, err)
		}
		*section = stmts
		body.Reset()
		return nil
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		switch strings.TrimSpace(line) {
		case UpMarker:
			if sawUp || sawDown {
				return Migration{}, fmt.Errorf("%s: line %d: unexpected %q", id, i+1, UpMarker)
			}
			sawUp = true
			section, sectionStart = &migration.Up, i+1
			continue
		case DownMarker:
			if !sawUp || sawDown {
				return Migration{}, fmt.Errorf("%s: line %d: unexpected %q", id, i+1, DownMarker)
			}
			if err := flush(); err != nil {
				return Migration{}, err
			}
			sawDown = true
			section, sectionStart = &migration.Down, i+1
			continue
		}
		if section == nil {
			trimmed := strings.TrimSpace(line)
			if trimmed != "" && !strings.HasPrefix(trimmed, "--") {
				return Migration{}, fmt.Errorf("%s: line %d: expected %q", id, i+1, UpMarker)
			}
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	if !sawUp {
		return Migration{}, fmt.Errorf("%s: missing %q", id, UpMarker)
	}
	if err := flush(); err != nil {
		return Migration{}, err
	}
	return migration, nil
}

// AppliedMigration represents a successfully-executed [Migration]. It embeds
// the [Migration], and adds fields for execution results.
type AppliedMigration struct {
	Migration
	Checksum              string    // The MD5 hash of the migration when it was applied
	ExecutionTimeInMillis int64     // How long it took to run this migration
	AppliedAt             time.Time // When the migration was run
}

// IDFromFilename removes directory paths and extensions from the filename to
// return just the filename (no extension).
//
// Examples:
//
//	"0001_initial" == IDFromFilename("0001_initial.migration")
//	"0002_whatever.up" == IDFromFilename("0002_whatever.up.migration")
func IDFromFilename(filename string) string {
	return strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
}

// SortByID sorts a slice of [Migration] in ascending lexicographical order by
// their ID. This means that they should show up in the same order that they
// appear when you use `ls` or `sort`.
func SortByID(migrations []Migration) {
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].ID < migrations[j].ID
	})
}
