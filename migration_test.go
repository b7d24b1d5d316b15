package modelmigrate

import (
	"strings"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestIDFromFilename(t *testing.T) {
	t.Parallel()
	check.Equal(t, "0001_initial", IDFromFilename("0001_initial.migration"))
	check.Equal(t, "0001_initial.up", IDFromFilename("0001_initial.up.migration"))
	check.Equal(t, "0001_initial", IDFromFilename("migrations/0001_initial.migration"))
	check.Equal(t, "0001_initial", IDFromFilename("0001_initial"))
}

func TestSortByID(t *testing.T) {
	t.Parallel()

	t.Run("simple example", testcase( //nolint:paralleltest // it is parallel
		[]string{
			"0002_followup",
			"0001_initial",
		},
		[]string{
			"0001_initial",
			"0002_followup",
		},
	))
	t.Run("lexicographical ordering", testcase( //nolint:paralleltest // it is parallel
		[]string{
			"1_one",
			"0001_one",
			"01_one",
			"001_one",
		},
		[]string{
			"0001_one",
			"001_one",
			"01_one",
			"1_one",
		},
	))
	t.Run("more complicated", testcase( //nolint:paralleltest // it is parallel
		[]string{
			"0001_initial",
			"002_garbage",
			"03_something",
			"0002_followup",
			"0003_whatever",
		},
		[]string{
			"0001_initial",
			"0002_followup",
			"0003_whatever",
			"002_garbage",
			"03_something",
		},
	))
}

// testcase builds a test case for SortByID:
//   - initial contains the ids of some migrations in their original order.
//   - expected contains the ids of the same migrations in their expected sorted order.
//
// the testcase will construct the slice of Migration, sort it, and then check
// to make sure the result is in the expected ID order.
func testcase(initial, expected []string) func(*testing.T) {
	return func(t *testing.T) {
		t.Parallel()
		migrations := make([]Migration, 0, len(initial))
		for _, id := range initial {
			migrations = append(migrations, Migration{ID: id})
		}
		SortByID(migrations)
		check.Equal(t, expected, getIDs(migrations))
	}
}

func getIDs(migrations []Migration) []string {
	ids := make([]string, 0, len(migrations))
	for _, m := range migrations {
		ids = append(ids, m.ID)
	}
	return ids
}

func TestParseMigration(t *testing.T) {
	t.Parallel()
	text := strings.Join([]string{
		"-- generated for the users table",
		"",
		UpMarker,
		"table = schema.CreateTable('users')",
		"table.AddColumn('id', 'integer', decode('{\"kind\":\"column\",\"value\":{\"name\":\"id\",\"type\":\"integer\",\"notnull\":true,\"default\":null}}'))",
		"table.SetPrimaryKey(decode('{\"kind\":\"strings\",\"value\":[\"id\"]}'))",
		"",
		DownMarker,
		"schema.DropTable('users')",
		"",
	}, "\n")
	migration, err := ParseMigration("0001_users", text)
	assert.Nil(t, err)
	check.Equal(t, "0001_users", migration.ID)
	assert.Equal(t, 3, len(migration.Up))
	check.Equal(t, Statement{Assign: "table", Target: "schema", Method: "CreateTable", Args: []any{"users"}}, migration.Up[0])
	check.Equal(t, "SetPrimaryKey", migration.Up[2].Method)
	check.Equal(t, []any{[]string{"id"}}, migration.Up[2].Args)
	assert.Equal(t, 1, len(migration.Down))
	check.Equal(t, "DropTable", migration.Down[0].Method)

	// Formatting and parsing again is lossless.
	formatted, err := migration.Format()
	assert.Nil(t, err)
	reparsed, err := ParseMigration("0001_users", formatted)
	assert.Nil(t, err)
	check.Equal(t, migration, reparsed)
	check.Equal(t, migration.MD5(), reparsed.MD5())
}

func TestParseMigrationWithoutDownSection(t *testing.T) {
	t.Parallel()
	migration, err := ParseMigration("0001_ns", UpMarker+"\nschema.CreateNamespace('billing')\n")
	assert.Nil(t, err)
	check.Equal(t, 1, len(migration.Up))
	check.Equal(t, 0, len(migration.Down))
}

func TestParseMigrationErrors(t *testing.T) {
	t.Parallel()
	for name, text := range map[string]string{
		"missing up marker":       "schema.CreateNamespace('billing')\n",
		"statement before marker": "schema.CreateNamespace('billing')\n" + UpMarker + "\n",
		"down before up":          DownMarker + "\n" + UpMarker + "\n",
		"duplicate up marker":     UpMarker + "\n" + UpMarker + "\n",
		"malformed statement":     UpMarker + "\nschema.CreateNamespace('billing'\n",
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseMigration("0001_broken", text)
			check.Error(t, err)
		})
	}
}

func TestParseMigrationReportsFileLine(t *testing.T) {
	t.Parallel()
	text := "-- header\n" + UpMarker + "\nschema.CreateNamespace('a')\nschema.CreateNamespace(\n"
	_, err := ParseMigration("0001_broken", text)
	check.Error(t, err)
	assert.NoFailures(t)
	check.True(t, strings.Contains(err.Error(), "line 4"))
}

func TestMD5IgnoresFormatting(t *testing.T) {
	t.Parallel()
	compact, err := ParseMigration("0001", UpMarker+"\nschema.CreateNamespace('a'); schema.CreateNamespace('b')\n")
	assert.Nil(t, err)
	spaced, err := ParseMigration("0001", "\n"+UpMarker+"\n\nschema.CreateNamespace( 'a' )\n-- comment\nschema.CreateNamespace('b')\n\n"+DownMarker+"\n")
	assert.Nil(t, err)
	check.Equal(t, compact.MD5(), spaced.MD5())

	different, err := ParseMigration("0001", UpMarker+"\nschema.CreateNamespace('c')\n")
	assert.Nil(t, err)
	check.NotEqual(t, compact.MD5(), different.MD5())
}
