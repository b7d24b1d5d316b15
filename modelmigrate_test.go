package modelmigrate_test

import (
	"embed"
	"testing"
	"testing/fstest"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/peterldowns/modelmigrate/internal/migrations"

	"github.com/peterldowns/modelmigrate"
)

//go:embed internal/migrations/*.migration
var repoRoot embed.FS

// This test confirms that Load() will find migrations in any
// subdirectory of the given filesystem.
//
// repoRoot is an embedFS with the following contents:
// ./internal/migrations
// ├── 0001_cats.migration
// ├── 0003_dogs.migration
// ├── 0003_empty.bkp.migration
// ├── 0004_rename_dog.migration
// └── migrations.go
//
// migrations.FS is an embedFS with the following contents:
// .
// ├── 0001_cats.migration
// ├── 0003_dogs.migration
// ├── 0003_empty.bkp.migration
// ├── 0004_rename_dog.migration
// └── migrations.go
//
// Both should return the same set of migrations, in the same order.
func TestLoadFromFSWalksSubdirs(t *testing.T) {
	t.Parallel()
	fromRoot, err := modelmigrate.Load(repoRoot)
	check.Nil(t, err)
	fromDir, err := modelmigrate.Load(migrations.FS)
	check.Nil(t, err)
	assert.NoFailures(t)

	expected := []string{
		"0001_cats",
		"0003_dogs",
		"0003_empty.bkp",
		"0004_rename_dog",
	}
	check.Equal(t, expected, getIDs(fromDir))
	check.Equal(t, expected, getIDs(fromRoot))
}

func getIDs(migs []modelmigrate.Migration) []string {
	ids := make([]string, 0, len(migs))
	for _, m := range migs {
		ids = append(ids, m.ID)
	}
	return ids
}

func TestLoadSkipsOtherFiles(t *testing.T) {
	t.Parallel()
	fsys := fstest.MapFS{
		"0001_users.migration": {Data: []byte(modelmigrate.UpMarker + "\n")},
		"README.md":            {Data: []byte("not a migration")},
		"0002_notes.sql":       {Data: []byte("SELECT 1;")},
	}
	migs, err := modelmigrate.Load(fsys)
	assert.Nil(t, err)
	check.Equal(t, []string{"0001_users"}, getIDs(migs))
}

func TestLoadReportsParseErrors(t *testing.T) {
	t.Parallel()
	fsys := fstest.MapFS{
		"0001_users.migration": {Data: []byte("schema.CreateTable('users')\n")},
	}
	_, err := modelmigrate.Load(fsys)
	check.Error(t, err)
}
