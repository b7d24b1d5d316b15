package root

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/peterldowns/modelmigrate"
	"github.com/peterldowns/modelmigrate/cmd/modelmigrate/shared"
)

var NewFlags struct {
	Name *string
	Bare *bool
}

var newCmd = &cobra.Command{ //nolint:gochecknoglobals
	Use:   "new",
	Short: "generate the next migration from the difference between the models and the database",
	Long: shared.CLIHelp(`
Reads the current schema of the database, compares it with the schema that the
model declarations describe, and writes the statements that turn one into the
other as a new migration file.

The file is named "<sequence>_<name>.migration", where the sequence is one more
than the highest sequence number already in the migrations directory. An
existing file is never overwritten.

Destructive changes (dropping or renaming tables and columns, changing
columns or primary keys) are preceded by a "migration.Abort(...)" guard.
Applying the migration stops at the guard until you have reviewed the change,
migrated any data, and removed the guard.

If the database already matches the models, nothing is written.

By default only the tables of the declared models are managed. Set
"prune_unmanaged: true" in the configuration file to also drop every other
table (the migrations table is always kept).
	`),
	Example: shared.CLIExample(`
# Generate "0001_initial.migration" from ./models.yaml
modelmigrate new --models ./models.yaml
# Use a specific name => "0002_add_users.migration"
modelmigrate new add_users
modelmigrate new --name add_users
# Only print the file path, suitable for passing to other programs
modelmigrate new add_users --bare | xargs vim
	`),
	GroupID:          "dev",
	TraverseChildren: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 && *NewFlags.Name == "" {
			*NewFlags.Name = args[0]
		} else if len(args) > 1 {
			return fmt.Errorf("unexpected arguments: ['%s']", strings.Join(args, "', '"))
		}
		shared.State.Parse()
		migrationsDir := shared.State.Migrations()
		if err := shared.Validate(migrationsDir); err != nil {
			return err
		}
		backend, entities, err := shared.Backend()
		if err != nil {
			return err
		}
		defer backend.DB.Close()

		slogger, _ := shared.State.Logger()
		name := *NewFlags.Name
		if name == "" {
			name = "generated"
		}
		path, migration, err := backend.Generate(cmd.Context(), migrationsDir.Value(), name, entities...)
		if errors.Is(err, modelmigrate.ErrNoChanges) {
			slogger.Info("no changes, the database matches the models")
			return nil
		}
		if err != nil {
			return err
		}
		if *NewFlags.Bare {
			fmt.Println(path)
		} else {
			slogger.Info("created", "id", migration.ID, "path", path, "statements", len(migration.Up))
		}
		return nil
	},
}

func init() {
	NewFlags.Bare = newCmd.Flags().BoolP("bare", "b", false, "if true, only print the created migration file path")
	NewFlags.Name = newCmd.Flags().StringP("name", "n", "", "the name of the new migration (default 'generated')")
}
