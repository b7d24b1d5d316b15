package root

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/peterldowns/modelmigrate"
	"github.com/peterldowns/modelmigrate/cmd/modelmigrate/shared"
)

var diffCmd = &cobra.Command{ //nolint:gochecknoglobals
	Use:   "diff",
	Short: "Print the migration that 'new' would generate, without writing it",
	Long: shared.CLIHelp(`
Compares the current schema of the database with the schema that the model
declarations describe and prints the resulting migration. Nothing is written to
disk or to the database.

Exits with status code 0 and prints nothing if the database matches the
models.
	`),
	GroupID:          "dev",
	TraverseChildren: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		shared.State.Parse()
		backend, entities, err := shared.Backend()
		if err != nil {
			return err
		}
		defer backend.DB.Close()

		migration, err := backend.CreateMigration(cmd.Context(), "diff", entities...)
		if errors.Is(err, modelmigrate.ErrNoChanges) {
			return nil
		}
		if err != nil {
			return err
		}
		text, err := migration.Format()
		if err != nil {
			return err
		}
		fmt.Print(text)
		return nil
	},
}
