package root

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/peterldowns/modelmigrate/cmd/modelmigrate/shared"
)

var verifyCmd = &cobra.Command{ //nolint:gochecknoglobals
	Use:   "verify",
	Short: "Verify that migrations have been applied correctly",
	Long: shared.CLIHelp(`
Warns about any migrations that:
- are marked as applied in the database table but do not exist in the migrations
directory
- have a different checksum in the database than the current file hash

If there are any warnings, exits with status code 1.
Otherwise, succeeds without printing anything and exits with status code 0.
	`),
	GroupID:          "migrating",
	TraverseChildren: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		shared.State.Parse()
		db, migrator, err := shared.Migrator()
		if err != nil {
			return err
		}
		defer db.Close()

		slogger, _ := shared.State.Logger()
		verrs, err := migrator.Verify(cmd.Context(), db)
		if err != nil {
			return err
		}
		for _, verr := range verrs {
			var attrs []any
			for key, val := range verr.Fields {
				attrs = append(attrs, key, val)
			}
			slogger.With(attrs...).Warn(verr.Message)
		}
		if len(verrs) != 0 {
			os.Exit(1)
		}
		return nil
	},
}
