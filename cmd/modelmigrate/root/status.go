package root

import (
	"github.com/spf13/cobra"

	"github.com/peterldowns/modelmigrate"
	"github.com/peterldowns/modelmigrate/cmd/modelmigrate/shared"
)

var statusCmd = &cobra.Command{ //nolint:gochecknoglobals
	Use:     "status",
	Aliases: []string{"versions"},
	Short:   "Show every known migration and whether it has been applied",
	Long: shared.CLIHelp(`
Prints one line per migration, from the migrations directory and the migrations
table combined, ordered by ID. Each migration is in one of these states:

  - pending: on disk, not applied yet
  - applied: applied, and unchanged since
  - modified: applied, but the file has changed since
  - missing: applied, but no longer on disk
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
		statuses, err := migrator.Status(cmd.Context(), db)
		if err != nil {
			return err
		}
		for _, s := range statuses {
			attrs := []any{"state", s.State, "checksum", s.Checksum}
			if s.Applied != nil {
				attrs = append(attrs, "applied_at", s.Applied.AppliedAt)
			}
			logger := slogger.With(attrs...)
			switch s.State {
			case modelmigrate.StateModified, modelmigrate.StateMissing:
				logger.Warn(s.ID)
			default:
				logger.Info(s.ID)
			}
		}
		return nil
	},
}
