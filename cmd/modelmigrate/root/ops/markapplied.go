package ops

import (
	"github.com/spf13/cobra"

	"github.com/peterldowns/modelmigrate"
	"github.com/peterldowns/modelmigrate/cmd/modelmigrate/shared"
)

var MarkAppliedFlags struct {
	IDs *[]string
	All *bool
}

var markApplied = &cobra.Command{
	Use:     "mark-applied",
	Aliases: []string{"create"},
	Short:   "mark migrations as having been applied without actually running them",
	Example: shared.CLIExample(`
# Mark 0123_example.migration as applied without running the migration
modelmigrate ops mark-applied 0123_example
modelmigrate ops mark-applied --id 0123_example

# Mark 0123_example.migration and 0456_another.migration as applied without running them
modelmigrate ops mark-applied 0123_example 0456_another
modelmigrate ops mark-applied --id 0123_example --id 0456_another

# Mark all migrations as having been applied, for instance to adopt a database
# whose schema already matches the migrations
modelmigrate ops mark-applied --all
	`),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		// Argument parsing
		if err := idsOrAll(MarkAppliedFlags.IDs, *MarkAppliedFlags.All, args); err != nil {
			return err
		}
		shared.State.Parse()
		db, m, err := shared.Migrator()
		if err != nil {
			return err
		}
		defer db.Close()
		slogger, _ := shared.State.Logger()

		// Execution
		var applied []modelmigrate.AppliedMigration
		if *MarkAppliedFlags.All {
			slogger.Info("marking ALL as applied")
			applied, err = m.MarkAllApplied(ctx, db)
		} else {
			applied, err = m.MarkApplied(ctx, db, *MarkAppliedFlags.IDs...)
		}
		if err != nil {
			return err
		}
		slogger.Info("marked migrations as applied", "count", len(applied))
		for _, m := range applied {
			slogger.Info("marked as applied",
				"id", m.ID,
				"checksum", m.Checksum,
				"applied_at", m.AppliedAt,
			)
		}
		return nil
	},
}

func init() {
	MarkAppliedFlags.IDs = markApplied.Flags().StringArrayP("id", "i", nil, "migration ids of records to mark as applied")
	MarkAppliedFlags.All = markApplied.Flags().BoolP("all", "a", false, "if true, mark all migrations as applied")
	markApplied.MarkFlagsMutuallyExclusive("id", "all")
}
