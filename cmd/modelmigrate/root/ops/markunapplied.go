package ops

import (
	"github.com/spf13/cobra"

	"github.com/peterldowns/modelmigrate"
	"github.com/peterldowns/modelmigrate/cmd/modelmigrate/shared"
)

var MarkUnappliedFlags struct {
	IDs *[]string
	All *bool
}

var markUnapplied = &cobra.Command{
	Use:     "mark-unapplied",
	Aliases: []string{"remove", "rm", "delete"},
	Short:   "mark migrations as having NOT been applied by removing the records that said they were",
	Example: shared.CLIExample(`
# Mark 0123_example.migration as unapplied by removing the record showing that
# it was applied. The schema is left as it is.
modelmigrate ops mark-unapplied 0123_example
modelmigrate ops mark-unapplied --id 0123_example

# Mark several migrations as unapplied
modelmigrate ops mark-unapplied 0123_example 0456_another
modelmigrate ops mark-unapplied --id 0123_example --id 0456_another

# Remove all records of migrations having been applied
modelmigrate ops mark-unapplied --all
	`),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		// Argument parsing
		if err := idsOrAll(MarkUnappliedFlags.IDs, *MarkUnappliedFlags.All, args); err != nil {
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
		var removed []modelmigrate.AppliedMigration
		if *MarkUnappliedFlags.All {
			removed, err = m.MarkAllUnapplied(ctx, db)
		} else {
			removed, err = m.MarkUnapplied(ctx, db, *MarkUnappliedFlags.IDs...)
		}
		if err != nil {
			return err
		}
		slogger.Info("finished removing migrations", "count", len(removed))
		for _, m := range removed {
			slogger.Info("removed",
				"id", m.ID,
				"checksum", m.Checksum,
				"applied_at", m.AppliedAt,
			)
		}
		return nil
	},
}

func init() {
	MarkUnappliedFlags.IDs = markUnapplied.Flags().StringArrayP("id", "i", nil, "migration ids of records to remove")
	MarkUnappliedFlags.All = markUnapplied.Flags().BoolP("all", "a", false, "if true, remove all migration records")
	markUnapplied.MarkFlagsMutuallyExclusive("id", "all")
}
