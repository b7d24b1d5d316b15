package ops

import (
	"github.com/spf13/cobra"

	"github.com/peterldowns/modelmigrate"
	"github.com/peterldowns/modelmigrate/cmd/modelmigrate/shared"
)

var RecalculateChecksumFlags struct {
	IDs *[]string
	All *bool
}

var recalculateChecksum = &cobra.Command{
	Use:     "recalculate-checksum",
	Aliases: []string{"recalculate", "refresh", "reset"},
	Short:   "recalculate and update the checksum value of a record of an applied migration",
	Example: shared.CLIExample(`
# Recalculate the checksum of 0123_example.migration from its current
# statements, and update its record if the stored checksum differs.
modelmigrate ops recalculate-checksum 0123_example
modelmigrate ops recalculate-checksum --id 0123_example

# Recalculate the checksums for all migrations
modelmigrate ops recalculate-checksum --all
	`),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		// Argument parsing
		if err := idsOrAll(RecalculateChecksumFlags.IDs, *RecalculateChecksumFlags.All, args); err != nil {
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
		var updated []modelmigrate.AppliedMigration
		if *RecalculateChecksumFlags.All {
			updated, err = m.RecalculateAllChecksums(ctx, db)
		} else {
			updated, err = m.RecalculateChecksums(ctx, db, *RecalculateChecksumFlags.IDs...)
		}
		if err != nil {
			return err
		}
		slogger.Info("recalculated checksums", "count", len(updated))
		for _, m := range updated {
			slogger.Info("recalculated",
				"id", m.ID,
				"checksum", m.Checksum,
				"applied_at", m.AppliedAt,
			)
		}
		return nil
	},
}

func init() {
	RecalculateChecksumFlags.IDs = recalculateChecksum.Flags().StringArrayP("id", "i", nil, "migration ids of records to update checksums")
	RecalculateChecksumFlags.All = recalculateChecksum.Flags().BoolP("all", "a", false, "if true, update the checksum of all migration records")
	recalculateChecksum.MarkFlagsMutuallyExclusive("all", "id")
}
