package ops

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/peterldowns/modelmigrate"
	"github.com/peterldowns/modelmigrate/cmd/modelmigrate/shared"
)

var SetChecksumFlags struct {
	ID       *string
	Checksum *string
}

var setChecksum = &cobra.Command{
	Use:     "set-checksum",
	Aliases: []string{"checksum", "set-hash", "hash", "update"},
	Short:   "set the checksum value of a record of an applied migration",
	Example: shared.CLIExample(`
# Record migration 0123_example as having been applied with checksum 'aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa'
modelmigrate ops set-checksum 0123_example aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa
modelmigrate ops set-checksum --id 0123_example --checksum aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa
	`),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		// Argument parsing
		if len(args) == 2 {
			*SetChecksumFlags.ID = args[0]
			*SetChecksumFlags.Checksum = args[1]
		} else if len(args) != 0 {
			return fmt.Errorf("unexpected arguments: ['%s']", strings.Join(args, "', '"))
		}
		var missing []string
		if *SetChecksumFlags.ID == "" {
			missing = append(missing, "--id")
		}
		if *SetChecksumFlags.Checksum == "" {
			missing = append(missing, "--checksum")
		}
		if len(missing) == 1 {
			return fmt.Errorf(`required flag "%s" not set`, missing[0])
		}
		if len(missing) > 1 {
			return fmt.Errorf(`required flags "%s" not set`, strings.Join(missing, `", "`))
		}
		shared.State.Parse()
		db, m, err := shared.MigratorFor(nil)
		if err != nil {
			return err
		}
		defer db.Close()
		slogger, _ := shared.State.Logger()

		updated, err := m.SetChecksums(ctx, db, modelmigrate.ChecksumUpdate{
			MigrationID: *SetChecksumFlags.ID,
			NewChecksum: *SetChecksumFlags.Checksum,
		})
		if err != nil {
			return err
		}
		slogger.Info("set migration checksum", "count", len(updated))
		for _, m := range updated {
			slogger.Info("set checksum",
				"id", m.ID,
				"checksum", m.Checksum,
				"applied_at", m.AppliedAt,
			)
		}
		return nil
	},
}

func init() {
	SetChecksumFlags.ID = setChecksum.Flags().StringP("id", "i", "", "migration id of the record to update")
	SetChecksumFlags.Checksum = setChecksum.Flags().StringP("checksum", "c", "", "the checksum to store")
}
