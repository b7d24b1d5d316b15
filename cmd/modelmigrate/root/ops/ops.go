package ops

import (
	"fmt"

	"github.com/spf13/cobra"
)

var Command = &cobra.Command{ //nolint:gochecknoglobals
	Use:     "ops",
	Aliases: []string{"op", "admin"},
	Short:   "Perform manual operations on migration records",
	GroupID: "ops",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 {
			return fmt.Errorf(`invalid command: "%s"`, args[0])
		}
		return cmd.Help()
	},
}

func init() {
	Command.AddCommand(setChecksum)
	Command.AddCommand(recalculateChecksum)
	Command.AddCommand(markUnapplied)
	Command.AddCommand(markApplied)
}

// idsOrAll merges positional ids into the --id flag values and checks that
// exactly one of --id and --all was given.
func idsOrAll(ids *[]string, all bool, args []string) error {
	if len(args) != 0 {
		*ids = append(*ids, args...)
	}
	if len(*ids) != 0 && all {
		return fmt.Errorf("--all and --id are mutually exclusive")
	}
	if len(*ids) == 0 && !all {
		return fmt.Errorf("must pass at least one migration ID with --id or --all")
	}
	return nil
}
