package root

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/peterldowns/modelmigrate/cmd/modelmigrate/root/ops"
	"github.com/peterldowns/modelmigrate/cmd/modelmigrate/shared"
)

var Command = &cobra.Command{ //nolint:gochecknoglobals
	Version: shared.VersionString(),
	Use:     "modelmigrate",
	Short:   "generate and apply schema migrations from model declarations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 {
			return fmt.Errorf(`invalid command: "%s"`, args[0])
		}
		return cmd.Help()
	},
}

func init() { //nolint:gochecknoinits
	Command.CompletionOptions.HiddenDefaultCmd = true
	Command.TraverseChildren = true
	Command.SilenceErrors = true
	Command.SilenceUsage = true
	Command.SetVersionTemplate("{{.Version}}\n")

	shared.State.Flags.LogFormat = Command.PersistentFlags().StringP(
		"log-format",
		"l",
		"",
		fmt.Sprintf("[MMG_LOG_FORMAT] '%s' or '%s', the log line format (default '%s')", shared.LogFormatText, shared.LogFormatJSON, shared.LogFormatText),
	)
	shared.State.Flags.Database = Command.PersistentFlags().StringP(
		"database",
		"d",
		"",
		"[MMG_DATABASE] a connection string: 'postgres://...', 'file:app.db', 'user:pass@tcp(host)/db'",
	)
	shared.State.Flags.Dialect = Command.PersistentFlags().String(
		"dialect",
		"",
		"[MMG_DIALECT] 'postgres', 'sqlite' or 'mysql' (default inferred from the connection string)",
	)
	shared.State.Flags.Migrations = Command.PersistentFlags().StringP(
		"migrations",
		"m",
		"",
		"[MMG_MIGRATIONS] a path to a directory containing *.migration files",
	)
	shared.State.Flags.Models = Command.PersistentFlags().String(
		"models",
		"",
		"[MMG_MODELS] a path to a YAML file of model declarations",
	)
	shared.State.Flags.TableName = Command.PersistentFlags().StringP(
		"table-name",
		"t",
		"",
		"[MMG_TABLENAME] the table used to record applied migrations (default depends on the dialect)",
	)
	shared.State.Flags.ConfigFile = Command.PersistentFlags().StringP(
		"configfile",
		"f",
		"",
		"[MMG_CONFIGFILE] a path to a configuration file",
	)
	_ = Command.MarkPersistentFlagDirname("migrations")
	_ = Command.MarkPersistentFlagFilename("models", "yaml", "yml")

	Command.AddGroup(
		&cobra.Group{
			ID:    "migrating",
			Title: "Migrating:",
		},
		&cobra.Group{
			ID:    "ops",
			Title: "Operations:",
		},
		&cobra.Group{
			ID:    "dev",
			Title: "Development:",
		},
	)

	// migrating
	Command.AddCommand(appliedCmd)
	Command.AddCommand(planCmd)
	Command.AddCommand(statusCmd)
	Command.AddCommand(verifyCmd)
	Command.AddCommand(migrateCmd)

	// ops
	Command.AddCommand(ops.Command)
	Command.AddCommand(versionCmd)

	// dev
	Command.AddCommand(configCmd)
	Command.AddCommand(diffCmd)
	Command.AddCommand(dumpCmd)
	Command.AddCommand(newCmd)
	Command.SetHelpCommandGroupID("dev")
}
