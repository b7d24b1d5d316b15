package root

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/peterldowns/modelmigrate"
	"github.com/peterldowns/modelmigrate/cmd/modelmigrate/shared"
)

var DumpFlags struct {
	Out *string
	SQL *bool
	ID  *string
}

var dumpCmd = &cobra.Command{ //nolint:gochecknoglobals
	Use:   "dump",
	Short: "Dump the database schema as a single migration file",
	Long: shared.CLIHelp(`
Dumps the current database schema as a single migration that creates it in an
empty database. The result is stable, and can be checked in to your git
repository. You can also use this command to generate a "squash" migration.

The migrations table is never part of the dump.

With --sql, the dump is the SQL of the configured dialect instead of a
migration.
	`),
	Example: shared.CLIExample(`
# Apply migrations
modelmigrate migrate
# Dump the resulting schema as a single migration file
modelmigrate dump --out 0001_squashed.migration
# Dump the schema as SQL
modelmigrate dump --sql --out schema.sql
	`),
	GroupID:          "dev",
	TraverseChildren: true,
	RunE: func(cmd *cobra.Command, args []string) (final error) {
		if len(args) == 1 && *DumpFlags.Out == "" {
			*DumpFlags.Out = args[0]
		}
		shared.State.Parse()
		db, d, err := shared.OpenDB()
		if err != nil {
			return err
		}
		defer db.Close()

		backend := modelmigrate.NewBackend(db, d, nil)
		if tableName := shared.State.TableName(); tableName.IsSet() {
			backend.TableName = tableName.Value()
		}
		var contents string
		if *DumpFlags.SQL {
			current, err := backend.Current(cmd.Context())
			if err != nil {
				return err
			}
			queries, err := d.CreateSQL(current)
			if err != nil {
				return err
			}
			for _, query := range queries {
				contents += query + ";\n"
			}
		} else {
			migration, err := backend.Dump(cmd.Context(), *DumpFlags.ID)
			if errors.Is(err, modelmigrate.ErrNoChanges) {
				migration = modelmigrate.Migration{ID: *DumpFlags.ID}
			} else if err != nil {
				return err
			}
			if contents, err = migration.Format(); err != nil {
				return err
			}
		}
		contents = strings.TrimRight(contents, "\n")

		fout := *DumpFlags.Out
		if fout == "-" || fout == "" {
			fmt.Println(contents)
			return nil
		}
		file, err := os.OpenFile(fout, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return err
		}
		defer func() {
			if err := file.Close(); err != nil && final == nil {
				final = err
			}
		}()
		_, err = fmt.Fprintln(file, contents)
		return err
	},
}

func init() {
	DumpFlags.Out = dumpCmd.Flags().StringP("out", "o", "", "path to write the schema to, '-' means stdout")
	DumpFlags.SQL = dumpCmd.Flags().Bool("sql", false, "if true, dump the SQL of the dialect instead of a migration")
	DumpFlags.ID = dumpCmd.Flags().String("id", "schema", "the migration id recorded in the dump's header")
}
