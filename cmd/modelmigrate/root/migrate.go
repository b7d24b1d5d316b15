package root

import (
	"github.com/spf13/cobra"

	"github.com/peterldowns/modelmigrate/cmd/modelmigrate/shared"
)

var migrateCmd = &cobra.Command{ //nolint:gochecknoglobals
	Use:     "migrate",
	Aliases: []string{"apply"},
	Short:   "Apply any previously-unapplied migrations",
	Long: shared.CLIHelp(`
Applies any previously un-applied migrations. It stores metadata in the
migrations table, with the following schema:

  - id: text not null
  - checksum: text not null
  - execution_time_in_millis: integer not null
  - applied_at: timestamp not null

First, it acquires a lock to prevent conflicts with other instances that may be
running in parallel: an advisory lock on postgres, a named lock on mysql. On
sqlite the lock only covers the current process, so do not run several
migrators against the same sqlite file at once.

Second, calculate a plan of migrations to apply. The plan will be a list of
migrations that have not yet been marked as applied in the migrations table.
The migrations in the plan will be ordered by their IDs, in ascending
lexicographical order.

Third, for each migration in the plan,

  - Begin a transaction
  - Read the current schema of the database
  - Replay the migration's statements onto a copy of that schema
  - Run the SQL that turns the current schema into the copy
  - Create a record in the migrations table saying that the migration was applied
  - Commit the transaction

If a migration reaches a "migration.Abort(...)" guard, or fails at any other
point, the transaction will roll back and no record is created for it. Future
attempts will include it in their plan. Note that mysql commits DDL
statements implicitly, so a failed migration can leave part of its changes
behind on mysql.

Migrate will immediately return the error related to a failed migration, and
will NOT attempt to run any further migrations.

Fourth, if all the migrations in the plan are applied successfully, it calls
"modelmigrate verify" to double-check that all known migrations have been
marked as applied in the migrations table.

Finally, the lock is released.
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
		verrs, err := migrator.Migrate(cmd.Context(), db)
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
		return nil
	},
}
