package root

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/peterldowns/modelmigrate/cmd/modelmigrate/shared"
)

var PlanFlags struct {
	SQL *bool
}

var planCmd = &cobra.Command{ //nolint:gochecknoglobals
	Use:   "plan",
	Short: "Preview which migrations would be applied",
	Long: shared.CLIHelp(`
Prints the migrations that have not been applied yet, in the order "migrate"
would apply them: ascending by ID.

With --sql, each migration is replayed onto the current schema of the database
(and onto the result of the migrations before it), and the SQL that "migrate"
would run is printed. Nothing is written to the database.
	`),
	Example: shared.CLIExample(`
# List the pending migrations
modelmigrate plan
# Show the SQL that the pending migrations would run
modelmigrate plan --sql
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
		if !*PlanFlags.SQL {
			plan, err := migrator.Plan(cmd.Context(), db)
			if err != nil {
				return err
			}
			for _, m := range plan {
				slogger.With("checksum", m.MD5()).Info(m.ID)
			}
			return nil
		}
		planned, err := migrator.PlanSQL(cmd.Context(), db)
		if err != nil {
			return err
		}
		for _, p := range planned {
			fmt.Printf("-- %s\n", p.ID)
			for _, query := range p.SQL {
				fmt.Printf("%s;\n", query)
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	PlanFlags.SQL = planCmd.Flags().Bool("sql", false, "if true, print the SQL each migration would run")
}
