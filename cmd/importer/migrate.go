package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OFFIS-RIT/relannis/internal/database"
)

func newMigrateCmd() *cobra.Command {
	var down int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				v   uint
				err error
			)
			if down > 0 {
				v, err = database.Rollback(cfg.DatabaseURL, down)
			} else {
				v, err = database.Migrate(cfg.DatabaseURL)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schema at version %d\n", v)
			return nil
		},
	}

	cmd.Flags().IntVar(&down, "down", 0, "Revert this many migrations instead of applying")

	return cmd
}
