package main

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reconic/backend/config"
	"github.com/reconic/backend/db"
)

// openDB connects to the Postgres database named by DB_DSN.
func openDB(cmd *cobra.Command) (*sql.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return db.Connect(cmd.Context(), cfg.DBDsn)
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				database, err := openDB(cmd)
				if err != nil {
					return err
				}
				defer database.Close()
				return db.RunMigrations(database)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration (drops data)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				database, err := openDB(cmd)
				if err != nil {
					return err
				}
				defer database.Close()
				return db.MigrateDown(database)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				database, err := openDB(cmd)
				if err != nil {
					return err
				}
				defer database.Close()
				v, dirty, err := db.GetMigrationVersion(database)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", v, dirty)
				return nil
			},
		},
	)
	return cmd
}
