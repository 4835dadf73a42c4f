// Copyright Contributors to the env360 project

package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/env360/env360/internal/store/postgres"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().String("dsn", "", "Postgres connection string (defaults to $DATABASE_URL)")
}

var migrateCmd = &cobra.Command{
	Use: "migrate",
	Short: "Apply the env360 Postgres schema (workflow_status, operation_outputs, and the rest of the entity tables)",
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	dsn, _ := cmd.Flags().GetString("dsn")
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}

	ctx := context.Background()
	st, err := postgres.Open(ctx, dsn)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return err
	}
	cmd.Println("migrations applied")
	return nil
}
