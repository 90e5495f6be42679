package main

import (
	"fmt"

	"github.com/safar/cashback-store/migrations"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Create all tables and indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, migrations.Up)
		},
	})

	down := &cobra.Command{
		Use:   "down",
		Short: "Drop every table, discarding all data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if yes, _ := cmd.Flags().GetBool("yes"); !yes {
				return fmt.Errorf("refusing to drop tables without --yes")
			}
			return runMigrate(cmd, migrations.Down)
		},
	}
	down.Flags().Bool("yes", false, "confirm that all data will be lost")
	cmd.AddCommand(down)

	return cmd
}

func runMigrate(cmd *cobra.Command, direction string) error {
	ctx := cmd.Context()

	db, err := openDB(ctx, cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := migrations.Run(ctx, db, direction)
	if err != nil {
		return err
	}

	for _, name := range applied {
		fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
	}
	return nil
}
