package main

import (
	"fmt"

	"github.com/safar/cashback-store/internal/seed"
	"github.com/spf13/cobra"
)

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Load users, products, prizes and news from a YAML file",
		Long: `Load fixtures from a YAML file in a single transaction.

Users whose email already exists are skipped, so the same file can be
applied more than once. Products, prizes and news are always inserted.

Example:
  storectl seed fixtures/demo.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := seed.Load(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			db, err := openDB(ctx, cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			sum, err := seed.Apply(ctx, db, f)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d users, %d products, %d prizes, %d news\n",
				sum.Users, sum.Products, sum.Prizes, sum.News)
			return nil
		},
	}
}
