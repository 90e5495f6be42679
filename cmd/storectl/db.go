package main

import (
	"context"
	"database/sql"

	"github.com/safar/cashback-store/internal/config"
	"github.com/safar/cashback-store/internal/database"
	"github.com/spf13/cobra"
)

func openDB(ctx context.Context, cmd *cobra.Command) (*sql.DB, error) {
	cfg := config.LoadDatabase()
	if url, _ := cmd.Flags().GetString("database-url"); url != "" {
		cfg.URL = url
	}
	return database.NewConnection(ctx, &cfg)
}
