package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the database schema to the latest version.

Every command migrates on startup; this command only does that and exits.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			slog.Info("Running database migrations", "driver", appCfg.Database.Driver)
			store, err := openStorage(cmd.Context(), appCfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			slog.Info("Database migrations completed")
			return nil
		},
	}
}
