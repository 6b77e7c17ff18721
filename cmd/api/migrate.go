package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/inspectsync/inspectsync-go/internal/config"
	"github.com/inspectsync/inspectsync-go/internal/repository"
)

func newMigrateCmd(cfg func() config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the sync tables for the configured database driver",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg()
			db, err := repository.NewDB(c.DatabaseDriver, c.DatabaseDSN)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(cmd.Context()); err != nil {
				return err
			}
			slog.Info("schema applied", "driver", db.Dialect.Name())
			return nil
		},
	}
}
