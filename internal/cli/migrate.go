package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"capsule-go/internal/logger"
	"capsule-go/internal/storage"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Store != StoreDB {
				return fmt.Errorf("migrate requires --store %s", StoreDB)
			}
			cfg, err := bootstrap(opts)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			db, err := storage.InitDB(cfg.Database)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			if err := storage.AutoMigrateTables(db); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]string{"status": "migrated", "database": cfg.Database.Type})
		},
	}
}
