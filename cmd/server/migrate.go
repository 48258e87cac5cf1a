package main

import (
	"ResQFlow/internal/models"
	"ResQFlow/pkg/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cfg, nil)
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		if err := models.Migrate(db); err != nil {
			return err
		}
		logger.Info("schema migrated", zap.String("driver", cfg.DBDriver), zap.Int("tables", len(models.All())))
		return nil
	},
}
