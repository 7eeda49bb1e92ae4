package main

import (
	"github.com/spf13/cobra"

	"studymate/internal/bootstrap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update database tables and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer log.Sync()

		if err := bootstrap.Migrate(cmd.Context(), cfg); err != nil {
			log.Error("migrate failed", "error", err)
			return err
		}
		log.Info("migrate done")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
