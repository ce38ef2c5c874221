package cmd

import (
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := bootstrap()
			if err != nil {
				return err
			}
			// bootstrap already migrated on connect
			logger.Info("Database is up to date")
			return nil
		},
	}
}
