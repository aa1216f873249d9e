package main

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"taskboard-api/storage"
)

func newInitStorageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-storage",
		Short: "Create the tasks table and events queue if they do not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateStorage(); err != nil {
				return err
			}
			ctx := cmd.Context()
			log.Info("storage init starting")
			if err := storage.CreateTables(ctx, cfg.Storage.ConnectionString, cfg.Storage.TasksTable); err != nil {
				return err
			}
			if err := storage.CreateQueues(ctx, cfg.Storage.ConnectionString, cfg.Storage.EventsQueue); err != nil {
				return err
			}
			log.Info("storage init complete")
			return nil
		},
	}
}
