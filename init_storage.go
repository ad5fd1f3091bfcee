package main

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"prism-gtd/config"
	"prism-gtd/storage/postgres"
	"prism-gtd/storage/tables"
)

func initStorageCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init-storage",
		Short: "Create the tables, queues or schema the configured backend needs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFile)
			if err != nil {
				return err
			}
			return initStorage(cmd.Context(), cfg)
		},
	}
}

func initStorage(ctx context.Context, cfg *config.Config) error {
	log.WithField("backend", cfg.Backend).Info("storage init starting")
	switch cfg.Backend {
	case config.BackendTables:
		if err := tables.CreateTables(ctx, cfg.StorageConnectionString, cfg.TasksTable, cfg.SettingsTable); err != nil {
			return err
		}
	case config.BackendPostgres:
		s, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.Migrate(ctx); err != nil {
			return err
		}
	}
	if cfg.EventsQueue != "" {
		if err := tables.CreateQueues(ctx, cfg.StorageConnectionString, cfg.EventsQueue); err != nil {
			return err
		}
	}
	log.Info("storage init complete")
	return nil
}
