package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/begonlabs/unified-agent-pro-sub001/config"
	"github.com/begonlabs/unified-agent-pro-sub001/internal/db"
	"github.com/begonlabs/unified-agent-pro-sub001/pkg/logger"
)

var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "agent",
		Short:         "Webhook ingestion and automatic replies for WhatsApp, Messenger and Instagram",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), migrateCmd(), versionCmd())
	return root
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	logger.InitLogger(cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			gdb, err := db.Open(cfg.DBDriver, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer func() {
				if err := db.Close(gdb); err != nil {
					log.Warn().Err(err).Msg("Failed to close database")
				}
			}()
			return db.Migrate(gdb)
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
