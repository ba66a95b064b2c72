package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"callwatch/agent/database"
	"callwatch/shared/env"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	defer func() {
		if r := recover(); r != nil {
			log.Panicf("FATAL PANIC RECOVERY: %v", r)
		}
	}()

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "callwatch",
		Short:         "Watches Telegram chats for Solana token calls and follows them up",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runApp(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML config (defaults to $CONFIG_PATH)")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Start the listener, poller, userbots and HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runApp(cmd.Context())
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := env.LoadDatabaseEnv(); err != nil {
				return err
			}
			if err := database.MigrateDatabase(env.DatabaseURL); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			log.Println("INFO: Database migrations completed.")
			return nil
		},
	})
	return root
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return env.ConfigPath
}
