package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sakif/smartbot/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	Long: `Run the SmartBot HTTP server until SIGINT or SIGTERM.

The identity store is SQLite (DB_PATH) unless identity.store is "postgres",
in which case DATABASE_URL is migrated and used. JWT_SECRET is required.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	srv, err := server.New(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	return srv.Start(cmd.Context())
}
