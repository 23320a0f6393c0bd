// Command server runs SmartBot.
//
//	smartbot serve   [--config smartbot.yaml]
//	smartbot compare [--config smartbot.yaml] --store Giant --store Lotuss "Red Onion 1kg"
//
// main only parses flags, loads configuration and hands over to
// internal/server; everything else lives in internal packages.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sakif/smartbot/internal/config"
)

var configPath string

// rootCmd is the base command; it does nothing on its own.
var rootCmd = &cobra.Command{
	Use:           "smartbot",
	Short:         "Grocery price comparison chat server",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("SMARTBOT_CONFIG"),
		"YAML config file (or set SMARTBOT_CONFIG); environment variables override it")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(compareCmd)
}

// loadConfig reads configuration and builds the process logger from it.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := cfg.Logging.NewLogger(os.Stdout)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
