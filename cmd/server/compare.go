package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sakif/smartbot/internal/catalog"
	"github.com/sakif/smartbot/internal/comparison"
	"github.com/sakif/smartbot/internal/metrics"
	"github.com/sakif/smartbot/internal/server"
)

var compareStores []string

// compareCmd runs one comparison against the configured provider, which is
// handy for checking a Gemini key without signing in through the UI.
var compareCmd = &cobra.Command{
	Use:   "compare [product]",
	Short: "Run one price comparison and print the result as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCompare,
}

func init() {
	compareCmd.Flags().StringSliceVarP(&compareStores, "store", "s", nil,
		"store name to compare (repeatable; default: every catalog store)")
}

func runCompare(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	svc, err := server.NewComparison(cmd.Context(), cfg.Comparison, metrics.Nop{}, logger)
	if err != nil {
		return fmt.Errorf("creating comparison service: %w", err)
	}

	stores := compareStores
	if len(stores) == 0 {
		stores = catalog.Default().Names(func(string) bool { return true })
	}

	ctx := cmd.Context()
	if cfg.Comparison.Timeout.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Comparison.Timeout.Duration)
		defer cancel()
	}

	res, err := svc.GenerateComparison(ctx, strings.Join(args, " "), stores)
	if err != nil {
		return fmt.Errorf("comparing: %w", err)
	}
	if res == nil {
		return errors.New("comparing: empty result")
	}
	return printResult(cmd, res)
}

func printResult(cmd *cobra.Command, res *comparison.Result) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
