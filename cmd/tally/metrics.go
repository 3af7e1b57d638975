package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/Veraticus/tally/internal/metrics"
)

func metricsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show categorization quality metrics",
		RunE:  runMetrics,
	}
	addScopeFlags(cmd)
	cmd.Flags().Int("days", 30, "trailing window in days (0 for all time)")
	cmd.Flags().Bool("json", false, "print raw JSON")
	return cmd
}

func runMetrics(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	scope, err := scopeFromFlags(cmd)
	if err != nil {
		return err
	}
	days, _ := cmd.Flags().GetInt("days")
	asJSON, _ := cmd.Flags().GetBool("json")
	if days < 0 {
		return fmt.Errorf("--days must not be negative")
	}

	store, err := openStorage(ctx, appCfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	m, err := metrics.NewAggregator(store).GetMetrics(ctx, scope.UserID, time.Duration(days)*24*time.Hour)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	}
	fmt.Fprintln(cmd.OutOrStdout(), cli.RenderMetrics(m))
	return nil
}
