package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/Veraticus/tally/internal/config"
	"github.com/Veraticus/tally/internal/storage"
)

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load system categories and rules",
		Long: `Create the system category taxonomy and system rules. Without --file the
built-in seed is used, or database.seed from the config when set. Existing
entries are left alone, so seeding twice is safe.`,
		RunE: runSeed,
	}
	cmd.Flags().String("file", "", "YAML seed file")
	return cmd
}

func runSeed(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	path, _ := cmd.Flags().GetString("file")
	if path == "" {
		path = appCfg.Database.Seed
	}

	var (
		seed *storage.Seed
		err  error
	)
	if path == "" {
		seed, err = storage.DefaultSeed()
	} else {
		var f *os.File
		f, err = os.Open(config.ExpandPath(path))
		if err != nil {
			return fmt.Errorf("failed to open seed file: %w", err)
		}
		seed, err = storage.LoadSeed(f)
		_ = f.Close()
	}
	if err != nil {
		return err
	}

	store, err := openStorage(ctx, appCfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	result, err := storage.ApplySeed(ctx, store, seed)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Seeded %d categories and %d rules", result.CategoriesCreated, result.RulesCreated)))
	return nil
}
