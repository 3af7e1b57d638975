package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/Veraticus/tally/internal/engine"
	"github.com/Veraticus/tally/internal/importer"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/pattern"
	"github.com/Veraticus/tally/internal/service"
)

// chunkSize is how many transactions go to the engine per batch call so the
// progress bar moves while large files are processed.
const chunkSize = 50

func categorizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categorize [files...]",
		Short: "Categorize transactions from CSV or OFX/QFX files",
		Long: `Import transactions from bank exports and categorize them.

CSV files need at least description and amount columns; id, date, merchant,
type, reference and entity_id are optional. Files ending in .ofx or .qfx are
read as OFX.

Examples:
  tally categorize --user alice statement.csv
  tally categorize --user alice --save --output report.csv ~/Downloads/*.qfx`,
		Args: cobra.MinimumNArgs(1),
		RunE: runCategorize,
	}

	addScopeFlags(cmd)
	cmd.Flags().StringP("output", "o", "", "write results to this CSV file")
	cmd.Flags().String("delimiter", ",", "CSV delimiter for input and output")
	cmd.Flags().Bool("save", false, "persist approved categories as assignments")
	cmd.Flags().Bool("save-all", false, "persist every categorized result, including ones needing review")

	return cmd
}

func runCategorize(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	scope, err := scopeFromFlags(cmd)
	if err != nil {
		return err
	}
	delimiter, _ := cmd.Flags().GetString("delimiter")
	output, _ := cmd.Flags().GetString("output")
	save, _ := cmd.Flags().GetBool("save")
	saveAll, _ := cmd.Flags().GetBool("save-all")

	delim := ','
	if delimiter != "" {
		delim = []rune(delimiter)[0]
	}

	files, err := expandFiles(args)
	if err != nil {
		return err
	}
	txns, err := readTransactions(ctx, files, delim)
	if err != nil {
		return err
	}
	if len(txns) == 0 {
		slog.Warn("No transactions found in any file")
		return nil
	}

	store, err := openStorage(ctx, appCfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	eng, cleanup, err := newEngine(ctx, appCfg, store)
	if err != nil {
		return err
	}
	defer cleanup()

	results, err := categorizeWithProgress(ctx, eng, txns, scope)
	if err != nil {
		return err
	}

	if save || saveAll {
		saved, err := saveAssignments(ctx, store, scope, txns, results, saveAll)
		if err != nil {
			return err
		}
		slog.Info("Saved assignments", "count", saved)
	}

	if output != "" {
		if err := writeReport(output, delim, txns, results); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Wrote "+output))
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.RenderResultSummary(results))
	return nil
}

func expandFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", arg, err)
		}
		if len(matches) == 0 {
			if _, err := os.Stat(arg); err != nil {
				slog.Warn("No files found matching pattern", "pattern", arg)
				continue
			}
			matches = []string{arg}
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files found to import")
	}
	return files, nil
}

// readTransactions parses every file, dropping transactions whose ID was
// already seen in an earlier file.
func readTransactions(ctx context.Context, files []string, delim rune) ([]model.Transaction, error) {
	ofxParser := importer.NewOFXParser()
	csvParser := importer.NewCSVParser(delim)
	seen := make(map[string]bool)

	var all []model.Transaction
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}

		var txns []model.Transaction
		switch strings.ToLower(filepath.Ext(path)) {
		case ".ofx", ".qfx":
			txns, err = ofxParser.Parse(ctx, f)
		default:
			txns, err = csvParser.Parse(f)
		}
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}

		added := 0
		for _, tx := range txns {
			// Generated CSV row IDs are only unique within one file.
			if strings.HasPrefix(tx.ID, "row-") {
				tx.ID = filepath.Base(path) + ":" + tx.ID
			}
			if seen[tx.ID] {
				continue
			}
			seen[tx.ID] = true
			all = append(all, tx)
			added++
		}
		slog.Info("Processed file",
			"file", filepath.Base(path),
			"transactions_found", len(txns),
			"added", added,
			"duplicates", len(txns)-added)
	}
	return all, nil
}

func categorizeWithProgress(ctx context.Context, eng *engine.Engine, txns []model.Transaction, scope model.Scope) ([]model.CategorizationResult, error) {
	progress := cli.NewProgress(os.Stderr, len(txns), "Categorizing transactions...")
	results := make([]model.CategorizationResult, 0, len(txns))

	for start := 0; start < len(txns); start += chunkSize {
		end := min(start+chunkSize, len(txns))
		batch, err := eng.CategorizeBatch(ctx, txns[start:end], scope)
		if err != nil {
			return nil, fmt.Errorf("failed to categorize: %w", err)
		}
		results = append(results, batch...)
		progress.Add(len(batch))
	}
	progress.Finish()
	return results, nil
}

func saveAssignments(ctx context.Context, store service.AssignmentStore, scope model.Scope, txns []model.Transaction, results []model.CategorizationResult, includeReview bool) (int, error) {
	saved := 0
	for i, res := range results {
		if !res.IsCategorized() || res.Status != model.StatusOK {
			continue
		}
		if !res.AutoApprove && !includeReview {
			continue
		}
		tx := txns[i]
		entity := scope.EntityID
		if entity == nil {
			entity = tx.EntityID
		}
		err := store.SaveAssignment(ctx, &model.Assignment{
			UserID:         scope.UserID,
			EntityID:       entity,
			TransactionID:  res.TransactionID,
			Description:    tx.Description,
			NormalizedText: pattern.Normalize(tx.Description),
			CategoryID:     res.CategoryID,
			Amount:         tx.Amount,
		})
		if err != nil {
			return saved, fmt.Errorf("failed to save assignment for %s: %w", res.TransactionID, err)
		}
		saved++
	}
	return saved, nil
}

func writeReport(path string, delim rune, txns []model.Transaction, results []model.CategorizationResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := importer.WriteResults(f, delim, txns, results); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
