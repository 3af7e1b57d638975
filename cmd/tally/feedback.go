package main

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/Veraticus/tally/internal/feedback"
	"github.com/Veraticus/tally/internal/model"
)

func feedbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Record the category you chose for a transaction",
		Long: `Record a human decision about a transaction. Once the same correction has
been made often enough for the same text, tally learns a rule for it.

Example:
  tally feedback --user alice --description "TESCO STORES 3297" --amount 42.10 \
    --type debit --suggested groceries --final household`,
		RunE: runFeedback,
	}

	addScopeFlags(cmd)
	cmd.Flags().String("id", "", "transaction id")
	cmd.Flags().String("description", "", "transaction description")
	cmd.Flags().String("merchant", "", "merchant name")
	cmd.Flags().String("amount", "0", "transaction amount")
	cmd.Flags().String("type", "debit", "debit or credit")
	cmd.Flags().String("suggested", "", "category tally suggested")
	cmd.Flags().String("source", "", "layer that made the suggestion (rule, smart, ai, none)")
	cmd.Flags().Float64("confidence", 0, "confidence of the suggestion")
	cmd.Flags().String("final", "", "category you chose")
	_ = cmd.MarkFlagRequired("description")
	_ = cmd.MarkFlagRequired("final")

	return cmd
}

func runFeedback(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	scope, err := scopeFromFlags(cmd)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	id, _ := flags.GetString("id")
	description, _ := flags.GetString("description")
	merchant, _ := flags.GetString("merchant")
	amountStr, _ := flags.GetString("amount")
	txType, _ := flags.GetString("type")
	suggested, _ := flags.GetString("suggested")
	source, _ := flags.GetString("source")
	confidence, _ := flags.GetFloat64("confidence")
	final, _ := flags.GetString("final")

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", amountStr, err)
	}

	store, err := openStorage(ctx, appCfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	recorder := feedback.NewRecorder(store, appCfg.Categorization.PromotionThreshold)
	out, err := recorder.Record(ctx, feedback.Input{
		Scope: scope,
		Transaction: model.Transaction{
			ID:           id,
			Description:  description,
			MerchantName: merchant,
			Amount:       amount.Abs(),
			Type:         model.TransactionType(txType),
		},
		SuggestedCategoryID: suggested,
		SuggestedSource:     model.ResultSource(source),
		SuggestedConfidence: confidence,
		FinalCategoryID:     final,
	})
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, cli.FormatSuccess(fmt.Sprintf("Recorded feedback %s (%d matching)", out.FeedbackID, out.Occurrences)))
	switch {
	case out.RuleCreated:
		fmt.Fprintln(w, cli.FormatInfo(fmt.Sprintf("Learned rule %d: %q -> %s", *out.RuleID, out.Keyword, final)))
	case out.RuleUpdated:
		fmt.Fprintln(w, cli.FormatInfo(fmt.Sprintf("Updated rule %d: %q -> %s", *out.RuleID, out.Keyword, final)))
	}
	return nil
}
