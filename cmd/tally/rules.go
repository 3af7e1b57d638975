package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/rules"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage categorization rules",
	}
	cmd.AddCommand(rulesListCmd())
	cmd.AddCommand(rulesAddCmd())
	cmd.AddCommand(rulesDisableCmd())
	return cmd
}

func rulesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List system rules and your own rules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			scope, err := scopeFromFlags(cmd)
			if err != nil {
				return err
			}
			all, _ := cmd.Flags().GetBool("all")

			store, err := openStorage(ctx, appCfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			list, err := rules.NewManager(store).List(ctx, scope, all)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderRules(list))
			return nil
		},
	}
	addScopeFlags(cmd)
	cmd.Flags().Bool("all", false, "include inactive rules")
	return cmd
}

func rulesAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <keyword> <category>",
		Short: "Add a manual rule",
		Long: `Add a rule mapping a keyword to a category. Defaults: contains match on the
description, priority 5, confidence 1.0.

Examples:
  tally rules add --user alice costa dining
  tally rules add --user alice --match regex --field both '^uber\s' transport`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			scope, err := scopeFromFlags(cmd)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			match, _ := flags.GetString("match")
			field, _ := flags.GetString("field")
			txType, _ := flags.GetString("type")
			description, _ := flags.GetString("description")
			autoApprove, _ := flags.GetBool("auto-approve")

			draft := rules.Draft{
				Keyword:      args[0],
				CategoryID:   args[1],
				MatchType:    model.MatchType(match),
				PatternField: model.PatternField(field),
				Description:  description,
				AutoApprove:  autoApprove,
			}
			if flags.Changed("priority") {
				p, _ := flags.GetInt("priority")
				draft.Priority = &p
			}
			if flags.Changed("confidence") {
				c, _ := flags.GetFloat64("confidence")
				draft.Confidence = &c
			}
			if txType != "" {
				tt, ok := model.ParseTransactionType(txType)
				if !ok {
					return fmt.Errorf("--type must be debit or credit")
				}
				draft.TransactionType = &tt
			}

			store, err := openStorage(ctx, appCfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			rule, err := rules.NewManager(store).Create(ctx, scope, draft)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Created rule %d: %q -> %s", rule.ID, rule.Keyword, rule.CategoryID)))
			return nil
		},
	}
	addScopeFlags(cmd)
	cmd.Flags().String("match", "", "exact, contains, starts_with or regex")
	cmd.Flags().String("field", "", "description, merchant or both")
	cmd.Flags().String("type", "", "only match debit or credit transactions")
	cmd.Flags().Int("priority", rules.DefaultPriority, "rule priority (higher wins)")
	cmd.Flags().Float64("confidence", rules.DefaultConfidence, "confidence reported for matches")
	cmd.Flags().String("description", "", "note stored with the rule")
	cmd.Flags().Bool("auto-approve", false, "approve matches without review")
	return cmd
}

func rulesDisableCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disable <rule-id>",
		Short: "Deactivate one of your rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			scope, err := scopeFromFlags(cmd)
			if err != nil {
				return err
			}
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid rule id %q", args[0])
			}

			store, err := openStorage(ctx, appCfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := rules.NewManager(store).Deactivate(ctx, scope, id); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Disabled rule %d", id)))
			return nil
		},
	}
	addScopeFlags(cmd)
	return cmd
}
