package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nbarak/shekelbot/internal/cli"
	"github.com/nbarak/shekelbot/internal/config"
	"github.com/nbarak/shekelbot/internal/model"
	"github.com/nbarak/shekelbot/internal/rules"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and manage classification rules",
	}
	cmd.AddCommand(rulesListCmd())
	cmd.AddCommand(rulesAddCmd())
	return cmd
}

func rulesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List learned classification rules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()

			recordStore, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = recordStore.Close() }()

			all, err := rules.New(recordStore).All(cmd.Context())
			if err != nil {
				return err
			}
			if len(all) == 0 {
				fmt.Println(cli.SubtleStyle.Render("No rules yet."))
				return nil
			}

			fmt.Println(cli.TitleStyle.Render(fmt.Sprintf("Classification rules (%d)", len(all))))
			for _, rule := range all {
				fmt.Println(cli.RuleLine(rule))
			}
			return nil
		},
	}
}

func rulesAddCmd() *cobra.Command {
	var (
		description string
		categoryID  string
		entity      string
		txType      string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a rule by hand from a sample description",
		Long: `Add derives a pattern from the sample description exactly the way
rule learning does, reusing an existing rule when one already covers
the same pattern, category, and entity.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()

			recordStore, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = recordStore.Close() }()

			engine := rules.New(recordStore)
			id, err := engine.CreateFromManualClassification(cmd.Context(),
				description, categoryID, model.Entity(entity), model.CategoryType(txType), cfg.UserID)
			if err != nil {
				return err
			}

			fmt.Println(cli.SuccessStyle.Render("Rule saved: " + id))
			return nil
		},
	}

	cmd.Flags().StringVar(&description, "description", "", "sample transaction description")
	cmd.Flags().StringVar(&categoryID, "category", "", "category record id")
	cmd.Flags().StringVar(&entity, "entity", string(model.EntityHousehold), "entity (household, business_a, business_b, shared)")
	cmd.Flags().StringVar(&txType, "type", string(model.CategoryTypeExpense), "transaction type (income, expense)")
	_ = cmd.MarkFlagRequired("description")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}
