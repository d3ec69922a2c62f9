package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nbarak/shekelbot/internal/cli"
	"github.com/nbarak/shekelbot/internal/config"
	"github.com/nbarak/shekelbot/internal/ingest"
	"github.com/nbarak/shekelbot/internal/ofx"
)

func importCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "import <file.ofx> [more files...]",
		Short: "Import OFX/QFX statement files",
		Long: `Import parses OFX/QFX statement files and feeds the transactions
through the same dedup pipeline as scraping, so re-importing a file is
safe.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if userID == "" {
				userID = cfg.UserID
			}

			recordStore, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = recordStore.Close() }()

			engine := ingest.New(recordStore, nil, nil)
			parser := ofx.NewParser()

			bar := cli.NewProgressBar(len(args), "Importing statements...", os.Stderr)
			totalParsed, totalInserted := 0, 0
			for _, path := range args {
				file, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", path, err)
				}

				txns, err := parser.ParseFile(cmd.Context(), file, userID)
				_ = file.Close()
				if err != nil {
					return fmt.Errorf("failed to parse %s: %w", path, err)
				}

				inserted, err := engine.Import(cmd.Context(), txns)
				if err != nil {
					return fmt.Errorf("failed to import %s: %w", path, err)
				}

				totalParsed += len(txns)
				totalInserted += inserted
				_ = bar.Add(1)
			}

			fmt.Println(cli.SuccessStyle.Render(
				fmt.Sprintf("Imported %d new transactions (%d parsed, %d duplicates skipped)",
					totalInserted, totalParsed, totalParsed-totalInserted)))
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "owning user id (default: configured user_id)")
	return cmd
}
