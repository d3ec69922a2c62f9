package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nbarak/shekelbot/internal/cli"
	"github.com/nbarak/shekelbot/internal/config"
)

func scrapeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scrape",
		Short: "Scrape all configured accounts once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()

			recordStore, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = recordStore.Close() }()

			ingester, err := buildIngester(cfg, recordStore)
			if err != nil {
				return err
			}

			jobRunner := buildRunner(ingester, nil, nil, cli.NewConsole(os.Stdout))
			summary, err := jobRunner.RunScrape(cmd.Context())
			if err != nil {
				return err
			}
			if summary.Failed > 0 {
				return fmt.Errorf("%d of %d accounts failed", summary.Failed, summary.Accounts)
			}
			return nil
		},
	}
}
