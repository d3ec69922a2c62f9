package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/nbarak/shekelbot/internal/cli"
	"github.com/nbarak/shekelbot/internal/config"
)

func classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify",
		Short: "Run the classification chain over pending transactions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()

			recordStore, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = recordStore.Close() }()

			orchestrator, _, err := buildOrchestrator(cmd.Context(), cfg, recordStore)
			if err != nil {
				return err
			}
			resolver, _ := buildResolver(cfg, recordStore, orchestrator)

			jobRunner := buildRunner(nil, orchestrator, resolver, cli.NewConsole(os.Stdout))
			_, err = jobRunner.RunClassify(cmd.Context())
			return err
		},
	}
}
