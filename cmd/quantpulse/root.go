package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gemscap/quantpulse/internal/broker"
	"github.com/gemscap/quantpulse/internal/coldstore"
	"github.com/gemscap/quantpulse/internal/config"
	"github.com/gemscap/quantpulse/internal/orchestrator"
)

const dbConnectTimeout = 5 * time.Second

// Execute builds the quantpulse root command and runs it against ctx.
func Execute(ctx context.Context) error {
	root := &cobra.Command{Use: "quantpulse", Short: "GemScap Quant Analytics combined service"}
	root.AddCommand(runCmd(ctx))
	log.Info().Msg("quantpulse starting")
	return root.ExecuteContext(ctx)
}

func runCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "run the gateway, quant engine, archivist, and log sink in one process",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(&log.Logger)
			if err != nil {
				return err
			}
			cfg.LogConfig(log.Logger)

			client, err := broker.New(ctx, cfg.RedisURL, log.Logger)
			if err != nil {
				return err
			}
			defer client.Close()

			store, err := coldstore.Open(ctx, cfg.DatabaseURL, dbConnectTimeout, log.Logger)
			if err != nil {
				return err
			}
			defer store.Close()

			orch, err := orchestrator.New(cfg, client, store, log.Logger)
			if err != nil {
				return err
			}
			orch.Run(cmd.Context())
			return nil
		},
	}
}
