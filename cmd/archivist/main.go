// Command archivist runs the hot-to-cold storage bridge standalone: on
// a fixed interval, drain tick streams and analytics snapshots out of
// the broker and batch-insert them into the cold store.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gemscap/quantpulse/internal/archivist"
	"github.com/gemscap/quantpulse/internal/broker"
	"github.com/gemscap/quantpulse/internal/coldstore"
	"github.com/gemscap/quantpulse/internal/config"
)

const dbConnectTimeout = 5 * time.Second

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(&log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	cfg.LogConfig(log.Logger)

	client, err := broker.New(ctx, cfg.RedisURL, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to broker")
	}
	defer client.Close()

	store, err := coldstore.Open(ctx, cfg.DatabaseURL, dbConnectTimeout, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to cold store")
	}
	defer store.Close()

	svc := archivist.New(archivist.Config{
		Symbols:         cfg.Symbols,
		ArchiveInterval: cfg.ArchiveInterval(),
		BatchSize:       cfg.ArchiveBatchSize,
	}, client, store, log.Logger)

	log.Info().Msg("archivist starting")
	svc.Run(ctx)
	log.Info().Msg("archivist stopped")
}
