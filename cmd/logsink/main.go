// Command logsink runs the alert/log sink standalone: subscribe to the
// broker's log channel and persist entries to rotating files.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gemscap/quantpulse/internal/broker"
	"github.com/gemscap/quantpulse/internal/config"
	"github.com/gemscap/quantpulse/internal/logsink"
)

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

	svc, err := logsink.New(logsink.Config{
		LogDir:      cfg.LogDir,
		MaxSizeMB:   cfg.LogMaxSizeMB,
		BackupCount: cfg.LogBackupCount,
	}, client, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open log sink")
	}

	log.Info().Msg("log sink starting")
	svc.Run(ctx)
	log.Info().Msg("log sink stopped")
}
