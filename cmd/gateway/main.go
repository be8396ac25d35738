// Command gateway runs the market gateway standalone: connect to the
// exchange feed, normalize ticks, and write them into the broker.
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
	"github.com/gemscap/quantpulse/internal/gateway"
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

	svc := gateway.New(gateway.Config{
		Symbols:       cfg.Symbols,
		ExchangeWSURL: cfg.ExchangeWSURL,
		FlushInterval: cfg.FlushInterval,
		Heartbeat:     cfg.HeartbeatInterval,
	}, client, log.Logger)

	log.Info().Msg("gateway starting")
	svc.Run(ctx)
	log.Info().Msg("gateway stopped")
}
