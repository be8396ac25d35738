// Command quantengine runs the quant analytics engine standalone:
// consume tick streams, compute rolling analytics, and raise alerts.
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
	"github.com/gemscap/quantpulse/internal/quant"
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

	svc := quant.New(quant.Config{
		Symbols:         cfg.Symbols,
		WindowSize:      cfg.RollingWindowTicks,
		AlertZThreshold: cfg.ZScoreAlertThreshold,
	}, client, log.Logger)

	log.Info().Msg("quant engine starting")
	svc.Run(ctx)
	log.Info().Msg("quant engine stopped")
}
