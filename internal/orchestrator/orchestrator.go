// Package orchestrator starts and stops QuantPulse's components together
// inside a single process: the market gateway, the quant engine, the
// archivist, and the log sink, each on its own goroutine sharing one
// cancellable context.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gemscap/quantpulse/internal/archivist"
	"github.com/gemscap/quantpulse/internal/broker"
	"github.com/gemscap/quantpulse/internal/config"
	"github.com/gemscap/quantpulse/internal/gateway"
	"github.com/gemscap/quantpulse/internal/logsink"
	"github.com/gemscap/quantpulse/internal/quant"
)

// staggered start delays, so the gateway has a moment to begin filling
// streams before the quant engine starts consuming them, and the
// archivist starts later still so its first pass has something to drain.
const (
	gatewayStartDelay = 0
	logsinkStartDelay = 0
	quantStartDelay   = 2 * time.Second
	archiveStartDelay = 5 * time.Second
)

// runnable is the common shape every component exposes: block until ctx
// is cancelled.
type runnable interface {
	Run(ctx context.Context)
}

// Orchestrator owns every component's Service and runs them as a group.
type Orchestrator struct {
	logger zerolog.Logger

	gateway   *gateway.Service
	quant     *quant.Service
	archivist *archivist.Service
	logsink   *logsink.Service
}

// New wires every component's Service from cfg, sharing the given broker
// client and cold store.
func New(cfg *config.Config, client broker.Client, store archivist.Store, logger zerolog.Logger) (*Orchestrator, error) {
	gw := gateway.New(gateway.Config{
		Symbols:       cfg.Symbols,
		ExchangeWSURL: cfg.ExchangeWSURL,
		FlushInterval: cfg.FlushInterval,
		Heartbeat:     cfg.HeartbeatInterval,
	}, client, logger)

	qe := quant.New(quant.Config{
		Symbols:         cfg.Symbols,
		WindowSize:      cfg.RollingWindowTicks,
		AlertZThreshold: cfg.ZScoreAlertThreshold,
	}, client, logger)

	ar := archivist.New(archivist.Config{
		Symbols:         cfg.Symbols,
		ArchiveInterval: cfg.ArchiveInterval(),
		BatchSize:       cfg.ArchiveBatchSize,
	}, client, store, logger)

	ls, err := logsink.New(logsink.Config{
		LogDir:      cfg.LogDir,
		MaxSizeMB:   cfg.LogMaxSizeMB,
		BackupCount: cfg.LogBackupCount,
	}, client, logger)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		logger:    logger.With().Str("component", "orchestrator").Logger(),
		gateway:   gw,
		quant:     qe,
		archivist: ar,
		logsink:   ls,
	}, nil
}

// Run starts every component on its staggered delay and blocks until ctx
// is cancelled, at which point it waits for all of them to finish their
// current iteration and return.
func (o *Orchestrator) Run(ctx context.Context) {
	var wg sync.WaitGroup

	start := func(name string, delay time.Duration, r runnable) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if delay > 0 {
				timer := time.NewTimer(delay)
				defer timer.Stop()
				select {
				case <-ctx.Done():
					return
				case <-timer.C:
				}
			}
			o.logger.Info().Str("service", name).Msg("starting component")
			r.Run(ctx)
			o.logger.Info().Str("service", name).Msg("component stopped")
		}()
	}

	start("gateway", gatewayStartDelay, o.gateway)
	start("logsink", logsinkStartDelay, o.logsink)
	start("quant_engine", quantStartDelay, o.quant)
	start("archivist", archiveStartDelay, o.archivist)

	<-ctx.Done()
	o.logger.Info().Msg("shutdown signal received, waiting for components to stop")
	wg.Wait()
	o.logger.Info().Msg("all components stopped")
}
