package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gemscap/quantpulse/internal/broker"
	"github.com/gemscap/quantpulse/internal/model"
)

const serviceName = "market_gateway"

// Service is the Market Gateway: it owns one listener per symbol, a
// short-lived trade buffer, and the heartbeat loop that reports ingestion
// freshness to the Alert/Log Sink.
type Service struct {
	symbols       []string
	exchangeWSURL string
	flushInterval time.Duration
	heartbeat     time.Duration
	parser        Parser
	client        broker.Client
	logger        zerolog.Logger

	mu          sync.Mutex
	buffer      map[string][]model.Tick
	tickCount   map[string]int64
	lastTickMS  map[string]int64
}

// Config collects the Service's tunables; callers typically build this
// directly from internal/config.Config.
type Config struct {
	Symbols       []string
	ExchangeWSURL string
	FlushInterval time.Duration
	Heartbeat     time.Duration
}

// New constructs a gateway Service bound to the given broker client.
func New(cfg Config, client broker.Client, logger zerolog.Logger) *Service {
	buffer := make(map[string][]model.Tick, len(cfg.Symbols))
	tickCount := make(map[string]int64, len(cfg.Symbols))
	lastTick := make(map[string]int64, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		buffer[s] = nil
		tickCount[s] = 0
		lastTick[s] = 0
	}

	return &Service{
		symbols:       cfg.Symbols,
		exchangeWSURL: cfg.ExchangeWSURL,
		flushInterval: cfg.FlushInterval,
		heartbeat:     cfg.Heartbeat,
		parser:        BinanceParser{},
		client:        client,
		logger:        logger.With().Str("component", serviceName).Logger(),
		buffer:        buffer,
		tickCount:     tickCount,
		lastTickMS:    lastTick,
	}
}

// Run starts one listener per symbol plus the flush and heartbeat loops,
// and blocks until ctx is cancelled. On return, any buffered ticks are
// flushed one last time so a clean shutdown never silently drops data.
func (s *Service) Run(ctx context.Context) {
	var wg sync.WaitGroup

	for _, symbol := range s.symbols {
		sym := symbol
		listener := newSymbolListener(sym, s.exchangeWSURL, s.parser, s.logger, func(t model.Tick) {
			s.bufferTick(sym, t)
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			listener.run(ctx)
		}()
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		s.flushLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.heartbeatLoop(ctx)
	}()

	wg.Wait()
	s.flushAll(context.Background())
	s.logger.Info().Msg("market gateway stopped")
}

func (s *Service) bufferTick(symbol string, t model.Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer[symbol] = append(s.buffer[symbol], t)
}

func (s *Service) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.flushAll(ctx)
		}
	}
}

// flushAll drains every symbol's buffer to the broker. Each tick is
// written to both its tick stream and its raw price time series, the
// same pair of writes the original pipeline issued together.
func (s *Service) flushAll(ctx context.Context) {
	for _, symbol := range s.symbols {
		s.mu.Lock()
		ticks := s.buffer[symbol]
		s.buffer[symbol] = nil
		s.mu.Unlock()

		if len(ticks) == 0 {
			continue
		}

		streamKey := broker.TickStreamKey(symbol)
		tsKey := broker.PriceTimeSeriesKey(symbol)

		for _, t := range ticks {
			if _, err := s.client.StreamAppend(ctx, streamKey, t.ToRedisHash()); err != nil {
				s.logger.Error().Err(err).Str("symbol", symbol).Msg("stream append failed")
				continue
			}
			if err := s.client.TimeSeriesAppend(ctx, tsKey, t.TimestampMS, t.Price, broker.TSRetention); err != nil {
				s.logger.Warn().Err(err).Str("symbol", symbol).Msg("time series append failed")
			}

			s.mu.Lock()
			s.tickCount[symbol]++
			s.lastTickMS[symbol] = time.Now().UnixMilli()
			s.mu.Unlock()
		}
	}
}

func (s *Service) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.emitHeartbeat(ctx)
		}
	}
}

func (s *Service) emitHeartbeat(ctx context.Context) {
	now := time.Now().UnixMilli()
	for _, symbol := range s.symbols {
		s.mu.Lock()
		count := s.tickCount[symbol]
		last := s.lastTickMS[symbol]
		s.mu.Unlock()

		freshness := int64(-1)
		if last != 0 {
			freshness = now - last
		}

		s.logger.Info().Str("symbol", symbol).Int64("ticks", count).Int64("freshness_ms", freshness).Msg("heartbeat")

		entry := model.LogEntry{
			TimestampMS: now,
			Service:     serviceName,
			Level:       "INFO",
			Operation:   "heartbeat",
			Message:     fmt.Sprintf("%s tick_count=%d freshness_ms=%d", symbol, count, freshness),
		}
		if err := broker.PublishLog(ctx, s.client, entry); err != nil {
			s.logger.Warn().Err(err).Msg("failed to publish heartbeat log")
		}
	}
}
