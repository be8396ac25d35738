package quant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gemscap/quantpulse/internal/broker"
	"github.com/gemscap/quantpulse/internal/model"
)

const serviceName = "quant_engine"

const (
	symbolComputeThrottle = 500 * time.Millisecond
	pairComputeThrottle   = 1 * time.Second
	streamReadBlock       = 500 * time.Millisecond
	streamReadCount       = 100

	alertTTL = 24 * time.Hour
)

// Config collects the Service's tunables, typically built from
// internal/config.Config.
type Config struct {
	Symbols         []string
	WindowSize      int
	AlertZThreshold float64
}

// Service is the Quant Engine: it consumes each symbol's tick stream into
// a rolling window, then on a throttle recomputes single-symbol and
// cross-symbol pair analytics, publishing snapshots to the broker's
// analytics-state hashes and raising alerts on z-score breaches.
type Service struct {
	symbols    []string
	windowSize int
	zThreshold float64
	client     broker.Client
	logger     zerolog.Logger

	mu      sync.RWMutex
	windows map[string]*symbolWindow
	cursors map[string]string

	throttleMu    sync.Mutex
	lastComputeMS map[string]int64
}

// New constructs a quant engine Service bound to the given broker client.
func New(cfg Config, client broker.Client, logger zerolog.Logger) *Service {
	windows := make(map[string]*symbolWindow, len(cfg.Symbols))
	cursors := make(map[string]string, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		sym := strings.ToUpper(s)
		windows[sym] = newSymbolWindow(cfg.WindowSize)
		cursors[sym] = "$"
	}

	return &Service{
		symbols:       upperAll(cfg.Symbols),
		windowSize:    cfg.WindowSize,
		zThreshold:    cfg.AlertZThreshold,
		client:        client,
		logger:        logger.With().Str("component", serviceName).Logger(),
		windows:       windows,
		cursors:       cursors,
		lastComputeMS: make(map[string]int64),
	}
}

func upperAll(xs []string) []string {
	out := make([]string, len(xs))
	for i, x := range xs {
		out[i] = strings.ToUpper(x)
	}
	return out
}

// Run starts one consumer goroutine per symbol plus the shared compute
// loop, and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	var wg sync.WaitGroup

	for _, symbol := range s.symbols {
		sym := symbol
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.consumeLoop(ctx, sym)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.computeLoop(ctx)
	}()

	wg.Wait()
	s.logger.Info().Msg("quant engine stopped")
}

// consumeLoop blocks on the symbol's tick stream, appending each new tick
// into its rolling window. Reading starts from "$" (only new entries) so a
// restart never reprocesses ticks archived by a previous run.
func (s *Service) consumeLoop(ctx context.Context, symbol string) {
	key := broker.TickStreamKey(symbol)
	for ctx.Err() == nil {
		s.mu.RLock()
		cursor := s.cursors[symbol]
		s.mu.RUnlock()

		entries, err := s.client.StreamRead(ctx, key, cursor, streamReadCount, streamReadBlock)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn().Err(err).Str("symbol", symbol).Msg("stream read failed")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		if len(entries) == 0 {
			continue
		}

		s.mu.Lock()
		w := s.windows[symbol]
		for _, e := range entries {
			tick, err := model.TickFromRedisHash(e.Fields)
			if err != nil {
				s.logger.Warn().Err(err).Str("symbol", symbol).Msg("dropping malformed tick")
				continue
			}
			w.push(tick.Price, tick.Qty, tick.TimestampMS)
		}
		s.cursors[symbol] = entries[len(entries)-1].ID
		s.mu.Unlock()
	}
}

// computeLoop periodically recomputes analytics for every symbol and pair,
// throttled independently per key so a busy symbol never starves a quiet
// one and pairs recompute half as often as single symbols.
func (s *Service) computeLoop(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.computeAll(ctx)
		}
	}
}

func (s *Service) computeAll(ctx context.Context) {
	now := time.Now().UnixMilli()

	for _, symbol := range s.symbols {
		if !s.shouldCompute(symbol, now, symbolComputeThrottle) {
			continue
		}
		// Held for the whole snapshot computation, not just the map
		// lookup: singleSymbolSnapshot reads the window's slices directly,
		// and consumeLoop only ever mutates a window under s.mu.Lock.
		s.mu.RLock()
		w := s.windows[symbol]
		snapshot, ok := singleSymbolSnapshot(symbol, w, s.windowSize, now)
		s.mu.RUnlock()
		if !ok {
			continue
		}
		s.publishAndAlert(ctx, broker.AnalyticsStateKey(symbol), snapshot)
	}

	if len(s.symbols) < 2 {
		return
	}
	for i, symA := range s.symbols {
		for _, symB := range s.symbols[i+1:] {
			pairKey := symA + ":" + symB
			if !s.shouldCompute(pairKey, now, pairComputeThrottle) {
				continue
			}
			s.mu.RLock()
			wa, wb := s.windows[symA], s.windows[symB]
			snapshot, ok := pairSnapshot(symA, symB, wa, wb, s.windowSize, now)
			s.mu.RUnlock()
			if !ok {
				continue
			}
			s.publishAndAlert(ctx, broker.AnalyticsStateKey(symA+":"+symB), snapshot)
		}
	}
}

func (s *Service) shouldCompute(key string, now int64, throttle time.Duration) bool {
	s.throttleMu.Lock()
	defer s.throttleMu.Unlock()
	if now-s.lastComputeMS[key] < throttle.Milliseconds() {
		return false
	}
	s.lastComputeMS[key] = now
	return true
}

func (s *Service) publishAndAlert(ctx context.Context, stateKey string, snapshot model.AnalyticsSnapshot) {
	if err := s.client.HashSet(ctx, stateKey, snapshot.ToRedisHash()); err != nil {
		s.logger.Error().Err(err).Str("key", stateKey).Msg("failed to publish analytics")
		return
	}
	s.checkAlerts(ctx, snapshot)
}

// checkAlerts raises z_score_high/z_score_low alerts on threshold
// breaches. Data-staleness alerting is intentionally not wired here: it
// shipped disabled in the system this was ported from and nothing in this
// codebase's scope re-enables it.
func (s *Service) checkAlerts(ctx context.Context, snapshot model.AnalyticsSnapshot) {
	if snapshot.ZScore == nil {
		return
	}
	z := *snapshot.ZScore

	subject := snapshot.Symbol
	if snapshot.PairSymbol != "" {
		subject = snapshot.Symbol + ":" + snapshot.PairSymbol
	}

	var alert *model.Alert
	switch {
	case z > s.zThreshold:
		threshold := s.zThreshold
		alert = &model.Alert{
			ID:          uuid.NewString(),
			AlertType:   model.AlertZScoreHigh,
			Symbol:      subject,
			Message:     fmt.Sprintf("Z-score above threshold: %.2f > %.2f", z, s.zThreshold),
			TimestampMS: snapshot.TimestampMS,
			Severity:    model.SeverityWarning,
			Value:       &z,
			Threshold:   &threshold,
		}
	case z < -s.zThreshold:
		threshold := -s.zThreshold
		alert = &model.Alert{
			ID:          uuid.NewString(),
			AlertType:   model.AlertZScoreLow,
			Symbol:      subject,
			Message:     fmt.Sprintf("Z-score below threshold: %.2f < %.2f", z, -s.zThreshold),
			TimestampMS: snapshot.TimestampMS,
			Severity:    model.SeverityWarning,
			Value:       &z,
			Threshold:   &threshold,
		}
	default:
		return
	}

	s.raiseAlert(ctx, *alert)
}

func (s *Service) raiseAlert(ctx context.Context, alert model.Alert) {
	fields := alert.ToRedisHash()
	if err := s.client.AddAlert(ctx, alert.ID, fields, alert.TimestampMS, alertTTL); err != nil {
		s.logger.Error().Err(err).Str("alert_id", alert.ID).Msg("failed to store alert")
		return
	}
	if err := s.client.Publish(ctx, broker.ChannelAlerts, encodeAlert(fields)); err != nil {
		s.logger.Warn().Err(err).Str("alert_id", alert.ID).Msg("failed to publish alert")
	}
	s.logger.Info().Str("alert_id", alert.ID).Str("type", string(alert.AlertType)).Msg(alert.Message)
}

// encodeAlert JSON-encodes an alert's hash fields for the pub/sub channel,
// matching the hot-storage record field for field. Marshaling a
// map[string]string cannot fail, so the error is deliberately discarded.
func encodeAlert(fields map[string]string) string {
	payload, _ := json.Marshal(fields)
	return string(payload)
}
