// Package archivist is the hot-to-cold storage bridge: on a fixed
// interval it drains each symbol's tick stream and current analytics
// snapshot out of the broker and batch-inserts them into the cold store.
package archivist

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gemscap/quantpulse/internal/broker"
	"github.com/gemscap/quantpulse/internal/model"
)

const serviceName = "archivist"

// Store is the narrow cold-store surface the archivist depends on.
// *coldstore.Store satisfies it; tests use an in-memory fake.
type Store interface {
	InsertTicksBatch(ctx context.Context, ticks []model.Tick) (int, error)
	InsertAnalyticsSnapshot(ctx context.Context, snap model.AnalyticsSnapshot) error
}

// Config collects the Service's tunables.
type Config struct {
	Symbols         []string
	ArchiveInterval time.Duration
	BatchSize       int
}

// Service periodically archives ticks and analytics snapshots for every
// configured symbol. Stream cursors are kept in memory only: a restart
// resumes from "$" (only new), so ticks appended while the service was
// down are not archived, and the archive loop never waits on persisted
// cursor state.
type Service struct {
	symbols  []string
	interval time.Duration
	batch    int
	client   broker.Client
	store    Store
	logger   zerolog.Logger

	mu      sync.Mutex
	cursors map[string]string // "tick:<symbol>" -> last stream ID archived
}

// New constructs an archivist Service bound to the given broker client and
// cold store.
func New(cfg Config, client broker.Client, store Store, logger zerolog.Logger) *Service {
	cursors := make(map[string]string, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		cursors["tick:"+strings.ToUpper(s)] = "$"
	}
	return &Service{
		symbols:  upperAll(cfg.Symbols),
		interval: cfg.ArchiveInterval,
		batch:    cfg.BatchSize,
		client:   client,
		store:    store,
		logger:   logger.With().Str("component", serviceName).Logger(),
		cursors:  cursors,
	}
}

func upperAll(xs []string) []string {
	out := make([]string, len(xs))
	for i, x := range xs {
		out[i] = strings.ToUpper(x)
	}
	return out
}

// Run archives all symbols immediately, then every interval, until ctx is
// cancelled.
func (s *Service) Run(ctx context.Context) {
	s.archiveAll(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("archivist stopped")
			return
		case <-ticker.C:
			s.archiveAll(ctx)
		}
	}
}

func (s *Service) archiveAll(ctx context.Context) {
	for _, symbol := range s.symbols {
		if err := s.archiveTicks(ctx, symbol); err != nil {
			s.logger.Error().Err(err).Str("symbol", symbol).Msg("error archiving ticks")
		}
		if err := s.archiveAnalytics(ctx, symbol); err != nil {
			s.logger.Error().Err(err).Str("symbol", symbol).Msg("error archiving analytics")
		}
	}
}

// archiveTicks drains up to batch ticks from the symbol's stream into the
// cold store. The cursor only advances past what was actually read: a
// failed insert leaves it untouched so the next run retries the same
// entries, giving at-least-once delivery into the cold store.
func (s *Service) archiveTicks(ctx context.Context, symbol string) error {
	cursorKey := "tick:" + symbol
	s.mu.Lock()
	cursor := s.cursors[cursorKey]
	s.mu.Unlock()

	entries, err := s.client.StreamRead(ctx, broker.TickStreamKey(symbol), cursor, s.batch, 0)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	ticks := make([]model.Tick, 0, len(entries))
	for _, e := range entries {
		tick, err := model.TickFromRedisHash(e.Fields)
		if err != nil {
			s.logger.Warn().Err(err).Str("symbol", symbol).Msg("invalid tick data")
			continue
		}
		ticks = append(ticks, tick)
	}

	if len(ticks) > 0 {
		n, err := s.store.InsertTicksBatch(ctx, ticks)
		if err != nil {
			return err
		}
		s.logger.Info().Str("symbol", symbol).Int("count", n).Msg("archived ticks")
	}

	s.mu.Lock()
	s.cursors[cursorKey] = entries[len(entries)-1].ID
	s.mu.Unlock()
	return nil
}

// archiveAnalytics snapshots the symbol's current analytics-state hash
// into the cold store. A missing or empty hash (nothing computed yet) is
// not an error.
func (s *Service) archiveAnalytics(ctx context.Context, symbol string) error {
	data, err := s.client.HashGetAll(ctx, broker.AnalyticsStateKey(symbol))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	snapshot := analyticsFromHash(symbol, data)
	if err := s.store.InsertAnalyticsSnapshot(ctx, snapshot); err != nil {
		return err
	}
	s.logger.Debug().Str("symbol", symbol).Msg("archived analytics snapshot")
	return nil
}

func analyticsFromHash(symbol string, h map[string]string) model.AnalyticsSnapshot {
	snap := model.AnalyticsSnapshot{
		Symbol:     symbol,
		PairSymbol: h["pair_symbol"],
	}
	if ts, err := strconv.ParseInt(h["timestamp"], 10, 64); err == nil {
		snap.TimestampMS = ts
	}
	if v, ok := parseFloatField(h, "last_price"); ok {
		snap.LastPrice = v
	}
	snap.Spread = parseFloatPtr(h, "spread")
	snap.HedgeRatio = parseFloatPtr(h, "hedge_ratio")
	snap.ZScore = parseFloatPtr(h, "z_score")
	snap.Correlation = parseFloatPtr(h, "correlation")
	snap.ADFStatistic = parseFloatPtr(h, "adf_statistic")
	snap.ADFPValue = parseFloatPtr(h, "adf_pvalue")
	if h["is_stationary"] != "" {
		b := h["is_stationary"] == "1"
		snap.IsStationary = &b
	}
	if tc, err := strconv.Atoi(h["tick_count"]); err == nil {
		snap.TickCount = tc
	}
	snap.ValidityStatus = model.DataValidityStatus(h["validity_status"])
	return snap
}

func parseFloatField(h map[string]string, key string) (float64, bool) {
	raw, ok := h[key]
	if !ok || raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	return v, err == nil
}

func parseFloatPtr(h map[string]string, key string) *float64 {
	v, ok := parseFloatField(h, key)
	if !ok {
		return nil
	}
	return &v
}
