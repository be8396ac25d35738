// Package logsink is the Alert/Log Sink: it subscribes to the broker's
// log channel, rate-limits the high-frequency Redis operation logs, and
// persists everything to size-rotating files, split into an all-entries
// log, an errors-only log, and an access log of broker operations.
package logsink

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/gemscap/quantpulse/internal/broker"
	"github.com/gemscap/quantpulse/internal/model"
)

const serviceName = "logsink"

// rateLimitedOps are logged at most once per rateLimitInterval per
// (service, operation); the entries skipped in between are folded into
// the next logged entry's aggregated count.
var rateLimitedOps = map[string]bool{
	"stream_write": true,
	"ts_write":     true,
}

// alwaysLogOps bypass rate limiting entirely regardless of frequency.
var alwaysLogOps = map[string]bool{
	"connect":    true,
	"disconnect": true,
	"error":      true,
	"heartbeat":  true,
}

// accessLogOps additionally get written to the access log. Operations
// outside this set (for example alert writes or stream range reads) go to
// the all/errors logs only.
var accessLogOps = map[string]bool{
	"stream_write":   true,
	"stream_read":    true,
	"hash_write":     true,
	"hash_read":      true,
	"ts_write":       true,
	"ts_read":        true,
	"pubsub_publish": true,
}

const rateLimitInterval = time.Second

// Config collects the Service's tunables.
type Config struct {
	LogDir      string
	MaxSizeMB   int
	BackupCount int
}

// Service subscribes to channel:logs and writes every entry it receives
// to disk, aggregating high-frequency operations rather than dropping
// them.
type Service struct {
	client broker.Client
	logger zerolog.Logger

	all    *rotatingWriter
	errors *rotatingWriter
	access *rotatingWriter

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	counts   map[string]int
}

// New opens the three rotating log files and returns a Service ready to
// Run against the given broker client.
func New(cfg Config, client broker.Client, logger zerolog.Logger) (*Service, error) {
	maxBytes := int64(cfg.MaxSizeMB) * 1024 * 1024

	all, err := newRotatingWriter(filepath.Join(cfg.LogDir, "all.log"), maxBytes, cfg.BackupCount)
	if err != nil {
		return nil, fmt.Errorf("open all.log: %w", err)
	}
	errs, err := newRotatingWriter(filepath.Join(cfg.LogDir, "errors.log"), maxBytes, cfg.BackupCount)
	if err != nil {
		return nil, fmt.Errorf("open errors.log: %w", err)
	}
	access, err := newRotatingWriter(filepath.Join(cfg.LogDir, "access.log"), maxBytes, cfg.BackupCount)
	if err != nil {
		return nil, fmt.Errorf("open access.log: %w", err)
	}

	return &Service{
		client:   client,
		logger:   logger.With().Str("component", serviceName).Logger(),
		all:      all,
		errors:   errs,
		access:   access,
		limiters: make(map[string]*rate.Limiter),
		counts:   make(map[string]int),
	}, nil
}

// Run subscribes to the log channel and processes entries until ctx is
// cancelled, then closes the log files.
func (s *Service) Run(ctx context.Context) {
	msgs, cancel := s.client.Subscribe(ctx, broker.ChannelLogs)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			s.logger.Info().Msg("log sink stopped")
			return
		case msg, ok := <-msgs:
			if !ok {
				s.closeAll()
				return
			}
			s.processMessage(msg.Payload)
		}
	}
}

func (s *Service) closeAll() {
	_ = s.all.Close()
	_ = s.errors.Close()
	_ = s.access.Close()
}

func (s *Service) processMessage(payload string) {
	var entry model.LogEntry
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		// Not a structured entry; write it through verbatim rather than
		// drop it, matching the plain-text fallback this was ported from.
		if werr := s.all.WriteLine(payload); werr != nil {
			s.logger.Error().Err(werr).Msg("failed to write plain log line")
		}
		return
	}

	count, ok := s.shouldLog(entry)
	if !ok {
		return
	}

	line := formatLine(entry, count)
	if err := s.all.WriteLine(line); err != nil {
		s.logger.Error().Err(err).Msg("failed to write to all.log")
	}

	level := strings.ToUpper(entry.Level)
	if level == "ERROR" || level == "WARN" || level == "WARNING" {
		if err := s.errors.WriteLine(line); err != nil {
			s.logger.Error().Err(err).Msg("failed to write to errors.log")
		}
	}

	if accessLogOps[entry.Operation] {
		if err := s.access.WriteLine(line); err != nil {
			s.logger.Error().Err(err).Msg("failed to write to access.log")
		}
	}
}

// shouldLog applies the rate-limit gate, returning (aggregatedCount,
// true) when the entry should be written now. Operations not subject to
// rate limiting always return (0, true); rate-limited operations return
// (0, false) on every call the limiter suppresses, carrying the
// suppressed count forward into the next allowed call.
func (s *Service) shouldLog(entry model.LogEntry) (int, bool) {
	if alwaysLogOps[entry.Operation] || !rateLimitedOps[entry.Operation] {
		return 0, true
	}

	key := entry.Service + ":" + entry.Operation

	s.mu.Lock()
	defer s.mu.Unlock()

	s.counts[key]++

	limiter, ok := s.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(rateLimitInterval), 1)
		s.limiters[key] = limiter
	}
	if !limiter.Allow() {
		return 0, false
	}

	count := s.counts[key]
	s.counts[key] = 0
	return count, true
}

// formatLine renders a log entry as "[time] [service] [level] op=X
// key=Y msg=\"Z\" dur=Xms count=N", omitting fields that are empty or
// zero, matching the line format this was ported from.
func formatLine(entry model.LogEntry, aggregatedCount int) string {
	ts := time.UnixMilli(entry.TimestampMS).UTC()
	level := entry.Level
	if level == "" {
		level = "INFO"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] [%s] op=%s", ts.Format("15:04:05.000"), entry.Service, level, entry.Operation)

	if entry.Key != "" {
		fmt.Fprintf(&b, " key=%s", entry.Key)
	}
	if entry.Message != "" {
		fmt.Fprintf(&b, " msg=%q", entry.Message)
	}
	if entry.DurationMS != nil && *entry.DurationMS > 0 {
		fmt.Fprintf(&b, " dur=%dms", *entry.DurationMS)
	}
	if aggregatedCount > 0 {
		fmt.Fprintf(&b, " count=%d", aggregatedCount)
	}
	return b.String()
}
