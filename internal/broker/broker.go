// Package broker wraps the Redis primitives that back QuantPulse's hot
// state: tick streams, price/OHLC time series, per-symbol analytics
// hashes, the active-alerts index, and the pub/sub log and alert
// channels. Every service that touches Redis goes through this package
// rather than holding its own client, so key naming and error wrapping
// stay in one place.
package broker

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps a broker connectivity failure. Callers at service
// start treat this as fatal; callers mid-loop log and continue, per the
// Fatal/Transient split this system draws around broker errors.
var ErrUnavailable = errors.New("broker: unavailable")

// ErrTimeSeriesUnavailable is returned by the time-series operations when
// the RedisTimeSeries module is not loaded on the target server. Callers
// degrade gracefully rather than treat this as fatal, mirroring how the
// cold store degrades when TimescaleDB's hypertable extension is absent.
var ErrTimeSeriesUnavailable = errors.New("broker: RedisTimeSeries module unavailable")

// StreamEntry is one entry read back from a stream via XREAD/XRANGE.
type StreamEntry struct {
	ID     string
	Fields map[string]string
}

// TimeSeriesPoint is a single (timestamp, value) sample.
type TimeSeriesPoint struct {
	TimestampMS int64
	Value       float64
}

// Message is a single pub/sub delivery.
type Message struct {
	Channel string
	Payload string
}

// Client is the narrow surface every consumer of the broker depends on.
// Production code is backed by RedisBroker; tests use the in-memory fake
// in fake.go.
type Client interface {
	Ping(ctx context.Context) error
	Close() error

	StreamAppend(ctx context.Context, key string, fields map[string]string) (string, error)
	StreamRead(ctx context.Context, key, afterID string, count int, block time.Duration) ([]StreamEntry, error)
	StreamRange(ctx context.Context, key, startID, endID string, count int) ([]StreamEntry, error)

	TimeSeriesAppend(ctx context.Context, key string, timestampMS int64, value float64, retentionMS int64) error
	TimeSeriesRange(ctx context.Context, key string, fromMS, toMS int64) ([]TimeSeriesPoint, error)

	HashSet(ctx context.Context, key string, fields map[string]string) error
	HashGetAll(ctx context.Context, key string) (map[string]string, error)
	HashGet(ctx context.Context, key, field string) (string, bool, error)

	Publish(ctx context.Context, channel, payload string) error
	Subscribe(ctx context.Context, channels ...string) (<-chan Message, func() error)

	AddAlert(ctx context.Context, alertID string, fields map[string]string, timestampMS int64, ttl time.Duration) error
	ActiveAlerts(ctx context.Context, limit int, symbol string) ([]map[string]string, error)
	AcknowledgeAlert(ctx context.Context, alertID string) (bool, error)
	CleanupOldAlerts(ctx context.Context, olderThanMS int64) (int64, error)
}
