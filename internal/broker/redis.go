package broker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisBroker is the production Client backed by a single *redis.Client.
// Per the one-client-per-service rule, each service constructs exactly
// one RedisBroker and keeps it for its full lifetime.
type RedisBroker struct {
	rdb    *redis.Client
	ps     *redis.PubSub
	logger zerolog.Logger
}

// New dials Redis using the given URL and verifies connectivity with a
// PING before returning, so construction failures are reported at
// startup rather than on first use.
func New(ctx context.Context, redisURL string, logger zerolog.Logger) (*RedisBroker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse redis url: %v", ErrUnavailable, err)
	}
	opts.DialTimeout = 10 * time.Second
	opts.ReadTimeout = 10 * time.Second

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
	}

	return &RedisBroker{rdb: rdb, logger: logger.With().Str("component", "broker").Logger()}, nil
}

func (b *RedisBroker) Ping(ctx context.Context) error {
	if err := b.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (b *RedisBroker) Close() error {
	if b.ps != nil {
		_ = b.ps.Close()
	}
	return b.rdb.Close()
}

func (b *RedisBroker) logOp(op, key string, start time.Time, err error) {
	ev := b.logger.Debug()
	if err != nil {
		ev = b.logger.Warn().Err(err)
	}
	ev.Str("op", op).Str("key", key).Dur("dur", time.Since(start)).Msg("broker operation")
}

// StreamAppend adds an entry to a stream, trimming entries older than
// StreamRetention via an approximate MINID so trimming stays O(1) amortized.
func (b *RedisBroker) StreamAppend(ctx context.Context, key string, fields map[string]string) (string, error) {
	start := time.Now()
	minID := fmt.Sprintf("%d-0", time.Now().UnixMilli()-StreamRetention)
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}

	id, err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream:     key,
		MinID:      minID,
		Approx:     true,
		Values:     values,
	}).Result()
	b.logOp("stream_write", key, start, err)
	if err != nil {
		return "", fmt.Errorf("stream append %s: %w", key, err)
	}
	return id, nil
}

// StreamRead blocks for up to `block` reading new entries after afterID
// ("$" for only-new, "0" for from-the-beginning).
func (b *RedisBroker) StreamRead(ctx context.Context, key, afterID string, count int, block time.Duration) ([]StreamEntry, error) {
	start := time.Now()
	res, err := b.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{key, afterID},
		Count:   int64(count),
		Block:   block,
	}).Result()
	b.logOp("stream_read", key, start, err)
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stream read %s: %w", key, err)
	}
	if len(res) == 0 {
		return nil, nil
	}
	return toEntries(res[0].Messages), nil
}

// StreamRange reads entries in [startID, endID] via XRANGE.
func (b *RedisBroker) StreamRange(ctx context.Context, key, startID, endID string, count int) ([]StreamEntry, error) {
	start := time.Now()
	var res []redis.XMessage
	var err error
	if count > 0 {
		res, err = b.rdb.XRangeN(ctx, key, startID, endID, int64(count)).Result()
	} else {
		res, err = b.rdb.XRange(ctx, key, startID, endID).Result()
	}
	b.logOp("stream_xrange", key, start, err)
	if err != nil {
		return nil, fmt.Errorf("stream range %s: %w", key, err)
	}
	return toEntries(res), nil
}

func toEntries(msgs []redis.XMessage) []StreamEntry {
	out := make([]StreamEntry, 0, len(msgs))
	for _, m := range msgs {
		fields := make(map[string]string, len(m.Values))
		for k, v := range m.Values {
			fields[k] = fmt.Sprintf("%v", v)
		}
		out = append(out, StreamEntry{ID: m.ID, Fields: fields})
	}
	return out
}

// TimeSeriesAppend issues TS.ADD with ON_DUPLICATE LAST, creating the
// series with TS.CREATE on first use if it does not exist yet.
func (b *RedisBroker) TimeSeriesAppend(ctx context.Context, key string, timestampMS int64, value float64, retentionMS int64) error {
	start := time.Now()
	err := b.rdb.Do(ctx, "TS.ADD", key, timestampMS, value,
		"RETENTION", retentionMS, "ON_DUPLICATE", "LAST").Err()
	if err != nil {
		if isUnknownCommand(err) {
			b.logOp("ts_write", key, start, err)
			return ErrTimeSeriesUnavailable
		}
		// Key doesn't exist yet under a stricter duplicate policy: create then retry.
		if createErr := b.rdb.Do(ctx, "TS.CREATE", key,
			"RETENTION", retentionMS, "DUPLICATE_POLICY", "LAST").Err(); createErr != nil && !isUnknownCommand(createErr) {
			b.logOp("ts_write", key, start, createErr)
			return fmt.Errorf("ts create %s: %w", key, createErr)
		}
		err = b.rdb.Do(ctx, "TS.ADD", key, timestampMS, value).Err()
	}
	b.logOp("ts_write", key, start, err)
	if err != nil {
		if isUnknownCommand(err) {
			return ErrTimeSeriesUnavailable
		}
		return fmt.Errorf("ts add %s: %w", key, err)
	}
	return nil
}

// TimeSeriesRange issues TS.RANGE over [fromMS, toMS].
func (b *RedisBroker) TimeSeriesRange(ctx context.Context, key string, fromMS, toMS int64) ([]TimeSeriesPoint, error) {
	start := time.Now()
	res, err := b.rdb.Do(ctx, "TS.RANGE", key, fromMS, toMS).Slice()
	b.logOp("ts_read", key, start, err)
	if err != nil {
		if isUnknownCommand(err) {
			return nil, ErrTimeSeriesUnavailable
		}
		return nil, fmt.Errorf("ts range %s: %w", key, err)
	}
	out := make([]TimeSeriesPoint, 0, len(res))
	for _, raw := range res {
		pair, ok := raw.([]interface{})
		if !ok || len(pair) != 2 {
			continue
		}
		ts, _ := toInt64(pair[0])
		val, _ := toFloat64(pair[1])
		out = append(out, TimeSeriesPoint{TimestampMS: ts, Value: val})
	}
	return out, nil
}

func isUnknownCommand(err error) bool {
	return err != nil && strings.Contains(err.Error(), "unknown command")
}

func toInt64(v interface{}) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case string:
		return strconv.ParseInt(t, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func toFloat64(v interface{}) (float64, error) {
	switch t := v.(type) {
	case string:
		return strconv.ParseFloat(t, 64)
	case float64:
		return t, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func (b *RedisBroker) HashSet(ctx context.Context, key string, fields map[string]string) error {
	start := time.Now()
	values := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		values = append(values, k, v)
	}
	err := b.rdb.HSet(ctx, key, values...).Err()
	b.logOp("hash_write", key, start, err)
	if err != nil {
		return fmt.Errorf("hash set %s: %w", key, err)
	}
	return nil
}

func (b *RedisBroker) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	start := time.Now()
	res, err := b.rdb.HGetAll(ctx, key).Result()
	b.logOp("hash_read", key, start, err)
	if err != nil {
		return nil, fmt.Errorf("hash getall %s: %w", key, err)
	}
	return res, nil
}

func (b *RedisBroker) HashGet(ctx context.Context, key, field string) (string, bool, error) {
	start := time.Now()
	res, err := b.rdb.HGet(ctx, key, field).Result()
	b.logOp("hash_read", key, start, err)
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("hash get %s.%s: %w", key, field, err)
	}
	return res, true, nil
}

func (b *RedisBroker) Publish(ctx context.Context, channel, payload string) error {
	start := time.Now()
	err := b.rdb.Publish(ctx, channel, payload).Err()
	b.logOp("pubsub_publish", channel, start, err)
	if err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns a channel of incoming messages and a cancel function.
// The returned channel is closed once cancel is called or the context
// driving the underlying PubSub is cancelled.
func (b *RedisBroker) Subscribe(ctx context.Context, channels ...string) (<-chan Message, func() error) {
	ps := b.rdb.Subscribe(ctx, channels...)
	out := make(chan Message, 256)
	go func() {
		defer close(out)
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				out <- Message{Channel: m.Channel, Payload: m.Payload}
			}
		}
	}()
	return out, ps.Close
}

func (b *RedisBroker) AddAlert(ctx context.Context, alertID string, fields map[string]string, timestampMS int64, ttl time.Duration) error {
	start := time.Now()
	key := AlertKey(alertID)
	if err := b.HashSet(ctx, key, fields); err != nil {
		return err
	}
	if err := b.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("alert expire %s: %w", key, err)
	}
	err := b.rdb.ZAdd(ctx, activeAlertsKey, redis.Z{Score: float64(timestampMS), Member: alertID}).Err()
	b.logOp("alert_write", key, start, err)
	if err != nil {
		return fmt.Errorf("alert zadd %s: %w", alertID, err)
	}
	return nil
}

func (b *RedisBroker) ActiveAlerts(ctx context.Context, limit int, symbol string) ([]map[string]string, error) {
	start := time.Now()
	ids, err := b.rdb.ZRevRange(ctx, activeAlertsKey, 0, int64(limit)-1).Result()
	if err != nil {
		b.logOp("alert_read", activeAlertsKey, start, err)
		return nil, fmt.Errorf("active alerts zrevrange: %w", err)
	}

	out := make([]map[string]string, 0, len(ids))
	for _, id := range ids {
		data, err := b.rdb.HGetAll(ctx, AlertKey(id)).Result()
		if err != nil || len(data) == 0 {
			continue
		}
		if symbol != "" && !strings.EqualFold(data["symbol"], symbol) {
			continue
		}
		out = append(out, data)
	}
	b.logOp("alert_read", activeAlertsKey, start, nil)
	return out, nil
}

func (b *RedisBroker) AcknowledgeAlert(ctx context.Context, alertID string) (bool, error) {
	key := AlertKey(alertID)
	n, err := b.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("alert exists %s: %w", key, err)
	}
	if n == 0 {
		return false, nil
	}
	if err := b.rdb.HSet(ctx, key, "acknowledged", "1").Err(); err != nil {
		return false, fmt.Errorf("alert ack %s: %w", key, err)
	}
	return true, nil
}

func (b *RedisBroker) CleanupOldAlerts(ctx context.Context, olderThanMS int64) (int64, error) {
	start := time.Now()
	removed, err := b.rdb.ZRemRangeByScore(ctx, activeAlertsKey, "-inf", strconv.FormatInt(olderThanMS, 10)).Result()
	b.logOp("alert_cleanup", activeAlertsKey, start, err)
	if err != nil {
		return 0, fmt.Errorf("cleanup old alerts: %w", err)
	}
	return removed, nil
}
