package broker

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FakeBroker is an in-memory Client used by package tests across
// gateway/quant/archivist/logsink, since redismock only targets
// go-redis/v8 and this project standardizes on v9. It reproduces stream
// ordering, MINID trimming, hash semantics and the alert sorted-set index
// closely enough to exercise the invariants these packages rely on.
type FakeBroker struct {
	mu      sync.Mutex
	streams map[string][]StreamEntry
	series  map[string][]TimeSeriesPoint
	hashes  map[string]map[string]string
	zsets   map[string]map[string]float64
	subs    map[string][]chan Message
	seq     int64
}

// NewFakeBroker returns an empty FakeBroker ready for use.
func NewFakeBroker() *FakeBroker {
	return &FakeBroker{
		streams: make(map[string][]StreamEntry),
		series:  make(map[string][]TimeSeriesPoint),
		hashes:  make(map[string]map[string]string),
		zsets:   make(map[string]map[string]float64),
		subs:    make(map[string][]chan Message),
	}
}

func (f *FakeBroker) Ping(ctx context.Context) error { return nil }
func (f *FakeBroker) Close() error                   { return nil }

func (f *FakeBroker) StreamAppend(ctx context.Context, key string, fields map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("%d-0", time.Now().UnixMilli()*1000+f.seq)
	f.streams[key] = append(f.streams[key], StreamEntry{ID: id, Fields: copyMap(fields)})

	minTS := time.Now().UnixMilli() - StreamRetention
	entries := f.streams[key]
	trimmed := entries[:0]
	for _, e := range entries {
		ts, _ := entryTimestampMS(e.ID)
		if ts >= minTS {
			trimmed = append(trimmed, e)
		}
	}
	f.streams[key] = trimmed
	return id, nil
}

func entryTimestampMS(id string) (int64, error) {
	parts := strings.SplitN(id, "-", 2)
	ms, err := strconv.ParseInt(parts[0], 10, 64)
	return ms / 1000, err
}

func (f *FakeBroker) StreamRead(ctx context.Context, key, afterID string, count int, block time.Duration) ([]StreamEntry, error) {
	f.mu.Lock()
	entries := append([]StreamEntry(nil), f.streams[key]...)
	f.mu.Unlock()

	var out []StreamEntry
	started := afterID == "0" || afterID == ""
	for _, e := range entries {
		if started {
			out = append(out, e)
		} else if e.ID == afterID {
			started = true
		}
	}
	if count > 0 && len(out) > count {
		out = out[:count]
	}
	return out, nil
}

func (f *FakeBroker) StreamRange(ctx context.Context, key, startID, endID string, count int) ([]StreamEntry, error) {
	f.mu.Lock()
	entries := append([]StreamEntry(nil), f.streams[key]...)
	f.mu.Unlock()
	if count > 0 && len(entries) > count {
		entries = entries[:count]
	}
	return entries, nil
}

func (f *FakeBroker) TimeSeriesAppend(ctx context.Context, key string, timestampMS int64, value float64, retentionMS int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	pts := f.series[key]
	for i, p := range pts {
		if p.TimestampMS == timestampMS {
			pts[i].Value = value
			return nil
		}
	}
	f.series[key] = append(pts, TimeSeriesPoint{TimestampMS: timestampMS, Value: value})
	minTS := timestampMS - retentionMS
	kept := f.series[key][:0]
	for _, p := range f.series[key] {
		if p.TimestampMS >= minTS {
			kept = append(kept, p)
		}
	}
	f.series[key] = kept
	return nil
}

func (f *FakeBroker) TimeSeriesRange(ctx context.Context, key string, fromMS, toMS int64) ([]TimeSeriesPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []TimeSeriesPoint
	for _, p := range f.series[key] {
		if p.TimestampMS >= fromMS && p.TimestampMS <= toMS {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *FakeBroker) HashSet(ctx context.Context, key string, fields map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hashes[key]
	if !ok {
		h = make(map[string]string)
		f.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (f *FakeBroker) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyMap(f.hashes[key]), nil
}

func (f *FakeBroker) HashGet(ctx context.Context, key, field string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hashes[key]
	if !ok {
		return "", false, nil
	}
	v, ok := h[field]
	return v, ok, nil
}

func (f *FakeBroker) Publish(ctx context.Context, channel, payload string) error {
	f.mu.Lock()
	subs := append([]chan Message(nil), f.subs[channel]...)
	f.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- Message{Channel: channel, Payload: payload}:
		default:
		}
	}
	return nil
}

func (f *FakeBroker) Subscribe(ctx context.Context, channels ...string) (<-chan Message, func() error) {
	out := make(chan Message, 256)
	f.mu.Lock()
	for _, c := range channels {
		f.subs[c] = append(f.subs[c], out)
	}
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		close(out)
	}()

	return out, func() error { return nil }
}

func (f *FakeBroker) AddAlert(ctx context.Context, alertID string, fields map[string]string, timestampMS int64, ttl time.Duration) error {
	if err := f.HashSet(ctx, AlertKey(alertID), fields); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	z, ok := f.zsets[activeAlertsKey]
	if !ok {
		z = make(map[string]float64)
		f.zsets[activeAlertsKey] = z
	}
	z[alertID] = float64(timestampMS)
	return nil
}

func (f *FakeBroker) ActiveAlerts(ctx context.Context, limit int, symbol string) ([]map[string]string, error) {
	f.mu.Lock()
	z := f.zsets[activeAlertsKey]
	ids := make([]string, 0, len(z))
	for id := range z {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return z[ids[i]] > z[ids[j]] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	f.mu.Unlock()

	out := make([]map[string]string, 0, len(ids))
	for _, id := range ids {
		data, _ := f.HashGetAll(ctx, AlertKey(id))
		if len(data) == 0 {
			continue
		}
		if symbol != "" && !strings.EqualFold(data["symbol"], symbol) {
			continue
		}
		out = append(out, data)
	}
	return out, nil
}

func (f *FakeBroker) AcknowledgeAlert(ctx context.Context, alertID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hashes[AlertKey(alertID)]
	if !ok {
		return false, nil
	}
	h["acknowledged"] = "1"
	return true, nil
}

func (f *FakeBroker) CleanupOldAlerts(ctx context.Context, olderThanMS int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	z := f.zsets[activeAlertsKey]
	var removed int64
	for id, score := range z {
		if score <= float64(olderThanMS) {
			delete(z, id)
			removed++
		}
	}
	return removed, nil
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var _ Client = (*FakeBroker)(nil)
