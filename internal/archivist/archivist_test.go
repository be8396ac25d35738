package archivist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemscap/quantpulse/internal/broker"
	"github.com/gemscap/quantpulse/internal/model"
)

// fakeStore is an in-memory Store double recording every insert it receives.
type fakeStore struct {
	mu        sync.Mutex
	ticks     []model.Tick
	snapshots []model.AnalyticsSnapshot
	insertErr error
}

func (f *fakeStore) InsertTicksBatch(ctx context.Context, ticks []model.Tick) (int, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks = append(f.ticks, ticks...)
	return len(ticks), nil
}

func (f *fakeStore) InsertAnalyticsSnapshot(ctx context.Context, snap model.AnalyticsSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, snap)
	return nil
}

func pushTicks(ctx context.Context, t *testing.T, fb *broker.FakeBroker, symbol string, n int) {
	t.Helper()
	key := broker.TickStreamKey(symbol)
	for i := 0; i < n; i++ {
		tick := model.Tick{Symbol: symbol, TradeID: int64(i), Price: 100, Qty: 1, TimestampMS: int64(1000 + i)}
		_, err := fb.StreamAppend(ctx, key, tick.ToRedisHash())
		require.NoError(t, err)
	}
}

func TestArchiveTicksDrainsStreamAndAdvancesCursor(t *testing.T) {
	fb := broker.NewFakeBroker()
	store := &fakeStore{}
	ctx := context.Background()
	pushTicks(ctx, t, fb, "BTCUSDT", 3)

	svc := New(Config{Symbols: []string{"BTCUSDT"}, ArchiveInterval: time.Hour, BatchSize: 100}, fb, store, zerolog.Nop())

	svc.mu.Lock()
	svc.cursors["tick:BTCUSDT"] = "0"
	svc.mu.Unlock()

	err := svc.archiveTicks(ctx, "BTCUSDT")
	require.NoError(t, err)

	store.mu.Lock()
	assert.Len(t, store.ticks, 3)
	store.mu.Unlock()

	svc.mu.Lock()
	cursor := svc.cursors["tick:BTCUSDT"]
	svc.mu.Unlock()
	assert.NotEqual(t, "0", cursor)
}

func TestArchiveTicksNoNewEntriesIsANoop(t *testing.T) {
	fb := broker.NewFakeBroker()
	store := &fakeStore{}
	svc := New(Config{Symbols: []string{"BTCUSDT"}, ArchiveInterval: time.Hour, BatchSize: 100}, fb, store, zerolog.Nop())

	err := svc.archiveTicks(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, store.ticks)
}

func TestArchiveTicksCursorNotAdvancedOnInsertFailure(t *testing.T) {
	fb := broker.NewFakeBroker()
	store := &fakeStore{insertErr: errors.New("insert failed")}
	ctx := context.Background()
	pushTicks(ctx, t, fb, "BTCUSDT", 2)

	svc := New(Config{Symbols: []string{"BTCUSDT"}, ArchiveInterval: time.Hour, BatchSize: 100}, fb, store, zerolog.Nop())
	svc.mu.Lock()
	svc.cursors["tick:BTCUSDT"] = "0"
	svc.mu.Unlock()

	err := svc.archiveTicks(ctx, "BTCUSDT")
	assert.Error(t, err)

	svc.mu.Lock()
	cursor := svc.cursors["tick:BTCUSDT"]
	svc.mu.Unlock()
	assert.Equal(t, "0", cursor, "a failed insert must not advance the cursor, so the next run retries these entries")
}

func TestArchiveAnalyticsSkipsEmptyHash(t *testing.T) {
	fb := broker.NewFakeBroker()
	store := &fakeStore{}
	svc := New(Config{Symbols: []string{"BTCUSDT"}, ArchiveInterval: time.Hour, BatchSize: 100}, fb, store, zerolog.Nop())

	err := svc.archiveAnalytics(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, store.snapshots)
}

func TestArchiveAnalyticsArchivesCurrentHash(t *testing.T) {
	fb := broker.NewFakeBroker()
	store := &fakeStore{}
	ctx := context.Background()

	z := 2.5
	snap := model.AnalyticsSnapshot{Symbol: "BTCUSDT", TimestampMS: 1000, LastPrice: 100, ZScore: &z, ValidityStatus: model.ValidityValid}
	require.NoError(t, fb.HashSet(ctx, broker.AnalyticsStateKey("BTCUSDT"), snap.ToRedisHash()))

	svc := New(Config{Symbols: []string{"BTCUSDT"}, ArchiveInterval: time.Hour, BatchSize: 100}, fb, store, zerolog.Nop())
	err := svc.archiveAnalytics(ctx, "BTCUSDT")
	require.NoError(t, err)

	require.Len(t, store.snapshots, 1)
	assert.Equal(t, "BTCUSDT", store.snapshots[0].Symbol)
	require.NotNil(t, store.snapshots[0].ZScore)
	assert.Equal(t, 2.5, *store.snapshots[0].ZScore)
}

func TestAnalyticsFromHashParsesOptionalFields(t *testing.T) {
	h := map[string]string{
		"timestamp":       "1700000000000",
		"last_price":      "100.5",
		"z_score":         "2.5",
		"is_stationary":   "1",
		"tick_count":      "42",
		"validity_status": "valid",
	}
	snap := analyticsFromHash("BTCUSDT", h)
	assert.Equal(t, int64(1700000000000), snap.TimestampMS)
	assert.Equal(t, 100.5, snap.LastPrice)
	require.NotNil(t, snap.ZScore)
	assert.Equal(t, 2.5, *snap.ZScore)
	require.NotNil(t, snap.IsStationary)
	assert.True(t, *snap.IsStationary)
	assert.Equal(t, 42, snap.TickCount)
	assert.Nil(t, snap.Spread)
}
