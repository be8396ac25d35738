package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamAppendAndRead(t *testing.T) {
	ctx := context.Background()
	b := NewFakeBroker()
	key := TickStreamKey("btcusdt")

	id, err := b.StreamAppend(ctx, key, map[string]string{"symbol": "BTCUSDT", "price": "100"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	entries, err := b.StreamRead(ctx, key, "0", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "BTCUSDT", entries[0].Fields["symbol"])
}

func TestStreamReadAfterCursorOnlyReturnsNewEntries(t *testing.T) {
	ctx := context.Background()
	b := NewFakeBroker()
	key := TickStreamKey("ethusdt")

	id1, err := b.StreamAppend(ctx, key, map[string]string{"n": "1"})
	require.NoError(t, err)
	_, err = b.StreamAppend(ctx, key, map[string]string{"n": "2"})
	require.NoError(t, err)

	entries, err := b.StreamRead(ctx, key, id1, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "2", entries[0].Fields["n"])
}

func TestTimeSeriesAppendDedupesOnDuplicateTimestamp(t *testing.T) {
	ctx := context.Background()
	b := NewFakeBroker()
	key := PriceTimeSeriesKey("btcusdt")

	require.NoError(t, b.TimeSeriesAppend(ctx, key, 1000, 50000, TSRetention))
	require.NoError(t, b.TimeSeriesAppend(ctx, key, 1000, 50500, TSRetention))

	points, err := b.TimeSeriesRange(ctx, key, 0, 2000)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 50500.0, points[0].Value)
}

func TestAlertLifecycle(t *testing.T) {
	ctx := context.Background()
	b := NewFakeBroker()

	err := b.AddAlert(ctx, "alert-1", map[string]string{"symbol": "BTCUSDT", "severity": "warning"}, 1000, time.Hour)
	require.NoError(t, err)
	err = b.AddAlert(ctx, "alert-2", map[string]string{"symbol": "ETHUSDT", "severity": "info"}, 2000, time.Hour)
	require.NoError(t, err)

	all, err := b.ActiveAlerts(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "ETHUSDT", all[0]["symbol"], "newest alert should come first")

	filtered, err := b.ActiveAlerts(ctx, 10, "btcusdt")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "BTCUSDT", filtered[0]["symbol"])

	ok, err := b.AcknowledgeAlert(ctx, "alert-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.AcknowledgeAlert(ctx, "does-not-exist")
	require.NoError(t, err)
	assert.False(t, ok)

	removed, err := b.CleanupOldAlerts(ctx, 1500)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestHashRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := NewFakeBroker()
	key := AnalyticsStateKey("btcusdt")

	require.NoError(t, b.HashSet(ctx, key, map[string]string{"last_price": "100", "vwap": "99.5"}))

	all, err := b.HashGetAll(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "100", all["last_price"])

	v, ok, err := b.HashGet(ctx, key, "vwap")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "99.5", v)

	_, ok, err = b.HashGet(ctx, key, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := NewFakeBroker()

	ch, closeFn := b.Subscribe(ctx, ChannelAlerts)
	defer closeFn()

	require.NoError(t, b.Publish(ctx, ChannelAlerts, `{"id":"alert-1"}`))

	select {
	case msg := <-ch:
		assert.Equal(t, ChannelAlerts, msg.Channel)
		assert.Contains(t, msg.Payload, "alert-1")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestKeyNaming(t *testing.T) {
	assert.Equal(t, "stream:ticks:BTCUSDT", TickStreamKey("btcusdt"))
	assert.Equal(t, "ts:price:BTCUSDT", PriceTimeSeriesKey("btcusdt"))
	assert.Equal(t, "ts:ohlc:BTCUSDT:1m", OHLCTimeSeriesKey("btcusdt", "1m"))
	assert.Equal(t, "state:analytics:BTCUSDT", AnalyticsStateKey("btcusdt"))
	assert.Equal(t, "state:analytics:BTCUSDT:ETHUSDT", AnalyticsStateKey("btcusdt:ethusdt"))
}
