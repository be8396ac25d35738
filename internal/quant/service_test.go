package quant

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemscap/quantpulse/internal/broker"
	"github.com/gemscap/quantpulse/internal/model"
)

func pushTicks(ctx context.Context, t *testing.T, fb *broker.FakeBroker, symbol string, prices []float64, startMS int64) {
	t.Helper()
	key := broker.TickStreamKey(symbol)
	for i, p := range prices {
		tick := model.Tick{Symbol: symbol, TradeID: int64(i), Price: p, Qty: 1, TimestampMS: startMS + int64(i)}
		_, err := fb.StreamAppend(ctx, key, tick.ToRedisHash())
		require.NoError(t, err)
	}
}

func TestStreamEntriesDecodeIntoWindow(t *testing.T) {
	fb := broker.NewFakeBroker()
	svc := New(Config{Symbols: []string{"btcusdt"}, WindowSize: 100, AlertZThreshold: 2.0}, fb, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	pushTicks(ctx, t, fb, "BTCUSDT", []float64{100, 101, 102}, 1000)

	// Replays one pass of consumeLoop's read-decode-push by hand rather
	// than running consumeLoop itself, since FakeBroker never blocks and
	// consumeLoop would spin against it.
	entries, err := fb.StreamRead(ctx, broker.TickStreamKey("BTCUSDT"), "$", streamReadCount, streamReadBlock)
	require.NoError(t, err)
	assert.Empty(t, entries, "afterID \"$\" never matches a literal entry ID in the fake, mirroring only-new semantics")

	entries, err = fb.StreamRead(ctx, broker.TickStreamKey("BTCUSDT"), "0", streamReadCount, streamReadBlock)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	svc.mu.Lock()
	w := svc.windows["BTCUSDT"]
	for _, e := range entries {
		tick, err := model.TickFromRedisHash(e.Fields)
		require.NoError(t, err)
		w.push(tick.Price, tick.Qty, tick.TimestampMS)
	}
	svc.mu.Unlock()

	assert.Equal(t, 3, w.count)
	cancel()
}

func TestComputeAllPublishesSingleSymbolAnalytics(t *testing.T) {
	fb := broker.NewFakeBroker()
	svc := New(Config{Symbols: []string{"BTCUSDT"}, WindowSize: 100, AlertZThreshold: 2.0}, fb, zerolog.Nop())

	prices := make([]float64, 25)
	for i := range prices {
		prices[i] = 100 + float64(i)
	}
	svc.mu.Lock()
	fillWindow(svc.windows["BTCUSDT"], prices, 1000)
	svc.mu.Unlock()

	ctx := context.Background()
	svc.computeAll(ctx)

	hash, err := fb.HashGetAll(ctx, broker.AnalyticsStateKey("BTCUSDT"))
	require.NoError(t, err)
	assert.Equal(t, "warming_up", hash["validity_status"])
	assert.Equal(t, "25", hash["tick_count"])
}

func TestComputeAllThrottlesRepeatedCalls(t *testing.T) {
	fb := broker.NewFakeBroker()
	svc := New(Config{Symbols: []string{"BTCUSDT"}, WindowSize: 100, AlertZThreshold: 2.0}, fb, zerolog.Nop())

	svc.mu.Lock()
	fillWindow(svc.windows["BTCUSDT"], []float64{100, 101, 102}, 1000)
	svc.mu.Unlock()

	ctx := context.Background()
	svc.computeAll(ctx)
	svc.mu.Lock()
	svc.windows["BTCUSDT"].push(999, 1, 5000)
	svc.mu.Unlock()
	svc.computeAll(ctx) // same tick in time.Now() terms, should be throttled

	hash, err := fb.HashGetAll(ctx, broker.AnalyticsStateKey("BTCUSDT"))
	require.NoError(t, err)
	assert.NotEqual(t, "999", hash["last_price"], "second call within the throttle window should be skipped")
}

func TestCheckAlertsRaisesZScoreHighAlert(t *testing.T) {
	fb := broker.NewFakeBroker()
	svc := New(Config{Symbols: []string{"BTCUSDT", "ETHUSDT"}, WindowSize: 100, AlertZThreshold: 1.0}, fb, zerolog.Nop())

	z := 5.0
	snapshot := model.AnalyticsSnapshot{
		Symbol:      "BTCUSDT",
		PairSymbol:  "ETHUSDT",
		TimestampMS: 1000,
		ZScore:      &z,
	}

	ctx := context.Background()
	svc.checkAlerts(ctx, snapshot)

	active, err := fb.ActiveAlerts(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "z_score_high", active[0]["alert_type"])
	assert.Equal(t, "BTCUSDT:ETHUSDT", active[0]["symbol"])
}

func TestCheckAlertsSkipsWhenWithinThreshold(t *testing.T) {
	fb := broker.NewFakeBroker()
	svc := New(Config{Symbols: []string{"BTCUSDT"}, WindowSize: 100, AlertZThreshold: 2.0}, fb, zerolog.Nop())

	z := 0.5
	snapshot := model.AnalyticsSnapshot{Symbol: "BTCUSDT", TimestampMS: 1000, ZScore: &z}

	ctx := context.Background()
	svc.checkAlerts(ctx, snapshot)

	active, err := fb.ActiveAlerts(ctx, 10, "")
	require.NoError(t, err)
	assert.Empty(t, active)
}
