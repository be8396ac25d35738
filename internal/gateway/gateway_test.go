package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemscap/quantpulse/internal/broker"
	"github.com/gemscap/quantpulse/internal/model"
)

func TestBinanceParserIgnoresNonTradeEvents(t *testing.T) {
	p := BinanceParser{}
	_, ok, err := p.Parse([]byte(`{"e":"depthUpdate","s":"BTCUSDT"}`))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBinanceParserParsesTrade(t *testing.T) {
	p := BinanceParser{}
	tick, ok, err := p.Parse([]byte(`{"e":"trade","s":"BTCUSDT","t":12345,"p":"50000.5","q":"0.01","T":1700000000000,"m":true}`))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", tick.Symbol)
	assert.Equal(t, int64(12345), tick.TradeID)
	assert.Equal(t, 50000.5, tick.Price)
	assert.Equal(t, 0.01, tick.Qty)
	assert.True(t, tick.IsBuyerMaker)
}

func TestBinanceParserRejectsMalformedPayload(t *testing.T) {
	p := BinanceParser{}
	_, _, err := p.Parse([]byte(`not json`))
	assert.Error(t, err)
}

func TestFlushAllWritesStreamAndTimeSeries(t *testing.T) {
	fb := broker.NewFakeBroker()
	svc := New(Config{
		Symbols:       []string{"btcusdt"},
		ExchangeWSURL: "wss://example.invalid/ws",
		FlushInterval: time.Hour,
		Heartbeat:     time.Hour,
	}, fb, zerolog.Nop())

	svc.bufferTick("btcusdt", model.Tick{Symbol: "BTCUSDT", TradeID: 1, Price: 100, Qty: 1, TimestampMS: 1})
	svc.bufferTick("btcusdt", model.Tick{Symbol: "BTCUSDT", TradeID: 2, Price: 101, Qty: 1, TimestampMS: 2})

	ctx := context.Background()
	svc.flushAll(ctx)

	entries, err := fb.StreamRead(ctx, broker.TickStreamKey("btcusdt"), "0", 10, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	points, err := fb.TimeSeriesRange(ctx, broker.PriceTimeSeriesKey("btcusdt"), 0, 10)
	require.NoError(t, err)
	assert.Len(t, points, 2)

	svc.mu.Lock()
	count := svc.tickCount["btcusdt"]
	svc.mu.Unlock()
	assert.Equal(t, int64(2), count)
}
