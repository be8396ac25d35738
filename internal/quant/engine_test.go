package quant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemscap/quantpulse/internal/model"
)

func fillWindow(w *symbolWindow, prices []float64, startMS int64) {
	for i, p := range prices {
		w.push(p, 1, startMS+int64(i))
	}
}

func TestSingleSymbolSnapshotInsufficientBelowTwentyTicks(t *testing.T) {
	w := newSymbolWindow(100)
	fillWindow(w, []float64{100, 101, 102}, 1000)

	snap, ok := singleSymbolSnapshot("BTCUSDT", w, 100, 2000)
	require.True(t, ok)
	assert.Equal(t, model.ValidityInsufficient, snap.ValidityStatus)
	assert.Equal(t, 3, snap.TickCount)
}

func TestSingleSymbolSnapshotWarmingUpThenValid(t *testing.T) {
	w := newSymbolWindow(100)
	prices := make([]float64, 25)
	for i := range prices {
		prices[i] = 100
	}
	fillWindow(w, prices, 1000)

	snap, ok := singleSymbolSnapshot("BTCUSDT", w, 100, 2000)
	require.True(t, ok)
	assert.Equal(t, model.ValidityWarmingUp, snap.ValidityStatus)

	full := make([]float64, 100)
	for i := range full {
		full[i] = 100
	}
	w2 := newSymbolWindow(100)
	fillWindow(w2, full, 1000)
	snap2, ok := singleSymbolSnapshot("BTCUSDT", w2, 100, 2000)
	require.True(t, ok)
	assert.Equal(t, model.ValidityValid, snap2.ValidityStatus)
}

func TestSingleSymbolSnapshotPriceChangePct(t *testing.T) {
	w := newSymbolWindow(100)
	fillWindow(w, []float64{100, 110}, 1000)

	snap, ok := singleSymbolSnapshot("BTCUSDT", w, 100, 2000)
	require.True(t, ok)
	require.NotNil(t, snap.PriceChangePct)
	assert.InDelta(t, 10.0, *snap.PriceChangePct, 1e-9)
}

func TestSingleSymbolSnapshotEmptyWindowReturnsFalse(t *testing.T) {
	w := newSymbolWindow(100)
	_, ok := singleSymbolSnapshot("BTCUSDT", w, 100, 2000)
	assert.False(t, ok)
}

func TestPairSnapshotInsufficientDataReturnsFalse(t *testing.T) {
	wa := newSymbolWindow(100)
	wb := newSymbolWindow(100)
	fillWindow(wa, []float64{100, 101, 102}, 1000)
	fillWindow(wb, []float64{50, 50.5, 51}, 1000)

	_, ok := pairSnapshot("BTCUSDT", "ETHUSDT", wa, wb, 100, 2000)
	assert.False(t, ok)
}

func TestPairSnapshotComputesHedgeRatioAndSpread(t *testing.T) {
	wa := newSymbolWindow(100)
	wb := newSymbolWindow(100)
	pricesA := make([]float64, 25)
	pricesB := make([]float64, 25)
	for i := range pricesA {
		pricesA[i] = 100 + float64(i)
		pricesB[i] = 50 + float64(i)/2
	}
	fillWindow(wa, pricesA, 1000)
	fillWindow(wb, pricesB, 1000)

	snap, ok := pairSnapshot("BTCUSDT", "ETHUSDT", wa, wb, 100, 2000)
	require.True(t, ok)
	require.NotNil(t, snap.HedgeRatio)
	assert.InDelta(t, 2.0, *snap.HedgeRatio, 1e-6)
	require.NotNil(t, snap.Spread)
	assert.Equal(t, "ETHUSDT", snap.PairSymbol)
	assert.Nil(t, snap.ADFStatistic, "ADF requires 50+ points, only 25 supplied")
}

func TestPairSnapshotTailAlignsUnequalLengthWindows(t *testing.T) {
	wa := newSymbolWindow(100)
	wb := newSymbolWindow(100)
	pricesA := make([]float64, 30)
	pricesB := make([]float64, 25)
	for i := range pricesA {
		pricesA[i] = 100
	}
	for i := range pricesB {
		pricesB[i] = 50
	}
	fillWindow(wa, pricesA, 1000)
	fillWindow(wb, pricesB, 1000)

	snap, ok := pairSnapshot("BTCUSDT", "ETHUSDT", wa, wb, 100, 2000)
	require.True(t, ok)
	assert.Equal(t, 25, snap.TickCount)
}
