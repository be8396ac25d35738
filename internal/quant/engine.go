package quant

import "github.com/gemscap/quantpulse/internal/model"

const (
	// minPointsForAnalytics is the floor below which a snapshot is marked
	// insufficient rather than warming-up or valid.
	minPointsForAnalytics = 20
	// minPointsForADF is the floor below which the stationarity test is
	// skipped entirely rather than computed on too little data.
	minPointsForADF = 50

	zscoreWindow      = 20
	correlationWindow = 60
)

// singleSymbolSnapshot computes the non-pair analytics for one symbol's
// rolling window: last price, VWAP, price change, and freshness. Returns
// false if the window is empty (nothing has ticked yet).
func singleSymbolSnapshot(symbol string, w *symbolWindow, windowSize int, nowMS int64) (model.AnalyticsSnapshot, bool) {
	if w.count == 0 {
		return model.AnalyticsSnapshot{}, false
	}

	prices := w.pricesSlice()
	tickCount := len(prices)

	last, _ := w.last()
	first, _ := w.first()

	var priceChangePct *float64
	if tickCount >= 2 {
		var pct float64
		if first != 0 {
			pct = ((last - first) / first) * 100
		}
		priceChangePct = &pct
	}

	var vwap *float64
	if v, ok := w.vwap(); ok {
		vwap = &v
	}

	freshness := int64(0)
	if w.lastTickMS != 0 {
		freshness = nowMS - w.lastTickMS
	}

	return model.AnalyticsSnapshot{
		Symbol:          symbol,
		TimestampMS:     nowMS,
		LastPrice:       last,
		PriceChangePct:  priceChangePct,
		VWAP:            vwap,
		DataFreshnessMS: freshness,
		ValidityStatus:  validityFor(tickCount, windowSize),
		TickCount:       tickCount,
	}, true
}

// pairSnapshot computes the spread/hedge-ratio/z-score/correlation/ADF
// analytics for a symbol pair, tail-aligning both windows to their shared
// most-recent length. Returns false if either symbol has too little data.
func pairSnapshot(symbolA, symbolB string, wa, wb *symbolWindow, windowSize int, nowMS int64) (model.AnalyticsSnapshot, bool) {
	minLen := wa.count
	if wb.count < minLen {
		minLen = wb.count
	}
	if minLen < minPointsForAnalytics {
		return model.AnalyticsSnapshot{}, false
	}

	pricesA := tailAlign(wa.pricesSlice(), minLen)
	pricesB := tailAlign(wb.pricesSlice(), minLen)

	hedgeRatio := olsHedgeRatio(pricesA, pricesB)
	spread := spreadSeries(pricesA, pricesB, hedgeRatio)
	currentSpread := spread[len(spread)-1]
	z := zscore(spread, zscoreWindow)
	corr := correlation(pricesA, pricesB, correlationWindow)

	var adfStat, adfP *float64
	var isStationary *bool
	if minLen >= minPointsForADF {
		if res, ok := adfTest(spread); ok {
			adfStat, adfP = &res.Statistic, &res.PValue
			isStationary = &res.IsStationary
		}
	}

	freshness := nowMS - minInt64(wa.lastTickMS, wb.lastTickMS)

	return model.AnalyticsSnapshot{
		Symbol:          symbolA,
		PairSymbol:      symbolB,
		TimestampMS:     nowMS,
		LastPrice:       pricesA[len(pricesA)-1],
		Spread:          &currentSpread,
		HedgeRatio:      &hedgeRatio,
		ZScore:          &z,
		Correlation:     &corr,
		ADFStatistic:    adfStat,
		ADFPValue:       adfP,
		IsStationary:    isStationary,
		DataFreshnessMS: freshness,
		ValidityStatus:  validityFor(minLen, windowSize),
		TickCount:       minLen,
	}, true
}

func validityFor(n, windowSize int) model.DataValidityStatus {
	switch {
	case n < minPointsForAnalytics:
		return model.ValidityInsufficient
	case n < windowSize:
		return model.ValidityWarmingUp
	default:
		return model.ValidityValid
	}
}

// tailAlign returns the last n elements of xs.
func tailAlign(xs []float64, n int) []float64 {
	if n >= len(xs) {
		return xs
	}
	return xs[len(xs)-n:]
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
