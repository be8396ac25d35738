package broker

import (
	"fmt"
	"strings"
)

// Channel names for the pub/sub surface. These are shared verbatim across
// every service that publishes or subscribes to them.
const (
	ChannelAlerts = "channel:alerts"
	ChannelLogs   = "channel:logs"
)

const (
	// StreamRetention bounds how long a tick stream keeps entries, enforced
	// via MINID trimming on every XADD rather than a separate janitor.
	StreamRetention = 24 * 60 * 60 * 1000 // ms
	// TSRetention bounds TimeSeries sample retention, passed to TS.ADD/TS.CREATE.
	TSRetention = 24 * 60 * 60 * 1000 // ms

	activeAlertsKey = "alerts:active"
)

// TickStreamKey names the tick stream for a symbol: stream:ticks:BTCUSDT.
func TickStreamKey(symbol string) string {
	return fmt.Sprintf("stream:ticks:%s", strings.ToUpper(symbol))
}

// PriceTimeSeriesKey names the raw price time series for a symbol.
func PriceTimeSeriesKey(symbol string) string {
	return fmt.Sprintf("ts:price:%s", strings.ToUpper(symbol))
}

// OHLCTimeSeriesKey names an OHLC time series for a symbol/interval pair.
func OHLCTimeSeriesKey(symbol, interval string) string {
	return fmt.Sprintf("ts:ohlc:%s:%s", strings.ToUpper(symbol), interval)
}

// AnalyticsStateKey names the latest-analytics hash for a symbol, or for a
// pair when symbol is a colon-joined "SYMA:SYMB" pair key.
func AnalyticsStateKey(symbol string) string {
	return fmt.Sprintf("state:analytics:%s", strings.ToUpper(symbol))
}

// AlertKey names the hash holding a single alert record.
func AlertKey(alertID string) string {
	return fmt.Sprintf("alert:%s", alertID)
}
