// Package model holds the wire and storage shapes shared across every
// QuantPulse service: ticks off the exchange, the analytics derived from
// them, and the alerts they can trigger.
package model

// Tick is a single executed trade normalized from an exchange's wire format.
type Tick struct {
	Symbol       string  `json:"symbol"`
	TradeID      int64   `json:"trade_id"`
	Price        float64 `json:"price"`
	Qty          float64 `json:"qty"`
	TimestampMS  int64   `json:"timestamp"`
	IsBuyerMaker bool    `json:"is_buyer_maker"`
}

// DataValidityStatus reports whether a symbol's rolling window holds enough
// history for its analytics to be trusted.
type DataValidityStatus string

const (
	ValidityInsufficient DataValidityStatus = "insufficient"
	ValidityWarmingUp    DataValidityStatus = "warming_up"
	ValidityValid        DataValidityStatus = "valid"
)

// AnalyticsSnapshot is a point-in-time view of a symbol's (or pair's)
// derived analytics, as published to the broker's analytics-state hash.
type AnalyticsSnapshot struct {
	Symbol     string `json:"symbol"`
	PairSymbol string `json:"pair_symbol,omitempty"`
	TimestampMS int64 `json:"timestamp"`

	LastPrice      float64  `json:"last_price"`
	PriceChangePct *float64 `json:"price_change_pct,omitempty"`
	VWAP           *float64 `json:"vwap,omitempty"`

	Spread      *float64 `json:"spread,omitempty"`
	HedgeRatio  *float64 `json:"hedge_ratio,omitempty"`
	ZScore      *float64 `json:"z_score,omitempty"`
	Correlation *float64 `json:"correlation,omitempty"`

	ADFStatistic *float64 `json:"adf_statistic,omitempty"`
	ADFPValue    *float64 `json:"adf_pvalue,omitempty"`
	IsStationary *bool    `json:"is_stationary,omitempty"`

	DataFreshnessMS int64              `json:"data_freshness_ms"`
	ValidityStatus  DataValidityStatus `json:"validity_status"`
	TickCount       int                `json:"tick_count"`
}

// AlertSeverity classifies how urgently an alert should be surfaced.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// AlertType enumerates the triggers the quant engine can raise. Only
// ZScoreHigh and ZScoreLow are emitted by the engine today; the others
// are reserved for rules not wired up by default (see DataStale).
type AlertType string

const (
	AlertZScoreHigh        AlertType = "z_score_high"
	AlertZScoreLow         AlertType = "z_score_low"
	AlertCorrelationBreak  AlertType = "correlation_break"
	AlertDataStale         AlertType = "data_stale"
	AlertStationarityChange AlertType = "stationarity_change"
	AlertCustom            AlertType = "custom"
)

// Alert is a single notification raised by the quant engine and persisted
// to the broker's alert hash + active-alert index.
type Alert struct {
	ID           string        `json:"id"`
	AlertType    AlertType     `json:"alert_type"`
	Symbol       string        `json:"symbol"`
	Message      string        `json:"message"`
	TimestampMS  int64         `json:"timestamp"`
	Severity     AlertSeverity `json:"severity"`
	Value        *float64      `json:"value,omitempty"`
	Threshold    *float64      `json:"threshold,omitempty"`
	Acknowledged bool          `json:"acknowledged"`
}

// OHLCBar is a single candlestick aggregated from ticks, either computed
// on demand from the cold store or streamed through the broker's OHLC
// time series.
type OHLCBar struct {
	Symbol      string  `json:"symbol"`
	TimestampMS int64   `json:"timestamp"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      float64 `json:"volume"`
	TradeCount  int     `json:"trade_count"`
}

// LogEntry is a structured line handed to the Alert/Log Sink for
// rate-limited aggregation and rotation to disk.
type LogEntry struct {
	TimestampMS int64  `json:"timestamp"`
	Service     string `json:"service"`
	Level       string `json:"level"`
	Operation   string `json:"operation"`
	Key         string `json:"key,omitempty"`
	Message     string `json:"message"`
	DurationMS  *int64 `json:"duration_ms,omitempty"`
}
