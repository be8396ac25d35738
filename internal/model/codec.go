package model

import (
	"fmt"
	"strconv"
)

// ToRedisHash flattens a Tick into the string-keyed map HSET expects,
// matching the field names the cold store and downstream consumers share.
func (t Tick) ToRedisHash() map[string]string {
	return map[string]string{
		"symbol":         t.Symbol,
		"trade_id":       strconv.FormatInt(t.TradeID, 10),
		"price":          strconv.FormatFloat(t.Price, 'f', -1, 64),
		"qty":            strconv.FormatFloat(t.Qty, 'f', -1, 64),
		"timestamp":      strconv.FormatInt(t.TimestampMS, 10),
		"is_buyer_maker": boolDigit(t.IsBuyerMaker),
	}
}

// TickFromRedisHash reverses ToRedisHash, as used by stream/hash readers.
func TickFromRedisHash(h map[string]string) (Tick, error) {
	var t Tick
	t.Symbol = h["symbol"]

	tradeID, err := strconv.ParseInt(h["trade_id"], 10, 64)
	if err != nil {
		return Tick{}, fmt.Errorf("parse trade_id: %w", err)
	}
	t.TradeID = tradeID

	price, err := strconv.ParseFloat(h["price"], 64)
	if err != nil {
		return Tick{}, fmt.Errorf("parse price: %w", err)
	}
	t.Price = price

	qty, err := strconv.ParseFloat(h["qty"], 64)
	if err != nil {
		return Tick{}, fmt.Errorf("parse qty: %w", err)
	}
	t.Qty = qty

	ts, err := strconv.ParseInt(h["timestamp"], 10, 64)
	if err != nil {
		return Tick{}, fmt.Errorf("parse timestamp: %w", err)
	}
	t.TimestampMS = ts

	t.IsBuyerMaker = h["is_buyer_maker"] == "1"
	return t, nil
}

// ToRedisHash flattens an OHLCBar the same way the tick codec does.
func (b OHLCBar) ToRedisHash() map[string]string {
	return map[string]string{
		"symbol":      b.Symbol,
		"timestamp":   strconv.FormatInt(b.TimestampMS, 10),
		"open":        strconv.FormatFloat(b.Open, 'f', -1, 64),
		"high":        strconv.FormatFloat(b.High, 'f', -1, 64),
		"low":         strconv.FormatFloat(b.Low, 'f', -1, 64),
		"close":       strconv.FormatFloat(b.Close, 'f', -1, 64),
		"volume":      strconv.FormatFloat(b.Volume, 'f', -1, 64),
		"trade_count": strconv.Itoa(b.TradeCount),
	}
}

// ToRedisHash flattens an AnalyticsSnapshot, omitting nil optional fields
// entirely rather than writing empty strings, matching the original
// model_dump()-based serialization this was ported from.
func (s AnalyticsSnapshot) ToRedisHash() map[string]string {
	out := map[string]string{
		"symbol":            s.Symbol,
		"timestamp":         strconv.FormatInt(s.TimestampMS, 10),
		"last_price":        strconv.FormatFloat(s.LastPrice, 'f', -1, 64),
		"data_freshness_ms": strconv.FormatInt(s.DataFreshnessMS, 10),
		"validity_status":   string(s.ValidityStatus),
		"tick_count":        strconv.Itoa(s.TickCount),
	}
	if s.PairSymbol != "" {
		out["pair_symbol"] = s.PairSymbol
	}
	putFloatPtr(out, "price_change_pct", s.PriceChangePct)
	putFloatPtr(out, "vwap", s.VWAP)
	putFloatPtr(out, "spread", s.Spread)
	putFloatPtr(out, "hedge_ratio", s.HedgeRatio)
	putFloatPtr(out, "z_score", s.ZScore)
	putFloatPtr(out, "correlation", s.Correlation)
	putFloatPtr(out, "adf_statistic", s.ADFStatistic)
	putFloatPtr(out, "adf_pvalue", s.ADFPValue)
	if s.IsStationary != nil {
		out["is_stationary"] = boolDigit(*s.IsStationary)
	}
	return out
}

// ToRedisHash mirrors the Python Alert.to_redis_dict quirk: a value or
// threshold of exactly zero serializes as an empty string, since the
// original treated 0.0 as falsy. Preserved for byte-compatibility with
// existing archived alert records.
func (a Alert) ToRedisHash() map[string]string {
	return map[string]string{
		"id":           a.ID,
		"alert_type":   string(a.AlertType),
		"symbol":       a.Symbol,
		"message":      a.Message,
		"timestamp":    strconv.FormatInt(a.TimestampMS, 10),
		"severity":     string(a.Severity),
		"value":        falsyFloatString(a.Value),
		"threshold":    falsyFloatString(a.Threshold),
		"acknowledged": boolDigit(a.Acknowledged),
	}
}

func falsyFloatString(v *float64) string {
	if v == nil || *v == 0 {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func putFloatPtr(m map[string]string, key string, v *float64) {
	if v != nil {
		m[key] = strconv.FormatFloat(*v, 'f', -1, 64)
	}
}

func boolDigit(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
