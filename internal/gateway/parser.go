package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/gemscap/quantpulse/internal/model"
)

// Parser turns a raw exchange WebSocket message into a Tick. It is
// pluggable so a different exchange's wire format can be supported
// without touching the reconnect/buffer machinery in client.go.
type Parser interface {
	// Parse returns (tick, true, nil) for a trade event worth ingesting,
	// (zero, false, nil) for an event type that should be silently
	// ignored, and a non-nil error only for malformed payloads.
	Parse(raw []byte) (model.Tick, bool, error)
}

// binanceTradeEvent mirrors the subset of Binance's trade event fields
// this system cares about: e (event type), s (symbol), t (trade id),
// p (price), q (qty), T (trade time), m (buyer is maker).
type binanceTradeEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	TradeID   int64  `json:"t"`
	Price     string `json:"p"`
	Qty       string `json:"q"`
	TradeTime int64  `json:"T"`
	BuyerMkr  bool   `json:"m"`
}

// BinanceParser implements Parser for Binance's per-symbol raw trade
// stream (<symbol>@trade), whose messages are unwrapped trade events.
type BinanceParser struct{}

func (BinanceParser) Parse(raw []byte) (model.Tick, bool, error) {
	var evt binanceTradeEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return model.Tick{}, false, fmt.Errorf("parse trade event: %w", err)
	}
	if evt.EventType != "trade" {
		return model.Tick{}, false, nil
	}

	price, err := strconv.ParseFloat(evt.Price, 64)
	if err != nil {
		return model.Tick{}, false, fmt.Errorf("parse price: %w", err)
	}
	qty, err := strconv.ParseFloat(evt.Qty, 64)
	if err != nil {
		return model.Tick{}, false, fmt.Errorf("parse qty: %w", err)
	}

	return model.Tick{
		Symbol:       evt.Symbol,
		TradeID:      evt.TradeID,
		Price:        price,
		Qty:          qty,
		TimestampMS:  evt.TradeTime,
		IsBuyerMaker: evt.BuyerMkr,
	}, true, nil
}
