// Package gateway is the Market Gateway: it dials an exchange's WebSocket
// trade stream per symbol, normalizes incoming trades into ticks, buffers
// them briefly, and flushes the buffer to the broker's streams and price
// time series on a fixed interval.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	cb "github.com/sony/gobreaker"
	"github.com/rs/zerolog"

	"github.com/gemscap/quantpulse/internal/model"
)

const (
	minReconnectDelay = 1 * time.Second
	maxReconnectDelay = 30 * time.Second
	readIdleTimeout   = 1 * time.Second
	pongWait          = 10 * time.Second
	pingInterval      = 20 * time.Second
)

// symbolListener owns the WebSocket connection for a single symbol and
// feeds parsed ticks into the shared buffer.
type symbolListener struct {
	symbol  string
	wsURL   string
	parser  Parser
	breaker *cb.CircuitBreaker
	logger  zerolog.Logger

	onTick func(model.Tick)
}

func newSymbolListener(symbol, wsURL string, parser Parser, logger zerolog.Logger, onTick func(model.Tick)) *symbolListener {
	lg := logger.With().Str("symbol", symbol).Logger()
	st := cb.Settings{
		Name:        fmt.Sprintf("gateway-%s", symbol),
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts cb.Counts) bool { return counts.ConsecutiveFailures >= 5 },
		OnStateChange: func(name string, from, to cb.State) {
			lg.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	}
	return &symbolListener{
		symbol:  symbol,
		wsURL:   fmt.Sprintf("%s/%s@trade", wsURL, symbol),
		parser:  parser,
		breaker: cb.NewCircuitBreaker(st),
		logger:  lg,
		onTick:  onTick,
	}
}

// run dials and re-dials the exchange until ctx is cancelled, applying
// exponential backoff between attempts and resetting it on every clean
// connect. The circuit breaker wraps each connection attempt (the dial
// and the read session that follows it), so a persistently unreachable
// endpoint fails fast instead of hammering the network; a session that
// ends in a read error also counts as a breaker failure.
func (l *symbolListener) run(ctx context.Context) {
	delay := minReconnectDelay

	for ctx.Err() == nil {
		connected := false
		_, err := l.breaker.Execute(func() (any, error) {
			return nil, l.connectAndRead(ctx, &connected)
		})
		if ctx.Err() != nil {
			return
		}
		if connected {
			delay = minReconnectDelay
		}
		if err != nil {
			l.logger.Warn().Err(err).Dur("retry_in", delay).Msg("websocket disconnected, reconnecting")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			delay *= 2
			if delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}
			continue
		}
		delay = minReconnectDelay
	}
}

func (l *symbolListener) connectAndRead(ctx context.Context, connected *bool) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", l.symbol, err)
	}
	defer conn.Close()
	*connected = true

	l.logger.Info().Msg("connected to exchange websocket")

	lastPong := time.Now()
	_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	conn.SetPongHandler(func(string) error {
		lastPong = time.Now()
		return conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go l.pingLoop(conn, stopPing)

	for {
		if ctx.Err() != nil {
			return nil
		}
		_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if netTimeout(err) {
				if time.Since(lastPong) > pongWait {
					return fmt.Errorf("read %s: no pong within %s, connection presumed dead", l.symbol, pongWait)
				}
				continue
			}
			return fmt.Errorf("read %s: %w", l.symbol, err)
		}

		tick, ok, err := l.parser.Parse(msg)
		if err != nil {
			l.logger.Warn().Err(err).Msg("dropping malformed message")
			continue
		}
		if !ok {
			continue
		}
		l.onTick(tick)
	}
}

func (l *symbolListener) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

func netTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}
