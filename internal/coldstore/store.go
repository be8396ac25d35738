package coldstore

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/gemscap/quantpulse/internal/model"
)

// ErrSchemaBootstrap wraps a failure to create the base schema tables.
// Unlike hypertable conversion, this is fatal: without the base tables
// nothing in this package can function.
var ErrSchemaBootstrap = fmt.Errorf("coldstore: schema bootstrap failed")

// Store is the Postgres/TimescaleDB-backed cold store. One Store is
// constructed per service lifetime, matching the connection-pool-per-
// service convention used across this codebase.
type Store struct {
	db                *sqlx.DB
	timeout           time.Duration
	hypertablesActive bool
	logger            zerolog.Logger
}

// Open connects to Postgres, bootstraps the schema, and attempts
// hypertable conversion. A failed connection or failed base-schema
// creation is returned as an error; a failed hypertable conversion is
// logged and the store continues in degraded (plain-relational) mode.
func Open(ctx context.Context, databaseURL string, timeout time.Duration, logger zerolog.Logger) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to cold store: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)

	s := &Store{db: db, timeout: timeout, logger: logger.With().Str("component", "coldstore").Logger()}

	if err := bootstrap(ctx, db, func(ok bool) {
		s.hypertablesActive = ok
		if !ok {
			s.logger.Warn().Msg("hypertable conversion skipped, TimescaleDB extension likely absent")
		}
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaBootstrap, err)
	}

	return s, nil
}

// NewForTesting builds a Store around an already-connected *sqlx.DB,
// skipping Open's dial and schema bootstrap. Used by this package's own
// tests to build a Store backed by a sqlmock connection.
func NewForTesting(db *sqlx.DB) *Store {
	return &Store{db: db, timeout: 5 * time.Second, logger: zerolog.Nop()}
}

func (s *Store) Close() error { return s.db.Close() }

// InsertTicksBatch bulk-inserts ticks via a COPY FROM, mirroring the
// batched archival contract: either every row in the batch lands, or the
// cursor that fed this batch is not advanced by the caller.
func (s *Store) InsertTicksBatch(ctx context.Context, ticks []model.Tick) (int, error) {
	if len(ticks) == 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout*time.Duration(len(ticks)/100+1))
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("ticks", "time", "symbol", "trade_id", "price", "qty", "is_buyer_maker"))
	if err != nil {
		return 0, fmt.Errorf("prepare copy: %w", err)
	}

	for _, t := range ticks {
		ts := time.UnixMilli(t.TimestampMS).UTC()
		if _, err := stmt.ExecContext(ctx, ts, t.Symbol, t.TradeID, t.Price, t.Qty, t.IsBuyerMaker); err != nil {
			return 0, fmt.Errorf("copy tick row: %w", err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		return 0, fmt.Errorf("flush copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return 0, fmt.Errorf("close copy stmt: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit ticks batch: %w", err)
	}
	return len(ticks), nil
}

// InsertOHLCBatch bulk-inserts OHLC bars the same way InsertTicksBatch does.
func (s *Store) InsertOHLCBatch(ctx context.Context, interval string, bars []model.OHLCBar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout*time.Duration(len(bars)/100+1))
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("ohlc", "time", "symbol", "interval", "open", "high", "low", "close", "volume", "trade_count"))
	if err != nil {
		return 0, fmt.Errorf("prepare copy: %w", err)
	}

	for _, b := range bars {
		ts := time.UnixMilli(b.TimestampMS).UTC()
		if _, err := stmt.ExecContext(ctx, ts, b.Symbol, interval, b.Open, b.High, b.Low, b.Close, b.Volume, b.TradeCount); err != nil {
			return 0, fmt.Errorf("copy ohlc row: %w", err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		return 0, fmt.Errorf("flush copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return 0, fmt.Errorf("close copy stmt: %w", err)
	}
	return len(bars), tx.Commit()
}

// InsertAnalyticsSnapshot archives a single analytics snapshot.
func (s *Store) InsertAnalyticsSnapshot(ctx context.Context, snap model.AnalyticsSnapshot) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analytics_snapshots
		(time, symbol, pair_symbol, last_price, spread, hedge_ratio,
		 z_score, correlation, adf_statistic, adf_pvalue, is_stationary, tick_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		time.UnixMilli(snap.TimestampMS).UTC(), snap.Symbol, nullableString(snap.PairSymbol),
		snap.LastPrice, snap.Spread, snap.HedgeRatio, snap.ZScore, snap.Correlation,
		snap.ADFStatistic, snap.ADFPValue, snap.IsStationary, snap.TickCount)
	if err != nil {
		return fmt.Errorf("insert analytics snapshot: %w", err)
	}
	return nil
}

// ArchiveAlert persists a historical copy of an alert. Active alerts stay
// in the broker's hot storage; this is the durable record.
func (s *Store) ArchiveAlert(ctx context.Context, a model.Alert) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts_history
		(time, alert_id, alert_type, symbol, message, severity, value, threshold, acknowledged)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		time.UnixMilli(a.TimestampMS).UTC(), a.ID, string(a.AlertType), a.Symbol,
		a.Message, string(a.Severity), a.Value, a.Threshold, a.Acknowledged)
	if err != nil {
		return fmt.Errorf("archive alert: %w", err)
	}
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// tickRow mirrors the ticks table for scanning.
type tickRow struct {
	Time         time.Time `db:"time"`
	Symbol       string    `db:"symbol"`
	TradeID      int64     `db:"trade_id"`
	Price        float64   `db:"price"`
	Qty          float64   `db:"qty"`
	IsBuyerMaker bool      `db:"is_buyer_maker"`
}

func (r tickRow) toModel() model.Tick {
	return model.Tick{
		Symbol:       r.Symbol,
		TradeID:      r.TradeID,
		Price:        r.Price,
		Qty:          r.Qty,
		TimestampMS:  r.Time.UnixMilli(),
		IsBuyerMaker: r.IsBuyerMaker,
	}
}

// GetTicks returns ticks for a symbol within [from, to], newest first.
func (s *Store) GetTicks(ctx context.Context, symbol string, from, to time.Time, limit int) ([]model.Tick, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []tickRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT time, symbol, trade_id, price, qty, is_buyer_maker
		FROM ticks
		WHERE symbol = $1 AND time >= $2 AND time <= $3
		ORDER BY time DESC
		LIMIT $4`, symbol, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("query ticks: %w", err)
	}

	out := make([]model.Tick, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

type ohlcRow struct {
	Time       time.Time `db:"time"`
	Symbol     string    `db:"symbol"`
	Open       float64   `db:"open"`
	High       float64   `db:"high"`
	Low        float64   `db:"low"`
	Close      float64   `db:"close"`
	Volume     float64   `db:"volume"`
	TradeCount int       `db:"trade_count"`
}

func (r ohlcRow) toModel() model.OHLCBar {
	return model.OHLCBar{
		Symbol:      r.Symbol,
		TimestampMS: r.Time.UnixMilli(),
		Open:        r.Open,
		High:        r.High,
		Low:         r.Low,
		Close:       r.Close,
		Volume:      r.Volume,
		TradeCount:  r.TradeCount,
	}
}

// GetOHLC returns pre-computed OHLC bars for a symbol/interval, oldest first.
func (s *Store) GetOHLC(ctx context.Context, symbol, interval string, from, to time.Time, limit int) ([]model.OHLCBar, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []ohlcRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT time, symbol, open, high, low, close, volume, trade_count
		FROM ohlc
		WHERE symbol = $1 AND interval = $2 AND time >= $3 AND time <= $4
		ORDER BY time ASC
		LIMIT $5`, symbol, interval, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("query ohlc: %w", err)
	}

	out := make([]model.OHLCBar, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// ComputeOHLCFromTicks aggregates raw ticks into OHLC bars using
// TimescaleDB's time_bucket when hypertables are active, falling back to
// an equivalent in-process aggregation otherwise. Ties within a bucket
// (multiple trades at the same timestamp) are broken by trade_id, smaller
// first for open, larger first for close — a rule this system's table
// schema doesn't itself encode, so it is applied explicitly here rather
// than left to whichever row Postgres happens to return first.
func (s *Store) ComputeOHLCFromTicks(ctx context.Context, symbol string, bucket time.Duration, from, to time.Time, limit int) ([]model.OHLCBar, error) {
	if s.hypertablesActive {
		bars, err := s.computeOHLCViaTimeBucket(ctx, symbol, bucket, from, to, limit)
		if err == nil {
			return bars, nil
		}
		s.logger.Warn().Err(err).Msg("time_bucket aggregation failed, falling back to in-process computation")
	}
	return s.computeOHLCInProcess(ctx, symbol, bucket, from, to, limit)
}

func (s *Store) computeOHLCViaTimeBucket(ctx context.Context, symbol string, bucket time.Duration, from, to time.Time, limit int) ([]model.OHLCBar, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []ohlcRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT
			time_bucket($1, time) AS time,
			$2 AS symbol,
			(array_agg(price ORDER BY time ASC, trade_id ASC))[1] AS open,
			MAX(price) AS high,
			MIN(price) AS low,
			(array_agg(price ORDER BY time DESC, trade_id DESC))[1] AS close,
			SUM(qty) AS volume,
			COUNT(*) AS trade_count
		FROM ticks
		WHERE symbol = $2 AND time >= $3 AND time <= $4
		GROUP BY time_bucket($1, time)
		ORDER BY time ASC
		LIMIT $5`, bucket, symbol, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("time_bucket ohlc: %w", err)
	}

	out := make([]model.OHLCBar, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// computeOHLCInProcess reproduces the same bucketing rule in Go for
// Postgres instances without TimescaleDB's time_bucket function.
func (s *Store) computeOHLCInProcess(ctx context.Context, symbol string, bucket time.Duration, from, to time.Time, limit int) ([]model.OHLCBar, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []tickRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT time, symbol, trade_id, price, qty, is_buyer_maker
		FROM ticks
		WHERE symbol = $1 AND time >= $2 AND time <= $3
		ORDER BY time ASC, trade_id ASC
		LIMIT 1000000`, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("fetch ticks for ohlc: %w", err)
	}

	type acc struct {
		bucketTime time.Time
		open, high, low, close float64
		openTradeID, closeTradeID int64
		volume float64
		count  int
	}
	buckets := make(map[int64]*acc)
	var order []int64

	for _, r := range rows {
		key := r.Time.UnixNano() / int64(bucket)
		a, ok := buckets[key]
		if !ok {
			a = &acc{bucketTime: time.Unix(0, key*int64(bucket)).UTC(), open: r.Price, high: r.Price, low: r.Price, close: r.Price, openTradeID: r.TradeID, closeTradeID: r.TradeID}
			buckets[key] = a
			order = append(order, key)
		}
		a.count++
		a.volume += r.Qty
		if r.Price > a.high {
			a.high = r.Price
		}
		if r.Price < a.low {
			a.low = r.Price
		}
		// rows are already ordered by (time, trade_id) ascending, so the
		// running close/open track the smallest and largest trade_id seen
		// within a tied timestamp by construction.
		if r.TradeID < a.openTradeID {
			a.open = r.Price
			a.openTradeID = r.TradeID
		}
		if r.TradeID >= a.closeTradeID {
			a.close = r.Price
			a.closeTradeID = r.TradeID
		}
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	if limit > 0 && len(order) > limit {
		order = order[:limit]
	}

	out := make([]model.OHLCBar, 0, len(order))
	for _, key := range order {
		a := buckets[key]
		out = append(out, model.OHLCBar{
			Symbol:      symbol,
			TimestampMS: a.bucketTime.UnixMilli(),
			Open:        a.open,
			High:        a.high,
			Low:         a.low,
			Close:       a.close,
			Volume:      a.volume,
			TradeCount:  a.count,
		})
	}
	return out, nil
}

// ExportTicksCSV renders ticks as CSV, a convenience carried over from
// the archival service's original export helpers.
func ExportTicksCSV(ticks []model.Tick) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"time_ms", "symbol", "trade_id", "price", "qty", "is_buyer_maker"}); err != nil {
		return nil, err
	}
	for _, t := range ticks {
		row := []string{
			strconv.FormatInt(t.TimestampMS, 10),
			t.Symbol,
			strconv.FormatInt(t.TradeID, 10),
			strconv.FormatFloat(t.Price, 'f', -1, 64),
			strconv.FormatFloat(t.Qty, 'f', -1, 64),
			strconv.FormatBool(t.IsBuyerMaker),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExportTicksJSON renders ticks as a JSON array.
func ExportTicksJSON(ticks []model.Tick) ([]byte, error) {
	return json.Marshal(ticks)
}
