// Package coldstore is the durable archive behind QuantPulse: ticks,
// computed OHLC bars, analytics snapshots, and alert history land here
// once the archivist has drained them out of the broker's hot streams.
// It is backed by Postgres/TimescaleDB via sqlx and lib/pq, following the
// repository-per-table pattern this codebase already uses for trade
// persistence.
package coldstore

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS ticks (
	time TIMESTAMPTZ NOT NULL,
	symbol TEXT NOT NULL,
	trade_id BIGINT NOT NULL,
	price DOUBLE PRECISION NOT NULL,
	qty DOUBLE PRECISION NOT NULL,
	is_buyer_maker BOOLEAN NOT NULL
);

CREATE TABLE IF NOT EXISTS ohlc (
	time TIMESTAMPTZ NOT NULL,
	symbol TEXT NOT NULL,
	interval TEXT NOT NULL,
	open DOUBLE PRECISION NOT NULL,
	high DOUBLE PRECISION NOT NULL,
	low DOUBLE PRECISION NOT NULL,
	close DOUBLE PRECISION NOT NULL,
	volume DOUBLE PRECISION NOT NULL,
	trade_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS analytics_snapshots (
	time TIMESTAMPTZ NOT NULL,
	symbol TEXT NOT NULL,
	pair_symbol TEXT,
	last_price DOUBLE PRECISION,
	spread DOUBLE PRECISION,
	hedge_ratio DOUBLE PRECISION,
	z_score DOUBLE PRECISION,
	correlation DOUBLE PRECISION,
	adf_statistic DOUBLE PRECISION,
	adf_pvalue DOUBLE PRECISION,
	is_stationary BOOLEAN,
	tick_count INTEGER
);

CREATE TABLE IF NOT EXISTS alerts_history (
	time TIMESTAMPTZ NOT NULL,
	alert_id TEXT NOT NULL,
	alert_type TEXT NOT NULL,
	symbol TEXT NOT NULL,
	message TEXT NOT NULL,
	severity TEXT NOT NULL,
	value DOUBLE PRECISION,
	threshold DOUBLE PRECISION,
	acknowledged BOOLEAN DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_ticks_symbol_time ON ticks (symbol, time DESC);
CREATE INDEX IF NOT EXISTS idx_ohlc_symbol_interval_time ON ohlc (symbol, interval, time DESC);
`

var hypertableStatements = []string{
	"SELECT create_hypertable('ticks', 'time', if_not_exists => TRUE);",
	"SELECT create_hypertable('ohlc', 'time', if_not_exists => TRUE);",
	"SELECT create_hypertable('analytics_snapshots', 'time', if_not_exists => TRUE);",
	"SELECT create_hypertable('alerts_history', 'time', if_not_exists => TRUE);",
}

// bootstrap creates every table and index the store needs, then attempts
// to convert them to TimescaleDB hypertables. Hypertable conversion is
// best-effort: a plain Postgres instance without the extension installed
// keeps working as an ordinary relational store.
func bootstrap(ctx context.Context, db *sqlx.DB, hypertablesEnabled func(bool)) error {
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	ok := true
	for _, stmt := range hypertableStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			ok = false
			break
		}
	}
	hypertablesEnabled(ok)
	return nil
}
