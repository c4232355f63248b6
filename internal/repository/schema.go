package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// schema - таблицы ядра. Все операторы идемпотентны.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		id              TEXT PRIMARY KEY,
		client_order_id TEXT NOT NULL DEFAULT '',
		user_id         TEXT NOT NULL,
		strategy_id     TEXT NOT NULL DEFAULT '',
		symbol          TEXT NOT NULL,
		side            TEXT NOT NULL,
		type            TEXT NOT NULL,
		quantity        NUMERIC NOT NULL,
		limit_price     NUMERIC NOT NULL DEFAULT 0,
		stop_price      NUMERIC NOT NULL DEFAULT 0,
		time_in_force   TEXT NOT NULL,
		status          TEXT NOT NULL,
		filled_quantity NUMERIC NOT NULL DEFAULT 0,
		avg_fill_price  NUMERIC NOT NULL DEFAULT 0,
		commission      NUMERIC NOT NULL DEFAULT 0,
		triggered       BOOLEAN NOT NULL DEFAULT FALSE,
		inconsistent    BOOLEAN NOT NULL DEFAULT FALSE,
		liquidation     BOOLEAN NOT NULL DEFAULT FALSE,
		reject_reason   TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS orders_client_order_id_uniq
		ON orders (user_id, client_order_id) WHERE client_order_id <> ''`,
	`CREATE INDEX IF NOT EXISTS orders_status_idx ON orders (status)`,
	`CREATE INDEX IF NOT EXISTS orders_user_created_idx ON orders (user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS fills (
		id         TEXT PRIMARY KEY,
		order_id   TEXT NOT NULL REFERENCES orders(id),
		user_id    TEXT NOT NULL,
		symbol     TEXT NOT NULL,
		side       TEXT NOT NULL,
		quantity   NUMERIC NOT NULL,
		price      NUMERIC NOT NULL,
		commission NUMERIC NOT NULL,
		timestamp  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS fills_order_idx ON fills (order_id)`,
	`CREATE TABLE IF NOT EXISTS positions (
		user_id       TEXT NOT NULL,
		symbol        TEXT NOT NULL,
		quantity      NUMERIC NOT NULL,
		average_price NUMERIC NOT NULL,
		realized_pnl  NUMERIC NOT NULL DEFAULT 0,
		last_update   TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (user_id, symbol)
	)`,
	`CREATE TABLE IF NOT EXISTS risk_rules (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		type        TEXT NOT NULL,
		threshold   NUMERIC NOT NULL,
		action      TEXT NOT NULL,
		user_id     TEXT NOT NULL DEFAULT '',
		strategy_id TEXT NOT NULL DEFAULT '',
		enabled     BOOLEAN NOT NULL DEFAULT TRUE,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS risk_alerts (
		id              TEXT PRIMARY KEY,
		rule_id         TEXT NOT NULL,
		user_id         TEXT NOT NULL,
		strategy_id     TEXT NOT NULL DEFAULT '',
		symbol          TEXT NOT NULL DEFAULT '',
		order_id        TEXT NOT NULL DEFAULT '',
		level           TEXT NOT NULL,
		action          TEXT NOT NULL DEFAULT '',
		message         TEXT NOT NULL,
		value           NUMERIC NOT NULL DEFAULT 0,
		threshold       NUMERIC NOT NULL DEFAULT 0,
		acknowledged    BOOLEAN NOT NULL DEFAULT FALSE,
		acknowledged_at TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS risk_alerts_user_created_idx ON risk_alerts (user_id, created_at DESC)`,
}

// EnsureSchema создает недостающие таблицы и индексы
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
