package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// schema - таблицы ядра; создаются идемпотентно при старте
var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id SERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		name VARCHAR(100) NOT NULL DEFAULT '',
		total_value DECIMAL(28, 8) NOT NULL DEFAULT 0,
		emergency_stop BOOLEAN NOT NULL DEFAULT false,
		emergency_reason TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS exchange_connections (
		id SERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		exchange_id VARCHAR(20) NOT NULL,
		account_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		is_active BOOLEAN NOT NULL DEFAULT true,
		is_testnet BOOLEAN NOT NULL DEFAULT false,
		last_sync_at TIMESTAMPTZ,
		connection_status VARCHAR(20) NOT NULL DEFAULT 'disconnected',
		error_message TEXT NOT NULL DEFAULT '',
		api_key_encrypted TEXT NOT NULL,
		api_secret_encrypted TEXT NOT NULL,
		passphrase_encrypted TEXT NOT NULL DEFAULT '',
		iv VARCHAR(32) NOT NULL,
		salt VARCHAR(32) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (user_id, exchange_id, account_id),
		CHECK (connection_status <> 'error' OR error_message <> '')
	)`,
	`CREATE TABLE IF NOT EXISTS holdings (
		id SERIAL PRIMARY KEY,
		account_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		connection_id BIGINT NOT NULL REFERENCES exchange_connections(id) ON DELETE CASCADE,
		symbol VARCHAR(20) NOT NULL,
		quantity DECIMAL(28, 12) NOT NULL DEFAULT 0,
		current_price DECIMAL(28, 8) NOT NULL DEFAULT 0,
		current_value DECIMAL(28, 8) NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (connection_id, symbol)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_holdings_account ON holdings (account_id)`,
	`CREATE TABLE IF NOT EXISTS positions (
		id SERIAL PRIMARY KEY,
		account_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		connection_id BIGINT NOT NULL REFERENCES exchange_connections(id) ON DELETE CASCADE,
		symbol VARCHAR(30) NOT NULL,
		side VARCHAR(4) NOT NULL,
		quantity DECIMAL(28, 12) NOT NULL,
		entry_price DECIMAL(28, 8) NOT NULL,
		stop_loss DECIMAL(28, 8),
		status VARCHAR(10) NOT NULL DEFAULT 'open',
		opened_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		closed_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_positions_account_status ON positions (account_id, status)`,
	`CREATE TABLE IF NOT EXISTS trades (
		id SERIAL PRIMARY KEY,
		account_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		connection_id BIGINT NOT NULL,
		exchange_id VARCHAR(20) NOT NULL,
		exchange_order_id VARCHAR(100) NOT NULL,
		symbol VARCHAR(30) NOT NULL,
		side VARCHAR(4) NOT NULL,
		type VARCHAR(20) NOT NULL,
		amount DECIMAL(28, 12) NOT NULL,
		price DECIMAL(28, 8) NOT NULL DEFAULT 0,
		notional DECIMAL(28, 8) NOT NULL DEFAULT 0,
		fee DECIMAL(28, 8) NOT NULL DEFAULT 0,
		status VARCHAR(20) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_account_created ON trades (account_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS risk_parameters (
		account_id BIGINT PRIMARY KEY REFERENCES accounts(id) ON DELETE CASCADE,
		max_daily_loss DECIMAL(28, 8) NOT NULL,
		max_position_size DECIMAL(28, 8) NOT NULL,
		max_drawdown DECIMAL(10, 6) NOT NULL DEFAULT 0,
		volatility_threshold DECIMAL(10, 6) NOT NULL DEFAULT 0,
		correlation_limit DECIMAL(10, 6) NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS risk_alerts (
		id SERIAL PRIMARY KEY,
		account_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		risk_type VARCHAR(40) NOT NULL,
		current_value DECIMAL(28, 8) NOT NULL DEFAULT 0,
		threshold_value DECIMAL(28, 8) NOT NULL DEFAULT 0,
		risk_level VARCHAR(10) NOT NULL,
		alert_message TEXT NOT NULL DEFAULT '',
		timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_risk_alerts_account ON risk_alerts (account_id, timestamp DESC)`,
}

// Migrate создает недостающие таблицы и индексы
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
	}
	return nil
}
