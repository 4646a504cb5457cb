package repository

import (
	"context"
	"database/sql"
	"time"

	"tradeguard/internal/models"
)

// TradeRepository - журнал отправленных ордеров
type TradeRepository struct {
	db *sql.DB
}

// NewTradeRepository создает новый экземпляр репозитория
func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// Create сохраняет сделку
func (r *TradeRepository) Create(ctx context.Context, t *models.Trade) error {
	query := `
		INSERT INTO trades (account_id, connection_id, exchange_id, exchange_order_id, symbol, side, type,
			amount, price, notional, fee, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`

	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	return r.db.QueryRowContext(ctx, query,
		t.AccountID,
		t.ConnectionID,
		t.ExchangeID,
		t.ExchangeOrderID,
		t.Symbol,
		t.Side,
		t.Type,
		t.Amount,
		t.Price,
		t.Notional,
		t.Fee,
		t.Status,
		t.CreatedAt,
	).Scan(&t.ID)
}

// UpdateExecution обновляет статус и исполнение сделки по ответу биржи
func (r *TradeRepository) UpdateExecution(ctx context.Context, connectionID int64, exchangeOrderID, status string, price, notional, fee float64) error {
	query := `
		UPDATE trades
		SET status = $1, price = $2, notional = $3, fee = $4
		WHERE connection_id = $5 AND exchange_order_id = $6`

	result, err := r.db.ExecContext(ctx, query, status, price, notional, fee, connectionID, exchangeOrderID)
	if err != nil {
		return err
	}
	return expectAffected(result, ErrTradeNotFound)
}

// NotionalSince - суммарный оборот счета с момента since (отклоненные ордера не учитываются)
func (r *TradeRepository) NotionalSince(ctx context.Context, accountID int64, since time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(notional), 0)
		FROM trades
		WHERE account_id = $1 AND created_at >= $2 AND status <> $3`

	var total float64
	err := r.db.QueryRowContext(ctx, query, accountID, since, "rejected").Scan(&total)
	return total, err
}

// ListByAccount возвращает последние сделки счета
func (r *TradeRepository) ListByAccount(ctx context.Context, accountID int64, limit int) ([]*models.Trade, error) {
	query := `
		SELECT id, account_id, connection_id, exchange_id, exchange_order_id, symbol, side, type,
			amount, price, notional, fee, status, created_at
		FROM trades
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*models.Trade
	for rows.Next() {
		t := &models.Trade{}
		err := rows.Scan(
			&t.ID,
			&t.AccountID,
			&t.ConnectionID,
			&t.ExchangeID,
			&t.ExchangeOrderID,
			&t.Symbol,
			&t.Side,
			&t.Type,
			&t.Amount,
			&t.Price,
			&t.Notional,
			&t.Fee,
			&t.Status,
			&t.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}
	return trades, nil
}
