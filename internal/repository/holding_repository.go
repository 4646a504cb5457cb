package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"tradeguard/internal/models"
)

// HoldingRepository - работа с таблицей holdings.
// Строка - остаток одного подключения по символу; пишет только сверка балансов,
// запись - upsert одной строки (последний писатель побеждает). Подключения одного
// счета не затирают остатки друг друга, сводка по счету суммирует их.
type HoldingRepository struct {
	db *sql.DB
}

const holdingColumns = `id, account_id, connection_id, symbol, quantity, current_price, current_value, updated_at`

// NewHoldingRepository создает новый экземпляр репозитория
func NewHoldingRepository(db *sql.DB) *HoldingRepository {
	return &HoldingRepository{db: db}
}

// Upsert создает или обновляет холдинг (connection_id, symbol)
func (r *HoldingRepository) Upsert(ctx context.Context, h *models.Holding) error {
	query := `
		INSERT INTO holdings (account_id, connection_id, symbol, quantity, current_price, current_value, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (connection_id, symbol) DO UPDATE
		SET quantity = EXCLUDED.quantity,
			current_price = EXCLUDED.current_price,
			current_value = EXCLUDED.current_value,
			updated_at = EXCLUDED.updated_at
		RETURNING id`

	h.CurrentValue = h.Quantity * h.CurrentPrice
	h.UpdatedAt = time.Now()

	return r.db.QueryRowContext(ctx, query,
		h.AccountID, h.ConnectionID, h.Symbol, h.Quantity, h.CurrentPrice, h.CurrentValue, h.UpdatedAt,
	).Scan(&h.ID)
}

// Get возвращает холдинг подключения по символу
func (r *HoldingRepository) Get(ctx context.Context, connectionID int64, symbol string) (*models.Holding, error) {
	query := `SELECT ` + holdingColumns + `
		FROM holdings
		WHERE connection_id = $1 AND symbol = $2`

	h, err := scanHolding(r.db.QueryRowContext(ctx, query, connectionID, symbol))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrHoldingNotFound
		}
		return nil, err
	}
	return h, nil
}

// ListByAccount возвращает сводку холдингов счета: остатки всех подключений,
// сложенные по символу. Цена - средневзвешенная по стоимости.
func (r *HoldingRepository) ListByAccount(ctx context.Context, accountID int64) ([]*models.Holding, error) {
	query := `
		SELECT account_id, symbol,
			SUM(quantity) AS quantity,
			SUM(current_value) AS current_value,
			MAX(updated_at) AS updated_at
		FROM holdings
		WHERE account_id = $1
		GROUP BY account_id, symbol
		HAVING SUM(quantity) <> 0
		ORDER BY symbol`

	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holdings []*models.Holding
	for rows.Next() {
		h := &models.Holding{}
		if err := rows.Scan(&h.AccountID, &h.Symbol, &h.Quantity, &h.CurrentValue, &h.UpdatedAt); err != nil {
			return nil, err
		}
		h.CurrentPrice = h.CurrentValue / h.Quantity
		holdings = append(holdings, h)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}
	return holdings, nil
}

// ZeroMissing обнуляет холдинги подключения, которых нет в свежем списке балансов.
// Остатки других подключений того же счета не затрагиваются.
func (r *HoldingRepository) ZeroMissing(ctx context.Context, connectionID int64, present []string) (int64, error) {
	query := `
		UPDATE holdings
		SET quantity = 0, current_value = 0, updated_at = $1
		WHERE connection_id = $2 AND quantity <> 0 AND NOT (symbol = ANY($3))`

	if present == nil {
		present = []string{}
	}
	result, err := r.db.ExecContext(ctx, query, time.Now(), connectionID, pq.Array(present))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanHolding(row rowScanner) (*models.Holding, error) {
	h := &models.Holding{}
	err := row.Scan(&h.ID, &h.AccountID, &h.ConnectionID, &h.Symbol, &h.Quantity, &h.CurrentPrice, &h.CurrentValue, &h.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return h, nil
}
