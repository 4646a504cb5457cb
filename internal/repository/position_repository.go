package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tradeguard/internal/models"
)

const positionColumns = `id, account_id, connection_id, symbol, side, quantity, entry_price, stop_loss, status, opened_at, closed_at`

// PositionRepository - работа с таблицей positions.
//
// Закрытие проходит через захват: open -> closing (Claim) перед отправкой ордера,
// затем closing -> closed (Close) или closing -> open (Release), если биржа ордер не приняла.
// Захват атомарен, поэтому позицию закрывает ровно один исполнитель. Автоматически
// closing в open не возвращается.
type PositionRepository struct {
	db *sql.DB
}

// NewPositionRepository создает новый экземпляр репозитория
func NewPositionRepository(db *sql.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// Create открывает позицию
func (r *PositionRepository) Create(ctx context.Context, p *models.Position) error {
	query := `
		INSERT INTO positions (account_id, connection_id, symbol, side, quantity, entry_price, stop_loss, status, opened_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING id`

	if p.Status == "" {
		p.Status = models.PositionStatusOpen
	}
	if p.OpenedAt.IsZero() {
		p.OpenedAt = time.Now()
	}

	return r.db.QueryRowContext(ctx, query,
		p.AccountID, p.ConnectionID, p.Symbol, p.Side, p.Quantity, p.EntryPrice, p.StopLoss, p.Status, p.OpenedAt,
	).Scan(&p.ID)
}

// GetByID возвращает позицию по ID
func (r *PositionRepository) GetByID(ctx context.Context, id int64) (*models.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE id = $1`

	p, err := scanPosition(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPositionNotFound
		}
		return nil, err
	}
	return p, nil
}

// ListOpen возвращает открытые позиции счета
func (r *PositionRepository) ListOpen(ctx context.Context, accountID int64) ([]*models.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE account_id = $1 AND status = $2 ORDER BY id`
	return r.list(ctx, query, accountID, models.PositionStatusOpen)
}

// ListOpenWithStopLoss возвращает открытые позиции счета с заданным стоп-лоссом
func (r *PositionRepository) ListOpenWithStopLoss(ctx context.Context, accountID int64) ([]*models.Position, error) {
	query := `SELECT ` + positionColumns + `
		FROM positions
		WHERE account_id = $1 AND status = $2 AND stop_loss IS NOT NULL
		ORDER BY id`
	return r.list(ctx, query, accountID, models.PositionStatusOpen)
}

// ListAccountsWithStopLoss возвращает счета, у которых есть открытые позиции со стоп-лоссом
func (r *PositionRepository) ListAccountsWithStopLoss(ctx context.Context) ([]int64, error) {
	query := `
		SELECT DISTINCT account_id
		FROM positions
		WHERE status = $1 AND stop_loss IS NOT NULL
		ORDER BY account_id`

	rows, err := r.db.QueryContext(ctx, query, models.PositionStatusOpen)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountOpenByConnection - число незакрытых позиций подключения
func (r *PositionRepository) CountOpenByConnection(ctx context.Context, connectionID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM positions WHERE connection_id = $1 AND status <> $2`,
		connectionID, models.PositionStatusClosed,
	).Scan(&count)
	return count, err
}

func (r *PositionRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Position, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*models.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}
	return positions, nil
}

// Claim переводит позицию open -> closing. false - позицию уже захватили или закрыли.
func (r *PositionRepository) Claim(ctx context.Context, id int64) (bool, error) {
	query := `UPDATE positions SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`

	result, err := r.db.ExecContext(ctx, query, models.PositionStatusClosing, time.Now(), id, models.PositionStatusOpen)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Release возвращает захваченную позицию в open после неудачного закрытия
func (r *PositionRepository) Release(ctx context.Context, id int64) error {
	query := `UPDATE positions SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`

	result, err := r.db.ExecContext(ctx, query, models.PositionStatusOpen, time.Now(), id, models.PositionStatusClosing)
	if err != nil {
		return err
	}
	return expectAffected(result, ErrPositionNotClaimed)
}

// Close завершает захваченную позицию
func (r *PositionRepository) Close(ctx context.Context, id int64, closedAt time.Time) error {
	query := `UPDATE positions SET status = $1, closed_at = $2, updated_at = $2 WHERE id = $3 AND status = $4`

	result, err := r.db.ExecContext(ctx, query, models.PositionStatusClosed, closedAt, id, models.PositionStatusClosing)
	if err != nil {
		return err
	}
	return expectAffected(result, ErrPositionNotClaimed)
}

// ListStaleClaims возвращает позиции, застрявшие в closing дольше before
// (процесс упал между захватом и ответом биржи или исход ордера неизвестен)
func (r *PositionRepository) ListStaleClaims(ctx context.Context, before time.Time) ([]*models.Position, error) {
	query := `SELECT ` + positionColumns + `
		FROM positions
		WHERE status = $1 AND updated_at < $2
		ORDER BY id`
	return r.list(ctx, query, models.PositionStatusClosing, before)
}

// SetStopLoss задает или снимает (nil) стоп-лосс открытой позиции
func (r *PositionRepository) SetStopLoss(ctx context.Context, id int64, stopLoss *float64) error {
	query := `UPDATE positions SET stop_loss = $1, updated_at = $2 WHERE id = $3 AND status = $4`

	result, err := r.db.ExecContext(ctx, query, stopLoss, time.Now(), id, models.PositionStatusOpen)
	if err != nil {
		return err
	}
	return expectAffected(result, ErrPositionNotFound)
}

func scanPosition(row rowScanner) (*models.Position, error) {
	p := &models.Position{}
	err := row.Scan(
		&p.ID,
		&p.AccountID,
		&p.ConnectionID,
		&p.Symbol,
		&p.Side,
		&p.Quantity,
		&p.EntryPrice,
		&p.StopLoss,
		&p.Status,
		&p.OpenedAt,
		&p.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}
