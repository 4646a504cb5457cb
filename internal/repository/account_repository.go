package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tradeguard/internal/models"
)

// AccountRepository - работа с таблицей accounts
type AccountRepository struct {
	db *sql.DB
}

// NewAccountRepository создает новый экземпляр репозитория
func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create создает счет
func (r *AccountRepository) Create(ctx context.Context, a *models.Account) error {
	query := `
		INSERT INTO accounts (user_id, name, total_value, emergency_stop, emergency_reason, updated_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now

	return r.db.QueryRowContext(ctx, query,
		a.UserID, a.Name, a.TotalValue, a.EmergencyStop, a.EmergencyReason, a.UpdatedAt, a.CreatedAt,
	).Scan(&a.ID)
}

// GetByID возвращает счет по ID
func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	query := `
		SELECT id, user_id, name, total_value, emergency_stop, emergency_reason, updated_at, created_at
		FROM accounts
		WHERE id = $1`

	a := &models.Account{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&a.ID,
		&a.UserID,
		&a.Name,
		&a.TotalValue,
		&a.EmergencyStop,
		&a.EmergencyReason,
		&a.UpdatedAt,
		&a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return a, nil
}

// IsEmergencyStopped читает флаг аварийной остановки напрямую из БД
func (r *AccountRepository) IsEmergencyStopped(ctx context.Context, id int64) (bool, error) {
	var stopped bool
	err := r.db.QueryRowContext(ctx, `SELECT emergency_stop FROM accounts WHERE id = $1`, id).Scan(&stopped)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrAccountNotFound
		}
		return false, err
	}
	return stopped, nil
}

// SetEmergencyStop поднимает флаг аварийной остановки.
// Причина первой остановки сохраняется при повторных вызовах.
func (r *AccountRepository) SetEmergencyStop(ctx context.Context, id int64, reason string) error {
	query := `
		UPDATE accounts
		SET emergency_stop = true,
			emergency_reason = CASE WHEN emergency_stop THEN emergency_reason ELSE $1 END,
			updated_at = $2
		WHERE id = $3`

	result, err := r.db.ExecContext(ctx, query, reason, time.Now(), id)
	if err != nil {
		return err
	}
	return expectAffected(result, ErrAccountNotFound)
}

// ClearEmergencyStop снимает флаг аварийной остановки
func (r *AccountRepository) ClearEmergencyStop(ctx context.Context, id int64) error {
	query := `
		UPDATE accounts
		SET emergency_stop = false, emergency_reason = '', updated_at = $1
		WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, time.Now(), id)
	if err != nil {
		return err
	}
	return expectAffected(result, ErrAccountNotFound)
}

// ListEmergencyStopped возвращает ID счетов под аварийной остановкой
func (r *AccountRepository) ListEmergencyStopped(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM accounts WHERE emergency_stop = true ORDER BY id`)
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

// RecalculateTotalValue пересчитывает стоимость счета по холдингам и возвращает ее
func (r *AccountRepository) RecalculateTotalValue(ctx context.Context, id int64) (float64, error) {
	query := `
		UPDATE accounts
		SET total_value = (SELECT COALESCE(SUM(current_value), 0) FROM holdings WHERE account_id = $1),
			updated_at = $2
		WHERE id = $1
		RETURNING total_value`

	var total float64
	err := r.db.QueryRowContext(ctx, query, id, time.Now()).Scan(&total)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}
	return total, nil
}
