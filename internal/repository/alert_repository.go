package repository

import (
	"context"
	"database/sql"
	"time"

	"tradeguard/internal/models"
)

// AlertRepository - журнал риск-событий (только добавление)
type AlertRepository struct {
	db *sql.DB
}

// NewAlertRepository создает новый экземпляр репозитория
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Create добавляет запись
func (r *AlertRepository) Create(ctx context.Context, a *models.RiskAlert) error {
	query := `
		INSERT INTO risk_alerts (account_id, risk_type, current_value, threshold_value, risk_level, alert_message, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}

	return r.db.QueryRowContext(ctx, query,
		a.AccountID, a.RiskType, a.CurrentValue, a.ThresholdValue, a.RiskLevel, a.AlertMessage, a.Timestamp,
	).Scan(&a.ID)
}

// ListByAccount возвращает последние события счета, новые первыми
func (r *AlertRepository) ListByAccount(ctx context.Context, accountID int64, limit int) ([]*models.RiskAlert, error) {
	query := `
		SELECT id, account_id, risk_type, current_value, threshold_value, risk_level, alert_message, timestamp
		FROM risk_alerts
		WHERE account_id = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*models.RiskAlert
	for rows.Next() {
		a := &models.RiskAlert{}
		err := rows.Scan(
			&a.ID,
			&a.AccountID,
			&a.RiskType,
			&a.CurrentValue,
			&a.ThresholdValue,
			&a.RiskLevel,
			&a.AlertMessage,
			&a.Timestamp,
		)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}
	return alerts, nil
}
