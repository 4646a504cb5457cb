package repository

import (
	"context"
	"database/sql"
	"errors"

	"tradeguard/internal/models"
)

// RiskParametersRepository - лимиты счетов
type RiskParametersRepository struct {
	db *sql.DB
}

// NewRiskParametersRepository создает новый экземпляр репозитория
func NewRiskParametersRepository(db *sql.DB) *RiskParametersRepository {
	return &RiskParametersRepository{db: db}
}

// Get возвращает лимиты счета
func (r *RiskParametersRepository) Get(ctx context.Context, accountID int64) (*models.RiskParameters, error) {
	query := `
		SELECT account_id, max_daily_loss, max_position_size, max_drawdown, volatility_threshold, correlation_limit
		FROM risk_parameters
		WHERE account_id = $1`

	p := &models.RiskParameters{}
	err := r.db.QueryRowContext(ctx, query, accountID).Scan(
		&p.AccountID,
		&p.MaxDailyLoss,
		&p.MaxPositionSize,
		&p.MaxDrawdown,
		&p.VolatilityThreshold,
		&p.CorrelationLimit,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRiskParametersNotFound
		}
		return nil, err
	}
	return p, nil
}

// Upsert сохраняет лимиты счета
func (r *RiskParametersRepository) Upsert(ctx context.Context, p *models.RiskParameters) error {
	query := `
		INSERT INTO risk_parameters (account_id, max_daily_loss, max_position_size, max_drawdown, volatility_threshold, correlation_limit)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id) DO UPDATE
		SET max_daily_loss = EXCLUDED.max_daily_loss,
			max_position_size = EXCLUDED.max_position_size,
			max_drawdown = EXCLUDED.max_drawdown,
			volatility_threshold = EXCLUDED.volatility_threshold,
			correlation_limit = EXCLUDED.correlation_limit`

	_, err := r.db.ExecContext(ctx, query,
		p.AccountID, p.MaxDailyLoss, p.MaxPositionSize, p.MaxDrawdown, p.VolatilityThreshold, p.CorrelationLimit,
	)
	return err
}
