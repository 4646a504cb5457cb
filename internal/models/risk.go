package models

import "time"

// RiskParameters - лимиты счета, только для чтения движком рисков
type RiskParameters struct {
	AccountID           int64   `json:"account_id" db:"account_id"`
	MaxDailyLoss        float64 `json:"max_daily_loss" db:"max_daily_loss"`       // лимит дневного оборота
	MaxPositionSize     float64 `json:"max_position_size" db:"max_position_size"` // лимит номинала одной сделки
	MaxDrawdown         float64 `json:"max_drawdown" db:"max_drawdown"`
	VolatilityThreshold float64 `json:"volatility_threshold" db:"volatility_threshold"` // 0 = circuit breaker выключен
	CorrelationLimit    float64 `json:"correlation_limit" db:"correlation_limit"`
}

// PortfolioRisk - производная оценка, не хранится
type PortfolioRisk struct {
	AccountID     int64              `json:"account_id"`
	TotalValue    float64            `json:"total_value"`
	TotalRisk     float64            `json:"total_risk"`
	Concentration map[string]float64 `json:"concentration"` // доля каждого актива в стоимости
	Correlation   float64            `json:"correlation"`
	Volatility    float64            `json:"volatility"`
	CalculatedAt  time.Time          `json:"calculated_at"`
}

// Типы риск-событий
const (
	RiskTypeStopLoss             = "stop_loss"
	RiskTypeEmergencyLiquidation = "emergency_liquidation"
	RiskTypeEmergencyStopCleared = "emergency_stop_cleared"
)

// Уровни риска
const (
	RiskLevelLow      = "low"
	RiskLevelMedium   = "medium"
	RiskLevelHigh     = "high"
	RiskLevelCritical = "critical"
)

// RiskAlert - запись журнала риск-событий, только добавление
type RiskAlert struct {
	ID             int64     `json:"id" db:"id"`
	AccountID      int64     `json:"account_id" db:"account_id"`
	RiskType       string    `json:"risk_type" db:"risk_type"`
	CurrentValue   float64   `json:"current_value" db:"current_value"`
	ThresholdValue float64   `json:"threshold_value" db:"threshold_value"`
	RiskLevel      string    `json:"risk_level" db:"risk_level"`
	AlertMessage   string    `json:"alert_message" db:"alert_message"`
	Timestamp      time.Time `json:"timestamp" db:"timestamp"`
}
