package models

import "time"

// Account - торговый счет пользователя; холдинги и позиции привязаны к нему
type Account struct {
	ID              int64     `json:"id" db:"id"`
	UserID          int64     `json:"user_id" db:"user_id"`
	Name            string    `json:"name" db:"name"`
	TotalValue      float64   `json:"total_value" db:"total_value"`       // пересчитывается сверкой балансов
	EmergencyStop   bool      `json:"emergency_stop" db:"emergency_stop"` // запрет новых ордеров до ручного сброса
	EmergencyReason string    `json:"emergency_reason,omitempty" db:"emergency_reason"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// Holding - остаток актива на одном подключении счета, обновляется только сверкой балансов.
// На уровне счета остатки всех подключений суммируются по символу.
type Holding struct {
	ID           int64     `json:"id" db:"id"`
	AccountID    int64     `json:"account_id" db:"account_id"`
	ConnectionID int64     `json:"connection_id,omitempty" db:"connection_id"` // 0 в сводке по счету
	Symbol       string    `json:"symbol" db:"symbol"`                         // валюта актива: BTC, ETH, USDT
	Quantity     float64   `json:"quantity" db:"quantity"`
	CurrentPrice float64   `json:"current_price" db:"current_price"`
	CurrentValue float64   `json:"current_value" db:"current_value"` // quantity * current_price
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// NewHolding создает холдинг подключения с согласованной стоимостью
func NewHolding(accountID, connectionID int64, symbol string, quantity, price float64) *Holding {
	return &Holding{
		AccountID:    accountID,
		ConnectionID: connectionID,
		Symbol:       symbol,
		Quantity:     quantity,
		CurrentPrice: price,
		CurrentValue: quantity * price,
	}
}
