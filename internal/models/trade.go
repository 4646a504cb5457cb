package models

import "time"

// Trade - запись об исполненном ордере, источник дневного оборота
type Trade struct {
	ID              int64     `json:"id" db:"id"`
	AccountID       int64     `json:"account_id" db:"account_id"`
	ConnectionID    int64     `json:"connection_id" db:"connection_id"`
	ExchangeID      string    `json:"exchange_id" db:"exchange_id"`
	ExchangeOrderID string    `json:"exchange_order_id" db:"exchange_order_id"`
	Symbol          string    `json:"symbol" db:"symbol"`
	Side            string    `json:"side" db:"side"`
	Type            string    `json:"type" db:"type"`
	Amount          float64   `json:"amount" db:"amount"`
	Price           float64   `json:"price" db:"price"`
	Notional        float64   `json:"notional" db:"notional"` // amount * price
	Fee             float64   `json:"fee" db:"fee"`
	Status          string    `json:"status" db:"status"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}
