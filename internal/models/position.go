package models

import "time"

// Стороны ордера и позиции
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Статусы позиции.
// closing - позиция захвачена монитором стоп-лоссов или ликвидацией перед отправкой закрывающего ордера.
const (
	PositionStatusOpen    = "open"
	PositionStatusClosing = "closing"
	PositionStatusClosed  = "closed"
)

// Position - открытая позиция на бирже
type Position struct {
	ID           int64      `json:"id" db:"id"`
	AccountID    int64      `json:"account_id" db:"account_id"`
	ConnectionID int64      `json:"connection_id" db:"connection_id"`
	Symbol       string     `json:"symbol" db:"symbol"` // BASE/QUOTE
	Side         string     `json:"side" db:"side"`     // buy (long) или sell (short)
	Quantity     float64    `json:"quantity" db:"quantity"`
	EntryPrice   float64    `json:"entry_price" db:"entry_price"`
	StopLoss     *float64   `json:"stop_loss,omitempty" db:"stop_loss"`
	Status       string     `json:"status" db:"status"`
	OpenedAt     time.Time  `json:"opened_at" db:"opened_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty" db:"closed_at"`
}

// ClosingSide - сторона ордера, закрывающего позицию
func (p *Position) ClosingSide() string {
	if p.Side == SideSell {
		return SideBuy
	}
	return SideSell
}

// StopLossHit проверяет срабатывание стоп-лосса:
// buy - цена <= SL, sell - цена >= SL
func (p *Position) StopLossHit(price float64) bool {
	if p.StopLoss == nil || price <= 0 {
		return false
	}
	if p.Side == SideSell {
		return price >= *p.StopLoss
	}
	return price <= *p.StopLoss
}
