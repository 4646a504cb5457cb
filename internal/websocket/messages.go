package websocket

import (
	"time"

	"tradeguard/internal/exchange"
	"tradeguard/internal/models"
	"tradeguard/internal/service"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeRiskAlert - риск-событие: стоп-лосс, аварийная ликвидация, сброс остановки
	MessageTypeRiskAlert MessageType = "riskAlert"

	// MessageTypeBalanceUpdate - результат сверки балансов одного подключения
	MessageTypeBalanceUpdate MessageType = "balanceUpdate"

	// MessageTypeOrderUpdate - новый ордер или обновленный статус ордера
	MessageTypeOrderUpdate MessageType = "orderUpdate"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// RiskAlertMessage - сообщение о риск-событии счета
type RiskAlertMessage struct {
	BaseMessage
	AccountID int64             `json:"account_id"`
	Data      *models.RiskAlert `json:"data"`
}

// BalanceUpdateMessage - сообщение об обновлении холдингов счета
type BalanceUpdateMessage struct {
	BaseMessage
	AccountID int64                  `json:"account_id"`
	Data      *service.BalanceUpdate `json:"data"`
}

// OrderUpdateMessage - сообщение об ордере
type OrderUpdateMessage struct {
	BaseMessage
	AccountID int64                 `json:"account_id"`
	Data      *exchange.OrderResult `json:"data"`
}

// NewRiskAlertMessage создает сообщение riskAlert
func NewRiskAlertMessage(alert *models.RiskAlert) *RiskAlertMessage {
	return &RiskAlertMessage{
		BaseMessage: BaseMessage{Type: MessageTypeRiskAlert, Timestamp: time.Now().UTC()},
		AccountID:   alert.AccountID,
		Data:        alert,
	}
}

// NewBalanceUpdateMessage создает сообщение balanceUpdate
func NewBalanceUpdateMessage(update service.BalanceUpdate) *BalanceUpdateMessage {
	return &BalanceUpdateMessage{
		BaseMessage: BaseMessage{Type: MessageTypeBalanceUpdate, Timestamp: time.Now().UTC()},
		AccountID:   update.AccountID,
		Data:        &update,
	}
}

// NewOrderUpdateMessage создает сообщение orderUpdate
func NewOrderUpdateMessage(accountID int64, order *exchange.OrderResult) *OrderUpdateMessage {
	return &OrderUpdateMessage{
		BaseMessage: BaseMessage{Type: MessageTypeOrderUpdate, Timestamp: time.Now().UTC()},
		AccountID:   accountID,
		Data:        order,
	}
}
