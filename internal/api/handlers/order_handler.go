package handlers

import (
	"errors"
	"net/http"
	"strings"

	"tradeguard/internal/service"
)

// OrderHandler отвечает за отправку ордеров и запрос их статуса
//
// Endpoints:
// - POST /api/v1/orders - новый ордер через риск-проверку
// - GET /api/v1/connections/{id}/orders/{orderId}?symbol= - статус ордера на бирже
type OrderHandler struct {
	trading service.TradingServiceInterface
}

// NewOrderHandler создает новый OrderHandler
func NewOrderHandler(trading service.TradingServiceInterface) *OrderHandler {
	return &OrderHandler{trading: trading}
}

// SubmitOrder отправляет ордер
// POST /api/v1/orders
//
// Ответы:
// - 201 Created: ордер принят биржей, тело - OrderOutcome
// - 422 Unprocessable Entity: отказ риск-проверки, тело - OrderOutcome с причиной
// - 400/401/409/429/502: ошибки валидации, ключей, подключения, лимитов и биржи
func (h *OrderHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req service.OrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ConnectionID <= 0 {
		respondWithError(w, http.StatusBadRequest, "validation_error", "connection_id is required", "connection_id")
		return
	}

	outcome, err := h.trading.SubmitOrder(r.Context(), req)
	if err != nil {
		// клиент видит результат проверки, а не только текст ошибки
		if errors.Is(err, service.ErrRiskRejected) && outcome != nil {
			respondWithJSON(w, http.StatusUnprocessableEntity, outcome)
			return
		}
		handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, outcome)
}

// GetOrderStatus возвращает текущее состояние ордера на бирже
// GET /api/v1/connections/{id}/orders/{orderId}?symbol=BTC/USDT
func (h *OrderHandler) GetOrderStatus(w http.ResponseWriter, r *http.Request) {
	connID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	orderID := strings.TrimSpace(varOf(r, "orderId"))
	if orderID == "" {
		respondWithError(w, http.StatusBadRequest, "invalid_id", "Invalid orderId", "")
		return
	}
	symbol := strings.TrimSpace(r.URL.Query().Get("symbol"))
	if symbol == "" {
		respondWithError(w, http.StatusBadRequest, "validation_error", "symbol query parameter is required", "symbol")
		return
	}

	order, err := h.trading.GetOrderStatus(r.Context(), connID, symbol, orderID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, order)
}
