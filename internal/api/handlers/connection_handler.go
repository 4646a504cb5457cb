package handlers

import (
	"net/http"
	"strings"

	"tradeguard/internal/api/middleware"
	"tradeguard/internal/exchange"
	"tradeguard/internal/models"
	"tradeguard/internal/service"
)

// ConnectRequest - тело POST /connections
type ConnectRequest struct {
	AccountID  int64  `json:"account_id"`
	ExchangeID string `json:"exchange_id"`
	APIKey     string `json:"api_key"`
	APISecret  string `json:"api_secret"`
	Passphrase string `json:"passphrase,omitempty"` // KuCoin, OKX
	Testnet    bool   `json:"testnet"`
}

// ConnectionResponse - подключение без зашифрованных ключей
type ConnectionResponse struct {
	ID               int64   `json:"id"`
	AccountID        int64   `json:"account_id"`
	ExchangeID       string  `json:"exchange_id"`
	IsActive         bool    `json:"is_active"`
	IsTestnet        bool    `json:"is_testnet"`
	ConnectionStatus string  `json:"connection_status"`
	ErrorMessage     string  `json:"error_message,omitempty"`
	LastSyncAt       *string `json:"last_sync_at,omitempty"`
}

// ConnectionHandler отвечает за подключения к биржам и сверку балансов
//
// Endpoints:
// - GET /api/v1/connections - подключения пользователя
// - POST /api/v1/connections - подключить биржу
// - DELETE /api/v1/connections/{id} - отключить биржу
// - POST /api/v1/connections/{id}/sync - принудительная сверка подключения
// - POST /api/v1/sync - принудительная сверка всех подключений
type ConnectionHandler struct {
	connections service.ConnectionServiceInterface
	sync        service.ReconciliationServiceInterface
}

// NewConnectionHandler создает новый ConnectionHandler
func NewConnectionHandler(connections service.ConnectionServiceInterface, sync service.ReconciliationServiceInterface) *ConnectionHandler {
	return &ConnectionHandler{connections: connections, sync: sync}
}

// ListConnections возвращает подключения текущего пользователя
// GET /api/v1/connections
func (h *ConnectionHandler) ListConnections(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFrom(r.Context())

	conns, err := h.connections.ListConnections(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	response := make([]ConnectionResponse, 0, len(conns))
	for _, c := range conns {
		response = append(response, toConnectionResponse(c))
	}
	respondWithJSON(w, http.StatusOK, response)
}

// Connect проверяет ключи на бирже и сохраняет подключение
// POST /api/v1/connections
//
// Ответы:
// - 201 Created: подключение создано
// - 400 Bad Request: некорректные данные или неподдерживаемая биржа
// - 401 Unauthorized: биржа отклонила ключи
// - 409 Conflict: подключение уже существует
// - 502 Bad Gateway: биржа недоступна
func (h *ConnectionHandler) Connect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	exchangeID := strings.ToLower(strings.TrimSpace(req.ExchangeID))
	if !exchange.IsSupported(exchangeID) {
		respondWithError(w, http.StatusBadRequest, "unsupported_exchange", "Unsupported exchange",
			"Supported exchanges: "+strings.Join(exchange.SupportedExchanges, ", "))
		return
	}

	userID, _ := middleware.UserIDFrom(r.Context())
	conn, err := h.connections.Connect(r.Context(), service.ConnectRequest{
		UserID:     userID,
		AccountID:  req.AccountID,
		ExchangeID: exchangeID,
		APIKey:     req.APIKey,
		APISecret:  req.APISecret,
		Passphrase: req.Passphrase,
		Testnet:    req.Testnet,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, toConnectionResponse(conn))
}

// Disconnect удаляет подключение без открытых позиций
// DELETE /api/v1/connections/{id}
func (h *ConnectionHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.connections.Disconnect(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SyncConnection - принудительная сверка одного подключения
// POST /api/v1/connections/{id}/sync
//
// Ошибка сверки не является ошибкой запроса: статус failed возвращается в теле.
func (h *ConnectionHandler) SyncConnection(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	res, err := h.sync.SyncConnection(r.Context(), id, true)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

// SyncAll - принудительная сверка всех активных подключений
// POST /api/v1/sync
func (h *ConnectionHandler) SyncAll(w http.ResponseWriter, r *http.Request) {
	report, err := h.sync.SyncAll(r.Context(), true)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, report)
}

func toConnectionResponse(c *models.ExchangeConnection) ConnectionResponse {
	resp := ConnectionResponse{
		ID:               c.ID,
		AccountID:        c.AccountID,
		ExchangeID:       c.ExchangeID,
		IsActive:         c.IsActive,
		IsTestnet:        c.IsTestnet,
		ConnectionStatus: c.ConnectionStatus,
		ErrorMessage:     c.ErrorMessage,
	}
	if c.LastSyncAt != nil {
		ts := c.LastSyncAt.UTC().Format("2006-01-02T15:04:05Z07:00")
		resp.LastSyncAt = &ts
	}
	return resp
}
