package handlers

import (
	"context"
	"net/http"
	"strings"

	"tradeguard/internal/models"
	"tradeguard/internal/risk"
)

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 500
)

// RiskService - операции риск-движка, доступные через API (risk.Engine)
type RiskService interface {
	ValidateTradeRisk(ctx context.Context, req risk.TradeRequest) (*risk.ValidationResult, error)
	AssessPortfolioRisk(ctx context.Context, accountID int64) (*models.PortfolioRisk, error)
	EmergencyLiquidate(ctx context.Context, accountID int64, reason string) (int, error)
	ClearEmergencyStop(ctx context.Context, accountID int64) error
	SuggestPositionSize(ctx context.Context, accountID int64, riskPercentage float64) (*risk.PositionSize, error)
}

// AlertLister - журнал риск-событий счета
type AlertLister interface {
	ListByAccount(ctx context.Context, accountID int64, limit int) ([]*models.RiskAlert, error)
}

var _ RiskService = (*risk.Engine)(nil)

// LiquidateRequest - тело POST /accounts/{id}/liquidate
type LiquidateRequest struct {
	Reason string `json:"reason"`
}

// LiquidateResponse - итог аварийной ликвидации
type LiquidateResponse struct {
	AccountID int64  `json:"account_id"`
	Closed    int    `json:"closed"`
	Reason    string `json:"reason"`
}

// RiskHandler отвечает за риск-проверки, оценку портфеля и аварийную остановку
//
// Endpoints:
// - POST /api/v1/risk/validate - предторговая проверка без отправки ордера
// - GET /api/v1/accounts/{id}/risk - риск портфеля
// - GET /api/v1/accounts/{id}/alerts?limit= - последние риск-события
// - GET /api/v1/accounts/{id}/position-size?risk_pct= - рекомендуемый размер позиции
// - POST /api/v1/accounts/{id}/liquidate - аварийная ликвидация (admin)
// - DELETE /api/v1/accounts/{id}/emergency-stop - снятие аварийной остановки (admin)
type RiskHandler struct {
	risk   RiskService
	alerts AlertLister
}

// NewRiskHandler создает новый RiskHandler
func NewRiskHandler(risk RiskService, alerts AlertLister) *RiskHandler {
	return &RiskHandler{risk: risk, alerts: alerts}
}

// Validate выполняет ValidateTradeRisk
// POST /api/v1/risk/validate
//
// Отказ проверки - 200 с valid=false: запрос обработан успешно.
func (h *RiskHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req risk.TradeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.risk.ValidateTradeRisk(r.Context(), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

// GetPortfolioRisk возвращает оценку риска портфеля
// GET /api/v1/accounts/{id}/risk
func (h *RiskHandler) GetPortfolioRisk(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	pr, err := h.risk.AssessPortfolioRisk(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, pr)
}

// GetAlerts возвращает последние риск-события счета
// GET /api/v1/accounts/{id}/alerts?limit=50
func (h *RiskHandler) GetAlerts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit", defaultAlertLimit)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if limit <= 0 || limit > maxAlertLimit {
		respondWithError(w, http.StatusBadRequest, "validation_error", "limit must be between 1 and 500", "limit")
		return
	}

	alerts, err := h.alerts.ListByAccount(r.Context(), id, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if alerts == nil {
		alerts = []*models.RiskAlert{}
	}
	respondWithJSON(w, http.StatusOK, alerts)
}

// PositionSize возвращает рекомендуемый размер позиции
// GET /api/v1/accounts/{id}/position-size?risk_pct=0.02
func (h *RiskHandler) PositionSize(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	pct, err := queryFloat(r, "risk_pct", 0.02)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	size, err := h.risk.SuggestPositionSize(r.Context(), id, pct)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, size)
}

// Liquidate закрывает все открытые позиции счета и включает аварийную остановку
// POST /api/v1/accounts/{id}/liquidate
//
// Частичный сбой закрытия - 502 с числом закрытых позиций в details:
// остановка уже включена, незакрытые позиции дозакрываются планировщиком.
func (h *RiskHandler) Liquidate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req LiquidateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		req.Reason = "manual"
	}

	closed, err := h.risk.EmergencyLiquidate(r.Context(), id, req.Reason)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, LiquidateResponse{AccountID: id, Closed: closed, Reason: req.Reason})
}

// ClearEmergencyStop снимает аварийную остановку счета
// DELETE /api/v1/accounts/{id}/emergency-stop
func (h *RiskHandler) ClearEmergencyStop(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.risk.ClearEmergencyStop(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "emergency stop cleared"})
}
