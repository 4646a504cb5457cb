package handlers

import (
	"net/http"

	"tradeguard/internal/marketdata"
	"tradeguard/pkg/utils"
)

// maxPriceBatch - максимум котировок в одном запросе
const maxPriceBatch = 1000

// PriceStore - кэш рыночных цен (marketdata.PriceCache)
type PriceStore interface {
	Update(symbol string, price float64) error
	Snapshot() []marketdata.Quote
}

// PriceUpdate - одна котировка во входящем пакете
type PriceUpdate struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// PriceHandler принимает котировки от внешнего источника рыночных данных
//
// Endpoints:
// - GET /api/v1/prices - последние цены
// - POST /api/v1/prices - пакет котировок (admin)
type PriceHandler struct {
	cache PriceStore
}

// NewPriceHandler создает новый PriceHandler
func NewPriceHandler(cache PriceStore) *PriceHandler {
	return &PriceHandler{cache: cache}
}

// GetPrices возвращает последние цены по всем символам
// GET /api/v1/prices
func (h *PriceHandler) GetPrices(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.cache.Snapshot())
}

// UpdatePrices записывает пакет котировок.
// Пакет применяется целиком только при корректности всех котировок.
// POST /api/v1/prices
func (h *PriceHandler) UpdatePrices(w http.ResponseWriter, r *http.Request) {
	var batch []PriceUpdate
	if !decodeJSON(w, r, &batch) {
		return
	}
	if len(batch) == 0 || len(batch) > maxPriceBatch {
		respondWithError(w, http.StatusBadRequest, "validation_error", "batch must contain 1 to 1000 quotes", "")
		return
	}
	for _, q := range batch {
		if err := utils.ValidateSymbol(q.Symbol); err != nil || q.Price <= 0 {
			respondWithError(w, http.StatusBadRequest, "validation_error", "symbol BASE/QUOTE and positive price are required", q.Symbol)
			return
		}
	}

	for _, q := range batch {
		if err := h.cache.Update(q.Symbol, q.Price); err != nil {
			handleServiceError(w, err)
			return
		}
	}
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "prices updated", Data: map[string]int{"updated": len(batch)}})
}
