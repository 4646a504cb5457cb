package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tradeguard/internal/exchange"
	"tradeguard/internal/risk"
	"tradeguard/internal/service"
	"tradeguard/pkg/errs"
)

func TestOrderHandler_SubmitOrder(t *testing.T) {
	t.Run("accepted order", func(t *testing.T) {
		trading := &MockTradingService{outcome: &service.OrderOutcome{
			Validation: &risk.ValidationResult{Valid: true, RiskScore: 0.1, Notional: 500},
			Order:      &exchange.OrderResult{ID: "o-1", Symbol: "BTC/USDT", Status: exchange.OrderStatusClosed, Amount: 0.01, Filled: 0.01},
			TradeID:    7,
			PositionID: 3,
		}}
		handler := NewOrderHandler(trading)

		body := service.OrderRequest{ConnectionID: 1, Symbol: "BTC/USDT", Side: "buy", Type: "market", Amount: 0.01}
		req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", jsonBody(t, body))
		w := httptest.NewRecorder()
		handler.SubmitOrder(w, req)

		if w.Code != http.StatusCreated {
			t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
		}
		var outcome service.OrderOutcome
		if err := json.NewDecoder(w.Body).Decode(&outcome); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if outcome.TradeID != 7 || outcome.Order == nil || outcome.Order.ID != "o-1" {
			t.Errorf("unexpected outcome %+v", outcome)
		}
		if trading.lastReq.Amount != 0.01 {
			t.Errorf("request not forwarded: %+v", trading.lastReq)
		}
	})

	t.Run("risk rejection returns validation result", func(t *testing.T) {
		validation := &risk.ValidationResult{Valid: false, Reason: "daily loss limit exceeded", RiskScore: 1}
		trading := &MockTradingService{
			outcome: &service.OrderOutcome{Validation: validation},
			err:     fmt.Errorf("%w: %s", service.ErrRiskRejected, validation.Reason),
		}
		handler := NewOrderHandler(trading)

		body := service.OrderRequest{ConnectionID: 1, Symbol: "BTC/USDT", Side: "buy", Amount: 1}
		req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", jsonBody(t, body))
		w := httptest.NewRecorder()
		handler.SubmitOrder(w, req)

		if w.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected status %d, got %d", http.StatusUnprocessableEntity, w.Code)
		}
		var outcome service.OrderOutcome
		if err := json.NewDecoder(w.Body).Decode(&outcome); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if outcome.Validation == nil || outcome.Validation.Reason != "daily loss limit exceeded" {
			t.Errorf("expected rejection reason, got %+v", outcome.Validation)
		}
		if outcome.Order != nil {
			t.Error("rejected trade must not carry an order")
		}
	})

	t.Run("rate limited sets Retry-After", func(t *testing.T) {
		trading := &MockTradingService{err: &errs.RateLimitError{Exchange: "binance", Endpoint: "/order", Limit: 60, RetryAfter: 1500 * time.Millisecond}}
		handler := NewOrderHandler(trading)

		body := service.OrderRequest{ConnectionID: 1, Symbol: "BTC/USDT", Side: "buy", Amount: 1}
		req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", jsonBody(t, body))
		w := httptest.NewRecorder()
		handler.SubmitOrder(w, req)

		if w.Code != http.StatusTooManyRequests {
			t.Fatalf("expected status %d, got %d", http.StatusTooManyRequests, w.Code)
		}
		if got := w.Header().Get("Retry-After"); got != "2" {
			t.Errorf("expected Retry-After 2, got %q", got)
		}
	})

	t.Run("missing connection id", func(t *testing.T) {
		handler := NewOrderHandler(&MockTradingService{})

		body := service.OrderRequest{Symbol: "BTC/USDT", Side: "buy", Amount: 1}
		req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", jsonBody(t, body))
		w := httptest.NewRecorder()
		handler.SubmitOrder(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}
	})

	t.Run("emergency stop refusal is a validation error", func(t *testing.T) {
		trading := &MockTradingService{err: errs.Validation("account", "emergency stop is active")}
		handler := NewOrderHandler(trading)

		body := service.OrderRequest{ConnectionID: 1, Symbol: "BTC/USDT", Side: "buy", Amount: 1}
		req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", jsonBody(t, body))
		w := httptest.NewRecorder()
		handler.SubmitOrder(w, req)

		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}
		if resp := decodeError(t, w); resp.Details != "account" {
			t.Errorf("expected field account, got %q", resp.Details)
		}
	})
}

func TestOrderHandler_GetOrderStatus(t *testing.T) {
	trading := &MockTradingService{order: &exchange.OrderResult{ID: "abc", Symbol: "ETH/USDT", Status: exchange.OrderStatusOpen}}
	handler := NewOrderHandler(trading)
	const pattern = "/api/v1/connections/{id}/orders/{orderId}"

	tests := []struct {
		name string
		path string
		want int
	}{
		{"found", "/api/v1/connections/1/orders/abc?symbol=ETH/USDT", http.StatusOK},
		{"missing symbol", "/api/v1/connections/1/orders/abc", http.StatusBadRequest},
		{"unknown order", "/api/v1/connections/1/orders/zzz?symbol=ETH/USDT", http.StatusNotFound},
		{"bad connection id", "/api/v1/connections/x/orders/abc?symbol=ETH/USDT", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(pattern, http.MethodGet, handler.GetOrderStatus, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if w.Code != tt.want {
				t.Errorf("expected status %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}
