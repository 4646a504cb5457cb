package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tradeguard/internal/api/middleware"
	"tradeguard/internal/marketdata"
	"tradeguard/internal/models"
	"tradeguard/internal/risk"
	"tradeguard/pkg/crypto"
	"tradeguard/pkg/utils"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

type stubRisk struct {
	cleared int
}

func (s *stubRisk) ValidateTradeRisk(context.Context, risk.TradeRequest) (*risk.ValidationResult, error) {
	return &risk.ValidationResult{Valid: true}, nil
}

func (s *stubRisk) AssessPortfolioRisk(_ context.Context, id int64) (*models.PortfolioRisk, error) {
	return &models.PortfolioRisk{AccountID: id}, nil
}

func (s *stubRisk) EmergencyLiquidate(context.Context, int64, string) (int, error) {
	return 0, nil
}

func (s *stubRisk) ClearEmergencyStop(context.Context, int64) error {
	s.cleared++
	return nil
}

func (s *stubRisk) SuggestPositionSize(_ context.Context, id int64, pct float64) (*risk.PositionSize, error) {
	return &risk.PositionSize{AccountID: id, RiskPercentage: pct}, nil
}

type stubAlerts struct{}

func (stubAlerts) ListByAccount(context.Context, int64, int) ([]*models.RiskAlert, error) {
	return nil, nil
}

func newTestRouter(t *testing.T) (http.Handler, *middleware.JWTAuth, *stubRisk) {
	t.Helper()
	hash, err := crypto.HashPasswordWithCost("admin-pass", 4)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	auth := middleware.NewJWTAuth(testJWTSecret, time.Hour)
	riskSvc := &stubRisk{}
	router := SetupRoutes(&Dependencies{
		Risk:              riskSvc,
		Alerts:            stubAlerts{},
		Prices:            marketdata.NewPriceCache(4),
		Auth:              auth,
		AdminPasswordHash: hash,
		AllowedOrigins:    []string{"https://ui.example"},
		Logger:            utils.NopLogger(),
	})
	return router, auth, riskSvc
}

func bearer(t *testing.T, auth *middleware.JWTAuth, role string) string {
	t.Helper()
	token, _, err := auth.Issue(1, role)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return "Bearer " + token
}

func TestSetupRoutes_Access(t *testing.T) {
	router, auth, riskSvc := newTestRouter(t)
	admin := bearer(t, auth, middleware.RoleAdmin)
	operator := bearer(t, auth, middleware.RoleOperator)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		token  string
		want   int
	}{
		{"health is public", http.MethodGet, "/health", "", "", http.StatusOK},
		{"metrics is public", http.MethodGet, "/metrics", "", "", http.StatusOK},
		{"login is public", http.MethodPost, "/api/v1/auth/login", `{"password":"admin-pass"}`, "", http.StatusOK},
		{"login wrong password", http.MethodPost, "/api/v1/auth/login", `{"password":"nope"}`, "", http.StatusUnauthorized},
		{"api requires token", http.MethodGet, "/api/v1/prices", "", "", http.StatusUnauthorized},
		{"operator reads prices", http.MethodGet, "/api/v1/prices", "", operator, http.StatusOK},
		{"operator cannot write prices", http.MethodPost, "/api/v1/prices", `[{"symbol":"BTC/USDT","price":1}]`, operator, http.StatusForbidden},
		{"admin writes prices", http.MethodPost, "/api/v1/prices", `[{"symbol":"BTC/USDT","price":1}]`, admin, http.StatusOK},
		{"operator reads risk", http.MethodGet, "/api/v1/accounts/3/risk", "", operator, http.StatusOK},
		{"operator cannot clear stop", http.MethodDelete, "/api/v1/accounts/3/emergency-stop", "", operator, http.StatusForbidden},
		{"admin clears stop", http.MethodDelete, "/api/v1/accounts/3/emergency-stop", "", admin, http.StatusOK},
		{"unknown route", http.MethodGet, "/api/v1/nothing", "", admin, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.token != "" {
				req.Header.Set("Authorization", tt.token)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("expected status %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}

	if riskSvc.cleared != 1 {
		t.Errorf("expected exactly one admin clear, got %d", riskSvc.cleared)
	}
}

func TestSetupRoutes_PreflightSkipsAuth(t *testing.T) {
	router, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/orders", nil)
	req.Header.Set("Origin", "https://ui.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://ui.example" {
		t.Errorf("expected allowed origin header, got %q", got)
	}
}

func TestSetupRoutes_NilDependencies(t *testing.T) {
	router := SetupRoutes(nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
}
