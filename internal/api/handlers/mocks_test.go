package handlers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"tradeguard/internal/api/middleware"
	"tradeguard/internal/exchange"
	"tradeguard/internal/models"
	"tradeguard/internal/repository"
	"tradeguard/internal/risk"
	"tradeguard/internal/service"
)

// ErrMockDatabase - ошибка хранилища в моках
var ErrMockDatabase = errors.New("mock database error")

// ============ Mock Connection Service ============

// MockConnectionService мок для ConnectionServiceInterface
type MockConnectionService struct {
	mu          sync.Mutex
	connections map[int64]*models.ExchangeConnection
	nextID      int64
	connectErr  error
	lastConnect service.ConnectRequest
}

func NewMockConnectionService() *MockConnectionService {
	return &MockConnectionService{connections: make(map[int64]*models.ExchangeConnection), nextID: 1}
}

func (m *MockConnectionService) AddConnection(c *models.ExchangeConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.nextID
	m.nextID++
	m.connections[c.ID] = c
}

func (m *MockConnectionService) Connect(_ context.Context, req service.ConnectRequest) (*models.ExchangeConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastConnect = req
	if m.connectErr != nil {
		return nil, m.connectErr
	}
	c := &models.ExchangeConnection{
		ID:               m.nextID,
		UserID:           req.UserID,
		AccountID:        req.AccountID,
		ExchangeID:       req.ExchangeID,
		IsActive:         true,
		IsTestnet:        req.Testnet,
		ConnectionStatus: models.ConnectionStatusConnected,
	}
	m.nextID++
	m.connections[c.ID] = c
	return c, nil
}

func (m *MockConnectionService) Disconnect(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.connections[id]
	if !ok {
		return repository.ErrConnectionNotFound
	}
	if c.ErrorMessage == "has positions" {
		return service.ErrHasOpenPositions
	}
	delete(m.connections, id)
	return nil
}

func (m *MockConnectionService) ListConnections(_ context.Context, userID int64) ([]*models.ExchangeConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ExchangeConnection
	for _, c := range m.connections {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MockConnectionService) GetConnection(_ context.Context, id int64) (*models.ExchangeConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.connections[id]
	if !ok {
		return nil, repository.ErrConnectionNotFound
	}
	return c, nil
}

// ============ Mock Reconciliation Service ============

type MockReconciliationService struct {
	mu        sync.Mutex
	forced    []bool
	resultErr error
}

func (m *MockReconciliationService) SyncAll(_ context.Context, force bool) (*service.SyncReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forced = append(m.forced, force)
	return &service.SyncReport{Total: 2, Synced: 1, Failed: 1}, nil
}

func (m *MockReconciliationService) SyncConnection(_ context.Context, id int64, force bool) (*service.SyncResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forced = append(m.forced, force)
	if m.resultErr != nil {
		return nil, m.resultErr
	}
	return &service.SyncResult{ConnectionID: id, Status: models.ConnectionStatusConnected}, nil
}

// ============ Mock Trading Service ============

type MockTradingService struct {
	outcome *service.OrderOutcome
	err     error
	order   *exchange.OrderResult
	lastReq service.OrderRequest
}

func (m *MockTradingService) SubmitOrder(_ context.Context, req service.OrderRequest) (*service.OrderOutcome, error) {
	m.lastReq = req
	return m.outcome, m.err
}

func (m *MockTradingService) GetOrderStatus(_ context.Context, _ int64, symbol, orderID string) (*exchange.OrderResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.order == nil || m.order.ID != orderID || m.order.Symbol != symbol {
		return nil, repository.ErrTradeNotFound
	}
	return m.order, nil
}

// ============ Mock Risk Service ============

type MockRiskService struct {
	validation   *risk.ValidationResult
	portfolio    *models.PortfolioRisk
	size         *risk.PositionSize
	closed       int
	err          error
	lastReason   string
	lastPct      float64
	clearedCalls int
}

func (m *MockRiskService) ValidateTradeRisk(_ context.Context, _ risk.TradeRequest) (*risk.ValidationResult, error) {
	return m.validation, m.err
}

func (m *MockRiskService) AssessPortfolioRisk(_ context.Context, _ int64) (*models.PortfolioRisk, error) {
	return m.portfolio, m.err
}

func (m *MockRiskService) EmergencyLiquidate(_ context.Context, _ int64, reason string) (int, error) {
	m.lastReason = reason
	return m.closed, m.err
}

func (m *MockRiskService) ClearEmergencyStop(_ context.Context, _ int64) error {
	m.clearedCalls++
	return m.err
}

func (m *MockRiskService) SuggestPositionSize(_ context.Context, _ int64, pct float64) (*risk.PositionSize, error) {
	m.lastPct = pct
	return m.size, m.err
}

type MockAlertLister struct {
	alerts    []*models.RiskAlert
	lastLimit int
}

func (m *MockAlertLister) ListByAccount(_ context.Context, _ int64, limit int) ([]*models.RiskAlert, error) {
	m.lastLimit = limit
	if len(m.alerts) > limit {
		return m.alerts[:limit], nil
	}
	return m.alerts, nil
}

// ============ Mock Token Issuer ============

type mockIssuer struct {
	err error
}

func (m mockIssuer) Issue(userID int64, role string) (string, time.Time, error) {
	if m.err != nil {
		return "", time.Time{}, m.err
	}
	return "token-" + role, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), nil
}

// ============ Хелперы ============

func jsonBody(t *testing.T, v interface{}) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return bytes.NewReader(data)
}

// serve прогоняет запрос через mux, чтобы заполнить параметры маршрута
func serve(pattern, method string, h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	r := mux.NewRouter()
	r.HandleFunc(pattern, h).Methods(method)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func asUser(req *http.Request, userID int64) *http.Request {
	ctx := middleware.WithClaims(req.Context(), &middleware.Claims{UserID: userID, Role: middleware.RoleOperator})
	return req.WithContext(ctx)
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp
}

func bytesContain(b []byte, s string) bool {
	return bytes.Contains(b, []byte(s))
}
