package service

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"tradeguard/internal/exchange"
	"tradeguard/internal/models"
	"tradeguard/internal/repository"
	"tradeguard/internal/risk"
)

// ============ Mock ConnectionRepository ============

type MockConnectionRepository struct {
	mu        sync.Mutex
	conns     map[int64]*models.ExchangeConnection
	statuses  map[int64]*models.ExchangeConnection
	createErr error
	nextID    int64
}

func NewMockConnectionRepository(conns ...*models.ExchangeConnection) *MockConnectionRepository {
	m := &MockConnectionRepository{
		conns:    make(map[int64]*models.ExchangeConnection),
		statuses: make(map[int64]*models.ExchangeConnection),
		nextID:   1,
	}
	for _, c := range conns {
		m.conns[c.ID] = c
		if c.ID >= m.nextID {
			m.nextID = c.ID + 1
		}
	}
	return m
}

func (m *MockConnectionRepository) Create(_ context.Context, c *models.ExchangeConnection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	c.ID = m.nextID
	m.nextID++
	m.conns[c.ID] = c
	return nil
}

func (m *MockConnectionRepository) GetByID(_ context.Context, id int64) (*models.ExchangeConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	if !ok {
		return nil, repository.ErrConnectionNotFound
	}
	return c, nil
}

func (m *MockConnectionRepository) ListActive(context.Context) ([]*models.ExchangeConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ExchangeConnection
	for _, c := range m.conns {
		if c.IsActive {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockConnectionRepository) ListByUser(_ context.Context, userID int64) ([]*models.ExchangeConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ExchangeConnection
	for _, c := range m.conns {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MockConnectionRepository) UpdateSyncStatus(_ context.Context, c *models.ExchangeConnection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.statuses[c.ID] = &cp
	return nil
}

func (m *MockConnectionRepository) SetActive(_ context.Context, id int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	if !ok {
		return repository.ErrConnectionNotFound
	}
	c.IsActive = active
	return nil
}

func (m *MockConnectionRepository) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conns[id]; !ok {
		return repository.ErrConnectionNotFound
	}
	delete(m.conns, id)
	return nil
}

func (m *MockConnectionRepository) status(id int64) *models.ExchangeConnection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statuses[id]
}

// ============ Mock HoldingRepository ============

// MockHoldingRepository хранит остатки по подключениям, как таблица holdings
type MockHoldingRepository struct {
	mu       sync.Mutex
	holdings map[int64]map[string]*models.Holding
	zeroed   map[int64][]string
}

func NewMockHoldingRepository() *MockHoldingRepository {
	return &MockHoldingRepository{
		holdings: make(map[int64]map[string]*models.Holding),
		zeroed:   make(map[int64][]string),
	}
}

func (m *MockHoldingRepository) Upsert(_ context.Context, h *models.Holding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holdings[h.ConnectionID] == nil {
		m.holdings[h.ConnectionID] = make(map[string]*models.Holding)
	}
	cp := *h
	m.holdings[h.ConnectionID][h.Symbol] = &cp
	return nil
}

func (m *MockHoldingRepository) Get(_ context.Context, connectionID int64, symbol string) (*models.Holding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holdings[connectionID][symbol]
	if !ok {
		return nil, repository.ErrHoldingNotFound
	}
	cp := *h
	return &cp, nil
}

func (m *MockHoldingRepository) ZeroMissing(_ context.Context, connectionID int64, present []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.zeroed[connectionID] = present
	keep := make(map[string]bool, len(present))
	for _, s := range present {
		keep[s] = true
	}
	var n int64
	for symbol, h := range m.holdings[connectionID] {
		if !keep[symbol] && h.Quantity != 0 {
			h.Quantity, h.CurrentValue = 0, 0
			n++
		}
	}
	return n, nil
}

func (m *MockHoldingRepository) get(connectionID int64, symbol string) *models.Holding {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holdings[connectionID][symbol]
}

// accountQuantity - суммарный остаток символа по всем подключениям счета
func (m *MockHoldingRepository) accountQuantity(accountID int64, symbol string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var qty float64
	for _, bySymbol := range m.holdings {
		if h, ok := bySymbol[symbol]; ok && h.AccountID == accountID {
			qty += h.Quantity
		}
	}
	return qty
}

// ============ Mock AccountRepository ============

// MockAccountRepository считает стоимость счета по MockHoldingRepository
type MockAccountRepository struct {
	holdings *MockHoldingRepository
}

func (m *MockAccountRepository) RecalculateTotalValue(_ context.Context, id int64) (float64, error) {
	m.holdings.mu.Lock()
	defer m.holdings.mu.Unlock()
	var total float64
	for _, bySymbol := range m.holdings.holdings {
		for _, h := range bySymbol {
			if h.AccountID == id {
				total += h.CurrentValue
			}
		}
	}
	return total, nil
}

// ============ Mock PositionRepository ============

type MockPositionRepository struct {
	mu        sync.Mutex
	positions []*models.Position
	openCount map[int64]int
}

func NewMockPositionRepository() *MockPositionRepository {
	return &MockPositionRepository{openCount: make(map[int64]int)}
}

func (m *MockPositionRepository) Create(_ context.Context, p *models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = int64(len(m.positions) + 1)
	m.positions = append(m.positions, p)
	return nil
}

func (m *MockPositionRepository) CountOpenByConnection(_ context.Context, connectionID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openCount[connectionID], nil
}

// ============ Mock TradeRepository ============

type MockTradeRepository struct {
	mu      sync.Mutex
	trades  []*models.Trade
	updates []string
}

func (m *MockTradeRepository) Create(_ context.Context, t *models.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = int64(len(m.trades) + 1)
	m.trades = append(m.trades, t)
	return nil
}

func (m *MockTradeRepository) UpdateExecution(_ context.Context, connectionID int64, exchangeOrderID, status string, price, notional, fee float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.trades {
		if t.ConnectionID == connectionID && t.ExchangeOrderID == exchangeOrderID {
			t.Status, t.Price, t.Notional, t.Fee = status, price, notional, fee
			m.updates = append(m.updates, exchangeOrderID)
			return nil
		}
	}
	return repository.ErrTradeNotFound
}

// ============ Биржа и зависимости ============

// stubAdapter - адаптер с заданными ответами
type stubAdapter struct {
	name        string
	balances    []exchange.Balance
	balancesErr error
	order       *exchange.OrderResult
	orderErr    error
	delay       time.Duration

	// failOnce возвращается первым вызовом GetBalances
	failOnce     error
	balanceCalls int

	mu       sync.Mutex
	params   []exchange.OrderParams
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (a *stubAdapter) Name() string { return a.name }

func (a *stubAdapter) MapSymbol(symbol string) (string, error) { return symbol, nil }

func (a *stubAdapter) CreateOrder(ctx context.Context, guard exchange.OrderGuard, _ exchange.Credentials, p exchange.OrderParams) (*exchange.OrderResult, error) {
	if err := guard.AllowOrder(ctx); err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.params = append(a.params, p)
	a.mu.Unlock()
	if a.orderErr != nil {
		return nil, a.orderErr
	}
	r := *a.order
	r.Symbol, r.Side, r.Type, r.Amount = p.Symbol, p.Side, p.Type, p.Amount
	return &r, nil
}

func (a *stubAdapter) GetBalances(ctx context.Context, _ exchange.Credentials) ([]exchange.Balance, error) {
	n := a.inFlight.Add(1)
	defer a.inFlight.Add(-1)
	for {
		seen := a.maxSeen.Load()
		if n <= seen || a.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balanceCalls++
	if a.failOnce != nil {
		err := a.failOnce
		a.failOnce = nil
		return nil, err
	}
	return a.balances, a.balancesErr
}

func (a *stubAdapter) GetOrderStatus(_ context.Context, _ exchange.Credentials, symbol, orderID string) (*exchange.OrderResult, error) {
	if a.orderErr != nil {
		return nil, a.orderErr
	}
	r := *a.order
	r.ID, r.Symbol = orderID, symbol
	return &r, nil
}

func (a *stubAdapter) submitted() []exchange.OrderParams {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]exchange.OrderParams(nil), a.params...)
}

// stubResolver - адаптеры по ID подключения
type stubResolver struct {
	repo     *MockConnectionRepository
	adapters map[int64]exchange.Adapter
	credsErr map[int64]error
}

func (r *stubResolver) Resolve(ctx context.Context, id int64) (*models.ExchangeConnection, exchange.Adapter, exchange.Credentials, error) {
	conn, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, exchange.Credentials{}, err
	}
	if !conn.IsActive {
		return nil, nil, exchange.Credentials{}, ErrConnectionInactive
	}
	adapter, _ := r.Adapter(conn)
	creds, err := r.Credentials(conn)
	return conn, adapter, creds, err
}

func (r *stubResolver) Adapter(conn *models.ExchangeConnection) (exchange.Adapter, error) {
	return r.adapters[conn.ID], nil
}

func (r *stubResolver) Credentials(conn *models.ExchangeConnection) (exchange.Credentials, error) {
	if err := r.credsErr[conn.ID]; err != nil {
		return exchange.Credentials{}, err
	}
	return exchange.Credentials{APIKey: "k", APISecret: "s"}, nil
}

// stubRisk - предторговая проверка с заданным ответом
type stubRisk struct {
	result   *risk.ValidationResult
	err      error
	guardErr error
	requests []risk.TradeRequest
}

func (r *stubRisk) ValidateTradeRisk(_ context.Context, req risk.TradeRequest) (*risk.ValidationResult, error) {
	r.requests = append(r.requests, req)
	if r.err != nil {
		return nil, r.err
	}
	return r.result, nil
}

func (r *stubRisk) Guard(int64) exchange.OrderGuard {
	return exchange.GuardFunc(func(context.Context) error { return r.guardErr })
}

// stubPrices - фиксированные цены
type stubPrices map[string]float64

func (p stubPrices) LatestPrice(symbol string) (float64, bool) {
	v, ok := p[symbol]
	return v, ok
}

func (p stubPrices) PriceOf(currency string) (float64, bool) {
	v, ok := p[currency+"/USDT"]
	return v, ok
}

// captureHub запоминает broadcast
type captureHub struct {
	mu       sync.Mutex
	balances []BalanceUpdate
	orders   []*exchange.OrderResult
}

func (h *captureHub) BroadcastBalanceUpdate(u BalanceUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.balances = append(h.balances, u)
}

func (h *captureHub) BroadcastOrderUpdate(_ int64, order *exchange.OrderResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.orders = append(h.orders, order)
}
