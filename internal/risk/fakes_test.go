package risk

import (
	"context"
	"sync"
	"time"

	"tradeguard/internal/exchange"
	"tradeguard/internal/models"
	"tradeguard/internal/repository"
	"tradeguard/pkg/utils"
)

// memStore - хранилище в памяти, реализует все интерфейсы хранилищ движка
type memStore struct {
	mu        sync.Mutex
	stopped   map[int64]string
	holdings  map[int64][]*models.Holding
	positions map[int64]*models.Position
	claimedAt map[int64]time.Time
	closeErr  map[int64]error // ошибка Close для позиции
	daily     map[int64]float64
	params    map[int64]*models.RiskParameters
	alerts    []*models.RiskAlert
}

func newMemStore() *memStore {
	return &memStore{
		stopped:   make(map[int64]string),
		holdings:  make(map[int64][]*models.Holding),
		positions: make(map[int64]*models.Position),
		claimedAt: make(map[int64]time.Time),
		closeErr:  make(map[int64]error),
		daily:     make(map[int64]float64),
		params:    make(map[int64]*models.RiskParameters),
	}
}

func (m *memStore) stores() Stores {
	return Stores{Accounts: m, Holdings: m, Positions: m, Trades: m, Params: m, Alerts: m}
}

func (m *memStore) IsEmergencyStopped(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.stopped[id]
	return ok, nil
}

func (m *memStore) SetEmergencyStop(_ context.Context, id int64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stopped[id]; !ok {
		m.stopped[id] = reason
	}
	return nil
}

func (m *memStore) ClearEmergencyStop(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stopped, id)
	return nil
}

func (m *memStore) ListEmergencyStopped(context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.stopped))
	for id := range m.stopped {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *memStore) ListByAccount(_ context.Context, accountID int64) ([]*models.Holding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holdings[accountID], nil
}

func (m *memStore) addPosition(p *models.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Status == "" {
		p.Status = models.PositionStatusOpen
	}
	m.positions[p.ID] = p
}

func (m *memStore) status(id int64) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.positions[id].Status
}

func (m *memStore) listOpen(accountID int64, withStop bool) []*models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Position
	for _, p := range m.positions {
		if p.AccountID != accountID || p.Status != models.PositionStatusOpen {
			continue
		}
		if withStop && p.StopLoss == nil {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out
}

func (m *memStore) ListOpen(_ context.Context, accountID int64) ([]*models.Position, error) {
	return m.listOpen(accountID, false), nil
}

func (m *memStore) ListOpenWithStopLoss(_ context.Context, accountID int64) ([]*models.Position, error) {
	return m.listOpen(accountID, true), nil
}

func (m *memStore) ListAccountsWithStopLoss(context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[int64]bool)
	var ids []int64
	for _, p := range m.positions {
		if p.Status == models.PositionStatusOpen && p.StopLoss != nil && !seen[p.AccountID] {
			seen[p.AccountID] = true
			ids = append(ids, p.AccountID)
		}
	}
	return ids, nil
}

func (m *memStore) Claim(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok || p.Status != models.PositionStatusOpen {
		return false, nil
	}
	p.Status = models.PositionStatusClosing
	m.claimedAt[id] = time.Now()
	return true, nil
}

func (m *memStore) Release(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.positions[id]; ok && p.Status == models.PositionStatusClosing {
		p.Status = models.PositionStatusOpen
	}
	return nil
}

func (m *memStore) Close(_ context.Context, id int64, closedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.closeErr[id]; err != nil {
		return err
	}
	p, ok := m.positions[id]
	if !ok || p.Status != models.PositionStatusClosing {
		return repository.ErrPositionNotClaimed
	}
	p.Status = models.PositionStatusClosed
	p.ClosedAt = &closedAt
	return nil
}

func (m *memStore) ListStaleClaims(_ context.Context, before time.Time) ([]*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Position
	for id, at := range m.claimedAt {
		p := m.positions[id]
		if p.Status == models.PositionStatusClosing && at.Before(before) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) NotionalSince(_ context.Context, accountID int64, _ time.Time) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.daily[accountID], nil
}

func (m *memStore) Get(_ context.Context, accountID int64) (*models.RiskParameters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.params[accountID]
	if !ok {
		return nil, repository.ErrRiskParametersNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) Create(_ context.Context, a *models.RiskAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = int64(len(m.alerts) + 1)
	m.alerts = append(m.alerts, a)
	return nil
}

func (m *memStore) alertsOf(riskType string) []*models.RiskAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.RiskAlert
	for _, a := range m.alerts {
		if a.RiskType == riskType {
			out = append(out, a)
		}
	}
	return out
}

// stubPrices - фиксированные цены и истории
type stubPrices struct {
	last    map[string]float64
	history map[string][]float64
}

func (s stubPrices) LatestPrice(symbol string) (float64, bool) {
	p, ok := s.last[symbol]
	return p, ok
}

func (s stubPrices) HistoryOf(currency string) []float64 {
	return s.history[currency]
}

// recordingCloser запоминает закрытые позиции; fail - ошибка для позиции
type recordingCloser struct {
	mu     sync.Mutex
	closed []int64
	guards []exchange.OrderGuard
	fail   map[int64]error

	// failOnce - ошибка только для первой попытки закрытия
	failOnce map[int64]error
}

func (c *recordingCloser) ClosePosition(ctx context.Context, p *models.Position, guard exchange.OrderGuard) (*exchange.OrderResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.guards = append(c.guards, guard)
	if err := c.failOnce[p.ID]; err != nil {
		delete(c.failOnce, p.ID)
		return nil, err
	}
	if err := c.fail[p.ID]; err != nil {
		return nil, err
	}
	if err := guard.AllowOrder(ctx); err != nil {
		return nil, err
	}
	c.closed = append(c.closed, p.ID)
	return &exchange.OrderResult{ID: "close-1", Status: exchange.OrderStatusClosed, Amount: p.Quantity, Filled: p.Quantity}, nil
}

func (c *recordingCloser) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.closed)
}

type captureNotifier struct {
	mu     sync.Mutex
	alerts []*models.RiskAlert
}

func (n *captureNotifier) BroadcastRiskAlert(a *models.RiskAlert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
}

func newTestEngine(store *memStore, prices PriceSource) (*Engine, *recordingCloser) {
	e := NewEngine(store.stores(), prices, DefaultConfig(), utils.NopLogger())
	e.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	closer := &recordingCloser{fail: make(map[int64]error), failOnce: make(map[int64]error)}
	e.SetPositionCloser(closer)
	return e, closer
}

func float(v float64) *float64 {
	return &v
}
