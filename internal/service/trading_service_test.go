package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"tradeguard/internal/exchange"
	"tradeguard/internal/models"
	"tradeguard/internal/risk"
	"tradeguard/pkg/errs"
	"tradeguard/pkg/utils"
)

type tradingFixture struct {
	svc       *TradingService
	adapter   *stubAdapter
	risk      *stubRisk
	trades    *MockTradeRepository
	positions *MockPositionRepository
	hub       *captureHub
}

func newTradingFixture(prices stubPrices) *tradingFixture {
	repo := NewMockConnectionRepository(&models.ExchangeConnection{ID: 1, AccountID: 10, ExchangeID: "binance", IsActive: true})
	adapter := &stubAdapter{
		name: "binance",
		order: &exchange.OrderResult{
			ID: "ord-1", Status: exchange.OrderStatusClosed, Filled: 0.01, Average: 30010, Cost: 300.1,
			Fee:       &exchange.Fee{Currency: "USDT", Cost: 0.3},
			Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		},
	}
	resolver := &stubResolver{repo: repo, adapters: map[int64]exchange.Adapter{1: adapter}}
	f := &tradingFixture{
		adapter:   adapter,
		risk:      &stubRisk{result: &risk.ValidationResult{Valid: true, RiskScore: 1.5}},
		trades:    &MockTradeRepository{},
		positions: NewMockPositionRepository(),
		hub:       &captureHub{},
	}
	f.svc = NewTradingService(resolver, f.trades, f.positions, f.risk, prices, utils.NopLogger())
	f.svc.SetWebSocketHub(f.hub)
	return f
}

func TestTradingService_SubmitOrder(t *testing.T) {
	f := newTradingFixture(stubPrices{"BTC/USDT": 30000})
	sl := 29000.0

	out, err := f.svc.SubmitOrder(context.Background(), OrderRequest{
		ConnectionID: 1, Symbol: "btc/usdt", Side: "buy", Amount: 0.01, StopLoss: &sl,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}

	if len(f.risk.requests) != 1 {
		t.Fatalf("риск-проверка вызвана %d раз", len(f.risk.requests))
	}
	req := f.risk.requests[0]
	if req.AccountID != 10 || req.Symbol != "BTC/USDT" || req.Price != 30000 || req.Amount != 0.01 {
		t.Errorf("unexpected risk request %+v", req)
	}

	params := f.adapter.submitted()
	if len(params) != 1 || params[0].Type != exchange.OrderTypeMarket || params[0].Symbol != "BTC/USDT" {
		t.Errorf("unexpected order params %+v", params)
	}

	if out.Order == nil || out.Order.ID != "ord-1" || out.TradeID == 0 || out.PositionID == 0 {
		t.Errorf("unexpected outcome %+v", out)
	}

	trade := f.trades.trades[0]
	if trade.Notional != 300.1 || trade.Price != 30010 || trade.Fee != 0.3 || trade.AccountID != 10 || trade.ExchangeID != "binance" {
		t.Errorf("unexpected trade %+v", trade)
	}

	pos := f.positions.positions[0]
	if pos.Quantity != 0.01 || pos.EntryPrice != 30010 || pos.StopLoss == nil || *pos.StopLoss != 29000 || pos.Status != models.PositionStatusOpen {
		t.Errorf("unexpected position %+v", pos)
	}

	if len(f.hub.orders) != 1 {
		t.Errorf("broadcast ордеров: %d", len(f.hub.orders))
	}
}

func TestTradingService_SubmitOrderRiskRejected(t *testing.T) {
	f := newTradingFixture(stubPrices{"BTC/USDT": 30000})
	f.risk.result = &risk.ValidationResult{Valid: false, Reason: risk.ReasonPositionSize}

	out, err := f.svc.SubmitOrder(context.Background(), OrderRequest{ConnectionID: 1, Symbol: "BTC/USDT", Side: "buy", Amount: 1})
	if !errors.Is(err, ErrRiskRejected) {
		t.Fatalf("err = %v, want ErrRiskRejected", err)
	}
	if out == nil || out.Validation == nil || out.Validation.Valid {
		t.Errorf("результат проверки не возвращен: %+v", out)
	}
	if len(f.adapter.submitted()) != 0 || len(f.trades.trades) != 0 {
		t.Error("отклоненная сделка дошла до биржи")
	}
}

func TestTradingService_SubmitOrderEmergencyGuard(t *testing.T) {
	f := newTradingFixture(stubPrices{"BTC/USDT": 30000})
	f.risk.guardErr = errs.Validation("account", "emergency stop is active")

	_, err := f.svc.SubmitOrder(context.Background(), OrderRequest{ConnectionID: 1, Symbol: "BTC/USDT", Side: "buy", Amount: 0.01})
	var verr *errs.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if len(f.adapter.submitted()) != 0 || len(f.trades.trades) != 0 {
		t.Error("ордер прошел при аварийной остановке")
	}
}

func TestTradingService_SubmitOrderNoPrice(t *testing.T) {
	f := newTradingFixture(stubPrices{})

	_, err := f.svc.SubmitOrder(context.Background(), OrderRequest{ConnectionID: 1, Symbol: "ETH/USDT", Side: "buy", Amount: 1})
	var verr *errs.ValidationError
	if !errors.As(err, &verr) || verr.Field != "price" {
		t.Fatalf("err = %v, want ValidationError(price)", err)
	}
	if len(f.risk.requests) != 0 {
		t.Error("проверка рисков без цены")
	}
}

func TestTradingService_SubmitOrderOpenLimit(t *testing.T) {
	f := newTradingFixture(stubPrices{})
	f.adapter.order = &exchange.OrderResult{ID: "ord-2", Status: exchange.OrderStatusOpen}

	out, err := f.svc.SubmitOrder(context.Background(), OrderRequest{
		ConnectionID: 1, Symbol: "ETH/USDT", Side: "sell", Type: "limit", Amount: 2, Price: 2100,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if out.PositionID != 0 || len(f.positions.positions) != 0 {
		t.Error("позиция открыта без исполнения")
	}
	if f.trades.trades[0].Notional != 4200 {
		t.Errorf("Notional = %v, want 4200", f.trades.trades[0].Notional)
	}
}

func TestTradingService_ClosePosition(t *testing.T) {
	f := newTradingFixture(stubPrices{"BTC/USDT": 28000})
	p := &models.Position{ID: 3, AccountID: 10, ConnectionID: 1, Symbol: "BTC/USDT", Side: models.SideBuy, Quantity: 0.5}

	allow := exchange.GuardFunc(func(context.Context) error { return nil })
	order, err := f.svc.ClosePosition(context.Background(), p, allow)
	if err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	params := f.adapter.submitted()
	if len(params) != 1 {
		t.Fatalf("ордеров %d", len(params))
	}
	if params[0].Side != "sell" || params[0].Type != "market" || params[0].Amount != 0.5 || !params[0].ReduceOnly {
		t.Errorf("unexpected close params %+v", params[0])
	}
	if order.Side != "sell" || len(f.trades.trades) != 1 {
		t.Errorf("order=%+v trades=%d", order, len(f.trades.trades))
	}
	if len(f.risk.requests) != 0 {
		t.Error("закрытие не проходит предторговую проверку")
	}
}

func TestTradingService_GetOrderStatus(t *testing.T) {
	f := newTradingFixture(stubPrices{"BTC/USDT": 30000})
	if _, err := f.svc.SubmitOrder(context.Background(), OrderRequest{ConnectionID: 1, Symbol: "BTC/USDT", Side: "buy", Amount: 0.01}); err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}

	f.adapter.order = &exchange.OrderResult{Status: exchange.OrderStatusClosed, Amount: 0.01, Filled: 0.01, Average: 30020, Cost: 300.2}
	order, err := f.svc.GetOrderStatus(context.Background(), 1, "btc/usdt", "ord-1")
	if err != nil {
		t.Fatalf("GetOrderStatus: %v", err)
	}
	if order.ID != "ord-1" || order.Symbol != "BTC/USDT" {
		t.Errorf("unexpected order %+v", order)
	}
	if len(f.trades.updates) != 1 || f.trades.trades[0].Notional != 300.2 {
		t.Errorf("сделка не обновлена: %+v", f.trades.trades[0])
	}

	// неизвестный ордер: запись сделки не найдена, ответ биржи возвращается
	if _, err := f.svc.GetOrderStatus(context.Background(), 1, "BTC/USDT", "external"); err != nil {
		t.Errorf("GetOrderStatus(external): %v", err)
	}
}
