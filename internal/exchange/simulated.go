package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradeguard/pkg/errs"
	"tradeguard/pkg/utils"
)

const (
	simOrderPath   = "/sim/order"
	simBalancePath = "/sim/balance"
)

var (
	// проскальзывание против стороны ордера: 5 б.п.
	simSlippage = decimal.NewFromFloat(0.0005)
	// комиссия 0.1% от стоимости
	simFeeRate = decimal.NewFromFloat(0.001)
)

// DefaultPaperBalance - бумажный кошелек симулятора по умолчанию
var DefaultPaperBalance = []Balance{{Currency: "USDT", Free: 10000, Total: 10000}}

// Simulated реализует Adapter без сетевого ввода-вывода (paper trading).
// Проверки ордера идентичны боевым адаптерам, маппинг символов - как у биржи id.
type Simulated struct {
	base
	latency time.Duration
	prices  PriceSource

	mu      sync.RWMutex
	orders  map[string]OrderResult
	balance map[string]decimal.Decimal
}

// NewSimulated создает симулятор биржи id
func NewSimulated(id string, opts Options) *Simulated {
	s := &Simulated{
		base: newBase(id, "", "", opts,
			OrderTypeMarket, OrderTypeLimit, OrderTypeStop, OrderTypeStopLimit, OrderTypeTrailingStop),
		latency: opts.SimLatency,
		prices:  opts.PriceSource,
		orders:  make(map[string]OrderResult),
		balance: make(map[string]decimal.Decimal),
	}
	s.paper = true

	wallet := opts.SimBalances
	if wallet == nil {
		wallet = DefaultPaperBalance
	}
	for _, b := range wallet {
		s.balance[b.Currency] = decimal.NewFromFloat(b.Total)
	}
	return s
}

func (s *Simulated) CreateOrder(ctx context.Context, guard OrderGuard, creds Credentials, p OrderParams) (*OrderResult, error) {
	if _, err := s.preflight(ctx, guard, creds, p, simOrderPath); err != nil {
		return nil, err
	}
	if err := s.sleep(ctx); err != nil {
		return nil, err
	}

	ref := p.Price
	if s.prices != nil {
		if last, ok := s.prices.LatestPrice(utils.NormalizeSymbol(p.Symbol)); ok && last > 0 {
			ref = last
		}
	}
	if ref <= 0 {
		return nil, errs.Validation("price", "no market price available for %s", p.Symbol)
	}

	r := OrderResult{
		ID:            uuid.NewString(),
		ClientOrderID: clientOrderID(p),
		Symbol:        p.Symbol,
		Side:          p.Side,
		Type:          p.Type,
		Status:        OrderStatusOpen,
		Amount:        p.Amount,
		Price:         p.Price,
		Timestamp:     time.Now().UTC(),
	}

	if fill, ok := simFillPrice(p, decimal.NewFromFloat(ref)); ok {
		amount := decimal.NewFromFloat(p.Amount)
		cost := amount.Mul(fill)
		fee := cost.Mul(simFeeRate)
		_, quote, _ := utils.SplitSymbol(p.Symbol)

		r.Status = OrderStatusClosed
		r.Filled = p.Amount
		r.Average = fill.InexactFloat64()
		r.Cost = cost.InexactFloat64()
		r.Fee = &Fee{Currency: quote, Cost: fee.InexactFloat64()}

		s.applyFill(p, amount, cost, fee)
	}
	finalizeResult(&r)

	s.mu.Lock()
	s.orders[r.ID] = r
	s.mu.Unlock()

	s.log.Info("simulated order",
		utils.Symbol(p.Symbol), utils.Side(p.Side), utils.Amount(p.Amount),
		utils.Price(r.Average), utils.Status(r.Status), utils.OrderID(r.ID))

	return &r, nil
}

// simFillPrice: рыночный ордер исполняется по цене с проскальзыванием против стороны,
// лимитный - по своей цене, если рынок не хуже; стоп-ордера остаются open
func simFillPrice(p OrderParams, ref decimal.Decimal) (decimal.Decimal, bool) {
	switch p.Type {
	case OrderTypeMarket:
		if p.Side == SideBuy {
			return ref.Mul(decimal.NewFromInt(1).Add(simSlippage)), true
		}
		return ref.Mul(decimal.NewFromInt(1).Sub(simSlippage)), true
	case OrderTypeLimit:
		limit := decimal.NewFromFloat(p.Price)
		if (p.Side == SideBuy && ref.LessThanOrEqual(limit)) || (p.Side == SideSell && ref.GreaterThanOrEqual(limit)) {
			return limit, true
		}
	}
	return decimal.Zero, false
}

// applyFill обновляет бумажный кошелек; комиссия списывается в котируемой валюте
func (s *Simulated) applyFill(p OrderParams, amount, cost, fee decimal.Decimal) {
	baseCcy, quote, err := utils.SplitSymbol(p.Symbol)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Side == SideBuy {
		s.balance[baseCcy] = s.balance[baseCcy].Add(amount)
		s.balance[quote] = s.balance[quote].Sub(cost).Sub(fee)
	} else {
		s.balance[baseCcy] = s.balance[baseCcy].Sub(amount)
		s.balance[quote] = s.balance[quote].Add(cost).Sub(fee)
	}
}

func (s *Simulated) GetBalances(ctx context.Context, _ Credentials) ([]Balance, error) {
	if err := s.throttle(ctx, simBalancePath); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	balances := make([]Balance, 0, len(s.balance))
	for currency, amount := range s.balance {
		if amount.IsZero() {
			continue
		}
		total := amount.InexactFloat64()
		balances = append(balances, Balance{Currency: currency, Free: total, Total: total})
	}
	return balances, nil
}

func (s *Simulated) GetOrderStatus(ctx context.Context, _ Credentials, symbol, orderID string) (*OrderResult, error) {
	if err := s.throttle(ctx, simOrderPath); err != nil {
		return nil, err
	}

	s.mu.RLock()
	r, ok := s.orders[orderID]
	s.mu.RUnlock()
	if !ok || (symbol != "" && utils.NormalizeSymbol(symbol) != utils.NormalizeSymbol(r.Symbol)) {
		return nil, &errs.ExchangeProtocolError{Exchange: s.name, Code: "order_not_found", Message: "order " + orderID + " not found"}
	}
	return &r, nil
}

// sleep имитирует сетевую задержку с учетом отмены контекста
func (s *Simulated) sleep(ctx context.Context) error {
	if s.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
