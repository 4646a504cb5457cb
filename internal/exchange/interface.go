package exchange

import (
	"context"
	"time"

	"tradeguard/pkg/utils"
)

// Adapter определяет унифицированный интерфейс для работы с любой биржей.
// Каждая реализация сама подписывает запросы и нормализует ответы.
type Adapter interface {
	// Name возвращает идентификатор биржи
	Name() string

	// MapSymbol переводит BASE/QUOTE в символ биржи
	MapSymbol(symbol string) (string, error)

	// CreateOrder размещает ордер. guard проверяется до любой подписи и сетевого вызова.
	CreateOrder(ctx context.Context, guard OrderGuard, creds Credentials, p OrderParams) (*OrderResult, error)

	// GetBalances получает балансы всех валют аккаунта
	GetBalances(ctx context.Context, creds Credentials) ([]Balance, error)

	// GetOrderStatus получает текущее состояние ордера
	GetOrderStatus(ctx context.Context, creds Credentials, symbol, orderID string) (*OrderResult, error)
}

// OrderGuard разрешает или запрещает отправку ордера для счета.
// Возвращает ошибку, если ордер отправлять нельзя (например, аварийная остановка).
type OrderGuard interface {
	AllowOrder(ctx context.Context) error
}

// GuardFunc - адаптер функции к OrderGuard
type GuardFunc func(ctx context.Context) error

func (f GuardFunc) AllowOrder(ctx context.Context) error {
	return f(ctx)
}

// RateLimiter - счетчик запросов на (биржа, endpoint)
type RateLimiter interface {
	Allow(ctx context.Context, exchange, endpoint string) error
}

// PriceSource - источник последних цен для симулятора
type PriceSource interface {
	LatestPrice(symbol string) (float64, bool)
}

// Credentials - расшифрованные ключи API, живут только на время вызова
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string // KuCoin, OKX
}

// OrderParams - параметры нового ордера
type OrderParams struct {
	Symbol        string  `json:"symbol"` // BASE/QUOTE
	Side          string  `json:"side"`
	Type          string  `json:"type"`
	Amount        float64 `json:"amount"`
	Price         float64 `json:"price,omitempty"`
	StopPrice     float64 `json:"stop_price,omitempty"`
	ClientOrderID string  `json:"client_order_id,omitempty"`
	ReduceOnly    bool    `json:"reduce_only,omitempty"`
}

// Fee - комиссия по ордеру
type Fee struct {
	Currency string  `json:"currency"`
	Cost     float64 `json:"cost"`
}

// OrderResult - нормализованный ответ биржи по ордеру
type OrderResult struct {
	ID            string    `json:"id"`
	ClientOrderID string    `json:"client_order_id,omitempty"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Type          string    `json:"type"`
	Status        string    `json:"status"`
	Amount        float64   `json:"amount"`
	Filled        float64   `json:"filled"`
	Remaining     float64   `json:"remaining"`
	Price         float64   `json:"price"`
	Average       float64   `json:"average"`
	Cost          float64   `json:"cost"`
	Fee           *Fee      `json:"fee,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// IsTerminal - ордер больше не изменится
func (r *OrderResult) IsTerminal() bool {
	switch r.Status {
	case OrderStatusClosed, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// Balance - баланс одной валюты на бирже
type Balance struct {
	Currency string  `json:"currency"`
	Free     float64 `json:"free"`
	Used     float64 `json:"used"`
	Total    float64 `json:"total"`
}

// Options - параметры создания адаптера
type Options struct {
	Mode       string // live или simulated
	Testnet    bool
	BaseURL    string // переопределение хоста (тесты, прокси)
	MinAmount  float64
	MaxAmount  float64 // 0 - без верхней границы
	Limiter    RateLimiter
	HTTPClient *HTTPClient
	Logger     *utils.Logger

	SimLatency  time.Duration
	PriceSource PriceSource
	SimBalances []Balance // бумажный кошелек симулятора
}

// Режимы работы адаптера
const (
	ModeLive      = "live"
	ModeSimulated = "simulated"
)

// Идентификаторы бирж
const (
	ExchangeBinance = "binance"
	ExchangeDeribit = "deribit"
	ExchangeKraken  = "kraken"
	ExchangeKuCoin  = "kucoin"
	ExchangeOKX     = "okx"
	ExchangeBybit   = "bybit"
)

// Стороны ордера
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Типы ордеров
const (
	OrderTypeMarket       = "market"
	OrderTypeLimit        = "limit"
	OrderTypeStop         = "stop"
	OrderTypeStopLimit    = "stop_limit"
	OrderTypeTrailingStop = "trailing_stop"
)

// Статусы ордера
const (
	OrderStatusOpen     = "open"
	OrderStatusClosed   = "closed"
	OrderStatusCanceled = "canceled"
	OrderStatusRejected = "rejected"
	OrderStatusExpired  = "expired"
)
