package service

import (
	"context"
	"time"

	"tradeguard/internal/exchange"
	"tradeguard/internal/models"
	"tradeguard/internal/repository"
	"tradeguard/internal/risk"
	"tradeguard/pkg/crypto"
)

// ConnectionRepositoryInterface определяет интерфейс репозитория подключений
type ConnectionRepositoryInterface interface {
	Create(ctx context.Context, c *models.ExchangeConnection) error
	GetByID(ctx context.Context, id int64) (*models.ExchangeConnection, error)
	ListActive(ctx context.Context) ([]*models.ExchangeConnection, error)
	ListByUser(ctx context.Context, userID int64) ([]*models.ExchangeConnection, error)
	UpdateSyncStatus(ctx context.Context, c *models.ExchangeConnection) error
	SetActive(ctx context.Context, id int64, active bool) error
	Delete(ctx context.Context, id int64) error
}

// AccountRepositoryInterface - пересчет стоимости счета после сверки
type AccountRepositoryInterface interface {
	RecalculateTotalValue(ctx context.Context, id int64) (float64, error)
}

// HoldingRepositoryInterface определяет интерфейс репозитория холдингов
type HoldingRepositoryInterface interface {
	Upsert(ctx context.Context, h *models.Holding) error
	Get(ctx context.Context, connectionID int64, symbol string) (*models.Holding, error)
	ZeroMissing(ctx context.Context, connectionID int64, present []string) (int64, error)
}

// PositionRepositoryInterface - позиции, открываемые торговым сервисом
type PositionRepositoryInterface interface {
	Create(ctx context.Context, p *models.Position) error
	CountOpenByConnection(ctx context.Context, connectionID int64) (int, error)
}

// TradeRepositoryInterface определяет интерфейс журнала сделок
type TradeRepositoryInterface interface {
	Create(ctx context.Context, t *models.Trade) error
	UpdateExecution(ctx context.Context, connectionID int64, exchangeOrderID, status string, price, notional, fee float64) error
}

// Проверяем, что реальные репозитории реализуют интерфейсы
var _ ConnectionRepositoryInterface = (*repository.ConnectionRepository)(nil)
var _ AccountRepositoryInterface = (*repository.AccountRepository)(nil)
var _ HoldingRepositoryInterface = (*repository.HoldingRepository)(nil)
var _ PositionRepositoryInterface = (*repository.PositionRepository)(nil)
var _ TradeRepositoryInterface = (*repository.TradeRepository)(nil)

// ============ Внешние зависимости сервисов ============

// CredentialSealer шифрует и расшифровывает ключи API
type CredentialSealer interface {
	EncryptCredentials(creds crypto.CredentialSet) (*crypto.SealedCredentials, error)
	DecryptCredentials(sealed *crypto.SealedCredentials) (*crypto.CredentialSet, error)
}

// AdapterFactory создает адаптер биржи (exchange.NewAdapter)
type AdapterFactory func(id string, opts exchange.Options) (exchange.Adapter, error)

// ConnectionResolver загружает активное подключение с адаптером и расшифрованными ключами
type ConnectionResolver interface {
	Resolve(ctx context.Context, id int64) (*models.ExchangeConnection, exchange.Adapter, exchange.Credentials, error)
	Adapter(conn *models.ExchangeConnection) (exchange.Adapter, error)
	Credentials(conn *models.ExchangeConnection) (exchange.Credentials, error)
}

// RiskValidator - предторговая проверка и guard аварийной остановки
type RiskValidator interface {
	ValidateTradeRisk(ctx context.Context, req risk.TradeRequest) (*risk.ValidationResult, error)
	Guard(accountID int64) exchange.OrderGuard
}

// PriceSource - последние цены из кэша рыночных данных
type PriceSource interface {
	LatestPrice(symbol string) (float64, bool)
	PriceOf(currency string) (float64, bool)
}

// BalanceBroadcaster - отправка обновлений балансов через WebSocket
type BalanceBroadcaster interface {
	BroadcastBalanceUpdate(update BalanceUpdate)
}

// OrderBroadcaster - отправка обновлений ордеров через WebSocket
type OrderBroadcaster interface {
	BroadcastOrderUpdate(accountID int64, order *exchange.OrderResult)
}

// BalanceUpdate - результат сверки одного подключения
type BalanceUpdate struct {
	AccountID    int64              `json:"account_id"`
	ConnectionID int64              `json:"connection_id"`
	ExchangeID   string             `json:"exchange_id"`
	TotalValue   float64            `json:"total_value"`
	Holdings     map[string]float64 `json:"holdings"`
	SyncedAt     time.Time          `json:"synced_at"`
}

// ============ Интерфейсы сервисов для Dependency Injection ============

// ConnectionServiceInterface определяет интерфейс сервиса подключений
type ConnectionServiceInterface interface {
	Connect(ctx context.Context, req ConnectRequest) (*models.ExchangeConnection, error)
	Disconnect(ctx context.Context, id int64) error
	ListConnections(ctx context.Context, userID int64) ([]*models.ExchangeConnection, error)
	GetConnection(ctx context.Context, id int64) (*models.ExchangeConnection, error)
}

// TradingServiceInterface определяет интерфейс торгового сервиса
type TradingServiceInterface interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (*OrderOutcome, error)
	GetOrderStatus(ctx context.Context, connectionID int64, symbol, orderID string) (*exchange.OrderResult, error)
}

// ReconciliationServiceInterface определяет интерфейс сверки балансов
type ReconciliationServiceInterface interface {
	SyncAll(ctx context.Context, force bool) (*SyncReport, error)
	SyncConnection(ctx context.Context, id int64, force bool) (*SyncResult, error)
}

// Проверяем, что реальные сервисы реализуют интерфейсы
var _ ConnectionServiceInterface = (*ConnectionService)(nil)
var _ TradingServiceInterface = (*TradingService)(nil)
var _ ReconciliationServiceInterface = (*ReconciliationService)(nil)
var _ risk.PositionCloser = (*TradingService)(nil)
var _ CredentialSealer = (*crypto.Vault)(nil)
var _ ConnectionResolver = (*ConnectionService)(nil)
