// Package risk - предторговая проверка, оценка портфеля, стоп-лоссы и аварийная ликвидация.
package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradeguard/internal/exchange"
	"tradeguard/internal/metrics"
	"tradeguard/internal/models"
	"tradeguard/internal/repository"
	"tradeguard/pkg/errs"
	"tradeguard/pkg/utils"
)

// Причины отказа ValidateTradeRisk
const (
	ReasonEmergencyStop  = "account is under emergency stop"
	ReasonPositionSize   = "position size limit exceeded"
	ReasonConcentration  = "post-trade concentration limit exceeded"
	ReasonDailyLimit     = "daily traded notional limit exceeded"
	ReasonCircuitBreaker = "portfolio volatility above circuit breaker threshold"
)

const (
	maxRiskScore         = 10
	concentrationPenalty = 10
)

// ============================================================
// Зависимости движка
// ============================================================

// AccountStore - флаг аварийной остановки счета
type AccountStore interface {
	IsEmergencyStopped(ctx context.Context, id int64) (bool, error)
	SetEmergencyStop(ctx context.Context, id int64, reason string) error
	ClearEmergencyStop(ctx context.Context, id int64) error
	ListEmergencyStopped(ctx context.Context) ([]int64, error)
}

// HoldingStore - последний снимок холдингов, записанный сверкой
type HoldingStore interface {
	ListByAccount(ctx context.Context, accountID int64) ([]*models.Holding, error)
}

// PositionStore - позиции и их захват перед закрытием
type PositionStore interface {
	ListOpen(ctx context.Context, accountID int64) ([]*models.Position, error)
	ListOpenWithStopLoss(ctx context.Context, accountID int64) ([]*models.Position, error)
	ListAccountsWithStopLoss(ctx context.Context) ([]int64, error)
	Claim(ctx context.Context, id int64) (bool, error)
	Release(ctx context.Context, id int64) error
	Close(ctx context.Context, id int64, closedAt time.Time) error
	ListStaleClaims(ctx context.Context, before time.Time) ([]*models.Position, error)
}

// TradeHistory - дневной оборот счета
type TradeHistory interface {
	NotionalSince(ctx context.Context, accountID int64, since time.Time) (float64, error)
}

// ParameterStore - лимиты счета
type ParameterStore interface {
	Get(ctx context.Context, accountID int64) (*models.RiskParameters, error)
}

// AlertStore - журнал риск-событий
type AlertStore interface {
	Create(ctx context.Context, a *models.RiskAlert) error
}

// PriceSource - кэш рыночных цен
type PriceSource interface {
	LatestPrice(symbol string) (float64, bool)
	HistoryOf(currency string) []float64
}

// PositionCloser отправляет закрывающий рыночный ордер по позиции
type PositionCloser interface {
	ClosePosition(ctx context.Context, p *models.Position, guard exchange.OrderGuard) (*exchange.OrderResult, error)
}

// AlertNotifier получает записанные риск-события (push-канал)
type AlertNotifier interface {
	BroadcastRiskAlert(alert *models.RiskAlert)
}

// Stores - хранилища движка
type Stores struct {
	Accounts  AccountStore
	Holdings  HoldingStore
	Positions PositionStore
	Trades    TradeHistory
	Params    ParameterStore
	Alerts    AlertStore
}

// ============================================================
// Конфигурация
// ============================================================

// Config - параметры движка рисков
type Config struct {
	// Лимиты для счетов без записи в risk_parameters
	DefaultParams models.RiskParameters

	// Доля актива после покупки, выше которой сделка отклоняется
	MaxConcentration float64
	// Доля актива, выше которой начисляется штраф в TotalRisk
	PenaltyThreshold float64

	// Статистика стратегии для критерия Келли
	WinRate float64
	AvgWin  float64
	AvgLoss float64

	// Таймаут одного закрывающего ордера
	CloseTimeout time.Duration
	// Захват старше этого срока считается зависшим и выносится на ручную сверку
	StaleClaimAfter time.Duration
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		DefaultParams: models.RiskParameters{
			MaxDailyLoss:     5000,
			MaxPositionSize:  2000,
			MaxDrawdown:      0.2,
			CorrelationLimit: 0.8,
		},
		MaxConcentration: 0.40,
		PenaltyThreshold: 0.30,
		WinRate:          0.55,
		AvgWin:           1.5,
		AvgLoss:          1.0,
		CloseTimeout:     30 * time.Second,
		StaleClaimAfter:  10 * time.Minute,
	}
}

// ============================================================
// Engine
// ============================================================

// Engine - движок рисков. Безопасен для конкурентного использования:
// собственного изменяемого состояния нет, все читается из хранилищ.
type Engine struct {
	stores      Stores
	prices      PriceSource
	closer      PositionCloser
	notifier    AlertNotifier
	volatility  VolatilityMetric
	correlation CorrelationMetric
	cfg         Config
	log         *utils.Logger
	now         func() time.Time
}

// NewEngine создает движок с метриками по умолчанию
func NewEngine(stores Stores, prices PriceSource, cfg Config, logger *utils.Logger) *Engine {
	if logger == nil {
		logger = utils.L()
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = DefaultConfig().CloseTimeout
	}
	return &Engine{
		stores:      stores,
		prices:      prices,
		volatility:  WeightedVolatility{},
		correlation: WeightedCorrelation{},
		cfg:         cfg,
		log:         logger.WithComponent("risk"),
		now:         time.Now,
	}
}

// SetPositionCloser задает исполнителя закрывающих ордеров.
// Вызывается после создания торгового сервиса (он сам зависит от движка).
func (e *Engine) SetPositionCloser(c PositionCloser) {
	e.closer = c
}

// SetNotifier задает получателя риск-событий
func (e *Engine) SetNotifier(n AlertNotifier) {
	e.notifier = n
}

// SetMetrics заменяет метрики волатильности и корреляции; nil оставляет текущую
func (e *Engine) SetMetrics(vol VolatilityMetric, corr CorrelationMetric) {
	if vol != nil {
		e.volatility = vol
	}
	if corr != nil {
		e.correlation = corr
	}
}

// Guard возвращает проверку аварийной остановки счета для адаптеров.
// Флаг читается из хранилища при каждом вызове; ошибка чтения запрещает ордер.
func (e *Engine) Guard(accountID int64) exchange.OrderGuard {
	return exchange.GuardFunc(func(ctx context.Context) error {
		stopped, err := e.stores.Accounts.IsEmergencyStopped(ctx, accountID)
		if err != nil {
			return fmt.Errorf("read emergency stop flag: %w", err)
		}
		if stopped {
			return errs.Validation("account", "emergency stop is active for account %d", accountID)
		}
		return nil
	})
}

// reduceOnlyGuard пропускает закрывающие ордера движка при поднятом флаге
func reduceOnlyGuard() exchange.OrderGuard {
	return exchange.GuardFunc(func(context.Context) error { return nil })
}

// parameters возвращает лимиты счета или значения по умолчанию
func (e *Engine) parameters(ctx context.Context, accountID int64) (*models.RiskParameters, error) {
	p, err := e.stores.Params.Get(ctx, accountID)
	if errors.Is(err, repository.ErrRiskParametersNotFound) {
		def := e.cfg.DefaultParams
		def.AccountID = accountID
		return &def, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load risk parameters: %w", err)
	}
	return p, nil
}

// ============================================================
// Оценка портфеля
// ============================================================

// AssessPortfolioRisk оценивает концентрацию, волатильность и корреляцию портфеля
// по последнему снимку холдингов
func (e *Engine) AssessPortfolioRisk(ctx context.Context, accountID int64) (*models.PortfolioRisk, error) {
	r, _, err := e.assess(ctx, accountID)
	return r, err
}

// assess возвращает оценку портфеля и стоимость каждого актива
func (e *Engine) assess(ctx context.Context, accountID int64) (*models.PortfolioRisk, map[string]float64, error) {
	holdings, err := e.stores.Holdings.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, nil, fmt.Errorf("load holdings: %w", err)
	}

	r := &models.PortfolioRisk{
		AccountID:     accountID,
		Concentration: make(map[string]float64),
		CalculatedAt:  e.now().UTC(),
	}

	values := make(map[string]float64, len(holdings))
	for _, h := range holdings {
		if h.CurrentValue <= 0 {
			continue
		}
		values[h.Symbol] += h.CurrentValue
		r.TotalValue += h.CurrentValue
	}
	if r.TotalValue == 0 {
		return r, values, nil
	}

	exposures := make([]Exposure, 0, len(values))
	for symbol, v := range values {
		c := v / r.TotalValue
		r.Concentration[symbol] = c
		if c > e.cfg.PenaltyThreshold {
			r.TotalRisk += (c - e.cfg.PenaltyThreshold) * concentrationPenalty
		}
		var history []float64
		if e.prices != nil {
			history = e.prices.HistoryOf(symbol)
		}
		exposures = append(exposures, Exposure{Symbol: symbol, Weight: c, Prices: history})
	}

	r.Volatility = e.volatility.Volatility(exposures)
	r.Correlation = e.correlation.Correlation(exposures)
	return r, values, nil
}

// ============================================================
// Предторговая проверка
// ============================================================

// TradeRequest - сделка на проверку
type TradeRequest struct {
	AccountID int64   `json:"account_id"`
	Symbol    string  `json:"symbol"`
	Amount    float64 `json:"amount"`
	Price     float64 `json:"price"`
	Side      string  `json:"side"`
}

// ValidationResult - результат ValidateTradeRisk
type ValidationResult struct {
	Valid     bool    `json:"valid"`
	Reason    string  `json:"reason,omitempty"`
	RiskScore float64 `json:"risk_score"`
	Notional  float64 `json:"notional"`
}

// ValidateTradeRisk проверяет сделку против лимитов счета.
//
// Порядок проверок: аварийная остановка, размер позиции, концентрация после покупки,
// дневной оборот, circuit breaker по волатильности. Все сравнения строгие.
// Некорректный запрос - ValidationError; отказ по лимиту - Valid=false с причиной.
func (e *Engine) ValidateTradeRisk(ctx context.Context, req TradeRequest) (*ValidationResult, error) {
	base, _, err := utils.SplitSymbol(req.Symbol)
	if err != nil {
		return nil, errs.Validation("symbol", "%v", err)
	}
	if req.Side != models.SideBuy && req.Side != models.SideSell {
		return nil, errs.Validation("side", "must be buy or sell, got %q", req.Side)
	}
	if err := utils.ValidatePositive("amount", req.Amount); err != nil {
		return nil, err
	}
	if err := utils.ValidatePositive("price", req.Price); err != nil {
		return nil, err
	}

	result := &ValidationResult{Notional: req.Amount * req.Price}
	defer func() { metrics.RecordValidation(result.Valid, result.RiskScore) }()

	stopped, err := e.stores.Accounts.IsEmergencyStopped(ctx, req.AccountID)
	if err != nil {
		return nil, fmt.Errorf("read emergency stop flag: %w", err)
	}
	if stopped {
		result.Reason = ReasonEmergencyStop
		result.RiskScore = maxRiskScore
		return result, nil
	}

	params, err := e.parameters(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	portfolio, values, err := e.assess(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	daily, err := e.stores.Trades.NotionalSince(ctx, req.AccountID, utils.GetDayStartFrom(e.now()))
	if err != nil {
		return nil, fmt.Errorf("load daily notional: %w", err)
	}

	result.RiskScore = riskScore(result.Notional, params.MaxPositionSize, portfolio.Volatility, portfolio.Correlation)
	concentration := postTradeConcentration(values[base], portfolio.TotalValue, result.Notional)

	switch {
	case result.Notional > params.MaxPositionSize:
		result.Reason = fmt.Sprintf("%s: notional %.2f > %.2f", ReasonPositionSize, result.Notional, params.MaxPositionSize)
	case req.Side == models.SideBuy && concentration > e.cfg.MaxConcentration:
		result.Reason = fmt.Sprintf("%s: %s would be %.1f%% of portfolio", ReasonConcentration, base, concentration*100)
	case daily+result.Notional > params.MaxDailyLoss:
		result.Reason = fmt.Sprintf("%s: %.2f + %.2f > %.2f", ReasonDailyLimit, daily, result.Notional, params.MaxDailyLoss)
	case params.VolatilityThreshold > 0 && portfolio.Volatility > params.VolatilityThreshold:
		result.Reason = fmt.Sprintf("%s: %.4f > %.4f", ReasonCircuitBreaker, portfolio.Volatility, params.VolatilityThreshold)
	default:
		result.Valid = true
	}

	if !result.Valid {
		e.log.Info("trade rejected by risk check",
			utils.AccountID(req.AccountID), utils.Symbol(req.Symbol), utils.Side(req.Side),
			utils.Notional(result.Notional), utils.String("reason", result.Reason))
	}
	return result, nil
}

// postTradeConcentration - доля актива после покупки на notional,
// считается напрямую по стоимостям без промежуточной доли
func postTradeConcentration(current, total, notional float64) float64 {
	return (current + notional) / (total + notional)
}

// riskScore: 5 * доля лимита позиции + 3 * волатильность + 2 * |корреляция|, в диапазоне [0, 10]
func riskScore(notional, maxPositionSize, volatility, correlation float64) float64 {
	var sizeFraction float64
	if maxPositionSize > 0 {
		sizeFraction = notional / maxPositionSize
	} else if notional > 0 {
		sizeFraction = 1
	}
	if correlation < 0 {
		correlation = -correlation
	}
	return utils.Clamp(5*sizeFraction+3*volatility+2*correlation, 0, maxRiskScore)
}

// recordAlert сохраняет событие и рассылает его подписчикам
func (e *Engine) recordAlert(ctx context.Context, a *models.RiskAlert) {
	if a.Timestamp.IsZero() {
		a.Timestamp = e.now().UTC()
	}
	if err := e.stores.Alerts.Create(ctx, a); err != nil {
		e.log.Error("failed to record risk alert",
			utils.AccountID(a.AccountID), utils.RiskType(a.RiskType), utils.Err(err))
		return
	}
	if e.notifier != nil {
		e.notifier.BroadcastRiskAlert(a)
	}
}
