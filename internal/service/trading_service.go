package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradeguard/internal/exchange"
	"tradeguard/internal/metrics"
	"tradeguard/internal/models"
	"tradeguard/internal/risk"
	"tradeguard/pkg/errs"
	"tradeguard/pkg/utils"
)

// ErrRiskRejected - сделка отклонена предторговой проверкой
var ErrRiskRejected = errors.New("trade rejected by risk check")

// OrderRequest - запрос на новый ордер через подключение
type OrderRequest struct {
	ConnectionID  int64    `json:"connection_id"`
	Symbol        string   `json:"symbol"`
	Side          string   `json:"side"`
	Type          string   `json:"type"`
	Amount        float64  `json:"amount"`
	Price         float64  `json:"price,omitempty"`
	StopPrice     float64  `json:"stop_price,omitempty"`
	StopLoss      *float64 `json:"stop_loss,omitempty"` // стоп-лосс открываемой позиции
	ClientOrderID string   `json:"client_order_id,omitempty"`
}

// OrderOutcome - результат SubmitOrder
type OrderOutcome struct {
	Validation *risk.ValidationResult `json:"validation"`
	Order      *exchange.OrderResult  `json:"order,omitempty"`
	TradeID    int64                  `json:"trade_id,omitempty"`
	PositionID int64                  `json:"position_id,omitempty"`
}

// TradingService - отправка ордеров через риск-проверку и учет сделок
type TradingService struct {
	connections ConnectionResolver
	trades      TradeRepositoryInterface
	positions   PositionRepositoryInterface
	risk        RiskValidator
	prices      PriceSource
	wsHub       OrderBroadcaster
	log         *utils.Logger
}

// NewTradingService создает торговый сервис
func NewTradingService(
	connections ConnectionResolver,
	trades TradeRepositoryInterface,
	positions PositionRepositoryInterface,
	riskValidator RiskValidator,
	prices PriceSource,
	logger *utils.Logger,
) *TradingService {
	if logger == nil {
		logger = utils.L()
	}
	return &TradingService{
		connections: connections,
		trades:      trades,
		positions:   positions,
		risk:        riskValidator,
		prices:      prices,
		log:         logger.WithComponent("trading"),
	}
}

// SetWebSocketHub устанавливает hub для broadcast ордеров
func (s *TradingService) SetWebSocketHub(hub OrderBroadcaster) {
	s.wsHub = hub
}

// SubmitOrder проверяет сделку движком рисков и отправляет ордер.
// Выполняет:
// 1. Загрузку подключения, адаптера и ключей
// 2. Определение цены для оценки номинала
// 3. ValidateTradeRisk; отказ - ErrRiskRejected вместе с результатом проверки
// 4. CreateOrder с guard аварийной остановки счета
// 5. Запись сделки и открытие позиции по исполненному объему
func (s *TradingService) SubmitOrder(ctx context.Context, req OrderRequest) (*OrderOutcome, error) {
	if req.Type == "" {
		req.Type = exchange.OrderTypeMarket
	}
	req.Symbol = utils.NormalizeSymbol(req.Symbol)

	// 1. Подключение
	conn, adapter, creds, err := s.connections.Resolve(ctx, req.ConnectionID)
	if err != nil {
		return nil, err
	}

	// 2. Цена для оценки номинала
	refPrice, err := s.referencePrice(req)
	if err != nil {
		return nil, err
	}

	// 3. Предторговая проверка
	validation, err := s.risk.ValidateTradeRisk(ctx, risk.TradeRequest{
		AccountID: conn.AccountID,
		Symbol:    req.Symbol,
		Amount:    req.Amount,
		Price:     refPrice,
		Side:      req.Side,
	})
	if err != nil {
		return nil, err
	}
	outcome := &OrderOutcome{Validation: validation}
	if !validation.Valid {
		metrics.RecordOrder(conn.ExchangeID, req.Side, "risk_rejected")
		return outcome, fmt.Errorf("%w: %s", ErrRiskRejected, validation.Reason)
	}

	// 4. Отправка ордера
	order, err := adapter.CreateOrder(ctx, s.risk.Guard(conn.AccountID), creds, exchange.OrderParams{
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Amount:        req.Amount,
		Price:         req.Price,
		StopPrice:     req.StopPrice,
		ClientOrderID: req.ClientOrderID,
	})
	if err != nil {
		s.log.Warn("order submission failed",
			utils.ConnectionID(conn.ID), utils.Exchange(conn.ExchangeID), utils.Symbol(req.Symbol),
			utils.Side(req.Side), utils.Amount(req.Amount), utils.ErrorKind(errs.Kind(err)), utils.Err(err))
		return outcome, err
	}
	outcome.Order = order
	metrics.RecordOrder(conn.ExchangeID, req.Side, order.Status)

	// 5. Учет сделки и позиции
	trade := s.tradeFromOrder(conn, order, refPrice)
	if err := s.trades.Create(ctx, trade); err != nil {
		// ордер уже на бирже: ошибка учета не отменяет его
		s.log.Error("failed to record trade",
			utils.ConnectionID(conn.ID), utils.OrderID(order.ID), utils.Err(err))
	} else {
		outcome.TradeID = trade.ID
	}

	if order.Filled > 0 {
		position := &models.Position{
			AccountID:    conn.AccountID,
			ConnectionID: conn.ID,
			Symbol:       req.Symbol,
			Side:         req.Side,
			Quantity:     order.Filled,
			EntryPrice:   order.Average,
			StopLoss:     req.StopLoss,
			Status:       models.PositionStatusOpen,
			OpenedAt:     order.Timestamp,
		}
		if position.EntryPrice == 0 {
			position.EntryPrice = refPrice
		}
		if err := s.positions.Create(ctx, position); err != nil {
			s.log.Error("failed to record position",
				utils.ConnectionID(conn.ID), utils.OrderID(order.ID), utils.Err(err))
		} else {
			outcome.PositionID = position.ID
		}
	}

	s.log.Info("order submitted",
		utils.AccountID(conn.AccountID), utils.Exchange(conn.ExchangeID), utils.Symbol(req.Symbol),
		utils.Side(req.Side), utils.Amount(req.Amount), utils.OrderID(order.ID), utils.Status(order.Status))

	s.broadcast(conn.AccountID, order)
	return outcome, nil
}

// ClosePosition отправляет рыночный ордер против позиции. Вызывается движком
// рисков с его guard; предторговая проверка не выполняется.
func (s *TradingService) ClosePosition(ctx context.Context, p *models.Position, guard exchange.OrderGuard) (*exchange.OrderResult, error) {
	conn, adapter, creds, err := s.connections.Resolve(ctx, p.ConnectionID)
	if err != nil {
		return nil, err
	}

	order, err := adapter.CreateOrder(ctx, guard, creds, exchange.OrderParams{
		Symbol:     p.Symbol,
		Side:       p.ClosingSide(),
		Type:       exchange.OrderTypeMarket,
		Amount:     p.Quantity,
		ReduceOnly: true,
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordOrder(conn.ExchangeID, p.ClosingSide(), order.Status)

	refPrice := p.EntryPrice
	if s.prices != nil {
		if last, ok := s.prices.LatestPrice(p.Symbol); ok {
			refPrice = last
		}
	}
	if err := s.trades.Create(ctx, s.tradeFromOrder(conn, order, refPrice)); err != nil {
		s.log.Error("failed to record closing trade",
			utils.PositionID(p.ID), utils.OrderID(order.ID), utils.Err(err))
	}

	s.log.Info("position closed",
		utils.AccountID(p.AccountID), utils.PositionID(p.ID), utils.Symbol(p.Symbol),
		utils.Side(order.Side), utils.Amount(order.Amount), utils.OrderID(order.ID))

	s.broadcast(conn.AccountID, order)
	return order, nil
}

// GetOrderStatus запрашивает состояние ордера и обновляет запись сделки
func (s *TradingService) GetOrderStatus(ctx context.Context, connectionID int64, symbol, orderID string) (*exchange.OrderResult, error) {
	conn, adapter, creds, err := s.connections.Resolve(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	order, err := adapter.GetOrderStatus(ctx, creds, utils.NormalizeSymbol(symbol), orderID)
	if err != nil {
		return nil, err
	}

	var fee float64
	if order.Fee != nil {
		fee = order.Fee.Cost
	}
	err = s.trades.UpdateExecution(ctx, conn.ID, order.ID, order.Status, order.Average, order.Cost, fee)
	if err != nil && !isNotFound(err) {
		s.log.Warn("failed to refresh trade", utils.OrderID(order.ID), utils.Err(err))
	}

	s.broadcast(conn.AccountID, order)
	return order, nil
}

// referencePrice - цена лимитного ордера или последняя рыночная цена
func (s *TradingService) referencePrice(req OrderRequest) (float64, error) {
	if req.Price > 0 {
		return req.Price, nil
	}
	if s.prices != nil {
		if last, ok := s.prices.LatestPrice(req.Symbol); ok {
			return last, nil
		}
	}
	if req.StopPrice > 0 {
		return req.StopPrice, nil
	}
	return 0, errs.Validation("price", "no market price available for %s", req.Symbol)
}

func (s *TradingService) tradeFromOrder(conn *models.ExchangeConnection, order *exchange.OrderResult, refPrice float64) *models.Trade {
	price := order.Average
	if price == 0 {
		price = refPrice
	}
	notional := order.Cost
	if notional == 0 {
		notional = order.Amount * price
	}
	var fee float64
	if order.Fee != nil {
		fee = order.Fee.Cost
	}
	createdAt := order.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return &models.Trade{
		AccountID:       conn.AccountID,
		ConnectionID:    conn.ID,
		ExchangeID:      conn.ExchangeID,
		ExchangeOrderID: order.ID,
		Symbol:          utils.NormalizeSymbol(order.Symbol),
		Side:            order.Side,
		Type:            order.Type,
		Amount:          order.Amount,
		Price:           price,
		Notional:        notional,
		Fee:             fee,
		Status:          order.Status,
		CreatedAt:       createdAt,
	}
}

func (s *TradingService) broadcast(accountID int64, order *exchange.OrderResult) {
	if s.wsHub != nil {
		s.wsHub.BroadcastOrderUpdate(accountID, order)
	}
}
