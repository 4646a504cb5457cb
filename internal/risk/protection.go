package risk

import (
	"context"
	"errors"
	"fmt"

	"tradeguard/internal/metrics"
	"tradeguard/internal/models"
	"tradeguard/pkg/errs"
	"tradeguard/pkg/utils"
)

// ErrNoCloser - исполнитель закрывающих ордеров не задан
var ErrNoCloser = errors.New("position closer is not configured")

// ============================================================
// Стоп-лоссы
// ============================================================

// MonitorStopLosses закрывает открытые позиции счета, цена которых достигла стоп-лосса.
// Позиция захватывается (open -> closing) до отправки ордера, поэтому параллельный
// или повторный вызов не отправит второй ордер. Возвращает число отправленных ордеров.
// Ошибка по одной позиции не прерывает обход. Если биржа ордер не приняла,
// позиция возвращается в open и будет обработана на следующем тике.
func (e *Engine) MonitorStopLosses(ctx context.Context, accountID int64) (int, error) {
	if e.closer == nil {
		return 0, ErrNoCloser
	}
	positions, err := e.stores.Positions.ListOpenWithStopLoss(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("load stop-loss positions: %w", err)
	}

	var issued int
	var failures []error
	for _, p := range positions {
		if e.prices == nil {
			break
		}
		price, ok := e.prices.LatestPrice(p.Symbol)
		if !ok || !p.StopLossHit(price) {
			continue
		}

		claimed, err := e.stores.Positions.Claim(ctx, p.ID)
		if err != nil {
			failures = append(failures, fmt.Errorf("claim position %d: %w", p.ID, err))
			continue
		}
		if !claimed {
			continue
		}

		issued++
		if err := e.closeClaimed(ctx, p, models.RiskTypeStopLoss); err != nil {
			failures = append(failures, err)
			continue
		}

		e.log.Warn("stop-loss triggered",
			utils.AccountID(accountID), utils.PositionID(p.ID), utils.Symbol(p.Symbol),
			utils.Price(price), utils.Float64("stop_loss", *p.StopLoss))
		e.recordAlert(ctx, &models.RiskAlert{
			AccountID:      accountID,
			RiskType:       models.RiskTypeStopLoss,
			CurrentValue:   price,
			ThresholdValue: *p.StopLoss,
			RiskLevel:      models.RiskLevelHigh,
			AlertMessage: fmt.Sprintf("stop-loss hit for %s %s position #%d at %v (stop %v)",
				p.Symbol, p.Side, p.ID, price, *p.StopLoss),
		})
	}
	return issued, errors.Join(failures...)
}

// MonitorAll обходит все счета с открытыми стоп-лоссами (задача планировщика)
func (e *Engine) MonitorAll(ctx context.Context) (int, error) {
	accounts, err := e.stores.Positions.ListAccountsWithStopLoss(ctx)
	if err != nil {
		return 0, fmt.Errorf("list accounts with stop-loss: %w", err)
	}
	var total int
	var failures []error
	for _, id := range accounts {
		if ctx.Err() != nil {
			failures = append(failures, ctx.Err())
			break
		}
		n, err := e.MonitorStopLosses(ctx, id)
		total += n
		if err != nil {
			failures = append(failures, fmt.Errorf("account %d: %w", id, err))
		}
	}
	return total, errors.Join(failures...)
}

// closeClaimed отправляет закрывающий ордер по захваченной позиции, одна попытка.
// Захват снимается (closing -> open) только если ордер точно не попал на биржу.
// При неизвестном исходе позиция остается closing до ручной сверки.
func (e *Engine) closeClaimed(ctx context.Context, p *models.Position, riskType string) error {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.CloseTimeout)
	defer cancel()

	_, err := e.closer.ClosePosition(cctx, p, reduceOnlyGuard())
	if err != nil {
		metrics.RecordRiskEvent(riskType, false)
		if !orderRefused(err) {
			e.log.Error("close order outcome unknown, position left closing",
				utils.AccountID(p.AccountID), utils.PositionID(p.ID), utils.Symbol(p.Symbol),
				utils.RiskType(riskType), utils.ErrorKind(errs.Kind(err)), utils.Err(err))
			return fmt.Errorf("close position %d: outcome unknown: %w", p.ID, err)
		}

		e.log.Error("failed to close position",
			utils.AccountID(p.AccountID), utils.PositionID(p.ID), utils.Symbol(p.Symbol),
			utils.RiskType(riskType), utils.ErrorKind(errs.Kind(err)), utils.Err(err))
		if rerr := e.stores.Positions.Release(ctx, p.ID); rerr != nil {
			e.log.Error("failed to release position claim", utils.PositionID(p.ID), utils.Err(rerr))
		}
		return fmt.Errorf("close position %d: %w", p.ID, err)
	}

	if err := e.stores.Positions.Close(ctx, p.ID, e.now().UTC()); err != nil {
		// ордер исполнен, позиция остается closing и не будет закрыта повторно
		e.log.Error("failed to mark position closed", utils.PositionID(p.ID), utils.Err(err))
		return fmt.Errorf("mark position %d closed: %w", p.ID, err)
	}
	metrics.RecordRiskEvent(riskType, true)
	return nil
}

// orderRefused сообщает, что закрывающий ордер точно не был принят биржей:
// отказ до отправки (guard, проверка параметров, лимитер, ключи) или явный
// отказ биржи. Сетевой сбой, таймаут, 5xx и нечитаемый ответ - исход неизвестен.
func orderRefused(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr *errs.NetworkError
	if errors.As(err, &netErr) {
		return false
	}
	var protoErr *errs.ExchangeProtocolError
	if errors.As(err, &protoErr) {
		return protoErr.Original == nil && protoErr.HTTPStatus < 500
	}
	return true
}

// closeAll захватывает и закрывает позиции по одной; возвращает число отправленных ордеров
func (e *Engine) closeAll(ctx context.Context, positions []*models.Position, riskType string) (int, error) {
	var issued int
	var failures []error
	for _, p := range positions {
		claimed, err := e.stores.Positions.Claim(ctx, p.ID)
		if err != nil {
			failures = append(failures, fmt.Errorf("claim position %d: %w", p.ID, err))
			continue
		}
		if !claimed {
			continue
		}
		issued++
		if err := e.closeClaimed(ctx, p, riskType); err != nil {
			failures = append(failures, err)
		}
	}
	return issued, errors.Join(failures...)
}

// ============================================================
// Аварийная остановка
// ============================================================

// EmergencyLiquidate поднимает флаг аварийной остановки и закрывает все открытые
// позиции счета рыночными ордерами. Флаг ставится до первого ордера, так что новые
// ордера по счету отклоняются уже во время ликвидации. Повторный вызов не отправляет
// ордеров по уже закрытым или закрываемым позициям. Возвращает число отправленных ордеров.
func (e *Engine) EmergencyLiquidate(ctx context.Context, accountID int64, reason string) (int, error) {
	if e.closer == nil {
		return 0, ErrNoCloser
	}
	if reason == "" {
		reason = "manual"
	}

	wasStopped, err := e.stores.Accounts.IsEmergencyStopped(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("read emergency stop flag: %w", err)
	}
	if err := e.stores.Accounts.SetEmergencyStop(ctx, accountID, reason); err != nil {
		return 0, fmt.Errorf("set emergency stop: %w", err)
	}
	e.refreshStopGauge(ctx)

	positions, err := e.stores.Positions.ListOpen(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("load open positions: %w", err)
	}

	issued, closeErr := e.closeAll(ctx, positions, models.RiskTypeEmergencyLiquidation)

	e.log.Warn("emergency liquidation",
		utils.AccountID(accountID), utils.String("reason", reason),
		utils.Int("orders", issued), utils.Bool("already_stopped", wasStopped))

	if !wasStopped || issued > 0 {
		e.recordAlert(ctx, &models.RiskAlert{
			AccountID:    accountID,
			RiskType:     models.RiskTypeEmergencyLiquidation,
			CurrentValue: float64(issued),
			RiskLevel:    models.RiskLevelCritical,
			AlertMessage: fmt.Sprintf("emergency liquidation (%s): %d closing orders sent", reason, issued),
		})
	}
	return issued, closeErr
}

// ClearEmergencyStop снимает флаг; открытые ранее позиции не восстанавливаются
func (e *Engine) ClearEmergencyStop(ctx context.Context, accountID int64) error {
	if err := e.stores.Accounts.ClearEmergencyStop(ctx, accountID); err != nil {
		return fmt.Errorf("clear emergency stop: %w", err)
	}
	e.refreshStopGauge(ctx)
	e.log.Info("emergency stop cleared", utils.AccountID(accountID))
	e.recordAlert(ctx, &models.RiskAlert{
		AccountID:    accountID,
		RiskType:     models.RiskTypeEmergencyStopCleared,
		RiskLevel:    models.RiskLevelLow,
		AlertMessage: "emergency stop cleared",
	})
	return nil
}

// RetryPendingLiquidations повторяет закрытие позиций, оставшихся открытыми на
// счетах под аварийной остановкой. Зависшие захваты не снимаются: по ним уже мог
// уйти ордер, поэтому они только сообщаются для ручной сверки.
func (e *Engine) RetryPendingLiquidations(ctx context.Context) (int, error) {
	if e.closer == nil {
		return 0, ErrNoCloser
	}
	if e.cfg.StaleClaimAfter > 0 {
		if err := e.reportStaleClaims(ctx); err != nil {
			return 0, err
		}
	}

	stopped, err := e.stores.Accounts.ListEmergencyStopped(ctx)
	if err != nil {
		return 0, fmt.Errorf("list stopped accounts: %w", err)
	}
	metrics.EmergencyStops.Set(float64(len(stopped)))

	var total int
	var failures []error
	for _, id := range stopped {
		positions, err := e.stores.Positions.ListOpen(ctx, id)
		if err != nil {
			failures = append(failures, fmt.Errorf("account %d: %w", id, err))
			continue
		}
		n, err := e.closeAll(ctx, positions, models.RiskTypeEmergencyLiquidation)
		total += n
		if err != nil {
			failures = append(failures, fmt.Errorf("account %d: %w", id, err))
		}
	}
	return total, errors.Join(failures...)
}

// reportStaleClaims пишет в лог позиции, застрявшие в closing дольше StaleClaimAfter
func (e *Engine) reportStaleClaims(ctx context.Context) error {
	stale, err := e.stores.Positions.ListStaleClaims(ctx, e.now().Add(-e.cfg.StaleClaimAfter))
	if err != nil {
		return fmt.Errorf("list stale claims: %w", err)
	}
	metrics.UnresolvedCloses.Set(float64(len(stale)))
	for _, p := range stale {
		e.log.Error("position stuck in closing, reconcile with exchange manually",
			utils.AccountID(p.AccountID), utils.ConnectionID(p.ConnectionID),
			utils.PositionID(p.ID), utils.Symbol(p.Symbol), utils.Side(p.Side), utils.Amount(p.Quantity))
	}
	return nil
}

func (e *Engine) refreshStopGauge(ctx context.Context) {
	ids, err := e.stores.Accounts.ListEmergencyStopped(ctx)
	if err != nil {
		e.log.Debug("failed to refresh emergency stop gauge", utils.Err(err))
		return
	}
	metrics.EmergencyStops.Set(float64(len(ids)))
}
