package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tradeguard/internal/metrics"
	"tradeguard/internal/models"
	"tradeguard/pkg/errs"
	"tradeguard/pkg/utils"
)

// Результаты сверки одного подключения
const (
	SyncStatusSynced  = "synced"
	SyncStatusSkipped = "skipped"
	SyncStatusFailed  = "failed"
)

// ReconciliationConfig - параметры сверки балансов
type ReconciliationConfig struct {
	Workers     int           // одновременных подключений
	Cooldown    time.Duration // подключение, синхронизированное раньше, пропускается без force
	SyncTimeout time.Duration // таймаут одного подключения
}

// DefaultReconciliationConfig возвращает параметры по умолчанию
func DefaultReconciliationConfig() ReconciliationConfig {
	return ReconciliationConfig{
		Workers:     4,
		Cooldown:    5 * time.Minute,
		SyncTimeout: 30 * time.Second,
	}
}

// SyncResult - итог сверки одного подключения
type SyncResult struct {
	ConnectionID int64   `json:"connection_id"`
	ExchangeID   string  `json:"exchange_id"`
	AccountID    int64   `json:"account_id"`
	Status       string  `json:"status"`
	Holdings     int     `json:"holdings"`
	TotalValue   float64 `json:"total_value"`
	Error        string  `json:"error,omitempty"`
}

// SyncReport - итог SyncAll
type SyncReport struct {
	Total   int           `json:"total"`
	Synced  int           `json:"synced"`
	Skipped int           `json:"skipped"`
	Failed  int           `json:"failed"`
	Results []*SyncResult `json:"results"`
}

// ReconciliationService сверяет балансы бирж с холдингами счетов
type ReconciliationService struct {
	connections ConnectionRepositoryInterface
	resolver    ConnectionResolver
	holdings    HoldingRepositoryInterface
	accounts    AccountRepositoryInterface
	prices      PriceSource
	wsHub       BalanceBroadcaster
	cfg         ReconciliationConfig
	log         *utils.Logger
	now         func() time.Time
}

// NewReconciliationService создает сервис сверки
func NewReconciliationService(
	connections ConnectionRepositoryInterface,
	resolver ConnectionResolver,
	holdings HoldingRepositoryInterface,
	accounts AccountRepositoryInterface,
	prices PriceSource,
	cfg ReconciliationConfig,
	logger *utils.Logger,
) *ReconciliationService {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultReconciliationConfig().Workers
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = DefaultReconciliationConfig().SyncTimeout
	}
	if logger == nil {
		logger = utils.L()
	}
	return &ReconciliationService{
		connections: connections,
		resolver:    resolver,
		holdings:    holdings,
		accounts:    accounts,
		prices:      prices,
		cfg:         cfg,
		log:         logger.WithComponent("reconciliation"),
		now:         time.Now,
	}
}

// SetWebSocketHub устанавливает hub для broadcast балансов
func (s *ReconciliationService) SetWebSocketHub(hub BalanceBroadcaster) {
	s.wsHub = hub
}

// SyncAll сверяет все активные подключения не более чем в Workers потоков.
// Ошибка одного подключения записывается в его статус и не прерывает остальные;
// повтора внутри вызова нет, подключение будет сверено следующим запуском.
func (s *ReconciliationService) SyncAll(ctx context.Context, force bool) (*SyncReport, error) {
	conns, err := s.connections.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active connections: %w", err)
	}

	report := &SyncReport{Total: len(conns), Results: make([]*SyncResult, 0, len(conns))}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for _, conn := range conns {
		g.Go(func() error {
			res := s.sync(ctx, conn, force)
			mu.Lock()
			report.Results = append(report.Results, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(report.Results, func(i, j int) bool {
		return report.Results[i].ConnectionID < report.Results[j].ConnectionID
	})
	for _, r := range report.Results {
		switch r.Status {
		case SyncStatusSynced:
			report.Synced++
		case SyncStatusSkipped:
			report.Skipped++
		default:
			report.Failed++
		}
	}

	s.log.Info("balance sync finished",
		utils.Int("total", report.Total), utils.Int("synced", report.Synced),
		utils.Int("skipped", report.Skipped), utils.Int("failed", report.Failed))
	return report, nil
}

// SyncConnection сверяет одно подключение
func (s *ReconciliationService) SyncConnection(ctx context.Context, id int64, force bool) (*SyncResult, error) {
	conn, err := s.connections.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !conn.IsActive {
		return nil, ErrConnectionInactive
	}
	return s.sync(ctx, conn, force), nil
}

// sync выполняет сверку и записывает статус подключения
func (s *ReconciliationService) sync(ctx context.Context, conn *models.ExchangeConnection, force bool) *SyncResult {
	res := &SyncResult{ConnectionID: conn.ID, ExchangeID: conn.ExchangeID, AccountID: conn.AccountID}

	if !force && conn.SyncedWithin(s.cfg.Cooldown, s.now()) {
		res.Status = SyncStatusSkipped
		metrics.RecordSync(conn.ExchangeID, SyncStatusSkipped, 0)
		return res
	}

	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, s.cfg.SyncTimeout)
	defer cancel()

	holdings, total, err := s.reconcile(cctx, conn)
	elapsed := float64(time.Since(start).Microseconds()) / 1000

	if err != nil {
		res.Status = SyncStatusFailed
		res.Error = syncErrorMessage(err)
		conn.MarkError(res.Error)
		metrics.RecordSync(conn.ExchangeID, SyncStatusFailed, elapsed)
		s.log.Warn("balance sync failed",
			utils.ConnectionID(conn.ID), utils.Exchange(conn.ExchangeID),
			utils.ErrorKind(errs.Kind(err)), utils.Err(err))
	} else {
		res.Status = SyncStatusSynced
		res.Holdings = len(holdings)
		res.TotalValue = total
		conn.MarkConnected(s.now().UTC())
		metrics.RecordSync(conn.ExchangeID, SyncStatusSynced, elapsed)
		s.log.Debug("balance sync done",
			utils.ConnectionID(conn.ID), utils.Exchange(conn.ExchangeID),
			utils.Int("holdings", len(holdings)), utils.Float64("total_value", total))
	}

	// статус пишется даже при отмене контекста сверки
	if uerr := s.connections.UpdateSyncStatus(context.WithoutCancel(ctx), conn); uerr != nil {
		s.log.Error("failed to store sync status", utils.ConnectionID(conn.ID), utils.Err(uerr))
	}

	if err == nil && s.wsHub != nil {
		s.wsHub.BroadcastBalanceUpdate(BalanceUpdate{
			AccountID:    conn.AccountID,
			ConnectionID: conn.ID,
			ExchangeID:   conn.ExchangeID,
			TotalValue:   total,
			Holdings:     holdings,
			SyncedAt:     *conn.LastSyncAt,
		})
	}
	return res
}

// reconcile: ключи -> балансы -> цены -> холдинги подключения -> стоимость счета.
// Возвращает количество каждой валюты на подключении и новую стоимость счета.
func (s *ReconciliationService) reconcile(ctx context.Context, conn *models.ExchangeConnection) (map[string]float64, float64, error) {
	adapter, err := s.resolver.Adapter(conn)
	if err != nil {
		return nil, 0, err
	}
	creds, err := s.resolver.Credentials(conn)
	if err != nil {
		return nil, 0, err
	}

	balances, err := adapter.GetBalances(ctx, creds)
	if err != nil {
		return nil, 0, err
	}

	quantities := make(map[string]float64, len(balances))
	for _, b := range balances {
		if b.Total == 0 {
			continue
		}
		quantities[strings.ToUpper(b.Currency)] += b.Total
	}

	present := make([]string, 0, len(quantities))
	for currency, qty := range quantities {
		price, err := s.priceOf(ctx, conn, currency)
		if err != nil {
			return nil, 0, err
		}
		h := models.NewHolding(conn.AccountID, conn.ID, currency, qty, price)
		if err := s.holdings.Upsert(ctx, h); err != nil {
			return nil, 0, fmt.Errorf("upsert holding %s: %w", currency, err)
		}
		present = append(present, currency)
	}
	sort.Strings(present)

	if _, err := s.holdings.ZeroMissing(ctx, conn.ID, present); err != nil {
		return nil, 0, fmt.Errorf("zero missing holdings: %w", err)
	}

	total, err := s.accounts.RecalculateTotalValue(ctx, conn.AccountID)
	if err != nil {
		return nil, 0, fmt.Errorf("recalculate account value: %w", err)
	}
	return quantities, total, nil
}

// priceOf: цена из кэша (стейблкоины = 1), иначе последняя известная цена холдинга подключения
func (s *ReconciliationService) priceOf(ctx context.Context, conn *models.ExchangeConnection, currency string) (float64, error) {
	if utils.IsStablecoin(currency) {
		return 1, nil
	}
	if s.prices != nil {
		if p, ok := s.prices.PriceOf(currency); ok {
			return p, nil
		}
	}
	h, err := s.holdings.Get(ctx, conn.ID, currency)
	if err != nil {
		if isNotFound(err) {
			s.log.Warn("no price for currency, valued at zero",
				utils.AccountID(conn.AccountID), utils.ConnectionID(conn.ID), utils.String("currency", currency))
			return 0, nil
		}
		return 0, fmt.Errorf("load holding %s: %w", currency, err)
	}
	return h.CurrentPrice, nil
}

// syncErrorMessage - сообщение для статуса error; текст ошибки биржи сохраняется как есть
func syncErrorMessage(err error) string {
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "sync failed"
}
