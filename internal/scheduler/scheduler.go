// Package scheduler запускает периодические задачи ядра: сверку балансов,
// мониторинг стоп-лоссов и дозакрытие позиций счетов под аварийной остановкой.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"tradeguard/internal/service"
	"tradeguard/pkg/utils"
)

// Syncer - сверка всех активных подключений
type Syncer interface {
	SyncAll(ctx context.Context, force bool) (*service.SyncReport, error)
}

// RiskMonitor - защитные проходы движка рисков
type RiskMonitor interface {
	MonitorAll(ctx context.Context) (int, error)
	RetryPendingLiquidations(ctx context.Context) (int, error)
}

// Config - расписания в формате cron ("@every 30s", "0 */5 * * * *")
type Config struct {
	SyncSpec        string
	StopLossSpec    string
	LiquidationSpec string
	// Таймаут одного прохода задачи
	JobTimeout time.Duration
}

// DefaultConfig возвращает расписание по умолчанию
func DefaultConfig() Config {
	return Config{
		SyncSpec:        "@every 5m",
		StopLossSpec:    "@every 15s",
		LiquidationSpec: "@every 1m",
		JobTimeout:      2 * time.Minute,
	}
}

// Scheduler управляет cron задачами.
// Задача не запускается повторно, пока предыдущий проход не завершился.
type Scheduler struct {
	cron   *cron.Cron
	sync   Syncer
	risk   RiskMonitor
	cfg    Config
	log    *utils.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// New создает планировщик; пустое расписание отключает задачу
func New(syncer Syncer, monitor RiskMonitor, cfg Config, logger *utils.Logger) *Scheduler {
	if logger == nil {
		logger = utils.L()
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultConfig().JobTimeout
	}
	log := logger.WithComponent("scheduler")
	cl := cronLogger{log: log}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		sync:   syncer,
		risk:   monitor,
		cfg:    cfg,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start регистрирует задачи и запускает cron
func (s *Scheduler) Start() error {
	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context)
	}{
		{"balance_sync", s.cfg.SyncSpec, s.SyncBalances},
		{"stop_loss", s.cfg.StopLossSpec, s.MonitorStopLosses},
		{"liquidation_retry", s.cfg.LiquidationSpec, s.RetryLiquidations},
	}

	for _, job := range jobs {
		if job.spec == "" {
			s.log.Info("job disabled", utils.String("job", job.name))
			continue
		}
		run := job.run
		if _, err := s.cron.AddFunc(job.spec, func() { s.runJob(run) }); err != nil {
			return err
		}
		s.log.Info("job scheduled", utils.String("job", job.name), utils.String("spec", job.spec))
	}

	s.cron.Start()
	s.log.Info("scheduler started")
	return nil
}

// Stop останавливает cron, отменяет текущие проходы и ждет их завершения
func (s *Scheduler) Stop(ctx context.Context) {
	s.log.Info("stopping scheduler")
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out")
	}
}

func (s *Scheduler) runJob(run func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.JobTimeout)
	defer cancel()
	run(ctx)
}

// ============================================================
// Задачи
// ============================================================

// SyncBalances - плановая сверка без force: подключения в cooldown пропускаются
func (s *Scheduler) SyncBalances(ctx context.Context) {
	start := time.Now()
	report, err := s.sync.SyncAll(ctx, false)
	if err != nil {
		s.log.Error("scheduled sync failed", utils.Err(err))
		return
	}
	s.log.Info("scheduled sync finished",
		utils.Int("total", report.Total), utils.Int("synced", report.Synced),
		utils.Int("skipped", report.Skipped), utils.Int("failed", report.Failed),
		utils.Elapsed(time.Since(start)))
}

// MonitorStopLosses - проход по открытым позициям со стоп-лоссом
func (s *Scheduler) MonitorStopLosses(ctx context.Context) {
	closed, err := s.risk.MonitorAll(ctx)
	if err != nil {
		s.log.Error("stop loss monitor failed", utils.Int("closed", closed), utils.Err(err))
		return
	}
	if closed > 0 {
		s.log.Info("stop losses executed", utils.Int("closed", closed))
	}
}

// RetryLiquidations дозакрывает позиции счетов под аварийной остановкой
func (s *Scheduler) RetryLiquidations(ctx context.Context) {
	issued, err := s.risk.RetryPendingLiquidations(ctx)
	if err != nil {
		s.log.Error("liquidation retry failed", utils.Int("issued", issued), utils.Err(err))
		return
	}
	if issued > 0 {
		s.log.Warn("pending liquidations retried", utils.Int("issued", issued))
	}
}

// cronLogger - cron.Logger поверх zap
type cronLogger struct {
	log *utils.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
