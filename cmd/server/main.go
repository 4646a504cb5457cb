package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"tradeguard/internal/api"
	"tradeguard/internal/api/middleware"
	"tradeguard/internal/config"
	"tradeguard/internal/exchange"
	"tradeguard/internal/marketdata"
	"tradeguard/internal/repository"
	"tradeguard/internal/risk"
	"tradeguard/internal/scheduler"
	"tradeguard/internal/service"
	"tradeguard/internal/websocket"
	"tradeguard/pkg/crypto"
	"tradeguard/pkg/ratelimit"
	"tradeguard/pkg/retry"
	"tradeguard/pkg/utils"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := utils.InitGlobalLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	defer func() { _ = logger.Sync() }()

	// Инициализация базы данных
	db, err := initDatabase(cfg, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", utils.Err(err), zap.String("dsn", cfg.Database.DSNWithoutPassword()))
	}
	defer db.Close()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	err = repository.Migrate(migrateCtx, db)
	cancelMigrate()
	if err != nil {
		logger.Fatal("failed to migrate schema", utils.Err(err))
	}
	logger.Info("connected to database")

	// Инициализация репозиториев
	connectionRepo := repository.NewConnectionRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	holdingRepo := repository.NewHoldingRepository(db)
	positionRepo := repository.NewPositionRepository(db)
	tradeRepo := repository.NewTradeRepository(db)
	paramsRepo := repository.NewRiskParametersRepository(db)
	alertRepo := repository.NewAlertRepository(db)

	// Хранилище ключей API
	vault, err := crypto.NewVault(cfg.Security.MasterEncryptionSecret)
	if err != nil {
		logger.Fatal("failed to initialize credential vault", utils.Err(err))
	}

	// Лимитер запросов к биржам: общий через Redis или локальный
	limiter, closeLimiter, err := initLimiter(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize rate limiter", utils.Err(err))
	}
	defer closeLimiter()

	httpCfg := exchange.DefaultHTTPClientConfig()
	httpCfg.TotalTimeout = cfg.Exchange.HTTPTimeout
	if httpCfg.ResponseTimeout > cfg.Exchange.HTTPTimeout {
		httpCfg.ResponseTimeout = cfg.Exchange.HTTPTimeout
	}
	httpClient := exchange.NewHTTPClient(httpCfg)

	prices := marketdata.NewPriceCache(marketdata.DefaultHistorySize)

	// Инициализация сервисов
	connectionService := service.NewConnectionService(
		connectionRepo,
		positionRepo,
		vault,
		exchange.NewAdapter,
		exchange.Options{
			Mode:        cfg.Exchange.Mode,
			MinAmount:   cfg.Exchange.MinAmount,
			MaxAmount:   cfg.Exchange.MaxAmount,
			Limiter:     limiter,
			HTTPClient:  httpClient,
			Logger:      logger,
			SimLatency:  cfg.Exchange.SimLatency,
			PriceSource: prices,
		},
		logger,
	)

	riskCfg := risk.DefaultConfig()
	riskCfg.DefaultParams.MaxDailyLoss = cfg.Risk.MaxDailyLoss
	riskCfg.DefaultParams.MaxPositionSize = cfg.Risk.MaxPositionSize
	riskCfg.DefaultParams.MaxDrawdown = cfg.Risk.MaxDrawdown
	riskCfg.MaxConcentration = cfg.Risk.MaxConcentration
	riskCfg.CloseTimeout = cfg.Risk.CloseTimeout

	riskEngine := risk.NewEngine(risk.Stores{
		Accounts:  accountRepo,
		Holdings:  holdingRepo,
		Positions: positionRepo,
		Trades:    tradeRepo,
		Params:    paramsRepo,
		Alerts:    alertRepo,
	}, prices, riskCfg, logger)

	tradingService := service.NewTradingService(connectionService, tradeRepo, positionRepo, riskEngine, prices, logger)
	// Движок закрывает позиции через торговый сервис
	riskEngine.SetPositionCloser(tradingService)

	reconciliationService := service.NewReconciliationService(
		connectionRepo,
		connectionService,
		holdingRepo,
		accountRepo,
		prices,
		service.ReconciliationConfig{
			Workers:     cfg.Sync.Workers,
			Cooldown:    cfg.Sync.Cooldown,
			SyncTimeout: cfg.Sync.Timeout,
		},
		logger,
	)

	// WebSocket hub
	jwtAuth := middleware.NewJWTAuth(cfg.Security.JWTSecret, cfg.Security.TokenTTL)

	hub := websocket.NewHub(logger)
	hub.SetAllowedOrigins(cfg.Security.AllowedOrigins)
	hub.SetTokenValidator(func(token string) error {
		_, err := jwtAuth.Parse(token)
		return err
	})
	go hub.Run()

	riskEngine.SetNotifier(hub)
	tradingService.SetWebSocketHub(hub)
	reconciliationService.SetWebSocketHub(hub)

	// Восстановление после перезапуска: снимаем брошенные захваты позиций
	// и дозакрываем счета, остановленные до рестарта
	recoverCtx, cancelRecover := context.WithTimeout(context.Background(), cfg.Risk.CloseTimeout*2)
	if closed, err := riskEngine.RetryPendingLiquidations(recoverCtx); err != nil {
		logger.Warn("startup liquidation recovery incomplete", zap.Int("closed", closed), utils.Err(err))
	} else if closed > 0 {
		logger.Info("startup liquidation recovery", zap.Int("closed", closed))
	}
	cancelRecover()

	// Периодические задачи
	sched := scheduler.New(reconciliationService, riskEngine, scheduler.Config{
		SyncSpec:        cfg.Scheduler.SyncSpec,
		StopLossSpec:    cfg.Scheduler.StopLossSpec,
		LiquidationSpec: cfg.Scheduler.LiquidationSpec,
	}, logger)
	if err := sched.Start(); err != nil {
		logger.Fatal("failed to start scheduler", utils.Err(err))
	}

	// Настройка зависимостей для API
	deps := &api.Dependencies{
		Connections:       connectionService,
		Reconciliation:    reconciliationService,
		Trading:           tradingService,
		Risk:              riskEngine,
		Alerts:            alertRepo,
		Prices:            prices,
		Hub:               hub,
		Auth:              jwtAuth,
		AdminPasswordHash: cfg.Security.AdminPasswordHash,
		AllowedOrigins:    cfg.Security.AllowedOrigins,
		Logger:            logger,
	}

	// Настройка HTTP роутера
	router := api.SetupRoutes(deps)

	// HTTP сервер
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Запуск сервера в отдельной горутине
	go func() {
		logger.Info("starting server",
			zap.String("addr", server.Addr),
			zap.String("mode", cfg.Exchange.Mode),
			zap.Bool("https", cfg.Server.UseHTTPS))
		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", utils.Err(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Сначала останавливаем задачи, затем HTTP и push-канал
	sched.Stop(ctx)

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", utils.Err(err))
	}
	hub.Stop()

	// Закрываем соединения с биржами
	httpClient.Close()
	exchange.CloseGlobalClient()

	logger.Info("server exited")
}

// initDatabase создает подключение к базе данных; база может подниматься
// одновременно с сервисом, поэтому проверка подключения повторяется
func initDatabase(cfg *config.Config, logger *utils.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Проверка подключения
	err = retry.Do(context.Background(), func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return db.PingContext(ctx)
	}, startupRetry(logger, "postgres"))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// initLimiter выбирает хранилище счетчиков: Redis, если задан REDIS_ADDR
// (несколько экземпляров сервиса делят лимит), иначе память процесса
func initLimiter(cfg *config.Config, logger *utils.Logger) (*ratelimit.WindowLimiter, func(), error) {
	if cfg.Redis.Addr == "" {
		logger.Info("rate limiter uses in-memory counters", zap.Int("limit", cfg.Exchange.RequestsPerMinute))
		return ratelimit.NewWindowLimiter(ratelimit.NewMemoryStore(), cfg.Exchange.RequestsPerMinute), func() {}, nil
	}

	client := ratelimit.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	err := retry.Do(context.Background(), func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return client.Ping(ctx).Err()
	}, startupRetry(logger, "redis"))
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
	}

	logger.Info("rate limiter uses redis counters", zap.String("addr", cfg.Redis.Addr), zap.Int("limit", cfg.Exchange.RequestsPerMinute))
	store := ratelimit.NewRedisStore(client, "tradeguard:ratelimit")
	return ratelimit.NewWindowLimiter(store, cfg.Exchange.RequestsPerMinute), func() { _ = client.Close() }, nil
}

// startupRetry - повторы подключения к зависимости с записью в лог
func startupRetry(logger *utils.Logger, dependency string) retry.Config {
	cfg := retry.StartupConfig()
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("dependency not ready, retrying",
			zap.String("dependency", dependency), zap.Int("attempt", attempt),
			zap.Duration("delay", delay), zap.Error(err))
	}
	return cfg
}
