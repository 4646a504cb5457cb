package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradeguard/internal/api/handlers"
	"tradeguard/internal/api/middleware"
	"tradeguard/internal/service"
	"tradeguard/internal/websocket"
	"tradeguard/pkg/utils"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	Connections    service.ConnectionServiceInterface
	Reconciliation service.ReconciliationServiceInterface
	Trading        service.TradingServiceInterface
	Risk           handlers.RiskService
	Alerts         handlers.AlertLister
	Prices         handlers.PriceStore
	Hub            *websocket.Hub
	Auth           *middleware.JWTAuth

	AdminPasswordHash string
	AllowedOrigins    []string
	Logger            *utils.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── POST /auth/login - вход администратора (без токена)
//	├── /connections/
//	│   ├── GET / - подключения пользователя
//	│   ├── POST / - подключить биржу
//	│   ├── DELETE /{id} - отключить биржу
//	│   ├── POST /{id}/sync - сверка балансов подключения
//	│   └── GET /{id}/orders/{orderId} - статус ордера
//	├── POST /sync - сверка всех подключений
//	├── POST /orders - новый ордер
//	├── POST /risk/validate - предторговая проверка
//	├── /accounts/{id}/
//	│   ├── GET /risk - риск портфеля
//	│   ├── GET /alerts - риск-события
//	│   ├── GET /position-size - рекомендуемый размер позиции
//	│   ├── POST /liquidate - аварийная ликвидация (admin)
//	│   └── DELETE /emergency-stop - снять аварийную остановку (admin)
//	└── /prices/
//	    ├── GET / - последние цены
//	    └── POST / - пакет котировок (admin)
//
// /ws/stream - WebSocket: riskAlert, balanceUpdate, orderUpdate
// /health, /metrics
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. Auth (все /api/v1 кроме входа)
// 5. RequireRole(admin) для ликвидации, снятия остановки и записи цен
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()
	if deps == nil {
		deps = &Dependencies{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = utils.L()
	}

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logging(logger))
	router.Use(middleware.CORS(deps.AllowedOrigins))

	// Preflight отвечает CORS middleware, до проверки токена
	router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// Вход регистрируется раньше защищенного префикса
	if deps.Auth != nil {
		authHandler := handlers.NewAuthHandler(deps.AdminPasswordHash, deps.Auth)
		router.HandleFunc("/api/v1/auth/login", authHandler.Login).Methods(http.MethodPost)
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	if deps.Auth != nil {
		api.Use(deps.Auth.Auth)
	}
	adminOnly := func(h http.HandlerFunc) http.Handler {
		return middleware.RequireRole(middleware.RoleAdmin)(h)
	}

	// Connection routes
	if deps.Connections != nil && deps.Reconciliation != nil {
		connHandler := handlers.NewConnectionHandler(deps.Connections, deps.Reconciliation)
		api.HandleFunc("/connections", connHandler.ListConnections).Methods(http.MethodGet)
		api.HandleFunc("/connections", connHandler.Connect).Methods(http.MethodPost)
		api.HandleFunc("/connections/{id}", connHandler.Disconnect).Methods(http.MethodDelete)
		api.HandleFunc("/connections/{id}/sync", connHandler.SyncConnection).Methods(http.MethodPost)
		api.HandleFunc("/sync", connHandler.SyncAll).Methods(http.MethodPost)
	}

	// Order routes
	if deps.Trading != nil {
		orderHandler := handlers.NewOrderHandler(deps.Trading)
		api.HandleFunc("/orders", orderHandler.SubmitOrder).Methods(http.MethodPost)
		api.HandleFunc("/connections/{id}/orders/{orderId}", orderHandler.GetOrderStatus).Methods(http.MethodGet)
	}

	// Risk routes
	if deps.Risk != nil && deps.Alerts != nil {
		riskHandler := handlers.NewRiskHandler(deps.Risk, deps.Alerts)
		api.HandleFunc("/risk/validate", riskHandler.Validate).Methods(http.MethodPost)
		api.HandleFunc("/accounts/{id}/risk", riskHandler.GetPortfolioRisk).Methods(http.MethodGet)
		api.HandleFunc("/accounts/{id}/alerts", riskHandler.GetAlerts).Methods(http.MethodGet)
		api.HandleFunc("/accounts/{id}/position-size", riskHandler.PositionSize).Methods(http.MethodGet)
		api.Handle("/accounts/{id}/liquidate", adminOnly(riskHandler.Liquidate)).Methods(http.MethodPost)
		api.Handle("/accounts/{id}/emergency-stop", adminOnly(riskHandler.ClearEmergencyStop)).Methods(http.MethodDelete)
	}

	// Price routes
	if deps.Prices != nil {
		priceHandler := handlers.NewPriceHandler(deps.Prices)
		api.HandleFunc("/prices", priceHandler.GetPrices).Methods(http.MethodGet)
		api.Handle("/prices", adminOnly(priceHandler.UpdatePrices)).Methods(http.MethodPost)
	}

	// WebSocket route
	if deps.Hub != nil {
		router.HandleFunc("/ws/stream", deps.Hub.ServeWS)
	}

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	return router
}
