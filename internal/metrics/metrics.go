// Package metrics содержит Prometheus метрики торгового ядра.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tradeguard"

// ============ Биржи ============

// ExchangeRequestLatency - время ответа REST API биржи
var ExchangeRequestLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "exchange",
		Name:      "request_latency_ms",
		Help:      "Exchange REST request latency in milliseconds",
		Buckets:   []float64{25, 50, 100, 200, 300, 500, 1000, 2000, 5000},
	},
	[]string{"exchange", "endpoint"},
)

// ExchangeRequests - запросы к биржам по исходу (ok или класс ошибки)
var ExchangeRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "exchange",
		Name:      "requests_total",
		Help:      "Exchange REST requests by outcome",
	},
	[]string{"exchange", "outcome"},
)

// RateLimited - отказы локального лимитера
var RateLimited = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "exchange",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the local rate limiter",
	},
	[]string{"exchange", "endpoint"},
)

// OrdersSubmitted - ордера, принятые биржей
var OrdersSubmitted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "trading",
		Name:      "orders_submitted_total",
		Help:      "Orders accepted by an exchange",
	},
	[]string{"exchange", "side", "status"},
)

// OrdersRejected - ордера, отклоненные до отправки или биржей
var OrdersRejected = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "trading",
		Name:      "orders_rejected_total",
		Help:      "Orders rejected by risk checks, guards or the exchange",
	},
	[]string{"exchange", "kind"},
)

// ============ Риск ============

// RiskValidations - результаты предторговой проверки
var RiskValidations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "risk",
		Name:      "validations_total",
		Help:      "Pre-trade risk validations by result",
	},
	[]string{"result"},
)

// RiskScore - распределение оценки риска принятых сделок
var RiskScore = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "risk",
		Name:      "score",
		Help:      "Risk score of accepted trades (0-10)",
		Buckets:   prometheus.LinearBuckets(0, 1, 11),
	},
)

// RiskEvents - сработавшие стоп-лоссы и ликвидации
var RiskEvents = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "risk",
		Name:      "events_total",
		Help:      "Stop-loss and liquidation events by outcome",
	},
	[]string{"type", "outcome"},
)

// UnresolvedCloses - позиции, зависшие в closing: исход закрывающего ордера неизвестен
var UnresolvedCloses = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "risk",
		Name:      "unresolved_closes",
		Help:      "Positions stuck in closing state awaiting manual reconciliation",
	},
)

// EmergencyStops - число счетов под аварийной остановкой
var EmergencyStops = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "risk",
		Name:      "emergency_stops",
		Help:      "Accounts currently under emergency stop",
	},
)

// ============ Сверка балансов ============

// SyncDuration - длительность синхронизации одного подключения
var SyncDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "reconciliation",
		Name:      "sync_duration_ms",
		Help:      "Balance sync duration per connection in milliseconds",
		Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
	},
	[]string{"exchange"},
)

// SyncResults - результаты синхронизации по статусу
var SyncResults = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconciliation",
		Name:      "sync_results_total",
		Help:      "Balance sync results by status",
	},
	[]string{"exchange", "status"},
)

// ============ Push-канал ============

// WSClients - количество подключенных WebSocket клиентов
var WSClients = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ws",
		Name:      "clients",
		Help:      "Connected WebSocket clients",
	},
)

// WSDropped - сообщения, отброшенные из-за переполненного буфера клиента
var WSDropped = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ws",
		Name:      "dropped_messages_total",
		Help:      "Messages dropped because a client buffer was full",
	},
)

// ============ HTTP API ============

// HTTPRequests - запросы к API по шаблону маршрута и статусу
var HTTPRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP API requests by route and status",
	},
	[]string{"method", "route", "status"},
)

// HTTPLatency - время обработки запроса API
var HTTPLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_ms",
		Help:      "HTTP API request duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
	},
	[]string{"method", "route"},
)

// ============ Вспомогательные функции ============

// RecordExchangeRequest записывает латентность и исход запроса к бирже
func RecordExchangeRequest(exchange, endpoint, outcome string, latencyMs float64) {
	ExchangeRequestLatency.WithLabelValues(exchange, endpoint).Observe(latencyMs)
	ExchangeRequests.WithLabelValues(exchange, outcome).Inc()
}

// RecordOrder записывает принятый биржей ордер
func RecordOrder(exchange, side, status string) {
	OrdersSubmitted.WithLabelValues(exchange, side, status).Inc()
}

// RecordRejection записывает отказ по классу ошибки
func RecordRejection(exchange, kind string) {
	OrdersRejected.WithLabelValues(exchange, kind).Inc()
}

// RecordValidation записывает результат проверки риска
func RecordValidation(valid bool, score float64) {
	if valid {
		RiskValidations.WithLabelValues("accepted").Inc()
		RiskScore.Observe(score)
		return
	}
	RiskValidations.WithLabelValues("rejected").Inc()
}

// RecordRiskEvent записывает стоп-лосс или ликвидацию
func RecordRiskEvent(riskType string, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failed"
	}
	RiskEvents.WithLabelValues(riskType, outcome).Inc()
}

// RecordSync записывает результат синхронизации подключения
func RecordSync(exchange, status string, latencyMs float64) {
	SyncDuration.WithLabelValues(exchange).Observe(latencyMs)
	SyncResults.WithLabelValues(exchange, status).Inc()
}

// RecordHTTPRequest записывает запрос к API
func RecordHTTPRequest(method, route string, status int, latencyMs float64) {
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPLatency.WithLabelValues(method, route).Observe(latencyMs)
}
