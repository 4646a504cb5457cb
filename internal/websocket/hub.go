package websocket

import (
	"bytes"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"

	"tradeguard/internal/exchange"
	"tradeguard/internal/metrics"
	"tradeguard/internal/models"
	"tradeguard/internal/service"
	"tradeguard/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// размер очереди broadcast; при переполнении сообщение отбрасывается
const broadcastBufferSize = 256

// outbound - сообщение в очереди рассылки; account 0 - всем клиентам
type outbound struct {
	account int64
	data    []byte
}

// TokenValidator проверяет токен из query-параметра token
type TokenValidator func(token string) error

// ============ sync.Pool для JSON буферов ============

var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// Hub управляет всеми активными WebSocket соединениями
//
// Рассылает клиентам события ядра (клиент с account_id получает только свой счет):
// - riskAlert: стоп-лосс, аварийная ликвидация, сброс остановки
// - balanceUpdate: результат сверки балансов
// - orderUpdate: новые ордера и статусы
//
// Broadcast не блокирует вызывающего: движок рисков и сверка
// не ждут медленных клиентов.
//
// Использование:
// 1. Создать hub: hub := NewHub(logger)
// 2. Запустить в горутине: go hub.Run()
// 3. Остановить: hub.Stop()
type Hub struct {
	// Зарегистрированные клиенты
	clients map[*Client]bool

	// Очередь рассылки
	broadcast chan outbound

	// Регистрация нового клиента
	register chan *Client

	// Отмена регистрации клиента
	unregister chan *Client

	done     chan struct{}
	stopOnce sync.Once

	// Отброшенные сообщения (переполнение очереди или буфера клиента)
	dropped atomic.Int64

	origins *OriginChecker
	tokens  TokenValidator

	// Mutex для потокобезопасного доступа к clients
	mu sync.RWMutex

	log *utils.Logger
}

// NewHub создает новый Hub; по умолчанию разрешены любые Origin
func NewHub(logger *utils.Logger) *Hub {
	if logger == nil {
		logger = utils.L()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		origins:    NewOriginChecker(nil),
		log:        logger.WithComponent("ws"),
	}
}

// SetAllowedOrigins ограничивает Origin для ServeWS. Вызывается до Run.
func (h *Hub) SetAllowedOrigins(origins []string) {
	h.origins = NewOriginChecker(origins)
}

// SetTokenValidator включает проверку токена при подключении. Вызывается до Run.
func (h *Hub) SetTokenValidator(v TokenValidator) {
	h.tokens = v
}

// Run запускает главный цикл Hub до вызова Stop
//
// Список клиентов копируется под RLock, отправка идет без блокировки,
// медленные клиенты удаляются под Write Lock.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WSClients.Set(float64(total))
			h.log.Debug("client connected", utils.Int("clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WSClients.Set(float64(total))
			h.log.Debug("client disconnected", utils.Int("clients", total))

		case msg := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				if client.wants(msg.account) {
					clients = append(clients, client)
				}
			}
			h.mu.RUnlock()

			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- msg.data:
				default:
					toRemove = append(toRemove, client)
				}
			}

			if len(toRemove) > 0 {
				h.mu.Lock()
				for _, client := range toRemove {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				total := len(h.clients)
				h.mu.Unlock()
				h.countDropped(len(toRemove))
				metrics.WSClients.Set(float64(total))
				h.log.Warn("removed slow clients", utils.Int("removed", len(toRemove)), utils.Int("clients", total))
			}
		}
	}
}

// Stop останавливает Run и закрывает соединения клиентов
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
	metrics.WSClients.Set(0)
}

// Broadcast сериализует сообщение и ставит его в очередь рассылки всем клиентам
func (h *Hub) Broadcast(message interface{}) {
	h.publish(0, message)
}

func (h *Hub) publish(account int64, message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		h.log.Error("failed to encode broadcast message", utils.Err(err))
		jsonBufferPool.Put(buf)
		return
	}

	// Убираем trailing newline от Encode
	data := bytes.TrimRight(buf.Bytes(), "\n")
	msgCopy := make([]byte, len(data))
	copy(msgCopy, data)
	jsonBufferPool.Put(buf)

	h.enqueue(outbound{account: account, data: msgCopy})
}

// BroadcastRaw ставит в очередь уже сериализованное сообщение.
// Переполненная очередь или остановленный hub - сообщение отбрасывается.
func (h *Hub) BroadcastRaw(data []byte) {
	h.enqueue(outbound{data: data})
}

func (h *Hub) enqueue(msg outbound) {
	// после Stop сообщения не принимаются даже при свободном буфере
	select {
	case <-h.done:
		h.countDropped(1)
		return
	default:
	}

	select {
	case h.broadcast <- msg:
	default:
		h.countDropped(1)
	}
}

// BroadcastRiskAlert отправляет риск-событие (risk.AlertNotifier)
func (h *Hub) BroadcastRiskAlert(alert *models.RiskAlert) {
	h.publish(alert.AccountID, NewRiskAlertMessage(alert))
}

// BroadcastBalanceUpdate отправляет результат сверки (service.BalanceBroadcaster)
func (h *Hub) BroadcastBalanceUpdate(update service.BalanceUpdate) {
	h.publish(update.AccountID, NewBalanceUpdateMessage(update))
}

// BroadcastOrderUpdate отправляет состояние ордера (service.OrderBroadcaster)
func (h *Hub) BroadcastOrderUpdate(accountID int64, order *exchange.OrderResult) {
	h.publish(accountID, NewOrderUpdateMessage(accountID, order))
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages возвращает число отброшенных сообщений
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}

func (h *Hub) countDropped(n int) {
	h.dropped.Add(int64(n))
	metrics.WSDropped.Add(float64(n))
}
