package websocket

import (
	"bytes"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"quanttrade/internal/metrics"
	"quanttrade/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ============ ОПТИМИЗАЦИЯ: sync.Pool для JSON буферов ============
// На каждом тике фида уходит сообщение price, без пула это аллокация на тик

var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

const broadcastBufferSize = 4096

// outbound - сериализованное сообщение и его адресация
type outbound struct {
	data   []byte
	symbol string
	userID string
}

// Hub управляет всеми активными WebSocket соединениями
//
// Получает события ядра через Deliver (реализует events.Sink) и рассылает
// их клиентам с учетом фильтра символов и владельца данных:
// - price: всем клиентам, подписанным на символ
// - order_update, fill, risk_alert: только клиентам того же пользователя
//
// Ни Deliver, ни Broadcast не блокируют вызывающего: при переполнении
// очереди сообщение отбрасывается и учитывается в DroppedMessages.
// Медленный клиент, у которого переполнен буфер отправки, отключается.
//
// Использование:
// 1. Создать hub: hub := NewHub(logger)
// 2. Запустить в горутине: go hub.Run()
// 3. Подключить к диспетчеру: dispatcher.AddSink(hub)
type Hub struct {
	// Зарегистрированные клиенты
	clients map[*Client]bool

	// Очередь сообщений на рассылку
	broadcast chan outbound

	register   chan *Client
	unregister chan *Client

	stopChan chan struct{}
	stopOnce sync.Once

	dropped atomic.Int64

	// Mutex для потокобезопасного доступа к clients
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewHub создает новый Hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopChan:   make(chan struct{}),
		logger:     logger.Named("ws_hub"),
	}
}

// Run запускает главный цикл Hub
//
// Должен запускаться в отдельной горутине: go hub.Run()
// Завершается после Stop, закрывая каналы отправки всех клиентов.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			metrics.WSClients.Set(float64(count))
			h.logger.Debug("client connected", zap.Int("clients", count))

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			h.fanout(msg)

		case <-h.stopChan:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			metrics.WSClients.Set(0)
			return
		}
	}
}

// fanout рассылает сообщение
//
// ОПТИМИЗАЦИЯ: список клиентов копируется под коротким RLock,
// отправка идет без блокировки, медленные клиенты удаляются под Lock
func (h *Hub) fanout(msg outbound) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	var toRemove []*Client
	for _, client := range clients {
		if !client.wants(msg.symbol, msg.userID) {
			continue
		}
		select {
		case client.send <- msg.data:
		default:
			toRemove = append(toRemove, client)
		}
	}

	if len(toRemove) > 0 {
		metrics.RecordWSDrop("slow_client", len(toRemove))
		for _, client := range toRemove {
			h.remove(client)
		}
		h.logger.Warn("removed slow clients", zap.Int("count", len(toRemove)))
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	count := len(h.clients)
	h.mu.Unlock()
	metrics.WSClients.Set(float64(count))
}

// Stop останавливает Run. Повторный вызов безопасен.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stopChan) })
}

// Deliver принимает событие диспетчера
func (h *Hub) Deliver(event models.Event) {
	msg, ok := NewStreamMessage(event)
	if !ok {
		return
	}
	h.send(msg)
}

// Broadcast отправляет сообщение всем подключенным клиентам
func (h *Hub) Broadcast(message interface{}) {
	data, err := encode(message)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", zap.Error(err))
		return
	}
	h.BroadcastRaw(data, "")
}

// BroadcastRaw отправляет уже сериализованные данные клиентам символа
// (symbol пустой - всем)
func (h *Hub) BroadcastRaw(data []byte, symbol string) {
	h.enqueue(outbound{data: data, symbol: symbol})
}

func (h *Hub) send(msg *StreamMessage) {
	data, err := encode(msg)
	if err != nil {
		h.logger.Error("failed to marshal stream message",
			zap.String("type", string(msg.Type)),
			zap.Error(err),
		)
		return
	}
	h.enqueue(outbound{data: data, symbol: msg.Symbol, userID: msg.userID})
}

func (h *Hub) enqueue(msg outbound) {
	select {
	case h.broadcast <- msg:
	default:
		h.dropped.Add(1)
		metrics.RecordWSDrop("queue_full", 1)
	}
}

// encode сериализует сообщение через буфер из пула
func encode(message interface{}) ([]byte, error) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer jsonBufferPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		return nil, err
	}

	// Убираем trailing newline от Encode
	data := buf.Bytes()
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}

	// Копируем данные (буфер вернётся в пул)
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages возвращает число сообщений, отброшенных из-за полной очереди
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
