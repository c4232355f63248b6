package websocket

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Время ожидания записи сообщения
	writeWait = 10 * time.Second

	// Время ожидания между pong сообщениями
	pongWait = 60 * time.Second

	// Интервал отправки ping сообщений (должен быть меньше pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Входящие сообщения - только команды фильтра
	maxMessageSize = 4096

	// Размер буфера отправки клиента
	clientSendBufferSize = 512

	// Максимум символов в фильтре клиента
	maxClientSymbols = 100
)

// OriginChecker проверяет Origin с O(1) lookup через map
// Потокобезопасен для чтения после инициализации
type OriginChecker struct {
	allowedOrigins map[string]struct{}
	allowAll       bool
}

// NewOriginChecker создает проверку по списку. Пустой список или "*" - разрешены все.
func NewOriginChecker(origins []string) *OriginChecker {
	checker := &OriginChecker{allowedOrigins: make(map[string]struct{})}
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			checker.allowAll = true
		}
		if origin != "" {
			checker.allowedOrigins[origin] = struct{}{}
		}
	}
	if len(checker.allowedOrigins) == 0 {
		checker.allowAll = true
	}
	return checker
}

// Check проверяет origin за O(1)
func (oc *OriginChecker) Check(origin string) bool {
	if origin == "" {
		return true // Non-browser clients (curl, API tools)
	}
	if oc.allowAll {
		return true
	}
	_, ok := oc.allowedOrigins[origin]
	return ok
}

// Client представляет одно WebSocket соединение
//
// Каждый клиент имеет две горутины:
// 1. readPump - читает команды фильтра от клиента
// 2. writePump - пишет сообщения клиенту
//
// Фильтр символов задается query-параметром ?symbols=BTCUSDT,ETHUSDT
// при подключении и меняется командами subscribe/unsubscribe.
type Client struct {
	conn *websocket.Conn
	hub  *Hub

	// Буферизованный канал исходящих сообщений
	send chan []byte

	// Пользователь из X-User-ID; пусто - только публичные данные
	userID string

	filterMu sync.RWMutex
	symbols  map[string]struct{}
}

func newClient(hub *Hub, conn *websocket.Conn, userID string, symbols []string) *Client {
	c := &Client{
		conn:    conn,
		hub:     hub,
		send:    make(chan []byte, clientSendBufferSize),
		userID:  userID,
		symbols: make(map[string]struct{}),
	}
	c.subscribe(symbols)
	return c
}

// wants - нужно ли клиенту сообщение
func (c *Client) wants(symbol, userID string) bool {
	if userID != "" && userID != c.userID {
		return false
	}
	if symbol == "" {
		return true
	}
	c.filterMu.RLock()
	defer c.filterMu.RUnlock()
	if len(c.symbols) == 0 {
		return true
	}
	_, ok := c.symbols[symbol]
	return ok
}

func (c *Client) subscribe(symbols []string) {
	c.filterMu.Lock()
	for _, s := range symbols {
		if len(c.symbols) >= maxClientSymbols {
			break
		}
		c.symbols[strings.ToUpper(strings.TrimSpace(s))] = struct{}{}
	}
	c.filterMu.Unlock()
}

func (c *Client) unsubscribe(symbols []string) {
	c.filterMu.Lock()
	for _, s := range symbols {
		delete(c.symbols, strings.ToUpper(strings.TrimSpace(s)))
	}
	c.filterMu.Unlock()
}

func (c *Client) filter() []string {
	c.filterMu.RLock()
	defer c.filterMu.RUnlock()
	out := make([]string, 0, len(c.symbols))
	for s := range c.symbols {
		out = append(out, s)
	}
	return out
}

// reply ставит ответ клиенту в очередь, не блокируясь
func (c *Client) reply(msg *StreamMessage) {
	data, err := encode(msg)
	if err != nil {
		return
	}
	defer func() {
		// канал мог быть закрыт хабом
		recover()
	}()
	select {
	case c.send <- data:
	default:
	}
}

// readPump читает команды клиента
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopChan:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("websocket read error", zap.Error(err))
			}
			break
		}
		c.handleCommand(message)
	}
}

func (c *Client) handleCommand(raw []byte) {
	var cmd ClientCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		c.reply(ErrorMessage("invalid command"))
		return
	}
	switch cmd.Action {
	case "subscribe":
		c.subscribe(cmd.Symbols)
	case "unsubscribe":
		c.unsubscribe(cmd.Symbols)
	default:
		c.reply(ErrorMessage("unknown action: " + cmd.Action))
		return
	}
	c.reply(SubscribedMessage(c.filter()))
}

// writePump отправляет сообщения клиенту
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub закрыл канал
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Handler возвращает HTTP handler для /ws/stream
//
// Пользователь берется из заголовка X-User-ID или параметра user_id
// (браузер не может задать заголовок при апгрейде).
func (h *Hub) Handler(origins *OriginChecker) http.HandlerFunc {
	if origins == nil {
		origins = NewOriginChecker(nil)
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return origins.Check(r.Header.Get("Origin"))
		},
		EnableCompression: true,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			userID = r.URL.Query().Get("user_id")
		}
		client := newClient(h, conn, userID, parseSymbols(r.URL.Query().Get("symbols")))

		select {
		case h.register <- client:
		case <-h.stopChan:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}
