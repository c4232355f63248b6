package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quanttrade/internal/metrics"
)

// ErrManagerClosed - менеджер закрыт, повторные подключения невозможны
var ErrManagerClosed = errors.New("ws manager is closed")

// ReconnectConfig конфигурация переподключения WebSocket
type ReconnectConfig struct {
	// Начальная задержка перед переподключением
	InitialDelay time.Duration
	// Максимальная задержка (после exponential backoff)
	MaxDelay time.Duration
	// Максимальное количество попыток (0 = бесконечно)
	MaxRetries int
	// Таймаут подключения
	ConnectTimeout time.Duration
	// Интервал ping для проверки соединения
	PingInterval time.Duration
	// Таймаут записи ping / кадра
	WriteTimeout time.Duration
}

// DefaultReconnectConfig - 1s, 2s, 4s ... до 60s, бесконечно
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		InitialDelay:   1 * time.Second,
		MaxDelay:       60 * time.Second,
		MaxRetries:     0,
		ConnectTimeout: 10 * time.Second,
		PingInterval:   60 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

func (c *ReconnectConfig) normalize() {
	def := DefaultReconnectConfig()
	if c.InitialDelay <= 0 {
		c.InitialDelay = def.InitialDelay
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
}

// ConnState состояние соединения с площадкой
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// WSReconnectManager держит одно соединение с площадкой рыночных данных
//
// - exponential backoff при разрывах
// - повторная отправка подписок после переподключения (через resubscribe provider)
// - ping для проверки живости
// - все записи в сокет сериализованы writeMu (gorilla/websocket допускает
//   только одного писателя)
//
// Каждое соединение обслуживается своей парой readPump/pingPump.
// Разрыв обрабатывается один раз: handleDisconnect сравнивает conn
// с текущим и игнорирует устаревшие уведомления.
type WSReconnectManager struct {
	venue  string
	wsURL  string
	config ReconnectConfig
	logger *zap.Logger

	conn    *websocket.Conn
	connMu  sync.RWMutex
	writeMu sync.Mutex

	state      int32 // atomic ConnState
	retryCount int32 // atomic

	closeChan chan struct{}
	closeOnce sync.Once

	onMessage    func([]byte)
	onConnect    func()
	onDisconnect func(error)
	resubscribe  func() [][]byte
	callbackMu   sync.RWMutex
}

// NewWSReconnectManager создаёт менеджер соединения
func NewWSReconnectManager(venue, wsURL string, config ReconnectConfig, logger *zap.Logger) *WSReconnectManager {
	config.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSReconnectManager{
		venue:     venue,
		wsURL:     wsURL,
		config:    config,
		logger:    logger.With(zap.String("venue", venue)),
		closeChan: make(chan struct{}),
	}
}

// SetOnMessage устанавливает callback для входящих кадров.
// Вызывается из readPump последовательно, в порядке получения.
func (m *WSReconnectManager) SetOnMessage(handler func([]byte)) {
	m.callbackMu.Lock()
	m.onMessage = handler
	m.callbackMu.Unlock()
}

// SetOnConnect устанавливает callback подключения (в т.ч. после reconnect)
func (m *WSReconnectManager) SetOnConnect(handler func()) {
	m.callbackMu.Lock()
	m.onConnect = handler
	m.callbackMu.Unlock()
}

// SetOnDisconnect устанавливает callback отключения
func (m *WSReconnectManager) SetOnDisconnect(handler func(error)) {
	m.callbackMu.Lock()
	m.onDisconnect = handler
	m.callbackMu.Unlock()
}

// SetResubscribe задаёт источник кадров подписки, отправляемых
// после каждого (пере)подключения
func (m *WSReconnectManager) SetResubscribe(provider func() [][]byte) {
	m.callbackMu.Lock()
	m.resubscribe = provider
	m.callbackMu.Unlock()
}

// GetState возвращает текущее состояние соединения
func (m *WSReconnectManager) GetState() ConnState {
	return ConnState(atomic.LoadInt32(&m.state))
}

// IsConnected проверяет, установлено ли соединение
func (m *WSReconnectManager) IsConnected() bool {
	return m.GetState() == StateConnected
}

// GetRetryCount возвращает текущее количество попыток переподключения
func (m *WSReconnectManager) GetRetryCount() int {
	return int(atomic.LoadInt32(&m.retryCount))
}

func (m *WSReconnectManager) isClosed() bool {
	select {
	case <-m.closeChan:
		return true
	default:
		return false
	}
}

// Connect устанавливает соединение. Уже подключённый менеджер - no-op.
func (m *WSReconnectManager) Connect(ctx context.Context) error {
	if m.isClosed() {
		return ErrManagerClosed
	}
	if !atomic.CompareAndSwapInt32(&m.state, int32(StateDisconnected), int32(StateConnecting)) {
		if m.IsConnected() {
			return nil
		}
		return fmt.Errorf("connect in progress (state: %s)", m.GetState())
	}

	conn, err := m.dial(ctx)
	if err != nil {
		atomic.StoreInt32(&m.state, int32(StateDisconnected))
		metrics.UpdateFeedStatus(m.venue, false)
		return err
	}

	m.established(conn)
	m.logger.Info("websocket connected", zap.String("url", m.wsURL))
	return nil
}

// dial подключается и отправляет кадры подписки
func (m *WSReconnectManager) dial(ctx context.Context) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, m.config.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: m.config.ConnectTimeout}
	conn, _, err := dialer.DialContext(ctx, m.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", m.wsURL, err)
	}

	m.callbackMu.RLock()
	provider := m.resubscribe
	m.callbackMu.RUnlock()

	if provider != nil {
		frames := provider()
		for _, frame := range frames {
			if err := m.writeTo(conn, websocket.TextMessage, frame); err != nil {
				conn.Close()
				return nil, fmt.Errorf("resubscribe: %w", err)
			}
		}
		if len(frames) > 0 {
			m.logger.Info("resubscribed", zap.Int("frames", len(frames)))
		}
	}

	return conn, nil
}

// established публикует соединение и запускает его обработчики
func (m *WSReconnectManager) established(conn *websocket.Conn) {
	m.connMu.Lock()
	m.conn = conn
	m.connMu.Unlock()

	atomic.StoreInt32(&m.state, int32(StateConnected))
	atomic.StoreInt32(&m.retryCount, 0)
	metrics.UpdateFeedStatus(m.venue, true)

	m.callbackMu.RLock()
	onConnect := m.onConnect
	m.callbackMu.RUnlock()
	if onConnect != nil {
		onConnect()
	}

	go m.readPump(conn)
	go m.pingPump(conn)
}

// readPump читает кадры одного соединения
func (m *WSReconnectManager) readPump(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			m.handleDisconnect(conn, err)
			return
		}

		m.callbackMu.RLock()
		onMessage := m.onMessage
		m.callbackMu.RUnlock()

		if onMessage != nil {
			onMessage(message)
		}
	}
}

// pingPump отправляет ping, пока соединение актуально
func (m *WSReconnectManager) pingPump(conn *websocket.Conn) {
	ticker := time.NewTicker(m.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.closeChan:
			return
		case <-ticker.C:
			if m.current() != conn {
				return
			}
			if err := m.writeTo(conn, websocket.PingMessage, nil); err != nil {
				m.logger.Warn("ping failed", zap.Error(err))
				m.handleDisconnect(conn, err)
				return
			}
		}
	}
}

func (m *WSReconnectManager) current() *websocket.Conn {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return m.conn
}

// handleDisconnect обрабатывает разрыв соединения conn
func (m *WSReconnectManager) handleDisconnect(conn *websocket.Conn, err error) {
	if m.isClosed() {
		return
	}

	m.connMu.Lock()
	if m.conn != conn {
		// уже обработано другим насосом
		m.connMu.Unlock()
		return
	}
	m.conn = nil
	m.connMu.Unlock()
	conn.Close()

	atomic.StoreInt32(&m.state, int32(StateReconnecting))
	metrics.UpdateFeedStatus(m.venue, false)

	m.callbackMu.RLock()
	onDisconnect := m.onDisconnect
	m.callbackMu.RUnlock()
	if onDisconnect != nil {
		onDisconnect(err)
	}

	m.logger.Warn("websocket disconnected", zap.Error(err))

	go m.reconnectLoop()
}

// reconnectLoop переподключается с exponential backoff
func (m *WSReconnectManager) reconnectLoop() {
	delay := m.config.InitialDelay

	for {
		if m.isClosed() {
			return
		}

		attempt := atomic.AddInt32(&m.retryCount, 1)
		if m.config.MaxRetries > 0 && int(attempt) > m.config.MaxRetries {
			m.logger.Error("max reconnect attempts reached", zap.Int("max_retries", m.config.MaxRetries))
			atomic.StoreInt32(&m.state, int32(StateDisconnected))
			return
		}

		m.logger.Info("reconnecting",
			zap.Duration("delay", delay),
			zap.Int32("attempt", attempt),
		)

		timer := time.NewTimer(delay)
		select {
		case <-m.closeChan:
			timer.Stop()
			return
		case <-timer.C:
		}

		conn, err := m.dial(context.Background())
		if err != nil {
			metrics.RecordReconnect(m.venue, false)
			m.logger.Warn("reconnect failed", zap.Error(err))

			delay *= 2
			if delay > m.config.MaxDelay {
				delay = m.config.MaxDelay
			}
			continue
		}

		if m.isClosed() {
			conn.Close()
			return
		}

		metrics.RecordReconnect(m.venue, true)
		m.established(conn)
		m.logger.Info("websocket reconnected")
		return
	}
}

// Send отправляет текстовый кадр
func (m *WSReconnectManager) Send(frame []byte) error {
	if m.GetState() != StateConnected {
		return fmt.Errorf("not connected (state: %s)", m.GetState())
	}
	conn := m.current()
	if conn == nil {
		return errors.New("no connection")
	}
	return m.writeTo(conn, websocket.TextMessage, frame)
}

func (m *WSReconnectManager) writeTo(conn *websocket.Conn, messageType int, data []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(m.config.WriteTimeout))
	return conn.WriteMessage(messageType, data)
}

// Close закрывает соединение и останавливает переподключение
func (m *WSReconnectManager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.closeChan)
		atomic.StoreInt32(&m.state, int32(StateClosed))
		metrics.UpdateFeedStatus(m.venue, false)

		m.connMu.Lock()
		conn := m.conn
		m.conn = nil
		m.connMu.Unlock()

		if conn != nil {
			m.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			m.writeMu.Unlock()
			err = conn.Close()
		}
	})
	return err
}
