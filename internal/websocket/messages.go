package websocket

import (
	"strings"
	"time"

	"quanttrade/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypePrice - последняя цена символа, на каждом тике фида
	MessageTypePrice MessageType = "price"

	// MessageTypeOrderUpdate - изменение статуса ордера
	MessageTypeOrderUpdate MessageType = "order_update"

	// MessageTypeFill - исполнение вместе с ордером и позицией
	MessageTypeFill MessageType = "fill"

	// MessageTypeRiskAlert - новый алерт риск-монитора
	MessageTypeRiskAlert MessageType = "risk_alert"

	// MessageTypeSubscribed - подтверждение команды клиента, data = текущий фильтр
	MessageTypeSubscribed MessageType = "subscribed"

	// MessageTypeError - ошибка разбора команды клиента
	MessageTypeError MessageType = "error"
)

// StreamMessage - сообщение потока
type StreamMessage struct {
	Type      MessageType `json:"type"`
	Symbol    string      `json:"symbol,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`

	// владелец данных; пусто - сообщение для всех
	userID string
}

// ClientCommand - команда клиента изменить фильтр символов
//
//	{"action": "subscribe", "symbols": ["BTCUSDT"]}
//	{"action": "unsubscribe", "symbols": ["BTCUSDT"]}
//
// Пустой фильтр означает "все символы".
type ClientCommand struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// NewStreamMessage превращает событие ядра в сообщение потока
func NewStreamMessage(event models.Event) (*StreamMessage, bool) {
	msg := &StreamMessage{Timestamp: event.Timestamp, Data: event.Payload}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	switch p := event.Payload.(type) {
	case models.PriceEntry:
		msg.Type = MessageTypePrice
		msg.Symbol = p.Symbol
	case models.Order:
		msg.Type = MessageTypeOrderUpdate
		msg.Symbol = p.Symbol
		msg.userID = p.UserID
	case models.FillEvent:
		msg.Type = MessageTypeFill
		msg.Symbol = p.Fill.Symbol
		msg.userID = p.Fill.UserID
	case models.RiskAlert:
		msg.Type = MessageTypeRiskAlert
		msg.Symbol = p.Symbol
		msg.userID = p.UserID
	default:
		return nil, false
	}
	return msg, true
}

// ErrorMessage - ответ клиенту на некорректную команду
func ErrorMessage(text string) *StreamMessage {
	return &StreamMessage{
		Type:      MessageTypeError,
		Timestamp: time.Now().UTC(),
		Data:      map[string]string{"error": text},
	}
}

// SubscribedMessage - подтверждение фильтра
func SubscribedMessage(symbols []string) *StreamMessage {
	if symbols == nil {
		symbols = []string{}
	}
	return &StreamMessage{
		Type:      MessageTypeSubscribed,
		Timestamp: time.Now().UTC(),
		Data:      map[string][]string{"symbols": symbols},
	}
}

// parseSymbols разбирает "BTCUSDT, ethusdt" из query-параметра
func parseSymbols(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
