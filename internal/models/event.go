package models

import "time"

// EventType - тип исходящего события ядра
type EventType string

const (
	EventOrderUpdate EventType = "order_update"
	EventFill        EventType = "fill"
	EventRiskAlert   EventType = "risk_alert"
	EventPrice       EventType = "price"
)

// FillEvent - исполнение вместе с результатом для ордера и позиции
type FillEvent struct {
	Fill     Fill     `json:"fill"`
	Order    Order    `json:"order"`
	Position Position `json:"position"`
}

// Event - конверт для публикации во внешние брокеры (Kafka, Redis Streams)
type Event struct {
	Type      EventType   `json:"type"`
	Key       string      `json:"key"` // ключ партиционирования
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}
