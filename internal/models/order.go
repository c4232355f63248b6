package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide - направление ордера
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// Opposite возвращает противоположное направление
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Sign возвращает +1 для BUY и -1 для SELL
func (s OrderSide) Sign() decimal.Decimal {
	if s == SideBuy {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(-1)
}

// OrderType - тип ордера
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStop      OrderType = "STOP"
	OrderTypeStopLimit OrderType = "STOP_LIMIT"
)

// RequiresLimitPrice - LIMIT и STOP_LIMIT требуют limit_price
func (t OrderType) RequiresLimitPrice() bool {
	return t == OrderTypeLimit || t == OrderTypeStopLimit
}

// RequiresStopPrice - STOP и STOP_LIMIT требуют stop_price
func (t OrderType) RequiresStopPrice() bool {
	return t == OrderTypeStop || t == OrderTypeStopLimit
}

// TimeInForce - срок действия ордера
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

// OrderStatus - статус жизненного цикла ордера
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPartial   OrderStatus = "PARTIAL"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
)

// IsTerminal - ордер больше не может изменяться
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusRejected
}

// Order - ордер пользователя
//
// Создаётся роутером при submit, изменяется только переходами state machine.
// Никогда не удаляется: терминальные статусы FILLED / CANCELLED / REJECTED.
// Нулевые LimitPrice / StopPrice означают отсутствие значения.
type Order struct {
	ID             string          `json:"id" db:"id"`
	ClientOrderID  string          `json:"client_order_id,omitempty" db:"client_order_id"`
	UserID         string          `json:"user_id" db:"user_id"`
	StrategyID     string          `json:"strategy_id,omitempty" db:"strategy_id"`
	Symbol         string          `json:"symbol" db:"symbol"`
	Side           OrderSide       `json:"side" db:"side"`
	Type           OrderType       `json:"type" db:"type"`
	Quantity       decimal.Decimal `json:"quantity" db:"quantity"`
	LimitPrice     decimal.Decimal `json:"limit_price" db:"limit_price"`
	StopPrice      decimal.Decimal `json:"stop_price" db:"stop_price"`
	TimeInForce    TimeInForce     `json:"time_in_force" db:"time_in_force"`
	Status         OrderStatus     `json:"status" db:"status"`
	FilledQuantity decimal.Decimal `json:"filled_quantity" db:"filled_quantity"`
	AvgFillPrice   decimal.Decimal `json:"avg_fill_price" db:"avg_fill_price"`
	Commission     decimal.Decimal `json:"commission" db:"commission"`
	Triggered      bool            `json:"triggered" db:"triggered"`       // стоп сработал
	Inconsistent   bool            `json:"inconsistent" db:"inconsistent"` // не удалось сохранить исполнение
	Liquidation    bool            `json:"liquidation" db:"liquidation"`   // принудительное закрытие позиции
	RejectReason   string          `json:"reject_reason,omitempty" db:"reject_reason"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// Remaining возвращает неисполненный остаток
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// IsCancellable - отменить можно только PENDING и PARTIAL
func (o *Order) IsCancellable() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusPartial
}

// EffectiveType возвращает тип, по которому ордер исполняется сейчас.
// Сработавший STOP ведёт себя как MARKET, STOP_LIMIT - как LIMIT.
func (o *Order) EffectiveType() OrderType {
	if !o.Triggered {
		return o.Type
	}
	switch o.Type {
	case OrderTypeStop:
		return OrderTypeMarket
	case OrderTypeStopLimit:
		return OrderTypeLimit
	default:
		return o.Type
	}
}

// Clone возвращает независимую копию
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	return &c
}

// OrderRequest - входящий запрос на размещение ордера
type OrderRequest struct {
	ClientOrderID string          `json:"client_order_id" validate:"omitempty,max=64"`
	UserID        string          `json:"user_id" validate:"required,max=64"`
	StrategyID    string          `json:"strategy_id" validate:"omitempty,max=64"`
	Symbol        string          `json:"symbol" validate:"required,max=32"`
	Side          OrderSide       `json:"side" validate:"required,oneof=BUY SELL"`
	Type          OrderType       `json:"type" validate:"required,oneof=MARKET LIMIT STOP STOP_LIMIT"`
	Quantity      decimal.Decimal `json:"quantity"`
	LimitPrice    decimal.Decimal `json:"limit_price"`
	StopPrice     decimal.Decimal `json:"stop_price"`
	TimeInForce   TimeInForce     `json:"time_in_force" validate:"omitempty,oneof=GTC IOC FOK"`
}

// Fill - исполнение (сделка) по ордеру. Неизменяемо после создания.
type Fill struct {
	ID         string          `json:"id" db:"id"`
	OrderID    string          `json:"order_id" db:"order_id"`
	UserID     string          `json:"user_id" db:"user_id"`
	Symbol     string          `json:"symbol" db:"symbol"`
	Side       OrderSide       `json:"side" db:"side"`
	Quantity   decimal.Decimal `json:"quantity" db:"quantity"`
	Price      decimal.Decimal `json:"price" db:"price"`
	Commission decimal.Decimal `json:"commission" db:"commission"`
	Timestamp  time.Time       `json:"timestamp" db:"timestamp"`
}

// Notional возвращает объём сделки в деньгах
func (f *Fill) Notional() decimal.Decimal {
	return f.Quantity.Mul(f.Price)
}
