package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position - чистая позиция пользователя по символу
//
// Quantity со знаком: > 0 лонг, < 0 шорт.
// Уникальна по (UserID, Symbol).
type Position struct {
	UserID       string          `json:"user_id" db:"user_id"`
	Symbol       string          `json:"symbol" db:"symbol"`
	Quantity     decimal.Decimal `json:"quantity" db:"quantity"`
	AveragePrice decimal.Decimal `json:"average_price" db:"average_price"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
	LastUpdate   time.Time       `json:"last_update" db:"last_update"`
}

// PositionKey - ключ позиции
type PositionKey struct {
	UserID string
	Symbol string
}

// String используется для хеширования ключа по шардам
func (k PositionKey) String() string {
	return k.UserID + "|" + k.Symbol
}

// Key возвращает ключ позиции
func (p *Position) Key() PositionKey {
	return PositionKey{UserID: p.UserID, Symbol: p.Symbol}
}

// IsFlat - позиция закрыта
func (p *Position) IsFlat() bool {
	return p.Quantity.IsZero()
}

// IsLong - длинная позиция
func (p *Position) IsLong() bool {
	return p.Quantity.IsPositive()
}

// IsShort - короткая позиция
func (p *Position) IsShort() bool {
	return p.Quantity.IsNegative()
}

// MarketValue возвращает |qty| * price
func (p *Position) MarketValue(price decimal.Decimal) decimal.Decimal {
	return p.Quantity.Abs().Mul(price)
}

// UnrealizedPnL возвращает (price - avg) * qty, знак qty учитывает направление
func (p *Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	return price.Sub(p.AveragePrice).Mul(p.Quantity)
}
