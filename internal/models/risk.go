package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskLimits - лимиты, проверяемые риск-гейтом на каждом ордере
type RiskLimits struct {
	MaxPositionValue  decimal.Decimal `json:"max_position_value"`
	MaxLeverage       decimal.Decimal `json:"max_leverage"`
	MaxConcentration  decimal.Decimal `json:"max_concentration"`
	MaxPriceDeviation decimal.Decimal `json:"max_price_deviation"`
	MaxDailyLoss      decimal.Decimal `json:"max_daily_loss"` // 0 = без лимита
}

// RuleType - что измеряет правило
type RuleType string

const (
	RuleTypePosition  RuleType = "position"   // размер позиции, abs(quantity)
	RuleTypeDrawdown  RuleType = "drawdown"   // просадка позиции от пика
	RuleTypeVaR       RuleType = "var"        // VaR-95 / equity
	RuleTypeDailyLoss RuleType = "daily_loss" // дневной убыток
)

// RuleAction - реакция на срабатывание правила
type RuleAction string

const (
	ActionClosePosition RuleAction = "close_position"
	ActionStopStrategy  RuleAction = "stop_strategy"
	ActionAlertOnly     RuleAction = "alert_only"
)

// RiskRule - правило периодической проверки
//
// Пустые UserID / StrategyID означают "для всех".
type RiskRule struct {
	ID         string          `json:"id" db:"id"`
	Name       string          `json:"name" db:"name" validate:"required,max=128"`
	Type       RuleType        `json:"type" db:"type" validate:"required,oneof=position drawdown var daily_loss"`
	Threshold  decimal.Decimal `json:"threshold" db:"threshold"`
	Action     RuleAction      `json:"action" db:"action" validate:"required,oneof=close_position stop_strategy alert_only"`
	UserID     string          `json:"user_id,omitempty" db:"user_id"`
	StrategyID string          `json:"strategy_id,omitempty" db:"strategy_id"`
	Enabled    bool            `json:"enabled" db:"enabled"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}

// AppliesTo проверяет, относится ли правило к пользователю
func (r *RiskRule) AppliesTo(userID string) bool {
	return r.UserID == "" || r.UserID == userID
}

// AlertLevel - уровень серьёзности алерта
type AlertLevel string

const (
	AlertLow     AlertLevel = "LOW"
	AlertMedium  AlertLevel = "MEDIUM"
	AlertHigh    AlertLevel = "HIGH"
	AlertExtreme AlertLevel = "EXTREME"
)

// Rank возвращает порядковый номер уровня (для сравнения)
func (l AlertLevel) Rank() int {
	switch l {
	case AlertMedium:
		return 1
	case AlertHigh:
		return 2
	case AlertExtreme:
		return 3
	default:
		return 0
	}
}

// RiskAlert - запись о нарушении. Журнал только на добавление,
// изменяется лишь флаг Acknowledged действием оператора.
type RiskAlert struct {
	ID             string          `json:"id" db:"id"`
	RuleID         string          `json:"rule_id" db:"rule_id"`
	UserID         string          `json:"user_id" db:"user_id"`
	StrategyID     string          `json:"strategy_id,omitempty" db:"strategy_id"`
	Symbol         string          `json:"symbol,omitempty" db:"symbol"`
	OrderID        string          `json:"order_id,omitempty" db:"order_id"`
	Level          AlertLevel      `json:"level" db:"level"`
	Action         RuleAction      `json:"action" db:"action"`
	Message        string          `json:"message" db:"message"`
	Value          decimal.Decimal `json:"value" db:"value"`
	Threshold      decimal.Decimal `json:"threshold" db:"threshold"`
	Acknowledged   bool            `json:"acknowledged" db:"acknowledged"`
	AcknowledgedAt *time.Time      `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Системные идентификаторы правил для алертов, не порождённых RiskRule
const (
	RuleIDInconsistency = "system:inconsistency"
	RuleIDLiquidation   = "system:liquidation"
)

// RiskCheckResult - результат риск-гейта
type RiskCheckResult struct {
	Passed bool   `json:"passed"`
	Check  string `json:"check,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// PositionExposure - риск одной позиции
type PositionExposure struct {
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity"`
	AveragePrice  decimal.Decimal `json:"average_price"`
	MarkPrice     decimal.Decimal `json:"mark_price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	Drawdown      decimal.Decimal `json:"drawdown"`
	Stale         bool            `json:"stale"`
}

// PositionRisk - агрегированные метрики риска пользователя
type PositionRisk struct {
	UserID             string             `json:"user_id"`
	Equity             decimal.Decimal    `json:"equity"`
	PositionValue      decimal.Decimal    `json:"position_value"`
	Leverage           decimal.Decimal    `json:"leverage"`
	MarginRatio        decimal.Decimal    `json:"margin_ratio"`
	ConcentrationRatio decimal.Decimal    `json:"concentration_ratio"`
	UnrealizedPnL      decimal.Decimal    `json:"unrealized_pnl"`
	RealizedPnL        decimal.Decimal    `json:"realized_pnl"`
	DailyPnL           decimal.Decimal    `json:"daily_pnl"`
	VaR95              decimal.Decimal    `json:"var_95"`
	MaxDrawdown        decimal.Decimal    `json:"max_drawdown"`
	Volatility         decimal.Decimal    `json:"volatility"`
	Positions          []PositionExposure `json:"positions"`
	Timestamp          time.Time          `json:"timestamp"`
}
