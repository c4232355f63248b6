package risk

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"quanttrade/internal/metrics"
	"quanttrade/internal/models"
)

// Имена проверок риск-гейта (в порядке выполнения)
const (
	CheckPriceAvailability = "price_availability"
	CheckPositionValue     = "max_position_value"
	CheckLeverage          = "max_leverage"
	CheckConcentration     = "max_concentration"
	CheckPriceDeviation    = "max_price_deviation"
	CheckDailyLoss         = "max_daily_loss"
)

// Input - согласованный снимок для проверки одного ордера
//
// Позиция - копия из ledger, цена - из кеша фида, equity и стоимость
// портфеля посчитаны вызывающим на тот же момент.
type Input struct {
	UserID     string
	Symbol     string
	Side       models.OrderSide
	Type       models.OrderType
	Quantity   decimal.Decimal
	LimitPrice decimal.Decimal
	StopPrice  decimal.Decimal

	Position    models.Position
	MarketPrice decimal.Decimal // ноль = цены нет

	Equity         decimal.Decimal
	PortfolioValue decimal.Decimal
	DailyRealized  decimal.Decimal
}

// Gate - предторговый риск-гейт
//
// Без состояния кроме лимитов; проверки идут по порядку,
// первое нарушение отклоняет ордер.
type Gate struct {
	mu     sync.RWMutex
	limits models.RiskLimits
	logger *zap.Logger
}

// LimitsFromConfig собирает лимиты гейта
func LimitsFromConfig(maxPositionValue, maxLeverage, maxConcentration, maxPriceDeviation, maxDailyLoss decimal.Decimal) models.RiskLimits {
	return models.RiskLimits{
		MaxPositionValue:  maxPositionValue,
		MaxLeverage:       maxLeverage,
		MaxConcentration:  maxConcentration,
		MaxPriceDeviation: maxPriceDeviation,
		MaxDailyLoss:      maxDailyLoss,
	}
}

// NewGate создаёт риск-гейт
func NewGate(limits models.RiskLimits, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{limits: limits, logger: logger.Named("risk_gate")}
}

// Limits возвращает текущие лимиты
func (g *Gate) Limits() models.RiskLimits {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.limits
}

// SetLimits заменяет лимиты (применяется к следующим ордерам)
func (g *Gate) SetLimits(limits models.RiskLimits) {
	g.mu.Lock()
	g.limits = limits
	g.mu.Unlock()
	g.logger.Info("risk limits updated",
		zap.Stringer("max_position_value", limits.MaxPositionValue),
		zap.Stringer("max_leverage", limits.MaxLeverage),
	)
}

// Evaluate проверяет ордер
//
//  1. есть цена
//  2. |pos ± qty| * price <= max_position_value
//  3. order_value / equity <= max_leverage
//  4. order_value / (portfolio + order_value) <= max_concentration
//  5. для LIMIT/STOP: |order_price - market| / market <= max_price_deviation
//  6. дневной реализованный убыток не превышает max_daily_loss
func (g *Gate) Evaluate(in Input) models.RiskCheckResult {
	limits := g.Limits()

	for _, check := range []func(models.RiskLimits, Input) models.RiskCheckResult{
		checkPrice,
		checkPositionValue,
		checkLeverage,
		checkConcentration,
		checkPriceDeviation,
		checkDailyLoss,
	} {
		if res := check(limits, in); !res.Passed {
			metrics.RecordRiskRejection(res.Check)
			g.logger.Info("order rejected by risk gate",
				zap.String("user_id", in.UserID),
				zap.String("symbol", in.Symbol),
				zap.String("check", res.Check),
				zap.String("reason", res.Reason),
			)
			return res
		}
	}
	return models.RiskCheckResult{Passed: true}
}

func pass() models.RiskCheckResult { return models.RiskCheckResult{Passed: true} }

func reject(check, format string, args ...interface{}) models.RiskCheckResult {
	return models.RiskCheckResult{Check: check, Reason: fmt.Sprintf(format, args...)}
}

func checkPrice(_ models.RiskLimits, in Input) models.RiskCheckResult {
	if !in.MarketPrice.IsPositive() {
		return reject(CheckPriceAvailability, "no market price for %s", in.Symbol)
	}
	return pass()
}

func checkPositionValue(l models.RiskLimits, in Input) models.RiskCheckResult {
	projected := in.Position.Quantity.Add(in.Side.Sign().Mul(in.Quantity))
	value := projected.Abs().Mul(in.MarketPrice)
	if value.GreaterThan(l.MaxPositionValue) {
		return reject(CheckPositionValue, "position value %s exceeds limit %s",
			value.StringFixed(2), l.MaxPositionValue.String())
	}
	return pass()
}

func checkLeverage(l models.RiskLimits, in Input) models.RiskCheckResult {
	if !in.Equity.IsPositive() {
		return reject(CheckLeverage, "non-positive equity %s", in.Equity.StringFixed(2))
	}
	leverage := in.Quantity.Mul(in.MarketPrice).Div(in.Equity)
	if leverage.GreaterThan(l.MaxLeverage) {
		return reject(CheckLeverage, "leverage %s exceeds limit %s",
			leverage.StringFixed(4), l.MaxLeverage.String())
	}
	return pass()
}

func checkConcentration(l models.RiskLimits, in Input) models.RiskCheckResult {
	orderValue := in.Quantity.Mul(in.MarketPrice)
	total := in.PortfolioValue.Add(orderValue)
	if !total.IsPositive() {
		return pass()
	}
	ratio := orderValue.Div(total)
	if ratio.GreaterThan(l.MaxConcentration) {
		return reject(CheckConcentration, "concentration %s exceeds limit %s",
			ratio.StringFixed(4), l.MaxConcentration.String())
	}
	return pass()
}

func checkPriceDeviation(l models.RiskLimits, in Input) models.RiskCheckResult {
	var orderPrice decimal.Decimal
	switch {
	case in.Type.RequiresLimitPrice():
		orderPrice = in.LimitPrice
	case in.Type.RequiresStopPrice():
		orderPrice = in.StopPrice
	default:
		return pass()
	}

	deviation := orderPrice.Sub(in.MarketPrice).Abs().Div(in.MarketPrice)
	if deviation.GreaterThan(l.MaxPriceDeviation) {
		return reject(CheckPriceDeviation, "price deviation %s exceeds limit %s",
			deviation.StringFixed(4), l.MaxPriceDeviation.String())
	}
	return pass()
}

func checkDailyLoss(l models.RiskLimits, in Input) models.RiskCheckResult {
	if !l.MaxDailyLoss.IsPositive() {
		return pass()
	}
	if in.DailyRealized.Neg().GreaterThanOrEqual(l.MaxDailyLoss) {
		return reject(CheckDailyLoss, "daily loss %s reached limit %s",
			in.DailyRealized.Neg().StringFixed(2), l.MaxDailyLoss.String())
	}
	return pass()
}
