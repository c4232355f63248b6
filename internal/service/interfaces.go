package service

import (
	"context"

	"quanttrade/internal/ledger"
	"quanttrade/internal/marketdata"
	"quanttrade/internal/models"
	"quanttrade/internal/risk"
	"quanttrade/internal/trading"
)

// ============ Зависимости сервисов (ядро) ============

// OrderRouter - операции роутера ордеров
type OrderRouter interface {
	Submit(ctx context.Context, req models.OrderRequest) (*models.Order, error)
	Cancel(ctx context.Context, orderID string) (*models.Order, error)
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListOrders(ctx context.Context, filter trading.OrderFilter) ([]*models.Order, error)
	Fills(ctx context.Context, orderID string) ([]models.Fill, error)
}

// PositionReader - чтение позиций из ledger
type PositionReader interface {
	Positions(userID string) []models.Position
}

// RiskMonitor - операции риск-монитора
type RiskMonitor interface {
	PositionRisk(userID string) models.PositionRisk
	ListAlerts(ctx context.Context, filter risk.AlertFilter) ([]*models.RiskAlert, error)
	AcknowledgeAlert(ctx context.Context, id string) (*models.RiskAlert, error)
}

// StrategySwitch - включение и отключение стратегий и пользователей
type StrategySwitch interface {
	Disable(strategyID, reason string)
	Enable(strategyID string) bool
	DisableUser(userID, reason string)
	EnableUser(userID string) bool
	Disabled() []risk.DisabledEntry
}

// MarketFeed - операции фида рыночных данных
type MarketFeed interface {
	Subscribe(ctx context.Context, symbols []string, marketType models.MarketType) error
	Unsubscribe(ctx context.Context, symbols []string) error
	Subscriptions() []string
	GetLatestPrice(symbol string) (models.PriceEntry, error)
	GetKlines(symbol string, limit int) ([]models.Kline, error)
	GetOrderBook(symbol string) (models.OrderBookSnapshot, error)
}

// Проверяем, что компоненты ядра реализуют интерфейсы
var _ OrderRouter = (*trading.Router)(nil)
var _ PositionReader = (*ledger.Ledger)(nil)
var _ RiskMonitor = (*risk.Monitor)(nil)
var _ StrategySwitch = (*risk.StrategyGuard)(nil)
var _ MarketFeed = (*marketdata.Feed)(nil)

// ============ Интерфейсы сервисов для Dependency Injection ============

// OrderServiceInterface определяет интерфейс сервиса ордеров
type OrderServiceInterface interface {
	SubmitOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error)
	CancelOrder(ctx context.Context, userID, orderID string) (*models.Order, error)
	GetOrder(ctx context.Context, userID, orderID string) (*models.Order, error)
	ListOrders(ctx context.Context, filter trading.OrderFilter) ([]*models.Order, error)
	GetFills(ctx context.Context, userID, orderID string) ([]models.Fill, error)
	GetPositions(userID string) []models.Position
}

// MarketServiceInterface определяет интерфейс сервиса рыночных данных
type MarketServiceInterface interface {
	Subscribe(ctx context.Context, req SubscribeRequest) ([]string, error)
	Unsubscribe(ctx context.Context, req SubscribeRequest) ([]string, error)
	GetPrice(symbol string) (models.PriceEntry, error)
	GetKlines(symbol string, limit int) ([]models.Kline, error)
	GetOrderBook(symbol string) (models.OrderBookSnapshot, error)
}

// RiskServiceInterface определяет интерфейс сервиса рисков
type RiskServiceInterface interface {
	GetPositionRisk(userID string) models.PositionRisk
	GetLimits() models.RiskLimits
	ListRules(ctx context.Context) ([]*models.RiskRule, error)
	GetRule(ctx context.Context, id string) (*models.RiskRule, error)
	CreateRule(ctx context.Context, req CreateRuleRequest) (*models.RiskRule, error)
	UpdateRule(ctx context.Context, id string, req UpdateRuleRequest) (*models.RiskRule, error)
	DeleteRule(ctx context.Context, id string) error
	ListAlerts(ctx context.Context, filter risk.AlertFilter) ([]*models.RiskAlert, error)
	AcknowledgeAlert(ctx context.Context, id string) (*models.RiskAlert, error)
	EnableStrategy(strategyID string) bool
	DisableStrategy(strategyID, reason string) error
	DisabledStrategies() []risk.DisabledEntry
	EnableUser(userID string) bool
	DisableUser(userID, reason string) error
	DisabledUsers() []risk.DisabledEntry
}

var _ OrderServiceInterface = (*OrderService)(nil)
var _ MarketServiceInterface = (*MarketService)(nil)
var _ RiskServiceInterface = (*RiskService)(nil)
