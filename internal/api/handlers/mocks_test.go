package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"quanttrade/internal/models"
	"quanttrade/internal/risk"
	"quanttrade/internal/service"
	"quanttrade/internal/trading"
)

// ErrMockDatabase - ошибка хранилища для тестов 500
var ErrMockDatabase = errors.New("mock database error")

// ============ Mock Order Service ============

// MockOrderService мок для OrderServiceInterface
type MockOrderService struct {
	mu        sync.Mutex
	orders    map[string]*models.Order
	fills     map[string][]models.Fill
	positions map[string][]models.Position

	submitErr  error
	listErr    error
	lastSubmit models.OrderRequest
	lastFilter trading.OrderFilter
}

func NewMockOrderService() *MockOrderService {
	return &MockOrderService{
		orders:    make(map[string]*models.Order),
		fills:     make(map[string][]models.Fill),
		positions: make(map[string][]models.Position),
	}
}

func (m *MockOrderService) SubmitOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSubmit = req
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	order := &models.Order{
		ID:        "o-" + req.Symbol,
		UserID:    req.UserID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Quantity:  req.Quantity,
		Status:    models.OrderStatusPending,
		CreatedAt: time.Now(),
	}
	m.orders[order.ID] = order
	return order, nil
}

func (m *MockOrderService) get(userID, orderID string) (*models.Order, error) {
	order, ok := m.orders[orderID]
	if !ok || (userID != "" && order.UserID != userID) {
		return nil, models.ErrOrderNotFound
	}
	return order, nil
}

func (m *MockOrderService) CancelOrder(ctx context.Context, userID, orderID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, err := m.get(userID, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status.IsTerminal() {
		return nil, models.ErrNotCancellable
	}
	order.Status = models.OrderStatusCancelled
	return order, nil
}

func (m *MockOrderService) GetOrder(ctx context.Context, userID, orderID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(userID, orderID)
}

func (m *MockOrderService) ListOrders(ctx context.Context, filter trading.OrderFilter) ([]*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFilter = filter
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*models.Order
	for _, o := range m.orders {
		if filter.Match(o) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *MockOrderService) GetFills(ctx context.Context, userID, orderID string) ([]models.Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.get(userID, orderID); err != nil {
		return nil, err
	}
	return m.fills[orderID], nil
}

func (m *MockOrderService) GetPositions(userID string) []models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.positions[userID]; p != nil {
		return p
	}
	return []models.Position{}
}

// ============ Mock Market Service ============

// MockMarketService мок для MarketServiceInterface
type MockMarketService struct {
	subs      []string
	prices    map[string]models.PriceEntry
	lastLimit int
	err       error
}

func NewMockMarketService() *MockMarketService {
	return &MockMarketService{prices: make(map[string]models.PriceEntry)}
}

func (m *MockMarketService) Subscribe(ctx context.Context, req service.SubscribeRequest) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.subs = append(m.subs, req.Symbols...)
	return m.subs, nil
}

func (m *MockMarketService) Unsubscribe(ctx context.Context, req service.SubscribeRequest) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.subs = nil
	return m.subs, nil
}

func (m *MockMarketService) GetPrice(symbol string) (models.PriceEntry, error) {
	p, ok := m.prices[symbol]
	if !ok {
		return models.PriceEntry{}, models.ErrNotAvailable
	}
	return p, nil
}

func (m *MockMarketService) GetKlines(symbol string, limit int) ([]models.Kline, error) {
	m.lastLimit = limit
	return nil, m.err
}

func (m *MockMarketService) GetOrderBook(symbol string) (models.OrderBookSnapshot, error) {
	if m.err != nil {
		return models.OrderBookSnapshot{}, m.err
	}
	return models.OrderBookSnapshot{Symbol: symbol}, nil
}

// ============ Mock Risk Service ============

// MockRiskService мок для RiskServiceInterface
type MockRiskService struct {
	rules         map[string]*models.RiskRule
	alerts        map[string]*models.RiskAlert
	disabled      map[string]string
	disabledUsers map[string]string
	lastFilter    risk.AlertFilter
	createErr     error
}

func NewMockRiskService() *MockRiskService {
	return &MockRiskService{
		rules:         make(map[string]*models.RiskRule),
		alerts:        make(map[string]*models.RiskAlert),
		disabled:      make(map[string]string),
		disabledUsers: make(map[string]string),
	}
}

func (m *MockRiskService) GetPositionRisk(userID string) models.PositionRisk {
	return models.PositionRisk{UserID: userID, Equity: decimal.NewFromInt(1000)}
}

func (m *MockRiskService) GetLimits() models.RiskLimits {
	return models.RiskLimits{MaxLeverage: decimal.NewFromInt(3)}
}

func (m *MockRiskService) ListRules(ctx context.Context) ([]*models.RiskRule, error) {
	var out []*models.RiskRule
	for _, r := range m.rules {
		out = append(out, r)
	}
	return out, nil
}

func (m *MockRiskService) GetRule(ctx context.Context, id string) (*models.RiskRule, error) {
	r, ok := m.rules[id]
	if !ok {
		return nil, models.ErrRuleNotFound
	}
	return r, nil
}

func (m *MockRiskService) CreateRule(ctx context.Context, req service.CreateRuleRequest) (*models.RiskRule, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	rule := &models.RiskRule{ID: "r1", Name: req.Name, Type: req.Type, Threshold: req.Threshold, Action: req.Action, Enabled: true}
	m.rules[rule.ID] = rule
	return rule, nil
}

func (m *MockRiskService) UpdateRule(ctx context.Context, id string, req service.UpdateRuleRequest) (*models.RiskRule, error) {
	r, ok := m.rules[id]
	if !ok {
		return nil, models.ErrRuleNotFound
	}
	if req.Enabled != nil {
		r.Enabled = *req.Enabled
	}
	if req.Threshold != nil {
		r.Threshold = *req.Threshold
	}
	return r, nil
}

func (m *MockRiskService) DeleteRule(ctx context.Context, id string) error {
	if _, ok := m.rules[id]; !ok {
		return models.ErrRuleNotFound
	}
	delete(m.rules, id)
	return nil
}

func (m *MockRiskService) ListAlerts(ctx context.Context, filter risk.AlertFilter) ([]*models.RiskAlert, error) {
	m.lastFilter = filter
	out := []*models.RiskAlert{}
	for _, a := range m.alerts {
		if filter.Match(a) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *MockRiskService) AcknowledgeAlert(ctx context.Context, id string) (*models.RiskAlert, error) {
	a, ok := m.alerts[id]
	if !ok {
		return nil, models.ErrAlertNotFound
	}
	a.Acknowledged = true
	return a, nil
}

func (m *MockRiskService) EnableStrategy(strategyID string) bool {
	_, ok := m.disabled[strategyID]
	delete(m.disabled, strategyID)
	return ok
}

func (m *MockRiskService) DisableStrategy(strategyID, reason string) error {
	if strategyID == "" {
		return models.NewValidationError("strategy_id", "is required")
	}
	if reason == "" {
		reason = "disabled by operator"
	}
	m.disabled[strategyID] = reason
	return nil
}

func (m *MockRiskService) DisabledStrategies() []risk.DisabledEntry {
	out := []risk.DisabledEntry{}
	for k, reason := range m.disabled {
		out = append(out, risk.DisabledEntry{Key: k, Reason: reason})
	}
	return out
}

func (m *MockRiskService) EnableUser(userID string) bool {
	_, ok := m.disabledUsers[userID]
	delete(m.disabledUsers, userID)
	return ok
}

func (m *MockRiskService) DisableUser(userID, reason string) error {
	if userID == "" {
		return models.NewValidationError("user_id", "is required")
	}
	if reason == "" {
		reason = "disabled by operator"
	}
	m.disabledUsers[userID] = reason
	return nil
}

func (m *MockRiskService) DisabledUsers() []risk.DisabledEntry {
	out := []risk.DisabledEntry{}
	for k, reason := range m.disabledUsers {
		out = append(out, risk.DisabledEntry{Scope: risk.ScopeUser, Key: k, Reason: reason})
	}
	return out
}

var _ service.OrderServiceInterface = (*MockOrderService)(nil)
var _ service.MarketServiceInterface = (*MockMarketService)(nil)
var _ service.RiskServiceInterface = (*MockRiskService)(nil)
