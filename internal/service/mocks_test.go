package service

import (
	"context"
	"errors"
	"sync"

	"quanttrade/internal/models"
	"quanttrade/internal/risk"
	"quanttrade/internal/trading"
)

var ErrMockDatabase = errors.New("mock database error")

// ============ Mock OrderRouter ============

type MockRouter struct {
	mu        sync.Mutex
	orders    map[string]*models.Order
	fills     map[string][]models.Fill
	submitted []models.OrderRequest
	cancelled []string
	submitErr error
	cancelErr error
	lastList  trading.OrderFilter
}

func NewMockRouter() *MockRouter {
	return &MockRouter{
		orders: make(map[string]*models.Order),
		fills:  make(map[string][]models.Fill),
	}
}

func (m *MockRouter) Submit(ctx context.Context, req models.OrderRequest) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	m.submitted = append(m.submitted, req)
	o := &models.Order{ID: "o-new", UserID: req.UserID, Symbol: req.Symbol, Status: models.OrderStatusPending}
	m.orders[o.ID] = o
	return o, nil
}

func (m *MockRouter) Cancel(ctx context.Context, orderID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelErr != nil {
		return nil, m.cancelErr
	}
	o, ok := m.orders[orderID]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	m.cancelled = append(m.cancelled, orderID)
	o.Status = models.OrderStatusCancelled
	cp := *o
	return &cp, nil
}

func (m *MockRouter) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *MockRouter) ListOrders(ctx context.Context, filter trading.OrderFilter) ([]*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastList = filter
	var out []*models.Order
	for _, o := range m.orders {
		if filter.Match(o) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *MockRouter) Fills(ctx context.Context, orderID string) ([]models.Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fills[orderID], nil
}

// ============ Mock PositionReader ============

type MockPositions map[string][]models.Position

func (m MockPositions) Positions(userID string) []models.Position {
	return m[userID]
}

// ============ Mock RiskMonitor ============

type MockMonitor struct {
	risk       models.PositionRisk
	alerts     []*models.RiskAlert
	lastFilter risk.AlertFilter
	ackErr     error
}

func (m *MockMonitor) PositionRisk(userID string) models.PositionRisk {
	r := m.risk
	r.UserID = userID
	return r
}

func (m *MockMonitor) ListAlerts(ctx context.Context, filter risk.AlertFilter) ([]*models.RiskAlert, error) {
	m.lastFilter = filter
	return m.alerts, nil
}

func (m *MockMonitor) AcknowledgeAlert(ctx context.Context, id string) (*models.RiskAlert, error) {
	if m.ackErr != nil {
		return nil, m.ackErr
	}
	return &models.RiskAlert{ID: id, Acknowledged: true}, nil
}

// ============ Mock Limits ============

type MockLimits struct {
	limits models.RiskLimits
}

func (m MockLimits) Limits() models.RiskLimits { return m.limits }

// ============ Mock MarketFeed ============

type MockFeed struct {
	subs         map[string]models.MarketType
	subscribeErr error
	lastSymbols  []string
	prices       map[string]models.PriceEntry
	lastLimit    int
}

func NewMockFeed() *MockFeed {
	return &MockFeed{
		subs:   make(map[string]models.MarketType),
		prices: make(map[string]models.PriceEntry),
	}
}

func (m *MockFeed) Subscribe(ctx context.Context, symbols []string, marketType models.MarketType) error {
	m.lastSymbols = symbols
	if m.subscribeErr != nil {
		return m.subscribeErr
	}
	for _, s := range symbols {
		m.subs[s] = marketType
	}
	return nil
}

func (m *MockFeed) Unsubscribe(ctx context.Context, symbols []string) error {
	m.lastSymbols = symbols
	for _, s := range symbols {
		delete(m.subs, s)
	}
	return nil
}

func (m *MockFeed) Subscriptions() []string {
	out := make([]string, 0, len(m.subs))
	for s := range m.subs {
		out = append(out, s)
	}
	return out
}

func (m *MockFeed) GetLatestPrice(symbol string) (models.PriceEntry, error) {
	p, ok := m.prices[symbol]
	if !ok {
		return models.PriceEntry{}, models.ErrNotAvailable
	}
	return p, nil
}

func (m *MockFeed) GetKlines(symbol string, limit int) ([]models.Kline, error) {
	m.lastLimit = limit
	return []models.Kline{}, nil
}

func (m *MockFeed) GetOrderBook(symbol string) (models.OrderBookSnapshot, error) {
	return models.OrderBookSnapshot{}, models.ErrNotAvailable
}
