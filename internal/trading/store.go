package trading

import (
	"context"
	"sort"
	"sync"

	"quanttrade/internal/models"
)

// OrderFilter - фильтр списка ордеров
type OrderFilter struct {
	UserID   string
	Symbol   string
	Statuses []models.OrderStatus
	Limit    int
}

// Match проверяет ордер на соответствие фильтру
func (f OrderFilter) Match(o *models.Order) bool {
	if f.UserID != "" && o.UserID != f.UserID {
		return false
	}
	if f.Symbol != "" && o.Symbol != f.Symbol {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if o.Status == s {
			return true
		}
	}
	return false
}

// Store - хранилище ордеров, исполнений и позиций
//
// RecordFill записывает исполнение, новое состояние ордера и позиции
// атомарно. Закрытая позиция (Quantity == 0) удаляется.
type Store interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	UpdateOrder(ctx context.Context, order *models.Order) error
	RecordFill(ctx context.Context, fill *models.Fill, order *models.Order, position *models.Position) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]*models.Order, error)
	ListOpenOrders(ctx context.Context) ([]*models.Order, error)
	ListFills(ctx context.Context, orderID string) ([]*models.Fill, error)
	ListPositions(ctx context.Context) ([]models.Position, error)
}

// ============================================================
// MemoryStore - хранилище в памяти (DB_ENABLED=false и тесты)
// ============================================================

// MemoryStore хранит состояние в памяти процесса
type MemoryStore struct {
	mu        sync.RWMutex
	orders    map[string]*models.Order
	fills     map[string][]*models.Fill
	positions map[models.PositionKey]models.Position
}

// NewMemoryStore создаёт пустое хранилище
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:    make(map[string]*models.Order),
		fills:     make(map[string][]*models.Fill),
		positions: make(map[models.PositionKey]models.Position),
	}
}

func (s *MemoryStore) CreateOrder(ctx context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = order.Clone()
	return nil
}

func (s *MemoryStore) UpdateOrder(ctx context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[order.ID]; !ok {
		return models.ErrOrderNotFound
	}
	s.orders[order.ID] = order.Clone()
	return nil
}

func (s *MemoryStore) RecordFill(ctx context.Context, fill *models.Fill, order *models.Order, position *models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[order.ID]; !ok {
		return models.ErrOrderNotFound
	}
	f := *fill
	s.fills[fill.OrderID] = append(s.fills[fill.OrderID], &f)
	s.orders[order.ID] = order.Clone()

	if position != nil {
		if position.IsFlat() {
			delete(s.positions, position.Key())
		} else {
			s.positions[position.Key()] = *position
		}
	}
	return nil
}

func (s *MemoryStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	return o.Clone(), nil
}

// ListOrders возвращает ордера, новые первыми
func (s *MemoryStore) ListOrders(ctx context.Context, filter OrderFilter) ([]*models.Order, error) {
	s.mu.RLock()
	out := make([]*models.Order, 0)
	for _, o := range s.orders {
		if filter.Match(o) {
			out = append(out, o.Clone())
		}
	}
	s.mu.RUnlock()

	sortNewestFirst(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) ListOpenOrders(ctx context.Context) ([]*models.Order, error) {
	s.mu.RLock()
	out := make([]*models.Order, 0)
	for _, o := range s.orders {
		if IsOpen(o.Status) {
			out = append(out, o.Clone())
		}
	}
	s.mu.RUnlock()

	// восстановление идёт в порядке поступления
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) ListFills(ctx context.Context, orderID string) ([]*models.Fill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.fills[orderID]
	out := make([]*models.Fill, 0, len(src))
	for _, f := range src {
		cp := *f
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) ListPositions(ctx context.Context) ([]models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().String() < out[j].Key().String() })
	return out, nil
}

func sortNewestFirst(orders []*models.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].ID > orders[j].ID
	})
}
