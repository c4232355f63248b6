package repository

import (
	"context"
	"database/sql"
	"time"

	"quanttrade/internal/models"
	"quanttrade/internal/risk"
	"quanttrade/internal/trading"
)

// Store - хранилище ядра поверх Postgres
type Store struct {
	Orders    *OrderRepository
	Positions *PositionRepository
	Risk      *RiskRepository
}

var (
	_ trading.Store = (*Store)(nil)
	_ risk.Store    = (*Store)(nil)
)

// NewStore собирает репозитории над одним пулом соединений
func NewStore(db *sql.DB) *Store {
	orders := NewOrderRepository(db)
	return &Store{
		Orders:    orders,
		Positions: orders.positions,
		Risk:      NewRiskRepository(db),
	}
}

// ============================================================
// trading.Store
// ============================================================

func (s *Store) CreateOrder(ctx context.Context, o *models.Order) error {
	return s.Orders.Create(ctx, o)
}

func (s *Store) UpdateOrder(ctx context.Context, o *models.Order) error {
	return s.Orders.Update(ctx, o)
}

func (s *Store) RecordFill(ctx context.Context, fill *models.Fill, o *models.Order, pos *models.Position) error {
	return s.Orders.RecordFill(ctx, fill, o, pos)
}

func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	return s.Orders.GetByID(ctx, id)
}

func (s *Store) ListOrders(ctx context.Context, filter trading.OrderFilter) ([]*models.Order, error) {
	return s.Orders.List(ctx, filter)
}

func (s *Store) ListOpenOrders(ctx context.Context) ([]*models.Order, error) {
	return s.Orders.ListOpen(ctx)
}

func (s *Store) ListFills(ctx context.Context, orderID string) ([]*models.Fill, error) {
	return s.Orders.ListFills(ctx, orderID)
}

func (s *Store) ListPositions(ctx context.Context) ([]models.Position, error) {
	return s.Positions.List(ctx)
}

// ============================================================
// risk.Store
// ============================================================

func (s *Store) ListRules(ctx context.Context) ([]*models.RiskRule, error) {
	return s.Risk.ListRules(ctx)
}

func (s *Store) GetRule(ctx context.Context, id string) (*models.RiskRule, error) {
	return s.Risk.GetRule(ctx, id)
}

func (s *Store) CreateRule(ctx context.Context, rule *models.RiskRule) error {
	return s.Risk.CreateRule(ctx, rule)
}

func (s *Store) UpdateRule(ctx context.Context, rule *models.RiskRule) error {
	return s.Risk.UpdateRule(ctx, rule)
}

func (s *Store) DeleteRule(ctx context.Context, id string) error {
	return s.Risk.DeleteRule(ctx, id)
}

func (s *Store) CreateAlert(ctx context.Context, alert *models.RiskAlert) error {
	return s.Risk.CreateAlert(ctx, alert)
}

func (s *Store) ListAlerts(ctx context.Context, filter risk.AlertFilter) ([]*models.RiskAlert, error) {
	return s.Risk.ListAlerts(ctx, filter)
}

func (s *Store) AcknowledgeAlert(ctx context.Context, id string, at time.Time) (*models.RiskAlert, error) {
	return s.Risk.AcknowledgeAlert(ctx, id, at)
}
