package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"quanttrade/internal/models"
	"quanttrade/internal/trading"
	"quanttrade/pkg/utils"
)

// OrderService - операции пользователя над ордерами и позициями.
//
// Отвечает за:
// - Привязку запросов к пользователю из заголовка X-User-ID
// - Проверку владельца ордера перед чтением и отменой
// - Чтение позиций из ledger
//
// Сама обработка ордера (валидация, риск, исполнение) - в trading.Router.
type OrderService struct {
	router    OrderRouter
	positions PositionReader
	logger    *zap.Logger
}

// NewOrderService создает новый экземпляр OrderService.
func NewOrderService(router OrderRouter, positions PositionReader, logger *zap.Logger) *OrderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderService{
		router:    router,
		positions: positions,
		logger:    logger.Named("order_service"),
	}
}

// SubmitOrder передает ордер в роутер.
//
// Возвращает ValidationError, RiskRejectedError, ErrNotAvailable
// или ErrDuplicateClientOrderID без изменений.
func (s *OrderService) SubmitOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error) {
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	return s.router.Submit(ctx, req)
}

// CancelOrder отменяет ордер пользователя
func (s *OrderService) CancelOrder(ctx context.Context, userID, orderID string) (*models.Order, error) {
	if _, err := s.GetOrder(ctx, userID, orderID); err != nil {
		return nil, err
	}
	order, err := s.router.Cancel(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("order cancelled by user", utils.OrderID(orderID), utils.UserID(userID))
	return order, nil
}

// GetOrder возвращает ордер. Чужой ордер неотличим от несуществующего.
func (s *OrderService) GetOrder(ctx context.Context, userID, orderID string) (*models.Order, error) {
	order, err := s.router.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if userID != "" && order.UserID != userID {
		return nil, models.ErrOrderNotFound
	}
	return order, nil
}

// ListOrders возвращает ордера по фильтру, новые первыми
func (s *OrderService) ListOrders(ctx context.Context, filter trading.OrderFilter) ([]*models.Order, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.router.ListOrders(ctx, filter)
}

// GetFills возвращает исполнения ордера пользователя
func (s *OrderService) GetFills(ctx context.Context, userID, orderID string) ([]models.Fill, error) {
	if _, err := s.GetOrder(ctx, userID, orderID); err != nil {
		return nil, err
	}
	fills, err := s.router.Fills(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if fills == nil {
		fills = []models.Fill{}
	}
	return fills, nil
}

// GetPositions возвращает открытые позиции пользователя
func (s *OrderService) GetPositions(userID string) []models.Position {
	positions := s.positions.Positions(userID)
	if positions == nil {
		positions = []models.Position{}
	}
	return positions
}
