package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"quanttrade/internal/models"
	"quanttrade/internal/trading"
)

// execer - общий интерфейс *sql.DB и *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const orderColumns = `id, client_order_id, user_id, strategy_id, symbol, side, type, quantity, limit_price, stop_price,
		time_in_force, status, filled_quantity, avg_fill_price, commission, triggered, inconsistent, liquidation,
		reject_reason, created_at, updated_at`

// OrderRepository - работа с таблицами orders и fills
type OrderRepository struct {
	db        *sql.DB
	positions *PositionRepository
}

// NewOrderRepository создает новый экземпляр репозитория
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db, positions: NewPositionRepository(db)}
}

// Create создает запись об ордере
func (r *OrderRepository) Create(ctx context.Context, o *models.Order) error {
	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = o.CreatedAt
	}

	_, err := r.db.ExecContext(ctx, query,
		o.ID,
		o.ClientOrderID,
		o.UserID,
		o.StrategyID,
		o.Symbol,
		o.Side,
		o.Type,
		o.Quantity,
		o.LimitPrice,
		o.StopPrice,
		o.TimeInForce,
		o.Status,
		o.FilledQuantity,
		o.AvgFillPrice,
		o.Commission,
		o.Triggered,
		o.Inconsistent,
		o.Liquidation,
		o.RejectReason,
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", o.ClientOrderID, models.ErrDuplicateClientOrderID)
		}
		return err
	}
	return nil
}

// Update сохраняет изменяемые поля ордера
func (r *OrderRepository) Update(ctx context.Context, o *models.Order) error {
	return r.update(ctx, r.db, o)
}

func (r *OrderRepository) update(ctx context.Context, ex execer, o *models.Order) error {
	query := `
		UPDATE orders
		SET status = $2, filled_quantity = $3, avg_fill_price = $4, commission = $5,
			triggered = $6, inconsistent = $7, reject_reason = $8, updated_at = $9
		WHERE id = $1`

	result, err := ex.ExecContext(ctx, query,
		o.ID,
		o.Status,
		o.FilledQuantity,
		o.AvgFillPrice,
		o.Commission,
		o.Triggered,
		o.Inconsistent,
		o.RejectReason,
		o.UpdatedAt,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return models.ErrOrderNotFound
	}
	return nil
}

// RecordFill записывает исполнение, ордер и позицию одной транзакцией
func (r *OrderRepository) RecordFill(ctx context.Context, fill *models.Fill, o *models.Order, pos *models.Position) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO fills (id, order_id, user_id, symbol, side, quantity, price, commission, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		fill.ID,
		fill.OrderID,
		fill.UserID,
		fill.Symbol,
		fill.Side,
		fill.Quantity,
		fill.Price,
		fill.Commission,
		fill.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert fill: %w", err)
	}

	if err := r.update(ctx, tx, o); err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	if pos != nil {
		if pos.IsFlat() {
			err = r.positions.delete(ctx, tx, pos.UserID, pos.Symbol)
		} else {
			err = r.positions.upsert(ctx, tx, pos)
		}
		if err != nil {
			return fmt.Errorf("save position: %w", err)
		}
	}

	return tx.Commit()
}

// GetByID возвращает ордер по ID
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	o, err := scanOrder(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrOrderNotFound
		}
		return nil, err
	}
	return o, nil
}

// List возвращает ордера по фильтру, новые первыми
func (r *OrderRepository) List(ctx context.Context, filter trading.OrderFilter) ([]*models.Order, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Symbol != "" {
		args = append(args, filter.Symbol)
		conds = append(conds, fmt.Sprintf("symbol = $%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, pq.Array(statuses))
		conds = append(conds, fmt.Sprintf("status = ANY($%d)", len(args)))
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	return r.queryOrders(ctx, query, args...)
}

// ListOpen возвращает PENDING и PARTIAL ордера в порядке поступления
func (r *OrderRepository) ListOpen(ctx context.Context) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
		WHERE status IN ('PENDING', 'PARTIAL')
		ORDER BY created_at, id`
	return r.queryOrders(ctx, query)
}

func (r *OrderRepository) queryOrders(ctx context.Context, query string, args ...interface{}) ([]*models.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]*models.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// ListFills возвращает исполнения ордера по времени
func (r *OrderRepository) ListFills(ctx context.Context, orderID string) ([]*models.Fill, error) {
	query := `
		SELECT id, order_id, user_id, symbol, side, quantity, price, commission, timestamp
		FROM fills
		WHERE order_id = $1
		ORDER BY timestamp, id`

	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fills := make([]*models.Fill, 0)
	for rows.Next() {
		f := &models.Fill{}
		if err := rows.Scan(
			&f.ID,
			&f.OrderID,
			&f.UserID,
			&f.Symbol,
			&f.Side,
			&f.Quantity,
			&f.Price,
			&f.Commission,
			&f.Timestamp,
		); err != nil {
			return nil, err
		}
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	o := &models.Order{}
	err := row.Scan(
		&o.ID,
		&o.ClientOrderID,
		&o.UserID,
		&o.StrategyID,
		&o.Symbol,
		&o.Side,
		&o.Type,
		&o.Quantity,
		&o.LimitPrice,
		&o.StopPrice,
		&o.TimeInForce,
		&o.Status,
		&o.FilledQuantity,
		&o.AvgFillPrice,
		&o.Commission,
		&o.Triggered,
		&o.Inconsistent,
		&o.Liquidation,
		&o.RejectReason,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// isUniqueViolation проверяет нарушение уникальности (код 23505)
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "duplicate key")
}
