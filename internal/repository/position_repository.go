package repository

import (
	"context"
	"database/sql"

	"quanttrade/internal/models"
)

// PositionRepository - работа с таблицей positions
//
// Строка существует только для открытой позиции: закрытая удаляется
// в той же транзакции, что и исполнение.
type PositionRepository struct {
	db *sql.DB
}

// NewPositionRepository создает новый экземпляр репозитория
func NewPositionRepository(db *sql.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// List возвращает все открытые позиции
func (r *PositionRepository) List(ctx context.Context) ([]models.Position, error) {
	query := `
		SELECT user_id, symbol, quantity, average_price, realized_pnl, last_update
		FROM positions
		ORDER BY user_id, symbol`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	positions := make([]models.Position, 0)
	for rows.Next() {
		var p models.Position
		if err := rows.Scan(
			&p.UserID,
			&p.Symbol,
			&p.Quantity,
			&p.AveragePrice,
			&p.RealizedPnL,
			&p.LastUpdate,
		); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Save сохраняет позицию вне транзакции исполнения (восстановление, ручная правка)
func (r *PositionRepository) Save(ctx context.Context, p *models.Position) error {
	if p.IsFlat() {
		return r.delete(ctx, r.db, p.UserID, p.Symbol)
	}
	return r.upsert(ctx, r.db, p)
}

func (r *PositionRepository) upsert(ctx context.Context, ex execer, p *models.Position) error {
	query := `
		INSERT INTO positions (user_id, symbol, quantity, average_price, realized_pnl, last_update)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, symbol) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			average_price = EXCLUDED.average_price,
			realized_pnl = EXCLUDED.realized_pnl,
			last_update = EXCLUDED.last_update`

	_, err := ex.ExecContext(ctx, query,
		p.UserID,
		p.Symbol,
		p.Quantity,
		p.AveragePrice,
		p.RealizedPnL,
		p.LastUpdate,
	)
	return err
}

func (r *PositionRepository) delete(ctx context.Context, ex execer, userID, symbol string) error {
	_, err := ex.ExecContext(ctx, `DELETE FROM positions WHERE user_id = $1 AND symbol = $2`, userID, symbol)
	return err
}
