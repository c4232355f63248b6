package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"quanttrade/internal/models"
	"quanttrade/internal/risk"
)

// RiskRepository - работа с таблицами risk_rules и risk_alerts
type RiskRepository struct {
	db *sql.DB
}

// NewRiskRepository создает новый экземпляр репозитория
func NewRiskRepository(db *sql.DB) *RiskRepository {
	return &RiskRepository{db: db}
}

// ============================================================
// Правила
// ============================================================

const ruleColumns = `id, name, type, threshold, action, user_id, strategy_id, enabled, created_at, updated_at`

// ListRules возвращает все правила в порядке создания
func (r *RiskRepository) ListRules(ctx context.Context) ([]*models.RiskRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM risk_rules ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := make([]*models.RiskRule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// GetRule возвращает правило по ID
func (r *RiskRepository) GetRule(ctx context.Context, id string) (*models.RiskRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM risk_rules WHERE id = $1`

	rule, err := scanRule(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrRuleNotFound
		}
		return nil, err
	}
	return rule, nil
}

// CreateRule создает правило
func (r *RiskRepository) CreateRule(ctx context.Context, rule *models.RiskRule) error {
	query := `
		INSERT INTO risk_rules (` + ruleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, query,
		rule.ID,
		rule.Name,
		rule.Type,
		rule.Threshold,
		rule.Action,
		rule.UserID,
		rule.StrategyID,
		rule.Enabled,
		rule.CreatedAt,
		rule.UpdatedAt,
	)
	return err
}

// UpdateRule обновляет правило
func (r *RiskRepository) UpdateRule(ctx context.Context, rule *models.RiskRule) error {
	query := `
		UPDATE risk_rules
		SET name = $2, type = $3, threshold = $4, action = $5, user_id = $6,
			strategy_id = $7, enabled = $8, updated_at = $9
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query,
		rule.ID,
		rule.Name,
		rule.Type,
		rule.Threshold,
		rule.Action,
		rule.UserID,
		rule.StrategyID,
		rule.Enabled,
		rule.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return expectOneRow(result, models.ErrRuleNotFound)
}

// DeleteRule удаляет правило. Алерты правила остаются в журнале.
func (r *RiskRepository) DeleteRule(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM risk_rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectOneRow(result, models.ErrRuleNotFound)
}

func scanRule(row rowScanner) (*models.RiskRule, error) {
	rule := &models.RiskRule{}
	err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.Type,
		&rule.Threshold,
		&rule.Action,
		&rule.UserID,
		&rule.StrategyID,
		&rule.Enabled,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// ============================================================
// Журнал алертов
// ============================================================

const alertColumns = `id, rule_id, user_id, strategy_id, symbol, order_id, level, action, message,
		value, threshold, acknowledged, acknowledged_at, created_at`

// CreateAlert добавляет алерт в журнал
func (r *RiskRepository) CreateAlert(ctx context.Context, a *models.RiskAlert) error {
	query := `
		INSERT INTO risk_alerts (` + alertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.db.ExecContext(ctx, query,
		a.ID,
		a.RuleID,
		a.UserID,
		a.StrategyID,
		a.Symbol,
		a.OrderID,
		a.Level,
		a.Action,
		a.Message,
		a.Value,
		a.Threshold,
		a.Acknowledged,
		a.AcknowledgedAt,
		a.CreatedAt,
	)
	return err
}

// ListAlerts возвращает алерты по фильтру, новые первыми
func (r *RiskRepository) ListAlerts(ctx context.Context, filter risk.AlertFilter) ([]*models.RiskAlert, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Level != "" {
		args = append(args, filter.Level)
		conds = append(conds, fmt.Sprintf("level = $%d", len(args)))
	}
	if filter.Unacknowledged {
		conds = append(conds, "acknowledged = FALSE")
	}

	query := `SELECT ` + alertColumns + ` FROM risk_alerts`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alerts := make([]*models.RiskAlert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// AcknowledgeAlert подтверждает алерт. Время первого подтверждения сохраняется.
func (r *RiskRepository) AcknowledgeAlert(ctx context.Context, id string, at time.Time) (*models.RiskAlert, error) {
	query := `
		UPDATE risk_alerts
		SET acknowledged = TRUE, acknowledged_at = COALESCE(acknowledged_at, $2)
		WHERE id = $1
		RETURNING ` + alertColumns

	a, err := scanAlert(r.db.QueryRowContext(ctx, query, id, at))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrAlertNotFound
		}
		return nil, err
	}
	return a, nil
}

func scanAlert(row rowScanner) (*models.RiskAlert, error) {
	a := &models.RiskAlert{}
	var ackAt sql.NullTime
	err := row.Scan(
		&a.ID,
		&a.RuleID,
		&a.UserID,
		&a.StrategyID,
		&a.Symbol,
		&a.OrderID,
		&a.Level,
		&a.Action,
		&a.Message,
		&a.Value,
		&a.Threshold,
		&a.Acknowledged,
		&ackAt,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if ackAt.Valid {
		t := ackAt.Time
		a.AcknowledgedAt = &t
	}
	return a, nil
}

func expectOneRow(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
