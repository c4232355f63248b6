package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"

	"quanttrade/internal/models"
	"quanttrade/internal/risk"
)

// ============================================================
// RiskRepository Tests
// ============================================================

var (
	ruleRowColumns = []string{
		"id", "name", "type", "threshold", "action", "user_id", "strategy_id", "enabled", "created_at", "updated_at",
	}
	alertRowColumns = []string{
		"id", "rule_id", "user_id", "strategy_id", "symbol", "order_id", "level", "action", "message",
		"value", "threshold", "acknowledged", "acknowledged_at", "created_at",
	}
)

func TestRiskRepositoryRules(t *testing.T) {
	now := time.Now().UTC()
	rule := &models.RiskRule{
		ID:        "r1",
		Name:      "drawdown 10%",
		Type:      models.RuleTypeDrawdown,
		Threshold: decimal.RequireFromString("0.1"),
		Action:    models.ActionAlertOnly,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	t.Run("create", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("failed to create mock: %v", err)
		}
		defer db.Close()

		mock.ExpectExec(`INSERT INTO risk_rules`).
			WithArgs("r1", "drawdown 10%", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "", "", true, now, now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		if err := NewRiskRepository(db).CreateRule(context.Background(), rule); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
	})

	t.Run("list", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("failed to create mock: %v", err)
		}
		defer db.Close()

		rows := sqlmock.NewRows(ruleRowColumns).
			AddRow("r1", "drawdown 10%", "drawdown", "0.1", "alert_only", "", "", true, now, now).
			AddRow("r2", "position cap", "position", "500000", "close_position", "u1", "", false, now, now)
		mock.ExpectQuery(`SELECT .* FROM risk_rules ORDER BY created_at`).WillReturnRows(rows)

		rules, err := NewRiskRepository(db).ListRules(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(rules) != 2 {
			t.Fatalf("expected 2 rules, got %d", len(rules))
		}
		if rules[1].Type != models.RuleTypePosition || rules[1].Enabled {
			t.Errorf("unexpected rule: %+v", rules[1])
		}
		if !rules[0].Threshold.Equal(decimal.RequireFromString("0.1")) {
			t.Errorf("expected threshold 0.1, got %s", rules[0].Threshold)
		}
	})

	notFound := []struct {
		name      string
		mockSetup func(mock sqlmock.Sqlmock)
		call      func(r *RiskRepository) error
	}{
		{
			name: "get missing",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`FROM risk_rules WHERE id`).WithArgs("r1").WillReturnError(sql.ErrNoRows)
			},
			call: func(r *RiskRepository) error {
				_, err := r.GetRule(context.Background(), "r1")
				return err
			},
		},
		{
			name: "update missing",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE risk_rules`).WillReturnResult(sqlmock.NewResult(0, 0))
			},
			call: func(r *RiskRepository) error {
				return r.UpdateRule(context.Background(), rule)
			},
		},
		{
			name: "delete missing",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`DELETE FROM risk_rules`).WithArgs("r1").WillReturnResult(sqlmock.NewResult(0, 0))
			},
			call: func(r *RiskRepository) error {
				return r.DeleteRule(context.Background(), "r1")
			},
		},
	}

	for _, tt := range notFound {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			if err := tt.call(NewRiskRepository(db)); !errors.Is(err, models.ErrRuleNotFound) {
				t.Errorf("expected ErrRuleNotFound, got %v", err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestRiskRepositoryListAlerts(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name    string
		filter  risk.AlertFilter
		pattern string
		args    []driver.Value
	}{
		{
			name:    "all",
			filter:  risk.AlertFilter{},
			pattern: `FROM risk_alerts ORDER BY created_at DESC`,
		},
		{
			name:    "user level unacknowledged",
			filter:  risk.AlertFilter{UserID: "u1", Level: models.AlertHigh, Unacknowledged: true, Limit: 5},
			pattern: `WHERE user_id = \$1 AND level = \$2 AND acknowledged = FALSE ORDER BY created_at DESC, id DESC LIMIT \$3`,
			args:    []driver.Value{"u1", "HIGH", 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			rows := sqlmock.NewRows(alertRowColumns).
				AddRow("a2", "r1", "u1", "", "BTCUSDT", "", "HIGH", "alert_only", "drawdown 35%", "0.35", "0.1", false, nil, now).
				AddRow("a1", "r1", "u1", "", "BTCUSDT", "", "HIGH", "alert_only", "drawdown 31%", "0.31", "0.1", true, now, now.Add(-time.Minute))
			q := mock.ExpectQuery(tt.pattern)
			if tt.args != nil {
				q = q.WithArgs(tt.args...)
			}
			q.WillReturnRows(rows)

			alerts, err := NewRiskRepository(db).ListAlerts(context.Background(), tt.filter)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(alerts) != 2 {
				t.Fatalf("expected 2 alerts, got %d", len(alerts))
			}
			if alerts[0].AcknowledgedAt != nil {
				t.Error("expected nil acknowledged_at for open alert")
			}
			if alerts[1].AcknowledgedAt == nil || !alerts[1].AcknowledgedAt.Equal(now) {
				t.Errorf("unexpected acknowledged_at: %v", alerts[1].AcknowledgedAt)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestRiskRepositoryAlerts(t *testing.T) {
	now := time.Now().UTC()

	t.Run("create", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("failed to create mock: %v", err)
		}
		defer db.Close()

		alert := &models.RiskAlert{
			ID:        "a1",
			RuleID:    models.RuleIDInconsistency,
			UserID:    "u1",
			OrderID:   "o1",
			Level:     models.AlertExtreme,
			Message:   "fill not persisted",
			CreatedAt: now,
		}
		mock.ExpectExec(`INSERT INTO risk_alerts`).
			WithArgs("a1", models.RuleIDInconsistency, "u1", "", "", "o1", sqlmock.AnyArg(), sqlmock.AnyArg(),
				"fill not persisted", sqlmock.AnyArg(), sqlmock.AnyArg(), false, sqlmock.AnyArg(), now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		if err := NewRiskRepository(db).CreateAlert(context.Background(), alert); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
	})

	t.Run("acknowledge", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("failed to create mock: %v", err)
		}
		defer db.Close()

		first := now.Add(-time.Hour)
		mock.ExpectQuery(`UPDATE risk_alerts\s+SET acknowledged = TRUE, acknowledged_at = COALESCE\(acknowledged_at, \$2\)`).
			WithArgs("a1", now).
			WillReturnRows(sqlmock.NewRows(alertRowColumns).
				AddRow("a1", "r1", "u1", "", "", "", "LOW", "alert_only", "m", "0", "0", true, first, first))

		alert, err := NewRiskRepository(db).AcknowledgeAlert(context.Background(), "a1", now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !alert.Acknowledged || !alert.AcknowledgedAt.Equal(first) {
			t.Errorf("expected first acknowledgement time kept, got %+v", alert)
		}
	})

	t.Run("acknowledge missing", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("failed to create mock: %v", err)
		}
		defer db.Close()

		mock.ExpectQuery(`UPDATE risk_alerts`).WillReturnError(sql.ErrNoRows)

		_, err = NewRiskRepository(db).AcknowledgeAlert(context.Background(), "nope", now)
		if !errors.Is(err, models.ErrAlertNotFound) {
			t.Errorf("expected ErrAlertNotFound, got %v", err)
		}
	})
}
