package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"quanttrade/internal/models"
	"quanttrade/internal/risk"
	"quanttrade/pkg/utils"
)

// LimitsReader - текущие лимиты риск-гейта
type LimitsReader interface {
	Limits() models.RiskLimits
}

// CreateRuleRequest - запрос на создание правила
type CreateRuleRequest struct {
	Name       string            `json:"name" validate:"required,max=128"`
	Type       models.RuleType   `json:"type" validate:"required,oneof=position drawdown var daily_loss"`
	Threshold  decimal.Decimal   `json:"threshold"`
	Action     models.RuleAction `json:"action" validate:"required,oneof=close_position stop_strategy alert_only"`
	UserID     string            `json:"user_id" validate:"omitempty,max=64"`
	StrategyID string            `json:"strategy_id" validate:"omitempty,max=64"`
	Enabled    *bool             `json:"enabled"`
}

// UpdateRuleRequest - частичное обновление правила (PATCH)
type UpdateRuleRequest struct {
	Name       *string            `json:"name" validate:"omitempty,min=1,max=128"`
	Type       *models.RuleType   `json:"type" validate:"omitempty,oneof=position drawdown var daily_loss"`
	Threshold  *decimal.Decimal   `json:"threshold"`
	Action     *models.RuleAction `json:"action" validate:"omitempty,oneof=close_position stop_strategy alert_only"`
	StrategyID *string            `json:"strategy_id" validate:"omitempty,max=64"`
	Enabled    *bool              `json:"enabled"`
}

// RiskService - правила, алерты, метрики риска и стратегии.
//
// Правила читаются монитором из того же хранилища на каждом проходе,
// поэтому изменения вступают в силу со следующей проверки.
type RiskService struct {
	monitor  RiskMonitor
	rules    risk.RuleStore
	guard    StrategySwitch
	limits   LimitsReader
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

// NewRiskService создает новый экземпляр RiskService.
func NewRiskService(monitor RiskMonitor, rules risk.RuleStore, guard StrategySwitch, limits LimitsReader, logger *zap.Logger) *RiskService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RiskService{
		monitor:  monitor,
		rules:    rules,
		guard:    guard,
		limits:   limits,
		validate: validator.New(),
		logger:   logger.Named("risk_service"),
		now:      time.Now,
	}
}

// GetPositionRisk возвращает метрики риска пользователя
func (s *RiskService) GetPositionRisk(userID string) models.PositionRisk {
	r := s.monitor.PositionRisk(userID)
	if r.Positions == nil {
		r.Positions = []models.PositionExposure{}
	}
	return r
}

// GetLimits возвращает лимиты риск-гейта
func (s *RiskService) GetLimits() models.RiskLimits {
	return s.limits.Limits()
}

// ============================================================
// Правила
// ============================================================

func (s *RiskService) ListRules(ctx context.Context) ([]*models.RiskRule, error) {
	return s.rules.ListRules(ctx)
}

func (s *RiskService) GetRule(ctx context.Context, id string) (*models.RiskRule, error) {
	return s.rules.GetRule(ctx, id)
}

// CreateRule создает правило. По умолчанию правило включено.
func (s *RiskService) CreateRule(ctx context.Context, req CreateRuleRequest) (*models.RiskRule, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := s.check(req); err != nil {
		return nil, err
	}
	if !req.Threshold.IsPositive() {
		return nil, models.NewValidationError("threshold", "must be positive")
	}

	now := s.now().UTC()
	rule := &models.RiskRule{
		ID:         uuid.NewString(),
		Name:       req.Name,
		Type:       req.Type,
		Threshold:  req.Threshold,
		Action:     req.Action,
		UserID:     req.UserID,
		StrategyID: req.StrategyID,
		Enabled:    req.Enabled == nil || *req.Enabled,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.rules.CreateRule(ctx, rule); err != nil {
		return nil, err
	}

	s.logger.Info("risk rule created",
		zap.String("rule_id", rule.ID),
		zap.String("type", string(rule.Type)),
		zap.String("action", string(rule.Action)),
		zap.String("threshold", rule.Threshold.String()),
	)
	return rule, nil
}

// UpdateRule применяет заданные поля запроса к правилу
func (s *RiskService) UpdateRule(ctx context.Context, id string, req UpdateRuleRequest) (*models.RiskRule, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	rule, err := s.rules.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, models.NewValidationError("name", "must not be empty")
		}
		rule.Name = name
	}
	if req.Type != nil {
		rule.Type = *req.Type
	}
	if req.Threshold != nil {
		if !req.Threshold.IsPositive() {
			return nil, models.NewValidationError("threshold", "must be positive")
		}
		rule.Threshold = *req.Threshold
	}
	if req.Action != nil {
		rule.Action = *req.Action
	}
	if req.StrategyID != nil {
		rule.StrategyID = *req.StrategyID
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	rule.UpdatedAt = s.now().UTC()

	if err := s.rules.UpdateRule(ctx, rule); err != nil {
		return nil, err
	}
	s.logger.Info("risk rule updated", zap.String("rule_id", rule.ID), zap.Bool("enabled", rule.Enabled))
	return rule, nil
}

func (s *RiskService) DeleteRule(ctx context.Context, id string) error {
	if err := s.rules.DeleteRule(ctx, id); err != nil {
		return err
	}
	s.logger.Info("risk rule deleted", zap.String("rule_id", id))
	return nil
}

// ============================================================
// Алерты
// ============================================================

// ListAlerts возвращает журнал алертов (по умолчанию последние 100)
func (s *RiskService) ListAlerts(ctx context.Context, filter risk.AlertFilter) ([]*models.RiskAlert, error) {
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 100
	}
	alerts, err := s.monitor.ListAlerts(ctx, filter)
	if err != nil {
		return nil, err
	}
	if alerts == nil {
		alerts = []*models.RiskAlert{}
	}
	return alerts, nil
}

func (s *RiskService) AcknowledgeAlert(ctx context.Context, id string) (*models.RiskAlert, error) {
	return s.monitor.AcknowledgeAlert(ctx, id)
}

// ============================================================
// Стратегии
// ============================================================

// EnableStrategy снимает блокировку. false - стратегия не была отключена.
func (s *RiskService) EnableStrategy(strategyID string) bool {
	enabled := s.guard.Enable(strategyID)
	if enabled {
		s.logger.Info("strategy enabled", utils.StrategyID(strategyID))
	}
	return enabled
}

// DisableStrategy запрещает новые ордера стратегии
func (s *RiskService) DisableStrategy(strategyID, reason string) error {
	strategyID = strings.TrimSpace(strategyID)
	if strategyID == "" {
		return models.NewValidationError("strategy_id", "is required")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "disabled by operator"
	}
	s.guard.Disable(strategyID, reason)
	return nil
}

func (s *RiskService) DisabledStrategies() []risk.DisabledEntry {
	return s.disabled(risk.ScopeStrategy)
}

// ============================================================
// Пользователи
// ============================================================

// EnableUser снимает блокировку торговли пользователя
// (ставится правилом stop_strategy без стратегии или оператором)
func (s *RiskService) EnableUser(userID string) bool {
	enabled := s.guard.EnableUser(userID)
	if enabled {
		s.logger.Info("user trading enabled", utils.UserID(userID))
	}
	return enabled
}

// DisableUser запрещает все новые ордера пользователя
func (s *RiskService) DisableUser(userID, reason string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return models.NewValidationError("user_id", "is required")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "disabled by operator"
	}
	s.guard.DisableUser(userID, reason)
	return nil
}

func (s *RiskService) DisabledUsers() []risk.DisabledEntry {
	return s.disabled(risk.ScopeUser)
}

func (s *RiskService) disabled(scope string) []risk.DisabledEntry {
	entries := []risk.DisabledEntry{}
	for _, e := range s.guard.Disabled() {
		if e.Scope == scope {
			entries = append(entries, e)
		}
	}
	return entries
}

func (s *RiskService) check(req interface{}) error {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return models.NewValidationError(strings.ToLower(fe.Field()), "failed on '"+fe.Tag()+"'")
		}
		return models.NewValidationError("", err.Error())
	}
	return nil
}
