package risk

import (
	"context"
	"sort"
	"sync"
	"time"

	"quanttrade/internal/models"
)

// AlertFilter - фильтр журнала алертов
type AlertFilter struct {
	UserID         string
	Level          models.AlertLevel
	Unacknowledged bool
	Limit          int
}

// Match проверяет алерт на соответствие фильтру
func (f AlertFilter) Match(a *models.RiskAlert) bool {
	if f.UserID != "" && a.UserID != f.UserID {
		return false
	}
	if f.Level != "" && a.Level != f.Level {
		return false
	}
	if f.Unacknowledged && a.Acknowledged {
		return false
	}
	return true
}

// RuleStore - хранилище правил
type RuleStore interface {
	ListRules(ctx context.Context) ([]*models.RiskRule, error)
	GetRule(ctx context.Context, id string) (*models.RiskRule, error)
	CreateRule(ctx context.Context, rule *models.RiskRule) error
	UpdateRule(ctx context.Context, rule *models.RiskRule) error
	DeleteRule(ctx context.Context, id string) error
}

// AlertStore - журнал алертов (только добавление + подтверждение)
type AlertStore interface {
	CreateAlert(ctx context.Context, alert *models.RiskAlert) error
	ListAlerts(ctx context.Context, filter AlertFilter) ([]*models.RiskAlert, error)
	AcknowledgeAlert(ctx context.Context, id string, at time.Time) (*models.RiskAlert, error)
}

// Store - правила и алерты вместе
type Store interface {
	RuleStore
	AlertStore
}

// ============================================================
// MemoryStore - хранилище в памяти (без БД и в тестах)
// ============================================================

// MemoryStore хранит правила и алерты в памяти
type MemoryStore struct {
	mu     sync.RWMutex
	rules  map[string]*models.RiskRule
	alerts []*models.RiskAlert
	byID   map[string]*models.RiskAlert
}

// NewMemoryStore создаёт хранилище в памяти
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rules: make(map[string]*models.RiskRule),
		byID:  make(map[string]*models.RiskAlert),
	}
}

func (s *MemoryStore) ListRules(ctx context.Context) ([]*models.RiskRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.RiskRule, 0, len(s.rules))
	for _, r := range s.rules {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) GetRule(ctx context.Context, id string) (*models.RiskRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rules[id]
	if !ok {
		return nil, models.ErrRuleNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) CreateRule(ctx context.Context, rule *models.RiskRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rule
	s.rules[rule.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateRule(ctx context.Context, rule *models.RiskRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[rule.ID]; !ok {
		return models.ErrRuleNotFound
	}
	cp := *rule
	s.rules[rule.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteRule(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[id]; !ok {
		return models.ErrRuleNotFound
	}
	delete(s.rules, id)
	return nil
}

func (s *MemoryStore) CreateAlert(ctx context.Context, alert *models.RiskAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *alert
	s.alerts = append(s.alerts, &cp)
	s.byID[cp.ID] = &cp
	return nil
}

// ListAlerts возвращает алерты, новые первыми
func (s *MemoryStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]*models.RiskAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.RiskAlert
	for i := len(s.alerts) - 1; i >= 0; i-- {
		a := s.alerts[i]
		if !filter.Match(a) {
			continue
		}
		cp := *a
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// AcknowledgeAlert подтверждает алерт. Повторное подтверждение не меняет время.
func (s *MemoryStore) AcknowledgeAlert(ctx context.Context, id string, at time.Time) (*models.RiskAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return nil, models.ErrAlertNotFound
	}
	if !a.Acknowledged {
		a.Acknowledged = true
		t := at
		a.AcknowledgedAt = &t
	}
	cp := *a
	return &cp, nil
}
