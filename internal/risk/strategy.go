package risk

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Области блокировки
const (
	ScopeStrategy = "strategy"
	ScopeUser     = "user"
)

// DisabledEntry - запись об остановленной стратегии или пользователе
type DisabledEntry struct {
	Scope      string    `json:"scope"`
	Key        string    `json:"key"`
	Reason     string    `json:"reason"`
	DisabledAt time.Time `json:"disabled_at"`
}

// StrategyGuard блокирует новые ордера остановленных стратегий
//
// stop_strategy с указанной стратегией останавливает её,
// без стратегии - все ордера пользователя. Снимается только Enable
// (для пользователя - EnableUser).
type StrategyGuard struct {
	mu         sync.RWMutex
	strategies map[string]DisabledEntry
	users      map[string]DisabledEntry
	logger     *zap.Logger
	now        func() time.Time
}

// NewStrategyGuard создаёт guard
func NewStrategyGuard(logger *zap.Logger) *StrategyGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StrategyGuard{
		strategies: make(map[string]DisabledEntry),
		users:      make(map[string]DisabledEntry),
		logger:     logger.Named("strategy_guard"),
		now:        time.Now,
	}
}

// Disable останавливает стратегию
func (g *StrategyGuard) Disable(strategyID, reason string) {
	g.mu.Lock()
	g.strategies[strategyID] = DisabledEntry{Scope: ScopeStrategy, Key: strategyID, Reason: reason, DisabledAt: g.now()}
	g.mu.Unlock()
	g.logger.Warn("strategy disabled", zap.String("strategy_id", strategyID), zap.String("reason", reason))
}

// Enable возобновляет стратегию
func (g *StrategyGuard) Enable(strategyID string) bool {
	g.mu.Lock()
	_, ok := g.strategies[strategyID]
	delete(g.strategies, strategyID)
	g.mu.Unlock()
	if ok {
		g.logger.Info("strategy enabled", zap.String("strategy_id", strategyID))
	}
	return ok
}

// DisableUser останавливает все ордера пользователя
func (g *StrategyGuard) DisableUser(userID, reason string) {
	g.mu.Lock()
	g.users[userID] = DisabledEntry{Scope: ScopeUser, Key: userID, Reason: reason, DisabledAt: g.now()}
	g.mu.Unlock()
	g.logger.Warn("user trading disabled", zap.String("user_id", userID), zap.String("reason", reason))
}

// EnableUser возобновляет торговлю пользователя
func (g *StrategyGuard) EnableUser(userID string) bool {
	g.mu.Lock()
	_, ok := g.users[userID]
	delete(g.users, userID)
	g.mu.Unlock()
	if ok {
		g.logger.Info("user trading enabled", zap.String("user_id", userID))
	}
	return ok
}

// Allowed проверяет, можно ли принимать ордер. Возвращает причину блокировки.
func (g *StrategyGuard) Allowed(userID, strategyID string) (bool, string) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if e, ok := g.users[userID]; ok {
		return false, "trading disabled for user: " + e.Reason
	}
	if strategyID != "" {
		if e, ok := g.strategies[strategyID]; ok {
			return false, "strategy disabled: " + e.Reason
		}
	}
	return true, ""
}

// Disabled возвращает все блокировки: сначала стратегии, затем пользователи,
// внутри области - по ключу
func (g *StrategyGuard) Disabled() []DisabledEntry {
	g.mu.RLock()
	out := make([]DisabledEntry, 0, len(g.strategies)+len(g.users))
	for _, e := range g.strategies {
		out = append(out, e)
	}
	for _, e := range g.users {
		out = append(out, e)
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Scope != out[j].Scope {
			return out[i].Scope == ScopeStrategy
		}
		return out[i].Key < out[j].Key
	})
	return out
}
