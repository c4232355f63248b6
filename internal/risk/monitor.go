package risk

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"quanttrade/internal/metrics"
	"quanttrade/internal/models"
	"quanttrade/pkg/utils"
)

// ClosePositionFunc закрывает позицию пользователя рыночным ордером
type ClosePositionFunc func(ctx context.Context, userID, symbol, reason string) error

// AlertHook получает каждый записанный алерт (websocket, брокеры)
type AlertHook func(alert models.RiskAlert)

// MonitorConfig - параметры периодической проверки
type MonitorConfig struct {
	CheckInterval time.Duration
	ReturnsWindow int
}

// SweepResult - итог одной проверки
type SweepResult struct {
	Users      int
	Violations int
	Alerts     int
	Suppressed int
	Actions    int
}

type activeAlert struct {
	id    string
	level models.AlertLevel
}

// Monitor - периодическая проверка рисков по правилам
//
// Функции:
// - просадка каждой позиции от лучшей отметки (с учётом направления)
// - VaR-95 и волатильность по историческим доходностям, собираемым проверкой
// - дневной PnL
// - алерты с уровнем серьёзности и подавлением повторов
// - действия правил: закрытие позиции, остановка стратегии
//
// Ордера не блокирует: работает по копиям позиций и кешу цен.
type Monitor struct {
	cfg       MonitorConfig
	store     Store
	valuer    *Valuer
	positions PositionSource
	prices    PriceSource
	guard     *StrategyGuard

	closePosition ClosePositionFunc
	hooks         []AlertHook
	hooksMu       sync.RWMutex

	tracker *drawdownTracker
	returns *returnsBook

	// неподтверждённые алерты: rule|user|symbol → уровень
	activeMu sync.Mutex
	active   map[string]activeAlert

	sweepMu  sync.Mutex
	running  int32
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	logger *zap.Logger
	now    func() time.Time
}

// NewMonitor создаёт монитор рисков
func NewMonitor(cfg MonitorConfig, store Store, valuer *Valuer, positions PositionSource, prices PriceSource, guard *StrategyGuard, logger *zap.Logger) *Monitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if guard == nil {
		guard = NewStrategyGuard(logger)
	}
	return &Monitor{
		cfg:       cfg,
		store:     store,
		valuer:    valuer,
		positions: positions,
		prices:    prices,
		guard:     guard,
		tracker:   newDrawdownTracker(),
		returns:   newReturnsBook(cfg.ReturnsWindow),
		active:    make(map[string]activeAlert),
		stopChan:  make(chan struct{}),
		logger:    logger.Named("risk_monitor"),
		now:       time.Now,
	}
}

// SetClosePositionFunc задаёт исполнителя действия close_position
func (m *Monitor) SetClosePositionFunc(fn ClosePositionFunc) {
	m.closePosition = fn
}

// AddAlertHook регистрирует получателя алертов
func (m *Monitor) AddAlertHook(hook AlertHook) {
	m.hooksMu.Lock()
	m.hooks = append(m.hooks, hook)
	m.hooksMu.Unlock()
}

// Guard возвращает guard стратегий
func (m *Monitor) Guard() *StrategyGuard {
	return m.guard
}

// Start загружает неподтверждённые алерты и запускает цикл проверок
func (m *Monitor) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&m.running, 0, 1) {
		return nil
	}

	if err := m.loadActive(ctx); err != nil {
		atomic.StoreInt32(&m.running, 0)
		return fmt.Errorf("load active alerts: %w", err)
	}

	m.wg.Add(1)
	go m.loop(ctx)

	m.logger.Info("risk monitor started", zap.Duration("interval", m.cfg.CheckInterval))
	return nil
}

// Stop останавливает цикл и ждёт текущую проверку
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
		m.wg.Wait()
		m.logger.Info("risk monitor stopped")
	})
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil {
				m.logger.Error("risk sweep failed", zap.Error(err))
			}
		}
	}
}

func (m *Monitor) loadActive(ctx context.Context) error {
	alerts, err := m.store.ListAlerts(ctx, AlertFilter{Unacknowledged: true})
	if err != nil {
		return err
	}

	m.activeMu.Lock()
	defer m.activeMu.Unlock()
	// список отсортирован новыми первыми: сохраняем самый свежий
	for _, a := range alerts {
		key := dedupKey(a.RuleID, a.UserID, a.Symbol)
		if _, ok := m.active[key]; !ok {
			m.active[key] = activeAlert{id: a.ID, level: a.Level}
		}
	}
	return nil
}

// ============================================================
// Проверка
// ============================================================

// Sweep выполняет одну проверку всех пользователей по включённым правилам
func (m *Monitor) Sweep(ctx context.Context) (SweepResult, error) {
	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()

	started := time.Now()
	defer metrics.RecordSweep(started)

	var result SweepResult

	rules, err := m.store.ListRules(ctx)
	if err != nil {
		return result, fmt.Errorf("list rules: %w", err)
	}
	enabled := rules[:0]
	for _, r := range rules {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}

	users := m.positions.Users()
	m.sampleReturns(users)

	open := make(map[models.PositionKey]struct{})
	for _, user := range users {
		result.Users++
		snapshot := m.PositionRisk(user)
		for _, exp := range snapshot.Positions {
			open[models.PositionKey{UserID: user, Symbol: exp.Symbol}] = struct{}{}
		}

		for _, rule := range enabled {
			if !rule.AppliesTo(user) {
				continue
			}
			for _, v := range evaluateRule(rule, snapshot) {
				result.Violations++
				m.handleViolation(ctx, user, rule, v, &result)
			}
		}
	}
	m.tracker.retain(open)

	m.logger.Debug("risk sweep completed",
		zap.Int("users", result.Users),
		zap.Int("violations", result.Violations),
		zap.Int("alerts", result.Alerts),
		zap.Int("suppressed", result.Suppressed),
	)
	return result, nil
}

// sampleReturns добавляет по одной доходности на символ,
// если с прошлой проверки пришла новая цена
func (m *Monitor) sampleReturns(users []string) {
	seen := make(map[string]struct{})
	for _, user := range users {
		for _, pos := range m.positions.Positions(user) {
			if _, ok := seen[pos.Symbol]; ok {
				continue
			}
			seen[pos.Symbol] = struct{}{}
			if p, err := m.prices.GetLatestPrice(pos.Symbol); err == nil {
				m.returns.sample(pos.Symbol, p.Price, p.Timestamp)
			}
		}
	}
}

// violation - одно нарушение правила. Symbol пуст для правил уровня счёта.
type violation struct {
	Symbol string
	Value  decimal.Decimal
	Level  models.AlertLevel
}

// evaluateRule применяет правило к снимку риска пользователя
func evaluateRule(rule *models.RiskRule, snap models.PositionRisk) []violation {
	var out []violation

	switch rule.Type {
	case models.RuleTypePosition:
		for _, exp := range snap.Positions {
			size := exp.Quantity.Abs()
			if size.GreaterThan(rule.Threshold) {
				out = append(out, violation{Symbol: exp.Symbol, Value: size, Level: Severity(exp.Drawdown)})
			}
		}

	case models.RuleTypeDrawdown:
		for _, exp := range snap.Positions {
			if exp.Drawdown.GreaterThan(rule.Threshold) {
				out = append(out, violation{Symbol: exp.Symbol, Value: exp.Drawdown, Level: Severity(exp.Drawdown)})
			}
		}

	case models.RuleTypeVaR:
		if !snap.Equity.IsPositive() {
			break
		}
		ratio := snap.VaR95.Div(snap.Equity)
		if ratio.GreaterThan(rule.Threshold) {
			out = append(out, violation{Value: ratio, Level: Severity(excess(ratio, rule.Threshold))})
		}

	case models.RuleTypeDailyLoss:
		loss := snap.DailyPnL.Neg()
		if loss.GreaterThan(rule.Threshold) {
			out = append(out, violation{Value: loss, Level: Severity(excess(loss, rule.Threshold))})
		}
	}

	return out
}

// excess - относительное превышение порога
func excess(value, threshold decimal.Decimal) decimal.Decimal {
	if !threshold.IsPositive() {
		return decimal.NewFromInt(1)
	}
	return value.Sub(threshold).Div(threshold)
}

func (m *Monitor) handleViolation(ctx context.Context, userID string, rule *models.RiskRule, v violation, result *SweepResult) {
	alert := models.RiskAlert{
		RuleID:     rule.ID,
		UserID:     userID,
		StrategyID: rule.StrategyID,
		Symbol:     v.Symbol,
		Level:      v.Level,
		Action:     rule.Action,
		Value:      v.Value,
		Threshold:  rule.Threshold,
	}
	if v.Symbol != "" {
		alert.Message = fmt.Sprintf("risk rule '%s' violated for %s: %s > %s", rule.Name, v.Symbol, v.Value.StringFixed(4), rule.Threshold.String())
	} else {
		alert.Message = fmt.Sprintf("risk rule '%s' violated: %s > %s", rule.Name, v.Value.StringFixed(4), rule.Threshold.String())
	}

	raised, ok, err := m.raise(ctx, alert, true)
	if err != nil {
		m.logger.Error("failed to record risk alert", zap.String("rule_id", rule.ID), zap.Error(err))
		return
	}
	if !ok {
		result.Suppressed++
		return
	}
	result.Alerts++

	if m.act(ctx, rule, raised) {
		result.Actions++
	}
}

// act выполняет действие правила. Возвращает true, если действие выполнено.
func (m *Monitor) act(ctx context.Context, rule *models.RiskRule, alert *models.RiskAlert) bool {
	reason := fmt.Sprintf("risk rule %s (%s)", rule.Name, alert.ID)

	switch rule.Action {
	case models.ActionClosePosition:
		if m.closePosition == nil {
			m.logger.Warn("close_position action without executor", zap.String("rule_id", rule.ID))
			return false
		}
		symbols := []string{alert.Symbol}
		if alert.Symbol == "" {
			symbols = symbols[:0]
			for _, p := range m.positions.Positions(alert.UserID) {
				symbols = append(symbols, p.Symbol)
			}
		}
		done := false
		for _, sym := range symbols {
			if err := m.closePosition(ctx, alert.UserID, sym, reason); err != nil {
				m.logger.Error("close position failed",
					utils.UserID(alert.UserID),
					utils.Symbol(sym),
					zap.Error(err),
				)
				continue
			}
			done = true
		}
		return done

	case models.ActionStopStrategy:
		if rule.StrategyID != "" {
			m.guard.Disable(rule.StrategyID, reason)
		} else {
			m.guard.DisableUser(alert.UserID, reason)
		}
		return true
	}
	return false
}

// ============================================================
// Алерты
// ============================================================

func dedupKey(ruleID, userID, symbol string) string {
	return ruleID + "|" + userID + "|" + symbol
}

// raise записывает алерт. При dedup=true алерт не повторяется, пока
// предыдущий по тому же правилу и ключу не подтверждён и не ниже по уровню.
func (m *Monitor) raise(ctx context.Context, alert models.RiskAlert, dedup bool) (*models.RiskAlert, bool, error) {
	key := dedupKey(alert.RuleID, alert.UserID, alert.Symbol)

	m.activeMu.Lock()
	defer m.activeMu.Unlock()

	if dedup {
		if prev, ok := m.active[key]; ok && prev.level.Rank() >= alert.Level.Rank() {
			return nil, false, nil
		}
	}

	alert.ID = uuid.NewString()
	alert.CreatedAt = m.now().UTC()
	if err := m.store.CreateAlert(ctx, &alert); err != nil {
		return nil, false, err
	}
	if dedup {
		m.active[key] = activeAlert{id: alert.ID, level: alert.Level}
	}

	metrics.RecordAlert(string(alert.Level), string(alert.Action))
	m.logger.Warn("risk alert",
		zap.String("alert_id", alert.ID),
		zap.String("rule_id", alert.RuleID),
		utils.UserID(alert.UserID),
		utils.Symbol(alert.Symbol),
		zap.String("level", string(alert.Level)),
		zap.String("message", alert.Message),
	)

	m.notify(alert)
	return &alert, true, nil
}

func (m *Monitor) notify(alert models.RiskAlert) {
	m.hooksMu.RLock()
	hooks := m.hooks
	m.hooksMu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("alert hook panic", zap.Any("panic", r))
				}
			}()
			hook(alert)
		}()
	}
}

// RaiseAlert записывает системный алерт (рассогласование, ликвидация)
// без подавления повторов
func (m *Monitor) RaiseAlert(ctx context.Context, alert models.RiskAlert) (*models.RiskAlert, error) {
	raised, _, err := m.raise(ctx, alert, false)
	return raised, err
}

// AcknowledgeAlert подтверждает алерт и снимает подавление повторов
func (m *Monitor) AcknowledgeAlert(ctx context.Context, id string) (*models.RiskAlert, error) {
	alert, err := m.store.AcknowledgeAlert(ctx, id, m.now().UTC())
	if err != nil {
		return nil, err
	}

	m.activeMu.Lock()
	key := dedupKey(alert.RuleID, alert.UserID, alert.Symbol)
	if prev, ok := m.active[key]; ok && prev.id == alert.ID {
		delete(m.active, key)
	}
	m.activeMu.Unlock()

	return alert, nil
}

// ListAlerts возвращает журнал алертов
func (m *Monitor) ListAlerts(ctx context.Context, filter AlertFilter) ([]*models.RiskAlert, error) {
	return m.store.ListAlerts(ctx, filter)
}

// ============================================================
// get_position_risk
// ============================================================

// PositionRisk считает метрики риска пользователя на текущий момент
func (m *Monitor) PositionRisk(userID string) models.PositionRisk {
	acc := m.valuer.Account(userID)

	risk := models.PositionRisk{
		UserID:        userID,
		Equity:        acc.Equity,
		PositionValue: acc.PortfolioValue,
		UnrealizedPnL: acc.Unrealized,
		RealizedPnL:   acc.Realized,
		DailyPnL:      acc.DailyRealized,
		Positions:     make([]models.PositionExposure, 0, len(acc.Exposures)),
		Timestamp:     m.now().UTC(),
	}

	var largest decimal.Decimal
	var weightedVol float64
	for _, exp := range acc.Exposures {
		key := models.PositionKey{UserID: userID, Symbol: exp.Symbol}
		pos := models.Position{UserID: userID, Symbol: exp.Symbol, Quantity: exp.Quantity, AveragePrice: exp.AveragePrice}
		exp.Drawdown = m.tracker.observe(key, pos, exp.MarkPrice)
		risk.Positions = append(risk.Positions, exp)

		if exp.Drawdown.GreaterThan(risk.MaxDrawdown) {
			risk.MaxDrawdown = exp.Drawdown
		}

		value := exp.MarketValue.Abs()
		if value.GreaterThan(largest) {
			largest = value
		}

		returns := m.returns.get(exp.Symbol)
		risk.VaR95 = risk.VaR95.Add(value.Mul(decimal.NewFromFloat(historicalVaR95(returns))))

		w, _ := value.Float64()
		weightedVol += w * stddev(returns)
	}

	if acc.Equity.IsPositive() {
		risk.Leverage = acc.PortfolioValue.Div(acc.Equity)
	}
	if acc.PortfolioValue.IsPositive() {
		risk.MarginRatio = acc.Equity.Div(acc.PortfolioValue)
		risk.ConcentrationRatio = largest.Div(acc.PortfolioValue)
		pv, _ := acc.PortfolioValue.Float64()
		risk.Volatility = decimal.NewFromFloat(weightedVol / pv)
	}
	risk.VaR95 = risk.VaR95.Round(8)

	return risk
}
