package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"quanttrade/internal/ledger"
	"quanttrade/internal/models"
)

type fakePrices struct {
	mu     sync.Mutex
	prices map[string]models.PriceEntry
}

func newFakePrices() *fakePrices {
	return &fakePrices{prices: make(map[string]models.PriceEntry)}
}

func (f *fakePrices) set(symbol, price string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = models.PriceEntry{Symbol: symbol, Price: dec(price), Timestamp: at}
}

func (f *fakePrices) GetLatestPrice(symbol string) (models.PriceEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[symbol]
	if !ok {
		return models.PriceEntry{}, models.ErrNotAvailable
	}
	return p, nil
}

type monitorFixture struct {
	monitor *Monitor
	ledger  *ledger.Ledger
	prices  *fakePrices
	store   *MemoryStore
	closed  []string
	alerts  []models.RiskAlert
}

func newMonitorFixture(t *testing.T) *monitorFixture {
	t.Helper()
	fx := &monitorFixture{
		ledger: ledger.New(nil),
		prices: newFakePrices(),
		store:  NewMemoryStore(),
	}
	valuer := NewValuer(fx.ledger, fx.prices, dec("1000000"))
	fx.monitor = NewMonitor(MonitorConfig{CheckInterval: time.Hour, ReturnsWindow: 10},
		fx.store, valuer, fx.ledger, fx.prices, NewStrategyGuard(nil), nil)
	fx.monitor.SetClosePositionFunc(func(ctx context.Context, userID, symbol, reason string) error {
		fx.closed = append(fx.closed, userID+"/"+symbol)
		return nil
	})
	fx.monitor.AddAlertHook(func(a models.RiskAlert) { fx.alerts = append(fx.alerts, a) })
	return fx
}

func (fx *monitorFixture) addRule(t *testing.T, id string, typ models.RuleType, threshold string, action models.RuleAction) *models.RiskRule {
	t.Helper()
	rule := &models.RiskRule{
		ID:        id,
		Name:      id,
		Type:      typ,
		Threshold: dec(threshold),
		Action:    action,
		Enabled:   true,
		CreatedAt: time.Now(),
	}
	if err := fx.store.CreateRule(context.Background(), rule); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	return rule
}

func TestPositionRisk_Metrics(t *testing.T) {
	fx := newMonitorFixture(t)
	now := time.Now()

	_, _, _ = fx.ledger.ApplyFill("u1", "a", models.SideBuy, dec("10"), dec("100"))
	_, _, _ = fx.ledger.ApplyFill("u1", "b", models.SideSell, dec("5"), dec("200"))
	fx.prices.set("a", "110", now)
	fx.prices.set("b", "190", now)

	risk := fx.monitor.PositionRisk("u1")

	// unrealized: (110-100)*10 + (190-200)*(-5) = 100 + 50
	if !risk.UnrealizedPnL.Equal(dec("150")) {
		t.Errorf("unrealized = %s, want 150", risk.UnrealizedPnL)
	}
	// |1100| + |-950|
	if !risk.PositionValue.Equal(dec("2050")) {
		t.Errorf("position value = %s, want 2050", risk.PositionValue)
	}
	if !risk.Equity.Equal(dec("1000150")) {
		t.Errorf("equity = %s, want 1000150", risk.Equity)
	}
	if len(risk.Positions) != 2 {
		t.Fatalf("positions = %d, want 2", len(risk.Positions))
	}
	wantConc := dec("1100").Div(dec("2050"))
	if !risk.ConcentrationRatio.Equal(wantConc) {
		t.Errorf("concentration = %s, want %s", risk.ConcentrationRatio, wantConc)
	}
}

func TestPositionRisk_MissingPriceUsesEntry(t *testing.T) {
	fx := newMonitorFixture(t)
	_, _, _ = fx.ledger.ApplyFill("u1", "a", models.SideBuy, dec("1"), dec("100"))

	risk := fx.monitor.PositionRisk("u1")
	if len(risk.Positions) != 1 || !risk.Positions[0].Stale {
		t.Fatalf("positions = %+v, want one stale exposure", risk.Positions)
	}
	if !risk.UnrealizedPnL.IsZero() {
		t.Errorf("unrealized = %s, want 0", risk.UnrealizedPnL)
	}
}

func TestDrawdownTracker(t *testing.T) {
	tests := []struct {
		name  string
		qty   string
		marks []string
		want  string
	}{
		{"long from peak", "1", []string{"120", "90"}, "0.25"},
		{"long never above entry", "1", []string{"80"}, "0.2"},
		{"long at new high", "1", []string{"110", "130"}, "0"},
		{"short from trough", "-1", []string{"80", "100"}, "0.25"},
		{"short in profit", "-1", []string{"90"}, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newDrawdownTracker()
			key := models.PositionKey{UserID: "u", Symbol: "s"}
			pos := models.Position{Quantity: dec(tt.qty), AveragePrice: dec("100")}
			var got decimal.Decimal
			for _, m := range tt.marks {
				got = tr.observe(key, pos, dec(m))
			}
			if !got.Equal(dec(tt.want)) {
				t.Errorf("drawdown = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestHistoricalVaR95(t *testing.T) {
	returns := make([]float64, 100)
	for i := range returns {
		returns[i] = float64(i-50) / 1000 // -0.05 ... 0.049
	}
	got := historicalVaR95(returns)
	if got < 0.044 || got > 0.046 {
		t.Errorf("VaR95 = %v, want ~0.045", got)
	}
	if historicalVaR95([]float64{0.01, 0.02}) != 0 {
		t.Error("all-positive returns must give zero VaR")
	}
	if historicalVaR95(nil) != 0 {
		t.Error("no returns must give zero VaR")
	}
}

func TestSweep_DrawdownRuleRaisesAndSuppresses(t *testing.T) {
	fx := newMonitorFixture(t)
	fx.addRule(t, "dd", models.RuleTypeDrawdown, "0.2", models.ActionAlertOnly)

	_, _, _ = fx.ledger.ApplyFill("u1", "a", models.SideBuy, dec("1"), dec("100"))
	fx.prices.set("a", "65", time.Now()) // просадка 0.35 → HIGH

	res, err := fx.monitor.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Alerts != 1 {
		t.Fatalf("alerts = %d, want 1", res.Alerts)
	}
	if len(fx.alerts) != 1 || fx.alerts[0].Level != models.AlertHigh || fx.alerts[0].Symbol != "a" || fx.alerts[0].UserID != "u1" {
		t.Fatalf("hook alerts = %+v", fx.alerts)
	}

	// тот же уровень не повторяется, пока алерт не подтверждён
	res, _ = fx.monitor.Sweep(context.Background())
	if res.Alerts != 0 || res.Suppressed != 1 {
		t.Errorf("second sweep = %+v, want suppressed", res)
	}

	// эскалация до EXTREME проходит
	fx.prices.set("a", "40", time.Now())
	res, _ = fx.monitor.Sweep(context.Background())
	if res.Alerts != 1 {
		t.Errorf("escalation sweep = %+v, want 1 alert", res)
	}

	// после подтверждения алерт снова может быть поднят
	if _, err := fx.monitor.AcknowledgeAlert(context.Background(), fx.alerts[1].ID); err != nil {
		t.Fatalf("AcknowledgeAlert: %v", err)
	}
	res, _ = fx.monitor.Sweep(context.Background())
	if res.Alerts != 1 {
		t.Errorf("after ack sweep = %+v, want 1 alert", res)
	}
}

func TestSweep_Actions(t *testing.T) {
	tests := []struct {
		name       string
		strategyID string
		action     models.RuleAction
		check      func(t *testing.T, fx *monitorFixture)
	}{
		{
			name:   "close position",
			action: models.ActionClosePosition,
			check: func(t *testing.T, fx *monitorFixture) {
				if len(fx.closed) != 1 || fx.closed[0] != "u1/a" {
					t.Errorf("closed = %v", fx.closed)
				}
			},
		},
		{
			name:       "stop strategy",
			strategyID: "s1",
			action:     models.ActionStopStrategy,
			check: func(t *testing.T, fx *monitorFixture) {
				if ok, _ := fx.monitor.Guard().Allowed("u1", "s1"); ok {
					t.Error("strategy s1 still allowed")
				}
				if ok, _ := fx.monitor.Guard().Allowed("u1", "s2"); !ok {
					t.Error("unrelated strategy blocked")
				}
				fx.monitor.Guard().Enable("s1")
				if ok, _ := fx.monitor.Guard().Allowed("u1", "s1"); !ok {
					t.Error("strategy s1 not re-enabled")
				}
			},
		},
		{
			name:   "stop strategy without id blocks user",
			action: models.ActionStopStrategy,
			check: func(t *testing.T, fx *monitorFixture) {
				g := fx.monitor.Guard()
				if ok, _ := g.Allowed("u1", ""); ok {
					t.Error("user u1 still allowed")
				}
				disabled := g.Disabled()
				if len(disabled) != 1 || disabled[0].Scope != ScopeUser || disabled[0].Key != "u1" {
					t.Fatalf("disabled = %+v, want user u1", disabled)
				}
				// снятие блокировки стратегии пользователя не разблокирует
				g.Enable("u1")
				if ok, _ := g.Allowed("u1", ""); ok {
					t.Error("strategy enable lifted user block")
				}
				if !g.EnableUser("u1") {
					t.Error("EnableUser reported no change")
				}
				if ok, _ := g.Allowed("u1", ""); !ok {
					t.Error("user u1 not re-enabled")
				}
			},
		},
		{
			name:   "alert only",
			action: models.ActionAlertOnly,
			check: func(t *testing.T, fx *monitorFixture) {
				if len(fx.closed) != 0 {
					t.Errorf("closed = %v, want none", fx.closed)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newMonitorFixture(t)
			rule := fx.addRule(t, "pos", models.RuleTypePosition, "5", tt.action)
			rule.StrategyID = tt.strategyID
			_ = fx.store.UpdateRule(context.Background(), rule)

			_, _, _ = fx.ledger.ApplyFill("u1", "a", models.SideBuy, dec("6"), dec("100"))
			_, _, _ = fx.ledger.ApplyFill("u1", "b", models.SideBuy, dec("1"), dec("100"))
			fx.prices.set("a", "100", time.Now())
			fx.prices.set("b", "100", time.Now())

			res, err := fx.monitor.Sweep(context.Background())
			if err != nil {
				t.Fatalf("Sweep: %v", err)
			}
			if res.Violations != 1 {
				t.Fatalf("violations = %d, want 1", res.Violations)
			}
			tt.check(t, fx)
		})
	}
}

func TestSweep_DisabledAndForeignRulesIgnored(t *testing.T) {
	fx := newMonitorFixture(t)
	disabled := fx.addRule(t, "off", models.RuleTypePosition, "0", models.ActionAlertOnly)
	disabled.Enabled = false
	_ = fx.store.UpdateRule(context.Background(), disabled)

	foreign := fx.addRule(t, "other", models.RuleTypePosition, "0", models.ActionAlertOnly)
	foreign.UserID = "u2"
	_ = fx.store.UpdateRule(context.Background(), foreign)

	_, _, _ = fx.ledger.ApplyFill("u1", "a", models.SideBuy, dec("1"), dec("100"))
	fx.prices.set("a", "100", time.Now())

	res, _ := fx.monitor.Sweep(context.Background())
	if res.Violations != 0 {
		t.Errorf("violations = %d, want 0", res.Violations)
	}
}

func TestSweep_DailyLossRule(t *testing.T) {
	fx := newMonitorFixture(t)
	fx.addRule(t, "daily", models.RuleTypeDailyLoss, "50", models.ActionAlertOnly)

	// реализованный убыток (1 - 100) * 1 = -99
	_, _, _ = fx.ledger.ApplyFill("u1", "a", models.SideBuy, dec("2"), dec("100"))
	_, _, _ = fx.ledger.ApplyFill("u1", "a", models.SideSell, dec("1"), dec("1"))
	fx.prices.set("a", "100", time.Now())

	res, _ := fx.monitor.Sweep(context.Background())
	if res.Alerts != 1 {
		t.Fatalf("alerts = %d, want 1", res.Alerts)
	}
	a := fx.alerts[0]
	if !a.Value.Equal(dec("99")) || a.Symbol != "" {
		t.Errorf("alert = %+v, want account-level value 99", a)
	}
	// превышение (99-50)/50 = 0.98
	if a.Level != models.AlertExtreme {
		t.Errorf("level = %s, want EXTREME", a.Level)
	}
}

func TestSweep_VaRRuleUsesSampledReturns(t *testing.T) {
	fx := newMonitorFixture(t)
	fx.addRule(t, "var", models.RuleTypeVaR, "0.0001", models.ActionAlertOnly)

	_, _, _ = fx.ledger.ApplyFill("u1", "a", models.SideBuy, dec("100"), dec("100"))

	base := time.Now()
	for i, p := range []string{"100", "90", "95", "80", "85"} {
		fx.prices.set("a", p, base.Add(time.Duration(i)*time.Second))
		if _, err := fx.monitor.Sweep(context.Background()); err != nil {
			t.Fatalf("Sweep: %v", err)
		}
	}

	risk := fx.monitor.PositionRisk("u1")
	if !risk.VaR95.IsPositive() {
		t.Fatalf("VaR95 = %s, want positive", risk.VaR95)
	}
	if !risk.Volatility.IsPositive() {
		t.Errorf("volatility = %s, want positive", risk.Volatility)
	}

	alerts, _ := fx.store.ListAlerts(context.Background(), AlertFilter{UserID: "u1"})
	found := false
	for _, a := range alerts {
		if a.RuleID == "var" && a.Symbol == "" {
			found = true
		}
	}
	if !found {
		t.Error("no account-level VaR alert recorded")
	}
}

func TestRaiseAlert_SystemAlertsNotSuppressed(t *testing.T) {
	fx := newMonitorFixture(t)
	alert := models.RiskAlert{
		RuleID:  models.RuleIDInconsistency,
		UserID:  "u1",
		OrderID: "o1",
		Level:   models.AlertExtreme,
		Action:  models.ActionAlertOnly,
		Message: "fill not persisted",
	}
	for i := 0; i < 2; i++ {
		if _, err := fx.monitor.RaiseAlert(context.Background(), alert); err != nil {
			t.Fatalf("RaiseAlert: %v", err)
		}
	}
	if len(fx.alerts) != 2 {
		t.Errorf("alerts = %d, want 2", len(fx.alerts))
	}
}

func TestAcknowledgeAlert_NotFound(t *testing.T) {
	fx := newMonitorFixture(t)
	if _, err := fx.monitor.AcknowledgeAlert(context.Background(), "missing"); !errors.Is(err, models.ErrAlertNotFound) {
		t.Errorf("err = %v, want ErrAlertNotFound", err)
	}
}

func TestStartLoadsActiveAlerts(t *testing.T) {
	fx := newMonitorFixture(t)
	fx.addRule(t, "dd", models.RuleTypeDrawdown, "0.1", models.ActionAlertOnly)
	_ = fx.store.CreateAlert(context.Background(), &models.RiskAlert{
		ID: "prev", RuleID: "dd", UserID: "u1", Symbol: "a", Level: models.AlertExtreme,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := fx.monitor.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer fx.monitor.Stop()

	_, _, _ = fx.ledger.ApplyFill("u1", "a", models.SideBuy, dec("1"), dec("100"))
	fx.prices.set("a", "50", time.Now())

	res, _ := fx.monitor.Sweep(ctx)
	if res.Suppressed != 1 {
		t.Errorf("result = %+v, want alert suppressed by persisted one", res)
	}
}

func ExampleSeverity() {
	fmt.Println(Severity(decimal.NewFromFloat(0.35)))
	// Output: HIGH
}

func TestStrategyGuard_DisabledListsBothScopes(t *testing.T) {
	g := NewStrategyGuard(nil)
	g.DisableUser("u2", "rule")
	g.Disable("s1", "operator")
	g.DisableUser("u1", "rule")

	got := g.Disabled()
	want := []struct{ scope, key string }{
		{ScopeStrategy, "s1"},
		{ScopeUser, "u1"},
		{ScopeUser, "u2"},
	}
	if len(got) != len(want) {
		t.Fatalf("disabled = %+v", got)
	}
	for i, w := range want {
		if got[i].Scope != w.scope || got[i].Key != w.key {
			t.Errorf("entry %d = %s/%s, want %s/%s", i, got[i].Scope, got[i].Key, w.scope, w.key)
		}
	}
}

func TestSweep_PositionRuleMeasuresSize(t *testing.T) {
	tests := []struct {
		name       string
		qty        string
		violations int
	}{
		{"large value, small size", "2", 0},
		{"size above threshold", "6", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newMonitorFixture(t)
			fx.addRule(t, "size", models.RuleTypePosition, "5", models.ActionAlertOnly)

			_, _, _ = fx.ledger.ApplyFill("u1", "a", models.SideBuy, dec(tt.qty), dec("1000"))
			fx.prices.set("a", "1000", time.Now())

			res, err := fx.monitor.Sweep(context.Background())
			if err != nil {
				t.Fatalf("Sweep: %v", err)
			}
			if res.Violations != tt.violations {
				t.Fatalf("violations = %d, want %d", res.Violations, tt.violations)
			}
			if tt.violations > 0 && (len(fx.alerts) != 1 || !fx.alerts[0].Value.Equal(dec(tt.qty))) {
				t.Errorf("alerts = %+v, want value %s", fx.alerts, tt.qty)
			}
		})
	}
}
