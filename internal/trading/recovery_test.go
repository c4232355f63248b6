package trading

import (
	"context"
	"reflect"
	"testing"
	"time"

	"quanttrade/internal/models"
)

func TestRecovery_RestoresOrdersAndPositions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	created := time.Now().Add(-time.Hour)
	open := &models.Order{
		ID: "o1", ClientOrderID: "c1", UserID: "u1", Symbol: "rb2410",
		Side: models.SideBuy, Type: models.OrderTypeLimit, Quantity: d("2"), LimitPrice: d("100"),
		TimeInForce: models.TimeInForceGTC, Status: models.OrderStatusPending, CreatedAt: created,
	}
	done := &models.Order{
		ID: "o2", UserID: "u1", Symbol: "ag2412", Side: models.SideBuy, Type: models.OrderTypeMarket,
		Quantity: d("1"), Status: models.OrderStatusFilled, CreatedAt: created,
	}
	_ = store.CreateOrder(ctx, open)
	_ = store.CreateOrder(ctx, done)
	pos := models.Position{UserID: "u1", Symbol: "ag2412", Quantity: d("1"), AveragePrice: d("50")}
	_ = store.RecordFill(ctx, &models.Fill{ID: "f1", OrderID: "o2"}, done, &pos)

	f := newFixture(t, testTradingConfig(), store)
	result, err := NewRecovery(f.router, time.Second, nil).Recover(ctx)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}

	if result.PositionsRestored != 1 || result.OrdersRestored != 1 {
		t.Errorf("restored positions=%d orders=%d, want 1/1", result.PositionsRestored, result.OrdersRestored)
	}
	if !reflect.DeepEqual(result.Symbols, []string{"ag2412", "rb2410"}) {
		t.Errorf("symbols = %v", result.Symbols)
	}
	if p, ok := f.ledger.Get("u1", "ag2412"); !ok || !p.AveragePrice.Equal(d("50")) {
		t.Errorf("ledger position = %+v", p)
	}
	if f.router.PendingCount() != 1 {
		t.Fatalf("pending = %d, want 1", f.router.PendingCount())
	}

	// восстановленный client id занят
	f.prices.set("rb2410", "100")
	req := marketReq(models.SideBuy, "1")
	req.ClientOrderID = "c1"
	if _, err := f.router.Submit(ctx, req); err == nil {
		t.Error("duplicate client id accepted after recovery")
	}

	// восстановленный ордер исполняется
	f.tick(t, "rb2410", "99")
	got, _ := f.router.GetOrder(ctx, "o1")
	if got.Status != models.OrderStatusFilled {
		t.Errorf("recovered order status = %s", got.Status)
	}

	issues, err := NewRecovery(f.router, 0, nil).VerifyPositions(ctx)
	if err != nil {
		t.Fatalf("VerifyPositions: %v", err)
	}
	if len(issues) != 0 {
		t.Errorf("issues = %v", issues)
	}
}

func TestRecovery_VerifyPositionsReportsDrift(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testTradingConfig(), nil)
	alerts := &alertRecorder{}
	f.router.SetAlertRaiser(alerts)
	f.ledger.Restore([]models.Position{{UserID: "u1", Symbol: "a", Quantity: d("1"), AveragePrice: d("1")}})

	rc := NewRecovery(f.router, 0, nil)
	issues, err := rc.VerifyPositions(ctx)
	if err != nil {
		t.Fatalf("VerifyPositions: %v", err)
	}
	if len(issues) != 1 || issues[0].InStore || !issues[0].Ledger.Equal(d("1")) {
		t.Fatalf("issues = %v, want one missing in storage", issues)
	}
	if len(alerts.alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts.alerts))
	}
	a := alerts.alerts[0]
	if a.RuleID != models.RuleIDInconsistency || a.Level != models.AlertExtreme || a.UserID != "u1" || a.Symbol != "a" {
		t.Errorf("alert = %+v", a)
	}

	// то же расхождение повторно не алертится
	if issues, _ := rc.VerifyPositions(ctx); len(issues) != 1 {
		t.Errorf("issues = %v, want still 1", issues)
	}
	if len(alerts.alerts) != 1 {
		t.Errorf("alerts = %d, want no repeat", len(alerts.alerts))
	}
}

func TestRecovery_VerifyPositionsQuantityDrift(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	f := newFixture(t, testTradingConfig(), store)
	alerts := &alertRecorder{}
	f.router.SetAlertRaiser(alerts)
	f.prices.set("rb2410", "100")

	if _, err := f.router.Submit(ctx, marketReq(models.SideBuy, "2")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	rc := NewRecovery(f.router, 0, nil)
	if issues, err := rc.VerifyPositions(ctx); err != nil || len(issues) != 0 {
		t.Fatalf("issues = %v, err = %v, want none", issues, err)
	}

	// хранилище отстало от ledger
	store.mu.Lock()
	key := models.PositionKey{UserID: "u1", Symbol: "rb2410"}
	p := store.positions[key]
	p.Quantity = d("1")
	store.positions[key] = p
	store.mu.Unlock()

	issues, err := rc.VerifyPositions(ctx)
	if err != nil {
		t.Fatalf("VerifyPositions: %v", err)
	}
	if len(issues) != 1 || !issues[0].Ledger.Equal(d("2")) || !issues[0].Stored.Equal(d("1")) {
		t.Fatalf("issues = %v", issues)
	}
	if len(alerts.alerts) != 1 || !alerts.alerts[0].Value.Equal(d("2")) || !alerts.alerts[0].Threshold.Equal(d("1")) {
		t.Errorf("alerts = %+v", alerts.alerts)
	}
}

func TestRecovery_RunVerifierStopsOnCancel(t *testing.T) {
	f := newFixture(t, testTradingConfig(), nil)
	alerts := &alertRecorder{}
	f.router.SetAlertRaiser(alerts)
	f.ledger.Restore([]models.Position{{UserID: "u1", Symbol: "a", Quantity: d("1"), AveragePrice: d("1")}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewRecovery(f.router, 0, nil).RunVerifier(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for {
		alerts.mu.Lock()
		n := len(alerts.alerts)
		alerts.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("verifier raised no alert")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunVerifier did not stop")
	}
}
