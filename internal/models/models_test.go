package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// ============================================================
// Order
// ============================================================

func TestOrderStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status OrderStatus
		want   bool
	}{
		{OrderStatusPending, false},
		{OrderStatusPartial, false},
		{OrderStatusFilled, true},
		{OrderStatusCancelled, true},
		{OrderStatusRejected, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.want {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.want)
			}
			o := &Order{Status: tt.status}
			if o.IsCancellable() == tt.want {
				t.Errorf("IsCancellable() = %v for %s", o.IsCancellable(), tt.status)
			}
		})
	}
}

func TestOrder_EffectiveType(t *testing.T) {
	tests := []struct {
		name      string
		typ       OrderType
		triggered bool
		want      OrderType
	}{
		{"market", OrderTypeMarket, false, OrderTypeMarket},
		{"stop waiting", OrderTypeStop, false, OrderTypeStop},
		{"stop triggered", OrderTypeStop, true, OrderTypeMarket},
		{"stop limit triggered", OrderTypeStopLimit, true, OrderTypeLimit},
		{"limit flag ignored", OrderTypeLimit, true, OrderTypeLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &Order{Type: tt.typ, Triggered: tt.triggered}
			if got := o.EffectiveType(); got != tt.want {
				t.Errorf("EffectiveType() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestOrder_RemainingAndClone(t *testing.T) {
	o := &Order{ID: "o1", Quantity: d("10"), FilledQuantity: d("3.5")}
	if !o.Remaining().Equal(d("6.5")) {
		t.Errorf("Remaining() = %s, want 6.5", o.Remaining())
	}

	c := o.Clone()
	c.FilledQuantity = d("10")
	if !o.FilledQuantity.Equal(d("3.5")) {
		t.Error("clone shares state with original")
	}

	var nilOrder *Order
	if nilOrder.Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}

func TestOrderSide(t *testing.T) {
	if SideBuy.Opposite() != SideSell || SideSell.Opposite() != SideBuy {
		t.Error("Opposite is wrong")
	}
	if !SideBuy.Sign().Equal(d("1")) || !SideSell.Sign().Equal(d("-1")) {
		t.Error("Sign is wrong")
	}
	if !OrderTypeLimit.RequiresLimitPrice() || !OrderTypeStopLimit.RequiresLimitPrice() || OrderTypeStop.RequiresLimitPrice() {
		t.Error("RequiresLimitPrice is wrong")
	}
	if !OrderTypeStop.RequiresStopPrice() || OrderTypeLimit.RequiresStopPrice() {
		t.Error("RequiresStopPrice is wrong")
	}
}

// ============================================================
// Position
// ============================================================

func TestPosition_PnL(t *testing.T) {
	tests := []struct {
		name  string
		qty   string
		avg   string
		price string
		value string
		pnl   string
	}{
		{"long in profit", "2", "100", "110", "220", "20"},
		{"short in profit", "-2", "100", "90", "180", "20"},
		{"short in loss", "-1", "100", "120", "120", "-20"},
		{"flat", "0", "0", "100", "0", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Position{Quantity: d(tt.qty), AveragePrice: d(tt.avg)}
			if got := p.MarketValue(d(tt.price)); !got.Equal(d(tt.value)) {
				t.Errorf("MarketValue = %s, want %s", got, tt.value)
			}
			if got := p.UnrealizedPnL(d(tt.price)); !got.Equal(d(tt.pnl)) {
				t.Errorf("UnrealizedPnL = %s, want %s", got, tt.pnl)
			}
		})
	}

	p := &Position{UserID: "u1", Symbol: "BTCUSDT", Quantity: d("-1")}
	if !p.IsShort() || p.IsLong() || p.IsFlat() {
		t.Error("direction helpers are wrong")
	}
	if p.Key().String() != "u1|BTCUSDT" {
		t.Errorf("Key() = %s", p.Key())
	}
}

func TestFill_Notional(t *testing.T) {
	f := &Fill{Quantity: d("0.5"), Price: d("42000")}
	if !f.Notional().Equal(d("21000")) {
		t.Errorf("Notional = %s", f.Notional())
	}
}

// ============================================================
// Risk
// ============================================================

func TestAlertLevel_Rank(t *testing.T) {
	levels := []AlertLevel{AlertLow, AlertMedium, AlertHigh, AlertExtreme}
	for i := 1; i < len(levels); i++ {
		if levels[i].Rank() <= levels[i-1].Rank() {
			t.Errorf("%s should rank above %s", levels[i], levels[i-1])
		}
	}
}

func TestRiskRule_AppliesTo(t *testing.T) {
	global := &RiskRule{}
	personal := &RiskRule{UserID: "alice"}

	if !global.AppliesTo("bob") {
		t.Error("global rule should apply to everyone")
	}
	if !personal.AppliesTo("alice") || personal.AppliesTo("bob") {
		t.Error("personal rule applies to wrong users")
	}
}

func TestPriceEntry_HasPrice(t *testing.T) {
	if (PriceEntry{}).HasPrice() {
		t.Error("zero price should not count")
	}
	if !(PriceEntry{Price: d("0.01")}).HasPrice() {
		t.Error("positive price should count")
	}
}

// ============================================================
// Errors
// ============================================================

func TestErrors_Is(t *testing.T) {
	cause := errors.New("dial tcp: refused")

	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"validation", NewValidationError("quantity", "must be positive"), ErrValidation},
		{"wrapped validation", fmt.Errorf("submit: %w", NewValidationError("", "bad")), ErrValidation},
		{"risk", NewRiskRejected("max_leverage", "too high"), ErrRiskRejected},
		{"connection", &ConnectionError{Venue: "sim", Original: cause}, ErrConnection},
		{"connection cause", &ConnectionError{Venue: "sim", Original: cause}, cause},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.target) {
				t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.target)
			}
		})
	}

	var rr *RiskRejectedError
	if !errors.As(fmt.Errorf("wrap: %w", NewRiskRejected("max_concentration", "x")), &rr) || rr.Check != "max_concentration" {
		t.Error("RiskRejectedError not reachable through wrapping")
	}
	if got := NewValidationError("", "empty").Error(); got != "validation error: empty" {
		t.Errorf("unexpected message %q", got)
	}
}
