package trading

import (
	"reflect"
	"testing"

	"quanttrade/internal/models"
)

func bookOrder(id string, side models.OrderSide, typ models.OrderType, limit, stop string) *models.Order {
	o := &models.Order{ID: id, Symbol: "a", Side: side, Type: typ}
	if limit != "" {
		o.LimitPrice = d(limit)
	}
	if stop != "" {
		o.StopPrice = d(stop)
	}
	return o
}

func TestPendingBook_Take(t *testing.T) {
	tests := []struct {
		name  string
		price string
		want  []string
	}{
		{"nothing crossed", "100", nil},
		{"buy limits at or above price", "98", []string{"bl99", "bl98"}},
		{"sell limits at or below price", "103", []string{"sl102", "bs103"}},
		{"sell stops at or above price", "90", []string{"bl99", "bl98", "ss95"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newPendingBook()
			b.add(bookOrder("bl99", models.SideBuy, models.OrderTypeLimit, "99", ""))
			b.add(bookOrder("bl98", models.SideBuy, models.OrderTypeLimit, "98", ""))
			b.add(bookOrder("sl102", models.SideSell, models.OrderTypeLimit, "102", ""))
			b.add(bookOrder("bs103", models.SideBuy, models.OrderTypeStop, "", "103"))
			b.add(bookOrder("ss95", models.SideSell, models.OrderTypeStopLimit, "94", "95"))

			got := b.take("a", d(tt.price))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("take(%s) = %v, want %v", tt.price, got, tt.want)
			}
			if b.Len() != 5-len(tt.want) {
				t.Errorf("Len = %d after take", b.Len())
			}
			for _, id := range got {
				if b.contains(id) {
					t.Errorf("%s still indexed", id)
				}
			}
		})
	}
}

func TestPendingBook_MarketsAlwaysTaken(t *testing.T) {
	b := newPendingBook()
	b.add(bookOrder("m1", models.SideBuy, models.OrderTypeMarket, "", ""))
	b.add(bookOrder("m2", models.SideSell, models.OrderTypeMarket, "", ""))

	got := b.take("a", d("1"))
	if !reflect.DeepEqual(got, []string{"m1", "m2"}) {
		t.Errorf("take = %v", got)
	}
	if got := b.take("other", d("1")); got != nil {
		t.Errorf("other symbol = %v", got)
	}
}

func TestPendingBook_ReAddMovesEntry(t *testing.T) {
	b := newPendingBook()
	o := bookOrder("x", models.SideBuy, models.OrderTypeStopLimit, "105", "103")
	b.add(o)

	// сработавший стоп-лимит переезжает в дерево лимитов
	o.Triggered = true
	b.add(o)
	if b.Len() != 1 {
		t.Fatalf("Len = %d, want 1", b.Len())
	}
	if got := b.take("a", d("106")); got != nil {
		t.Errorf("limit 105 taken at 106: %v", got)
	}
	if got := b.take("a", d("105")); len(got) != 1 {
		t.Errorf("limit 105 not taken at 105")
	}

	if b.remove("x") {
		t.Error("remove of taken order returned true")
	}
}
