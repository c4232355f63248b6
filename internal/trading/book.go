package trading

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"quanttrade/internal/models"
)

// ============================================================
// pendingBook - индексы ожидающих ордеров по цене срабатывания
// ============================================================
//
// На каждый символ пять деревьев:
//   buyLimits  - исполняются при price <= limit
//   sellLimits - исполняются при price >= limit
//   buyStops   - срабатывают при price >= stop
//   sellStops  - срабатывают при price <= stop
//   markets    - недоисполненные MARKET (по очереди поступления)
// Тик проходит только по пересечённым записям.

type bookKind uint8

const (
	kindBuyLimit bookKind = iota
	kindSellLimit
	kindBuyStop
	kindSellStop
	kindMarket
)

type bookEntry struct {
	price   decimal.Decimal
	seq     uint64
	orderID string
}

func lessEntry(a, b bookEntry) bool {
	if c := a.price.Cmp(b.price); c != 0 {
		return c < 0
	}
	return a.seq < b.seq
}

type bookLocation struct {
	symbol string
	kind   bookKind
	entry  bookEntry
}

type symbolBook struct {
	trees [5]*btree.BTreeG[bookEntry]
}

func newSymbolBook() *symbolBook {
	sb := &symbolBook{}
	for i := range sb.trees {
		sb.trees[i] = btree.NewBTreeG[bookEntry](lessEntry)
	}
	return sb
}

func (sb *symbolBook) empty() bool {
	for _, t := range sb.trees {
		if t.Len() > 0 {
			return false
		}
	}
	return true
}

type pendingBook struct {
	mu      sync.Mutex
	symbols map[string]*symbolBook
	where   map[string]bookLocation
	seq     uint64
}

func newPendingBook() *pendingBook {
	return &pendingBook{
		symbols: make(map[string]*symbolBook),
		where:   make(map[string]bookLocation),
	}
}

// kindFor определяет индекс для ордера в его текущем состоянии
func kindFor(o *models.Order) (bookKind, decimal.Decimal) {
	switch o.EffectiveType() {
	case models.OrderTypeLimit:
		if o.Side == models.SideBuy {
			return kindBuyLimit, o.LimitPrice
		}
		return kindSellLimit, o.LimitPrice
	case models.OrderTypeStop, models.OrderTypeStopLimit:
		if o.Side == models.SideBuy {
			return kindBuyStop, o.StopPrice
		}
		return kindSellStop, o.StopPrice
	default:
		return kindMarket, decimal.Zero
	}
}

// add индексирует ордер. Повторное добавление переносит запись.
func (b *pendingBook) add(o *models.Order) {
	kind, price := kindFor(o)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.removeLocked(o.ID)

	sb, ok := b.symbols[o.Symbol]
	if !ok {
		sb = newSymbolBook()
		b.symbols[o.Symbol] = sb
	}
	b.seq++
	e := bookEntry{price: price, seq: b.seq, orderID: o.ID}
	sb.trees[kind].Set(e)
	b.where[o.ID] = bookLocation{symbol: o.Symbol, kind: kind, entry: e}
}

// remove убирает ордер из индексов
func (b *pendingBook) remove(orderID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(orderID)
}

func (b *pendingBook) removeLocked(orderID string) bool {
	loc, ok := b.where[orderID]
	if !ok {
		return false
	}
	delete(b.where, orderID)
	if sb, ok := b.symbols[loc.symbol]; ok {
		sb.trees[loc.kind].Delete(loc.entry)
		if sb.empty() {
			delete(b.symbols, loc.symbol)
		}
	}
	return true
}

// take извлекает из индексов все ордера символа, пересечённые ценой,
// в порядке поступления
func (b *pendingBook) take(symbol string, price decimal.Decimal) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	sb, ok := b.symbols[symbol]
	if !ok {
		return nil
	}

	var hit []bookEntry
	collectFrom := func(t *btree.BTreeG[bookEntry]) {
		// цена срабатывания >= price
		t.Ascend(bookEntry{price: price}, func(e bookEntry) bool {
			hit = append(hit, e)
			return true
		})
	}
	collectUpTo := func(t *btree.BTreeG[bookEntry]) {
		// цена срабатывания <= price
		t.Scan(func(e bookEntry) bool {
			if e.price.GreaterThan(price) {
				return false
			}
			hit = append(hit, e)
			return true
		})
	}

	collectFrom(sb.trees[kindBuyLimit])
	collectUpTo(sb.trees[kindSellLimit])
	collectUpTo(sb.trees[kindBuyStop])
	collectFrom(sb.trees[kindSellStop])
	sb.trees[kindMarket].Scan(func(e bookEntry) bool {
		hit = append(hit, e)
		return true
	})

	if len(hit) == 0 {
		return nil
	}

	sort.Slice(hit, func(i, j int) bool { return hit[i].seq < hit[j].seq })
	ids := make([]string, 0, len(hit))
	for _, e := range hit {
		b.removeLocked(e.orderID)
		ids = append(ids, e.orderID)
	}
	return ids
}

// contains проверяет, индексирован ли ордер
func (b *pendingBook) contains(orderID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.where[orderID]
	return ok
}

// Len возвращает количество индексированных ордеров
func (b *pendingBook) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.where)
}
