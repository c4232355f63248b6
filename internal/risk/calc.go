package risk

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"quanttrade/internal/models"
)

// PriceSource - источник последних цен (marketdata.Feed)
type PriceSource interface {
	GetLatestPrice(symbol string) (models.PriceEntry, error)
}

// PositionSource - источник позиций и реализованного PnL (ledger.Ledger)
type PositionSource interface {
	Positions(userID string) []models.Position
	Users() []string
	RealizedPnL(userID string) decimal.Decimal
	DailyRealizedPnL(userID string) decimal.Decimal
}

// Severity - уровень алерта по доле просадки / превышения
//
//	>= 0.5 EXTREME, >= 0.3 HIGH, >= 0.1 MEDIUM, иначе LOW
func Severity(ratio decimal.Decimal) models.AlertLevel {
	switch {
	case ratio.GreaterThanOrEqual(decimal.NewFromFloat(0.5)):
		return models.AlertExtreme
	case ratio.GreaterThanOrEqual(decimal.NewFromFloat(0.3)):
		return models.AlertHigh
	case ratio.GreaterThanOrEqual(decimal.NewFromFloat(0.1)):
		return models.AlertMedium
	default:
		return models.AlertLow
	}
}

// ============================================================
// Account - оценка счёта пользователя на момент вызова
// ============================================================

// Account - equity и экспозиция пользователя
type Account struct {
	UserID         string
	Equity         decimal.Decimal
	PortfolioValue decimal.Decimal // сумма |стоимостей| позиций
	Unrealized     decimal.Decimal
	Realized       decimal.Decimal
	DailyRealized  decimal.Decimal
	Exposures      []models.PositionExposure
}

// Valuer считает equity = initial_capital + realized + unrealized
type Valuer struct {
	positions      PositionSource
	prices         PriceSource
	initialCapital decimal.Decimal
}

// NewValuer создаёт оценщик счетов
func NewValuer(positions PositionSource, prices PriceSource, initialCapital decimal.Decimal) *Valuer {
	return &Valuer{positions: positions, prices: prices, initialCapital: initialCapital}
}

// InitialCapital возвращает стартовый капитал пользователя
func (v *Valuer) InitialCapital() decimal.Decimal {
	return v.initialCapital
}

// Account оценивает счёт пользователя. Позиция без цены
// оценивается по средней цене входа и помечается Stale.
func (v *Valuer) Account(userID string) Account {
	acc := Account{
		UserID:        userID,
		Realized:      v.positions.RealizedPnL(userID),
		DailyRealized: v.positions.DailyRealizedPnL(userID),
	}

	for _, pos := range v.positions.Positions(userID) {
		mark := pos.AveragePrice
		stale := true
		if p, err := v.prices.GetLatestPrice(pos.Symbol); err == nil {
			mark = p.Price
			stale = p.Stale
		}

		exp := models.PositionExposure{
			Symbol:        pos.Symbol,
			Quantity:      pos.Quantity,
			AveragePrice:  pos.AveragePrice,
			MarkPrice:     mark,
			MarketValue:   pos.MarketValue(mark),
			UnrealizedPnL: pos.UnrealizedPnL(mark),
			Stale:         stale,
		}
		acc.Exposures = append(acc.Exposures, exp)
		acc.PortfolioValue = acc.PortfolioValue.Add(exp.MarketValue.Abs())
		acc.Unrealized = acc.Unrealized.Add(exp.UnrealizedPnL)
	}

	acc.Equity = v.initialCapital.Add(acc.Realized).Add(acc.Unrealized)
	return acc
}

// ============================================================
// Просадка позиций
// ============================================================

type peakState struct {
	long    bool
	entry   decimal.Decimal
	extreme decimal.Decimal // пик для длинной, минимум для короткой
}

// drawdownTracker хранит лучшую отметку цены с момента открытия позиции
type drawdownTracker struct {
	mu    sync.Mutex
	peaks map[models.PositionKey]peakState
}

func newDrawdownTracker() *drawdownTracker {
	return &drawdownTracker{peaks: make(map[models.PositionKey]peakState)}
}

// observe учитывает текущую отметку и возвращает просадку:
// long: (peak - mark) / peak, short: (mark - trough) / trough.
// Смена направления или средней цены начинает отсчёт заново.
func (t *drawdownTracker) observe(key models.PositionKey, pos models.Position, mark decimal.Decimal) decimal.Decimal {
	if pos.IsFlat() || !mark.IsPositive() {
		return decimal.Zero
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.peaks[key]
	long := pos.IsLong()
	if !ok || st.long != long || !st.entry.Equal(pos.AveragePrice) {
		st = peakState{long: long, entry: pos.AveragePrice, extreme: pos.AveragePrice}
	}

	var dd decimal.Decimal
	if long {
		if mark.GreaterThan(st.extreme) {
			st.extreme = mark
		}
		dd = st.extreme.Sub(mark).Div(st.extreme)
	} else {
		if mark.LessThan(st.extreme) {
			st.extreme = mark
		}
		dd = mark.Sub(st.extreme).Div(st.extreme)
	}
	t.peaks[key] = st

	if dd.IsNegative() {
		return decimal.Zero
	}
	return dd
}

// retain удаляет состояние закрытых позиций
func (t *drawdownTracker) retain(open map[models.PositionKey]struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.peaks {
		if _, ok := open[k]; !ok {
			delete(t.peaks, k)
		}
	}
}

// ============================================================
// Доходности для VaR / волатильности
// ============================================================

// returnSeries - скользящее окно доходностей одного символа,
// выборка делается на каждой периодической проверке
type returnSeries struct {
	last    decimal.Decimal
	lastAt  time.Time
	returns []float64
}

type returnsBook struct {
	mu     sync.Mutex
	window int
	series map[string]*returnSeries
}

func newReturnsBook(window int) *returnsBook {
	if window <= 1 {
		window = 250
	}
	return &returnsBook{window: window, series: make(map[string]*returnSeries)}
}

// sample добавляет доходность от предыдущей выборки
func (b *returnsBook) sample(symbol string, price decimal.Decimal, at time.Time) {
	if !price.IsPositive() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.series[symbol]
	if !ok {
		b.series[symbol] = &returnSeries{last: price, lastAt: at}
		return
	}
	if !at.After(s.lastAt) {
		return
	}

	r, _ := price.Sub(s.last).Div(s.last).Float64()
	s.returns = append(s.returns, r)
	if len(s.returns) > b.window {
		s.returns = s.returns[len(s.returns)-b.window:]
	}
	s.last = price
	s.lastAt = at
}

func (b *returnsBook) get(symbol string) []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.series[symbol]
	if !ok {
		return nil
	}
	return append([]float64(nil), s.returns...)
}

// historicalVaR95 - исторический VaR-95 как доля стоимости:
// минус 5-й перцентиль доходностей, не меньше нуля
func historicalVaR95(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)
	idx := int(math.Floor(0.05 * float64(len(sorted))))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	if v := -sorted[idx]; v > 0 {
		return v
	}
	return 0
}

// stddev - выборочное стандартное отклонение
func stddev(returns []float64) float64 {
	n := len(returns)
	if n < 2 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(n)

	var sum float64
	for _, r := range returns {
		sum += (r - mean) * (r - mean)
	}
	return math.Sqrt(sum / float64(n-1))
}
