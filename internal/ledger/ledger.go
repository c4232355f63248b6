package ledger

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"quanttrade/internal/models"
	"quanttrade/pkg/utils"
)

const defaultShards = 64

// Ledger - авторитетный реестр позиций (user, symbol)
//
// Единственная мутирующая операция - ApplyFill. Все изменения одного ключа
// сериализуются мьютексом шарда (ключ → шард по FNV-1a), поэтому конкурентные
// исполнения по одной позиции не перемешивают read-modify-write.
// Чтение (Get/Positions) возвращает копии, снятые под тем же мьютексом,
// и никогда не видит позицию посреди обновления.
//
// ApplyFillThen дополнительно держит блокировку ключа на время сохранения,
// поэтому снимки одной позиции попадают в хранилище в порядке применения.
type Ledger struct {
	shards []*shard

	// накопленный реализованный PnL по пользователям
	// (позиция удаляется при нуле, PnL должен пережить её)
	pnlMu    sync.Mutex
	realized map[string]decimal.Decimal
	daily    map[string]dailyPnL

	now    func() time.Time
	logger *zap.Logger
}

type shard struct {
	mu        sync.RWMutex
	positions map[models.PositionKey]*models.Position

	// блокировки ключей на время применения и сохранения
	keys map[models.PositionKey]*sync.Mutex
}

type dailyPnL struct {
	day time.Time
	pnl decimal.Decimal
}

// New создаёт реестр позиций
func New(logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		shards:   make([]*shard, defaultShards),
		realized: make(map[string]decimal.Decimal),
		daily:    make(map[string]dailyPnL),
		now:      time.Now,
		logger:   logger,
	}
	for i := range l.shards {
		l.shards[i] = &shard{
			positions: make(map[models.PositionKey]*models.Position),
			keys:      make(map[models.PositionKey]*sync.Mutex),
		}
	}
	return l
}

func (l *Ledger) shardFor(key models.PositionKey) *shard {
	return l.shards[utils.ShardIndex(key.String(), len(l.shards))]
}

func (s *shard) keyLock(key models.PositionKey) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.keys[key]
	if !ok {
		m = &sync.Mutex{}
		s.keys[key] = m
	}
	return m
}

// ApplyFill применяет исполнение к позиции и возвращает её новое состояние
// вместе с PnL, реализованным этим исполнением.
//
// Правила:
//   - то же направление: qty += fill, avg = взвешенное среднее
//   - противоположное без пересечения нуля: PnL = (price - avg) * closed * sign,
//     avg не меняется
//   - пересечение нуля: остаток открывается по цене исполнения
//   - ровно ноль: позиция удаляется, возвращается с Quantity = 0
func (l *Ledger) ApplyFill(userID, symbol string, side models.OrderSide, qty, price decimal.Decimal) (models.Position, decimal.Decimal, error) {
	return l.ApplyFillThen(userID, symbol, side, qty, price, nil)
}

// ApplyFillThen - ApplyFill, после которого then получает новое состояние
// позиции, пока ключ (user, symbol) ещё заблокирован. Следующее исполнение
// по этому ключу ждёт завершения then. Чтения ключа не блокируются.
// При ошибке валидации then не вызывается.
func (l *Ledger) ApplyFillThen(userID, symbol string, side models.OrderSide, qty, price decimal.Decimal, then func(models.Position)) (models.Position, decimal.Decimal, error) {
	if userID == "" || symbol == "" {
		return models.Position{}, decimal.Zero, models.NewValidationError("position", "user and symbol are required")
	}
	if !qty.IsPositive() {
		return models.Position{}, decimal.Zero, models.NewValidationError("quantity", "must be positive")
	}
	if !price.IsPositive() {
		return models.Position{}, decimal.Zero, models.NewValidationError("price", "must be positive")
	}
	if side != models.SideBuy && side != models.SideSell {
		return models.Position{}, decimal.Zero, models.NewValidationError("side", "must be BUY or SELL")
	}

	key := models.PositionKey{UserID: userID, Symbol: symbol}
	s := l.shardFor(key)
	km := s.keyLock(key)
	km.Lock()
	defer km.Unlock()

	now := l.now()

	s.mu.Lock()
	pos, ok := s.positions[key]
	if !ok {
		pos = &models.Position{UserID: userID, Symbol: symbol}
	}

	realized := applyToPosition(pos, side.Sign().Mul(qty), price)
	pos.LastUpdate = now

	result := *pos
	if pos.Quantity.IsZero() {
		delete(s.positions, key)
		result.AveragePrice = decimal.Zero
	} else if !ok {
		s.positions[key] = pos
	}
	s.mu.Unlock()

	if !realized.IsZero() {
		l.addRealized(userID, realized, now)
	}

	l.logger.Debug("fill applied",
		utils.UserID(userID),
		utils.Symbol(symbol),
		utils.Side(string(side)),
		utils.Quantity(result.Quantity),
		utils.Price(result.AveragePrice),
		utils.PNL(realized),
	)

	if then != nil {
		then(result)
	}
	return result, realized, nil
}

// applyToPosition изменяет позицию на signed (со знаком) по цене price.
// Возвращает реализованный PnL.
func applyToPosition(pos *models.Position, signed, price decimal.Decimal) decimal.Decimal {
	before := pos.Quantity
	after := before.Add(signed)

	// Открытие или увеличение
	if before.IsZero() || before.Sign() == signed.Sign() {
		cost := before.Abs().Mul(pos.AveragePrice).Add(signed.Abs().Mul(price))
		pos.AveragePrice = cost.Div(after.Abs())
		pos.Quantity = after
		return decimal.Zero
	}

	// Сокращение: закрывается не больше текущего объёма
	closed := decimal.Min(signed.Abs(), before.Abs())
	realized := price.Sub(pos.AveragePrice).Mul(closed)
	if before.IsNegative() {
		realized = realized.Neg()
	}
	pos.RealizedPnL = pos.RealizedPnL.Add(realized)
	pos.Quantity = after

	// Разворот через ноль: остаток по цене исполнения
	if !after.IsZero() && after.Sign() != before.Sign() {
		pos.AveragePrice = price
	}

	return realized
}

func (l *Ledger) addRealized(userID string, pnl decimal.Decimal, now time.Time) {
	l.pnlMu.Lock()
	defer l.pnlMu.Unlock()

	l.realized[userID] = l.realized[userID].Add(pnl)

	day := utils.GetDayStartFrom(now)
	d := l.daily[userID]
	if !d.day.Equal(day) {
		d = dailyPnL{day: day}
	}
	d.pnl = d.pnl.Add(pnl)
	l.daily[userID] = d
}

// Get возвращает копию позиции
func (l *Ledger) Get(userID, symbol string) (models.Position, bool) {
	key := models.PositionKey{UserID: userID, Symbol: symbol}
	s := l.shardFor(key)

	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.positions[key]
	if !ok {
		return models.Position{UserID: userID, Symbol: symbol}, false
	}
	return *pos, true
}

// Hold вызывает fn с копией позиции, удерживая блокировку ключа.
// Пока fn выполняется, исполнения по этому ключу ждут, а сохранение
// предыдущего исполнения уже завершено.
func (l *Ledger) Hold(userID, symbol string, fn func(pos models.Position, ok bool)) {
	key := models.PositionKey{UserID: userID, Symbol: symbol}
	s := l.shardFor(key)

	km := s.keyLock(key)
	km.Lock()
	defer km.Unlock()

	pos, ok := l.Get(userID, symbol)
	fn(pos, ok)
}

// Positions возвращает открытые позиции пользователя, отсортированные по символу
func (l *Ledger) Positions(userID string) []models.Position {
	return l.collect(func(p *models.Position) bool { return p.UserID == userID })
}

// All возвращает все открытые позиции
func (l *Ledger) All() []models.Position {
	return l.collect(func(*models.Position) bool { return true })
}

func (l *Ledger) collect(match func(*models.Position) bool) []models.Position {
	var out []models.Position
	for _, s := range l.shards {
		s.mu.RLock()
		for _, p := range s.positions {
			if match(p) {
				out = append(out, *p)
			}
		}
		s.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// Users возвращает пользователей с открытыми позициями
func (l *Ledger) Users() []string {
	seen := make(map[string]struct{})
	for _, p := range l.All() {
		seen[p.UserID] = struct{}{}
	}
	users := make([]string, 0, len(seen))
	for u := range seen {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// RealizedPnL - накопленный реализованный PnL пользователя
func (l *Ledger) RealizedPnL(userID string) decimal.Decimal {
	l.pnlMu.Lock()
	defer l.pnlMu.Unlock()
	return l.realized[userID]
}

// DailyRealizedPnL - реализованный PnL за текущий день UTC
func (l *Ledger) DailyRealizedPnL(userID string) decimal.Decimal {
	l.pnlMu.Lock()
	defer l.pnlMu.Unlock()

	d, ok := l.daily[userID]
	if !ok || !d.day.Equal(utils.GetDayStartFrom(l.now())) {
		return decimal.Zero
	}
	return d.pnl
}

// Restore загружает позиции, прочитанные из хранилища при старте.
// Реализованный PnL позиций учитывается в накопленном.
func (l *Ledger) Restore(positions []models.Position) int {
	restored := 0
	for i := range positions {
		p := positions[i]
		if p.Quantity.IsZero() || p.UserID == "" || p.Symbol == "" {
			continue
		}
		key := p.Key()
		s := l.shardFor(key)
		s.mu.Lock()
		s.positions[key] = &p
		s.mu.Unlock()

		if !p.RealizedPnL.IsZero() {
			l.pnlMu.Lock()
			l.realized[p.UserID] = l.realized[p.UserID].Add(p.RealizedPnL)
			l.pnlMu.Unlock()
		}
		restored++
	}
	return restored
}

// Count возвращает количество открытых позиций
func (l *Ledger) Count() int {
	n := 0
	for _, s := range l.shards {
		s.mu.RLock()
		n += len(s.positions)
		s.mu.RUnlock()
	}
	return n
}
