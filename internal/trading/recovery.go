package trading

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"quanttrade/internal/metrics"
	"quanttrade/internal/models"
	"quanttrade/pkg/utils"
)

// RecoveryResult - итог восстановления после перезапуска
type RecoveryResult struct {
	PositionsRestored int
	OrdersRestored    int
	Symbols           []string // символы открытых ордеров и позиций, нужна подписка
	Duration          time.Duration
}

// Recovery восстанавливает состояние роутера и ledger из хранилища
//
// Шаги:
// 1. Загрузка позиций и восстановление ledger
// 2. Загрузка открытых ордеров (PENDING / PARTIAL)
// 3. Регистрация ордеров и возврат в индексы ожидания
//
// После старта VerifyPositions / RunVerifier сверяют ledger с хранилищем.
type Recovery struct {
	router  *Router
	timeout time.Duration
	logger  *zap.Logger

	// уже зарегистрированные расхождения позиций
	mu       sync.Mutex
	reported map[string]struct{}
}

// NewRecovery создаёт восстановитель
func NewRecovery(router *Router, timeout time.Duration, logger *zap.Logger) *Recovery {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Recovery{
		router:   router,
		timeout:  timeout,
		logger:   logger.Named("recovery"),
		reported: make(map[string]struct{}),
	}
}

// Recover выполняет восстановление. Вызывается до приёма ордеров и до старта фида.
func (rc *Recovery) Recover(ctx context.Context) (*RecoveryResult, error) {
	started := time.Now()
	result := &RecoveryResult{}

	ctx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()

	r := rc.router
	symbols := make(map[string]struct{})

	// Шаг 1: позиции
	positions, err := r.store.ListPositions(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to load positions: %w", err)
	}
	result.PositionsRestored = r.ledger.Restore(positions)
	for _, p := range positions {
		if !p.IsFlat() {
			symbols[p.Symbol] = struct{}{}
		}
	}

	// Шаг 2: открытые ордера
	orders, err := r.store.ListOpenOrders(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to load open orders: %w", err)
	}

	// Шаг 3: регистрация
	for _, o := range orders {
		if _, exists := r.lookup(o.ID); exists {
			continue
		}
		clientKey := ""
		if o.ClientOrderID != "" {
			clientKey = o.UserID + "|" + o.ClientOrderID
		}

		e := r.register(o, clientKey)
		e.mu.Lock()
		if fills, err := r.store.ListFills(ctx, o.ID); err == nil {
			for _, f := range fills {
				e.fills = append(e.fills, *f)
			}
		} else {
			rc.logger.Warn("failed to load fills", utils.OrderID(o.ID), zap.Error(err))
		}
		r.rest(e)
		e.mu.Unlock()

		symbols[o.Symbol] = struct{}{}
		result.OrdersRestored++
	}
	metrics.PendingOrders.Set(float64(r.book.Len()))

	for s := range symbols {
		result.Symbols = append(result.Symbols, s)
	}
	sort.Strings(result.Symbols)
	result.Duration = time.Since(started)

	rc.logger.Info("recovery complete",
		zap.Int("positions", result.PositionsRestored),
		zap.Int("orders", result.OrdersRestored),
		zap.Strings("symbols", result.Symbols),
		utils.Latency(result.Duration),
	)
	return result, nil
}

// PositionMismatch - расхождение позиции в ledger и хранилище
type PositionMismatch struct {
	Key      models.PositionKey
	Ledger   decimal.Decimal // ноль, если в ledger позиции нет
	Stored   decimal.Decimal // ноль, если в хранилище позиции нет
	InLedger bool
	InStore  bool
}

func (m PositionMismatch) String() string {
	switch {
	case !m.InStore:
		return fmt.Sprintf("%s: missing in storage (ledger %s)", m.Key, m.Ledger)
	case !m.InLedger:
		return fmt.Sprintf("%s: missing in ledger (storage %s)", m.Key, m.Stored)
	default:
		return fmt.Sprintf("%s: quantity %s in ledger, %s in storage", m.Key, m.Ledger, m.Stored)
	}
}

// VerifyPositions сравнивает ledger с хранилищем
//
// Кандидаты первого прохода перепроверяются под блокировкой ключа позиции,
// поэтому исполнение, которое ещё сохраняется, не считается расхождением.
// О каждом новом расхождении пишется лог и поднимается алерт EXTREME;
// повторно о том же расхождении не сообщается, пока оно не исчезнет.
func (rc *Recovery) VerifyPositions(ctx context.Context) ([]PositionMismatch, error) {
	r := rc.router
	stored, err := r.store.ListPositions(ctx)
	if err != nil {
		return nil, err
	}

	candidates := diffPositions(r.ledger.All(), stored)
	var confirmed []PositionMismatch
	for _, c := range candidates {
		var verr error
		r.ledger.Hold(c.Key.UserID, c.Key.Symbol, func(pos models.Position, ok bool) {
			again, err := r.store.ListPositions(ctx)
			if err != nil {
				verr = err
				return
			}
			var ledgerSide []models.Position
			if ok {
				ledgerSide = []models.Position{pos}
			}
			var storeSide []models.Position
			for _, p := range again {
				if p.Key() == c.Key {
					storeSide = append(storeSide, p)
				}
			}
			confirmed = append(confirmed, diffPositions(ledgerSide, storeSide)...)
		})
		if verr != nil {
			return confirmed, verr
		}
	}

	rc.report(ctx, confirmed)
	return confirmed, nil
}

// diffPositions сравнивает количества по ключам, результат отсортирован по ключу
func diffPositions(ledgerSide, storeSide []models.Position) []PositionMismatch {
	byKey := make(map[models.PositionKey]*PositionMismatch)
	get := func(key models.PositionKey) *PositionMismatch {
		m, ok := byKey[key]
		if !ok {
			m = &PositionMismatch{Key: key}
			byKey[key] = m
		}
		return m
	}
	for _, p := range ledgerSide {
		m := get(p.Key())
		m.InLedger, m.Ledger = true, p.Quantity
	}
	for _, p := range storeSide {
		if p.IsFlat() {
			continue
		}
		m := get(p.Key())
		m.InStore, m.Stored = true, p.Quantity
	}

	var out []PositionMismatch
	for _, m := range byKey {
		if m.InLedger && m.InStore && m.Ledger.Equal(m.Stored) {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// report логирует и алертит новые расхождения, забывает исчезнувшие
func (rc *Recovery) report(ctx context.Context, mismatches []PositionMismatch) {
	current := make(map[string]struct{}, len(mismatches))

	rc.mu.Lock()
	var fresh []PositionMismatch
	for _, m := range mismatches {
		id := m.String()
		current[id] = struct{}{}
		if _, seen := rc.reported[id]; !seen {
			fresh = append(fresh, m)
		}
	}
	rc.reported = current
	rc.mu.Unlock()

	for _, m := range fresh {
		metrics.Inconsistencies.Inc()
		rc.logger.Error("position diverged from storage",
			utils.UserID(m.Key.UserID),
			utils.Symbol(m.Key.Symbol),
			zap.Stringer("ledger", m.Ledger),
			zap.Stringer("stored", m.Stored),
			zap.String("issue", m.String()),
		)
		rc.router.raiseInconsistency(ctx, models.RiskAlert{
			UserID:    m.Key.UserID,
			Symbol:    m.Key.Symbol,
			Message:   "position diverged from storage: " + m.String(),
			Value:     m.Ledger,
			Threshold: m.Stored,
		})
	}
}

// RunVerifier периодически сверяет позиции до отмены ctx
func (rc *Recovery) RunVerifier(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := rc.VerifyPositions(ctx); err != nil && ctx.Err() == nil {
				rc.logger.Warn("position verification failed", zap.Error(err))
			}
		}
	}
}
