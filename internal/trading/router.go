package trading

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"quanttrade/internal/config"
	"quanttrade/internal/ledger"
	"quanttrade/internal/metrics"
	"quanttrade/internal/models"
	"quanttrade/internal/risk"
	"quanttrade/pkg/ratelimit"
	"quanttrade/pkg/utils"
)

// Проверки, которые роутер выполняет до риск-гейта
const (
	CheckStrategyDisabled = "strategy_disabled"
	CheckSubmitRate       = "submit_rate"
)

// PriceSource - последняя цена символа из кэша фида
type PriceSource interface {
	GetLatestPrice(symbol string) (models.PriceEntry, error)
}

// Notifier получает изменения ордеров и исполнения
type Notifier interface {
	OnOrder(order models.Order)
	OnFill(event models.FillEvent)
}

// AlertRaiser записывает операторский алерт
type AlertRaiser interface {
	RaiseAlert(ctx context.Context, alert models.RiskAlert) (*models.RiskAlert, error)
}

type orderEntry struct {
	mu    sync.Mutex
	order *models.Order
	fills []models.Fill
}

// outbox - уведомления, отправляемые после снятия блокировки ордера
type outbox struct {
	orders []models.Order
	fills  []models.FillEvent
}

func (b *outbox) order(o *models.Order) {
	b.orders = append(b.orders, *o)
}

// Router - роутер ордеров
//
// Принимает ордера, прогоняет через риск-гейт и исполняет против
// последней цены фида. Submit, Cancel и исполнения одного ордера
// сериализуются мьютексом ордера.
type Router struct {
	cfg      config.TradingConfig
	store    Store
	ledger   *ledger.Ledger
	prices   PriceSource
	gate     *risk.Gate
	guard    *risk.StrategyGuard
	valuer   *risk.Valuer
	limiter  *ratelimit.KeyedLimiter
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time

	mu         sync.RWMutex
	orders     map[string]*orderEntry
	clientIDs  map[string]string // user|client_order_id -> order id
	userOrders map[string][]string

	book *pendingBook

	hooksMu  sync.RWMutex
	notifier Notifier
	alerts   AlertRaiser
}

// NewRouter создаёт роутер
func NewRouter(
	cfg config.TradingConfig,
	store Store,
	led *ledger.Ledger,
	prices PriceSource,
	gate *risk.Gate,
	guard *risk.StrategyGuard,
	valuer *risk.Valuer,
	logger *zap.Logger,
) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if guard == nil {
		guard = risk.NewStrategyGuard(logger)
	}

	var limiter *ratelimit.KeyedLimiter
	if cfg.SubmitRate > 0 {
		burst := cfg.SubmitBurst
		if burst < 1 {
			burst = 1
		}
		limiter = ratelimit.NewKeyedLimiter(cfg.SubmitRate, burst)
	}

	return &Router{
		cfg:        cfg,
		store:      store,
		ledger:     led,
		prices:     prices,
		gate:       gate,
		guard:      guard,
		valuer:     valuer,
		limiter:    limiter,
		validate:   newValidator(),
		logger:     logger.Named("router"),
		now:        time.Now,
		orders:     make(map[string]*orderEntry),
		clientIDs:  make(map[string]string),
		userOrders: make(map[string][]string),
		book:       newPendingBook(),
	}
}

// newValidator возвращает validator, сообщающий имена полей по json-тегам
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// SetNotifier устанавливает получателя событий ордеров
func (r *Router) SetNotifier(n Notifier) {
	r.hooksMu.Lock()
	r.notifier = n
	r.hooksMu.Unlock()
}

// SetAlertRaiser устанавливает получателя алертов о рассогласовании
func (r *Router) SetAlertRaiser(a AlertRaiser) {
	r.hooksMu.Lock()
	r.alerts = a
	r.hooksMu.Unlock()
}

// ============================================================
// Submit
// ============================================================

// Submit принимает ордер
//
// Порядок: валидация -> идемпотентность client_order_id ->
// остановленные стратегии и частота -> риск-гейт -> сохранение PENDING -> исполнение.
// Отклонённый до сохранения ордер не оставляет записей.
func (r *Router) Submit(ctx context.Context, req models.OrderRequest) (*models.Order, error) {
	if err := r.validateRequest(&req); err != nil {
		return nil, err
	}

	clientKey := ""
	if req.ClientOrderID != "" {
		clientKey = req.UserID + "|" + req.ClientOrderID
		if err := r.reserveClientID(clientKey, req.ClientOrderID); err != nil {
			return nil, err
		}
	}
	release := func() {
		if clientKey != "" {
			r.mu.Lock()
			if r.clientIDs[clientKey] == "" {
				delete(r.clientIDs, clientKey)
			}
			r.mu.Unlock()
		}
	}

	if ok, reason := r.guard.Allowed(req.UserID, req.StrategyID); !ok {
		release()
		metrics.RecordRiskRejection(CheckStrategyDisabled)
		return nil, models.NewRiskRejected(CheckStrategyDisabled, reason)
	}
	if r.limiter != nil && !r.limiter.Allow(req.UserID) {
		release()
		metrics.RecordRiskRejection(CheckSubmitRate)
		return nil, models.NewRiskRejected(CheckSubmitRate, "order submit rate exceeded")
	}

	tick, err := r.checkRisk(&req)
	if err != nil {
		release()
		return nil, err
	}

	now := r.now().UTC()
	order := &models.Order{
		ID:            uuid.New().String(),
		ClientOrderID: req.ClientOrderID,
		UserID:        req.UserID,
		StrategyID:    req.StrategyID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Quantity:      req.Quantity,
		LimitPrice:    req.LimitPrice,
		StopPrice:     req.StopPrice,
		TimeInForce:   req.TimeInForce,
		Status:        models.OrderStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := r.store.CreateOrder(ctx, order); err != nil {
		release()
		return nil, fmt.Errorf("failed to persist order: %w", err)
	}

	e := r.register(order, clientKey)
	metrics.RecordOrder(string(order.Type), string(order.Status))
	r.logger.Info("order accepted",
		utils.OrderID(order.ID),
		utils.UserID(order.UserID),
		utils.Symbol(order.Symbol),
		utils.Side(string(order.Side)),
		zap.String("type", string(order.Type)),
		utils.Quantity(order.Quantity),
	)

	var box outbox
	e.mu.Lock()
	box.order(e.order)
	r.process(ctx, e, tick, &box)
	result := e.order.Clone()
	e.mu.Unlock()

	r.flush(&box)
	return result, nil
}

// validateRequest проверяет структуру запроса и границы объёма
func (r *Router) validateRequest(req *models.OrderRequest) error {
	req.Symbol = strings.TrimSpace(req.Symbol)
	if req.TimeInForce == "" {
		req.TimeInForce = models.TimeInForceGTC
	}

	if err := r.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return models.NewValidationError(fe.Field(), "failed on '"+fe.Tag()+"'")
		}
		return models.NewValidationError("", err.Error())
	}

	if !req.Quantity.IsPositive() {
		return models.NewValidationError("quantity", "must be positive")
	}
	if req.Quantity.LessThan(r.cfg.MinOrderSize) {
		return models.NewValidationError("quantity",
			fmt.Sprintf("%s is below minimum order size %s", req.Quantity, r.cfg.MinOrderSize))
	}
	if r.cfg.MaxOrderSize.IsPositive() && req.Quantity.GreaterThan(r.cfg.MaxOrderSize) {
		return models.NewValidationError("quantity",
			fmt.Sprintf("%s exceeds maximum order size %s", req.Quantity, r.cfg.MaxOrderSize))
	}

	if req.Type.RequiresLimitPrice() {
		if !req.LimitPrice.IsPositive() {
			return models.NewValidationError("limit_price", "required for "+string(req.Type))
		}
	} else if !req.LimitPrice.IsZero() {
		return models.NewValidationError("limit_price", "not allowed for "+string(req.Type))
	}
	if req.Type.RequiresStopPrice() {
		if !req.StopPrice.IsPositive() {
			return models.NewValidationError("stop_price", "required for "+string(req.Type))
		}
	} else if !req.StopPrice.IsZero() {
		return models.NewValidationError("stop_price", "not allowed for "+string(req.Type))
	}
	return nil
}

func (r *Router) reserveClientID(key, clientOrderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clientIDs[key]; exists {
		return fmt.Errorf("%s: %w", clientOrderID, models.ErrDuplicateClientOrderID)
	}
	r.clientIDs[key] = "" // резерв до сохранения
	return nil
}

// checkRisk собирает снимок для гейта и проверяет ордер
func (r *Router) checkRisk(req *models.OrderRequest) (models.PriceEntry, error) {
	tick, priceErr := r.prices.GetLatestPrice(req.Symbol)

	pos, _ := r.ledger.Get(req.UserID, req.Symbol)
	acc := r.valuer.Account(req.UserID)

	in := risk.Input{
		UserID:     req.UserID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Type:       req.Type,
		Quantity:   req.Quantity,
		LimitPrice: req.LimitPrice,
		StopPrice:  req.StopPrice,
		Position:   pos,
		Equity:     acc.Equity,
		// стоимость портфеля = кэш + позиции по рынку
		PortfolioValue: acc.Equity,
		DailyRealized:  acc.DailyRealized,
	}
	if priceErr == nil {
		in.MarketPrice = tick.Price
	}

	res := r.gate.Evaluate(in)
	if res.Passed {
		return tick, nil
	}
	if res.Check == risk.CheckPriceAvailability {
		return tick, fmt.Errorf("%s: %w", req.Symbol, models.ErrNotAvailable)
	}
	return tick, models.NewRiskRejected(res.Check, res.Reason)
}

func (r *Router) register(order *models.Order, clientKey string) *orderEntry {
	e := &orderEntry{order: order}
	r.mu.Lock()
	r.orders[order.ID] = e
	if clientKey != "" {
		r.clientIDs[clientKey] = order.ID
	}
	r.userOrders[order.UserID] = append(r.userOrders[order.UserID], order.ID)
	r.mu.Unlock()
	return e
}

func (r *Router) lookup(id string) (*orderEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.orders[id]
	return e, ok
}

// ============================================================
// Исполнение
// ============================================================

// OnPrice - callback фида: исполняет пересечённые ордера символа.
// Вызывается воркером шарда, тики одного символа приходят по порядку.
func (r *Router) OnPrice(upd models.MarketUpdate) error {
	if upd.Kind != models.UpdatePrice || upd.Price == nil || !upd.Price.HasPrice() {
		return nil
	}
	tick := *upd.Price

	ids := r.book.take(tick.Symbol, tick.Price)
	if len(ids) == 0 {
		return nil
	}

	ctx := context.Background()
	var box outbox
	for _, id := range ids {
		e, ok := r.lookup(id)
		if !ok {
			continue
		}
		e.mu.Lock()
		r.process(ctx, e, tick, &box)
		e.mu.Unlock()
	}
	metrics.PendingOrders.Set(float64(r.book.Len()))

	r.flush(&box)
	return nil
}

// process пытается исполнить ордер по тику. Неисполненный остаток
// возвращается в индекс. Вызывается под e.mu.
func (r *Router) process(ctx context.Context, e *orderEntry, tick models.PriceEntry, box *outbox) {
	o := e.order
	if o.Status.IsTerminal() {
		return
	}
	if !tick.HasPrice() {
		r.rest(e)
		return
	}
	price := tick.Price

	// срабатывание стопа
	if o.Type.RequiresStopPrice() && !o.Triggered {
		if !stopCrossed(o.Side, price, o.StopPrice) {
			r.rest(e)
			return
		}
		o.Triggered = true
		o.UpdatedAt = r.now().UTC()
		r.persistUpdate(ctx, e, "stop triggered")
		box.order(o)
		r.logger.Info("stop triggered",
			utils.OrderID(o.ID),
			utils.Symbol(o.Symbol),
			utils.Price(price),
		)
	}

	var fillPrice decimal.Decimal
	switch o.EffectiveType() {
	case models.OrderTypeMarket:
		fillPrice = r.marketFillPrice(o.Side, price)
	case models.OrderTypeLimit:
		if !limitCrossed(o.Side, price, o.LimitPrice) {
			if o.TimeInForce == models.TimeInForceGTC {
				r.rest(e)
			} else {
				r.cancelLocked(ctx, e, "not marketable ("+string(o.TimeInForce)+")", box)
			}
			return
		}
		fillPrice = o.LimitPrice
	default:
		return
	}

	remaining := o.Remaining()
	qty := remaining
	if r.cfg.RespectBookSize {
		if avail := availableSize(o.Side, tick); avail.IsPositive() && avail.LessThan(remaining) {
			qty = avail
		}
	}

	if o.TimeInForce == models.TimeInForceFOK && qty.LessThan(remaining) {
		r.cancelLocked(ctx, e, "insufficient size for FOK", box)
		return
	}

	if err := r.fillLocked(ctx, e, qty, fillPrice, tick.Timestamp, box); err != nil {
		r.logger.Error("fill failed", utils.OrderID(o.ID), zap.Error(err))
		return
	}

	if o.Status.IsTerminal() {
		return
	}
	if o.TimeInForce == models.TimeInForceIOC {
		r.cancelLocked(ctx, e, "IOC remainder", box)
		return
	}
	r.rest(e)
}

func (r *Router) rest(e *orderEntry) {
	r.book.add(e.order)
	metrics.PendingOrders.Set(float64(r.book.Len()))
}

// fillLocked применяет исполнение: запись Fill, ордер, позиция.
// Всё меняется под мьютексом ордера. Сохранение одной транзакцией идёт
// под блокировкой ключа позиции, чтобы снимки позиции в хранилище
// не обгоняли друг друга.
func (r *Router) fillLocked(ctx context.Context, e *orderEntry, qty, price decimal.Decimal, tickAt time.Time, box *outbox) error {
	o := e.order

	filled := o.FilledQuantity.Add(qty)
	next := models.OrderStatusPartial
	if filled.Equal(o.Quantity) {
		next = models.OrderStatusFilled
	}
	if !CanTransition(o.Status, next) {
		return fmt.Errorf("invalid transition %s -> %s", o.Status, next)
	}

	now := r.now().UTC()
	commission := qty.Mul(price).Mul(r.cfg.CommissionRate)
	fill := models.Fill{
		ID:         uuid.New().String(),
		OrderID:    o.ID,
		UserID:     o.UserID,
		Symbol:     o.Symbol,
		Side:       o.Side,
		Quantity:   qty,
		Price:      price,
		Commission: commission,
		Timestamp:  now,
	}

	var storeErr error
	pos, realized, err := r.ledger.ApplyFillThen(o.UserID, o.Symbol, o.Side, qty, price, func(pos models.Position) {
		o.AvgFillPrice = o.AvgFillPrice.Mul(o.FilledQuantity).Add(price.Mul(qty)).Div(filled)
		o.FilledQuantity = filled
		o.Commission = o.Commission.Add(commission)
		o.Status = next
		o.UpdatedAt = now
		e.fills = append(e.fills, fill)

		storeErr = r.store.RecordFill(ctx, &fill, o, &pos)
	})
	if err != nil {
		return err
	}
	if storeErr != nil {
		r.markInconsistent(ctx, e, storeErr)
	}

	metrics.RecordFill(o.Symbol, string(o.Side), tickAt)
	metrics.RecordOrder(string(o.Type), string(o.Status))
	r.logger.Info("order filled",
		utils.OrderID(o.ID),
		utils.UserID(o.UserID),
		utils.Symbol(o.Symbol),
		utils.Side(string(o.Side)),
		utils.Quantity(qty),
		utils.Price(price),
		utils.Status(string(o.Status)),
		utils.PNL(realized),
	)

	box.fills = append(box.fills, models.FillEvent{Fill: fill, Order: *o, Position: pos})
	box.order(o)
	return nil
}

// markInconsistent фиксирует рассогласование памяти и хранилища
func (r *Router) markInconsistent(ctx context.Context, e *orderEntry, cause error) {
	o := e.order
	o.Inconsistent = true
	metrics.Inconsistencies.Inc()

	r.logger.Error("order state not persisted, marked inconsistent",
		utils.OrderID(o.ID),
		utils.UserID(o.UserID),
		utils.Symbol(o.Symbol),
		utils.Status(string(o.Status)),
		zap.Error(cause),
	)

	r.raiseInconsistency(ctx, models.RiskAlert{
		UserID:     o.UserID,
		StrategyID: o.StrategyID,
		Symbol:     o.Symbol,
		OrderID:    o.ID,
		Message:    "order state diverged from storage: " + cause.Error(),
		Value:      o.FilledQuantity,
		Threshold:  o.Quantity,
	})
}

// raiseInconsistency отправляет операторский алерт EXTREME о рассогласовании
func (r *Router) raiseInconsistency(ctx context.Context, alert models.RiskAlert) {
	r.hooksMu.RLock()
	alerts := r.alerts
	r.hooksMu.RUnlock()
	if alerts == nil {
		return
	}

	alert.RuleID = models.RuleIDInconsistency
	alert.Level = models.AlertExtreme
	alert.Action = models.ActionAlertOnly
	if _, err := alerts.RaiseAlert(ctx, alert); err != nil {
		r.logger.Error("failed to raise inconsistency alert",
			utils.OrderID(alert.OrderID),
			utils.UserID(alert.UserID),
			utils.Symbol(alert.Symbol),
			zap.Error(err),
		)
	}
}

func (r *Router) persistUpdate(ctx context.Context, e *orderEntry, what string) {
	if err := r.store.UpdateOrder(ctx, e.order); err != nil {
		r.markInconsistent(ctx, e, fmt.Errorf("%s: %w", what, err))
	}
}

func (r *Router) marketFillPrice(side models.OrderSide, price decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if side == models.SideBuy {
		return price.Mul(one.Add(r.cfg.Slippage))
	}
	return price.Mul(one.Sub(r.cfg.Slippage))
}

func limitCrossed(side models.OrderSide, price, limit decimal.Decimal) bool {
	if side == models.SideBuy {
		return price.LessThanOrEqual(limit)
	}
	return price.GreaterThanOrEqual(limit)
}

func stopCrossed(side models.OrderSide, price, stop decimal.Decimal) bool {
	if side == models.SideBuy {
		return price.GreaterThanOrEqual(stop)
	}
	return price.LessThanOrEqual(stop)
}

// availableSize - объём лучшей цены на стороне исполнения (0 = неизвестно)
func availableSize(side models.OrderSide, tick models.PriceEntry) decimal.Decimal {
	if side == models.SideBuy {
		return tick.AskSize
	}
	return tick.BidSize
}

// ============================================================
// Отмена и принудительное закрытие
// ============================================================

// Cancel отменяет ордер. Исполненная ранее часть остаётся в силе.
func (r *Router) Cancel(ctx context.Context, orderID string) (*models.Order, error) {
	e, ok := r.lookup(orderID)
	if !ok {
		return nil, r.cancelUnknown(ctx, orderID)
	}

	var box outbox
	e.mu.Lock()
	if !e.order.IsCancellable() {
		status := e.order.Status
		e.mu.Unlock()
		return nil, fmt.Errorf("order %s is %s: %w", orderID, status, models.ErrNotCancellable)
	}
	r.cancelLocked(ctx, e, "cancelled by user", &box)
	result := e.order.Clone()
	e.mu.Unlock()

	metrics.PendingOrders.Set(float64(r.book.Len()))
	r.flush(&box)
	return result, nil
}

// cancelUnknown различает "нет такого ордера" и "ордер из истории"
func (r *Router) cancelUnknown(ctx context.Context, orderID string) error {
	o, err := r.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	return fmt.Errorf("order %s is %s: %w", orderID, o.Status, models.ErrNotCancellable)
}

func (r *Router) cancelLocked(ctx context.Context, e *orderEntry, reason string, box *outbox) {
	o := e.order
	if !CanTransition(o.Status, models.OrderStatusCancelled) {
		return
	}
	r.book.remove(o.ID)
	o.Status = models.OrderStatusCancelled
	o.RejectReason = reason
	o.UpdatedAt = r.now().UTC()
	r.persistUpdate(ctx, e, "cancel")

	metrics.RecordOrder(string(o.Type), string(o.Status))
	r.logger.Info("order cancelled",
		utils.OrderID(o.ID),
		utils.Symbol(o.Symbol),
		zap.String("reason", reason),
		zap.Stringer("filled", o.FilledQuantity),
	)
	box.order(o)
}

// ClosePosition закрывает позицию рыночным ордером в обход риск-гейта
// и границ объёма. Используется действием close_position.
func (r *Router) ClosePosition(ctx context.Context, userID, symbol, reason string) error {
	pos, ok := r.ledger.Get(userID, symbol)
	if !ok || pos.IsFlat() {
		return nil
	}

	tick, err := r.prices.GetLatestPrice(symbol)
	if err != nil {
		return fmt.Errorf("close %s for %s: %w", symbol, userID, err)
	}

	side := models.SideSell
	if pos.IsShort() {
		side = models.SideBuy
	}

	now := r.now().UTC()
	order := &models.Order{
		ID:          uuid.New().String(),
		UserID:      userID,
		Symbol:      symbol,
		Side:        side,
		Type:        models.OrderTypeMarket,
		Quantity:    pos.Quantity.Abs(),
		TimeInForce: models.TimeInForceGTC,
		Status:      models.OrderStatusPending,
		Liquidation: true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.store.CreateOrder(ctx, order); err != nil {
		return fmt.Errorf("failed to persist liquidation order: %w", err)
	}

	e := r.register(order, "")
	metrics.RecordOrder(string(order.Type), string(order.Status))
	r.logger.Warn("closing position",
		utils.OrderID(order.ID),
		utils.UserID(userID),
		utils.Symbol(symbol),
		utils.Quantity(pos.Quantity),
		zap.String("reason", reason),
	)

	var box outbox
	e.mu.Lock()
	box.order(e.order)
	r.process(ctx, e, tick, &box)
	e.mu.Unlock()

	r.flush(&box)
	return nil
}

// ============================================================
// Чтение
// ============================================================

// GetOrder возвращает ордер
func (r *Router) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	if e, ok := r.lookup(id); ok {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.order.Clone(), nil
	}
	return r.store.GetOrder(ctx, id)
}

// ListOrders возвращает ордера из хранилища, поверх - актуальные копии из памяти
func (r *Router) ListOrders(ctx context.Context, filter OrderFilter) ([]*models.Order, error) {
	stored, err := r.store.ListOrders(ctx, OrderFilter{UserID: filter.UserID, Symbol: filter.Symbol})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(stored))
	out := make([]*models.Order, 0, len(stored))
	add := func(o *models.Order) {
		if seen[o.ID] {
			return
		}
		seen[o.ID] = true
		if filter.Match(o) {
			out = append(out, o)
		}
	}

	for _, id := range r.memoryOrderIDs(filter.UserID) {
		if e, ok := r.lookup(id); ok {
			e.mu.Lock()
			o := e.order.Clone()
			e.mu.Unlock()
			add(o)
		}
	}
	for _, o := range stored {
		add(o)
	}

	sortNewestFirst(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *Router) memoryOrderIDs(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if userID != "" {
		return append([]string(nil), r.userOrders[userID]...)
	}
	ids := make([]string, 0, len(r.orders))
	for id := range r.orders {
		ids = append(ids, id)
	}
	return ids
}

// Fills возвращает исполнения ордера
func (r *Router) Fills(ctx context.Context, orderID string) ([]models.Fill, error) {
	if e, ok := r.lookup(orderID); ok {
		e.mu.Lock()
		out := append([]models.Fill(nil), e.fills...)
		e.mu.Unlock()
		if len(out) > 0 {
			return out, nil
		}
	} else if _, err := r.store.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}

	stored, err := r.store.ListFills(ctx, orderID)
	if err != nil {
		return nil, err
	}
	out := make([]models.Fill, 0, len(stored))
	for _, f := range stored {
		out = append(out, *f)
	}
	return out, nil
}

// PendingCount возвращает количество ордеров в индексах
func (r *Router) PendingCount() int {
	return r.book.Len()
}

// flush отправляет накопленные уведомления
func (r *Router) flush(box *outbox) {
	r.hooksMu.RLock()
	n := r.notifier
	r.hooksMu.RUnlock()
	if n == nil {
		return
	}
	for _, f := range box.fills {
		n.OnFill(f)
	}
	for _, o := range box.orders {
		n.OnOrder(o)
	}
}
