package marketdata

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"quanttrade/internal/metrics"
	"quanttrade/internal/models"
	"quanttrade/pkg/ratelimit"
	"quanttrade/pkg/retry"
	"quanttrade/pkg/utils"
)

// Callback - подписчик на рыночные обновления.
// Ошибка или паника подписчика логируется и не прерывает доставку остальным.
type Callback func(models.MarketUpdate) error

// Config - параметры фида
type Config struct {
	Venue             string
	DefaultMarketType models.MarketType
	MaxSymbols        int
	StaleAfter        time.Duration
	KlineCacheSize    int
	KlineRetention    time.Duration
	Shards            int
	ShardBuffer       int

	// ControlRate - управляющих кадров в секунду к площадке
	ControlRate float64

	// ConnectRetry - попытки первичного подключения
	ConnectRetry retry.Config
}

// DefaultConfig возвращает параметры по умолчанию
func DefaultConfig() Config {
	return Config{
		Venue:             "venue",
		DefaultMarketType: models.MarketCNStocks,
		MaxSymbols:        30,
		StaleAfter:        10 * time.Second,
		KlineCacheSize:    1000,
		KlineRetention:    24 * time.Hour,
		Shards:            8,
		ShardBuffer:       1024,
		ControlRate:       5,
		ConnectRetry:      retry.ConnectConfig(),
	}
}

type subscriber struct {
	id int
	fn Callback
}

type envelope struct {
	update     models.MarketUpdate
	receivedAt time.Time
}

// Feed - рыночный фид: подписки, кеш последних значений и fan-out подписчикам
//
// Поток данных:
//
//	площадка → readPump → handleMessage → shard[FNV(symbol)] → cache.apply → callbacks
//
// Один воркер на шард: обновления одного символа применяются и доставляются
// строго в порядке поступления, разные символы обрабатываются параллельно.
// Отправка в шард блокирующая (с учётом остановки): обновления не теряются,
// медленный подписчик тормозит чтение сокета, а не выбрасывает тики.
type Feed struct {
	cfg    Config
	conn   Connector
	logger *zap.Logger
	cache  *cache

	subsMu sync.RWMutex
	subs   map[string]models.MarketType

	cbMu      sync.RWMutex
	callbacks map[models.UpdateKind][]subscriber
	nextCbID  int

	control *ratelimit.RateLimiter

	shards   []chan envelope
	stopChan chan struct{}
	wg       sync.WaitGroup
	started  int32
	stopOnce sync.Once

	now func() time.Time
}

// NewFeed создаёт фид поверх соединения с площадкой
func NewFeed(cfg Config, conn Connector, logger *zap.Logger) *Feed {
	def := DefaultConfig()
	if cfg.MaxSymbols <= 0 {
		cfg.MaxSymbols = def.MaxSymbols
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.KlineCacheSize <= 0 {
		cfg.KlineCacheSize = def.KlineCacheSize
	}
	if cfg.Shards <= 0 {
		cfg.Shards = def.Shards
	}
	if cfg.ShardBuffer <= 0 {
		cfg.ShardBuffer = def.ShardBuffer
	}
	if cfg.ControlRate <= 0 {
		cfg.ControlRate = def.ControlRate
	}
	if cfg.DefaultMarketType == "" {
		cfg.DefaultMarketType = def.DefaultMarketType
	}
	if cfg.ConnectRetry.MaxRetries == 0 && cfg.ConnectRetry.InitialDelay == 0 {
		cfg.ConnectRetry = def.ConnectRetry
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	f := &Feed{
		cfg:       cfg,
		conn:      conn,
		logger:    logger.Named("marketdata"),
		cache:     newCache(cfg.Shards, cfg.KlineCacheSize),
		subs:      make(map[string]models.MarketType),
		callbacks: make(map[models.UpdateKind][]subscriber),
		control:   ratelimit.NewRateLimiter(cfg.ControlRate, cfg.ControlRate),
		shards:    make([]chan envelope, cfg.Shards),
		stopChan:  make(chan struct{}),
		now:       time.Now,
	}
	for i := range f.shards {
		f.shards[i] = make(chan envelope, cfg.ShardBuffer)
	}

	conn.SetOnMessage(f.handleMessage)
	conn.SetResubscribe(f.resubscribeFrames)

	return f
}

// Start запускает воркеры шардов и очистку устаревших свечей
func (f *Feed) Start(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&f.started, 0, 1) {
		return
	}

	for i, ch := range f.shards {
		f.wg.Add(1)
		go f.shardWorker(i, ch)
	}

	if f.cfg.KlineRetention > 0 {
		f.wg.Add(1)
		go f.retentionLoop(ctx)
	}

	f.logger.Info("market data feed started",
		zap.Int("shards", len(f.shards)),
		zap.Int("max_symbols", f.cfg.MaxSymbols),
	)
}

// Stop останавливает воркеры и закрывает соединение
func (f *Feed) Stop() {
	f.stopOnce.Do(func() {
		close(f.stopChan)
		if err := f.conn.Close(); err != nil {
			f.logger.Warn("close venue connection", zap.Error(err))
		}
		f.wg.Wait()
		f.logger.Info("market data feed stopped")
	})
}

// ============================================================
// Подписки
// ============================================================

// Subscribe подписывает фид на символы
//
// Ошибки:
//   - ErrLimitExceeded: в запросе больше MaxSymbols элементов (считаются как есть,
//     с дубликатами)
//   - ValidationError: пустой список или пустой символ
//   - ConnectionError: площадка недоступна после всех попыток
//
// Возвращается сразу после отправки кадра; подтверждение приходит потоком.
func (f *Feed) Subscribe(ctx context.Context, symbols []string, marketType models.MarketType) error {
	if len(symbols) > f.cfg.MaxSymbols {
		return fmt.Errorf("%w: %d symbols requested, max %d", models.ErrLimitExceeded, len(symbols), f.cfg.MaxSymbols)
	}
	normalized, err := normalizeSymbols(symbols)
	if err != nil {
		return err
	}
	if marketType == "" {
		marketType = f.cfg.DefaultMarketType
	}

	if err := f.ensureConnected(ctx); err != nil {
		return err
	}

	// запоминаем до отправки: если соединение оборвётся между отправкой
	// и подтверждением, подписка уйдёт повторно при переподключении
	added := f.addSubscriptions(normalized, marketType)

	if err := f.sendControl(ctx, opSubscribe, marketType, normalized); err != nil {
		f.removeSubscriptions(added)
		return &models.ConnectionError{Venue: f.cfg.Venue, Original: err}
	}

	f.logger.Info("subscribe sent",
		zap.Strings("symbols", normalized),
		zap.String("market_type", string(marketType)),
	)
	return nil
}

// Unsubscribe отписывает символы. Неизвестные символы игнорируются.
func (f *Feed) Unsubscribe(ctx context.Context, symbols []string) error {
	normalized, err := normalizeSymbols(symbols)
	if err != nil {
		return err
	}

	byType := make(map[models.MarketType][]string)
	f.subsMu.Lock()
	for _, s := range normalized {
		if mt, ok := f.subs[s]; ok {
			byType[mt] = append(byType[mt], s)
			delete(f.subs, s)
		}
	}
	count := len(f.subs)
	f.subsMu.Unlock()
	metrics.SubscribedSymbols.Set(float64(count))

	if !f.conn.IsConnected() {
		return nil
	}
	for mt, list := range byType {
		if err := f.sendControl(ctx, opUnsubscribe, mt, list); err != nil {
			return &models.ConnectionError{Venue: f.cfg.Venue, Original: err}
		}
	}
	return nil
}

// Subscriptions возвращает отсортированный список подписанных символов
func (f *Feed) Subscriptions() []string {
	f.subsMu.RLock()
	out := make([]string, 0, len(f.subs))
	for s := range f.subs {
		out = append(out, s)
	}
	f.subsMu.RUnlock()
	sort.Strings(out)
	return out
}

func normalizeSymbols(symbols []string) ([]string, error) {
	if len(symbols) == 0 {
		return nil, models.NewValidationError("symbols", "at least one symbol is required")
	}
	out := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, models.NewValidationError("symbols", "empty symbol")
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out, nil
}

func (f *Feed) ensureConnected(ctx context.Context) error {
	if f.conn.IsConnected() {
		return nil
	}

	cfg := f.cfg.ConnectRetry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		f.logger.Warn("venue connect failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}

	if err := retry.Do(ctx, func() error { return f.conn.Connect(ctx) }, cfg); err != nil {
		f.logger.Error("venue unreachable", zap.String("venue", f.cfg.Venue), zap.Error(err))
		return &models.ConnectionError{Venue: f.cfg.Venue, Original: err}
	}
	return nil
}

func (f *Feed) addSubscriptions(symbols []string, mt models.MarketType) []string {
	f.subsMu.Lock()
	added := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if _, ok := f.subs[s]; !ok {
			added = append(added, s)
		}
		f.subs[s] = mt
	}
	count := len(f.subs)
	f.subsMu.Unlock()

	metrics.SubscribedSymbols.Set(float64(count))
	return added
}

func (f *Feed) removeSubscriptions(symbols []string) {
	f.subsMu.Lock()
	for _, s := range symbols {
		delete(f.subs, s)
	}
	count := len(f.subs)
	f.subsMu.Unlock()
	metrics.SubscribedSymbols.Set(float64(count))
}

func (f *Feed) sendControl(ctx context.Context, op string, mt models.MarketType, symbols []string) error {
	frame, err := encodeControl(op, mt, symbols)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", op, err)
	}
	if err := f.control.Wait(ctx); err != nil {
		return err
	}
	return f.conn.Send(frame)
}

// resubscribeFrames строит кадры подписки для текущего набора символов,
// группируя по типу рынка и по MaxSymbols в кадре
func (f *Feed) resubscribeFrames() [][]byte {
	f.subsMu.RLock()
	byType := make(map[models.MarketType][]string)
	for s, mt := range f.subs {
		byType[mt] = append(byType[mt], s)
	}
	f.subsMu.RUnlock()

	types := make([]string, 0, len(byType))
	for mt := range byType {
		types = append(types, string(mt))
	}
	sort.Strings(types)

	var frames [][]byte
	for _, t := range types {
		list := byType[models.MarketType(t)]
		sort.Strings(list)
		for start := 0; start < len(list); start += f.cfg.MaxSymbols {
			end := start + f.cfg.MaxSymbols
			if end > len(list) {
				end = len(list)
			}
			frame, err := encodeControl(opSubscribe, models.MarketType(t), list[start:end])
			if err != nil {
				f.logger.Error("encode resubscribe frame", zap.Error(err))
				continue
			}
			frames = append(frames, frame)
		}
	}
	return frames
}

// ============================================================
// Чтение кеша
// ============================================================

// GetLatestPrice возвращает последнюю цену из кеша. Никогда не ждёт сеть.
// Запись старше StaleAfter возвращается с Stale=true.
func (f *Feed) GetLatestPrice(symbol string) (models.PriceEntry, error) {
	p, ok := f.cache.price(symbol)
	if !ok || !p.HasPrice() {
		return models.PriceEntry{}, fmt.Errorf("%w: %s", models.ErrNotAvailable, symbol)
	}
	p.Stale = f.now().Sub(p.Timestamp) > f.cfg.StaleAfter
	return p, nil
}

// GetKlines возвращает до limit последних свечей (limit<=0 - все)
func (f *Feed) GetKlines(symbol string, limit int) ([]models.Kline, error) {
	klines := f.cache.klines(symbol, limit)
	if len(klines) == 0 {
		return nil, fmt.Errorf("%w: no klines for %s", models.ErrNotAvailable, symbol)
	}
	return klines, nil
}

// GetOrderBook возвращает последний снимок стакана
func (f *Feed) GetOrderBook(symbol string) (models.OrderBookSnapshot, error) {
	b, ok := f.cache.book(symbol)
	if !ok {
		return models.OrderBookSnapshot{}, fmt.Errorf("%w: no order book for %s", models.ErrNotAvailable, symbol)
	}
	return b, nil
}

// ============================================================
// Подписчики
// ============================================================

// RegisterCallback регистрирует подписчика на вид обновлений.
// Подписчики вызываются в порядке регистрации. Возвращает id для отписки.
func (f *Feed) RegisterCallback(kind models.UpdateKind, fn Callback) int {
	f.cbMu.Lock()
	defer f.cbMu.Unlock()

	f.nextCbID++
	f.callbacks[kind] = append(f.callbacks[kind], subscriber{id: f.nextCbID, fn: fn})
	return f.nextCbID
}

// UnregisterCallback удаляет подписчика
func (f *Feed) UnregisterCallback(id int) {
	f.cbMu.Lock()
	defer f.cbMu.Unlock()

	for kind, list := range f.callbacks {
		for i, sub := range list {
			if sub.id == id {
				// новый срез: снимки, уже взятые воркерами, не меняются
				next := make([]subscriber, 0, len(list)-1)
				next = append(next, list[:i]...)
				next = append(next, list[i+1:]...)
				f.callbacks[kind] = next
				return
			}
		}
	}
}

func (f *Feed) subscribersFor(kind models.UpdateKind) []subscriber {
	f.cbMu.RLock()
	defer f.cbMu.RUnlock()
	return f.callbacks[kind]
}

// ============================================================
// Ингест
// ============================================================

// handleMessage разбирает кадр площадки и ставит обновление в шард символа
func (f *Feed) handleMessage(raw []byte) {
	receivedAt := time.Now()

	frame, err := decodeFrame(raw)
	if err != nil {
		f.logger.Warn("malformed venue frame", zap.Error(err), zap.Int("size", len(raw)))
		return
	}

	switch frame.Type {
	case frameSubscribed:
		f.logger.Info("subscription confirmed", zap.Strings("symbols", frame.Symbols))
		return
	case frameError:
		f.logger.Warn("venue error",
			zap.Int("code", frame.Code),
			zap.String("message", frame.Message),
			zap.Strings("symbols", frame.Symbols),
		)
		return
	}

	upd, ok := frame.toUpdate()
	if !ok {
		f.logger.Debug("ignored venue frame", zap.String("type", frame.Type), utils.Symbol(frame.Symbol))
		return
	}
	f.enqueue(envelope{update: upd, receivedAt: receivedAt})
}

// Ingest ставит готовое обновление в обработку (реплей, тесты)
func (f *Feed) Ingest(upd models.MarketUpdate) {
	f.enqueue(envelope{update: upd, receivedAt: time.Now()})
}

func (f *Feed) enqueue(env envelope) {
	ch := f.shards[utils.ShardIndex(env.update.Symbol, len(f.shards))]

	select {
	case ch <- env:
		return
	default:
	}

	// буфер полон: фиксируем и ждём места
	metrics.RecordBufferOverflow("marketdata_shard")
	select {
	case ch <- env:
	case <-f.stopChan:
	}
}

func (f *Feed) shardWorker(idx int, ch <-chan envelope) {
	defer f.wg.Done()

	for {
		select {
		case <-f.stopChan:
			return
		case env := <-ch:
			f.process(env)
		}
	}
}

// process применяет обновление к кешу и раздаёт подписчикам
func (f *Feed) process(env envelope) {
	upd := env.update
	f.cache.apply(upd)

	for _, sub := range f.subscribersFor(upd.Kind) {
		f.invoke(sub, upd)
	}

	metrics.RecordUpdate(string(upd.Kind), env.receivedAt)
}

func (f *Feed) invoke(sub subscriber, upd models.MarketUpdate) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordCallbackFailure(string(upd.Kind))
			f.logger.Error("market data callback panic",
				zap.Int("callback_id", sub.id),
				utils.Symbol(upd.Symbol),
				zap.Any("panic", r),
			)
		}
	}()

	if err := sub.fn(upd); err != nil {
		metrics.RecordCallbackFailure(string(upd.Kind))
		f.logger.Warn("market data callback failed",
			zap.Int("callback_id", sub.id),
			utils.Symbol(upd.Symbol),
			zap.Error(err),
		)
	}
}

// retentionLoop периодически удаляет свечи старше KlineRetention
func (f *Feed) retentionLoop(ctx context.Context) {
	defer f.wg.Done()

	interval := f.cfg.KlineRetention / 24
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stopChan:
			return
		case <-ticker.C:
			f.PurgeKlines()
		}
	}
}

// PurgeKlines удаляет свечи старше KlineRetention
func (f *Feed) PurgeKlines() int {
	if f.cfg.KlineRetention <= 0 {
		return 0
	}
	removed := f.cache.purgeKlines(f.now().Add(-f.cfg.KlineRetention))
	if removed > 0 {
		f.logger.Debug("klines purged", zap.Int("removed", removed))
	}
	return removed
}
