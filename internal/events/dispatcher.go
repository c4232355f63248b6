package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"quanttrade/internal/metrics"
	"quanttrade/internal/models"
)

// Sink - локальный получатель событий (WebSocket hub)
type Sink interface {
	Deliver(event models.Event)
}

// PriceSnapshotter хранит последние цены во внешнем хранилище
type PriceSnapshotter interface {
	SetLastPrice(ctx context.Context, entry models.PriceEntry) error
}

// Dispatcher - точка выхода событий ядра
//
// Ордера, исполнения, алерты и цены синхронно уходят в локальные sink'и
// и асинхронно во внешние брокеры через очередь. Сбой получателя
// логируется и считается, остальные получают событие.
type Dispatcher struct {
	publisher Publisher
	snapshots PriceSnapshotter

	sinksMu sync.RWMutex
	sinks   []Sink

	queue       chan models.Event
	publishWait time.Duration
	logger      *zap.Logger
	now         func() time.Time

	running  bool
	runMu    sync.Mutex
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewDispatcher создаёт диспетчер. publisher может быть nil.
func NewDispatcher(publisher Publisher, bufferSize int, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = 4096
	}
	return &Dispatcher{
		publisher:   publisher,
		queue:       make(chan models.Event, bufferSize),
		publishWait: 5 * time.Second,
		logger:      logger.Named("dispatcher"),
		now:         time.Now,
		stopChan:    make(chan struct{}),
	}
}

// SetPriceSnapshotter включает сохранение снимков цен
func (d *Dispatcher) SetPriceSnapshotter(s PriceSnapshotter) {
	d.snapshots = s
}

// AddSink добавляет локального получателя
func (d *Dispatcher) AddSink(s Sink) {
	d.sinksMu.Lock()
	d.sinks = append(d.sinks, s)
	d.sinksMu.Unlock()
}

// Start запускает воркер публикации
func (d *Dispatcher) Start(ctx context.Context) {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.running {
		return
	}
	d.running = true

	d.wg.Add(1)
	go d.publishLoop(ctx)
}

// Stop останавливает воркер, дописав очередь
func (d *Dispatcher) Stop() {
	d.runMu.Lock()
	if !d.running {
		d.runMu.Unlock()
		return
	}
	d.running = false
	close(d.stopChan)
	d.runMu.Unlock()

	d.wg.Wait()
}

// ============================================================
// Входы
// ============================================================

// OnOrder - изменение ордера
func (d *Dispatcher) OnOrder(order models.Order) {
	d.emit(models.Event{Type: models.EventOrderUpdate, Key: order.ID, Payload: order})
}

// OnFill - исполнение
func (d *Dispatcher) OnFill(event models.FillEvent) {
	d.emit(models.Event{Type: models.EventFill, Key: event.Fill.OrderID, Payload: event})
}

// OnAlert - алерт риск-монитора
func (d *Dispatcher) OnAlert(alert models.RiskAlert) {
	d.emit(models.Event{Type: models.EventRiskAlert, Key: alert.UserID, Payload: alert})
}

// OnPrice - callback фида для ценовых обновлений
func (d *Dispatcher) OnPrice(upd models.MarketUpdate) error {
	if upd.Kind != models.UpdatePrice || upd.Price == nil {
		return nil
	}
	d.emit(models.Event{Type: models.EventPrice, Key: upd.Symbol, Payload: *upd.Price})
	return nil
}

func (d *Dispatcher) emit(event models.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = d.now().UTC()
	}

	d.sinksMu.RLock()
	sinks := d.sinks
	d.sinksMu.RUnlock()
	for _, s := range sinks {
		d.deliver(s, event)
	}

	if !d.external(event) {
		return
	}
	select {
	case d.queue <- event:
	default:
		metrics.RecordBufferOverflow("events")
		d.logger.Warn("event queue full, event not published",
			zap.String("event_type", string(event.Type)),
			zap.String("key", event.Key),
		)
	}
}

// external - нужно ли событие внешним получателям
func (d *Dispatcher) external(event models.Event) bool {
	if event.Type == models.EventPrice {
		return d.snapshots != nil
	}
	return d.publisher != nil
}

func (d *Dispatcher) deliver(s Sink, event models.Event) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordCallbackFailure("sink")
			d.logger.Error("event sink panicked",
				zap.String("event_type", string(event.Type)),
				zap.Any("panic", r),
			)
		}
	}()
	s.Deliver(event)
}

// ============================================================
// Публикация
// ============================================================

func (d *Dispatcher) publishLoop(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case event := <-d.queue:
			d.publish(event)
		case <-d.stopChan:
			d.drain()
			return
		case <-ctx.Done():
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case event := <-d.queue:
			d.publish(event)
		default:
			return
		}
	}
}

func (d *Dispatcher) publish(event models.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.publishWait)
	defer cancel()

	var err error
	if event.Type == models.EventPrice {
		entry, ok := event.Payload.(models.PriceEntry)
		if !ok {
			return
		}
		err = d.snapshots.SetLastPrice(ctx, entry)
		if err != nil {
			metrics.RecordPublishFailure("price_snapshot")
		}
	} else {
		err = d.safePublish(ctx, event)
		if err != nil {
			metrics.RecordPublishFailure(d.publisher.Name())
		}
	}

	if err != nil {
		d.logger.Error("failed to publish event",
			zap.String("event_type", string(event.Type)),
			zap.String("key", event.Key),
			zap.Error(err),
		)
	}
}

func (d *Dispatcher) safePublish(ctx context.Context, event models.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("publisher panic: %v", r)
		}
	}()
	return d.publisher.Publish(ctx, event)
}

// QueueLen возвращает размер очереди публикации
func (d *Dispatcher) QueueLen() int {
	return len(d.queue)
}
