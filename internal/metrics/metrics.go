package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики торгового ядра
// ============================================================

const namespace = "quanttrade"

// ============ Рыночные данные ============

// TicksProcessed - обработанные рыночные обновления по видам
var TicksProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "marketdata",
		Name:      "updates_processed_total",
		Help:      "Total number of market data updates applied to the cache",
	},
	[]string{"kind"}, // price, kline, orderbook
)

// UpdateLatency - время от приёма кадра до конца fan-out
var UpdateLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "marketdata",
		Name:      "fanout_latency_ms",
		Help:      "Time from frame receipt to the end of callback fan-out in milliseconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 50},
	},
	[]string{"kind"},
)

// CallbackFailures - ошибки и паники подписчиков
var CallbackFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "marketdata",
		Name:      "callback_failures_total",
		Help:      "Number of observer callbacks that returned an error or panicked",
	},
	[]string{"kind"},
)

// FeedConnection - состояние соединения с площадкой (1=connected)
var FeedConnection = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "marketdata",
		Name:      "connection_status",
		Help:      "Venue connection status (1=connected, 0=disconnected)",
	},
	[]string{"venue"},
)

// FeedReconnects - попытки переподключения
var FeedReconnects = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "marketdata",
		Name:      "reconnects_total",
		Help:      "Number of venue reconnect attempts",
	},
	[]string{"venue", "result"}, // success, failed
)

// SubscribedSymbols - текущее число подписанных символов
var SubscribedSymbols = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "marketdata",
		Name:      "subscribed_symbols",
		Help:      "Current number of subscribed symbols",
	},
)

// ============ Ордера и исполнения ============

// OrdersTotal - переходы ордеров по статусам
var OrdersTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "trading",
		Name:      "orders_total",
		Help:      "Total number of order status transitions",
	},
	[]string{"type", "status"},
)

// FillsTotal - исполнения
var FillsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "trading",
		Name:      "fills_total",
		Help:      "Total number of fills",
	},
	[]string{"symbol", "side"},
)

// TickToFillLatency - время от тика до применённого исполнения
var TickToFillLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "trading",
		Name:      "tick_to_fill_latency_ms",
		Help:      "Latency from price tick to applied fill in milliseconds",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100},
	},
)

// PendingOrders - ордера в индексах ожидания
var PendingOrders = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "trading",
		Name:      "pending_orders",
		Help:      "Number of resting LIMIT/STOP orders",
	},
)

// Inconsistencies - исполнения, которые не удалось сохранить
var Inconsistencies = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "trading",
		Name:      "inconsistencies_total",
		Help:      "Number of fills applied in memory but not persisted",
	},
)

// ============ Риск ============

// RiskRejections - отказы риск-гейта по проверкам
var RiskRejections = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "risk",
		Name:      "rejections_total",
		Help:      "Number of orders rejected by the risk gate",
	},
	[]string{"check"},
)

// RiskAlerts - алерты по уровням
var RiskAlerts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "risk",
		Name:      "alerts_total",
		Help:      "Number of raised risk alerts",
	},
	[]string{"level", "action"},
)

// SweepDuration - длительность периодической проверки
var SweepDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "risk",
		Name:      "sweep_duration_ms",
		Help:      "Duration of the periodic risk sweep in milliseconds",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 1000},
	},
)

// ============ Доставка событий ============

// PublishFailures - ошибки публикации во внешние брокеры
var PublishFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "publish_failures_total",
		Help:      "Number of failed publishes to external brokers",
	},
	[]string{"publisher"},
)

// BufferOverflows - переполнения буферов каналов
var BufferOverflows = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "buffer_overflows_total",
		Help:      "Number of channel buffer overflows (events dropped)",
	},
	[]string{"buffer"},
)

// ============ WebSocket ============

// WSClients - подключенные клиенты потока
var WSClients = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "websocket",
		Name:      "clients",
		Help:      "Number of connected stream clients",
	},
)

// WSDropped - сообщения, не доставленные медленным клиентам
var WSDropped = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "websocket",
		Name:      "dropped_messages_total",
		Help:      "Number of stream messages dropped for slow clients or a full broadcast queue",
	},
	[]string{"reason"}, // queue_full, slow_client
)

// ============ Вспомогательные функции ============

// RecordUpdate записывает обработанное рыночное обновление
func RecordUpdate(kind string, started time.Time) {
	TicksProcessed.WithLabelValues(kind).Inc()
	UpdateLatency.WithLabelValues(kind).Observe(msSince(started))
}

// RecordCallbackFailure записывает сбой подписчика
func RecordCallbackFailure(kind string) {
	CallbackFailures.WithLabelValues(kind).Inc()
}

// UpdateFeedStatus обновляет статус соединения с площадкой
func UpdateFeedStatus(venue string, connected bool) {
	if connected {
		FeedConnection.WithLabelValues(venue).Set(1)
	} else {
		FeedConnection.WithLabelValues(venue).Set(0)
	}
}

// RecordReconnect записывает попытку переподключения
func RecordReconnect(venue string, ok bool) {
	result := "failed"
	if ok {
		result = "success"
	}
	FeedReconnects.WithLabelValues(venue, result).Inc()
}

// RecordOrder записывает переход ордера в статус
func RecordOrder(orderType, status string) {
	OrdersTotal.WithLabelValues(orderType, status).Inc()
}

// RecordFill записывает исполнение и латентность от тика
func RecordFill(symbol, side string, tickAt time.Time) {
	FillsTotal.WithLabelValues(symbol, side).Inc()
	if !tickAt.IsZero() {
		TickToFillLatency.Observe(msSince(tickAt))
	}
}

// RecordRiskRejection записывает отказ риск-гейта
func RecordRiskRejection(check string) {
	RiskRejections.WithLabelValues(check).Inc()
}

// RecordAlert записывает алерт
func RecordAlert(level, action string) {
	RiskAlerts.WithLabelValues(level, action).Inc()
}

// RecordSweep записывает длительность проверки
func RecordSweep(started time.Time) {
	SweepDuration.Observe(msSince(started))
}

// RecordPublishFailure записывает ошибку публикации
func RecordPublishFailure(publisher string) {
	PublishFailures.WithLabelValues(publisher).Inc()
}

// RecordBufferOverflow записывает переполнение буфера
func RecordBufferOverflow(bufferName string) {
	BufferOverflows.WithLabelValues(bufferName).Inc()
}

// RecordWSDrop записывает потерянное сообщение потока
func RecordWSDrop(reason string, n int) {
	WSDropped.WithLabelValues(reason).Add(float64(n))
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}
