package marketdata

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"

	"quanttrade/internal/models"
	"quanttrade/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Connector - соединение с площадкой рыночных данных
// (реализуется WSReconnectManager, в тестах - фейком)
type Connector interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	Send(frame []byte) error
	SetOnMessage(handler func([]byte))
	SetResubscribe(provider func() [][]byte)
	Close() error
}

// ============================================================
// Формат кадров площадки
// ============================================================

// Управляющие операции
const (
	opSubscribe   = "subscribe"
	opUnsubscribe = "unsubscribe"
)

// Типы входящих кадров
const (
	frameTick       = "tick"
	frameKline      = "kline"
	frameOrderBook  = "orderbook"
	frameSubscribed = "subscribed"
	frameError      = "error"
)

// controlFrame - исходящий кадр подписки/отписки
type controlFrame struct {
	Op         string   `json:"op"`
	MarketType string   `json:"market_type,omitempty"`
	Symbols    []string `json:"symbols"`
}

// inboundFrame - входящий кадр. Поля заполнены в зависимости от Type.
// Числа принимаются как строкой, так и числом JSON.
type inboundFrame struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
	TS     int64  `json:"ts"`

	// tick
	Price   decimal.Decimal `json:"price"`
	Bid     decimal.Decimal `json:"bid"`
	Ask     decimal.Decimal `json:"ask"`
	BidSize decimal.Decimal `json:"bid_size"`
	AskSize decimal.Decimal `json:"ask_size"`

	// kline
	Interval string          `json:"interval"`
	OpenTime int64           `json:"open_time"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   decimal.Decimal `json:"volume"`

	// orderbook: [[price, size], ...]
	Bids [][2]decimal.Decimal `json:"bids"`
	Asks [][2]decimal.Decimal `json:"asks"`

	// subscribed / error
	Symbols []string `json:"symbols"`
	Code    int      `json:"code"`
	Message string   `json:"message"`
}

func encodeControl(op string, marketType models.MarketType, symbols []string) ([]byte, error) {
	return json.Marshal(controlFrame{Op: op, MarketType: string(marketType), Symbols: symbols})
}

func decodeFrame(raw []byte) (*inboundFrame, error) {
	var f inboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// toUpdate преобразует рыночный кадр в обновление для кеша и подписчиков.
// ok=false для служебных кадров и кадров без символа.
func (f *inboundFrame) toUpdate() (models.MarketUpdate, bool) {
	if f.Symbol == "" {
		return models.MarketUpdate{}, false
	}
	ts := utils.FromUnixMillis(f.TS)

	switch f.Type {
	case frameTick:
		price := f.Price
		// площадка может прислать только котировки
		if !price.IsPositive() && f.Bid.IsPositive() && f.Ask.IsPositive() {
			price = f.Bid.Add(f.Ask).Div(decimal.NewFromInt(2))
		}
		if !price.IsPositive() {
			return models.MarketUpdate{}, false
		}
		return models.MarketUpdate{
			Kind:   models.UpdatePrice,
			Symbol: f.Symbol,
			Price: &models.PriceEntry{
				Symbol:    f.Symbol,
				Price:     price,
				Bid:       f.Bid,
				Ask:       f.Ask,
				BidSize:   f.BidSize,
				AskSize:   f.AskSize,
				Timestamp: ts,
			},
		}, true

	case frameKline:
		openTime := ts
		if f.OpenTime > 0 {
			openTime = time.UnixMilli(f.OpenTime).UTC()
		}
		return models.MarketUpdate{
			Kind:   models.UpdateKline,
			Symbol: f.Symbol,
			Kline: &models.Kline{
				Symbol:   f.Symbol,
				Interval: f.Interval,
				OpenTime: openTime,
				Open:     f.Open,
				High:     f.High,
				Low:      f.Low,
				Close:    f.Close,
				Volume:   f.Volume,
			},
		}, true

	case frameOrderBook:
		return models.MarketUpdate{
			Kind:   models.UpdateOrderBook,
			Symbol: f.Symbol,
			Book: &models.OrderBookSnapshot{
				Symbol:    f.Symbol,
				Bids:      toLevels(f.Bids),
				Asks:      toLevels(f.Asks),
				Timestamp: ts,
			},
		}, true
	}

	return models.MarketUpdate{}, false
}

func toLevels(raw [][2]decimal.Decimal) []models.BookLevel {
	levels := make([]models.BookLevel, 0, len(raw))
	for _, lvl := range raw {
		levels = append(levels, models.BookLevel{Price: lvl[0], Quantity: lvl[1]})
	}
	return levels
}
