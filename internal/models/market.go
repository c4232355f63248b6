package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketType - сегмент рынка, на который оформляется подписка
type MarketType string

const (
	MarketCNStocks  MarketType = "cn_stocks"
	MarketCNFutures MarketType = "cn_futures"
	MarketCrypto    MarketType = "crypto"
)

// PriceEntry - запись кеша последней цены
//
// Перезаписывается на каждом тике. Stale вычисляется при чтении.
type PriceEntry struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	BidSize   decimal.Decimal `json:"bid_size"`
	AskSize   decimal.Decimal `json:"ask_size"`
	Timestamp time.Time       `json:"timestamp"`
	Stale     bool            `json:"stale"`
}

// HasPrice - есть ли валидная цена
func (p PriceEntry) HasPrice() bool {
	return p.Price.IsPositive()
}

// Kline - свеча
type Kline struct {
	Symbol   string          `json:"symbol"`
	Interval string          `json:"interval"`
	OpenTime time.Time       `json:"open_time"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   decimal.Decimal `json:"volume"`
}

// BookLevel - уровень стакана
type BookLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// OrderBookSnapshot - снимок стакана
type OrderBookSnapshot struct {
	Symbol    string      `json:"symbol"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
	Timestamp time.Time   `json:"timestamp"`
}

// UpdateKind - вид рыночного обновления для подписчиков
type UpdateKind string

const (
	UpdatePrice     UpdateKind = "price"
	UpdateKline     UpdateKind = "kline"
	UpdateOrderBook UpdateKind = "orderbook"
)

// MarketUpdate - обновление, доставляемое зарегистрированным callback'ам.
// Заполнено только поле, соответствующее Kind.
type MarketUpdate struct {
	Kind   UpdateKind
	Symbol string
	Price  *PriceEntry
	Kline  *Kline
	Book   *OrderBookSnapshot
}
