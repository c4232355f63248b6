package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"quanttrade/internal/models"
	"quanttrade/internal/service"
)

// MarketHandler - подписки и рыночные данные
//
// Endpoints:
// - POST /api/v1/market/subscribe
// - POST /api/v1/market/unsubscribe
// - GET /api/v1/market/prices/{symbol}
// - GET /api/v1/market/klines/{symbol}?limit=
// - GET /api/v1/market/orderbook/{symbol}
type MarketHandler struct {
	marketService service.MarketServiceInterface
}

// NewMarketHandler создает новый MarketHandler
func NewMarketHandler(marketService service.MarketServiceInterface) *MarketHandler {
	return &MarketHandler{marketService: marketService}
}

// subscriptionsResponse - текущие подписки фида
type subscriptionsResponse struct {
	Subscriptions []string `json:"subscriptions"`
}

// Subscribe подписывает фид на символы
// POST /api/v1/market/subscribe
//
//	{"symbols": ["BTCUSDT", "ETHUSDT"], "market_type": "crypto"}
func (h *MarketHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req service.SubscribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	subs, err := h.marketService.Subscribe(r.Context(), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondSubscriptions(w, subs)
}

// Unsubscribe снимает подписку
// POST /api/v1/market/unsubscribe
func (h *MarketHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req service.SubscribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	subs, err := h.marketService.Unsubscribe(r.Context(), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondSubscriptions(w, subs)
}

// GetPrice возвращает последнюю цену
// GET /api/v1/market/prices/{symbol}
//
// 503, если цены еще нет или она устарела
func (h *MarketHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	price, err := h.marketService.GetPrice(mux.Vars(r)["symbol"])
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, price)
}

// GetKlines возвращает последние свечи, старые первыми
// GET /api/v1/market/klines/{symbol}?limit=100
func (h *MarketHandler) GetKlines(w http.ResponseWriter, r *http.Request) {
	klines, err := h.marketService.GetKlines(mux.Vars(r)["symbol"], queryInt(r, "limit", 0))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if klines == nil {
		klines = []models.Kline{}
	}
	respondWithJSON(w, http.StatusOK, klines)
}

// GetOrderBook возвращает снимок стакана
// GET /api/v1/market/orderbook/{symbol}
func (h *MarketHandler) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.marketService.GetOrderBook(mux.Vars(r)["symbol"])
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, book)
}

func respondSubscriptions(w http.ResponseWriter, subs []string) {
	if subs == nil {
		subs = []string{}
	}
	respondWithJSON(w, http.StatusOK, subscriptionsResponse{Subscriptions: subs})
}
