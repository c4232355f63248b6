package handlers

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"quanttrade/internal/models"
	"quanttrade/internal/service"
	"quanttrade/internal/trading"
)

// OrderHandler отвечает за ордера и позиции пользователя
//
// Endpoints:
// - POST /api/v1/orders              - отправка ордера
// - GET /api/v1/orders               - список ордеров (?symbol=&status=&limit=)
// - GET /api/v1/orders/{id}          - ордер
// - GET /api/v1/orders/{id}/fills    - исполнения ордера
// - DELETE /api/v1/orders/{id}       - отмена
// - GET /api/v1/positions            - позиции пользователя
//
// Пользователь берется из X-User-ID (или ?user_id=). Без пользователя
// чтение и отмена работают по всем ордерам - режим оператора.
type OrderHandler struct {
	orderService service.OrderServiceInterface
}

// NewOrderHandler создает новый OrderHandler
func NewOrderHandler(orderService service.OrderServiceInterface) *OrderHandler {
	return &OrderHandler{orderService: orderService}
}

// listOrdersResponse ответ со списком ордеров
type listOrdersResponse struct {
	Orders []*models.Order `json:"orders"`
	Total  int             `json:"total"`
}

// SubmitOrder отправляет ордер
// POST /api/v1/orders
//
// Request Body:
//
//	{
//	  "client_order_id": "c-1",
//	  "strategy_id": "mean-rev",
//	  "symbol": "BTCUSDT",
//	  "side": "BUY",
//	  "type": "LIMIT",
//	  "quantity": "0.5",
//	  "limit_price": "42000",
//	  "time_in_force": "GTC"
//	}
//
// Response:
// - 201 Created: ордер принят (статус может быть уже FILLED)
// - 400 Bad Request: невалидный ордер
// - 409 Conflict: повтор client_order_id
// - 422 Unprocessable Entity: отказ риск-гейта
// - 503 Service Unavailable: нет цены для MARKET
func (h *OrderHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req models.OrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if id := userID(r); id != "" {
		req.UserID = id
	}

	order, err := h.orderService.SubmitOrder(r.Context(), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, order)
}

// ListOrders возвращает ордера, новые первыми
// GET /api/v1/orders?symbol=BTCUSDT&status=PENDING,PARTIAL&limit=50
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	filter := trading.OrderFilter{
		UserID: userID(r),
		Symbol: strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol"))),
		Limit:  queryInt(r, "limit", 0),
	}
	for _, s := range queryList(r, "status") {
		filter.Statuses = append(filter.Statuses, models.OrderStatus(strings.ToUpper(s)))
	}

	orders, err := h.orderService.ListOrders(r.Context(), filter)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if orders == nil {
		orders = []*models.Order{}
	}
	respondWithJSON(w, http.StatusOK, listOrdersResponse{Orders: orders, Total: len(orders)})
}

// GetOrder возвращает ордер
// GET /api/v1/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orderService.GetOrder(r.Context(), userID(r), mux.Vars(r)["id"])
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, order)
}

// GetFills возвращает исполнения ордера в порядке времени
// GET /api/v1/orders/{id}/fills
func (h *OrderHandler) GetFills(w http.ResponseWriter, r *http.Request) {
	fills, err := h.orderService.GetFills(r.Context(), userID(r), mux.Vars(r)["id"])
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if fills == nil {
		fills = []models.Fill{}
	}
	respondWithJSON(w, http.StatusOK, fills)
}

// CancelOrder отменяет ордер
// DELETE /api/v1/orders/{id}
//
// Response:
// - 200 OK: ордер отменен, в теле итоговое состояние
// - 404 Not Found: ордера нет
// - 409 Conflict: ордер уже FILLED/CANCELLED/REJECTED
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orderService.CancelOrder(r.Context(), userID(r), mux.Vars(r)["id"])
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, order)
}

// GetPositions возвращает открытые позиции пользователя
// GET /api/v1/positions
func (h *OrderHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, h.orderService.GetPositions(user))
}
