package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"quanttrade/internal/api/handlers"
	"quanttrade/internal/api/middleware"
	"quanttrade/internal/service"
	"quanttrade/internal/websocket"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	OrderService  service.OrderServiceInterface
	MarketService service.MarketServiceInterface
	RiskService   service.RiskServiceInterface
	Hub           *websocket.Hub

	// Разрешенные origins для CORS и WebSocket (пусто - режим разработки)
	AllowedOrigins []string
	Logger         *zap.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /orders/
//	│   ├── POST / - отправить ордер
//	│   ├── GET / - список ордеров
//	│   ├── GET /{id} - ордер
//	│   ├── GET /{id}/fills - исполнения
//	│   └── DELETE /{id} - отменить
//	├── GET /positions - позиции пользователя
//	├── /market/
//	│   ├── POST /subscribe, POST /unsubscribe
//	│   ├── GET /prices/{symbol}
//	│   ├── GET /klines/{symbol}
//	│   └── GET /orderbook/{symbol}
//	├── /risk/
//	│   ├── GET /positions - метрики риска
//	│   ├── GET /limits - лимиты гейта
//	│   ├── GET|POST /rules, GET|PATCH|DELETE /rules/{id}
//	│   ├── GET /alerts
//	│   └── POST /alerts/{id}/ack
//	├── /strategies/
//	│   ├── GET /disabled
//	│   ├── POST /{id}/disable
//	│   └── POST /{id}/enable
//	└── /users/
//	    ├── GET /disabled
//	    ├── POST /{id}/disable
//	    └── POST /{id}/enable
//
// /ws/stream - WebSocket поток price/order_update/fill/risk_alert
// /health, /metrics
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. Identity - X-User-ID в контекст
func SetupRoutes(deps *Dependencies) *mux.Router {
	if deps == nil {
		deps = &Dependencies{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := mux.NewRouter()

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logging(logger))
	router.Use(middleware.CORS(deps.AllowedOrigins))
	router.Use(middleware.Identity)

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()

	// Order routes
	if deps.OrderService != nil {
		orderHandler := handlers.NewOrderHandler(deps.OrderService)
		api.HandleFunc("/orders", orderHandler.SubmitOrder).Methods("POST")
		api.HandleFunc("/orders", orderHandler.ListOrders).Methods("GET")
		api.HandleFunc("/orders/{id}", orderHandler.GetOrder).Methods("GET")
		api.HandleFunc("/orders/{id}/fills", orderHandler.GetFills).Methods("GET")
		api.HandleFunc("/orders/{id}", orderHandler.CancelOrder).Methods("DELETE")
		api.HandleFunc("/positions", orderHandler.GetPositions).Methods("GET")
	}

	// Market data routes
	if deps.MarketService != nil {
		marketHandler := handlers.NewMarketHandler(deps.MarketService)
		api.HandleFunc("/market/subscribe", marketHandler.Subscribe).Methods("POST")
		api.HandleFunc("/market/unsubscribe", marketHandler.Unsubscribe).Methods("POST")
		api.HandleFunc("/market/prices/{symbol}", marketHandler.GetPrice).Methods("GET")
		api.HandleFunc("/market/klines/{symbol}", marketHandler.GetKlines).Methods("GET")
		api.HandleFunc("/market/orderbook/{symbol}", marketHandler.GetOrderBook).Methods("GET")
	}

	// Risk and strategy routes
	if deps.RiskService != nil {
		riskHandler := handlers.NewRiskHandler(deps.RiskService)
		api.HandleFunc("/risk/positions", riskHandler.GetPositionRisk).Methods("GET")
		api.HandleFunc("/risk/limits", riskHandler.GetLimits).Methods("GET")
		api.HandleFunc("/risk/rules", riskHandler.ListRules).Methods("GET")
		api.HandleFunc("/risk/rules", riskHandler.CreateRule).Methods("POST")
		api.HandleFunc("/risk/rules/{id}", riskHandler.GetRule).Methods("GET")
		api.HandleFunc("/risk/rules/{id}", riskHandler.UpdateRule).Methods("PATCH")
		api.HandleFunc("/risk/rules/{id}", riskHandler.DeleteRule).Methods("DELETE")
		api.HandleFunc("/risk/alerts", riskHandler.ListAlerts).Methods("GET")
		api.HandleFunc("/risk/alerts/{id}/ack", riskHandler.AcknowledgeAlert).Methods("POST")

		strategyHandler := handlers.NewStrategyHandler(deps.RiskService)
		api.HandleFunc("/strategies/disabled", strategyHandler.ListDisabled).Methods("GET")
		api.HandleFunc("/strategies/{id}/disable", strategyHandler.DisableStrategy).Methods("POST")
		api.HandleFunc("/strategies/{id}/enable", strategyHandler.EnableStrategy).Methods("POST")
		api.HandleFunc("/users/disabled", strategyHandler.ListDisabledUsers).Methods("GET")
		api.HandleFunc("/users/{id}/disable", strategyHandler.DisableUser).Methods("POST")
		api.HandleFunc("/users/{id}/enable", strategyHandler.EnableUser).Methods("POST")
	}

	// CORS отвечает на preflight раньше, но mux требует маршрут с методом OPTIONS
	api.Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	// WebSocket route
	if deps.Hub != nil {
		router.HandleFunc("/ws/stream", deps.Hub.Handler(websocket.NewOriginChecker(deps.AllowedOrigins)))
	}

	// Prometheus
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
