package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"quanttrade/internal/api"
	"quanttrade/internal/config"
	"quanttrade/internal/events"
	"quanttrade/internal/ledger"
	"quanttrade/internal/marketdata"
	"quanttrade/internal/models"
	"quanttrade/internal/repository"
	"quanttrade/internal/risk"
	"quanttrade/internal/service"
	"quanttrade/internal/trading"
	"quanttrade/internal/websocket"
	"quanttrade/pkg/retry"
	"quanttrade/pkg/utils"
)

func main() {
	// .env необязателен: в контейнере переменные приходят из окружения
	envErr := godotenv.Load()

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := utils.InitGlobalLogger(utils.LogConfig{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		Development: cfg.Logging.Development,
	}).Logger
	defer logger.Sync()

	if envErr != nil {
		logger.Debug(".env not loaded", zap.Error(envErr))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ============ Хранилища ============

	var (
		orderStore trading.Store
		riskStore  risk.Store
		db         *sql.DB
	)
	if cfg.Database.Enabled {
		db, err = initDatabase(ctx, cfg.Database, logger)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		if err := repository.EnsureSchema(ctx, db); err != nil {
			logger.Fatal("failed to apply schema", zap.Error(err))
		}
		store := repository.NewStore(db)
		orderStore, riskStore = store, store
		logger.Info("connected to database", zap.String("dsn", cfg.Database.DSNWithoutPassword()))
	} else {
		orderStore, riskStore = trading.NewMemoryStore(), risk.NewMemoryStore()
		logger.Warn("database disabled, state is kept in memory only")
	}

	// ============ Рыночные данные ============

	md := cfg.MarketData
	conn := marketdata.NewWSReconnectManager(md.VenueName, md.WSURL, marketdata.ReconnectConfig{
		InitialDelay:   md.ReconnectDelay,
		MaxDelay:       md.ReconnectMaxDelay,
		MaxRetries:     md.ReconnectRetries,
		ConnectTimeout: md.ConnectTimeout,
		PingInterval:   md.PingInterval,
	}, logger)

	feedCfg := marketdata.DefaultConfig()
	feedCfg.Venue = md.VenueName
	feedCfg.DefaultMarketType = models.MarketType(md.DefaultMarketType)
	feedCfg.MaxSymbols = md.MaxSymbols
	feedCfg.StaleAfter = md.StaleAfter
	feedCfg.KlineCacheSize = md.KlineCacheSize
	feedCfg.KlineRetention = md.KlineRetention
	feedCfg.Shards = md.Shards
	feedCfg.ShardBuffer = md.ShardBuffer
	feed := marketdata.NewFeed(feedCfg, conn, logger)

	// ============ Ядро: ledger, риск, роутер ============

	led := ledger.New(logger)
	gate := risk.NewGate(risk.LimitsFromConfig(
		cfg.Risk.MaxPositionValue,
		cfg.Risk.MaxLeverage,
		cfg.Risk.MaxConcentration,
		cfg.Risk.MaxPriceDeviation,
		cfg.Risk.MaxDailyLoss,
	), logger)
	guard := risk.NewStrategyGuard(logger)
	valuer := risk.NewValuer(led, feed, cfg.Risk.InitialCapital)
	router := trading.NewRouter(cfg.Trading, orderStore, led, feed, gate, guard, valuer, logger)

	monitor := risk.NewMonitor(risk.MonitorConfig{
		CheckInterval: cfg.Risk.CheckInterval,
		ReturnsWindow: cfg.Risk.ReturnsWindow,
	}, riskStore, valuer, led, feed, guard, logger)
	monitor.SetClosePositionFunc(router.ClosePosition)
	router.SetAlertRaiser(monitor)

	// ============ События: WebSocket, Kafka, Redis ============

	hub := websocket.NewHub(logger)
	go hub.Run()

	var publishers []events.Publisher
	var redisPublisher *events.RedisPublisher
	if len(cfg.Events.KafkaBrokers) > 0 {
		publishers = append(publishers, events.NewKafkaPublisher(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic, logger))
	}
	if cfg.Events.RedisAddr != "" {
		redisPublisher = events.NewRedisPublisher(events.RedisConfig{
			Addr:   cfg.Events.RedisAddr,
			DB:     cfg.Events.RedisDB,
			Stream: cfg.Events.RedisStream,
			MaxLen: 100000,
		}, logger)
		publishers = append(publishers, redisPublisher)
	}

	var publisher events.Publisher
	if len(publishers) > 0 {
		publisher = events.NewMultiPublisher(logger, publishers...)
	}
	dispatcher := events.NewDispatcher(publisher, 0, logger)
	if redisPublisher != nil {
		dispatcher.SetPriceSnapshotter(redisPublisher)
	}
	dispatcher.AddSink(hub)

	router.SetNotifier(dispatcher)
	monitor.AddAlertHook(dispatcher.OnAlert)
	feed.RegisterCallback(models.UpdatePrice, router.OnPrice)
	feed.RegisterCallback(models.UpdatePrice, dispatcher.OnPrice)

	// ============ Восстановление и старт ============

	recovery := trading.NewRecovery(router, 30*time.Second, logger)
	result, err := recovery.Recover(ctx)
	if err != nil {
		logger.Fatal("state recovery failed", zap.Error(err))
	}

	dispatcher.Start(ctx)
	feed.Start(ctx)
	if err := monitor.Start(ctx); err != nil {
		logger.Fatal("failed to start risk monitor", zap.Error(err))
	}
	resubscribe(ctx, feed, result.Symbols, md.MaxSymbols, logger)

	// Сверка ledger с хранилищем: сразу после восстановления и далее с периодом риск-монитора
	if mismatches, err := recovery.VerifyPositions(ctx); err != nil {
		logger.Warn("position verification failed", zap.Error(err))
	} else if len(mismatches) > 0 {
		logger.Error("positions diverged from storage after recovery", zap.Int("count", len(mismatches)))
	}
	go recovery.RunVerifier(ctx, cfg.Risk.CheckInterval)

	// ============ HTTP API ============

	deps := &api.Dependencies{
		OrderService:   service.NewOrderService(router, led, logger),
		MarketService:  service.NewMarketService(feed),
		RiskService:    service.NewRiskService(monitor, riskStore, guard, gate, logger),
		Hub:            hub,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.SetupRoutes(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Запуск сервера в отдельной горутине
	go func() {
		logger.Info("starting server", zap.String("addr", server.Addr), zap.Bool("https", cfg.Server.UseHTTPS))
		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("shutting down", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Сначала перестаем принимать ордера, потом останавливаем источники событий
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	feed.Stop()
	if err := conn.Close(); err != nil {
		logger.Warn("error closing market data connection", zap.Error(err))
	}
	monitor.Stop()
	dispatcher.Stop()
	hub.Stop()
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Warn("error closing publishers", zap.Error(err))
		}
	}
	cancel()

	logger.Info("server exited",
		zap.Int("pending_orders", router.PendingCount()),
		zap.Int64("ws_dropped", hub.DroppedMessages()),
	)
}

// initDatabase создает подключение к базе данных, повторяя ping при старте
func initDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Проверка подключения: база может подниматься вместе с сервисом
	err = retry.Do(ctx, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			logger.Warn("database not ready", zap.Error(err))
			return err
		}
		return nil
	}, retry.StartupConfig())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// resubscribe возвращает подписки на символы восстановленных ордеров и позиций
// пачками не больше лимита фида. Ошибка не фатальна: подписку можно повторить через API.
func resubscribe(ctx context.Context, feed *marketdata.Feed, symbols []string, batch int, logger *zap.Logger) {
	if batch < 1 {
		batch = 1
	}
	for start := 0; start < len(symbols); start += batch {
		end := start + batch
		if end > len(symbols) {
			end = len(symbols)
		}
		if err := feed.Subscribe(ctx, symbols[start:end], ""); err != nil {
			logger.Error("failed to restore subscriptions",
				zap.Strings("symbols", symbols[start:end]),
				zap.Error(err),
			)
		}
	}
}
