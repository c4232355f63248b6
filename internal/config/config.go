package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Trading    TradingConfig
	Risk       RiskConfig
	MarketData MarketDataConfig
	Events     EventsConfig
	Logging    LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port           int
	Host           string
	UseHTTPS       bool
	CertFile       string
	KeyFile        string
	AllowedOrigins []string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Enabled  bool // false = состояние только в памяти
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// TradingConfig - параметры роутера ордеров
type TradingConfig struct {
	MinOrderSize    decimal.Decimal
	MaxOrderSize    decimal.Decimal
	Slippage        decimal.Decimal // доля, 0.001 = 0.1%
	CommissionRate  decimal.Decimal
	RespectBookSize bool // ограничивать исполнение объёмом лучшей цены

	// Ограничение частоты submit на пользователя
	SubmitRate  float64
	SubmitBurst float64
}

// RiskConfig - лимиты риск-гейта и периодической проверки
type RiskConfig struct {
	InitialCapital    decimal.Decimal
	MaxPositionValue  decimal.Decimal
	MaxLeverage       decimal.Decimal
	MaxConcentration  decimal.Decimal
	MaxPriceDeviation decimal.Decimal
	MaxDailyLoss      decimal.Decimal
	CheckInterval     time.Duration
	ReturnsWindow     int // сколько доходностей хранить для VaR
}

// MarketDataConfig - настройки рыночного фида
type MarketDataConfig struct {
	VenueName         string
	WSURL             string
	DefaultMarketType string
	MaxSymbols        int
	StaleAfter        time.Duration
	KlineCacheSize    int
	KlineRetention    time.Duration
	Shards            int
	ShardBuffer       int

	// WebSocket переподключение
	ReconnectDelay    time.Duration
	ReconnectMaxDelay time.Duration
	ReconnectRetries  int
	PingInterval      time.Duration
	ConnectTimeout    time.Duration
}

// EventsConfig - внешняя публикация событий
type EventsConfig struct {
	KafkaBrokers []string
	KafkaTopic   string
	RedisAddr    string
	RedisStream  string
	RedisDB      int
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level       string
	Format      string
	Output      string
	Development bool
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS:       getEnvAsBool("USE_HTTPS", false),
			CertFile:       getEnv("CERT_FILE", ""),
			KeyFile:        getEnv("KEY_FILE", ""),
			AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", nil),
		},
		Database: DatabaseConfig{
			Enabled:  getEnvAsBool("DB_ENABLED", true),
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "quanttrade"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Trading: TradingConfig{
			MinOrderSize:    getEnvAsDecimal("MIN_ORDER_SIZE", "0.001"),
			MaxOrderSize:    getEnvAsDecimal("MAX_ORDER_SIZE", "10"),
			Slippage:        getEnvAsDecimal("MAX_SLIPPAGE", "0.001"),
			CommissionRate:  getEnvAsDecimal("COMMISSION_RATE", "0.001"),
			RespectBookSize: getEnvAsBool("RESPECT_BOOK_SIZE", false),
			SubmitRate:      getEnvAsFloat("SUBMIT_RATE", 20),
			SubmitBurst:     getEnvAsFloat("SUBMIT_BURST", 40),
		},
		Risk: RiskConfig{
			InitialCapital:    getEnvAsDecimal("INITIAL_CAPITAL", "1000000"),
			MaxPositionValue:  getEnvAsDecimal("MAX_POSITION_VALUE", "1000000"),
			MaxLeverage:       getEnvAsDecimal("MAX_LEVERAGE", "3"),
			MaxConcentration:  getEnvAsDecimal("MAX_CONCENTRATION", "0.3"),
			MaxPriceDeviation: getEnvAsDecimal("MAX_PRICE_DEVIATION", "0.05"),
			MaxDailyLoss:      getEnvAsDecimal("MAX_DAILY_LOSS", "50000"),
			CheckInterval:     getEnvAsDuration("RISK_CHECK_INTERVAL", 60*time.Second),
			ReturnsWindow:     getEnvAsInt("RISK_RETURNS_WINDOW", 250),
		},
		MarketData: MarketDataConfig{
			VenueName:         getEnv("MARKET_VENUE", "venue"),
			WSURL:             getEnv("MARKET_WS_URL", "ws://localhost:9000/ws"),
			DefaultMarketType: getEnv("MARKET_TYPE", "cn_stocks"),
			MaxSymbols:        getEnvAsInt("MARKET_MAX_SYMBOLS", 30),
			StaleAfter:        getEnvAsDuration("PRICE_STALE_AFTER", 10*time.Second),
			KlineCacheSize:    getEnvAsInt("KLINE_CACHE_SIZE", 1000),
			KlineRetention:    getEnvAsDuration("KLINE_RETENTION", 24*time.Hour),
			Shards:            getEnvAsInt("MARKET_SHARDS", 8),
			ShardBuffer:       getEnvAsInt("MARKET_SHARD_BUFFER", 1024),
			ReconnectDelay:    getEnvAsDuration("WS_RECONNECT_DELAY", 1*time.Second),
			ReconnectMaxDelay: getEnvAsDuration("WS_RECONNECT_MAX_DELAY", 30*time.Second),
			ReconnectRetries:  getEnvAsInt("WS_RECONNECT_RETRIES", 0),
			PingInterval:      getEnvAsDuration("WS_PING_INTERVAL", 60*time.Second),
			ConnectTimeout:    getEnvAsDuration("WS_CONNECT_TIMEOUT", 10*time.Second),
		},
		Events: EventsConfig{
			KafkaBrokers: getEnvAsList("KAFKA_BROKERS", nil),
			KafkaTopic:   getEnv("KAFKA_TOPIC", "quanttrade.events"),
			RedisAddr:    getEnv("REDIS_ADDR", ""),
			RedisStream:  getEnv("REDIS_STREAM", "quanttrade:events"),
			RedisDB:      getEnvAsInt("REDIS_DB", 0),
		},
		Logging: LoggingConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Format:      getEnv("LOG_FORMAT", "json"),
			Output:      getEnv("LOG_OUTPUT", ""),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	// Торговые параметры
	if !c.Trading.MinOrderSize.IsPositive() {
		return fmt.Errorf("MIN_ORDER_SIZE must be positive, got %s", c.Trading.MinOrderSize)
	}
	if c.Trading.MaxOrderSize.LessThan(c.Trading.MinOrderSize) {
		return fmt.Errorf("MAX_ORDER_SIZE (%s) must not be less than MIN_ORDER_SIZE (%s)",
			c.Trading.MaxOrderSize, c.Trading.MinOrderSize)
	}
	if c.Trading.Slippage.IsNegative() || c.Trading.Slippage.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("MAX_SLIPPAGE must be in [0, 1), got %s", c.Trading.Slippage)
	}
	if c.Trading.CommissionRate.IsNegative() {
		return fmt.Errorf("COMMISSION_RATE cannot be negative, got %s", c.Trading.CommissionRate)
	}

	// Риск
	if !c.Risk.InitialCapital.IsPositive() {
		return fmt.Errorf("INITIAL_CAPITAL must be positive, got %s", c.Risk.InitialCapital)
	}
	if !c.Risk.MaxLeverage.IsPositive() {
		return fmt.Errorf("MAX_LEVERAGE must be positive, got %s", c.Risk.MaxLeverage)
	}
	if !c.Risk.MaxConcentration.IsPositive() || c.Risk.MaxConcentration.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("MAX_CONCENTRATION must be in (0, 1], got %s", c.Risk.MaxConcentration)
	}
	if c.Risk.CheckInterval <= 0 {
		return fmt.Errorf("RISK_CHECK_INTERVAL must be positive, got %v", c.Risk.CheckInterval)
	}
	if c.Risk.ReturnsWindow < 2 {
		return fmt.Errorf("RISK_RETURNS_WINDOW must be at least 2, got %d", c.Risk.ReturnsWindow)
	}

	// Рыночные данные
	if c.MarketData.MaxSymbols < 1 {
		return fmt.Errorf("MARKET_MAX_SYMBOLS must be positive, got %d", c.MarketData.MaxSymbols)
	}
	if c.MarketData.Shards < 1 || c.MarketData.Shards > 256 {
		return fmt.Errorf("MARKET_SHARDS must be between 1 and 256, got %d", c.MarketData.Shards)
	}
	if c.MarketData.StaleAfter <= 0 {
		return fmt.Errorf("PRICE_STALE_AFTER must be positive, got %v", c.MarketData.StaleAfter)
	}
	if c.MarketData.ReconnectRetries < 0 {
		return fmt.Errorf("WS_RECONNECT_RETRIES cannot be negative, got %d", c.MarketData.ReconnectRetries)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDecimal читает денежный параметр без прохода через float
func getEnvAsDecimal(key, defaultValue string) decimal.Decimal {
	if valueStr := os.Getenv(key); valueStr != "" {
		if value, err := decimal.NewFromString(valueStr); err == nil {
			return value
		}
	}
	return decimal.RequireFromString(defaultValue)
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
