package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"quanttrade/internal/models"
)

// streamClient - команды go-redis, нужные публикатору
type streamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// RedisPublisher публикует события в Redis Stream и хранит
// снимок последних цен для внешних читателей
type RedisPublisher struct {
	stream    string
	maxLen    int64
	priceTTL  time.Duration
	keyPrefix string
	client    streamClient
	logger    *zap.Logger
}

// RedisConfig - параметры Redis публикатора
type RedisConfig struct {
	Addr     string
	DB       int
	Stream   string
	MaxLen   int64         // приблизительная длина стрима, 0 = без обрезки
	PriceTTL time.Duration // время жизни снимка цены
}

// NewRedisPublisher создаёт публикатор
func NewRedisPublisher(cfg RedisConfig, logger *zap.Logger) *RedisPublisher {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})
	return newRedisPublisher(cfg, client, logger)
}

func newRedisPublisher(cfg RedisConfig, client streamClient, logger *zap.Logger) *RedisPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Stream == "" {
		cfg.Stream = "quanttrade.events"
	}
	if cfg.PriceTTL <= 0 {
		cfg.PriceTTL = time.Minute
	}
	return &RedisPublisher{
		stream:    cfg.Stream,
		maxLen:    cfg.MaxLen,
		priceTTL:  cfg.PriceTTL,
		keyPrefix: "quanttrade:price:",
		client:    client,
		logger:    logger.Named("redis"),
	}
}

func (r *RedisPublisher) Name() string { return "redis" }

// Publish добавляет событие в стрим
func (r *RedisPublisher) Publish(ctx context.Context, event models.Event) error {
	data, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]interface{}{
			"event_type": string(event.Type),
			"key":        event.Key,
			"data":       string(data),
			"timestamp":  event.Timestamp.Format(time.RFC3339Nano),
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}

	id, err := r.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("failed to publish to redis stream: %w", err)
	}

	r.logger.Debug("event published",
		zap.String("stream", r.stream),
		zap.String("event_type", string(event.Type)),
		zap.String("message_id", id),
	)
	return nil
}

// SetLastPrice сохраняет снимок последней цены символа
func (r *RedisPublisher) SetLastPrice(ctx context.Context, entry models.PriceEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal price: %w", err)
	}
	if err := r.client.Set(ctx, r.keyPrefix+entry.Symbol, data, r.priceTTL).Err(); err != nil {
		return fmt.Errorf("failed to store price snapshot: %w", err)
	}
	return nil
}

func (r *RedisPublisher) Close() error {
	return r.client.Close()
}
