package events

import (
	"context"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"quanttrade/internal/metrics"
	"quanttrade/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Publisher - внешний брокер событий (Kafka, Redis Streams)
type Publisher interface {
	Name() string
	Publish(ctx context.Context, event models.Event) error
	Close() error
}

// MultiPublisher рассылает событие во все брокеры.
// Ошибка возвращается только если не справился ни один.
type MultiPublisher struct {
	publishers []Publisher
	logger     *zap.Logger
}

// NewMultiPublisher создаёт рассылку по нескольким брокерам
func NewMultiPublisher(logger *zap.Logger, publishers ...Publisher) *MultiPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MultiPublisher{publishers: publishers, logger: logger}
}

func (m *MultiPublisher) Name() string { return "multi" }

// Len возвращает количество брокеров
func (m *MultiPublisher) Len() int { return len(m.publishers) }

func (m *MultiPublisher) Publish(ctx context.Context, event models.Event) error {
	var lastErr error
	success := 0

	for _, p := range m.publishers {
		if err := p.Publish(ctx, event); err != nil {
			metrics.RecordPublishFailure(p.Name())
			m.logger.Error("failed to publish event",
				zap.String("publisher", p.Name()),
				zap.String("event_type", string(event.Type)),
				zap.String("key", event.Key),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		success++
	}

	if success == 0 && lastErr != nil {
		return fmt.Errorf("all publishers failed, last error: %w", lastErr)
	}
	return nil
}

func (m *MultiPublisher) Close() error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}
