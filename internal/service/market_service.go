package service

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"quanttrade/internal/models"
)

// SubscribeRequest - запрос на подписку или отписку
type SubscribeRequest struct {
	Symbols    []string          `json:"symbols" validate:"required,min=1,dive,required,max=32"`
	MarketType models.MarketType `json:"market_type" validate:"omitempty,oneof=cn_stocks cn_futures crypto"`
}

// MarketService - подписки и чтение кеша рыночных данных
type MarketService struct {
	feed     MarketFeed
	validate *validator.Validate
}

// NewMarketService создает новый экземпляр MarketService.
func NewMarketService(feed MarketFeed) *MarketService {
	return &MarketService{
		feed:     feed,
		validate: validator.New(),
	}
}

// Subscribe подписывает символы и возвращает полный список подписок.
//
// Лимит символов проверяется фидом по исходному запросу, до нормализации.
func (s *MarketService) Subscribe(ctx context.Context, req SubscribeRequest) ([]string, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	if err := s.feed.Subscribe(ctx, upperAll(req.Symbols), req.MarketType); err != nil {
		return nil, err
	}
	return s.feed.Subscriptions(), nil
}

// Unsubscribe отписывает символы и возвращает оставшиеся подписки
func (s *MarketService) Unsubscribe(ctx context.Context, req SubscribeRequest) ([]string, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	if err := s.feed.Unsubscribe(ctx, upperAll(req.Symbols)); err != nil {
		return nil, err
	}
	return s.feed.Subscriptions(), nil
}

func (s *MarketService) check(req SubscribeRequest) error {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return models.NewValidationError(strings.ToLower(fe.Field()), "failed on '"+fe.Tag()+"'")
		}
		return models.NewValidationError("", err.Error())
	}
	return nil
}

// GetPrice возвращает последнюю цену символа
func (s *MarketService) GetPrice(symbol string) (models.PriceEntry, error) {
	return s.feed.GetLatestPrice(normalizeSymbol(symbol))
}

// GetKlines возвращает последние свечи (limit по умолчанию 100, не больше 1000)
func (s *MarketService) GetKlines(symbol string, limit int) ([]models.Kline, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	return s.feed.GetKlines(normalizeSymbol(symbol), limit)
}

// GetOrderBook возвращает последний снимок стакана
func (s *MarketService) GetOrderBook(symbol string) (models.OrderBookSnapshot, error) {
	return s.feed.GetOrderBook(normalizeSymbol(symbol))
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func upperAll(symbols []string) []string {
	out := make([]string, len(symbols))
	for i, s := range symbols {
		out[i] = normalizeSymbol(s)
	}
	return out
}
