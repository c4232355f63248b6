package marketdata

import (
	"sync"
	"time"

	"quanttrade/internal/models"
	"quanttrade/pkg/utils"
)

// cache - последние цены, свечи и стаканы по символам.
//
// Шардирован тем же FNV-индексом, что и воркеры ингеста: запись в шард
// выполняет только его воркер, чтения (GetLatestPrice и т.п.) идут
// параллельно под RLock и никогда не ждут сеть.
type cache struct {
	shards   []*cacheShard
	klineCap int
}

type cacheShard struct {
	mu     sync.RWMutex
	prices map[string]models.PriceEntry
	klines map[string]*klineRing
	books  map[string]models.OrderBookSnapshot
}

func newCache(shards, klineCap int) *cache {
	if shards <= 0 {
		shards = 1
	}
	c := &cache{shards: make([]*cacheShard, shards), klineCap: klineCap}
	for i := range c.shards {
		c.shards[i] = &cacheShard{
			prices: make(map[string]models.PriceEntry),
			klines: make(map[string]*klineRing),
			books:  make(map[string]models.OrderBookSnapshot),
		}
	}
	return c
}

func (c *cache) shard(symbol string) *cacheShard {
	return c.shards[utils.ShardIndex(symbol, len(c.shards))]
}

// apply записывает обновление в кеш
func (c *cache) apply(upd models.MarketUpdate) {
	s := c.shard(upd.Symbol)
	s.mu.Lock()
	defer s.mu.Unlock()

	switch upd.Kind {
	case models.UpdatePrice:
		if upd.Price != nil {
			s.prices[upd.Symbol] = *upd.Price
		}
	case models.UpdateKline:
		if upd.Kline != nil {
			ring, ok := s.klines[upd.Symbol]
			if !ok {
				ring = newKlineRing(c.klineCap)
				s.klines[upd.Symbol] = ring
			}
			ring.push(*upd.Kline)
		}
	case models.UpdateOrderBook:
		if upd.Book != nil {
			s.books[upd.Symbol] = *upd.Book
		}
	}
}

func (c *cache) price(symbol string) (models.PriceEntry, bool) {
	s := c.shard(symbol)
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[symbol]
	return p, ok
}

func (c *cache) klines(symbol string, limit int) []models.Kline {
	s := c.shard(symbol)
	s.mu.RLock()
	defer s.mu.RUnlock()
	ring, ok := s.klines[symbol]
	if !ok {
		return nil
	}
	return ring.last(limit)
}

func (c *cache) book(symbol string) (models.OrderBookSnapshot, bool) {
	s := c.shard(symbol)
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[symbol]
	return b, ok
}

// purgeKlines удаляет свечи, открытые раньше cutoff. Возвращает число удалённых.
func (c *cache) purgeKlines(cutoff time.Time) int {
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for symbol, ring := range s.klines {
			removed += ring.dropBefore(cutoff)
			if ring.len() == 0 {
				delete(s.klines, symbol)
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// ============================================================
// klineRing - ограниченная история свечей одного символа
// ============================================================

type klineRing struct {
	items []models.Kline
	cap   int
}

func newKlineRing(capacity int) *klineRing {
	if capacity <= 0 {
		capacity = 1000
	}
	return &klineRing{cap: capacity}
}

// push добавляет свечу; свеча с тем же OpenTime и интервалом
// заменяет последнюю (незакрытая свеча обновляется)
func (r *klineRing) push(k models.Kline) {
	if n := len(r.items); n > 0 {
		last := r.items[n-1]
		if last.OpenTime.Equal(k.OpenTime) && last.Interval == k.Interval {
			r.items[n-1] = k
			return
		}
	}
	r.items = append(r.items, k)
	if len(r.items) > r.cap {
		// сдвиг вместо реаллокации на каждом push
		copy(r.items, r.items[len(r.items)-r.cap:])
		r.items = r.items[:r.cap]
	}
}

// last возвращает копию последних limit свечей, старые первыми
func (r *klineRing) last(limit int) []models.Kline {
	n := len(r.items)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]models.Kline, limit)
	copy(out, r.items[n-limit:])
	return out
}

func (r *klineRing) dropBefore(cutoff time.Time) int {
	i := 0
	for i < len(r.items) && r.items[i].OpenTime.Before(cutoff) {
		i++
	}
	if i > 0 {
		r.items = append(r.items[:0], r.items[i:]...)
	}
	return i
}

func (r *klineRing) len() int { return len(r.items) }
