// Package pricecache layers explicit, constructed caches over a price source.
// Caches are passed into the portfolio session rather than held as process
// globals, so TTL and invalidation behavior stays deterministic under test.
package pricecache

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/lendex/internal/risk"
	"github.com/Aidin1998/lendex/pkg/metrics"
)

// Source is the upstream price feed a cache tier delegates misses to. It is
// satisfied by portfolio.PriceSource implementations and by other tiers.
type Source interface {
	Prices(ctx context.Context, coinTypes []risk.CoinType) (map[risk.CoinType]decimal.Decimal, error)
}

// Clock abstracts time.Now for deterministic TTL tests
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall-clock Clock used outside tests
type SystemClock struct{}

// Now implements Clock
func (SystemClock) Now() time.Time { return time.Now() }

type entry struct {
	price     decimal.Decimal
	fetchedAt time.Time
}

// Cache is an in-memory TTL price cache in front of a Source
type Cache struct {
	logger *zap.Logger
	source Source
	ttl    time.Duration
	clock  Clock

	mu      sync.RWMutex
	entries map[risk.CoinType]entry
}

// New creates a cache with the given TTL. A nil clock selects the system
// clock.
func New(logger *zap.Logger, source Source, ttl time.Duration, clock Clock) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Cache{
		logger:  logger,
		source:  source,
		ttl:     ttl,
		clock:   clock,
		entries: make(map[risk.CoinType]entry),
	}
}

// Prices returns cached prices where fresh and fetches the rest from the
// source in one batch. It implements Source (and portfolio.PriceSource).
func (c *Cache) Prices(ctx context.Context, coinTypes []risk.CoinType) (map[risk.CoinType]decimal.Decimal, error) {
	now := c.clock.Now()
	out := make(map[risk.CoinType]decimal.Decimal, len(coinTypes))
	var misses []risk.CoinType

	c.mu.RLock()
	for _, ct := range coinTypes {
		if e, ok := c.entries[ct]; ok && now.Sub(e.fetchedAt) < c.ttl {
			out[ct] = e.price
			metrics.PriceCacheLookups.WithLabelValues("memory", "hit").Inc()
			continue
		}
		misses = append(misses, ct)
		metrics.PriceCacheLookups.WithLabelValues("memory", "miss").Inc()
	}
	c.mu.RUnlock()

	if len(misses) == 0 {
		return out, nil
	}

	fetched, err := c.source.Prices(ctx, misses)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	for ct, price := range fetched {
		c.entries[ct] = entry{price: price, fetchedAt: now}
		out[ct] = price
	}
	c.mu.Unlock()

	// assets the source did not resolve stay absent from out, never cached as
	// zero; callers see the gap instead of a phantom price
	var unresolved []string
	for _, ct := range misses {
		if _, ok := fetched[ct]; !ok {
			unresolved = append(unresolved, string(ct))
			metrics.PriceCacheLookups.WithLabelValues("memory", "unresolved").Inc()
		}
	}
	if len(unresolved) > 0 {
		c.logger.Warn("price source returned no price for requested assets",
			zap.Strings("coin_types", unresolved))
	}
	return out, nil
}

// Invalidate drops the given assets from the cache so the next lookup hits
// the source
func (c *Cache) Invalidate(coinTypes ...risk.CoinType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ct := range coinTypes {
		delete(c.entries, ct)
	}
}

// InvalidateAll drops every cached price
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[risk.CoinType]entry)
}
