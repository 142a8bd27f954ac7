package pricecache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/lendex/internal/risk"
	"github.com/Aidin1998/lendex/pkg/metrics"
)

// RedisCache is a shared price cache tier backed by Redis, so multiple lendex
// instances fetching the same assets hit the upstream feed once per TTL. It
// implements Source and is typically placed under the in-memory Cache.
type RedisCache struct {
	logger    *zap.Logger
	client    redis.UniversalClient
	source    Source
	ttl       time.Duration
	keyPrefix string
}

// NewRedisCache creates a Redis-backed cache tier over the given source
func NewRedisCache(logger *zap.Logger, client redis.UniversalClient, source Source, ttl time.Duration) *RedisCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{
		logger:    logger,
		client:    client,
		source:    source,
		ttl:       ttl,
		keyPrefix: "lendex:price:",
	}
}

// Prices serves from Redis where possible and batch-fetches the rest from the
// source, writing them back with the configured TTL. A Redis outage degrades
// to a straight pass-through rather than failing the lookup.
func (c *RedisCache) Prices(ctx context.Context, coinTypes []risk.CoinType) (map[risk.CoinType]decimal.Decimal, error) {
	keys := make([]string, len(coinTypes))
	for i, ct := range coinTypes {
		keys[i] = c.keyPrefix + string(ct)
	}

	out := make(map[risk.CoinType]decimal.Decimal, len(coinTypes))
	var misses []risk.CoinType

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("redis price lookup failed, passing through to source", zap.Error(err))
		misses = coinTypes
	} else {
		for i, v := range values {
			str, ok := v.(string)
			if !ok {
				misses = append(misses, coinTypes[i])
				metrics.PriceCacheLookups.WithLabelValues("redis", "miss").Inc()
				continue
			}
			price, perr := decimal.NewFromString(str)
			if perr != nil {
				c.logger.Warn("discarding malformed cached price",
					zap.String("coin_type", string(coinTypes[i])),
					zap.String("value", str))
				misses = append(misses, coinTypes[i])
				metrics.PriceCacheLookups.WithLabelValues("redis", "miss").Inc()
				continue
			}
			out[coinTypes[i]] = price
			metrics.PriceCacheLookups.WithLabelValues("redis", "hit").Inc()
		}
	}

	if len(misses) == 0 {
		return out, nil
	}

	fetched, err := c.source.Prices(ctx, misses)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch prices from source: %w", err)
	}

	pipe := c.client.Pipeline()
	for ct, price := range fetched {
		out[ct] = price
		pipe.Set(ctx, c.keyPrefix+string(ct), price.String(), c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		// cache write failure is not a lookup failure
		c.logger.Warn("failed to write prices to redis", zap.Error(err))
	}

	var unresolved []string
	for _, ct := range misses {
		if _, ok := fetched[ct]; !ok {
			unresolved = append(unresolved, string(ct))
			metrics.PriceCacheLookups.WithLabelValues("redis", "unresolved").Inc()
		}
	}
	if len(unresolved) > 0 {
		c.logger.Warn("price source returned no price for requested assets",
			zap.Strings("coin_types", unresolved))
	}
	return out, nil
}

// Invalidate drops the given assets from Redis
func (c *RedisCache) Invalidate(ctx context.Context, coinTypes ...risk.CoinType) error {
	keys := make([]string, len(coinTypes))
	for i, ct := range coinTypes {
		keys[i] = c.keyPrefix + string(ct)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached prices: %w", err)
	}
	return nil
}
