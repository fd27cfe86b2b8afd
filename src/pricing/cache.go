package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

const cacheKeyPrefix = "price:ref:"

// CachedSource keeps reference prices in redis for a short TTL in front of
// another Source. Redis failures fall through to the upstream source.
type CachedSource struct {
	rdb      *redis.Client
	upstream Source
	ttl      time.Duration
}

func NewCachedSource(rdb *redis.Client, upstream Source, ttl time.Duration) *CachedSource {
	return &CachedSource{rdb: rdb, upstream: upstream, ttl: ttl}
}

func (c *CachedSource) ReferencePrice(ctx context.Context, assetID string) (decimal.Decimal, error) {
	key := cacheKeyPrefix + assetID
	log := logger.WithFields(map[string]interface{}{
		"component": "PriceCache",
		"asset_id":  assetID,
	})

	cached, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		if p, perr := decimal.NewFromString(cached); perr == nil && p.IsPositive() {
			return p, nil
		}
		log.WithField("value", cached).Warn("Discarding malformed cached price")
	case errors.Is(err, redis.Nil):
	default:
		log.WithError(err).Warn("Price cache read failed")
	}

	p, err := c.upstream.ReferencePrice(ctx, assetID)
	if err != nil {
		return decimal.Zero, err
	}

	if err := c.rdb.Set(ctx, key, p.String(), c.ttl).Err(); err != nil {
		log.WithError(err).Warn("Price cache write failed")
	}
	return p, nil
}

// NewSource builds the oracle client, wrapped in the redis cache when
// REDIS_URL is configured. The returned close func releases the redis pool.
func NewSource(cfg Config) (Source, func() error, error) {
	oracle := NewOracleClient(cfg)
	if cfg.RedisURL == "" {
		return oracle, func() error { return nil }, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	return NewCachedSource(rdb, oracle, cfg.CacheTTL), rdb.Close, nil
}
