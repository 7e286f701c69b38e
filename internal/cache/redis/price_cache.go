package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/forecasthq/marketd/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each market's
// implied prices live in a hash at key "price:{marketID}" with fields "yes",
// "no", and "ts" (Unix nanosecond timestamp). Settlement refreshes the hash
// after every trade, so reads never need to touch the pool row.
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client. A zero ttl
// keeps entries until the next write.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(marketID string) string {
	return "price:" + marketID
}

// SetPrices stores the latest implied prices for a market.
func (pc *PriceCache) SetPrices(ctx context.Context, marketID string, p domain.PricePoint) error {
	key := priceKey(marketID)
	fields := map[string]interface{}{
		"yes": strconv.FormatFloat(p.Yes, 'f', -1, 64),
		"no":  strconv.FormatFloat(p.No, 'f', -1, 64),
		"ts":  strconv.FormatInt(p.TS.UnixNano(), 10),
	}

	pipe := pc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set prices %s: %w", marketID, err)
	}
	return nil
}

// GetPrices retrieves the latest cached prices for a market. It returns
// domain.ErrNotFound when the key does not exist or has expired.
func (pc *PriceCache) GetPrices(ctx context.Context, marketID string) (domain.PricePoint, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(marketID)).Result()
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("redis: get prices %s: %w", marketID, err)
	}
	if len(vals) == 0 {
		return domain.PricePoint{}, domain.ErrNotFound
	}
	return parsePricePoint(marketID, vals)
}

// GetManyPrices retrieves cached prices for multiple markets using a
// pipeline. Markets without a cached entry are silently omitted.
func (pc *PriceCache) GetManyPrices(ctx context.Context, marketIDs []string) (map[string]domain.PricePoint, error) {
	if len(marketIDs) == 0 {
		return map[string]domain.PricePoint{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(marketIDs))
	for _, id := range marketIDs {
		cmds[id] = pipe.HGetAll(ctx, priceKey(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	result := make(map[string]domain.PricePoint, len(marketIDs))
	for id, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		p, err := parsePricePoint(id, vals)
		if err != nil {
			continue
		}
		result[id] = p
	}

	return result, nil
}

func parsePricePoint(marketID string, vals map[string]string) (domain.PricePoint, error) {
	yes, err := strconv.ParseFloat(vals["yes"], 64)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("redis: parse yes price %s: %w", marketID, err)
	}
	no, err := strconv.ParseFloat(vals["no"], 64)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("redis: parse no price %s: %w", marketID, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("redis: parse ts %s: %w", marketID, err)
	}
	return domain.PricePoint{Yes: yes, No: no, TS: time.Unix(0, tsNano)}, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
