package domain

import (
	"context"
	"time"
)

// PricePoint is a cached market price snapshot.
type PricePoint struct {
	Yes float64
	No  float64
	TS  time.Time
}

// PriceCache provides fast access to the latest implied prices per market.
type PriceCache interface {
	SetPrices(ctx context.Context, marketID string, p PricePoint) error
	GetPrices(ctx context.Context, marketID string) (PricePoint, error)
	GetManyPrices(ctx context.Context, marketIDs []string) (map[string]PricePoint, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub fan-out and durable streams for trade and price
// events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
