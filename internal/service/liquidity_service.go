package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/forecasthq/marketd/internal/domain"
	"github.com/forecasthq/marketd/internal/engine"
)

// liquidityRetries bounds CAS retries on concurrent pool writes.
const liquidityRetries = 3

// LiquidityService adjusts pool liquidity. Changes scale both reserves
// proportionally so implied prices are unchanged.
type LiquidityService struct {
	markets domain.MarketStore
	pools   domain.PoolStore
	locks   domain.LockManager
	lockTTL time.Duration
	logger  *slog.Logger
}

// NewLiquidityService creates a LiquidityService with all required dependencies.
func NewLiquidityService(
	markets domain.MarketStore,
	pools domain.PoolStore,
	locks domain.LockManager,
	lockTTL time.Duration,
	logger *slog.Logger,
) *LiquidityService {
	return &LiquidityService{
		markets: markets,
		pools:   pools,
		locks:   locks,
		lockTTL: lockTTL,
		logger:  logger,
	}
}

// Add grows the pool's liquidity by amount.
func (s *LiquidityService) Add(ctx context.Context, marketID string, amount float64) (domain.LiquidityPool, error) {
	pool, err := s.mutate(ctx, marketID, func(p domain.LiquidityPool) (domain.LiquidityPool, error) {
		return engine.AddLiquidity(p, amount)
	})
	if err != nil {
		return domain.LiquidityPool{}, err
	}

	s.logger.InfoContext(ctx, "liquidity_service: added liquidity",
		slog.String("market_id", marketID),
		slog.Float64("amount", amount),
		slog.Float64("tvl", pool.TVL),
	)
	return pool, nil
}

// Remove withdraws the given fraction of the pool and returns the resulting
// pool plus the payout (TVL share plus accrued fee rewards).
func (s *LiquidityService) Remove(ctx context.Context, marketID string, fraction float64) (domain.LiquidityPool, float64, error) {
	var payout float64
	pool, err := s.mutate(ctx, marketID, func(p domain.LiquidityPool) (domain.LiquidityPool, error) {
		next, out, err := engine.RemoveLiquidity(p, fraction)
		if err != nil {
			return domain.LiquidityPool{}, err
		}
		payout = out
		return next, nil
	})
	if err != nil {
		return domain.LiquidityPool{}, 0, err
	}

	s.logger.InfoContext(ctx, "liquidity_service: removed liquidity",
		slog.String("market_id", marketID),
		slog.Float64("fraction", fraction),
		slog.Float64("payout", payout),
	)
	return pool, payout, nil
}

// mutate applies fn to the market's pool under the per-market lock, retrying
// the CAS write when a settlement slips in between read and write.
func (s *LiquidityService) mutate(ctx context.Context, marketID string, fn func(domain.LiquidityPool) (domain.LiquidityPool, error)) (domain.LiquidityPool, error) {
	market, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.LiquidityPool{}, fmt.Errorf("liquidity_service: market %q: %w", marketID, err)
	}
	if market.Status != domain.MarketStatusActive {
		return domain.LiquidityPool{}, fmt.Errorf("liquidity_service: market %q: %w", marketID, domain.ErrMarketClosed)
	}

	unlock, err := s.locks.Acquire(ctx, "liquidity:"+marketID, s.lockTTL)
	if err != nil {
		return domain.LiquidityPool{}, fmt.Errorf("liquidity_service: lock %q: %w", marketID, err)
	}
	defer unlock()

	var lastErr error
	for attempt := 0; attempt < liquidityRetries; attempt++ {
		pool, err := s.pools.GetByMarket(ctx, marketID)
		if err != nil {
			return domain.LiquidityPool{}, fmt.Errorf("liquidity_service: pool %q: %w", marketID, err)
		}

		next, err := fn(pool)
		if err != nil {
			return domain.LiquidityPool{}, err
		}
		next.Version = pool.Version

		updated, err := s.pools.Update(ctx, next)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, domain.ErrStaleVersion) {
			return domain.LiquidityPool{}, fmt.Errorf("liquidity_service: update pool %q: %w", marketID, err)
		}
		lastErr = err
	}
	return domain.LiquidityPool{}, fmt.Errorf("liquidity_service: contention on %q: %w", marketID, lastErr)
}
