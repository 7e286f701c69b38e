package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forecasthq/marketd/internal/domain"
)

// PoolStore implements domain.PoolStore using PostgreSQL.
type PoolStore struct {
	pool *pgxpool.Pool
}

var _ domain.PoolStore = (*PoolStore)(nil)

// NewPoolStore creates a new PoolStore backed by the given connection pool.
func NewPoolStore(pool *pgxpool.Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

const poolCols = `market_id, yes_reserve, no_reserve, k_constant, tvl,
	total_volume, fee_rate, fee_rewards, version, created_at, updated_at`

// scanPool scans a single pool row into a domain.LiquidityPool.
func scanPool(row pgx.Row) (domain.LiquidityPool, error) {
	var p domain.LiquidityPool
	err := row.Scan(
		&p.MarketID, &p.YesReserve, &p.NoReserve, &p.KConstant, &p.TVL,
		&p.TotalVolume, &p.FeeRate, &p.FeeRewards, &p.Version,
		&p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

// GetByMarket retrieves the liquidity pool backing a market.
func (s *PoolStore) GetByMarket(ctx context.Context, marketID string) (domain.LiquidityPool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+poolCols+` FROM pools WHERE market_id = $1`, marketID)
	p, err := scanPool(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.LiquidityPool{}, domain.ErrNotFound
		}
		return domain.LiquidityPool{}, fmt.Errorf("postgres: get pool %s: %w", marketID, err)
	}
	return p, nil
}

// Update writes the pool's reserve state with a compare-and-swap on Version:
// the write only lands when the stored version still equals p.Version, and
// the stored version is bumped by one. ErrStaleVersion means another writer
// got there first and the caller must re-read and retry.
func (s *PoolStore) Update(ctx context.Context, p domain.LiquidityPool) (domain.LiquidityPool, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE pools
		SET yes_reserve = $2, no_reserve = $3, k_constant = $4, tvl = $5,
		    total_volume = $6, fee_rate = $7, fee_rewards = $8,
		    version = version + 1, updated_at = NOW()
		WHERE market_id = $1 AND version = $9
		RETURNING `+poolCols,
		p.MarketID, p.YesReserve, p.NoReserve, p.KConstant, p.TVL,
		p.TotalVolume, p.FeeRate, p.FeeRewards, p.Version,
	)

	updated, err := scanPool(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Distinguish a missing pool from a version conflict.
			var exists bool
			if qErr := s.pool.QueryRow(ctx,
				"SELECT EXISTS(SELECT 1 FROM pools WHERE market_id = $1)", p.MarketID,
			).Scan(&exists); qErr != nil {
				return domain.LiquidityPool{}, fmt.Errorf("postgres: update pool %s: %w", p.MarketID, qErr)
			}
			if !exists {
				return domain.LiquidityPool{}, domain.ErrNotFound
			}
			return domain.LiquidityPool{}, domain.ErrStaleVersion
		}
		return domain.LiquidityPool{}, fmt.Errorf("postgres: update pool %s: %w", p.MarketID, err)
	}
	return updated, nil
}
