package engine

import (
	"math"
	"time"

	"github.com/forecasthq/marketd/internal/domain"
)

// SeedPool builds the initial pool for a new market: equal reserves on both
// sides so the market opens at 50/50, k = seed^2, TVL = 2*seed.
func SeedPool(marketID string, seed, feeRate float64) (domain.LiquidityPool, error) {
	if seed <= 0 || math.IsNaN(seed) || math.IsInf(seed, 0) {
		return domain.LiquidityPool{}, domain.ErrInvalidQuantity
	}
	if feeRate < 0 || feeRate >= 1 {
		return domain.LiquidityPool{}, domain.ErrInvalidQuantity
	}
	now := time.Now().UTC()
	return domain.LiquidityPool{
		MarketID:   marketID,
		YesReserve: seed,
		NoReserve:  seed,
		KConstant:  seed * seed,
		TVL:        2 * seed,
		FeeRate:    feeRate,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// AddLiquidity scales both reserves proportionally so the implied prices are
// unchanged, and grows TVL by amount. KConstant is recomputed from the new
// reserves (liquidity changes are the one operation allowed to move k).
func AddLiquidity(p domain.LiquidityPool, amount float64) (domain.LiquidityPool, error) {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return domain.LiquidityPool{}, domain.ErrInvalidQuantity
	}
	if p.YesReserve <= 0 || p.NoReserve <= 0 || p.TVL <= 0 {
		return domain.LiquidityPool{}, domain.ErrDepletedReserve
	}

	scale := 1 + amount/p.TVL
	p.YesReserve *= scale
	p.NoReserve *= scale
	p.KConstant = p.YesReserve * p.NoReserve
	p.TVL += amount
	return p, nil
}

// RemoveLiquidity withdraws the given fraction (0, 1) of the pool: reserves
// and TVL shrink proportionally and the payout is the withdrawn TVL share
// plus the same share of accrued fee rewards. A full withdrawal is rejected
// because it would leave the market unable to trade.
func RemoveLiquidity(p domain.LiquidityPool, fraction float64) (domain.LiquidityPool, float64, error) {
	if fraction <= 0 || fraction >= 1 || math.IsNaN(fraction) {
		return domain.LiquidityPool{}, 0, domain.ErrInvalidQuantity
	}
	if p.YesReserve <= 0 || p.NoReserve <= 0 || p.TVL <= 0 {
		return domain.LiquidityPool{}, 0, domain.ErrDepletedReserve
	}

	payout := fraction*p.TVL + fraction*p.FeeRewards

	keep := 1 - fraction
	p.YesReserve *= keep
	p.NoReserve *= keep
	p.KConstant = p.YesReserve * p.NoReserve
	p.TVL *= keep
	p.FeeRewards *= keep

	return p, payout, nil
}
