package domain

import "time"

// LiquidityPool holds the reserves backing one market's automated market
// maker. KConstant is the constant-product invariant (YesReserve * NoReserve)
// recorded at the last liquidity rebalancing; settlement preserves it while
// trades move reserves along the curve.
//
// Version is an optimistic-concurrency counter bumped on every write. A
// settlement that observes a stale Version must be retried.
type LiquidityPool struct {
	MarketID    string    `json:"market_id"`
	YesReserve  float64   `json:"yes_reserve"`
	NoReserve   float64   `json:"no_reserve"`
	KConstant   float64   `json:"k_constant"`
	TVL         float64   `json:"tvl"`
	TotalVolume float64   `json:"total_volume"`
	FeeRate     float64   `json:"fee_rate"`
	FeeRewards  float64   `json:"fee_rewards"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Reserve returns the reserve held for the given outcome.
func (p LiquidityPool) Reserve(o Outcome) float64 {
	if o == OutcomeYes {
		return p.YesReserve
	}
	return p.NoReserve
}
