package domain

import "time"

// Position is a user's aggregate holding of one outcome in one market,
// keyed by (wallet, market, outcome). Buys increase Quantity and fold the
// fill into AvgPrice as a volume-weighted average; sells decrease Quantity
// and realise P&L against AvgPrice.
type Position struct {
	ID       string  `json:"id"`
	Wallet   string  `json:"wallet"`
	MarketID string  `json:"market_id"`
	Outcome  Outcome `json:"outcome"`
	Quantity float64 `json:"quantity"`
	AvgPrice float64 `json:"avg_price"`
	// RealizedPnL accumulates (exit price - avg entry price) * quantity over
	// all sells.
	RealizedPnL float64   `json:"realized_pnl"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// UnrealizedPnL returns the mark-to-market gain on the open quantity at the
// given current price. It is computed on read and never persisted.
func (p Position) UnrealizedPnL(currentPrice float64) float64 {
	return (currentPrice - p.AvgPrice) * p.Quantity
}

// PositionView is a Position annotated with live pricing for API responses.
type PositionView struct {
	Position
	CurrentPrice  float64 `json:"current_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}
