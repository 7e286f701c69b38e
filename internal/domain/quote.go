package domain

// Quote is the engine's answer to "what would this trade do". It is computed
// from a reserve snapshot without side effects; settlement applies the
// NewYesReserve/NewNoReserve values under the pool's transaction.
type Quote struct {
	MarketID string    `json:"market_id"`
	Outcome  Outcome   `json:"outcome"`
	Side     TradeSide `json:"side"`
	Quantity float64   `json:"quantity"`

	// Price is the per-share execution price, Cost = Price * Quantity,
	// Fee = Cost * fee rate, Total = Cost + Fee (BUY) or Cost - Fee (SELL).
	Price float64 `json:"price"`
	Cost  float64 `json:"cost"`
	Fee   float64 `json:"fee"`
	Total float64 `json:"total"`

	// Post-trade reserves along the constant-product curve, and the implied
	// prices they produce.
	NewYesReserve float64 `json:"new_yes_reserve"`
	NewNoReserve  float64 `json:"new_no_reserve"`
	NewYesPrice   float64 `json:"new_yes_price"`
	NewNoPrice    float64 `json:"new_no_price"`

	// PriceImpact is |Price - preTradeImplied| / preTradeImplied.
	PriceImpact float64 `json:"price_impact"`
}
