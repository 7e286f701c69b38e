package domain

import "time"

// TradeSide indicates whether shares were bought from or sold to the pool.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "BUY"
	TradeSideSell TradeSide = "SELL"
)

// Valid reports whether s is a recognised trade side.
func (s TradeSide) Valid() bool {
	return s == TradeSideBuy || s == TradeSideSell
}

// TradeStatus tracks the trade lifecycle. Trades are written atomically with
// the pool/market/position updates, so a persisted trade is always confirmed;
// the pending and failed states exist for callers that stage trades.
type TradeStatus string

const (
	TradeStatusPending   TradeStatus = "pending"
	TradeStatusConfirmed TradeStatus = "confirmed"
	TradeStatusFailed    TradeStatus = "failed"
)

// Trade is an immutable record of one execution against a pool.
type Trade struct {
	ID       string    `json:"id"`
	Wallet   string    `json:"wallet"`
	MarketID string    `json:"market_id"`
	Outcome  Outcome   `json:"outcome"`
	Side     TradeSide `json:"side"`
	Quantity float64   `json:"quantity"`
	// Price is the executed per-share price; Cost is Price * Quantity before
	// fees, Total is the settlement amount (cost plus fee for buys, cost
	// minus fee for sells).
	Price     float64     `json:"price"`
	Cost      float64     `json:"cost"`
	Fee       float64     `json:"fee"`
	Total     float64     `json:"total"`
	TxHash    string      `json:"tx_hash"`
	Status    TradeStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}
