package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusPending  MarketStatus = "pending"
	MarketStatusActive   MarketStatus = "active"
	MarketStatusResolved MarketStatus = "resolved"
)

// Outcome identifies one side of a binary market.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// Valid reports whether o is one of the two recognised outcomes.
func (o Outcome) Valid() bool {
	return o == OutcomeYes || o == OutcomeNo
}

// Opposite returns the other side of a binary market.
func (o Outcome) Opposite() Outcome {
	if o == OutcomeYes {
		return OutcomeNo
	}
	return OutcomeYes
}

// Market represents a binary prediction market. YesPrice and NoPrice are the
// probability-implied prices derived from the pool reserves at the last
// settlement; they always sum to 1.
type Market struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Category    string       `json:"category"`
	ExpiresAt   time.Time    `json:"expires_at"`
	Status      MarketStatus `json:"status"`
	YesPrice    float64      `json:"yes_price"`
	NoPrice     float64      `json:"no_price"`
	TotalVolume float64      `json:"total_volume"`
	Resolution  *Outcome     `json:"resolution,omitempty"`
	// Attestation is the operator's signature over the resolution outcome,
	// set when the market is resolved.
	Attestation string    `json:"attestation,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
