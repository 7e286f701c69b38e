// Package engine implements the constant-product automated market maker
// used to quote and settle trades against a binary market's liquidity pool.
//
// The pool holds a reserve of YES shares and a reserve of NO shares with the
// invariant yesReserve * noReserve = k. The implied price of an outcome is
// the opposite reserve's share of total reserves, so implied prices always
// sum to 1 and read directly as probabilities.
//
// All functions here are pure: they take a reserve snapshot and return new
// values without touching storage. Persisting a quote's effect is the
// settlement store's job, under a single transaction.
package engine

import (
	"fmt"
	"math"

	"github.com/forecasthq/marketd/internal/domain"
)

// PricingMode selects how the per-share execution price is derived.
type PricingMode string

const (
	// ModeConstantProduct prices a trade from the reserve curve: the
	// execution price is the average of the implied price before and after
	// the reserve move.
	ModeConstantProduct PricingMode = "cpmm"

	// ModeFixedPrice charges a flat per-share price regardless of reserve
	// state while still tracking reserves along the constant-product curve.
	ModeFixedPrice PricingMode = "fixed"
)

// DefaultFixedPrice is the flat per-share price used by ModeFixedPrice.
const DefaultFixedPrice = 0.01

// Config controls engine pricing behaviour.
type Config struct {
	Mode       PricingMode
	FixedPrice float64
}

// Engine computes trade quotes and liquidity bookkeeping for pools.
type Engine struct {
	mode       PricingMode
	fixedPrice float64
}

// New creates an Engine. Zero-value config fields fall back to
// ModeConstantProduct and DefaultFixedPrice.
func New(cfg Config) (*Engine, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeConstantProduct
	}
	if mode != ModeConstantProduct && mode != ModeFixedPrice {
		return nil, fmt.Errorf("engine: unknown pricing mode %q", mode)
	}
	fixed := cfg.FixedPrice
	if fixed == 0 {
		fixed = DefaultFixedPrice
	}
	if fixed < 0 {
		return nil, fmt.Errorf("engine: fixed price must be positive, got %v", fixed)
	}
	return &Engine{mode: mode, fixedPrice: fixed}, nil
}

// Mode returns the configured pricing mode.
func (e *Engine) Mode() PricingMode {
	return e.mode
}

// CurrentPrices returns the implied prices read from the pool reserves:
// an outcome's price is the opposite reserve's share of total reserves.
// The two prices sum to 1 up to floating point.
func CurrentPrices(p domain.LiquidityPool) (yes, no float64, err error) {
	if p.YesReserve <= 0 || p.NoReserve <= 0 {
		return 0, 0, domain.ErrDepletedReserve
	}
	total := p.YesReserve + p.NoReserve
	return p.NoReserve / total, p.YesReserve / total, nil
}

// Quote computes the effect of trading quantity shares of outcome against
// the pool without applying it. The returned quote carries the post-trade
// reserves (along the constant-product curve), the implied prices they
// produce, the execution price per the configured mode, fees, and price
// impact.
func (e *Engine) Quote(p domain.LiquidityPool, outcome domain.Outcome, side domain.TradeSide, quantity float64) (domain.Quote, error) {
	if quantity <= 0 || math.IsNaN(quantity) || math.IsInf(quantity, 0) {
		return domain.Quote{}, domain.ErrInvalidQuantity
	}
	if !outcome.Valid() {
		return domain.Quote{}, fmt.Errorf("engine: unknown outcome %q", outcome)
	}
	if !side.Valid() {
		return domain.Quote{}, fmt.Errorf("engine: unknown side %q", side)
	}
	if p.YesReserve <= 0 || p.NoReserve <= 0 {
		return domain.Quote{}, domain.ErrDepletedReserve
	}

	k := p.YesReserve * p.NoReserve

	// Move the traded reserve and rebalance the other along the curve.
	traded := p.Reserve(outcome)
	if side == domain.TradeSideBuy {
		traded -= quantity
	} else {
		traded += quantity
	}
	if traded <= 0 {
		return domain.Quote{}, domain.ErrInsufficientReserve
	}
	other := k / traded

	var newYes, newNo float64
	if outcome == domain.OutcomeYes {
		newYes, newNo = traded, other
	} else {
		newYes, newNo = other, traded
	}

	newTotal := newYes + newNo
	newYesPrice := newNo / newTotal
	newNoPrice := newYes / newTotal

	preImplied := p.Reserve(outcome.Opposite()) / (p.YesReserve + p.NoReserve)
	postImplied := newYesPrice
	if outcome == domain.OutcomeNo {
		postImplied = newNoPrice
	}

	var price float64
	switch e.mode {
	case ModeFixedPrice:
		price = e.fixedPrice
	default:
		// Average execution price along the reserve move.
		price = (preImplied + postImplied) / 2
	}

	cost := price * quantity
	fee := cost * p.FeeRate
	total := cost + fee
	if side == domain.TradeSideSell {
		total = cost - fee
	}

	return domain.Quote{
		MarketID:      p.MarketID,
		Outcome:       outcome,
		Side:          side,
		Quantity:      quantity,
		Price:         price,
		Cost:          cost,
		Fee:           fee,
		Total:         total,
		NewYesReserve: newYes,
		NewNoReserve:  newNo,
		NewYesPrice:   newYesPrice,
		NewNoPrice:    newNoPrice,
		PriceImpact:   math.Abs(price-preImplied) / preImplied,
	}, nil
}
