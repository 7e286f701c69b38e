package engine

import (
	"errors"
	"math"
	"testing"

	"github.com/forecasthq/marketd/internal/domain"
)

const tolerance = 1e-9

func pool(yes, no, feeRate float64) domain.LiquidityPool {
	return domain.LiquidityPool{
		MarketID:   "mkt-1",
		YesReserve: yes,
		NoReserve:  no,
		KConstant:  yes * no,
		TVL:        yes + no,
		FeeRate:    feeRate,
	}
}

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestCurrentPricesSumToOne(t *testing.T) {
	tests := []struct {
		name string
		yes  float64
		no   float64
	}{
		{"balanced", 500, 500},
		{"yes heavy", 900, 100},
		{"no heavy", 100, 900},
		{"tiny reserves", 0.001, 0.003},
		{"large reserves", 1e9, 2.5e8},
		{"after trade", 490, 510.2040816326531},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			yes, no, err := CurrentPrices(pool(tt.yes, tt.no, 0.02))
			if err != nil {
				t.Fatalf("CurrentPrices: %v", err)
			}
			if !almostEqual(yes+no, 1, tolerance) {
				t.Errorf("yes+no = %v, want 1", yes+no)
			}
			if yes < 0 || yes > 1 || no < 0 || no > 1 {
				t.Errorf("prices out of [0,1]: yes=%v no=%v", yes, no)
			}
		})
	}
}

func TestCurrentPricesDepletedReserve(t *testing.T) {
	for _, p := range []domain.LiquidityPool{
		pool(0, 500, 0.02),
		pool(500, 0, 0.02),
		pool(-1, 500, 0.02),
	} {
		if _, _, err := CurrentPrices(p); !errors.Is(err, domain.ErrDepletedReserve) {
			t.Errorf("pool %+v: err = %v, want ErrDepletedReserve", p, err)
		}
	}
}

// Fixed-price mode: a flat 0.01/share with a 2% fee on a 500/500 pool.
func TestQuoteFixedPriceBuy(t *testing.T) {
	e, err := New(Config{Mode: ModeFixedPrice, FixedPrice: 0.01})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	q, err := e.Quote(pool(500, 500, 0.02), domain.OutcomeYes, domain.TradeSideBuy, 10)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}

	if q.Price != 0.01 {
		t.Errorf("price = %v, want 0.01", q.Price)
	}
	if !almostEqual(q.Cost, 0.10, tolerance) {
		t.Errorf("cost = %v, want 0.10", q.Cost)
	}
	if !almostEqual(q.Fee, 0.002, tolerance) {
		t.Errorf("fee = %v, want 0.002", q.Fee)
	}
	if !almostEqual(q.Total, 0.102, tolerance) {
		t.Errorf("total = %v, want 0.102", q.Total)
	}
}

// Hypothetical reserve recomputation: k = 250000, buying 10 YES leaves
// 490 YES and 250000/490 NO, implying a YES price near 0.5101.
func TestQuoteReserveRecomputation(t *testing.T) {
	e, err := New(Config{Mode: ModeFixedPrice})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	q, err := e.Quote(pool(500, 500, 0.02), domain.OutcomeYes, domain.TradeSideBuy, 10)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}

	if q.NewYesReserve != 490 {
		t.Errorf("new yes reserve = %v, want 490", q.NewYesReserve)
	}
	wantNo := 250000.0 / 490.0
	if !almostEqual(q.NewNoReserve, wantNo, tolerance) {
		t.Errorf("new no reserve = %v, want %v", q.NewNoReserve, wantNo)
	}
	wantYesPrice := wantNo / (490 + wantNo)
	if !almostEqual(q.NewYesPrice, wantYesPrice, tolerance) {
		t.Errorf("new yes price = %v, want %v", q.NewYesPrice, wantYesPrice)
	}
	if !almostEqual(q.NewYesPrice, 0.5101, 1e-4) {
		t.Errorf("new yes price = %v, want ~0.5101", q.NewYesPrice)
	}
	if !almostEqual(q.NewYesPrice+q.NewNoPrice, 1, tolerance) {
		t.Errorf("new prices sum = %v, want 1", q.NewYesPrice+q.NewNoPrice)
	}
}

func TestQuoteConstantProductInvariant(t *testing.T) {
	e, err := New(Config{Mode: ModeConstantProduct})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		name     string
		yes, no  float64
		outcome  domain.Outcome
		side     domain.TradeSide
		quantity float64
	}{
		{"buy yes balanced", 500, 500, domain.OutcomeYes, domain.TradeSideBuy, 10},
		{"sell yes balanced", 500, 500, domain.OutcomeYes, domain.TradeSideSell, 10},
		{"buy no skewed", 800, 200, domain.OutcomeNo, domain.TradeSideBuy, 50},
		{"sell no skewed", 800, 200, domain.OutcomeNo, domain.TradeSideSell, 50},
		{"large buy", 1000, 1000, domain.OutcomeYes, domain.TradeSideBuy, 900},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := pool(tt.yes, tt.no, 0.02)
			q, err := e.Quote(p, tt.outcome, tt.side, tt.quantity)
			if err != nil {
				t.Fatalf("Quote: %v", err)
			}

			k := tt.yes * tt.no
			got := q.NewYesReserve * q.NewNoReserve
			if !almostEqual(got/k, 1, tolerance) {
				t.Errorf("new reserves product = %v, want k = %v", got, k)
			}
			if !almostEqual(q.NewYesPrice+q.NewNoPrice, 1, tolerance) {
				t.Errorf("new prices sum = %v, want 1", q.NewYesPrice+q.NewNoPrice)
			}
			if q.Price < 0 || q.Price > 1 {
				t.Errorf("cpmm price = %v, want within [0,1]", q.Price)
			}
		})
	}
}

func TestQuoteFeeAlgebra(t *testing.T) {
	for _, mode := range []PricingMode{ModeFixedPrice, ModeConstantProduct} {
		e, err := New(Config{Mode: mode})
		if err != nil {
			t.Fatalf("New(%s): %v", mode, err)
		}

		tests := []struct {
			side    domain.TradeSide
			feeRate float64
		}{
			{domain.TradeSideBuy, 0.02},
			{domain.TradeSideSell, 0.02},
			{domain.TradeSideBuy, 0},
			{domain.TradeSideSell, 0.005},
		}

		for _, tt := range tests {
			q, err := e.Quote(pool(500, 500, tt.feeRate), domain.OutcomeYes, tt.side, 25)
			if err != nil {
				t.Fatalf("Quote(%s, %s): %v", mode, tt.side, err)
			}

			if !almostEqual(q.Fee, q.Cost*tt.feeRate, tolerance) {
				t.Errorf("%s %s: fee = %v, want cost*rate = %v", mode, tt.side, q.Fee, q.Cost*tt.feeRate)
			}
			want := q.Cost + q.Fee
			if tt.side == domain.TradeSideSell {
				want = q.Cost - q.Fee
			}
			if !almostEqual(q.Total, want, tolerance) {
				t.Errorf("%s %s: total = %v, want %v", mode, tt.side, q.Total, want)
			}
		}
	}
}

// A buy-then-sell round trip at the same reserves does not return the money:
// the two legs differ by exactly twice the fee.
func TestQuoteRoundTripCostsTwiceTheFee(t *testing.T) {
	e, err := New(Config{Mode: ModeFixedPrice})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	p := pool(500, 500, 0.02)
	buy, err := e.Quote(p, domain.OutcomeYes, domain.TradeSideBuy, 10)
	if err != nil {
		t.Fatalf("buy quote: %v", err)
	}
	sell, err := e.Quote(p, domain.OutcomeYes, domain.TradeSideSell, 10)
	if err != nil {
		t.Fatalf("sell quote: %v", err)
	}

	diff := buy.Total - sell.Total
	if !almostEqual(diff, 2*buy.Fee, tolerance) {
		t.Errorf("round trip cost = %v, want 2*fee = %v", diff, 2*buy.Fee)
	}
}

// Applying a buy's reserves and then selling the same quantity walks the
// reserves back to where they started, independent of fees.
func TestQuoteReserveRoundTrip(t *testing.T) {
	e, err := New(Config{Mode: ModeConstantProduct})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	p := pool(500, 500, 0.02)
	buy, err := e.Quote(p, domain.OutcomeYes, domain.TradeSideBuy, 10)
	if err != nil {
		t.Fatalf("buy quote: %v", err)
	}

	after := p
	after.YesReserve = buy.NewYesReserve
	after.NoReserve = buy.NewNoReserve

	sell, err := e.Quote(after, domain.OutcomeYes, domain.TradeSideSell, 10)
	if err != nil {
		t.Fatalf("sell quote: %v", err)
	}

	if !almostEqual(sell.NewYesReserve, p.YesReserve, tolerance) {
		t.Errorf("yes reserve after round trip = %v, want %v", sell.NewYesReserve, p.YesReserve)
	}
	if !almostEqual(sell.NewNoReserve, p.NoReserve, 1e-6) {
		t.Errorf("no reserve after round trip = %v, want %v", sell.NewNoReserve, p.NoReserve)
	}
}

func TestQuoteIsPure(t *testing.T) {
	e, err := New(Config{Mode: ModeConstantProduct})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	p := pool(730, 410, 0.02)
	first, err := e.Quote(p, domain.OutcomeNo, domain.TradeSideBuy, 17)
	if err != nil {
		t.Fatalf("first quote: %v", err)
	}
	second, err := e.Quote(p, domain.OutcomeNo, domain.TradeSideBuy, 17)
	if err != nil {
		t.Fatalf("second quote: %v", err)
	}

	if first != second {
		t.Errorf("identical inputs produced different quotes:\nfirst:  %+v\nsecond: %+v", first, second)
	}
	if p.YesReserve != 730 || p.NoReserve != 410 {
		t.Errorf("quote mutated its input pool: %+v", p)
	}
}

func TestQuoteRejectsBadInputs(t *testing.T) {
	e, err := New(Config{Mode: ModeConstantProduct})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		name     string
		pool     domain.LiquidityPool
		outcome  domain.Outcome
		side     domain.TradeSide
		quantity float64
		wantErr  error
	}{
		{"zero quantity", pool(500, 500, 0.02), domain.OutcomeYes, domain.TradeSideBuy, 0, domain.ErrInvalidQuantity},
		{"negative quantity", pool(500, 500, 0.02), domain.OutcomeYes, domain.TradeSideBuy, -5, domain.ErrInvalidQuantity},
		{"nan quantity", pool(500, 500, 0.02), domain.OutcomeYes, domain.TradeSideBuy, math.NaN(), domain.ErrInvalidQuantity},
		{"zero yes reserve", pool(0, 500, 0.02), domain.OutcomeYes, domain.TradeSideBuy, 10, domain.ErrDepletedReserve},
		{"zero no reserve", pool(500, 0, 0.02), domain.OutcomeNo, domain.TradeSideSell, 10, domain.ErrDepletedReserve},
		{"buy entire reserve", pool(500, 500, 0.02), domain.OutcomeYes, domain.TradeSideBuy, 500, domain.ErrInsufficientReserve},
		{"buy past reserve", pool(500, 500, 0.02), domain.OutcomeNo, domain.TradeSideBuy, 600, domain.ErrInsufficientReserve},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Quote(tt.pool, tt.outcome, tt.side, tt.quantity)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestQuotePriceImpactFixedMode(t *testing.T) {
	e, err := New(Config{Mode: ModeFixedPrice, FixedPrice: 0.01})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Pre-trade implied YES price on a balanced pool is 0.5; a flat 0.01
	// execution price is 98% away from it.
	q, err := e.Quote(pool(500, 500, 0.02), domain.OutcomeYes, domain.TradeSideBuy, 10)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if !almostEqual(q.PriceImpact, 0.98, tolerance) {
		t.Errorf("price impact = %v, want 0.98", q.PriceImpact)
	}
}

func TestNewRejectsUnknownMode(t *testing.T) {
	if _, err := New(Config{Mode: "vwap"}); err == nil {
		t.Error("expected error for unknown pricing mode")
	}
	if _, err := New(Config{FixedPrice: -0.01}); err == nil {
		t.Error("expected error for negative fixed price")
	}
}
