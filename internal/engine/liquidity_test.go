package engine

import (
	"errors"
	"testing"

	"github.com/forecasthq/marketd/internal/domain"
)

func TestSeedPool(t *testing.T) {
	p, err := SeedPool("mkt-1", 500, 0.02)
	if err != nil {
		t.Fatalf("SeedPool: %v", err)
	}

	if p.YesReserve != 500 || p.NoReserve != 500 {
		t.Errorf("reserves = %v/%v, want 500/500", p.YesReserve, p.NoReserve)
	}
	if p.KConstant != 250000 {
		t.Errorf("k = %v, want 250000", p.KConstant)
	}
	if p.TVL != 1000 {
		t.Errorf("tvl = %v, want 1000", p.TVL)
	}

	yes, no, err := CurrentPrices(p)
	if err != nil {
		t.Fatalf("CurrentPrices: %v", err)
	}
	if yes != 0.5 || no != 0.5 {
		t.Errorf("seeded prices = %v/%v, want 0.5/0.5", yes, no)
	}
}

func TestSeedPoolRejectsBadInputs(t *testing.T) {
	tests := []struct {
		name    string
		seed    float64
		feeRate float64
	}{
		{"zero seed", 0, 0.02},
		{"negative seed", -100, 0.02},
		{"negative fee", 500, -0.01},
		{"fee of one", 500, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := SeedPool("mkt-1", tt.seed, tt.feeRate); !errors.Is(err, domain.ErrInvalidQuantity) {
				t.Errorf("err = %v, want ErrInvalidQuantity", err)
			}
		})
	}
}

func TestAddLiquidityPreservesPrices(t *testing.T) {
	p := pool(800, 200, 0.02)
	yesBefore, noBefore, err := CurrentPrices(p)
	if err != nil {
		t.Fatalf("CurrentPrices: %v", err)
	}

	grown, err := AddLiquidity(p, 500)
	if err != nil {
		t.Fatalf("AddLiquidity: %v", err)
	}

	yesAfter, noAfter, err := CurrentPrices(grown)
	if err != nil {
		t.Fatalf("CurrentPrices after: %v", err)
	}
	if !almostEqual(yesAfter, yesBefore, tolerance) || !almostEqual(noAfter, noBefore, tolerance) {
		t.Errorf("prices moved: %v/%v -> %v/%v", yesBefore, noBefore, yesAfter, noAfter)
	}
	if !almostEqual(grown.TVL, p.TVL+500, tolerance) {
		t.Errorf("tvl = %v, want %v", grown.TVL, p.TVL+500)
	}
	if !almostEqual(grown.KConstant, grown.YesReserve*grown.NoReserve, tolerance) {
		t.Errorf("k = %v, want product of reserves %v", grown.KConstant, grown.YesReserve*grown.NoReserve)
	}
}

func TestRemoveLiquidity(t *testing.T) {
	p := pool(500, 500, 0.02)
	p.FeeRewards = 40

	shrunk, payout, err := RemoveLiquidity(p, 0.25)
	if err != nil {
		t.Fatalf("RemoveLiquidity: %v", err)
	}

	if !almostEqual(payout, 0.25*1000+0.25*40, tolerance) {
		t.Errorf("payout = %v, want 260", payout)
	}
	if !almostEqual(shrunk.YesReserve, 375, tolerance) || !almostEqual(shrunk.NoReserve, 375, tolerance) {
		t.Errorf("reserves = %v/%v, want 375/375", shrunk.YesReserve, shrunk.NoReserve)
	}
	if !almostEqual(shrunk.TVL, 750, tolerance) {
		t.Errorf("tvl = %v, want 750", shrunk.TVL)
	}
	if !almostEqual(shrunk.FeeRewards, 30, tolerance) {
		t.Errorf("fee rewards = %v, want 30", shrunk.FeeRewards)
	}

	yes, no, err := CurrentPrices(shrunk)
	if err != nil {
		t.Fatalf("CurrentPrices: %v", err)
	}
	if yes != 0.5 || no != 0.5 {
		t.Errorf("prices moved on withdrawal: %v/%v", yes, no)
	}
}

func TestRemoveLiquidityRejectsFullWithdrawal(t *testing.T) {
	for _, fraction := range []float64{1, 1.5, 0, -0.1} {
		if _, _, err := RemoveLiquidity(pool(500, 500, 0.02), fraction); !errors.Is(err, domain.ErrInvalidQuantity) {
			t.Errorf("fraction %v: err = %v, want ErrInvalidQuantity", fraction, err)
		}
	}
}
