package service

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/forecasthq/marketd/internal/crypto"
	"github.com/forecasthq/marketd/internal/domain"
	"github.com/forecasthq/marketd/internal/engine"
)

// ---------------------------------------------------------------------------
// In-memory fakes. The settlement fake mirrors the real store's behaviour:
// version CAS, tx_hash idempotency, and position accounting.
// ---------------------------------------------------------------------------

type fakeStore struct {
	market domain.Market
	pool   domain.LiquidityPool
	// staleReads makes GetByMarket serve a pool snapshot with an outdated
	// version for the first N calls, simulating a settlement racing ahead.
	staleReads int

	trades    []domain.Trade
	positions map[string]domain.Position
	seenTx    map[string]bool
}

func (f *fakeStore) key(wallet string, outcome domain.Outcome) string {
	return wallet + "|" + string(outcome)
}

func (f *fakeStore) GetByID(_ context.Context, id string) (domain.Market, error) {
	if id != f.market.ID {
		return domain.Market{}, domain.ErrNotFound
	}
	return f.market, nil
}

func (f *fakeStore) CreateWithPool(context.Context, domain.Market, domain.LiquidityPool) error {
	return nil
}
func (f *fakeStore) List(context.Context, domain.MarketStatus, string, domain.ListOpts) ([]domain.Market, error) {
	return []domain.Market{f.market}, nil
}
func (f *fakeStore) Count(context.Context) (int64, error) { return 1, nil }
func (f *fakeStore) Resolve(context.Context, string, domain.Outcome, string) error {
	return nil
}

func (f *fakeStore) GetByMarket(_ context.Context, marketID string) (domain.LiquidityPool, error) {
	if marketID != f.pool.MarketID {
		return domain.LiquidityPool{}, domain.ErrNotFound
	}
	p := f.pool
	if f.staleReads > 0 {
		f.staleReads--
		p.Version--
	}
	return p, nil
}

func (f *fakeStore) Update(_ context.Context, p domain.LiquidityPool) (domain.LiquidityPool, error) {
	if p.Version != f.pool.Version {
		return domain.LiquidityPool{}, domain.ErrStaleVersion
	}
	p.Version++
	f.pool = p
	return p, nil
}

func (f *fakeStore) SettleTrade(_ context.Context, trade domain.Trade, quote domain.Quote, expectedVersion int64) (domain.SettlementResult, error) {
	if expectedVersion != f.pool.Version {
		return domain.SettlementResult{}, domain.ErrStaleVersion
	}
	if f.seenTx[trade.TxHash] {
		return domain.SettlementResult{}, domain.ErrAlreadyExists
	}

	pos, ok := f.positions[f.key(trade.Wallet, trade.Outcome)]
	if trade.Side == domain.TradeSideSell {
		if !ok || pos.Quantity < trade.Quantity {
			return domain.SettlementResult{}, domain.ErrInsufficientPosition
		}
		pos.Quantity -= trade.Quantity
		pos.RealizedPnL += (trade.Price - pos.AvgPrice) * trade.Quantity
	} else {
		if !ok {
			pos = domain.Position{Wallet: trade.Wallet, MarketID: trade.MarketID, Outcome: trade.Outcome}
		}
		newQty := pos.Quantity + trade.Quantity
		pos.AvgPrice = (pos.AvgPrice*pos.Quantity + trade.Price*trade.Quantity) / newQty
		pos.Quantity = newQty
	}
	f.positions[f.key(trade.Wallet, trade.Outcome)] = pos

	f.pool.YesReserve = quote.NewYesReserve
	f.pool.NoReserve = quote.NewNoReserve
	f.pool.TotalVolume += quote.Total
	f.pool.FeeRewards += quote.Fee
	f.pool.Version++
	f.pool.UpdatedAt = time.Now().UTC()

	f.market.YesPrice = quote.NewYesPrice
	f.market.NoPrice = quote.NewNoPrice
	f.market.TotalVolume += quote.Total

	trade.ID = "trade-" + trade.TxHash
	trade.Status = domain.TradeStatusConfirmed
	trade.CreatedAt = f.pool.UpdatedAt
	f.trades = append(f.trades, trade)
	f.seenTx[trade.TxHash] = true

	return domain.SettlementResult{
		Trade:    trade,
		Pool:     f.pool,
		Market:   f.market,
		Position: pos,
	}, nil
}

func (f *fakeStore) GetTrade(_ context.Context, id string) (domain.Trade, error) {
	for _, t := range f.trades {
		if t.ID == id {
			return t, nil
		}
	}
	return domain.Trade{}, domain.ErrNotFound
}

func (f *fakeStore) ListByMarket(context.Context, string, domain.ListOpts) ([]domain.Trade, error) {
	return f.trades, nil
}
func (f *fakeStore) ListByWallet(context.Context, string, domain.ListOpts) ([]domain.Trade, error) {
	return f.trades, nil
}
func (f *fakeStore) ListBefore(context.Context, time.Time, int) ([]domain.Trade, error) {
	return nil, nil
}
func (f *fakeStore) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type tradeStoreShim struct{ *fakeStore }

func (s tradeStoreShim) GetByID(ctx context.Context, id string) (domain.Trade, error) {
	return s.GetTrade(ctx, id)
}

type fakeCache struct {
	points map[string]domain.PricePoint
}

func (f *fakeCache) SetPrices(_ context.Context, id string, p domain.PricePoint) error {
	f.points[id] = p
	return nil
}
func (f *fakeCache) GetPrices(_ context.Context, id string) (domain.PricePoint, error) {
	p, ok := f.points[id]
	if !ok {
		return domain.PricePoint{}, domain.ErrNotFound
	}
	return p, nil
}
func (f *fakeCache) GetManyPrices(_ context.Context, ids []string) (map[string]domain.PricePoint, error) {
	out := map[string]domain.PricePoint{}
	for _, id := range ids {
		if p, ok := f.points[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type fakeLocks struct{ held bool }

func (f *fakeLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	if f.held {
		return nil, domain.ErrLockHeld
	}
	return func() {}, nil
}

type fakeLimiter struct{ denied bool }

func (f *fakeLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return !f.denied, nil
}

type fakeBus struct {
	published int
	appended  int
}

func (f *fakeBus) Publish(context.Context, string, []byte) error {
	f.published++
	return nil
}
func (f *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }
func (f *fakeBus) StreamAppend(context.Context, string, []byte) error {
	f.appended++
	return nil
}
func (f *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type harness struct {
	svc     *TradeService
	store   *fakeStore
	cache   *fakeCache
	locks   *fakeLocks
	limiter *fakeLimiter
	bus     *fakeBus
	signer  *crypto.Signer
	wallet  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	signer, err := crypto.NewSigner("0x" + hex.EncodeToString(ethcrypto.FromECDSA(pk)))
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	now := time.Now().UTC()
	store := &fakeStore{
		market: domain.Market{
			ID:        "mkt-1",
			Title:     "Will it rain tomorrow?",
			Status:    domain.MarketStatusActive,
			ExpiresAt: now.Add(24 * time.Hour),
			YesPrice:  0.5,
			NoPrice:   0.5,
		},
		pool: domain.LiquidityPool{
			MarketID:   "mkt-1",
			YesReserve: 500,
			NoReserve:  500,
			KConstant:  250000,
			TVL:        1000,
			FeeRate:    0.02,
			Version:    1,
		},
		positions: map[string]domain.Position{},
		seenTx:    map[string]bool{},
	}

	eng, err := engine.New(engine.Config{Mode: engine.ModeConstantProduct})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	cache := &fakeCache{points: map[string]domain.PricePoint{}}
	locks := &fakeLocks{}
	limiter := &fakeLimiter{}
	bus := &fakeBus{}

	svc := NewTradeService(
		eng, store, store, tradeStoreShim{store}, store, cache, locks, limiter, bus,
		TradeConfig{
			MaxQuantity:   10000,
			RateLimit:     60,
			RateWindow:    time.Minute,
			LockTTL:       5 * time.Second,
			PriceCacheTTL: 30 * time.Second,
		},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)

	return &harness{
		svc: svc, store: store, cache: cache, locks: locks,
		limiter: limiter, bus: bus, signer: signer,
		wallet: signer.Address().Hex(),
	}
}

func (h *harness) signedRequest(t *testing.T, outcome domain.Outcome, side domain.TradeSide, quantity float64, txHash string) TradeRequest {
	t.Helper()
	trade := domain.Trade{
		Wallet:   h.wallet,
		MarketID: "mkt-1",
		Outcome:  outcome,
		Side:     side,
		Quantity: quantity,
		TxHash:   txHash,
	}
	sig, err := h.signer.SignMessage(crypto.TradeMessage(trade))
	if err != nil {
		t.Fatalf("signing trade: %v", err)
	}
	return TradeRequest{
		Wallet:    h.wallet,
		MarketID:  "mkt-1",
		Outcome:   outcome,
		Side:      side,
		Quantity:  quantity,
		TxHash:    txHash,
		Signature: sig,
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestExecuteSettlesBuy(t *testing.T) {
	h := newHarness(t)

	result, err := h.svc.Execute(context.Background(), h.signedRequest(t, domain.OutcomeYes, domain.TradeSideBuy, 10, "0x01"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if result.Trade.Status != domain.TradeStatusConfirmed {
		t.Errorf("trade status = %s, want confirmed", result.Trade.Status)
	}
	if h.store.pool.YesReserve != 490 {
		t.Errorf("yes reserve = %v, want 490", h.store.pool.YesReserve)
	}
	if math.Abs(h.store.market.YesPrice+h.store.market.NoPrice-1) > 1e-9 {
		t.Errorf("market prices sum = %v, want 1", h.store.market.YesPrice+h.store.market.NoPrice)
	}
	// Volume counts the full total (cost plus fee on a buy); the fee itself
	// accrues to the pool's rewards.
	if math.Abs(h.store.pool.TotalVolume-result.Trade.Total) > 1e-9 {
		t.Errorf("pool volume = %v, want trade total %v", h.store.pool.TotalVolume, result.Trade.Total)
	}
	if math.Abs(h.store.market.TotalVolume-result.Trade.Total) > 1e-9 {
		t.Errorf("market volume = %v, want trade total %v", h.store.market.TotalVolume, result.Trade.Total)
	}
	if math.Abs(h.store.pool.FeeRewards-result.Trade.Fee) > 1e-9 {
		t.Errorf("fee rewards = %v, want trade fee %v", h.store.pool.FeeRewards, result.Trade.Fee)
	}
	if result.Trade.Fee <= 0 || math.Abs(result.Trade.Total-result.Trade.Cost-result.Trade.Fee) > 1e-9 {
		t.Errorf("trade accounting cost=%v fee=%v total=%v", result.Trade.Cost, result.Trade.Fee, result.Trade.Total)
	}
	if _, ok := h.cache.points["mkt-1"]; !ok {
		t.Error("price cache was not refreshed after settlement")
	}
	if h.bus.published == 0 || h.bus.appended == 0 {
		t.Errorf("expected trade fan-out, published=%d appended=%d", h.bus.published, h.bus.appended)
	}

	pos := h.store.positions[h.store.key(h.wallet, domain.OutcomeYes)]
	if pos.Quantity != 10 {
		t.Errorf("position quantity = %v, want 10", pos.Quantity)
	}
	if pos.AvgPrice != result.Trade.Price {
		t.Errorf("avg price = %v, want trade price %v", pos.AvgPrice, result.Trade.Price)
	}
}

func TestExecuteAveragesEntryPriceAcrossBuys(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.svc.Execute(ctx, h.signedRequest(t, domain.OutcomeYes, domain.TradeSideBuy, 50, "0x01"))
	if err != nil {
		t.Fatalf("first buy: %v", err)
	}
	second, err := h.svc.Execute(ctx, h.signedRequest(t, domain.OutcomeYes, domain.TradeSideBuy, 50, "0x02"))
	if err != nil {
		t.Fatalf("second buy: %v", err)
	}

	// Buying moved the price up, so the second fill is more expensive.
	if second.Trade.Price <= first.Trade.Price {
		t.Errorf("second price %v should exceed first %v", second.Trade.Price, first.Trade.Price)
	}

	pos := h.store.positions[h.store.key(h.wallet, domain.OutcomeYes)]
	wantAvg := (first.Trade.Price*50 + second.Trade.Price*50) / 100
	if math.Abs(pos.AvgPrice-wantAvg) > 1e-9 {
		t.Errorf("avg price = %v, want volume-weighted %v", pos.AvgPrice, wantAvg)
	}
}

// Selling shares that were never bought must fail, and leave nothing behind.
func TestExecuteRejectsSellWithoutPosition(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Execute(context.Background(), h.signedRequest(t, domain.OutcomeYes, domain.TradeSideSell, 10, "0x01"))
	if !errors.Is(err, domain.ErrInsufficientPosition) {
		t.Fatalf("err = %v, want ErrInsufficientPosition", err)
	}

	if len(h.store.trades) != 0 {
		t.Errorf("rejected sell left %d trade records", len(h.store.trades))
	}
	if h.store.pool.YesReserve != 500 || h.store.pool.Version != 1 {
		t.Errorf("rejected sell mutated the pool: %+v", h.store.pool)
	}
}

func TestExecuteRejectsOverSell(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.svc.Execute(ctx, h.signedRequest(t, domain.OutcomeYes, domain.TradeSideBuy, 10, "0x01")); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := h.svc.Execute(ctx, h.signedRequest(t, domain.OutcomeYes, domain.TradeSideSell, 25, "0x02")); !errors.Is(err, domain.ErrInsufficientPosition) {
		t.Errorf("err = %v, want ErrInsufficientPosition", err)
	}
}

// A stale pool snapshot is re-quoted rather than settled at the stale price.
func TestExecuteRetriesOnStaleVersion(t *testing.T) {
	h := newHarness(t)
	h.store.staleReads = 1

	result, err := h.svc.Execute(context.Background(), h.signedRequest(t, domain.OutcomeYes, domain.TradeSideBuy, 10, "0x01"))
	if err != nil {
		t.Fatalf("Execute after stale read: %v", err)
	}
	if result.Pool.Version != 2 {
		t.Errorf("pool version = %d, want 2", result.Pool.Version)
	}
}

func TestExecuteSequentialTradesCompound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.svc.Execute(ctx, h.signedRequest(t, domain.OutcomeYes, domain.TradeSideBuy, 10, "0x01")); err != nil {
		t.Fatalf("first trade: %v", err)
	}
	second, err := h.svc.Execute(ctx, h.signedRequest(t, domain.OutcomeYes, domain.TradeSideBuy, 10, "0x02"))
	if err != nil {
		t.Fatalf("second trade: %v", err)
	}

	// The second trade must be quoted against the first one's reserves.
	if second.Pool.YesReserve != 480 {
		t.Errorf("yes reserve = %v, want 480", second.Pool.YesReserve)
	}
	if second.Pool.Version != 3 {
		t.Errorf("pool version = %d, want 3", second.Pool.Version)
	}
}

func TestExecuteRejectsReplayedTxHash(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := h.signedRequest(t, domain.OutcomeYes, domain.TradeSideBuy, 10, "0x01")
	if _, err := h.svc.Execute(ctx, req); err != nil {
		t.Fatalf("first submission: %v", err)
	}
	if _, err := h.svc.Execute(ctx, req); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestExecuteGuardClauses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("missing wallet", func(t *testing.T) {
		req := h.signedRequest(t, domain.OutcomeYes, domain.TradeSideBuy, 10, "0x01")
		req.Wallet = ""
		if _, err := h.svc.Execute(ctx, req); !errors.Is(err, domain.ErrWalletNotConnected) {
			t.Errorf("err = %v, want ErrWalletNotConnected", err)
		}
	})

	t.Run("zero quantity", func(t *testing.T) {
		req := h.signedRequest(t, domain.OutcomeYes, domain.TradeSideBuy, 10, "0x02")
		req.Quantity = 0
		if _, err := h.svc.Execute(ctx, req); !errors.Is(err, domain.ErrInvalidQuantity) {
			t.Errorf("err = %v, want ErrInvalidQuantity", err)
		}
	})

	t.Run("forged signature", func(t *testing.T) {
		req := h.signedRequest(t, domain.OutcomeYes, domain.TradeSideBuy, 10, "0x03")
		req.Quantity = 9999 // signed for 10
		if _, err := h.svc.Execute(ctx, req); !errors.Is(err, domain.ErrInvalidSignature) {
			t.Errorf("err = %v, want ErrInvalidSignature", err)
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		h.limiter.denied = true
		defer func() { h.limiter.denied = false }()
		req := h.signedRequest(t, domain.OutcomeYes, domain.TradeSideBuy, 10, "0x04")
		if _, err := h.svc.Execute(ctx, req); !errors.Is(err, domain.ErrRateLimited) {
			t.Errorf("err = %v, want ErrRateLimited", err)
		}
	})

	t.Run("lock held", func(t *testing.T) {
		h.locks.held = true
		defer func() { h.locks.held = false }()
		req := h.signedRequest(t, domain.OutcomeYes, domain.TradeSideBuy, 10, "0x05")
		if _, err := h.svc.Execute(ctx, req); !errors.Is(err, domain.ErrLockHeld) {
			t.Errorf("err = %v, want ErrLockHeld", err)
		}
	})

	t.Run("market closed", func(t *testing.T) {
		h.store.market.Status = domain.MarketStatusResolved
		defer func() { h.store.market.Status = domain.MarketStatusActive }()
		req := h.signedRequest(t, domain.OutcomeYes, domain.TradeSideBuy, 10, "0x06")
		if _, err := h.svc.Execute(ctx, req); !errors.Is(err, domain.ErrMarketClosed) {
			t.Errorf("err = %v, want ErrMarketClosed", err)
		}
	})
}

func TestCurrentPricesFallsBackToPool(t *testing.T) {
	h := newHarness(t)

	point, err := h.svc.CurrentPrices(context.Background(), "mkt-1")
	if err != nil {
		t.Fatalf("CurrentPrices: %v", err)
	}
	if point.Yes != 0.5 || point.No != 0.5 {
		t.Errorf("prices = %v/%v, want 0.5/0.5", point.Yes, point.No)
	}

	// The fallback read back-fills the cache.
	if _, ok := h.cache.points["mkt-1"]; !ok {
		t.Error("cache was not back-filled")
	}
}

func TestQuoteHasNoSideEffects(t *testing.T) {
	h := newHarness(t)

	if _, err := h.svc.Quote(context.Background(), "mkt-1", domain.OutcomeYes, domain.TradeSideBuy, 10); err != nil {
		t.Fatalf("Quote: %v", err)
	}

	if h.store.pool.YesReserve != 500 || h.store.pool.Version != 1 {
		t.Errorf("quote mutated the pool: %+v", h.store.pool)
	}
	if len(h.store.trades) != 0 {
		t.Errorf("quote created %d trades", len(h.store.trades))
	}
}
