// Package service implements the application's use cases on top of the
// domain stores, the pricing engine, and the cache layer.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/forecasthq/marketd/internal/crypto"
	"github.com/forecasthq/marketd/internal/domain"
	"github.com/forecasthq/marketd/internal/engine"
)

// tradeStreamName is the durable Redis stream carrying settled trades.
const tradeStreamName = "stream:trades"

// settleRetries bounds how many times a settlement is re-quoted after a
// version conflict before giving up.
const settleRetries = 3

// TradeConfig carries the trade service's tunables.
type TradeConfig struct {
	MaxQuantity   float64
	RateLimit     int
	RateWindow    time.Duration
	LockTTL       time.Duration
	PriceCacheTTL time.Duration
}

// TradeRequest is a signed trade submission.
type TradeRequest struct {
	Wallet    string           `json:"wallet"`
	MarketID  string           `json:"market_id"`
	Outcome   domain.Outcome   `json:"outcome"`
	Side      domain.TradeSide `json:"side"`
	Quantity  float64          `json:"quantity"`
	TxHash    string           `json:"tx_hash"`
	Signature string           `json:"signature"`
}

// TradeService quotes and settles trades against market pools.
type TradeService struct {
	engine  *engine.Engine
	markets domain.MarketStore
	pools   domain.PoolStore
	trades  domain.TradeStore
	settle  domain.SettlementStore
	prices  domain.PriceCache
	locks   domain.LockManager
	limiter domain.RateLimiter
	bus     domain.SignalBus
	cfg     TradeConfig
	logger  *slog.Logger
}

// NewTradeService creates a TradeService with all required dependencies.
func NewTradeService(
	eng *engine.Engine,
	markets domain.MarketStore,
	pools domain.PoolStore,
	trades domain.TradeStore,
	settle domain.SettlementStore,
	prices domain.PriceCache,
	locks domain.LockManager,
	limiter domain.RateLimiter,
	bus domain.SignalBus,
	cfg TradeConfig,
	logger *slog.Logger,
) *TradeService {
	return &TradeService{
		engine:  eng,
		markets: markets,
		pools:   pools,
		trades:  trades,
		settle:  settle,
		prices:  prices,
		locks:   locks,
		limiter: limiter,
		bus:     bus,
		cfg:     cfg,
		logger:  logger,
	}
}

// Quote prices a hypothetical trade against the market's current reserves
// without any side effects. Anyone may ask for a quote; no wallet or
// signature is required.
func (s *TradeService) Quote(ctx context.Context, marketID string, outcome domain.Outcome, side domain.TradeSide, quantity float64) (domain.Quote, error) {
	if quantity > s.cfg.MaxQuantity {
		return domain.Quote{}, fmt.Errorf("trade_service: quantity %v exceeds max %v: %w",
			quantity, s.cfg.MaxQuantity, domain.ErrInvalidQuantity)
	}

	market, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("trade_service: quote market %q: %w", marketID, err)
	}
	if market.Status != domain.MarketStatusActive {
		return domain.Quote{}, fmt.Errorf("trade_service: market %q: %w", marketID, domain.ErrMarketClosed)
	}

	pool, err := s.pools.GetByMarket(ctx, marketID)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("trade_service: quote pool %q: %w", marketID, err)
	}

	return s.engine.Quote(pool, outcome, side, quantity)
}

// Execute settles a signed trade.
//
// The request is validated up front (wallet present, sane quantity, signature
// matches the wallet), rate limited per wallet, then settled under a
// per-market distributed lock. The quote is recomputed against the pool's
// reserves at settlement time; a version conflict re-quotes and retries so
// concurrent trades on the same market each settle against the reserves the
// previous one left behind.
func (s *TradeService) Execute(ctx context.Context, req TradeRequest) (domain.SettlementResult, error) {
	if req.Wallet == "" {
		return domain.SettlementResult{}, domain.ErrWalletNotConnected
	}
	if req.Quantity <= 0 {
		return domain.SettlementResult{}, domain.ErrInvalidQuantity
	}
	if req.Quantity > s.cfg.MaxQuantity {
		return domain.SettlementResult{}, fmt.Errorf("trade_service: quantity %v exceeds max %v: %w",
			req.Quantity, s.cfg.MaxQuantity, domain.ErrInvalidQuantity)
	}
	if !req.Outcome.Valid() {
		return domain.SettlementResult{}, fmt.Errorf("trade_service: unknown outcome %q", req.Outcome)
	}
	if !req.Side.Valid() {
		return domain.SettlementResult{}, fmt.Errorf("trade_service: unknown side %q", req.Side)
	}
	if req.TxHash == "" {
		return domain.SettlementResult{}, errors.New("trade_service: tx_hash is required")
	}

	allowed, err := s.limiter.Allow(ctx, "trade:"+req.Wallet, s.cfg.RateLimit, s.cfg.RateWindow)
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("trade_service: rate limit: %w", err)
	}
	if !allowed {
		return domain.SettlementResult{}, domain.ErrRateLimited
	}

	trade := domain.Trade{
		Wallet:   req.Wallet,
		MarketID: req.MarketID,
		Outcome:  req.Outcome,
		Side:     req.Side,
		Quantity: req.Quantity,
		TxHash:   req.TxHash,
	}
	if err := crypto.VerifyPersonalSign(req.Wallet, crypto.TradeMessage(trade), req.Signature); err != nil {
		return domain.SettlementResult{}, err
	}

	market, err := s.markets.GetByID(ctx, req.MarketID)
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("trade_service: market %q: %w", req.MarketID, err)
	}
	if market.Status != domain.MarketStatusActive {
		return domain.SettlementResult{}, fmt.Errorf("trade_service: market %q: %w", req.MarketID, domain.ErrMarketClosed)
	}

	// Cross-process backstop; the settlement transaction's row lock is the
	// hard guarantee.
	unlock, err := s.locks.Acquire(ctx, "settle:"+req.MarketID, s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return domain.SettlementResult{}, fmt.Errorf("trade_service: market %q busy: %w", req.MarketID, err)
		}
		return domain.SettlementResult{}, fmt.Errorf("trade_service: lock: %w", err)
	}
	defer unlock()

	result, err := s.settleWithRetry(ctx, trade)
	if err != nil {
		return domain.SettlementResult{}, err
	}

	s.afterSettle(ctx, result)
	return result, nil
}

// settleWithRetry quotes against the current pool snapshot and settles,
// re-quoting when another settlement bumped the pool version in between.
func (s *TradeService) settleWithRetry(ctx context.Context, trade domain.Trade) (domain.SettlementResult, error) {
	var lastErr error
	for attempt := 0; attempt < settleRetries; attempt++ {
		pool, err := s.pools.GetByMarket(ctx, trade.MarketID)
		if err != nil {
			return domain.SettlementResult{}, fmt.Errorf("trade_service: pool %q: %w", trade.MarketID, err)
		}

		quote, err := s.engine.Quote(pool, trade.Outcome, trade.Side, trade.Quantity)
		if err != nil {
			return domain.SettlementResult{}, err
		}

		trade.Price = quote.Price
		trade.Cost = quote.Cost
		trade.Fee = quote.Fee
		trade.Total = quote.Total

		result, err := s.settle.SettleTrade(ctx, trade, quote, pool.Version)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, domain.ErrStaleVersion) {
			return domain.SettlementResult{}, err
		}

		lastErr = err
		s.logger.DebugContext(ctx, "trade_service: stale pool version, re-quoting",
			slog.String("market_id", trade.MarketID),
			slog.Int("attempt", attempt+1),
		)
	}
	return domain.SettlementResult{}, fmt.Errorf("trade_service: settlement contention on %q: %w",
		trade.MarketID, lastErr)
}

// afterSettle refreshes the price cache and fans the trade out. All of it is
// best effort; the settlement already committed.
func (s *TradeService) afterSettle(ctx context.Context, result domain.SettlementResult) {
	point := domain.PricePoint{
		Yes: result.Market.YesPrice,
		No:  result.Market.NoPrice,
		TS:  result.Pool.UpdatedAt,
	}
	if err := s.prices.SetPrices(ctx, result.Market.ID, point); err != nil {
		s.logger.WarnContext(ctx, "trade_service: price cache update failed",
			slog.String("market_id", result.Market.ID),
			slog.String("error", err.Error()),
		)
	}

	evt, _ := json.Marshal(map[string]any{
		"event":     "trade_settled",
		"trade_id":  result.Trade.ID,
		"market_id": result.Trade.MarketID,
		"wallet":    result.Trade.Wallet,
		"outcome":   result.Trade.Outcome,
		"side":      result.Trade.Side,
		"quantity":  result.Trade.Quantity,
		"price":     result.Trade.Price,
		"yes_price": result.Market.YesPrice,
		"no_price":  result.Market.NoPrice,
		"timestamp": result.Trade.CreatedAt.Format(time.RFC3339),
	})
	if err := s.bus.Publish(ctx, "trades:"+result.Trade.MarketID, evt); err != nil {
		s.logger.WarnContext(ctx, "trade_service: publish trade event failed",
			slog.String("trade_id", result.Trade.ID),
			slog.String("error", err.Error()),
		)
	}

	priceEvt, _ := json.Marshal(map[string]any{
		"event":     "price_update",
		"market_id": result.Market.ID,
		"yes":       result.Market.YesPrice,
		"no":        result.Market.NoPrice,
		"timestamp": point.TS.Format(time.RFC3339),
	})
	if err := s.bus.Publish(ctx, "prices:"+result.Market.ID, priceEvt); err != nil {
		s.logger.WarnContext(ctx, "trade_service: publish price event failed",
			slog.String("market_id", result.Market.ID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.bus.StreamAppend(ctx, tradeStreamName, evt); err != nil {
		s.logger.WarnContext(ctx, "trade_service: stream append failed",
			slog.String("trade_id", result.Trade.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "trade_service: settled trade",
		slog.String("trade_id", result.Trade.ID),
		slog.String("market_id", result.Trade.MarketID),
		slog.String("side", string(result.Trade.Side)),
		slog.Float64("quantity", result.Trade.Quantity),
		slog.Float64("total", result.Trade.Total),
	)
}

// CurrentPrices returns the market's implied prices, serving from the cache
// when possible and falling back to the pool reserves.
func (s *TradeService) CurrentPrices(ctx context.Context, marketID string) (domain.PricePoint, error) {
	if point, err := s.prices.GetPrices(ctx, marketID); err == nil {
		return point, nil
	}

	pool, err := s.pools.GetByMarket(ctx, marketID)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("trade_service: prices %q: %w", marketID, err)
	}
	yes, no, err := engine.CurrentPrices(pool)
	if err != nil {
		return domain.PricePoint{}, err
	}

	point := domain.PricePoint{Yes: yes, No: no, TS: pool.UpdatedAt}
	if cacheErr := s.prices.SetPrices(ctx, marketID, point); cacheErr != nil {
		s.logger.WarnContext(ctx, "trade_service: price cache backfill failed",
			slog.String("market_id", marketID),
			slog.String("error", cacheErr.Error()),
		)
	}
	return point, nil
}

// GetTrade retrieves one trade by ID.
func (s *TradeService) GetTrade(ctx context.Context, id string) (domain.Trade, error) {
	t, err := s.trades.GetByID(ctx, id)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("trade_service: get %q: %w", id, err)
	}
	return t, nil
}

// ListByMarket returns trades for a specific market with pagination.
func (s *TradeService) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error) {
	trades, err := s.trades.ListByMarket(ctx, marketID, opts)
	if err != nil {
		return nil, fmt.Errorf("trade_service: list by market %q: %w", marketID, err)
	}
	return trades, nil
}

// ListByWallet returns trades for a specific wallet with pagination.
func (s *TradeService) ListByWallet(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.Trade, error) {
	trades, err := s.trades.ListByWallet(ctx, wallet, opts)
	if err != nil {
		return nil, fmt.Errorf("trade_service: list by wallet %q: %w", wallet, err)
	}
	return trades, nil
}
