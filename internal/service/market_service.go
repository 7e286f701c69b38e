package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/forecasthq/marketd/internal/domain"
	"github.com/forecasthq/marketd/internal/engine"
)

// ResolutionSigner produces the operator's attestation over a market
// resolution.
type ResolutionSigner interface {
	SignResolution(marketID string, outcome domain.Outcome) (string, error)
}

// MarketConfig carries market creation defaults.
type MarketConfig struct {
	DefaultFeeRate       float64
	DefaultSeedLiquidity float64
}

// CreateMarketRequest describes a new market.
type CreateMarketRequest struct {
	Title     string    `json:"title"`
	Category  string    `json:"category"`
	ExpiresAt time.Time `json:"expires_at"`
	// SeedLiquidity and FeeRate fall back to the configured defaults when
	// zero.
	SeedLiquidity float64 `json:"seed_liquidity"`
	FeeRate       float64 `json:"fee_rate"`
}

// MarketService handles market lifecycle: creation, listing, resolution.
type MarketService struct {
	markets domain.MarketStore
	pools   domain.PoolStore
	prices  domain.PriceCache
	bus     domain.SignalBus
	signer  ResolutionSigner
	cfg     MarketConfig
	logger  *slog.Logger
}

// NewMarketService creates a MarketService with all required dependencies.
func NewMarketService(
	markets domain.MarketStore,
	pools domain.PoolStore,
	prices domain.PriceCache,
	bus domain.SignalBus,
	signer ResolutionSigner,
	cfg MarketConfig,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		markets: markets,
		pools:   pools,
		prices:  prices,
		bus:     bus,
		signer:  signer,
		cfg:     cfg,
		logger:  logger,
	}
}

// Create seeds a new market and its liquidity pool. The pool opens with
// equal reserves on both sides, so the market starts at 50/50.
func (s *MarketService) Create(ctx context.Context, req CreateMarketRequest) (domain.Market, error) {
	if strings.TrimSpace(req.Title) == "" {
		return domain.Market{}, fmt.Errorf("market_service: title is required")
	}
	if !req.ExpiresAt.After(time.Now()) {
		return domain.Market{}, fmt.Errorf("market_service: expires_at must be in the future")
	}

	seed := req.SeedLiquidity
	if seed == 0 {
		seed = s.cfg.DefaultSeedLiquidity
	}
	feeRate := req.FeeRate
	if feeRate == 0 {
		feeRate = s.cfg.DefaultFeeRate
	}

	id := uuid.NewString()
	pool, err := engine.SeedPool(id, seed, feeRate)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: seed pool: %w", err)
	}

	now := time.Now().UTC()
	market := domain.Market{
		ID:        id,
		Title:     strings.TrimSpace(req.Title),
		Category:  strings.TrimSpace(req.Category),
		ExpiresAt: req.ExpiresAt.UTC(),
		Status:    domain.MarketStatusActive,
		YesPrice:  0.5,
		NoPrice:   0.5,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.markets.CreateWithPool(ctx, market, pool); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create %q: %w", market.Title, err)
	}

	if cacheErr := s.prices.SetPrices(ctx, id, domain.PricePoint{Yes: 0.5, No: 0.5, TS: now}); cacheErr != nil {
		s.logger.WarnContext(ctx, "market_service: price cache seed failed",
			slog.String("market_id", id),
			slog.String("error", cacheErr.Error()),
		)
	}

	evt, _ := json.Marshal(map[string]any{
		"event":     "market_created",
		"market_id": id,
		"title":     market.Title,
		"category":  market.Category,
	})
	if pubErr := s.bus.Publish(ctx, "markets", evt); pubErr != nil {
		s.logger.WarnContext(ctx, "market_service: publish market event failed",
			slog.String("market_id", id),
			slog.String("error", pubErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "market_service: created market",
		slog.String("market_id", id),
		slog.String("title", market.Title),
		slog.Float64("seed", seed),
	)
	return market, nil
}

// Get retrieves a market by ID.
func (s *MarketService) Get(ctx context.Context, id string) (domain.Market, error) {
	m, err := s.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get %q: %w", id, err)
	}
	return m, nil
}

// GetPool retrieves the liquidity pool backing a market.
func (s *MarketService) GetPool(ctx context.Context, marketID string) (domain.LiquidityPool, error) {
	p, err := s.pools.GetByMarket(ctx, marketID)
	if err != nil {
		return domain.LiquidityPool{}, fmt.Errorf("market_service: pool %q: %w", marketID, err)
	}
	return p, nil
}

// List returns markets filtered by status and category.
func (s *MarketService) List(ctx context.Context, status domain.MarketStatus, category string, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.markets.List(ctx, status, category, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list: %w", err)
	}
	return markets, nil
}

// Count returns the total number of markets.
func (s *MarketService) Count(ctx context.Context) (int64, error) {
	count, err := s.markets.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("market_service: count: %w", err)
	}
	return count, nil
}

// Resolve settles a market to the winning outcome. The operator signs an
// attestation over (market, outcome) which is stored with the market and
// included in the resolution event, so clients can verify the call came from
// the operator key.
func (s *MarketService) Resolve(ctx context.Context, id string, outcome domain.Outcome) (domain.Market, error) {
	if !outcome.Valid() {
		return domain.Market{}, fmt.Errorf("market_service: unknown outcome %q", outcome)
	}

	attestation, err := s.signer.SignResolution(id, outcome)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: attest resolution %q: %w", id, err)
	}

	if err := s.markets.Resolve(ctx, id, outcome, attestation); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: resolve %q: %w", id, err)
	}

	m, err := s.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: resolve reload %q: %w", id, err)
	}

	evt, _ := json.Marshal(map[string]any{
		"event":       "market_resolved",
		"market_id":   id,
		"outcome":     outcome,
		"attestation": attestation,
	})
	if pubErr := s.bus.Publish(ctx, "markets", evt); pubErr != nil {
		s.logger.WarnContext(ctx, "market_service: publish resolution failed",
			slog.String("market_id", id),
			slog.String("error", pubErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "market_service: resolved market",
		slog.String("market_id", id),
		slog.String("outcome", string(outcome)),
	)
	return m, nil
}
