package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/forecasthq/marketd/internal/domain"
)

// PriceReader serves current implied prices for a market. TradeService
// satisfies it.
type PriceReader interface {
	CurrentPrices(ctx context.Context, marketID string) (domain.PricePoint, error)
}

// PositionService reads user positions and annotates them with live pricing.
type PositionService struct {
	positions domain.PositionStore
	prices    PriceReader
	logger    *slog.Logger
}

// NewPositionService creates a PositionService with all required dependencies.
func NewPositionService(positions domain.PositionStore, prices PriceReader, logger *slog.Logger) *PositionService {
	return &PositionService{
		positions: positions,
		prices:    prices,
		logger:    logger,
	}
}

// Get retrieves one position with live pricing.
func (s *PositionService) Get(ctx context.Context, wallet, marketID string, outcome domain.Outcome) (domain.PositionView, error) {
	if wallet == "" {
		return domain.PositionView{}, domain.ErrWalletNotConnected
	}

	pos, err := s.positions.Get(ctx, wallet, marketID, outcome)
	if err != nil {
		return domain.PositionView{}, fmt.Errorf("position_service: get %s/%s/%s: %w", wallet, marketID, outcome, err)
	}
	return s.annotate(ctx, pos), nil
}

// ListByWallet returns all of a wallet's open positions with live pricing.
func (s *PositionService) ListByWallet(ctx context.Context, wallet string) ([]domain.PositionView, error) {
	if wallet == "" {
		return nil, domain.ErrWalletNotConnected
	}

	positions, err := s.positions.ListByWallet(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("position_service: list for %s: %w", wallet, err)
	}

	views := make([]domain.PositionView, 0, len(positions))
	for _, pos := range positions {
		views = append(views, s.annotate(ctx, pos))
	}
	return views, nil
}

// ListByMarket returns a market's open positions with live pricing.
func (s *PositionService) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.PositionView, error) {
	positions, err := s.positions.ListByMarket(ctx, marketID, opts)
	if err != nil {
		return nil, fmt.Errorf("position_service: list for market %s: %w", marketID, err)
	}

	views := make([]domain.PositionView, 0, len(positions))
	for _, pos := range positions {
		views = append(views, s.annotate(ctx, pos))
	}
	return views, nil
}

// annotate attaches the outcome's current price and the mark-to-market P&L.
// Pricing failures degrade to a zero-priced view rather than failing the
// read.
func (s *PositionService) annotate(ctx context.Context, pos domain.Position) domain.PositionView {
	view := domain.PositionView{Position: pos}

	point, err := s.prices.CurrentPrices(ctx, pos.MarketID)
	if err != nil {
		s.logger.WarnContext(ctx, "position_service: pricing failed",
			slog.String("market_id", pos.MarketID),
			slog.String("error", err.Error()),
		)
		return view
	}

	if pos.Outcome == domain.OutcomeYes {
		view.CurrentPrice = point.Yes
	} else {
		view.CurrentPrice = point.No
	}
	view.UnrealizedPnL = pos.UnrealizedPnL(view.CurrentPrice)
	return view
}
