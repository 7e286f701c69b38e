package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/forecasthq/marketd/internal/domain"
)

// PositionService defines the methods that the position handler requires.
type PositionService interface {
	ListByWallet(ctx context.Context, wallet string) ([]domain.PositionView, error)
	ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.PositionView, error)
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and logger.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logger,
	}
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Positions []domain.PositionView `json:"positions"`
}

// ListPositions returns open positions for a wallet or a market, annotated
// with current prices and unrealized PnL.
// GET /api/positions?wallet=0x...  or  ?market_id=...
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	wallet := q.Get("wallet")
	marketID := q.Get("market_id")

	if wallet == "" && marketID == "" {
		writeError(w, http.StatusBadRequest, "wallet or market_id query parameter required")
		return
	}

	var positions []domain.PositionView
	var err error
	if wallet != "" {
		positions, err = h.positions.ListByWallet(r.Context(), wallet)
	} else {
		positions, err = h.positions.ListByMarket(r.Context(), marketID, parseListOpts(r))
	}
	if err != nil {
		writeDomainError(w, r, h.logger, err, "list positions")
		return
	}

	if positions == nil {
		positions = []domain.PositionView{}
	}

	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}
