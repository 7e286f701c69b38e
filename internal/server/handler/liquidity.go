package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/forecasthq/marketd/internal/domain"
)

// LiquidityService defines the methods that the liquidity handler requires.
type LiquidityService interface {
	Add(ctx context.Context, marketID string, amount float64) (domain.LiquidityPool, error)
	Remove(ctx context.Context, marketID string, fraction float64) (domain.LiquidityPool, float64, error)
}

// LiquidityHandler serves liquidity management HTTP endpoints.
type LiquidityHandler struct {
	liquidity LiquidityService
	logger    *slog.Logger
}

// NewLiquidityHandler creates a LiquidityHandler with the given service and logger.
func NewLiquidityHandler(liquidity LiquidityService, logger *slog.Logger) *LiquidityHandler {
	return &LiquidityHandler{
		liquidity: liquidity,
		logger:    logger,
	}
}

// addLiquidityRequest is the JSON body for the add-liquidity endpoint.
type addLiquidityRequest struct {
	Amount float64 `json:"amount"`
}

// AddLiquidity deepens a market's pool without moving its prices.
// POST /api/pools/{id}/liquidity
func (h *LiquidityHandler) AddLiquidity(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	var req addLiquidityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	pool, err := h.liquidity.Add(r.Context(), id, req.Amount)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "add liquidity")
		return
	}

	writeJSON(w, http.StatusOK, pool)
}

// removeLiquidityRequest is the JSON body for the remove-liquidity endpoint.
// Fraction is the share of the pool to withdraw, in (0, 1).
type removeLiquidityRequest struct {
	Fraction float64 `json:"fraction"`
}

// removeLiquidityResponse returns the shrunk pool and the withdrawn value
// (reserves plus the proportional share of accrued fee rewards).
type removeLiquidityResponse struct {
	Pool   domain.LiquidityPool `json:"pool"`
	Payout float64              `json:"payout"`
}

// RemoveLiquidity withdraws a fraction of a market's pool.
// DELETE /api/pools/{id}/liquidity
func (h *LiquidityHandler) RemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	var req removeLiquidityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	pool, payout, err := h.liquidity.Remove(r.Context(), id, req.Fraction)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "remove liquidity")
		return
	}

	writeJSON(w, http.StatusOK, removeLiquidityResponse{
		Pool:   pool,
		Payout: payout,
	})
}
