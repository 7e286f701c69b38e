package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/forecasthq/marketd/internal/domain"
	"github.com/forecasthq/marketd/internal/service"
)

// MarketService defines the methods that the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	Create(ctx context.Context, req service.CreateMarketRequest) (domain.Market, error)
	Get(ctx context.Context, id string) (domain.Market, error)
	GetPool(ctx context.Context, marketID string) (domain.LiquidityPool, error)
	List(ctx context.Context, status domain.MarketStatus, category string, opts domain.ListOpts) ([]domain.Market, error)
	Count(ctx context.Context) (int64, error)
	Resolve(ctx context.Context, id string, outcome domain.Outcome) (domain.Market, error)
}

// PriceService supplies the latest implied prices per market.
type PriceService interface {
	CurrentPrices(ctx context.Context, marketID string) (domain.PricePoint, error)
}

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	markets MarketService
	prices  PriceService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given services and logger.
func NewMarketHandler(markets MarketService, prices PriceService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		prices:  prices,
		logger:  logger,
	}
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Total   int64           `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// CreateMarket creates a new market with a seeded liquidity pool.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req service.CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	market, err := h.markets.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "create market")
		return
	}

	writeJSON(w, http.StatusCreated, market)
}

// ListMarkets returns markets with pagination, optionally filtered by status
// and category.
// GET /api/markets?status=active&category=politics&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := parseListOpts(r)

	status := domain.MarketStatus(q.Get("status"))
	category := q.Get("category")

	markets, err := h.markets.List(r.Context(), status, category, opts)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "list markets")
		return
	}
	if markets == nil {
		markets = []domain.Market{}
	}

	total, err := h.markets.Count(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err, "count markets")
		return
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: markets,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	market, err := h.markets.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "get market")
		return
	}

	writeJSON(w, http.StatusOK, market)
}

// GetPool returns the liquidity pool backing a market.
// GET /api/markets/{id}/pool
func (h *MarketHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	pool, err := h.markets.GetPool(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "get pool")
		return
	}

	writeJSON(w, http.StatusOK, pool)
}

// pricesResponse is the payload for the current-prices endpoint.
type pricesResponse struct {
	MarketID string  `json:"market_id"`
	Yes      float64 `json:"yes"`
	No       float64 `json:"no"`
	AsOf     string  `json:"as_of"`
}

// GetPrices returns the latest implied YES/NO prices for a market.
// GET /api/markets/{id}/prices
func (h *MarketHandler) GetPrices(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	p, err := h.prices.CurrentPrices(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "get prices")
		return
	}

	writeJSON(w, http.StatusOK, pricesResponse{
		MarketID: id,
		Yes:      p.Yes,
		No:       p.No,
		AsOf:     p.TS.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

// resolveMarketRequest is the JSON body for the resolve endpoint.
type resolveMarketRequest struct {
	Outcome domain.Outcome `json:"outcome"`
}

// ResolveMarket resolves a market to its winning outcome. The response
// includes the operator's attestation signature over the resolution.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	var req resolveMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if !req.Outcome.Valid() {
		writeError(w, http.StatusBadRequest, "outcome must be YES or NO")
		return
	}

	market, err := h.markets.Resolve(r.Context(), id, req.Outcome)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "resolve market")
		return
	}

	writeJSON(w, http.StatusOK, market)
}
