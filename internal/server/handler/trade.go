package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/forecasthq/marketd/internal/domain"
	"github.com/forecasthq/marketd/internal/service"
)

// TradeService defines the methods that the trade handler requires from the
// service layer.
type TradeService interface {
	Quote(ctx context.Context, marketID string, outcome domain.Outcome, side domain.TradeSide, quantity float64) (domain.Quote, error)
	Execute(ctx context.Context, req service.TradeRequest) (domain.SettlementResult, error)
	GetTrade(ctx context.Context, id string) (domain.Trade, error)
	ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error)
	ListByWallet(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.Trade, error)
}

// TradeHandler serves quote and trade HTTP endpoints.
type TradeHandler struct {
	trades TradeService
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler with the given service and logger.
func NewTradeHandler(trades TradeService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		trades: trades,
		logger: logger,
	}
}

// quoteRequest is the JSON body for the quote endpoint.
type quoteRequest struct {
	MarketID string           `json:"market_id"`
	Outcome  domain.Outcome   `json:"outcome"`
	Side     domain.TradeSide `json:"side"`
	Quantity float64          `json:"quantity"`
}

// Quote prices a hypothetical trade against the current pool without
// executing it.
// POST /api/quotes
func (h *TradeHandler) Quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.MarketID == "" {
		writeError(w, http.StatusBadRequest, "market_id is required")
		return
	}
	if !req.Outcome.Valid() {
		writeError(w, http.StatusBadRequest, "outcome must be YES or NO")
		return
	}
	if !req.Side.Valid() {
		writeError(w, http.StatusBadRequest, "side must be BUY or SELL")
		return
	}

	quote, err := h.trades.Quote(r.Context(), req.MarketID, req.Outcome, req.Side, req.Quantity)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "quote trade")
		return
	}

	writeJSON(w, http.StatusOK, quote)
}

// ExecuteTrade settles a signed trade: the request's signature must recover
// to the submitting wallet and the tx_hash must not have been seen before.
// POST /api/trades
func (h *TradeHandler) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req service.TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.MarketID == "" {
		writeError(w, http.StatusBadRequest, "market_id is required")
		return
	}

	result, err := h.trades.Execute(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "execute trade")
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// GetTrade returns a single trade by its ID.
// GET /api/trades/{id}
func (h *TradeHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing trade id")
		return
	}

	trade, err := h.trades.GetTrade(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "get trade")
		return
	}

	writeJSON(w, http.StatusOK, trade)
}

// listTradesResponse wraps the list trades response.
type listTradesResponse struct {
	Trades []domain.Trade `json:"trades"`
}

// ListTrades returns trades for a wallet or a market, newest first.
// GET /api/trades?wallet=0x...&market_id=...&limit=50&offset=0
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	wallet := q.Get("wallet")
	marketID := q.Get("market_id")

	if wallet == "" && marketID == "" {
		writeError(w, http.StatusBadRequest, "wallet or market_id query parameter required")
		return
	}

	opts := parseListOpts(r)

	var trades []domain.Trade
	var err error
	if marketID != "" {
		trades, err = h.trades.ListByMarket(r.Context(), marketID, opts)
	} else {
		trades, err = h.trades.ListByWallet(r.Context(), wallet, opts)
	}
	if err != nil {
		writeDomainError(w, r, h.logger, err, "list trades")
		return
	}

	if trades == nil {
		trades = []domain.Trade{}
	}

	writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades})
}
