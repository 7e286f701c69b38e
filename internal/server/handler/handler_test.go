package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/forecasthq/marketd/internal/domain"
	"github.com/forecasthq/marketd/internal/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMarketService struct {
	market domain.Market
	pool   domain.LiquidityPool
	err    error
}

func (f *fakeMarketService) Create(_ context.Context, req service.CreateMarketRequest) (domain.Market, error) {
	if f.err != nil {
		return domain.Market{}, f.err
	}
	m := f.market
	m.Title = req.Title
	return m, nil
}

func (f *fakeMarketService) Get(_ context.Context, id string) (domain.Market, error) {
	if f.err != nil {
		return domain.Market{}, f.err
	}
	if id != f.market.ID {
		return domain.Market{}, domain.ErrNotFound
	}
	return f.market, nil
}

func (f *fakeMarketService) GetPool(_ context.Context, marketID string) (domain.LiquidityPool, error) {
	if marketID != f.pool.MarketID {
		return domain.LiquidityPool{}, domain.ErrNotFound
	}
	return f.pool, nil
}

func (f *fakeMarketService) List(context.Context, domain.MarketStatus, string, domain.ListOpts) ([]domain.Market, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []domain.Market{f.market}, nil
}

func (f *fakeMarketService) Count(context.Context) (int64, error) { return 1, nil }

func (f *fakeMarketService) Resolve(_ context.Context, id string, outcome domain.Outcome) (domain.Market, error) {
	if f.err != nil {
		return domain.Market{}, f.err
	}
	m := f.market
	m.Status = domain.MarketStatusResolved
	m.Resolution = &outcome
	m.Attestation = "0xattested"
	return m, nil
}

type fakePriceService struct {
	point domain.PricePoint
	err   error
}

func (f *fakePriceService) CurrentPrices(context.Context, string) (domain.PricePoint, error) {
	return f.point, f.err
}

func testMarket() domain.Market {
	return domain.Market{
		ID:        "mkt-1",
		Title:     "Will it rain tomorrow?",
		Category:  "weather",
		Status:    domain.MarketStatusActive,
		YesPrice:  0.5,
		NoPrice:   0.5,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}
}

func newMarketMux(svc *fakeMarketService, prices *fakePriceService) *http.ServeMux {
	h := NewMarketHandler(svc, prices, discardLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/markets", h.CreateMarket)
	mux.HandleFunc("GET /api/markets", h.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", h.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/pool", h.GetPool)
	mux.HandleFunc("GET /api/markets/{id}/prices", h.GetPrices)
	mux.HandleFunc("POST /api/markets/{id}/resolve", h.ResolveMarket)
	return mux
}

func TestGetMarket(t *testing.T) {
	mux := newMarketMux(&fakeMarketService{market: testMarket()}, &fakePriceService{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets/mkt-1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}
	var got domain.Market
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if got.ID != "mkt-1" || got.YesPrice != 0.5 {
		t.Errorf("market = %+v", got)
	}
}

func TestGetMarketNotFound(t *testing.T) {
	mux := newMarketMux(&fakeMarketService{market: testMarket()}, &fakePriceService{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets/nope", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestCreateMarketRejectsBadBody(t *testing.T) {
	mux := newMarketMux(&fakeMarketService{market: testMarket()}, &fakePriceService{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/markets", strings.NewReader("{not json")))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestResolveMarketRejectsUnknownOutcome(t *testing.T) {
	mux := newMarketMux(&fakeMarketService{market: testMarket()}, &fakePriceService{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/markets/mkt-1/resolve",
		strings.NewReader(`{"outcome":"MAYBE"}`)))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestResolveMarketReturnsAttestation(t *testing.T) {
	mux := newMarketMux(&fakeMarketService{market: testMarket()}, &fakePriceService{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/markets/mkt-1/resolve",
		strings.NewReader(`{"outcome":"YES"}`)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}
	var got domain.Market
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if got.Status != domain.MarketStatusResolved || got.Attestation == "" {
		t.Errorf("resolved market = %+v", got)
	}
}

func TestGetPrices(t *testing.T) {
	prices := &fakePriceService{point: domain.PricePoint{Yes: 0.62, No: 0.38, TS: time.Now()}}
	mux := newMarketMux(&fakeMarketService{market: testMarket(), pool: domain.LiquidityPool{MarketID: "mkt-1"}}, prices)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets/mkt-1/prices", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got pricesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if got.Yes != 0.62 || got.No != 0.38 || got.MarketID != "mkt-1" {
		t.Errorf("prices = %+v", got)
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrAlreadyExists, http.StatusConflict},
		{domain.ErrMarketClosed, http.StatusConflict},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{domain.ErrInvalidSignature, http.StatusUnauthorized},
		{domain.ErrInsufficientPosition, http.StatusUnprocessableEntity},
		{domain.ErrInvalidQuantity, http.StatusBadRequest},
		{domain.ErrWalletNotConnected, http.StatusBadRequest},
	}
	for _, tt := range tests {
		status, ok := statusForError(tt.err)
		if !ok || status != tt.status {
			t.Errorf("statusForError(%v) = %d,%v, want %d", tt.err, status, ok, tt.status)
		}
	}
	if _, ok := statusForError(io.ErrUnexpectedEOF); ok {
		t.Error("unknown error should not map to a status")
	}
}

func TestParseListOpts(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/trades?limit=900&offset=20&since=2026-01-01T00:00:00Z", nil)
	opts := parseListOpts(r)

	if opts.Limit != 500 {
		t.Errorf("limit = %d, want clamp to 500", opts.Limit)
	}
	if opts.Offset != 20 {
		t.Errorf("offset = %d, want 20", opts.Offset)
	}
	if opts.Since == nil || opts.Since.Year() != 2026 {
		t.Errorf("since = %v", opts.Since)
	}
}
