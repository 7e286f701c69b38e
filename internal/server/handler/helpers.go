package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/forecasthq/marketd/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps a domain sentinel error to an HTTP status and writes
// it. Unrecognised errors are logged and surfaced as a generic 500 so
// internal details never leak to clients.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, op string) {
	if status, ok := statusForError(err); ok {
		writeError(w, status, err.Error())
		return
	}
	logger.ErrorContext(r.Context(), "handler: "+op+" failed",
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, "failed to "+op)
}

// statusForError returns the HTTP status for a known domain error.
func statusForError(err error) (int, bool) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, true
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict, true
	case errors.Is(err, domain.ErrMarketClosed),
		errors.Is(err, domain.ErrStaleVersion),
		errors.Is(err, domain.ErrLockHeld):
		return http.StatusConflict, true
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, true
	case errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusUnauthorized, true
	case errors.Is(err, domain.ErrInsufficientPosition):
		return http.StatusUnprocessableEntity, true
	case errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrWalletNotConnected),
		errors.Is(err, domain.ErrInsufficientReserve),
		errors.Is(err, domain.ErrDepletedReserve):
		return http.StatusBadRequest, true
	}
	return 0, false
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0. Optional since/until bounds are
// parsed as RFC 3339 timestamps.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}

	if v := q.Get("since"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			opts.Since = &ts
		}
	}
	if v := q.Get("until"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			opts.Until = &ts
		}
	}

	return opts
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
