package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rickgao/crypto-market-server/internal/exchange"
	"github.com/rickgao/crypto-market-server/internal/latest"
	"github.com/rickgao/crypto-market-server/internal/model"
)

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// statusFor maps a service error to an HTTP status code.
func statusFor(err error) int {
	var apiErr *exchange.APIError
	switch {
	case errors.Is(err, exchange.ErrNotFound),
		errors.Is(err, exchange.ErrExchangeNotSupported),
		errors.Is(err, latest.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidRequest),
		errors.Is(err, model.ErrUnsupportedTimeframe),
		errors.Is(err, model.ErrInvalidSymbol):
		return http.StatusBadRequest
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err as an ErrorResponse with the mapped status.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	s.writeErrorStatus(w, status, err.Error())
}

func (s *Server) writeErrorStatus(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Timestamp: s.now().UTC(),
	})
}

// writeJSON writes v as the response body. The status line is already sent
// when encoding fails, so the error is only logged.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("encode response failed", "status", status, "error", err)
	}
}
