package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"

	"cardledger/internal/core"
	"cardledger/internal/log"
	"cardledger/internal/middleware/trace"
)

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// validationErrors are caller mistakes reported as 422.
var validationErrors = []error{
	core.ErrInvalidAmount,
	core.ErrInvalidDate,
	core.ErrInvalidKind,
	core.ErrInvalidCurrency,
	core.ErrEmptyName,
	core.ErrMissingCard,
	core.ErrMissingDebtRef,
	core.ErrUnexpectedLink,
	core.ErrMissingUser,
	core.ErrStatementOnCard,
	core.ErrNameTooLong,
	core.ErrNoteTooLong,
	core.ErrNegativeAmount,
	core.ErrNonPositiveValue,
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	for _, v := range validationErrors {
		if errors.Is(err, v) {
			return http.StatusUnprocessableEntity
		}
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, RequestID: trace.FromRequest(r)})
}

// fail maps err to a status. Server-side failures are logged and their text
// is not sent to the caller.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "Request failed",
			log.NewFields().
				WithRequestID(trace.FromRequest(r)).
				WithOperation(op).
				WithError(err).
				ToSlice()...)
		writeError(w, r, status, http.StatusText(status))
		return
	}
	writeError(w, r, status, err.Error())
}

func (m *appMetrics) countRequest(method string) {
	atomic.AddInt64(&m.requests, 1)
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete:
		atomic.AddInt64(&m.writes, 1)
	}
}
