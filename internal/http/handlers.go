package http

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"cardledger/internal/balance"
	"cardledger/internal/core"
	"cardledger/internal/log"
	"cardledger/internal/services"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": s.now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.metrics.uptime).Round(time.Second).String(),
	})
}

// handleReady checks that the ledger backend answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, code := "ready", http.StatusOK
	checks := map[string]any{}
	if err := s.ledger.Ready(ctx, s.user(r)); err != nil {
		checks["ledger"] = fmt.Sprintf("failed: %v", err)
		status, code = "not_ready", http.StatusServiceUnavailable
	} else {
		checks["ledger"] = "ok"
	}
	checks["dashboard_cache"] = s.ledger.CacheStats()
	writeJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": s.now().UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}

// handleMetrics writes counters in plain text, one per line.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	rl := s.rateLimiter.GetMetrics()
	sec := s.detector.GetMetrics()
	cs := s.ledger.CacheStats()

	fmt.Fprintf(w, "cardledger_uptime_seconds %d\n", int64(time.Since(s.metrics.uptime).Seconds()))
	fmt.Fprintf(w, "cardledger_requests_total %d\n", atomic.LoadInt64(&s.metrics.requests))
	fmt.Fprintf(w, "cardledger_write_requests_total %d\n", atomic.LoadInt64(&s.metrics.writes))
	fmt.Fprintf(w, "cardledger_rate_limited_total %d\n", rl.RejectedRequests)
	fmt.Fprintf(w, "cardledger_rate_limit_clients %d\n", rl.ClientCount)
	fmt.Fprintf(w, "cardledger_suspicious_requests_total %d\n", sec.SuspiciousRequests)
	fmt.Fprintf(w, "cardledger_dashboard_cache_entries %d\n", cs.Size)
	fmt.Fprintf(w, "cardledger_dashboard_cache_hits_total %d\n", cs.Hits)
	fmt.Fprintf(w, "cardledger_dashboard_cache_misses_total %d\n", cs.Misses)
}

// Reads

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	asOf, err := s.parseAsOf(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	d, err := s.ledger.Dashboard(r.Context(), s.user(r), asOf)
	if err != nil {
		s.fail(w, r, log.OpReport, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type dueResponse struct {
	AsOf  string            `json:"as_of"`
	Items []balance.DueItem `json:"items"`
}

func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	s.handleDue(w, r, s.ledger.UpcomingDue)
}

func (s *Server) handleOverdue(w http.ResponseWriter, r *http.Request) {
	s.handleDue(w, r, s.ledger.Overdue)
}

func (s *Server) handleDue(w http.ResponseWriter, r *http.Request, list func(context.Context, string, core.Date) ([]balance.DueItem, error)) {
	asOf, err := s.parseAsOf(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	items, err := list(r.Context(), s.user(r), asOf)
	if err != nil {
		s.fail(w, r, log.OpReport, err)
		return
	}
	writeJSON(w, http.StatusOK, dueResponse{AsOf: asOf.String(), Items: items})
}

func (s *Server) handleListCards(w http.ResponseWriter, r *http.Request) {
	cards, err := s.ledger.ListCards(r.Context(), s.user(r))
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cards": cards})
}

// Writes

// handleSaveCard creates a card on POST and replaces one on PUT.
func (s *Server) handleSaveCard(w http.ResponseWriter, r *http.Request) {
	var in services.CardInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	status := http.StatusCreated
	if id := r.PathValue("id"); id != "" {
		in.ID = id
		status = http.StatusOK
	} else {
		in.ID = ""
	}
	c, err := s.ledger.SaveCard(r.Context(), s.user(r), in)
	if err != nil {
		s.fail(w, r, log.OpCreate, err)
		return
	}
	writeJSON(w, status, c)
}

func (s *Server) handleDeleteCard(w http.ResponseWriter, r *http.Request) {
	s.handleDelete(w, r, s.ledger.DeleteCard)
}

func (s *Server) handleRecordStatement(w http.ResponseWriter, r *http.Request) {
	var in services.StatementInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	st, err := s.ledger.RecordStatement(r.Context(), s.user(r), in)
	if err != nil {
		s.fail(w, r, log.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDeleteStatement(w http.ResponseWriter, r *http.Request) {
	s.handleDelete(w, r, s.ledger.DeleteStatement)
}

func (s *Server) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	var in services.PaymentInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.ledger.RecordPayment(r.Context(), s.user(r), in)
	if err != nil {
		s.fail(w, r, log.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type relinkRequest struct {
	StatementID string `json:"statement_id"`
}

// handleRelinkPayment moves a payment to another statement. An empty
// statement_id unlinks it.
func (s *Server) handleRelinkPayment(w http.ResponseWriter, r *http.Request) {
	var in relinkRequest
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.ledger.RelinkPayment(r.Context(), s.user(r), r.PathValue("id"), in.StatementID)
	if err != nil {
		s.fail(w, r, log.OpRelink, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePayment(w http.ResponseWriter, r *http.Request) {
	s.handleDelete(w, r, s.ledger.DeletePayment)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, del func(context.Context, string, string) error) {
	if err := del(r.Context(), s.user(r), r.PathValue("id")); err != nil {
		s.fail(w, r, log.OpDelete, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
