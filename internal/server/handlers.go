package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/jihoon/wonfolio/internal/domain"
	"github.com/jihoon/wonfolio/internal/modules/ledger"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusForError maps domain errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidOrder):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrPositionNotFound), errors.Is(err, domain.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientQuantity), errors.Is(err, domain.ErrRefreshInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("Request failed")
		http.Error(w, "Internal server error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

// handleBuy handles POST /api/portfolio/buy
func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	var order ledger.BuyOrder
	if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	position, err := s.ledger.Buy(r.Context(), order)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, position)
}

// handleSell handles POST /api/portfolio/sell
func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	var order ledger.SellOrder
	if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.ledger.Sell(r.Context(), order)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleValuation handles GET /api/portfolio/{userID}/valuation
func (s *Server) handleValuation(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	if r.URL.Query().Get("refresh") == "true" {
		if err := s.valuation.RevalueUser(r.Context(), userID); err != nil {
			s.writeError(w, err)
			return
		}
	}

	valuation, err := s.valuation.GetValuation(userID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, valuation)
}

// handleRisk handles GET /api/portfolio/{userID}/risk
func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	report, err := s.risk.Analyze(userID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// handleTransactions handles GET /api/portfolio/{userID}/transactions
func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l < 1 || l > 10000 {
			http.Error(w, "Invalid limit. Must be 1-10000", http.StatusBadRequest)
			return
		}
		limit = l
	}

	transactions, err := s.ledger.Transactions(userID, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, transactions)
}

// handleHistory handles GET /api/portfolio/{userID}/history
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	days := 0
	if daysStr := r.URL.Query().Get("days"); daysStr != "" {
		d, err := strconv.Atoi(daysStr)
		if err != nil || d < 1 || d > 3650 {
			http.Error(w, "Invalid days. Must be 1-3650", http.StatusBadRequest)
			return
		}
		days = d
	}

	history, err := s.recorder.History(userID, days)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, history)
}

// handleAnalytics handles GET /api/portfolio/{userID}/analytics
func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	days := 0
	if daysStr := r.URL.Query().Get("days"); daysStr != "" {
		d, err := strconv.Atoi(daysStr)
		if err != nil || d < 2 || d > 3650 {
			http.Error(w, "Invalid days. Must be 2-3650", http.StatusBadRequest)
			return
		}
		days = d
	}

	report, err := s.recorder.Analytics(userID, days)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// handlePatchPosition handles PATCH /api/portfolio/{userID}/positions/{account}/{symbol}
func (s *Server) handlePatchPosition(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	account := chi.URLParam(r, "account")
	symbol := chi.URLParam(r, "symbol")

	var patch ledger.PositionPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.ledger.UpdatePosition(userID, account, symbol, patch); err != nil {
		s.writeError(w, err)
		return
	}

	position, err := s.ledger.Position(userID, account, symbol)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, position)
}

// handleRefresh handles POST /api/refresh. An empty user_id refreshes everyone.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	if err := s.coordinator.RefreshAll(r.Context(), req.UserID); err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":  "Refresh completed",
		"last_run": s.coordinator.LastRun(),
	})
}
