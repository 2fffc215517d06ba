package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jihoon/wonfolio/internal/modules/savings"
)

// handleCreateSavings handles POST /api/savings
func (s *Server) handleCreateSavings(w http.ResponseWriter, r *http.Request) {
	var req savings.CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	account, err := s.savings.CreateAccount(req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, account)
}

// handleListSavings handles GET /api/savings/user/{userID}
func (s *Server) handleListSavings(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	accounts, err := s.savings.Accounts(userID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, accounts)
}

// handleGetSavings handles GET /api/savings/{userID}/{accountID}
func (s *Server) handleGetSavings(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	accountID := chi.URLParam(r, "accountID")

	account, err := s.savings.Account(accountID, userID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, account)
}

// handlePatchSavings handles PATCH /api/savings/{userID}/{accountID}
func (s *Server) handlePatchSavings(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	accountID := chi.URLParam(r, "accountID")

	var patch savings.AccountPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	account, err := s.savings.UpdateAccount(accountID, userID, patch)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, account)
}

// handleDeleteSavings handles DELETE /api/savings/{userID}/{accountID}
func (s *Server) handleDeleteSavings(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	accountID := chi.URLParam(r, "accountID")

	if err := s.savings.DeleteAccount(accountID, userID); err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Account deleted"})
}

type savingsTransactionRequest struct {
	Date   string  `json:"date"`
	Amount float64 `json:"amount"`
	Memo   string  `json:"memo"`
}

// handleSavingsDeposit handles POST /api/savings/{userID}/{accountID}/deposit
func (s *Server) handleSavingsDeposit(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	accountID := chi.URLParam(r, "accountID")

	var req savingsTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	txn, err := s.savings.Deposit(accountID, userID, req.Date, req.Amount, req.Memo)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, txn)
}

// handleSavingsWithdrawal handles POST /api/savings/{userID}/{accountID}/withdraw
func (s *Server) handleSavingsWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	accountID := chi.URLParam(r, "accountID")

	var req savingsTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	txn, err := s.savings.Withdraw(accountID, userID, req.Date, req.Amount, req.Memo)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, txn)
}

// handleSavingsTransactions handles GET /api/savings/{userID}/{accountID}/transactions
func (s *Server) handleSavingsTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	accountID := chi.URLParam(r, "accountID")

	transactions, err := s.savings.Transactions(accountID, userID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, transactions)
}

// handleSavingsProjection handles GET /api/savings/{userID}/{accountID}/projection
func (s *Server) handleSavingsProjection(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	accountID := chi.URLParam(r, "accountID")

	asOf := time.Now()
	if asOfStr := r.URL.Query().Get("as_of"); asOfStr != "" {
		parsed, err := time.Parse("2006-01-02", asOfStr)
		if err != nil {
			http.Error(w, "Invalid as_of date. Use YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		asOf = parsed
	}

	projection, err := s.savings.Projection(accountID, userID, asOf)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, projection)
}
