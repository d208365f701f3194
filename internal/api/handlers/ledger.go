// Package handlers implements the HTTP endpoints of the ledger service.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/bank-ledger/internal/api/middleware"
	"github.com/dvloznov/bank-ledger/internal/domain"
)

// LedgerQuerier is the read side used by UsersHandler. *query.Service
// implements it.
type LedgerQuerier interface {
	ListTransactions(ctx context.Context, userID string) ([]domain.FinalTransaction, error)
	GetBalance(ctx context.Context, userID string) (*domain.UserLedger, error)
}

// TransactionResponse is one transaction as served to clients.
type TransactionResponse struct {
	ID          string      `json:"id"`
	Amount      json.Number `json:"amount"`
	Currency    string      `json:"currency"`
	Date        string      `json:"date"`
	Description string      `json:"description"`
	Status      string      `json:"status"`
	Type        string      `json:"type"`
}

// TransactionsResponse is the body of GET /users/{userId}/transactions.
type TransactionsResponse struct {
	UserID       string                `json:"user_id"`
	Transactions []TransactionResponse `json:"transactions"`
	Count        int                   `json:"count"`
}

// BalanceResponse is the body of GET /users/{userId}/balance.
type BalanceResponse struct {
	UserID           string      `json:"user_id"`
	Balance          json.Number `json:"balance"`
	Currency         string      `json:"currency"`
	TransactionCount int         `json:"transaction_count"`
	LastUpdated      string      `json:"last_updated"`
}

// UsersHandler serves per-user ledger reads.
type UsersHandler struct {
	query LedgerQuerier
	log   zerolog.Logger
}

// NewUsersHandler creates a new users handler.
func NewUsersHandler(query LedgerQuerier, log zerolog.Logger) *UsersHandler {
	return &UsersHandler{query: query, log: log}
}

// ListTransactions handles GET /users/{userId}/transactions
func (h *UsersHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	txs, err := h.query.ListTransactions(r.Context(), userID)
	if err != nil {
		h.writeQueryError(w, err, userID, "Failed to list transactions")
		return
	}

	resp := TransactionsResponse{
		UserID:       userID,
		Transactions: make([]TransactionResponse, 0, len(txs)),
		Count:        len(txs),
	}
	for _, t := range txs {
		resp.Transactions = append(resp.Transactions, TransactionResponse{
			ID:          t.ID,
			Amount:      FormatAmount(t.Amount),
			Currency:    t.Currency,
			Date:        t.Date.String(),
			Description: t.Description,
			Status:      string(t.Status),
			Type:        string(t.Type),
		})
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// GetBalance handles GET /users/{userId}/balance
func (h *UsersHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	ledger, err := h.query.GetBalance(r.Context(), userID)
	if err != nil {
		h.writeQueryError(w, err, userID, "Failed to get balance")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, BalanceResponse{
		UserID:           ledger.UserID,
		Balance:          FormatAmount(ledger.Balance),
		Currency:         ledger.Currency,
		TransactionCount: ledger.TransactionCount,
		LastUpdated:      ledger.LastUpdated.UTC().Format(time.RFC3339),
	})
}

func (h *UsersHandler) writeQueryError(w http.ResponseWriter, err error, userID, msg string) {
	if errors.Is(err, domain.ErrUserNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "User not found: "+userID)
		return
	}
	h.log.Error().Err(err).Str("user_id", userID).Msg(msg)
	middleware.WriteError(w, http.StatusInternalServerError, msg)
}

// FormatAmount renders d as a JSON number with at least two fraction
// digits, keeping any further precision the amount carries.
func FormatAmount(d decimal.Decimal) json.Number {
	if d.Round(2).Equal(d) {
		return json.Number(d.StringFixed(2))
	}
	return json.Number(d.String())
}
