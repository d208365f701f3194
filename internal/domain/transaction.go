package domain

import (
	"encoding/json"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Status is the settlement state of a transaction.
type Status string

const (
	StatusPending Status = "pending"
	StatusBooked  Status = "booked"
)

// TransactionType is derived from the sign of the amount.
type TransactionType string

const (
	TypeDebit  TransactionType = "debit"
	TypeCredit TransactionType = "credit"
)

// TypeForAmount returns debit for negative amounts and credit otherwise.
func TypeForAmount(amount decimal.Decimal) TransactionType {
	if amount.IsNegative() {
		return TypeDebit
	}
	return TypeCredit
}

// NormalizedTransaction is one provider entry after parsing. It is the
// Reconciler's input and carries no identity of its own.
type NormalizedTransaction struct {
	ProviderID           string          // transactionId or internalTransactionId, may be empty
	AccountID            string          // owning provider account
	Amount               decimal.Decimal // exact, negative for money out
	Currency             string          // upper-case ISO code, may be empty
	BookingDate          civil.Date      // calendar date, no time of day
	Description          string          // whitespace-normalized free text
	Status               Status          // which list the entry came from
	MerchantCategoryCode string          // optional
	FetchedAt            time.Time       // createdAt of the owning RawRecord
	Raw                  json.RawMessage // entry as received
}

// FinalTransaction is the canonical, deduplicated transaction served to users.
type FinalTransaction struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	AccountID   string          `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Date        civil.Date      `json:"date"`
	Description string          `json:"description"`
	Status      Status          `json:"status"`
	Type        TransactionType `json:"type"`
	ProviderID  string          `json:"provider_id,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// UserLedger is the per-user aggregate. It is always recomputed from the
// user's full set of FinalTransactions.
type UserLedger struct {
	UserID           string          `json:"user_id"`
	Balance          decimal.Decimal `json:"balance"`
	Currency         string          `json:"currency"`
	TransactionCount int             `json:"transaction_count"`
	LastUpdated      time.Time       `json:"last_updated"`
}

// UserIDForAccount maps a provider account to the user that owns it.
// Each provider account is addressed as its own user.
func UserIDForAccount(accountID string) string {
	return accountID
}
