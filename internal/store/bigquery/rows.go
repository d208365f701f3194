package bigquery

import (
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/bank-ledger/internal/domain"
)

// numericScale is the number of fraction digits BigQuery NUMERIC keeps.
const numericScale = 9

// TransactionRow is one row of the transactions table.
type TransactionRow struct {
	TransactionID   string              `bigquery:"transaction_id"`
	UserID          string              `bigquery:"user_id"`
	AccountID       string              `bigquery:"account_id"`
	Amount          *big.Rat            `bigquery:"amount"` // NUMERIC
	Currency        string              `bigquery:"currency"`
	TransactionDate civil.Date          `bigquery:"transaction_date"`
	Description     string              `bigquery:"description"`
	Status          string              `bigquery:"status"`
	Type            string              `bigquery:"type"`
	ProviderID      bigquery.NullString `bigquery:"provider_id"`
	RawPayload      bigquery.NullString `bigquery:"raw_payload"`
}

// UserRow is one row of the users table.
type UserRow struct {
	UserID           string    `bigquery:"user_id"`
	Balance          *big.Rat  `bigquery:"balance"` // NUMERIC
	Currency         string    `bigquery:"currency"`
	TransactionCount int64     `bigquery:"transaction_count"`
	LastUpdated      time.Time `bigquery:"last_updated"`
}

// transactionParam is the element type of the @rows array parameter.
// Optional columns are sent as empty strings and turned into NULL in SQL.
type transactionParam struct {
	TransactionID   string     `bigquery:"transaction_id"`
	UserID          string     `bigquery:"user_id"`
	AccountID       string     `bigquery:"account_id"`
	Amount          *big.Rat   `bigquery:"amount"`
	Currency        string     `bigquery:"currency"`
	TransactionDate civil.Date `bigquery:"transaction_date"`
	Description     string     `bigquery:"description"`
	Status          string     `bigquery:"status"`
	Type            string     `bigquery:"type"`
	ProviderID      string     `bigquery:"provider_id"`
	RawPayload      string     `bigquery:"raw_payload"`
}

func toParam(t domain.FinalTransaction) transactionParam {
	return transactionParam{
		TransactionID:   t.ID,
		UserID:          t.UserID,
		AccountID:       t.AccountID,
		Amount:          t.Amount.Rat(),
		Currency:        t.Currency,
		TransactionDate: t.Date,
		Description:     t.Description,
		Status:          string(t.Status),
		Type:            string(t.Type),
		ProviderID:      t.ProviderID,
		RawPayload:      string(t.Raw),
	}
}

func (r *TransactionRow) toDomain() (domain.FinalTransaction, error) {
	amount, err := ratToDecimal(r.Amount)
	if err != nil {
		return domain.FinalTransaction{}, fmt.Errorf("transaction %s: %w", r.TransactionID, err)
	}
	t := domain.FinalTransaction{
		ID:          r.TransactionID,
		UserID:      r.UserID,
		AccountID:   r.AccountID,
		Amount:      amount,
		Currency:    r.Currency,
		Date:        r.TransactionDate,
		Description: r.Description,
		Status:      domain.Status(r.Status),
		Type:        domain.TransactionType(r.Type),
		ProviderID:  r.ProviderID.StringVal,
	}
	if r.RawPayload.Valid && r.RawPayload.StringVal != "" {
		t.Raw = []byte(r.RawPayload.StringVal)
	}
	return t, nil
}

func (r *UserRow) toDomain() (*domain.UserLedger, error) {
	balance, err := ratToDecimal(r.Balance)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", r.UserID, err)
	}
	return &domain.UserLedger{
		UserID:           r.UserID,
		Balance:          balance,
		Currency:         r.Currency,
		TransactionCount: int(r.TransactionCount),
		LastUpdated:      r.LastUpdated.UTC(),
	}, nil
}

func ratToDecimal(r *big.Rat) (decimal.Decimal, error) {
	if r == nil {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(r.FloatString(numericScale))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse numeric %s: %w", r.String(), err)
	}
	return d, nil
}
