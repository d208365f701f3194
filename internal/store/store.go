// Package store defines where materialized ledgers live. Backends live in
// the sub-packages.
package store

import (
	"context"

	"github.com/dvloznov/bank-ledger/internal/domain"
)

// LedgerRepository persists each user's FinalTransactions together with the
// UserLedger derived from them.
type LedgerRepository interface {
	// ReplaceUserLedger atomically replaces everything stored for
	// ledger.UserID. Readers observe either the old or the new state.
	ReplaceUserLedger(ctx context.Context, ledger domain.UserLedger, txs []domain.FinalTransaction) error

	// GetUserLedger returns domain.ErrUserNotFound for unknown users.
	GetUserLedger(ctx context.Context, userID string) (*domain.UserLedger, error)

	// ListUserTransactions returns the user's transactions ordered by date
	// then id, or domain.ErrUserNotFound.
	ListUserTransactions(ctx context.Context, userID string) ([]domain.FinalTransaction, error)

	// Close releases backend resources.
	Close() error
}
