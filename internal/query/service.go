// Package query serves materialized ledgers. It never reconciles on the
// request path.
package query

import (
	"context"
	"fmt"

	"github.com/dvloznov/bank-ledger/internal/domain"
	"github.com/dvloznov/bank-ledger/internal/pipeline"
	"github.com/dvloznov/bank-ledger/internal/store"
)

// Service answers per-user transaction and balance queries.
type Service struct {
	repo store.LedgerRepository
}

// NewService creates a query service over repo.
func NewService(repo store.LedgerRepository) *Service {
	return &Service{repo: repo}
}

// ListTransactions returns the user's transactions sorted by date ascending,
// ties broken by id. Unknown users yield domain.ErrUserNotFound.
func (s *Service) ListTransactions(ctx context.Context, userID string) ([]domain.FinalTransaction, error) {
	txs, err := s.repo.ListUserTransactions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ListTransactions: %w", err)
	}
	pipeline.SortTransactions(txs)
	return txs, nil
}

// GetBalance returns the user's ledger. Unknown users yield
// domain.ErrUserNotFound.
func (s *Service) GetBalance(ctx context.Context, userID string) (*domain.UserLedger, error) {
	ledger, err := s.repo.GetUserLedger(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("GetBalance: %w", err)
	}
	return ledger, nil
}
