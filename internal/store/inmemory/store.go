package inmemory

import (
	"context"
	"fmt"
	"sync"

	"github.com/dvloznov/bank-ledger/internal/domain"
	"github.com/dvloznov/bank-ledger/internal/store"
)

type snapshot struct {
	ledger domain.UserLedger
	txs    []domain.FinalTransaction
}

// Store is an in-memory LedgerRepository. Each user's state is an immutable
// snapshot replaced as a whole, so readers never see a half-written ledger.
// Data is lost on restart.
type Store struct {
	mu    sync.RWMutex
	users map[string]*snapshot
}

// NewStore creates an empty in-memory ledger store.
func NewStore() *Store {
	return &Store{
		users: make(map[string]*snapshot),
	}
}

// ReplaceUserLedger implements store.LedgerRepository.
func (s *Store) ReplaceUserLedger(ctx context.Context, ledger domain.UserLedger, txs []domain.FinalTransaction) error {
	if ledger.UserID == "" {
		return fmt.Errorf("ReplaceUserLedger: user ID is required")
	}

	// Copy before taking the lock; the caller keeps ownership of txs.
	snap := &snapshot{
		ledger: ledger,
		txs:    append([]domain.FinalTransaction(nil), txs...),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	s.users[ledger.UserID] = snap
	return nil
}

// GetUserLedger implements store.LedgerRepository.
func (s *Store) GetUserLedger(ctx context.Context, userID string) (*domain.UserLedger, error) {
	snap, err := s.get(userID)
	if err != nil {
		return nil, err
	}
	ledger := snap.ledger
	return &ledger, nil
}

// ListUserTransactions implements store.LedgerRepository.
func (s *Store) ListUserTransactions(ctx context.Context, userID string) ([]domain.FinalTransaction, error) {
	snap, err := s.get(userID)
	if err != nil {
		return nil, err
	}
	return append([]domain.FinalTransaction(nil), snap.txs...), nil
}

// Users returns the ids of all users with a materialized ledger.
func (s *Store) Users() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	return ids
}

// Close implements store.LedgerRepository.
func (s *Store) Close() error {
	return nil
}

func (s *Store) get(userID string) (*snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, domain.ErrUserNotFound)
	}
	return snap, nil
}

var _ store.LedgerRepository = (*Store)(nil)
