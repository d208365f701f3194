// Package postgres stores materialized ledgers in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/bank-ledger/internal/domain"
	"github.com/dvloznov/bank-ledger/internal/store"
)

// DB is the subset of *pgxpool.Pool the repository needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Repository is a Postgres-backed store.LedgerRepository.
type Repository struct {
	db DB
}

// NewRepository creates a repository over db. Amounts travel as decimal
// strings and are cast to NUMERIC in SQL, so no float conversion happens.
func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

const upsertUserSQL = `
	INSERT INTO users (id, balance, currency, transaction_count, last_updated, updated_at)
	VALUES ($1, $2::numeric, $3, $4, $5, NOW())
	ON CONFLICT (id) DO UPDATE SET
		balance = EXCLUDED.balance,
		currency = EXCLUDED.currency,
		transaction_count = EXCLUDED.transaction_count,
		last_updated = EXCLUDED.last_updated,
		updated_at = NOW()`

const deleteTransactionsSQL = `DELETE FROM transactions WHERE user_id = $1`

const insertTransactionSQL = `
	INSERT INTO transactions (
		id, user_id, account_id, amount, currency, date,
		description, status, type, provider_id, raw_payload
	) VALUES ($1, $2, $3, $4::numeric, $5, $6::date, $7, $8, $9, NULLIF($10, ''), $11::jsonb)`

// ReplaceUserLedger implements store.LedgerRepository. The user row and all of
// the user's transactions are rewritten in one database transaction.
func (r *Repository) ReplaceUserLedger(ctx context.Context, ledger domain.UserLedger, txs []domain.FinalTransaction) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ReplaceUserLedger: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, upsertUserSQL,
		ledger.UserID,
		ledger.Balance.String(),
		ledger.Currency,
		ledger.TransactionCount,
		ledger.LastUpdated,
	); err != nil {
		return fmt.Errorf("ReplaceUserLedger: upsert user %s: %w", ledger.UserID, err)
	}

	if _, err := tx.Exec(ctx, deleteTransactionsSQL, ledger.UserID); err != nil {
		return fmt.Errorf("ReplaceUserLedger: delete transactions of %s: %w", ledger.UserID, err)
	}

	if len(txs) > 0 {
		batch := &pgx.Batch{}
		for _, t := range txs {
			batch.Queue(insertTransactionSQL, transactionArgs(t)...)
		}

		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("ReplaceUserLedger: insert transaction %d: %w", i, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("ReplaceUserLedger: close batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ReplaceUserLedger: commit: %w", err)
	}
	return nil
}

// transactionArgs maps a FinalTransaction onto insertTransactionSQL's
// parameters.
func transactionArgs(t domain.FinalTransaction) []any {
	var raw any
	if len(t.Raw) > 0 {
		raw = string(t.Raw)
	}
	return []any{
		t.ID,
		t.UserID,
		t.AccountID,
		t.Amount.String(),
		t.Currency,
		t.Date.String(),
		t.Description,
		string(t.Status),
		string(t.Type),
		t.ProviderID,
		raw,
	}
}

// GetUserLedger implements store.LedgerRepository.
func (r *Repository) GetUserLedger(ctx context.Context, userID string) (*domain.UserLedger, error) {
	var (
		balance     string
		ledger      = domain.UserLedger{UserID: userID}
		lastUpdated time.Time
	)

	err := r.db.QueryRow(ctx, `
		SELECT balance::text, currency, transaction_count, last_updated
		FROM users
		WHERE id = $1`, userID,
	).Scan(&balance, &ledger.Currency, &ledger.TransactionCount, &lastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("GetUserLedger: user %s: %w", userID, domain.ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetUserLedger: query: %w", err)
	}

	ledger.Balance, err = decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("GetUserLedger: parse balance %q: %w", balance, err)
	}
	ledger.LastUpdated = lastUpdated.UTC()
	return &ledger, nil
}

// ListUserTransactions implements store.LedgerRepository.
func (r *Repository) ListUserTransactions(ctx context.Context, userID string) ([]domain.FinalTransaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, account_id, amount::text, currency, date::text,
		       description, status, type, COALESCE(provider_id, ''), raw_payload
		FROM transactions
		WHERE user_id = $1
		ORDER BY date, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("ListUserTransactions: query: %w", err)
	}
	defer rows.Close()

	var out []domain.FinalTransaction
	for rows.Next() {
		var (
			t              domain.FinalTransaction
			amount, date   string
			status, txType string
			raw            []byte
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.AccountID, &amount, &t.Currency, &date,
			&t.Description, &status, &txType, &t.ProviderID, &raw); err != nil {
			return nil, fmt.Errorf("ListUserTransactions: scan: %w", err)
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("ListUserTransactions: parse amount %q: %w", amount, err)
		}
		if t.Date, err = civil.ParseDate(date); err != nil {
			return nil, fmt.Errorf("ListUserTransactions: parse date %q: %w", date, err)
		}
		t.Status = domain.Status(status)
		t.Type = domain.TransactionType(txType)
		t.Raw = raw
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListUserTransactions: rows: %w", err)
	}

	if len(out) == 0 {
		// Distinguish a user with no transactions from an unknown user.
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("ListUserTransactions: check user: %w", err)
		}
		if !exists {
			return nil, fmt.Errorf("ListUserTransactions: user %s: %w", userID, domain.ErrUserNotFound)
		}
	}
	return out, nil
}

// Close implements store.LedgerRepository.
func (r *Repository) Close() error {
	r.db.Close()
	return nil
}

var _ store.LedgerRepository = (*Repository)(nil)
