// Package bigquery stores materialized ledgers in BigQuery.
package bigquery

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/bank-ledger/internal/domain"
	"github.com/dvloznov/bank-ledger/internal/store"
)

const (
	usersTable        = "users"
	transactionsTable = "transactions"
)

// Repository is a BigQuery-backed store.LedgerRepository. It holds a shared
// client for all operations.
type Repository struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

// NewRepository creates a BigQuery client for projectID and a repository
// over datasetID.
func NewRepository(ctx context.Context, projectID, datasetID string) (*Repository, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewRepository: creating client: %w", err)
	}
	return NewRepositoryWithClient(client, projectID, datasetID), nil
}

// NewRepositoryWithClient creates a repository over an existing client.
func NewRepositoryWithClient(client *bigquery.Client, projectID, datasetID string) *Repository {
	return &Repository{client: client, projectID: projectID, datasetID: datasetID}
}

// Close closes the BigQuery client connection.
func (r *Repository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *Repository) table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", r.projectID, r.datasetID, name)
}

// replaceScript rewrites one user inside a single multi-statement
// transaction, so readers see either the old or the new ledger.
func (r *Repository) replaceScript() string {
	return strings.NewReplacer(
		"{{USERS}}", r.table(usersTable),
		"{{TRANSACTIONS}}", r.table(transactionsTable),
	).Replace(`
		BEGIN TRANSACTION;

		DELETE FROM {{TRANSACTIONS}} WHERE user_id = @user_id;

		INSERT INTO {{TRANSACTIONS}} (
			transaction_id, user_id, account_id, amount, currency, transaction_date,
			description, status, type, provider_id, raw_payload
		)
		SELECT
			r.transaction_id, r.user_id, r.account_id, r.amount, r.currency, r.transaction_date,
			r.description, r.status, r.type, NULLIF(r.provider_id, ''), NULLIF(r.raw_payload, '')
		FROM UNNEST(@rows) AS r;

		MERGE {{USERS}} u
		USING (SELECT @user_id AS user_id) s
		ON u.user_id = s.user_id
		WHEN MATCHED THEN UPDATE SET
			balance = @balance,
			currency = @currency,
			transaction_count = @transaction_count,
			last_updated = @last_updated,
			updated_at = CURRENT_TIMESTAMP()
		WHEN NOT MATCHED THEN
			INSERT (user_id, balance, currency, transaction_count, last_updated, updated_at)
			VALUES (@user_id, @balance, @currency, @transaction_count, @last_updated, CURRENT_TIMESTAMP());

		COMMIT TRANSACTION;
	`)
}

// ReplaceUserLedger implements store.LedgerRepository.
func (r *Repository) ReplaceUserLedger(ctx context.Context, ledger domain.UserLedger, txs []domain.FinalTransaction) error {
	params := make([]transactionParam, 0, len(txs))
	for _, t := range txs {
		params = append(params, toParam(t))
	}

	q := r.client.Query(r.replaceScript())
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: ledger.UserID},
		{Name: "rows", Value: params},
		{Name: "balance", Value: ledger.Balance.Rat()},
		{Name: "currency", Value: ledger.Currency},
		{Name: "transaction_count", Value: int64(ledger.TransactionCount)},
		{Name: "last_updated", Value: ledger.LastUpdated},
	}

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("ReplaceUserLedger: running script: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("ReplaceUserLedger: waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("ReplaceUserLedger: job error: %w", err)
	}
	return nil
}

// GetUserLedger implements store.LedgerRepository.
func (r *Repository) GetUserLedger(ctx context.Context, userID string) (*domain.UserLedger, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT user_id, balance, currency, transaction_count, last_updated
		FROM %s
		WHERE user_id = @user_id
		LIMIT 1
	`, r.table(usersTable)))
	q.Parameters = []bigquery.QueryParameter{{Name: "user_id", Value: userID}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetUserLedger: query read: %w", err)
	}

	var row UserRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, fmt.Errorf("GetUserLedger: user %s: %w", userID, domain.ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetUserLedger: iterating results: %w", err)
	}
	return row.toDomain()
}

// ListUserTransactions implements store.LedgerRepository.
func (r *Repository) ListUserTransactions(ctx context.Context, userID string) ([]domain.FinalTransaction, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT
			transaction_id, user_id, account_id, amount, currency, transaction_date,
			description, status, type, provider_id, raw_payload
		FROM %s
		WHERE user_id = @user_id
		ORDER BY transaction_date, transaction_id
	`, r.table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{{Name: "user_id", Value: userID}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListUserTransactions: query read: %w", err)
	}

	var out []domain.FinalTransaction
	for {
		var row TransactionRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListUserTransactions: iterating results: %w", err)
		}
		t, err := row.toDomain()
		if err != nil {
			return nil, fmt.Errorf("ListUserTransactions: %w", err)
		}
		out = append(out, t)
	}

	if len(out) == 0 {
		if _, err := r.GetUserLedger(ctx, userID); err != nil {
			return nil, fmt.Errorf("ListUserTransactions: %w", err)
		}
	}
	return out, nil
}

var _ store.LedgerRepository = (*Repository)(nil)
