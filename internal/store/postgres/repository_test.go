package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/bank-ledger/internal/domain"
)

func sampleTransaction() domain.FinalTransaction {
	return domain.FinalTransaction{
		ID:          "7f6c0b7e-0000-5000-8000-000000000001",
		UserID:      "A1",
		AccountID:   "A1",
		Amount:      decimal.RequireFromString("-12.99"),
		Currency:    "EUR",
		Date:        civil.Date{Year: 2025, Month: time.June, Day: 26},
		Description: "NETFLIX",
		Status:      domain.StatusBooked,
		Type:        domain.TypeDebit,
		Raw:         []byte(`{"transactionAmount":{"amount":"-12.99"}}`),
	}
}

func TestTransactionArgs(t *testing.T) {
	args := transactionArgs(sampleTransaction())
	require.Len(t, args, 11)
	assert.Equal(t, "-12.99", args[3])
	assert.Equal(t, "2025-06-26", args[5])
	assert.Equal(t, "booked", args[7])
	assert.Equal(t, "debit", args[8])
	assert.Equal(t, "", args[9])
	assert.Equal(t, `{"transactionAmount":{"amount":"-12.99"}}`, args[10])

	noRaw := sampleTransaction()
	noRaw.Raw = nil
	assert.Nil(t, transactionArgs(noRaw)[10])
}

// TestRepository_RoundTrip runs against a real database when
// TEST_DATABASE_URL is set.
func TestRepository_RoundTrip(t *testing.T) {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	pool, err := Connect(ctx, dbURL, 4, zerolog.Nop())
	require.NoError(t, err)
	repo := NewRepository(pool)
	defer repo.Close()

	files, err := filepath.Glob("../../../migrations/postgres/*.sql")
	require.NoError(t, err)
	sort.Strings(files)
	for _, f := range files {
		sqlBytes, err := os.ReadFile(f)
		require.NoError(t, err)
		_, err = pool.Exec(ctx, string(sqlBytes))
		require.NoError(t, err, f)
	}

	userID := "test-" + time.Now().Format("150405.000000")
	_, err = repo.GetUserLedger(ctx, userID)
	assert.True(t, errors.Is(err, domain.ErrUserNotFound))
	_, err = repo.ListUserTransactions(ctx, userID)
	assert.True(t, errors.Is(err, domain.ErrUserNotFound))

	tx := sampleTransaction()
	tx.UserID = userID
	tx.ID = userID + "-1"
	ledger := domain.UserLedger{
		UserID:           userID,
		Balance:          tx.Amount,
		Currency:         "EUR",
		TransactionCount: 1,
		LastUpdated:      time.Date(2025, 6, 26, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.ReplaceUserLedger(ctx, ledger, []domain.FinalTransaction{tx}))

	got, err := repo.GetUserLedger(ctx, userID)
	require.NoError(t, err)
	assert.True(t, ledger.Balance.Equal(got.Balance))
	assert.True(t, ledger.LastUpdated.Equal(got.LastUpdated))

	txs, err := repo.ListUserTransactions(ctx, userID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, tx.Date, txs[0].Date)
	assert.True(t, tx.Amount.Equal(txs[0].Amount))
	assert.JSONEq(t, string(tx.Raw), string(txs[0].Raw))

	ledger.Balance = decimal.Zero
	ledger.TransactionCount = 0
	require.NoError(t, repo.ReplaceUserLedger(ctx, ledger, nil))
	txs, err = repo.ListUserTransactions(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, txs)
}
