package pipeline

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/bank-ledger/internal/domain"
	"github.com/dvloznov/bank-ledger/internal/logger"
)

type failingPublisher struct {
	err error
}

func (p failingPublisher) PublishLedgerMaterialized(context.Context, string, domain.UserLedger) error {
	return p.err
}

func TestBuildLedgerStep_MixedCurrenciesWarns(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := logger.WithContext(context.Background(), logger.NewWithWriter(buf))
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	state := &AccountState{
		UserID: "A1",
		Finals: []domain.FinalTransaction{final("10.00", "EUR", 0), final("5.00", "EUR", 1), final("1.00", "USD", 2)},
	}
	step := &BuildLedgerStep{Now: func() time.Time { return now }}

	require.NoError(t, step.Execute(ctx, state))
	assert.True(t, errors.Is(state.CurrencyWarning, domain.ErrCurrencyMismatch))
	assert.Equal(t, "EUR", state.Ledger.Currency)
	assert.Equal(t, "16", state.Ledger.Balance.String())
	assert.Contains(t, buf.String(), "Ledger mixes currencies")
}

func TestPublishStep_FailureIsLoggedNotReturned(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := logger.WithContext(context.Background(), logger.NewWithWriter(buf))

	step := &PublishStep{Publisher: failingPublisher{err: errors.New("broker down")}}
	state := &AccountState{RunID: "run-1", UserID: "A1", Ledger: domain.UserLedger{UserID: "A1"}}

	require.NoError(t, step.Execute(ctx, state))
	assert.Contains(t, buf.String(), "Failed to publish ledger event")
	assert.Contains(t, buf.String(), "broker down")
}
