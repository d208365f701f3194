package pipeline

import (
	"context"

	"github.com/dvloznov/bank-ledger/internal/domain"
	"github.com/dvloznov/bank-ledger/internal/provider"
)

// Source is the provider as seen by the pipeline. *provider.Client
// implements it; tests substitute fakes.
type Source interface {
	ListAccounts(ctx context.Context) ([]string, error)
	FetchPage(ctx context.Context, accountID string, page, pageSize int) (*provider.Page, error)
}

// LedgerWriter atomically replaces a user's materialized ledger and
// transactions.
type LedgerWriter interface {
	ReplaceUserLedger(ctx context.Context, ledger domain.UserLedger, txs []domain.FinalTransaction) error
}

// PageArchiver keeps the raw provider pages of a run for audit.
type PageArchiver interface {
	ArchivePage(ctx context.Context, runID string, page *provider.Page) error
}

// EventPublisher announces freshly materialized ledgers.
type EventPublisher interface {
	PublishLedgerMaterialized(ctx context.Context, runID string, ledger domain.UserLedger) error
}

type nopArchiver struct{}

func (nopArchiver) ArchivePage(context.Context, string, *provider.Page) error { return nil }

type nopPublisher struct{}

func (nopPublisher) PublishLedgerMaterialized(context.Context, string, domain.UserLedger) error {
	return nil
}
