package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dvloznov/bank-ledger/internal/domain"
	"github.com/dvloznov/bank-ledger/internal/pipeline"
)

// AccountIngester runs the ingestion pipeline for one account.
// *pipeline.Ingester implements it.
type AccountIngester interface {
	IngestAccount(ctx context.Context, accountID string) (*pipeline.AccountResult, error)
}

// AccountLister lists the provider's accounts.
type AccountLister interface {
	ListAccounts(ctx context.Context) ([]string, error)
}

// NewIngestHandler returns a JobHandler that ingests the job's account.
// Unknown accounts fail the job without retries.
func NewIngestHandler(ingester AccountIngester, log zerolog.Logger) JobHandler {
	return func(ctx context.Context, job Job) error {
		ingestJob, ok := job.(*IngestAccountJob)
		if !ok {
			return Permanent(fmt.Errorf("unexpected job type: %T", job))
		}

		log.Info().
			Str("job_id", ingestJob.JobID).
			Str("account_id", ingestJob.AccountID).
			Str("trigger", string(ingestJob.Trigger)).
			Msg("Processing ingestion job")

		res, err := ingester.IngestAccount(ctx, ingestJob.AccountID)
		if err != nil {
			if errors.Is(err, domain.ErrAccountNotFound) {
				return Permanent(err)
			}
			return err
		}

		ingestJob.Transactions = res.Transactions
		ingestJob.Balance = res.Balance
		return nil
	}
}

// EnqueueAll publishes one ingestion job per provider account and returns
// the jobs it enqueued.
func EnqueueAll(ctx context.Context, lister AccountLister, publisher Publisher, trigger Trigger) ([]*IngestAccountJob, error) {
	accounts, err := lister.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("EnqueueAll: listing accounts: %w", err)
	}

	enqueued := make([]*IngestAccountJob, 0, len(accounts))
	for _, accountID := range accounts {
		job := &IngestAccountJob{AccountID: accountID, Trigger: trigger}
		if err := publisher.PublishIngestAccount(ctx, job); err != nil {
			return enqueued, fmt.Errorf("EnqueueAll: account %s: %w", accountID, err)
		}
		enqueued = append(enqueued, job)
	}
	return enqueued, nil
}
