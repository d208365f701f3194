// Package pipeline turns the provider's paginated account history into
// materialized per-user ledgers: fetch, normalize, reconcile, aggregate and
// store, one independent run per account.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/bank-ledger/internal/domain"
	"github.com/dvloznov/bank-ledger/internal/logger"
	"github.com/dvloznov/bank-ledger/internal/metrics"
	"github.com/dvloznov/bank-ledger/internal/provider"
)

// DefaultConcurrency bounds the number of accounts ingested at once.
const DefaultConcurrency = 32

// Outcome classifies a single account run.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeFailed    Outcome = "failed"
)

// AccountResult summarizes one account run.
type AccountResult struct {
	RunID        string        `json:"run_id"`
	AccountID    string        `json:"account_id"`
	UserID       string        `json:"user_id"`
	Outcome      Outcome       `json:"outcome"`
	Pages        int           `json:"pages"`
	Records      int           `json:"records"`
	Normalized   int           `json:"normalized"`
	Dropped      int           `json:"dropped"`
	Transactions int           `json:"transactions"`
	Conflicts    int           `json:"conflicts"`
	Balance      string        `json:"balance,omitempty"`
	Currency     string        `json:"currency,omitempty"`
	Duration     time.Duration `json:"duration"`
	Error        string        `json:"error,omitempty"`
}

// RunSummary summarizes an ingestion over all accounts.
type RunSummary struct {
	RunID     string          `json:"run_id"`
	Accounts  []AccountResult `json:"accounts"`
	Succeeded int             `json:"succeeded"`
	NotFound  int             `json:"not_found"`
	Failed    int             `json:"failed"`
	Duration  time.Duration   `json:"duration"`
}

// Ingester runs the account pipeline against a source and a ledger store.
type Ingester struct {
	source      Source
	writer      LedgerWriter
	archiver    PageArchiver
	publisher   EventPublisher
	concurrency int
	pageSize    int
	now         func() time.Time
	log         zerolog.Logger
}

// Option customizes an Ingester.
type Option func(*Ingester)

// WithArchiver stores raw pages of every run.
func WithArchiver(a PageArchiver) Option {
	return func(i *Ingester) {
		if a != nil {
			i.archiver = a
		}
	}
}

// WithPublisher emits an event per materialized ledger.
func WithPublisher(p EventPublisher) Option {
	return func(i *Ingester) {
		if p != nil {
			i.publisher = p
		}
	}
}

// WithConcurrency sets how many accounts are ingested in parallel.
func WithConcurrency(n int) Option {
	return func(i *Ingester) {
		if n > 0 {
			i.concurrency = n
		}
	}
}

// WithPageSize sets the provider page size.
func WithPageSize(n int) Option {
	return func(i *Ingester) {
		i.pageSize = provider.ClampPageSize(n)
	}
}

// WithClock replaces time.Now, used for the ingestion timestamp.
func WithClock(now func() time.Time) Option {
	return func(i *Ingester) {
		if now != nil {
			i.now = now
		}
	}
}

// WithLogger sets the base logger.
func WithLogger(l zerolog.Logger) Option {
	return func(i *Ingester) {
		i.log = l
	}
}

// NewIngester creates an Ingester reading from source and writing to writer.
func NewIngester(source Source, writer LedgerWriter, opts ...Option) *Ingester {
	i := &Ingester{
		source:      source,
		writer:      writer,
		archiver:    nopArchiver{},
		publisher:   nopPublisher{},
		concurrency: DefaultConcurrency,
		pageSize:    provider.DefaultPageSize,
		now:         time.Now,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *Ingester) accountPipeline() *Pipeline {
	return NewPipeline(
		&FetchPagesStep{Source: i.source, PageSize: i.pageSize},
		&ArchivePagesStep{Archiver: i.archiver},
		&NormalizeStep{},
		&ReconcileStep{},
		&BuildLedgerStep{Now: i.now},
		&MaterializeStep{Writer: i.writer},
		&PublishStep{Publisher: i.publisher},
	)
}

// IngestAccount runs the full pipeline for one account. On error the user's
// previously materialized ledger is left untouched.
func (i *Ingester) IngestAccount(ctx context.Context, accountID string) (*AccountResult, error) {
	return i.ingestAccount(ctx, uuid.NewString(), accountID)
}

func (i *Ingester) ingestAccount(ctx context.Context, runID, accountID string) (*AccountResult, error) {
	start := time.Now()
	state := &AccountState{
		RunID:     runID,
		AccountID: accountID,
		UserID:    domain.UserIDForAccount(accountID),
	}

	log := i.log.With().
		Str("run_id", runID).
		Str("account_id", accountID).
		Str("user_id", state.UserID).
		Logger()
	ctx = logger.WithContext(ctx, log)

	err := i.accountPipeline().Execute(ctx, state)

	elapsed := time.Since(start)
	metrics.IngestionDuration.Observe(elapsed.Seconds())

	res := &AccountResult{
		RunID:        runID,
		AccountID:    accountID,
		UserID:       state.UserID,
		Pages:        len(state.Pages),
		Records:      len(state.Records),
		Normalized:   len(state.Normalized),
		Dropped:      len(state.Dropped),
		Transactions: len(state.Finals),
		Conflicts:    len(state.Conflicts),
		Duration:     elapsed,
	}

	switch {
	case err == nil:
		res.Outcome = OutcomeSucceeded
		res.Balance = state.Ledger.Balance.String()
		res.Currency = state.Ledger.Currency
		log.Info().
			Int("pages", res.Pages).
			Int("transactions", res.Transactions).
			Int("dropped", res.Dropped).
			Str("balance", res.Balance).
			Dur("duration", elapsed).
			Msg("Account ingested")
	case errors.Is(err, domain.ErrAccountNotFound):
		res.Outcome = OutcomeNotFound
		res.Error = err.Error()
		log.Warn().Err(err).Msg("Account not found at provider")
	default:
		res.Outcome = OutcomeFailed
		res.Error = err.Error()
		log.Error().Err(err).Msg("Account ingestion failed")
	}
	metrics.AccountIngestions.WithLabelValues(string(res.Outcome)).Inc()

	return res, err
}

// IngestAll lists the provider's accounts and ingests each of them on a
// bounded pool. A failing account never affects the others; the returned
// error is non-nil only when the account list itself cannot be fetched.
func (i *Ingester) IngestAll(ctx context.Context) (*RunSummary, error) {
	start := time.Now()
	runID := uuid.NewString()
	log := i.log.With().Str("run_id", runID).Logger()

	accounts, err := i.source.ListAccounts(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list provider accounts")
		return nil, err
	}
	log.Info().Int("accounts", len(accounts)).Int("concurrency", i.concurrency).Msg("Starting ingestion")

	results := make([]AccountResult, len(accounts))

	var g errgroup.Group
	g.SetLimit(i.concurrency)
	for idx, accountID := range accounts {
		g.Go(func() error {
			res, _ := i.ingestAccount(ctx, runID, accountID)
			results[idx] = *res
			return nil
		})
	}
	_ = g.Wait()

	summary := &RunSummary{RunID: runID, Accounts: results, Duration: time.Since(start)}
	for _, r := range results {
		switch r.Outcome {
		case OutcomeSucceeded:
			summary.Succeeded++
		case OutcomeNotFound:
			summary.NotFound++
		default:
			summary.Failed++
		}
	}

	log.Info().
		Int("succeeded", summary.Succeeded).
		Int("not_found", summary.NotFound).
		Int("failed", summary.Failed).
		Dur("duration", summary.Duration).
		Msg("Ingestion finished")

	return summary, nil
}
