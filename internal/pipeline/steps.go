package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/bank-ledger/internal/domain"
	"github.com/dvloznov/bank-ledger/internal/logger"
	"github.com/dvloznov/bank-ledger/internal/metrics"
	"github.com/dvloznov/bank-ledger/internal/provider"
)

// PipelineStep is a single stage of an account ingestion.
type PipelineStep interface {
	Name() string
	Execute(ctx context.Context, state *AccountState) error
}

// AccountState is the shared state of one account's ingestion run.
type AccountState struct {
	RunID     string
	AccountID string
	UserID    string

	Pages      []*provider.Page
	Records    []domain.RawRecord
	Normalized []domain.NormalizedTransaction
	Dropped    []error
	Finals     []domain.FinalTransaction
	Conflicts  []*Conflict
	Ledger     domain.UserLedger

	// CurrencyWarning is set when the ledger mixes currencies.
	CurrencyWarning error
}

// FetchPagesStep pulls every page of the account, sequentially.
type FetchPagesStep struct {
	Source   Source
	PageSize int
}

func (s *FetchPagesStep) Name() string { return "fetch" }

func (s *FetchPagesStep) Execute(ctx context.Context, state *AccountState) error {
	log := logger.FromContext(ctx)
	return provider.Walk(ctx, s.Source, state.AccountID, s.PageSize, func(p *provider.Page) error {
		state.Pages = append(state.Pages, p)
		state.Records = append(state.Records, p.Records...)
		log.Debug().
			Int("page", p.Number).
			Int("records", len(p.Records)).
			Bool("has_next", p.HasNext()).
			Msg("Fetched page")
		return nil
	})
}

// ArchivePagesStep stores the raw page bodies. Archive failures are logged
// and do not fail the run.
type ArchivePagesStep struct {
	Archiver PageArchiver
}

func (s *ArchivePagesStep) Name() string { return "archive" }

func (s *ArchivePagesStep) Execute(ctx context.Context, state *AccountState) error {
	log := logger.FromContext(ctx)
	for _, p := range state.Pages {
		if err := s.Archiver.ArchivePage(ctx, state.RunID, p); err != nil {
			log.Warn().Err(err).Int("page", p.Number).Msg("Failed to archive raw page")
		}
	}
	return nil
}

// NormalizeStep turns raw records into normalized transactions, dropping
// malformed entries.
type NormalizeStep struct{}

func (s *NormalizeStep) Name() string { return "normalize" }

func (s *NormalizeStep) Execute(ctx context.Context, state *AccountState) error {
	log := logger.FromContext(ctx)
	for _, rec := range state.Records {
		txs, errs := Normalize(rec)
		state.Normalized = append(state.Normalized, txs...)
		for _, err := range errs {
			log.Warn().Err(err).Msg("Dropping malformed record")
			state.Dropped = append(state.Dropped, err)
		}
	}

	for _, tx := range state.Normalized {
		metrics.RecordsNormalized.WithLabelValues(string(tx.Status)).Inc()
	}
	metrics.RecordsDropped.Add(float64(len(state.Dropped)))
	return nil
}

// ReconcileStep deduplicates the normalized transactions.
type ReconcileStep struct{}

func (s *ReconcileStep) Name() string { return "reconcile" }

func (s *ReconcileStep) Execute(ctx context.Context, state *AccountState) error {
	log := logger.FromContext(ctx)
	state.Finals, state.Conflicts = Reconcile(state.UserID, state.Normalized)
	for _, c := range state.Conflicts {
		log.Warn().Err(c).Str("key", c.Key.String()).Msg("Reconciliation conflict")
	}
	metrics.ReconciliationConflicts.Add(float64(len(state.Conflicts)))
	return nil
}

// BuildLedgerStep aggregates the final transactions into the user's ledger.
type BuildLedgerStep struct {
	Now func() time.Time
}

func (s *BuildLedgerStep) Name() string { return "build_ledger" }

func (s *BuildLedgerStep) Execute(ctx context.Context, state *AccountState) error {
	ledger, err := BuildLedger(state.UserID, state.Finals, s.Now())
	if err != nil {
		if !errors.Is(err, domain.ErrCurrencyMismatch) {
			return err
		}
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("Ledger mixes currencies")
		state.CurrencyWarning = err
	}
	state.Ledger = ledger
	return nil
}

// MaterializeStep swaps the user's stored ledger for the new one.
type MaterializeStep struct {
	Writer LedgerWriter
}

func (s *MaterializeStep) Name() string { return "materialize" }

func (s *MaterializeStep) Execute(ctx context.Context, state *AccountState) error {
	return s.Writer.ReplaceUserLedger(ctx, state.Ledger, state.Finals)
}

// PublishStep emits a ledger event. Publish failures are logged only; the
// ledger is already committed at this point.
type PublishStep struct {
	Publisher EventPublisher
}

func (s *PublishStep) Name() string { return "publish" }

func (s *PublishStep) Execute(ctx context.Context, state *AccountState) error {
	if err := s.Publisher.PublishLedgerMaterialized(ctx, state.RunID, state.Ledger); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("Failed to publish ledger event")
	}
	return nil
}

// Pipeline executes a sequence of steps in order, stopping at the first error.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *AccountState) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d (%s) failed: %w", i+1, step.Name(), err)
		}
	}
	return nil
}
