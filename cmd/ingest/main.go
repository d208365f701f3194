package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/dvloznov/bank-ledger/internal/bootstrap"
	"github.com/dvloznov/bank-ledger/internal/config"
	"github.com/dvloznov/bank-ledger/internal/logger"
	"github.com/dvloznov/bank-ledger/internal/pipeline"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()

	// Parse CLI flags
	accountID := flag.String("account", "", "ingest a single provider account instead of all of them")
	timeout := flag.Duration("timeout", 10*time.Minute, "overall timeout")
	asJSON := flag.Bool("json", false, "print the run summary as JSON")
	flag.Parse()

	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Create context with timeout so the run doesn't hang
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer app.Close()

	var summary *pipeline.RunSummary
	if *accountID != "" {
		// Failures are already logged and reflected in the result's outcome.
		res, _ := app.Ingester.IngestAccount(ctx, *accountID)
		summary = &pipeline.RunSummary{RunID: res.RunID, Accounts: []pipeline.AccountResult{*res}, Duration: res.Duration}
		switch res.Outcome {
		case pipeline.OutcomeSucceeded:
			summary.Succeeded = 1
		case pipeline.OutcomeNotFound:
			summary.NotFound = 1
		default:
			summary.Failed = 1
		}
	} else {
		summary, err = app.Ingester.IngestAll(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Ingestion failed")
			app.Close()
			os.Exit(1)
		}
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(summary)
	} else {
		printSummary(summary)
	}

	if summary.Failed > 0 || summary.NotFound > 0 {
		app.Close()
		os.Exit(1)
	}
}

func printSummary(s *pipeline.RunSummary) {
	fmt.Printf("Run %s finished in %s\n", s.RunID, s.Duration.Round(time.Millisecond))
	fmt.Printf("Succeeded: %d  Not found: %d  Failed: %d\n\n", s.Succeeded, s.NotFound, s.Failed)
	for _, r := range s.Accounts {
		switch r.Outcome {
		case pipeline.OutcomeSucceeded:
			fmt.Printf("  %-20s %-9s %4d txs  balance %s %s\n", r.AccountID, r.Outcome, r.Transactions, r.Balance, r.Currency)
		default:
			fmt.Printf("  %-20s %-9s %s\n", r.AccountID, r.Outcome, r.Error)
		}
	}
}
