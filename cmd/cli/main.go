package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/dvloznov/bank-ledger/internal/api/handlers"
	"github.com/dvloznov/bank-ledger/internal/bootstrap"
	"github.com/dvloznov/bank-ledger/internal/config"
	"github.com/dvloznov/bank-ledger/internal/logger"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "accounts":
		runAccounts(cfg, log)
	case "page":
		runPage(cfg, log)
	case "ingest":
		runIngest(cfg, log)
	case "balance":
		runBalance(cfg, log)
	case "transactions":
		runTransactions(cfg, log)
	case "archive":
		runArchive(cfg, log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Bank Ledger CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  accounts      List the provider's accounts")
	fmt.Println("  page          Fetch one raw transaction page from the provider")
	fmt.Println("  ingest        Ingest one account and print its ledger")
	fmt.Println("  balance       Show a user's materialized balance")
	fmt.Println("  transactions  Show a user's materialized transactions")
	fmt.Println("  archive       Print an archived raw page from GCS")
	fmt.Println("  help          Show this help message")
	fmt.Println("\nbalance and transactions read the configured STORE_BACKEND; with the")
	fmt.Println("in-memory store they only see what this process ingested.")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func setup(cfg config.AppConfig, log zerolog.Logger, timeout time.Duration) (context.Context, context.CancelFunc, *bootstrap.App) {
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ctx = logger.WithContext(ctx, log)

	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		cancel()
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	return ctx, cancel, app
}

func runAccounts(cfg config.AppConfig, log zerolog.Logger) {
	fs := flag.NewFlagSet("accounts", flag.ExitOnError)
	fs.Parse(os.Args[2:])

	ctx, cancel, app := setup(cfg, log, time.Minute)
	defer cancel()
	defer app.Close()

	accounts, err := app.Provider.ListAccounts(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list accounts")
	}
	for _, a := range accounts {
		fmt.Println(a)
	}
	fmt.Printf("\n%d accounts\n", len(accounts))
}

func runPage(cfg config.AppConfig, log zerolog.Logger) {
	fs := flag.NewFlagSet("page", flag.ExitOnError)
	accountID := fs.String("account", "", "Provider account ID")
	page := fs.Int("page", 1, "Page number")
	perPage := fs.Int("per-page", cfg.ProviderPageSize, "Page size (1-100)")
	fs.Parse(os.Args[2:])

	if *accountID == "" {
		log.Fatal().Msg("Error: --account is required")
	}

	ctx, cancel, app := setup(cfg, log, time.Minute)
	defer cancel()
	defer app.Close()

	p, err := app.Provider.FetchPage(ctx, *accountID, *page, *perPage)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to fetch page")
	}
	fmt.Println(string(p.Body))
	fmt.Fprintf(os.Stderr, "page %d/%d, %d records, has_next=%t\n",
		p.Pagination.Page, p.Pagination.TotalPages, len(p.Records), p.HasNext())
}

func runIngest(cfg config.AppConfig, log zerolog.Logger) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	accountID := fs.String("account", "", "Provider account ID")
	fs.Parse(os.Args[2:])

	if *accountID == "" {
		log.Fatal().Msg("Error: --account is required")
	}

	ctx, cancel, app := setup(cfg, log, 5*time.Minute)
	defer cancel()
	defer app.Close()

	res, err := app.Ingester.IngestAccount(ctx, *accountID)
	if err != nil {
		log.Fatal().Err(err).Msg("Ingestion failed")
	}

	fmt.Printf("Ingested %s: %d pages, %d records, %d transactions (%d dropped, %d conflicts)\n",
		res.AccountID, res.Pages, res.Records, res.Transactions, res.Dropped, res.Conflicts)
	printBalance(ctx, app, res.UserID, log)
}

func runBalance(cfg config.AppConfig, log zerolog.Logger) {
	fs := flag.NewFlagSet("balance", flag.ExitOnError)
	userID := fs.String("user", "", "User ID")
	fs.Parse(os.Args[2:])

	if *userID == "" {
		log.Fatal().Msg("Error: --user is required")
	}

	ctx, cancel, app := setup(cfg, log, time.Minute)
	defer cancel()
	defer app.Close()

	printBalance(ctx, app, *userID, log)
}

func printBalance(ctx context.Context, app *bootstrap.App, userID string, log zerolog.Logger) {
	ledger, err := app.Query.GetBalance(ctx, userID)
	if err != nil {
		log.Fatal().Err(err).Str("user_id", userID).Msg("Failed to get balance")
	}

	fmt.Println("\n=== Ledger ===")
	fmt.Printf("User:         %s\n", ledger.UserID)
	fmt.Printf("Balance:      %s %s\n", handlers.FormatAmount(ledger.Balance), ledger.Currency)
	fmt.Printf("Transactions: %d\n", ledger.TransactionCount)
	fmt.Printf("Last updated: %s\n", ledger.LastUpdated.Format(time.RFC3339))
}

func runTransactions(cfg config.AppConfig, log zerolog.Logger) {
	fs := flag.NewFlagSet("transactions", flag.ExitOnError)
	userID := fs.String("user", "", "User ID")
	asJSON := fs.Bool("json", false, "Print as JSON")
	fs.Parse(os.Args[2:])

	if *userID == "" {
		log.Fatal().Msg("Error: --user is required")
	}

	ctx, cancel, app := setup(cfg, log, time.Minute)
	defer cancel()
	defer app.Close()

	txs, err := app.Query.ListTransactions(ctx, *userID)
	if err != nil {
		log.Fatal().Err(err).Str("user_id", *userID).Msg("Failed to list transactions")
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(txs)
		return
	}

	fmt.Printf("\n=== Transactions (%d) ===\n", len(txs))
	for i, t := range txs {
		fmt.Printf("\n%d. %s\n", i+1, t.Description)
		fmt.Printf("   Date:   %s\n", t.Date)
		fmt.Printf("   Amount: %s %s\n", handlers.FormatAmount(t.Amount), t.Currency)
		fmt.Printf("   Status: %s (%s)\n", t.Status, t.Type)
		fmt.Printf("   ID:     %s\n", t.ID)
	}
	fmt.Println()
}

func runArchive(cfg config.AppConfig, log zerolog.Logger) {
	fs := flag.NewFlagSet("archive", flag.ExitOnError)
	uri := fs.String("uri", "", "gs:// URI or object name of an archived page")
	fs.Parse(os.Args[2:])

	if *uri == "" {
		log.Fatal().Msg("Error: --uri is required")
	}

	ctx, cancel, app := setup(cfg, log, time.Minute)
	defer cancel()
	defer app.Close()

	if app.Archive == nil {
		log.Fatal().Msg("Error: GCS_BUCKET is not configured")
	}

	data, err := app.Archive.Fetch(ctx, *uri)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to fetch archived page")
	}
	fmt.Println(string(data))
}
