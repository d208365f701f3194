package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/bank-ledger/internal/api"
	"github.com/dvloznov/bank-ledger/internal/api/handlers"
	"github.com/dvloznov/bank-ledger/internal/domain"
	"github.com/dvloznov/bank-ledger/internal/jobs"
	jobsmem "github.com/dvloznov/bank-ledger/internal/jobs/inmemory"
	"github.com/dvloznov/bank-ledger/internal/query"
	"github.com/dvloznov/bank-ledger/internal/store/inmemory"
)

// MockAccounts implements handlers.AccountLister.
type MockAccounts struct {
	ListAccountsFunc func(ctx context.Context) ([]string, error)
}

func (m *MockAccounts) ListAccounts(ctx context.Context) ([]string, error) {
	return m.ListAccountsFunc(ctx)
}

// MockQuerier implements handlers.LedgerQuerier.
type MockQuerier struct {
	ListTransactionsFunc func(ctx context.Context, userID string) ([]domain.FinalTransaction, error)
	GetBalanceFunc       func(ctx context.Context, userID string) (*domain.UserLedger, error)
}

func (m *MockQuerier) ListTransactions(ctx context.Context, userID string) ([]domain.FinalTransaction, error) {
	return m.ListTransactionsFunc(ctx, userID)
}

func (m *MockQuerier) GetBalance(ctx context.Context, userID string) (*domain.UserLedger, error) {
	return m.GetBalanceFunc(ctx, userID)
}

type fixture struct {
	server   *httptest.Server
	jobStore *jobsmem.Store
	queue    *jobsmem.Queue
	accounts *MockAccounts
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := inmemory.NewStore()
	netflix := domain.FinalTransaction{
		ID: "b-netflix", UserID: "A1", AccountID: "A1",
		Amount: decimal.RequireFromString("-12.99"), Currency: "EUR",
		Date:        civil.Date{Year: 2025, Month: time.June, Day: 26},
		Description: "NETFLIX", Status: domain.StatusBooked, Type: domain.TypeDebit,
	}
	salary := domain.FinalTransaction{
		ID: "a-salary", UserID: "A1", AccountID: "A1",
		Amount: decimal.RequireFromString("50.00"), Currency: "EUR",
		Date:        civil.Date{Year: 2025, Month: time.June, Day: 27},
		Description: "SALARY", Status: domain.StatusBooked, Type: domain.TypeCredit,
	}
	ledger := domain.UserLedger{
		UserID: "A1", Balance: decimal.RequireFromString("37.01"), Currency: "EUR",
		TransactionCount: 2, LastUpdated: time.Date(2025, 6, 27, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.ReplaceUserLedger(context.Background(), ledger, []domain.FinalTransaction{salary, netflix}))

	store := jobsmem.NewStore()
	queue := jobsmem.NewQueue(100, store, jobsmem.QueueOptions{})
	t.Cleanup(func() { _ = queue.Close() })

	accounts := &MockAccounts{
		ListAccountsFunc: func(context.Context) ([]string, error) { return []string{"A1", "A2"}, nil },
	}

	srv := httptest.NewServer(api.NewRouter(api.Deps{
		Query:     query.NewService(repo),
		Jobs:      store,
		Publisher: queue,
		Accounts:  accounts,
		Log:       zerolog.Nop(),
	}))
	t.Cleanup(srv.Close)

	return &fixture{server: srv, jobStore: store, queue: queue, accounts: accounts}
}

func do(t *testing.T, method, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestGetBalance(t *testing.T) {
	f := newFixture(t)

	resp, body := do(t, http.MethodGet, f.server.URL+"/users/A1/balance")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	assert.Contains(t, string(body), `"balance":37.01`)

	var got handlers.BalanceResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "A1", got.UserID)
	assert.Equal(t, "EUR", got.Currency)
	assert.Equal(t, 2, got.TransactionCount)
	assert.Equal(t, "2025-06-27T00:00:00Z", got.LastUpdated)
}

func TestListTransactions(t *testing.T) {
	f := newFixture(t)

	resp, body := do(t, http.MethodGet, f.server.URL+"/users/A1/transactions")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got handlers.TransactionsResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "A1", got.UserID)
	require.Equal(t, 2, got.Count)
	require.Len(t, got.Transactions, 2)

	first := got.Transactions[0]
	assert.Equal(t, "b-netflix", first.ID)
	assert.Equal(t, json.Number("-12.99"), first.Amount)
	assert.Equal(t, "2025-06-26", first.Date)
	assert.Equal(t, "debit", first.Type)
	assert.Equal(t, "booked", first.Status)

	assert.Equal(t, "2025-06-27", got.Transactions[1].Date)
	assert.Contains(t, string(body), `"amount":50.00`)
}

func TestUnknownUser(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/users/ghost/balance", "/users/ghost/transactions"} {
		resp, body := do(t, http.MethodGet, f.server.URL+path)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)

		var e map[string]string
		require.NoError(t, json.Unmarshal(body, &e))
		assert.Contains(t, e["error"], "ghost")
	}
}

func TestQueryFailureIs500(t *testing.T) {
	q := &MockQuerier{
		GetBalanceFunc: func(context.Context, string) (*domain.UserLedger, error) {
			return nil, errors.New("connection reset")
		},
		ListTransactionsFunc: func(context.Context, string) ([]domain.FinalTransaction, error) {
			panic("unexpected")
		},
	}
	srv := httptest.NewServer(api.NewRouter(api.Deps{Query: q, Log: zerolog.Nop()}))
	defer srv.Close()

	resp, body := do(t, http.MethodGet, srv.URL+"/users/A1/balance")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.NotContains(t, string(body), "connection reset")

	resp, _ = do(t, http.MethodGet, srv.URL+"/users/A1/transactions")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	// no job routes without a publisher
	resp, _ = do(t, http.MethodPost, srv.URL+"/users/A1/refresh")
	assert.NotEqual(t, http.StatusAccepted, resp.StatusCode)
}

func TestRefreshUser(t *testing.T) {
	f := newFixture(t)

	resp, body := do(t, http.MethodPost, f.server.URL+"/users/A1/refresh")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var job jobs.IngestAccountJob
	require.NoError(t, json.Unmarshal(body, &job))
	assert.NotEmpty(t, job.JobID)
	assert.Equal(t, "A1", job.AccountID)
	assert.Equal(t, jobs.TriggerAPI, job.Trigger)

	stored, err := f.jobStore.GetJob(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusPending, stored.Status)

	resp, body = do(t, http.MethodGet, f.server.URL+"/api/jobs/"+job.JobID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), job.JobID)
}

func TestRefreshUser_WhileWorkersRun(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, f.queue.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		j := job.(*jobs.IngestAccountJob)
		j.Transactions = 2
		j.Balance = "37.01"
		return nil
	}))

	const requests = 50
	ids := make(chan string, requests)
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Post(f.server.URL+"/users/A1/refresh", "application/json", nil)
			if !assert.NoError(t, err) {
				return
			}
			defer resp.Body.Close()
			assert.Equal(t, http.StatusAccepted, resp.StatusCode)

			var job jobs.IngestAccountJob
			if assert.NoError(t, json.NewDecoder(resp.Body).Decode(&job)) {
				assert.Equal(t, jobs.JobStatusPending, job.Status)
				ids <- job.JobID
			}
		}()
	}
	wg.Wait()
	close(ids)

	for id := range ids {
		require.Eventually(t, func() bool {
			job, err := f.jobStore.GetJob(context.Background(), id)
			return err == nil && job.Status == jobs.JobStatusCompleted && job.Balance == "37.01"
		}, 2*time.Second, 5*time.Millisecond)
	}
}

func TestIngestAll(t *testing.T) {
	f := newFixture(t)

	resp, body := do(t, http.MethodPost, f.server.URL+"/api/ingest")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var got struct {
		Jobs  []jobs.IngestAccountJob `json:"jobs"`
		Count int                     `json:"count"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, 2, got.Count)
	assert.Equal(t, "A1", got.Jobs[0].AccountID)
	assert.Equal(t, "A2", got.Jobs[1].AccountID)

	resp, body = do(t, http.MethodGet, f.server.URL+"/api/jobs?account_id=A2")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"count":1`)
}

func TestIngestAll_ProviderDown(t *testing.T) {
	f := newFixture(t)
	f.accounts.ListAccountsFunc = func(context.Context) ([]string, error) {
		return nil, fmt.Errorf("ListAccounts: %w", domain.ErrSourceUnavailable)
	}

	resp, _ := do(t, http.MethodPost, f.server.URL+"/api/ingest")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGetJob_NotFound(t *testing.T) {
	f := newFixture(t)

	resp, _ := do(t, http.MethodGet, f.server.URL+"/api/jobs/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthMetricsAndFallbacks(t *testing.T) {
	f := newFixture(t)

	resp, body := do(t, http.MethodGet, f.server.URL+"/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"healthy"`)

	// Serve one request first so the HTTP collectors have samples.
	do(t, http.MethodGet, f.server.URL+"/users/A1/balance")
	resp, body = do(t, http.MethodGet, f.server.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "bank_ledger_http_requests_total")

	resp, body = do(t, http.MethodGet, f.server.URL+"/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), "Endpoint not found")

	resp, _ = do(t, http.MethodDelete, f.server.URL+"/users/A1/balance")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
