// Package provider implements the HTTP client for the upstream transaction
// provider: account listing and paginated per-account history.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/bank-ledger/internal/domain"
	"github.com/dvloznov/bank-ledger/internal/metrics"
)

const (
	// MaxPageSize is the largest per_page value the provider accepts.
	MaxPageSize = 100

	DefaultPageSize    = MaxPageSize
	DefaultTimeout     = 30 * time.Second
	DefaultMaxAttempts = 3
	DefaultBackoff     = 500 * time.Millisecond
)

// Options configures a Client. Zero values fall back to the defaults above.
type Options struct {
	PageSize    int
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
	HTTPClient  *http.Client
	Logger      zerolog.Logger
}

// Client talks to the provider API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	pageSize    int
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration
	log         zerolog.Logger

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// RequestError is a non-retryable rejection from the provider (4xx other than 404).
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("provider rejected request: status %d: %s", e.StatusCode, e.Message)
}

// NewClient creates a provider client for baseURL.
func NewClient(baseURL string, opts Options) *Client {
	c := &Client{
		baseURL:     trimSlash(baseURL),
		httpClient:  opts.HTTPClient,
		pageSize:    ClampPageSize(opts.PageSize),
		timeout:     opts.Timeout,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		log:         opts.Logger,
		sleep:       sleepContext,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = DefaultMaxAttempts
	}
	if c.backoff <= 0 {
		c.backoff = DefaultBackoff
	}
	return c
}

// ClampPageSize limits n to the range the provider accepts.
func ClampPageSize(n int) int {
	switch {
	case n <= 0:
		return DefaultPageSize
	case n > MaxPageSize:
		return MaxPageSize
	default:
		return n
	}
}

// PageSize returns the page size used by FetchAccount.
func (c *Client) PageSize() int {
	return c.pageSize
}

// ListAccounts returns the ids of all accounts the provider knows.
func (c *Client) ListAccounts(ctx context.Context) ([]string, error) {
	body, err := c.get(ctx, "accounts", c.baseURL+"/accounts")
	if err != nil {
		return nil, fmt.Errorf("ListAccounts: %w", err)
	}

	var resp accountsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("ListAccounts: decode response: %w", err)
	}
	return resp.Accounts, nil
}

// FetchPage fetches a single page of an account's records. Pages are 1-based.
func (c *Client) FetchPage(ctx context.Context, accountID string, page, pageSize int) (*Page, error) {
	if page < 1 {
		return nil, fmt.Errorf("FetchPage: invalid page %d", page)
	}
	pageSize = ClampPageSize(pageSize)

	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(pageSize))
	endpoint := fmt.Sprintf("%s/accounts/%s/transactions?%s", c.baseURL, url.PathEscape(accountID), q.Encode())

	body, err := c.get(ctx, "transactions", endpoint)
	if err != nil {
		return nil, fmt.Errorf("FetchPage: account %s page %d: %w", accountID, page, err)
	}

	var resp transactionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("FetchPage: account %s page %d: decode response: %w", accountID, page, err)
	}

	records := make([]domain.RawRecord, 0, len(resp.Transactions))
	for _, env := range resp.Transactions {
		records = append(records, env.toRawRecord(accountID))
	}

	metrics.PagesFetched.Inc()
	return &Page{
		AccountID:  accountID,
		Number:     page,
		Records:    records,
		Pagination: resp.Pagination,
		Body:       body,
	}, nil
}

// Pager fetches single pages of an account's history.
type Pager interface {
	FetchPage(ctx context.Context, accountID string, page, pageSize int) (*Page, error)
}

// Walk requests pages 1, 2, ... of an account strictly in order, calling fn
// for each, until a page reports has_next == false. has_next is the only stop
// condition: an empty page with has_next set is followed.
func Walk(ctx context.Context, p Pager, accountID string, pageSize int, fn func(*Page) error) error {
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		pg, err := p.FetchPage(ctx, accountID, page, pageSize)
		if err != nil {
			return err
		}
		if err := fn(pg); err != nil {
			return err
		}
		if !pg.HasNext() {
			return nil
		}
	}
}

// FetchAccount walks every page of an account using the client's page size.
func (c *Client) FetchAccount(ctx context.Context, accountID string, fn func(*Page) error) error {
	return Walk(ctx, c, accountID, c.pageSize, fn)
}

// get performs a GET with per-attempt timeout and exponential backoff between
// retryable failures.
func (c *Client) get(ctx context.Context, endpoint, rawURL string) ([]byte, error) {
	delay := c.backoff
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		body, err := c.do(ctx, rawURL)
		if err == nil {
			metrics.ProviderRequests.WithLabelValues(endpoint, "ok").Inc()
			return body, nil
		}
		lastErr = err

		if !errors.Is(err, domain.ErrSourceUnavailable) {
			metrics.ProviderRequests.WithLabelValues(endpoint, "rejected").Inc()
			return nil, err
		}
		if ctx.Err() != nil {
			break
		}
		if attempt == c.maxAttempts {
			break
		}

		c.log.Warn().
			Err(err).
			Str("url", rawURL).
			Int("attempt", attempt).
			Int("max_attempts", c.maxAttempts).
			Dur("retry_in", delay).
			Msg("Provider request failed, retrying")
		metrics.ProviderRetries.WithLabelValues(endpoint).Inc()

		if err := c.sleep(ctx, delay); err != nil {
			break
		}
		delay *= 2
	}

	metrics.ProviderRequests.WithLabelValues(endpoint, "unavailable").Inc()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, ctx.Err())
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, rawURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrSourceUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, decodeError(body))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrSourceUnavailable, resp.StatusCode, decodeError(body))
	default:
		return nil, &RequestError{StatusCode: resp.StatusCode, Message: decodeError(body)}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
