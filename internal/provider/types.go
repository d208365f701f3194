package provider

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/dvloznov/bank-ledger/internal/domain"
)

// Pagination mirrors the provider's pagination block.
type Pagination struct {
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	TotalCount int  `json:"total_count"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// Page is one decoded page of an account's transaction history.
type Page struct {
	AccountID  string
	Number     int
	Records    []domain.RawRecord
	Pagination Pagination

	// Body is the response body as received, kept for archiving.
	Body []byte
}

// HasNext reports whether another page should be requested.
func (p *Page) HasNext() bool {
	return p.Pagination.HasNext
}

type accountsResponse struct {
	Accounts   []string `json:"accounts"`
	TotalCount int      `json:"total_count"`
}

type transactionsResponse struct {
	Transactions []recordEnvelope `json:"transactions"`
	Pagination   Pagination       `json:"pagination"`
	AccountID    string           `json:"account_id"`
}

type recordEnvelope struct {
	Metadata struct {
		AccountID     string `json:"accountId"`
		CreatedAt     string `json:"createdAt"`
		RequisitionID string `json:"requisitionId"`
	} `json:"metadata"`
	Payload struct {
		Pending []domain.RawEntry `json:"pending"`
		Booked  []domain.RawEntry `json:"booked"`
	} `json:"payload"`
}

type errorResponse struct {
	Error string `json:"error"`
}

var createdAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// parseCreatedAt accepts RFC3339 as well as timestamps without a zone, which
// are taken as UTC. Unparsable values yield the zero time.
func parseCreatedAt(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range createdAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func (e recordEnvelope) toRawRecord(fallbackAccountID string) domain.RawRecord {
	accountID := e.Metadata.AccountID
	if accountID == "" {
		accountID = fallbackAccountID
	}
	return domain.RawRecord{
		AccountID:     accountID,
		CreatedAt:     parseCreatedAt(e.Metadata.CreatedAt),
		RequisitionID: e.Metadata.RequisitionID,
		Pending:       e.Payload.Pending,
		Booked:        e.Payload.Booked,
	}
}

func decodeError(body []byte) string {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error != "" {
		return er.Error
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
