package pipeline

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/bank-ledger/internal/domain"
)

// Normalize splits a RawRecord into one NormalizedTransaction per pending and
// booked entry. Entries that cannot be normalized are dropped and reported in
// the returned error slice; every such error wraps domain.ErrMalformedRecord.
func Normalize(raw domain.RawRecord) ([]domain.NormalizedTransaction, []error) {
	out := make([]domain.NormalizedTransaction, 0, len(raw.Pending)+len(raw.Booked))
	var errs []error

	add := func(entries []domain.RawEntry, status domain.Status) {
		for i, e := range entries {
			tx, err := normalizeEntry(raw, e, status)
			if err != nil {
				errs = append(errs, fmt.Errorf("account %s %s entry %d: %w", raw.AccountID, status, i, err))
				continue
			}
			out = append(out, tx)
		}
	}
	add(raw.Pending, domain.StatusPending)
	add(raw.Booked, domain.StatusBooked)

	return out, errs
}

func normalizeEntry(raw domain.RawRecord, e domain.RawEntry, status domain.Status) (domain.NormalizedTransaction, error) {
	amount, currency, err := parseAmount(e.TransactionAmount)
	if err != nil {
		return domain.NormalizedTransaction{}, err
	}

	date, err := parseBookingDate(e)
	if err != nil {
		return domain.NormalizedTransaction{}, err
	}

	providerID := e.TransactionID
	if providerID == "" {
		providerID = e.InternalTransactionID
	}

	return domain.NormalizedTransaction{
		ProviderID:           providerID,
		AccountID:            raw.AccountID,
		Amount:               amount,
		Currency:             currency,
		BookingDate:          date,
		Description:          describe(e),
		Status:               status,
		MerchantCategoryCode: strings.TrimSpace(e.MerchantCategoryCode),
		FetchedAt:            raw.CreatedAt,
		Raw:                  e.Raw,
	}, nil
}

func parseAmount(a *domain.Amount) (decimal.Decimal, string, error) {
	if a == nil || strings.TrimSpace(a.Amount) == "" {
		return decimal.Decimal{}, "", fmt.Errorf("%w: missing amount", domain.ErrMalformedRecord)
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(a.Amount))
	if err != nil {
		return decimal.Decimal{}, "", fmt.Errorf("%w: invalid amount %q: %v", domain.ErrMalformedRecord, a.Amount, err)
	}
	return amount, strings.ToUpper(strings.TrimSpace(a.Currency)), nil
}

// parseBookingDate uses bookingDate and falls back to valueDate. Full
// timestamps are truncated to their calendar date.
func parseBookingDate(e domain.RawEntry) (civil.Date, error) {
	s := strings.TrimSpace(e.BookingDate)
	if s == "" {
		s = strings.TrimSpace(e.ValueDate)
	}
	if s == "" {
		return civil.Date{}, fmt.Errorf("%w: missing booking date", domain.ErrMalformedRecord)
	}

	if d, err := civil.ParseDate(s); err == nil {
		return d, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return civil.DateOf(t), nil
	}
	return civil.Date{}, fmt.Errorf("%w: invalid booking date %q", domain.ErrMalformedRecord, s)
}

// describe picks the first non-empty free-text field of the entry.
func describe(e domain.RawEntry) string {
	for _, s := range []string{
		e.RemittanceInformationUnstructured,
		e.CreditorName,
		e.DebtorName,
		e.AdditionalInformation,
		e.EntryReference,
	} {
		if d := collapseSpaces(s); d != "" {
			return d
		}
	}
	return ""
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
