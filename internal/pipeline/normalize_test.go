package pipeline

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/bank-ledger/internal/domain"
)

func entry(t *testing.T, raw string) domain.RawEntry {
	t.Helper()
	var e domain.RawEntry
	require.NoError(t, json.Unmarshal([]byte(raw), &e))
	return e
}

func TestNormalize_SplitsPendingAndBooked(t *testing.T) {
	fetched := time.Date(2025, 6, 27, 8, 0, 0, 0, time.UTC)
	rec := domain.RawRecord{
		AccountID: "acc-1",
		CreatedAt: fetched,
		Pending: []domain.RawEntry{entry(t, `{
			"transactionAmount": {"amount": "-12.99", "currency": "eur"},
			"bookingDate": "2025-06-26",
			"remittanceInformationUnstructured": "  NETFLIX   COM "
		}`)},
		Booked: []domain.RawEntry{entry(t, `{
			"transactionId": "b-1",
			"transactionAmount": {"amount": "50.00", "currency": "EUR"},
			"bookingDate": "2025-06-27",
			"debtorName": "ACME PAYROLL",
			"merchantCategoryCode": "6011"
		}`)},
	}

	txs, errs := Normalize(rec)
	require.Empty(t, errs)
	require.Len(t, txs, 2)

	pending := txs[0]
	assert.Equal(t, domain.StatusPending, pending.Status)
	assert.Equal(t, "-12.99", pending.Amount.String())
	assert.Equal(t, "EUR", pending.Currency)
	assert.Equal(t, civil.Date{Year: 2025, Month: time.June, Day: 26}, pending.BookingDate)
	assert.Equal(t, "NETFLIX COM", pending.Description)
	assert.Empty(t, pending.ProviderID)
	assert.Equal(t, "acc-1", pending.AccountID)
	assert.True(t, fetched.Equal(pending.FetchedAt))
	assert.NotEmpty(t, pending.Raw)

	booked := txs[1]
	assert.Equal(t, domain.StatusBooked, booked.Status)
	assert.Equal(t, "b-1", booked.ProviderID)
	assert.Equal(t, "ACME PAYROLL", booked.Description)
	assert.Equal(t, "6011", booked.MerchantCategoryCode)
}

func TestNormalize_ExactAmounts(t *testing.T) {
	rec := domain.RawRecord{AccountID: "acc-1", Booked: []domain.RawEntry{
		entry(t, `{"transactionAmount": {"amount": "0.1", "currency": "EUR"}, "bookingDate": "2025-01-01", "creditorName": "A"}`),
		entry(t, `{"transactionAmount": {"amount": "0.2", "currency": "EUR"}, "bookingDate": "2025-01-01", "creditorName": "B"}`),
	}}

	txs, errs := Normalize(rec)
	require.Empty(t, errs)
	require.Len(t, txs, 2)
	assert.Equal(t, "0.3", txs[0].Amount.Add(txs[1].Amount).String())
}

func TestNormalize_DropsMalformedEntries(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing amount object", `{"bookingDate": "2025-06-26", "creditorName": "X"}`},
		{"empty amount", `{"transactionAmount": {"amount": "", "currency": "EUR"}, "bookingDate": "2025-06-26"}`},
		{"unparsable amount", `{"transactionAmount": {"amount": "12,99", "currency": "EUR"}, "bookingDate": "2025-06-26"}`},
		{"missing date", `{"transactionAmount": {"amount": "1.00", "currency": "EUR"}}`},
		{"unparsable date", `{"transactionAmount": {"amount": "1.00", "currency": "EUR"}, "bookingDate": "26/06/2025"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			good := entry(t, `{"transactionAmount": {"amount": "1.00", "currency": "EUR"}, "bookingDate": "2025-06-26", "creditorName": "OK"}`)
			rec := domain.RawRecord{AccountID: "acc-1", Booked: []domain.RawEntry{entry(t, tt.raw), good}}

			txs, errs := Normalize(rec)
			require.Len(t, errs, 1)
			assert.True(t, errors.Is(errs[0], domain.ErrMalformedRecord))
			require.Len(t, txs, 1)
			assert.Equal(t, "OK", txs[0].Description)
		})
	}
}

func TestNormalize_ToleratesMissingOptionalFields(t *testing.T) {
	rec := domain.RawRecord{AccountID: "acc-1", Booked: []domain.RawEntry{
		entry(t, `{"transactionAmount": {"amount": "-3.00"}, "valueDate": "2025-06-20T13:45:00Z"}`),
	}}

	txs, errs := Normalize(rec)
	require.Empty(t, errs)
	require.Len(t, txs, 1)
	assert.Empty(t, txs[0].Currency)
	assert.Empty(t, txs[0].Description)
	assert.Empty(t, txs[0].ProviderID)
	assert.Equal(t, civil.Date{Year: 2025, Month: time.June, Day: 20}, txs[0].BookingDate)
}

func TestDescribe_Precedence(t *testing.T) {
	tests := []struct {
		name string
		e    domain.RawEntry
		want string
	}{
		{"remittance first", domain.RawEntry{RemittanceInformationUnstructured: "R", CreditorName: "C"}, "R"},
		{"creditor", domain.RawEntry{CreditorName: "C", DebtorName: "D"}, "C"},
		{"debtor", domain.RawEntry{DebtorName: "D", AdditionalInformation: "A"}, "D"},
		{"additional", domain.RawEntry{AdditionalInformation: "A", EntryReference: "E"}, "A"},
		{"entry reference", domain.RawEntry{EntryReference: "E"}, "E"},
		{"blank skipped", domain.RawEntry{RemittanceInformationUnstructured: "   ", CreditorName: "C"}, "C"},
		{"nothing", domain.RawEntry{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, describe(tt.e))
		})
	}
}
