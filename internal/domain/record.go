package domain

import (
	"encoding/json"
	"time"
)

// RawRecord is one element of the provider's "transactions" array: a batch of
// pending and booked entries observed for an account at CreatedAt.
// RawRecords are never modified after they have been fetched.
type RawRecord struct {
	AccountID     string     `json:"accountId"`
	CreatedAt     time.Time  `json:"createdAt"`
	RequisitionID string     `json:"requisitionId,omitempty"`
	Pending       []RawEntry `json:"pending"`
	Booked        []RawEntry `json:"booked"`
}

// Amount is the provider's transactionAmount object. Amount is kept as the
// decimal string the provider sent.
type Amount struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// RawEntry is a single pending or booked sub-record as sent by the provider.
type RawEntry struct {
	TransactionID                     string  `json:"transactionId,omitempty"`
	InternalTransactionID             string  `json:"internalTransactionId,omitempty"`
	EntryReference                    string  `json:"entryReference,omitempty"`
	BookingDate                       string  `json:"bookingDate,omitempty"`
	ValueDate                         string  `json:"valueDate,omitempty"`
	TransactionAmount                 *Amount `json:"transactionAmount,omitempty"`
	CreditorName                      string  `json:"creditorName,omitempty"`
	DebtorName                        string  `json:"debtorName,omitempty"`
	RemittanceInformationUnstructured string  `json:"remittanceInformationUnstructured,omitempty"`
	AdditionalInformation             string  `json:"additionalInformation,omitempty"`
	MerchantCategoryCode              string  `json:"merchantCategoryCode,omitempty"`

	// Raw holds the entry exactly as received, for the audit trail.
	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the known fields and keeps a copy of the original bytes.
func (e *RawEntry) UnmarshalJSON(data []byte) error {
	type plain RawEntry
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = RawEntry(p)
	e.Raw = append(json.RawMessage(nil), data...)
	return nil
}
