package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/dvloznov/bank-ledger/internal/domain"
)

// transactionNamespace scopes the name-based UUIDs of FinalTransactions.
var transactionNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("bank-ledger/final-transaction"))

// IdentityKey identifies one real-world transaction across fetches and across
// the pending to booked transition. Provider ids are not part of it: they are
// not stable across that transition.
type IdentityKey struct {
	Date        civil.Date
	Amount      string // canonical decimal, trailing zeros trimmed
	Description string
}

// KeyOf returns the identity key of a normalized transaction.
func KeyOf(tx domain.NormalizedTransaction) IdentityKey {
	return IdentityKey{
		Date:        tx.BookingDate,
		Amount:      tx.Amount.String(),
		Description: tx.Description,
	}
}

func (k IdentityKey) String() string {
	return fmt.Sprintf("%s|%s|%s", k.Date, k.Amount, k.Description)
}

// Conflict reports an identity group whose members disagree on currency.
// The group is still resolved; Conflict exists for logging.
type Conflict struct {
	Key        IdentityKey
	Currencies []string
	Resolved   string
}

func (c *Conflict) Error() string {
	return fmt.Sprintf("%s: key %s has currencies %s, kept %q",
		domain.ErrReconciliationConflict, c.Key, strings.Join(c.Currencies, ","), c.Resolved)
}

func (c *Conflict) Unwrap() error {
	return domain.ErrReconciliationConflict
}

// Reconcile collapses normalized transactions into one FinalTransaction per
// identity key. A booked member always beats a pending one; among members of
// the winning status the most recently fetched one is kept. The result does
// not depend on the order of txs and is sorted by date, then id.
func Reconcile(userID string, txs []domain.NormalizedTransaction) ([]domain.FinalTransaction, []*Conflict) {
	groups := make(map[IdentityKey][]domain.NormalizedTransaction)
	for _, tx := range txs {
		k := KeyOf(tx)
		groups[k] = append(groups[k], tx)
	}

	finals := make([]domain.FinalTransaction, 0, len(groups))
	var conflicts []*Conflict

	for key, members := range groups {
		winner := members[0]
		for _, m := range members[1:] {
			if supersedes(m, winner) {
				winner = m
			}
		}

		if currencies := distinctCurrencies(members); len(currencies) > 1 {
			conflicts = append(conflicts, &Conflict{Key: key, Currencies: currencies, Resolved: winner.Currency})
		}

		finals = append(finals, domain.FinalTransaction{
			ID:          TransactionID(userID, key, winner.Status),
			UserID:      userID,
			AccountID:   winner.AccountID,
			Amount:      winner.Amount,
			Currency:    winner.Currency,
			Date:        key.Date,
			Description: key.Description,
			Status:      winner.Status,
			Type:        domain.TypeForAmount(winner.Amount),
			ProviderID:  winner.ProviderID,
			Raw:         winner.Raw,
		})
	}

	SortTransactions(finals)
	sort.Slice(conflicts, func(i, j int) bool {
		return conflicts[i].Key.String() < conflicts[j].Key.String()
	})
	return finals, conflicts
}

// TransactionID derives the id of a FinalTransaction from its content, so the
// same logical transaction gets the same id on every ingestion.
func TransactionID(userID string, key IdentityKey, status domain.Status) string {
	name := strings.Join([]string{userID, key.Date.String(), key.Amount, key.Description, string(status)}, "\x1f")
	return uuid.NewSHA1(transactionNamespace, []byte(name)).String()
}

// SortTransactions orders transactions by date ascending, ties broken by id.
func SortTransactions(txs []domain.FinalTransaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if txs[i].Date != txs[j].Date {
			return txs[i].Date.Before(txs[j].Date)
		}
		return txs[i].ID < txs[j].ID
	})
}

// supersedes reports whether a should be kept over b within one group.
func supersedes(a, b domain.NormalizedTransaction) bool {
	if a.Status != b.Status {
		return a.Status == domain.StatusBooked
	}
	if !a.FetchedAt.Equal(b.FetchedAt) {
		return a.FetchedAt.After(b.FetchedAt)
	}
	// Same status and fetch time: fall back to content so the choice is
	// independent of arrival order.
	if a.ProviderID != b.ProviderID {
		return a.ProviderID > b.ProviderID
	}
	if a.Currency != b.Currency {
		return a.Currency > b.Currency
	}
	return string(a.Raw) > string(b.Raw)
}

func distinctCurrencies(members []domain.NormalizedTransaction) []string {
	seen := make(map[string]struct{}, 1)
	for _, m := range members {
		seen[m.Currency] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
