package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/bank-ledger/internal/domain"
)

// BuildLedger folds a user's complete set of FinalTransactions into a
// UserLedger. The ledger is always fully populated. A non-nil error wraps
// domain.ErrCurrencyMismatch and only signals that more than one currency was
// summed; callers log it and keep the ledger.
func BuildLedger(userID string, finals []domain.FinalTransaction, ingestedAt time.Time) (domain.UserLedger, error) {
	ledger := domain.UserLedger{
		UserID:           userID,
		Balance:          decimal.Zero,
		TransactionCount: len(finals),
		LastUpdated:      ingestedAt.UTC(),
	}
	if len(finals) == 0 {
		return ledger, nil
	}

	counts := make(map[string]int)
	var latest civil.Date
	for i, tx := range finals {
		ledger.Balance = ledger.Balance.Add(tx.Amount)
		if tx.Currency != "" {
			counts[tx.Currency]++
		}
		if i == 0 || tx.Date.After(latest) {
			latest = tx.Date
		}
	}
	ledger.LastUpdated = latest.In(time.UTC)
	ledger.Currency = dominantCurrency(counts)

	if len(counts) > 1 {
		currencies := make([]string, 0, len(counts))
		for c := range counts {
			currencies = append(currencies, c)
		}
		sort.Strings(currencies)
		return ledger, fmt.Errorf("%w: user %s has transactions in %s, reporting %s",
			domain.ErrCurrencyMismatch, userID, strings.Join(currencies, ","), ledger.Currency)
	}
	return ledger, nil
}

// dominantCurrency returns the currency with the most transactions, ties
// broken alphabetically.
func dominantCurrency(counts map[string]int) string {
	best, bestN := "", -1
	for c, n := range counts {
		if n > bestN || (n == bestN && c < best) {
			best, bestN = c, n
		}
	}
	return best
}
