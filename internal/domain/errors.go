package domain

import "errors"

var (
	// ErrSourceUnavailable is returned when the provider cannot be reached or
	// answers with a server error. It is retryable.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrAccountNotFound is returned when the provider does not know the account.
	ErrAccountNotFound = errors.New("account not found")

	// ErrMalformedRecord marks a provider entry that is missing its amount or date.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrReconciliationConflict marks an identity group whose members disagree
	// on currency.
	ErrReconciliationConflict = errors.New("reconciliation conflict")

	// ErrCurrencyMismatch marks a ledger built from more than one currency.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrUserNotFound is returned when no ledger exists for a user.
	ErrUserNotFound = errors.New("user not found")
)
