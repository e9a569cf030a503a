package store

import "errors"

var (
	// ErrInsufficientFunds rejects a debit larger than the account balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAlreadyCredited rejects a deposit credit whose (tx hash, currency)
	// pair has been processed before. Redelivered callbacks hit this.
	ErrAlreadyCredited = errors.New("transaction already credited")

	// ErrNotFound reports a missing account or record.
	ErrNotFound = errors.New("not found")
)
