package types

import "errors"

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidPrice        = errors.New("invalid price")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	// ErrTransactionConflict is returned after the store has exhausted
	// its internal retries for an aborted transaction.
	ErrTransactionConflict = errors.New("transaction conflict")
)
