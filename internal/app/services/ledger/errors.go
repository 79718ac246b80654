package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed requests.
	ErrValidation = errors.New("validation error")
	// ErrInvalidAmount is returned for non-positive amounts.
	ErrInvalidAmount = fmt.Errorf("%w: amount must be positive", ErrValidation)
	// ErrSelfTransfer is returned when sender and receiver are the same account.
	ErrSelfTransfer = fmt.Errorf("%w: cannot transfer to the same account", ErrValidation)
	// ErrInsufficientBalance is returned when the sender cannot cover the amount.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrAccountNotFound is returned when a referenced account does not exist.
	ErrAccountNotFound = errors.New("account not found")
	// ErrConcurrentConflict is returned when a commit kept losing optimistic
	// version checks after every retry.
	ErrConcurrentConflict = errors.New("concurrent conflict")
	// ErrAlreadyApplied is returned when an idempotency key was already used.
	ErrAlreadyApplied = errors.New("idempotency key already applied")
)
