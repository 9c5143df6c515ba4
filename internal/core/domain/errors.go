package domain

import "errors"

var (
	// ErrInsufficientBalance is a business-rule violation, surfaced to the
	// caller as-is. Not retriable.
	ErrInsufficientBalance = errors.New("insufficient available balance")

	// ErrInsufficientReserved indicates a mismatched reserve/release pairing
	// upstream. Not retriable.
	ErrInsufficientReserved = errors.New("insufficient reserved balance")

	// ErrConcurrentModification is returned after the bounded retry loop is
	// exhausted. The caller may retry the whole business operation.
	ErrConcurrentModification = errors.New("concurrent modification: retries exhausted")

	// ErrOwnerFrozen blocks debit and reserve until an explicit unfreeze.
	ErrOwnerFrozen = errors.New("owner balance is frozen")

	ErrDuplicateRequest = errors.New("duplicate request")
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrEntryNotFound    = errors.New("ledger entry not found")
	ErrAlreadyReversed  = errors.New("ledger entry already reversed")
	ErrNotReversible    = errors.New("only completed entries can be reversed")
)
