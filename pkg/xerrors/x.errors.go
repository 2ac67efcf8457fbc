package xerrors

import "errors"

// Generic
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input provided")
)

// Accounts
var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountFrozen   = errors.New("account is frozen")
	ErrAccountInactive = errors.New("account is inactive")
)

// Transfers
var (
	ErrInvalidAmount          = errors.New("amount must be positive")
	ErrSelfTransfer           = errors.New("source and destination accounts must differ")
	ErrCurrencyMismatch       = errors.New("currency mismatch")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrDuplicateRequest       = errors.New("duplicate request")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrLimitExceeded          = errors.New("transfer limit exceeded")
	ErrIdempotencyUnavailable = errors.New("idempotency store unavailable")
)

// Ledger
var (
	// ErrLedgerInconsistency means the debit/credit pair for a transaction
	// does not balance. This is never retried and never swallowed.
	ErrLedgerInconsistency  = errors.New("journal entries do not balance")
	ErrEntriesAlreadyPosted = errors.New("journal entries already posted for transaction")
)

// Reversals
var (
	ErrReversalIneligible    = errors.New("transfer is not eligible for reversal")
	ErrReversalWindowExpired = errors.New("reversal window has expired")
	ErrAlreadyReversed       = errors.New("transfer already has an active reversal")
	ErrInvalidReversalState  = errors.New("reversal is not in the required state")
)
