/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with a caller-facing message.

ERROR CATEGORIES:
  1. Precondition errors - NotFound, Unauthorized, UnsupportedKind, Closed
  2. Value errors - InvalidAmount, InsufficientBalance
  3. Idempotency errors - AlreadyAwarded
  4. Store errors - ConcurrentModification (retryable), Internal

USAGE:
  Domain packages attach the message shown to callers:

    return generic.Errorf(generic.ErrClosed, "Trading is closed")

  and callers branch with errors.Is:

    if errors.Is(err, generic.ErrInsufficientBalance) { ... }

SEE ALSO:
  - coordinator.go: Retries ErrConcurrentModification
  - api/handlers.go: Maps error kinds to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced account, contract or content
	// row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when the calling account cannot be resolved.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when the caller may not act on a resource
	// owned by another account.
	ErrForbidden = errors.New("forbidden")

	// ErrUnsupportedKind is returned when a resource exists but is a variant
	// the operation does not handle (e.g. a non-CPMM market).
	ErrUnsupportedKind = errors.New("unsupported kind")

	// ErrClosed is returned when a resource no longer accepts mutation.
	ErrClosed = errors.New("closed")

	// ErrInvalidAmount is returned for non-finite, zero or negative amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientBalance is returned when a debit exceeds the balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrAlreadyAwarded is returned when an identical grant already exists.
	ErrAlreadyAwarded = errors.New("already awarded")

	// ErrInternal wraps downstream failures surfaced to callers as 500s.
	ErrInternal = errors.New("internal error")

	// ErrConcurrentModification is returned when the store could not obtain
	// its write lock. The coordinator retries these.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrStoreRequired is returned when an operation requires a store
	// capability the configured store does not implement.
	ErrStoreRequired = errors.New("operation requires extended store interface")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// OperationError is a failed precondition with the message shown to callers.
// Kind is one of the sentinel errors above; Err is the underlying cause.
type OperationError struct {
	Kind    error
	Message string
	Err     error
}

func (e *OperationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *OperationError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// Errorf builds an OperationError of the given kind.
func Errorf(kind error, format string, args ...any) *OperationError {
	return &OperationError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an OperationError of the given kind around cause.
func Wrap(kind error, cause error, message string) *OperationError {
	return &OperationError{Kind: kind, Message: message, Err: cause}
}

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	AccountID AccountID
	Available Amount
	Requested Amount
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: available %v, requested %v",
		e.AccountID, e.Available.Value, e.Requested.Value)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// AlreadyAwardedError identifies the entry that made a grant a duplicate.
type AlreadyAwardedError struct {
	ExistingID EntryID
}

func (e *AlreadyAwardedError) Error() string {
	return fmt.Sprintf("already awarded (entry %s)", e.ExistingID)
}

func (e *AlreadyAwardedError) Unwrap() error {
	return ErrAlreadyAwarded
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrClosed) ||
		errors.Is(err, ErrUnauthorized)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// MessageOf returns the caller-facing message for err.
func MessageOf(err error) string {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Message
	}
	return err.Error()
}
