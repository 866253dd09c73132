/*
errors.go - Centralized error types for the absence engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Outer layers (HTTP, stores) wrap these errors with additional context.

ERROR CATEGORIES:
  1. Not-found errors - plan/request/balance/episode missing
  2. Invalid-state errors - lifecycle precondition violated
  3. Validation errors - malformed input (date range, negative hours)
  4. Concurrency errors - optimistic-lock retry exhausted

PROPAGATION POLICY:
  Validation and not-found errors surface directly to the caller with no
  retry. Concurrency conflicts are retried internally a small bounded
  number of times with preconditions re-checked; if still unresolved they
  surface as ErrConcurrencyConflict for the caller to resubmit. Every
  failed transition leaves both the request and the balance unchanged.
*/
package absence

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrPlanNotFound is returned when a referenced plan doesn't exist.
	ErrPlanNotFound = errors.New("plan not found")

	// ErrRequestNotFound is returned when a referenced request doesn't exist.
	ErrRequestNotFound = errors.New("request not found")

	// ErrBalanceNotFound is returned when no ledger row exists for a
	// (user, plan, period) key. GetOrCreate resolves this lazily.
	ErrBalanceNotFound = errors.New("balance not found")

	// ErrEpisodeNotFound is returned when a referenced sickness episode
	// doesn't exist.
	ErrEpisodeNotFound = errors.New("episode not found")

	// ErrUserNotFound is returned by identity lookups for unknown users.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidState is returned when a lifecycle transition precondition
	// is violated (e.g., approving a request that is not pending).
	ErrInvalidState = errors.New("invalid request state")

	// ErrAlreadyCancelled is returned when cancelling a request that has
	// already been cancelled. Wraps ErrInvalidState.
	ErrAlreadyCancelled = fmt.Errorf("request already cancelled: %w", ErrInvalidState)

	// ErrValidation is returned for malformed input: inverted date ranges,
	// negative hours, missing reasons.
	ErrValidation = errors.New("validation failed")

	// ErrConcurrencyConflict is returned when an optimistic version check
	// failed and the bounded retry budget is exhausted.
	ErrConcurrencyConflict = errors.New("concurrent modification detected")

	// ErrDuplicateBalance is returned by stores when the unique
	// (user, plan, period) constraint rejects a second insert. The ledger
	// resolves it by refetching; callers never see it.
	ErrDuplicateBalance = errors.New("balance already exists")

	// ErrDuplicatePolicy is returned by stores when saving an active
	// accrual policy for a plan that already has one. The existing policy
	// must be deactivated first.
	ErrDuplicatePolicy = errors.New("plan already has an active accrual policy")

	// ErrConflictBlocking is reserved for future hard-blocking conflicts.
	// Currently every conflict is advisory and requests are always created.
	ErrConflictBlocking = errors.New("blocking conflict")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidStateError reports a transition applied to a request whose status
// does not satisfy the precondition. Approving or rejecting an
// already-terminal request produces this rather than succeeding silently,
// preventing duplicate balance adjustments from double-clicks or retries.
type InvalidStateError struct {
	RequestID RequestID
	Current   RequestStatus
	Expected  string // e.g. "pending", "pending or approved"
	Operation string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s request %s: status is %s, expected %s",
		e.Operation, e.RequestID, e.Current, e.Expected)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// ValidationError reports malformed input with a machine-readable code.
type ValidationError struct {
	Code    string // e.g., "invalid_date_range", "negative_hours"
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func validationErr(code, format string, args ...any) error {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrRequestNotFound) ||
		errors.Is(err, ErrBalanceNotFound) ||
		errors.Is(err, ErrEpisodeNotFound) ||
		errors.Is(err, ErrUserNotFound)
}

// IsClientError returns true if the error is due to invalid client input
// rather than an internal failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidState)
}

// IsRetryable returns true if the operation might succeed on resubmission.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}
