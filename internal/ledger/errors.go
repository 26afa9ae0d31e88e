package ledger

import (
	"errors"
	"fmt"
)

// ErrorCategory is the normalized ledger failure taxonomy.
type ErrorCategory string

const (
	// CategoryTimeout means the bounded call deadline passed.
	CategoryTimeout ErrorCategory = "timeout"

	// CategoryNetwork covers transport failures, including calls cut off by a
	// disconnected session.
	CategoryNetwork ErrorCategory = "network"

	// CategoryUnavailable means the circuit is open or the client is not initialized.
	CategoryUnavailable ErrorCategory = "unavailable"

	// CategoryNotFound means a write targeted a hash the ledger does not hold.
	// Reads never return it; a missing record is a Lookup without a Record.
	CategoryNotFound ErrorCategory = "not_found"

	// CategoryInactive, CategoryRevoked and CategoryExpired describe a record that
	// exists but is not currently valid. Reconciliation reports them as warnings.
	CategoryInactive ErrorCategory = "inactive"
	CategoryRevoked  ErrorCategory = "revoked"
	CategoryExpired  ErrorCategory = "expired"

	// CategoryInvalidState means a confirm targeted a record that is not pending.
	CategoryInvalidState ErrorCategory = "invalid_state"

	// CategoryAuthentication means no signer or a rejected signer.
	CategoryAuthentication ErrorCategory = "authentication"

	// CategoryBadData means malformed input or an unparseable ledger response.
	CategoryBadData ErrorCategory = "bad_data"

	// CategoryInternal is anything else.
	CategoryInternal ErrorCategory = "internal"
)

// Error wraps ledger failures with normalized categorization.
type Error struct {
	Category   ErrorCategory
	Operation  string
	Message    string
	Underlying error
	Retryable  bool
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("ledger %s [%s]: %s: %v", e.Operation, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("ledger %s [%s]: %s", e.Operation, e.Category, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// NewError creates a categorized ledger error. Timeouts, network failures and an
// open circuit are retryable; everything else is not.
func NewError(category ErrorCategory, operation, message string, underlying error) *Error {
	retryable := category == CategoryTimeout ||
		category == CategoryNetwork ||
		category == CategoryUnavailable

	return &Error{
		Category:   category,
		Operation:  operation,
		Message:    message,
		Underlying: underlying,
		Retryable:  retryable,
	}
}

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error.
func GetCategory(err error) ErrorCategory {
	var le *Error
	if errors.As(err, &le) {
		return le.Category
	}
	return CategoryInternal
}

// IsConfirmError reports a rejected confirm: the record is missing or not pending.
// These are never retried.
func IsConfirmError(err error) bool {
	var le *Error
	if !errors.As(err, &le) || le.Operation != OpConfirm {
		return false
	}
	return le.Category == CategoryInvalidState || le.Category == CategoryNotFound
}

// IsNetworkError reports failures of the transport rather than the request.
func IsNetworkError(err error) bool {
	switch GetCategory(err) {
	case CategoryTimeout, CategoryNetwork, CategoryUnavailable:
		return true
	}
	return false
}

const (
	OpInitialize = "initialize"
	OpVerify     = "verify"
	OpConfirm    = "confirm"
)

var (
	ErrNotInitialized = errors.New("ledger client not initialized")
	ErrNoSigner       = errors.New("no authenticated signer")
	ErrCircuitOpen    = errors.New("ledger circuit open")
)
