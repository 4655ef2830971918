package transfer

import "fmt"

// The error taxonomy for money-movement orchestration. Precondition
// failures (ValidationError, InsufficientBalanceError and the rate-limit
// error from the security package) carry no side effects and are never
// retried. StorageError is transient. PartialFailureError and
// ReconciliationRequiredError describe sagas that failed after the
// debit committed.

// ValidationError rejects a request before any side effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// InsufficientBalanceError rejects a debit the balance cannot cover.
// The underlying checked decrement guarantees nothing was mutated.
type InsufficientBalanceError struct {
	AccountID string
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on account %s for amount %d", e.AccountID, e.Requested)
}

// StorageError wraps a transient storage failure that survived the
// store's own bounded retries.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// CompensationStatus reports the outcome of the rollback attempt inside
// a PartialFailureError.
type CompensationStatus string

const (
	CompensationNotRequired CompensationStatus = "not_required"
	CompensationApplied     CompensationStatus = "applied"
	CompensationFailed      CompensationStatus = "failed"
)

// PartialFailureError means a saga step succeeded before a later one
// failed. CompensationStatus tells the caller whether the earlier steps
// were rolled back.
type PartialFailureError struct {
	TransferID         string
	FailedStep         State
	CompensationStatus CompensationStatus
	Err                error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("transfer %s failed at %s (compensation %s): %v",
		e.TransferID, e.FailedStep, e.CompensationStatus, e.Err)
}

func (e *PartialFailureError) Unwrap() error { return e.Err }

// ReconciliationRequiredError means the compensation itself failed: the
// sender was debited and could not be made whole automatically. Always
// critical severity, always surfaced, never swallowed.
type ReconciliationRequiredError struct {
	TransferID string
	AccountID  string
	Amount     int64
	Err        error
}

func (e *ReconciliationRequiredError) Error() string {
	return fmt.Sprintf("transfer %s requires manual reconciliation: account %s is owed %d: %v",
		e.TransferID, e.AccountID, e.Amount, e.Err)
}

func (e *ReconciliationRequiredError) Unwrap() error { return e.Err }
