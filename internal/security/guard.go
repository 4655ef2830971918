package security

import (
	"context"
	"fmt"

	"github.com/moneyflow/engine/pkg/audit"
)

// Operation names used across validation, rate limiting and auditing.
const (
	OpTransfer    = "transfer"
	OpDeposit     = "deposit"
	OpWithdrawal  = "withdrawal"
	OpBillPayment = "bill_payment"
)

// DefaultCeilings caps the amount accepted per operation, in minor
// currency units.
func DefaultCeilings() map[string]int64 {
	return map[string]int64{
		OpTransfer:    5_000_000,
		OpDeposit:     10_000_000,
		OpWithdrawal:  2_000_000,
		OpBillPayment: 1_000_000,
	}
}

// suspiciousMultiple is the fraud-heuristic step: amounts that are exact
// multiples of it are flagged (not rejected) for review.
const suspiciousMultiple int64 = 666_666

// AmountError is a precondition failure on a financial input. It carries
// no side effects and is never retried.
type AmountError struct {
	Amount    int64
	Operation string
	Reason    string
}

func (e *AmountError) Error() string {
	return fmt.Sprintf("invalid %s amount %d: %s", e.Operation, e.Amount, e.Reason)
}

// EventRecorder is the sink for security events. Implementations must
// never block the caller on failure.
type EventRecorder interface {
	Record(ctx context.Context, actorID, eventType string, severity audit.Severity, payload map[string]any)
}

// Guard performs input-bounds validation and security event emission.
type Guard struct {
	ceilings map[string]int64
	recorder EventRecorder
}

// NewGuard builds a guard with the default per-operation ceilings.
// recorder may be nil, in which case security events are dropped.
func NewGuard(recorder EventRecorder) *Guard {
	return &Guard{ceilings: DefaultCeilings(), recorder: recorder}
}

// NewGuardWithCeilings overrides individual operation ceilings.
func NewGuardWithCeilings(recorder EventRecorder, ceilings map[string]int64) *Guard {
	merged := DefaultCeilings()
	for op, limit := range ceilings {
		merged[op] = limit
	}
	return &Guard{ceilings: merged, recorder: recorder}
}

// ValidateFinancialInput rejects non-positive amounts and amounts above
// the operation ceiling. Amounts that are exact multiples of the magic
// heuristic step pass validation but raise a medium-severity security
// event. The returned bool reports whether the amount was flagged.
func (g *Guard) ValidateFinancialInput(ctx context.Context, actorID string, amount int64, operation string) (bool, error) {
	if amount <= 0 {
		return false, &AmountError{Amount: amount, Operation: operation, Reason: "amount must be positive"}
	}

	ceiling, ok := g.ceilings[operation]
	if !ok {
		return false, &AmountError{Amount: amount, Operation: operation, Reason: "unknown operation type"}
	}
	if amount > ceiling {
		return false, &AmountError{
			Amount:    amount,
			Operation: operation,
			Reason:    fmt.Sprintf("amount exceeds %s ceiling of %d", operation, ceiling),
		}
	}

	flagged := amount%suspiciousMultiple == 0
	if flagged {
		g.LogSecurityEvent(ctx, actorID, "fraud.suspicious_amount", audit.SeverityMedium, map[string]any{
			"amount":    amount,
			"operation": operation,
			"multiple":  suspiciousMultiple,
		})
	}

	return flagged, nil
}

// LogSecurityEvent appends to the audit trail, fire-and-forget. It must
// never raise: a failing audit sink cannot block the primary operation.
func (g *Guard) LogSecurityEvent(ctx context.Context, actorID, eventType string, severity audit.Severity, details map[string]any) {
	if g.recorder == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	g.recorder.Record(ctx, actorID, eventType, severity, details)
}
