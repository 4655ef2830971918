// Package transfer orchestrates peer-to-peer money movement as a saga
// of atomic ledger primitives: debit the sender first, then credit the
// recipient, compensating the debit when a later step fails.
package transfer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	auditlog "github.com/moneyflow/engine/internal/audit"
	"github.com/moneyflow/engine/internal/effects"
	"github.com/moneyflow/engine/internal/fees"
	"github.com/moneyflow/engine/internal/ledger"
	"github.com/moneyflow/engine/internal/security"
	"github.com/moneyflow/engine/pkg/audit"
)

// Ledger is the balance surface the orchestrator moves money through.
type Ledger interface {
	GetAccount(ctx context.Context, accountID string) (*ledger.Account, error)
	ResolveByPhone(ctx context.Context, phone string) (*ledger.Account, error)
	CheckedDecrement(ctx context.Context, accountID string, amount int64) (int64, error)
	IncrementBalance(ctx context.Context, accountID string, delta int64) (int64, error)
}

// RecordStore persists the transfer lifecycle rows.
type RecordStore interface {
	CreatePendingTransfer(ctx context.Context, rec *ledger.TransferRecord) (bool, error)
	GetTransferByIdempotencyKey(ctx context.Context, key string) (*ledger.TransferRecord, error)
	MarkTransferCompleted(ctx context.Context, transferID string) error
	MarkTransferFailed(ctx context.Context, transferID, reason string) error
}

// Guard validates financial inputs before any side effect.
type Guard interface {
	ValidateFinancialInput(ctx context.Context, actorID string, amount int64, operation string) (bool, error)
}

// Limiter bounds per-actor operation frequency.
type Limiter interface {
	Check(ctx context.Context, actorID, operation string, maxAttempts int, window time.Duration) (bool, int, error)
}

// Enqueuer hands off durable post-commit effects.
type Enqueuer interface {
	Enqueue(ctx context.Context, effectType string, payload any) error
}

// Recorder is the audit sink. Implementations never fail the caller.
type Recorder interface {
	Record(ctx context.Context, actorID, eventType string, severity audit.Severity, payload map[string]any)
}

// Config tunes orchestration policy.
type Config struct {
	TreasuryAccountID   string
	Currency            string
	RateLimitMax        int
	RateLimitWindow     time.Duration
	CompensationRetries int
	CompensationBackoff time.Duration
}

func (c *Config) applyDefaults() {
	if c.Currency == "" {
		c.Currency = "XAF"
	}
	if c.RateLimitMax == 0 {
		c.RateLimitMax = 10
	}
	if c.RateLimitWindow == 0 {
		c.RateLimitWindow = time.Minute
	}
	if c.CompensationRetries == 0 {
		c.CompensationRetries = 3
	}
	if c.CompensationBackoff == 0 {
		c.CompensationBackoff = 200 * time.Millisecond
	}
}

// Request is one transfer attempt. Exactly one of RecipientID or
// RecipientPhone must be set. The idempotency key is required: replays
// of a completed transfer return the original outcome without moving
// money again.
type Request struct {
	SenderID       string `json:"sender_id"`
	RecipientID    string `json:"recipient_id,omitempty"`
	RecipientPhone string `json:"recipient_phone,omitempty"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Result is the outcome of a completed transfer. Fee is deducted from
// the transferred amount: the sender pays exactly Amount and the
// recipient receives Amount minus Fee.
type Result struct {
	TransferID          string `json:"transfer_id"`
	NewSenderBalance    int64  `json:"new_sender_balance"`
	NewRecipientBalance int64  `json:"new_recipient_balance"`
	Fee                 int64  `json:"fee"`
	AgentCommission     int64  `json:"agent_commission"`
	MoneyFlowCommission int64  `json:"moneyflow_commission"`
	Replayed            bool   `json:"replayed,omitempty"`
}

// Orchestrator runs the transfer saga.
type Orchestrator struct {
	ledger   Ledger
	records  RecordStore
	fees     *fees.Calculator
	guard    Guard
	limiter  Limiter
	queue    Enqueuer
	recorder Recorder
	logger   *slog.Logger
	cfg      Config
}

func NewOrchestrator(led Ledger, records RecordStore, calc *fees.Calculator, guard Guard,
	limiter Limiter, queue Enqueuer, recorder Recorder, logger *slog.Logger, cfg Config) *Orchestrator {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		ledger:   led,
		records:  records,
		fees:     calc,
		guard:    guard,
		limiter:  limiter,
		queue:    queue,
		recorder: recorder,
		logger:   logger,
		cfg:      cfg,
	}
}

// Execute runs one transfer end to end. Precondition failures return
// before any balance mutation; failures after the debit committed are
// compensated, and a compensation that itself fails surfaces as a
// ReconciliationRequiredError.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (*Result, error) {
	if err := o.validateRequest(ctx, req); err != nil {
		return nil, err
	}

	sender, recipient, err := o.resolveParties(ctx, req)
	if err != nil {
		return nil, err
	}

	flagged, err := o.guard.ValidateFinancialInput(ctx, req.SenderID, req.Amount, security.OpTransfer)
	if err != nil {
		return nil, &ValidationError{Field: "amount", Reason: err.Error()}
	}

	split := o.fees.TransferFee(req.Amount, sender.Country, recipient.Country, userTypeOf(sender.Role))
	if req.Amount <= split.Fee {
		return nil, &ValidationError{Field: "amount", Reason: "amount does not cover the transfer fee"}
	}

	rec := &ledger.TransferRecord{
		ID:                  uuid.NewString(),
		SenderID:            sender.ID,
		RecipientID:         recipient.ID,
		RecipientPhone:      recipient.Phone,
		Amount:              req.Amount,
		Fee:                 split.Fee,
		AgentCommission:     split.AgentCommission,
		MoneyFlowCommission: split.MoneyFlowCommission,
		Currency:            o.currency(req),
		IdempotencyKey:      req.IdempotencyKey,
	}
	created, err := o.records.CreatePendingTransfer(ctx, rec)
	if err != nil {
		return nil, &StorageError{Op: "create pending transfer", Err: err}
	}
	if !created {
		return o.replay(ctx, req.IdempotencyKey)
	}

	saga := NewSaga(rec.ID)
	o.record(ctx, sender.ID, auditlog.EventTransferValidated, audit.SeverityLow, map[string]any{
		"transfer_id": rec.ID,
		"amount":      req.Amount,
		"fee":         split.Fee,
		"flagged":     flagged,
	})

	// Debit first. Everything after a committed debit runs on a
	// cancellation-immune context: abandoning the saga mid-flight
	// would strand the sender's money.
	_ = saga.Advance(StateDebitingSender)
	newSenderBal, err := o.ledger.CheckedDecrement(ctx, sender.ID, req.Amount)
	if err != nil {
		saga.Fail()
		o.markFailed(ctx, rec.ID, err.Error())
		o.record(ctx, sender.ID, auditlog.EventTransferFailed, audit.SeverityLow, map[string]any{
			"transfer_id": rec.ID,
			"step":        string(StateDebitingSender),
			"reason":      err.Error(),
		})
		var insufficient *ledger.InsufficientFundsError
		if errors.As(err, &insufficient) {
			return nil, &InsufficientBalanceError{AccountID: sender.ID, Requested: req.Amount}
		}
		return nil, &StorageError{Op: "debit sender", Err: err}
	}
	post := context.WithoutCancel(ctx)
	o.record(post, sender.ID, auditlog.EventTransferDebited, audit.SeverityLow, map[string]any{
		"transfer_id": rec.ID,
		"amount":      req.Amount,
	})

	_ = saga.Advance(StateCreditingRecipient)
	credited := req.Amount - split.Fee
	newRecipientBal, err := o.ledger.IncrementBalance(post, recipient.ID, credited)
	if err != nil {
		return nil, o.rollbackDebit(post, saga, rec, sender.ID, req.Amount, err)
	}
	o.record(post, sender.ID, auditlog.EventTransferCredited, audit.SeverityLow, map[string]any{
		"transfer_id":  rec.ID,
		"recipient_id": recipient.ID,
		"amount":       credited,
	})

	_ = saga.Advance(StateCreditingCommission)
	o.settleFee(post, rec, sender, split)

	_ = saga.Advance(StateRecording)
	if err := o.records.MarkTransferCompleted(post, rec.ID); err != nil {
		// The money already moved; the stale pending row is an
		// operational cleanup, not a transfer failure.
		o.logger.Error("failed to mark transfer completed", "transfer_id", rec.ID, "error", err)
		o.record(post, sender.ID, auditlog.EventReconciliationNeeded, audit.SeverityHigh, map[string]any{
			"transfer_id": rec.ID,
			"reason":      "completed transfer left in pending status",
		})
	}

	_ = saga.Advance(StateCompleted)
	o.record(post, sender.ID, auditlog.EventTransferCompleted, audit.SeverityLow, map[string]any{
		"transfer_id":          rec.ID,
		"amount":               req.Amount,
		"fee":                  split.Fee,
		"agent_commission":     split.AgentCommission,
		"moneyflow_commission": split.MoneyFlowCommission,
	})

	return &Result{
		TransferID:          rec.ID,
		NewSenderBalance:    newSenderBal,
		NewRecipientBalance: newRecipientBal,
		Fee:                 split.Fee,
		AgentCommission:     split.AgentCommission,
		MoneyFlowCommission: split.MoneyFlowCommission,
	}, nil
}

func (o *Orchestrator) validateRequest(ctx context.Context, req Request) error {
	if req.SenderID == "" {
		return &ValidationError{Field: "sender_id", Reason: "sender_id is required"}
	}
	if req.RecipientID == "" && req.RecipientPhone == "" {
		return &ValidationError{Field: "recipient", Reason: "recipient_id or recipient_phone is required"}
	}
	if req.IdempotencyKey == "" {
		return &ValidationError{Field: "idempotency_key", Reason: "idempotency_key is required"}
	}
	if req.Currency != "" && req.Currency != o.cfg.Currency {
		return &ValidationError{Field: "currency", Reason: "unsupported currency " + req.Currency}
	}

	allowed, _, err := o.limiter.Check(ctx, req.SenderID, security.OpTransfer, o.cfg.RateLimitMax, o.cfg.RateLimitWindow)
	if err != nil {
		// Fail open: a rate-limiter outage must not freeze money
		// movement. The guard ceilings still bound each attempt.
		o.logger.Warn("rate limiter unavailable, allowing request", "actor_id", req.SenderID, "error", err)
	} else if !allowed {
		return &security.RateLimitExceededError{
			ActorID:   req.SenderID,
			Operation: security.OpTransfer,
			Max:       o.cfg.RateLimitMax,
			Window:    o.cfg.RateLimitWindow,
		}
	}
	return nil
}

func (o *Orchestrator) resolveParties(ctx context.Context, req Request) (sender, recipient *ledger.Account, err error) {
	sender, err = o.ledger.GetAccount(ctx, req.SenderID)
	if err != nil {
		return nil, nil, resolveError("sender_id", "resolve sender", err)
	}

	if req.RecipientID != "" {
		recipient, err = o.ledger.GetAccount(ctx, req.RecipientID)
	} else {
		recipient, err = o.ledger.ResolveByPhone(ctx, security.SanitizePhone(req.RecipientPhone))
	}
	if err != nil {
		return nil, nil, resolveError("recipient", "resolve recipient", err)
	}

	if sender.ID == recipient.ID {
		return nil, nil, &ValidationError{Field: "recipient", Reason: "sender and recipient must differ"}
	}
	return sender, recipient, nil
}

func resolveError(field, op string, err error) error {
	var notFound *ledger.AccountNotFoundError
	if errors.As(err, &notFound) {
		return &ValidationError{Field: field, Reason: err.Error()}
	}
	return &StorageError{Op: op, Err: err}
}

// replay resolves an idempotency-key collision against the prior row.
func (o *Orchestrator) replay(ctx context.Context, key string) (*Result, error) {
	prior, err := o.records.GetTransferByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, &StorageError{Op: "load prior transfer", Err: err}
	}
	if prior == nil {
		return nil, &StorageError{Op: "load prior transfer", Err: errors.New("idempotency key owner disappeared")}
	}
	switch prior.Status {
	case ledger.StatusCompleted:
		senderBal, err := o.ledger.IncrementBalance(ctx, prior.SenderID, 0)
		if err != nil {
			return nil, &StorageError{Op: "load sender balance", Err: err}
		}
		recipientBal, err := o.ledger.IncrementBalance(ctx, prior.RecipientID, 0)
		if err != nil {
			return nil, &StorageError{Op: "load recipient balance", Err: err}
		}
		return &Result{
			TransferID:          prior.ID,
			NewSenderBalance:    senderBal,
			NewRecipientBalance: recipientBal,
			Fee:                 prior.Fee,
			AgentCommission:     prior.AgentCommission,
			MoneyFlowCommission: prior.MoneyFlowCommission,
			Replayed:            true,
		}, nil
	case ledger.StatusPending:
		return nil, &ValidationError{Field: "idempotency_key", Reason: "a transfer with this key is still in progress"}
	default:
		return nil, &ValidationError{Field: "idempotency_key", Reason: "a transfer with this key already failed, use a new key"}
	}
}

// rollbackDebit compensates a committed debit after a later step
// failed. The credit back is retried a bounded number of times; if it
// never lands, the failure escalates to manual reconciliation.
func (o *Orchestrator) rollbackDebit(ctx context.Context, saga *Saga, rec *ledger.TransferRecord,
	senderID string, amount int64, cause error) error {
	saga.Fail()

	var compErr error
	for attempt := 0; attempt < o.cfg.CompensationRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(o.cfg.CompensationBackoff)
		}
		if _, compErr = o.ledger.IncrementBalance(ctx, senderID, amount); compErr == nil {
			break
		}
	}

	if compErr != nil {
		o.logger.Error("compensation failed, manual reconciliation required",
			"transfer_id", rec.ID, "account_id", senderID, "amount", amount,
			"cause", cause, "compensation_error", compErr)
		o.record(ctx, senderID, auditlog.EventReconciliationNeeded, audit.SeverityCritical, map[string]any{
			"transfer_id": rec.ID,
			"account_id":  senderID,
			"amount":      amount,
			"cause":       cause.Error(),
		})
		o.markFailed(ctx, rec.ID, "credit failed and compensation failed: "+cause.Error())
		return &ReconciliationRequiredError{TransferID: rec.ID, AccountID: senderID, Amount: amount, Err: cause}
	}

	o.markFailed(ctx, rec.ID, "recipient credit failed: "+cause.Error())
	o.record(ctx, senderID, auditlog.EventTransferCompensated, audit.SeverityHigh, map[string]any{
		"transfer_id": rec.ID,
		"account_id":  senderID,
		"amount":      amount,
		"cause":       cause.Error(),
	})
	return &PartialFailureError{
		TransferID:         rec.ID,
		FailedStep:         StateCreditingRecipient,
		CompensationStatus: CompensationApplied,
		Err:                cause,
	}
}

// settleFee credits the platform's share to the treasury inline and
// hands the agent's share to the durable effect queue. Neither failure
// touches the transfer outcome: the fee is recorded on the transfer row
// and can be reconciled from there.
func (o *Orchestrator) settleFee(ctx context.Context, rec *ledger.TransferRecord, sender *ledger.Account, split fees.Split) {
	if split.MoneyFlowCommission > 0 && o.cfg.TreasuryAccountID != "" {
		if _, err := o.ledger.IncrementBalance(ctx, o.cfg.TreasuryAccountID, split.MoneyFlowCommission); err != nil {
			o.logger.Error("treasury credit failed", "transfer_id", rec.ID, "amount", split.MoneyFlowCommission, "error", err)
			o.record(ctx, sender.ID, auditlog.EventCommissionFailed, audit.SeverityHigh, map[string]any{
				"transfer_id": rec.ID,
				"account_id":  o.cfg.TreasuryAccountID,
				"amount":      split.MoneyFlowCommission,
				"reason":      err.Error(),
			})
		}
	}

	if split.AgentCommission > 0 {
		err := o.queue.Enqueue(ctx, effects.TypeCommissionCredit, effects.CommissionPayload{
			AgentID:             sender.ID,
			Amount:              split.AgentCommission,
			SourceTransactionID: rec.ID,
			SourceType:          "transfer",
		})
		if err != nil {
			o.logger.Error("failed to enqueue agent commission", "transfer_id", rec.ID, "agent_id", sender.ID, "error", err)
			o.record(ctx, sender.ID, auditlog.EventCommissionFailed, audit.SeverityHigh, map[string]any{
				"transfer_id": rec.ID,
				"agent_id":    sender.ID,
				"amount":      split.AgentCommission,
				"reason":      err.Error(),
			})
		}
	}
}

func (o *Orchestrator) currency(req Request) string {
	if req.Currency != "" {
		return req.Currency
	}
	return o.cfg.Currency
}

func (o *Orchestrator) markFailed(ctx context.Context, transferID, reason string) {
	if err := o.records.MarkTransferFailed(ctx, transferID, reason); err != nil {
		o.logger.Error("failed to mark transfer failed", "transfer_id", transferID, "error", err)
	}
}

func (o *Orchestrator) record(ctx context.Context, actorID, eventType string, severity audit.Severity, payload map[string]any) {
	if o.recorder == nil {
		return
	}
	o.recorder.Record(ctx, actorID, eventType, severity, payload)
}

func userTypeOf(role ledger.Role) fees.UserType {
	if role == ledger.RoleAgent {
		return fees.UserTypeAgent
	}
	return fees.UserTypeUser
}
