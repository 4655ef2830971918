// Package agent orchestrates cash-in and cash-out at agent points. A
// withdrawal moves e-money from the client to the agent in exchange for
// physical cash; a deposit is the inverse. The agent earns a commission
// on either, settled through the durable effect queue.
package agent

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
	"github.com/moneyflow/engine/internal/transfer"
	"github.com/moneyflow/engine/pkg/audit"
)

// Ledger is the balance surface shared with the transfer orchestrator.
type Ledger interface {
	GetAccount(ctx context.Context, accountID string) (*ledger.Account, error)
	CheckedDecrement(ctx context.Context, accountID string, amount int64) (int64, error)
	IncrementBalance(ctx context.Context, accountID string, delta int64) (int64, error)
}

// CashStore persists withdrawal and deposit lifecycle rows.
type CashStore interface {
	CreatePendingWithdrawal(ctx context.Context, rec *ledger.CashMovementRecord) (bool, error)
	CreatePendingDeposit(ctx context.Context, rec *ledger.CashMovementRecord) (bool, error)
	GetWithdrawalByIdempotencyKey(ctx context.Context, key string) (*ledger.CashMovementRecord, error)
	GetDepositByIdempotencyKey(ctx context.Context, key string) (*ledger.CashMovementRecord, error)
	MarkWithdrawalCompleted(ctx context.Context, id string) error
	MarkWithdrawalFailed(ctx context.Context, id, reason string) error
	MarkDepositCompleted(ctx context.Context, id string) error
	MarkDepositFailed(ctx context.Context, id, reason string) error
}

// Config tunes agent orchestration policy.
type Config struct {
	RateLimitMax        int
	RateLimitWindow     time.Duration
	CompensationRetries int
	CompensationBackoff time.Duration
}

func (c *Config) applyDefaults() {
	if c.RateLimitMax == 0 {
		c.RateLimitMax = 30
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

// Request is one cash movement at an agent point. The agent is the
// actor: rate limiting and amount validation apply to the agent's id.
type Request struct {
	UserID         string `json:"user_id"`
	AgentID        string `json:"agent_id"`
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Result reports a completed cash movement. Commission is the agent's
// earning, credited asynchronously to the agent's commission balance;
// it never touches the amounts below.
type Result struct {
	MovementID       string `json:"movement_id"`
	NewClientBalance int64  `json:"new_client_balance"`
	NewAgentBalance  int64  `json:"new_agent_balance"`
	Commission       int64  `json:"commission"`
	Replayed         bool   `json:"replayed,omitempty"`
}

// Orchestrator runs agent withdrawals and deposits.
type Orchestrator struct {
	ledger   Ledger
	store    CashStore
	guard    transfer.Guard
	limiter  transfer.Limiter
	queue    transfer.Enqueuer
	recorder transfer.Recorder
	logger   *slog.Logger
	cfg      Config
}

func NewOrchestrator(led Ledger, store CashStore, guard transfer.Guard, limiter transfer.Limiter,
	queue transfer.Enqueuer, recorder transfer.Recorder, logger *slog.Logger, cfg Config) *Orchestrator {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		ledger:   led,
		store:    store,
		guard:    guard,
		limiter:  limiter,
		queue:    queue,
		recorder: recorder,
		logger:   logger,
		cfg:      cfg,
	}
}

// movementOps parameterizes the shared flow over the two directions.
type movementOps struct {
	operation      string
	sourceType     string
	debitClient    bool // withdrawal debits the client, deposit debits the agent float
	create         func(ctx context.Context, rec *ledger.CashMovementRecord) (bool, error)
	getByKey       func(ctx context.Context, key string) (*ledger.CashMovementRecord, error)
	markCompleted  func(ctx context.Context, id string) error
	markFailed     func(ctx context.Context, id, reason string) error
	commission     func(amount int64) int64
	completedEvent string
	failedEvent    string
}

// Withdraw debits the client's e-money and credits the agent's
// spendable balance; the agent hands over cash out of band. The agent
// earns 0.5% commission.
func (o *Orchestrator) Withdraw(ctx context.Context, req Request) (*Result, error) {
	return o.execute(ctx, req, movementOps{
		operation:      security.OpWithdrawal,
		sourceType:     "withdrawal",
		debitClient:    true,
		create:         o.store.CreatePendingWithdrawal,
		getByKey:       o.store.GetWithdrawalByIdempotencyKey,
		markCompleted:  o.store.MarkWithdrawalCompleted,
		markFailed:     o.store.MarkWithdrawalFailed,
		commission:     fees.WithdrawalCommission,
		completedEvent: auditlog.EventWithdrawalCompleted,
		failedEvent:    auditlog.EventWithdrawalFailed,
	})
}

// Deposit debits the agent's e-float and credits the client, covering
// cash the client handed to the agent. The agent earns 1% commission.
func (o *Orchestrator) Deposit(ctx context.Context, req Request) (*Result, error) {
	return o.execute(ctx, req, movementOps{
		operation:      security.OpDeposit,
		sourceType:     "deposit",
		debitClient:    false,
		create:         o.store.CreatePendingDeposit,
		getByKey:       o.store.GetDepositByIdempotencyKey,
		markCompleted:  o.store.MarkDepositCompleted,
		markFailed:     o.store.MarkDepositFailed,
		commission:     fees.DepositCommission,
		completedEvent: auditlog.EventDepositCompleted,
		failedEvent:    auditlog.EventDepositFailed,
	})
}

func (o *Orchestrator) execute(ctx context.Context, req Request, ops movementOps) (*Result, error) {
	if err := o.validateRequest(ctx, req, ops.operation); err != nil {
		return nil, err
	}

	client, agentAcc, err := o.resolveParties(ctx, req)
	if err != nil {
		return nil, err
	}

	if _, err := o.guard.ValidateFinancialInput(ctx, req.AgentID, req.Amount, ops.operation); err != nil {
		return nil, &transfer.ValidationError{Field: "amount", Reason: err.Error()}
	}

	rec := &ledger.CashMovementRecord{
		ID:             uuid.NewString(),
		UserID:         client.ID,
		AgentID:        agentAcc.ID,
		Amount:         req.Amount,
		Commission:     ops.commission(req.Amount),
		Phone:          client.Phone,
		IdempotencyKey: req.IdempotencyKey,
	}
	created, err := ops.create(ctx, rec)
	if err != nil {
		return nil, &transfer.StorageError{Op: "create pending " + ops.sourceType, Err: err}
	}
	if !created {
		return o.replay(ctx, req.IdempotencyKey, ops)
	}

	debitID, creditID := client.ID, agentAcc.ID
	if !ops.debitClient {
		debitID, creditID = agentAcc.ID, client.ID
	}

	debitBal, err := o.ledger.CheckedDecrement(ctx, debitID, req.Amount)
	if err != nil {
		o.markFailed(ctx, ops, rec.ID, err.Error())
		o.record(ctx, agentAcc.ID, ops.failedEvent, audit.SeverityLow, map[string]any{
			"movement_id": rec.ID,
			"reason":      err.Error(),
		})
		var insufficient *ledger.InsufficientFundsError
		if errors.As(err, &insufficient) {
			return nil, &transfer.InsufficientBalanceError{AccountID: debitID, Requested: req.Amount}
		}
		return nil, &transfer.StorageError{Op: "debit " + ops.sourceType, Err: err}
	}
	post := context.WithoutCancel(ctx)

	creditBal, err := o.ledger.IncrementBalance(post, creditID, req.Amount)
	if err != nil {
		return nil, o.rollbackDebit(post, ops, rec, debitID, req.Amount, err)
	}

	o.enqueueCommission(post, agentAcc.ID, rec.ID, rec.Commission, ops.sourceType)

	if err := ops.markCompleted(post, rec.ID); err != nil {
		o.logger.Error("failed to mark cash movement completed",
			"movement_id", rec.ID, "type", ops.sourceType, "error", err)
	}
	o.record(post, agentAcc.ID, ops.completedEvent, audit.SeverityLow, map[string]any{
		"movement_id": rec.ID,
		"user_id":     client.ID,
		"amount":      req.Amount,
		"commission":  rec.Commission,
	})

	res := &Result{MovementID: rec.ID, Commission: rec.Commission}
	if ops.debitClient {
		res.NewClientBalance, res.NewAgentBalance = debitBal, creditBal
	} else {
		res.NewClientBalance, res.NewAgentBalance = creditBal, debitBal
	}
	return res, nil
}

func (o *Orchestrator) validateRequest(ctx context.Context, req Request, operation string) error {
	if req.UserID == "" {
		return &transfer.ValidationError{Field: "user_id", Reason: "user_id is required"}
	}
	if req.AgentID == "" {
		return &transfer.ValidationError{Field: "agent_id", Reason: "agent_id is required"}
	}
	if req.IdempotencyKey == "" {
		return &transfer.ValidationError{Field: "idempotency_key", Reason: "idempotency_key is required"}
	}

	allowed, _, err := o.limiter.Check(ctx, req.AgentID, operation, o.cfg.RateLimitMax, o.cfg.RateLimitWindow)
	if err != nil {
		o.logger.Warn("rate limiter unavailable, allowing request", "actor_id", req.AgentID, "error", err)
	} else if !allowed {
		return &security.RateLimitExceededError{
			ActorID:   req.AgentID,
			Operation: operation,
			Max:       o.cfg.RateLimitMax,
			Window:    o.cfg.RateLimitWindow,
		}
	}
	return nil
}

func (o *Orchestrator) resolveParties(ctx context.Context, req Request) (client, agentAcc *ledger.Account, err error) {
	client, err = o.ledger.GetAccount(ctx, req.UserID)
	if err != nil {
		return nil, nil, resolveError("user_id", err)
	}
	agentAcc, err = o.ledger.GetAccount(ctx, req.AgentID)
	if err != nil {
		return nil, nil, resolveError("agent_id", err)
	}
	if agentAcc.Role != ledger.RoleAgent {
		return nil, nil, &transfer.ValidationError{Field: "agent_id", Reason: "account is not an agent"}
	}
	if client.ID == agentAcc.ID {
		return nil, nil, &transfer.ValidationError{Field: "agent_id", Reason: "client and agent must differ"}
	}
	return client, agentAcc, nil
}

func resolveError(field string, err error) error {
	var notFound *ledger.AccountNotFoundError
	if errors.As(err, &notFound) {
		return &transfer.ValidationError{Field: field, Reason: err.Error()}
	}
	return &transfer.StorageError{Op: "resolve " + field, Err: err}
}

func (o *Orchestrator) replay(ctx context.Context, key string, ops movementOps) (*Result, error) {
	prior, err := ops.getByKey(ctx, key)
	if err != nil {
		return nil, &transfer.StorageError{Op: "load prior " + ops.sourceType, Err: err}
	}
	if prior == nil {
		return nil, &transfer.StorageError{Op: "load prior " + ops.sourceType, Err: errors.New("idempotency key owner disappeared")}
	}
	switch prior.Status {
	case ledger.StatusCompleted:
		clientBal, err := o.ledger.IncrementBalance(ctx, prior.UserID, 0)
		if err != nil {
			return nil, &transfer.StorageError{Op: "load client balance", Err: err}
		}
		agentBal, err := o.ledger.IncrementBalance(ctx, prior.AgentID, 0)
		if err != nil {
			return nil, &transfer.StorageError{Op: "load agent balance", Err: err}
		}
		return &Result{
			MovementID:       prior.ID,
			NewClientBalance: clientBal,
			NewAgentBalance:  agentBal,
			Commission:       prior.Commission,
			Replayed:         true,
		}, nil
	case ledger.StatusPending:
		return nil, &transfer.ValidationError{Field: "idempotency_key", Reason: "a " + ops.sourceType + " with this key is still in progress"}
	default:
		return nil, &transfer.ValidationError{Field: "idempotency_key", Reason: "a " + ops.sourceType + " with this key already failed, use a new key"}
	}
}

func (o *Orchestrator) rollbackDebit(ctx context.Context, ops movementOps, rec *ledger.CashMovementRecord,
	debitID string, amount int64, cause error) error {
	var compErr error
	for attempt := 0; attempt < o.cfg.CompensationRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(o.cfg.CompensationBackoff)
		}
		if _, compErr = o.ledger.IncrementBalance(ctx, debitID, amount); compErr == nil {
			break
		}
	}

	if compErr != nil {
		o.logger.Error("compensation failed, manual reconciliation required",
			"movement_id", rec.ID, "type", ops.sourceType, "account_id", debitID, "amount", amount,
			"cause", cause, "compensation_error", compErr)
		o.record(ctx, rec.AgentID, auditlog.EventReconciliationNeeded, audit.SeverityCritical, map[string]any{
			"movement_id": rec.ID,
			"type":        ops.sourceType,
			"account_id":  debitID,
			"amount":      amount,
			"cause":       cause.Error(),
		})
		o.markFailed(ctx, ops, rec.ID, "credit failed and compensation failed: "+cause.Error())
		return &transfer.ReconciliationRequiredError{TransferID: rec.ID, AccountID: debitID, Amount: amount, Err: cause}
	}

	o.markFailed(ctx, ops, rec.ID, "credit failed: "+cause.Error())
	o.record(ctx, rec.AgentID, ops.failedEvent, audit.SeverityHigh, map[string]any{
		"movement_id": rec.ID,
		"account_id":  debitID,
		"amount":      amount,
		"cause":       cause.Error(),
	})
	return &transfer.PartialFailureError{
		TransferID:         rec.ID,
		FailedStep:         transfer.StateCreditingRecipient,
		CompensationStatus: transfer.CompensationApplied,
		Err:                cause,
	}
}

func (o *Orchestrator) enqueueCommission(ctx context.Context, agentID, movementID string, amount int64, sourceType string) {
	if amount <= 0 {
		return
	}
	err := o.queue.Enqueue(ctx, effects.TypeCommissionCredit, effects.CommissionPayload{
		AgentID:             agentID,
		Amount:              amount,
		SourceTransactionID: movementID,
		SourceType:          sourceType,
	})
	if err != nil {
		o.logger.Error("failed to enqueue agent commission",
			"movement_id", movementID, "agent_id", agentID, "error", err)
		o.record(ctx, agentID, auditlog.EventCommissionFailed, audit.SeverityHigh, map[string]any{
			"movement_id": movementID,
			"agent_id":    agentID,
			"amount":      amount,
			"reason":      err.Error(),
		})
	}
}

func (o *Orchestrator) markFailed(ctx context.Context, ops movementOps, id, reason string) {
	if err := ops.markFailed(ctx, id, reason); err != nil {
		o.logger.Error("failed to mark cash movement failed", "movement_id", id, "type", ops.sourceType, "error", err)
	}
}

func (o *Orchestrator) record(ctx context.Context, actorID, eventType string, severity audit.Severity, payload map[string]any) {
	if o.recorder == nil {
		return
	}
	o.recorder.Record(ctx, actorID, eventType, severity, payload)
}
