package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneyflow/engine/internal/effects"
	"github.com/moneyflow/engine/internal/ledger"
	"github.com/moneyflow/engine/internal/security"
	"github.com/moneyflow/engine/internal/transfer"
	"github.com/moneyflow/engine/pkg/audit"
)

type fakeLedger struct {
	accounts      map[string]*ledger.Account
	balances      map[string]int64
	failIncrement map[string]int
	decrements    []string
}

func newFakeLedger(accounts ...*ledger.Account) *fakeLedger {
	f := &fakeLedger{
		accounts:      make(map[string]*ledger.Account),
		balances:      make(map[string]int64),
		failIncrement: make(map[string]int),
	}
	for _, acc := range accounts {
		f.accounts[acc.ID] = acc
		f.balances[acc.ID] = acc.Balance
	}
	return f
}

func (f *fakeLedger) GetAccount(_ context.Context, accountID string) (*ledger.Account, error) {
	acc, ok := f.accounts[accountID]
	if !ok {
		return nil, &ledger.AccountNotFoundError{Ref: accountID}
	}
	return acc, nil
}

func (f *fakeLedger) CheckedDecrement(_ context.Context, accountID string, amount int64) (int64, error) {
	f.decrements = append(f.decrements, accountID)
	if f.balances[accountID] < amount {
		return 0, &ledger.InsufficientFundsError{AccountID: accountID, Requested: amount}
	}
	f.balances[accountID] -= amount
	return f.balances[accountID], nil
}

func (f *fakeLedger) IncrementBalance(_ context.Context, accountID string, delta int64) (int64, error) {
	if n := f.failIncrement[accountID]; n != 0 {
		if n > 0 {
			f.failIncrement[accountID] = n - 1
		}
		return 0, errors.New("connection refused")
	}
	f.balances[accountID] += delta
	return f.balances[accountID], nil
}

type fakeStore struct {
	prior       *ledger.CashMovementRecord
	withdrawals []*ledger.CashMovementRecord
	deposits    []*ledger.CashMovementRecord
	completed   []string
	failed      map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{failed: make(map[string]string)}
}

func (f *fakeStore) CreatePendingWithdrawal(_ context.Context, rec *ledger.CashMovementRecord) (bool, error) {
	if f.prior != nil {
		return false, nil
	}
	rec.Status = ledger.StatusPending
	f.withdrawals = append(f.withdrawals, rec)
	return true, nil
}

func (f *fakeStore) CreatePendingDeposit(_ context.Context, rec *ledger.CashMovementRecord) (bool, error) {
	if f.prior != nil {
		return false, nil
	}
	rec.Status = ledger.StatusPending
	f.deposits = append(f.deposits, rec)
	return true, nil
}

func (f *fakeStore) GetWithdrawalByIdempotencyKey(_ context.Context, key string) (*ledger.CashMovementRecord, error) {
	return f.priorFor(key), nil
}

func (f *fakeStore) GetDepositByIdempotencyKey(_ context.Context, key string) (*ledger.CashMovementRecord, error) {
	return f.priorFor(key), nil
}

func (f *fakeStore) priorFor(key string) *ledger.CashMovementRecord {
	if f.prior != nil && f.prior.IdempotencyKey == key {
		return f.prior
	}
	return nil
}

func (f *fakeStore) MarkWithdrawalCompleted(_ context.Context, id string) error {
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeStore) MarkWithdrawalFailed(_ context.Context, id, reason string) error {
	f.failed[id] = reason
	return nil
}

func (f *fakeStore) MarkDepositCompleted(_ context.Context, id string) error {
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeStore) MarkDepositFailed(_ context.Context, id, reason string) error {
	f.failed[id] = reason
	return nil
}

type fakeLimiter struct {
	allowed bool
	err     error
}

func (f *fakeLimiter) Check(context.Context, string, string, int, time.Duration) (bool, int, error) {
	return f.allowed, 1, f.err
}

type enqueued struct {
	effectType string
	payload    effects.CommissionPayload
}

type fakeQueue struct {
	items []enqueued
	err   error
}

func (f *fakeQueue) Enqueue(_ context.Context, effectType string, payload any) error {
	if f.err != nil {
		return f.err
	}
	f.items = append(f.items, enqueued{effectType: effectType, payload: payload.(effects.CommissionPayload)})
	return nil
}

type fakeRecorder struct {
	events []string
}

func (f *fakeRecorder) Record(_ context.Context, _, eventType string, _ audit.Severity, _ map[string]any) {
	f.events = append(f.events, eventType)
}

type fixture struct {
	ledger   *fakeLedger
	store    *fakeStore
	queue    *fakeQueue
	recorder *fakeRecorder
	limiter  *fakeLimiter
	orch     *Orchestrator
}

func newFixture(t *testing.T, accounts ...*ledger.Account) *fixture {
	t.Helper()
	f := &fixture{
		ledger:   newFakeLedger(accounts...),
		store:    newFakeStore(),
		queue:    &fakeQueue{},
		recorder: &fakeRecorder{},
		limiter:  &fakeLimiter{allowed: true},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.orch = NewOrchestrator(
		f.ledger, f.store, security.NewGuard(nil), f.limiter, f.queue, f.recorder, logger,
		Config{CompensationBackoff: time.Millisecond},
	)
	return f
}

func client(balance int64) *ledger.Account {
	return &ledger.Account{ID: "client-1", Phone: "+242061234567", Role: ledger.RoleUser, Country: "CG", Balance: balance}
}

func agentAccount(balance int64) *ledger.Account {
	return &ledger.Account{ID: "agent-1", Phone: "+242069999999", Role: ledger.RoleAgent, Country: "CG", Balance: balance}
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t, client(80_000), agentAccount(10_000))

	res, err := f.orch.Withdraw(context.Background(), Request{
		UserID:         "client-1",
		AgentID:        "agent-1",
		Amount:         50_000,
		IdempotencyKey: "wd-key-1",
	})
	require.NoError(t, err)

	// 0.5% of 50,000
	assert.Equal(t, int64(250), res.Commission)
	assert.Equal(t, int64(30_000), res.NewClientBalance)
	assert.Equal(t, int64(60_000), res.NewAgentBalance)

	require.Len(t, f.queue.items, 1)
	assert.Equal(t, effects.TypeCommissionCredit, f.queue.items[0].effectType)
	assert.Equal(t, "agent-1", f.queue.items[0].payload.AgentID)
	assert.Equal(t, int64(250), f.queue.items[0].payload.Amount)
	assert.Equal(t, "withdrawal", f.queue.items[0].payload.SourceType)
	assert.Equal(t, res.MovementID, f.queue.items[0].payload.SourceTransactionID)

	assert.Equal(t, []string{res.MovementID}, f.store.completed)
	assert.Contains(t, f.recorder.events, "withdrawal.completed")
}

func TestDeposit(t *testing.T) {
	f := newFixture(t, client(5_000), agentAccount(100_000))

	res, err := f.orch.Deposit(context.Background(), Request{
		UserID:         "client-1",
		AgentID:        "agent-1",
		Amount:         20_000,
		IdempotencyKey: "dep-key-1",
	})
	require.NoError(t, err)

	// 1% of 20,000; the agent float funds the credit
	assert.Equal(t, int64(200), res.Commission)
	assert.Equal(t, int64(25_000), res.NewClientBalance)
	assert.Equal(t, int64(80_000), res.NewAgentBalance)
	assert.Equal(t, []string{"agent-1"}, f.ledger.decrements)
	assert.Contains(t, f.recorder.events, "deposit.completed")
}

func TestWithdrawInsufficientClientBalance(t *testing.T) {
	f := newFixture(t, client(1_000), agentAccount(10_000))

	_, err := f.orch.Withdraw(context.Background(), Request{
		UserID:         "client-1",
		AgentID:        "agent-1",
		Amount:         50_000,
		IdempotencyKey: "wd-key-1",
	})

	var insufficient *transfer.InsufficientBalanceError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, "client-1", insufficient.AccountID)

	assert.Equal(t, int64(1_000), f.ledger.balances["client-1"])
	assert.Equal(t, int64(10_000), f.ledger.balances["agent-1"])
	assert.Empty(t, f.queue.items)
	require.Len(t, f.store.withdrawals, 1)
	assert.Contains(t, f.store.failed, f.store.withdrawals[0].ID)
}

func TestDepositInsufficientAgentFloat(t *testing.T) {
	f := newFixture(t, client(5_000), agentAccount(1_000))

	_, err := f.orch.Deposit(context.Background(), Request{
		UserID:         "client-1",
		AgentID:        "agent-1",
		Amount:         20_000,
		IdempotencyKey: "dep-key-1",
	})

	var insufficient *transfer.InsufficientBalanceError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, "agent-1", insufficient.AccountID)
	assert.Equal(t, int64(5_000), f.ledger.balances["client-1"])
}

func TestWithdrawCompensatesFailedAgentCredit(t *testing.T) {
	f := newFixture(t, client(80_000), agentAccount(10_000))
	f.ledger.failIncrement["agent-1"] = -1

	_, err := f.orch.Withdraw(context.Background(), Request{
		UserID:         "client-1",
		AgentID:        "agent-1",
		Amount:         50_000,
		IdempotencyKey: "wd-key-1",
	})

	var partial *transfer.PartialFailureError
	require.True(t, errors.As(err, &partial))
	assert.Equal(t, transfer.CompensationApplied, partial.CompensationStatus)
	assert.Equal(t, int64(80_000), f.ledger.balances["client-1"], "client made whole")
	assert.Empty(t, f.queue.items)
}

func TestWithdrawEscalatesWhenCompensationFails(t *testing.T) {
	f := newFixture(t, client(80_000), agentAccount(10_000))
	f.ledger.failIncrement["agent-1"] = -1
	f.ledger.failIncrement["client-1"] = -1

	_, err := f.orch.Withdraw(context.Background(), Request{
		UserID:         "client-1",
		AgentID:        "agent-1",
		Amount:         50_000,
		IdempotencyKey: "wd-key-1",
	})

	var reconcile *transfer.ReconciliationRequiredError
	require.True(t, errors.As(err, &reconcile))
	assert.Equal(t, "client-1", reconcile.AccountID)
	assert.Contains(t, f.recorder.events, "transfer.reconciliation_required")
}

func TestWithdrawIdempotentReplay(t *testing.T) {
	f := newFixture(t, client(30_000), agentAccount(60_000))
	f.store.prior = &ledger.CashMovementRecord{
		ID:             "wd-prior",
		UserID:         "client-1",
		AgentID:        "agent-1",
		Amount:         50_000,
		Commission:     250,
		Status:         ledger.StatusCompleted,
		IdempotencyKey: "wd-key-1",
	}

	res, err := f.orch.Withdraw(context.Background(), Request{
		UserID:         "client-1",
		AgentID:        "agent-1",
		Amount:         50_000,
		IdempotencyKey: "wd-key-1",
	})
	require.NoError(t, err)

	assert.True(t, res.Replayed)
	assert.Equal(t, "wd-prior", res.MovementID)
	assert.Equal(t, int64(250), res.Commission)
	assert.Empty(t, f.ledger.decrements, "replay must not move money")
}

func TestWithdrawRejectsNonAgent(t *testing.T) {
	notAgent := &ledger.Account{ID: "agent-1", Role: ledger.RoleUser, Country: "CG", Balance: 10_000}
	f := newFixture(t, client(80_000), notAgent)

	_, err := f.orch.Withdraw(context.Background(), Request{
		UserID:         "client-1",
		AgentID:        "agent-1",
		Amount:         50_000,
		IdempotencyKey: "wd-key-1",
	})

	var validation *transfer.ValidationError
	require.True(t, errors.As(err, &validation))
	assert.Equal(t, "agent_id", validation.Field)
	assert.Empty(t, f.ledger.decrements)
}

func TestWithdrawRateLimited(t *testing.T) {
	f := newFixture(t, client(80_000), agentAccount(10_000))
	f.limiter.allowed = false

	_, err := f.orch.Withdraw(context.Background(), Request{
		UserID:         "client-1",
		AgentID:        "agent-1",
		Amount:         50_000,
		IdempotencyKey: "wd-key-1",
	})

	var limited *security.RateLimitExceededError
	require.True(t, errors.As(err, &limited))
	assert.Equal(t, "agent-1", limited.ActorID)
	assert.Equal(t, security.OpWithdrawal, limited.Operation)
}

func TestWithdrawAmountAboveCeiling(t *testing.T) {
	f := newFixture(t, client(5_000_000), agentAccount(10_000))

	_, err := f.orch.Withdraw(context.Background(), Request{
		UserID:         "client-1",
		AgentID:        "agent-1",
		Amount:         2_500_000, // withdrawal ceiling is 2,000,000
		IdempotencyKey: "wd-key-1",
	})

	var validation *transfer.ValidationError
	require.True(t, errors.As(err, &validation))
	assert.Equal(t, "amount", validation.Field)
}

func TestCommissionEnqueueFailureDoesNotFailMovement(t *testing.T) {
	f := newFixture(t, client(80_000), agentAccount(10_000))
	f.queue.err = errors.New("queue unavailable")

	res, err := f.orch.Withdraw(context.Background(), Request{
		UserID:         "client-1",
		AgentID:        "agent-1",
		Amount:         50_000,
		IdempotencyKey: "wd-key-1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(30_000), res.NewClientBalance)
	assert.Contains(t, f.recorder.events, "commission.failed")
}
